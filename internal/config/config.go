package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DotEnvFile is loaded from the working directory before env overrides are applied.
const DotEnvFile = ".env"

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Audio       AudioConfig     `yaml:"audio"`
	Staging     StagingConfig   `yaml:"staging"`
	Session     SessionConfig   `yaml:"session"`
	STT         STTConfig       `yaml:"stt"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	FFmpegCommand string `yaml:"ffmpeg_command"`
	MaxInputBytes int64  `yaml:"max_input_bytes"`
}

type StagingConfig struct {
	Dir          string `yaml:"dir"`
	Pattern      string `yaml:"pattern"`
	SweepAfterMS int    `yaml:"sweep_after_ms"`
}

type SessionConfig struct {
	CookieName      string `yaml:"cookie_name"`
	IdleTimeoutMS   int    `yaml:"idle_timeout_ms"`
	PruneIntervalMS int    `yaml:"prune_interval_ms"`
	MaxSessions     int    `yaml:"max_sessions"`
	MaxSegments     int    `yaml:"max_segments"`
}

type STTConfig struct {
	DefaultBackend  string        `yaml:"default_backend"`
	DefaultLanguage string        `yaml:"default_language"`
	Languages       []string      `yaml:"languages"`
	Online          OnlineConfig  `yaml:"online"`
	Offline         OfflineConfig `yaml:"offline"`
}

// OnlineConfig selects the cloud service behind the "online" backend.
type OnlineConfig struct {
	Provider        string `yaml:"provider"` // google, openai, mock
	APIKey          string `yaml:"api_key"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	Model           string `yaml:"model"`
}

// OfflineConfig selects the local engine behind the "offline" backend.
// The engine runs with its own Language; request languages are not forwarded.
type OfflineConfig struct {
	Mode      string `yaml:"mode"` // whisper, exec, mock, none
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	Threads   uint   `yaml:"threads"`
	Command   string `yaml:"command"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           8080,
			MaxUploadBytes: 32 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			FFmpegCommand: "ffmpeg -hide_banner -loglevel error -nostdin",
			MaxInputBytes: 32 << 20,
		},
		Staging: StagingConfig{
			Dir:          "",
			Pattern:      "scribe_*.wav",
			SweepAfterMS: 3600000,
		},
		Session: SessionConfig{
			CookieName:      "scribe_session",
			IdleTimeoutMS:   1800000,
			PruneIntervalMS: 60000,
			MaxSessions:     1000,
			MaxSegments:     64,
		},
		STT: STTConfig{
			DefaultBackend:  "online",
			DefaultLanguage: "fr-FR",
			Languages:       []string{"fr-FR", "en-US", "es-ES", "de-DE", "it-IT"},
			Online: OnlineConfig{
				Provider: "google",
			},
			Offline: OfflineConfig{
				Mode:     "whisper",
				Language: "en",
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadDotEnv(DotEnvFile); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv populates unset environment variables from a dotenv file when it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideInt64(&cfg.HTTP.MaxUploadBytes, "SCRIBE_HTTP_MAX_UPLOAD_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "SCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.FFmpegCommand, "SCRIBE_AUDIO_FFMPEG_COMMAND")
	overrideInt64(&cfg.Audio.MaxInputBytes, "SCRIBE_AUDIO_MAX_INPUT_BYTES")
	overrideString(&cfg.Staging.Dir, "SCRIBE_STAGING_DIR")
	overrideString(&cfg.Staging.Pattern, "SCRIBE_STAGING_PATTERN")
	overrideInt(&cfg.Staging.SweepAfterMS, "SCRIBE_STAGING_SWEEP_AFTER_MS")
	overrideString(&cfg.Session.CookieName, "SCRIBE_SESSION_COOKIE_NAME")
	overrideInt(&cfg.Session.IdleTimeoutMS, "SCRIBE_SESSION_IDLE_TIMEOUT_MS")
	overrideInt(&cfg.Session.PruneIntervalMS, "SCRIBE_SESSION_PRUNE_INTERVAL_MS")
	overrideInt(&cfg.Session.MaxSessions, "SCRIBE_SESSION_MAX_SESSIONS")
	overrideInt(&cfg.Session.MaxSegments, "SCRIBE_SESSION_MAX_SEGMENTS")
	overrideString(&cfg.STT.DefaultBackend, "SCRIBE_STT_DEFAULT_BACKEND")
	overrideString(&cfg.STT.DefaultLanguage, "SCRIBE_STT_DEFAULT_LANGUAGE")
	overrideStringSlice(&cfg.STT.Languages, "SCRIBE_STT_LANGUAGES")
	overrideString(&cfg.STT.Online.Provider, "SCRIBE_STT_ONLINE_PROVIDER")
	overrideString(&cfg.STT.Online.APIKey, "SCRIBE_STT_ONLINE_API_KEY")
	overrideString(&cfg.STT.Online.CredentialsFile, "SCRIBE_STT_ONLINE_CREDENTIALS_FILE")
	overrideString(&cfg.STT.Online.Endpoint, "SCRIBE_STT_ONLINE_ENDPOINT")
	overrideString(&cfg.STT.Online.Model, "SCRIBE_STT_ONLINE_MODEL")
	overrideString(&cfg.STT.Offline.Mode, "SCRIBE_STT_OFFLINE_MODE")
	overrideString(&cfg.STT.Offline.ModelPath, "SCRIBE_STT_OFFLINE_MODEL_PATH")
	overrideString(&cfg.STT.Offline.Language, "SCRIBE_STT_OFFLINE_LANGUAGE")
	overrideUint(&cfg.STT.Offline.Threads, "SCRIBE_STT_OFFLINE_THREADS")
	overrideString(&cfg.STT.Offline.Command, "SCRIBE_STT_OFFLINE_COMMAND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideUint(target *uint, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseUint(value, 10, 32); err == nil {
			*target = uint(parsed)
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		return errors.New("http.max_upload_bytes must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if strings.TrimSpace(cfg.Audio.FFmpegCommand) == "" {
		return errors.New("audio.ffmpeg_command must not be empty")
	}
	if cfg.Audio.MaxInputBytes <= 0 {
		return errors.New("audio.max_input_bytes must be positive")
	}
	if !strings.Contains(cfg.Staging.Pattern, "*") {
		return errors.New("staging.pattern must contain a '*' placeholder")
	}
	if cfg.Session.CookieName == "" {
		return errors.New("session.cookie_name must not be empty")
	}
	if cfg.Session.IdleTimeoutMS <= 0 {
		return errors.New("session.idle_timeout_ms must be positive")
	}
	if cfg.Session.MaxSessions < 0 || cfg.Session.MaxSegments < 0 {
		return errors.New("session limits must be >= 0")
	}
	switch cfg.STT.DefaultBackend {
	case "online", "offline":
	default:
		return errors.New("stt.default_backend must be one of online|offline")
	}
	if len(cfg.STT.Languages) == 0 {
		return errors.New("stt.languages must not be empty")
	}
	for _, tag := range cfg.STT.Languages {
		if _, err := language.Parse(tag); err != nil {
			return fmt.Errorf("stt.languages: invalid tag %q: %w", tag, err)
		}
	}
	if !slices.Contains(cfg.STT.Languages, cfg.STT.DefaultLanguage) {
		return errors.New("stt.default_language must be listed in stt.languages")
	}
	switch cfg.STT.Online.Provider {
	case "google", "mock":
	case "openai":
		if cfg.STT.Online.APIKey == "" {
			return errors.New("stt.online.api_key must be set when provider=openai")
		}
	default:
		return errors.New("stt.online.provider must be one of google|openai|mock")
	}
	switch cfg.STT.Offline.Mode {
	case "whisper", "mock", "none":
	case "exec":
		if cfg.STT.Offline.Command == "" {
			return errors.New("stt.offline.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.offline.mode must be one of whisper|exec|mock|none")
	}
	return nil
}
