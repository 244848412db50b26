package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/runtime"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'normalize', 'transcribe', 'watch' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "normalize":
		err = runNormalize(os.Args[2:])
	case "transcribe":
		err = runTranscribe(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "version":
		fmt.Println(runtime.Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runNormalize(args []string) error {
	var configPath, out string
	var verbose bool
	cmd := flag.NewFlagSet("normalize", flag.ExitOnError)
	cmd.StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.StringVar(&out, "out", "", "Output WAV path (defaults to <input>.16k.wav)")
	cmd.BoolVar(&verbose, "v", false, "Verbose logging")
	cmd.Parse(args)
	if cmd.NArg() != 1 {
		return fmt.Errorf("usage: scribe normalize [-out file.wav] <input>")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	p, err := newPipeline(context.Background(), cfg, newLogger(verbose))
	if err != nil {
		return err
	}
	defer p.Close()

	input := cmd.Arg(0)
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	wav, err := p.normalizer.NormalizeSingle(context.Background(), data)
	if err != nil {
		return err
	}
	if out == "" {
		out = input[:len(input)-len(filepath.Ext(input))] + ".16k.wav"
	}
	if err := os.WriteFile(out, wav, 0o644); err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runTranscribe(args []string) error {
	var configPath, backend, language string
	var verbose bool
	cmd := flag.NewFlagSet("transcribe", flag.ExitOnError)
	cmd.StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.StringVar(&backend, "backend", "", "Backend: online or offline (config default when empty)")
	cmd.StringVar(&language, "language", "", "Language tag for the online backend")
	cmd.BoolVar(&verbose, "v", false, "Verbose logging")
	cmd.Parse(args)
	if cmd.NArg() == 0 {
		return fmt.Errorf("usage: scribe transcribe [-backend online|offline] [-language tag] <file> [segment...]")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, newLogger(verbose))
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := p.transcribe(ctx, cmd.Args(), stt.Backend(backend), language)
	if err != nil {
		return err
	}
	if !result.OK() {
		return fmt.Errorf("%s: %s", result.Failure.Kind, result.Failure.Message)
	}
	fmt.Println(result.Text)
	return nil
}

func runWatch(args []string) error {
	var configPath string
	var asJSON, verbose bool
	cmd := flag.NewFlagSet("watch", flag.ExitOnError)
	cmd.StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.BoolVar(&asJSON, "json", false, "Print raw transcript events")
	cmd.BoolVar(&verbose, "v", false, "Verbose logging")
	cmd.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := bus.Connect(ctx, cfg.Bus, newLogger(verbose))
	if err != nil {
		return err
	}
	defer client.Close()

	enc := json.NewEncoder(os.Stdout)
	sub, err := client.SubscribeTranscripts(func(msg protocol.Transcript) {
		if asJSON {
			_ = enc.Encode(msg)
			return
		}
		fmt.Printf("%s [%s/%s %s] %s\n", msg.Timestamp.Format("15:04:05"), msg.Backend, msg.Language, msg.Source, msg.Text)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}
