package capability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Well-known capability names.
const (
	CodecFFmpeg = "codec.ffmpeg"
	OnlineSTT   = "stt.online"
	OfflineSTT  = "stt.offline"
)

// Probe reports whether an optional collaborator can be used, with a short
// human-readable detail.
type Probe func() (available bool, detail string)

type Capability struct {
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Registry evaluates each probe at most once and caches the outcome.
type Registry struct {
	log     *slog.Logger
	mu      sync.RWMutex
	probes  map[string]Probe
	results map[string]Capability
	clock   func() time.Time
	meter   metric.Meter
	gauge   metric.Int64ObservableGauge
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:     log.With(slog.String("component", "capability-registry")),
		probes:  make(map[string]Probe),
		results: make(map[string]Capability),
		clock:   time.Now,
		meter:   otel.Meter("github.com/loqalabs/loqa-scribe/runtime"),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// Register adds a probe. Re-registering a name drops its cached result.
func (r *Registry) Register(name string, probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = probe
	delete(r.results, name)
}

// Set records a fixed outcome without a probe.
func (r *Registry) Set(name string, available bool, detail string) {
	r.Register(name, func() (bool, string) { return available, detail })
}

// ProbeAll evaluates every registered probe that has not run yet.
func (r *Registry) ProbeAll(ctx context.Context) []Capability {
	r.mu.RLock()
	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		c, _ := r.lookup(name)
		r.log.Info("capability probed",
			slog.String("name", c.Name),
			slog.Bool("available", c.Available),
			slog.String("detail", c.Detail))
	}
	return r.Snapshot()
}

// Available reports the cached probe outcome, probing on first use.
// Unknown names are unavailable.
func (r *Registry) Available(name string) bool {
	c, ok := r.lookup(name)
	return ok && c.Available
}

// Get returns the cached capability, probing on first use.
func (r *Registry) Get(name string) (Capability, bool) {
	return r.lookup(name)
}

func (r *Registry) lookup(name string) (Capability, bool) {
	r.mu.RLock()
	c, ok := r.results[name]
	probe, registered := r.probes[name]
	r.mu.RUnlock()
	if ok {
		return c, true
	}
	if !registered {
		return Capability{Name: name}, false
	}

	available, detail := probe()
	c = Capability{Name: name, Available: available, Detail: detail, CheckedAt: r.clock().UTC()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.results[name]; ok {
		return existing, true
	}
	r.results[name] = c
	return c, true
}

// Snapshot returns probed capabilities ordered by name.
func (r *Registry) Snapshot() []Capability {
	return r.Query(nil)
}

func (r *Registry) Query(filter func(Capability) bool) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]Capability, 0, len(r.results))
	for _, c := range r.results {
		if filter == nil || filter(c) {
			results = append(results, c)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

func WithAvailable(available bool) func(Capability) bool {
	return func(c Capability) bool { return c.Available == available }
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("scribe.capabilities.available",
		metric.WithDescription("1 when an optional collaborator is usable"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		for _, c := range r.Snapshot() {
			var v int64
			if c.Available {
				v = 1
			}
			obs.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("capability", c.Name)))
		}
		return nil
	}, gauge)
	return err
}
