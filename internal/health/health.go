// Package health probes the external services the assistant depends on
// (the model API, IMAP accounts) and tracks whether each is reachable.
//
// A check that fails is retried with exponential backoff until it
// recovers; a healthy check is re-probed on its own interval. State
// changes are logged and published on the event bus.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hanig/hani-replica/internal/events"
)

// Probe reports nil when the service is reachable.
type Probe func(ctx context.Context) error

// Config configures a Monitor. Zero durations take the defaults below.
type Config struct {
	// Interval between probes of a healthy service.
	Interval time.Duration
	// MinBackoff and MaxBackoff bound the retry delay while a service
	// is down. The delay doubles after each failure.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Timeout limits a single probe.
	Timeout time.Duration

	Events *events.Bus
	Logger *slog.Logger
}

const (
	defaultInterval   = time.Minute
	defaultMinBackoff = 2 * time.Second
	defaultMaxBackoff = time.Minute
	defaultTimeout    = 10 * time.Second
)

// Status is the last known state of one check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed probes.
	Failures int `json:"failures,omitempty"`
}

type check struct {
	name     string
	probe    Probe
	interval time.Duration

	mu     sync.Mutex
	status Status
	// probed is false until the first probe completes, so the first
	// result is never reported as a transition.
	probed bool
}

// Monitor runs a set of checks.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	checks  map[string]*check
	running bool
}

// NewMonitor returns a Monitor with no checks.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.MinBackoff)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With("component", "health"),
		checks: make(map[string]*check),
	}
}

// Add registers a check probed every Config.Interval. It must be called
// before Run; a duplicate name replaces the earlier check.
func (m *Monitor) Add(name string, probe Probe) {
	m.AddEvery(name, m.cfg.Interval, probe)
}

// AddEvery registers a check with its own healthy-state interval, for
// probes that are expensive to run.
func (m *Monitor) AddEvery(name string, interval time.Duration, probe Probe) {
	if interval <= 0 {
		interval = m.cfg.Interval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.logger.Warn("check added after start, ignored", "check", name)
		return
	}
	m.checks[name] = &check{
		name:     name,
		probe:    probe,
		interval: interval,
		status:   Status{Name: name},
	}
}

// Run probes every check until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	checks := make([]*check, 0, len(m.checks))
	for _, c := range m.checks {
		checks = append(checks, c)
	}
	m.mu.Unlock()

	if len(checks) == 0 {
		return
	}
	m.logger.Info("health monitor started", "checks", len(checks))

	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.watch(ctx, c)
		}()
	}
	wg.Wait()
}

func (m *Monitor) watch(ctx context.Context, c *check) {
	backoff := m.cfg.MinBackoff
	for {
		err := m.probeOnce(ctx, c)
		if ctx.Err() != nil {
			return
		}

		wait := c.interval
		if err != nil {
			wait = backoff
			backoff = min(backoff*2, m.cfg.MaxBackoff)
		} else {
			backoff = m.cfg.MinBackoff
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// probeOnce runs the probe and records the result.
func (m *Monitor) probeOnce(ctx context.Context, c *check) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := c.probe(pctx)
	cancel()
	if ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the service.
		return ctx.Err()
	}

	c.mu.Lock()
	first := !c.probed
	was := c.status.Healthy
	c.probed = true
	c.status.LastCheck = time.Now()
	c.status.Healthy = err == nil
	if err != nil {
		c.status.LastError = err.Error()
		c.status.Failures++
	} else {
		c.status.LastError = ""
		c.status.Failures = 0
	}
	failures := c.status.Failures
	c.mu.Unlock()

	switch {
	case first && err != nil:
		m.logger.Warn("service unreachable at startup", "check", c.name, "error", err)
		m.publish(events.KindServiceDown, c.name, err)
	case first:
		m.logger.Debug("service reachable", "check", c.name)
	case was && err != nil:
		m.logger.Warn("service became unreachable", "check", c.name, "error", err)
		m.publish(events.KindServiceDown, c.name, err)
	case !was && err == nil:
		m.logger.Info("service recovered", "check", c.name)
		m.publish(events.KindServiceUp, c.name, nil)
	case err != nil:
		m.logger.Debug("service still unreachable", "check", c.name, "failures", failures, "error", err)
	}
	return err
}

func (m *Monitor) publish(kind, name string, err error) {
	data := map[string]any{"check": name}
	if err != nil {
		data["error"] = err.Error()
	}
	m.cfg.Events.Emit(events.SourceHealth, kind, data)
}

// Status returns every check's state, sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.checks))
	for _, c := range m.checks {
		c.mu.Lock()
		out = append(out, c.status)
		c.mu.Unlock()
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every probed check last succeeded. Checks not
// yet probed count as healthy.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.checks {
		c.mu.Lock()
		bad := c.probed && !c.status.Healthy
		c.mu.Unlock()
		if bad {
			return false
		}
	}
	return true
}
