// Package collector implements the uniform collection engine core: a
// Collector value hosts a pluggable SourceStrategy and gives every source —
// periodic pollers, CLI scrapers and passive listeners alike — the same
// lifecycle, target registry, retry policy, bounded intra-cycle concurrency,
// batching and publish pipeline.
//
// Poll cycle:
//
//	tick → enabled targets → chunks of MaxConcurrent → Collect (with retry)
//	     → flatten records → batches of BatchSize → Publisher → reschedule
//
// Listener-based strategies (NetFlow, Syslog) bind their sockets in
// Initialize and use Collect to drain their passive buffers on the same
// tick.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otsense/otcollector/internal/agentmetrics"
	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/retry"
)

// ─────────────────────────────────────────────────────────────────────────────
// SourceStrategy
// ─────────────────────────────────────────────────────────────────────────────

// SourceStrategy is the contract every source implements. Initialize and
// Cleanup bracket the collector's running period; Collect gathers records
// for one target and must be safe for concurrent calls on distinct targets.
type SourceStrategy interface {
	// Source tags every record produced by this strategy.
	Source() models.Source

	// Initialize prepares sessions or binds listener sockets. The context is
	// cancelled when the collector stops. A failed Initialize is fatal for
	// this collector only.
	Initialize(ctx context.Context) error

	// Collect gathers records for one target under the per-attempt deadline
	// carried by ctx.
	Collect(ctx context.Context, target models.Target) ([]models.TelemetryRecord, error)

	// Cleanup releases sessions and sockets. Errors are logged, not
	// propagated.
	Cleanup() error
}

// Publisher is the narrow publish seam consumed by the collector. The
// production implementation is publish.Publisher.
type Publisher interface {
	Publish(models.Envelope) error
}

// ─────────────────────────────────────────────────────────────────────────────
// State machine
// ─────────────────────────────────────────────────────────────────────────────

// State is the collector lifecycle state. Only Running schedules polls.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Options
// ─────────────────────────────────────────────────────────────────────────────

// Options configures a Collector.
type Options struct {
	// Name identifies the collector in logs, events and record metadata.
	// Defaults to the strategy's source name.
	Name string

	// Strategy is the source implementation (required).
	Strategy SourceStrategy

	// Publisher receives batched records. nil drops batches with a warning.
	Publisher Publisher

	// Config is the initial runtime configuration; zero fields take the
	// generic defaults.
	Config models.CollectorConfig

	// EventBuffer is the capacity of the event channel. Default 256.
	EventBuffer int

	// Metrics is the optional Prometheus handle.
	Metrics *agentmetrics.Metrics

	Logger *slog.Logger
}

// ─────────────────────────────────────────────────────────────────────────────
// Collector
// ─────────────────────────────────────────────────────────────────────────────

// Collector hosts one SourceStrategy. All exported methods are safe for
// concurrent use; targets and config are mutated only under the collector
// mutex, counters are atomic so listener goroutines may bump them.
type Collector struct {
	name     string
	strategy SourceStrategy
	pub      Publisher
	metrics  *agentmetrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	cfg     models.CollectorConfig
	targets map[string]*models.Target
	order   []string // target insertion order
	state   State
	cancel  context.CancelFunc
	done    chan struct{}

	events chan Event

	pollCount    atomic.Uint64
	successCount atomic.Uint64
	errorCount   atomic.Uint64
	dataPoints   atomic.Uint64

	lastPollNano    atomic.Int64
	lastSuccessNano atomic.Int64
	lastErrorNano   atomic.Int64
	lastError       atomic.Value // string
}

// New constructs a Collector. It does not start anything — call Start.
func New(opts Options) (*Collector, error) {
	if opts.Strategy == nil {
		return nil, fmt.Errorf("collector: Strategy is required")
	}
	if opts.Name == "" {
		opts.Name = string(opts.Strategy.Source())
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	c := &Collector{
		name:     opts.Name,
		strategy: opts.Strategy,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		logger:   logger.With("collector", opts.Name),
		cfg:      opts.Config.WithDefaults(),
		targets:  make(map[string]*models.Target),
		events:   make(chan Event, opts.EventBuffer),
	}
	if b, ok := opts.Strategy.(EmitterBinder); ok {
		b.BindEmitter(c)
	}
	return c, nil
}

// Name returns the collector name.
func (c *Collector) Name() string { return c.name }

// Source returns the strategy's source tag.
func (c *Collector) Source() models.Source { return c.strategy.Source() }

// Events returns the collector's event stream. Events are dropped (with a
// debug log) when the consumer falls behind.
func (c *Collector) Events() <-chan Event { return c.events }

// IsRunning reports whether the collector is in the Running state.
func (c *Collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRunning
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Start initialises the strategy, performs an immediate poll and schedules
// periodic polls. It is idempotent: starting a running collector is a no-op.
// A disabled collector returns normally without starting. An Initialize
// failure leaves the collector stopped and is returned to the caller.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		c.logger.Debug("start ignored", "state", c.state.String())
		return nil
	}
	if !c.cfg.Enabled {
		c.mu.Unlock()
		c.logger.Info("collector disabled, not starting")
		return nil
	}
	c.state = StateStarting
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.strategy.Initialize(runCtx); err != nil {
		c.recordError(fmt.Errorf("initialize: %w", err))
		cancel()
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		return fmt.Errorf("collector %s: initialize: %w", c.name, err)
	}

	c.mu.Lock()
	c.state = StateRunning
	done := c.done
	c.mu.Unlock()

	go c.pollLoop(runCtx, done)

	c.logger.Info("collector started",
		"source", string(c.Source()),
		"poll_interval", c.snapshotConfig().PollInterval.String(),
	)
	c.Emit(Event{Kind: EventStarted, Collector: c.name, Source: c.Source(), Time: time.Now()})
	return nil
}

// Stop cancels the schedule and listeners, waits for the in-flight cycle to
// finish, and runs strategy cleanup. Cleanup errors are logged, not
// propagated. Stop is idempotent.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		c.logger.Debug("stop ignored", "state", c.state.String())
		return nil
	}
	c.state = StateStopping
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done

	if err := c.strategy.Cleanup(); err != nil {
		c.logger.Error("strategy cleanup failed", "error", err.Error())
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	c.logger.Info("collector stopped")
	c.Emit(Event{Kind: EventStopped, Collector: c.name, Source: c.Source(), Time: time.Now()})
	return nil
}

// Restart stops then starts the collector.
func (c *Collector) Restart(ctx context.Context) error {
	if err := c.Stop(); err != nil {
		return err
	}
	return c.Start(ctx)
}

// pollLoop performs the immediate poll, then reschedules at the configured
// interval. The interval is re-read after every cycle so UpdateConfig takes
// effect once the in-flight cycle completes.
func (c *Collector) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.runCycle(ctx)
	for {
		interval := c.snapshotConfig().PollInterval
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.runCycle(ctx)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Poll cycle
// ─────────────────────────────────────────────────────────────────────────────

// runCycle executes one poll over all enabled targets with chunked
// concurrency, then batches and publishes the produced records.
func (c *Collector) runCycle(ctx context.Context) {
	start := time.Now()
	c.pollCount.Add(1)
	c.lastPollNano.Store(start.UnixNano())
	c.metrics.IncPoll(c.name)

	cfg := c.snapshotConfig()
	targets := c.enabledTargets()
	if len(targets) == 0 {
		c.logger.Warn("poll cycle with no enabled targets")
		return
	}

	results := make([][]models.TelemetryRecord, len(targets))
	var cycleErrors atomic.Uint64
	for base := 0; base < len(targets); base += cfg.MaxConcurrent {
		if ctx.Err() != nil {
			return // stopping; do not count this cycle as a success
		}
		end := min(base+cfg.MaxConcurrent, len(targets))

		var wg sync.WaitGroup
		for i := base; i < end; i++ {
			wg.Add(1)
			go func(idx int, target models.Target) {
				defer wg.Done()
				records, err := c.collectWithRetry(ctx, cfg, target)
				if err != nil {
					c.errorCount.Add(1)
					cycleErrors.Add(1)
					c.metrics.IncPollError(c.name)
					c.recordError(fmt.Errorf("target %s: %w", target.ID, err))
					c.logger.Warn("collect failed",
						"target", target.ID,
						"host", target.Host,
						"error", err.Error(),
					)
					c.Emit(Event{
						Kind: EventError, Collector: c.name, Source: c.Source(),
						Time: time.Now(), Err: err.Error(),
					})
					return
				}
				results[idx] = records
			}(i, targets[i])
		}
		wg.Wait()
	}
	if ctx.Err() != nil {
		return
	}

	var all []models.TelemetryRecord
	for _, r := range results {
		all = append(all, r...)
	}

	if len(all) > 0 {
		c.publishBatches(cfg, all)
		c.Emit(Event{
			Kind: EventData, Collector: c.name, Source: c.Source(),
			Time: time.Now(), RecordCount: len(all), Records: all,
		})
	}

	// A cycle counts as a success only when every target collected cleanly;
	// per-target failures were already counted above.
	if cycleErrors.Load() == 0 {
		c.successCount.Add(1)
		c.lastSuccessNano.Store(time.Now().UnixNano())
	}
	duration := time.Since(start)
	c.logger.Debug("poll cycle completed",
		"targets", len(targets),
		"records", len(all),
		"duration_ms", duration.Milliseconds(),
	)
	c.Emit(Event{
		Kind: EventPolled, Collector: c.name, Source: c.Source(),
		Time: time.Now(), Duration: duration, RecordCount: len(all),
	})
}

// collectWithRetry runs one target's Collect under the retry policy. All
// errors are retryable in this core; in-flight attempts are shielded from
// stop so an RPC is never aborted mid-flight.
func (c *Collector) collectWithRetry(ctx context.Context, cfg models.CollectorConfig, target models.Target) ([]models.TelemetryRecord, error) {
	runner := retry.Runner{
		Retries:        cfg.Retries,
		Timeout:        cfg.Timeout,
		DetachAttempts: true,
		Logger:         c.logger,
	}
	var records []models.TelemetryRecord
	err := runner.Do(ctx, func(attemptCtx context.Context) error {
		out, err := c.strategy.Collect(attemptCtx, target)
		if err != nil {
			return err
		}
		records = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Metadata.Collector = c.name
	}
	return records, nil
}

// publishBatches chunks records by BatchSize and hands each batch to the
// publisher in collection order. Publish failures never abort the cycle.
func (c *Collector) publishBatches(cfg models.CollectorConfig, records []models.TelemetryRecord) {
	if c.pub == nil {
		c.logger.Warn("no publisher configured, dropping records", "count", len(records))
		return
	}
	for base := 0; base < len(records); base += cfg.BatchSize {
		end := min(base+cfg.BatchSize, len(records))
		env := models.NewEnvelope(c.name, c.Source(), records[base:end])
		if err := c.pub.Publish(env); err != nil {
			c.logger.Error("publish failed", "records", env.Count, "error", err.Error())
		}
	}
	c.dataPoints.Add(uint64(len(records)))
	c.metrics.AddRecordsPublished(c.name, len(records))
}

// ─────────────────────────────────────────────────────────────────────────────
// Target registry
// ─────────────────────────────────────────────────────────────────────────────

// AddTarget registers a target and returns its id. An empty id is assigned a
// UUID; a duplicate id is an error.
func (c *Collector) AddTarget(t models.Target) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := c.targets[t.ID]; exists {
		return "", fmt.Errorf("collector %s: duplicate target id %q", c.name, t.ID)
	}
	cp := t
	c.targets[t.ID] = &cp
	c.order = append(c.order, t.ID)
	c.logger.Info("target added", "target", t.ID, "host", t.Host, "enabled", t.Enabled)
	return t.ID, nil
}

// RemoveTarget deletes a target. Returns false when the id is unknown.
func (c *Collector) RemoveTarget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.targets[id]; !ok {
		return false
	}
	delete(c.targets, id)
	for i, tid := range c.order {
		if tid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.logger.Info("target removed", "target", id)
	return true
}

// SetTargetEnabled toggles a target. Returns false when the id is unknown.
func (c *Collector) SetTargetEnabled(id string, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.targets[id]
	if !ok {
		return false
	}
	t.Enabled = enabled
	c.logger.Info("target toggled", "target", id, "enabled", enabled)
	return true
}

// Targets returns a copy of the registry in insertion order.
func (c *Collector) Targets() []models.Target {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Target, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.targets[id])
	}
	return out
}

// enabledTargets snapshots the enabled targets in insertion order.
func (c *Collector) enabledTargets() []models.Target {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Target, 0, len(c.order))
	for _, id := range c.order {
		if t := c.targets[id]; t.Enabled {
			out = append(out, *t)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Config and status
// ─────────────────────────────────────────────────────────────────────────────

// UpdateConfig merges a partial configuration into the running one. A new
// interval takes effect after the next scheduled poll completes; no in-flight
// work is cancelled.
func (c *Collector) UpdateConfig(patch models.CollectorConfigPatch) {
	c.mu.Lock()
	c.cfg = patch.Apply(c.cfg)
	cfg := c.cfg
	c.mu.Unlock()
	c.logger.Info("config updated",
		"poll_interval", cfg.PollInterval.String(),
		"timeout", cfg.Timeout.String(),
		"retries", cfg.Retries,
		"batch_size", cfg.BatchSize,
		"max_concurrent", cfg.MaxConcurrent,
	)
}

// Config returns a copy of the current configuration.
func (c *Collector) Config() models.CollectorConfig { return c.snapshotConfig() }

func (c *Collector) snapshotConfig() models.CollectorConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Status returns a point-in-time snapshot of counters and timestamps.
func (c *Collector) Status() models.CollectorStatus {
	c.mu.Lock()
	running := c.state == StateRunning
	total := len(c.targets)
	enabled := 0
	for _, t := range c.targets {
		if t.Enabled {
			enabled++
		}
	}
	c.mu.Unlock()

	st := models.CollectorStatus{
		Name:                c.name,
		Source:              c.Source(),
		Running:             running,
		PollCount:           c.pollCount.Load(),
		SuccessCount:        c.successCount.Load(),
		ErrorCount:          c.errorCount.Load(),
		DataPointsCollected: c.dataPoints.Load(),
		TargetCount:         total,
		EnabledTargetCount:  enabled,
	}
	if ns := c.lastPollNano.Load(); ns != 0 {
		st.LastPollTime = time.Unix(0, ns)
	}
	if ns := c.lastSuccessNano.Load(); ns != 0 {
		st.LastSuccessTime = time.Unix(0, ns)
	}
	if ns := c.lastErrorNano.Load(); ns != 0 {
		st.LastErrorTime = time.Unix(0, ns)
	}
	if v, ok := c.lastError.Load().(string); ok {
		st.LastError = v
	}
	return st
}

// recordError stores the last-error fields.
func (c *Collector) recordError(err error) {
	c.lastError.Store(err.Error())
	c.lastErrorNano.Store(time.Now().UnixNano())
}

// ─────────────────────────────────────────────────────────────────────────────
// Event emission
// ─────────────────────────────────────────────────────────────────────────────

// Emit places an event on the stream without blocking. Full buffers drop the
// event with a debug log; telemetry delivery never stalls on a slow event
// consumer.
func (c *Collector) Emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event buffer full, event dropped", "kind", string(ev.Kind))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
