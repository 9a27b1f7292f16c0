// Package manager composes, supervises and exposes the set of enabled
// collectors. It owns the process-wide Publisher and the local spool,
// constructs one collector per enabled source section, fans their event
// streams into a single channel, and runs the periodic health check.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/otsense/otcollector/internal/agentmetrics"
	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/collector"
	"github.com/otsense/otcollector/pkg/otcollector/config"
	"github.com/otsense/otcollector/pkg/otcollector/publish"
	"github.com/otsense/otcollector/pkg/otcollector/source/arp"
	"github.com/otsense/otcollector/pkg/otcollector/source/modbus"
	"github.com/otsense/otcollector/pkg/otcollector/source/netflow"
	"github.com/otsense/otcollector/pkg/otcollector/source/opcua"
	"github.com/otsense/otcollector/pkg/otcollector/source/routing"
	"github.com/otsense/otcollector/pkg/otcollector/source/snmp"
	"github.com/otsense/otcollector/pkg/otcollector/source/syslog"
	"github.com/otsense/otcollector/transport/file"
)

// EventHealthCheck is the manager-level event kind carrying a HealthPayload.
const EventHealthCheck = collector.EventKind("healthCheck")

// DefaultHealthInterval is the health-check cadence.
const DefaultHealthInterval = 30 * time.Second

// HealthPayload is the payload of a healthCheck event.
type HealthPayload struct {
	Statuses       []models.CollectorStatus `json:"statuses"`
	UnhealthyCount int                      `json:"unhealthyCount"`
}

// Options tunes manager construction beyond the config file.
type Options struct {
	// Metrics is the optional Prometheus handle shared with all collectors.
	Metrics *agentmetrics.Metrics

	// HealthInterval overrides the 30 s health-check cadence, for tests.
	HealthInterval time.Duration

	// EventBuffer is the fan-in channel capacity. Default 512.
	EventBuffer int

	// Collectors, when non-nil, replaces config-driven construction
	// entirely. Used by tests to supervise collectors with mock strategies.
	Collectors []*collector.Collector

	// Publisher, when non-nil, replaces the config-driven Publisher.
	Publisher *publish.Publisher

	Logger *slog.Logger
}

// Manager supervises the collectors. All exported methods are safe for
// concurrent use.
type Manager struct {
	cfg            *config.Config
	pub            *publish.Publisher
	spool          *file.Spool
	metrics        *agentmetrics.Metrics
	logger         *slog.Logger
	healthInterval time.Duration

	mu         sync.Mutex
	collectors []*collector.Collector
	byName     map[string]*collector.Collector
	running    bool
	startedAt  time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	events chan collector.Event
}

// New builds a Manager from the loaded configuration: the Publisher (with the
// spool as its local-emit fallback) and one collector per source section whose
// enabled is not false.
func New(cfg *config.Config, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 512
	}

	m := &Manager{
		cfg:            cfg,
		metrics:        opts.Metrics,
		logger:         logger.With("component", "manager"),
		healthInterval: opts.HealthInterval,
		byName:         make(map[string]*collector.Collector),
		events:         make(chan collector.Event, opts.EventBuffer),
	}

	if opts.Publisher != nil {
		m.pub = opts.Publisher
	} else if cfg != nil {
		var localEmit publish.LocalEmitFunc
		if cfg.Spool.Dir != "" {
			spool, err := file.NewSpool(file.Config{
				FilePath:   filepath.Join(cfg.Spool.Dir, "spool.jsonl"),
				MaxBytes:   cfg.Spool.MaxBytes,
				MaxBackups: cfg.Spool.MaxBackups,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("manager: spool: %w", err)
			}
			m.spool = spool
			localEmit = spool.Emit
		}
		m.pub = publish.New(publish.Config{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			PasswordEnv:    cfg.MQTT.PasswordEnv,
			CAFile:         cfg.MQTT.CAFile,
			CertFile:       cfg.MQTT.CertFile,
			KeyFile:        cfg.MQTT.KeyFile,
			QoS:            byte(cfg.MQTT.QoS),
			ConnectTimeout: time.Duration(cfg.MQTT.ConnectTimeoutMS) * time.Millisecond,
			PublishTimeout: time.Duration(cfg.MQTT.PublishTimeoutMS) * time.Millisecond,
		}, localEmit, logger)
	}

	if opts.Collectors != nil {
		m.collectors = opts.Collectors
	} else if cfg != nil {
		if err := m.buildCollectors(logger); err != nil {
			return nil, err
		}
	}
	for _, c := range m.collectors {
		m.byName[c.Name()] = c
	}
	return m, nil
}

// listenerTarget is the synthetic target that drives the drain tick of
// listener-based collectors.
func listenerTarget() models.Target {
	return models.Target{ID: "listener", Host: "local", Enabled: true}
}

// buildCollectors instantiates one collector per enabled source section.
func (m *Manager) buildCollectors(logger *slog.Logger) error {
	cs := m.cfg.Collectors

	add := func(strategy collector.SourceStrategy, cc models.CollectorConfig, targets []models.Target) error {
		c, err := collector.New(collector.Options{
			Strategy:  strategy,
			Publisher: m.pub,
			Config:    cc,
			Metrics:   m.metrics,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		for _, t := range targets {
			if _, err := c.AddTarget(t); err != nil {
				return fmt.Errorf("manager: %s: %w", c.Name(), err)
			}
		}
		m.collectors = append(m.collectors, c)
		return nil
	}

	if cs.SNMP.IsEnabled() {
		cc := cs.SNMP.CollectorConfig(models.DefaultPollInterval)
		// Retries stay at gosnmp's zero; the collector layers its own policy.
		strategy := snmp.New(snmp.Config{Timeout: cc.Timeout}, logger)
		if err := add(strategy, cc, cs.SNMP.ModelTargets()); err != nil {
			return err
		}
	}
	if cs.ARP.IsEnabled() {
		cc := cs.ARP.CollectorConfig(models.DefaultPollInterval)
		if err := add(arp.New(arp.Config{}, logger), cc, cs.ARP.ModelTargets()); err != nil {
			return err
		}
	}
	if cs.Routing.IsEnabled() {
		cc := cs.Routing.CollectorConfig(models.DefaultPollInterval)
		if err := add(routing.New(routing.Config{}, logger), cc, cs.Routing.ModelTargets()); err != nil {
			return err
		}
	}
	if cs.NetFlow.IsEnabled() {
		cc := cs.NetFlow.CollectorConfig(models.DefaultPollInterval)
		strategy := netflow.New(netflow.Config{ListenAddr: cs.NetFlow.ListenAddr()}, logger)
		if err := add(strategy, cc, []models.Target{listenerTarget()}); err != nil {
			return err
		}
	}
	if cs.Syslog.IsEnabled() {
		cc := cs.Syslog.CollectorConfig(models.DefaultPollInterval)
		strategy := syslog.New(syslog.Config{
			ListenAddr: cs.Syslog.ListenAddr(),
			Protocol:   cs.Syslog.Protocol,
		}, logger)
		if err := add(strategy, cc, []models.Target{listenerTarget()}); err != nil {
			return err
		}
	}
	if cs.OPCUA.IsEnabled() {
		cc := cs.OPCUA.CollectorConfig(models.DefaultOPCUAPollInterval)
		if err := add(opcua.New(opcua.Config{}, logger), cc, cs.OPCUA.ModelTargets()); err != nil {
			return err
		}
	}
	if cs.Modbus.IsEnabled() {
		cc := cs.Modbus.CollectorConfig(models.DefaultModbusPollInterval)
		strategy := modbus.New(modbus.Config{Timeout: cc.Timeout, Mock: cs.Modbus.Mock}, logger)
		if err := add(strategy, cc, cs.Modbus.ModelTargets()); err != nil {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Start connects the Publisher (failure is logged, not fatal — the spool
// catches everything until the broker comes back), starts every collector in
// parallel, subscribes to their event streams and installs the health ticker.
// Per-collector start failures are logged and swallowed so the agent stays
// partially functional. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Debug("start ignored, already running")
		return nil
	}
	m.running = true
	m.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	collectors := m.collectors
	m.mu.Unlock()

	if m.pub != nil {
		if err := m.pub.Connect(ctx); err != nil {
			m.logger.Warn("MQTT connect failed, continuing with local emit", "error", err.Error())
		}
	}

	var wg sync.WaitGroup
	for _, c := range collectors {
		wg.Add(1)
		go func(c *collector.Collector) {
			defer wg.Done()
			if err := c.Start(runCtx); err != nil {
				m.logger.Error("collector start failed", "collector", c.Name(), "error", err.Error())
			}
		}(c)
	}
	wg.Wait()

	for _, c := range collectors {
		m.wg.Add(1)
		go m.forwardEvents(runCtx, c)
	}
	m.wg.Add(1)
	go m.healthLoop(runCtx)

	m.logger.Info("manager started", "collectors", len(collectors))
	return nil
}

// Stop halts the health ticker, stops every collector in parallel (errors
// logged), and disconnects the Publisher. The spool stays open so a restart
// keeps its fallback; Close tears it down. Idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.logger.Debug("stop ignored, not running")
		return nil
	}
	m.running = false
	cancel := m.cancel
	collectors := m.collectors
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	var wg sync.WaitGroup
	for _, c := range collectors {
		wg.Add(1)
		go func(c *collector.Collector) {
			defer wg.Done()
			if err := c.Stop(); err != nil {
				m.logger.Error("collector stop failed", "collector", c.Name(), "error", err.Error())
			}
		}(c)
	}
	wg.Wait()

	if m.pub != nil {
		m.pub.Disconnect()
	}
	m.logger.Info("manager stopped")
	return nil
}

// Restart stops then starts the manager.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(); err != nil {
		return err
	}
	return m.Start(ctx)
}

// Close stops the manager and releases the spool.
func (m *Manager) Close() error {
	if err := m.Stop(); err != nil {
		return err
	}
	if m.spool != nil {
		return m.spool.Close()
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Events and health
// ─────────────────────────────────────────────────────────────────────────────

// Events returns the fan-in stream of all collector events plus the manager's
// healthCheck events.
func (m *Manager) Events() <-chan collector.Event { return m.events }

// forwardEvents pipes one collector's events into the fan-in channel until
// the manager stops.
func (m *Manager) forwardEvents(ctx context.Context, c *collector.Collector) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.Events():
			m.emit(ev)
		}
	}
}

// emit places an event on the fan-in channel without blocking.
func (m *Manager) emit(ev collector.Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("manager event buffer full, event dropped", "kind", string(ev.Kind))
	}
}

// healthLoop emits a healthCheck event every interval and warns when any
// collector is not running.
func (m *Manager) healthLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.healthCheck()
		}
	}
}

func (m *Manager) healthCheck() {
	m.mu.Lock()
	collectors := m.collectors
	m.mu.Unlock()

	statuses := make([]models.CollectorStatus, 0, len(collectors))
	unhealthy := 0
	for _, c := range collectors {
		st := c.Status()
		statuses = append(statuses, st)
		if !st.Running {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		m.logger.Warn("health check found stopped collectors", "unhealthy", unhealthy)
	}
	m.emit(collector.Event{
		Kind:    EventHealthCheck,
		Time:    time.Now(),
		Payload: HealthPayload{Statuses: statuses, UnhealthyCount: unhealthy},
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Status, statistics, lookup
// ─────────────────────────────────────────────────────────────────────────────

// Collector returns the named collector, or nil.
func (m *Manager) Collector(name string) *collector.Collector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byName[name]
}

// Collectors returns the supervised collectors.
func (m *Manager) Collectors() []*collector.Collector {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*collector.Collector, len(m.collectors))
	copy(out, m.collectors)
	return out
}

// GetStatus returns the aggregate snapshot.
func (m *Manager) GetStatus() models.ManagerStatus {
	m.mu.Lock()
	running := m.running
	startedAt := m.startedAt
	collectors := m.collectors
	m.mu.Unlock()

	st := models.ManagerStatus{
		Running:   running,
		StartedAt: startedAt,
	}
	if m.pub != nil {
		st.MQTTConnected = m.pub.IsConnected()
	}
	for _, c := range collectors {
		st.Collectors = append(st.Collectors, c.Status())
	}
	return st
}

// GetStatistics sums the monotonic counters across collectors.
func (m *Manager) GetStatistics() models.ManagerStatistics {
	m.mu.Lock()
	startedAt := m.startedAt
	running := m.running
	collectors := m.collectors
	m.mu.Unlock()

	var stats models.ManagerStatistics
	for _, c := range collectors {
		st := c.Status()
		stats.PollCount += st.PollCount
		stats.SuccessCount += st.SuccessCount
		stats.ErrorCount += st.ErrorCount
		stats.DataPointsCollected += st.DataPointsCollected
	}
	if running && !startedAt.IsZero() {
		stats.Uptime = time.Since(startedAt)
	}
	return stats
}

// ─────────────────────────────────────────────────────────────────────────────
// Config reload
// ─────────────────────────────────────────────────────────────────────────────

// ApplyConfig merges a reloaded configuration into the running collectors.
// Runtime-mutable fields (intervals, timeouts, retries, batch size,
// concurrency) and target enablement take effect immediately; structural
// changes (listen addresses, new or removed collectors, new targets) are
// logged as requiring a restart.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	m.mu.Unlock()

	apply := func(name string, common config.Common, targets []models.Target) {
		c := m.Collector(name)
		if c == nil {
			if common.IsEnabled() {
				m.logger.Warn("config enables a collector that was not constructed, restart required", "collector", name)
			}
			return
		}
		c.UpdateConfig(common.Patch())
		known := make(map[string]bool)
		for _, t := range c.Targets() {
			known[t.ID] = true
		}
		for _, t := range targets {
			if known[t.ID] {
				c.SetTargetEnabled(t.ID, t.Enabled)
			} else {
				m.logger.Warn("config adds a target at runtime, restart required",
					"collector", name, "target", t.ID)
			}
		}
	}

	cs := cfg.Collectors
	apply("snmp", cs.SNMP.Common, cs.SNMP.ModelTargets())
	apply("arp", cs.ARP.Common, cs.ARP.ModelTargets())
	apply("routing", cs.Routing.Common, cs.Routing.ModelTargets())
	apply("netflow", cs.NetFlow.Common, nil)
	apply("syslog", cs.Syslog.Common, nil)
	apply("opcua", cs.OPCUA.Common, cs.OPCUA.ModelTargets())
	apply("modbus", cs.Modbus.Common, cs.Modbus.ModelTargets())

	if prev != nil {
		if prev.Collectors.NetFlow.ListenAddr() != cs.NetFlow.ListenAddr() {
			m.logger.Warn("netflow listen address changed, restart required")
		}
		if prev.Collectors.Syslog.ListenAddr() != cs.Syslog.ListenAddr() ||
			prev.Collectors.Syslog.Protocol != cs.Syslog.Protocol {
			m.logger.Warn("syslog listener changed, restart required")
		}
		if prev.MQTT != cfg.MQTT {
			m.logger.Warn("mqtt settings changed, restart required")
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Process-wide singleton (optional; tests use the constructor)
// ─────────────────────────────────────────────────────────────────────────────

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// SetDefault installs the process-wide manager.
func SetDefault(m *Manager) {
	defaultMu.Lock()
	defaultManager = m
	defaultMu.Unlock()
}

// Default returns the process-wide manager, or nil when none is installed.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultManager
}

// ResetDefault clears the process-wide manager.
func ResetDefault() {
	defaultMu.Lock()
	defaultManager = nil
	defaultMu.Unlock()
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
