package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/collector"
	"github.com/otsense/otcollector/pkg/otcollector/config"
)

// stubStrategy is a minimal in-memory source for supervision tests.
type stubStrategy struct {
	source   models.Source
	initErr  error
	collects atomic.Int64
}

func (s *stubStrategy) Source() models.Source              { return s.source }
func (s *stubStrategy) Initialize(context.Context) error   { return s.initErr }
func (s *stubStrategy) Cleanup() error                     { return nil }
func (s *stubStrategy) Collect(_ context.Context, t models.Target) ([]models.TelemetryRecord, error) {
	s.collects.Add(1)
	info := models.SystemInfo{Type: models.TypeSystem, SysName: t.Host}
	return []models.TelemetryRecord{
		models.NewRecord(s.source, "", t.ID, t.Host, info),
	}, nil
}

func stubCollector(t *testing.T, name string, source models.Source, strategy *stubStrategy) *collector.Collector {
	t.Helper()
	c, err := collector.New(collector.Options{
		Name:     name,
		Strategy: strategy,
		Config: models.CollectorConfig{
			Enabled:      true,
			PollInterval: 50 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("collector.New: %v", err)
	}
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	return c
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m, err := New(nil, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestStartStopSupervisesCollectors(t *testing.T) {
	a := stubCollector(t, "alpha", models.SourceSNMP, &stubStrategy{source: models.SourceSNMP})
	b := stubCollector(t, "beta", models.SourceARP, &stubStrategy{source: models.SourceARP})
	m := newTestManager(t, Options{Collectors: []*collector.Collector{a, b}})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	st := m.GetStatus()
	if !st.Running || st.StartedAt.IsZero() {
		t.Errorf("status = %+v, want running with startedAt", st)
	}
	if len(st.Collectors) != 2 {
		t.Fatalf("got %d collector statuses, want 2", len(st.Collectors))
	}
	for _, cs := range st.Collectors {
		if !cs.Running {
			t.Errorf("collector %s not running", cs.Name)
		}
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st = m.GetStatus()
	if st.Running {
		t.Error("manager still running after Stop")
	}
	for _, cs := range st.Collectors {
		if cs.Running {
			t.Errorf("collector %s still running after Stop", cs.Name)
		}
	}
}

func TestStartSwallowsCollectorFailure(t *testing.T) {
	broken := stubCollector(t, "broken", models.SourceNetFlow,
		&stubStrategy{source: models.SourceNetFlow, initErr: errors.New("bind refused")})
	healthy := stubCollector(t, "healthy", models.SourceARP, &stubStrategy{source: models.SourceARP})
	m := newTestManager(t, Options{Collectors: []*collector.Collector{broken, healthy}})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start must swallow per-collector failures, got %v", err)
	}
	defer m.Stop()

	if broken.IsRunning() {
		t.Error("broken collector must not run")
	}
	if !healthy.IsRunning() {
		t.Error("healthy collector must run despite the sibling failure")
	}
}

func TestHealthCheckReportsUnhealthy(t *testing.T) {
	broken := stubCollector(t, "broken", models.SourceNetFlow,
		&stubStrategy{source: models.SourceNetFlow, initErr: errors.New("bind refused")})
	healthy := stubCollector(t, "healthy", models.SourceARP, &stubStrategy{source: models.SourceARP})
	m := newTestManager(t, Options{
		Collectors:     []*collector.Collector{broken, healthy},
		HealthInterval: 20 * time.Millisecond,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind != EventHealthCheck {
				continue
			}
			hp, ok := ev.Payload.(HealthPayload)
			if !ok {
				t.Fatalf("payload is %T, want HealthPayload", ev.Payload)
			}
			if hp.UnhealthyCount != 1 {
				t.Fatalf("unhealthyCount = %d, want 1", hp.UnhealthyCount)
			}
			if len(hp.Statuses) != 2 {
				t.Fatalf("got %d statuses, want 2", len(hp.Statuses))
			}
			return
		case <-deadline:
			t.Fatal("no healthCheck event observed")
		}
	}
}

func TestGetStatisticsSums(t *testing.T) {
	sa := &stubStrategy{source: models.SourceSNMP}
	sb := &stubStrategy{source: models.SourceARP}
	a := stubCollector(t, "alpha", models.SourceSNMP, sa)
	b := stubCollector(t, "beta", models.SourceARP, sb)
	m := newTestManager(t, Options{Collectors: []*collector.Collector{a, b}})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, func() bool {
		return sa.collects.Load() >= 1 && sb.collects.Load() >= 1
	})

	stats := m.GetStatistics()
	if stats.PollCount < 2 {
		t.Errorf("pollCount = %d, want >= 2", stats.PollCount)
	}
	if stats.DataPointsCollected < 2 {
		t.Errorf("dataPointsCollected = %d, want >= 2", stats.DataPointsCollected)
	}
	if stats.Uptime <= 0 {
		t.Errorf("uptime = %v, want positive while running", stats.Uptime)
	}
}

func TestBuildFromConfig(t *testing.T) {
	off := false
	cfg := &config.Config{}
	cfg.Collectors.SNMP.Enabled = &off
	cfg.Collectors.ARP.Enabled = &off
	cfg.Collectors.Routing.Enabled = &off
	cfg.Collectors.NetFlow.Enabled = &off
	cfg.Collectors.Syslog.Enabled = &off
	cfg.Collectors.Modbus.Mock = true
	cfg.Collectors.Modbus.Targets = []config.ModbusTarget{{
		ID: "plc1", Host: "10.0.0.50",
		Registers: []config.ModbusRegister{{Name: "temps", Kind: "holding", Address: 100, Quantity: 2}},
	}}
	cfg.Collectors.OPCUA.Targets = []config.OPCUATarget{{
		ID: "hist1", Host: "10.0.0.40", EndpointURL: "opc.tcp://10.0.0.40:4840",
	}}

	m, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(m.Collectors()); got != 2 {
		t.Fatalf("built %d collectors, want 2 (opcua, modbus)", got)
	}
	if m.Collector("opcua") == nil || m.Collector("modbus") == nil {
		t.Error("expected opcua and modbus collectors by name")
	}
	if m.Collector("snmp") != nil {
		t.Error("disabled snmp section must not build a collector")
	}

	mc := m.Collector("modbus").Config()
	if mc.PollInterval != models.DefaultModbusPollInterval {
		t.Errorf("modbus poll interval = %v, want %v", mc.PollInterval, models.DefaultModbusPollInterval)
	}
}

func TestApplyConfigRuntimeFields(t *testing.T) {
	c := stubCollector(t, "modbus", models.SourceModbus, &stubStrategy{source: models.SourceModbus})
	m := newTestManager(t, Options{Collectors: []*collector.Collector{c}})

	next := &config.Config{}
	next.Collectors.Modbus.PollIntervalMS = 120_000
	m.ApplyConfig(next)

	if got := c.Config().PollInterval; got != 2*time.Minute {
		t.Errorf("poll interval = %v, want 2m", got)
	}

	// Known target toggles apply immediately.
	disabled := false
	next.Collectors.Modbus.Targets = []config.ModbusTarget{{
		ID: "t1", Host: "h1", Enabled: &disabled,
		Registers: []config.ModbusRegister{{Name: "x", Kind: "holding", Quantity: 1}},
	}}
	m.ApplyConfig(next)
	for _, target := range c.Targets() {
		if target.ID == "t1" && target.Enabled {
			t.Error("target t1 should be disabled after reload")
		}
	}
}

func TestDefaultSingleton(t *testing.T) {
	t.Cleanup(ResetDefault)

	if Default() != nil {
		t.Fatal("default manager must start nil")
	}
	m := newTestManager(t, Options{})
	SetDefault(m)
	if Default() != m {
		t.Error("Default did not return the installed manager")
	}
	ResetDefault()
	if Default() != nil {
		t.Error("ResetDefault did not clear the manager")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
