package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/publish"
)

// fakeStrategy scripts per-target collect outcomes.
type fakeStrategy struct {
	source  models.Source
	initErr error

	mu         sync.Mutex
	collects   int
	concurrent int
	maxSeen    int
	script     func(call int, target models.Target) ([]models.TelemetryRecord, error)
	cleanups   int
}

func (f *fakeStrategy) Source() models.Source {
	if f.source == "" {
		return models.SourceSNMP
	}
	return f.source
}

func (f *fakeStrategy) Initialize(context.Context) error { return f.initErr }

func (f *fakeStrategy) Cleanup() error {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
	return nil
}

func (f *fakeStrategy) Collect(_ context.Context, target models.Target) ([]models.TelemetryRecord, error) {
	f.mu.Lock()
	f.collects++
	call := f.collects
	f.concurrent++
	if f.concurrent > f.maxSeen {
		f.maxSeen = f.concurrent
	}
	script := f.script
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.concurrent--
		f.mu.Unlock()
	}()

	if script != nil {
		return script(call, target)
	}
	info := models.SystemInfo{Type: models.TypeSystem, SysName: target.Host}
	return []models.TelemetryRecord{
		models.NewRecord(f.Source(), "", target.ID, target.Host, info),
	}, nil
}

// capturePublisher records every envelope.
type capturePublisher struct {
	mu        sync.Mutex
	envelopes []models.Envelope
	err       error
}

func (p *capturePublisher) Publish(env models.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return p.err
}

func (p *capturePublisher) all() []models.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Envelope, len(p.envelopes))
	copy(out, p.envelopes)
	return out
}

func newTestCollector(t *testing.T, strategy SourceStrategy, pub Publisher, cfg models.CollectorConfig) *Collector {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour // only the immediate poll runs
	}
	cfg.Enabled = true
	c, err := New(Options{Strategy: strategy, Publisher: pub, Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartPollsAndPublishes(t *testing.T) {
	strategy := &fakeStrategy{}
	pub := &capturePublisher{}
	c := newTestCollector(t, strategy, pub, models.CollectorConfig{})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitUntil(t, 5*time.Second, func() bool { return len(pub.all()) == 1 })

	env := pub.all()[0]
	if env.Count != 1 || env.Source != models.SourceSNMP {
		t.Errorf("envelope = %+v", env)
	}
	if env.Data[0].Metadata.Collector != c.Name() {
		t.Errorf("collector metadata = %q, want %q", env.Data[0].Metadata.Collector, c.Name())
	}

	st := c.Status()
	if st.PollCount != 1 || st.SuccessCount != 1 || st.ErrorCount != 0 {
		t.Errorf("status = %+v", st)
	}
	if st.DataPointsCollected != 1 {
		t.Errorf("dataPointsCollected = %d, want 1", st.DataPointsCollected)
	}
}

func TestRetryThenSuccessCountsOnce(t *testing.T) {
	strategy := &fakeStrategy{
		script: func(call int, target models.Target) ([]models.TelemetryRecord, error) {
			if call <= 2 {
				return nil, errors.New("transient")
			}
			info := models.SystemInfo{Type: models.TypeSystem, SysName: target.Host}
			return []models.TelemetryRecord{
				models.NewRecord(models.SourceSNMP, "", target.ID, target.Host, info),
			}, nil
		},
	}
	pub := &capturePublisher{}
	c := newTestCollector(t, strategy, pub, models.CollectorConfig{Retries: 3})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	// Two failed attempts back off ~1 s then ~1.5 s before the third succeeds.
	waitUntil(t, 30*time.Second, func() bool { return len(pub.all()) == 1 })

	st := c.Status()
	if st.SuccessCount != 1 {
		t.Errorf("successCount = %d, want 1 (retries inside one cycle)", st.SuccessCount)
	}
	if st.ErrorCount != 0 {
		t.Errorf("errorCount = %d, want 0 (target eventually succeeded)", st.ErrorCount)
	}
	if st.DataPointsCollected != 1 {
		t.Errorf("dataPointsCollected = %d, want 1", st.DataPointsCollected)
	}
}

func TestFailedTargetCountsError(t *testing.T) {
	strategy := &fakeStrategy{
		script: func(int, models.Target) ([]models.TelemetryRecord, error) {
			return nil, errors.New("unreachable")
		},
	}
	c := newTestCollector(t, strategy, &capturePublisher{}, models.CollectorConfig{Retries: 0})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitUntil(t, 5*time.Second, func() bool { return c.Status().ErrorCount == 1 })

	st := c.Status()
	if st.SuccessCount != 0 {
		t.Errorf("successCount = %d, want 0 (the only target failed)", st.SuccessCount)
	}
	if st.SuccessCount+st.ErrorCount > st.PollCount {
		t.Errorf("counter invariant violated: %+v", st)
	}
	if st.LastError == "" || st.LastErrorTime.IsZero() {
		t.Errorf("last error not recorded: %+v", st)
	}
}

func TestMaxConcurrentBoundsParallelism(t *testing.T) {
	strategy := &fakeStrategy{
		script: func(_ int, target models.Target) ([]models.TelemetryRecord, error) {
			time.Sleep(20 * time.Millisecond)
			info := models.SystemInfo{Type: models.TypeSystem, SysName: target.Host}
			return []models.TelemetryRecord{
				models.NewRecord(models.SourceSNMP, "", target.ID, target.Host, info),
			}, nil
		},
	}
	pub := &capturePublisher{}
	c := newTestCollector(t, strategy, pub, models.CollectorConfig{MaxConcurrent: 1})
	for _, id := range []string{"a", "b", "c"} {
		if _, err := c.AddTarget(models.Target{ID: id, Host: id, Enabled: true}); err != nil {
			t.Fatalf("AddTarget: %v", err)
		}
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitUntil(t, 5*time.Second, func() bool { return c.Status().SuccessCount == 1 })

	strategy.mu.Lock()
	maxSeen := strategy.maxSeen
	strategy.mu.Unlock()
	if maxSeen != 1 {
		t.Errorf("max concurrent collects = %d, want 1", maxSeen)
	}
}

func TestBatchSizeChunksEnvelopes(t *testing.T) {
	strategy := &fakeStrategy{
		script: func(_ int, target models.Target) ([]models.TelemetryRecord, error) {
			var out []models.TelemetryRecord
			for i := 0; i < 5; i++ {
				info := models.SystemInfo{Type: models.TypeSystem, SysName: target.Host}
				out = append(out, models.NewRecord(models.SourceSNMP, "", target.ID, target.Host, info))
			}
			return out, nil
		},
	}
	pub := &capturePublisher{}
	c := newTestCollector(t, strategy, pub, models.CollectorConfig{BatchSize: 2})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitUntil(t, 5*time.Second, func() bool { return len(pub.all()) == 3 })

	counts := []int{}
	for _, env := range pub.all() {
		counts = append(counts, env.Count)
	}
	want := []int{2, 2, 1}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("envelope %d count = %d, want %d", i, counts[i], want[i])
		}
	}
	if got := c.Status().DataPointsCollected; got != 5 {
		t.Errorf("dataPointsCollected = %d, want 5", got)
	}
}

func TestPublishFailureDoesNotStopCycle(t *testing.T) {
	strategy := &fakeStrategy{}
	pub := &capturePublisher{err: errors.New("broker gone")}
	c := newTestCollector(t, strategy, pub, models.CollectorConfig{})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitUntil(t, 5*time.Second, func() bool { return c.Status().SuccessCount == 1 })
	if got := c.Status().DataPointsCollected; got != 1 {
		t.Errorf("dataPointsCollected = %d, want 1 despite publish failure", got)
	}
}

func TestDisconnectedPublisherSpoolsLocally(t *testing.T) {
	var mu sync.Mutex
	var emitted []models.Envelope
	pub := publish.New(publish.Config{}, func(env models.Envelope) error {
		mu.Lock()
		emitted = append(emitted, env)
		mu.Unlock()
		return nil
	}, nil)

	c := newTestCollector(t, &fakeStrategy{}, pub, models.CollectorConfig{})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitUntil(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emitted) == 1
	})
	if got := c.Status().DataPointsCollected; got != 1 {
		t.Errorf("dataPointsCollected = %d, want 1 via local emit", got)
	}
}

func TestZeroTargetCycleStillCounted(t *testing.T) {
	c := newTestCollector(t, &fakeStrategy{}, &capturePublisher{}, models.CollectorConfig{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitUntil(t, 5*time.Second, func() bool { return c.Status().PollCount == 1 })
	st := c.Status()
	if st.ErrorCount != 0 || st.DataPointsCollected != 0 {
		t.Errorf("status = %+v, want clean empty cycle", st)
	}
}

func TestStopEmitsNoFurtherPolls(t *testing.T) {
	strategy := &fakeStrategy{}
	c := newTestCollector(t, strategy, &capturePublisher{},
		models.CollectorConfig{PollInterval: 20 * time.Millisecond})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 5*time.Second, func() bool { return c.Status().PollCount >= 2 })

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	strategy.mu.Lock()
	cleanups := strategy.cleanups
	strategy.mu.Unlock()
	if cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", cleanups)
	}

	polls := c.Status().PollCount
	time.Sleep(100 * time.Millisecond)
	if got := c.Status().PollCount; got != polls {
		t.Errorf("pollCount advanced after Stop: %d -> %d", polls, got)
	}
	if c.IsRunning() {
		t.Error("collector still running after Stop")
	}
}

func TestStartIdempotentAndDisabled(t *testing.T) {
	strategy := &fakeStrategy{}
	c := newTestCollector(t, strategy, nil, models.CollectorConfig{})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start must be a no-op, got %v", err)
	}

	disabled, err := New(Options{Strategy: &fakeStrategy{}, Config: models.CollectorConfig{Enabled: false}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := disabled.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	if disabled.IsRunning() {
		t.Error("disabled collector must not run")
	}
}

func TestInitializeFailureIsFatal(t *testing.T) {
	strategy := &fakeStrategy{initErr: errors.New("bind refused")}
	c := newTestCollector(t, strategy, nil, models.CollectorConfig{})
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("want initialize error")
	}
	if c.IsRunning() {
		t.Error("failed initialize must leave the collector stopped")
	}
	// A later Start may retry.
	strategy.initErr = nil
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart after failed initialize: %v", err)
	}
	c.Stop()
}

func TestTargetRegistry(t *testing.T) {
	c := newTestCollector(t, &fakeStrategy{}, nil, models.CollectorConfig{})

	id, err := c.AddTarget(models.Target{Host: "h1", Enabled: true})
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if id == "" {
		t.Fatal("empty id must be assigned")
	}
	if _, err := c.AddTarget(models.Target{ID: id, Host: "h2"}); err == nil {
		t.Error("duplicate id must be rejected")
	}

	if !c.SetTargetEnabled(id, false) {
		t.Error("SetTargetEnabled on known id must return true")
	}
	if c.SetTargetEnabled("ghost", true) {
		t.Error("SetTargetEnabled on unknown id must return false")
	}
	targets := c.Targets()
	if len(targets) != 1 || targets[0].Enabled {
		t.Errorf("targets = %+v", targets)
	}

	if !c.RemoveTarget(id) {
		t.Error("RemoveTarget on known id must return true")
	}
	if c.RemoveTarget(id) {
		t.Error("RemoveTarget twice must return false")
	}
	if len(c.Targets()) != 0 {
		t.Error("registry not empty after removal")
	}
}

func TestUpdateConfigTakesEffect(t *testing.T) {
	c := newTestCollector(t, &fakeStrategy{}, nil, models.CollectorConfig{})
	interval := 250 * time.Millisecond
	retries := 7
	c.UpdateConfig(models.CollectorConfigPatch{PollInterval: &interval, Retries: &retries})

	cfg := c.Config()
	if cfg.PollInterval != interval || cfg.Retries != retries {
		t.Errorf("config = %+v", cfg)
	}
}

func TestEventsStream(t *testing.T) {
	strategy := &fakeStrategy{}
	c := newTestCollector(t, strategy, &capturePublisher{}, models.CollectorConfig{})
	if _, err := c.AddTarget(models.Target{ID: "t1", Host: "h1", Enabled: true}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var kinds []EventKind
	var seen atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range c.Events() {
			kinds = append(kinds, ev.Kind)
			if ev.Kind == EventPolled {
				seen.Store(true)
				return
			}
		}
	}()

	waitUntil(t, 5*time.Second, seen.Load)
	c.Stop()
	<-done

	if kinds[0] != EventStarted {
		t.Errorf("first event = %s, want started", kinds[0])
	}
	var sawData bool
	for _, k := range kinds {
		if k == EventData {
			sawData = true
		}
	}
	if !sawData {
		t.Errorf("no data event in %v", kinds)
	}
}
