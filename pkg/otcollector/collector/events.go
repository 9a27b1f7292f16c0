package collector

import (
	"time"

	"github.com/otsense/otcollector/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Events
// ─────────────────────────────────────────────────────────────────────────────

// EventKind discriminates the collector lifecycle and data events.
type EventKind string

const (
	EventStarted       EventKind = "started"
	EventStopped       EventKind = "stopped"
	EventPolled        EventKind = "polled"
	EventData          EventKind = "data"
	EventSecurityEvent EventKind = "securityEvent"
	EventError         EventKind = "error"
)

// Event is one entry on a collector's event stream. Fields beyond Kind,
// Collector, Source and Time are populated per kind:
//
//	polled        → Duration, RecordCount
//	data          → RecordCount, Records
//	securityEvent → Payload (the triggering record payload, e.g. a
//	                models.SyslogMessage)
//	error         → Err
type Event struct {
	Kind      EventKind
	Collector string
	Source    models.Source
	Time      time.Time

	Duration    time.Duration
	RecordCount int
	Records     []models.TelemetryRecord
	Payload     any
	Err         string
}

// EventEmitter is the sink strategies use for immediate out-of-cycle events
// (high-severity syslog messages). The collector itself implements it.
type EventEmitter interface {
	Emit(Event)
}

// EmitterBinder is implemented by strategies that push events outside the
// poll cycle. The collector binds itself to the strategy at construction.
type EmitterBinder interface {
	BindEmitter(EventEmitter)
}
