package models

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// CollectorConfig
// ─────────────────────────────────────────────────────────────────────────────

// CollectorConfig is the runtime configuration shared by all targets of one
// collector. It is mutable at runtime via Collector.UpdateConfig; a changed
// poll interval takes effect after the in-flight cycle completes.
type CollectorConfig struct {
	// Enabled gates the collector. A disabled collector's Start is a no-op.
	Enabled bool

	// PollInterval is the schedule cadence for periodic collectors and the
	// drain tick for listener-based collectors.
	PollInterval time.Duration

	// Timeout is the per-attempt deadline for one collect operation.
	Timeout time.Duration

	// Retries is the number of additional attempts after the first.
	Retries int

	// BatchSize caps the number of records per published envelope.
	BatchSize int

	// MaxConcurrent bounds intra-cycle target parallelism.
	MaxConcurrent int
}

// Default per-collector settings. OPC-UA and Modbus deliberately carry
// slower per-strategy poll defaults than the generic one.
const (
	DefaultPollInterval       = 10 * time.Second
	DefaultOPCUAPollInterval  = 60 * time.Second
	DefaultModbusPollInterval = 30 * time.Second
	DefaultTimeout            = 5 * time.Second
	DefaultRetries            = 3
	DefaultBatchSize          = 100
	DefaultMaxConcurrent      = 5
)

// WithDefaults returns a copy of c with zero fields replaced by the generic
// defaults. Enabled is left untouched.
func (c CollectorConfig) WithDefaults() CollectorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries < 0 {
		c.Retries = DefaultRetries
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// CollectorConfigPatch
// ─────────────────────────────────────────────────────────────────────────────

// CollectorConfigPatch is a partial CollectorConfig for UpdateConfig. Only
// non-nil fields are merged into the running configuration.
type CollectorConfigPatch struct {
	Enabled       *bool
	PollInterval  *time.Duration
	Timeout       *time.Duration
	Retries       *int
	BatchSize     *int
	MaxConcurrent *int
}

// Apply merges p into cfg and returns the result.
func (p CollectorConfigPatch) Apply(cfg CollectorConfig) CollectorConfig {
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.PollInterval != nil && *p.PollInterval > 0 {
		cfg.PollInterval = *p.PollInterval
	}
	if p.Timeout != nil && *p.Timeout > 0 {
		cfg.Timeout = *p.Timeout
	}
	if p.Retries != nil && *p.Retries >= 0 {
		cfg.Retries = *p.Retries
	}
	if p.BatchSize != nil && *p.BatchSize > 0 {
		cfg.BatchSize = *p.BatchSize
	}
	if p.MaxConcurrent != nil && *p.MaxConcurrent > 0 {
		cfg.MaxConcurrent = *p.MaxConcurrent
	}
	return cfg
}
