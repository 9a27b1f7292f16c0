// Package json serialises telemetry envelopes for the MQTT publisher and the
// local spool. It is the only on-wire format of the agent.
//
// Pipeline position:
//
//	collector → publish.Publisher → format/json → MQTT topic / transport/file
//
// All json struct tags are declared on the model types themselves, so
// serialisation is a single json.Marshal call with optional indentation.
package json

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/otsense/otcollector/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Formatter interface
// ─────────────────────────────────────────────────────────────────────────────

// Formatter serialises a models.Envelope into a byte slice. Alternative
// formatters (protobuf, CBOR, …) can replace the JSON one by implementing
// this interface without touching the publisher.
type Formatter interface {
	Format(env *models.Envelope) ([]byte, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls EnvelopeFormatter behaviour.
type Config struct {
	// PrettyPrint emits indented, human-readable JSON when true.
	// Use false (default) in production to minimise byte count on the wire.
	PrettyPrint bool

	// Indent is the indent string used when PrettyPrint=true.
	// Defaults to two spaces when empty and PrettyPrint=true.
	Indent string
}

// ─────────────────────────────────────────────────────────────────────────────
// EnvelopeFormatter
// ─────────────────────────────────────────────────────────────────────────────

// EnvelopeFormatter implements Formatter using encoding/json. It is safe for
// concurrent use; all fields are immutable after construction.
type EnvelopeFormatter struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs an EnvelopeFormatter. If logger is nil, a no-op logger is
// substituted.
func New(cfg Config, logger *slog.Logger) *EnvelopeFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.PrettyPrint && cfg.Indent == "" {
		cfg.Indent = "  "
	}
	return &EnvelopeFormatter{cfg: cfg, logger: logger}
}

// Format serialises env to JSON. It returns a non-nil error only when
// json.Marshal itself fails (e.g. an un-serialisable value entered a record
// payload upstream). The returned byte slice is always non-nil on success.
func (f *EnvelopeFormatter) Format(env *models.Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("format/json: envelope must not be nil")
	}

	var (
		data []byte
		err  error
	)
	if f.cfg.PrettyPrint {
		data, err = json.MarshalIndent(env, "", f.cfg.Indent)
	} else {
		data, err = json.Marshal(env)
	}
	if err != nil {
		f.logger.Error("format/json: marshal failed",
			"collector", env.Collector,
			"source", string(env.Source),
			"error", err.Error(),
		)
		return nil, fmt.Errorf("format/json: marshal: %w", err)
	}

	f.logger.Debug("format/json: formatted envelope",
		"collector", env.Collector,
		"record_count", env.Count,
		"bytes", len(data),
	)
	return data, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

// noopWriter discards all log output when no logger is provided.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
