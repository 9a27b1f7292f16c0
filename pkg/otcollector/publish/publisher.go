// Package publish delivers telemetry envelopes to the upstream processor
// over TLS-secured MQTT with at-least-once intent. When the broker is
// unreachable (or a publish fails) the envelope is handed to a local-emit
// hook instead, so callers can spool or defer it.
//
// The Publisher is process-wide: the manager owns it and every collector
// publishes through it concurrently.
package publish

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	jsonformat "github.com/otsense/otcollector/format/json"
	"github.com/otsense/otcollector/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls the MQTT connection and publish behaviour.
type Config struct {
	// Broker is the MQTT endpoint, e.g. "ssl://ingest.example.com:8883".
	// Empty disables MQTT entirely; every envelope goes to the local emitter.
	Broker string

	// Topic is the telemetry topic envelopes are published on.
	Topic string

	// ClientID identifies this agent to the broker. Defaults to the hostname.
	ClientID string

	// Username and PasswordEnv authenticate to the broker. The password is
	// referenced through an environment variable and never inlined.
	Username    string
	PasswordEnv string

	// CAFile, CertFile and KeyFile configure mutual TLS. CAFile alone gives
	// server-only verification.
	CAFile   string
	CertFile string
	KeyFile  string

	// QoS for telemetry publishes. Defaults to 1 (at-least-once).
	QoS byte

	// ConnectTimeout bounds the initial broker handshake. Default 10 s.
	ConnectTimeout time.Duration

	// PublishTimeout bounds the wait for broker acknowledgment. Default 10 s.
	PublishTimeout time.Duration

	// NewClient replaces the paho client constructor. Used in tests.
	NewClient func(*mqtt.ClientOptions) Client
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ClientID == "" {
		name, _ := os.Hostname()
		if name == "" {
			name = "otcollector"
		}
		out.ClientID = name
	}
	if out.QoS == 0 {
		out.QoS = 1
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.PublishTimeout <= 0 {
		out.PublishTimeout = 10 * time.Second
	}
	if out.NewClient == nil {
		out.NewClient = func(opts *mqtt.ClientOptions) Client { return mqtt.NewClient(opts) }
	}
	return out
}

// Client is the subset of the paho client consumed by the Publisher. Using an
// interface lets tests inject a mock without a live broker.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// LocalEmitFunc receives envelopes that could not be (or were configured not
// to be) delivered over MQTT.
type LocalEmitFunc func(models.Envelope) error

// ─────────────────────────────────────────────────────────────────────────────
// Publisher
// ─────────────────────────────────────────────────────────────────────────────

// Publisher sends envelopes to MQTT and degrades to the local emitter when
// disconnected. It is safe for concurrent use.
type Publisher struct {
	cfg       Config
	formatter jsonformat.Formatter
	localEmit LocalEmitFunc
	logger    *slog.Logger

	mu     sync.RWMutex
	client Client
}

// New constructs a Publisher. localEmit may be nil, in which case undeliverable
// envelopes are only counted and logged.
func New(cfg Config, localEmit LocalEmitFunc, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Publisher{
		cfg:       cfg.withDefaults(),
		formatter: jsonformat.New(jsonformat.Config{}, logger),
		localEmit: localEmit,
		logger:    logger,
	}
}

// Connect establishes the MQTT session. With no broker configured it is a
// no-op. A failed connect leaves the publisher in fallback mode; Publish
// still works through the local emitter.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.cfg.Broker == "" {
		p.logger.Info("publish: no MQTT broker configured, using local emit only")
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetConnectTimeout(p.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.PasswordEnv != "" {
		opts.SetPassword(os.Getenv(p.cfg.PasswordEnv))
	}
	if p.cfg.CAFile != "" || p.cfg.CertFile != "" {
		tlsCfg, err := p.tlsConfig()
		if err != nil {
			return fmt.Errorf("publish: tls config: %w", err)
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn("publish: MQTT connection lost", "error", err.Error())
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.logger.Info("publish: MQTT connected", "broker", p.cfg.Broker)
	})

	client := p.cfg.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(p.cfg.ConnectTimeout) {
		return fmt.Errorf("publish: connect to %s timed out after %s", p.cfg.Broker, p.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: connect to %s: %w", p.cfg.Broker, err)
	}
	if err := ctx.Err(); err != nil {
		client.Disconnect(0)
		return err
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

// Disconnect closes the MQTT session gracefully.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
		p.logger.Info("publish: MQTT disconnected")
	}
}

// IsConnected reports current broker connectivity.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil && p.client.IsConnected()
}

// Publish delivers one envelope. When connected it publishes on the telemetry
// topic and awaits broker acknowledgment; on any error — and whenever the
// broker is unreachable — the envelope goes to the local emitter instead.
// Publish never fails a collection cycle: the returned error reflects only a
// local-emit failure after MQTT was unavailable.
func (p *Publisher) Publish(env models.Envelope) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		p.logger.Debug("publish: broker unavailable, local emit",
			"collector", env.Collector,
			"records", env.Count,
		)
		return p.emitLocal(env)
	}

	data, err := p.formatter.Format(&env)
	if err != nil {
		// Serialisation failure is not recoverable by retrying MQTT.
		return p.emitLocal(env)
	}

	token := client.Publish(p.cfg.Topic, p.cfg.QoS, false, data)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		p.logger.Error("publish: broker ack timed out, local emit",
			"collector", env.Collector,
			"timeout", p.cfg.PublishTimeout.String(),
		)
		return p.emitLocal(env)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("publish: MQTT publish failed, local emit",
			"collector", env.Collector,
			"error", err.Error(),
		)
		return p.emitLocal(env)
	}

	p.logger.Debug("publish: delivered envelope",
		"collector", env.Collector,
		"topic", p.cfg.Topic,
		"records", env.Count,
		"bytes", len(data),
	)
	return nil
}

// emitLocal hands the envelope to the fallback hook.
func (p *Publisher) emitLocal(env models.Envelope) error {
	if p.localEmit == nil {
		p.logger.Warn("publish: envelope dropped, no local emitter configured",
			"collector", env.Collector,
			"records", env.Count,
		)
		return nil
	}
	if err := p.localEmit(env); err != nil {
		p.logger.Error("publish: local emit failed",
			"collector", env.Collector,
			"error", err.Error(),
		)
		return fmt.Errorf("publish: local emit: %w", err)
	}
	return nil
}

// tlsConfig assembles the TLS settings from the configured PEM files.
func (p *Publisher) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if p.cfg.CAFile != "" {
		pem, err := os.ReadFile(p.cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", p.cfg.CAFile)
		}
		cfg.RootCAs = pool
	}
	if p.cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(p.cfg.CertFile, p.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
