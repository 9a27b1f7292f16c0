// Package modbus implements the Modbus/TCP source strategy on top of
// goburrow/modbus. Each cycle reads the configured register blocks and emits
// a device_info record plus one values record. When no device is reachable
// at build or connect time the strategy can run against a deterministic mock
// client, preserving record shapes for the downstream pipeline.
package modbus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/otsense/otcollector/models"
)

// Client is the register-read subset of goburrow's modbus.Client consumed by
// the strategy. Responses are raw big-endian bytes.
type Client interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
}

// DialFunc creates a connected Client for a target. The returned closer
// tears the transport down on cleanup.
type DialFunc func(target models.Target, timeout time.Duration) (Client, func() error, error)

// dialTCP is the production dialer.
func dialTCP(target models.Target, timeout time.Duration) (Client, func() error, error) {
	port := target.Port
	if port <= 0 {
		port = 502
	}
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", target.Host, port))
	handler.Timeout = timeout
	if target.Modbus != nil {
		handler.SlaveId = byte(target.Modbus.UnitID)
	}
	if err := handler.Connect(); err != nil {
		return nil, nil, fmt.Errorf("modbus: connect %s:%d: %w", target.Host, port, err)
	}
	return modbus.NewClient(handler), handler.Close, nil
}

// Config tunes the Modbus strategy.
type Config struct {
	// Timeout bounds each transport operation.
	Timeout time.Duration

	// Mock substitutes a deterministic in-memory device for the TCP client.
	Mock bool

	// Dial overrides transport creation, for tests.
	Dial DialFunc
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Dial == nil {
		if c.Mock {
			c.Dial = dialMock
		} else {
			c.Dial = dialTCP
		}
	}
	return c
}

type session struct {
	client Client
	close  func() error
}

type targetState struct {
	connected   bool
	lastContact time.Time
}

// Strategy reads Modbus register blocks per target and cycle.
type Strategy struct {
	cfg    Config
	mock   bool
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]session
	state    map[string]*targetState
}

// New creates the Modbus strategy.
func New(cfg Config, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Strategy{
		cfg:      cfg.withDefaults(),
		mock:     cfg.Mock,
		logger:   logger.With("source", "modbus"),
		sessions: make(map[string]session),
		state:    make(map[string]*targetState),
	}
}

// Source implements collector.SourceStrategy.
func (s *Strategy) Source() models.Source { return models.SourceModbus }

// Initialize implements collector.SourceStrategy. Transports are dialed on
// first use.
func (s *Strategy) Initialize(ctx context.Context) error { return nil }

// Cleanup closes every open transport.
func (s *Strategy) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, sess := range s.sessions {
		if sess.close != nil {
			if err := sess.close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("modbus: close %s: %w", id, err)
			}
		}
		delete(s.sessions, id)
	}
	return firstErr
}

// Collect reads the target's configured register blocks and emits a
// device_info record plus, when blocks are configured, one values record.
func (s *Strategy) Collect(ctx context.Context, target models.Target) ([]models.TelemetryRecord, error) {
	mc := target.Modbus
	if mc == nil {
		mc = &models.ModbusTargetConfig{Protocol: "tcp"}
	}

	client, err := s.session(target)
	if err != nil {
		s.markDown(target.ID)
		return nil, err
	}

	registers := make([]models.RegisterValue, 0, len(mc.Registers))
	for _, spec := range mc.Registers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := readBlock(client, spec)
		if err != nil {
			s.dropSession(target.ID)
			s.markDown(target.ID)
			return nil, fmt.Errorf("modbus: read %s %s: %w", spec.Kind, spec.Name, err)
		}
		registers = append(registers, models.RegisterValue{
			Name:     spec.Name,
			Kind:     spec.Kind,
			Address:  spec.Address,
			Quantity: spec.Quantity,
			Values:   values,
		})
	}

	now := time.Now().UTC()
	s.mu.Lock()
	st, ok := s.state[target.ID]
	if !ok {
		st = &targetState{}
		s.state[target.ID] = st
	}
	st.connected = true
	st.lastContact = now
	s.mu.Unlock()

	protocol := mc.Protocol
	if protocol == "" {
		protocol = "tcp"
	}
	info := models.DeviceInfo{
		Type:        models.TypeDeviceInfo,
		UnitID:      mc.UnitID,
		Protocol:    protocol,
		Connected:   true,
		LastContact: now,
		Mock:        s.mock,
	}
	records := []models.TelemetryRecord{
		models.NewRecord(models.SourceModbus, "", target.ID, target.Host, info),
	}
	if len(registers) > 0 {
		records = append(records, models.NewRecord(models.SourceModbus, "", target.ID, target.Host,
			models.RegisterValues{Type: models.TypeNodeValues, Registers: registers}))
	}
	return records, nil
}

// ConnectionState reports the tracked {connected, lastContact} pair for one
// target.
func (s *Strategy) ConnectionState(targetID string) (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[targetID]
	if !ok {
		return false, time.Time{}
	}
	return st.connected, st.lastContact
}

func (s *Strategy) session(target models.Target) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[target.ID]; ok {
		return sess.client, nil
	}
	client, closer, err := s.cfg.Dial(target, s.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	s.sessions[target.ID] = session{client: client, close: closer}
	s.logger.Debug("transport established", "target", target.ID, "host", target.Host)
	return client, nil
}

func (s *Strategy) dropSession(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[targetID]; ok {
		if sess.close != nil {
			_ = sess.close()
		}
		delete(s.sessions, targetID)
	}
}

func (s *Strategy) markDown(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[targetID]; ok {
		st.connected = false
	}
}

// readBlock dispatches one register read by kind and unpacks the payload:
// registers are big-endian 16-bit words, coil and discrete responses are bit
// fields expanded to 0/1 words.
func readBlock(client Client, spec models.ModbusRegisterSpec) ([]uint16, error) {
	switch spec.Kind {
	case "holding":
		raw, err := client.ReadHoldingRegisters(spec.Address, spec.Quantity)
		if err != nil {
			return nil, err
		}
		return unpackWords(raw, spec.Quantity), nil
	case "input":
		raw, err := client.ReadInputRegisters(spec.Address, spec.Quantity)
		if err != nil {
			return nil, err
		}
		return unpackWords(raw, spec.Quantity), nil
	case "coil":
		raw, err := client.ReadCoils(spec.Address, spec.Quantity)
		if err != nil {
			return nil, err
		}
		return unpackBits(raw, spec.Quantity), nil
	case "discrete":
		raw, err := client.ReadDiscreteInputs(spec.Address, spec.Quantity)
		if err != nil {
			return nil, err
		}
		return unpackBits(raw, spec.Quantity), nil
	default:
		return nil, fmt.Errorf("unknown register kind %q", spec.Kind)
	}
}

func unpackWords(raw []byte, quantity uint16) []uint16 {
	n := min(int(quantity), len(raw)/2)
	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, uint16(raw[i*2])<<8|uint16(raw[i*2+1]))
	}
	return out
}

func unpackBits(raw []byte, quantity uint16) []uint16 {
	out := make([]uint16, 0, quantity)
	for i := 0; i < int(quantity); i++ {
		if i/8 >= len(raw) {
			break
		}
		out = append(out, uint16(raw[i/8]>>(i%8)&1))
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Mock client
// ─────────────────────────────────────────────────────────────────────────────

// mockClient is a deterministic in-memory device: every register reads as
// its own address, every coil as address parity.
type mockClient struct{}

func dialMock(target models.Target, timeout time.Duration) (Client, func() error, error) {
	return mockClient{}, nil, nil
}

func (mockClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return mockWords(address, quantity), nil
}

func (mockClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return mockWords(address, quantity), nil
}

func (mockClient) ReadCoils(address, quantity uint16) ([]byte, error) {
	return mockBits(address, quantity), nil
}

func (mockClient) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return mockBits(address, quantity), nil
}

func mockWords(address, quantity uint16) []byte {
	out := make([]byte, 0, quantity*2)
	for i := uint16(0); i < quantity; i++ {
		v := address + i
		out = append(out, byte(v>>8), byte(v))
	}
	return out
}

func mockBits(address, quantity uint16) []byte {
	out := make([]byte, (quantity+7)/8)
	for i := uint16(0); i < quantity; i++ {
		if (address+i)%2 == 1 {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }

var _ io.Writer = noopWriter{}
