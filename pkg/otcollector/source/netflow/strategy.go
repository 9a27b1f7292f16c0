// Package netflow implements the NetFlow v5/v9 source strategy: a UDP
// listener that decodes datagrams into flow records, buffers them, and emits
// one aggregated record per poll tick.
//
// Pipeline position:
//
//	UDP port 2055  →  decode (v5 / v9+templates)  →  PassiveBuffer
//	                                                      │
//	                                  poll tick drains ───┘→ aggregate → record
package netflow

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/buffer"
)

// DefaultBufferCap bounds the passive flow buffer.
const DefaultBufferCap = 10_000

// Config controls the NetFlow listener.
type Config struct {
	// ListenAddr is the UDP address to bind to (default "0.0.0.0:2055").
	ListenAddr string

	// BufferCap is the passive buffer bound (default 10000).
	BufferCap int

	// ReadBufferBytes sizes the datagram read buffer (default 9000, enough
	// for jumbo-frame exports).
	ReadBufferBytes int
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:2055"
	}
	if c.BufferCap <= 0 {
		c.BufferCap = DefaultBufferCap
	}
	if c.ReadBufferBytes <= 0 {
		c.ReadBufferBytes = 9000
	}
	return c
}

// Strategy receives NetFlow datagrams for the lifetime of its collector. The
// listener task decodes and buffers; Collect drains and aggregates.
type Strategy struct {
	cfg     Config
	logger  *slog.Logger
	decoder *decoder
	flows   *buffer.Bounded[models.NetFlowRecord]

	mu      sync.Mutex
	conn    net.PacketConn
	running bool
	doneCh  chan struct{}
}

// New creates the NetFlow strategy.
func New(cfg Config, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	logger = logger.With("source", "netflow")
	return &Strategy{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		decoder: newDecoder(logger),
		flows:   buffer.New[models.NetFlowRecord](cfg.withDefaults().BufferCap, logger),
	}
}

// Source implements collector.SourceStrategy.
func (s *Strategy) Source() models.Source { return models.SourceNetFlow }

// Initialize binds the UDP socket and starts the listener task. A bind
// failure is fatal for this collector.
func (s *Strategy) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("netflow: already initialized")
	}

	conn, err := net.ListenPacket("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("netflow: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.conn = conn
	s.running = true
	s.doneCh = make(chan struct{})

	go s.listen(conn)
	s.logger.Info("listening", "addr", conn.LocalAddr().String())
	return nil
}

// Cleanup closes the socket and waits for the listener task to exit.
func (s *Strategy) Cleanup() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	conn := s.conn
	done := s.doneCh
	s.mu.Unlock()

	err := conn.Close()
	<-done
	s.logger.Info("stopped")
	return err
}

// Collect drains the buffer, aggregates, and emits at most one record.
// The target is the synthetic listener target; an empty drain produces
// nothing.
func (s *Strategy) Collect(ctx context.Context, target models.Target) ([]models.TelemetryRecord, error) {
	flows := s.flows.Drain()
	if len(flows) == 0 {
		return nil, nil
	}
	aggregated := Aggregate(flows)
	record := models.NewRecord(models.SourceNetFlow, "", target.ID, "",
		models.FlowData{Type: models.TypeNetFlow, Flows: aggregated})
	return []models.TelemetryRecord{record}, nil
}

// ListenAddr reports the bound address, usable after Initialize (handy when
// binding port 0 in tests).
func (s *Strategy) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return s.cfg.ListenAddr
	}
	return s.conn.LocalAddr().String()
}

// Buffered reports the number of flows waiting for the next drain.
func (s *Strategy) Buffered() int { return s.flows.Len() }

// listen is the listener task: one datagram per iteration until the socket
// closes.
func (s *Strategy) listen(conn net.PacketConn) {
	defer close(s.doneCh)
	buf := make([]byte, s.cfg.ReadBufferBytes)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.logger.Warn("read error", "error", err.Error())
			}
			return
		}
		s.handleDatagram(buf[:n], addr)
	}
}

// handleDatagram decodes one datagram and buffers its flows. Malformed
// frames are dropped at debug level.
func (s *Strategy) handleDatagram(data []byte, addr net.Addr) {
	exporter := exporterAddr(addr)
	records, err := s.decoder.decode(data, exporter)
	if err != nil {
		s.logger.Debug("dropping malformed datagram",
			"exporter", exporter, "bytes", len(data), "error", err.Error())
		return
	}
	if len(records) > 0 {
		s.flows.Append(records...)
	}
}

// exporterAddr strips the source port so a template cached from one export
// socket still resolves flows from another socket on the same router.
func exporterAddr(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
