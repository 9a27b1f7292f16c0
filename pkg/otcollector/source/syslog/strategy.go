// Package syslog implements the syslog source strategy: a UDP or TCP
// listener that parses RFC 5424 and RFC 3164 messages, buffers them, and
// emits a security-filtered record plus a traffic summary on each poll tick.
// High-severity messages additionally fire an immediate securityEvent on the
// owning collector's event stream.
package syslog

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/buffer"
	"github.com/otsense/otcollector/pkg/otcollector/collector"
)

// DefaultBufferCap bounds the passive message buffer.
const DefaultBufferCap = 50_000

// Config controls the syslog listener.
type Config struct {
	// ListenAddr is the address to bind to (default "0.0.0.0:5514").
	ListenAddr string

	// Protocol is "udp" or "tcp" (default "udp"). TCP frames are split on
	// newline.
	Protocol string

	// BufferCap is the passive buffer bound (default 50000).
	BufferCap int

	// TopHosts is the length of the per-drain top-talkers list (default 5).
	TopHosts int
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:5514"
	}
	if c.Protocol == "" {
		c.Protocol = "udp"
	}
	if c.BufferCap <= 0 {
		c.BufferCap = DefaultBufferCap
	}
	if c.TopHosts <= 0 {
		c.TopHosts = 5
	}
	return c
}

// Strategy receives syslog messages for the lifetime of its collector.
type Strategy struct {
	cfg    Config
	logger *slog.Logger
	msgs   *buffer.Bounded[models.SyslogMessage]

	mu      sync.Mutex
	udpConn net.PacketConn
	tcpLn   net.Listener
	running bool
	doneCh  chan struct{}
	emitter collector.EventEmitter
}

// New creates the syslog strategy.
func New(cfg Config, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	logger = logger.With("source", "syslog")
	c := cfg.withDefaults()
	return &Strategy{
		cfg:    c,
		logger: logger,
		msgs:   buffer.New[models.SyslogMessage](c.BufferCap, logger),
	}
}

// Source implements collector.SourceStrategy.
func (s *Strategy) Source() models.Source { return models.SourceSyslog }

// BindEmitter implements collector.EmitterBinder; the collector installs
// itself here so high-severity messages can fire securityEvents immediately.
func (s *Strategy) BindEmitter(e collector.EventEmitter) {
	s.mu.Lock()
	s.emitter = e
	s.mu.Unlock()
}

// Initialize binds the configured socket and starts the listener task.
func (s *Strategy) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("syslog: already initialized")
	}

	switch s.cfg.Protocol {
	case "udp":
		conn, err := net.ListenPacket("udp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("syslog: listen udp %s: %w", s.cfg.ListenAddr, err)
		}
		s.udpConn = conn
		s.doneCh = make(chan struct{})
		go s.listenUDP(conn)
		s.logger.Info("listening", "proto", "udp", "addr", conn.LocalAddr().String())
	case "tcp":
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("syslog: listen tcp %s: %w", s.cfg.ListenAddr, err)
		}
		s.tcpLn = ln
		s.doneCh = make(chan struct{})
		go s.listenTCP(ln)
		s.logger.Info("listening", "proto", "tcp", "addr", ln.Addr().String())
	default:
		return fmt.Errorf("syslog: unsupported protocol %q", s.cfg.Protocol)
	}
	s.running = true
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
	udpConn, tcpLn, done := s.udpConn, s.tcpLn, s.doneCh
	s.mu.Unlock()

	var err error
	if udpConn != nil {
		err = udpConn.Close()
	}
	if tcpLn != nil {
		err = tcpLn.Close()
	}
	<-done
	s.logger.Info("stopped")
	return err
}

// Collect drains the buffer and emits up to two records: the security subset
// (only when non-empty) and a traffic summary. An empty drain produces
// nothing.
func (s *Strategy) Collect(ctx context.Context, target models.Target) ([]models.TelemetryRecord, error) {
	msgs := s.msgs.Drain()
	if len(msgs) == 0 {
		return nil, nil
	}

	severityDist := make(map[int]int)
	hostCounts := make(map[string]int)
	var security []models.SyslogMessage
	timeRange := models.TimeRange{Start: msgs[0].Timestamp, End: msgs[0].Timestamp}

	for _, m := range msgs {
		severityDist[m.Severity]++
		hostCounts[m.Hostname]++
		if m.Timestamp.Before(timeRange.Start) {
			timeRange.Start = m.Timestamp
		}
		if m.Timestamp.After(timeRange.End) {
			timeRange.End = m.Timestamp
		}
		if isSecurityRelevant(m) {
			security = append(security, m)
		}
	}

	var records []models.TelemetryRecord
	if len(security) > 0 {
		secDist := make(map[int]int)
		for _, m := range security {
			secDist[m.Severity]++
		}
		records = append(records, models.NewRecord(models.SourceSyslog, "", target.ID, "",
			models.SyslogData{
				Type:                 models.TypeSyslog,
				SecurityEventCount:   len(security),
				SeverityDistribution: secDist,
				Messages:             security,
			}))
	}
	records = append(records, models.NewRecord(models.SourceSyslog, "", target.ID, "",
		models.SyslogSummary{
			Type:                 models.TypeSyslogSummary,
			TotalCount:           len(msgs),
			TimeRange:            timeRange,
			SeverityDistribution: severityDist,
			TopHosts:             topHosts(hostCounts, s.cfg.TopHosts),
		}))
	return records, nil
}

// ListenAddr reports the bound address, usable after Initialize.
func (s *Strategy) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpConn != nil {
		return s.udpConn.LocalAddr().String()
	}
	if s.tcpLn != nil {
		return s.tcpLn.Addr().String()
	}
	return s.cfg.ListenAddr
}

// Buffered reports the number of messages waiting for the next drain.
func (s *Strategy) Buffered() int { return s.msgs.Len() }

// ─────────────────────────────────────────────────────────────────────────────
// Listener tasks
// ─────────────────────────────────────────────────────────────────────────────

func (s *Strategy) listenUDP(conn net.PacketConn) {
	defer close(s.doneCh)
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			s.logClosed(err)
			return
		}
		s.handleLine(string(buf[:n]), remoteIP(addr))
	}
}

func (s *Strategy) listenTCP(ln net.Listener) {
	defer close(s.doneCh)
	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.logClosed(err)
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			scanner.Buffer(make([]byte, 64*1024), 64*1024)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					s.handleLine(line, remoteIP(conn.RemoteAddr()))
				}
			}
		}(conn)
	}
}

// handleLine parses one message, buffers it, and fires an immediate
// securityEvent for high-severity messages. Unparseable lines are dropped at
// debug level.
func (s *Strategy) handleLine(line, sourceIP string) {
	msg, err := Parse(line, sourceIP, time.Now().UTC())
	if err != nil {
		s.logger.Debug("dropping unparseable message", "source_ip", sourceIP, "error", err.Error())
		return
	}
	s.msgs.Append(msg)

	if isHighSeverity(msg) {
		s.mu.Lock()
		emitter := s.emitter
		s.mu.Unlock()
		if emitter != nil {
			emitter.Emit(collector.Event{
				Kind:    collector.EventSecurityEvent,
				Source:  models.SourceSyslog,
				Time:    time.Now().UTC(),
				Payload: msg,
			})
		}
	}
}

func (s *Strategy) logClosed(err error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		s.logger.Warn("listener error", "error", err.Error())
	}
}

func remoteIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// topHosts ranks hostnames by message count, ties broken alphabetically.
func topHosts(counts map[string]int, n int) []models.HostCount {
	out := make([]models.HostCount, 0, len(counts))
	for host, count := range counts {
		out = append(out, models.HostCount{Host: host, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Host < out[j].Host
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
