// Package arp implements the neighbor-table source strategy. It shells out
// to the platform's neighbor command (ip neigh, arp -an, arp -a) and parses
// the output into normalized ARP entries. Switch MAC-table collection is an
// extension point and yields nothing here.
package arp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/netutil"
)

// CommandRunner executes one external command and returns its stdout. Tests
// inject canned output here.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Config tunes the ARP strategy.
type Config struct {
	// Run overrides command execution, for tests. nil shells out.
	Run CommandRunner

	// GOOS overrides platform detection, for tests. Empty uses runtime.GOOS.
	GOOS string
}

// Strategy collects the host neighbor table.
type Strategy struct {
	run    CommandRunner
	goos   string
	logger *slog.Logger

	mu       sync.Mutex
	lastSeen map[string][]models.ARPEntry // per target id, for discovery
}

// New creates the ARP strategy.
func New(cfg Config, logger *slog.Logger) *Strategy {
	if cfg.Run == nil {
		cfg.Run = execRunner
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Strategy{
		run:      cfg.Run,
		goos:     cfg.GOOS,
		logger:   logger.With("source", "arp"),
		lastSeen: make(map[string][]models.ARPEntry),
	}
}

// Source implements collector.SourceStrategy.
func (s *Strategy) Source() models.Source { return models.SourceARP }

// Initialize implements collector.SourceStrategy.
func (s *Strategy) Initialize(ctx context.Context) error { return nil }

// Cleanup implements collector.SourceStrategy.
func (s *Strategy) Cleanup() error { return nil }

// Collect runs the platform neighbor command and produces at most one `arp`
// record per cycle. With collectType mac or both, the switch MAC table is an
// extension point that yields nothing here, so no `mac` record is emitted.
func (s *Strategy) Collect(ctx context.Context, target models.Target) ([]models.TelemetryRecord, error) {
	ct := models.ARPCollectBoth
	iface := ""
	if target.ARP != nil {
		if target.ARP.CollectType != "" {
			ct = target.ARP.CollectType
		}
		iface = target.ARP.Interface
	}

	var records []models.TelemetryRecord
	if ct == models.ARPCollectARP || ct == models.ARPCollectBoth {
		entries, err := s.neighborTable(ctx, iface)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.lastSeen[target.ID] = entries
		s.mu.Unlock()
		if len(entries) > 0 {
			records = append(records, models.NewRecord(models.SourceARP, "", target.ID, "",
				models.ARPTable{Type: models.TypeARP, Entries: entries}))
		}
	}
	return records, nil
}

// DiscoverSubnet returns the neighbor-table entries whose IP lies inside the
// CIDR. Only passive discovery is supported; an active sweep is refused.
func (s *Strategy) DiscoverSubnet(ctx context.Context, cidr string, passive bool) ([]models.ARPEntry, error) {
	if !passive {
		return nil, fmt.Errorf("arp: active subnet scanning is not supported")
	}
	network, err := netutil.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("arp: discover %s: %w", cidr, err)
	}

	entries, err := s.neighborTable(ctx, "")
	if err != nil {
		return nil, err
	}
	var inRange []models.ARPEntry
	for _, e := range entries {
		if network.Contains(e.IPAddress) {
			inRange = append(inRange, e)
		}
	}
	return inRange, nil
}

// neighborTable picks the platform command and parses its output. On Linux
// the iproute2 form is preferred with legacy arp as fallback.
func (s *Strategy) neighborTable(ctx context.Context, iface string) ([]models.ARPEntry, error) {
	switch s.goos {
	case "linux":
		args := []string{"neigh", "show"}
		if iface != "" {
			args = append(args, "dev", iface)
		}
		out, err := s.run(ctx, "ip", args...)
		if err == nil {
			return parseIPNeigh(string(out), iface), nil
		}
		s.logger.Debug("ip neigh unavailable, falling back to arp", "error", err.Error())
		out, err = s.run(ctx, "arp", "-an")
		if err != nil {
			return nil, fmt.Errorf("arp: neighbor table: %w", err)
		}
		return parseArpBSD(string(out), iface), nil
	case "windows":
		out, err := s.run(ctx, "arp", "-a")
		if err != nil {
			return nil, fmt.Errorf("arp: neighbor table: %w", err)
		}
		return parseArpWindows(string(out)), nil
	default:
		out, err := s.run(ctx, "arp", "-an")
		if err != nil {
			return nil, fmt.Errorf("arp: neighbor table: %w", err)
		}
		return parseArpBSD(string(out), iface), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Parsers
// ─────────────────────────────────────────────────────────────────────────────

// parseIPNeigh parses iproute2 output:
//
//	192.168.1.1 dev eth0 lladdr aa:bb:cc:dd:ee:ff REACHABLE
//
// Entries without an lladdr (FAILED, INCOMPLETE) are skipped. PERMANENT maps
// to static, everything else to dynamic.
func parseIPNeigh(out, ifaceFilter string) []models.ARPEntry {
	var entries []models.ARPEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entry := models.ARPEntry{IPAddress: fields[0], Type: "dynamic"}
		for i := 1; i < len(fields); i++ {
			switch fields[i] {
			case "dev":
				if i+1 < len(fields) {
					entry.Interface = fields[i+1]
					i++
				}
			case "lladdr":
				if i+1 < len(fields) {
					entry.MacAddress = normMAC(fields[i+1])
					i++
				}
			case "PERMANENT":
				entry.Type = "static"
			}
		}
		if entry.MacAddress == "" {
			continue
		}
		if ifaceFilter != "" && entry.Interface != ifaceFilter {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// parseArpBSD parses the arp -an form shared by BSD, macOS and Linux legacy
// arp:
//
//	? (192.168.1.5) at aa:bb:cc:dd:ee:ff [ether] on eth0
func parseArpBSD(out, ifaceFilter string) []models.ARPEntry {
	var entries []models.ARPEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		var entry models.ARPEntry
		entry.Type = "dynamic"
		for i, f := range fields {
			switch {
			case strings.HasPrefix(f, "(") && strings.HasSuffix(f, ")"):
				entry.IPAddress = strings.Trim(f, "()")
			case f == "at" && i+1 < len(fields):
				entry.MacAddress = normMAC(fields[i+1])
			case f == "on" && i+1 < len(fields):
				entry.Interface = fields[i+1]
			case f == "permanent":
				entry.Type = "static"
			}
		}
		if entry.IPAddress == "" || entry.MacAddress == "" {
			continue
		}
		if ifaceFilter != "" && entry.Interface != ifaceFilter {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// parseArpWindows parses route print style arp -a output:
//
//	  192.168.1.1           aa-bb-cc-dd-ee-ff     dynamic
func parseArpWindows(out string) []models.ARPEntry {
	var entries []models.ARPEntry
	iface := ""
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Interface:") {
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 {
				iface = fields[1]
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 3 {
			continue
		}
		mac := normMAC(fields[1])
		if mac == "" {
			continue
		}
		typ := "dynamic"
		if strings.EqualFold(fields[2], "static") {
			typ = "static"
		}
		entries = append(entries, models.ARPEntry{
			IPAddress:  fields[0],
			MacAddress: mac,
			Interface:  iface,
			Type:       typ,
		})
	}
	return entries
}

// normMAC canonicalises a parsed MAC, returning "" for garbage so callers
// can skip the line.
func normMAC(s string) string {
	mac, err := netutil.NormalizeMAC(s)
	if err != nil {
		return ""
	}
	return mac
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = noopWriter{}
