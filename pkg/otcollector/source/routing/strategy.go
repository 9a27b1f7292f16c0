// Package routing implements the routing-table source strategy. It parses
// the platform route command (ip route, netstat -rn, route print) and can
// pull OSPF/BGP adjacencies from an FRR/Quagga vtysh when requested; a
// missing vtysh is not an error.
package routing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/otsense/otcollector/models"
	"github.com/otsense/otcollector/pkg/otcollector/netutil"
)

// CommandRunner executes one external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Config tunes the routing strategy.
type Config struct {
	// Run overrides command execution, for tests. nil shells out.
	Run CommandRunner

	// GOOS overrides platform detection, for tests. Empty uses runtime.GOOS.
	GOOS string
}

// Strategy collects the host routing table and optional dynamic-routing
// neighbor state.
type Strategy struct {
	run    CommandRunner
	goos   string
	logger *slog.Logger
}

// New creates the routing strategy.
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
	return &Strategy{run: cfg.Run, goos: cfg.GOOS, logger: logger.With("source", "routing")}
}

// Source implements collector.SourceStrategy.
func (s *Strategy) Source() models.Source { return models.SourceRouting }

// Initialize implements collector.SourceStrategy.
func (s *Strategy) Initialize(ctx context.Context) error { return nil }

// Cleanup implements collector.SourceStrategy.
func (s *Strategy) Cleanup() error { return nil }

// Collect produces up to one `routes` record plus one `routing_neighbors`
// record per requested protocol. Empty tables produce no record.
func (s *Strategy) Collect(ctx context.Context, target models.Target) ([]models.TelemetryRecord, error) {
	rc := target.Routing
	if rc == nil {
		rc = &models.RoutingTargetConfig{CollectRoutes: true}
	}

	var records []models.TelemetryRecord
	add := func(data models.RecordData) {
		records = append(records, models.NewRecord(models.SourceRouting, "", target.ID, "", data))
	}

	if rc.CollectRoutes {
		routes, err := s.routeTable(ctx)
		if err != nil {
			return nil, err
		}
		if len(routes) > 0 {
			add(models.RouteTable{Type: models.TypeRoutes, Routes: routes})
		}
	}

	if rc.CollectNeighbors {
		for _, proto := range rc.Protocols {
			neighbors := s.protocolNeighbors(ctx, proto)
			if len(neighbors) > 0 {
				add(models.RoutingNeighbors{
					Type:      models.TypeRoutingNeighbors,
					Protocol:  proto,
					Neighbors: neighbors,
				})
			}
		}
	}
	return records, nil
}

// routeTable picks the platform command and parses its output.
func (s *Strategy) routeTable(ctx context.Context) ([]models.RouteEntry, error) {
	switch s.goos {
	case "linux":
		out, err := s.run(ctx, "ip", "route", "show")
		if err == nil {
			return parseIPRoute(string(out)), nil
		}
		s.logger.Debug("ip route unavailable, falling back to netstat", "error", err.Error())
		out, err = s.run(ctx, "netstat", "-rn")
		if err != nil {
			return nil, fmt.Errorf("routing: route table: %w", err)
		}
		return parseNetstat(string(out)), nil
	case "windows":
		out, err := s.run(ctx, "route", "print")
		if err != nil {
			return nil, fmt.Errorf("routing: route table: %w", err)
		}
		return parseRoutePrint(string(out)), nil
	default:
		out, err := s.run(ctx, "netstat", "-rn")
		if err != nil {
			return nil, fmt.Errorf("routing: route table: %w", err)
		}
		return parseNetstat(string(out)), nil
	}
}

// protocolNeighbors queries vtysh for one protocol's adjacencies. vtysh
// being absent or failing is expected on hosts without FRR and yields no
// neighbors.
func (s *Strategy) protocolNeighbors(ctx context.Context, proto string) []models.RoutingNeighbor {
	var cmd string
	switch strings.ToLower(proto) {
	case "ospf":
		cmd = "show ip ospf neighbor"
	case "bgp":
		cmd = "show ip bgp summary"
	default:
		return nil
	}
	out, err := s.run(ctx, "vtysh", "-c", cmd)
	if err != nil {
		s.logger.Debug("vtysh unavailable", "protocol", proto, "error", err.Error())
		return nil
	}
	if strings.ToLower(proto) == "ospf" {
		return parseOSPFNeighbors(string(out))
	}
	return parseBGPSummary(string(out))
}

// ─────────────────────────────────────────────────────────────────────────────
// Route table parsers
// ─────────────────────────────────────────────────────────────────────────────

// parseIPRoute parses iproute2 output:
//
//	default via 192.168.1.1 dev eth0 proto dhcp metric 100
//	10.0.0.0/24 dev eth1 proto kernel scope link src 10.0.0.5
func parseIPRoute(out string) []models.RouteEntry {
	var routes []models.RouteEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		entry := models.RouteEntry{Gateway: "0.0.0.0", Protocol: "connected"}
		entry.Destination, entry.Netmask = splitDestination(fields[0])
		if entry.Destination == "" {
			continue
		}
		for i := 1; i < len(fields)-1; i++ {
			switch fields[i] {
			case "via":
				entry.Gateway = fields[i+1]
				i++
			case "dev":
				entry.Interface = fields[i+1]
				i++
			case "proto":
				entry.Protocol = mapRouteProtocol(fields[i+1])
				i++
			case "metric":
				entry.Metric, _ = strconv.Atoi(fields[i+1])
				i++
			}
		}
		routes = append(routes, entry)
	}
	return routes
}

// parseNetstat parses the BSD netstat -rn table. Only IPv4 rows with a
// destination, gateway and interface column are kept.
func parseNetstat(out string) []models.RouteEntry {
	var routes []models.RouteEntry
	inTable := false
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "Destination" {
			inTable = true
			continue
		}
		if !inTable || len(fields) < 4 {
			continue
		}
		dest, mask := splitDestination(fields[0])
		if dest == "" {
			continue
		}
		entry := models.RouteEntry{
			Destination: dest,
			Netmask:     mask,
			Gateway:     fields[1],
			Flags:       fields[2],
			Interface:   fields[len(fields)-1],
			Protocol:    "connected",
		}
		if strings.HasPrefix(entry.Gateway, "link#") {
			entry.Gateway = "0.0.0.0"
		}
		if strings.Contains(entry.Flags, "S") {
			entry.Protocol = "static"
		}
		routes = append(routes, entry)
	}
	return routes
}

// parseRoutePrint parses the IPv4 section of Windows route print: rows of
// destination, netmask, gateway, interface, metric.
func parseRoutePrint(out string) []models.RouteEntry {
	var routes []models.RouteEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 5 {
			continue
		}
		if _, err := netutil.ParseIPv4(fields[0]); err != nil {
			continue
		}
		if _, err := netutil.ParseIPv4(fields[1]); err != nil {
			continue
		}
		entry := models.RouteEntry{
			Destination: fields[0],
			Netmask:     fields[1],
			Gateway:     fields[2],
			Interface:   fields[3],
			Protocol:    "static",
		}
		entry.Metric, _ = strconv.Atoi(fields[4])
		if strings.EqualFold(entry.Gateway, "On-link") {
			entry.Gateway = "0.0.0.0"
			entry.Protocol = "connected"
		}
		routes = append(routes, entry)
	}
	return routes
}

// splitDestination turns a route destination token into address + netmask.
// `default` maps to 0.0.0.0/0.0.0.0; a bare address gets a host mask.
func splitDestination(token string) (dest, mask string) {
	if token == "default" {
		return "0.0.0.0", "0.0.0.0"
	}
	addr, prefixStr, hasPrefix := strings.Cut(token, "/")
	if _, err := netutil.ParseIPv4(padIPv4(addr)); err != nil {
		return "", ""
	}
	if !hasPrefix {
		return padIPv4(addr), "255.255.255.255"
	}
	prefix, err := strconv.Atoi(prefixStr)
	if err != nil {
		return "", ""
	}
	m, err := netutil.NetmaskString(prefix)
	if err != nil {
		return "", ""
	}
	return padIPv4(addr), m
}

// padIPv4 completes truncated BSD-style destinations ("10.0.0" → "10.0.0.0").
func padIPv4(addr string) string {
	n := strings.Count(addr, ".")
	for ; n < 3; n++ {
		addr += ".0"
	}
	return addr
}

func mapRouteProtocol(proto string) string {
	switch proto {
	case "kernel", "connected":
		return "connected"
	case "static", "boot":
		return "static"
	case "ospf":
		return "ospf"
	case "bgp":
		return "bgp"
	case "rip":
		return "rip"
	default:
		return "other"
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// vtysh parsers
// ─────────────────────────────────────────────────────────────────────────────

// parseOSPFNeighbors parses `show ip ospf neighbor`:
//
//	Neighbor ID     Pri State           Dead Time Address         Interface
//	1.1.1.1           1 Full/DR           33.292s 10.0.0.2        eth0:10.0.0.1
func parseOSPFNeighbors(out string) []models.RoutingNeighbor {
	var neighbors []models.RoutingNeighbor
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		if _, err := netutil.ParseIPv4(fields[0]); err != nil {
			continue
		}
		neighbors = append(neighbors, models.RoutingNeighbor{
			RouterID: fields[0],
			State:    fields[2],
			Address:  fields[4],
			Detail:   fields[5],
		})
	}
	return neighbors
}

// parseBGPSummary parses the neighbor rows of `show ip bgp summary`. The
// last column is a prefix count for established sessions or a state name
// otherwise.
func parseBGPSummary(out string) []models.RoutingNeighbor {
	var neighbors []models.RoutingNeighbor
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		if _, err := netutil.ParseIPv4(fields[0]); err != nil {
			continue
		}
		last := fields[len(fields)-1]
		state := last
		if _, err := strconv.Atoi(last); err == nil {
			state = "Established"
		}
		neighbors = append(neighbors, models.RoutingNeighbor{
			Address: fields[0],
			State:   state,
			Detail:  "AS " + fields[2],
		})
	}
	return neighbors
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = noopWriter{}
