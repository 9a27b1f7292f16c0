package snmp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/otsense/otcollector/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// OIDs
// ─────────────────────────────────────────────────────────────────────────────

const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysUpTime   = ".1.3.6.1.2.1.1.3.0"
	oidSysContact  = ".1.3.6.1.2.1.1.4.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"

	oidIfEntry = ".1.3.6.1.2.1.2.2.1"

	// lldpRemEntry, LLDP-MIB remote systems table.
	oidLLDPRemEntry = ".1.0.8802.1.1.2.1.4.1.1"

	// ipNetToMediaEntry, the agent's own ARP cache.
	oidIPNetToMediaEntry = ".1.3.6.1.2.1.4.22.1"
)

// ifTable columns.
const (
	colIfDescr       = 2
	colIfType        = 3
	colIfSpeed       = 5
	colIfPhysAddress = 6
	colIfAdminStatus = 7
	colIfOperStatus  = 8
	colIfInOctets    = 10
	colIfOutOctets   = 16
)

// lldpRemEntry columns.
const (
	colLLDPChassisID = 5
	colLLDPPortID    = 7
	colLLDPSysName   = 9
	colLLDPSysDescr  = 10
)

// ipNetToMediaEntry columns.
const (
	colArpPhysAddress = 2
	colArpNetAddress  = 3
	colArpType        = 4
)

// ─────────────────────────────────────────────────────────────────────────────
// Strategy
// ─────────────────────────────────────────────────────────────────────────────

// Config tunes the SNMP strategy.
type Config struct {
	// Timeout is the per-request session timeout handed to gosnmp.
	Timeout time.Duration

	// Retries is gosnmp's own per-request retry count. The collector layers
	// its own retry policy on top, so this stays at 0 by default.
	Retries int

	// Dial overrides session creation, for tests. nil uses NewSession.
	Dial DialFunc
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Dial == nil {
		c.Dial = NewSession
	}
	return c
}

// Strategy collects system, interface, LLDP neighbor and ARP data over
// SNMPv3. Sessions are created lazily per target and reused across cycles;
// a session whose request fails is closed and redialed on the next attempt.
type Strategy struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]Session
}

// New creates the SNMP strategy.
func New(cfg Config, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Strategy{
		cfg:      cfg.withDefaults(),
		logger:   logger.With("source", "snmp"),
		sessions: make(map[string]Session),
	}
}

// Source implements collector.SourceStrategy.
func (s *Strategy) Source() models.Source { return models.SourceSNMP }

// Initialize implements collector.SourceStrategy. Sessions are dialed on
// first use, so there is nothing to do up front.
func (s *Strategy) Initialize(ctx context.Context) error { return nil }

// Cleanup closes every open session.
func (s *Strategy) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, sess := range s.sessions {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("snmp: close session %s: %w", id, err)
		}
		delete(s.sessions, id)
	}
	return firstErr
}

// Collect runs the four per-cycle operations against one target. The system
// record is always produced on success; neighbor and ARP records are omitted
// when their tables are empty.
func (s *Strategy) Collect(ctx context.Context, target models.Target) ([]models.TelemetryRecord, error) {
	sess, err := s.session(target)
	if err != nil {
		return nil, err
	}

	fail := func(op string, err error) ([]models.TelemetryRecord, error) {
		s.dropSession(target.ID)
		return nil, fmt.Errorf("snmp: %s %s: %w", op, target.Host, err)
	}

	records := make([]models.TelemetryRecord, 0, 4)
	add := func(data models.RecordData) {
		records = append(records, models.NewRecord(models.SourceSNMP, "", target.ID, target.Host, data))
	}

	sys, err := s.collectSystem(sess)
	if err != nil {
		return fail("system", err)
	}
	add(sys)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ifaces, err := s.collectInterfaces(sess)
	if err != nil {
		return fail("interfaces", err)
	}
	if len(ifaces.Interfaces) > 0 {
		add(ifaces)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	neighbors, err := s.collectNeighbors(sess)
	if err != nil {
		return fail("neighbors", err)
	}
	if len(neighbors.Neighbors) > 0 {
		add(neighbors)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	arp, err := s.collectARP(sess)
	if err != nil {
		return fail("arp", err)
	}
	if len(arp.Entries) > 0 {
		add(arp)
	}

	return records, nil
}

func (s *Strategy) session(target models.Target) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[target.ID]; ok {
		return sess, nil
	}
	sess, err := s.cfg.Dial(target, s.cfg.Timeout, s.cfg.Retries)
	if err != nil {
		return nil, err
	}
	s.sessions[target.ID] = sess
	s.logger.Debug("session established", "target", target.ID, "host", target.Host)
	return sess, nil
}

func (s *Strategy) dropSession(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[targetID]; ok {
		_ = sess.Close()
		delete(s.sessions, targetID)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Per-cycle operations
// ─────────────────────────────────────────────────────────────────────────────

func (s *Strategy) collectSystem(sess Session) (models.SystemInfo, error) {
	oids := []string{
		oidSysDescr, oidSysObjectID, oidSysUpTime,
		oidSysContact, oidSysName, oidSysLocation,
	}
	pkt, err := sess.Get(oids)
	if err != nil {
		return models.SystemInfo{}, err
	}
	if pkt.Error != gosnmp.NoError {
		return models.SystemInfo{}, fmt.Errorf("pdu error %d at index %d", pkt.Error, pkt.ErrorIndex)
	}

	info := models.SystemInfo{Type: models.TypeSystem}
	for _, pdu := range pkt.Variables {
		switch strings.TrimPrefix(pdu.Name, ".") {
		case strings.TrimPrefix(oidSysDescr, "."):
			info.SysDescr = pduString(pdu)
		case strings.TrimPrefix(oidSysObjectID, "."):
			info.SysObjectID = pduString(pdu)
		case strings.TrimPrefix(oidSysUpTime, "."):
			info.SysUpTime = uint32(pduUint(pdu))
		case strings.TrimPrefix(oidSysContact, "."):
			info.SysContact = pduString(pdu)
		case strings.TrimPrefix(oidSysName, "."):
			info.SysName = pduString(pdu)
		case strings.TrimPrefix(oidSysLocation, "."):
			info.SysLocation = pduString(pdu)
		}
	}
	return info, nil
}

func (s *Strategy) collectInterfaces(sess Session) (models.InterfaceTable, error) {
	pdus, err := sess.BulkWalkAll(oidIfEntry)
	if err != nil {
		return models.InterfaceTable{}, err
	}

	rows := make(map[int]*models.InterfaceInfo)
	for _, pdu := range pdus {
		col, _, ok := columnAndSuffix(pdu.Name, oidIfEntry)
		if !ok {
			continue
		}
		idx, ok := lastIndex(pdu.Name)
		if !ok {
			continue
		}
		row, ok := rows[idx]
		if !ok {
			row = &models.InterfaceInfo{Index: idx}
			rows[idx] = row
		}
		switch col {
		case colIfDescr:
			row.Descr = pduString(pdu)
		case colIfType:
			row.IfType = int(pduInt(pdu))
		case colIfSpeed:
			row.Speed = pduUint(pdu)
		case colIfPhysAddress:
			row.PhysAddress = pduMAC(pdu)
		case colIfAdminStatus:
			row.AdminStatus = int(pduInt(pdu))
		case colIfOperStatus:
			row.OperStatus = int(pduInt(pdu))
		case colIfInOctets:
			row.InOctets = pduUint(pdu)
		case colIfOutOctets:
			row.OutOctets = pduUint(pdu)
		}
	}

	table := models.InterfaceTable{Type: models.TypeInterfaces}
	indexes := make([]int, 0, len(rows))
	for idx := range rows {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		table.Interfaces = append(table.Interfaces, *rows[idx])
	}
	return table, nil
}

func (s *Strategy) collectNeighbors(sess Session) (models.NeighborTable, error) {
	pdus, err := sess.BulkWalkAll(oidLLDPRemEntry)
	if err != nil {
		return models.NeighborTable{}, err
	}

	// Rows are indexed by timeMark.localPortNum.remIndex.
	rows := make(map[string]*models.LLDPNeighbor)
	order := make([]string, 0)
	for _, pdu := range pdus {
		col, suffix, ok := columnAndSuffix(pdu.Name, oidLLDPRemEntry)
		if !ok {
			continue
		}
		row, ok := rows[suffix]
		if !ok {
			row = &models.LLDPNeighbor{}
			if parts := strings.Split(suffix, "."); len(parts) >= 2 {
				if port, err := strconv.Atoi(parts[1]); err == nil {
					row.LocalPort = port
				}
			}
			rows[suffix] = row
			order = append(order, suffix)
		}
		switch col {
		case colLLDPChassisID:
			row.ChassisID = pduMAC(pdu)
		case colLLDPPortID:
			row.PortID = pduMAC(pdu)
		case colLLDPSysName:
			row.SysName = pduString(pdu)
		case colLLDPSysDescr:
			row.SysDescr = pduString(pdu)
		}
	}

	table := models.NeighborTable{Type: models.TypeNeighbors}
	for _, key := range order {
		table.Neighbors = append(table.Neighbors, *rows[key])
	}
	return table, nil
}

func (s *Strategy) collectARP(sess Session) (models.ARPTable, error) {
	pdus, err := sess.BulkWalkAll(oidIPNetToMediaEntry)
	if err != nil {
		return models.ARPTable{}, err
	}

	// Rows are indexed by ifIndex.ipA.ipB.ipC.ipD.
	rows := make(map[string]*models.ARPEntry)
	order := make([]string, 0)
	for _, pdu := range pdus {
		col, suffix, ok := columnAndSuffix(pdu.Name, oidIPNetToMediaEntry)
		if !ok {
			continue
		}
		row, ok := rows[suffix]
		if !ok {
			row = &models.ARPEntry{}
			if ifIdx, ip, found := strings.Cut(suffix, "."); found {
				row.Interface = ifIdx
				row.IPAddress = ip
			}
			rows[suffix] = row
			order = append(order, suffix)
		}
		switch col {
		case colArpPhysAddress:
			row.MacAddress = pduMAC(pdu)
		case colArpNetAddress:
			if ip := pduString(pdu); ip != "" {
				row.IPAddress = ip
			}
		case colArpType:
			row.Type = arpTypeString(int(pduInt(pdu)))
		}
	}

	table := models.ARPTable{Type: models.TypeARP}
	for _, key := range order {
		row := rows[key]
		if row.MacAddress == "" {
			continue
		}
		table.Entries = append(table.Entries, *row)
	}
	return table, nil
}

// arpTypeString maps ipNetToMediaType to the record vocabulary. Everything
// that is not static is reported as dynamic.
func arpTypeString(t int) string {
	if t == 4 {
		return "static"
	}
	return "dynamic"
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = noopWriter{}
