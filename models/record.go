// Package models defines the shared data types of the OT telemetry agent:
// collection targets, per-collector configuration, telemetry records and the
// MQTT envelope. The record payload is a sum type tagged by a `type`
// discriminator so that every source serialises to the same on-wire JSON
// shape.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ─────────────────────────────────────────────────────────────────────────────
// Source
// ─────────────────────────────────────────────────────────────────────────────

// Source identifies the subsystem that produced a telemetry record.
type Source string

const (
	SourceSNMP    Source = "snmp"
	SourceARP     Source = "arp"
	SourceNetFlow Source = "netflow"
	SourceSyslog  Source = "syslog"
	SourceRouting Source = "routing"
	SourceOPCUA   Source = "opcua"
	SourceModbus  Source = "modbus"
)

// ─────────────────────────────────────────────────────────────────────────────
// TelemetryRecord
// ─────────────────────────────────────────────────────────────────────────────

// RecordType is the `type` discriminator carried inside every record payload.
type RecordType string

const (
	TypeSystem           RecordType = "system"
	TypeInterfaces       RecordType = "interfaces"
	TypeNeighbors        RecordType = "neighbors"
	TypeARP              RecordType = "arp"
	TypeMAC              RecordType = "mac"
	TypeRoutes           RecordType = "routes"
	TypeRoutingNeighbors RecordType = "routing_neighbors"
	TypeNetFlow          RecordType = "netflow"
	TypeSyslog           RecordType = "syslog"
	TypeSyslogSummary    RecordType = "syslog_summary"
	TypeServerInfo       RecordType = "server_info"
	TypeNodeValues       RecordType = "values"
	TypeDeviceInfo       RecordType = "device_info"
)

// RecordData is the payload of a TelemetryRecord. Each variant carries its
// discriminator in a `type` JSON field and reports it via RecordType.
type RecordData interface {
	RecordType() RecordType
}

// RecordMetadata carries collector-level provenance for a record.
type RecordMetadata struct {
	// Collector is the name of the collector that produced the record.
	Collector string `json:"collector"`

	// Target is the id of the target the record was collected from.
	// Empty for listener-based sources (netflow, syslog).
	Target string `json:"target,omitempty"`
}

// TelemetryRecord is the unit of telemetry handed from a SourceStrategy to
// the publish pipeline. It is owned by its collector until published.
type TelemetryRecord struct {
	ID        string         `json:"id"`
	Source    Source         `json:"source"`
	DeviceID  string         `json:"deviceId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      RecordData     `json:"data"`
	Raw       string         `json:"raw,omitempty"`
	Processed bool           `json:"processed"`
	Metadata  RecordMetadata `json:"metadata"`
}

// NewRecord builds a TelemetryRecord with a fresh UUID and the current time.
// deviceID may be empty for listener-based sources.
func NewRecord(source Source, collector, targetID, deviceID string, data RecordData) TelemetryRecord {
	return TelemetryRecord{
		ID:        uuid.NewString(),
		Source:    source,
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Processed: false,
		Metadata: RecordMetadata{
			Collector: collector,
			Target:    targetID,
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SNMP payloads
// ─────────────────────────────────────────────────────────────────────────────

// SystemInfo is the `system` record produced from the SNMP system group.
type SystemInfo struct {
	Type        RecordType `json:"type"`
	SysName     string     `json:"sysName"`
	SysDescr    string     `json:"sysDescr"`
	SysObjectID string     `json:"sysObjectId,omitempty"`
	SysUpTime   uint32     `json:"sysUpTime"`
	SysContact  string     `json:"sysContact,omitempty"`
	SysLocation string     `json:"sysLocation,omitempty"`
}

func (SystemInfo) RecordType() RecordType { return TypeSystem }

// InterfaceInfo is one row reconstructed from the ifTable walk.
type InterfaceInfo struct {
	Index       int    `json:"index"`
	Descr       string `json:"descr"`
	IfType      int    `json:"ifType"`
	Speed       uint64 `json:"speed"`
	PhysAddress string `json:"physAddress,omitempty"` // canonical lower-hex MAC
	AdminStatus int    `json:"adminStatus"`
	OperStatus  int    `json:"operStatus"`
	InOctets    uint64 `json:"inOctets"`
	OutOctets   uint64 `json:"outOctets"`
}

// InterfaceTable is the `interfaces` record.
type InterfaceTable struct {
	Type       RecordType      `json:"type"`
	Interfaces []InterfaceInfo `json:"interfaces"`
}

func (InterfaceTable) RecordType() RecordType { return TypeInterfaces }

// LLDPNeighbor is one LLDP remote-table entry.
type LLDPNeighbor struct {
	LocalPort int    `json:"localPort"`
	ChassisID string `json:"chassisId"`
	PortID    string `json:"portId"`
	SysName   string `json:"sysName,omitempty"`
	SysDescr  string `json:"sysDescr,omitempty"`
}

// NeighborTable is the `neighbors` record (LLDP remote table).
type NeighborTable struct {
	Type      RecordType     `json:"type"`
	Neighbors []LLDPNeighbor `json:"neighbors"`
}

func (NeighborTable) RecordType() RecordType { return TypeNeighbors }

// ─────────────────────────────────────────────────────────────────────────────
// ARP / MAC payloads
// ─────────────────────────────────────────────────────────────────────────────

// ARPEntry is one neighbor-table row. MacAddress is always canonical
// lower-hex colon-separated form.
type ARPEntry struct {
	IPAddress  string `json:"ipAddress"`
	MacAddress string `json:"macAddress"`
	Interface  string `json:"interface"`
	Type       string `json:"type"` // "static" or "dynamic"
}

// ARPTable is the `arp` record.
type ARPTable struct {
	Type    RecordType `json:"type"`
	Entries []ARPEntry `json:"entries"`
}

func (ARPTable) RecordType() RecordType { return TypeARP }

// MACTableEntry is one switch MAC-table row (extension point).
type MACTableEntry struct {
	MacAddress string `json:"macAddress"`
	Port       string `json:"port"`
	VLAN       int    `json:"vlan,omitempty"`
}

// MACTable is the `mac` record.
type MACTable struct {
	Type    RecordType      `json:"type"`
	Entries []MACTableEntry `json:"entries"`
}

func (MACTable) RecordType() RecordType { return TypeMAC }

// ─────────────────────────────────────────────────────────────────────────────
// Routing payloads
// ─────────────────────────────────────────────────────────────────────────────

// RouteEntry is one routing-table row.
type RouteEntry struct {
	Destination string `json:"destination"`
	Netmask     string `json:"netmask"`
	Gateway     string `json:"gateway"`
	Interface   string `json:"interface"`
	Metric      int    `json:"metric"`
	Protocol    string `json:"protocol"` // connected|static|ospf|bgp|rip|other
	Flags       string `json:"flags,omitempty"`
}

// RouteTable is the `routes` record.
type RouteTable struct {
	Type   RecordType   `json:"type"`
	Routes []RouteEntry `json:"routes"`
}

func (RouteTable) RecordType() RecordType { return TypeRoutes }

// RoutingNeighbor is one dynamic-routing adjacency (OSPF neighbor, BGP peer).
type RoutingNeighbor struct {
	Address  string `json:"address"`
	RouterID string `json:"routerId,omitempty"`
	State    string `json:"state"`
	Detail   string `json:"detail,omitempty"`
}

// RoutingNeighbors is the `routing_neighbors` record for one protocol.
type RoutingNeighbors struct {
	Type      RecordType        `json:"type"`
	Protocol  string            `json:"protocol"` // ospf|bgp
	Neighbors []RoutingNeighbor `json:"neighbors"`
}

func (RoutingNeighbors) RecordType() RecordType { return TypeRoutingNeighbors }

// ─────────────────────────────────────────────────────────────────────────────
// NetFlow payloads
// ─────────────────────────────────────────────────────────────────────────────

// NetFlowRecord is one normalized (and possibly aggregated) flow.
// Timestamps are Unix epoch milliseconds.
type NetFlowRecord struct {
	SrcAddress string `json:"srcAddress"`
	DstAddress string `json:"dstAddress"`
	SrcPort    uint16 `json:"srcPort"`
	DstPort    uint16 `json:"dstPort"`
	Protocol   uint8  `json:"protocol"`
	Bytes      uint64 `json:"bytes"`
	Packets    uint64 `json:"packets"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	TCPFlags   uint8  `json:"tcpFlags,omitempty"`
	TOS        uint8  `json:"tos,omitempty"`
}

// FlowData is the `netflow` record emitted on each drain.
type FlowData struct {
	Type  RecordType      `json:"type"`
	Flows []NetFlowRecord `json:"flows"`
}

func (FlowData) RecordType() RecordType { return TypeNetFlow }

// ─────────────────────────────────────────────────────────────────────────────
// Syslog payloads
// ─────────────────────────────────────────────────────────────────────────────

// SyslogMessage is one parsed syslog message (RFC 5424, RFC 3164 or the
// minimal <PRI> fallback).
type SyslogMessage struct {
	Facility       int                          `json:"facility"` // 0–23
	Severity       int                          `json:"severity"` // 0–7
	Timestamp      time.Time                    `json:"timestamp"`
	Hostname       string                       `json:"hostname"`
	AppName        string                       `json:"appName,omitempty"`
	ProcID         string                       `json:"procId,omitempty"`
	MsgID          string                       `json:"msgId,omitempty"`
	StructuredData map[string]map[string]string `json:"structuredData,omitempty"`
	Message        string                       `json:"message"`
	SourceIP       string                       `json:"sourceIp"`
}

// SyslogData is the `syslog` record: security-relevant messages only.
type SyslogData struct {
	Type                 RecordType      `json:"type"`
	SecurityEventCount   int             `json:"securityEventCount"`
	SeverityDistribution map[int]int     `json:"severityDistribution"`
	Messages             []SyslogMessage `json:"messages"`
}

func (SyslogData) RecordType() RecordType { return TypeSyslog }

// HostCount is one entry of the per-drain top-hosts list.
type HostCount struct {
	Host  string `json:"host"`
	Count int    `json:"count"`
}

// TimeRange is the [first,last] message timestamp window of a drain.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SyslogSummary is the `syslog_summary` record emitted on each drain.
type SyslogSummary struct {
	Type                 RecordType  `json:"type"`
	TotalCount           int         `json:"totalCount"`
	TimeRange            TimeRange   `json:"timeRange"`
	SeverityDistribution map[int]int `json:"severityDistribution"`
	TopHosts             []HostCount `json:"topHosts"`
}

func (SyslogSummary) RecordType() RecordType { return TypeSyslogSummary }

// ─────────────────────────────────────────────────────────────────────────────
// OPC-UA / Modbus payloads
// ─────────────────────────────────────────────────────────────────────────────

// ServerInfo is the per-cycle `server_info` record of the OPC-UA strategy.
type ServerInfo struct {
	Type           RecordType `json:"type"`
	EndpointURL    string     `json:"endpointUrl"`
	SecurityMode   string     `json:"securityMode"`
	SecurityPolicy string     `json:"securityPolicy"`
	Connected      bool       `json:"connected"`
	LastContact    time.Time  `json:"lastContact"`
	ProductName    string     `json:"productName,omitempty"`
	Mock           bool       `json:"mock,omitempty"`
}

func (ServerInfo) RecordType() RecordType { return TypeServerInfo }

// NodeValue is one monitored-node read.
type NodeValue struct {
	NodeID     string    `json:"nodeId"`
	Value      any       `json:"value"`
	Status     string    `json:"status"`
	SourceTime time.Time `json:"sourceTime"`
}

// NodeValues is the OPC-UA `values` record.
type NodeValues struct {
	Type   RecordType  `json:"type"`
	Values []NodeValue `json:"values"`
}

func (NodeValues) RecordType() RecordType { return TypeNodeValues }

// DeviceInfo is the per-cycle `device_info` record of the Modbus strategy.
type DeviceInfo struct {
	Type        RecordType `json:"type"`
	UnitID      int        `json:"unitId"`
	Protocol    string     `json:"protocol"`
	Connected   bool       `json:"connected"`
	LastContact time.Time  `json:"lastContact"`
	Mock        bool       `json:"mock,omitempty"`
}

func (DeviceInfo) RecordType() RecordType { return TypeDeviceInfo }

// RegisterValue is one Modbus register-block read.
type RegisterValue struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"` // holding|input|coil|discrete
	Address  uint16   `json:"address"`
	Quantity uint16   `json:"quantity"`
	Values   []uint16 `json:"values"`
}

// RegisterValues is the Modbus `values` record.
type RegisterValues struct {
	Type      RecordType      `json:"type"`
	Registers []RegisterValue `json:"registers"`
}

func (RegisterValues) RecordType() RecordType { return TypeNodeValues }

// ─────────────────────────────────────────────────────────────────────────────
// Envelope
// ─────────────────────────────────────────────────────────────────────────────

// Envelope is the on-wire batch published to MQTT (and written to the local
// spool when the broker is unreachable).
type Envelope struct {
	Collector string            `json:"collector"`
	Source    Source            `json:"source"`
	Timestamp string            `json:"timestamp"` // ISO-8601 UTC
	Count     int               `json:"count"`
	Data      []TelemetryRecord `json:"data"`
}

// NewEnvelope stamps a batch with the current UTC time.
func NewEnvelope(collector string, source Source, data []TelemetryRecord) Envelope {
	return Envelope{
		Collector: collector,
		Source:    source,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Count:     len(data),
		Data:      data,
	}
}
