package models

// Target is one collection endpoint owned by exactly one collector.
// The id is opaque and unique within that collector.
type Target struct {
	ID      string `json:"id" yaml:"id"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port,omitempty" yaml:"port"`
	Enabled bool   `json:"enabled" yaml:"enabled"`

	// Exactly one of the following is set, matching the owning collector.
	SNMP    *SNMPTargetConfig    `json:"snmp,omitempty" yaml:"snmp,omitempty"`
	ARP     *ARPTargetConfig     `json:"arp,omitempty" yaml:"arp,omitempty"`
	Routing *RoutingTargetConfig `json:"routing,omitempty" yaml:"routing,omitempty"`
	OPCUA   *OPCUATargetConfig   `json:"opcua,omitempty" yaml:"opcua,omitempty"`
	Modbus  *ModbusTargetConfig  `json:"modbus,omitempty" yaml:"modbus,omitempty"`
}

// SNMPTargetConfig carries SNMPv3 authPriv session parameters. Passphrases
// are referenced through environment variables and never inlined or logged.
type SNMPTargetConfig struct {
	SecName           string `json:"secName" yaml:"sec_name"`
	AuthProtocol      string `json:"authProtocol" yaml:"auth_protocol"` // sha|sha256|sha512|md5
	AuthPassphraseEnv string `json:"-" yaml:"auth_passphrase_env"`
	PrivProtocol      string `json:"privProtocol" yaml:"priv_protocol"` // aes|aes256|des
	PrivPassphraseEnv string `json:"-" yaml:"priv_passphrase_env"`
}

// ARPCollectType selects which tables the ARP strategy gathers.
type ARPCollectType string

const (
	ARPCollectARP  ARPCollectType = "arp"
	ARPCollectMAC  ARPCollectType = "mac"
	ARPCollectBoth ARPCollectType = "both"
)

// ARPTargetConfig scopes neighbor-table collection to an interface.
type ARPTargetConfig struct {
	Interface   string         `json:"interface,omitempty" yaml:"interface"`
	CollectType ARPCollectType `json:"collectType" yaml:"collect_type"`
}

// RoutingTargetConfig selects routing tables and dynamic protocols.
type RoutingTargetConfig struct {
	CollectRoutes    bool     `json:"collectRoutes" yaml:"collect_routes"`
	CollectNeighbors bool     `json:"collectNeighbors" yaml:"collect_neighbors"`
	Protocols        []string `json:"protocols,omitempty" yaml:"protocols"` // subset of ospf,bgp,rip
}

// OPCUATargetConfig describes one OPC-UA server endpoint.
type OPCUATargetConfig struct {
	EndpointURL    string   `json:"endpointUrl" yaml:"endpoint_url"`
	SecurityMode   string   `json:"securityMode" yaml:"security_mode"`
	SecurityPolicy string   `json:"securityPolicy" yaml:"security_policy"`
	MonitoredNodes []string `json:"monitoredNodes,omitempty" yaml:"monitored_nodes"`
}

// ModbusRegisterSpec names one register block to read each cycle.
type ModbusRegisterSpec struct {
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"` // holding|input|coil|discrete
	Address  uint16 `json:"address" yaml:"address"`
	Quantity uint16 `json:"quantity" yaml:"quantity"`
}

// ModbusTargetConfig describes one Modbus device.
type ModbusTargetConfig struct {
	UnitID    int                  `json:"unitId" yaml:"unit_id"`
	Protocol  string               `json:"protocol" yaml:"protocol"` // tcp
	Registers []ModbusRegisterSpec `json:"registers" yaml:"registers"`
}
