// Package config provides YAML configuration loading for the OT collector
// agent.
//
// A single file (default /etc/otcollector/otcollector.yaml, overridable by
// flag or OTCOLLECTOR_CONFIG) declares the MQTT egress, the local spool, the
// optional metrics endpoint and one section per source collector. Validation
// errors are accumulated and returned together so that operators see all
// problems at once. Secrets are env-var references, never inlined values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otsense/otcollector/models"
)

// DefaultPath is the config file location when neither the flag nor
// OTCOLLECTOR_CONFIG is set.
const DefaultPath = "/etc/otcollector/otcollector.yaml"

// ResolvePath picks the config file path: explicit flag value, then the
// OTCOLLECTOR_CONFIG environment variable, then the default.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("OTCOLLECTOR_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// ─────────────────────────────────────────────────────────────────────────────
// Schema
// ─────────────────────────────────────────────────────────────────────────────

// Config is the full agent configuration.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Spool      SpoolConfig      `yaml:"spool"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Collectors CollectorsConfig `yaml:"collectors"`
}

// AgentConfig identifies this agent instance.
type AgentConfig struct {
	ID string `yaml:"id"`
}

// MQTTConfig describes the telemetry egress. An empty Broker disables MQTT
// and routes every envelope to the local spool.
type MQTTConfig struct {
	Broker           string `yaml:"broker"`
	Topic            string `yaml:"topic"`
	ClientID         string `yaml:"client_id"`
	Username         string `yaml:"username"`
	PasswordEnv      string `yaml:"password_env"`
	CAFile           string `yaml:"ca_file"`
	CertFile         string `yaml:"cert_file"`
	KeyFile          string `yaml:"key_file"`
	QoS              int    `yaml:"qos"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
	PublishTimeoutMS int    `yaml:"publish_timeout_ms"`
}

// SpoolConfig controls the local fallback spool.
type SpoolConfig struct {
	Dir        string `yaml:"dir"`
	MaxBytes   int64  `yaml:"max_bytes"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig controls the optional Prometheus endpoint. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// CollectorsConfig holds one section per source.
type CollectorsConfig struct {
	SNMP    SNMPSection    `yaml:"snmp"`
	ARP     ARPSection     `yaml:"arp"`
	Routing RoutingSection `yaml:"routing"`
	NetFlow NetFlowSection `yaml:"netflow"`
	Syslog  SyslogSection  `yaml:"syslog"`
	OPCUA   OPCUASection   `yaml:"opcua"`
	Modbus  ModbusSection  `yaml:"modbus"`
}

// Common carries the per-collector runtime knobs shared by every section.
// A nil Enabled means enabled; only an explicit `enabled: false` disables a
// collector.
type Common struct {
	Enabled        *bool `yaml:"enabled"`
	PollIntervalMS int   `yaml:"poll_interval_ms"`
	TimeoutMS      int   `yaml:"timeout_ms"`
	Retries        *int  `yaml:"retries"`
	BatchSize      int   `yaml:"batch_size"`
	MaxConcurrent  int   `yaml:"max_concurrent"`
}

// IsEnabled reports whether the section is active.
func (c Common) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// CollectorConfig resolves the section into a runtime config. defaultPoll
// supplies the per-source poll default (generic 10 s, OPC-UA 60 s, Modbus
// 30 s); the remaining zero fields take the generic defaults.
func (c Common) CollectorConfig(defaultPoll time.Duration) models.CollectorConfig {
	cfg := models.CollectorConfig{
		Enabled:       c.IsEnabled(),
		PollInterval:  time.Duration(c.PollIntervalMS) * time.Millisecond,
		Timeout:       time.Duration(c.TimeoutMS) * time.Millisecond,
		BatchSize:     c.BatchSize,
		MaxConcurrent: c.MaxConcurrent,
	}
	if c.Retries != nil {
		cfg.Retries = *c.Retries
	} else {
		cfg.Retries = models.DefaultRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPoll
	}
	return cfg.WithDefaults()
}

// Patch resolves the section into a partial config for runtime reload.
func (c Common) Patch() models.CollectorConfigPatch {
	var p models.CollectorConfigPatch
	if c.PollIntervalMS > 0 {
		d := time.Duration(c.PollIntervalMS) * time.Millisecond
		p.PollInterval = &d
	}
	if c.TimeoutMS > 0 {
		d := time.Duration(c.TimeoutMS) * time.Millisecond
		p.Timeout = &d
	}
	p.Retries = c.Retries
	if c.BatchSize > 0 {
		p.BatchSize = &c.BatchSize
	}
	if c.MaxConcurrent > 0 {
		p.MaxConcurrent = &c.MaxConcurrent
	}
	return p
}

// ─────────────────────────────────────────────────────────────────────────────
// Sections
// ─────────────────────────────────────────────────────────────────────────────

// SNMPSection configures the SNMPv3 collector.
type SNMPSection struct {
	Common  `yaml:",inline"`
	Targets []SNMPTarget `yaml:"targets"`
}

// SNMPTarget is the flat YAML form of one SNMPv3 target.
type SNMPTarget struct {
	ID                string `yaml:"id"`
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Enabled           *bool  `yaml:"enabled"`
	SecName           string `yaml:"sec_name"`
	AuthProtocol      string `yaml:"auth_protocol"`
	AuthPassphraseEnv string `yaml:"auth_passphrase_env"`
	PrivProtocol      string `yaml:"priv_protocol"`
	PrivPassphraseEnv string `yaml:"priv_passphrase_env"`
}

// ModelTargets converts the section's targets to registry form.
func (s SNMPSection) ModelTargets() []models.Target {
	out := make([]models.Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		out = append(out, models.Target{
			ID:      t.ID,
			Host:    t.Host,
			Port:    t.Port,
			Enabled: t.Enabled == nil || *t.Enabled,
			SNMP: &models.SNMPTargetConfig{
				SecName:           t.SecName,
				AuthProtocol:      t.AuthProtocol,
				AuthPassphraseEnv: t.AuthPassphraseEnv,
				PrivProtocol:      t.PrivProtocol,
				PrivPassphraseEnv: t.PrivPassphraseEnv,
			},
		})
	}
	return out
}

// ARPSection configures the neighbor-table collector.
type ARPSection struct {
	Common  `yaml:",inline"`
	Targets []ARPTarget `yaml:"targets"`
}

// ARPTarget scopes one neighbor-table collection.
type ARPTarget struct {
	ID          string `yaml:"id"`
	Host        string `yaml:"host"`
	Enabled     *bool  `yaml:"enabled"`
	Interface   string `yaml:"interface"`
	CollectType string `yaml:"collect_type"`
}

// ModelTargets converts the section's targets to registry form. An empty
// section gets one implicit localhost target so the collector still runs.
func (s ARPSection) ModelTargets() []models.Target {
	if len(s.Targets) == 0 {
		return []models.Target{{
			ID:      "local",
			Host:    "localhost",
			Enabled: true,
			ARP:     &models.ARPTargetConfig{CollectType: models.ARPCollectBoth},
		}}
	}
	out := make([]models.Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		ct := models.ARPCollectType(t.CollectType)
		if ct == "" {
			ct = models.ARPCollectBoth
		}
		out = append(out, models.Target{
			ID:      t.ID,
			Host:    t.Host,
			Enabled: t.Enabled == nil || *t.Enabled,
			ARP:     &models.ARPTargetConfig{Interface: t.Interface, CollectType: ct},
		})
	}
	return out
}

// RoutingSection configures the routing-table collector.
type RoutingSection struct {
	Common  `yaml:",inline"`
	Targets []RoutingTarget `yaml:"targets"`
}

// RoutingTarget selects tables and protocols for one collection.
type RoutingTarget struct {
	ID               string   `yaml:"id"`
	Host             string   `yaml:"host"`
	Enabled          *bool    `yaml:"enabled"`
	CollectRoutes    *bool    `yaml:"collect_routes"`
	CollectNeighbors bool     `yaml:"collect_neighbors"`
	Protocols        []string `yaml:"protocols"`
}

// ModelTargets converts the section's targets to registry form. An empty
// section gets one implicit localhost routes-only target.
func (s RoutingSection) ModelTargets() []models.Target {
	if len(s.Targets) == 0 {
		return []models.Target{{
			ID:      "local",
			Host:    "localhost",
			Enabled: true,
			Routing: &models.RoutingTargetConfig{CollectRoutes: true},
		}}
	}
	out := make([]models.Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		out = append(out, models.Target{
			ID:      t.ID,
			Host:    t.Host,
			Enabled: t.Enabled == nil || *t.Enabled,
			Routing: &models.RoutingTargetConfig{
				CollectRoutes:    t.CollectRoutes == nil || *t.CollectRoutes,
				CollectNeighbors: t.CollectNeighbors,
				Protocols:        t.Protocols,
			},
		})
	}
	return out
}

// NetFlowSection configures the NetFlow listener.
type NetFlowSection struct {
	Common `yaml:",inline"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	// Version is informational; both 5 and 9 are always accepted.
	Version int `yaml:"version"`
}

// ListenAddr renders the bind address (default port 2055).
func (s NetFlowSection) ListenAddr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.Port
	if port <= 0 {
		port = 2055
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// SyslogSection configures the syslog listener.
type SyslogSection struct {
	Common   `yaml:",inline"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
}

// ListenAddr renders the bind address (default port 5514).
func (s SyslogSection) ListenAddr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.Port
	if port <= 0 {
		port = 5514
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// OPCUASection configures the OPC-UA collector.
type OPCUASection struct {
	Common  `yaml:",inline"`
	Targets []OPCUATarget `yaml:"targets"`
}

// OPCUATarget describes one OPC-UA endpoint.
type OPCUATarget struct {
	ID             string   `yaml:"id"`
	Host           string   `yaml:"host"`
	Enabled        *bool    `yaml:"enabled"`
	EndpointURL    string   `yaml:"endpoint_url"`
	SecurityMode   string   `yaml:"security_mode"`
	SecurityPolicy string   `yaml:"security_policy"`
	MonitoredNodes []string `yaml:"monitored_nodes"`
}

// ModelTargets converts the section's targets to registry form.
func (s OPCUASection) ModelTargets() []models.Target {
	out := make([]models.Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		out = append(out, models.Target{
			ID:      t.ID,
			Host:    t.Host,
			Enabled: t.Enabled == nil || *t.Enabled,
			OPCUA: &models.OPCUATargetConfig{
				EndpointURL:    t.EndpointURL,
				SecurityMode:   t.SecurityMode,
				SecurityPolicy: t.SecurityPolicy,
				MonitoredNodes: t.MonitoredNodes,
			},
		})
	}
	return out
}

// ModbusSection configures the Modbus collector.
type ModbusSection struct {
	Common  `yaml:",inline"`
	Mock    bool           `yaml:"mock"`
	Targets []ModbusTarget `yaml:"targets"`
}

// ModbusTarget describes one Modbus device and its register blocks.
type ModbusTarget struct {
	ID        string           `yaml:"id"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Enabled   *bool            `yaml:"enabled"`
	UnitID    int              `yaml:"unit_id"`
	Protocol  string           `yaml:"protocol"`
	Registers []ModbusRegister `yaml:"registers"`
}

// ModbusRegister names one register block.
type ModbusRegister struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Address  uint16 `yaml:"address"`
	Quantity uint16 `yaml:"quantity"`
}

// ModelTargets converts the section's targets to registry form.
func (s ModbusSection) ModelTargets() []models.Target {
	out := make([]models.Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		registers := make([]models.ModbusRegisterSpec, 0, len(t.Registers))
		for _, r := range t.Registers {
			registers = append(registers, models.ModbusRegisterSpec{
				Name:     r.Name,
				Kind:     r.Kind,
				Address:  r.Address,
				Quantity: r.Quantity,
			})
		}
		protocol := t.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		out = append(out, models.Target{
			ID:      t.ID,
			Host:    t.Host,
			Port:    t.Port,
			Enabled: t.Enabled == nil || *t.Enabled,
			Modbus: &models.ModbusTargetConfig{
				UnitID:    t.UnitID,
				Protocol:  protocol,
				Registers: registers,
			},
		})
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

// Load reads and validates the configuration file. Validation problems are
// accumulated and returned together.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(false) // be lenient — extra keys are fine
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("config: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	return &cfg, nil
}

// validate accumulates every problem instead of stopping at the first.
func (c *Config) validate() []string {
	var errs []string

	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, "mqtt: topic is required when broker is set")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Sprintf("mqtt: invalid qos %d", c.MQTT.QoS))
	}

	for i, t := range c.Collectors.SNMP.Targets {
		if t.Host == "" {
			errs = append(errs, fmt.Sprintf("collectors.snmp.targets[%d]: host is required", i))
		}
		if t.SecName == "" {
			errs = append(errs, fmt.Sprintf("collectors.snmp.targets[%d]: sec_name is required", i))
		}
		if t.AuthPassphraseEnv == "" || t.PrivPassphraseEnv == "" {
			errs = append(errs, fmt.Sprintf("collectors.snmp.targets[%d]: authPriv passphrase env references are required", i))
		}
	}

	for i, t := range c.Collectors.ARP.Targets {
		switch models.ARPCollectType(t.CollectType) {
		case "", models.ARPCollectARP, models.ARPCollectMAC, models.ARPCollectBoth:
		default:
			errs = append(errs, fmt.Sprintf("collectors.arp.targets[%d]: invalid collect_type %q", i, t.CollectType))
		}
	}

	for i, t := range c.Collectors.Routing.Targets {
		for _, p := range t.Protocols {
			switch strings.ToLower(p) {
			case "ospf", "bgp", "rip":
			default:
				errs = append(errs, fmt.Sprintf("collectors.routing.targets[%d]: unknown protocol %q", i, p))
			}
		}
	}

	if v := c.Collectors.NetFlow.Version; v != 0 && v != 5 && v != 9 {
		errs = append(errs, fmt.Sprintf("collectors.netflow: unsupported version %d", v))
	}

	switch c.Collectors.Syslog.Protocol {
	case "", "udp", "tcp":
	default:
		errs = append(errs, fmt.Sprintf("collectors.syslog: invalid protocol %q", c.Collectors.Syslog.Protocol))
	}

	for i, t := range c.Collectors.Modbus.Targets {
		if t.Host == "" && !c.Collectors.Modbus.Mock {
			errs = append(errs, fmt.Sprintf("collectors.modbus.targets[%d]: host is required", i))
		}
		for j, r := range t.Registers {
			switch r.Kind {
			case "holding", "input", "coil", "discrete":
			default:
				errs = append(errs, fmt.Sprintf("collectors.modbus.targets[%d].registers[%d]: invalid kind %q", i, j, r.Kind))
			}
			if r.Quantity == 0 {
				errs = append(errs, fmt.Sprintf("collectors.modbus.targets[%d].registers[%d]: quantity must be positive", i, j))
			}
		}
	}

	return errs
}
