// Package snmp implements the SNMPv3 source strategy. Each target keeps one
// long-lived authPriv session that is reused across poll cycles; every cycle
// performs four operations — system group GET, ifTable walk, LLDP remote
// table walk and ipNetToMedia walk — each producing its own typed record.
package snmp

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/otsense/otcollector/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Session — narrow gosnmp seam
// ─────────────────────────────────────────────────────────────────────────────

// Session is the subset of gosnmp consumed by the strategy. Tests inject a
// mock via Config.Dial.
type Session interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	Close() error
}

// DialFunc creates a connected Session for a target.
type DialFunc func(target models.Target, timeout time.Duration, retries int) (Session, error)

// gosnmpSession adapts *gosnmp.GoSNMP to the Session interface.
type gosnmpSession struct {
	g *gosnmp.GoSNMP
}

func (s *gosnmpSession) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	return s.g.Get(oids)
}

func (s *gosnmpSession) BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error) {
	return s.g.BulkWalkAll(rootOid)
}

func (s *gosnmpSession) Close() error {
	if s.g.Conn != nil {
		return s.g.Conn.Close()
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Session factory — Target → authPriv session
// ─────────────────────────────────────────────────────────────────────────────

// NewSession creates and connects an SNMPv3 authPriv session for the target.
// Only authPriv is supported: both an authentication and a privacy protocol
// must be configured. Passphrases are resolved from the environment variables
// named in the target config and are never logged.
func NewSession(target models.Target, timeout time.Duration, retries int) (Session, error) {
	sc := target.SNMP
	if sc == nil {
		return nil, fmt.Errorf("snmp: target %s has no SNMP config", target.ID)
	}

	authProto := mapAuthProto(sc.AuthProtocol)
	privProto := mapPrivProto(sc.PrivProtocol)
	if authProto == gosnmp.NoAuth || privProto == gosnmp.NoPriv {
		return nil, fmt.Errorf("snmp: target %s: authPriv requires auth and priv protocols", target.ID)
	}

	authPass := os.Getenv(sc.AuthPassphraseEnv)
	privPass := os.Getenv(sc.PrivPassphraseEnv)
	if authPass == "" || privPass == "" {
		return nil, fmt.Errorf("snmp: target %s: missing passphrase environment variables", target.ID)
	}

	port := target.Port
	if port <= 0 {
		port = 161
	}

	g := &gosnmp.GoSNMP{
		Target:        target.Host,
		Port:          uint16(port),
		Timeout:       timeout,
		Retries:       retries,
		MaxOids:       60,
		Version:       gosnmp.Version3,
		SecurityModel: gosnmp.UserSecurityModel,
		MsgFlags:      gosnmp.AuthPriv,
		SecurityParameters: &gosnmp.UsmSecurityParameters{
			UserName:                 sc.SecName,
			AuthenticationProtocol:   authProto,
			AuthenticationPassphrase: authPass,
			PrivacyProtocol:          privProto,
			PrivacyPassphrase:        privPass,
		},
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("snmp: connect %s:%d: %w", target.Host, port, err)
	}
	return &gosnmpSession{g: g}, nil
}

func mapAuthProto(s string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToLower(s) {
	case "md5":
		return gosnmp.MD5
	case "sha":
		return gosnmp.SHA
	case "sha224":
		return gosnmp.SHA224
	case "sha256":
		return gosnmp.SHA256
	case "sha384":
		return gosnmp.SHA384
	case "sha512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func mapPrivProto(s string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToLower(s) {
	case "des":
		return gosnmp.DES
	case "aes":
		return gosnmp.AES
	case "aes192":
		return gosnmp.AES192
	case "aes256":
		return gosnmp.AES256
	case "aes192c":
		return gosnmp.AES192C
	case "aes256c":
		return gosnmp.AES256C
	default:
		return gosnmp.NoPriv
	}
}
