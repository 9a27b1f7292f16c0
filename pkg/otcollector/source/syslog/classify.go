package syslog

import (
	"strings"

	"github.com/otsense/otcollector/models"
)

// Facilities that are security-relevant regardless of content: auth (4),
// authpriv (10) and log audit (13).
var securityFacilities = map[int]bool{4: true, 10: true, 13: true}

// Keyword set matched case-insensitively against the message body.
var securityKeywords = []string{
	"authentication", "auth", "login", "logout", "failed", "denied",
	"blocked", "attack", "intrusion", "violation", "unauthorized",
	"invalid", "malicious", "suspicious", "firewall", "iptables",
	"ssh", "sudo", "root",
}

// highSeverityMax is the worst severity that still triggers an immediate
// securityEvent (emergency through error).
const highSeverityMax = 3

// isSecurityRelevant reports whether a message should be retained in the
// per-drain `syslog` record.
func isSecurityRelevant(m models.SyslogMessage) bool {
	if m.Severity <= highSeverityMax {
		return true
	}
	if securityFacilities[m.Facility] {
		return true
	}
	lower := strings.ToLower(m.Message)
	for _, kw := range securityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// isHighSeverity reports whether a message warrants an immediate
// out-of-cycle securityEvent.
func isHighSeverity(m models.SyslogMessage) bool {
	return m.Severity <= highSeverityMax
}
