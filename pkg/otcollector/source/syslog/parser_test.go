package syslog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parseNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func TestParseRFC5424(t *testing.T) {
	raw := `<34>1 2024-01-01T00:00:00Z host sshd 123 - - Failed password for root`
	msg, err := Parse(raw, "192.168.1.50", parseNow)
	require.NoError(t, err)

	assert.Equal(t, 4, msg.Facility)
	assert.Equal(t, 2, msg.Severity)
	assert.Equal(t, "host", msg.Hostname)
	assert.Equal(t, "sshd", msg.AppName)
	assert.Equal(t, "123", msg.ProcID)
	assert.Empty(t, msg.MsgID)
	assert.Equal(t, "Failed password for root", msg.Message)
	assert.Equal(t, "192.168.1.50", msg.SourceIP)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), msg.Timestamp)
}

func TestParseRFC5424StructuredData(t *testing.T) {
	raw := `<165>1 2024-01-01T10:00:00Z plc01 scada 99 ID47 [origin ip="10.0.0.1" sw="fw"] cycle complete`
	msg, err := Parse(raw, "10.0.0.1", parseNow)
	require.NoError(t, err)

	assert.Equal(t, 20, msg.Facility)
	assert.Equal(t, 5, msg.Severity)
	assert.Equal(t, "ID47", msg.MsgID)
	require.Contains(t, msg.StructuredData, "origin")
	assert.Equal(t, "10.0.0.1", msg.StructuredData["origin"]["ip"])
	assert.Equal(t, "fw", msg.StructuredData["origin"]["sw"])
	assert.Equal(t, "cycle complete", msg.Message)
}

func TestParseRFC3164(t *testing.T) {
	raw := `<13>Feb  5 17:32:18 gateway sshd[4721]: Accepted publickey for admin`
	msg, err := Parse(raw, "172.16.0.1", parseNow)
	require.NoError(t, err)

	assert.Equal(t, 1, msg.Facility)
	assert.Equal(t, 5, msg.Severity)
	assert.Equal(t, "gateway", msg.Hostname)
	assert.Equal(t, "sshd", msg.AppName)
	assert.Equal(t, "4721", msg.ProcID)
	assert.Equal(t, "Accepted publickey for admin", msg.Message)
	// Year comes from the current clock.
	assert.Equal(t, time.Date(2024, 2, 5, 17, 32, 18, 0, time.UTC), msg.Timestamp)
}

func TestParseFallback(t *testing.T) {
	msg, err := Parse("<191>something entirely freeform", "10.1.1.1", parseNow)
	require.NoError(t, err)

	assert.Equal(t, 23, msg.Facility)
	assert.Equal(t, 7, msg.Severity)
	assert.Equal(t, "unknown", msg.Hostname)
	assert.Equal(t, "something entirely freeform", msg.Message)
	assert.Equal(t, parseNow, msg.Timestamp)
}

func TestParseRejectsMissingPRI(t *testing.T) {
	_, err := Parse("no pri header here", "10.1.1.1", parseNow)
	assert.Error(t, err)

	_, err = Parse("<999>out of range", "10.1.1.1", parseNow)
	assert.Error(t, err)
}

func TestSecurityClassification(t *testing.T) {
	tests := []struct {
		name     string
		facility int
		severity int
		message  string
		want     bool
	}{
		{"high severity", 16, 2, "disk failure", true},
		{"auth facility", 4, 6, "session opened", true},
		{"authpriv facility", 10, 6, "session opened", true},
		{"audit facility", 13, 6, "audit trail", true},
		{"keyword failed", 16, 6, "Failed password for root", true},
		{"keyword firewall", 16, 6, "FIREWALL drop from 1.2.3.4", true},
		{"benign", 16, 6, "interface up", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(buildLine(tt.facility, tt.severity, tt.message), "10.0.0.1", parseNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, isSecurityRelevant(msg))
		})
	}
}

func buildLine(facility, severity int, message string) string {
	return fmt.Sprintf("<%d>1 - host app - - - %s", facility*8+severity, message)
}
