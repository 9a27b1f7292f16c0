package snmp

import (
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/otsense/otcollector/pkg/otcollector/netutil"
)

// ─────────────────────────────────────────────────────────────────────────────
// Varbind value conversion
// ─────────────────────────────────────────────────────────────────────────────

// pduString renders a varbind value as a display string. OctetString values
// are decoded as UTF-8 with trailing NULs stripped; agents pad fixed-size
// fields with NUL bytes.
func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return strings.TrimRight(string(v), "\x00")
	case string:
		return strings.TrimRight(v, "\x00")
	case nil:
		return ""
	default:
		return ""
	}
}

// pduInt converts integer-like varbind values to int64.
func pduInt(pdu gosnmp.SnmpPDU) int64 {
	switch v := pdu.Value.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	default:
		return 0
	}
}

// pduUint converts counter/gauge varbind values to uint64.
func pduUint(pdu gosnmp.SnmpPDU) uint64 {
	switch v := pdu.Value.(type) {
	case uint:
		return uint64(v)
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case int:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case int64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	default:
		return 0
	}
}

// pduMAC renders a 6-byte OctetString as a canonical lower-hex MAC. Anything
// else falls back to the display string.
func pduMAC(pdu gosnmp.SnmpPDU) string {
	if b, ok := pdu.Value.([]byte); ok {
		if len(b) == 0 {
			return ""
		}
		if mac, err := netutil.FormatMACBytes(b); err == nil {
			return mac
		}
	}
	return pduString(pdu)
}

// ─────────────────────────────────────────────────────────────────────────────
// OID index extraction
// ─────────────────────────────────────────────────────────────────────────────

// lastIndex returns the final OID component, the row index of single-indexed
// tables such as ifTable.
func lastIndex(oid string) (int, bool) {
	i := strings.LastIndexByte(oid, '.')
	if i < 0 || i == len(oid)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(oid[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// columnAndSuffix splits a walked OID into the column number directly under
// the table entry root and the remaining index suffix. Used for multi-indexed
// tables (LLDP remote table, ipNetToMedia).
func columnAndSuffix(oid, entryRoot string) (col int, suffix string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimPrefix(oid, "."), strings.TrimPrefix(entryRoot, ".")+".")
	if !found {
		return 0, "", false
	}
	colStr, suffix, found := strings.Cut(rest, ".")
	if !found {
		return 0, "", false
	}
	col, err := strconv.Atoi(colStr)
	if err != nil {
		return 0, "", false
	}
	return col, suffix, true
}
