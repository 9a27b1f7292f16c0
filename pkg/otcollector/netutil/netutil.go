// Package netutil holds the small address-arithmetic helpers shared by the
// ARP, routing and SNMP strategies: IPv4 CIDR math and MAC normalization.
package netutil

import (
	"fmt"
	"strconv"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// IPv4 / CIDR arithmetic
// ─────────────────────────────────────────────────────────────────────────────

// ParseIPv4 converts a dotted-quad address into its 32-bit value.
func ParseIPv4(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("netutil: invalid IPv4 address %q", s)
	}
	var v uint32
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, fmt.Errorf("netutil: invalid IPv4 octet %q in %q", p, s)
		}
		v = v<<8 | uint32(n)
	}
	return v, nil
}

// FormatIPv4 renders a 32-bit value as a dotted quad.
func FormatIPv4(v uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// PrefixMask returns the netmask value for a /prefix, 0 ≤ prefix ≤ 32.
func PrefixMask(prefix int) (uint32, error) {
	if prefix < 0 || prefix > 32 {
		return 0, fmt.Errorf("netutil: invalid prefix length %d", prefix)
	}
	if prefix == 0 {
		return 0, nil
	}
	return ^uint32((uint64(1) << (32 - prefix)) - 1), nil
}

// MaskPrefix returns the prefix length of a contiguous netmask.
func MaskPrefix(mask uint32) int {
	n := 0
	for mask&0x8000_0000 != 0 {
		n++
		mask <<= 1
	}
	return n
}

// CIDR is a parsed IPv4 network.
type CIDR struct {
	Network uint32
	Mask    uint32
	Prefix  int
}

// ParseCIDR parses "a.b.c.d/p" and masks the address down to its network.
func ParseCIDR(s string) (CIDR, error) {
	addr, prefixStr, ok := strings.Cut(s, "/")
	if !ok {
		return CIDR{}, fmt.Errorf("netutil: missing prefix in CIDR %q", s)
	}
	ip, err := ParseIPv4(addr)
	if err != nil {
		return CIDR{}, err
	}
	prefix, err := strconv.Atoi(prefixStr)
	if err != nil {
		return CIDR{}, fmt.Errorf("netutil: invalid prefix in CIDR %q", s)
	}
	mask, err := PrefixMask(prefix)
	if err != nil {
		return CIDR{}, err
	}
	return CIDR{Network: ip & mask, Mask: mask, Prefix: prefix}, nil
}

// String renders the network in canonical "a.b.c.d/p" form.
func (c CIDR) String() string {
	return fmt.Sprintf("%s/%d", FormatIPv4(c.Network), c.Prefix)
}

// Contains reports whether the dotted-quad address lies within the network.
func (c CIDR) Contains(addr string) bool {
	ip, err := ParseIPv4(addr)
	if err != nil {
		return false
	}
	return ip&c.Mask == c.Network
}

// NetmaskString renders the netmask of a /prefix as a dotted quad,
// e.g. 24 → "255.255.255.0".
func NetmaskString(prefix int) (string, error) {
	mask, err := PrefixMask(prefix)
	if err != nil {
		return "", err
	}
	return FormatIPv4(mask), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// MAC normalization
// ─────────────────────────────────────────────────────────────────────────────

// NormalizeMAC canonicalises a MAC address to lowercase colon-separated hex
// (`aa:bb:cc:dd:ee:ff`). Accepted inputs: colon, dash or dot separated hex
// groups, or 12 bare hex digits. Normalization is idempotent. Returns an
// error for anything that is not 6 bytes of hex.
func NormalizeMAC(s string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if len(cleaned) != 12 {
		return "", fmt.Errorf("netutil: invalid MAC address %q", s)
	}
	cleaned = strings.ToLower(cleaned)
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		for _, c := range cleaned[i : i+2] {
			if !isHexDigit(byte(c)) {
				return "", fmt.Errorf("netutil: invalid MAC address %q", s)
			}
			b.WriteByte(byte(c))
		}
	}
	return b.String(), nil
}

// FormatMACBytes renders six raw bytes as a canonical MAC string.
func FormatMACBytes(b []byte) (string, error) {
	if len(b) != 6 {
		return "", fmt.Errorf("netutil: MAC must be 6 bytes, got %d", len(b))
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		b[0], b[1], b[2], b[3], b[4], b[5]), nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
