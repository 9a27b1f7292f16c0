package netutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatIPv4(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"0.0.0.0", 0},
		{"10.0.0.1", 0x0a000001},
		{"192.168.1.255", 0xc0a801ff},
		{"255.255.255.255", 0xffffffff},
	}
	for _, tc := range tests {
		got, err := ParseIPv4(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.in, FormatIPv4(got), "round trip")
	}

	for _, bad := range []string{"", "1.2.3", "1.2.3.4.5", "256.0.0.1", "a.b.c.d", "-1.0.0.0"} {
		_, err := ParseIPv4(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrefixMaskRoundTrip(t *testing.T) {
	for prefix := 0; prefix <= 32; prefix++ {
		mask, err := PrefixMask(prefix)
		require.NoError(t, err)
		assert.Equal(t, prefix, MaskPrefix(mask), fmt.Sprintf("/%d", prefix))
	}
	_, err := PrefixMask(33)
	assert.Error(t, err)
	_, err = PrefixMask(-1)
	assert.Error(t, err)
}

func TestParseCIDR(t *testing.T) {
	c, err := ParseCIDR("192.168.1.77/24")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", c.String(), "address masked down to network")
	assert.True(t, c.Contains("192.168.1.1"))
	assert.True(t, c.Contains("192.168.1.254"))
	assert.False(t, c.Contains("192.168.2.1"))
	assert.False(t, c.Contains("not-an-ip"))

	all, err := ParseCIDR("0.0.0.0/0")
	require.NoError(t, err)
	assert.True(t, all.Contains("8.8.8.8"))

	for _, bad := range []string{"192.168.1.0", "192.168.1.0/33", "192.168.1.0/x", "x/24"} {
		_, err := ParseCIDR(bad)
		assert.Error(t, err, bad)
	}
}

func TestNetmaskString(t *testing.T) {
	tests := map[int]string{
		0:  "0.0.0.0",
		8:  "255.0.0.0",
		24: "255.255.255.0",
		30: "255.255.255.252",
		32: "255.255.255.255",
	}
	for prefix, want := range tests {
		got, err := NetmaskString(prefix)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{"aa-bb-cc-dd-ee-ff", "aa:bb:cc:dd:ee:ff"},
		{"aabb.ccdd.eeff", "aa:bb:cc:dd:ee:ff"},
		{"aabbccddeeff", "aa:bb:cc:dd:ee:ff"},
		{"  00:1A:2b:3C:4d:5E ", "00:1a:2b:3c:4d:5e"},
	}
	for _, tc := range tests {
		got, err := NormalizeMAC(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)

		again, err := NormalizeMAC(got)
		require.NoError(t, err)
		assert.Equal(t, got, again, "normalization must be idempotent")
	}

	for _, bad := range []string{"", "aa:bb:cc", "zz:bb:cc:dd:ee:ff", "aabbccddeeff00"} {
		_, err := NormalizeMAC(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatMACBytes(t *testing.T) {
	got, err := FormatMACBytes([]byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e})
	require.NoError(t, err)
	assert.Equal(t, "00:1a:2b:3c:4d:5e", got)

	_, err = FormatMACBytes([]byte{0x00, 0x1a})
	assert.Error(t, err)
}
