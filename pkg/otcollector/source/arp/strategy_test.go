package arp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otsense/otcollector/models"
)

func fixedRunner(out string) CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(out), nil
	}
}

func TestParseIPNeigh(t *testing.T) {
	out := `192.168.1.1 dev eth0 lladdr AA:BB:CC:DD:EE:FF REACHABLE
192.168.1.7 dev eth0 lladdr 00:11:22:33:44:55 PERMANENT
192.168.1.9 dev eth0  FAILED
10.0.0.3 dev eth1 lladdr de:ad:be:ef:00:01 STALE
`
	entries := parseIPNeigh(out, "")
	require.Len(t, entries, 3)

	assert.Equal(t, models.ARPEntry{
		IPAddress:  "192.168.1.1",
		MacAddress: "aa:bb:cc:dd:ee:ff",
		Interface:  "eth0",
		Type:       "dynamic",
	}, entries[0])
	assert.Equal(t, "static", entries[1].Type)

	filtered := parseIPNeigh(out, "eth1")
	require.Len(t, filtered, 1)
	assert.Equal(t, "10.0.0.3", filtered[0].IPAddress)
}

func TestParseArpBSD(t *testing.T) {
	out := `? (192.168.1.5) at aa:bb:cc:dd:ee:ff [ether] on eth0
? (192.168.1.6) at (incomplete) on eth0
gateway (10.0.0.1) at 0:11:22:33:44:55 on en0 permanent [ethernet]
`
	entries := parseArpBSD(out, "")
	// The 5-group macOS form ("0:11:...") does not normalize to 12 hex
	// digits and is skipped, as is the incomplete entry.
	require.Len(t, entries, 1)
	assert.Equal(t, "192.168.1.5", entries[0].IPAddress)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", entries[0].MacAddress)
	assert.Equal(t, "eth0", entries[0].Interface)
}

func TestParseArpWindows(t *testing.T) {
	out := `
Interface: 192.168.1.100 --- 0xb
  Internet Address      Physical Address      Type
  192.168.1.1           aa-bb-cc-dd-ee-ff     dynamic
  192.168.1.255         ff-ff-ff-ff-ff-ff     static
`
	entries := parseArpWindows(out)
	require.Len(t, entries, 2)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", entries[0].MacAddress)
	assert.Equal(t, "192.168.1.100", entries[0].Interface)
	assert.Equal(t, "static", entries[1].Type)
}

func TestCollectProducesARPRecord(t *testing.T) {
	s := New(Config{
		Run:  fixedRunner("192.168.1.1 dev eth0 lladdr AA:BB:CC:DD:EE:FF REACHABLE\n"),
		GOOS: "linux",
	}, nil)

	target := models.Target{
		ID:      "local",
		Enabled: true,
		ARP:     &models.ARPTargetConfig{CollectType: models.ARPCollectBoth},
	}
	records, err := s.Collect(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, records, 1)

	table, ok := records[0].Data.(models.ARPTable)
	require.True(t, ok, "data is %T", records[0].Data)
	require.Len(t, table.Entries, 1)
	assert.Equal(t, models.ARPEntry{
		IPAddress:  "192.168.1.1",
		MacAddress: "aa:bb:cc:dd:ee:ff",
		Interface:  "eth0",
		Type:       "dynamic",
	}, table.Entries[0])
}

func TestCollectEmptyTableNoRecord(t *testing.T) {
	s := New(Config{Run: fixedRunner(""), GOOS: "linux"}, nil)
	records, err := s.Collect(context.Background(), models.Target{ID: "local", Enabled: true})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCollectInterfaceScoped(t *testing.T) {
	var gotArgs []string
	s := New(Config{
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return []byte("10.0.0.3 dev eth1 lladdr de:ad:be:ef:00:01 STALE\n"), nil
		},
		GOOS: "linux",
	}, nil)

	target := models.Target{
		ID:      "local",
		Enabled: true,
		ARP:     &models.ARPTargetConfig{Interface: "eth1", CollectType: models.ARPCollectARP},
	}
	records, err := s.Collect(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"ip", "neigh", "show", "dev", "eth1"}, gotArgs)
}

func TestDiscoverSubnet(t *testing.T) {
	out := `192.168.1.1 dev eth0 lladdr aa:bb:cc:dd:ee:01 REACHABLE
192.168.1.20 dev eth0 lladdr aa:bb:cc:dd:ee:02 STALE
10.0.0.5 dev eth1 lladdr aa:bb:cc:dd:ee:03 REACHABLE
`
	s := New(Config{Run: fixedRunner(out), GOOS: "linux"}, nil)

	entries, err := s.DiscoverSubnet(context.Background(), "192.168.1.0/24", true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "192.168.1.1", entries[0].IPAddress)
	assert.Equal(t, "192.168.1.20", entries[1].IPAddress)

	_, err = s.DiscoverSubnet(context.Background(), "192.168.1.0/24", false)
	assert.Error(t, err, "active scan must be refused")
}

func TestNeighborTableFallback(t *testing.T) {
	calls := 0
	s := New(Config{
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			calls++
			if name == "ip" {
				return nil, errors.New("not found")
			}
			return []byte("? (192.168.1.5) at aa:bb:cc:dd:ee:ff [ether] on eth0\n"), nil
		},
		GOOS: "linux",
	}, nil)

	entries, err := s.neighborTable(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, calls)
}
