package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otsense/otcollector/models"
)

func TestParseIPRoute(t *testing.T) {
	out := `default via 192.168.1.1 dev eth0 proto dhcp metric 100
10.0.0.0/24 dev eth1 proto kernel scope link src 10.0.0.5
172.16.0.0/16 via 10.0.0.1 dev eth1 proto static metric 50
`
	routes := parseIPRoute(out)
	require.Len(t, routes, 3)

	assert.Equal(t, models.RouteEntry{
		Destination: "0.0.0.0",
		Netmask:     "0.0.0.0",
		Gateway:     "192.168.1.1",
		Interface:   "eth0",
		Metric:      100,
		Protocol:    "other",
	}, routes[0])

	assert.Equal(t, "10.0.0.0", routes[1].Destination)
	assert.Equal(t, "255.255.255.0", routes[1].Netmask)
	assert.Equal(t, "0.0.0.0", routes[1].Gateway)
	assert.Equal(t, "connected", routes[1].Protocol)

	assert.Equal(t, "static", routes[2].Protocol)
	assert.Equal(t, 50, routes[2].Metric)
}

func TestParseNetstat(t *testing.T) {
	out := `Routing tables

Internet:
Destination        Gateway            Flags        Netif
default            192.168.1.1        UGScg        en0
10.0.0/24          link#5             UCS          en1
192.168.1.7        aa:bb:cc:dd:ee:ff  UHLWI        en0
`
	routes := parseNetstat(out)
	require.Len(t, routes, 3)

	assert.Equal(t, "0.0.0.0", routes[0].Destination)
	assert.Equal(t, "0.0.0.0", routes[0].Netmask)
	assert.Equal(t, "static", routes[0].Protocol)

	assert.Equal(t, "10.0.0.0", routes[1].Destination)
	assert.Equal(t, "255.255.255.0", routes[1].Netmask)
	assert.Equal(t, "0.0.0.0", routes[1].Gateway)
	assert.Equal(t, "en1", routes[1].Interface)

	assert.Equal(t, "255.255.255.255", routes[2].Netmask)
}

func TestParseRoutePrint(t *testing.T) {
	out := `IPv4 Route Table
===========================================================================
Active Routes:
Network Destination        Netmask          Gateway       Interface  Metric
          0.0.0.0          0.0.0.0      192.168.1.1    192.168.1.100     25
      192.168.1.0    255.255.255.0          On-link     192.168.1.100    281
`
	routes := parseRoutePrint(out)
	require.Len(t, routes, 2)

	assert.Equal(t, "0.0.0.0", routes[0].Destination)
	assert.Equal(t, "192.168.1.1", routes[0].Gateway)
	assert.Equal(t, 25, routes[0].Metric)

	assert.Equal(t, "0.0.0.0", routes[1].Gateway)
	assert.Equal(t, "connected", routes[1].Protocol)
}

func TestParseOSPFNeighbors(t *testing.T) {
	out := `
Neighbor ID     Pri State           Dead Time Address         Interface            RXmtL RqstL DBsmL
1.1.1.1           1 Full/DR           33.292s 10.0.0.2        eth0:10.0.0.1            0     0     0
`
	neighbors := parseOSPFNeighbors(out)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "1.1.1.1", neighbors[0].RouterID)
	assert.Equal(t, "Full/DR", neighbors[0].State)
	assert.Equal(t, "10.0.0.2", neighbors[0].Address)
}

func TestParseBGPSummary(t *testing.T) {
	out := `
Neighbor        V         AS MsgRcvd MsgSent   TblVer  InQ OutQ  Up/Down State/PfxRcd
10.0.0.2        4      65001     100     101        0    0    0 01:02:03            5
10.0.0.3        4      65002       0       0        0    0    0    never       Active
`
	neighbors := parseBGPSummary(out)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "Established", neighbors[0].State)
	assert.Equal(t, "AS 65001", neighbors[0].Detail)
	assert.Equal(t, "Active", neighbors[1].State)
}

func TestCollectRoutesAndNeighbors(t *testing.T) {
	s := New(Config{
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			switch name {
			case "ip":
				return []byte("default via 192.168.1.1 dev eth0 proto static\n"), nil
			case "vtysh":
				if args[1] == "show ip ospf neighbor" {
					return []byte("1.1.1.1  1 Full/DR  33s 10.0.0.2 eth0\n"), nil
				}
				return nil, errors.New("bgpd not running")
			}
			return nil, errors.New("unexpected command " + name)
		},
		GOOS: "linux",
	}, nil)

	target := models.Target{
		ID:      "local",
		Enabled: true,
		Routing: &models.RoutingTargetConfig{
			CollectRoutes:    true,
			CollectNeighbors: true,
			Protocols:        []string{"ospf", "bgp"},
		},
	}
	records, err := s.Collect(context.Background(), target)
	require.NoError(t, err)
	// Routes plus OSPF neighbors; the failing bgp query yields no record.
	require.Len(t, records, 2)

	routes, ok := records[0].Data.(models.RouteTable)
	require.True(t, ok, "data is %T", records[0].Data)
	require.Len(t, routes.Routes, 1)

	nb, ok := records[1].Data.(models.RoutingNeighbors)
	require.True(t, ok, "data is %T", records[1].Data)
	assert.Equal(t, "ospf", nb.Protocol)
	require.Len(t, nb.Neighbors, 1)
	assert.Equal(t, "1.1.1.1", nb.Neighbors[0].RouterID)
}

func TestVtyshAbsenceIsNotError(t *testing.T) {
	s := New(Config{
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name == "vtysh" {
				return nil, errors.New("executable file not found")
			}
			return []byte(""), nil
		},
		GOOS: "linux",
	}, nil)

	target := models.Target{
		ID:      "local",
		Enabled: true,
		Routing: &models.RoutingTargetConfig{CollectNeighbors: true, Protocols: []string{"ospf"}},
	}
	records, err := s.Collect(context.Background(), target)
	require.NoError(t, err)
	assert.Empty(t, records)
}
