package resolver

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"go-locate/internal/cache"
	"go-locate/internal/db"
	"go-locate/internal/macaddr"
	"go-locate/internal/models"
	"go-locate/internal/neighbor"
	"go-locate/internal/oid"
	"go-locate/internal/poller"
	"go-locate/internal/snmptest"
	"go-locate/internal/topology"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	err   error
	calls int
}

func (p *fakeProber) Probe(context.Context, netip.Addr) error {
	p.calls++
	return p.err
}

type fakeNeighbors map[string]string

func (n fakeNeighbors) Lookup(_ context.Context, addr netip.Addr) (string, error) {
	hw, ok := n[addr.String()]
	if !ok {
		return "", neighbor.ErrNotPresent
	}
	return hw, nil
}

type env struct {
	store    *db.Store
	dialer   *snmptest.Dialer
	manager  *cache.Manager
	prober   *fakeProber
	resolver *Resolver
}

func newEnv(t *testing.T, neighbors fakeNeighbors) *env {
	t.Helper()

	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := &env{store: store, dialer: snmptest.NewDialer(), prober: &fakeProber{}}
	builder := &topology.Builder{
		Dialer:         e.dialer,
		Store:          store,
		Tables:         topology.DefaultTables(),
		SessionTimeout: time.Second,
	}
	e.manager = cache.NewManager(store, builder, nil, cache.Options{CoreAddress: "10.0.0.1"}, nil)
	e.resolver = &Resolver{
		Prober:    e.prober,
		Neighbors: neighbors,
		Cache:     e.manager,
		Finder:    store,
		Timeout:   5 * time.Second,
	}
	return e
}

func (e *env) addSwitch(t *testing.T, ip string, fdb []gosnmp.SnmpPDU, lldp []gosnmp.SnmpPDU) models.Device {
	t.Helper()
	dev := models.Device{Name: "sw-" + ip, IPAddress: ip, Online: true, Location: "library"}
	require.NoError(t, e.store.CreateDevice(context.Background(), &dev))
	e.dialer.Add(ip, &snmptest.Agent{Tables: map[string][]gosnmp.SnmpPDU{
		oid.Dot1dTpFdbPort:   fdb,
		oid.LldpRemChassisID: lldp,
	}})
	return dev
}

func TestResolve_Found(t *testing.T) {
	e := newEnv(t, fakeNeighbors{
		"10.0.5.20": "aa:bb:cc:dd:ee:ff",
		"10.0.5.21": "00:11:22:33:44:55",
	})
	dev := e.addSwitch(t, "10.0.0.2", []gosnmp.SnmpPDU{snmptest.FdbRow(oid.Dot1dTpFdbPort, "aabbccddeeff", 5)}, nil)

	res, err := e.resolver.Resolve(context.Background(), "10.0.5.20")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, dev.ID, res.Device.ID)
	assert.Equal(t, "10.0.0.2", res.Device.IPAddress)
	assert.Equal(t, 5, res.Port)
	assert.Equal(t, "aabbccddeeff", res.MAC)
	assert.Equal(t, 1, e.prober.calls)

	res, err = e.resolver.Resolve(context.Background(), "10.0.5.21")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, "001122334455", res.MAC)
}

func TestResolve_IgnoredPortNeverSurfaces(t *testing.T) {
	e := newEnv(t, fakeNeighbors{"10.0.5.20": "aa:bb:cc:dd:ee:ff"})
	e.addSwitch(t, "10.0.0.2",
		[]gosnmp.SnmpPDU{snmptest.FdbRow(oid.Dot1dTpFdbPort, "aabbccddeeff", 7)},
		[]gosnmp.SnmpPDU{snmptest.NeighborRow(oid.LldpRemChassisID, 7, 1)},
	)

	res, err := e.resolver.Resolve(context.Background(), "10.0.5.20")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestResolve_PicksAccessSwitchOverUplink(t *testing.T) {
	e := newEnv(t, fakeNeighbors{"10.0.5.20": "aa:bb:cc:dd:ee:ff"})
	// sw2 sees the host through its uplink on port 24, sw3 on access port 3
	e.addSwitch(t, "10.0.0.2",
		[]gosnmp.SnmpPDU{snmptest.FdbRow(oid.Dot1dTpFdbPort, "aabbccddeeff", 24)},
		[]gosnmp.SnmpPDU{snmptest.NeighborRow(oid.LldpRemChassisID, 24, 1)},
	)
	access := e.addSwitch(t, "10.0.0.3",
		[]gosnmp.SnmpPDU{snmptest.FdbRow(oid.Dot1dTpFdbPort, "aabbccddeeff", 3)},
		[]gosnmp.SnmpPDU{snmptest.NeighborRow(oid.LldpRemChassisID, 48, 1)},
	)
	// the core switch is never polled
	e.addSwitch(t, "10.0.0.1", []gosnmp.SnmpPDU{snmptest.FdbRow(oid.Dot1dTpFdbPort, "aabbccddeeff", 1)}, nil)

	res, err := e.resolver.Resolve(context.Background(), "10.0.5.20")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, access.ID, res.Device.ID)
	assert.Equal(t, 3, res.Port)
}

func TestResolve_SecondLookupUsesCache(t *testing.T) {
	e := newEnv(t, fakeNeighbors{"10.0.5.20": "aa:bb:cc:dd:ee:ff"})
	e.addSwitch(t, "10.0.0.2", []gosnmp.SnmpPDU{snmptest.FdbRow(oid.Dot1dTpFdbPort, "aabbccddeeff", 5)}, nil)

	_, err := e.resolver.Resolve(context.Background(), "10.0.5.20")
	require.NoError(t, err)
	walks := e.dialer.TotalWalks()
	assert.Equal(t, 2, walks)

	_, err = e.resolver.Resolve(context.Background(), "10.0.5.20")
	require.NoError(t, err)
	assert.Equal(t, walks, e.dialer.TotalWalks())

	require.NoError(t, e.manager.Clear(context.Background()))
	res, err := e.resolver.Resolve(context.Background(), "10.0.5.20")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, 2*walks, e.dialer.TotalWalks())
}

func TestResolve_Errors(t *testing.T) {
	tests := map[string]struct {
		address   string
		neighbors fakeNeighbors
		probeErr  error
		stage     Stage
		want      error
	}{
		"invalid address": {
			address: "10.0.5.300",
			stage:   StageValidate,
			want:    ErrInvalidAddress,
		},
		"hostname": {
			address: "printer.local",
			stage:   StageValidate,
			want:    ErrInvalidAddress,
		},
		"probe failed": {
			address:  "10.0.5.20",
			probeErr: errors.New("socket: operation not permitted"),
			stage:    StageProbe,
			want:     ErrProbeFailed,
		},
		"no neighbor entry": {
			address:   "10.0.5.20",
			neighbors: fakeNeighbors{},
			stage:     StageResolve,
			want:      ErrResolutionAbsent,
		},
		"malformed neighbor entry": {
			address:   "10.0.5.20",
			neighbors: fakeNeighbors{"10.0.5.20": "(incomplete)"},
			stage:     StageResolve,
			want:      macaddr.ErrMalformedAddress,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, tc.neighbors)
			e.prober.err = tc.probeErr

			_, err := e.resolver.Resolve(context.Background(), tc.address)
			require.ErrorIs(t, err, tc.want)

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.stage, se.Stage)
			assert.NotEmpty(t, se.Message())
		})
	}
}

func TestResolve_TopologyUnavailable(t *testing.T) {
	e := newEnv(t, fakeNeighbors{"10.0.5.20": "aa:bb:cc:dd:ee:ff"})
	e.addSwitch(t, "10.0.0.2", nil, nil)
	e.dialer.Add("10.0.0.2", &snmptest.Agent{Silent: true})

	_, err := e.resolver.Resolve(context.Background(), "10.0.5.20")
	require.ErrorIs(t, err, ErrTopologyUnavailable)
	assert.ErrorIs(t, err, poller.ErrSessionTimeout)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageTopology, se.Stage)
	assert.Contains(t, se.Message(), "10.0.0.2")
}

func TestResolve_NormalizesMappedAddress(t *testing.T) {
	e := newEnv(t, fakeNeighbors{"10.0.5.20": "AA-BB-CC-DD-EE-FF"})
	e.addSwitch(t, "10.0.0.2", []gosnmp.SnmpPDU{snmptest.FdbRow(oid.Dot1dTpFdbPort, "aabbccddeeff", 5)}, nil)

	res, err := e.resolver.Resolve(context.Background(), " ::ffff:10.0.5.20 ")
	require.NoError(t, err)
	assert.Equal(t, "10.0.5.20", res.Address)
	assert.True(t, res.Found)
}
