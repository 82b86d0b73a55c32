package inventory

import (
	"context"
	"testing"
	"time"

	"go-locate/internal/cache"
	"go-locate/internal/db"
	"go-locate/internal/models"
	"go-locate/internal/oid"
	"go-locate/internal/poller"
	"go-locate/internal/snmptest"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *db.Store
	dialer  *snmptest.Dialer
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, dialer: snmptest.NewDialer()}
	f.service = &Service{
		Dialer: f.dialer,
		Store:  store,
		Prober: cache.ProberFunc(func(ctx context.Context, dev models.Device) poller.Status {
			return poller.Probe(ctx, f.dialer, dev.IPAddress, time.Millisecond)
		}),
		SessionTimeout: time.Second,
		Workers:        4,
	}
	return f
}

func (f *fixture) addDevice(t *testing.T, ip string, agent *snmptest.Agent) models.Device {
	t.Helper()
	dev := models.Device{Name: "sw-" + ip, IPAddress: ip, Online: true, Location: "rack 1"}
	require.NoError(t, f.store.CreateDevice(context.Background(), &dev))
	if agent != nil {
		f.dialer.Add(ip, agent)
	}
	return dev
}

func TestTimeticksToDays(t *testing.T) {
	assert.Equal(t, 0, TimeticksToDays(8639999))
	assert.Equal(t, 1, TimeticksToDays(8640000))
	assert.Equal(t, 100, TimeticksToDays(864000000))
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	dev := f.addDevice(t, "10.0.0.2", &snmptest.Agent{Tables: map[string][]gosnmp.SnmpPDU{
		oid.System: {
			snmptest.Scalar(oid.SysDescr, "ProCurve J9019B Switch 2510-24"),
			{Name: "." + oid.System + ".2.0", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.4.1.11.2.3.7.11.76"},
			{Name: "." + oid.SysUpTime, Type: gosnmp.TimeTicks, Value: uint32(864000000 + 42)},
			snmptest.Scalar(oid.SysContact, "noc@example.org"),
			snmptest.Scalar(oid.SysName, "sw-library"),
			snmptest.Scalar(oid.SysLocation, "library"),
			{Name: "." + oid.System + ".7.0", Type: gosnmp.Integer, Value: 2},
			{Name: "." + oid.System + ".9.1.2.1", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.6.3.1"},
		},
		oid.LogDescription: {
			snmptest.Scalar(oid.LogDescription+".1.1", "I port 3 is now on-line"),
			snmptest.Scalar(oid.LogDescription+".1.2", "W port 7 excessive broadcasts"),
			snmptest.Scalar(oid.LogDescription+".1.3", "W port 7 high collision rate"),
		},
	}})

	info, err := f.service.Info(context.Background(), dev.ID)
	require.NoError(t, err)

	assert.Equal(t, dev.ID, info.Device.ID)
	assert.Equal(t, "ProCurve J9019B Switch 2510-24", info.Description)
	assert.Equal(t, "1.3.6.1.4.1.11.2.3.7.11.76", info.ObjectID)
	assert.Equal(t, 100, info.UptimeDays)
	assert.Equal(t, "noc@example.org", info.Contact)
	assert.Equal(t, "sw-library", info.Name)
	assert.Equal(t, "library", info.Location)
	assert.Equal(t, 2, info.Services)
	assert.Equal(t, []string{"W port 7 excessive broadcasts", "W port 7 high collision rate"}, info.Warnings)
}

func TestInfo_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Info(context.Background(), 42)
	assert.ErrorIs(t, err, db.ErrNotFound)

	dev := f.addDevice(t, "10.0.0.3", &snmptest.Agent{Silent: true})
	_, err = f.service.Info(context.Background(), dev.ID)
	assert.ErrorIs(t, err, poller.ErrSessionTimeout)
}

func TestUpdateSystem(t *testing.T) {
	f := newFixture(t)
	agent := &snmptest.Agent{Writable: true}
	dev := f.addDevice(t, "10.0.0.2", agent)

	got, err := f.service.UpdateSystem(context.Background(), dev.ID, Settings{Location: " gym ", Contact: "noc@example.org"})
	require.NoError(t, err)
	assert.Equal(t, "gym", got.Location)
	assert.Equal(t, "sw-10.0.0.2", got.Name)

	assert.Equal(t, []byte("gym"), agent.Scalars[oid.SysLocation].Value)
	assert.Equal(t, []byte("noc@example.org"), agent.Scalars[oid.SysContact].Value)
	_, named := agent.Scalars[oid.SysName]
	assert.False(t, named, "empty settings are not written")

	stored, err := f.store.GetDevice(context.Background(), dev.ID)
	require.NoError(t, err)
	assert.Equal(t, "gym", stored.Location)
}

func TestUpdateSystem_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	dev := f.addDevice(t, "10.0.0.2", &snmptest.Agent{})

	_, err := f.service.UpdateSystem(context.Background(), dev.ID, Settings{Location: "gym"})
	require.ErrorIs(t, err, poller.ErrSessionPermissionDenied)

	stored, err := f.store.GetDevice(context.Background(), dev.ID)
	require.NoError(t, err)
	assert.Equal(t, "rack 1", stored.Location)
}

func TestUpdateSystem_NothingToWrite(t *testing.T) {
	f := newFixture(t)
	dev := f.addDevice(t, "10.0.0.2", &snmptest.Agent{Writable: true})

	_, err := f.service.UpdateSystem(context.Background(), dev.ID, Settings{Name: "  "})
	assert.ErrorIs(t, err, ErrNoSettings)

	_, err = f.service.UpdateSystem(context.Background(), 42, Settings{Name: "x"})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	up := &snmptest.Agent{Scalars: map[string]gosnmp.SnmpPDU{oid.SysDescr: snmptest.SysDescr("switch")}}
	f.addDevice(t, "10.0.0.2", up)
	f.addDevice(t, "10.0.0.3", &snmptest.Agent{Scalars: map[string]gosnmp.SnmpPDU{oid.SysDescr: snmptest.SysDescr("switch")}})
	f.addDevice(t, "10.0.0.4", &snmptest.Agent{Silent: true})
	f.addDevice(t, "10.0.0.5", nil)

	sum, err := f.service.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 4, Online: 2, Offline: 2}, sum)

	// stored flags stay as they were
	devices, err := f.store.ListDevices(context.Background())
	require.NoError(t, err)
	for _, d := range devices {
		assert.True(t, d.Online, d.IPAddress)
	}
}

func TestSummary_StoredFlagsOnly(t *testing.T) {
	f := newFixture(t)
	f.service.Prober = nil
	f.addDevice(t, "10.0.0.2", nil)
	off := f.addDevice(t, "10.0.0.3", nil)
	off.Online = false
	require.NoError(t, f.store.SaveDevice(context.Background(), &off))

	sum, err := f.service.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Online: 1, Offline: 1}, sum)
}
