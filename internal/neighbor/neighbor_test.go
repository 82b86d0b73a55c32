package neighbor

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeTable(entries []Entry, err error) *Table {
	return &Table{list: func(int) ([]Entry, error) { return entries, err }}
}

func TestTable_Lookup(t *testing.T) {
	table := fakeTable([]Entry{
		{Addr: netip.MustParseAddr("10.0.0.5"), HardwareAddr: "aa:bb:cc:dd:ee:ff", Usable: true},
		{Addr: netip.MustParseAddr("10.0.0.6"), Usable: false},
		{Addr: netip.MustParseAddr("10.0.0.7"), HardwareAddr: "00:11:22:33:44:55", Usable: false},
	}, nil)

	hw, err := table.Lookup(context.Background(), netip.MustParseAddr("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", hw)

	hw, err = table.Lookup(context.Background(), netip.MustParseAddr("::ffff:10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", hw)

	for _, ip := range []string{"10.0.0.6", "10.0.0.7", "10.0.0.8"} {
		_, err := table.Lookup(context.Background(), netip.MustParseAddr(ip))
		assert.ErrorIs(t, err, ErrNotPresent, ip)
	}
}

func TestTable_LookupReadError(t *testing.T) {
	boom := errors.New("netlink: permission denied")
	_, err := fakeTable(nil, boom).Lookup(context.Background(), netip.MustParseAddr("10.0.0.5"))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotPresent)
}
