//go:build linux

package neighbor

import (
	"net/netip"

	"github.com/vishvananda/netlink"
)

const (
	familyV4 = netlink.FAMILY_V4
	familyV6 = netlink.FAMILY_V6
)

func listNeighbors(family int) ([]Entry, error) {
	neighs, err := netlink.NeighList(0, family)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(neighs))
	for _, n := range neighs {
		addr, ok := netip.AddrFromSlice(n.IP)
		if !ok {
			continue
		}
		e := Entry{
			Addr:   addr.Unmap(),
			Usable: n.State&(netlink.NUD_INCOMPLETE|netlink.NUD_FAILED) == 0,
		}
		if len(n.HardwareAddr) > 0 {
			e.HardwareAddr = n.HardwareAddr.String()
		}
		entries = append(entries, e)
	}
	return entries, nil
}
