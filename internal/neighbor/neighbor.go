// Package neighbor finds the hardware address of a host on a directly
// attached segment: it pings the host so the kernel resolves it, then reads
// the kernel neighbor (ARP/NDP) table.
package neighbor

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ErrNotPresent is returned when the neighbor table has no usable entry
// for an address.
var ErrNotPresent = errors.New("no neighbor entry")

// Pinger sends ICMP echo requests with pro-bing.
type Pinger struct {
	Timeout    time.Duration
	Privileged bool
}

// Probe sends one echo request. A host that stays silent is not an error:
// the kernel has still attempted resolution and the table decides.
func (p Pinger) Probe(ctx context.Context, addr netip.Addr) error {
	pr, err := probing.NewPinger(addr.String())
	if err != nil {
		return fmt.Errorf("pinger for %s: %w", addr, err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	pr.Count = 1
	pr.Timeout = timeout
	pr.RecordRtts = false
	pr.SetPrivileged(p.Privileged)
	pr.SetLogger(nil)

	if err := pr.RunWithContext(ctx); err != nil {
		return fmt.Errorf("pinging %s: %w", addr, err)
	}
	return nil
}

// Entry is one row of the kernel neighbor table.
type Entry struct {
	Addr         netip.Addr
	HardwareAddr string
	Usable       bool
}

// Table looks up entries in the kernel neighbor table.
type Table struct {
	// list is replaced in tests.
	list func(family int) ([]Entry, error)
}

func NewTable() *Table {
	return &Table{list: listNeighbors}
}

// Lookup returns the hardware address recorded for addr as the kernel
// formats it. Incomplete or failed entries count as absent.
func (t *Table) Lookup(_ context.Context, addr netip.Addr) (string, error) {
	family := familyV4
	if addr.Is6() && !addr.Is4In6() {
		family = familyV6
	}
	addr = addr.Unmap()

	entries, err := t.list(family)
	if err != nil {
		return "", fmt.Errorf("read neighbor table: %w", err)
	}
	for _, e := range entries {
		if e.Addr.Unmap() != addr {
			continue
		}
		if !e.Usable || e.HardwareAddr == "" {
			continue
		}
		return e.HardwareAddr, nil
	}
	return "", fmt.Errorf("%w for %s", ErrNotPresent, addr)
}
