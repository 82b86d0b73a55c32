// Package topology derives per-switch tables from SNMP walks: the ports
// that face other managed switches, and the MAC-to-port forwarding entries
// seen on the remaining access ports.
package topology

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"go-locate/internal/macaddr"
	"go-locate/internal/models"
	"go-locate/internal/oid"
	"go-locate/internal/poller"

	"github.com/gosnmp/gosnmp"
)

// Store is the subset of the persistence layer the builders write to.
type Store interface {
	IgnoredPorts(ctx context.Context, deviceID uint) ([]int, error)
	AddIgnoredPort(ctx context.Context, p *models.IgnoredPort) error
	AddForwardingEntry(ctx context.Context, e *models.ForwardingEntry) error
}

// Tables names the walked table roots.
type Tables struct {
	// Forwarding is the port-forwarding column, indexed by MAC octets.
	Forwarding string
	// Neighbor is a neighbor-discovery column indexed by local port
	// followed by NeighborIndexWidth per-neighbor segments.
	Neighbor           string
	NeighborIndexWidth int
	// NeighborIfIndex marks neighbor tables keyed by ifIndex (CDP). Their
	// ports are translated to bridge ports through dot1dBasePortIfIndex so
	// they match forwarding-table ports.
	NeighborIfIndex bool
}

// DefaultTables walks BRIDGE-MIB and LLDP-MIB.
func DefaultTables() Tables {
	return Tables{
		Forwarding:         oid.Dot1dTpFdbPort,
		Neighbor:           oid.LldpRemChassisID,
		NeighborIndexWidth: 1,
	}
}

type Builder struct {
	Dialer         poller.Dialer
	Store          Store
	Tables         Tables
	SessionTimeout time.Duration
	Log            *slog.Logger
}

// BuildIgnoredPorts walks the neighbor table of dev and records every local
// port with a managed neighbor. Ports already recorded are not inserted
// again and nothing is removed. It returns the full ignore set of dev.
func (b *Builder) BuildIgnoredPorts(ctx context.Context, dev models.Device) ([]int, error) {
	roots := []string{b.Tables.Neighbor}
	if b.Tables.NeighborIfIndex {
		roots = append(roots, oid.Dot1dBasePortIfIndex)
	}
	tables, err := b.walk(ctx, dev, roots...)
	if err != nil {
		return nil, err
	}
	pdus := tables[0]

	var bridgePorts map[int]int
	if b.Tables.NeighborIfIndex {
		bridgePorts = BridgePorts(tables[1])
	}

	existing, err := b.Store.IgnoredPorts(ctx, dev.ID)
	if err != nil {
		return nil, fmt.Errorf("load ignored ports of %s: %w", dev.IPAddress, err)
	}
	known := make(map[int]struct{}, len(existing))
	for _, p := range existing {
		known[p] = struct{}{}
	}

	added := 0
	for _, pdu := range pdus {
		port, ok := NeighborPort(pdu.Name, b.Tables.Neighbor, b.Tables.NeighborIndexWidth)
		if !ok {
			continue
		}
		if bridgePorts != nil {
			// neighbors on interfaces outside the bridge never show up in
			// the forwarding table
			if port, ok = bridgePorts[port]; !ok {
				continue
			}
		}
		if _, dup := known[port]; dup {
			continue
		}
		if err := b.Store.AddIgnoredPort(ctx, &models.IgnoredPort{DeviceID: dev.ID, Port: port}); err != nil {
			return nil, fmt.Errorf("save ignored port %d of %s: %w", port, dev.IPAddress, err)
		}
		known[port] = struct{}{}
		added++
	}

	ports := make([]int, 0, len(known))
	for p := range known {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	b.logger().Debug("ignore list built", "device", dev.IPAddress, "neighbors", len(pdus), "added", added, "ports", ports)
	return ports, nil
}

// BuildForwardingTable walks the forwarding table of dev and stores an
// entry for every MAC seen on a port that is not in ignored.
func (b *Builder) BuildForwardingTable(ctx context.Context, dev models.Device, ignored map[int]struct{}) ([]models.ForwardingEntry, error) {
	tables, err := b.walk(ctx, dev, b.Tables.Forwarding)
	if err != nil {
		return nil, err
	}
	pdus := tables[0]

	var entries []models.ForwardingEntry
	skipped := 0
	for _, pdu := range pdus {
		mac, err := macaddr.DecodeForwardingIdentifier(pdu.Name, b.Tables.Forwarding)
		if err != nil {
			b.logger().Warn("skipping forwarding row", "device", dev.IPAddress, "oid", pdu.Name, "error", err)
			continue
		}
		port, ok := portValue(pdu)
		if !ok {
			b.logger().Warn("skipping forwarding row", "device", dev.IPAddress, "oid", pdu.Name, "value", pdu.Value)
			continue
		}
		if _, ign := ignored[port]; ign {
			skipped++
			continue
		}

		entry := models.ForwardingEntry{DeviceID: dev.ID, MAC: mac, Port: port}
		if err := b.Store.AddForwardingEntry(ctx, &entry); err != nil {
			return entries, fmt.Errorf("save forwarding entry %s of %s: %w", mac, dev.IPAddress, err)
		}
		entries = append(entries, entry)
	}

	b.logger().Debug("forwarding table built", "device", dev.IPAddress, "rows", len(pdus), "stored", len(entries), "on_ignored_ports", skipped)
	return entries, nil
}

// walk reads every root in one session, in order.
func (b *Builder) walk(ctx context.Context, dev models.Device, roots ...string) ([][]gosnmp.SnmpPDU, error) {
	sess, err := b.Dialer.Open(ctx, dev.IPAddress, b.SessionTimeout)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	tables := make([][]gosnmp.SnmpPDU, 0, len(roots))
	for _, root := range roots {
		pdus, err := sess.Walk(root)
		if err != nil {
			return nil, err
		}
		tables = append(tables, pdus)
	}
	return tables, nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Log == nil {
		return slog.Default()
	}
	return b.Log
}

// NeighborPort recovers the local port number from a neighbor-table
// identifier: the root is stripped, the trailing indexWidth segments are
// dropped and the last remaining segment is the port. Leading segments,
// such as the LLDP time filter, are discarded.
//
//	NeighborPort("1.0.8802.1.1.2.1.4.1.1.5.0.24.3", oid.LldpRemChassisID, 1) == (24, true)
func NeighborPort(identifier, root string, indexWidth int) (int, bool) {
	rest, ok := oid.Cut(identifier, root)
	if !ok || rest == "" {
		return 0, false
	}

	parts := strings.Split(rest, ".")
	if indexWidth < 0 || len(parts) <= indexWidth {
		return 0, false
	}
	parts = parts[:len(parts)-indexWidth]

	candidate := parts[len(parts)-1]
	if candidate == "" {
		return 0, false
	}
	port, err := strconv.Atoi(candidate)
	if err != nil || port < 0 {
		return 0, false
	}
	return port, true
}

// BridgePorts inverts dot1dBasePortIfIndex rows into an ifIndex to bridge
// port map.
func BridgePorts(pdus []gosnmp.SnmpPDU) map[int]int {
	ports := make(map[int]int, len(pdus))
	for _, pdu := range pdus {
		rest, ok := oid.Cut(pdu.Name, oid.Dot1dBasePortIfIndex)
		if !ok {
			continue
		}
		bridgePort, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		ifIndex, ok := portValue(pdu)
		if !ok {
			continue
		}
		ports[ifIndex] = bridgePort
	}
	return ports
}

// Eligible reports whether dev takes part in table builds. Offline devices
// and the core switch, which sees every host, are left out.
func Eligible(dev models.Device, coreAddress string) bool {
	if !dev.Online {
		return false
	}
	return coreAddress == "" || dev.IPAddress != coreAddress
}

func portValue(pdu gosnmp.SnmpPDU) (int, bool) {
	switch pdu.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.Uinteger32, gosnmp.Counter64:
	default:
		if _, ok := pdu.Value.(int); !ok {
			return 0, false
		}
	}
	return int(gosnmp.ToBigInt(pdu.Value).Int64()), true
}
