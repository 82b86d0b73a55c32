// Package snmptest provides an in-memory SNMP agent for tests.
package snmptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-locate/internal/macaddr"
	"go-locate/internal/oid"
	"go-locate/internal/poller"

	"github.com/gosnmp/gosnmp"
)

// Agent is the state of one simulated device.
type Agent struct {
	Tables  map[string][]gosnmp.SnmpPDU
	Scalars map[string]gosnmp.SnmpPDU
	// WalkErr, when set, is returned by every Walk.
	WalkErr error
	// Silent agents time out on every request.
	Silent bool
	// Writable agents accept sets and store them in Scalars; the others
	// answer noAccess.
	Writable bool
}

// Dialer hands out sessions to the registered agents. Unknown addresses
// time out.
type Dialer struct {
	mu     sync.Mutex
	agents map[string]*Agent
	walks  map[string]int
}

func NewDialer() *Dialer {
	return &Dialer{agents: map[string]*Agent{}, walks: map[string]int{}}
}

// Add registers an agent at address and returns it for further setup.
func (d *Dialer) Add(address string, a *Agent) *Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a.Tables == nil {
		a.Tables = map[string][]gosnmp.SnmpPDU{}
	}
	if a.Scalars == nil {
		a.Scalars = map[string]gosnmp.SnmpPDU{}
	}
	d.agents[address] = a
	return a
}

// Walks returns how many table walks address has served.
func (d *Dialer) Walks(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.walks[address]
}

// TotalWalks returns the number of walks across all agents.
func (d *Dialer) TotalWalks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.walks {
		n += c
	}
	return n
}

func (d *Dialer) Open(_ context.Context, address string, _ time.Duration) (poller.Session, error) {
	d.mu.Lock()
	a, ok := d.agents[address]
	d.mu.Unlock()
	if !ok {
		return nil, timeout(address, "connect")
	}
	return &session{d: d, address: address, agent: a}, nil
}

type session struct {
	d       *Dialer
	address string
	agent   *Agent
}

func (s *session) Walk(root string) ([]gosnmp.SnmpPDU, error) {
	root = oid.Normalize(root)
	s.d.mu.Lock()
	s.d.walks[s.address]++
	s.d.mu.Unlock()

	if s.agent.Silent {
		return nil, timeout(s.address, "walk "+root)
	}
	if s.agent.WalkErr != nil {
		return nil, s.agent.WalkErr
	}
	rows := s.agent.Tables[root]
	out := make([]gosnmp.SnmpPDU, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *session) Get(scalar string) (gosnmp.SnmpPDU, error) {
	if s.agent.Silent {
		return gosnmp.SnmpPDU{}, timeout(s.address, "get "+scalar)
	}
	s.d.mu.Lock()
	pdu, ok := s.agent.Scalars[oid.Normalize(scalar)]
	s.d.mu.Unlock()
	if !ok {
		return gosnmp.SnmpPDU{}, &poller.SessionError{Address: s.address, Op: "get " + scalar, Kind: poller.ErrSessionProtocolError, Err: fmt.Errorf("noSuchObject")}
	}
	return pdu, nil
}

func (s *session) Set(scalar, value string) error {
	if s.agent.Silent {
		return timeout(s.address, "set "+scalar)
	}
	if !s.agent.Writable {
		return &poller.SessionError{Address: s.address, Op: "set " + scalar, Kind: poller.ErrSessionPermissionDenied, Err: fmt.Errorf("noAccess")}
	}
	scalar = oid.Normalize(scalar)
	s.d.mu.Lock()
	if s.agent.Scalars == nil {
		s.agent.Scalars = make(map[string]gosnmp.SnmpPDU)
	}
	s.agent.Scalars[scalar] = gosnmp.SnmpPDU{Name: "." + scalar, Type: gosnmp.OctetString, Value: []byte(value)}
	s.d.mu.Unlock()
	return nil
}

func (s *session) Close() error { return nil }

func timeout(address, op string) error {
	return &poller.SessionError{Address: address, Op: op, Kind: poller.ErrSessionTimeout, Err: fmt.Errorf("request timeout (after 0 retries)")}
}

// FdbRow builds a forwarding-table row under root for mac on port.
func FdbRow(root, mac string, port int) gosnmp.SnmpPDU {
	suffix, err := macaddr.EncodeOctets(mac)
	if err != nil {
		panic(err)
	}
	return gosnmp.SnmpPDU{
		Name:  "." + oid.Normalize(root) + "." + suffix,
		Type:  gosnmp.Integer,
		Value: port,
	}
}

// NeighborRow builds an LLDP-style neighbor row under root for the local
// port with the given remote index.
func NeighborRow(root string, port, index int) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{
		Name:  fmt.Sprintf(".%s.0.%d.%d", oid.Normalize(root), port, index),
		Type:  gosnmp.OctetString,
		Value: []byte{0x00, 0x1b, 0x96, 0x0a, 0xc8, 0x05},
	}
}

// BasePortRow builds a dot1dBasePortIfIndex row mapping a bridge port to
// its ifIndex.
func BasePortRow(bridgePort, ifIndex int) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{
		Name:  fmt.Sprintf(".%s.%d", oid.Dot1dBasePortIfIndex, bridgePort),
		Type:  gosnmp.Integer,
		Value: ifIndex,
	}
}

// Scalar builds an octet-string scalar row.
func Scalar(name, value string) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: "." + oid.Normalize(name), Type: gosnmp.OctetString, Value: []byte(value)}
}

// SysDescr builds a sysDescr.0 scalar.
func SysDescr(descr string) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: "." + oid.SysDescr, Type: gosnmp.OctetString, Value: []byte(descr)}
}
