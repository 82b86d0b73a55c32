package poller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go-locate/internal/oid"

	"github.com/gosnmp/gosnmp"
)

var (
	ErrSessionTimeout          = errors.New("session timeout")
	ErrSessionPermissionDenied = errors.New("session permission denied")
	ErrSessionProtocolError    = errors.New("session protocol error")
)

// SessionError carries the device address and the operation that failed.
// errors.Is matches both Kind and the underlying cause.
type SessionError struct {
	Address string
	Op      string
	Kind    error
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Address, e.Op, e.Kind, e.Err)
}

func (e *SessionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Session is an open SNMP conversation with one device.
type Session interface {
	// Walk returns every variable under root. The whole table is fetched
	// before Walk returns.
	Walk(root string) ([]gosnmp.SnmpPDU, error)
	Get(scalar string) (gosnmp.SnmpPDU, error)
	Set(scalar, value string) error
	Close() error
}

// Dialer opens sessions. Implementations never retry on their own.
type Dialer interface {
	Open(ctx context.Context, address string, timeout time.Duration) (Session, error)
}

// SNMPDialer opens SNMPv2c sessions with a shared community.
type SNMPDialer struct {
	Community string
	Port      uint16
	Retries   int
	// NewHandler builds the client for each session; gosnmp.NewHandler
	// when nil.
	NewHandler func() gosnmp.Handler
}

// Open connects to address. The request timeout is cut down to whatever is
// left of the ctx deadline.
func (d SNMPDialer) Open(ctx context.Context, address string, timeout time.Duration) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(address, "connect", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	port := d.Port
	if port == 0 {
		port = 161
	}
	newHandler := d.NewHandler
	if newHandler == nil {
		newHandler = gosnmp.NewHandler
	}

	h := newHandler()
	h.SetTarget(address)
	h.SetPort(port)
	h.SetCommunity(d.Community)
	h.SetVersion(gosnmp.Version2c)
	h.SetTimeout(timeout)
	h.SetRetries(d.Retries)

	if err := h.Connect(); err != nil {
		return nil, classify(address, "connect", err)
	}
	return &snmpSession{h: h, address: address}, nil
}

type snmpSession struct {
	h       gosnmp.Handler
	address string
}

func (s *snmpSession) Walk(root string) ([]gosnmp.SnmpPDU, error) {
	root = oid.Normalize(root)
	pdus, err := s.h.BulkWalkAll(root)
	if err != nil {
		return nil, classify(s.address, "walk "+root, err)
	}
	return pdus, nil
}

func (s *snmpSession) Get(scalar string) (gosnmp.SnmpPDU, error) {
	scalar = oid.Normalize(scalar)
	op := "get " + scalar

	pkt, err := s.h.Get([]string{scalar})
	if err != nil {
		return gosnmp.SnmpPDU{}, classify(s.address, op, err)
	}
	if err := checkPacket(s.address, op, pkt); err != nil {
		return gosnmp.SnmpPDU{}, err
	}
	if len(pkt.Variables) == 0 {
		return gosnmp.SnmpPDU{}, &SessionError{Address: s.address, Op: op, Kind: ErrSessionProtocolError, Err: errors.New("empty response")}
	}

	pdu := pkt.Variables[0]
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		return gosnmp.SnmpPDU{}, &SessionError{Address: s.address, Op: op, Kind: ErrSessionProtocolError, Err: fmt.Errorf("%s", pdu.Type)}
	}
	return pdu, nil
}

func (s *snmpSession) Set(scalar, value string) error {
	scalar = oid.Normalize(scalar)
	op := "set " + scalar

	pkt, err := s.h.Set([]gosnmp.SnmpPDU{{
		Name:  scalar,
		Type:  gosnmp.OctetString,
		Value: value,
	}})
	if err != nil {
		return classify(s.address, op, err)
	}
	return checkPacket(s.address, op, pkt)
}

func (s *snmpSession) Close() error {
	return s.h.Close()
}

// checkPacket maps the error-status field of a response.
func checkPacket(address, op string, pkt *gosnmp.SnmpPacket) error {
	if pkt == nil {
		return &SessionError{Address: address, Op: op, Kind: ErrSessionProtocolError, Err: errors.New("no response packet")}
	}

	switch pkt.Error {
	case gosnmp.NoError:
		return nil
	case gosnmp.NoAccess, gosnmp.AuthorizationError, gosnmp.NotWritable, gosnmp.ReadOnly:
		return &SessionError{Address: address, Op: op, Kind: ErrSessionPermissionDenied, Err: fmt.Errorf("error status %s", pkt.Error)}
	default:
		return &SessionError{Address: address, Op: op, Kind: ErrSessionProtocolError, Err: fmt.Errorf("error status %s", pkt.Error)}
	}
}

// classify turns a transport error into a SessionError. gosnmp reports
// expired requests as plain "request timeout" errors, so the message is
// checked as well as net.Error.
func classify(address, op string, err error) error {
	kind := ErrSessionProtocolError

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = ErrSessionTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrSessionTimeout
	case strings.Contains(strings.ToLower(err.Error()), "timeout"):
		kind = ErrSessionTimeout
	case strings.Contains(strings.ToLower(err.Error()), "refused"):
		kind = ErrSessionTimeout
	}

	return &SessionError{Address: address, Op: op, Kind: kind, Err: err}
}

// ---------- LIVENESS ----------

// Status is the outcome of a liveness probe.
type Status struct {
	Online      bool
	Description string
}

// Probe checks whether a device answers SNMP at all by reading sysDescr.0
// with a short timeout. A device that does not answer is reported offline;
// that is not an error.
func Probe(ctx context.Context, d Dialer, address string, timeout time.Duration) Status {
	sess, err := d.Open(ctx, address, timeout)
	if err != nil {
		return Status{}
	}
	defer sess.Close()

	pdu, err := sess.Get(oid.SysDescr)
	if err != nil {
		return Status{}
	}
	return Status{Online: true, Description: ValueString(pdu)}
}

// ValueString renders an octet-string or numeric PDU value.
func ValueString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return strings.TrimSpace(string(v))
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return gosnmp.ToBigInt(v).String()
	}
}
