// Package resolver answers "which switch port is this host plugged into".
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"go-locate/internal/cache"
	"go-locate/internal/macaddr"
	"go-locate/internal/models"
)

var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrProbeFailed         = errors.New("probe failed")
	ErrResolutionAbsent    = errors.New("no hardware address for host")
	ErrTopologyUnavailable = errors.New("topology unavailable")
)

// Stage names the step of a lookup that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageProbe    Stage = "probe"
	StageResolve  Stage = "resolve"
	StageTopology Stage = "topology"
	StageSearch   Stage = "search"
)

// StageError carries enough context for a specific user-facing message.
type StageError struct {
	Stage   Stage
	Address string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Address, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Message is a short explanation safe to show to users.
func (e *StageError) Message() string {
	switch {
	case errors.Is(e.Err, ErrInvalidAddress):
		return fmt.Sprintf("%q is not a valid IP address.", e.Address)
	case errors.Is(e.Err, ErrProbeFailed):
		return fmt.Sprintf("Could not probe %s.", e.Address)
	case errors.Is(e.Err, ErrResolutionAbsent):
		return fmt.Sprintf("%s did not answer address resolution; it may be offline or on another network.", e.Address)
	case errors.Is(e.Err, macaddr.ErrMalformedAddress):
		return fmt.Sprintf("The neighbor table entry for %s is not a valid hardware address.", e.Address)
	case errors.Is(e.Err, ErrTopologyUnavailable):
		var re *cache.RebuildError
		if errors.As(e.Err, &re) && re.Device != "" {
			return fmt.Sprintf("Switch %s did not respond while refreshing the %s; try again later.", re.Device, re.Axis)
		}
		return "The switch topology could not be refreshed; try again later."
	default:
		return "The lookup failed."
	}
}

// Result is the answer to a lookup. Found is false when no switch has seen
// the host's hardware address.
type Result struct {
	Address string
	MAC     string
	Found   bool
	Device  models.Device
	Port    int
}

type Prober interface {
	Probe(ctx context.Context, addr netip.Addr) error
}

type NeighborTable interface {
	Lookup(ctx context.Context, addr netip.Addr) (string, error)
}

type Cache interface {
	Ensure(ctx context.Context) (cache.Refresh, error)
}

type Finder interface {
	FindForwardingEntry(ctx context.Context, mac string) (*models.ForwardingEntry, error)
}

type Resolver struct {
	Prober    Prober
	Neighbors NeighborTable
	Cache     Cache
	Finder    Finder
	// Timeout bounds a whole lookup, including any rebuild it triggers.
	Timeout time.Duration
	Log     *slog.Logger
}

// Resolve locates the switch port behind address.
func (r *Resolver) Resolve(ctx context.Context, address string) (Result, error) {
	address = strings.TrimSpace(address)
	res := Result{Address: address}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		return res, r.fail(StageValidate, address, fmt.Errorf("%w: %v", ErrInvalidAddress, err))
	}
	addr = addr.Unmap()
	res.Address = addr.String()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	mac, err := r.hardwareAddr(ctx, addr)
	if err != nil {
		return res, err
	}
	res.MAC = mac

	refresh, err := r.Cache.Ensure(ctx)
	if err != nil {
		return res, r.fail(StageTopology, res.Address, fmt.Errorf("%w: %w", ErrTopologyUnavailable, err))
	}
	if refresh.IgnoreList || refresh.ForwardingTable {
		r.logger().Debug("topology refreshed for lookup", "address", res.Address, "ignore_list", refresh.IgnoreList, "forwarding_table", refresh.ForwardingTable)
	}

	entry, err := r.Finder.FindForwardingEntry(ctx, mac)
	if err != nil {
		return res, r.fail(StageSearch, res.Address, err)
	}
	if entry == nil {
		r.logger().Info("host not found", "address", res.Address, "mac", mac)
		return res, nil
	}

	res.Found = true
	res.Device = entry.Device
	res.Port = entry.Port
	r.logger().Info("host located", "address", res.Address, "mac", mac, "device", entry.Device.IPAddress, "port", entry.Port)
	return res, nil
}

func (r *Resolver) hardwareAddr(ctx context.Context, addr netip.Addr) (string, error) {
	if r.Prober != nil {
		if err := r.Prober.Probe(ctx, addr); err != nil {
			return "", r.fail(StageProbe, addr.String(), fmt.Errorf("%w: %w", ErrProbeFailed, err))
		}
	}

	// An unreadable table is reported like a missing entry; the wrapped
	// cause keeps them apart in the logs.
	raw, err := r.Neighbors.Lookup(ctx, addr)
	if err != nil {
		return "", r.fail(StageResolve, addr.String(), fmt.Errorf("%w: %w", ErrResolutionAbsent, err))
	}

	mac, err := macaddr.Normalize(raw)
	if err != nil {
		return "", r.fail(StageResolve, addr.String(), err)
	}
	return mac, nil
}

func (r *Resolver) fail(stage Stage, address string, err error) error {
	r.logger().Warn("lookup failed", "stage", stage, "address", address, "error", err)
	return &StageError{Stage: stage, Address: address, Err: err}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}
