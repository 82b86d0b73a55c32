// Package cache keeps the ignore list and the forwarding table fresh. Each
// table has its own refresh timestamp and TTL; a stale table is dropped and
// rebuilt from every eligible device before a lookup reads it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-locate/internal/models"
	"go-locate/internal/poller"
	"go-locate/internal/topology"

	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultIgnoreTTL     = 7 * 24 * time.Hour
	DefaultForwardingTTL = 24 * time.Hour
)

// Axis names one of the two cached tables.
type Axis string

const (
	AxisIgnoreList      Axis = "ignore-list"
	AxisForwardingTable Axis = "forwarding-table"
)

// RebuildError reports the device that aborted a rebuild.
type RebuildError struct {
	Axis   Axis
	Device string
	Err    error
}

func (e *RebuildError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("rebuild %s: %v", e.Axis, e.Err)
	}
	return fmt.Sprintf("rebuild %s at %s: %v", e.Axis, e.Device, e.Err)
}

func (e *RebuildError) Unwrap() error { return e.Err }

// Store is the persistence the manager needs.
type Store interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	SaveDevice(ctx context.Context, dev *models.Device) error
	IgnoredPorts(ctx context.Context, deviceID uint) ([]int, error)
	DeleteIgnoredPorts(ctx context.Context) error
	DeleteForwardingEntries(ctx context.Context) error
	LoadCacheMetadata(ctx context.Context) (models.CacheMetadata, error)
	SaveCacheMetadata(ctx context.Context, meta models.CacheMetadata) error
	ClearTopology(ctx context.Context) error
}

// Builder fills the two tables for one device.
type Builder interface {
	BuildIgnoredPorts(ctx context.Context, dev models.Device) ([]int, error)
	BuildForwardingTable(ctx context.Context, dev models.Device, ignored map[int]struct{}) ([]models.ForwardingEntry, error)
}

// Prober checks whether a device answers at all.
type Prober interface {
	Probe(ctx context.Context, dev models.Device) poller.Status
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, dev models.Device) poller.Status

func (f ProberFunc) Probe(ctx context.Context, dev models.Device) poller.Status { return f(ctx, dev) }

type Options struct {
	IgnoreTTL     time.Duration
	ForwardingTTL time.Duration
	// CoreAddress is never treated as an access switch.
	CoreAddress string
	// Workers bounds concurrent device polls. Values below 2 poll devices
	// one at a time.
	Workers int
}

// Refresh tells which tables an Ensure call rebuilt.
type Refresh struct {
	IgnoreList      bool
	ForwardingTable bool
}

// Manager owns the cache metadata record. Ensure and Clear are serialized
// so two requests never rebuild the same table at once.
type Manager struct {
	mu sync.Mutex

	store   Store
	builder Builder
	prober  Prober
	opts    Options
	log     *slog.Logger

	now func() time.Time
}

func NewManager(store Store, builder Builder, prober Prober, opts Options, log *slog.Logger) *Manager {
	if opts.IgnoreTTL == 0 {
		opts.IgnoreTTL = DefaultIgnoreTTL
	}
	if opts.ForwardingTTL == 0 {
		opts.ForwardingTTL = DefaultForwardingTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:   store,
		builder: builder,
		prober:  prober,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Ensure rebuilds whichever tables have outlived their TTL. A failed
// rebuild leaves its timestamp untouched so the next call retries it; rows
// written before the failure are kept.
func (m *Manager) Ensure(ctx context.Context) (Refresh, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r Refresh

	meta, err := m.store.LoadCacheMetadata(ctx)
	if err != nil {
		return r, fmt.Errorf("load cache metadata: %w", err)
	}

	now := m.now().Unix()
	ignoreStale := stale(now, meta.IgnoreListRefreshedAt, m.opts.IgnoreTTL)
	forwardingStale := stale(now, meta.ForwardingTableRefreshedAt, m.opts.ForwardingTTL)
	if !ignoreStale && !forwardingStale {
		return r, nil
	}

	devices, err := m.scan(ctx)
	if err != nil {
		return r, err
	}

	if ignoreStale {
		start := time.Now()
		if err := m.rebuildIgnoreList(ctx, devices); err != nil {
			return r, err
		}
		meta.IgnoreListRefreshedAt = now
		if err := m.store.SaveCacheMetadata(ctx, meta); err != nil {
			return r, fmt.Errorf("save cache metadata: %w", err)
		}
		r.IgnoreList = true
		m.log.Info("ignore list rebuilt", "devices", len(devices), "took", time.Since(start))
	}

	if forwardingStale {
		start := time.Now()
		if err := m.rebuildForwardingTable(ctx, devices); err != nil {
			return r, err
		}
		meta.ForwardingTableRefreshedAt = now
		if err := m.store.SaveCacheMetadata(ctx, meta); err != nil {
			return r, fmt.Errorf("save cache metadata: %w", err)
		}
		r.ForwardingTable = true
		m.log.Info("forwarding table rebuilt", "devices", len(devices), "took", time.Since(start))
	}

	return r, nil
}

// Clear drops both tables and marks both as never refreshed. The next
// Ensure rebuilds everything.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ClearTopology(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	m.log.Info("topology cache cleared")
	return nil
}

// Run calls Ensure every interval until ctx is done, so lookups rarely pay
// for a rebuild themselves.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := m.Ensure(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("background refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// scan probes every device, persists changed reachability and returns the
// devices that take part in table builds.
func (m *Manager) scan(ctx context.Context) ([]models.Device, error) {
	devices, err := m.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var eligible []models.Device
	for i := range devices {
		dev := &devices[i]
		if m.prober != nil {
			st := m.prober.Probe(ctx, *dev)
			changed := st.Online != dev.Online || (st.Online && st.Description != "" && st.Description != dev.SystemVersion)
			if changed {
				if st.Online != dev.Online {
					m.log.Info("device reachability changed", "device", dev.IPAddress, "online", st.Online)
				}
				dev.Online = st.Online
				if st.Online && st.Description != "" {
					dev.SystemVersion = st.Description
				}
				if err := m.store.SaveDevice(ctx, dev); err != nil {
					return nil, fmt.Errorf("save device %s: %w", dev.IPAddress, err)
				}
			}
		}
		if topology.Eligible(*dev, m.opts.CoreAddress) {
			eligible = append(eligible, *dev)
		}
	}
	return eligible, nil
}

func (m *Manager) rebuildIgnoreList(ctx context.Context, devices []models.Device) error {
	if err := m.store.DeleteIgnoredPorts(ctx); err != nil {
		return &RebuildError{Axis: AxisIgnoreList, Err: err}
	}
	return m.each(ctx, devices, func(ctx context.Context, dev models.Device) error {
		if _, err := m.builder.BuildIgnoredPorts(ctx, dev); err != nil {
			return &RebuildError{Axis: AxisIgnoreList, Device: dev.IPAddress, Err: err}
		}
		return nil
	})
}

func (m *Manager) rebuildForwardingTable(ctx context.Context, devices []models.Device) error {
	if err := m.store.DeleteForwardingEntries(ctx); err != nil {
		return &RebuildError{Axis: AxisForwardingTable, Err: err}
	}
	return m.each(ctx, devices, func(ctx context.Context, dev models.Device) error {
		ports, err := m.store.IgnoredPorts(ctx, dev.ID)
		if err != nil {
			return &RebuildError{Axis: AxisForwardingTable, Device: dev.IPAddress, Err: err}
		}
		ignored := make(map[int]struct{}, len(ports))
		for _, p := range ports {
			ignored[p] = struct{}{}
		}
		if _, err := m.builder.BuildForwardingTable(ctx, dev, ignored); err != nil {
			return &RebuildError{Axis: AxisForwardingTable, Device: dev.IPAddress, Err: err}
		}
		return nil
	})
}

// each runs fn for every device and stops at the first failure. With more
// than one worker the remaining polls are cancelled once one fails.
func (m *Manager) each(ctx context.Context, devices []models.Device, fn func(context.Context, models.Device) error) error {
	if m.opts.Workers < 2 {
		for _, dev := range devices {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, dev); err != nil {
				return err
			}
		}
		return nil
	}

	p := pool.New().
		WithMaxGoroutines(m.opts.Workers).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for _, dev := range devices {
		p.Go(func(ctx context.Context) error {
			return fn(ctx, dev)
		})
	}
	return p.Wait()
}

func stale(now, refreshedAt int64, ttl time.Duration) bool {
	return now-refreshedAt >= int64(ttl/time.Second)
}
