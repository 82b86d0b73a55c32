// Package inventory reads and writes per-device system information over
// SNMP and summarises reachability across the device directory.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-locate/internal/cache"
	"go-locate/internal/db"
	"go-locate/internal/models"
	"go-locate/internal/oid"
	"go-locate/internal/poller"

	"github.com/gosnmp/gosnmp"
	"github.com/sourcegraph/conc/pool"
)

// ErrNoSettings is returned by UpdateSystem when nothing would be written.
var ErrNoSettings = errors.New("no settings to write")

// ticksPerDay is the number of sysUpTime hundredths of a second in a day.
const ticksPerDay = 100 * 60 * 60 * 24

type Store interface {
	GetDevice(ctx context.Context, id uint) (*models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	SaveDevice(ctx context.Context, dev *models.Device) error
}

type Service struct {
	Dialer         poller.Dialer
	Store          Store
	Prober         cache.Prober
	SessionTimeout time.Duration
	// Workers bounds concurrent liveness checks in Summary.
	Workers int
	Log     *slog.Logger
}

// SystemInfo is the system group of one device plus the warnings in its
// event log.
type SystemInfo struct {
	Device      models.Device
	Description string
	ObjectID    string
	UptimeDays  int
	Contact     string
	Name        string
	Location    string
	Services    int
	Warnings    []string
}

// Settings are the writable system scalars. Empty fields are left alone.
type Settings struct {
	Name     string
	Location string
	Contact  string
}

type Summary struct {
	Total   int
	Online  int
	Offline int
}

// Info walks the system group and the event log of device id.
func (s *Service) Info(ctx context.Context, id uint) (*SystemInfo, error) {
	dev, err := s.device(ctx, id)
	if err != nil {
		return nil, err
	}

	sess, err := s.Dialer.Open(ctx, dev.IPAddress, s.SessionTimeout)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	system, err := sess.Walk(oid.System)
	if err != nil {
		return nil, err
	}
	logRows, err := sess.Walk(oid.LogDescription)
	if err != nil {
		return nil, err
	}

	info := &SystemInfo{Device: *dev}
	for _, pdu := range system {
		rest, ok := oid.Cut(pdu.Name, oid.System)
		if !ok {
			continue
		}
		switch rest {
		case "1.0":
			info.Description = poller.ValueString(pdu)
		case "2.0":
			info.ObjectID = oid.Normalize(poller.ValueString(pdu))
		case "3.0":
			info.UptimeDays = TimeticksToDays(gosnmp.ToBigInt(pdu.Value).Uint64())
		case "4.0":
			info.Contact = poller.ValueString(pdu)
		case "5.0":
			info.Name = poller.ValueString(pdu)
		case "6.0":
			info.Location = poller.ValueString(pdu)
		case "7.0":
			info.Services = int(gosnmp.ToBigInt(pdu.Value).Int64())
		}
	}
	for _, pdu := range logRows {
		// log descriptions start with the severity letter
		if v := poller.ValueString(pdu); strings.HasPrefix(v, "W") {
			info.Warnings = append(info.Warnings, v)
		}
	}
	return info, nil
}

// UpdateSystem writes the non-empty settings to device id and, once every
// write succeeded, mirrors name and location into the directory. A failed
// write stops the remaining ones; earlier writes stay on the device.
func (s *Service) UpdateSystem(ctx context.Context, id uint, set Settings) (*models.Device, error) {
	writes := []struct{ scalar, value string }{
		{oid.SysName, strings.TrimSpace(set.Name)},
		{oid.SysLocation, strings.TrimSpace(set.Location)},
		{oid.SysContact, strings.TrimSpace(set.Contact)},
	}
	empty := true
	for _, w := range writes {
		if w.value != "" {
			empty = false
		}
	}
	if empty {
		return nil, ErrNoSettings
	}

	dev, err := s.device(ctx, id)
	if err != nil {
		return nil, err
	}

	sess, err := s.Dialer.Open(ctx, dev.IPAddress, s.SessionTimeout)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	for _, w := range writes {
		if w.value == "" {
			continue
		}
		if err := sess.Set(w.scalar, w.value); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(set.Name); v != "" {
		dev.Name = v
	}
	if v := strings.TrimSpace(set.Location); v != "" {
		dev.Location = v
	}
	if err := s.Store.SaveDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("save device %s: %w", dev.IPAddress, err)
	}
	s.logger().Info("device settings written", "device", dev.IPAddress)
	return dev, nil
}

// Summary checks every device and counts how many answer. Stored online
// flags are not touched; the cache scan owns them.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	devices, err := s.Store.ListDevices(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list devices: %w", err)
	}

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	p := pool.NewWithResults[bool]().WithMaxGoroutines(workers)
	for _, dev := range devices {
		p.Go(func() bool {
			if s.Prober == nil {
				return dev.Online
			}
			return s.Prober.Probe(ctx, dev).Online
		})
	}

	sum := Summary{Total: len(devices)}
	for _, online := range p.Wait() {
		if online {
			sum.Online++
		} else {
			sum.Offline++
		}
	}
	return sum, nil
}

// TimeticksToDays converts sysUpTime hundredths of a second to whole days.
func TimeticksToDays(ticks uint64) int {
	return int(ticks / ticksPerDay)
}

func (s *Service) device(ctx context.Context, id uint) (*models.Device, error) {
	dev, err := s.Store.GetDevice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load device %d: %w", id, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: id %d", db.ErrNotFound, id)
	}
	return dev, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
