package db

import (
	"context"
	"errors"
	"fmt"

	"go-locate/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a device id does not exist.
var ErrNotFound = errors.New("device not found")

// Store is the device directory and topology cache store backed by gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// sqlite allows a single writer; concurrent device polls queue here
	// instead of failing with "database is locked".
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return New(gdb)
}

// New wraps an existing gorm connection and migrates the schema.
func New(gdb *gorm.DB) (*Store, error) {
	err := gdb.AutoMigrate(
		&models.Device{},
		&models.ForwardingEntry{},
		&models.IgnoredPort{},
		&models.CacheMetadata{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: gdb}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---------- DEVICE DIRECTORY ----------

func (s *Store) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.WithContext(ctx).Order("id asc").Find(&devices).Error
	return devices, err
}

func (s *Store) GetDevice(ctx context.Context, id uint) (*models.Device, error) {
	var dev models.Device
	err := s.db.WithContext(ctx).First(&dev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

func (s *Store) CreateDevice(ctx context.Context, dev *models.Device) error {
	return s.db.WithContext(ctx).Create(dev).Error
}

// SaveDevice persists every field of dev, including a flipped Online flag.
func (s *Store) SaveDevice(ctx context.Context, dev *models.Device) error {
	return s.db.WithContext(ctx).Save(dev).Error
}

// DeleteDevice removes a device together with its cached topology rows.
// It returns ErrNotFound, and changes nothing, when id does not exist.
func (s *Store) DeleteDevice(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", id).Delete(&models.ForwardingEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("device_id = ?", id).Delete(&models.IgnoredPort{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Device{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil
	})
}

// ---------- IGNORED PORTS ----------

// IgnoredPorts returns the ignored ports of one device in ascending order.
func (s *Store) IgnoredPorts(ctx context.Context, deviceID uint) ([]int, error) {
	var ports []int
	err := s.db.WithContext(ctx).
		Model(&models.IgnoredPort{}).
		Where("device_id = ?", deviceID).
		Order("port asc").
		Pluck("port", &ports).Error
	return ports, err
}

func (s *Store) AddIgnoredPort(ctx context.Context, p *models.IgnoredPort) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error
}

func (s *Store) DeleteIgnoredPorts(ctx context.Context) error {
	return deleteAll(s.db.WithContext(ctx), &models.IgnoredPort{})
}

// ---------- FORWARDING ENTRIES ----------

func (s *Store) AddForwardingEntry(ctx context.Context, e *models.ForwardingEntry) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(e).Error
}

// ForwardingEntries returns the entries of one device in insertion order.
func (s *Store) ForwardingEntries(ctx context.Context, deviceID uint) ([]models.ForwardingEntry, error) {
	var entries []models.ForwardingEntry
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("id asc").
		Find(&entries).Error
	return entries, err
}

// FindForwardingEntry returns the first entry, in insertion order, whose MAC
// equals mac, with its device loaded. It returns nil when nothing matches.
func (s *Store) FindForwardingEntry(ctx context.Context, mac string) (*models.ForwardingEntry, error) {
	var entries []models.ForwardingEntry
	err := s.db.WithContext(ctx).
		Preload("Device").
		Where("mac = ?", mac).
		Order("id asc").
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *Store) DeleteForwardingEntries(ctx context.Context) error {
	return deleteAll(s.db.WithContext(ctx), &models.ForwardingEntry{})
}

// ---------- CACHE METADATA ----------

// LoadCacheMetadata returns the cache record, creating it with zero
// timestamps when it does not exist yet.
func (s *Store) LoadCacheMetadata(ctx context.Context) (models.CacheMetadata, error) {
	meta := models.CacheMetadata{ID: models.CacheMetadataID}
	err := s.db.WithContext(ctx).FirstOrCreate(&meta, models.CacheMetadata{ID: models.CacheMetadataID}).Error
	return meta, err
}

func (s *Store) SaveCacheMetadata(ctx context.Context, meta models.CacheMetadata) error {
	meta.ID = models.CacheMetadataID
	return s.db.WithContext(ctx).Save(&meta).Error
}

// ClearTopology drops both cached tables and zeroes both timestamps in a
// single transaction.
func (s *Store) ClearTopology(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteAll(tx, &models.IgnoredPort{}); err != nil {
			return err
		}
		if err := deleteAll(tx, &models.ForwardingEntry{}); err != nil {
			return err
		}
		return tx.Save(&models.CacheMetadata{ID: models.CacheMetadataID}).Error
	})
}

func deleteAll(tx *gorm.DB, model interface{}) error {
	return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error
}
