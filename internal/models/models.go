package models

// Device is a managed switch tracked by the inventory.
type Device struct {
	ID            uint `gorm:"primaryKey"`
	Name          string
	IPAddress     string `gorm:"index"`
	Online        bool
	Location      string
	SystemVersion string // sysDescr.0 as last reported by the device
}

// ForwardingEntry records that MAC was last seen on Port of Device.
type ForwardingEntry struct {
	ID       uint   `gorm:"primaryKey"`
	DeviceID uint   `gorm:"index"`
	Device   Device `gorm:"constraint:OnDelete:CASCADE"`
	MAC      string `gorm:"size:12;index"`
	Port     int
}

// IgnoredPort is a port known to face another managed switch.
type IgnoredPort struct {
	ID       uint   `gorm:"primaryKey"`
	DeviceID uint   `gorm:"uniqueIndex:idx_ignored_device_port"`
	Device   Device `gorm:"constraint:OnDelete:CASCADE"`
	Port     int    `gorm:"uniqueIndex:idx_ignored_device_port"`
}

// CacheMetadataID is the primary key of the only CacheMetadata row.
const CacheMetadataID = 1

// CacheMetadata holds the refresh epochs (seconds) of both cached tables.
type CacheMetadata struct {
	ID                         uint `gorm:"primaryKey"`
	ForwardingTableRefreshedAt int64
	IgnoreListRefreshedAt      int64
}
