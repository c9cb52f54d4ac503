package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// deviceRecord is the gorm mapping of the devices table.
type deviceRecord struct {
	ID                  string     `gorm:"primaryKey;size:64"`
	ClientLabel         string     `gorm:"size:256;not null"`
	Serial              string     `gorm:"size:128;uniqueIndex;not null"`
	NetworkAddress      string     `gorm:"size:256;not null"`
	LastSeenAt          *time.Time `gorm:"index"`
	ExternalEquipmentID *int64     `gorm:"uniqueIndex"`
	VendorTag           *string    `gorm:"size:32"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (deviceRecord) TableName() string { return "devices" }

func toRecord(d *Device) *deviceRecord {
	c := copyDevice(d)
	return &deviceRecord{
		ID:                  c.ID,
		ClientLabel:         c.ClientLabel,
		Serial:              c.Serial,
		NetworkAddress:      c.NetworkAddress,
		LastSeenAt:          c.LastSeenAt,
		ExternalEquipmentID: c.ExternalEquipmentID,
		VendorTag:           c.VendorTag,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func (r *deviceRecord) toDevice() *Device {
	return &Device{
		ID:                  r.ID,
		ClientLabel:         r.ClientLabel,
		Serial:              r.Serial,
		NetworkAddress:      r.NetworkAddress,
		LastSeenAt:          r.LastSeenAt,
		ExternalEquipmentID: r.ExternalEquipmentID,
		VendorTag:           r.VendorTag,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

// GormRepository is a gorm implementation of Repository, used with the
// embedded SQLite driver for single-node deployments.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new gorm device repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// AutoMigrate creates or updates the devices table.
func (r *GormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&deviceRecord{})
}

// Get retrieves a device by ID.
func (r *GormRepository) Get(ctx context.Context, id string) (*Device, error) {
	return r.first(ctx, "id = ?", id)
}

// GetBySerial retrieves a device by serial.
func (r *GormRepository) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	return r.first(ctx, "serial = ?", serial)
}

// GetByExternalID retrieves the device linked to a provider equipment id.
func (r *GormRepository) GetByExternalID(ctx context.Context, equipmentID int64) (*Device, error) {
	return r.first(ctx, "external_equipment_id = ?", equipmentID)
}

func (r *GormRepository) first(ctx context.Context, query string, args ...interface{}) (*Device, error) {
	var rec deviceRecord
	if err := r.db.WithContext(ctx).Where(query, args...).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return rec.toDevice(), nil
}

// List retrieves devices ordered by serial.
func (r *GormRepository) List(ctx context.Context, opts ListOptions) ([]*Device, error) {
	q := r.db.WithContext(ctx).Order("serial")
	if opts.LinkedOnly {
		q = q.Where("external_equipment_id IS NOT NULL")
	}

	var recs []deviceRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	devices := make([]*Device, 0, len(recs))
	for i := range recs {
		devices = append(devices, recs[i].toDevice())
	}
	return devices, nil
}

// Create inserts a device.
func (r *GormRepository) Create(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = NewID()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, device); err != nil {
			return err
		}
		return tx.Create(toRecord(device)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.duplicateKey(ctx, device)
	}
	return err
}

// Update replaces the mutable fields of an existing device.
func (r *GormRepository) Update(ctx context.Context, device *Device) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing deviceRecord
		if err := tx.Where("id = ?", device.ID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDeviceNotFound
			}
			return err
		}

		if err := checkUnique(tx, device); err != nil {
			return err
		}

		lastSeen := device.LastSeenAt
		if existing.LastSeenAt != nil {
			at := Later(device.LastSeenAt, *existing.LastSeenAt)
			lastSeen = &at
		}

		return tx.Model(&deviceRecord{}).Where("id = ?", device.ID).Updates(map[string]interface{}{
			"client_label":          device.ClientLabel,
			"serial":                device.Serial,
			"network_address":       device.NetworkAddress,
			"last_seen_at":          lastSeen,
			"external_equipment_id": device.ExternalEquipmentID,
			"vendor_tag":            device.VendorTag,
			"updated_at":            device.UpdatedAt,
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.duplicateKey(ctx, device)
	}
	return err
}

// SaveLastSeen applies a batch of last-seen advances in one transaction.
func (r *GormRepository) SaveLastSeen(ctx context.Context, updates []LastSeenUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			var rec deviceRecord
			if err := tx.Where("id = ?", u.DeviceID).First(&rec).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrDeviceNotFound
				}
				return fmt.Errorf("load device %s: %w", u.DeviceID, err)
			}

			at := Later(rec.LastSeenAt, u.At)
			if rec.LastSeenAt != nil && at.Equal(*rec.LastSeenAt) {
				continue
			}

			err := tx.Model(&deviceRecord{}).Where("id = ?", u.DeviceID).Updates(map[string]interface{}{
				"last_seen_at": at,
				"updated_at":   now,
			}).Error
			if err != nil {
				return fmt.Errorf("update last seen: %w", err)
			}
		}
		return nil
	})
}

// Ping verifies the database connection.
func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// duplicateKey resolves a unique-index violation that slipped past the
// in-transaction check into the sentinel for the key that was taken. The
// conflicting row committed concurrently, so it is looked up outside the
// failed transaction.
func (r *GormRepository) duplicateKey(ctx context.Context, device *Device) error {
	err := checkUnique(r.db.WithContext(ctx), device)
	if errors.Is(err, ErrExternalIDTaken) {
		return ErrExternalIDTaken
	}
	return ErrSerialTaken
}

// checkUnique reports which unique key another row already holds.
func checkUnique(tx *gorm.DB, device *Device) error {
	var count int64
	if err := tx.Model(&deviceRecord{}).
		Where("serial = ? AND id <> ?", device.Serial, device.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrSerialTaken
	}

	if device.ExternalEquipmentID == nil {
		return nil
	}
	if err := tx.Model(&deviceRecord{}).
		Where("external_equipment_id = ? AND id <> ?", *device.ExternalEquipmentID, device.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrExternalIDTaken
	}
	return nil
}

// Ensure GormRepository implements Repository interface.
var _ Repository = (*GormRepository)(nil)
