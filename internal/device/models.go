// Package device provides the registry of monitored time-clock terminals.
package device

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository errors.
var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrSerialTaken     = errors.New("serial already registered")
	ErrExternalIDTaken = errors.New("external equipment id already linked")
)

// Vendor tags recorded on devices to mark their origin.
const (
	VendorManual   = "manual"
	VendorSecullum = "secullum"
)

// SentinelAddress is stored for imported devices whose provider record has no address.
const SentinelAddress = "0.0.0.0"

// Device is a monitored terminal. It holds data only; liveness is computed elsewhere.
type Device struct {
	ID                  string
	ClientLabel         string
	Serial              string
	NetworkAddress      string
	LastSeenAt          *time.Time
	ExternalEquipmentID *int64
	VendorTag           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsProviderManaged reports whether the device is linked to a provider equipment record.
func (d *Device) IsProviderManaged() bool {
	return d.ExternalEquipmentID != nil
}

// HasProbeableAddress reports whether the network address is worth probing.
func (d *Device) HasProbeableAddress() bool {
	return d.NetworkAddress != "" && d.NetworkAddress != SentinelAddress
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	return copyDevice(d)
}

// LastSeenUpdate advances a device's last-seen timestamp.
// Registries apply it only when At is more recent than the stored value.
type LastSeenUpdate struct {
	DeviceID string
	At       time.Time
}

// ListOptions contains options for listing devices.
type ListOptions struct {
	// LinkedOnly restricts the listing to provider-managed devices.
	LinkedOnly bool
}

// NewID returns a new surrogate device identifier.
func NewID() string {
	return "dev_" + uuid.New().String()[:22]
}

// Later returns the more recent of a stored timestamp and a candidate.
func Later(stored *time.Time, candidate time.Time) time.Time {
	if stored == nil || candidate.After(*stored) {
		return candidate
	}
	return *stored
}

func copyDevice(d *Device) *Device {
	if d == nil {
		return nil
	}

	deviceCopy := *d

	if d.LastSeenAt != nil {
		val := *d.LastSeenAt
		deviceCopy.LastSeenAt = &val
	}
	if d.ExternalEquipmentID != nil {
		val := *d.ExternalEquipmentID
		deviceCopy.ExternalEquipmentID = &val
	}
	if d.VendorTag != nil {
		val := *d.VendorTag
		deviceCopy.VendorTag = &val
	}

	return &deviceCopy
}
