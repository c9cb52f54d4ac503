package device

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local development.
type InMemoryRepository struct {
	mu          sync.RWMutex
	devices     map[string]*Device // keyed by device ID
	serials     map[string]string  // serial -> device ID
	externalIDs map[int64]string   // equipment id -> device ID
}

// NewInMemoryRepository creates a new in-memory device repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		devices:     make(map[string]*Device),
		serials:     make(map[string]string),
		externalIDs: make(map[int64]string),
	}
}

// Get retrieves a device by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return copyDevice(device), nil
}

// GetBySerial retrieves a device by serial.
func (r *InMemoryRepository) GetBySerial(_ context.Context, serial string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.serials[serial]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return copyDevice(r.devices[id]), nil
}

// GetByExternalID retrieves the device linked to a provider equipment id.
func (r *InMemoryRepository) GetByExternalID(_ context.Context, equipmentID int64) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.externalIDs[equipmentID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return copyDevice(r.devices[id]), nil
}

// List retrieves devices ordered by serial.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) ([]*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*Device, 0, len(r.devices))
	for _, device := range r.devices {
		if opts.LinkedOnly && device.ExternalEquipmentID == nil {
			continue
		}
		items = append(items, copyDevice(device))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Serial < items[j].Serial
	})
	return items, nil
}

// Create inserts a device.
func (r *InMemoryRepository) Create(_ context.Context, device *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.serials[device.Serial]; ok {
		return ErrSerialTaken
	}
	if device.ExternalEquipmentID != nil {
		if _, ok := r.externalIDs[*device.ExternalEquipmentID]; ok {
			return ErrExternalIDTaken
		}
	}

	if device.ID == "" {
		device.ID = NewID()
	}

	r.devices[device.ID] = copyDevice(device)
	r.serials[device.Serial] = device.ID
	if device.ExternalEquipmentID != nil {
		r.externalIDs[*device.ExternalEquipmentID] = device.ID
	}
	return nil
}

// Update replaces the mutable fields of an existing device.
func (r *InMemoryRepository) Update(_ context.Context, device *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[device.ID]
	if !ok {
		return ErrDeviceNotFound
	}

	if existing.Serial != device.Serial {
		if _, taken := r.serials[device.Serial]; taken {
			return ErrSerialTaken
		}
	}
	if device.ExternalEquipmentID != nil {
		if owner, taken := r.externalIDs[*device.ExternalEquipmentID]; taken && owner != device.ID {
			return ErrExternalIDTaken
		}
	}

	// Remove old index entries if keys changed
	if existing.Serial != device.Serial {
		delete(r.serials, existing.Serial)
	}
	if existing.ExternalEquipmentID != nil {
		delete(r.externalIDs, *existing.ExternalEquipmentID)
	}

	updated := copyDevice(device)
	updated.CreatedAt = existing.CreatedAt
	if existing.LastSeenAt != nil {
		at := Later(updated.LastSeenAt, *existing.LastSeenAt)
		updated.LastSeenAt = &at
	}

	r.devices[device.ID] = updated
	r.serials[device.Serial] = device.ID
	if device.ExternalEquipmentID != nil {
		r.externalIDs[*device.ExternalEquipmentID] = device.ID
	}
	return nil
}

// SaveLastSeen applies a batch of last-seen advances under a single lock.
func (r *InMemoryRepository) SaveLastSeen(_ context.Context, updates []LastSeenUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range updates {
		if _, ok := r.devices[u.DeviceID]; !ok {
			return ErrDeviceNotFound
		}
	}

	for _, u := range updates {
		device := r.devices[u.DeviceID]
		at := Later(device.LastSeenAt, u.At)
		device.LastSeenAt = &at
	}
	return nil
}

// Ping always succeeds.
func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
