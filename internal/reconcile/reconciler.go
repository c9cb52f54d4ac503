// Package reconcile merges the provider's equipment catalog into the device registry.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
)

// SerialPrefix prefixes serials synthesized for imported equipment.
const SerialPrefix = "SECULLUM-"

// DefaultLabel is used for imported equipment without a description.
const DefaultLabel = "Sem nome"

// ErrLedgerRequired is returned when an import is requested without a ledger.
var ErrLedgerRequired = errors.New("ledger id is required")

// Catalog supplies provider equipment and activity.
type Catalog interface {
	Equipment(ctx context.Context) (*secullum.EquipmentCatalog, error)
	LatestActivity(ctx context.Context, equipmentID int64, since time.Time) (time.Time, bool, error)
}

// LedgerSelector switches the provider tenant context.
type LedgerSelector interface {
	SelectLedger(id string)
}

// Config holds configuration for the Reconciler.
type Config struct {
	Catalog    Catalog
	Ledgers    LedgerSelector
	Repository device.Repository
	Logger     zerolog.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Reconciler merges provider equipment into the registry.
type Reconciler struct {
	catalog Catalog
	ledgers LedgerSelector
	repo    device.Repository
	log     zerolog.Logger
	now     func() time.Time
}

// ReconcileResult summarizes a ReconcileExisting run.
type ReconcileResult struct {
	Fetched   int `json:"fetched"`
	Updated   int `json:"updated"`
	Unmatched int `json:"unmatched"`
	Malformed int `json:"malformed"`
}

// ImportResult summarizes an ImportUnlinked run.
type ImportResult struct {
	LedgerID  string   `json:"ledgerId"`
	Fetched   int      `json:"fetched"`
	Created   int      `json:"created"`
	Skipped   int      `json:"skipped"`
	Malformed int      `json:"malformed"`
	Serials   []string `json:"serials,omitempty"`
}

// New creates a new Reconciler.
func New(cfg Config) *Reconciler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		catalog: cfg.Catalog,
		ledgers: cfg.Ledgers,
		repo:    cfg.Repository,
		log:     cfg.Logger.With().Str("component", "reconcile").Logger(),
		now:     cfg.Now,
	}
}

// SerialFor returns the synthesized serial for a provider equipment id.
func SerialFor(equipmentID int64) string {
	return SerialPrefix + strconv.FormatInt(equipmentID, 10)
}

// ReconcileExisting refreshes label and address of every linked device from
// the provider catalog. Devices missing from the catalog are left untouched.
// A catalog failure aborts before any write.
func (r *Reconciler) ReconcileExisting(ctx context.Context) (*ReconcileResult, error) {
	catalog, err := r.catalog.Equipment(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch equipment: %w", err)
	}

	result := &ReconcileResult{Fetched: len(catalog.Items), Malformed: catalog.Malformed}

	byID := make(map[int64]secullum.Equipment, len(catalog.Items))
	for _, eq := range catalog.Items {
		byID[eq.ID] = eq
	}

	linked, err := r.repo.List(ctx, device.ListOptions{LinkedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list linked devices: %w", err)
	}

	for _, d := range linked {
		eq, ok := byID[*d.ExternalEquipmentID]
		if !ok {
			result.Unmatched++
			continue
		}

		changed := false
		if label := strings.TrimSpace(eq.Description); label != "" && label != d.ClientLabel {
			d.ClientLabel = label
			changed = true
		}
		if addr := strings.TrimSpace(eq.Address); addr != "" && addr != d.NetworkAddress {
			d.NetworkAddress = addr
			changed = true
		}
		if !changed {
			continue
		}

		d.UpdatedAt = r.now()
		if err := r.repo.Update(ctx, d); err != nil {
			return result, fmt.Errorf("update device %s: %w", d.Serial, err)
		}
		result.Updated++
	}

	r.log.Info().
		Int("fetched", result.Fetched).
		Int("updated", result.Updated).
		Int("unmatched", result.Unmatched).
		Int("malformed", result.Malformed).
		Msg("reconciled linked devices")

	return result, nil
}

// ImportUnlinked selects ledgerID and creates a device for every catalog
// entry that is not yet linked. Running it twice against the same catalog
// creates nothing the second time.
func (r *Reconciler) ImportUnlinked(ctx context.Context, ledgerID string) (*ImportResult, error) {
	ledgerID = strings.TrimSpace(ledgerID)
	if ledgerID == "" {
		return nil, ErrLedgerRequired
	}
	if r.ledgers != nil {
		r.ledgers.SelectLedger(ledgerID)
	}

	catalog, err := r.catalog.Equipment(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch equipment: %w", err)
	}

	result := &ImportResult{LedgerID: ledgerID, Fetched: len(catalog.Items), Malformed: catalog.Malformed}

	for _, eq := range catalog.Items {
		_, err := r.repo.GetByExternalID(ctx, eq.ID)
		if err == nil {
			result.Skipped++
			continue
		}
		if !errors.Is(err, device.ErrDeviceNotFound) {
			return result, fmt.Errorf("lookup equipment %d: %w", eq.ID, err)
		}

		d := r.newDevice(eq)
		err = r.repo.Create(ctx, d)
		switch {
		case errors.Is(err, device.ErrSerialTaken), errors.Is(err, device.ErrExternalIDTaken):
			r.log.Warn().
				Err(err).
				Int64("equipment_id", eq.ID).
				Str("serial", d.Serial).
				Msg("skipping equipment that conflicts with an existing device")
			result.Skipped++
		case err != nil:
			return result, fmt.Errorf("create device for equipment %d: %w", eq.ID, err)
		default:
			result.Created++
			result.Serials = append(result.Serials, d.Serial)
		}
	}

	r.log.Info().
		Str("ledger_id", ledgerID).
		Int("fetched", result.Fetched).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("malformed", result.Malformed).
		Msg("imported provider equipment")

	return result, nil
}

// LatestActivity returns the newest provider activity for an equipment since the given instant.
func (r *Reconciler) LatestActivity(ctx context.Context, equipmentID int64, since time.Time) (time.Time, bool, error) {
	return r.catalog.LatestActivity(ctx, equipmentID, since)
}

func (r *Reconciler) newDevice(eq secullum.Equipment) *device.Device {
	label := strings.TrimSpace(eq.Description)
	if label == "" {
		label = DefaultLabel
	}
	addr := strings.TrimSpace(eq.Address)
	if addr == "" {
		addr = device.SentinelAddress
	}

	id := eq.ID
	vendor := device.VendorSecullum
	now := r.now()

	return &device.Device{
		ID:                  device.NewID(),
		ClientLabel:         label,
		Serial:              SerialFor(eq.ID),
		NetworkAddress:      addr,
		ExternalEquipmentID: &id,
		VendorTag:           &vendor,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
