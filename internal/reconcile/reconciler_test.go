package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
	"github.com/clockwatch/clockwatch/internal/reconcile"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	catalog *secullum.EquipmentCatalog
	err     error
	calls   int
}

func (f *fakeCatalog) Equipment(context.Context) (*secullum.EquipmentCatalog, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.catalog, nil
}

func (f *fakeCatalog) LatestActivity(context.Context, int64, time.Time) (time.Time, bool, error) {
	return now, true, nil
}

type fakeLedgers struct {
	selected []string
}

func (f *fakeLedgers) SelectLedger(id string) {
	f.selected = append(f.selected, id)
}

func newReconciler(catalog reconcile.Catalog, ledgers reconcile.LedgerSelector, repo device.Repository) *reconcile.Reconciler {
	return reconcile.New(reconcile.Config{
		Catalog:    catalog,
		Ledgers:    ledgers,
		Repository: repo,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return now },
	})
}

func linked(id int64) *int64 { return &id }

func TestImportUnlinked_CreatesDevices(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	ledgers := &fakeLedgers{}
	catalog := &fakeCatalog{catalog: &secullum.EquipmentCatalog{
		Items: []secullum.Equipment{
			{ID: 10, Description: "Portaria", Address: "10.1.1.10"},
			{ID: 11, Description: "", Address: ""},
		},
		Malformed: 1,
	}}

	r := newReconciler(catalog, ledgers, repo)

	result, err := r.ImportUnlinked(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, ledgers.selected)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Malformed)
	assert.Equal(t, []string{"SECULLUM-10", "SECULLUM-11"}, result.Serials)

	d, err := repo.GetBySerial(ctx, "SECULLUM-10")
	require.NoError(t, err)
	assert.Equal(t, "Portaria", d.ClientLabel)
	assert.Equal(t, "10.1.1.10", d.NetworkAddress)
	require.NotNil(t, d.ExternalEquipmentID)
	assert.Equal(t, int64(10), *d.ExternalEquipmentID)
	require.NotNil(t, d.VendorTag)
	assert.Equal(t, device.VendorSecullum, *d.VendorTag)
	assert.Nil(t, d.LastSeenAt)

	d, err = repo.GetBySerial(ctx, "SECULLUM-11")
	require.NoError(t, err)
	assert.Equal(t, reconcile.DefaultLabel, d.ClientLabel)
	assert.Equal(t, device.SentinelAddress, d.NetworkAddress)
}

func TestImportUnlinked_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	catalog := &fakeCatalog{catalog: &secullum.EquipmentCatalog{
		Items: []secullum.Equipment{{ID: 10, Description: "Portaria"}, {ID: 12, Description: "Doca"}},
	}}
	r := newReconciler(catalog, nil, repo)

	first, err := r.ImportUnlinked(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := r.ImportUnlinked(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Skipped)

	all, err := repo.List(ctx, device.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestImportUnlinked_SerialConflictIsSkipped(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	// A manual device already holds the synthesized serial
	require.NoError(t, repo.Create(ctx, &device.Device{Serial: "SECULLUM-10", NetworkAddress: "10.0.0.1"}))

	catalog := &fakeCatalog{catalog: &secullum.EquipmentCatalog{
		Items: []secullum.Equipment{{ID: 10, Description: "Portaria"}, {ID: 11, Description: "Doca"}},
	}}
	r := newReconciler(catalog, nil, repo)

	result, err := r.ImportUnlinked(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)

	manual, err := repo.GetBySerial(ctx, "SECULLUM-10")
	require.NoError(t, err)
	assert.Nil(t, manual.ExternalEquipmentID)
	assert.Equal(t, "10.0.0.1", manual.NetworkAddress)
}

func TestImportUnlinked_RequiresLedger(t *testing.T) {
	catalog := &fakeCatalog{}
	r := newReconciler(catalog, nil, device.NewInMemoryRepository())

	_, err := r.ImportUnlinked(context.Background(), "  ")
	assert.ErrorIs(t, err, reconcile.ErrLedgerRequired)
	assert.Equal(t, 0, catalog.calls)
}

func TestImportUnlinked_ProviderFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	catalog := &fakeCatalog{err: &secullum.ProviderQueryError{Endpoint: "Equipamentos", StatusCode: 500}}
	r := newReconciler(catalog, nil, repo)

	_, err := r.ImportUnlinked(ctx, "101")

	var queryErr *secullum.ProviderQueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, 500, queryErr.StatusCode)

	all, err := repo.List(ctx, device.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReconcileExisting_UpdatesLinkedDevices(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	seen := now.Add(-time.Minute)

	require.NoError(t, repo.Create(ctx, &device.Device{
		Serial: "A", ClientLabel: "old", NetworkAddress: "10.0.0.1",
		ExternalEquipmentID: linked(1), LastSeenAt: &seen,
	}))
	require.NoError(t, repo.Create(ctx, &device.Device{
		Serial: "B", ClientLabel: "keep", NetworkAddress: "10.0.0.2",
		ExternalEquipmentID: linked(2),
	}))
	require.NoError(t, repo.Create(ctx, &device.Device{
		Serial: "C", ClientLabel: "gone", ExternalEquipmentID: linked(3),
	}))
	require.NoError(t, repo.Create(ctx, &device.Device{Serial: "M", ClientLabel: "manual"}))

	catalog := &fakeCatalog{catalog: &secullum.EquipmentCatalog{
		Items: []secullum.Equipment{
			{ID: 1, Description: "Portaria", Address: "10.9.9.1"},
			{ID: 2, Description: "keep", Address: ""},
			{ID: 99, Description: "Nova"},
		},
	}}
	r := newReconciler(catalog, nil, repo)

	result, err := r.ReconcileExisting(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Unmatched)

	a, err := repo.GetBySerial(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "Portaria", a.ClientLabel)
	assert.Equal(t, "10.9.9.1", a.NetworkAddress)
	require.NotNil(t, a.LastSeenAt)
	assert.True(t, a.LastSeenAt.Equal(seen))

	b, err := repo.GetBySerial(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", b.NetworkAddress, "empty provider address keeps the local one")

	c, err := repo.GetBySerial(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, "gone", c.ClientLabel)

	_, err = repo.GetByExternalID(ctx, 99)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound, "reconcile never imports")
}

func TestReconcileExisting_ProviderFailure(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	require.NoError(t, repo.Create(ctx, &device.Device{Serial: "A", ClientLabel: "old", ExternalEquipmentID: linked(1)}))

	catalog := &fakeCatalog{err: errors.New("dial tcp: connection refused")}
	r := newReconciler(catalog, nil, repo)

	_, err := r.ReconcileExisting(ctx)
	require.Error(t, err)

	a, err := repo.GetBySerial(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "old", a.ClientLabel)
}

func TestSerialFor(t *testing.T) {
	assert.Equal(t, "SECULLUM-42", reconcile.SerialFor(42))
}
