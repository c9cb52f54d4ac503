package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/device"
)

func strPtr(s string) *string { return &s }

func newService(now time.Time) (*device.Service, *device.InMemoryRepository) {
	repo := device.NewInMemoryRepository()
	svc := device.NewService(device.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return now },
	})
	return svc, repo
}

func TestService_Provision(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	svc, _ := newService(now)

	d, created, err := svc.Provision(ctx, &device.ProvisionInput{
		ClientLabel:    "Loja Centro",
		Serial:         "REP-001",
		NetworkAddress: "192.168.1.20",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "REP-001", d.Serial)
	require.NotNil(t, d.VendorTag)
	assert.Equal(t, device.VendorManual, *d.VendorTag)
	assert.Nil(t, d.LastSeenAt)

	again, created, err := svc.Provision(ctx, &device.ProvisionInput{
		ClientLabel:    "Other",
		Serial:         "REP-001",
		NetworkAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, d.ID, again.ID)
	assert.Equal(t, "Loja Centro", again.ClientLabel, "existing device is returned unchanged")
}

func TestService_ProvisionValidation(t *testing.T) {
	svc, _ := newService(time.Now())

	_, _, err := svc.Provision(context.Background(), &device.ProvisionInput{Serial: "has space"})

	var verr *device.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make(map[string]bool)
	for _, fe := range verr.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["serial"])
	assert.True(t, fields["networkAddress"])
}

func TestService_Heartbeat(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	svc, repo := newService(now)

	_, _, err := svc.Provision(ctx, &device.ProvisionInput{Serial: "HB-1", NetworkAddress: "10.0.0.2"})
	require.NoError(t, err)

	d, err := svc.Heartbeat(ctx, "HB-1")
	require.NoError(t, err)
	require.NotNil(t, d.LastSeenAt)
	assert.True(t, d.LastSeenAt.Equal(now))

	stored, err := repo.GetBySerial(ctx, "HB-1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeenAt)
	assert.True(t, stored.LastSeenAt.Equal(now))

	_, err = svc.Heartbeat(ctx, "unknown")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestService_UpdateIdentity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(time.Now())

	_, _, err := svc.Provision(ctx, &device.ProvisionInput{Serial: "OLD", NetworkAddress: "10.0.0.3"})
	require.NoError(t, err)
	_, _, err = svc.Provision(ctx, &device.ProvisionInput{Serial: "TAKEN", NetworkAddress: "10.0.0.4"})
	require.NoError(t, err)

	d, err := svc.UpdateIdentity(ctx, "OLD", &device.IdentityUpdate{
		ClientLabel:    strPtr("Filial Sul"),
		NetworkAddress: strPtr("10.0.0.30"),
		Serial:         strPtr("NEW"),
	})
	require.NoError(t, err)
	assert.Equal(t, "NEW", d.Serial)
	assert.Equal(t, "Filial Sul", d.ClientLabel)
	assert.Equal(t, "10.0.0.30", d.NetworkAddress)

	_, err = svc.Get(ctx, "OLD")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	_, err = svc.UpdateIdentity(ctx, "NEW", &device.IdentityUpdate{Serial: strPtr("TAKEN")})
	assert.ErrorIs(t, err, device.ErrSerialTaken)

	_, err = svc.UpdateIdentity(ctx, "missing", &device.IdentityUpdate{ClientLabel: strPtr("x")})
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	var verr *device.ValidationError
	_, err = svc.UpdateIdentity(ctx, "NEW", &device.IdentityUpdate{})
	assert.ErrorAs(t, err, &verr)
}
