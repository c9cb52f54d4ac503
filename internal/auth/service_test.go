package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/auth"
)

func newTestService(t *testing.T) *auth.Service {
	t.Helper()

	keys, err := auth.ParseOperatorKeys("ops:secret-one, audit:secret-two")
	require.NoError(t, err)

	return auth.NewService(auth.ServiceConfig{
		JWTService: auth.NewJWTService(testJWTConfig()),
		Keys:       keys,
	})
}

func TestService_Exchange(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.Exchange(context.Background(), &auth.TokenRequest{APIKey: "secret-two"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "audit", resp.Operator.ID)
	assert.InDelta(t, auth.AccessTokenExpiry.Seconds(), float64(resp.ExpiresIn), 2)

	operatorID, err := svc.ValidateAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "audit", operatorID)
}

func TestService_ExchangeRejectsUnknownKey(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Exchange(context.Background(), &auth.TokenRequest{APIKey: "nope"})
	assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)

	_, err = svc.Exchange(context.Background(), &auth.TokenRequest{})
	assert.Error(t, err)
}

func TestParseOperatorKeys(t *testing.T) {
	keys, err := auth.ParseOperatorKeys("")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = auth.ParseOperatorKeys("ops")
	assert.Error(t, err)

	_, err = auth.ParseOperatorKeys("ops:")
	assert.Error(t, err)
}
