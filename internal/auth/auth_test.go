package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	return svc
}

func TestGenerateTokenRoundTrip(t *testing.T) {
	svc := newTestService()

	resp, err := svc.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	assert.Contains(t, resp.Permissions, "strategies:write")

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, TestAPIKey, claims.ClientID)
	assert.Contains(t, claims.Permissions, "strategies:read")
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	svc := newTestService()

	_, err := svc.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(Credentials{APIKey: "unknown", APISecret: TestAPISecret})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsExpiredAndForeign(t *testing.T) {
	svc := newTestService()
	svc.SetTokenTTL(-time.Minute)

	resp, err := svc.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)
	_, err = svc.ValidateToken(resp.Token)
	assert.Error(t, err)

	other := NewService("other-secret")
	other.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	foreign, err := other.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)

	svc.SetTokenTTL(DefaultTokenTTL)
	_, err = svc.ValidateToken(foreign.Token)
	assert.Error(t, err)
}
