package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte(strings.Repeat("k", 32))

func TestJWTManager_RoundTrip(t *testing.T) {
	jm, err := NewJWTManager(testSecret, "escrowd", time.Hour)
	require.NoError(t, err)

	token, err := jm.GenerateToken("alice")
	require.NoError(t, err)

	caller, err := jm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountID("alice"), caller)
}

func TestJWTManager_Rejects(t *testing.T) {
	jm, err := NewJWTManager(testSecret, "escrowd", time.Hour)
	require.NoError(t, err)

	other, err := NewJWTManager([]byte(strings.Repeat("x", 32)), "escrowd", time.Hour)
	require.NoError(t, err)
	foreign, err := other.GenerateToken("alice")
	require.NoError(t, err)

	wrongIssuer, err := NewJWTManager(testSecret, "someone-else", time.Hour)
	require.NoError(t, err)
	misissued, err := wrongIssuer.GenerateToken("alice")
	require.NoError(t, err)

	expiredIssuer, err := NewJWTManager(testSecret, "escrowd", -time.Minute)
	require.NoError(t, err)
	expired, err := expiredIssuer.GenerateToken("alice")
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"wrong key":    foreign,
		"wrong issuer": misissued,
		"expired":      expired,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := jm.ValidateToken(token)
			assert.True(t, domain.IsDomainError(err, domain.ErrorCodeAuthInvalid))
		})
	}
}

func TestNewJWTManager_ShortSecret(t *testing.T) {
	_, err := NewJWTManager([]byte("short"), "escrowd", time.Hour)
	assert.Error(t, err)
}

func TestCallerFromContext(t *testing.T) {
	_, err := CallerFromContext(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthMissing)

	ctx := WithRequestID(WithCaller(context.Background(), "alice", AuthTypeHeader), "req-1")
	caller, err := CallerFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountID("alice"), caller)

	info := GetAuthInfo(ctx)
	assert.Equal(t, AuthTypeHeader, info.Type)
	assert.Equal(t, "req-1", info.RequestID)
	assert.True(t, IsAuthenticated(ctx))

	_, err = CallerFromContext(WithCaller(context.Background(), domain.ZeroAccount, AuthTypeHeader))
	assert.ErrorIs(t, err, domain.ErrAuthMissing)
}
