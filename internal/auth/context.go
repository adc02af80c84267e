package auth

import (
	"context"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
)

// Context keys for authentication data
type contextKey string

const (
	CallerKey    contextKey = "caller"
	AuthTypeKey  contextKey = "auth_type"
	RequestIDKey contextKey = "request_id"
)

// AuthType represents the type of authentication used
type AuthType string

const (
	AuthTypeJWT      AuthType = "jwt"
	AuthTypeHeader   AuthType = "header"
	AuthTypeInternal AuthType = "internal"
	AuthTypeNone     AuthType = "none"
)

// AuthInfo contains authentication information from the context
type AuthInfo struct {
	Caller    domain.AccountID
	Type      AuthType
	RequestID string
}

// WithCaller records the authenticated caller on ctx.
func WithCaller(ctx context.Context, caller domain.AccountID, authType AuthType) context.Context {
	ctx = context.WithValue(ctx, CallerKey, caller)
	return context.WithValue(ctx, AuthTypeKey, authType)
}

// WithRequestID records the request id on ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// CallerFromContext returns the authenticated caller or domain.ErrAuthMissing.
func CallerFromContext(ctx context.Context) (domain.AccountID, error) {
	caller, ok := ctx.Value(CallerKey).(domain.AccountID)
	if !ok || caller.IsZero() {
		return "", domain.ErrAuthMissing
	}
	return caller, nil
}

// GetAuthInfo extracts authentication information from the context
func GetAuthInfo(ctx context.Context) *AuthInfo {
	info := &AuthInfo{Type: AuthTypeNone}

	if caller, ok := ctx.Value(CallerKey).(domain.AccountID); ok {
		info.Caller = caller
	}
	if authType, ok := ctx.Value(AuthTypeKey).(AuthType); ok {
		info.Type = authType
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		info.RequestID = requestID
	}

	return info
}

// IsAuthenticated checks if the context contains valid authentication
func IsAuthenticated(ctx context.Context) bool {
	_, err := CallerFromContext(ctx)
	return err == nil
}
