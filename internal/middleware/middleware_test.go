package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newJWT(t *testing.T) *auth.JWTManager {
	t.Helper()
	jm, err := auth.NewJWTManager([]byte("0123456789abcdef0123456789abcdef"), "escrow-scheduler", time.Hour)
	require.NoError(t, err)
	return jm
}

// callerEcho writes the resolved caller, or "-" for anonymous requests
func callerEcho(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.CallerFromContext(r.Context())
	if err != nil {
		_, _ = w.Write([]byte("-"))
		return
	}
	_, _ = w.Write([]byte(caller))
}

func TestCallerAuth(t *testing.T) {
	jm := newJWT(t)
	token, err := jm.GenerateToken("alice")
	require.NoError(t, err)

	tests := []struct {
		name        string
		headers     map[string]string
		trustHeader bool
		wantStatus  int
		wantBody    string
	}{
		{name: "bearer token", headers: map[string]string{"Authorization": "Bearer " + token}, wantStatus: 200, wantBody: "alice"},
		{name: "bad token", headers: map[string]string{"Authorization": "Bearer nope"}, wantStatus: 401},
		{name: "not bearer", headers: map[string]string{"Authorization": "Basic abc"}, wantStatus: 401},
		{name: "anonymous", wantStatus: 200, wantBody: "-"},
		{name: "trusted header", headers: map[string]string{"X-Caller-ID": "bob"}, trustHeader: true, wantStatus: 200, wantBody: "bob"},
		{name: "untrusted header ignored", headers: map[string]string{"X-Caller-ID": "bob"}, wantStatus: 200, wantBody: "-"},
		{
			name:        "token beats header",
			headers:     map[string]string{"Authorization": "Bearer " + token, "X-Caller-ID": "bob"},
			trustHeader: true,
			wantStatus:  200,
			wantBody:    "alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCallerAuth(jm, "X-Caller-ID", tt.trustHeader, zap.NewNop()).Middleware(http.HandlerFunc(callerEcho))

			req := httptest.NewRequest(http.MethodGet, "/v1/escrow/accounts/alice/balance", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestCallerAuth_KeepsRequestID(t *testing.T) {
	h := NewCallerAuth(nil, "X-Caller-ID", false, zap.NewNop()).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-1", auth.GetAuthInfo(r.Context()).RequestID)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
}

func TestCallerOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "ip:10.0.0.7", CallerOrIP(req))

	req = req.WithContext(auth.WithCaller(req.Context(), "alice", auth.AuthTypeHeader))
	assert.Equal(t, "caller:alice", CallerOrIP(req))
}

func TestSecurityHeaders(t *testing.T) {
	h := NewSecurityHeaders(false).Middleware(http.HandlerFunc(callerEcho))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	dev := NewSecurityHeaders(true).Middleware(http.HandlerFunc(callerEcho))
	rec = httptest.NewRecorder()
	dev.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestGRPCAuthInterceptor(t *testing.T) {
	jm := newJWT(t)
	token, err := jm.GenerateToken("alice")
	require.NoError(t, err)

	const method = "/escrow.keeper.v1.KeeperService/ProcessPayment"
	const healthMethod = "/grpc.health.v1.Health/Check"
	interceptor := NewGRPCAuthInterceptor(jm, "keeper-secret", zap.NewNop(), healthMethod).UnaryServerInterceptor()

	call := func(ctx context.Context, fullMethod string) (domain.AccountID, error) {
		var caller domain.AccountID
		_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: fullMethod}, func(ctx context.Context, req interface{}) (interface{}, error) {
			caller, _ = auth.CallerFromContext(ctx)
			return nil, nil
		})
		return caller, err
	}
	withMD := func(kv ...string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs(kv...))
	}

	caller, err := call(withMD("authorization", "Bearer "+token), method)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountID("alice"), caller)

	caller, err = call(withMD(KeeperSecretMetadata, "keeper-secret"), method)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountID("keeper"), caller)

	_, err = call(withMD(KeeperSecretMetadata, "wrong"), method)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = call(withMD("authorization", "Bearer bogus"), method)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = call(withMD("authorization", token), method)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = call(context.Background(), method)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = call(context.Background(), healthMethod)
	assert.NoError(t, err)
}
