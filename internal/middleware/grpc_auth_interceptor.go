package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
)

// KeeperSecretMetadata is the metadata key keepers authenticate with
const KeeperSecretMetadata = "x-keeper-secret"

// GRPCAuthInterceptor admits keepers holding the shared secret or callers with a valid JWT
type GRPCAuthInterceptor struct {
	tokens TokenValidator
	secret string
	logger *zap.Logger
	// Methods reachable without credentials, e.g. health checks
	public map[string]bool
}

// NewGRPCAuthInterceptor creates a new gRPC auth interceptor. tokens may be nil.
func NewGRPCAuthInterceptor(tokens TokenValidator, keeperSecret string, logger *zap.Logger, publicMethods ...string) *GRPCAuthInterceptor {
	public := make(map[string]bool, len(publicMethods))
	for _, m := range publicMethods {
		public[m] = true
	}
	return &GRPCAuthInterceptor{
		tokens: tokens,
		secret: keeperSecret,
		logger: logger,
		public: public,
	}
}

// UnaryServerInterceptor returns a gRPC unary server interceptor for auth
func (i *GRPCAuthInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if i.public[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		if secrets := md.Get(KeeperSecretMetadata); len(secrets) > 0 && i.secret != "" {
			if subtle.ConstantTimeCompare([]byte(secrets[0]), []byte(i.secret)) == 1 {
				return handler(auth.WithCaller(ctx, domain.AccountID("keeper"), auth.AuthTypeInternal), req)
			}
			i.logger.Warn("Invalid keeper secret", zap.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "invalid keeper secret")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 || i.tokens == nil {
			return nil, status.Error(codes.Unauthenticated, "missing credentials")
		}

		token, ok := strings.CutPrefix(authHeaders[0], "Bearer ")
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "invalid authorization format: expected 'Bearer <token>'")
		}

		caller, err := i.tokens.ValidateToken(token)
		if err != nil {
			i.logger.Warn("token verification failed",
				zap.Error(err),
				zap.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		i.logger.Debug("token authenticated",
			zap.String("caller", caller.String()),
			zap.String("method", info.FullMethod))

		return handler(auth.WithCaller(ctx, caller, auth.AuthTypeJWT), req)
	}
}
