package middleware

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/kevin07696/escrow-scheduler/pkg/resilience"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs every unary RPC with its status code and latency
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Error("RPC error", append(fields, zap.Error(err))...)
		} else {
			logger.Info("RPC response", fields...)
		}

		return resp, err
	}
}

// RecoveryInterceptor turns a handler panic into codes.Internal
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in RPC handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal server error: panic recovered")
			}
		}()

		return handler(ctx, req)
	}
}

// TimeoutInterceptor applies the handler timeout unless the caller already set a deadline
func TimeoutInterceptor(config *resilience.TimeoutConfig, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if _, hasDeadline := ctx.Deadline(); hasDeadline {
			return handler(ctx, req)
		}

		timeoutCtx, cancel := config.HandlerContext(ctx)
		defer cancel()

		logger.Debug("Applied handler timeout",
			zap.String("method", info.FullMethod),
			zap.Duration("timeout", config.HTTPHandler),
		)

		return handler(timeoutCtx, req)
	}
}
