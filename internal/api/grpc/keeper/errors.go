package keeper

import (
	"errors"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// handleServiceError converts domain errors to gRPC status errors
func handleServiceError(err error) error {
	var domainErr *domain.DomainError
	code := CodeFor(err)
	if !errors.As(err, &domainErr) || code == codes.Internal {
		return status.Error(codes.Internal, domain.ErrInternalError.Message)
	}
	return status.Error(code, string(domainErr.Code)+": "+domainErr.Message)
}

// CodeFor maps a domain error onto a gRPC status code.
func CodeFor(err error) codes.Code {
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeAuthMissing, domain.ErrorCodeAuthInvalid:
		return codes.Unauthenticated
	case domain.ErrorCodeTransferFailed:
		return codes.Unavailable
	case domain.ErrorCodeReentrantInvocation:
		return codes.Aborted
	}

	switch domain.CategoryOf(err) {
	case domain.CategoryValidation:
		return codes.InvalidArgument
	case domain.CategoryAuthorization:
		return codes.PermissionDenied
	case domain.CategoryNotFound:
		return codes.NotFound
	case domain.CategoryState, domain.CategoryResource:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
