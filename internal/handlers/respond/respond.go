// Package respond holds the JSON conventions shared by the HTTP handlers.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/pkg/encoding"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encoding.WriteJSON(w, v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Error writes err with the status its category maps to. Internal errors are not
// echoed to the client.
func Error(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := StatusFor(err)

	var resp ErrorResponse
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) && status != http.StatusInternalServerError {
		resp = ErrorResponse{Code: string(domainErr.Code), Message: domainErr.Message, Details: domainErr.Details}
	} else {
		logger.Error("Request failed", zap.Error(err))
		resp = ErrorResponse{Code: string(domain.ErrorCodeInternalError), Message: domain.ErrInternalError.Message}
	}

	JSON(w, status, resp, logger)
}

// StatusFor maps an error onto an HTTP status.
func StatusFor(err error) int {
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeAuthMissing, domain.ErrorCodeAuthInvalid:
		return http.StatusUnauthorized
	case domain.ErrorCodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeTransferFailed:
		return http.StatusBadGateway
	}

	switch domain.CategoryOf(err) {
	case domain.CategoryValidation:
		return http.StatusBadRequest
	case domain.CategoryAuthorization:
		return http.StatusForbidden
	case domain.CategoryNotFound:
		return http.StatusNotFound
	case domain.CategoryState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into dst and runs its validate tags. An empty body
// leaves dst untouched.
func Decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrValidationFailed.WithDetail("body", err.Error())
	}
	return Validate(dst)
}

// Validate runs the struct's validate tags.
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.ErrValidationFailed.
				WithDetail("field", fe.Field()).
				WithDetail("rule", fe.Tag())
		}
		return domain.ErrValidationFailed.Wrap(err)
	}
	return nil
}

// Amount converts a JSON amount into whole escrow units. Fractions, non-positive
// values and values beyond int64 are rejected.
func Amount(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, domain.ErrAmountInvalid.WithDetail("amount", d.String())
	}
	if !d.IsInteger() {
		return 0, domain.ErrAmountInvalid.WithDetail("amount", d.String()).WithDetail("reason", "fractional amount")
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, domain.ErrAmountInvalid.WithDetail("amount", d.String()).WithDetail("reason", "amount too large")
	}
	return d.IntPart(), nil
}

// SubscriptionID parses a path parameter.
func SubscriptionID(params map[string]string, name string) (domain.SubscriptionID, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("missing path parameter %q", name)
	}
	return domain.ParseSubscriptionID(raw)
}
