package respond

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrAmountInvalid, http.StatusBadRequest},
		{domain.ErrBatchEmpty, http.StatusBadRequest},
		{domain.ErrAuthMissing, http.StatusUnauthorized},
		{domain.ErrNotOwner, http.StatusForbidden},
		{domain.ErrSubscriptionNotFound, http.StatusNotFound},
		{domain.ErrNotDue, http.StatusConflict},
		{domain.ErrAlreadyCancelled, http.StatusConflict},
		{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", domain.ErrTransferFailed), http.StatusBadGateway},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, fmt.Errorf("pq: password authentication failed"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), string(domain.ErrorCodeInternalError))
}

func TestError_DomainDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, domain.ErrInsufficientBalance.WithDetail("balance", 5), zap.NewNop())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"code":"RESOURCE_INSUFFICIENT_BALANCE","message":"insufficient escrow balance","details":{"balance":5}}`, rec.Body.String())
}

func TestAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "100", want: 100},
		{in: "100.0", want: 100},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "9223372036854775807", want: 9223372036854775807},
		{in: "9223372036854775808", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Amount(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrAmountInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode(t *testing.T) {
	type body struct {
		Recipient string `json:"recipient" validate:"required"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"recipient":"bob"}`},
		{name: "missing field", payload: `{}`, wantErr: true},
		{name: "unknown field", payload: `{"recipient":"bob","extra":1}`, wantErr: true},
		{name: "malformed", payload: `{"recipient":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var dst body
			err := Decode(httptest.NewRecorder(), req, &dst)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "bob", dst.Recipient)
		})
	}
}
