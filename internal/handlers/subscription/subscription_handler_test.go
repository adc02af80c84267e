package subscription_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/handlers/respond"
	"github.com/kevin07696/escrow-scheduler/internal/handlers/subscription"
	"github.com/kevin07696/escrow-scheduler/internal/middleware"
	"github.com/kevin07696/escrow-scheduler/internal/testutil/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const callerHeader = "X-Caller-ID"

func newServer(t *testing.T, opts ...fixtures.EngineOption) (*fixtures.Engine, http.Handler) {
	t.Helper()
	engine := fixtures.NewEngine(opts...)
	mux := runtime.NewServeMux()
	require.NoError(t, subscription.NewHandler(engine.Subscriptions, engine.Scheduler, zap.NewNop()).Register(mux))
	return engine, middleware.NewCallerAuth(nil, callerHeader, true, zap.NewNop()).Middleware(mux)
}

func do(h http.Handler, method, path, caller, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[respond.ErrorResponse](t, rec).Code
}

func TestCreateSubscription(t *testing.T) {
	_, h := newServer(t)

	rec := do(h, http.MethodPost, "/v1/subscriptions", "alice",
		`{"recipient": "bob", "amount": 100, "frequency": "monthly"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[subscription.CreateSubscriptionResponse](t, rec)
	require.NotNil(t, resp.Subscription)
	assert.Equal(t, domain.AccountID("alice"), resp.Subscription.Payer)
	assert.Equal(t, domain.AccountID("bob"), resp.Subscription.Recipient)
	assert.Equal(t, domain.FrequencyMonthly, resp.Subscription.Frequency)
	assert.Equal(t, domain.SubscriptionStatusActive, resp.Subscription.Status)
	assert.True(t, resp.Subscription.NextDueTime.Equal(fixtures.Epoch), "first payment is due at creation")
	assert.Nil(t, resp.FirstPayment)
}

func TestCreateSubscription_PayImmediately(t *testing.T) {
	engine, h := newServer(t)
	engine.Fund(t, "alice", 300)

	rec := do(h, http.MethodPost, "/v1/subscriptions", "alice",
		`{"recipient": "bob", "amount": 100, "frequency": "WEEKLY", "pay_immediately": true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[subscription.CreateSubscriptionResponse](t, rec)
	require.NotNil(t, resp.FirstPayment)
	assert.Equal(t, int64(100), resp.FirstPayment.Amount)
	assert.Equal(t, int64(1), resp.FirstPayment.Sequence)
	assert.Equal(t, int64(1), resp.Subscription.PaymentCount)

	t.Run("underfunded first payment aborts creation", func(t *testing.T) {
		rec := do(h, http.MethodPost, "/v1/subscriptions", "alice",
			`{"recipient": "carol", "amount": 1000, "frequency": "WEEKLY", "pay_immediately": true}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = do(h, http.MethodGet, "/v1/payers/alice/subscriptions", "", "")
		list := decode[struct {
			Subscriptions []domain.Subscription `json:"subscriptions"`
		}](t, rec)
		assert.Len(t, list.Subscriptions, 1)
	})
}

func TestCreateSubscription_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		caller   string
		body     string
		status   int
		wantCode domain.ErrorCode
	}{
		{"anonymous", "", `{"recipient": "bob", "amount": 1, "frequency": "WEEKLY"}`, http.StatusUnauthorized, domain.ErrorCodeAuthMissing},
		{"missing recipient", "alice", `{"amount": 1, "frequency": "WEEKLY"}`, http.StatusBadRequest, domain.ErrorCodeValidationRecipientInvalid},
		{"self payment", "alice", `{"recipient": "alice", "amount": 1, "frequency": "WEEKLY"}`, http.StatusBadRequest, domain.ErrorCodeValidationSelfPayment},
		{"zero amount", "alice", `{"recipient": "bob", "amount": 0, "frequency": "WEEKLY"}`, http.StatusBadRequest, domain.ErrorCodeValidationAmountInvalid},
		{"unknown frequency", "alice", `{"recipient": "bob", "amount": 1, "frequency": "DAILY"}`, http.StatusBadRequest, domain.ErrorCodeValidationFrequencyInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newServer(t)
			rec := do(h, http.MethodPost, "/v1/subscriptions", tt.caller, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(tt.wantCode), errorCode(t, rec))
		})
	}
}

func TestGetSubscriptionAndDueStatus(t *testing.T) {
	engine, h := newServer(t)
	id := engine.Subscribe(t, "alice", "bob", 10, domain.FrequencyWeekly)
	path := fmt.Sprintf("/v1/subscriptions/%d", id)

	rec := do(h, http.MethodGet, path, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[domain.Subscription](t, rec).ID)
	assert.NotContains(t, rec.Body.String(), "last_payment_time", "absent until the first payment")

	due := decode[subscription.DueStatusResponse](t, do(h, http.MethodGet, path+"/due", "", ""))
	assert.True(t, due.IsDue)
	assert.Zero(t, due.TimeUntilNextPaymentSec)

	engine.Fund(t, "alice", 10)
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, path+"/process", "keeper", "").Code)

	rec = do(h, http.MethodGet, path, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_payment_time"`)

	due = decode[subscription.DueStatusResponse](t, do(h, http.MethodGet, path+"/due", "", ""))
	assert.False(t, due.IsDue)
	assert.Equal(t, int64(domain.WeeklyInterval/time.Second), due.TimeUntilNextPaymentSec)

	t.Run("unknown", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/v1/subscriptions/999", "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, string(domain.ErrorCodeSubscriptionNotFound), errorCode(t, rec))
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/v1/subscriptions/abc", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProcessPayment(t *testing.T) {
	engine, h := newServer(t)
	id := engine.Subscribe(t, "alice", "bob", 40, domain.FrequencyWeekly)
	path := fmt.Sprintf("/v1/subscriptions/%d/process", id)

	rec := do(h, http.MethodPost, path, "keeper", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "unfunded payer")

	engine.Fund(t, "alice", 100)
	rec = do(h, http.MethodPost, path, "keeper", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[subscription.ProcessResponse](t, rec)
	assert.Equal(t, int64(60), resp.PayerBalance)
	assert.Equal(t, int64(40), resp.Payment.Amount)
	assert.Equal(t, "bob", resp.Payment.Recipient)

	rec = do(h, http.MethodPost, path, "keeper", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.ErrorCodeNotDue), errorCode(t, rec))

	payments := decode[struct {
		Payments []subscription.PaymentResponse `json:"payments"`
	}](t, do(h, http.MethodGet, fmt.Sprintf("/v1/subscriptions/%d/payments", id), "", ""))
	require.Len(t, payments.Payments, 1)
	assert.Equal(t, int64(1), payments.Payments[0].Sequence)
}

func TestLifecycle(t *testing.T) {
	engine, h := newServer(t)
	id := engine.Subscribe(t, "alice", "bob", 10, domain.FrequencyMonthly)
	base := fmt.Sprintf("/v1/subscriptions/%d", id)

	rec := do(h, http.MethodPost, base+"/pause", "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the payer pauses")

	rec = do(h, http.MethodPost, base+"/pause", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SubscriptionStatusPaused, decode[domain.Subscription](t, rec).Status)

	rec = do(h, http.MethodPost, base+"/pause", "alice", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	engine.Clock.Advance(48 * time.Hour)
	rec = do(h, http.MethodPost, base+"/resume", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resumed := decode[domain.Subscription](t, rec)
	assert.Equal(t, domain.SubscriptionStatusActive, resumed.Status)
	assert.True(t, resumed.NextDueTime.Equal(fixtures.Epoch.Add(48*time.Hour+domain.MonthlyInterval)))

	rec = do(h, http.MethodPost, base+"/cancel", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SubscriptionStatusCancelled, decode[domain.Subscription](t, rec).Status)

	rec = do(h, http.MethodPost, base+"/cancel", "alice", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.ErrorCodeAlreadyCancelled), errorCode(t, rec))

	rec = do(h, http.MethodGet, base, "", "")
	require.Equal(t, http.StatusOK, rec.Code, "cancelled subscriptions stay readable")
}

func TestLifecycle_RecipientCancel(t *testing.T) {
	engine, h := newServer(t, fixtures.WithRecipientCancel())
	id := engine.Subscribe(t, "alice", "bob", 10, domain.FrequencyMonthly)

	rec := do(h, http.MethodPost, fmt.Sprintf("/v1/subscriptions/%d/cancel", id), "bob", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBatchProcessPayments(t *testing.T) {
	engine, h := newServer(t)
	engine.Fund(t, "alice", 25)
	first := engine.Subscribe(t, "alice", "bob", 20, domain.FrequencyWeekly)
	second := engine.Subscribe(t, "alice", "carol", 20, domain.FrequencyWeekly)

	body := fmt.Sprintf(`{"ids": [%d, %d, 999]}`, first, second)
	rec := do(h, http.MethodPost, "/v1/subscriptions/batch-process", "keeper", body)
	require.Equal(t, http.StatusPartialContent, rec.Code, rec.Body.String())

	resp := decode[subscription.BatchProcessResponse](t, rec)
	assert.Equal(t, 3, resp.Requested)
	require.Len(t, resp.Processed, 1)
	assert.Equal(t, uint64(first), resp.Processed[0].SubscriptionID)
	require.Len(t, resp.Skipped, 2)
	assert.Equal(t, string(domain.ErrorCodeInsufficientBalance), resp.Skipped[0].Code)
	assert.Equal(t, string(domain.ErrorCodeSubscriptionNotFound), resp.Skipped[1].Code)

	t.Run("all processed", func(t *testing.T) {
		engine.Fund(t, "alice", 100)
		rec := do(h, http.MethodPost, "/v1/subscriptions/batch-process", "keeper",
			fmt.Sprintf(`{"ids": [%d]}`, second))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty batch", func(t *testing.T) {
		rec := do(h, http.MethodPost, "/v1/subscriptions/batch-process", "keeper", `{"ids": []}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(domain.ErrorCodeValidationBatchEmpty), errorCode(t, rec))
	})
}

func TestListByPayer(t *testing.T) {
	engine, h := newServer(t)
	kept := engine.Subscribe(t, "alice", "bob", 10, domain.FrequencyWeekly)
	paused := engine.Subscribe(t, "alice", "carol", 10, domain.FrequencyWeekly)
	_, err := engine.Subscriptions.PauseSubscription(fixtures.As("alice"), paused)
	require.NoError(t, err)

	list := decode[struct {
		Subscriptions []domain.Subscription `json:"subscriptions"`
	}](t, do(h, http.MethodGet, "/v1/payers/alice/subscriptions", "", ""))
	require.Len(t, list.Subscriptions, 1)
	assert.Equal(t, kept, list.Subscriptions[0].ID)

	rec := do(h, http.MethodGet, "/v1/payers/nobody/subscriptions", "", "")
	assert.JSONEq(t, `{"subscriptions": []}`, rec.Body.String())
}
