package subscription

import (
	"context"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/handlers/respond"
	"github.com/kevin07696/escrow-scheduler/internal/services/scheduler"
	subscriptionsvc "github.com/kevin07696/escrow-scheduler/internal/services/subscription"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SubscriptionService is the lifecycle surface the handler needs
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req subscriptionsvc.CreateRequest) (*subscriptionsvc.CreateResult, error)
	GetSubscription(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error)
	ListActiveByPayer(ctx context.Context, payer domain.AccountID) ([]*domain.Subscription, error)
	ListPayments(ctx context.Context, id domain.SubscriptionID) ([]*domain.PaymentRecord, error)
	PauseSubscription(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error)
	ResumeSubscription(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error)
	CancelSubscription(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error)
}

// Scheduler executes payments
type Scheduler interface {
	IsDue(ctx context.Context, id domain.SubscriptionID) (bool, error)
	TimeUntilNextPayment(ctx context.Context, id domain.SubscriptionID) (time.Duration, error)
	ProcessPayment(ctx context.Context, id domain.SubscriptionID) (*scheduler.PaymentResult, error)
	BatchProcessPayments(ctx context.Context, ids []domain.SubscriptionID) (*scheduler.BatchResult, error)
}

// Handler serves the subscription HTTP API
type Handler struct {
	service   SubscriptionService
	scheduler Scheduler
	logger    *zap.Logger
}

// NewHandler creates a new subscription handler
func NewHandler(service SubscriptionService, scheduler Scheduler, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Register mounts the subscription routes
func (h *Handler) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/subscriptions", h.CreateSubscription},
		{http.MethodPost, "/v1/subscriptions/batch-process", h.BatchProcessPayments},
		{http.MethodGet, "/v1/subscriptions/{id}", h.GetSubscription},
		{http.MethodGet, "/v1/subscriptions/{id}/due", h.GetDueStatus},
		{http.MethodGet, "/v1/subscriptions/{id}/payments", h.ListPayments},
		{http.MethodPost, "/v1/subscriptions/{id}/pause", h.lifecycle(h.service.PauseSubscription)},
		{http.MethodPost, "/v1/subscriptions/{id}/resume", h.lifecycle(h.service.ResumeSubscription)},
		{http.MethodPost, "/v1/subscriptions/{id}/cancel", h.lifecycle(h.service.CancelSubscription)},
		{http.MethodPost, "/v1/subscriptions/{id}/process", h.ProcessPayment},
		{http.MethodGet, "/v1/payers/{payer}/subscriptions", h.ListByPayer},
	}
	for _, route := range routes {
		handler := observability.InstrumentHandler(route.method+" "+route.pattern, route.handler)
		if err := mux.HandlePath(route.method, route.pattern, handler); err != nil {
			return err
		}
	}
	return nil
}

// CreateSubscriptionRequest is the body of POST /v1/subscriptions. The payer is the caller.
type CreateSubscriptionRequest struct {
	Recipient      string          `json:"recipient" validate:"max=128"`
	Frequency      string          `json:"frequency" validate:"max=16"`
	Amount         decimal.Decimal `json:"amount"`
	PayImmediately bool            `json:"pay_immediately"`
}

// BatchProcessRequest is the body of POST /v1/subscriptions/batch-process
type BatchProcessRequest struct {
	IDs []domain.SubscriptionID `json:"ids"`
}

// PaymentResponse describes one executed payment
type PaymentResponse struct {
	ID             string `json:"id"`
	Payer          string `json:"payer"`
	Recipient      string `json:"recipient"`
	Timestamp      string `json:"timestamp"`
	SubscriptionID uint64 `json:"subscription_id"`
	Amount         int64  `json:"amount"`
	Sequence       int64  `json:"sequence"`
}

// CreateSubscriptionResponse carries the new subscription and its first payment, if any
type CreateSubscriptionResponse struct {
	Subscription *domain.Subscription `json:"subscription"`
	FirstPayment *PaymentResponse     `json:"first_payment,omitempty"`
}

// DueStatusResponse reports whether a subscription can be paid now
type DueStatusResponse struct {
	NextDueTime             string `json:"next_due_time"`
	SubscriptionID          uint64 `json:"subscription_id"`
	TimeUntilNextPaymentSec int64  `json:"time_until_next_payment"`
	IsDue                   bool   `json:"is_due"`
}

// ProcessResponse is the outcome of a single payment invocation
type ProcessResponse struct {
	Subscription *domain.Subscription `json:"subscription"`
	Payment      *PaymentResponse     `json:"payment"`
	PayerBalance int64                `json:"payer_balance"`
}

// SkippedResponse is a batch item that was not paid
type SkippedResponse struct {
	Code           string `json:"code"`
	Reason         string `json:"reason"`
	SubscriptionID uint64 `json:"subscription_id"`
}

// BatchProcessResponse summarizes a batch invocation
type BatchProcessResponse struct {
	Processed []PaymentResponse `json:"processed"`
	Skipped   []SkippedResponse `json:"skipped"`
	Requested int               `json:"requested"`
}

// CreateSubscription handles POST /v1/subscriptions
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req CreateSubscriptionRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	frequency, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	amount, err := respond.Amount(req.Amount)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	result, err := h.service.CreateSubscription(r.Context(), subscriptionsvc.CreateRequest{
		Recipient:      domain.AccountID(req.Recipient),
		Frequency:      frequency,
		Amount:         amount,
		PayImmediately: req.PayImmediately,
	})
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	resp := CreateSubscriptionResponse{Subscription: result.Subscription}
	if result.FirstPayment != nil {
		resp.FirstPayment = paymentToResponse(result.FirstPayment.Record)
	}
	respond.JSON(w, http.StatusCreated, resp, h.logger)
}

// GetSubscription handles GET /v1/subscriptions/{id}
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := respond.SubscriptionID(params, "id")
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	sub, err := h.service.GetSubscription(r.Context(), id)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	respond.JSON(w, http.StatusOK, sub, h.logger)
}

// GetDueStatus handles GET /v1/subscriptions/{id}/due
func (h *Handler) GetDueStatus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := respond.SubscriptionID(params, "id")
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	ctx := r.Context()
	sub, err := h.service.GetSubscription(ctx, id)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	due, err := h.scheduler.IsDue(ctx, id)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	wait, err := h.scheduler.TimeUntilNextPayment(ctx, id)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	respond.JSON(w, http.StatusOK, DueStatusResponse{
		SubscriptionID:          uint64(id),
		IsDue:                   due,
		TimeUntilNextPaymentSec: int64(wait / time.Second),
		NextDueTime:             sub.NextDueTime.UTC().Format(time.RFC3339),
	}, h.logger)
}

// ListPayments handles GET /v1/subscriptions/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := respond.SubscriptionID(params, "id")
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	records, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	payments := make([]*PaymentResponse, 0, len(records))
	for _, rec := range records {
		payments = append(payments, paymentToResponse(rec))
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"payments": payments}, h.logger)
}

// ListByPayer handles GET /v1/payers/{payer}/subscriptions
func (h *Handler) ListByPayer(w http.ResponseWriter, r *http.Request, params map[string]string) {
	subs, err := h.service.ListActiveByPayer(r.Context(), domain.AccountID(params["payer"]))
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	if subs == nil {
		subs = []*domain.Subscription{}
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"subscriptions": subs}, h.logger)
}

func (h *Handler) lifecycle(op func(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		id, err := respond.SubscriptionID(params, "id")
		if err != nil {
			respond.Error(w, err, h.logger)
			return
		}
		sub, err := op(r.Context(), id)
		if err != nil {
			respond.Error(w, err, h.logger)
			return
		}
		respond.JSON(w, http.StatusOK, sub, h.logger)
	}
}

// ProcessPayment handles POST /v1/subscriptions/{id}/process
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := respond.SubscriptionID(params, "id")
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	result, err := h.scheduler.ProcessPayment(r.Context(), id)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	respond.JSON(w, http.StatusOK, ProcessResponse{
		Subscription: result.Subscription,
		Payment:      paymentToResponse(result.Record),
		PayerBalance: result.PayerBalance,
	}, h.logger)
}

// BatchProcessPayments handles POST /v1/subscriptions/batch-process.
// Returns 206 when some items were skipped.
func (h *Handler) BatchProcessPayments(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req BatchProcessRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	result, err := h.scheduler.BatchProcessPayments(r.Context(), req.IDs)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	status := http.StatusOK
	if len(result.Skipped) > 0 {
		status = http.StatusPartialContent
	}
	respond.JSON(w, status, BatchToResponse(result), h.logger)
}

// BatchToResponse converts a batch result for the wire
func BatchToResponse(result *scheduler.BatchResult) BatchProcessResponse {
	resp := BatchProcessResponse{
		Requested: result.Requested,
		Processed: make([]PaymentResponse, 0, len(result.Processed)),
		Skipped:   make([]SkippedResponse, 0, len(result.Skipped)),
	}
	for _, p := range result.Processed {
		resp.Processed = append(resp.Processed, *paymentToResponse(p.Record))
	}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedResponse{
			SubscriptionID: uint64(s.SubscriptionID),
			Code:           string(s.Code),
			Reason:         s.Reason,
		})
	}
	return resp
}

func paymentToResponse(rec *domain.PaymentRecord) *PaymentResponse {
	return &PaymentResponse{
		ID:             rec.ID.String(),
		SubscriptionID: uint64(rec.SubscriptionID),
		Payer:          rec.Payer.String(),
		Recipient:      rec.Recipient.String(),
		Amount:         rec.Amount,
		Sequence:       rec.Sequence,
		Timestamp:      rec.Timestamp.UTC().Format(time.RFC3339),
	}
}
