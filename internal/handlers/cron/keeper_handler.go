package cron

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/handlers/respond"
	"github.com/kevin07696/escrow-scheduler/internal/services/scheduler"
	"go.uber.org/zap"
)

// KeeperCaller is the identity recorded for cron-triggered sweeps.
const KeeperCaller domain.AccountID = "keeper"

// DueProcessor sweeps due subscriptions
type DueProcessor interface {
	ProcessDue(ctx context.Context, limit int) (*scheduler.BatchResult, error)
}

// KeeperHandler handles cron job endpoints that drive due payments
type KeeperHandler struct {
	processor  DueProcessor
	logger     *zap.Logger
	clock      func() time.Time
	cronSecret string // Secret token for authenticating cron requests
	batchSize  int
	maxBatch   int
}

// NewKeeperHandler creates a new keeper cron handler
func NewKeeperHandler(
	processor DueProcessor,
	logger *zap.Logger,
	cronSecret string,
	batchSize int,
	maxBatch int,
) *KeeperHandler {
	return &KeeperHandler{
		processor:  processor,
		logger:     logger,
		clock:      time.Now,
		cronSecret: cronSecret,
		batchSize:  batchSize,
		maxBatch:   maxBatch,
	}
}

// ProcessPaymentsRequest represents the optional request body of a sweep
type ProcessPaymentsRequest struct {
	BatchSize *int `json:"batch_size"`
}

// ProcessPaymentsResponse represents the response from a sweep
type ProcessPaymentsResponse struct {
	ProcessedAt  string                `json:"processed_at"`
	Skipped      []SkippedSubscription `json:"skipped,omitempty"`
	Processed    int                   `json:"processed"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
	Success      bool                  `json:"success"`
}

// SkippedSubscription is a due subscription the sweep could not pay
type SkippedSubscription struct {
	Code           string `json:"code"`
	Reason         string `json:"reason"`
	SubscriptionID uint64 `json:"subscription_id"`
}

// Register mounts the cron endpoints on mux
func (h *KeeperHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/cron/process-payments", h.ProcessPayments)
	mux.HandleFunc("/cron/health", h.HealthCheck)
}

// ProcessPayments handles the POST /cron/process-payments endpoint.
// It pays every due subscription up to the batch size; 206 reports a partial sweep.
func (h *KeeperHandler) ProcessPayments(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Keeper cron job triggered",
		zap.String("method", r.Method),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
	)

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request",
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ProcessPaymentsRequest
	if err := respond.Decode(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batchSize := h.batchSize
	if req.BatchSize != nil {
		if *req.BatchSize < 1 || *req.BatchSize > h.maxBatch {
			h.respondError(w, http.StatusBadRequest, "batch_size out of range")
			return
		}
		batchSize = *req.BatchSize
	}

	ctx := auth.WithCaller(r.Context(), KeeperCaller, auth.AuthTypeInternal)
	result, err := h.processor.ProcessDue(ctx, batchSize)
	if err != nil {
		h.logger.Error("Keeper sweep failed", zap.Error(err))
		h.respondError(w, respond.StatusFor(err), "sweep failed")
		return
	}

	resp := ProcessPaymentsResponse{
		Success:      len(result.Skipped) == 0,
		Processed:    result.Requested,
		SuccessCount: len(result.Processed),
		FailureCount: len(result.Skipped),
		ProcessedAt:  h.clock().UTC().Format(time.RFC3339),
	}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedSubscription{
			SubscriptionID: uint64(s.SubscriptionID),
			Code:           string(s.Code),
			Reason:         s.Reason,
		})
	}

	h.logger.Info("Keeper sweep completed",
		zap.Int("processed", resp.Processed),
		zap.Int("success", resp.SuccessCount),
		zap.Int("failed", resp.FailureCount),
	)

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusPartialContent // 206 indicates partial success
	}
	respond.JSON(w, status, resp, h.logger)
}

// authenticateRequest accepts the cron secret in X-Cron-Secret or as a bearer token
func (h *KeeperHandler) authenticateRequest(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if secret := r.Header.Get("X-Cron-Secret"); secret != "" {
		return subtle.ConstantTimeCompare([]byte(secret), []byte(h.cronSecret)) == 1
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
	}
	return false
}

func (h *KeeperHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	respond.JSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	}, h.logger)
}

// HealthCheck handles GET /cron/health for monitoring
func (h *KeeperHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   h.clock().UTC().Format(time.RFC3339),
	}, h.logger)
}
