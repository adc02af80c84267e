package escrow

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/handlers/respond"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultEntriesLimit applies when the entries query has no limit.
const DefaultEntriesLimit = 100

// EscrowService is the ledger surface the handler needs
type EscrowService interface {
	Deposit(ctx context.Context, account domain.AccountID, amount int64) (int64, error)
	Withdraw(ctx context.Context, account domain.AccountID, amount int64) (int64, error)
	GetBalance(ctx context.Context, account domain.AccountID) (int64, error)
	ListEntries(ctx context.Context, account domain.AccountID, limit int) ([]*domain.LedgerEntry, error)
}

// Handler serves the escrow ledger HTTP API
type Handler struct {
	service EscrowService
	logger  *zap.Logger
}

// NewHandler creates a new escrow handler
func NewHandler(service EscrowService, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the escrow routes
func (h *Handler) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/escrow/deposits", h.Deposit},
		{http.MethodPost, "/v1/escrow/withdrawals", h.Withdraw},
		{http.MethodGet, "/v1/escrow/accounts/{account}/balance", h.GetBalance},
		{http.MethodGet, "/v1/escrow/accounts/{account}/entries", h.ListEntries},
	}
	for _, route := range routes {
		handler := observability.InstrumentHandler(route.method+" "+route.pattern, route.handler)
		if err := mux.HandlePath(route.method, route.pattern, handler); err != nil {
			return err
		}
	}
	return nil
}

// MovementRequest is the body of deposits and withdrawals. Account defaults to the caller.
type MovementRequest struct {
	Account string          `json:"account" validate:"omitempty,max=128"`
	Amount  decimal.Decimal `json:"amount"`
}

// BalanceResponse reports an account balance
type BalanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// LedgerEntryResponse is one ledger entry
type LedgerEntryResponse struct {
	SubscriptionID *uint64 `json:"subscription_id,omitempty"`
	ID             string  `json:"id"`
	Account        string  `json:"account"`
	Kind           string  `json:"kind"`
	CreatedAt      string  `json:"created_at"`
	Amount         int64   `json:"amount"`
	BalanceAfter   int64   `json:"balance_after"`
}

// Deposit handles POST /v1/escrow/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	h.movement(w, r, h.service.Deposit, http.StatusCreated)
}

// Withdraw handles POST /v1/escrow/withdrawals
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	h.movement(w, r, h.service.Withdraw, http.StatusOK)
}

func (h *Handler) movement(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, account domain.AccountID, amount int64) (int64, error),
	status int,
) {
	var req MovementRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	amount, err := respond.Amount(req.Amount)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	balance, err := op(r.Context(), domain.AccountID(req.Account), amount)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	account := req.Account
	if account == "" {
		caller, _ := auth.CallerFromContext(r.Context())
		account = caller.String()
	}
	respond.JSON(w, status, BalanceResponse{Account: account, Balance: balance}, h.logger)
}

// GetBalance handles GET /v1/escrow/accounts/{account}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account := domain.AccountID(params["account"])
	balance, err := h.service.GetBalance(r.Context(), account)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}
	respond.JSON(w, http.StatusOK, BalanceResponse{Account: account.String(), Balance: balance}, h.logger)
}

// ListEntries handles GET /v1/escrow/accounts/{account}/entries?limit=N
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request, params map[string]string) {
	limit := DefaultEntriesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			respond.Error(w, domain.ErrValidationFailed.WithDetail("limit", raw), h.logger)
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListEntries(r.Context(), domain.AccountID(params["account"]), limit)
	if err != nil {
		respond.Error(w, err, h.logger)
		return
	}

	resp := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := LedgerEntryResponse{
			ID:           e.ID.String(),
			Account:      e.Account.String(),
			Kind:         string(e.Kind),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if e.SubscriptionID != nil {
			id := uint64(*e.SubscriptionID)
			item.SubscriptionID = &id
		}
		resp = append(resp, item)
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"entries": resp}, h.logger)
}
