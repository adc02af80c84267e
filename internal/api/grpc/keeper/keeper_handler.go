package keeper

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/internal/services/scheduler"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Scheduler is the payment surface keepers drive
type Scheduler interface {
	IsDue(ctx context.Context, id domain.SubscriptionID) (bool, error)
	TimeUntilNextPayment(ctx context.Context, id domain.SubscriptionID) (time.Duration, error)
	ProcessPayment(ctx context.Context, id domain.SubscriptionID) (*scheduler.PaymentResult, error)
	BatchProcessPayments(ctx context.Context, ids []domain.SubscriptionID) (*scheduler.BatchResult, error)
	ProcessDue(ctx context.Context, limit int) (*scheduler.BatchResult, error)
}

// Handler implements KeeperServiceServer
type Handler struct {
	scheduler Scheduler
	logger    ports.Logger
}

var _ KeeperServiceServer = (*Handler)(nil)

// NewHandler creates a new keeper gRPC handler
func NewHandler(scheduler Scheduler, logger ports.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// ProcessPayment executes one due payment.
// Request: {"subscription_id": n}
func (h *Handler) ProcessPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := subscriptionID(req.GetFields()["subscription_id"])
	if err != nil {
		return nil, err
	}

	result, err := h.scheduler.ProcessPayment(ctx, id)
	if err != nil {
		return nil, handleServiceError(err)
	}

	fields := paymentFields(result.Record)
	fields["payer_balance"] = result.PayerBalance
	fields["next_due_time"] = result.Subscription.NextDueTime.UTC().Format(time.RFC3339)
	return newStruct(fields)
}

// BatchProcessPayments processes the listed subscriptions in order.
// Request: {"subscription_ids": [n, ...]}
func (h *Handler) BatchProcessPayments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	list := req.GetFields()["subscription_ids"].GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "subscription_ids must be a list")
	}

	ids := make([]domain.SubscriptionID, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		id, err := subscriptionID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	result, err := h.scheduler.BatchProcessPayments(ctx, ids)
	if err != nil {
		return nil, handleServiceError(err)
	}
	return batchToStruct(result)
}

// IsDue reports whether a payment can be executed now.
// Request: {"subscription_id": n}
func (h *Handler) IsDue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := subscriptionID(req.GetFields()["subscription_id"])
	if err != nil {
		return nil, err
	}

	due, err := h.scheduler.IsDue(ctx, id)
	if err != nil {
		return nil, handleServiceError(err)
	}
	wait, err := h.scheduler.TimeUntilNextPayment(ctx, id)
	if err != nil {
		return nil, handleServiceError(err)
	}

	return newStruct(map[string]interface{}{
		"subscription_id":         uint64(id),
		"is_due":                  due,
		"time_until_next_payment": int64(wait / time.Second),
	})
}

// ProcessDue sweeps due subscriptions.
// Request: {"limit": n}, limit optional
func (h *Handler) ProcessDue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := 0
	if v, ok := req.GetFields()["limit"]; ok {
		n, ok := wholeNumber(v)
		if !ok || n > math.MaxInt32 {
			return nil, status.Error(codes.InvalidArgument, "limit must be a non-negative integer")
		}
		limit = int(n)
	}

	result, err := h.scheduler.ProcessDue(ctx, limit)
	if err != nil {
		return nil, handleServiceError(err)
	}

	h.logger.Info("Keeper sweep via gRPC",
		ports.Int("requested", result.Requested),
		ports.Int("processed", len(result.Processed)),
		ports.Int("skipped", len(result.Skipped)),
	)
	return batchToStruct(result)
}

func batchToStruct(result *scheduler.BatchResult) (*structpb.Struct, error) {
	processed := make([]interface{}, 0, len(result.Processed))
	for _, p := range result.Processed {
		processed = append(processed, paymentFields(p.Record))
	}
	skipped := make([]interface{}, 0, len(result.Skipped))
	for _, s := range result.Skipped {
		skipped = append(skipped, map[string]interface{}{
			"subscription_id": uint64(s.SubscriptionID),
			"code":            string(s.Code),
			"reason":          s.Reason,
		})
	}
	return newStruct(map[string]interface{}{
		"requested": result.Requested,
		"processed": processed,
		"skipped":   skipped,
	})
}

func paymentFields(rec *domain.PaymentRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":              rec.ID.String(),
		"subscription_id": uint64(rec.SubscriptionID),
		"payer":           rec.Payer.String(),
		"recipient":       rec.Recipient.String(),
		"amount":          rec.Amount,
		"sequence":        rec.Sequence,
		"timestamp":       rec.Timestamp.UTC().Format(time.RFC3339),
	}
}

func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// maxExactID is the largest id a JSON number carries without rounding.
const maxExactID = 1 << 53

func subscriptionID(v *structpb.Value) (domain.SubscriptionID, error) {
	n, ok := wholeNumber(v)
	if !ok || n == 0 || n > maxExactID {
		return 0, status.Error(codes.InvalidArgument, "subscription_id must be a positive integer")
	}
	return domain.SubscriptionID(n), nil
}

// wholeNumber accepts a non-negative integer given as a JSON number or a decimal string.
func wholeNumber(v *structpb.Value) (uint64, bool) {
	if v == nil {
		return 0, false
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f < 0 || f != math.Trunc(f) || f > maxExactID {
			return 0, false
		}
		return uint64(f), true
	case *structpb.Value_StringValue:
		n, err := strconv.ParseUint(strings.TrimSpace(kind.StringValue), 10, 64)
		if err != nil || n > maxExactID {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
