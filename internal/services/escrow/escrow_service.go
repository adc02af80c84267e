package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
)

// Service is the escrow ledger: per-account spendable balances that only move through
// deposits, caller-authorized withdrawals and subscription payments.
type Service struct {
	tm        ports.TransactionManager
	gateway   ports.TransferGateway
	clock     ports.Clock
	publisher ports.EventPublisher
	logger    ports.Logger
}

// NewService creates a new escrow service
func NewService(
	tm ports.TransactionManager,
	gateway ports.TransferGateway,
	clock ports.Clock,
	publisher ports.EventPublisher,
	logger ports.Logger,
) *Service {
	return &Service{
		tm:        tm,
		gateway:   gateway,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
	}
}

// Deposit credits amount to account. An empty account means the caller's own.
func (s *Service) Deposit(ctx context.Context, account domain.AccountID, amount int64) (int64, error) {
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		return 0, err
	}
	if account == "" {
		account = caller
	}
	if account.IsZero() {
		return 0, domain.ErrAccountInvalid
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	var balance int64
	err = s.tm.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		balance, err = tx.Accounts().Credit(ctx, account, amount)
		if err != nil {
			return fmt.Errorf("credit %s: %w", account, err)
		}
		return tx.Accounts().AppendEntry(ctx, domain.NewLedgerEntry(account, domain.EntryKindDeposit, amount, balance, now))
	})
	if err != nil {
		observability.RecordEscrowMovement(string(domain.EntryKindDeposit), "failed", amount)
		s.logger.Error("Deposit failed",
			ports.String("account", account.String()),
			ports.String("caller", caller.String()),
			ports.Int64("amount", amount),
			ports.Err(err),
		)
		return 0, err
	}

	observability.RecordEscrowMovement(string(domain.EntryKindDeposit), "success", amount)
	s.logger.Info("Deposit recorded",
		ports.String("account", account.String()),
		ports.String("caller", caller.String()),
		ports.Int64("amount", amount),
		ports.Int64("balance", balance),
	)
	s.publish(ctx, domain.NewEvent(domain.EventDepositMade, now, map[string]any{
		"account": account.String(),
		"funder":  caller.String(),
		"amount":  amount,
		"balance": balance,
	}))

	return balance, nil
}

// Withdraw debits amount from the caller's account and transfers it to the caller.
// account must be empty or the caller. A failed transfer leaves the balance untouched.
//
// When ctx carries a request id the withdrawal is idempotent on (account, request id):
// a repeat returns the balance recorded by the first one and moves nothing. Without a
// request id every call is a new withdrawal.
func (s *Service) Withdraw(ctx context.Context, account domain.AccountID, amount int64) (int64, error) {
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		return 0, err
	}
	if account == "" {
		account = caller
	}
	if account != caller {
		return 0, domain.ErrNotOwner.WithDetail("account", account.String())
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return 0, err
	}

	entryID := uuid.New()
	requestID := auth.GetAuthInfo(ctx).RequestID
	if requestID != "" {
		entryID = withdrawalEntryID(account, requestID)
	}

	now := s.clock.Now().UTC()
	var (
		balance  int64
		replayed bool
	)
	err = s.tm.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		if requestID != "" {
			prior, err := tx.Accounts().GetEntry(ctx, account, entryID)
			switch {
			case err == nil:
				if prior.Kind != domain.EntryKindWithdrawal || prior.Amount != amount {
					return domain.ErrValidationFailed.
						WithDetail("request_id", requestID).
						WithDetail("reason", "request id already used for a different withdrawal")
				}
				balance, replayed = prior.BalanceAfter, true
				return nil
			case !errors.Is(err, ports.ErrEntryNotFound):
				return fmt.Errorf("look up withdrawal: %w", err)
			}
		}

		entry := domain.NewLedgerEntry(account, domain.EntryKindWithdrawal, amount, 0, now)
		entry.ID = entryID
		var err error
		if balance, err = s.debit(ctx, tx, entry); err != nil {
			return err
		}
		return s.transfer(ctx, ports.TransferRequest{
			Destination: account,
			Kind:        ports.TransferKindWithdrawal,
			Amount:      amount,
			Reference:   WithdrawalReference(entryID),
		})
	})
	if err != nil {
		observability.RecordEscrowMovement(string(domain.EntryKindWithdrawal), "failed", amount)
		s.logger.Warn("Withdrawal rejected",
			ports.String("account", account.String()),
			ports.Int64("amount", amount),
			ports.String("code", string(domain.GetErrorCode(err))),
			ports.Err(err),
		)
		return 0, err
	}
	if replayed {
		s.logger.Info("Withdrawal already recorded",
			ports.String("account", account.String()),
			ports.String("request_id", requestID),
			ports.Int64("amount", amount),
		)
		return balance, nil
	}

	observability.RecordEscrowMovement(string(domain.EntryKindWithdrawal), "success", amount)
	s.logger.Info("Withdrawal completed",
		ports.String("account", account.String()),
		ports.Int64("amount", amount),
		ports.Int64("balance", balance),
	)
	s.publish(ctx, domain.NewEvent(domain.EventWithdrawalMade, now, map[string]any{
		"account": account.String(),
		"amount":  amount,
		"balance": balance,
	}))

	return balance, nil
}

// DebitForPayment debits the subscription's payer inside tx and records the ledger
// entry. No money leaves until SettlePayment is called.
func (s *Service) DebitForPayment(ctx context.Context, tx ports.Tx, sub *domain.Subscription, now time.Time) (int64, error) {
	entry := domain.NewLedgerEntry(sub.Payer, domain.EntryKindPayment, sub.Amount, 0, now)
	id := sub.ID
	entry.SubscriptionID = &id
	return s.debit(ctx, tx, entry)
}

// SettlePayment pays the recipient for the payment numbered sequence. Callers invoke it
// as the last step of the invocation that debited the payer, so its failure rolls the
// debit back and nothing after it can.
func (s *Service) SettlePayment(ctx context.Context, sub *domain.Subscription, sequence int64) error {
	return s.transfer(ctx, ports.TransferRequest{
		Destination:    sub.Recipient,
		Kind:           ports.TransferKindPayment,
		Amount:         sub.Amount,
		SubscriptionID: sub.ID,
		Reference:      PaymentReference(sub.ID, sequence),
	})
}

// PaymentReference is the settlement idempotency key of a subscription payment.
func PaymentReference(id domain.SubscriptionID, sequence int64) string {
	return fmt.Sprintf("sub-%d-%d", id, sequence)
}

// WithdrawalReference is the settlement idempotency key of a withdrawal.
func WithdrawalReference(entryID uuid.UUID) string {
	return "wd-" + entryID.String()
}

var withdrawalNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("escrow-scheduler/withdrawal"))

func withdrawalEntryID(account domain.AccountID, requestID string) uuid.UUID {
	return uuid.NewSHA1(withdrawalNamespace, []byte(account.String()+"\x00"+requestID))
}

// debit takes entry.Amount from entry.Account and appends entry with the new balance.
func (s *Service) debit(ctx context.Context, tx ports.Tx, entry *domain.LedgerEntry) (int64, error) {
	balance, err := tx.Accounts().Debit(ctx, entry.Account, entry.Amount)
	if err != nil {
		return 0, err
	}
	entry.BalanceAfter = balance
	if err := tx.Accounts().AppendEntry(ctx, entry); err != nil {
		return 0, fmt.Errorf("append ledger entry: %w", err)
	}
	return balance, nil
}

func (s *Service) transfer(ctx context.Context, req ports.TransferRequest) error {
	start := time.Now()
	if err := s.gateway.Transfer(ctx, req); err != nil {
		observability.RecordTransfer(string(req.Kind), "failed", time.Since(start))
		return domain.ErrTransferFailed.Wrap(err).
			WithDetail("destination", req.Destination.String()).
			WithDetail("amount", req.Amount)
	}
	observability.RecordTransfer(string(req.Kind), "success", time.Since(start))
	return nil
}

// GetBalance returns the account's spendable balance.
func (s *Service) GetBalance(ctx context.Context, account domain.AccountID) (int64, error) {
	if account.IsZero() {
		return 0, domain.ErrAccountInvalid
	}
	var balance int64
	err := s.tm.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		balance, err = tx.Accounts().GetBalance(ctx, account)
		return err
	})
	return balance, err
}

// ListEntries returns the account's ledger entries, newest first.
func (s *Service) ListEntries(ctx context.Context, account domain.AccountID, limit int) ([]*domain.LedgerEntry, error) {
	if account.IsZero() {
		return nil, domain.ErrAccountInvalid
	}
	var entries []*domain.LedgerEntry
	err := s.tm.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		entries, err = tx.Accounts().ListEntries(ctx, account, limit)
		return err
	})
	return entries, err
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			ports.String("event_type", string(event.Type)),
			ports.Err(err),
		)
	}
}
