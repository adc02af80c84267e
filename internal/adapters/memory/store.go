// Package memory is an in-process Store. Write transactions are serialized behind a
// single lock and stage their writes in layers that are folded into the committed
// state only when the callback succeeds.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
)

var errReadOnly = errors.New("memory store: write attempted in read-only transaction")

type state struct {
	balances map[domain.AccountID]int64
	entries  map[domain.AccountID][]*domain.LedgerEntry
	subs     map[domain.SubscriptionID]*domain.Subscription
	byPayer  map[domain.AccountID][]domain.SubscriptionID
	payments map[domain.SubscriptionID][]*domain.PaymentRecord
	lastID   domain.SubscriptionID
}

// Store keeps all state in maps guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	base *state
}

var _ ports.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{base: &state{
		balances: make(map[domain.AccountID]int64),
		entries:  make(map[domain.AccountID][]*domain.LedgerEntry),
		subs:     make(map[domain.SubscriptionID]*domain.Subscription),
		byPayer:  make(map[domain.AccountID][]domain.SubscriptionID),
		payments: make(map[domain.SubscriptionID][]*domain.PaymentRecord),
	}}
}

// WithTransaction runs fn holding the write lock. Staged writes are applied only if fn succeeds.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := newLayer(nil, s.base, false)
	if err := fn(ctx, &tx{l: l}); err != nil {
		return err
	}
	l.commit()
	return nil
}

// WithReadOnlyTransaction runs fn holding the read lock.
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, &tx{l: newLayer(nil, s.base, true)})
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// layer stages writes on top of its parent layer or, for the root, the committed state.
type layer struct {
	parent   *layer
	base     *state
	balances map[domain.AccountID]int64
	subs     map[domain.SubscriptionID]*domain.Subscription
	created  []domain.SubscriptionID
	entries  []*domain.LedgerEntry
	payments []*domain.PaymentRecord
	lastID   domain.SubscriptionID
	readOnly bool
}

func newLayer(parent *layer, base *state, readOnly bool) *layer {
	l := &layer{
		parent:   parent,
		base:     base,
		balances: make(map[domain.AccountID]int64),
		subs:     make(map[domain.SubscriptionID]*domain.Subscription),
		lastID:   base.lastID,
		readOnly: readOnly,
	}
	if parent != nil {
		l.lastID = parent.lastID
		l.readOnly = parent.readOnly
	}
	return l
}

// chain returns the layers from the root down to l.
func (l *layer) chain() []*layer {
	var out []*layer
	for c := l; c != nil; c = c.parent {
		out = append(out, c)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (l *layer) balance(account domain.AccountID) int64 {
	for c := l; c != nil; c = c.parent {
		if v, ok := c.balances[account]; ok {
			return v
		}
	}
	return l.base.balances[account]
}

func (l *layer) subscription(id domain.SubscriptionID) (*domain.Subscription, bool) {
	for c := l; c != nil; c = c.parent {
		if v, ok := c.subs[id]; ok {
			return v, true
		}
	}
	v, ok := l.base.subs[id]
	return v, ok
}

// mergeInto folds l's writes into its parent.
func (l *layer) mergeInto(p *layer) {
	for k, v := range l.balances {
		p.balances[k] = v
	}
	for k, v := range l.subs {
		p.subs[k] = v
	}
	p.created = append(p.created, l.created...)
	p.entries = append(p.entries, l.entries...)
	p.payments = append(p.payments, l.payments...)
	p.lastID = l.lastID
}

// commit folds a root layer into the committed state.
func (l *layer) commit() {
	b := l.base
	for k, v := range l.balances {
		b.balances[k] = v
	}
	for k, v := range l.subs {
		b.subs[k] = v
	}
	for _, id := range l.created {
		sub := l.subs[id]
		b.byPayer[sub.Payer] = append(b.byPayer[sub.Payer], id)
	}
	for _, e := range l.entries {
		b.entries[e.Account] = append(b.entries[e.Account], e)
	}
	for _, p := range l.payments {
		b.payments[p.SubscriptionID] = append(b.payments[p.SubscriptionID], p)
	}
	b.lastID = l.lastID
}

type tx struct {
	l *layer
}

func (t *tx) Accounts() ports.AccountRepository           { return accountRepo{t.l} }
func (t *tx) Subscriptions() ports.SubscriptionRepository { return subscriptionRepo{t.l} }
func (t *tx) Payments() ports.PaymentRepository           { return paymentRepo{t.l} }

func (t *tx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	child := newLayer(t.l, t.l.base, t.l.readOnly)
	if err := fn(ctx, &tx{l: child}); err != nil {
		return err
	}
	child.mergeInto(t.l)
	return nil
}

type accountRepo struct{ l *layer }

func (r accountRepo) GetBalance(_ context.Context, account domain.AccountID) (int64, error) {
	return r.l.balance(account), nil
}

func (r accountRepo) Credit(_ context.Context, account domain.AccountID, amount int64) (int64, error) {
	if r.l.readOnly {
		return 0, errReadOnly
	}
	current := r.l.balance(account)
	if amount > math.MaxInt64-current {
		return 0, domain.ErrBalanceOverflow
	}
	r.l.balances[account] = current + amount
	return current + amount, nil
}

func (r accountRepo) Debit(_ context.Context, account domain.AccountID, amount int64) (int64, error) {
	if r.l.readOnly {
		return 0, errReadOnly
	}
	current := r.l.balance(account)
	if current < amount {
		return current, domain.ErrInsufficientBalance.
			WithDetail("balance", current).
			WithDetail("required", amount)
	}
	r.l.balances[account] = current - amount
	return current - amount, nil
}

func (r accountRepo) AppendEntry(_ context.Context, entry *domain.LedgerEntry) error {
	if r.l.readOnly {
		return errReadOnly
	}
	e := *entry
	r.l.entries = append(r.l.entries, &e)
	return nil
}

func (r accountRepo) GetEntry(_ context.Context, account domain.AccountID, id uuid.UUID) (*domain.LedgerEntry, error) {
	for _, e := range r.l.base.entries[account] {
		if e.ID == id {
			found := *e
			return &found, nil
		}
	}
	for _, c := range r.l.chain() {
		for _, e := range c.entries {
			if e.Account == account && e.ID == id {
				found := *e
				return &found, nil
			}
		}
	}
	return nil, ports.ErrEntryNotFound
}

func (r accountRepo) ListEntries(_ context.Context, account domain.AccountID, limit int) ([]*domain.LedgerEntry, error) {
	all := append([]*domain.LedgerEntry(nil), r.l.base.entries[account]...)
	for _, c := range r.l.chain() {
		for _, e := range c.entries {
			if e.Account == account {
				all = append(all, e)
			}
		}
	}

	out := make([]*domain.LedgerEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		e := *all[i]
		out = append(out, &e)
	}
	return out, nil
}

type subscriptionRepo struct{ l *layer }

func (r subscriptionRepo) Create(_ context.Context, sub *domain.Subscription) error {
	if r.l.readOnly {
		return errReadOnly
	}
	r.l.lastID++
	sub.ID = r.l.lastID
	r.l.subs[sub.ID] = sub.Clone()
	r.l.created = append(r.l.created, sub.ID)
	return nil
}

func (r subscriptionRepo) Get(_ context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	sub, ok := r.l.subscription(id)
	if !ok {
		return nil, domain.ErrSubscriptionNotFound.WithDetail("subscription_id", uint64(id))
	}
	return sub.Clone(), nil
}

func (r subscriptionRepo) Update(_ context.Context, sub *domain.Subscription) error {
	if r.l.readOnly {
		return errReadOnly
	}
	if _, ok := r.l.subscription(sub.ID); !ok {
		return domain.ErrSubscriptionNotFound.WithDetail("subscription_id", uint64(sub.ID))
	}
	r.l.subs[sub.ID] = sub.Clone()
	return nil
}

func (r subscriptionRepo) ListByPayer(_ context.Context, payer domain.AccountID, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	ids := append([]domain.SubscriptionID(nil), r.l.base.byPayer[payer]...)
	for _, c := range r.l.chain() {
		for _, id := range c.created {
			if sub, _ := r.l.subscription(id); sub.Payer == payer {
				ids = append(ids, id)
			}
		}
	}

	out := make([]*domain.Subscription, 0, len(ids))
	for _, id := range ids {
		sub, _ := r.l.subscription(id)
		if status == "" || sub.Status == status {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

func (r subscriptionRepo) ListDue(_ context.Context, asOf time.Time, limit int) ([]domain.SubscriptionID, error) {
	var due []*domain.Subscription
	seen := make(map[domain.SubscriptionID]bool)
	consider := func(id domain.SubscriptionID) {
		if seen[id] {
			return
		}
		seen[id] = true
		if sub, _ := r.l.subscription(id); sub.IsDue(asOf) {
			due = append(due, sub)
		}
	}
	for id := range r.l.base.subs {
		consider(id)
	}
	for _, c := range r.l.chain() {
		for _, id := range c.created {
			consider(id)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextDueTime.Equal(due[j].NextDueTime) {
			return due[i].NextDueTime.Before(due[j].NextDueTime)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]domain.SubscriptionID, len(due))
	for i, sub := range due {
		ids[i] = sub.ID
	}
	return ids, nil
}

type paymentRepo struct{ l *layer }

func (r paymentRepo) Append(_ context.Context, record *domain.PaymentRecord) error {
	if r.l.readOnly {
		return errReadOnly
	}
	p := *record
	r.l.payments = append(r.l.payments, &p)
	return nil
}

func (r paymentRepo) ListBySubscription(_ context.Context, id domain.SubscriptionID) ([]*domain.PaymentRecord, error) {
	all := append([]*domain.PaymentRecord(nil), r.l.base.payments[id]...)
	for _, c := range r.l.chain() {
		for _, p := range c.payments {
			if p.SubscriptionID == id {
				all = append(all, p)
			}
		}
	}

	out := make([]*domain.PaymentRecord, len(all))
	for i, p := range all {
		rec := *p
		out[i] = &rec
	}
	return out, nil
}
