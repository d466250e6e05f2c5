// Package memstore is an in-memory implementation of the ledger, network,
// plan, order and withdrawal stores. It keeps the same idempotency
// contract as the PostgreSQL repositories: a source_ref is recorded once.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

type planKey struct {
	plan      string
	structure model.StructureType
	level     int
}

// Store holds every table behind one mutex.
type Store struct {
	mu sync.RWMutex

	txs       map[uuid.UUID]*model.Transaction
	bySource  map[string]uuid.UUID
	txOrder   []uuid.UUID
	members   map[uuid.UUID]*model.NetworkMember
	byCode    map[string]uuid.UUID
	levels    map[planKey]*model.CommissionLevel
	orders    map[uuid.UUID]*model.Order
	items     map[uuid.UUID][]*model.OrderItem
	rules     map[uuid.UUID]*model.AutoWithdrawRule
	withdraws map[uuid.UUID]*model.Withdrawal

	now func() time.Time
}

// New creates an empty store. now stamps created_at when callers leave it zero.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		txs:       make(map[uuid.UUID]*model.Transaction),
		bySource:  make(map[string]uuid.UUID),
		members:   make(map[uuid.UUID]*model.NetworkMember),
		byCode:    make(map[string]uuid.UUID),
		levels:    make(map[planKey]*model.CommissionLevel),
		orders:    make(map[uuid.UUID]*model.Order),
		items:     make(map[uuid.UUID][]*model.OrderItem),
		rules:     make(map[uuid.UUID]*model.AutoWithdrawRule),
		withdraws: make(map[uuid.UUID]*model.Withdrawal),
		now:       now,
	}
}

// Ledger returns the ledger store view.
func (s *Store) Ledger() *Ledger { return &Ledger{s: s} }

// Members returns the network store view.
func (s *Store) Members() *Members { return &Members{s: s} }

// Plans returns the plan store view.
func (s *Store) Plans() *Plans { return &Plans{s: s} }

// Orders returns the order store view.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Withdrawals returns the withdrawal store view.
func (s *Store) Withdrawals() *Withdrawals { return &Withdrawals{s: s} }

func copyTx(tx *model.Transaction) *model.Transaction {
	c := *tx
	return &c
}

// insertLocked assumes s.mu is held for writing.
func (s *Store) insertLocked(tx *model.Transaction) (*model.Transaction, error) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if tx.SourceRef != nil {
		if id, ok := s.bySource[*tx.SourceRef]; ok {
			return copyTx(s.txs[id]), fmt.Errorf("%w: source_ref %q", model.ErrDuplicateEvent, *tx.SourceRef)
		}
	}
	if existing, ok := s.txs[tx.ID]; ok {
		return copyTx(existing), fmt.Errorf("%w: transaction %s", model.ErrDuplicateEvent, tx.ID)
	}

	stored := copyTx(tx)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.txs[stored.ID] = stored
	s.txOrder = append(s.txOrder, stored.ID)
	if stored.SourceRef != nil {
		s.bySource[*stored.SourceRef] = stored.ID
	}
	return copyTx(stored), nil
}

func (s *Store) balanceLocked(userID uuid.UUID, now time.Time) *model.Balance {
	b := model.Balance{UserID: userID, AsOf: now}
	for _, tx := range s.txs {
		if tx.UserID == userID {
			b.Apply(tx)
		}
	}
	return &b
}

// Ledger implements the ledger store.
type Ledger struct{ s *Store }

// Append inserts tx or returns the stored row with model.ErrDuplicateEvent.
func (l *Ledger) Append(_ context.Context, tx *model.Transaction) (*model.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.insertLocked(tx)
}

// GetBySourceRef retrieves the row recorded under an idempotency key.
func (l *Ledger) GetBySourceRef(_ context.Context, sourceRef string) (*model.Transaction, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	id, ok := l.s.bySource[sourceRef]
	if !ok {
		return nil, fmt.Errorf("%w: source_ref %q", model.ErrNotFound, sourceRef)
	}
	return copyTx(l.s.txs[id]), nil
}

// GetBalance folds the user's rows as of now.
func (l *Ledger) GetBalance(_ context.Context, userID uuid.UUID, now time.Time) (*model.Balance, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	return l.s.balanceLocked(userID, now), nil
}

// List returns the user's rows newest first.
func (l *Ledger) List(_ context.Context, userID uuid.UUID, f model.TransactionFilter) ([]*model.Transaction, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var out []*model.Transaction
	for _, id := range l.s.txOrder {
		tx := l.s.txs[id]
		switch {
		case tx.UserID != userID:
			continue
		case f.Type != nil && tx.Type != *f.Type:
			continue
		case f.Status != nil && tx.Status != *f.Status:
			continue
		case f.StructureType != nil && (tx.StructureType == nil || *tx.StructureType != *f.StructureType):
			continue
		case f.SourceID != nil && (tx.SourceID == nil || *tx.SourceID != *f.SourceID):
			continue
		case f.From != nil && tx.CreatedAt.Before(*f.From):
			continue
		case f.To != nil && !tx.CreatedAt.Before(*f.To):
			continue
		}
		out = append(out, copyTx(tx))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListMatured returns ids of rows whose freeze window has elapsed.
func (l *Ledger) ListMatured(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var ids []uuid.UUID
	for _, id := range l.s.txOrder {
		tx := l.s.txs[id]
		if tx.FrozenUntil != nil && !tx.FrozenUntil.After(now) {
			ids = append(ids, id)
			if limit > 0 && len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

// ReleaseFrozen clears frozen_until when still set and elapsed.
func (l *Ledger) ReleaseFrozen(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	tx, ok := l.s.txs[id]
	if !ok || tx.FrozenUntil == nil || tx.FrozenUntil.After(now) {
		return false, nil
	}
	tx.FrozenUntil = nil
	tx.UpdatedAt = now
	return true, nil
}

// SumCommissionByLevel returns completed commission earned per level.
func (l *Ledger) SumCommissionByLevel(_ context.Context, userID uuid.UUID, structure model.StructureType) (map[int]int64, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	sums := make(map[int]int64)
	for _, tx := range l.s.txs {
		if tx.UserID != userID || tx.Type != model.TxTypeCommission || tx.Status != model.TxStatusCompleted {
			continue
		}
		if tx.StructureType == nil || *tx.StructureType != structure || tx.Level == nil {
			continue
		}
		sums[*tx.Level] += tx.AmountMinor
	}
	return sums, nil
}

// Members implements the network store.
type Members struct{ s *Store }

// Create inserts a member.
func (m *Members) Create(_ context.Context, member *model.NetworkMember) (*model.NetworkMember, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.members[member.UserID]; ok {
		return nil, fmt.Errorf("%w: member %s already registered", model.ErrDuplicateEvent, member.UserID)
	}
	if _, ok := m.s.byCode[member.ReferralCode]; ok {
		return nil, fmt.Errorf("%w: referral code %q is taken", model.ErrValidation, member.ReferralCode)
	}
	if member.SponsorID != nil {
		if *member.SponsorID == member.UserID {
			return nil, fmt.Errorf("%w: member cannot sponsor itself", model.ErrValidation)
		}
		if _, ok := m.s.members[*member.SponsorID]; !ok {
			return nil, fmt.Errorf("%w: sponsor %s", model.ErrNotFound, *member.SponsorID)
		}
	}

	c := *member
	if c.ActivationStatus == "" {
		c.ActivationStatus = model.ActivationInactive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.s.now()
	}
	m.s.members[c.UserID] = &c
	m.s.byCode[c.ReferralCode] = c.UserID
	out := c
	return &out, nil
}

// Put stores a member without any checks. Tests use it to build arbitrary
// graphs, including broken ones.
func (m *Members) Put(member *model.NetworkMember) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := *member
	m.s.members[c.UserID] = &c
	if c.ReferralCode != "" {
		m.s.byCode[c.ReferralCode] = c.UserID
	}
}

// Get retrieves a member by user id.
func (m *Members) Get(_ context.Context, userID uuid.UUID) (*model.NetworkMember, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	member, ok := m.s.members[userID]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", model.ErrNotFound, userID)
	}
	c := *member
	return &c, nil
}

// GetByReferralCode resolves a referral code.
func (m *Members) GetByReferralCode(ctx context.Context, code string) (*model.NetworkMember, error) {
	m.s.mu.RLock()
	id, ok := m.s.byCode[code]
	m.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: referral code %q", model.ErrNotFound, code)
	}
	return m.Get(ctx, id)
}

// ListChildren returns the direct referrals of the given sponsors.
func (m *Members) ListChildren(_ context.Context, sponsorIDs []uuid.UUID) ([]*model.NetworkMember, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	want := make(map[uuid.UUID]bool, len(sponsorIDs))
	for _, id := range sponsorIDs {
		want[id] = true
	}
	var out []*model.NetworkMember
	for _, member := range m.s.members {
		if member.SponsorID != nil && want[*member.SponsorID] {
			c := *member
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return out, nil
}

// SetActivationStatus updates the display status of a member.
func (m *Members) SetActivationStatus(_ context.Context, userID uuid.UUID, status model.ActivationStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	member, ok := m.s.members[userID]
	if !ok {
		return fmt.Errorf("%w: member %s", model.ErrNotFound, userID)
	}
	member.ActivationStatus = status
	return nil
}

// Plans implements the plan store.
type Plans struct{ s *Store }

// ListLevels returns the configured levels ordered by level.
func (p *Plans) ListLevels(_ context.Context, planID string, structure model.StructureType) ([]*model.CommissionLevel, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	var out []*model.CommissionLevel
	for k, l := range p.s.levels {
		if k.plan == planID && k.structure == structure {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// SetLevel creates or replaces one level.
func (p *Plans) SetLevel(_ context.Context, l *model.CommissionLevel) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	c := *l
	p.s.levels[planKey{l.PlanID, l.StructureType, l.Level}] = &c
	return nil
}

// DeleteLevel removes a level.
func (p *Plans) DeleteLevel(_ context.Context, planID string, structure model.StructureType, level int) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	k := planKey{planID, structure, level}
	if _, ok := p.s.levels[k]; !ok {
		return fmt.Errorf("%w: plan %s/%s level %d", model.ErrNotFound, planID, structure, level)
	}
	delete(p.s.levels, k)
	return nil
}

// SetPercents is a test helper that installs percents by level.
func (p *Plans) SetPercents(planID string, structure model.StructureType, percents map[int]decimal.Decimal) {
	for level, pct := range percents {
		_ = p.SetLevel(context.Background(), &model.CommissionLevel{
			PlanID: planID, StructureType: structure, Level: level, Percent: pct,
		})
	}
}

// Orders implements the order store.
type Orders struct{ s *Store }

// Create inserts an order with its items.
func (o *Orders) Create(_ context.Context, order *model.Order, items []*model.OrderItem) (*model.Order, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if _, ok := o.s.orders[order.ID]; ok {
		return nil, fmt.Errorf("%w: order %s already exists", model.ErrDuplicateEvent, order.ID)
	}
	c := *order
	now := o.s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	o.s.orders[c.ID] = &c

	stored := make([]*model.OrderItem, 0, len(items))
	for _, item := range items {
		ic := *item
		if ic.ID == uuid.Nil {
			ic.ID = uuid.New()
		}
		ic.OrderID = c.ID
		ic.CreatedAt = now
		stored = append(stored, &ic)
	}
	o.s.items[c.ID] = stored

	out := c
	return &out, nil
}

// Get retrieves an order.
func (o *Orders) Get(_ context.Context, id uuid.UUID) (*model.Order, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	order, ok := o.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, id)
	}
	c := *order
	return &c, nil
}

// ListItems returns the lines of an order.
func (o *Orders) ListItems(_ context.Context, orderID uuid.UUID) ([]*model.OrderItem, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	var out []*model.OrderItem
	for _, item := range o.s.items[orderID] {
		c := *item
		out = append(out, &c)
	}
	return out, nil
}

// Settle marks the order paid and appends its purchase row atomically.
func (o *Orders) Settle(_ context.Context, orderID uuid.UUID, purchase *model.Transaction, now time.Time) (*model.Transaction, *model.Balance, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	order, ok := o.s.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
	}
	if order.Status == model.OrderPaid {
		var existing *model.Transaction
		if purchase.SourceRef != nil {
			if id, ok := o.s.bySource[*purchase.SourceRef]; ok {
				existing = copyTx(o.s.txs[id])
			}
		}
		return existing, nil, fmt.Errorf("%w: order already settled", model.ErrDuplicateEvent)
	}

	stored, err := o.s.insertLocked(purchase)
	if err != nil {
		return stored, nil, err
	}
	order.Status = model.OrderPaid
	paidAt := now
	order.PaidAt = &paidAt
	order.UpdatedAt = now

	return stored, o.s.balanceLocked(purchase.UserID, now), nil
}

// Cancel moves an unpaid order to cancelled.
func (o *Orders) Cancel(_ context.Context, orderID uuid.UUID) (bool, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	order, ok := o.s.orders[orderID]
	if !ok {
		return false, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
	}
	if order.Status != model.OrderDraft && order.Status != model.OrderPending {
		return false, nil
	}
	order.Status = model.OrderCancelled
	order.UpdatedAt = o.s.now()
	return true, nil
}

// SumActivationPurchases sums activation-flagged lines of orders paid in [from, to).
func (o *Orders) SumActivationPurchases(_ context.Context, userID uuid.UUID, from, to time.Time) (int64, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()

	var sum int64
	for id, order := range o.s.orders {
		if !paidWithin(order, userID, from, to) {
			continue
		}
		for _, item := range o.s.items[id] {
			if item.IsActivationSnapshot {
				sum += item.LineTotal()
			}
		}
	}
	return sum, nil
}

// VolumeByUser sums paid order totals per user in [from, to).
func (o *Orders) VolumeByUser(_ context.Context, userIDs []uuid.UUID, from, to time.Time) (map[uuid.UUID]int64, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()

	volumes := make(map[uuid.UUID]int64, len(userIDs))
	for _, userID := range userIDs {
		for _, order := range o.s.orders {
			if paidWithin(order, userID, from, to) {
				volumes[userID] += order.TotalMinor
			}
		}
	}
	return volumes, nil
}

// MarkPaid is a test helper that records a paid order directly.
func (o *Orders) MarkPaid(orderID uuid.UUID, at time.Time) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if order, ok := o.s.orders[orderID]; ok {
		order.Status = model.OrderPaid
		order.PaidAt = &at
	}
}

func paidWithin(order *model.Order, userID uuid.UUID, from, to time.Time) bool {
	return order.UserID == userID &&
		order.Status == model.OrderPaid &&
		order.PaidAt != nil &&
		!order.PaidAt.Before(from) &&
		order.PaidAt.Before(to)
}

// Withdrawals implements the withdrawal store.
type Withdrawals struct{ s *Store }

// ListEnabledRules returns every enabled rule ordered by user.
func (w *Withdrawals) ListEnabledRules(_ context.Context) ([]*model.AutoWithdrawRule, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()

	var out []*model.AutoWithdrawRule
	for _, rule := range w.s.rules {
		if rule.Enabled {
			c := *rule
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

// GetRule retrieves the rule of one user.
func (w *Withdrawals) GetRule(_ context.Context, userID uuid.UUID) (*model.AutoWithdrawRule, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	rule, ok := w.s.rules[userID]
	if !ok {
		return nil, fmt.Errorf("%w: auto-withdraw rule for %s", model.ErrNotFound, userID)
	}
	c := *rule
	return &c, nil
}

// SaveRule creates or replaces the user's rule.
func (w *Withdrawals) SaveRule(_ context.Context, rule *model.AutoWithdrawRule) (*model.AutoWithdrawRule, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	c := *rule
	now := w.s.now()
	if prev, ok := w.s.rules[rule.UserID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	w.s.rules[c.UserID] = &c
	out := c
	return &out, nil
}

// Create records a withdrawal and its ledger row atomically.
func (w *Withdrawals) Create(_ context.Context, wd *model.Withdrawal, ledgerTx *model.Transaction) (*model.Withdrawal, *model.Transaction, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	if existing, ok := w.s.withdraws[wd.ID]; ok {
		c := *existing
		var stored *model.Transaction
		if ledgerTx.SourceRef != nil {
			if id, ok := w.s.bySource[*ledgerTx.SourceRef]; ok {
				stored = copyTx(w.s.txs[id])
			}
		}
		return &c, stored, fmt.Errorf("%w: withdrawal %s", model.ErrDuplicateEvent, wd.ID)
	}

	stored, err := w.s.insertLocked(ledgerTx)
	if err != nil {
		return nil, stored, err
	}

	c := *wd
	c.TransactionID = &stored.ID
	c.CreatedAt = w.s.now()
	w.s.withdraws[c.ID] = &c
	out := c
	return &out, stored, nil
}

// Get retrieves a withdrawal.
func (w *Withdrawals) Get(_ context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	wd, ok := w.s.withdraws[id]
	if !ok {
		return nil, fmt.Errorf("%w: withdrawal %s", model.ErrNotFound, id)
	}
	c := *wd
	return &c, nil
}

// Count is a test helper returning the number of stored withdrawals.
func (w *Withdrawals) Count() int {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	return len(w.s.withdraws)
}
