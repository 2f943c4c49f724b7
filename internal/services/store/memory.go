package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

// Memory is an in-process Store. Tx runs fn directly and does not roll back on error.
type Memory struct {
	mu          sync.Mutex
	payments    map[uuid.UUID]models.PaymentRecord
	byIntent    map[string]uuid.UUID
	byHold      map[uuid.UUID]uuid.UUID
	consultants map[uuid.UUID]models.ConsultantAccount
	byAccount   map[string]uuid.UUID
	events      []models.WebhookEvent
	ledger      []models.WalletTransaction
	nowFn       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		payments:    make(map[uuid.UUID]models.PaymentRecord),
		byIntent:    make(map[string]uuid.UUID),
		byHold:      make(map[uuid.UUID]uuid.UUID),
		consultants: make(map[uuid.UUID]models.ConsultantAccount),
		byAccount:   make(map[string]uuid.UUID),
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Tx(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *Memory) CreatePayment(ctx context.Context, p *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byIntent[p.IntentID]; ok {
		return ErrDuplicate
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Hold.ID == uuid.Nil {
		p.Hold.ID = uuid.New()
	}
	now := m.nowFn()
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	m.payments[p.ID] = p.Clone()
	m.byIntent[p.IntentID] = p.ID
	m.byHold[p.Hold.ID] = p.ID
	return nil
}

func (m *Memory) GetPaymentByIntent(ctx context.Context, intentID string) (models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIntent[intentID]
	if !ok {
		return models.PaymentRecord{}, ErrNotFound
	}
	return m.payments[id].Clone(), nil
}

func (m *Memory) GetPaymentByHold(ctx context.Context, holdID uuid.UUID) (models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHold[holdID]
	if !ok {
		return models.PaymentRecord{}, ErrNotFound
	}
	return m.payments[id].Clone(), nil
}

func (m *Memory) SavePayment(ctx context.Context, p *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.payments[p.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != p.Version {
		return ErrConflict
	}
	if cur.IntentID != p.IntentID {
		if _, taken := m.byIntent[p.IntentID]; taken {
			return ErrDuplicate
		}
		delete(m.byIntent, cur.IntentID)
		m.byIntent[p.IntentID] = p.ID
	}
	p.Version++
	p.UpdatedAt = m.nowFn()
	m.payments[p.ID] = p.Clone()
	return nil
}

func (m *Memory) ListPaymentsNeedingSettlement(ctx context.Context, now time.Time, limit int) ([]models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range m.payments {
		if p.SettlementFlag != models.SettlementPendingReconciliation {
			continue
		}
		if p.NextAttemptAt != nil && p.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListPaymentsByConsultant(ctx context.Context, consultantID uuid.UUID) ([]models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range m.payments {
		if p.ConsultantID == consultantID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateConsultant(ctx context.Context, c *models.ConsultantAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ConnectedAccountID != nil {
		if _, ok := m.byAccount[*c.ConnectedAccountID]; ok {
			return ErrDuplicate
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := m.nowFn()
	if c.AppliedAt.IsZero() {
		c.AppliedAt = now
	}
	c.Version = 1
	c.CreatedAt, c.UpdatedAt = now, now
	m.consultants[c.ID] = cloneConsultant(*c)
	if c.ConnectedAccountID != nil {
		m.byAccount[*c.ConnectedAccountID] = c.ID
	}
	return nil
}

func (m *Memory) GetConsultant(ctx context.Context, id uuid.UUID) (models.ConsultantAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultants[id]
	if !ok {
		return models.ConsultantAccount{}, ErrNotFound
	}
	return cloneConsultant(c), nil
}

func (m *Memory) GetConsultantByConnectedAccount(ctx context.Context, accountID string) (models.ConsultantAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byAccount[accountID]
	if !ok {
		return models.ConsultantAccount{}, ErrNotFound
	}
	return cloneConsultant(m.consultants[id]), nil
}

func (m *Memory) SaveConsultant(ctx context.Context, c *models.ConsultantAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.consultants[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != c.Version {
		return ErrConflict
	}
	if c.ConnectedAccountID != nil {
		if owner, taken := m.byAccount[*c.ConnectedAccountID]; taken && owner != c.ID {
			return ErrDuplicate
		}
		m.byAccount[*c.ConnectedAccountID] = c.ID
	}
	c.Version++
	c.UpdatedAt = m.nowFn()
	c.Earnings = cur.Earnings
	m.consultants[c.ID] = cloneConsultant(*c)
	return nil
}

func (m *Memory) UpdateProfile(ctx context.Context, id uuid.UUID, u models.ProfileUpdate) (models.ConsultantAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultants[id]
	if !ok {
		return models.ConsultantAccount{}, ErrNotFound
	}
	u.Apply(&c)
	c.Version++
	c.UpdatedAt = m.nowFn()
	m.consultants[id] = c
	return cloneConsultant(c), nil
}

func (m *Memory) ListEligibleConsultants(ctx context.Context) ([]models.ConsultantAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ConsultantAccount
	for _, c := range m.consultants {
		if c.Matchable() {
			out = append(out, cloneConsultant(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AppliedAt.Equal(out[j].AppliedAt) {
			return out[i].AppliedAt.Before(out[j].AppliedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) AdjustEarnings(ctx context.Context, consultantID uuid.UUID, delta models.Earnings, entries []models.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultants[consultantID]
	if !ok {
		return ErrNotFound
	}
	c.Earnings.Total += delta.Total
	c.Earnings.Pending += delta.Pending
	c.Earnings.Paid += delta.Paid
	c.Earnings.Escrow += delta.Escrow
	m.consultants[consultantID] = c
	now := m.nowFn()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		m.ledger = append(m.ledger, e)
	}
	return nil
}

func (m *Memory) ListLedger(ctx context.Context, consultantID uuid.UUID) ([]models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WalletTransaction
	for _, e := range m.ledger {
		if e.ConsultantID == consultantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) AppendEvent(ctx context.Context, e *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.events {
		if cur.TargetType == e.TargetType && cur.TargetID == e.TargetID && cur.ExternalEventID == e.ExternalEventID {
			return ErrDuplicate
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = m.nowFn()
	}
	cp := *e
	cp.Payload = slices.Clone(e.Payload)
	m.events = append(m.events, cp)
	return nil
}

func (m *Memory) GetEvent(ctx context.Context, target models.EventTarget, targetID, externalID string) (models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.TargetType == target && e.TargetID == targetID && e.ExternalEventID == externalID {
			return e, nil
		}
	}
	return models.WebhookEvent{}, ErrNotFound
}

func (m *Memory) MarkEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Processed = true
			m.events[i].ProcessedAt = &at
			m.events[i].ProcessingError = ""
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) MarkEventFailed(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].ProcessingError = reason
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListEvents(ctx context.Context, target models.EventTarget, targetID string) ([]models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WebhookEvent
	for _, e := range m.events {
		if e.TargetType == target && e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

func cloneConsultant(c models.ConsultantAccount) models.ConsultantAccount {
	c.Requirements = slices.Clone(c.Requirements)
	c.Expertise = slices.Clone(c.Expertise)
	c.Industries = slices.Clone(c.Industries)
	if c.ConnectedAccountID != nil {
		id := *c.ConnectedAccountID
		c.ConnectedAccountID = &id
	}
	return c
}
