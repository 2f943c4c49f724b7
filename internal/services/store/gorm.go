package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

type GormStore struct {
	db   *gorm.DB
	inTx bool
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Tx runs fn inside a database transaction. Reads by intent or hold inside the transaction
// take a row lock.
func (s *GormStore) Tx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

func (s *GormStore) q(ctx context.Context) *gorm.DB {
	q := s.db.WithContext(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreatePayment(ctx context.Context, p *models.PaymentRecord) error {
	if p.Hold.ID == uuid.Nil {
		p.Hold.ID = uuid.New()
	}
	p.Version = 1
	err := s.db.WithContext(ctx).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) GetPaymentByIntent(ctx context.Context, intentID string) (models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := s.q(ctx).Where("intent_id = ?", intentID).First(&p).Error
	return p, notFound(err)
}

func (s *GormStore) GetPaymentByHold(ctx context.Context, holdID uuid.UUID) (models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := s.q(ctx).Where("hold_id = ?", holdID).First(&p).Error
	return p, notFound(err)
}

func (s *GormStore) SavePayment(ctx context.Context, p *models.PaymentRecord) error {
	next := *p
	next.Version = p.Version + 1
	res := s.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Select("*").
		Omit("id", "created_at").
		Updates(&next)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missingOrConflict(ctx, &models.PaymentRecord{}, p.ID)
	}
	p.Version = next.Version
	p.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *GormStore) missingOrConflict(ctx context.Context, model any, id uuid.UUID) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *GormStore) ListPaymentsNeedingSettlement(ctx context.Context, now time.Time, limit int) ([]models.PaymentRecord, error) {
	var out []models.PaymentRecord
	q := s.db.WithContext(ctx).
		Where("settlement_flag = ?", models.SettlementPendingReconciliation).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, q.Find(&out).Error
}

func (s *GormStore) ListPaymentsByConsultant(ctx context.Context, consultantID uuid.UUID) ([]models.PaymentRecord, error) {
	var out []models.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("consultant_id = ?", consultantID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) CreateConsultant(ctx context.Context, c *models.ConsultantAccount) error {
	if c.AppliedAt.IsZero() {
		c.AppliedAt = time.Now().UTC()
	}
	c.Version = 1
	err := s.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) GetConsultant(ctx context.Context, id uuid.UUID) (models.ConsultantAccount, error) {
	var c models.ConsultantAccount
	err := s.q(ctx).Where("id = ?", id).First(&c).Error
	return c, notFound(err)
}

func (s *GormStore) GetConsultantByConnectedAccount(ctx context.Context, accountID string) (models.ConsultantAccount, error) {
	var c models.ConsultantAccount
	err := s.q(ctx).Where("connected_account_id = ?", accountID).First(&c).Error
	return c, notFound(err)
}

var earningsColumns = []string{"earnings_total", "earnings_pending", "earnings_paid", "earnings_escrow"}

func (s *GormStore) SaveConsultant(ctx context.Context, c *models.ConsultantAccount) error {
	next := *c
	next.Version = c.Version + 1
	omit := append([]string{"id", "created_at"}, earningsColumns...)
	res := s.db.WithContext(ctx).
		Model(&models.ConsultantAccount{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Select("*").
		Omit(omit...).
		Updates(&next)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missingOrConflict(ctx, &models.ConsultantAccount{}, c.ID)
	}
	c.Version = next.Version
	c.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *GormStore) UpdateProfile(ctx context.Context, id uuid.UUID, u models.ProfileUpdate) (models.ConsultantAccount, error) {
	cols := map[string]any{
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now(),
	}
	if u.ApplicationStatus != nil {
		cols["application_status"] = *u.ApplicationStatus
	}
	if u.AvailabilityStatus != nil {
		cols["availability_status"] = *u.AvailabilityStatus
	}
	if u.IsActive != nil {
		cols["is_active"] = *u.IsActive
	}
	if u.RatingAverage != nil {
		cols["rating_average"] = *u.RatingAverage
	}
	if u.RatingCount != nil {
		cols["rating_count"] = *u.RatingCount
	}
	if u.CompletedProjects != nil {
		cols["completed_projects"] = *u.CompletedProjects
	}
	if u.HourlyRate != nil {
		cols["hourly_rate"] = *u.HourlyRate
	}
	if u.WeeklyAvailability != nil {
		cols["weekly_availability"] = *u.WeeklyAvailability
	}

	var out models.ConsultantAccount
	err := s.Tx(ctx, func(st Store) error {
		tx := st.(*GormStore).db.WithContext(ctx)
		res := tx.Model(&models.ConsultantAccount{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	return out, err
}

// ListEligibleConsultants is the candidate-pool filter; scoring happens in the matching engine.
func (s *GormStore) ListEligibleConsultants(ctx context.Context) ([]models.ConsultantAccount, error) {
	var out []models.ConsultantAccount
	err := s.db.WithContext(ctx).
		Where("application_status = ?", models.ApplicationApproved).
		Where("is_active = ?", true).
		Where("availability_status = ?", models.AvailabilityAvailable).
		Where("connect_status = ?", models.ConnectEnabled).
		Order("applied_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// AdjustEarnings applies bucket deltas as atomic increments and writes the ledger rows in the
// same transaction.
func (s *GormStore) AdjustEarnings(ctx context.Context, consultantID uuid.UUID, delta models.Earnings, entries []models.WalletTransaction) error {
	return s.Tx(ctx, func(st Store) error {
		tx := st.(*GormStore).db

		updates := map[string]any{}
		add := func(col string, v int64) {
			if v != 0 {
				updates[col] = gorm.Expr(col+" + ?", v)
			}
		}
		add("earnings_total", delta.Total)
		add("earnings_pending", delta.Pending)
		add("earnings_paid", delta.Paid)
		add("earnings_escrow", delta.Escrow)

		if len(updates) > 0 {
			res := tx.Model(&models.ConsultantAccount{}).Where("id = ?", consultantID).Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("consultant %s: %w", consultantID, ErrNotFound)
			}
		}
		if len(entries) > 0 {
			for i := range entries {
				if entries[i].ID == uuid.Nil {
					entries[i].ID = uuid.New()
				}
			}
			if err := tx.Create(&entries).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) ListLedger(ctx context.Context, consultantID uuid.UUID) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	err := s.db.WithContext(ctx).
		Where("consultant_id = ?", consultantID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// AppendEvent inserts the event unless the (target, external id) pair is already logged.
func (s *GormStore) AppendEvent(ctx context.Context, e *models.WebhookEvent) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "target_type"}, {Name: "target_id"}, {Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(e)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *GormStore) GetEvent(ctx context.Context, target models.EventTarget, targetID, externalID string) (models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ? AND external_event_id = ?", target, targetID, externalID).
		First(&e).Error
	return e, notFound(err)
}

func (s *GormStore) MarkEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"processed": true, "processed_at": at, "processing_error": ""})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) MarkEventFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("processing_error", reason).Error
}

func (s *GormStore) ListEvents(ctx context.Context, target models.EventTarget, targetID string) ([]models.WebhookEvent, error) {
	var out []models.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", target, targetID).
		Order("event_created ASC, received_at ASC").
		Find(&out).Error
	return out, err
}
