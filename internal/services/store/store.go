// Package store persists payment records, consultant accounts, their webhook event logs and
// the earnings ledger.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrConflict  = errors.New("store: version conflict")
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is implemented by GormStore (Postgres) and Memory.
//
// Save* methods are version-checked: they fail with ErrConflict when the stored version no
// longer matches the caller's copy, and bump the version on success. SaveConsultant never
// writes the earnings buckets; those only move through AdjustEarnings.
type Store interface {
	Tx(ctx context.Context, fn func(Store) error) error

	CreatePayment(ctx context.Context, p *models.PaymentRecord) error
	GetPaymentByIntent(ctx context.Context, intentID string) (models.PaymentRecord, error)
	GetPaymentByHold(ctx context.Context, holdID uuid.UUID) (models.PaymentRecord, error)
	SavePayment(ctx context.Context, p *models.PaymentRecord) error
	ListPaymentsNeedingSettlement(ctx context.Context, now time.Time, limit int) ([]models.PaymentRecord, error)
	ListPaymentsByConsultant(ctx context.Context, consultantID uuid.UUID) ([]models.PaymentRecord, error)

	CreateConsultant(ctx context.Context, c *models.ConsultantAccount) error
	GetConsultant(ctx context.Context, id uuid.UUID) (models.ConsultantAccount, error)
	GetConsultantByConnectedAccount(ctx context.Context, accountID string) (models.ConsultantAccount, error)
	SaveConsultant(ctx context.Context, c *models.ConsultantAccount) error
	// UpdateProfile writes only the profile columns in u and bumps the version, so a
	// concurrent full save from an older copy fails with ErrConflict.
	UpdateProfile(ctx context.Context, id uuid.UUID, u models.ProfileUpdate) (models.ConsultantAccount, error)
	ListEligibleConsultants(ctx context.Context) ([]models.ConsultantAccount, error)

	AdjustEarnings(ctx context.Context, consultantID uuid.UUID, delta models.Earnings, entries []models.WalletTransaction) error
	ListLedger(ctx context.Context, consultantID uuid.UUID) ([]models.WalletTransaction, error)

	AppendEvent(ctx context.Context, e *models.WebhookEvent) error
	GetEvent(ctx context.Context, target models.EventTarget, targetID, externalID string) (models.WebhookEvent, error)
	MarkEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkEventFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListEvents(ctx context.Context, target models.EventTarget, targetID string) ([]models.WebhookEvent, error)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*GormStore)(nil)
)
