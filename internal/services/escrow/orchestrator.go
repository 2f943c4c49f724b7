// Package escrow runs the milestone payment state machine: hold, upfront release, capture,
// split transfer, cancel and refund.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/locker"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/wallet"
)

// Notifier is told about every persisted status change.
type Notifier interface {
	PaymentUpdated(p models.PaymentRecord)
}

// Alerter reaches an operator when a settlement needs manual work.
type Alerter interface {
	SettlementNeedsAttention(ctx context.Context, p models.PaymentRecord, reason string) error
}

type Config struct {
	DefaultCurrency string
	UpfrontPercent  int
	// ReconcileBackoff is the first delay before a pending settlement is retried; it doubles
	// per attempt up to ReconcileMaxDelay.
	ReconcileBackoff  time.Duration
	ReconcileMaxDelay time.Duration
	// MaxReconcileAttempts escalates a pending settlement to manual review.
	MaxReconcileAttempts int
}

func DefaultConfig() Config {
	return Config{
		DefaultCurrency:      "usd",
		UpfrontPercent:       15,
		ReconcileBackoff:     time.Minute,
		ReconcileMaxDelay:    time.Hour,
		MaxReconcileAttempts: 8,
	}
}

type Deps struct {
	Store     store.Store
	Processor processor.Client
	Locker    locker.Locker
	Wallet    *wallet.WalletService
	Retry     processor.RetryPolicy
	Notifier  Notifier
	Alerter   Alerter
}

type Orchestrator struct {
	store    store.Store
	proc     processor.Client
	locks    locker.Locker
	wallet   *wallet.WalletService
	retry    processor.RetryPolicy
	notifier Notifier
	alerter  Alerter
	cfg      Config
	nowFn    func() time.Time
}

func NewOrchestrator(d Deps, cfg Config) *Orchestrator {
	if cfg.UpfrontPercent <= 0 {
		cfg.UpfrontPercent = 15
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "usd"
	}
	if cfg.ReconcileBackoff <= 0 {
		cfg.ReconcileBackoff = time.Minute
	}
	if cfg.ReconcileMaxDelay <= 0 {
		cfg.ReconcileMaxDelay = time.Hour
	}
	if cfg.MaxReconcileAttempts <= 0 {
		cfg.MaxReconcileAttempts = 8
	}
	o := &Orchestrator{
		store:    d.Store,
		proc:     d.Processor,
		locks:    d.Locker,
		wallet:   d.Wallet,
		retry:    d.Retry,
		notifier: d.Notifier,
		alerter:  d.Alerter,
		cfg:      cfg,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	if o.wallet == nil {
		o.wallet = wallet.NewWalletService()
	}
	return o
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.nowFn = now
	return o
}

type CreateHoldInput struct {
	ConsultantID    uuid.UUID
	MilestoneID     string
	Amount          int64
	Currency        string
	PaymentMethodID string
	CustomerID      string
	Metadata        map[string]string
}

// CreateHold asks the processor for a manual-capture authorization. A declined hold leaves no
// record; one whose outcome is unknown is stored pending reconciliation.
func (o *Orchestrator) CreateHold(ctx context.Context, in CreateHoldInput) (models.PaymentRecord, error) {
	if in.Amount <= 0 {
		return models.PaymentRecord{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if strings.TrimSpace(in.MilestoneID) == "" {
		return models.PaymentRecord{}, fmt.Errorf("%w: milestone id is required", ErrValidation)
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = o.cfg.DefaultCurrency
	}
	if len(currency) != 3 {
		return models.PaymentRecord{}, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrValidation)
	}

	consultant, err := o.store.GetConsultant(ctx, in.ConsultantID)
	if errors.Is(err, store.ErrNotFound) {
		return models.PaymentRecord{}, fmt.Errorf("%w: consultant %s not found", ErrValidation, in.ConsultantID)
	}
	if err != nil {
		return models.PaymentRecord{}, err
	}
	if !consultant.Payable() {
		return models.PaymentRecord{}, fmt.Errorf("%w: consultant cannot receive payouts (connect status %s)", ErrValidation, consultant.ConnectStatus)
	}

	holdID := uuid.New()
	rec := models.PaymentRecord{
		ConsultantID:    consultant.ID,
		Amount:          in.Amount,
		Currency:        currency,
		Status:          models.PaymentPending,
		PaymentMethodID: in.PaymentMethodID,
		CustomerID:      in.CustomerID,
		Metadata:        datatypes.NewJSONType(in.Metadata),
		Hold: models.EscrowHold{
			ID:              holdID,
			MilestoneID:     in.MilestoneID,
			UpfrontPercent:  o.cfg.UpfrontPercent,
			RemainingAmount: in.Amount,
			State:           models.HoldActive,
		},
	}
	hold, err := o.sendHold(ctx, &rec, *consultant.ConnectedAccountID)
	if err != nil {
		o.logFailure(ctx, "create_hold", holdID, err)
		if errors.Is(err, processor.ErrRetriesExhausted) {
			return o.parkCreate(ctx, rec, err)
		}
		return models.PaymentRecord{}, fmt.Errorf("%w: %w", ErrHoldCreationFailed, err)
	}

	now := o.nowFn()
	rec.IntentID = hold.Ref
	authorized := hold.Status == processor.HoldAuthorized
	if authorized {
		rec.Advance(models.TransitionAuthorize, models.PaymentFundsAuthorized)
		rec.AuthorizedAt = &now
	}
	err = o.store.Tx(ctx, func(st store.Store) error {
		if err := st.CreatePayment(ctx, &rec); err != nil {
			return err
		}
		if authorized {
			return o.wallet.HoldEscrow(ctx, st, &rec)
		}
		return nil
	})
	if err != nil {
		return models.PaymentRecord{}, fmt.Errorf("persist hold %s: %w", holdID, err)
	}

	slog.Default().InfoContext(ctx, "escrow hold created",
		"module", "escrow",
		"operation", "create_hold",
		"outcome", "success",
		"hold_id", holdID,
		"intent_id", rec.IntentID,
		"amount", rec.Amount,
		"status", rec.Status,
	)
	o.notify(rec)
	return rec, nil
}

// sendHold issues the authorization for rec. Replays reuse the hold's idempotency key, so
// the processor answers with the hold it already made.
func (o *Orchestrator) sendHold(ctx context.Context, rec *models.PaymentRecord, accountID string) (processor.Hold, error) {
	req := processor.HoldRequest{
		HoldID:              rec.Hold.ID.String(),
		Amount:              rec.Amount,
		Currency:            rec.Currency,
		ConsultantAccountID: accountID,
		PaymentMethodID:     rec.PaymentMethodID,
		CustomerID:          rec.CustomerID,
		Metadata:            rec.Metadata.Data(),
	}
	var hold processor.Hold
	err := o.retry.Do(ctx, "create_hold", func(ctx context.Context) error {
		var err error
		hold, err = o.proc.CreateHold(ctx, req, idemKey(rec.Hold.ID, "create"))
		return err
	})
	return hold, err
}

// parkCreate stores a hold whose creation outcome is unknown under a placeholder intent and
// queues it for reconciliation, so an authorization the processor did make is not orphaned.
func (o *Orchestrator) parkCreate(ctx context.Context, rec models.PaymentRecord, cause error) (models.PaymentRecord, error) {
	rec.IntentID = models.UnconfirmedIntent(rec.Hold.ID)
	rec.Attempts = 1
	next := o.nextAttempt(rec.Attempts)
	rec.Flag(models.SettlementPendingReconciliation, models.ActionCreate, cause.Error(), &next)
	if err := o.store.CreatePayment(ctx, &rec); err != nil {
		return models.PaymentRecord{}, fmt.Errorf("persist hold %s: %w", rec.Hold.ID, err)
	}
	slog.Default().WarnContext(ctx, "escrow hold creation unconfirmed",
		"module", "escrow",
		"operation", "create_hold",
		"outcome", "pending",
		"hold_id", rec.Hold.ID,
		"next_attempt_at", next,
	)
	o.notify(rec)
	return rec, fmt.Errorf("%w: %w", ErrSettlementPending, cause)
}

func (o *Orchestrator) GetHold(ctx context.Context, holdID uuid.UUID) (models.PaymentRecord, error) {
	p, err := o.store.GetPaymentByHold(ctx, holdID)
	if errors.Is(err, store.ErrNotFound) {
		return models.PaymentRecord{}, ErrNotFound
	}
	return p, err
}

// withRecord loads the record for holdID under its lock and hands fn a fresh copy.
func (o *Orchestrator) withRecord(ctx context.Context, holdID uuid.UUID, fn func(p *models.PaymentRecord) error) (models.PaymentRecord, error) {
	p, err := o.GetHold(ctx, holdID)
	if err != nil {
		return models.PaymentRecord{}, err
	}
	unlock, err := o.locks.Lock(ctx, locker.PaymentKey(p.IntentID))
	if err != nil {
		return models.PaymentRecord{}, err
	}
	defer unlock()

	p, err = o.GetHold(ctx, holdID)
	if err != nil {
		return models.PaymentRecord{}, err
	}
	err = fn(&p)
	return p, err
}

// save persists p and notifies listeners. extra runs in the same transaction.
func (o *Orchestrator) save(ctx context.Context, p *models.PaymentRecord, extra func(st store.Store) error) error {
	err := o.store.Tx(ctx, func(st store.Store) error {
		if err := st.SavePayment(ctx, p); err != nil {
			return err
		}
		if extra != nil {
			return extra(st)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save payment %s: %w", p.IntentID, err)
	}
	o.notify(*p)
	return nil
}

func (o *Orchestrator) notify(p models.PaymentRecord) {
	if o.notifier != nil {
		o.notifier.PaymentUpdated(p)
	}
}

func (o *Orchestrator) alert(ctx context.Context, p models.PaymentRecord, reason string) {
	slog.Default().WarnContext(ctx, "settlement needs manual attention",
		"module", "escrow",
		"operation", "alert",
		"outcome", string(p.SettlementFlag),
		"hold_id", p.Hold.ID,
		"intent_id", p.IntentID,
		"reason", reason,
	)
	if o.alerter == nil {
		return
	}
	if err := o.alerter.SettlementNeedsAttention(ctx, p, reason); err != nil {
		slog.Default().ErrorContext(ctx, "settlement alert failed",
			"module", "escrow",
			"operation", "alert",
			"outcome", "failure",
			"hold_id", p.Hold.ID,
			"error", err,
		)
	}
}

func (o *Orchestrator) logFailure(ctx context.Context, op string, holdID uuid.UUID, err error) {
	slog.Default().WarnContext(ctx, "processor call failed",
		"module", "escrow",
		"operation", op,
		"outcome", "failure",
		"hold_id", holdID,
		"code", processor.Code(err),
		"transient", processor.IsTransient(err),
		"error", err,
	)
}

// idemKey is the processor idempotency key for one transition of one hold.
func idemKey(holdID uuid.UUID, transition string) string {
	return holdID.String() + ":" + transition
}

// nextAttempt doubles the reconciliation delay per attempt.
func (o *Orchestrator) nextAttempt(attempts int) time.Time {
	delay := o.cfg.ReconcileBackoff
	for i := 1; i < attempts && delay < o.cfg.ReconcileMaxDelay; i++ {
		delay *= 2
	}
	if delay > o.cfg.ReconcileMaxDelay {
		delay = o.cfg.ReconcileMaxDelay
	}
	return o.nowFn().Add(delay)
}
