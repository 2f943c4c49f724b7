// Package webhook verifies processor callbacks and routes them to the payment record or
// connected account they address.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/connect"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/escrow"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/locker"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
)

type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUnknownTarget Outcome = "unknown_target"
	OutcomeIgnored       Outcome = "ignored"
)

const maxConflictRetries = 3

type Result struct {
	EventID string  `json:"eventId"`
	Type    string  `json:"eventType"`
	Outcome Outcome `json:"outcome"`
}

type PaymentApplier interface {
	ApplyPaymentEvent(ctx context.Context, p *models.PaymentRecord, ev escrow.PaymentEvent) error
}

type AccountApplier interface {
	ApplyAccountEvent(ctx context.Context, acct *models.ConsultantAccount, ev connect.AccountEvent) error
}

type Processor struct {
	verifier Verifier
	store    store.Store
	locks    locker.Locker
	payments PaymentApplier
	accounts AccountApplier
	nowFn    func() time.Time
}

func NewProcessor(v Verifier, st store.Store, locks locker.Locker, payments PaymentApplier, accounts AccountApplier) *Processor {
	return &Processor{
		verifier: v,
		store:    st,
		locks:    locks,
		payments: payments,
		accounts: accounts,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Receive verifies raw against signature and applies the event at most once per target.
// Nothing is read or written before the signature checks out.
func (p *Processor) Receive(ctx context.Context, raw []byte, signature string) (Result, error) {
	if err := p.verifier.Verify(raw, signature); err != nil {
		slog.Default().WarnContext(ctx, "webhook signature rejected",
			"module", "webhook",
			"operation", "receive",
			"outcome", "rejected",
		)
		return Result{}, ErrSignatureInvalid
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return Result{}, err
	}
	res := Result{EventID: env.eventID(), Type: env.Type}

	target, targetID, err := env.target()
	if err != nil {
		return res, err
	}
	if target == "" {
		res.Outcome = OutcomeIgnored
		slog.Default().InfoContext(ctx, "webhook type ignored",
			"module", "webhook",
			"operation", "receive",
			"outcome", string(OutcomeIgnored),
			"event_id", res.EventID,
			"type", env.Type,
		)
		return res, nil
	}

	for attempt := 1; ; attempt++ {
		res.Outcome, err = p.handle(ctx, env, raw, target, targetID)
		if !errors.Is(err, store.ErrConflict) || attempt >= maxConflictRetries {
			break
		}
		slog.Default().WarnContext(ctx, "webhook hit a version conflict, retrying",
			"module", "webhook",
			"operation", "receive",
			"outcome", "retry",
			"event_id", res.EventID,
			"attempt", attempt,
		)
	}
	if err != nil {
		return res, err
	}

	slog.Default().InfoContext(ctx, "webhook handled",
		"module", "webhook",
		"operation", "receive",
		"outcome", string(res.Outcome),
		"event_id", res.EventID,
		"type", env.Type,
		"target", string(target),
		"target_id", targetID,
	)
	return res, nil
}

func (p *Processor) handle(ctx context.Context, env envelope, raw []byte, target models.EventTarget, targetID string) (Outcome, error) {
	switch target {
	case models.TargetPayment:
		ev, err := env.paymentEvent()
		if err != nil {
			return "", err
		}
		unlock, err := p.locks.Lock(ctx, locker.PaymentKey(targetID))
		if err != nil {
			return "", err
		}
		defer unlock()

		rec, err := p.store.GetPaymentByIntent(ctx, targetID)
		if errors.Is(err, store.ErrNotFound) {
			p.logUnknown(ctx, env, target, targetID)
			return OutcomeUnknownTarget, nil
		}
		if err != nil {
			return "", err
		}
		return p.logAndApply(ctx, env, raw, target, targetID, func() error {
			return p.payments.ApplyPaymentEvent(ctx, &rec, ev)
		})

	case models.TargetAccount:
		ev, err := env.accountEvent(targetID)
		if err != nil {
			return "", err
		}
		unlock, err := p.locks.Lock(ctx, locker.AccountKey(targetID))
		if err != nil {
			return "", err
		}
		defer unlock()

		acct, err := p.store.GetConsultantByConnectedAccount(ctx, targetID)
		if errors.Is(err, store.ErrNotFound) {
			p.logUnknown(ctx, env, target, targetID)
			return OutcomeUnknownTarget, nil
		}
		if err != nil {
			return "", err
		}
		return p.logAndApply(ctx, env, raw, target, targetID, func() error {
			return p.accounts.ApplyAccountEvent(ctx, &acct, ev)
		})
	}
	return OutcomeIgnored, nil
}

// logAndApply appends the event to the target's log and runs apply unless an earlier
// delivery already processed it. A failed apply leaves the entry unprocessed so a
// redelivery gets another go.
func (p *Processor) logAndApply(ctx context.Context, env envelope, raw []byte, target models.EventTarget, targetID string, apply func() error) (Outcome, error) {
	entry, err := p.store.GetEvent(ctx, target, targetID, env.eventID())
	switch {
	case err == nil:
		if entry.Processed {
			return OutcomeDuplicate, nil
		}
	case errors.Is(err, store.ErrNotFound):
		entry = models.WebhookEvent{
			TargetType:      target,
			TargetID:        targetID,
			ExternalEventID: env.eventID(),
			Type:            env.Type,
			EventCreated:    env.Created,
			Payload:         datatypes.JSON(raw),
			ReceivedAt:      p.nowFn(),
		}
		if err := p.store.AppendEvent(ctx, &entry); err != nil {
			if !errors.Is(err, store.ErrDuplicate) {
				return "", fmt.Errorf("append event %s: %w", env.eventID(), err)
			}
			if entry, err = p.store.GetEvent(ctx, target, targetID, env.eventID()); err != nil {
				return "", err
			}
			if entry.Processed {
				return OutcomeDuplicate, nil
			}
		}
	default:
		return "", err
	}

	if err := apply(); err != nil {
		if markErr := p.store.MarkEventFailed(ctx, entry.ID, err.Error()); markErr != nil {
			slog.Default().ErrorContext(ctx, "mark webhook failed",
				"module", "webhook",
				"operation", "mark_failed",
				"outcome", "failure",
				"event_id", env.eventID(),
				"error", markErr,
			)
		}
		return "", fmt.Errorf("apply %s %s: %w", env.Type, env.eventID(), err)
	}
	if err := p.store.MarkEventProcessed(ctx, entry.ID, p.nowFn()); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

func (p *Processor) logUnknown(ctx context.Context, env envelope, target models.EventTarget, targetID string) {
	slog.Default().WarnContext(ctx, "webhook for unknown target",
		"module", "webhook",
		"operation", "receive",
		"outcome", string(OutcomeUnknownTarget),
		"event_id", env.eventID(),
		"type", env.Type,
		"target", string(target),
		"target_id", targetID,
	)
}

func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.nowFn = now
	return p
}
