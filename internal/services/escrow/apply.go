package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/fee"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
)

// Payment intent webhook types routed to the orchestrator.
const (
	EventAmountCapturable = "payment_intent.amount_capturable_updated"
	EventSucceeded        = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventCanceled         = "payment_intent.canceled"
)

const refundAnnotationPartial = "partially_refunded"

// PaymentEvent is a verified webhook addressed to a payment record.
type PaymentEvent struct {
	ID             string
	Type           string
	Created        time.Time
	ChargeID       string
	FailureMessage string
}

// ApplyPaymentEvent folds one webhook into the record. Caller holds the record lock and
// passes a fresh copy. Every branch is keyed by transition, so redelivered or reordered
// events converge on the same state.
func (o *Orchestrator) ApplyPaymentEvent(ctx context.Context, p *models.PaymentRecord, ev PaymentEvent) error {
	switch ev.Type {
	case EventAmountCapturable:
		return o.applyAuthorize(ctx, p, ev.Created)

	case EventSucceeded:
		dirty := false
		if p.SucceededAt == nil {
			at := ev.Created
			p.SucceededAt = &at
			dirty = true
		}
		if p.Status.PreCapture() {
			if err := o.applyCapture(ctx, p, processor.Capture{Ref: p.IntentID, ChargeID: ev.ChargeID}, ev.Created); err != nil {
				return err
			}
			dirty = false
		}
		if dirty {
			if p.Status.Terminal() {
				slog.Default().WarnContext(ctx, "payment succeeded on a closed record",
					"module", "escrow",
					"operation", "apply_event",
					"outcome", "inconsistent",
					"intent_id", p.IntentID,
					"status", p.Status,
					"event_id", ev.ID,
				)
			}
			if err := o.save(ctx, p, nil); err != nil {
				return err
			}
		}
		if p.Status == models.PaymentCaptured && !p.HasTransition(models.TransitionTransfer) && p.SettlementFlag == models.SettlementClear {
			err := o.settle(ctx, p)
			// a flagged settlement is already persisted on the record
			if errors.Is(err, ErrTransferFailed) || errors.Is(err, ErrSettlementPending) {
				return nil
			}
			return err
		}
		return nil

	case EventPaymentFailed:
		return o.applyFail(ctx, p, ev.FailureMessage, ev.Created)

	case EventCanceled:
		return o.applyCancel(ctx, p, "canceled at processor", ev.Created)
	}
	return nil
}

func (o *Orchestrator) applyAuthorize(ctx context.Context, p *models.PaymentRecord, at time.Time) error {
	if p.HasTransition(models.TransitionAuthorize) {
		// a capture seen first implied the authorization; the real event carries the
		// earlier time
		if p.AuthorizedAt != nil && at.Before(*p.AuthorizedAt) {
			p.AuthorizedAt = &at
			return o.save(ctx, p, nil)
		}
		return nil
	}
	if p.AuthorizedAt == nil || at.Before(*p.AuthorizedAt) {
		p.AuthorizedAt = &at
	}
	if p.Status.Terminal() {
		// authorization observed after the hold was already closed: no funds are held
		p.Annotate(models.TransitionAuthorize)
		return o.save(ctx, p, nil)
	}
	if !p.Advance(models.TransitionAuthorize, models.PaymentFundsAuthorized) {
		return nil
	}
	return o.save(ctx, p, func(st store.Store) error {
		return o.wallet.HoldEscrow(ctx, st, p)
	})
}

// applyCapture records a successful capture with a freshly computed fee.
func (o *Orchestrator) applyCapture(ctx context.Context, p *models.PaymentRecord, c processor.Capture, at time.Time) error {
	if p.HasTransition(models.TransitionCapture) {
		return nil
	}
	if p.Status == models.PaymentPending {
		if err := o.applyAuthorize(ctx, p, at); err != nil {
			return err
		}
	}
	if p.Status != models.PaymentFundsAuthorized && p.Status != models.PaymentPartiallyReleased {
		return fmt.Errorf("%w: capture from %s", ErrIllegalTransition, p.Status)
	}

	consultant, err := o.store.GetConsultant(ctx, p.ConsultantID)
	if err != nil {
		return fmt.Errorf("load consultant %s: %w", p.ConsultantID, err)
	}
	rate := fee.Rate(fee.TrackRecord{
		CompletedProjects: consultant.CompletedProjects,
		LifetimeEarnings:  consultant.Earnings.Total,
	})
	p.FeeRate = rate
	p.PlatformFee = fee.PlatformFee(p.Amount, rate)
	p.NetAmount = p.Amount - p.PlatformFee
	p.ProcessorFee = c.ProcessorFee
	if c.ChargeID != "" {
		p.ChargeID = c.ChargeID
	}
	p.Advance(models.TransitionCapture, models.PaymentCaptured)
	p.CapturedAt = &at
	p.Hold.State = models.HoldCaptured
	p.Hold.ReleasedAmount = p.Amount
	p.Hold.RemainingAmount = 0
	p.ClearFlag()
	p.FailureReason = ""

	heldEscrow := p.HasTransition(models.TransitionAuthorize)
	if err := o.save(ctx, p, func(st store.Store) error {
		return o.wallet.CreditPending(ctx, st, p, heldEscrow)
	}); err != nil {
		return err
	}
	slog.Default().InfoContext(ctx, "escrow captured",
		"module", "escrow",
		"operation", "capture",
		"outcome", "success",
		"hold_id", p.Hold.ID,
		"intent_id", p.IntentID,
		"fee_rate", rate,
		"platform_fee", p.PlatformFee,
		"net_amount", p.NetAmount,
	)
	return nil
}

// settle creates the split transfer for a captured record. A declined transfer leaves the
// record captured and flagged for manual review; an unknown outcome queues reconciliation.
func (o *Orchestrator) settle(ctx context.Context, p *models.PaymentRecord) error {
	if p.HasTransition(models.TransitionTransfer) {
		return nil
	}
	if p.Status != models.PaymentCaptured {
		return fmt.Errorf("%w: transfer from %s", ErrIllegalTransition, p.Status)
	}

	consultant, err := o.store.GetConsultant(ctx, p.ConsultantID)
	if err != nil {
		return fmt.Errorf("load consultant %s: %w", p.ConsultantID, err)
	}
	if !consultant.Payable() {
		reason := fmt.Sprintf("consultant account not payable (connect status %s)", consultant.ConnectStatus)
		if err := o.flagManual(ctx, p, models.ActionTransfer, reason); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrTransferFailed, reason)
	}

	req := processor.TransferRequest{
		DestinationAccountID: *consultant.ConnectedAccountID,
		Amount:               p.NetAmount,
		Currency:             p.Currency,
		SourceChargeID:       p.ChargeID,
		Group:                p.Hold.ID.String(),
		IdempotencyKey:       idemKey(p.Hold.ID, models.TransitionTransfer),
		Metadata: map[string]string{
			"hold_id":      p.Hold.ID.String(),
			"intent_id":    p.IntentID,
			"milestone_id": p.Hold.MilestoneID,
		},
	}
	var t processor.Transfer
	err = o.retry.Do(ctx, "create_transfer", func(ctx context.Context) error {
		var err error
		t, err = o.proc.CreateTransfer(ctx, req)
		return err
	})
	if err != nil {
		o.logFailure(ctx, "create_transfer", p.Hold.ID, err)
		if errors.Is(err, processor.ErrRetriesExhausted) {
			return o.queueReconciliation(ctx, p, models.ActionTransfer, err)
		}
		if ferr := o.flagManual(ctx, p, models.ActionTransfer, "transfer declined: "+err.Error()); ferr != nil {
			return ferr
		}
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	return o.recordTransfer(ctx, p, t)
}

// resolveTransfer asks the processor whether a transfer parked with an unknown outcome
// landed after all, and records it if so.
func (o *Orchestrator) resolveTransfer(ctx context.Context, p *models.PaymentRecord) error {
	var (
		t     processor.Transfer
		found bool
	)
	err := o.retry.Do(ctx, "find_transfer", func(ctx context.Context) error {
		var err error
		t, found, err = o.proc.FindTransfer(ctx, p.Hold.ID.String())
		return err
	})
	if err != nil {
		o.logFailure(ctx, "find_transfer", p.Hold.ID, err)
		return fmt.Errorf("%w: transfer outcome unknown: %w", ErrSettlementPending, err)
	}
	if !found {
		return nil
	}
	return o.recordTransfer(ctx, p, t)
}

func (o *Orchestrator) recordTransfer(ctx context.Context, p *models.PaymentRecord, t processor.Transfer) error {
	now := o.nowFn()
	p.TransferID = t.Ref
	p.Advance(models.TransitionTransfer, models.PaymentSettled)
	p.SettledAt = &now
	p.ClearFlag()
	p.FailureReason = ""
	if err := o.save(ctx, p, func(st store.Store) error {
		return o.wallet.Payout(ctx, st, p)
	}); err != nil {
		return err
	}
	slog.Default().InfoContext(ctx, "escrow settled",
		"module", "escrow",
		"operation", "transfer",
		"outcome", "success",
		"hold_id", p.Hold.ID,
		"transfer_id", t.Ref,
		"amount", p.NetAmount,
	)
	return nil
}

func (o *Orchestrator) applyCancel(ctx context.Context, p *models.PaymentRecord, reason string, at time.Time) error {
	if p.HasTransition(models.TransitionCancel) || p.Status.Terminal() {
		return nil
	}
	if !p.Status.PreCapture() {
		return fmt.Errorf("%w: cancel from %s", ErrIllegalTransition, p.Status)
	}
	held := p.HasTransition(models.TransitionAuthorize)
	p.Advance(models.TransitionCancel, models.PaymentCanceled)
	p.CanceledAt = &at
	p.Hold.State = models.HoldCanceled
	p.FailureReason = reason
	p.ClearFlag()
	return o.save(ctx, p, func(st store.Store) error {
		if !held {
			return nil
		}
		return o.wallet.ReleaseEscrow(ctx, st, p, "hold canceled")
	})
}

func (o *Orchestrator) applyFail(ctx context.Context, p *models.PaymentRecord, reason string, at time.Time) error {
	if p.HasTransition(models.TransitionFail) || p.Status.Terminal() {
		return nil
	}
	if !p.Status.PreCapture() {
		return nil
	}
	held := p.HasTransition(models.TransitionAuthorize)
	p.Advance(models.TransitionFail, models.PaymentFailed)
	p.FailedAt = &at
	p.Hold.State = models.HoldCanceled
	p.FailureReason = reason
	p.ClearFlag()
	return o.save(ctx, p, func(st store.Store) error {
		if !held {
			return nil
		}
		return o.wallet.ReleaseEscrow(ctx, st, p, "payment failed")
	})
}

func (o *Orchestrator) applyRefund(ctx context.Context, p *models.PaymentRecord, r models.Refund) error {
	key := models.TransitionRefundPrefix + r.Key
	if p.HasTransition(key) {
		return nil
	}
	p.Refunds = append(p.Refunds, r)
	p.CumulativeRefunded += r.Amount
	p.PendingRefunds = slices.DeleteFunc(p.PendingRefunds, func(pr models.Refund) bool { return pr.Key == r.Key })

	var extra func(st store.Store) error
	if p.CumulativeRefunded >= p.Amount {
		now := o.nowFn()
		p.Advance(key, models.PaymentRefunded)
		p.RefundedAt = &now
		p.Hold.State = models.HoldRefunded
		p.Hold.RefundAnnotation = ""
		if p.HasTransition(models.TransitionCapture) && !p.HasTransition(models.TransitionTransfer) {
			// the transfer is no longer owed
			p.ClearFlag()
			extra = func(st store.Store) error {
				return o.wallet.ReversePending(ctx, st, p, "fully refunded before transfer")
			}
		}
	} else {
		p.Annotate(key)
		p.Hold.RefundAnnotation = refundAnnotationPartial
	}
	if len(p.PendingRefunds) == 0 && p.PendingAction == models.ActionRefund {
		p.ClearFlag()
	}
	if err := o.save(ctx, p, extra); err != nil {
		return err
	}
	slog.Default().InfoContext(ctx, "escrow refunded",
		"module", "escrow",
		"operation", "refund",
		"outcome", "success",
		"hold_id", p.Hold.ID,
		"amount", r.Amount,
		"cumulative_refunded", p.CumulativeRefunded,
		"status", p.Status,
	)
	return nil
}

// queueReconciliation parks an operation whose outcome is unknown. Past the attempt budget
// the record goes to manual review instead.
func (o *Orchestrator) queueReconciliation(ctx context.Context, p *models.PaymentRecord, action models.PendingAction, cause error) error {
	if action == models.ActionRefund && p.PendingAction != models.ActionNone {
		action = p.PendingAction
	}
	p.Attempts++
	if p.Attempts >= o.cfg.MaxReconcileAttempts {
		if err := o.flagManual(ctx, p, action, "reconciliation attempts exhausted: "+cause.Error()); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", ErrSettlementPending, cause)
	}
	next := o.nextAttempt(p.Attempts)
	p.Flag(models.SettlementPendingReconciliation, action, cause.Error(), &next)
	if err := o.save(ctx, p, nil); err != nil {
		return err
	}
	slog.Default().WarnContext(ctx, "settlement queued for reconciliation",
		"module", "escrow",
		"operation", string(action),
		"outcome", "pending",
		"hold_id", p.Hold.ID,
		"intent_id", p.IntentID,
		"attempts", p.Attempts,
		"next_attempt_at", next,
	)
	return fmt.Errorf("%w: %w", ErrSettlementPending, cause)
}

func (o *Orchestrator) flagManual(ctx context.Context, p *models.PaymentRecord, action models.PendingAction, reason string) error {
	p.Flag(models.SettlementManualReview, action, reason, nil)
	if err := o.save(ctx, p, nil); err != nil {
		return err
	}
	o.alert(ctx, *p, reason)
	return nil
}
