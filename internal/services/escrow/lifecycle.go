package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/fee"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
)

// AuthorizeUpfrontRelease records the contractual upfront share of the milestone. No funds
// move until capture.
func (o *Orchestrator) AuthorizeUpfrontRelease(ctx context.Context, holdID uuid.UUID) (models.PaymentRecord, error) {
	return o.withRecord(ctx, holdID, func(p *models.PaymentRecord) error {
		if p.HasTransition(models.TransitionUpfrontRelease) {
			return nil
		}
		if p.Status != models.PaymentFundsAuthorized {
			return fmt.Errorf("%w: upfront release from %s", ErrIllegalTransition, p.Status)
		}
		released := fee.Percent(p.Amount, p.Hold.UpfrontPercent)
		p.Advance(models.TransitionUpfrontRelease, models.PaymentPartiallyReleased)
		p.Hold.ReleasedAmount = released
		p.Hold.RemainingAmount = p.Amount - released
		p.Hold.State = models.HoldPartiallyReleased
		return o.save(ctx, p, nil)
	})
}

// ApproveMilestoneAndCapture captures the full authorization and pays the consultant their
// net share. Calling it again on a captured record retries the transfer only.
func (o *Orchestrator) ApproveMilestoneAndCapture(ctx context.Context, holdID uuid.UUID) (models.PaymentRecord, error) {
	return o.withRecord(ctx, holdID, func(p *models.PaymentRecord) error {
		switch p.Status {
		case models.PaymentSettled:
			return nil
		case models.PaymentCaptured:
			return o.settle(ctx, p)
		case models.PaymentFundsAuthorized, models.PaymentPartiallyReleased:
		default:
			return fmt.Errorf("%w: capture from %s", ErrIllegalTransition, p.Status)
		}

		var c processor.Capture
		err := o.retry.Do(ctx, "capture_hold", func(ctx context.Context) error {
			var err error
			c, err = o.proc.CaptureHold(ctx, p.IntentID, idemKey(p.Hold.ID, models.TransitionCapture))
			return err
		})
		if err != nil {
			o.logFailure(ctx, "capture_hold", p.Hold.ID, err)
			if errors.Is(err, processor.ErrRetriesExhausted) {
				return o.queueReconciliation(ctx, p, models.ActionCapture, err)
			}
			if ferr := o.applyFail(ctx, p, "capture declined: "+err.Error(), o.nowFn()); ferr != nil {
				return ferr
			}
			return fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		}
		if err := o.applyCapture(ctx, p, c, o.nowFn()); err != nil {
			return err
		}
		return o.settle(ctx, p)
	})
}

// CancelHold releases an uncaptured authorization back to the client.
func (o *Orchestrator) CancelHold(ctx context.Context, holdID uuid.UUID, reason string) (models.PaymentRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "requested_by_customer"
	}
	return o.withRecord(ctx, holdID, func(p *models.PaymentRecord) error {
		if p.Status == models.PaymentCanceled {
			return nil
		}
		if !p.Status.PreCapture() {
			return fmt.Errorf("%w: cancel from %s", ErrIllegalTransition, p.Status)
		}
		if !p.IntentConfirmed() {
			return fmt.Errorf("%w: hold creation not yet confirmed", ErrSettlementPending)
		}

		err := o.retry.Do(ctx, "cancel_hold", func(ctx context.Context) error {
			return o.proc.CancelHold(ctx, p.IntentID, reason, idemKey(p.Hold.ID, models.TransitionCancel))
		})
		if err != nil {
			o.logFailure(ctx, "cancel_hold", p.Hold.ID, err)
			if errors.Is(err, processor.ErrRetriesExhausted) {
				return o.queueReconciliation(ctx, p, models.ActionCancel, err)
			}
			p.FailureReason = "cancel declined: " + err.Error()
			if serr := o.save(ctx, p, nil); serr != nil {
				return serr
			}
			return fmt.Errorf("%w: %w", ErrCancelFailed, err)
		}
		return o.applyCancel(ctx, p, reason, o.nowFn())
	})
}

type RefundInput struct {
	HoldID uuid.UUID
	Amount int64
	Reason string
	// Key makes the refund idempotent; retries with the same key never refund twice.
	Key string
}

// Refund returns part or all of a captured payment to the client.
func (o *Orchestrator) Refund(ctx context.Context, in RefundInput) (models.PaymentRecord, error) {
	key := strings.TrimSpace(in.Key)
	if key == "" {
		key = uuid.NewString()
	}

	return o.withRecord(ctx, in.HoldID, func(p *models.PaymentRecord) error {
		if p.HasTransition(models.TransitionRefundPrefix + key) {
			return nil
		}
		if in.Amount <= 0 {
			return fmt.Errorf("%w: refund amount must be positive", ErrValidation)
		}
		var queued int64
		for _, pr := range p.PendingRefunds {
			if pr.Key == key {
				return fmt.Errorf("%w: refund %s already queued", ErrSettlementPending, key)
			}
			queued += pr.Amount
		}
		if p.Status != models.PaymentCaptured && p.Status != models.PaymentSettled {
			return fmt.Errorf("%w: refund from %s", ErrIllegalTransition, p.Status)
		}
		if p.PendingAction == models.ActionTransfer && in.Amount == p.Amount-p.CumulativeRefunded-queued {
			// a full refund reverses the pending payout, which is only safe once the
			// transfer is known not to have landed
			if err := o.resolveTransfer(ctx, p); err != nil {
				return err
			}
		}
		if in.Amount > p.Amount-p.CumulativeRefunded-queued {
			return fmt.Errorf("%w: refund of %d exceeds refundable %d", ErrValidation, in.Amount, p.Amount-p.CumulativeRefunded-queued)
		}

		r := models.Refund{Key: key, Amount: in.Amount, Reason: in.Reason, CreatedAt: o.nowFn()}
		var ref processor.Refund
		err := o.retry.Do(ctx, "create_refund", func(ctx context.Context) error {
			var err error
			ref, err = o.proc.CreateRefund(ctx, processor.RefundRequest{
				HoldRef:        p.IntentID,
				Amount:         in.Amount,
				Reason:         in.Reason,
				IdempotencyKey: idemKey(p.Hold.ID, models.TransitionRefundPrefix+key),
			})
			return err
		})
		if err != nil {
			o.logFailure(ctx, "create_refund", p.Hold.ID, err)
			if errors.Is(err, processor.ErrRetriesExhausted) {
				p.PendingRefunds = append(p.PendingRefunds, r)
				return o.queueReconciliation(ctx, p, models.ActionRefund, err)
			}
			p.FailureReason = "refund declined: " + err.Error()
			if serr := o.save(ctx, p, nil); serr != nil {
				return serr
			}
			return fmt.Errorf("%w: %w", ErrRefundFailed, err)
		}
		r.RefundID = ref.Ref
		return o.applyRefund(ctx, p, r)
	})
}
