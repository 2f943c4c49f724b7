package escrow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
)

// RetrySettlement resolves a record parked by an unknown processor outcome or flagged for
// manual review. The processor is polled first, so an operation that already happened is
// recorded rather than repeated.
func (o *Orchestrator) RetrySettlement(ctx context.Context, holdID uuid.UUID) (models.PaymentRecord, error) {
	return o.withRecord(ctx, holdID, func(p *models.PaymentRecord) error {
		if p.SettlementFlag == models.SettlementManualReview {
			p.Attempts = 0
		}

		var err error
		switch p.PendingAction {
		case models.ActionCreate:
			err = o.reconcileCreate(ctx, p)
		case models.ActionCapture:
			err = o.reconcileCapture(ctx, p)
		case models.ActionCancel:
			err = o.reconcileCancel(ctx, p)
		case models.ActionTransfer:
			err = o.settle(ctx, p)
		}
		if err != nil {
			return err
		}

		if len(p.PendingRefunds) > 0 {
			if err := o.retryPendingRefunds(ctx, p); err != nil {
				return err
			}
		}

		if p.SettlementFlag != models.SettlementClear && p.PendingAction == models.ActionNone && len(p.PendingRefunds) == 0 {
			p.ClearFlag()
			return o.save(ctx, p, nil)
		}
		return nil
	})
}

// reconcileCreate replays an unconfirmed hold creation with its original idempotency key, so
// a hold the processor already made comes back instead of a second one.
func (o *Orchestrator) reconcileCreate(ctx context.Context, p *models.PaymentRecord) error {
	consultant, err := o.store.GetConsultant(ctx, p.ConsultantID)
	if err != nil {
		return fmt.Errorf("load consultant %s: %w", p.ConsultantID, err)
	}
	if consultant.ConnectedAccountID == nil {
		if err := o.flagManual(ctx, p, models.ActionCreate, "consultant has no connected account"); err != nil {
			return err
		}
		return fmt.Errorf("%w: consultant has no connected account", ErrHoldCreationFailed)
	}

	hold, err := o.sendHold(ctx, p, *consultant.ConnectedAccountID)
	if err != nil {
		o.logFailure(ctx, "create_hold", p.Hold.ID, err)
		if errors.Is(err, processor.ErrRetriesExhausted) {
			return o.queueReconciliation(ctx, p, models.ActionCreate, err)
		}
		if hold.Ref != "" {
			p.IntentID = hold.Ref
		}
		if ferr := o.applyFail(ctx, p, "hold declined: "+err.Error(), o.nowFn()); ferr != nil {
			return ferr
		}
		return fmt.Errorf("%w: %w", ErrHoldCreationFailed, err)
	}

	p.IntentID = hold.Ref
	p.ClearFlag()
	p.FailureReason = ""
	// the replayed response can be stale; the current state wins when it can be read
	if cur, err := o.pollHold(ctx, p); err == nil {
		hold = cur
	}
	now := o.nowFn()
	switch hold.Status {
	case processor.HoldAuthorized:
		return o.applyAuthorize(ctx, p, now)
	case processor.HoldCaptured:
		if err := o.applyCapture(ctx, p, processor.Capture{Ref: hold.Ref, ChargeID: hold.ChargeID}, now); err != nil {
			return err
		}
		return o.settle(ctx, p)
	case processor.HoldCanceled:
		return o.applyCancel(ctx, p, "canceled at processor", now)
	case processor.HoldFailed:
		return o.applyFail(ctx, p, "failed at processor", now)
	}
	return o.save(ctx, p, nil)
}

func (o *Orchestrator) pollHold(ctx context.Context, p *models.PaymentRecord) (processor.Hold, error) {
	var h processor.Hold
	err := o.retry.Do(ctx, "get_hold", func(ctx context.Context) error {
		var err error
		h, err = o.proc.GetHold(ctx, p.IntentID)
		return err
	})
	return h, err
}

func (o *Orchestrator) pollFailed(ctx context.Context, p *models.PaymentRecord, action models.PendingAction, err error) error {
	if errors.Is(err, processor.ErrRetriesExhausted) {
		return o.queueReconciliation(ctx, p, action, err)
	}
	if ferr := o.flagManual(ctx, p, action, "hold lookup failed: "+err.Error()); ferr != nil {
		return ferr
	}
	return fmt.Errorf("poll hold %s: %w", p.IntentID, err)
}

func (o *Orchestrator) reconcileCapture(ctx context.Context, p *models.PaymentRecord) error {
	h, err := o.pollHold(ctx, p)
	if err != nil {
		return o.pollFailed(ctx, p, models.ActionCapture, err)
	}
	switch h.Status {
	case processor.HoldCaptured:
		if err := o.applyCapture(ctx, p, processor.Capture{Ref: h.Ref, ChargeID: h.ChargeID}, o.nowFn()); err != nil {
			return err
		}
		return o.settle(ctx, p)

	case processor.HoldAuthorized:
		var c processor.Capture
		err := o.retry.Do(ctx, "capture_hold", func(ctx context.Context) error {
			var err error
			c, err = o.proc.CaptureHold(ctx, p.IntentID, idemKey(p.Hold.ID, models.TransitionCapture))
			return err
		})
		if err != nil {
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

	case processor.HoldCanceled:
		return o.applyCancel(ctx, p, "canceled at processor", o.nowFn())
	case processor.HoldFailed:
		return o.applyFail(ctx, p, "failed at processor", o.nowFn())
	}
	return o.queueReconciliation(ctx, p, models.ActionCapture, fmt.Errorf("hold still %s", h.Status))
}

func (o *Orchestrator) reconcileCancel(ctx context.Context, p *models.PaymentRecord) error {
	h, err := o.pollHold(ctx, p)
	if err != nil {
		return o.pollFailed(ctx, p, models.ActionCancel, err)
	}
	switch h.Status {
	case processor.HoldCanceled:
		return o.applyCancel(ctx, p, "canceled at processor", o.nowFn())
	case processor.HoldFailed:
		return o.applyFail(ctx, p, "failed at processor", o.nowFn())
	case processor.HoldCaptured:
		// the cancel lost the race; treat it as a capture
		if err := o.applyCapture(ctx, p, processor.Capture{Ref: h.Ref, ChargeID: h.ChargeID}, o.nowFn()); err != nil {
			return err
		}
		return o.settle(ctx, p)
	}

	err = o.retry.Do(ctx, "cancel_hold", func(ctx context.Context) error {
		return o.proc.CancelHold(ctx, p.IntentID, "requested_by_customer", idemKey(p.Hold.ID, models.TransitionCancel))
	})
	if err != nil {
		if errors.Is(err, processor.ErrRetriesExhausted) {
			return o.queueReconciliation(ctx, p, models.ActionCancel, err)
		}
		if ferr := o.flagManual(ctx, p, models.ActionCancel, "cancel declined: "+err.Error()); ferr != nil {
			return ferr
		}
		return fmt.Errorf("%w: %w", ErrCancelFailed, err)
	}
	return o.applyCancel(ctx, p, "requested_by_customer", o.nowFn())
}

func (o *Orchestrator) retryPendingRefunds(ctx context.Context, p *models.PaymentRecord) error {
	for _, r := range slices.Clone(p.PendingRefunds) {
		var ref processor.Refund
		err := o.retry.Do(ctx, "create_refund", func(ctx context.Context) error {
			var err error
			ref, err = o.proc.CreateRefund(ctx, processor.RefundRequest{
				HoldRef:        p.IntentID,
				Amount:         r.Amount,
				Reason:         r.Reason,
				IdempotencyKey: idemKey(p.Hold.ID, models.TransitionRefundPrefix+r.Key),
			})
			return err
		})
		switch {
		case err == nil:
			r.RefundID = ref.Ref
			if err := o.applyRefund(ctx, p, r); err != nil {
				return err
			}
		case errors.Is(err, processor.ErrRetriesExhausted):
			return o.queueReconciliation(ctx, p, models.ActionRefund, err)
		default:
			p.PendingRefunds = slices.DeleteFunc(p.PendingRefunds, func(pr models.Refund) bool { return pr.Key == r.Key })
			p.FailureReason = "refund declined: " + err.Error()
			if serr := o.save(ctx, p, nil); serr != nil {
				return serr
			}
			return fmt.Errorf("%w: %w", ErrRefundFailed, err)
		}
	}
	return nil
}
