package escrow

import "errors"

var (
	ErrValidation        = errors.New("escrow: invalid request")
	ErrNotFound          = errors.New("escrow: hold not found")
	ErrIllegalTransition = errors.New("escrow: illegal transition")

	ErrHoldCreationFailed = errors.New("escrow: hold creation failed")
	ErrCaptureFailed      = errors.New("escrow: capture failed")
	ErrTransferFailed     = errors.New("escrow: transfer failed")
	ErrRefundFailed       = errors.New("escrow: refund failed")
	ErrCancelFailed       = errors.New("escrow: cancel failed")

	// ErrSettlementPending means the processor outcome is unknown. The record is queued for
	// reconciliation; the caller must not assume failure.
	ErrSettlementPending = errors.New("escrow: settlement pending reconciliation")
)
