// Package processor is the narrow capability surface the escrow service needs from the
// external payment processor.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type HoldStatus string

const (
	HoldPending    HoldStatus = "pending"
	HoldAuthorized HoldStatus = "authorized"
	HoldCaptured   HoldStatus = "captured"
	HoldCanceled   HoldStatus = "canceled"
	HoldFailed     HoldStatus = "failed"
)

type HoldRequest struct {
	HoldID              string
	Amount              int64
	Currency            string
	ConsultantAccountID string
	PaymentMethodID     string
	CustomerID          string
	Metadata            map[string]string
}

type Hold struct {
	Ref      string
	Status   HoldStatus
	Amount   int64
	ChargeID string
}

type Capture struct {
	Ref          string
	ChargeID     string
	ProcessorFee int64
}

type TransferRequest struct {
	DestinationAccountID string
	Amount               int64
	Currency             string
	SourceChargeID       string
	Group                string
	IdempotencyKey       string
	Metadata             map[string]string
}

type Transfer struct {
	Ref    string
	Amount int64
}

type RefundRequest struct {
	HoldRef        string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

type Refund struct {
	Ref string
}

// AccountSnapshot is the external connected-account state the synchronizer maps from.
type AccountSnapshot struct {
	ID               string
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
	Requirements     []string
	DisabledReason   string
	At               time.Time
}

// Client is implemented by the Stripe adapter and by Fake.
type Client interface {
	CreateHold(ctx context.Context, req HoldRequest, idempotencyKey string) (Hold, error)
	GetHold(ctx context.Context, ref string) (Hold, error)
	CaptureHold(ctx context.Context, ref, idempotencyKey string) (Capture, error)
	CancelHold(ctx context.Context, ref, reason, idempotencyKey string) error
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
	// FindTransfer looks up a transfer by its group. ok is false when none exists.
	FindTransfer(ctx context.Context, group string) (t Transfer, ok bool, err error)
	CreateRefund(ctx context.Context, req RefundRequest) (Refund, error)
	GetAccount(ctx context.Context, accountID string) (AccountSnapshot, error)
}

var ErrRetriesExhausted = errors.New("processor: retries exhausted")

// Error is a processor-reported failure. Transient errors (timeouts, 5xx, rate limits)
// may be retried; everything else is a decision by the processor.
type Error struct {
	Op        string
	Code      string
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("processor %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("processor %s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// Code returns the processor error code, or "" for non-processor errors.
func Code(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
