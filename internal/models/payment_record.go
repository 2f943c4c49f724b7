package models

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentFundsAuthorized   PaymentStatus = "funds_authorized"
	PaymentPartiallyReleased PaymentStatus = "partially_released"
	PaymentCaptured          PaymentStatus = "captured"
	PaymentSettled           PaymentStatus = "settled"
	PaymentCanceled          PaymentStatus = "canceled"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentFundsAuthorized, PaymentCanceled, PaymentFailed},
	PaymentFundsAuthorized:   {PaymentPartiallyReleased, PaymentCaptured, PaymentCanceled, PaymentFailed, PaymentRefunded},
	PaymentPartiallyReleased: {PaymentCaptured, PaymentCanceled, PaymentFailed, PaymentRefunded},
	PaymentCaptured:          {PaymentSettled, PaymentCanceled, PaymentFailed, PaymentRefunded},
	PaymentSettled:           {PaymentRefunded},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentFundsAuthorized, PaymentPartiallyReleased, PaymentCaptured,
		PaymentSettled, PaymentCanceled, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentCanceled || s == PaymentFailed || s == PaymentRefunded
}

// PreCapture covers the states where the authorization can still be released.
func (s PaymentStatus) PreCapture() bool {
	return s == PaymentPending || s == PaymentFundsAuthorized || s == PaymentPartiallyReleased
}

// CanTransition reports whether from -> to is in the escrow state machine.
func CanTransition(from, to PaymentStatus) bool {
	return slices.Contains(paymentTransitions[from], to)
}

type HoldState string

const (
	HoldActive            HoldState = "active"
	HoldPartiallyReleased HoldState = "partially_released"
	HoldCaptured          HoldState = "captured"
	HoldCanceled          HoldState = "canceled"
	HoldRefunded          HoldState = "refunded"
)

// EscrowHold is the milestone overlay stored alongside its payment record.
type EscrowHold struct {
	ID               uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	MilestoneID      string    `gorm:"type:varchar(64);index" json:"milestone_id"`
	UpfrontPercent   int       `gorm:"not null;default:15" json:"upfront_percent"`
	ReleasedAmount   int64     `gorm:"not null;default:0" json:"released_amount"`
	RemainingAmount  int64     `gorm:"not null;default:0" json:"remaining_amount"`
	State            HoldState `gorm:"type:varchar(30);not null;default:'active'" json:"state"`
	RefundAnnotation string    `gorm:"type:varchar(30)" json:"refund_annotation,omitempty"`
}

type SettlementFlag string

const (
	SettlementClear                 SettlementFlag = ""
	SettlementPendingReconciliation SettlementFlag = "pending_reconciliation"
	SettlementManualReview          SettlementFlag = "manual_review"
)

type PendingAction string

const (
	ActionNone     PendingAction = ""
	ActionCapture  PendingAction = "capture"
	ActionTransfer PendingAction = "transfer"
	ActionRefund   PendingAction = "refund"
	ActionCancel   PendingAction = "cancel"
	// ActionCreate marks a hold whose creation was sent but never confirmed.
	ActionCreate PendingAction = "create"
)

// Transition keys recorded in PaymentRecord.AppliedTransitions.
const (
	TransitionAuthorize      = "authorize"
	TransitionUpfrontRelease = "upfront_release"
	TransitionCapture        = "capture"
	TransitionTransfer       = "transfer"
	TransitionCancel         = "cancel"
	TransitionFail           = "fail"
	TransitionRefundPrefix   = "refund:"
)

type Refund struct {
	Key       string    `json:"key"`
	RefundID  string    `json:"refund_id,omitempty"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type PaymentRecord struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	IntentID     string        `gorm:"type:varchar(64);uniqueIndex;not null" json:"intent_id"`
	ConsultantID uuid.UUID     `gorm:"type:uuid;index;not null" json:"consultant_id"`
	Amount       int64         `gorm:"not null" json:"amount"`
	Currency     string        `gorm:"type:varchar(3);not null" json:"currency"`
	Status       PaymentStatus `gorm:"type:varchar(30);not null;index" json:"status"`

	Hold EscrowHold `gorm:"embedded;embeddedPrefix:hold_" json:"hold"`

	// kept so an unconfirmed creation can be replayed with the same request
	PaymentMethodID string                                `gorm:"type:varchar(64)" json:"-"`
	CustomerID      string                                `gorm:"type:varchar(64)" json:"-"`
	Metadata        datatypes.JSONType[map[string]string] `json:"metadata"`

	ChargeID     string `gorm:"type:varchar(64)" json:"charge_id,omitempty"`
	TransferID   string `gorm:"type:varchar(64)" json:"transfer_id,omitempty"`
	ProcessorFee int64  `json:"processor_fee"`
	PlatformFee  int64  `json:"platform_fee"`
	NetAmount    int64  `json:"net_amount"`
	FeeRate      int    `json:"fee_rate"`

	CumulativeRefunded int64                       `gorm:"not null;default:0" json:"cumulative_refunded"`
	Refunds            datatypes.JSONSlice[Refund] `json:"refunds"`
	PendingRefunds     datatypes.JSONSlice[Refund] `json:"pending_refunds,omitempty"`

	AppliedTransitions datatypes.JSONSlice[string] `json:"applied_transitions"`

	SettlementFlag SettlementFlag `gorm:"type:varchar(30);index" json:"settlement_flag,omitempty"`
	PendingAction  PendingAction  `gorm:"type:varchar(20)" json:"pending_action,omitempty"`
	Attempts       int            `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt  *time.Time     `gorm:"index" json:"next_attempt_at,omitempty"`
	FailureReason  string         `gorm:"type:text" json:"failure_reason,omitempty"`

	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	SucceededAt  *time.Time `json:"succeeded_at,omitempty"`
	CapturedAt   *time.Time `json:"captured_at,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`

	Version   int       `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PaymentRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

const unconfirmedIntentPrefix = "unconfirmed:"

// UnconfirmedIntent is the placeholder intent id of a hold the processor never confirmed.
func UnconfirmedIntent(holdID uuid.UUID) string {
	return unconfirmedIntentPrefix + holdID.String()
}

func (p *PaymentRecord) IntentConfirmed() bool {
	return !strings.HasPrefix(p.IntentID, unconfirmedIntentPrefix)
}

func (p *PaymentRecord) HasTransition(key string) bool {
	_, found := slices.BinarySearch(p.AppliedTransitions, key)
	return found
}

// markTransition keeps AppliedTransitions sorted, so the set reads the same whatever order
// the transitions arrived in.
func (p *PaymentRecord) markTransition(key string) {
	i, found := slices.BinarySearch(p.AppliedTransitions, key)
	if !found {
		p.AppliedTransitions = slices.Insert(p.AppliedTransitions, i, key)
	}
}

// Advance moves the record to the target status and records the transition key. It returns
// false without touching the record when the key was already applied or the edge is illegal.
func (p *PaymentRecord) Advance(key string, to PaymentStatus) bool {
	if p.HasTransition(key) {
		return false
	}
	if p.Status != to && !CanTransition(p.Status, to) {
		return false
	}
	p.Status = to
	p.markTransition(key)
	return true
}

// Annotate records a transition key that does not change the status (partial refunds).
func (p *PaymentRecord) Annotate(key string) bool {
	if p.HasTransition(key) {
		return false
	}
	p.markTransition(key)
	return true
}

func (p *PaymentRecord) Flag(flag SettlementFlag, action PendingAction, reason string, next *time.Time) {
	p.SettlementFlag = flag
	p.PendingAction = action
	p.FailureReason = reason
	p.NextAttemptAt = next
}

func (p *PaymentRecord) ClearFlag() {
	p.SettlementFlag = SettlementClear
	p.PendingAction = ActionNone
	p.NextAttemptAt = nil
	p.Attempts = 0
}

// Clone returns a deep copy so in-memory stores never share slices with callers.
func (p PaymentRecord) Clone() PaymentRecord {
	p.Refunds = slices.Clone(p.Refunds)
	p.PendingRefunds = slices.Clone(p.PendingRefunds)
	p.AppliedTransitions = slices.Clone(p.AppliedTransitions)
	if md := p.Metadata.Data(); md != nil {
		p.Metadata = datatypes.NewJSONType(maps.Clone(md))
	}
	return p
}
