package models

import (
	"time"

	"github.com/google/uuid"
)

type WalletTrxType string

const (
	WalletTrxEscrowHold    WalletTrxType = "escrow_hold"    // authorized, waiting for capture
	WalletTrxEscrowRelease WalletTrxType = "escrow_release" // authorization captured or released
	WalletTrxPendingCredit WalletTrxType = "pending_credit" // captured, waiting for transfer
	WalletTrxPayout        WalletTrxType = "payout"         // transferred to the connected account
	WalletTrxReversal      WalletTrxType = "reversal"       // pending credit dropped by a full refund
)

// WalletTransaction is the ledger row written for every earnings-bucket movement.
type WalletTransaction struct {
	ID              uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ConsultantID    uuid.UUID     `gorm:"type:uuid;index;not null" json:"consultant_id"`
	PaymentRecordID uuid.UUID     `gorm:"type:uuid;index;not null" json:"payment_record_id"`
	Amount          int64         `gorm:"not null" json:"amount"`
	Type            WalletTrxType `gorm:"type:varchar(20);not null" json:"type"`
	Description     string        `gorm:"type:text" json:"description"`
	CreatedAt       time.Time     `json:"created_at"`
}
