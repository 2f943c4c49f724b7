package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
)

// WalletService moves a consultant's earnings buckets for one payment record and writes the
// matching ledger rows. Every method takes the store it should write through, so callers can
// pass a transaction-bound store and keep the bucket move atomic with the record save.
type WalletService struct{}

func NewWalletService() *WalletService {
	return &WalletService{}
}

// HoldEscrow records authorized funds: escrow += amount.
func (s *WalletService) HoldEscrow(ctx context.Context, st store.Store, p *models.PaymentRecord) error {
	if p.Amount <= 0 {
		return errors.New("amount to hold must be greater than zero")
	}
	return st.AdjustEarnings(ctx, p.ConsultantID, models.Earnings{Escrow: p.Amount}, []models.WalletTransaction{
		entry(p, p.Amount, models.WalletTrxEscrowHold, "funds authorized"),
	})
}

// ReleaseEscrow undoes HoldEscrow when the authorization is canceled or fails.
func (s *WalletService) ReleaseEscrow(ctx context.Context, st store.Store, p *models.PaymentRecord, reason string) error {
	return st.AdjustEarnings(ctx, p.ConsultantID, models.Earnings{Escrow: -p.Amount}, []models.WalletTransaction{
		entry(p, -p.Amount, models.WalletTrxEscrowRelease, reason),
	})
}

// CreditPending moves a captured payment out of escrow and credits its net amount as pending.
// heldEscrow is false when the capture was observed without a prior authorization.
func (s *WalletService) CreditPending(ctx context.Context, st store.Store, p *models.PaymentRecord, heldEscrow bool) error {
	if p.NetAmount < 0 {
		return fmt.Errorf("negative net amount %d", p.NetAmount)
	}
	delta := models.Earnings{Pending: p.NetAmount}
	entries := []models.WalletTransaction{entry(p, p.NetAmount, models.WalletTrxPendingCredit, "captured, awaiting transfer")}
	if heldEscrow {
		delta.Escrow = -p.Amount
		entries = append([]models.WalletTransaction{entry(p, -p.Amount, models.WalletTrxEscrowRelease, "captured")}, entries...)
	}
	return st.AdjustEarnings(ctx, p.ConsultantID, delta, entries)
}

// Payout settles the pending credit once the split transfer is confirmed.
func (s *WalletService) Payout(ctx context.Context, st store.Store, p *models.PaymentRecord) error {
	return st.AdjustEarnings(ctx, p.ConsultantID, models.Earnings{
		Pending: -p.NetAmount,
		Paid:    p.NetAmount,
		Total:   p.NetAmount,
	}, []models.WalletTransaction{
		entry(p, p.NetAmount, models.WalletTrxPayout, "transfer "+p.TransferID),
	})
}

// ReversePending drops a pending credit that will never be transferred.
func (s *WalletService) ReversePending(ctx context.Context, st store.Store, p *models.PaymentRecord, reason string) error {
	return st.AdjustEarnings(ctx, p.ConsultantID, models.Earnings{Pending: -p.NetAmount}, []models.WalletTransaction{
		entry(p, -p.NetAmount, models.WalletTrxReversal, reason),
	})
}

func entry(p *models.PaymentRecord, amount int64, typ models.WalletTrxType, desc string) models.WalletTransaction {
	return models.WalletTransaction{
		ConsultantID:    p.ConsultantID,
		PaymentRecordID: p.ID,
		Amount:          amount,
		Type:            typ,
		Description:     desc,
	}
}
