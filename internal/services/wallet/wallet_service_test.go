package wallet

import (
	"context"
	"testing"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
)

func TestEarningsLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := &models.ConsultantAccount{}
	if err := st.CreateConsultant(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	p := &models.PaymentRecord{ConsultantID: c.ID, Amount: 100000, NetAmount: 85000, TransferID: "tr_1"}
	w := NewWalletService()

	if err := w.HoldEscrow(ctx, st, p); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := w.CreditPending(ctx, st, p, true); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := w.Payout(ctx, st, p); err != nil {
		t.Fatalf("payout: %v", err)
	}

	got, _ := st.GetConsultant(ctx, c.ID)
	want := models.Earnings{Total: 85000, Pending: 0, Paid: 85000, Escrow: 0}
	if got.Earnings != want {
		t.Fatalf("earnings = %+v, want %+v", got.Earnings, want)
	}
	ledger, _ := st.ListLedger(ctx, c.ID)
	if len(ledger) != 4 {
		t.Fatalf("ledger rows = %d, want 4", len(ledger))
	}
}

func TestCreditPendingWithoutHold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := &models.ConsultantAccount{}
	_ = st.CreateConsultant(ctx, c)
	p := &models.PaymentRecord{ConsultantID: c.ID, Amount: 1000, NetAmount: 600}

	if err := NewWalletService().CreditPending(ctx, st, p, false); err != nil {
		t.Fatalf("credit: %v", err)
	}
	got, _ := st.GetConsultant(ctx, c.ID)
	if got.Earnings.Escrow != 0 || got.Earnings.Pending != 600 {
		t.Fatalf("earnings = %+v", got.Earnings)
	}
}
