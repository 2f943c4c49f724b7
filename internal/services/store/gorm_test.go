package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

func startPostgres(t *testing.T) *GormStore {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}

	ctx := context.Background()
	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("escrow"),
		postgres.WithUsername("escrow"),
		postgres.WithPassword("escrow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	gdb, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewGormStore(gdb)
}

func TestGormStorePaymentsAndEvents(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	acct := "acct_gorm"
	c := &models.ConsultantAccount{ConnectedAccountID: &acct, ApplicationStatus: models.ApplicationApproved, IsActive: true,
		AvailabilityStatus: models.AvailabilityAvailable}
	c.SetConnectState(models.ConnectEnabled, true, true)
	if err := s.CreateConsultant(ctx, c); err != nil {
		t.Fatalf("create consultant: %v", err)
	}

	p := &models.PaymentRecord{IntentID: "pi_gorm", ConsultantID: c.ID, Amount: 100000, Currency: "usd", Status: models.PaymentPending}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	stale, err := s.GetPaymentByHold(ctx, p.Hold.ID)
	if err != nil {
		t.Fatalf("get by hold: %v", err)
	}
	p.Advance(models.TransitionAuthorize, models.PaymentFundsAuthorized)
	if err := s.SavePayment(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	stale.Status = models.PaymentCanceled
	if err := s.SavePayment(ctx, &stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetPaymentByIntent(ctx, "pi_gorm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.PaymentFundsAuthorized || !got.HasTransition(models.TransitionAuthorize) {
		t.Fatalf("unexpected record: status=%s applied=%v", got.Status, got.AppliedTransitions)
	}

	ev := &models.WebhookEvent{TargetType: models.TargetPayment, TargetID: "pi_gorm", ExternalEventID: "evt_1", Type: "payment_intent.succeeded"}
	if err := s.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	dup := &models.WebhookEvent{TargetType: models.TargetPayment, TargetID: "pi_gorm", ExternalEventID: "evt_1", Type: "payment_intent.succeeded"}
	if err := s.AppendEvent(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.MarkEventProcessed(ctx, ev.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark: %v", err)
	}

	if err := s.AdjustEarnings(ctx, c.ID, models.Earnings{Escrow: 100000}, []models.WalletTransaction{
		{ConsultantID: c.ID, PaymentRecordID: p.ID, Amount: 100000, Type: models.WalletTrxEscrowHold},
	}); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	cur, _ := s.GetConsultant(ctx, c.ID)
	if cur.Earnings.Escrow != 100000 {
		t.Fatalf("escrow = %d", cur.Earnings.Escrow)
	}

	pool, err := s.ListEligibleConsultants(ctx)
	if err != nil || len(pool) != 1 {
		t.Fatalf("pool=%d err=%v", len(pool), err)
	}

	busy := models.AvailabilityBusy
	rating := 4.5
	updated, err := s.UpdateProfile(ctx, c.ID, models.ProfileUpdate{AvailabilityStatus: &busy, RatingAverage: &rating})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.AvailabilityStatus != busy || updated.RatingAverage != 4.5 || updated.Version != cur.Version+1 {
		t.Fatalf("profile = %+v", updated)
	}
	if updated.Earnings.Escrow != 100000 || updated.ConnectStatus != models.ConnectEnabled {
		t.Fatalf("non-profile fields moved: earnings=%+v status=%s", updated.Earnings, updated.ConnectStatus)
	}
	if err := s.SaveConsultant(ctx, &cur); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for copy read before the profile edit, got %v", err)
	}

	// an unconfirmed hold moves to its real intent id
	parked := &models.PaymentRecord{ConsultantID: c.ID, Amount: 500, Currency: "usd", Status: models.PaymentPending}
	parked.IntentID = models.UnconfirmedIntent(uuid.New())
	if err := s.CreatePayment(ctx, parked); err != nil {
		t.Fatalf("create parked: %v", err)
	}
	parked.IntentID = "pi_gorm"
	if err := s.SavePayment(ctx, parked); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for a taken intent, got %v", err)
	}
}
