package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/connect"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/escrow"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/locker"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
)

const secret = "whsec_test"

type rig struct {
	proc       *Processor
	st         *store.Memory
	fake       *processor.Fake
	orch       *escrow.Orchestrator
	consultant models.ConsultantAccount
}

func newRig(t *testing.T) *rig {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	fake := processor.NewFake()
	fake.HoldStatusOnCreate = processor.HoldPending
	locks := locker.NewLocal()
	policy := processor.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Timeout: time.Second}

	acct := "acct_w1"
	c := &models.ConsultantAccount{
		ConnectedAccountID: &acct,
		ApplicationStatus:  models.ApplicationApproved,
		IsActive:           true,
	}
	c.SetConnectState(models.ConnectEnabled, true, true)
	if err := st.CreateConsultant(ctx, c); err != nil {
		t.Fatalf("create consultant: %v", err)
	}

	orch := escrow.NewOrchestrator(escrow.Deps{Store: st, Processor: fake, Locker: locks, Retry: policy}, escrow.DefaultConfig())
	sync := connect.NewSynchronizer(st, fake, locks, policy)
	return &rig{
		proc:       NewProcessor(HMACVerifier{Secret: secret}, st, locks, orch, sync),
		st:         st,
		fake:       fake,
		orch:       orch,
		consultant: *c,
	}
}

func (e *rig) hold(t *testing.T, amount int64) models.PaymentRecord {
	t.Helper()
	rec, err := e.orch.CreateHold(context.Background(), escrow.CreateHoldInput{
		ConsultantID: e.consultant.ID,
		MilestoneID:  "ms-1",
		Amount:       amount,
	})
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	if rec.Status != models.PaymentPending {
		t.Fatalf("status = %s, want pending", rec.Status)
	}
	return rec
}

func paymentPayload(id, typ, intent string, created int64) []byte {
	raw, _ := json.Marshal(map[string]any{
		"event_id": id,
		"type":     typ,
		"created":  created,
		"data": map[string]any{
			"object": map[string]any{"id": intent, "object": "payment_intent", "latest_charge": "ch_" + intent},
		},
	})
	return raw
}

func (e *rig) deliver(t *testing.T, raw []byte) Result {
	t.Helper()
	res, err := e.proc.Receive(context.Background(), raw, SignHex(secret, raw))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return res
}

func (e *rig) earnings(t *testing.T) models.Earnings {
	t.Helper()
	c, err := e.st.GetConsultant(context.Background(), e.consultant.ID)
	if err != nil {
		t.Fatalf("consultant: %v", err)
	}
	return c.Earnings
}

func TestDuplicateSucceededCreditsOnce(t *testing.T) {
	t.Parallel()

	e := newRig(t)
	rec := e.hold(t, 100000)
	raw := paymentPayload("evt_1", escrow.EventSucceeded, rec.IntentID, 1700000000)

	if res := e.deliver(t, raw); res.Outcome != OutcomeProcessed {
		t.Fatalf("first delivery outcome = %s", res.Outcome)
	}
	if res := e.deliver(t, raw); res.Outcome != OutcomeDuplicate {
		t.Fatalf("second delivery outcome = %s", res.Outcome)
	}

	got, err := e.st.GetPaymentByIntent(context.Background(), rec.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.PaymentSettled || got.ChargeID != "ch_"+rec.IntentID {
		t.Fatalf("status = %s charge = %q", got.Status, got.ChargeID)
	}
	if n := len(e.fake.Transfers()); n != 1 {
		t.Fatalf("transfers = %d, want 1", n)
	}
	earn := e.earnings(t)
	if earn.Paid != got.NetAmount || earn.Pending != 0 || earn.Escrow != 0 {
		t.Fatalf("earnings = %+v, net %d", earn, got.NetAmount)
	}

	events, err := e.st.ListEvents(context.Background(), models.TargetPayment, rec.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || !events[0].Processed {
		t.Fatalf("event log = %+v", events)
	}
}

// normalized drops the fields that legitimately differ between two stores: generated ids,
// store bookkeeping and the settlement wall-clock time.
func normalized(p models.PaymentRecord) models.PaymentRecord {
	p.ID, p.Hold.ID, p.ConsultantID = uuid.Nil, uuid.Nil, uuid.Nil
	p.Version = 0
	p.CreatedAt, p.UpdatedAt = time.Time{}, time.Time{}
	p.SettledAt = nil
	return p
}

func TestReorderedDeliveriesConverge(t *testing.T) {
	t.Parallel()

	groups := []struct {
		name      string
		status    models.PaymentStatus
		transfers int
		orders    [][]string
	}{
		{"capture", models.PaymentSettled, 1, [][]string{
			{"auth", "succ"},
			{"succ", "auth"},
			{"auth", "succ", "auth", "succ"},
			{"succ", "succ", "auth", "auth"},
			{"auth", "auth", "succ"},
		}},
		{"failure", models.PaymentFailed, 0, [][]string{
			{"auth", "failed"},
			{"failed", "auth"},
			{"failed", "auth", "failed"},
			{"auth", "failed", "failed", "auth"},
		}},
		{"cancel", models.PaymentCanceled, 0, [][]string{
			{"auth", "canceled"},
			{"canceled", "auth"},
			{"canceled", "canceled", "auth", "auth"},
		}},
	}
	for _, g := range groups {
		var (
			want     *models.PaymentRecord
			wantEarn models.Earnings
		)
		for i, order := range g.orders {
			e := newRig(t)
			rec := e.hold(t, 50000)
			payloads := map[string][]byte{
				"auth":     paymentPayload("evt_auth", escrow.EventAmountCapturable, rec.IntentID, 1700000000),
				"succ":     paymentPayload("evt_succ", escrow.EventSucceeded, rec.IntentID, 1700000100),
				"failed":   paymentPayload("evt_failed", escrow.EventPaymentFailed, rec.IntentID, 1700000100),
				"canceled": paymentPayload("evt_canceled", escrow.EventCanceled, rec.IntentID, 1700000100),
			}
			for _, name := range order {
				e.deliver(t, payloads[name])
			}
			got, err := e.st.GetPaymentByIntent(context.Background(), rec.IntentID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != g.status || len(e.fake.Transfers()) != g.transfers {
				t.Fatalf("%s order %d: status=%s transfers=%d", g.name, i, got.Status, len(e.fake.Transfers()))
			}
			if got.AuthorizedAt == nil || got.AuthorizedAt.Unix() != 1700000000 {
				t.Fatalf("%s order %d: authorized_at = %v", g.name, i, got.AuthorizedAt)
			}
			earn := e.earnings(t)
			norm := normalized(got)
			if want == nil {
				want, wantEarn = &norm, earn
				continue
			}
			if !reflect.DeepEqual(norm, *want) {
				t.Fatalf("%s order %d diverged:\n got  %+v\n want %+v", g.name, i, norm, *want)
			}
			if earn != wantEarn {
				t.Fatalf("%s order %d earnings = %+v, want %+v", g.name, i, earn, wantEarn)
			}
		}
	}
}

func TestUnknownTargetIsAcknowledged(t *testing.T) {
	t.Parallel()

	e := newRig(t)
	raw := paymentPayload("evt_x", escrow.EventSucceeded, "pi_missing", 1700000000)
	res := e.deliver(t, raw)
	if res.Outcome != OutcomeUnknownTarget {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	events, _ := e.st.ListEvents(context.Background(), models.TargetPayment, "pi_missing")
	if len(events) != 0 {
		t.Fatalf("unknown target should not be logged: %+v", events)
	}
}

func TestUnhandledTypeIsIgnored(t *testing.T) {
	t.Parallel()

	e := newRig(t)
	raw := []byte(`{"id":"evt_c","type":"customer.created","created":1,"data":{"object":{"id":"cus_1"}}}`)
	if res := e.deliver(t, raw); res.Outcome != OutcomeIgnored || res.EventID != "evt_c" {
		t.Fatalf("result = %+v", res)
	}
}

func TestBadSignatureHasNoEffect(t *testing.T) {
	t.Parallel()

	e := newRig(t)
	rec := e.hold(t, 100000)
	raw := paymentPayload("evt_1", escrow.EventSucceeded, rec.IntentID, 1700000000)

	for _, sig := range []string{"", "deadbeef", SignHex("other", raw)} {
		_, err := e.proc.Receive(context.Background(), raw, sig)
		if !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("signature %q: err = %v", sig, err)
		}
	}
	got, _ := e.st.GetPaymentByIntent(context.Background(), rec.IntentID)
	if got.Status != models.PaymentPending {
		t.Fatalf("status changed to %s", got.Status)
	}
	events, _ := e.st.ListEvents(context.Background(), models.TargetPayment, rec.IntentID)
	if len(events) != 0 {
		t.Fatalf("rejected event was logged")
	}
}

func TestMalformedPayload(t *testing.T) {
	t.Parallel()

	e := newRig(t)
	for _, raw := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"payment_intent.succeeded"}`),
		[]byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`),
	} {
		_, err := e.proc.Receive(context.Background(), raw, SignHex(secret, raw))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: err = %v", raw, err)
		}
	}
}

func accountPayload(id string, created int64, enabled bool) []byte {
	raw, _ := json.Marshal(map[string]any{
		"id":      id,
		"type":    connect.EventAccountUpdated,
		"created": created,
		"account": "acct_w1",
		"data": map[string]any{
			"object": map[string]any{
				"id":                "acct_w1",
				"object":            "account",
				"details_submitted": true,
				"charges_enabled":   enabled,
				"payouts_enabled":   enabled,
			},
		},
	})
	return raw
}

func TestAccountUpdatesApplyByCreatedTime(t *testing.T) {
	t.Parallel()

	e := newRig(t)
	later := accountPayload("evt_late", 1700000200, false)
	earlier := accountPayload("evt_early", 1700000100, true)

	if res := e.deliver(t, later); res.Outcome != OutcomeProcessed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res := e.deliver(t, earlier); res.Outcome != OutcomeProcessed {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	got, err := e.st.GetConsultant(context.Background(), e.consultant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConnectStatus != models.ConnectPending || got.PayoutsEnabled {
		t.Fatalf("stale snapshot won: status=%s payouts=%v", got.ConnectStatus, got.PayoutsEnabled)
	}
	if got.SnapshotAt == nil || got.SnapshotAt.Unix() != 1700000200 {
		t.Fatalf("snapshot_at = %v", got.SnapshotAt)
	}
}

func TestFailedApplyIsRetriedOnRedelivery(t *testing.T) {
	t.Parallel()

	e := newRig(t)
	raw := []byte(fmt.Sprintf(`{"id":"evt_cap","type":%q,"created":1700000000,"account":"acct_w1","data":{"object":{"id":"card_payments","object":"capability","account":"acct_w1"}}}`, connect.EventCapability))
	e.fake.FailNext("get_account", &processor.Error{Op: "get_account", Code: "resource_missing"})

	if _, err := e.proc.Receive(context.Background(), raw, SignHex(secret, raw)); err == nil {
		t.Fatalf("expected the poll failure to surface")
	}
	events, _ := e.st.ListEvents(context.Background(), models.TargetAccount, "acct_w1")
	if len(events) != 1 || events[0].Processed || events[0].ProcessingError == "" {
		t.Fatalf("event log after failure = %+v", events)
	}

	e.fake.SetAccount(processor.AccountSnapshot{ID: "acct_w1", DetailsSubmitted: true, ChargesEnabled: true, PayoutsEnabled: true})
	if res := e.deliver(t, raw); res.Outcome != OutcomeProcessed {
		t.Fatalf("redelivery outcome = %s", res.Outcome)
	}
	events, _ = e.st.ListEvents(context.Background(), models.TargetAccount, "acct_w1")
	if len(events) != 1 || !events[0].Processed {
		t.Fatalf("event log after redelivery = %+v", events)
	}
}

func TestStripeVerifierRejectsUnsigned(t *testing.T) {
	t.Parallel()

	v := StripeVerifier{Secret: secret}
	if err := v.Verify([]byte(`{}`), "t=1,v1=abc"); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v", err)
	}
}
