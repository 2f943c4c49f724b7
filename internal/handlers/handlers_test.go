package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/connect"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/escrow"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/locker"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/matching"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/webhook"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/utils"
)

const (
	jwtSecret     = "jwt-test"
	webhookSecret = "whsec-test"
)

type testServer struct {
	app        *fiber.App
	st         *store.Memory
	fake       *processor.Fake
	consultant models.ConsultantAccount
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	fake := processor.NewFake()
	locks := locker.NewLocal()
	policy := processor.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Timeout: time.Second}

	acct := "acct_h1"
	c := &models.ConsultantAccount{
		ConnectedAccountID: &acct,
		ApplicationStatus:  models.ApplicationApproved,
		IsActive:           true,
		AvailabilityStatus: models.AvailabilityAvailable,
		Expertise:          []string{"go"},
		AppliedAt:          time.Now().UTC(),
	}
	c.SetConnectState(models.ConnectEnabled, true, true)
	if err := st.CreateConsultant(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	orch := escrow.NewOrchestrator(escrow.Deps{Store: st, Processor: fake, Locker: locks, Retry: policy}, escrow.DefaultConfig())
	sync := connect.NewSynchronizer(st, fake, locks, policy)
	proc := webhook.NewProcessor(webhook.HMACVerifier{Secret: webhookSecret}, st, locks, orch, sync)

	app := fiber.New()
	Routes{
		JWTSecret:   jwtSecret,
		Webhook:     NewWebhookHandler(proc, "hmac"),
		Escrow:      NewEscrowHandler(orch),
		Consultants: NewConsultantHandler(st, sync),
		Matches:     NewMatchHandler(matching.NewEngine(st)),
	}.Mount(app)
	return &testServer{app: app, st: st, fake: fake, consultant: *c}
}

func (s *testServer) do(t *testing.T, method, path, role string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		uid := uuid.NewString()
		if role == "consultant" {
			uid = s.consultant.ID.String()
		}
		tok, err := utils.SignJWT(jwtSecret, uid, role, 5)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func dataID(t *testing.T, body map[string]any) string {
	t.Helper()
	data, _ := body["data"].(map[string]any)
	hold, _ := data["hold"].(map[string]any)
	id, _ := hold["id"].(string)
	if id == "" {
		t.Fatalf("no hold id in %v", body)
	}
	return id
}

func TestEscrowFlowOverHTTP(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	status, body := s.do(t, "POST", "/api/escrow/holds", "client", map[string]any{
		"consultant_id": s.consultant.ID.String(),
		"milestone_id":  "ms-1",
		"amount":        100000,
		"currency":      "usd",
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %v", status, body)
	}
	id := dataID(t, body)

	if status, body = s.do(t, "POST", "/api/escrow/holds/"+id+"/upfront-release", "client", nil); status != http.StatusOK {
		t.Fatalf("upfront: %d %v", status, body)
	}
	if status, body = s.do(t, "POST", "/api/escrow/holds/"+id+"/approve", "client", nil); status != http.StatusOK {
		t.Fatalf("approve: %d %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["status"] != "settled" || data["net_amount"].(float64) != 60000 {
		t.Fatalf("approve data = %v", data)
	}

	// settled holds cannot be canceled
	if status, _ = s.do(t, "POST", "/api/escrow/holds/"+id+"/cancel", "client", nil); status != http.StatusConflict {
		t.Fatalf("cancel after settle: %d", status)
	}

	if status, _ = s.do(t, "GET", "/api/escrow/holds/"+id, "consultant", nil); status != http.StatusOK {
		t.Fatalf("owner get: %d", status)
	}
}

func TestEscrowValidationAndAuth(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	if status, _ := s.do(t, "POST", "/api/escrow/holds", "", map[string]any{}); status != http.StatusUnauthorized {
		t.Fatalf("no token: %d", status)
	}
	if status, _ := s.do(t, "POST", "/api/escrow/holds", "consultant", map[string]any{}); status != http.StatusForbidden {
		t.Fatalf("wrong role: %d", status)
	}
	status, _ := s.do(t, "POST", "/api/escrow/holds", "client", map[string]any{
		"consultant_id": s.consultant.ID.String(),
		"milestone_id":  "ms-1",
		"amount":        -5,
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("negative amount: %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/escrow/holds/"+uuid.NewString(), "admin", nil); status != http.StatusNotFound {
		t.Fatalf("missing hold: %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/escrow/holds/nope", "admin", nil); status != http.StatusBadRequest {
		t.Fatalf("bad id: %d", status)
	}
}

func TestCreateHoldDeclineIsPaymentRequired(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	s.fake.FailNext("create_hold", &processor.Error{Op: "create_hold", Code: "card_declined"})
	status, body := s.do(t, "POST", "/api/escrow/holds", "client", map[string]any{
		"consultant_id": s.consultant.ID.String(),
		"milestone_id":  "ms-1",
		"amount":        1000,
	})
	if status != http.StatusPaymentRequired || body["success"] != false {
		t.Fatalf("decline: %d %v", status, body)
	}
}

func TestUnconfirmedCreateIsAccepted(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	lost := &processor.Error{Op: "create_hold", Code: "network_error", Transient: true}
	s.fake.FailNext("create_hold", lost, lost)
	status, body := s.do(t, "POST", "/api/escrow/holds", "client", map[string]any{
		"consultant_id": s.consultant.ID.String(),
		"milestone_id":  "ms-1",
		"amount":        1000,
	})
	if status != http.StatusAccepted {
		t.Fatalf("unconfirmed create: %d %v", status, body)
	}
	id := dataID(t, body)
	data := body["data"].(map[string]any)
	if data["pending_action"] != "create" || data["settlement_flag"] != "pending_reconciliation" {
		t.Fatalf("record not parked: %v", data)
	}
	if status, _ := s.do(t, "GET", "/api/escrow/holds/"+id, "admin", nil); status != http.StatusOK {
		t.Fatalf("parked hold not readable: %d", status)
	}
}

func TestRefundNeedsIdempotencyKey(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	_, body := s.do(t, "POST", "/api/escrow/holds", "client", map[string]any{
		"consultant_id": s.consultant.ID.String(),
		"milestone_id":  "ms-1",
		"amount":        1000,
	})
	id := dataID(t, body)
	s.do(t, "POST", "/api/escrow/holds/"+id+"/approve", "client", nil)

	if status, _ := s.do(t, "POST", "/api/escrow/holds/"+id+"/refund", "admin", map[string]any{"amount": 100}); status != http.StatusBadRequest {
		t.Fatalf("missing key: %d", status)
	}
	status, body := s.do(t, "POST", "/api/escrow/holds/"+id+"/refund", "admin", map[string]any{}, "Idempotency-Key", "r-1")
	if status != http.StatusOK {
		t.Fatalf("full refund: %d %v", status, body)
	}
	if body["data"].(map[string]any)["status"] != "refunded" {
		t.Fatalf("status = %v", body["data"])
	}
	// replay with the same key is a no-op
	if status, _ = s.do(t, "POST", "/api/escrow/holds/"+id+"/refund", "admin", map[string]any{}, "Idempotency-Key", "r-1"); status != http.StatusOK {
		t.Fatalf("replay: %d", status)
	}
	if n := len(s.fake.Refunds()); n != 1 {
		t.Fatalf("refunds at processor = %d", n)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	raw := []byte(`{"id":"evt_1","type":"customer.created","created":1,"data":{"object":{"id":"cus_1"}}}`)

	send := func(sig string) (int, map[string]any) {
		req := httptest.NewRequest("POST", "/webhooks/processor", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		if sig != "" {
			req.Header.Set(HeaderHMACSignature, sig)
		}
		resp, err := s.app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	if status, _ := send(""); status != http.StatusBadRequest {
		t.Fatalf("missing signature: %d", status)
	}
	if status, _ := send("00ff"); status != http.StatusBadRequest {
		t.Fatalf("bad signature: %d", status)
	}
	status, body := send(webhook.SignHex(webhookSecret, raw))
	if status != http.StatusOK || body["received"] != true || body["eventType"] != "customer.created" {
		t.Fatalf("valid: %d %v", status, body)
	}
}

func TestConsultantsAndMatches(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	status, body := s.do(t, "POST", "/api/consultants", "admin", map[string]any{
		"expertise":           []string{"Go", "Postgres"},
		"industries":          []string{"fintech"},
		"hourly_rate":         9000,
		"weekly_availability": 30,
		"experience_bracket":  "5-10",
	})
	if status != http.StatusCreated {
		t.Fatalf("register: %d %v", status, body)
	}
	newID := body["data"].(map[string]any)["id"].(string)

	if status, _ = s.do(t, "POST", "/api/consultants", "admin", map[string]any{"expertise": []string{"go"}, "experience_bracket": "7"}); status != http.StatusUnprocessableEntity {
		t.Fatalf("bad bracket: %d", status)
	}

	// not yet matchable: pending application, no connected account
	status, body = s.do(t, "POST", "/api/matches", "client", map[string]any{"expertise": []string{"go"}})
	if status != http.StatusOK || len(body["data"].([]any)) != 1 {
		t.Fatalf("matches before approval: %d %v", status, body)
	}

	if status, _ = s.do(t, "PATCH", "/api/consultants/"+newID, "admin", map[string]any{"application_status": "approved"}); status != http.StatusOK {
		t.Fatalf("approve application: %d", status)
	}
	if status, _ = s.do(t, "PATCH", "/api/consultants/"+newID, "consultant", map[string]any{"completed_projects": 50}); status != http.StatusForbidden {
		t.Fatalf("profile edit by consultant: %d", status)
	}
	if status, _ = s.do(t, "PATCH", "/api/consultants/"+uuid.NewString(), "admin", map[string]any{"is_active": true}); status != http.StatusNotFound {
		t.Fatalf("profile edit of missing consultant: %d", status)
	}
	if status, _ = s.do(t, "POST", "/api/consultants/"+newID+"/onboarding", "admin", map[string]any{"account_id": "acct_h1"}); status != http.StatusConflict {
		t.Fatalf("account in use: %d", status)
	}
	if status, _ = s.do(t, "POST", "/api/consultants/"+newID+"/onboarding", "admin", map[string]any{"account_id": "acct_new"}); status != http.StatusOK {
		t.Fatalf("onboarding: %d", status)
	}
	s.fake.SetAccount(processor.AccountSnapshot{ID: "acct_new", DetailsSubmitted: true, ChargesEnabled: true, PayoutsEnabled: true})
	status, body = s.do(t, "POST", "/api/consultants/"+newID+"/sync", "admin", nil)
	if status != http.StatusOK || body["data"].(map[string]any)["connect_status"] != "enabled" {
		t.Fatalf("sync: %d %v", status, body)
	}

	status, body = s.do(t, "POST", "/api/matches", "client", map[string]any{"expertise": []string{"go", "postgres"}, "industry": "fintech"})
	matches := body["data"].([]any)
	if status != http.StatusOK || len(matches) != 2 {
		t.Fatalf("matches after approval: %d %v", status, body)
	}
	if matches[0].(map[string]any)["consultant_id"] != newID {
		t.Fatalf("best match = %v, want %s", matches[0], newID)
	}
}
