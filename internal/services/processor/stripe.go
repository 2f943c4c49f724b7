package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeClient adapts the Stripe API (separate charges and transfers with manual capture)
// to Client. It owns no retry logic; callers wrap it with a RetryPolicy.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(secretKey string) *StripeClient {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeClient{api: sc}
}

func (s *StripeClient) CreateHold(ctx context.Context, req HoldRequest, idempotencyKey string) (Hold, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethodTypes: []*string{stripe.String("card")},
		TransferGroup:      stripe.String(req.HoldID),
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("hold_id", req.HoldID)
	params.AddMetadata("consultant_account_id", req.ConsultantAccountID)
	params.Params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Hold{}, classify("create_hold", err)
	}
	h := holdFromIntent(pi)
	if h.Status == HoldFailed {
		return h, &Error{Op: "create_hold", Code: "payment_declined", Message: lastPaymentError(pi)}
	}
	return h, nil
}

func (s *StripeClient) GetHold(ctx context.Context, ref string) (Hold, error) {
	params := &stripe.PaymentIntentParams{}
	params.Params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return Hold{}, classify("get_hold", err)
	}
	return holdFromIntent(pi), nil
}

func (s *StripeClient) CaptureHold(ctx context.Context, ref, idempotencyKey string) (Capture, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.AddExpand("latest_charge.balance_transaction")
	params.Params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := s.api.PaymentIntents.Capture(ref, params)
	if err != nil {
		return Capture{}, classify("capture_hold", err)
	}
	c := Capture{Ref: pi.ID}
	if pi.LatestCharge != nil {
		c.ChargeID = pi.LatestCharge.ID
		if bt := pi.LatestCharge.BalanceTransaction; bt != nil {
			c.ProcessorFee = bt.Fee
		}
	}
	return c, nil
}

func (s *StripeClient) CancelHold(ctx context.Context, ref, reason, idempotencyKey string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("requested_by_customer"),
	}
	if reason == "abandoned" || reason == "duplicate" || reason == "fraudulent" {
		params.CancellationReason = stripe.String(reason)
	}
	params.Params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	if _, err := s.api.PaymentIntents.Cancel(ref, params); err != nil {
		return classify("cancel_hold", err)
	}
	return nil
}

func (s *StripeClient) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Destination:   stripe.String(req.DestinationAccountID),
		TransferGroup: stripe.String(req.Group),
	}
	if req.SourceChargeID != "" {
		params.SourceTransaction = stripe.String(req.SourceChargeID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	tr, err := s.api.Transfers.New(params)
	if err != nil {
		return Transfer{}, classify("create_transfer", err)
	}
	return Transfer{Ref: tr.ID, Amount: tr.Amount}, nil
}

// FindTransfer lists transfers of a group; a group carries at most one transfer here.
func (s *StripeClient) FindTransfer(ctx context.Context, group string) (Transfer, bool, error) {
	params := &stripe.TransferListParams{TransferGroup: stripe.String(group)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	it := s.api.Transfers.List(params)
	if it.Next() {
		tr := it.Transfer()
		return Transfer{Ref: tr.ID, Amount: tr.Amount}, true, nil
	}
	if err := it.Err(); err != nil {
		return Transfer{}, false, classify("find_transfer", err)
	}
	return Transfer{}, false, nil
}

func (s *StripeClient) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.HoldRef),
		Amount:        stripe.Int64(req.Amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.AddMetadata("reason", req.Reason)
	params.Params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return Refund{}, classify("create_refund", err)
	}
	if r.Status == stripe.RefundStatusFailed {
		return Refund{Ref: r.ID}, &Error{Op: "create_refund", Code: "refund_failed", Message: string(r.FailureReason)}
	}
	return Refund{Ref: r.ID}, nil
}

func (s *StripeClient) GetAccount(ctx context.Context, accountID string) (AccountSnapshot, error) {
	params := &stripe.AccountParams{}
	params.Params.Context = ctx
	acct, err := s.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return AccountSnapshot{}, classify("get_account", err)
	}
	return SnapshotFromAccount(acct), nil
}

// SnapshotFromAccount flattens a Stripe account into the fields the status mapping reads.
// Requirements merge currently_due and past_due.
func SnapshotFromAccount(acct *stripe.Account) AccountSnapshot {
	snap := AccountSnapshot{
		ID:               acct.ID,
		DetailsSubmitted: acct.DetailsSubmitted,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
	}
	if r := acct.Requirements; r != nil {
		seen := make(map[string]bool)
		for _, list := range [][]string{r.CurrentlyDue, r.PastDue} {
			for _, item := range list {
				if !seen[item] {
					seen[item] = true
					snap.Requirements = append(snap.Requirements, item)
				}
			}
		}
		snap.DisabledReason = string(r.DisabledReason)
	}
	return snap
}

func holdFromIntent(pi *stripe.PaymentIntent) Hold {
	h := Hold{Ref: pi.ID, Amount: pi.Amount}
	if pi.LatestCharge != nil {
		h.ChargeID = pi.LatestCharge.ID
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		h.Status = HoldAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		h.Status = HoldCaptured
	case stripe.PaymentIntentStatusCanceled:
		h.Status = HoldCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			h.Status = HoldFailed
		} else {
			h.Status = HoldPending
		}
	default:
		h.Status = HoldPending
	}
	return h
}

func lastPaymentError(pi *stripe.PaymentIntent) string {
	if pi.LastPaymentError == nil {
		return ""
	}
	return pi.LastPaymentError.Msg
}

// classify turns a Stripe SDK error into *Error. Network failures, 5xx, rate limits and lock
// timeouts are transient; card and invalid-request errors are processor decisions.
func classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		transient := se.HTTPStatusCode >= http.StatusInternalServerError ||
			se.HTTPStatusCode == http.StatusTooManyRequests ||
			se.Type == stripe.ErrorTypeAPI ||
			se.Code == stripe.ErrorCodeLockTimeout ||
			se.Code == stripe.ErrorCodeRateLimit
		code := string(se.Code)
		if se.DeclineCode != "" {
			code = string(se.DeclineCode)
		}
		if code == "" {
			code = string(se.Type)
		}
		return &Error{Op: op, Code: code, Message: se.Msg, Transient: transient, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Op: op, Code: "network_error", Message: fmt.Sprint(err), Transient: true, Err: err}
}
