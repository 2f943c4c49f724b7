package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/connect"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/escrow"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
)

var ErrMalformed = errors.New("webhook: malformed payload")

type envelope struct {
	EventID string `json:"event_id"`
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Account string `json:"account"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (e envelope) eventID() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.ID
}

func (e envelope) createdAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

var paymentTypes = map[string]bool{
	escrow.EventAmountCapturable: true,
	escrow.EventSucceeded:        true,
	escrow.EventPaymentFailed:    true,
	escrow.EventCanceled:         true,
}

var accountTypes = map[string]bool{
	connect.EventAccountUpdated:  true,
	connect.EventAppAuthorized:   true,
	connect.EventAppDeauthorized: true,
	connect.EventCapability:      true,
}

func parseEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.eventID() == "" || strings.TrimSpace(env.Type) == "" {
		return envelope{}, fmt.Errorf("%w: event id and type are required", ErrMalformed)
	}
	return env, nil
}

// target resolves which local record the event addresses.
func (e envelope) target() (models.EventTarget, string, error) {
	switch {
	case paymentTypes[e.Type]:
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(e.Data.Object, &obj); err != nil || obj.ID == "" {
			return "", "", fmt.Errorf("%w: payment intent id missing", ErrMalformed)
		}
		return models.TargetPayment, obj.ID, nil

	case accountTypes[e.Type]:
		if e.Account != "" {
			return models.TargetAccount, e.Account, nil
		}
		var obj struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			Account string `json:"account"`
		}
		_ = json.Unmarshal(e.Data.Object, &obj)
		switch {
		case obj.Account != "":
			return models.TargetAccount, obj.Account, nil
		case e.Type == connect.EventAccountUpdated && obj.ID != "":
			return models.TargetAccount, obj.ID, nil
		}
		return "", "", fmt.Errorf("%w: connected account id missing", ErrMalformed)
	}
	return "", "", nil
}

func (e envelope) paymentEvent() (escrow.PaymentEvent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(e.Data.Object, &pi); err != nil {
		return escrow.PaymentEvent{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ev := escrow.PaymentEvent{ID: e.eventID(), Type: e.Type, Created: e.createdAt()}
	if pi.LatestCharge != nil {
		ev.ChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		ev.FailureMessage = pi.LastPaymentError.Msg
	}
	return ev, nil
}

func (e envelope) accountEvent(accountID string) (connect.AccountEvent, error) {
	ev := connect.AccountEvent{ID: e.eventID(), Type: e.Type, Created: e.createdAt(), AccountID: accountID}
	if e.Type == connect.EventAccountUpdated {
		var acct stripe.Account
		if err := json.Unmarshal(e.Data.Object, &acct); err != nil {
			return connect.AccountEvent{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		snap := processor.SnapshotFromAccount(&acct)
		ev.Snapshot = &snap
	}
	return ev, nil
}
