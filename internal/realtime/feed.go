package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

const channelPrefix = "payments:"

// PaymentMessage is pushed to the consultant that owns the record.
type PaymentMessage struct {
	Type           string    `json:"type"`
	HoldID         uuid.UUID `json:"hold_id"`
	MilestoneID    string    `json:"milestone_id"`
	Status         string    `json:"status"`
	Amount         int64     `json:"amount"`
	NetAmount      int64     `json:"net_amount"`
	Currency       string    `json:"currency"`
	SettlementFlag string    `json:"settlement_flag,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func messageFor(p models.PaymentRecord) PaymentMessage {
	return PaymentMessage{
		Type:           "payment_updated",
		HoldID:         p.Hold.ID,
		MilestoneID:    p.Hold.MilestoneID,
		Status:         string(p.Status),
		Amount:         p.Amount,
		NetAmount:      p.NetAmount,
		Currency:       p.Currency,
		SettlementFlag: string(p.SettlementFlag),
		UpdatedAt:      p.UpdatedAt,
	}
}

// PaymentFeed pushes payment updates to consultants. With redis it publishes so every API
// instance can deliver to its own sockets; without it only the local hub is used.
type PaymentFeed struct {
	hub *Hub
	rdb *redis.Client
}

func NewPaymentFeed(hub *Hub, rdb *redis.Client) *PaymentFeed {
	return &PaymentFeed{hub: hub, rdb: rdb}
}

func (f *PaymentFeed) PaymentUpdated(p models.PaymentRecord) {
	msg := messageFor(p)
	if f.rdb == nil {
		f.hub.SendToUser(p.ConsultantID, msg)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.rdb.Publish(ctx, channelPrefix+p.ConsultantID.String(), payload).Err(); err != nil {
		slog.Default().Warn("publish payment update failed, delivering locally",
			"module", "realtime",
			"operation", "publish",
			"outcome", "failure",
			"hold_id", p.Hold.ID,
			"error", err,
		)
		f.hub.SendToUser(p.ConsultantID, msg)
	}
}

// Relay forwards published payment updates to the local hub until ctx ends.
func (f *PaymentFeed) Relay(ctx context.Context) {
	if f.rdb == nil {
		return
	}
	sub := f.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			id, err := uuid.Parse(strings.TrimPrefix(m.Channel, channelPrefix))
			if err != nil {
				continue
			}
			f.hub.sendRaw(id, []byte(m.Payload))
		}
	}
}
