// Package events publishes redemption lifecycle events for campaign
// attribution. Consumers join them against Promotion records downstream;
// the engine never reads them back.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vendly/promo-engine/internal/domain/stacking"
)

// RedemptionEvent is the wire form of one redemption lifecycle change.
// One event is emitted per applied instrument on commit, and one per order
// on release.
type RedemptionEvent struct {
	Action       string          `json:"action"` // committed | released
	OrderID      string          `json:"order_id"`
	ShopperID    string          `json:"shopper_id,omitempty"`
	InstrumentID string          `json:"instrument_id,omitempty"`
	Kind         string          `json:"kind,omitempty"`
	AmountOff    decimal.Decimal `json:"amount_off"`
	At           time.Time       `json:"at"`
}

// Publisher writes redemption events to Kafka. Writes are best-effort:
// failures are logged and dropped, never propagated into the commit path.
type Publisher struct {
	w   *kafka.Writer
	lg  *zap.Logger
	now func() time.Time
}

// NewPublisher creates a Publisher. Keying by order id keeps all events of
// one order in one partition, so consumers see commit before release.
func NewPublisher(brokers []string, topic string, lg *zap.Logger) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
		lg:  lg,
		now: time.Now,
	}
}

// Close releases the underlying writer.
func (p *Publisher) Close() error { return p.w.Close() }

// RedemptionCommitted emits one event per applied instrument.
func (p *Publisher) RedemptionCommitted(ctx context.Context, decision *stacking.Decision, shopperID, orderID string) {
	at := p.now()
	msgs := make([]kafka.Message, 0, len(decision.Applied))
	for _, a := range decision.Applied {
		msgs = append(msgs, p.message(orderID, RedemptionEvent{
			Action:       "committed",
			OrderID:      orderID,
			ShopperID:    shopperID,
			InstrumentID: a.InstrumentID,
			Kind:         string(a.Kind),
			AmountOff:    a.AmountOff,
			At:           at,
		}))
	}
	p.write(ctx, msgs...)
}

// RedemptionReleased emits a single release event for the order.
func (p *Publisher) RedemptionReleased(ctx context.Context, orderID string) {
	p.write(ctx, p.message(orderID, RedemptionEvent{
		Action:  "released",
		OrderID: orderID,
		At:      p.now(),
	}))
}

func (p *Publisher) message(orderID string, ev RedemptionEvent) kafka.Message {
	b, err := json.Marshal(ev)
	if err != nil {
		// Marshalling a plain struct cannot fail at runtime; log and drop.
		p.lg.Error("marshal redemption event", zap.Error(err))
		return kafka.Message{Key: []byte(orderID)}
	}
	return kafka.Message{Key: []byte(orderID), Value: b}
}

func (p *Publisher) write(ctx context.Context, msgs ...kafka.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		p.lg.Warn("publish redemption events",
			zap.Int("count", len(msgs)),
			zap.Error(err),
		)
	}
}
