package hedging

import (
	"context"

	"github.com/ksred/klear-fx/internal/msg"
	"github.com/ksred/klear-fx/internal/types"
	"github.com/rs/zerolog/log"
)

// Hedger takes a hedge request off the trade's hands. Submit returns once the
// request is handed over, not when it is filled.
type Hedger interface {
	Submit(ctx context.Context, req types.HedgeRequest) error
}

// StubHedger logs requests and does nothing else
type StubHedger struct{}

func (StubHedger) Submit(ctx context.Context, req types.HedgeRequest) error {
	log.Info().
		Str("component", "auto_hedger").
		Str("trade_id", req.TradeID).
		Str("ccy_pair", req.Instrument.CcyPair).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Msg("hedge request received")
	return nil
}

// KafkaHedger publishes hedge requests for an external auto hedger
type KafkaHedger struct {
	producer *msg.Producer
	topic    string
}

func NewKafkaHedger(producer *msg.Producer, topic string) *KafkaHedger {
	return &KafkaHedger{producer: producer, topic: topic}
}

func (h *KafkaHedger) Submit(ctx context.Context, req types.HedgeRequest) error {
	return h.producer.ProduceJSON(ctx, h.topic, req.TradeID, req)
}
