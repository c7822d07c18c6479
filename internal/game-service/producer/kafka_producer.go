package producer

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/fruit-roulette-poc/pkg/contracts/events"
)

// KafkaPublisher publica eventos de rodada no tópico round_events,
// particionados por round_id pra manter a ordem por rodada.
type KafkaPublisher struct {
	Writer *kafka.Writer
	Topic  string
}

func NewKafkaPublisher(w *kafka.Writer, topic string) *KafkaPublisher {
	return &KafkaPublisher{Writer: w, Topic: topic}
}

func (p *KafkaPublisher) PublishRoundEvent(ctx context.Context, e events.RoundEvent) error {
	b, _ := json.Marshal(e)
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(e.RoundID, 10)),
		Value: b,
	})
}
