// Package events publishes round and settlement records to kafka for
// downstream consumers (analytics, risk, bonus engines).
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"skycrash/internal/game"
)

const publishTimeout = 5 * time.Second

// Producer implements game.AuditSink on two kafka topics. Publishing is best
// effort: settlement already happened by the time a record reaches here.
type Producer struct {
	log         *zap.SugaredLogger
	rounds      *kafka.Writer
	settlements *kafka.Writer
}

func NewProducer(log *zap.SugaredLogger, brokers, roundsTopic, settlementsTopic string) *Producer {
	return &Producer{
		log:         log,
		rounds:      newWriter(log, brokers, roundsTopic),
		settlements: newWriter(log, brokers, settlementsTopic),
	}
}

// newWriter builds an async writer: the round loop only enqueues, delivery
// and its failures happen on the writer's own goroutines.
func newWriter(log *zap.SugaredLogger, brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warnw("event publish failed", "topic", topic, "count", len(messages), "error", err)
			}
		},
	}
}

func (p *Producer) RoundFinished(rec game.RoundRecord) {
	p.publish(p.rounds, rec.ID, rec)
}

type settlementEvent struct {
	RoundID  string   `json:"round_id"`
	Bet      game.Bet `json:"bet"`
	TsUnixMs int64    `json:"ts_unix_ms"`
}

func (p *Producer) BetSettled(roundID string, bet game.Bet) {
	p.publish(p.settlements, bet.ID, settlementEvent{
		RoundID:  roundID,
		Bet:      bet,
		TsUnixMs: time.Now().UnixMilli(),
	})
}

func (p *Producer) publish(w *kafka.Writer, key string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		p.log.Errorw("event marshal failed", "topic", w.Topic, "error", err)
		return
	}

	// With Async set this only hands the message to the writer; the timeout
	// bounds the enqueue, never a broker round trip.
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	}); err != nil {
		p.log.Warnw("event enqueue failed", "topic", w.Topic, "key", key, "error", err)
	}
}

func (p *Producer) Close() error {
	if err := p.rounds.Close(); err != nil {
		return err
	}
	return p.settlements.Close()
}
