// Package events publishes underwriting decision events to Kafka for
// downstream audit consumers. Publishing is best-effort: a broker failure is
// logged and never affects the customer turn.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	logx "github.com/horizon-finance-poc/server/pkg/logger"
)

// DecisionEvent is the audit record emitted for every terminal underwriting
// outcome.
type DecisionEvent struct {
	SessionID    string    `json:"session_id"`
	Decision     string    `json:"decision"`
	Reason       string    `json:"reason"`
	LoanAmount   string    `json:"loan_amount,omitempty"`
	TenureMonths int       `json:"tenure_months,omitempty"`
	InterestRate float64   `json:"interest_rate,omitempty"`
	EMI          string    `json:"emi,omitempty"`
	CreditScore  int       `json:"credit_score,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// Publisher sends decision events to a Kafka topic. A nil Publisher is valid
// and drops everything.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishDecision emits one decision event keyed by session id. Failures are
// logged, never returned to the turn.
func (p *Publisher) PublishDecision(ctx context.Context, event DecisionEvent) {
	if p == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		logx.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to marshal decision event")
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logx.Warn().Err(err).Str("session_id", event.SessionID).Msg("failed to publish decision event")
		return
	}

	logx.Debug().
		Str("session_id", event.SessionID).
		Str("decision", event.Decision).
		Msg("decision event published")
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
