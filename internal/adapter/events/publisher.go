// Package events mirrors activity entries onto a Kafka topic for external
// analytics consumers. The engine treats publishing as best-effort; a broker
// outage never blocks forwarding.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// Publisher implements domain.EventPublisher on franz-go.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// NewPublisher connects to the brokers and ensures the topic exists.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=events.NewPublisher: no seed brokers provided")
	}
	// OTel spans on every produce, same instrumentation as the rest of the
	// process.
	kotelService := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer()))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=events.NewPublisher: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), client, topic); err != nil {
		slog.Warn("activity topic creation failed, it may already exist",
			slog.String("topic", topic),
			slog.Any("error", err))
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish produces one activity entry keyed by user so per-user ordering
// holds within a partition.
func (p *Publisher) Publish(ctx domain.Context, e domain.ActivityEntry) error {
	payload, err := json.Marshal(map[string]any{
		"id":         e.ID,
		"user_id":    e.UserID,
		"pair_id":    e.PairID,
		"session_id": e.SessionID,
		"kind":       e.Kind,
		"message":    e.Message,
		"metadata":   e.Metadata,
		"at":         e.At,
	})
	if err != nil {
		return fmt.Errorf("op=events.Publish: %w", err)
	}
	record := &kgo.Record{Topic: p.topic, Key: []byte(e.UserID), Value: payload}
	res := p.client.ProduceSync(ctx, record)
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("op=events.Publish: %w", err)
	}
	return nil
}

// Close flushes and releases the producer.
func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}

// createTopicIfNotExists creates the topic, tolerating "already exists".
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30_000
	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = 8
	topicReq.ReplicationFactor = 1
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}
	for _, t := range createResp.Topics {
		// 36 is TOPIC_ALREADY_EXISTS.
		if t.ErrorCode != 0 && t.ErrorCode != 36 {
			return fmt.Errorf("topic %s: error code %d", topic, t.ErrorCode)
		}
	}
	return nil
}
