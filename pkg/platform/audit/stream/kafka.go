// Package stream mirrors audit entries to a Kafka topic.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "kycvault/pkg/platform/audit"
)

// Producer publishes audit events as JSON, keyed by record id for mutations
// so that one record's trail stays ordered within a partition.
type Producer struct {
	client *kgo.Client
	topic  string
}

// New connects to brokers and makes sure topic exists.
func New(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("audit stream: no brokers")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("audit stream client: %w", err)
	}
	if err := ensureTopic(ctx, kadm.NewClient(client), topic); err != nil {
		client.Close()
		return nil, err
	}
	return &Producer{client: client, topic: topic}, nil
}

func ensureTopic(ctx context.Context, adm *kadm.Client, topic string) error {
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (p *Producer) Publish(ctx context.Context, ev audit.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	rec := &kgo.Record{Topic: p.topic, Key: key(ev), Value: value}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func key(ev audit.Event) []byte {
	switch {
	case ev.Mutation != nil:
		return []byte(ev.Mutation.EntityID)
	case ev.Search != nil:
		return []byte(ev.Search.ID)
	}
	return nil
}

// Close releases the client. Publish is synchronous so nothing is pending.
func (p *Producer) Close() {
	p.client.Close()
}
