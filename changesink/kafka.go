/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package changesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka publishes each change as JSON to a topic, keyed by revision.
type Kafka struct {
	client *kgo.Client
	topic  string
}

var _ Sink = (*Kafka)(nil)

// NewKafka creates a producer for topic.
// brokers is a slice of broker addresses (e.g., ["localhost:19092"]).
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker address is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

// AddChange implements Sink.
func (k *Kafka) AddChange(ctx context.Context, ch Change) error {
	value, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encoding change %s: %w", ch.Revision, err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(ch.Revision),
		Value: value,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce change %s: %w", ch.Revision, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() {
	k.client.Close()
}
