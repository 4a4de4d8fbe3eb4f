package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes alerts to a Kafka topic keyed by target, so every
// alert of one target lands on the same partition.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaNotifier creates a Kafka notifier. It needs "brokers" and "topic".
func NewKafkaNotifier(config map[string]interface{}) (*KafkaNotifier, error) {
	brokers := brokerList(config["brokers"])
	if len(brokers) == 0 {
		return nil, NewConfigError("kafka notifier", "brokers are required")
	}
	topic := stringOption(config, "topic")
	if topic == "" {
		return nil, NewConfigError("kafka notifier", "topic is required")
	}
	timeout := durationOption(config, "timeout")
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           timeout,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &KafkaNotifier{writer: writer, topic: topic}, nil
}

// Send writes the notification as one JSON message
func (kn *KafkaNotifier) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := n.TargetID
	if key == "" {
		key = n.AlertType
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  n.Timestamp,
	}
	if err := kn.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", kn.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (kn *KafkaNotifier) Close() error {
	return kn.writer.Close()
}

func brokerList(v interface{}) []string {
	var out []string
	switch b := v.(type) {
	case string:
		for _, s := range strings.Split(b, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range b {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, b...)
	}
	return out
}
