// Package queue is the transport layer over the three durable channels
// (upload, processing, analysis). Publishing is JSON, delivery is
// at-least-once: offsets are committed manually and only after the handler
// outcome is settled.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"
)

// DeadLetterSuffix is appended to a channel name to form its dead-letter
// destination.
const DeadLetterSuffix = "_dlq"

// Client owns one writer per topic and hands out subscriptions. Construct one
// per process and share it.
type Client struct {
	brokers []string
	group   string
	log     *slog.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// New creates a client for the given brokers. Consumers created from it join
// the given group, so multiple worker processes compete for messages.
func New(brokers []string, group string, log *slog.Logger) *Client {
	return &Client{
		brokers: brokers,
		group:   group,
		log:     log,
		writers: make(map[string]*kafka.Writer),
	}
}

// EnsureTopics declares the given channels and their dead-letter siblings on
// the broker. Idempotent; call once at construction time so messages survive
// broker restarts from the first publish on.
func (c *Client) EnsureTopics(ctx context.Context, topics ...string) error {
	conn, err := kafka.DialContext(ctx, "tcp", c.brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve controller: %w", err)
	}

	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrlConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics)*2)
	for _, topic := range topics {
		for _, name := range []string{topic, topic + DeadLetterSuffix} {
			configs = append(configs, kafka.TopicConfig{
				Topic:             name,
				NumPartitions:     -1,
				ReplicationFactor: -1,
			})
		}
	}

	if err := ctrlConn.CreateTopics(configs...); err != nil {
		return fmt.Errorf("create topics: %w", err)
	}

	c.log.Info("declared queue topics", slog.Int("count", len(topics)))
	return nil
}

// Publish serializes v as JSON and writes it to topic. Failures surface as
// *PublishError so callers can retry or escalate; nothing is dropped
// silently.
func (c *Client) Publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	return c.publishMessage(ctx, topic, kafka.Message{Value: payload})
}

func (c *Client) publishMessage(ctx context.Context, topic string, msg kafka.Message) error {
	if err := c.writer(topic).WriteMessages(ctx, msg); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

func (c *Client) writer(topic string) *kafka.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.writers[topic]
	if !ok {
		w = kafka.NewWriter(kafka.WriterConfig{
			Brokers:     c.brokers,
			Topic:       topic,
			Balancer:    &kafka.LeastBytes{},
			MaxAttempts: 3,
		})
		c.writers[topic] = w
	}
	return w
}

// Subscribe opens a manual-commit reader on topic. Each subscription owns its
// reader; multiple subscriptions on the same topic within the consumer group
// become competing consumers.
func (c *Client) Subscribe(topic string) *Subscription {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.brokers,
		Topic:          topic,
		GroupID:        c.group,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})

	return &Subscription{
		topic:  topic,
		reader: reader,
		client: c,
		log:    c.log.With(slog.String("queue", topic)),
	}
}

// Close flushes and closes every writer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for topic, w := range c.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer %s: %w", topic, err)
		}
	}
	c.writers = make(map[string]*kafka.Writer)
	return firstErr
}
