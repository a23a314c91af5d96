package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	retriesHeader   = "retries"
	lastErrorHeader = "last_error"
)

// Delivery is one received message plus its redelivery count.
type Delivery struct {
	Value     []byte
	Retries   int
	Partition int
	Offset    int64

	msg kafka.Message
}

// Subscription is a manual-commit receive handle on one channel. Ack commits
// the offset; Requeue republishes with an incremented retry count before
// committing; DeadLetter routes the message to the channel's _dlq sibling.
// A message that is neither acked nor requeued stays uncommitted and the
// broker redelivers it after a restart.
type Subscription struct {
	topic  string
	reader *kafka.Reader
	client *Client
	log    *slog.Logger
}

// Fetch blocks until a message arrives or ctx is canceled.
func (s *Subscription) Fetch(ctx context.Context) (Delivery, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}

	return Delivery{
		Value:     msg.Value,
		Retries:   retriesFrom(msg.Headers),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		msg:       msg,
	}, nil
}

// Ack marks the delivery as processed.
func (s *Subscription) Ack(ctx context.Context, d Delivery) error {
	return s.reader.CommitMessages(ctx, d.msg)
}

// Requeue republishes the message on the same channel with the retry count
// incremented, then commits the original offset. If the republish fails the
// original stays uncommitted so nothing is lost.
func (s *Subscription) Requeue(ctx context.Context, d Delivery, cause error) error {
	retry := kafka.Message{
		Key:   d.msg.Key,
		Value: d.msg.Value,
		Headers: []kafka.Header{
			{Key: retriesHeader, Value: []byte(strconv.Itoa(d.Retries + 1))},
			{Key: lastErrorHeader, Value: []byte(cause.Error())},
		},
	}

	if err := s.client.publishMessage(ctx, s.topic, retry); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return s.reader.CommitMessages(ctx, d.msg)
}

// DeadLetter writes the message to the channel's dead-letter topic with
// error context headers, retrying the write with exponential backoff, then
// commits the original. When every attempt fails the original offset is left
// uncommitted and the error is returned.
func (s *Subscription) DeadLetter(ctx context.Context, d Delivery, cause error) error {
	dlqMsg := kafka.Message{
		Key:   d.msg.Key,
		Value: d.msg.Value,
		Headers: append(d.msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(strconv.Itoa(d.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(strconv.FormatInt(d.Offset, 10))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	var writeErr error
	for attempt := 0; attempt < 5; attempt++ {
		writeErr = s.client.publishMessage(ctx, s.topic+DeadLetterSuffix, dlqMsg)
		if writeErr == nil {
			s.log.Info("message dead-lettered",
				slog.Int("partition", d.Partition),
				slog.Int64("offset", d.Offset),
				slog.Int("attempt", attempt+1),
			)
			return s.reader.CommitMessages(ctx, d.msg)
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		s.log.Warn("dead-letter write failed, retrying",
			slog.Any("err", writeErr),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("dead-letter write exhausted retries: %w", writeErr)
}

// Close stops the underlying reader.
func (s *Subscription) Close() error {
	return s.reader.Close()
}

func retriesFrom(headers []kafka.Header) int {
	for _, h := range headers {
		if h.Key == retriesHeader {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n >= 0 {
				return n
			}
		}
	}
	return 0
}
