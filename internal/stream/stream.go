// Package stream carries probe results and transition events between stages.
//
// Delivery is at-least-once: a message is committed only after its handler
// succeeds or reports it as malformed. Messages with the same key land on the
// same partition, so per-target order is preserved.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultResultsTopic = "monitoring-results"
	DefaultAlertsTopic  = "monitoring-alerts"
)

var (
	// ErrMalformed marks a message that can never be handled. It is logged,
	// committed and dropped.
	ErrMalformed = errors.New("malformed message")
	ErrClosed    = errors.New("stream closed")
)

// Malformed wraps err so the consume loop drops the message.
func Malformed(err error) error { return fmt.Errorf("%w: %w", ErrMalformed, err) }

type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Partition int
	Offset    int64
	Time      time.Time
}

type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, m Message) error
	Close() error
}

// PublishJSON encodes v and publishes it under key.
func PublishJSON(ctx context.Context, p Producer, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return p.Publish(ctx, key, b)
}

// DecodeJSON is the handler-side counterpart of PublishJSON. Decode failures
// come back wrapped in ErrMalformed.
func DecodeJSON(m Message, v any) error {
	if err := json.Unmarshal(m.Value, v); err != nil {
		return Malformed(err)
	}
	return nil
}

type Handler func(ctx context.Context, m Message) error

// Loop feeds messages from Consumer to Handle one at a time.
type Loop struct {
	Consumer Consumer
	Handle   Handler
	Logger   *zap.Logger

	// NewBackOff builds the retry policy for one message. Nil means
	// exponential backoff that only stops when the context is done.
	NewBackOff func() backoff.BackOff
	// FetchRetry is the pause after a failed fetch.
	FetchRetry time.Duration
}

// Run consumes until ctx is cancelled or the consumer is closed. A message
// whose handler keeps failing is retried in place and left uncommitted.
func (l *Loop) Run(ctx context.Context) error {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	pause := l.FetchRetry
	if pause <= 0 {
		pause = time.Second
	}

	for {
		m, err := l.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			log.Warn("stream_fetch_error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pause):
			}
			continue
		}

		err = l.handle(ctx, log, m)
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformed):
			log.Warn("stream_message_dropped",
				zap.String("topic", m.Topic),
				zap.String("key", m.Key),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		case ctx.Err() != nil:
			// shutting down; the message stays uncommitted and is redelivered
			return nil
		default:
			return fmt.Errorf("handle %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
		}

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = l.Consumer.Commit(cctx, m)
		cancel()
		if err != nil {
			log.Warn("stream_commit_error",
				zap.String("topic", m.Topic),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
	}
}

func (l *Loop) handle(ctx context.Context, log *zap.Logger, m Message) error {
	op := func() error {
		err := l.Handle(ctx, m)
		if errors.Is(err, ErrMalformed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("stream_handle_retry",
			zap.String("topic", m.Topic),
			zap.String("key", m.Key),
			zap.Int64("offset", m.Offset),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(l.newBackOff(), ctx), notify)
}

func (l *Loop) newBackOff() backoff.BackOff {
	if l.NewBackOff != nil {
		return l.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}
