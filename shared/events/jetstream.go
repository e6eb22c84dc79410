package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// JetStreamName maps a logical stream such as "account.events" to a JetStream
// stream name ("ACCOUNT_EVENTS"). Messages are published on "<stream>.<type>".
func JetStreamName(stream string) string {
	return strings.ToUpper(strings.ReplaceAll(stream, ".", "_"))
}

func subjectFor(stream, eventType string) string {
	return stream + "." + eventType
}

// deadLetterSubject lives outside "<stream>.>" so the dead-letter stream does
// not overlap the source stream.
func deadLetterSubject(stream string) string {
	return "dlq." + stream
}

func ensureStream(js nats.JetStreamContext, name string, subjects []string) error {
	cfg := &nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		// Publishes carrying the same Nats-Msg-Id inside this window are dropped.
		Duplicates: 2 * time.Minute,
	}

	if _, err := js.StreamInfo(name); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to look up stream %s: %w", name, err)
		}
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}
		return nil
	}
	if _, err := js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", name, err)
	}
	return nil
}

// JetStreamPublisher publishes to NATS JetStream, using the event id as the
// message id so the broker drops duplicate publishes.
type JetStreamPublisher struct {
	js nats.JetStreamContext

	mu      sync.Mutex
	ensured map[string]bool
}

func NewJetStreamPublisher(nc *nats.Conn) (*JetStreamPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamPublisher{js: js, ensured: make(map[string]bool)}, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, stream string, event Event) error {
	if err := p.ensure(stream); err != nil {
		return err
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.js.Publish(subjectFor(stream, event.Type), eventJSON, nats.MsgId(event.ID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	return nil
}

func (p *JetStreamPublisher) ensure(stream string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured[stream] {
		return nil
	}
	if err := ensureStream(p.js, JetStreamName(stream), []string{stream + ".>"}); err != nil {
		return err
	}
	p.ensured[stream] = true
	return nil
}

// JetStreamSubscriber consumes a stream through a durable pull consumer.
// Failed messages are negatively acknowledged with a delay; permanent failures
// and messages delivered MaxDeliveries times are copied to the dead-letter
// subject and terminated.
type JetStreamSubscriber struct {
	js            nats.JetStreamContext
	logger        *slog.Logger
	durable       string
	stream        string
	handler       Handler
	batchSize     int
	maxWait       time.Duration
	nakDelay      time.Duration
	maxDeliveries int
}

func NewJetStreamSubscriber(nc *nats.Conn, config SubscriberConfig) (*JetStreamSubscriber, error) {
	config.applyDefaults()

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if err := ensureStream(js, JetStreamName(config.Stream), []string{config.Stream + ".>"}); err != nil {
		return nil, err
	}
	dlq := deadLetterSubject(config.Stream)
	if err := ensureStream(js, JetStreamName(dlq), []string{dlq}); err != nil {
		return nil, err
	}

	return &JetStreamSubscriber{
		js:            js,
		logger:        config.Logger.With("stream", config.Stream, "durable", config.Group),
		durable:       config.Group,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     int(config.BatchSize),
		maxWait:       config.BlockDuration,
		nakDelay:      config.ClaimIdle,
		maxDeliveries: int(config.MaxDeliveries),
	}, nil
}

// Start blocks until ctx is cancelled.
func (s *JetStreamSubscriber) Start(ctx context.Context) error {
	sub, err := s.js.PullSubscribe(
		s.stream+".>",
		s.durable,
		nats.BindStream(JetStreamName(s.stream)),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(s.maxDeliveries),
	)
	if err != nil {
		return fmt.Errorf("failed to create pull consumer: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe", "error", err)
		}
	}()

	s.logger.Info("subscriber started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping")
			return ctx.Err()
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.maxWait)
		msgs, err := sub.Fetch(s.batchSize, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			s.logger.Error("failed to fetch messages", "error", err)
			sleep(ctx, time.Second)
			continue
		}

		for _, msg := range msgs {
			s.handle(ctx, msg)
		}
	}
}

func (s *JetStreamSubscriber) handle(ctx context.Context, msg *nats.Msg) {
	deliveries := 1
	if meta, err := msg.Metadata(); err == nil {
		deliveries = int(meta.NumDelivered)
	}
	logger := s.logger.With("subject", msg.Subject, "deliveries", deliveries)

	var event Event
	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		err = Permanent(fmt.Errorf("failed to unmarshal event: %w", err))
	} else {
		logger = logger.With("event_id", event.ID, "event_type", event.Type)
		err = s.handler(ctx, event)
	}

	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			logger.Error("failed to ack message", "error", ackErr)
		}
	case IsPermanent(err) || deliveries >= s.maxDeliveries:
		logger.Error("dead-lettering message", "error", err)
		if _, dlqErr := s.js.Publish(deadLetterSubject(s.stream), msg.Data); dlqErr != nil {
			logger.Error("failed to dead-letter message", "error", dlqErr)
		}
		if termErr := msg.Term(); termErr != nil {
			logger.Error("failed to terminate message", "error", termErr)
		}
	default:
		logger.Warn("failed to process message", "error", err)
		if nakErr := msg.NakWithDelay(s.nakDelay); nakErr != nil {
			logger.Error("failed to nak message", "error", nakErr)
		}
	}
}
