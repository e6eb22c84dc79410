package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/events"
)

// Store is the outbox table as the relay sees it.
type Store interface {
	Pending(ctx context.Context, limit int) ([]repository.OutboxMessage, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause error) error
	PendingCount(ctx context.Context) (int64, error)
	PurgePublished(ctx context.Context, before time.Time) (int64, error)
}

// Recorder receives relay outcomes. *metrics.Collector implements it.
type Recorder interface {
	OutboxPublished()
	OutboxFailed()
	OutboxPending(n int64)
}

type nopRecorder struct{}

func (nopRecorder) OutboxPublished()    {}
func (nopRecorder) OutboxFailed()       {}
func (nopRecorder) OutboxPending(int64) {}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// Relay publishes committed outbox rows to the broker in write order. A pass
// stops at the first failed publish so later rows never overtake it.
type Relay struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
	recorder  Recorder
	cfg       Config
	wake      chan struct{}
	now       func() time.Time
}

func NewRelay(store Store, publisher events.Publisher, logger *slog.Logger, recorder Recorder, cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		recorder:  recorder,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Notify wakes the relay ahead of its next tick. It never blocks.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	purgeEvery := time.Hour
	lastPurge := time.Time{}

	r.logger.Info("outbox relay started", "interval", r.cfg.Interval, "batch_size", r.cfg.BatchSize)
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox relay pass stopped early", "error", err)
		}

		if r.cfg.Retention > 0 && time.Since(lastPurge) >= purgeEvery {
			if _, err := r.Purge(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox purge failed", "error", err)
			}
			lastPurge = time.Now()
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Flush publishes pending rows until none are left or a publish fails. It
// returns the number of rows published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	published := 0
	defer r.reportPending(ctx)

	for {
		batch, err := r.store.Pending(ctx, r.cfg.BatchSize)
		if err != nil {
			return published, err
		}
		if len(batch) == 0 {
			return published, nil
		}

		for _, msg := range batch {
			if err := r.publish(ctx, msg); err != nil {
				r.recorder.OutboxFailed()
				if markErr := r.store.MarkFailed(ctx, msg.ID, err); markErr != nil {
					r.logger.Error("failed to record outbox failure", "outbox_id", msg.ID, "error", markErr)
				}
				return published, fmt.Errorf("publish outbox message %s: %w", msg.ID, err)
			}
			if err := r.store.MarkPublished(ctx, msg.ID, r.now()); err != nil {
				// The broker already has it; the next pass republishes and consumers dedupe on event id.
				return published, err
			}
			r.recorder.OutboxPublished()
			published++
		}

		if len(batch) < r.cfg.BatchSize {
			return published, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, msg repository.OutboxMessage) error {
	var event events.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode outbox payload: %w", err)
	}
	if err := r.publisher.Publish(ctx, msg.Stream, event); err != nil {
		return err
	}
	r.logger.Debug("outbox message published",
		"outbox_id", msg.ID,
		"event_id", msg.EventID,
		"event_type", msg.EventType,
		"stream", msg.Stream,
	)
	return nil
}

// Purge deletes rows published longer ago than the retention period.
func (r *Relay) Purge(ctx context.Context) (int64, error) {
	n, err := r.store.PurgePublished(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("purged published outbox messages", "count", n)
	}
	return n, nil
}

func (r *Relay) reportPending(ctx context.Context) {
	n, err := r.store.PendingCount(ctx)
	if err != nil {
		return
	}
	r.recorder.OutboxPending(n)
}
