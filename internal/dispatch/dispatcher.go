package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eaglebank/ledger/internal/domain"
)

// Handler reacts to one committed domain event.
type Handler func(ctx context.Context, e domain.Event) error

// Recorder receives dispatch outcomes. *metrics.Collector implements it.
type Recorder interface {
	EventDispatched(name string)
	DispatchFailed(name string)
}

// Dispatcher fans committed domain events out to in-process subscribers.
// Every subscriber sees every event even when an earlier one fails.
type Dispatcher struct {
	logger   *slog.Logger
	recorder Recorder

	mu       sync.RWMutex
	byName   map[string][]Handler
	catchAll []Handler
}

func New(logger *slog.Logger, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		recorder: recorder,
		byName:   make(map[string][]Handler),
	}
}

// Subscribe registers h for events with the given name.
func (d *Dispatcher) Subscribe(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byName[name] = append(d.byName[name], h)
}

// SubscribeAll registers h for every event.
func (d *Dispatcher) SubscribeAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catchAll = append(d.catchAll, h)
}

// Dispatch delivers events in order and returns the joined subscriber errors.
func (d *Dispatcher) Dispatch(ctx context.Context, evts []domain.Event) error {
	var errs []error
	for _, e := range evts {
		for _, h := range d.handlersFor(e.EventName()) {
			if err := d.invoke(ctx, h, e); err != nil {
				d.logger.Error("domain event subscriber failed",
					"event", e.EventName(),
					"event_id", e.EventID(),
					"account_id", e.AggregateID(),
					"error", err,
				)
				if d.recorder != nil {
					d.recorder.DispatchFailed(e.EventName())
				}
				errs = append(errs, err)
			}
		}
		if d.recorder != nil {
			d.recorder.EventDispatched(e.EventName())
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) handlersFor(name string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	hs := make([]Handler, 0, len(d.byName[name])+len(d.catchAll))
	hs = append(hs, d.byName[name]...)
	return append(hs, d.catchAll...)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, e domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked on %s: %v", e.EventName(), r)
		}
	}()
	return h(ctx, e)
}
