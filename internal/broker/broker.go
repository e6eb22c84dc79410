package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/eaglebank/ledger/shared/events"
)

const (
	Redis = "redis"
	NATS  = "nats"
)

// Subscriber consumes one stream until ctx is cancelled.
type Subscriber interface {
	Start(ctx context.Context) error
}

// Broker is the configured event transport.
type Broker struct {
	kind  string
	redis *goredis.Client
	nc    *nats.Conn

	Publisher events.Publisher
}

// Open connects the transport named by kind. rdb is required for Redis and
// ignored otherwise.
func Open(kind string, rdb *goredis.Client, natsURL, clientName string, logger *slog.Logger) (*Broker, error) {
	switch kind {
	case Redis:
		if rdb == nil {
			return nil, fmt.Errorf("redis broker needs a redis client")
		}
		return &Broker{kind: kind, redis: rdb, Publisher: events.NewStreamPublisher(rdb)}, nil
	case NATS:
		nc, err := nats.Connect(natsURL,
			nats.Name(clientName),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats at %s: %w", natsURL, err)
		}
		pub, err := events.NewJetStreamPublisher(nc)
		if err != nil {
			nc.Close()
			return nil, err
		}
		return &Broker{kind: kind, nc: nc, Publisher: pub}, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", kind)
	}
}

func (b *Broker) Subscriber(cfg events.SubscriberConfig) (Subscriber, error) {
	if b.kind == NATS {
		sub, err := events.NewJetStreamSubscriber(b.nc, cfg)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	return events.NewStreamSubscriber(b.redis, cfg), nil
}

// Close drains the NATS connection. The Redis client is owned by the caller.
func (b *Broker) Close() error {
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
