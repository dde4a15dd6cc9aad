package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jsherman999/watercooler/internal/config"
)

func init() {
	Register("redis", func(cfg *config.Config) (Bus, error) {
		return NewRedis(cfg.Bus.RedisAddr, cfg.Bus.RedisDB, cfg.Bus.Prefix)
	})
}

// Redis fans out over Redis pub/sub, the transport the hub was originally
// built on. Every hub process pattern-subscribes to prefix+"*" and delivers
// remote publishes to its local connections.
type Redis struct {
	rdb    *redis.Client
	prefix string
	pubsub *redis.PubSub
}

func NewRedis(addr string, db int, prefix string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connect %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

func (r *Redis) Start(ctx context.Context, h Handler) error {
	r.pubsub = r.rdb.PSubscribe(ctx, r.prefix+"*")

	// Force the subscription onto the wire before Start returns, so a
	// publish issued right after startup is not lost.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go r.receive(ctx, h)
	return nil
}

func (r *Redis) receive(ctx context.Context, h Handler) {
	retry := backoff.NewExponentialBackOff()
	for {
		msg, err := r.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			log.Warn().Err(err).Dur("retry_in", wait).Msg("redis receive error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		sender, payload := decodeFrame([]byte(msg.Payload))
		h(strings.TrimPrefix(msg.Channel, r.prefix), sender, payload)
	}
}

func (r *Redis) Publish(ctx context.Context, channel, sender string, payload []byte) error {
	return r.rdb.Publish(ctx, r.prefix+canonical(channel), encodeFrame(sender, payload)).Err()
}

func (r *Redis) Close() error {
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	return r.rdb.Close()
}
