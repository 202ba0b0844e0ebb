package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
)

// Redis shares the seen-set between replicas with SET NX EX. When Redis is
// unreachable messages are processed (fail open) and the error is logged.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

var _ Deduper = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if prefix == "" {
		prefix = "irrigation:dedup:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: log.WithComponent("dedup.redis")}
}

func (d *Redis) ShouldProcess(ctx context.Context, id string) bool {
	if id == "" {
		return true
	}
	ok, err := d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn().Err(err).Str("message_id", id).Msg("dedup check failed, processing message")
		return true
	}
	return ok
}

// Ping verifies connectivity for readiness probes.
func (d *Redis) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
