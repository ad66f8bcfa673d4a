package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix es el prefijo de canal cuando no se configura otro.
const DefaultChannelPrefix = "aether:config:"

// RedisPublisher publica cada evento como JSON en el canal <prefix><name>.
// Los servicios cliente hacen PSUBSCRIBE <prefix>* para hot-reload.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

// Channel retorna el canal de una config.
func (p *RedisPublisher) Channel(name string) string { return p.prefix + name }

func (p *RedisPublisher) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.Channel(ev.Name), b).Err(); err != nil {
		return fmt.Errorf("notify: redis publish %s: %w", ev.Name, err)
	}
	return nil
}
