package cachepurge

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisProbeTimeout = 2 * time.Second

// RedisPurger drops an object cache's entries for an item and its URLs.
// Keys: "<ns>:item:<id>", "<ns>:item:<id>:*" and "<ns>:url:<URLKey(url)>".
type RedisPurger struct {
	Redis     redis.UniversalClient
	Namespace string
}

func NewRedisPurger(namespace string, client redis.UniversalClient) *RedisPurger {
	return &RedisPurger{Redis: client, Namespace: namespace}
}

func (r *RedisPurger) Name() string { return "redis" }

func (r *RedisPurger) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, redisProbeTimeout)
	defer cancel()
	return r.Redis.Ping(ctx).Err() == nil
}

func (r *RedisPurger) Purge(ctx context.Context, itemID string, urls []string) error {
	itemKey := r.Namespace + ":item:" + itemID
	keys := []string{itemKey}
	for _, u := range urls {
		keys = append(keys, r.Namespace+":url:"+URLKey(u))
	}

	iter := r.Redis.Scan(ctx, 0, itemKey+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	pl := r.Redis.Pipeline()
	for _, key := range keys {
		pl.Del(ctx, key)
	}
	_, err := pl.Exec(ctx)
	return err
}
