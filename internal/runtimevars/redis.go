package runtimevars

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSubscriber pumps a Redis pub/sub channel into a Store.Publish
// loop. This stands in for mcrouter's internal zookeeper/file-watcher
// runtime-vars transport: a control plane PUBLISHes the full JSON
// payload on channel, and every worker subscribed here republishes it
// into its in-process Store for ShadowingPolicy et al. to pick up.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	store   *Store
	logger  *zap.Logger
}

// NewRedisSubscriber builds a subscriber bound to channel.
func NewRedisSubscriber(client *redis.Client, channel string, store *Store, logger *zap.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, channel: channel, store: store, logger: logger}
}

// Run subscribes and pumps messages into the store until ctx is
// canceled. It is meant to be run in its own goroutine.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("runtime-vars subscription channel closed")
			}
			s.handle(msg.Payload)
		}
	}
}

func (s *RedisSubscriber) handle(payload string) {
	var vars Vars
	if err := json.Unmarshal([]byte(payload), &vars); err != nil {
		s.logger.Warn("discarding malformed runtime-vars payload",
			zap.String("channel", s.channel),
			zap.Error(err),
		)
		return
	}
	s.store.Publish(vars)
}
