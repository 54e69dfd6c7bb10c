package cache

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/lockshop/storefront/internal/app/system"
	"github.com/lockshop/storefront/pkg/logger"
)

// RedisFanout propagates cache invalidations between storefront instances
// over a Redis pub/sub channel. Each instance publishes the tokens it
// invalidates locally and applies tokens published by siblings.
type RedisFanout struct {
	client  *redis.Client
	channel string
	cache   *Cache
	log     *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ Fanout = (*RedisFanout)(nil)
var _ system.Service = (*RedisFanout)(nil)

// NewRedisFanout creates a fanout publishing on the given channel. The cache
// must be attached with Attach before Start.
func NewRedisFanout(client *redis.Client, channel string, log *logger.Logger) *RedisFanout {
	if log == nil {
		log = logger.NewDefault("cache-fanout")
	}
	if channel == "" {
		channel = "storefront:cache:invalidate"
	}
	return &RedisFanout{
		client:  client,
		channel: channel,
		log:     log,
	}
}

// Attach binds the local cache that remote invalidations apply to.
func (f *RedisFanout) Attach(c *Cache) {
	f.cache = c
}

// Broadcast publishes an invalidation token to sibling instances.
func (f *RedisFanout) Broadcast(ctx context.Context, token string) error {
	return f.client.Publish(ctx, f.channel, token).Err()
}

func (f *RedisFanout) Name() string { return "cache-fanout" }

// Start subscribes to the invalidation channel and applies incoming tokens
// until Stop is called.
func (f *RedisFanout) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := f.client.Subscribe(runCtx, f.channel)
	if _, err := sub.Receive(runCtx); err != nil {
		cancel()
		return err
	}

	f.cancel = cancel
	f.running = true

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if f.cache != nil {
					f.cache.ApplyInvalidation(msg.Payload)
				}
			}
		}
	}()

	f.log.WithField("channel", f.channel).Info("cache invalidation fanout started")
	return nil
}

// Stop unsubscribes and waits for the apply loop to drain.
func (f *RedisFanout) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	cancel := f.cancel
	f.running = false
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
