package redisad

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"navigatum_sync/internal/domain"
)

// Deletes the key only while it still holds our token, so an expired lock
// taken over by another run is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Pushes the expiry out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a single-key mutual exclusion with expiry. A held lock is renewed
// every third of its TTL until released, so runs longer than the TTL keep it.
type Lock struct {
	c   *redis.Client
	key string
}

func NewLock(c *redis.Client, key string) *Lock { return &Lock{c: c, key: key} }

func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	token := hex.EncodeToString(b[:])

	ok, err := l.c.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, domain.ErrRunInProgress
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(ctx, token, ttl, stop, done)

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		if err := releaseScript.Run(ctx, l.c, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", l.key, err)
		}
		return nil
	}
	return release, nil
}

func (l *Lock) keepAlive(ctx context.Context, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(max(ttl/3, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, err := extendScript.Run(ctx, l.c, []string{l.key}, token, ttl.Milliseconds()).Int()
		switch {
		case err != nil:
			// retried on the next tick
			log.Warn().Err(err).Str("key", l.key).Msg("extend run lock")
		case n == 0:
			log.Error().Str("key", l.key).Msg("run lock lost; another run may start")
			return
		}
	}
}
