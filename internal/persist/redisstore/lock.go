package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sma-trading-bot/internal/logger"
)

var ErrLockHeld = errors.New("another bot instance holds the state lock")

// Deletes the key only if it still holds our token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Extends the TTL only if the key still holds our token.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

var (
	unlockScript  = redis.NewScript(unlockLua)
	refreshScript = redis.NewScript(refreshLua)
)

// Lock keeps two bot processes from trading off the same snapshot.
type Lock struct {
	rdb   redis.Scripter
	key   string
	token string
	ttl   time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Acquire takes the lock and refreshes it every ttl/3 until Release.
func Acquire(ctx context.Context, rdb redis.UniversalClient, prefix string, ttl time.Duration) (*Lock, error) {
	l := &Lock{
		rdb:   rdb,
		key:   prefix + ":lock",
		token: uuid.New().String(),
		ttl:   ttl,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	ok, err := rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	go l.keepalive()
	return l, nil
}

func (l *Lock) keepalive() {
	defer close(l.done)
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				logger.WarnWithErr(context.Background(), "Failed to refresh state lock", err, "key", l.key)
				continue
			}
			if n == 0 {
				logger.Error(context.Background(), "State lock lost", "key", l.key)
				return
			}
		}
	}
}

// Release is safe to call more than once.
func (l *Lock) Release() {
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}
