package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "lock:"
	pollInterval = 200 * time.Millisecond
)

// SchedulerLockName is the fixed, fleet-wide lock for the recurring charge
// scheduler. One name for the whole cycle, not per agreement, so only one
// full cycle runs anywhere at a time.
const SchedulerLockName = "worker.billing.runcycle"

// releaseScript deletes the lock key only if it is still held by the owner
// that acquired it. An expired lock taken over by another process must never
// be released by the first owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a named, TTL-bounded mutual exclusion guard backed by Redis.
type Lock struct {
	client *redis.Client
	name   string
	ttl    time.Duration
	owner  string
	held   bool
}

// New creates a lock handle. Nothing is acquired until Acquire is called.
func New(client *redis.Client, name string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		name:   name,
		ttl:    ttl,
		owner:  uuid.New().String(),
	}
}

// Acquire tries to take the lock. With wait=true it keeps polling until the
// lock is free or the timeout elapses; with wait=false it makes a single
// attempt. Returns false without error when the lock could not be taken.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration, wait bool) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.client.SetNX(ctx, keyPrefix+l.name, l.owner, l.ttl).Result()
		if err != nil {
			return false, err
		}
		if ok {
			l.held = true
			return true, nil
		}
		if !wait || time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release frees the lock if this handle still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	return releaseScript.Run(ctx, l.client, []string{keyPrefix + l.name}, l.owner).Err()
}

// IsHeld reports whether this handle believes it holds the lock. The lock may
// still expire server-side if the TTL passes.
func (l *Lock) IsHeld() bool {
	return l.held
}
