package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis serializes approvals per event across all process instances. An
// approval takes the event's lock, runs its conditional update, and
// releases. Locks carry a TTL so a crashed holder cannot wedge an event.
type Redis struct {
	Client  *redis.Client
	LockTTL time.Duration
}

func NewRedis(client *redis.Client, lockTTL time.Duration) *Redis {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Redis{Client: client, LockTTL: lockTTL}
}

// LockEvent takes the approval lock for an event. Returns false when some
// other holder already has it.
func (r *Redis) LockEvent(ctx context.Context, eventID, holderID string) (bool, error) {
	key := "approval_lock:" + eventID
	return r.Client.SetNX(ctx, key, holderID, r.LockTTL).Result()
}

// UnlockEvent releases the lock only if this holder still owns it.
func (r *Redis) UnlockEvent(ctx context.Context, eventID, holderID string) error {
	key := "approval_lock:" + eventID
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // expired or already released
	}
	if err != nil {
		return err
	}
	if val == holderID {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
