package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-admission/internal/models"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps verification challenges in Redis, one key per
// (subject, purpose) pair. The key TTL tracks the challenge expiry, and
// SET replaces any prior challenge outright, so re-issuance invalidates
// whatever came before without revealing whether anything existed.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func challengeKey(subject, purpose string) string {
	return fmt.Sprintf("verify:%s:%s", purpose, subject)
}

func attemptsKey(subject, purpose string) string {
	return fmt.Sprintf("verify_attempts:%s:%s", purpose, subject)
}

// Put stores (replacing) the challenge and resets the attempt counter.
func (s *RedisStore) Put(ctx context.Context, ch models.Challenge, ttl time.Duration) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := s.Client.Set(ctx, challengeKey(ch.Subject, ch.Purpose), data, ttl).Err(); err != nil {
		return err
	}
	return s.Client.Del(ctx, attemptsKey(ch.Subject, ch.Purpose)).Err()
}

// Take atomically removes and returns the live challenge for the pair, or
// nil if none exists. Removal-on-read is what makes a successful verify
// single use: two racing verifies cannot both observe the same challenge.
func (s *RedisStore) Take(ctx context.Context, subject, purpose string) (*models.Challenge, error) {
	data, err := s.Client.GetDel(ctx, challengeKey(subject, purpose)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ch models.Challenge
	if err := json.Unmarshal([]byte(data), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// Restore puts a taken challenge back (after a failed guess) with the TTL
// it has left.
func (s *RedisStore) Restore(ctx context.Context, ch models.Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, challengeKey(ch.Subject, ch.Purpose), data, ttl).Err()
}

// RecordFailure bumps the consecutive-mismatch counter and returns the new
// total. The counter shares the challenge's lifetime.
func (s *RedisStore) RecordFailure(ctx context.Context, subject, purpose string, ttl time.Duration) (int, error) {
	key := attemptsKey(subject, purpose)
	n, err := s.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		if err := s.Client.Expire(ctx, key, ttl).Err(); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

// Clear drops both the challenge and its attempt counter.
func (s *RedisStore) Clear(ctx context.Context, subject, purpose string) error {
	return s.Client.Del(ctx,
		challengeKey(subject, purpose),
		attemptsKey(subject, purpose),
	).Err()
}
