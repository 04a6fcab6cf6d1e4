// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/constants"
)

// pendingMutateRetries bounds optimistic retries when two verifications race.
const pendingMutateRetries = 3

// RedisPendingSignupRepository implements PendingSignupRepository using Redis.
type RedisPendingSignupRepository struct {
	client *redis.Client
}

// NewPendingSignupRepository creates a new Redis-backed PendingSignupRepository.
func NewPendingSignupRepository(client *redis.Client) *RedisPendingSignupRepository {
	return &RedisPendingSignupRepository{client: client}
}

func pendingKey(email string) string {
	return constants.RedisPrefixPendingSignup + email
}

/*
Save stores the pending signup, replacing any previous one for the same email.

Parameters:
  - context: context.Context
  - pending: *PendingSignup
  - ttl: time.Duration

Returns:
  - error: Storage failures
*/
func (repository *RedisPendingSignupRepository) Save(context context.Context, pending *PendingSignup, ttl time.Duration) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("redis_pending_signup_encode_failed: %w", err)
	}

	if err := repository.client.Set(context, pendingKey(pending.Email), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis_pending_signup_set_failed: %w", err)
	}
	return nil
}

/*
Mutate applies fn under WATCH so concurrent verifications of the same signup
cannot lose an attempt increment.

Parameters:
  - context: context.Context
  - email: string
  - fn: func(*PendingSignup) PendingAction

Returns:
  - error: apperr.NotFound when absent or expired, or storage failures
*/
func (repository *RedisPendingSignupRepository) Mutate(context context.Context, email string, fn func(pending *PendingSignup) PendingAction) error {
	key := pendingKey(email)

	transaction := func(tx *redis.Tx) error {
		payload, err := tx.Get(context, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return apperr.NotFound("Pending signup")
			}
			return fmt.Errorf("redis_pending_signup_get_failed: %w", err)
		}

		pending := &PendingSignup{}
		if err := json.Unmarshal(payload, pending); err != nil {
			return fmt.Errorf("redis_pending_signup_decode_failed: %w", err)
		}

		action := fn(pending)

		_, err = tx.TxPipelined(context, func(pipe redis.Pipeliner) error {
			if action == PendingDiscard {
				pipe.Del(context, key)
				return nil
			}
			updated, err := json.Marshal(pending)
			if err != nil {
				return err
			}
			pipe.Set(context, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < pendingMutateRetries; attempt++ {
		err := repository.client.Watch(context, transaction, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("redis_pending_signup_mutate_failed: too much contention on %s", key)
}

/*
Delete removes the pending signup.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - error: Deletion failures
*/
func (repository *RedisPendingSignupRepository) Delete(context context.Context, email string) error {
	if err := repository.client.Del(context, pendingKey(email)).Err(); err != nil {
		return fmt.Errorf("redis_pending_signup_delete_failed: %w", err)
	}
	return nil
}
