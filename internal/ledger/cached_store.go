package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codeberg.org/interviewkit/server/internal/logger"
	"codeberg.org/interviewkit/server/internal/retry"
)

const (
	keyAccount    = "ledger:account:%s"
	keyGeneration = "ledger:account:%s:gen"
)

// wraps a Store with a Redis read-through cache for account snapshots.
// balances are never decided from the cache: every mutation goes to the
// underlying store and bumps the account's generation before returning.
// a fill only lands if the generation did not move while it was loading.
type CachedStore struct {
	Store
	client *redis.Client
	ttl    time.Duration
}

// creates a cached store on top of the given ledger
func NewCachedStore(store Store, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store:  store,
		client: client,
		ttl:    ttl,
	}
}

func accountKey(userID string) string {
	return fmt.Sprintf(keyAccount, userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf(keyGeneration, userID)
}

// returns the cached snapshot, falling back to the store on miss
func (c *CachedStore) GetOrCreateAccount(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	data, err := c.client.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var acc Account
		if err := json.Unmarshal(data, &acc); err == nil {
			return &acc, nil
		}

		logger.Warn("dropping corrupt cached account", "user_id", userID)
	} else if !errors.Is(err, redis.Nil) {
		// a cache outage degrades to direct reads
		logger.ErrorErr(err, "failed to read cached account", "user_id", userID)
		return c.Store.GetOrCreateAccount(ctx, userID)
	}

	return c.fill(ctx, userID)
}

// loads the account and caches it under WATCH on its generation, so a
// snapshot read before a concurrent mutation is never written after it
func (c *CachedStore) fill(ctx context.Context, userID string) (*Account, error) {
	var acc *Account
	var loadErr error

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		acc, loadErr = c.Store.GetOrCreateAccount(ctx, userID)
		if loadErr != nil {
			return loadErr
		}

		data, err := json.Marshal(acc)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, accountKey(userID), data, c.ttl)
			return nil
		})

		return err
	}, generationKey(userID))

	switch {
	case loadErr != nil:
		return nil, loadErr
	case acc == nil:
		// the watch never ran
		logger.ErrorErr(err, "failed to watch cached account", "user_id", userID)
		return c.Store.GetOrCreateAccount(ctx, userID)
	case errors.Is(err, redis.TxFailedErr):
		logger.Debug("skipped caching account changed during load", "user_id", userID)
	case err != nil:
		logger.ErrorErr(err, "failed to cache account", "user_id", userID)
	}

	return acc, nil
}

// the mutation has already committed when this runs, so a failure is
// reported as transient and the stale snapshot expires with its ttl
func (c *CachedStore) invalidate(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Expire(ctx, generationKey(userID), c.ttl)
		pipe.Del(ctx, accountKey(userID))
		return nil
	})
	if err != nil {
		return retry.Transient(fmt.Errorf("failed to invalidate cached account: %w", err))
	}

	return nil
}

func (c *CachedStore) TryDebit(ctx context.Context, userID string, amount int64) (bool, error) {
	ok, err := c.Store.TryDebit(ctx, userID, amount)
	if err != nil || !ok {
		return ok, err
	}

	return true, c.invalidate(ctx, userID)
}

func (c *CachedStore) RefundCredits(ctx context.Context, userID string, amount int64) error {
	if err := c.Store.RefundCredits(ctx, userID, amount); err != nil {
		return err
	}

	return c.invalidate(ctx, userID)
}

func (c *CachedStore) CreditAndMarkTransaction(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	res, err := c.Store.CreditAndMarkTransaction(ctx, req)
	if err != nil {
		return nil, err
	}

	if !res.AlreadyCredited {
		if err := c.invalidate(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (c *CachedStore) MarkFreeInterviewUsed(ctx context.Context, userID string) (*Account, bool, error) {
	acc, consumed, err := c.Store.MarkFreeInterviewUsed(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	return acc, consumed, c.invalidate(ctx, userID)
}

func (c *CachedStore) ClaimDailyFreeCredits(ctx context.Context, userID string, day time.Time, credits int64) (bool, error) {
	ok, err := c.Store.ClaimDailyFreeCredits(ctx, userID, day, credits)
	if err != nil || !ok {
		return ok, err
	}

	return true, c.invalidate(ctx, userID)
}

func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return retry.Transient(fmt.Errorf("redis ping failed: %w", err))
	}

	return c.Store.Ping(ctx)
}

func (c *CachedStore) Close() error {
	err := c.Store.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}

	return err
}
