package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goRedis "github.com/redis/go-redis/v9"

	"codehunt/internal/domain/hunt"
	"codehunt/internal/observability/metrics"
	"codehunt/scripts/lua"
)

// Failure-window entries are pruned lazily on read; the TTL is a backstop so
// idle users' keys don't live forever.
const failureTTL = 24 * time.Hour

// Client wraps go-redis and owns the hot, authoritative side of the engine:
// scarce counters, the per-user claimed sets and the failure window. It
// implements hunt.CounterStore and hunt.FailureLog.
type Client struct {
	rdb           *goRedis.Client
	claimScript   *goRedis.Script
	stockScript   *goRedis.Script
	releaseScript *goRedis.Script
}

// New creates a Redis client and verifies connectivity.
func New(addr string) (*Client, error) {
	rdb := goRedis.NewClient(&goRedis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{
		rdb:           rdb,
		claimScript:   goRedis.NewScript(lua.ClaimScript),
		stockScript:   goRedis.NewScript(lua.StockScript),
		releaseScript: goRedis.NewScript(lua.ReleaseScript),
	}, nil
}

// Close shuts down the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// TryClaim atomically inserts the item into the user's claimed set and bumps
// the bounded claim counter. Both checks and both writes happen inside one
// Lua script, so two racing claims can never both pass.
func (c *Client) TryClaim(ctx context.Context, userID string, itemID int64, maxClaims *int) (hunt.CommitStatus, error) {
	start := time.Now()
	defer metrics.ObserveRedisOperation("try_claim", time.Since(start))

	max := -1
	if maxClaims != nil {
		max = *maxClaims
	}
	keys := []string{c.UserClaimedKey(userID), c.ItemClaimsKey(itemID)}
	res, err := c.claimScript.Run(ctx, c.rdb, keys, itemID, max).Result()
	if err != nil {
		return "", err
	}
	status, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected claim script response: %v", res)
	}
	switch s := hunt.CommitStatus(status); s {
	case hunt.CommitOK, hunt.CommitAlreadyClaimed, hunt.CommitLimitReached:
		return s, nil
	default:
		return "", fmt.Errorf("unknown claim script status %q", status)
	}
}

// TryDecrementStock takes one unit of limited stock iff any remains.
func (c *Client) TryDecrementStock(ctx context.Context, collectibleID int64) (bool, error) {
	start := time.Now()
	defer metrics.ObserveRedisOperation("try_decrement_stock", time.Since(start))

	res, err := c.stockScript.Run(ctx, c.rdb, []string{c.StockKey(collectibleID)}).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// HasClaimed is the advisory duplicate-claim pre-check.
func (c *Client) HasClaimed(ctx context.Context, userID string, itemID int64) (bool, error) {
	start := time.Now()
	defer metrics.ObserveRedisOperation("has_claimed", time.Since(start))
	return c.rdb.SIsMember(ctx, c.UserClaimedKey(userID), itemID).Result()
}

// RecordSuccess stores the latest successful claim time and returns the
// previous one, if any.
func (c *Client) RecordSuccess(ctx context.Context, userID string, at time.Time) (time.Time, bool, error) {
	start := time.Now()
	defer metrics.ObserveRedisOperation("record_success", time.Since(start))

	old, err := c.rdb.GetSet(ctx, c.LastClaimKey(userID), at.UnixNano()).Result()
	if err == goRedis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(old, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt last-claim marker for user %s: %w", userID, err)
	}
	return time.Unix(0, nanos), true, nil
}

// ReleaseClaim is the admin correction path: conditionally decrements the
// item's claim counter for a previously claimed (user, item) pair and, only
// when reopenSlot is set, removes the set membership so the user may claim
// again. Points are never restored here.
func (c *Client) ReleaseClaim(ctx context.Context, userID string, itemID int64, reopenSlot bool) (bool, error) {
	start := time.Now()
	defer metrics.ObserveRedisOperation("release_claim", time.Since(start))

	reopen := 0
	if reopenSlot {
		reopen = 1
	}
	keys := []string{c.UserClaimedKey(userID), c.ItemClaimsKey(itemID)}
	res, err := c.releaseScript.Run(ctx, c.rdb, keys, itemID, reopen).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// SeedClaimCounter initializes an item's claim counter at zero, once.
func (c *Client) SeedClaimCounter(ctx context.Context, itemID int64) error {
	start := time.Now()
	defer metrics.ObserveRedisOperation("seed_claim_counter", time.Since(start))
	return c.rdb.SetNX(ctx, c.ItemClaimsKey(itemID), 0, 0).Err()
}

// SeedStock sets a limited collectible's remaining stock.
func (c *Client) SeedStock(ctx context.Context, collectibleID int64, remaining int) error {
	start := time.Now()
	defer metrics.ObserveRedisOperation("seed_stock", time.Since(start))
	return c.rdb.Set(ctx, c.StockKey(collectibleID), remaining, 0).Err()
}

// FailuresSince counts failed attempts at or after since and returns the
// oldest qualifying failure. Entries older than since are pruned in the same
// call, keeping the window set small.
func (c *Client) FailuresSince(ctx context.Context, userID string, since time.Time) (int, time.Time, error) {
	start := time.Now()
	defer metrics.ObserveRedisOperation("failures_since", time.Since(start))

	key := c.FailuresKey(userID)
	cutoff := strconv.FormatInt(since.UnixNano(), 10)
	if err := c.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return 0, time.Time{}, err
	}
	count, err := c.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}
	oldest, err := c.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(oldest) == 0 {
		return int(count), time.Time{}, nil
	}
	return int(count), time.Unix(0, int64(oldest[0].Score)), nil
}

// RecordFailure appends one failed attempt to the user's window.
func (c *Client) RecordFailure(ctx context.Context, userID string, at time.Time) error {
	start := time.Now()
	defer metrics.ObserveRedisOperation("record_failure", time.Since(start))

	key := c.FailuresKey(userID)
	nanos := at.UnixNano()
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, goRedis.Z{Score: float64(nanos), Member: strconv.FormatInt(nanos, 10)})
	pipe.Expire(ctx, key, failureTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearFailures drops the whole failure window for a user (admin correction).
func (c *Client) ClearFailures(ctx context.Context, userID string) error {
	start := time.Now()
	defer metrics.ObserveRedisOperation("clear_failures", time.Since(start))
	return c.rdb.Del(ctx, c.FailuresKey(userID)).Err()
}

// ItemClaimsKey holds an item's claim counter.
func (c *Client) ItemClaimsKey(itemID int64) string {
	return fmt.Sprintf("hunt:item:%d:claims", itemID)
}

// UserClaimedKey holds the set of item ids a user has claimed.
func (c *Client) UserClaimedKey(userID string) string {
	return fmt.Sprintf("hunt:user:%s:claimed", userID)
}

// StockKey holds a limited collectible's remaining stock.
func (c *Client) StockKey(collectibleID int64) string {
	return fmt.Sprintf("hunt:coll:%d:stock", collectibleID)
}

// FailuresKey holds the sliding window of a user's failed attempts.
func (c *Client) FailuresKey(userID string) string {
	return fmt.Sprintf("hunt:user:%s:failures", userID)
}

// LastClaimKey holds the time of a user's latest successful claim.
func (c *Client) LastClaimKey(userID string) string {
	return fmt.Sprintf("hunt:user:%s:lastclaim", userID)
}
