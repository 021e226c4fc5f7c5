package hunt

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"codehunt/internal/observability/metrics"
)

// GrantedCollectible names one instance handed to the user.
type GrantedCollectible struct {
	CollectibleID int64
	Slug          string
	InstanceID    string
}

// SkippedCollectible records a linked reward that was not granted, and why.
type SkippedCollectible struct {
	CollectibleID int64
	Slug          string
	Reason        SkipReason
}

// RewardManifest is the full account of what a confirmed claim paid out.
type RewardManifest struct {
	PointsAwarded  int
	NewTotalPoints int
	Granted        []GrantedCollectible
	Skipped        []SkippedCollectible
}

// Allocator awards points and collectible instances for a confirmed claim.
type Allocator struct {
	users    UserStore
	counters CounterStore

	retries int
	backoff time.Duration
}

// NewAllocator wires the allocator's stores and its retry knobs for the
// final writes of an already-committed claim.
func NewAllocator(users UserStore, counters CounterStore, retries int, backoff time.Duration) *Allocator {
	if retries <= 0 {
		retries = defaultCommitRetries
	}
	if backoff <= 0 {
		backoff = defaultCommitBackoff
	}
	return &Allocator{users: users, counters: counters, retries: retries, backoff: backoff}
}

// Grant runs after the claim commit succeeded. Points are awarded
// unconditionally; each linked collectible is then settled independently:
// active flag and activation window are re-checked at grant time, limited
// stock is taken through the counter store, and any failing check becomes a
// skip entry rather than an error. Skips never roll back the point award.
func (a *Allocator) Grant(ctx context.Context, userID string, item *HuntItem, defs []Collectible, now time.Time) (*RewardManifest, error) {
	total, err := a.users.AddPoints(ctx, userID, item.Points)
	if err != nil {
		return nil, err
	}
	m := &RewardManifest{PointsAwarded: item.Points, NewTotalPoints: total}

	for _, def := range defs {
		if skip, ok := a.settle(ctx, userID, def, now, m); !ok {
			metrics.CountCollectibleSkip(string(skip))
			m.Skipped = append(m.Skipped, SkippedCollectible{
				CollectibleID: def.ID,
				Slug:          def.Slug,
				Reason:        skip,
			})
		}
	}
	return m, nil
}

func (a *Allocator) settle(ctx context.Context, userID string, def Collectible, now time.Time, m *RewardManifest) (SkipReason, bool) {
	if !def.Active {
		return SkipInactive, false
	}
	if !withinWindow(def.ActivationStart, def.ActivationEnd, now) {
		return SkipOutsideWindow, false
	}
	if def.Limited {
		taken, err := a.counters.TryDecrementStock(ctx, def.ID)
		if err != nil {
			log.Printf("allocator: stock decrement failed for collectible=%d user=%s: %v", def.ID, userID, err)
			return SkipSoldOut, false
		}
		if !taken {
			return SkipSoldOut, false
		}
	}
	inst := CollectibleInstance{
		ID:            uuid.NewString(),
		UserID:        userID,
		CollectibleID: def.ID,
		Used:          false,
		AddedAt:       now,
	}
	err := withRetry(ctx, a.retries, a.backoff, func() error {
		return a.users.InsertCollectibleInstance(ctx, inst)
	})
	if err != nil {
		// The stock unit is already taken, so the grant stands. The attempt
		// event carries the instance id and the consumer inserts the row from
		// it, so the instance is recovered durably despite this failure.
		log.Printf("allocator: instance insert failed for collectible=%d user=%s instance=%s: %v", def.ID, userID, inst.ID, err)
	}
	m.Granted = append(m.Granted, GrantedCollectible{
		CollectibleID: def.ID,
		Slug:          def.Slug,
		InstanceID:    inst.ID,
	})
	return "", true
}
