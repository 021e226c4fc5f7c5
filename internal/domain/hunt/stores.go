package hunt

import (
	"context"
	"errors"
	"time"
)

// ErrItemNotFound indicates no hunt item carries the submitted code.
var ErrItemNotFound = errors.New("hunt item not found")

// ErrInvariantViolation indicates a bounded counter was found past its limit.
// It should never fire when commits go through the counter store; when it
// does it points at a bug, not a normal runtime path.
var ErrInvariantViolation = errors.New("scarce counter invariant violated")

// CommitStatus is the outcome of the atomic claim commit.
type CommitStatus string

const (
	CommitOK             CommitStatus = "OK"
	CommitAlreadyClaimed CommitStatus = "ALREADY_CLAIMED"
	CommitLimitReached   CommitStatus = "LIMIT_REACHED"
)

// Catalog resolves hunt items and their linked collectible definitions.
type Catalog interface {
	// ItemByCode returns ErrItemNotFound on a miss.
	ItemByCode(ctx context.Context, code string) (*HuntItem, error)
	// CollectiblesByIDs returns the definitions that exist; missing ids are
	// silently dropped (a dangling link is a skip, not an error).
	CollectiblesByIDs(ctx context.Context, ids []int64) ([]Collectible, error)
}

// UserStore persists user rows, point balances and granted instances.
type UserStore interface {
	EnsureUser(ctx context.Context, id, email string) error
	// AddPoints atomically increments the balance and returns the new total.
	AddPoints(ctx context.Context, userID string, delta int) (int, error)
	InsertCollectibleInstance(ctx context.Context, inst CollectibleInstance) error
}

// CounterStore owns every bounded-counter mutation. Implementations must
// provide linearizable at-most-N semantics: each operation is a single
// conditional update, never a read-then-write pair.
type CounterStore interface {
	// TryClaim atomically inserts itemID into the user's claimed set and
	// increments the item's claim counter, iff the set insert is new and the
	// counter is below maxClaims (nil = unlimited).
	TryClaim(ctx context.Context, userID string, itemID int64, maxClaims *int) (CommitStatus, error)
	// TryDecrementStock decrements a limited collectible's remaining stock
	// iff it is positive, reporting whether a unit was taken.
	TryDecrementStock(ctx context.Context, collectibleID int64) (bool, error)
	// HasClaimed is the advisory duplicate-claim pre-check; TryClaim remains
	// the source of truth.
	HasClaimed(ctx context.Context, userID string, itemID int64) (bool, error)
	// RecordSuccess stores the time of the user's latest successful claim and
	// returns the previous one, if any. Informational, feeds the
	// suspicious-activity marker only.
	RecordSuccess(ctx context.Context, userID string, at time.Time) (prev time.Time, ok bool, err error)
	// ReleaseClaim decrements the item's claim counter for a previously
	// claimed (user, item) pair and, when reopenSlot is set, removes the
	// claimed-set membership so the user may claim again. Reports whether
	// the pair was claimed. Callers must gate this on the durable removal:
	// with reopenSlot unset the membership survives, so the call alone is
	// not idempotent.
	ReleaseClaim(ctx context.Context, userID string, itemID int64, reopenSlot bool) (bool, error)
}

// ClaimRemover is the durable half of the admin claim-removal correction.
type ClaimRemover interface {
	// RemoveClaim deletes the (user, item) claim row and decrements the
	// mirror counter, reporting whether a row existed. Idempotent.
	RemoveClaim(ctx context.Context, userID string, itemID int64) (bool, error)
}

// FailureLog is the hot, admin-clearable window of failed attempts that the
// rate limiter reads.
type FailureLog interface {
	// FailuresSince counts failures at or after since and returns the oldest
	// qualifying failure time when count > 0.
	FailuresSince(ctx context.Context, userID string, since time.Time) (count int, oldest time.Time, err error)
	RecordFailure(ctx context.Context, userID string, at time.Time) error
	ClearFailures(ctx context.Context, userID string) error
}

// AttemptPublisher ships one AttemptEvent per claim request to the durable
// attempt log.
type AttemptPublisher interface {
	Publish(ctx context.Context, event AttemptEvent) error
}
