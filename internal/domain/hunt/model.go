package hunt

import "time"

// User is the identity-provider-supplied account the engine grants rewards to.
// It is created on first sight of an authenticated user id and never deleted.
type User struct {
	ID        string
	Email     string
	Points    int
	CreatedAt time.Time
}

// HuntItem is a redeemable unit worth points, looked up by its unique code.
// MaxClaims == nil means unlimited. The Redis counter is authoritative for
// ClaimCount on the hot path; the field here is the durable mirror read from
// Postgres and is advisory only.
type HuntItem struct {
	ID              int64
	Code            string
	Points          int
	MaxClaims       *int
	ClaimCount      int
	Active          bool
	ActivationStart *time.Time
	ActivationEnd   *time.Time
	CollectibleIDs  []int64
	CreatedAt       time.Time
}

// Collectible is a secondary reward grantable alongside a HuntItem claim.
// Remaining is only meaningful when Limited is set.
type Collectible struct {
	ID              int64
	Slug            string
	Points          int
	Active          bool
	ActivationStart *time.Time
	ActivationEnd   *time.Time
	Limited         bool
	Remaining       int
	CreatedAt       time.Time
}

// CollectibleInstance is one granted copy of a collectible, owned by one user.
type CollectibleInstance struct {
	ID            string
	UserID        string
	CollectibleID int64
	Used          bool
	AddedAt       time.Time
}

// AttemptRecord is one row of the append-only per-user attempt log.
type AttemptRecord struct {
	UserID      string
	Code        string
	Success     bool
	ItemID      *int64
	AttemptedAt time.Time
}

// withinWindow reports whether now falls inside [start, end). A nil bound is
// open on that side.
func withinWindow(start, end *time.Time, now time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end != nil && !now.Before(*end) {
		return false
	}
	return true
}
