package hunt

import "time"

// Evaluate is the pure fast-path eligibility check. Checks run in a fixed
// order and the first failure wins: active flag, activation window,
// duplicate claim, remaining capacity. The duplicate and capacity answers
// here can be stale under concurrency; the counter store's commit is the
// authoritative check and repeats both conditions atomically.
func Evaluate(item *HuntItem, alreadyClaimed bool, now time.Time) (Reason, bool) {
	if !item.Active {
		return ReasonItemDisabled, false
	}
	if item.ActivationStart != nil && now.Before(*item.ActivationStart) {
		return ReasonItemNotYetActive, false
	}
	if item.ActivationEnd != nil && !now.Before(*item.ActivationEnd) {
		return ReasonItemExpired, false
	}
	if alreadyClaimed {
		return ReasonAlreadyClaimed, false
	}
	if item.MaxClaims != nil && item.ClaimCount >= *item.MaxClaims {
		return ReasonClaimLimitReached, false
	}
	return "", true
}
