package hunt

// Reason is the closed set of user-facing rejection reasons. Tests and
// handlers branch on the code, never on the message text.
type Reason string

const (
	ReasonItemNotFound      Reason = "ITEM_NOT_FOUND"
	ReasonItemDisabled      Reason = "ITEM_DISABLED"
	ReasonItemNotYetActive  Reason = "ITEM_NOT_YET_ACTIVE"
	ReasonItemExpired       Reason = "ITEM_EXPIRED"
	ReasonAlreadyClaimed    Reason = "ALREADY_CLAIMED"
	ReasonClaimLimitReached Reason = "CLAIM_LIMIT_REACHED"
	ReasonRateLimited       Reason = "RATE_LIMITED"
)

var reasonMessages = map[Reason]string{
	ReasonItemNotFound:      "That code doesn't match any hunt item.",
	ReasonItemDisabled:      "This item is currently disabled.",
	ReasonItemNotYetActive:  "This item isn't active yet. Check back later.",
	ReasonItemExpired:       "This item's claim window has closed.",
	ReasonAlreadyClaimed:    "You've already claimed this item.",
	ReasonClaimLimitReached: "All claims for this item have been taken.",
	ReasonRateLimited:       "Too many failed attempts. Try again later.",
}

// Message returns the user-facing text for the reason.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return "Claim rejected."
}

// SkipReason explains why a linked collectible was not granted during an
// otherwise successful claim. Skips never fail the claim itself.
type SkipReason string

const (
	SkipInactive      SkipReason = "INACTIVE"
	SkipOutsideWindow SkipReason = "OUTSIDE_WINDOW"
	SkipSoldOut       SkipReason = "SOLD_OUT"
)
