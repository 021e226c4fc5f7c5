package hunt

import (
	"context"
	"errors"
	"log"
	"time"

	"codehunt/internal/observability/metrics"
)

// Claims less than this far apart are flagged (never blocked) as suspicious.
const suspiciousClaimGap = 5 * time.Minute

const (
	defaultCommitRetries = 3
	defaultCommitBackoff = 50 * time.Millisecond
)

// ClaimResult is the terminal outcome of one claim request.
type ClaimResult struct {
	Accepted          bool
	Reason            Reason
	Message           string
	Manifest          *RewardManifest
	RemainingAttempts *int
	RateLimitResetAt  *time.Time
}

// ServiceConfig wires the orchestrator's collaborators and knobs.
type ServiceConfig struct {
	Catalog   Catalog
	Users     UserStore
	Counters  CounterStore
	Failures  FailureLog
	Publisher AttemptPublisher
	// Removals is the durable side of admin claim removal; optional when the
	// admin surface is not exposed.
	Removals ClaimRemover

	RateLimitWindow    time.Duration
	RateLimitThreshold int
	CommitRetries      int
	CommitBackoff      time.Duration
}

// Service runs the claim pipeline: rate-limit gate, catalog resolution,
// eligibility fast path, atomic commit, reward allocation, attempt record.
// Exactly one attempt event is published per request, whatever the outcome.
type Service struct {
	catalog   Catalog
	users     UserStore
	counters  CounterStore
	limiter   *RateLimiter
	failures  FailureLog
	publisher AttemptPublisher
	allocator *Allocator
	removals  ClaimRemover

	commitRetries int
	commitBackoff time.Duration
}

// NewService builds the orchestrator.
func NewService(cfg ServiceConfig) *Service {
	retries := cfg.CommitRetries
	if retries <= 0 {
		retries = defaultCommitRetries
	}
	backoff := cfg.CommitBackoff
	if backoff <= 0 {
		backoff = defaultCommitBackoff
	}
	return &Service{
		catalog:       cfg.Catalog,
		users:         cfg.Users,
		counters:      cfg.Counters,
		limiter:       NewRateLimiter(cfg.Failures, cfg.RateLimitWindow, cfg.RateLimitThreshold),
		failures:      cfg.Failures,
		publisher:     cfg.Publisher,
		allocator:     NewAllocator(cfg.Users, cfg.Counters, retries, backoff),
		removals:      cfg.Removals,
		commitRetries: retries,
		commitBackoff: backoff,
	}
}

// Limiter exposes the configured rate limiter (used by admin surfaces).
func (s *Service) Limiter() *RateLimiter { return s.limiter }

// Claim resolves one (user, code) request to exactly one outcome.
func (s *Service) Claim(ctx context.Context, userID, email, code string, now time.Time) (*ClaimResult, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	if code == "" {
		return nil, errors.New("code required")
	}

	verdict, err := s.limiter.Check(ctx, userID, now)
	if err != nil {
		// The limiter is an advisory pre-check; fail open rather than block
		// legitimate claims on a degraded failure log.
		log.Printf("claim: rate-limit check failed for user=%s, failing open: %v", userID, err)
		verdict = RateLimitVerdict{Allowed: true, Remaining: 0}
	}
	if !verdict.Allowed {
		zero := 0
		res := &ClaimResult{
			Reason:            ReasonRateLimited,
			Message:           ReasonRateLimited.Message(),
			RemainingAttempts: &zero,
			RateLimitResetAt:  verdict.ResetAt,
		}
		s.recordFailure(ctx, userID, email, code, nil, ReasonRateLimited, now)
		return res, nil
	}

	item, err := s.catalog.ItemByCode(ctx, code)
	if errors.Is(err, ErrItemNotFound) {
		// A miss is billable: codes are guessable, so misses count against
		// the limiter.
		s.recordFailure(ctx, userID, email, code, nil, ReasonItemNotFound, now)
		return s.rejected(ReasonItemNotFound, verdict), nil
	}
	if err != nil {
		s.recordStorageFailure(ctx, userID, email, code, nil, now)
		return nil, err
	}

	if err := s.users.EnsureUser(ctx, userID, email); err != nil {
		s.recordStorageFailure(ctx, userID, email, code, &item.ID, now)
		return nil, err
	}

	claimed, err := s.counters.HasClaimed(ctx, userID, item.ID)
	if err != nil {
		// Advisory pre-check only; the commit repeats it atomically.
		log.Printf("claim: duplicate pre-check failed for user=%s item=%d: %v", userID, item.ID, err)
		claimed = false
	}
	if reason, ok := Evaluate(item, claimed, now); !ok {
		s.recordFailure(ctx, userID, email, code, &item.ID, reason, now)
		return s.rejected(reason, verdict), nil
	}

	// Authoritative commit. The evaluator's view can already be stale, so a
	// loss here is reported exactly as if the evaluator had caught it.
	var status CommitStatus
	err = withRetry(ctx, s.commitRetries, s.commitBackoff, func() error {
		var cerr error
		status, cerr = s.counters.TryClaim(ctx, userID, item.ID, item.MaxClaims)
		return cerr
	})
	if err != nil {
		// Transient exhaustion: the counter was never partially applied.
		s.recordStorageFailure(ctx, userID, email, code, &item.ID, now)
		return nil, err
	}
	switch status {
	case CommitAlreadyClaimed:
		s.recordFailure(ctx, userID, email, code, &item.ID, ReasonAlreadyClaimed, now)
		return s.rejected(ReasonAlreadyClaimed, verdict), nil
	case CommitLimitReached:
		s.recordFailure(ctx, userID, email, code, &item.ID, ReasonClaimLimitReached, now)
		return s.rejected(ReasonClaimLimitReached, verdict), nil
	}

	// Committed. From here the request runs to completion: a caller-side
	// timeout must not drop a granted reward.
	gctx := context.WithoutCancel(ctx)

	var defs []Collectible
	if len(item.CollectibleIDs) > 0 {
		err = withRetry(gctx, s.commitRetries, s.commitBackoff, func() error {
			var lerr error
			defs, lerr = s.catalog.CollectiblesByIDs(gctx, item.CollectibleIDs)
			return lerr
		})
		if err != nil {
			log.Printf("claim: collectible lookup failed after commit for item=%d user=%s, granting points only: %v", item.ID, userID, err)
			defs = nil
		}
	}

	var manifest *RewardManifest
	err = withRetry(gctx, s.commitRetries, s.commitBackoff, func() error {
		var gerr error
		manifest, gerr = s.allocator.Grant(gctx, userID, item, defs, now)
		return gerr
	})
	if err != nil {
		// The claim slot is taken; surface the commit rather than lose it.
		log.Printf("claim: reward grant failed after commit for item=%d user=%s, recoverable inconsistency: %v", item.ID, userID, err)
		manifest = &RewardManifest{PointsAwarded: item.Points}
	}

	s.flagRapidSuccession(gctx, userID, now)

	granted := make([]GrantedInstance, 0, len(manifest.Granted))
	for _, g := range manifest.Granted {
		granted = append(granted, GrantedInstance{InstanceID: g.InstanceID, CollectibleID: g.CollectibleID})
	}
	s.publishAttempt(gctx, AttemptEvent{
		UserID: userID, Email: email, Code: code, Success: true,
		ItemID: &item.ID, PointsAwarded: manifest.PointsAwarded,
		Granted: granted, Timestamp: now,
	}, s.commitRetries)

	metrics.CountClaimOutcome("SUCCESS")
	return &ClaimResult{Accepted: true, Message: "Claim accepted.", Manifest: manifest}, nil
}

func (s *Service) rejected(reason Reason, verdict RateLimitVerdict) *ClaimResult {
	remaining := verdict.Remaining - 1
	if remaining < 0 {
		remaining = 0
	}
	return &ClaimResult{
		Reason:            reason,
		Message:           reason.Message(),
		RemainingAttempts: &remaining,
		RateLimitResetAt:  verdict.ResetAt,
	}
}

// recordFailure appends the failed attempt to the hot window and ships the
// durable event. Failures here are logged, never returned: the rejection
// outcome is already decided.
func (s *Service) recordFailure(ctx context.Context, userID, email, code string, itemID *int64, reason Reason, now time.Time) {
	if err := s.failures.RecordFailure(ctx, userID, now); err != nil {
		log.Printf("claim: failed to record failure for user=%s: %v", userID, err)
	}
	s.publishAttempt(ctx, AttemptEvent{
		UserID: userID, Email: email, Code: code, Success: false,
		ItemID: itemID, Reason: string(reason), Timestamp: now,
	}, 1)
	metrics.CountClaimOutcome(string(reason))
}

// recordStorageFailure ships the durable attempt event for a request that
// died on infrastructure rather than user error. The hot failure window
// stays clean: the user did nothing wrong, so the limiter must not bill them.
func (s *Service) recordStorageFailure(ctx context.Context, userID, email, code string, itemID *int64, now time.Time) {
	s.publishAttempt(ctx, AttemptEvent{
		UserID: userID, Email: email, Code: code, Success: false,
		ItemID: itemID, Reason: "STORAGE_FAILURE", Timestamp: now,
	}, 1)
	metrics.CountClaimOutcome("STORAGE_FAILURE")
}

// RemoveClaim is the admin correction: it deletes the durable claim row and
// releases the hot-side counter. The durable delete goes first and gates the
// release, making the whole operation idempotent: a retried removal finds no
// row and never touches the counter again. Points are not restored; the
// claimed-set membership is dropped only when reopenSlot is set.
func (s *Service) RemoveClaim(ctx context.Context, userID string, itemID int64, reopenSlot bool) (bool, error) {
	removed, err := s.removals.RemoveClaim(ctx, userID, itemID)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	err = withRetry(ctx, s.commitRetries, s.commitBackoff, func() error {
		_, rerr := s.counters.ReleaseClaim(ctx, userID, itemID, reopenSlot)
		return rerr
	})
	if err != nil {
		// The durable removal already happened. A stale hot counter only ever
		// understates the free slots, which keeps maxClaims safe, so report
		// the removal and leave the counter for operator repair.
		log.Printf("admin: hot-side release failed for user=%s item=%d, recoverable inconsistency: %v", userID, itemID, err)
	}
	return true, nil
}

func (s *Service) publishAttempt(ctx context.Context, event AttemptEvent, attempts int) {
	err := withRetry(ctx, attempts, s.commitBackoff, func() error {
		return s.publisher.Publish(ctx, event)
	})
	if err != nil {
		log.Printf("claim: attempt event lost for user=%s code=%s success=%v: %v", event.UserID, event.Code, event.Success, err)
	}
}

func (s *Service) flagRapidSuccession(ctx context.Context, userID string, now time.Time) {
	prev, ok, err := s.counters.RecordSuccess(ctx, userID, now)
	if err != nil {
		log.Printf("claim: last-success marker failed for user=%s: %v", userID, err)
		return
	}
	if ok && now.Sub(prev) < suspiciousClaimGap {
		metrics.CountRapidClaim()
		log.Printf("claim: rapid successive claims for user=%s gap=%s", userID, now.Sub(prev))
	}
}

// withRetry runs op up to attempts times with exponential backoff between
// tries. The last error is returned when all attempts fail.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff << i):
		}
	}
	return err
}
