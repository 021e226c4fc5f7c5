package hunt

import (
	"context"
	"errors"
	"log"
	"time"

	"codehunt/internal/observability/metrics"
)

// AttemptSink is the durable side of the attempt pipeline: the append-only
// log plus the Postgres counter mirrors kept for reporting and audit.
type AttemptSink interface {
	InsertAttempt(ctx context.Context, rec AttemptRecord) error
	// ApplyClaimMirror replays one successful claim into the durable state:
	// the (user, item) claim row, the item's claim-count mirror, the granted
	// instance rows and the stock mirrors, all in one transaction gated on
	// the conditional claim-row insert so replays write nothing twice. The
	// instance inserts key on the event-carried instance id, so a row the
	// API side failed to write is recovered here.
	// Returns ErrInvariantViolation when the claim-count mirror is already
	// at its cap; the claim row is still recorded in that case.
	ApplyClaimMirror(ctx context.Context, userID string, itemID int64, at time.Time, granted []GrantedInstance) error
	// FreezeItem disables an item whose mirrors disagree with the
	// authoritative commit path.
	FreezeItem(ctx context.Context, itemID int64) error
}

// AttemptRecorder persists attempt events delivered by the consumer.
type AttemptRecorder struct {
	sink AttemptSink
}

// NewAttemptRecorder builds a recorder.
func NewAttemptRecorder(sink AttemptSink) *AttemptRecorder {
	return &AttemptRecorder{sink: sink}
}

// HandleAttempt appends the attempt row and, for successes, replays the
// counter mirrors. Errors propagate so Kafka redelivers the event; both
// writes are idempotent on replay.
func (r *AttemptRecorder) HandleAttempt(ctx context.Context, event AttemptEvent) error {
	start := time.Now()
	defer metrics.ObserveConsumerProcessing("handle_attempt", time.Since(start))

	if err := r.sink.InsertAttempt(ctx, AttemptRecord{
		UserID:      event.UserID,
		Code:        event.Code,
		Success:     event.Success,
		ItemID:      event.ItemID,
		AttemptedAt: event.Timestamp,
	}); err != nil {
		log.Printf("attempt recorder: insert failed for user=%s code=%s: %v", event.UserID, event.Code, err)
		return err
	}
	if !event.Success || event.ItemID == nil {
		return nil
	}

	err := r.sink.ApplyClaimMirror(ctx, event.UserID, *event.ItemID, event.Timestamp, event.Granted)
	if errors.Is(err, ErrInvariantViolation) {
		// A mirror past its cap means the commit path was bypassed somewhere.
		// Redelivery would not make the counter any less broken: freeze the
		// item instead of overshooting and treat the event as handled.
		log.Printf("attempt recorder: INVARIANT VIOLATION claim_count at cap for item=%d, freezing item", *event.ItemID)
		metrics.CountInvariantViolation("claim_count")
		if ferr := r.sink.FreezeItem(ctx, *event.ItemID); ferr != nil {
			log.Printf("attempt recorder: failed to freeze item=%d: %v", *event.ItemID, ferr)
			return ferr
		}
		return nil
	}
	if err != nil {
		log.Printf("attempt recorder: mirror replay failed for user=%s item=%d: %v", event.UserID, *event.ItemID, err)
		return err
	}
	return nil
}
