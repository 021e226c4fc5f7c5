package hunt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type memSink struct {
	attempts  []AttemptRecord
	claims    map[string]map[int64]bool
	mirrors   map[int64]int
	stock     map[int64]int
	instances map[string]GrantedInstance
	frozen    map[int64]bool

	mirrorErr error
}

func newMemSink() *memSink {
	return &memSink{
		claims:    make(map[string]map[int64]bool),
		mirrors:   make(map[int64]int),
		stock:     make(map[int64]int),
		instances: make(map[string]GrantedInstance),
		frozen:    make(map[int64]bool),
	}
}

func (s *memSink) InsertAttempt(_ context.Context, rec AttemptRecord) error {
	s.attempts = append(s.attempts, rec)
	return nil
}

func (s *memSink) ApplyClaimMirror(_ context.Context, userID string, itemID int64, _ time.Time, granted []GrantedInstance) error {
	if s.claims[userID][itemID] {
		return nil
	}
	if s.mirrorErr != nil {
		return s.mirrorErr
	}
	if s.claims[userID] == nil {
		s.claims[userID] = make(map[int64]bool)
	}
	s.claims[userID][itemID] = true
	s.mirrors[itemID]++
	for _, g := range granted {
		if _, ok := s.instances[g.InstanceID]; !ok {
			s.instances[g.InstanceID] = g
		}
		s.stock[g.CollectibleID]--
	}
	return nil
}

func (s *memSink) FreezeItem(_ context.Context, itemID int64) error {
	s.frozen[itemID] = true
	return nil
}

func successEvent(user string, itemID int64, colls ...int64) AttemptEvent {
	granted := make([]GrantedInstance, 0, len(colls))
	for _, collID := range colls {
		granted = append(granted, GrantedInstance{
			InstanceID:    fmt.Sprintf("inst-%d-%d", itemID, collID),
			CollectibleID: collID,
		})
	}
	return AttemptEvent{
		UserID:    user,
		Code:      "CODE",
		Success:   true,
		ItemID:    &itemID,
		Granted:   granted,
		Timestamp: time.Now().UTC(),
	}
}

func TestRecorderPersistsSuccessfulAttempt(t *testing.T) {
	sink := newMemSink()
	rec := NewAttemptRecorder(sink)

	if err := rec.HandleAttempt(context.Background(), successEvent("u1", 7, 3)); err != nil {
		t.Fatal(err)
	}
	if len(sink.attempts) != 1 || !sink.attempts[0].Success {
		t.Fatalf("attempts = %+v, want one success row", sink.attempts)
	}
	if sink.mirrors[7] != 1 {
		t.Errorf("mirror count = %d, want 1", sink.mirrors[7])
	}
	if sink.stock[3] != -1 {
		t.Errorf("stock delta = %d, want -1", sink.stock[3])
	}
	// The instance row lands from the event itself, so a row the API side
	// failed to write is recovered here.
	if _, ok := sink.instances["inst-7-3"]; !ok {
		t.Error("granted instance row missing after replay")
	}
}

func TestRecorderReplayInsertsInstancesOnce(t *testing.T) {
	sink := newMemSink()
	rec := NewAttemptRecorder(sink)
	event := successEvent("u1", 7, 3)

	if err := rec.HandleAttempt(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAttempt(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if len(sink.instances) != 1 {
		t.Errorf("instance rows = %d, want 1 after redelivery", len(sink.instances))
	}
}

func TestRecorderFailedAttemptTouchesNoMirrors(t *testing.T) {
	sink := newMemSink()
	rec := NewAttemptRecorder(sink)

	itemID := int64(7)
	event := AttemptEvent{UserID: "u1", Code: "CODE", Success: false, ItemID: &itemID, Reason: "ALREADY_CLAIMED", Timestamp: time.Now().UTC()}
	if err := rec.HandleAttempt(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if len(sink.attempts) != 1 || sink.attempts[0].Success {
		t.Fatalf("attempts = %+v, want one failure row", sink.attempts)
	}
	if len(sink.mirrors) != 0 {
		t.Errorf("mirrors touched on failed attempt: %v", sink.mirrors)
	}
}

func TestRecorderReplayIsIdempotent(t *testing.T) {
	sink := newMemSink()
	rec := NewAttemptRecorder(sink)
	event := successEvent("u1", 7, 3)

	// Kafka redelivery hands the recorder the same event twice.
	if err := rec.HandleAttempt(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleAttempt(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if sink.mirrors[7] != 1 {
		t.Errorf("mirror count = %d, want 1 after replay", sink.mirrors[7])
	}
	if sink.stock[3] != -1 {
		t.Errorf("stock delta = %d, want -1 after replay", sink.stock[3])
	}
}

func TestRecorderFreezesItemOnInvariantViolation(t *testing.T) {
	sink := newMemSink()
	sink.mirrorErr = ErrInvariantViolation
	rec := NewAttemptRecorder(sink)

	// The violation is handled, not propagated: redelivering the event would
	// not make the counter any less broken.
	if err := rec.HandleAttempt(context.Background(), successEvent("u1", 7)); err != nil {
		t.Fatalf("expected violation to be absorbed, got %v", err)
	}
	if !sink.frozen[7] {
		t.Error("item should be frozen after invariant violation")
	}
}

func TestRecorderPropagatesTransientMirrorErrors(t *testing.T) {
	sink := newMemSink()
	sink.mirrorErr = errors.New("connection refused")
	rec := NewAttemptRecorder(sink)

	if err := rec.HandleAttempt(context.Background(), successEvent("u1", 7)); err == nil {
		t.Fatal("transient mirror failure must surface for redelivery")
	}
	if sink.frozen[7] {
		t.Error("transient failure must not freeze the item")
	}
	// Redelivery after the transient failure clears still lands the mirrors.
	sink.mirrorErr = nil
	if err := rec.HandleAttempt(context.Background(), successEvent("u1", 7)); err != nil {
		t.Fatal(err)
	}
	if sink.mirrors[7] != 1 {
		t.Errorf("mirror count = %d, want 1 after redelivery", sink.mirrors[7])
	}
}
