package hunt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGrantAwardsPointsWithoutCollectibles(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	counters := newMemCounterStore()
	_ = users.EnsureUser(ctx, "u1", "")
	alloc := NewAllocator(users, counters, 2, time.Millisecond)

	item := &HuntItem{ID: 1, Points: 25, Active: true}
	m, err := alloc.Grant(ctx, "u1", item, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if m.PointsAwarded != 25 || m.NewTotalPoints != 25 {
		t.Errorf("points = %d/%d, want 25/25", m.PointsAwarded, m.NewTotalPoints)
	}
	if len(m.Granted) != 0 || len(m.Skipped) != 0 {
		t.Errorf("unexpected collectible results: %+v", m)
	}
}

func TestGrantSettlesEachCollectibleIndependently(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	users := newMemUserStore()
	counters := newMemCounterStore()
	counters.stock[3] = 1
	_ = users.EnsureUser(ctx, "u1", "")
	alloc := NewAllocator(users, counters, 2, time.Millisecond)

	defs := []Collectible{
		{ID: 1, Slug: "dead", Active: false},
		{ID: 2, Slug: "early", Active: true, ActivationStart: timePtr(now.Add(time.Hour))},
		{ID: 3, Slug: "badge", Active: true, Limited: true},
		{ID: 4, Slug: "sticker", Active: true},
	}
	item := &HuntItem{ID: 1, Points: 10, Active: true}
	m, err := alloc.Grant(ctx, "u1", item, defs, now)
	if err != nil {
		t.Fatal(err)
	}

	if m.PointsAwarded != 10 {
		t.Errorf("points awarded = %d, want 10", m.PointsAwarded)
	}
	if len(m.Granted) != 2 {
		t.Fatalf("granted = %+v, want badge and sticker", m.Granted)
	}
	for _, g := range m.Granted {
		if g.InstanceID == "" {
			t.Errorf("granted %q without instance id", g.Slug)
		}
	}
	wantSkips := map[string]SkipReason{"dead": SkipInactive, "early": SkipOutsideWindow}
	if len(m.Skipped) != len(wantSkips) {
		t.Fatalf("skipped = %+v, want %v", m.Skipped, wantSkips)
	}
	for _, s := range m.Skipped {
		if wantSkips[s.Slug] != s.Reason {
			t.Errorf("skip %q reason = %q, want %q", s.Slug, s.Reason, wantSkips[s.Slug])
		}
	}
	if counters.remaining(3) != 0 {
		t.Errorf("badge stock = %d, want 0", counters.remaining(3))
	}
	if users.instancesOf("u1", 3) != 1 || users.instancesOf("u1", 4) != 1 {
		t.Error("expected one instance each of badge and sticker")
	}
}

func TestGrantSoldOutIsSkipNotError(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	counters := newMemCounterStore() // stock never seeded: zero remaining
	_ = users.EnsureUser(ctx, "u1", "")
	alloc := NewAllocator(users, counters, 2, time.Millisecond)

	defs := []Collectible{{ID: 9, Slug: "rare", Active: true, Limited: true}}
	item := &HuntItem{ID: 1, Points: 5, Active: true}
	m, err := alloc.Grant(ctx, "u1", item, defs, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Skipped) != 1 || m.Skipped[0].Reason != SkipSoldOut {
		t.Fatalf("skipped = %+v, want one SOLD_OUT", m.Skipped)
	}
	// The point award stands regardless of collectible outcomes.
	if m.NewTotalPoints != 5 {
		t.Errorf("total = %d, want 5", m.NewTotalPoints)
	}
	if users.instancesOf("u1", 9) != 0 {
		t.Error("sold-out collectible must not produce an instance")
	}
}

func TestGrantRetriesInstanceInsert(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	counters := newMemCounterStore()
	counters.stock[3] = 1
	_ = users.EnsureUser(ctx, "u1", "")
	flaky := &flakyUserStore{
		memUserStore:   users,
		insertFailures: 2,
		err:            errors.New("connection reset"),
	}
	alloc := NewAllocator(flaky, counters, 3, time.Millisecond)

	defs := []Collectible{{ID: 3, Slug: "badge", Active: true, Limited: true}}
	item := &HuntItem{ID: 1, Points: 1, Active: true}
	m, err := alloc.Grant(ctx, "u1", item, defs, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Granted) != 1 {
		t.Fatalf("granted = %+v, want badge", m.Granted)
	}
	// The transient failures were absorbed: the instance row landed.
	if users.instancesOf("u1", 3) != 1 {
		t.Errorf("instances = %d, want 1 after retries", users.instancesOf("u1", 3))
	}
}

func TestGrantSurvivesPersistentInstanceInsertFailure(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	counters := newMemCounterStore()
	counters.stock[3] = 1
	_ = users.EnsureUser(ctx, "u1", "")
	flaky := &flakyUserStore{
		memUserStore:   users,
		insertFailures: 100,
		err:            errors.New("db down"),
	}
	alloc := NewAllocator(flaky, counters, 2, time.Millisecond)

	defs := []Collectible{{ID: 3, Slug: "badge", Active: true, Limited: true}}
	item := &HuntItem{ID: 1, Points: 1, Active: true}
	m, err := alloc.Grant(ctx, "u1", item, defs, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	// The stock unit is consumed, so the grant stands; the instance id in the
	// manifest feeds the attempt event the consumer recovers the row from.
	if len(m.Granted) != 1 || m.Granted[0].InstanceID == "" {
		t.Fatalf("granted = %+v, want badge with instance id", m.Granted)
	}
	if counters.remaining(3) != 0 {
		t.Errorf("stock = %d, want 0", counters.remaining(3))
	}
}

func TestGrantRechecksWindowAtGrantTime(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	counters := newMemCounterStore()
	_ = users.EnsureUser(ctx, "u1", "")
	alloc := NewAllocator(users, counters, 2, time.Millisecond)

	end := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	defs := []Collectible{{ID: 1, Slug: "late", Active: true, ActivationEnd: &end}}
	item := &HuntItem{ID: 1, Points: 1, Active: true}

	// Grant happens exactly at the window end: the boundary crossed between
	// lookup and grant must be honored.
	m, err := alloc.Grant(ctx, "u1", item, defs, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Skipped) != 1 || m.Skipped[0].Reason != SkipOutsideWindow {
		t.Fatalf("skipped = %+v, want OUTSIDE_WINDOW", m.Skipped)
	}
}
