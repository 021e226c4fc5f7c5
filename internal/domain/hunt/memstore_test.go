package hunt

import (
	"context"
	"sync"
	"time"
)

// In-memory collaborators for exercising the claim pipeline. The counter
// store mirrors the production semantics: every mutation is a single
// conditional update under one lock, so the concurrency tests genuinely race
// goroutines against the same at-most-N guarantees.

type memCounterStore struct {
	mu          sync.Mutex
	counts      map[int64]int
	claimed     map[string]map[int64]bool
	stock       map[int64]int
	lastSuccess map[string]time.Time
}

func newMemCounterStore() *memCounterStore {
	return &memCounterStore{
		counts:      make(map[int64]int),
		claimed:     make(map[string]map[int64]bool),
		stock:       make(map[int64]int),
		lastSuccess: make(map[string]time.Time),
	}
}

func (m *memCounterStore) TryClaim(_ context.Context, userID string, itemID int64, maxClaims *int) (CommitStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[userID][itemID] {
		return CommitAlreadyClaimed, nil
	}
	if maxClaims != nil && m.counts[itemID] >= *maxClaims {
		return CommitLimitReached, nil
	}
	m.counts[itemID]++
	if m.claimed[userID] == nil {
		m.claimed[userID] = make(map[int64]bool)
	}
	m.claimed[userID][itemID] = true
	return CommitOK, nil
}

func (m *memCounterStore) TryDecrementStock(_ context.Context, collectibleID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stock[collectibleID] <= 0 {
		return false, nil
	}
	m.stock[collectibleID]--
	return true, nil
}

func (m *memCounterStore) HasClaimed(_ context.Context, userID string, itemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimed[userID][itemID], nil
}

func (m *memCounterStore) RecordSuccess(_ context.Context, userID string, at time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.lastSuccess[userID]
	m.lastSuccess[userID] = at
	return prev, ok, nil
}

// ReleaseClaim keeps the production semantics: with reopenSlot unset the
// membership survives, so an ungated repeat call decrements again.
func (m *memCounterStore) ReleaseClaim(_ context.Context, userID string, itemID int64, reopenSlot bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.claimed[userID][itemID] {
		return false, nil
	}
	if reopenSlot {
		delete(m.claimed[userID], itemID)
	}
	if m.counts[itemID] > 0 {
		m.counts[itemID]--
	}
	return true, nil
}

func (m *memCounterStore) count(itemID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[itemID]
}

func (m *memCounterStore) remaining(collectibleID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[collectibleID]
}

// flakyCounterStore fails TryClaim a fixed number of times before delegating,
// for exercising the commit retry path.
type flakyCounterStore struct {
	*memCounterStore
	mu       sync.Mutex
	failures int
	err      error
}

func (f *flakyCounterStore) TryClaim(ctx context.Context, userID string, itemID int64, maxClaims *int) (CommitStatus, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return "", f.err
	}
	f.mu.Unlock()
	return f.memCounterStore.TryClaim(ctx, userID, itemID, maxClaims)
}

// memRemovals is the durable claim-row store behind admin removal.
type memRemovals struct {
	mu   sync.Mutex
	rows map[string]map[int64]bool
}

func newMemRemovals() *memRemovals {
	return &memRemovals{rows: make(map[string]map[int64]bool)}
}

func (m *memRemovals) addClaim(userID string, itemID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[userID] == nil {
		m.rows[userID] = make(map[int64]bool)
	}
	m.rows[userID][itemID] = true
}

func (m *memRemovals) RemoveClaim(_ context.Context, userID string, itemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rows[userID][itemID] {
		return false, nil
	}
	delete(m.rows[userID], itemID)
	return true, nil
}

type memFailureLog struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

func newMemFailureLog() *memFailureLog {
	return &memFailureLog{failures: make(map[string][]time.Time)}
}

func (m *memFailureLog) FailuresSince(_ context.Context, userID string, since time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int
	var oldest time.Time
	for _, at := range m.failures[userID] {
		if at.Before(since) {
			continue
		}
		count++
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	return count, oldest, nil
}

func (m *memFailureLog) RecordFailure(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[userID] = append(m.failures[userID], at)
	return nil
}

func (m *memFailureLog) ClearFailures(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, userID)
	return nil
}

type memCatalog struct {
	mu    sync.Mutex
	items map[string]*HuntItem
	colls map[int64]Collectible
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		items: make(map[string]*HuntItem),
		colls: make(map[int64]Collectible),
	}
}

func (m *memCatalog) addItem(item HuntItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.Code] = &item
}

func (m *memCatalog) addCollectible(c Collectible) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.colls[c.ID] = c
}

func (m *memCatalog) ItemByCode(_ context.Context, code string) (*HuntItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[code]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *memCatalog) CollectiblesByIDs(_ context.Context, ids []int64) ([]Collectible, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var defs []Collectible
	for _, id := range ids {
		if c, ok := m.colls[id]; ok {
			defs = append(defs, c)
		}
	}
	return defs, nil
}

type memUserStore struct {
	mu        sync.Mutex
	points    map[string]int
	instances []CollectibleInstance
}

func newMemUserStore() *memUserStore {
	return &memUserStore{points: make(map[string]int)}
}

func (m *memUserStore) EnsureUser(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.points[id]; !ok {
		m.points[id] = 0
	}
	return nil
}

func (m *memUserStore) AddPoints(_ context.Context, userID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[userID] += delta
	return m.points[userID], nil
}

func (m *memUserStore) InsertCollectibleInstance(_ context.Context, inst CollectibleInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = append(m.instances, inst)
	return nil
}

func (m *memUserStore) balance(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points[userID]
}

func (m *memUserStore) instancesOf(userID string, collectibleID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, inst := range m.instances {
		if inst.UserID == userID && inst.CollectibleID == collectibleID {
			n++
		}
	}
	return n
}

// flakyUserStore fails instance inserts a fixed number of times before
// delegating, for exercising the post-commit retry path.
type flakyUserStore struct {
	*memUserStore
	mu             sync.Mutex
	insertFailures int
	err            error
}

func (f *flakyUserStore) InsertCollectibleInstance(ctx context.Context, inst CollectibleInstance) error {
	f.mu.Lock()
	if f.insertFailures > 0 {
		f.insertFailures--
		f.mu.Unlock()
		return f.err
	}
	f.mu.Unlock()
	return f.memUserStore.InsertCollectibleInstance(ctx, inst)
}

// failingUserStore errors the user upsert while delegating everything else.
type failingUserStore struct {
	*memUserStore
	ensureErr error
}

func (f *failingUserStore) EnsureUser(ctx context.Context, id, email string) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	return f.memUserStore.EnsureUser(ctx, id, email)
}

// failingCatalog errors every lookup, for exercising pre-commit transient
// failure handling.
type failingCatalog struct {
	err error
}

func (f *failingCatalog) ItemByCode(context.Context, string) (*HuntItem, error) {
	return nil, f.err
}

func (f *failingCatalog) CollectiblesByIDs(context.Context, []int64) ([]Collectible, error) {
	return nil, f.err
}

type memPublisher struct {
	mu     sync.Mutex
	events []AttemptEvent
}

func (m *memPublisher) Publish(_ context.Context, event AttemptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memPublisher) byUser(userID string) []AttemptEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AttemptEvent
	for _, e := range m.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memPublisher) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
