// Package grants holds temporary, per-tool permission grants. A grant is
// bounded either by a wall-clock deadline or by a use count, and every check
// that consumes a use is atomic per tool name.
package grants

import (
	"context"
	"sync"
	"time"
)

// Kind distinguishes the two grant flavors.
type Kind string

const (
	// KindTime bounds a grant by a deadline.
	KindTime Kind = "time"
	// KindIterations bounds a grant by a remaining use count.
	KindIterations Kind = "iterations"
)

// DenialReason explains why a check against an existing grant failed.
type DenialReason string

const (
	// DenialNone means no grant existed for the tool.
	DenialNone DenialReason = ""
	// TimeExpired means the grant's deadline passed.
	TimeExpired DenialReason = "time_expired"
	// IterationsExhausted means the grant's uses ran out.
	IterationsExhausted DenialReason = "iterations_exhausted"
)

// grant is the stored ledger entry for one tool name.
type grant struct {
	kind          Kind
	expiresAt     time.Time
	remainingUses int
	grantedAt     time.Time
}

// Info is a read-only snapshot of a live grant.
type Info struct {
	// Kind reports whether the grant is time- or use-bounded.
	Kind Kind
	// ExpiresAt is set for time-bounded grants.
	ExpiresAt time.Time
	// RemainingUses is set for use-bounded grants.
	RemainingUses int
	// GrantedAt is when the grant was installed.
	GrantedAt time.Time
}

// Tracker is a concurrency-safe ledger of temporary grants keyed by tool name.
// Consumption is serialized through a lazily created, never-removed lock per
// tool name so different tools never contend with each other.
type Tracker struct {
	mu     sync.Mutex
	grants map[string]*grant
	locks  map[string]*sync.Mutex
	// now is swappable in tests.
	now func() time.Time
}

// NewTracker constructs an empty grant ledger.
func NewTracker() *Tracker {
	return &Tracker{
		grants: map[string]*grant{},
		locks:  map[string]*sync.Mutex{},
		now:    time.Now,
	}
}

// toolLock returns the per-tool mutex, creating it on first use.
func (t *Tracker) toolLock(tool string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[tool]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[tool] = lock
	}
	return lock
}

// getGrant reads the ledger entry under the map mutex.
func (t *Tracker) getGrant(tool string) *grant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.grants[tool]
}

// setGrant installs a ledger entry under the map mutex.
func (t *Tracker) setGrant(tool string, entry *grant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.grants[tool] = entry
}

// deleteGrant removes a ledger entry under the map mutex.
func (t *Tracker) deleteGrant(tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.grants, tool)
}

// GrantTimeBased installs a grant valid until now+duration, unconditionally
// replacing any prior grant for the tool. A non-positive duration is accepted
// and produces a grant that reports TimeExpired on its first check.
func (t *Tracker) GrantTimeBased(tool string, duration time.Duration) {
	lock := t.toolLock(tool)
	lock.Lock()
	defer lock.Unlock()
	now := t.now()
	t.setGrant(tool, &grant{
		kind:      KindTime,
		expiresAt: now.Add(duration),
		grantedAt: now,
	})
}

// GrantIterationBased installs a grant good for the given number of uses,
// unconditionally replacing any prior grant for the tool. Non-positive uses
// are accepted and exhaust on the first check.
func (t *Tracker) GrantIterationBased(tool string, uses int) {
	lock := t.toolLock(tool)
	lock.Lock()
	defer lock.Unlock()
	t.setGrant(tool, &grant{
		kind:          KindIterations,
		remainingUses: uses,
		grantedAt:     t.now(),
	})
}

// CheckAndReserveIteration is the sole mutating check. For a time-bounded
// grant it only reads the deadline; for a use-bounded grant it atomically
// consumes one use. Expired or exhausted grants are deleted lazily here.
func (t *Tracker) CheckAndReserveIteration(tool string) (bool, DenialReason) {
	lock := t.toolLock(tool)
	lock.Lock()
	defer lock.Unlock()

	entry := t.getGrant(tool)
	if entry == nil {
		return false, DenialNone
	}

	switch entry.kind {
	case KindTime:
		if t.now().Before(entry.expiresAt) {
			return true, DenialNone
		}
		t.deleteGrant(tool)
		return false, TimeExpired
	default:
		if entry.remainingUses <= 0 {
			t.deleteGrant(tool)
			return false, IterationsExhausted
		}
		entry.remainingUses--
		return true, DenialNone
	}
}

// RemainingInfo returns a snapshot of the tool's grant, or nil when no grant
// exists or the grant is already expired or exhausted. It never mutates state.
func (t *Tracker) RemainingInfo(tool string) *Info {
	lock := t.toolLock(tool)
	lock.Lock()
	defer lock.Unlock()

	entry := t.getGrant(tool)
	if entry == nil {
		return nil
	}
	if entry.kind == KindTime && !t.now().Before(entry.expiresAt) {
		return nil
	}
	if entry.kind == KindIterations && entry.remainingUses <= 0 {
		return nil
	}
	return &Info{
		Kind:          entry.kind,
		ExpiresAt:     entry.expiresAt,
		RemainingUses: entry.remainingUses,
		GrantedAt:     entry.grantedAt,
	}
}

// CleanupExpired sweeps time-bounded grants past their deadline. Expiry is
// re-checked under the tool's lock right before deletion so a concurrent
// re-grant between snapshot and delete is never lost.
func (t *Tracker) CleanupExpired() int {
	t.mu.Lock()
	names := make([]string, 0, len(t.grants))
	for name := range t.grants {
		names = append(names, name)
	}
	t.mu.Unlock()

	removed := 0
	for _, name := range names {
		lock := t.toolLock(name)
		lock.Lock()
		entry := t.getGrant(name)
		if entry != nil && entry.kind == KindTime && !t.now().Before(entry.expiresAt) {
			t.deleteGrant(name)
			removed++
		}
		lock.Unlock()
	}
	return removed
}

// StartSweeper runs CleanupExpired on a ticker until the context is done.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.CleanupExpired()
			}
		}
	}()
}
