package session

import (
	"sync"

	"github.com/vellumhub/matterd/pkg/fabric"
)

// Session ID constants.
const (
	// MinSessionID is the minimum valid secure session ID.
	// Session ID 0 is reserved for unsecured sessions.
	MinSessionID uint16 = 1

	// MaxSessionID is the maximum valid session ID.
	MaxSessionID uint16 = 0xFFFF

	// DefaultMaxSessions is the default maximum number of concurrent sessions.
	DefaultMaxSessions = 16
)

// Table manages secure session contexts: ID allocation, lookup, and
// lifecycle. IDs are handed out sequentially and wrap at MaxSessionID.
type Table struct {
	sessions    map[uint16]*SecureContext
	maxSessions int
	nextID      uint16

	mu sync.RWMutex
}

// NewTable creates a session table. maxSessions <= 0 uses DefaultMaxSessions.
func NewTable(maxSessions int) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Table{
		sessions:    make(map[uint16]*SecureContext),
		maxSessions: maxSessions,
		nextID:      MinSessionID,
	}
}

// AllocateID returns an unused session ID in [1, 65535].
func (t *Table) AllocateID() (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return 0, ErrSessionTableFull
	}

	startID := t.nextID
	for {
		id := t.nextID
		t.nextID++
		if t.nextID == 0 {
			t.nextID = MinSessionID
		}
		if _, exists := t.sessions[id]; !exists {
			return id, nil
		}
		if t.nextID == startID {
			return 0, ErrSessionIDExhausted
		}
	}
}

// Add registers ctx under its LocalSessionID, which must be unique and non-zero.
func (t *Table) Add(ctx *SecureContext) error {
	if ctx == nil {
		return ErrInvalidSessionID
	}
	id := ctx.LocalSessionID()
	if id == 0 {
		return ErrInvalidSessionID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return ErrSessionTableFull
	}
	if _, exists := t.sessions[id]; exists {
		return ErrDuplicateSession
	}
	t.sessions[id] = ctx
	return nil
}

// Remove deletes a session context; a no-op if it isn't present.
func (t *Table) Remove(localSessionID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, localSessionID)
}

func (t *Table) FindByLocalID(id uint16) *SecureContext {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// matches filters the table under a read lock, used by the by-peer and
// by-fabric lookups below.
func (t *Table) matches(predicate func(*SecureContext) bool) []*SecureContext {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []*SecureContext
	for _, ctx := range t.sessions {
		if predicate(ctx) {
			result = append(result, ctx)
		}
	}
	return result
}

// removeMatching deletes every session for which predicate holds, under a
// write lock, and reports how many were removed.
func (t *Table) removeMatching(predicate func(*SecureContext) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for id, ctx := range t.sessions {
		if predicate(ctx) {
			delete(t.sessions, id)
			count++
		}
	}
	return count
}

func isPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) func(*SecureContext) bool {
	return func(ctx *SecureContext) bool {
		return ctx.FabricIndex() == fabricIndex && ctx.PeerNodeID() == nodeID
	}
}

func isFabric(fabricIndex fabric.FabricIndex) func(*SecureContext) bool {
	return func(ctx *SecureContext) bool {
		return ctx.FabricIndex() == fabricIndex
	}
}

// FindByPeer returns every session to nodeID on fabricIndex.
func (t *Table) FindByPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) []*SecureContext {
	return t.matches(isPeer(fabricIndex, nodeID))
}

// FindByFabric returns every session on fabricIndex.
func (t *Table) FindByFabric(fabricIndex fabric.FabricIndex) []*SecureContext {
	return t.matches(isFabric(fabricIndex))
}

func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions) >= t.maxSessions
}

func (t *Table) MaxSessions() int {
	return t.maxSessions
}

// Clear drops every session without zeroizing keys; call ZeroizeKeys on
// each session first if that matters to the caller.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[uint16]*SecureContext)
}

// ForEach calls fn for each session until fn returns false. fn must not
// modify the table.
func (t *Table) ForEach(fn func(*SecureContext) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ctx := range t.sessions {
		if !fn(ctx) {
			return
		}
	}
}

// RemoveByFabric removes every session on fabricIndex, returning the count removed.
func (t *Table) RemoveByFabric(fabricIndex fabric.FabricIndex) int {
	return t.removeMatching(isFabric(fabricIndex))
}

// RemoveByPeer removes every session to nodeID on fabricIndex, returning the count removed.
func (t *Table) RemoveByPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) int {
	return t.removeMatching(isPeer(fabricIndex, nodeID))
}
