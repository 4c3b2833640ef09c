package session

import (
	"sync"

	"github.com/vellumhub/matterd/pkg/fabric"
	"github.com/vellumhub/matterd/pkg/message"
)

// DefaultMaxGroupPeers is the default maximum number of tracked group peers.
const DefaultMaxGroupPeers = 64

// Manager is the main entry point pkg/securechannel and pkg/exchange use
// for session bookkeeping. It owns:
//   - a table of secure session contexts (PASE/CASE)
//   - a table of group peer counters for anti-replay
//   - a global message counter for unsecured messages
type Manager struct {
	secure        *Table
	groupPeers    *GroupPeerTable
	globalCounter *message.GlobalCounter

	mu sync.RWMutex
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// MaxSessions limits concurrent secure sessions. Default: DefaultMaxSessions.
	MaxSessions int

	// MaxGroupPeers limits tracked group message senders. Default: DefaultMaxGroupPeers.
	MaxGroupPeers int
}

func NewManager(config ManagerConfig) *Manager {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	if config.MaxGroupPeers <= 0 {
		config.MaxGroupPeers = DefaultMaxGroupPeers
	}
	return &Manager{
		secure:        NewTable(config.MaxSessions),
		groupPeers:    NewGroupPeerTable(config.MaxGroupPeers),
		globalCounter: message.NewGlobalCounter(),
	}
}

// AllocateSessionID allocates a new unique session ID, or
// ErrSessionTableFull if the table has no room left.
func (m *Manager) AllocateSessionID() (uint16, error) {
	return m.secure.AllocateID()
}

// AddSecureContext registers a context created by a completed PASE/CASE handshake.
func (m *Manager) AddSecureContext(ctx *SecureContext) error {
	return m.secure.Add(ctx)
}

// RemoveSecureContext zeroizes and removes the context for localSessionID,
// a no-op if it isn't present.
func (m *Manager) RemoveSecureContext(localSessionID uint16) {
	if ctx := m.secure.FindByLocalID(localSessionID); ctx != nil {
		ctx.ZeroizeKeys()
	}
	m.secure.Remove(localSessionID)
}

func (m *Manager) FindSecureContext(localSessionID uint16) *SecureContext {
	return m.secure.FindByLocalID(localSessionID)
}

func (m *Manager) FindSecureContextByPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) []*SecureContext {
	return m.secure.FindByPeer(fabricIndex, nodeID)
}

func (m *Manager) FindSecureContextByFabric(fabricIndex fabric.FabricIndex) []*SecureContext {
	return m.secure.FindByFabric(fabricIndex)
}

func (m *Manager) SecureSessionCount() int {
	return m.secure.Count()
}

func (m *Manager) IsSecureTableFull() bool {
	return m.secure.IsFull()
}

// GlobalCounter returns the message counter PASE/CASE handshakes draw
// unsecured message counters from.
func (m *Manager) GlobalCounter() *message.GlobalCounter {
	return m.globalCounter
}

func (m *Manager) NextGlobalCounter() (uint32, error) {
	return m.globalCounter.Next()
}

// CheckGroupCounter applies trust-first anti-replay policy to a group
// message counter, reporting whether the message should be accepted.
func (m *Manager) CheckGroupCounter(fabricIndex fabric.FabricIndex, sourceNodeID fabric.NodeID, counter uint32) bool {
	return m.groupPeers.CheckCounter(fabricIndex, sourceNodeID, counter)
}

func (m *Manager) RemoveGroupPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) {
	m.groupPeers.RemovePeer(fabricIndex, nodeID)
}

// zeroizeAll clears the key material of every context in sessions, the
// step both RemoveFabric and RemovePeer need before discarding them.
func zeroizeAll(sessions []*SecureContext) {
	for _, ctx := range sessions {
		ctx.ZeroizeKeys()
	}
}

// RemoveFabric drops every secure session and group peer tracked on
// fabricIndex, called when the fabric itself is removed from the node.
func (m *Manager) RemoveFabric(fabricIndex fabric.FabricIndex) {
	zeroizeAll(m.secure.FindByFabric(fabricIndex))
	m.secure.RemoveByFabric(fabricIndex)
	m.groupPeers.RemoveFabric(fabricIndex)
}

// RemovePeer drops every secure session and group peer tracking for one
// peer node, called when that peer is removed.
func (m *Manager) RemovePeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) {
	zeroizeAll(m.secure.FindByPeer(fabricIndex, nodeID))
	m.secure.RemoveByPeer(fabricIndex, nodeID)
	m.groupPeers.RemovePeer(fabricIndex, nodeID)
}

// Clear zeroizes and removes every session, resets group peer tracking,
// and starts a fresh global counter.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secure.ForEach(func(ctx *SecureContext) bool {
		ctx.ZeroizeKeys()
		return true
	})
	m.secure.Clear()
	m.groupPeers.Clear()
	m.globalCounter = message.NewGlobalCounter()
}

// ForEachSecureSession calls fn for each secure session until fn returns false.
func (m *Manager) ForEachSecureSession(fn func(*SecureContext) bool) {
	m.secure.ForEach(fn)
}

func (m *Manager) GroupPeerCount() int {
	return m.groupPeers.Count()
}
