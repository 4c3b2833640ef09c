package session

import (
	"sync"

	"github.com/vellumhub/matterd/pkg/fabric"
	"github.com/vellumhub/matterd/pkg/message"
)

// GroupContext holds ephemeral state for one received group message: it is
// built per-message from the Group Key Management cluster's operational
// key and discarded after processing, unlike the long-lived SecureContext.
//
// See Spec Section 4.16.1.
type GroupContext struct {
	sourceNodeID   fabric.NodeID
	fabricIndex    fabric.FabricIndex
	groupID        uint16
	groupSessionID uint16

	codec *message.Codec
}

// GroupContextConfig configures a GroupContext for processing one message.
type GroupContextConfig struct {
	SourceNodeID   fabric.NodeID
	FabricIndex    fabric.FabricIndex
	GroupID        uint16
	GroupSessionID uint16
	OperationalKey []byte // 16 bytes, from Group Key Management
}

func NewGroupContext(config GroupContextConfig) (*GroupContext, error) {
	if len(config.OperationalKey) != SessionKeySize {
		return nil, ErrInvalidKey
	}

	codec, err := message.NewCodec(config.OperationalKey, uint64(config.SourceNodeID))
	if err != nil {
		return nil, err
	}

	return &GroupContext{
		sourceNodeID:   config.SourceNodeID,
		fabricIndex:    config.FabricIndex,
		groupID:        config.GroupID,
		groupSessionID: config.GroupSessionID,
		codec:          codec,
	}, nil
}

func (g *GroupContext) SourceNodeID() fabric.NodeID { return g.sourceNodeID }

func (g *GroupContext) FabricIndex() fabric.FabricIndex { return g.fabricIndex }

func (g *GroupContext) GroupID() uint16 { return g.groupID }

// GroupSessionID is derived from the operational group key.
func (g *GroupContext) GroupSessionID() uint16 { return g.groupSessionID }

// Decrypt opens an incoming group message and returns its protocol header
// and payload.
func (g *GroupContext) Decrypt(data []byte) (*message.Frame, error) {
	frame, err := g.codec.Decode(data, uint64(g.sourceNodeID))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return frame, nil
}

// groupPeerKey identifies a group message sender; peers are tracked
// per-fabric since the same NodeID may appear on more than one fabric.
type groupPeerKey struct {
	fabricIndex fabric.FabricIndex
	nodeID      fabric.NodeID
}

// GroupPeerTable tracks per-peer counters for group messages under the
// trust-first policy of Spec 4.6.5.2.2: a peer's first message is accepted
// unconditionally to establish its counter baseline, and every message
// after that is checked with rollover allowed.
type GroupPeerTable struct {
	peers    map[groupPeerKey]*message.ReceptionState
	maxPeers int

	mu sync.RWMutex
}

// NewGroupPeerTable creates a tracking table; maxPeers <= 0 means unlimited.
func NewGroupPeerTable(maxPeers int) *GroupPeerTable {
	return &GroupPeerTable{
		peers:    make(map[groupPeerKey]*message.ReceptionState),
		maxPeers: maxPeers,
	}
}

// CheckCounter reports whether counter should be accepted from sourceNodeID
// under trust-first policy, allocating a new baseline on first contact.
func (t *GroupPeerTable) CheckCounter(fabricIndex fabric.FabricIndex, sourceNodeID fabric.NodeID, counter uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := groupPeerKey{fabricIndex: fabricIndex, nodeID: sourceNodeID}

	state, exists := t.peers[key]
	if !exists {
		if t.maxPeers > 0 && len(t.peers) >= t.maxPeers {
			return false
		}
		t.peers[key] = message.NewReceptionState(counter)
		return true
	}

	return state.CheckAndAccept(counter, true)
}

func (t *GroupPeerTable) RemovePeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, groupPeerKey{fabricIndex: fabricIndex, nodeID: nodeID})
}

// RemoveFabric drops tracking for every peer on fabricIndex.
func (t *GroupPeerTable) RemoveFabric(fabricIndex fabric.FabricIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.peers {
		if key.fabricIndex == fabricIndex {
			delete(t.peers, key)
		}
	}
}

func (t *GroupPeerTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *GroupPeerTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = make(map[groupPeerKey]*message.ReceptionState)
}
