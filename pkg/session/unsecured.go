package session

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/vellumhub/matterd/pkg/fabric"
	"github.com/vellumhub/matterd/pkg/message"
)

// UnsecuredContext tracks one PASE/CASE handshake before its encryption
// keys exist: the local role, an ephemeral node ID used to route handshake
// messages, replay state for the unencrypted traffic, and MRP parameters.
//
// See Spec Section 4.13.2.1.
type UnsecuredContext struct {
	role            SessionRole
	ephemeralNodeID fabric.NodeID
	receptionState  *message.ReceptionState
	params          Params

	mu sync.RWMutex
}

// NewUnsecuredContext creates an unsecured handshake context. Initiators
// are assigned a random ephemeral node ID immediately; responders learn
// theirs from the peer's first message via SetEphemeralNodeID.
func NewUnsecuredContext(role SessionRole) (*UnsecuredContext, error) {
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	ctx := &UnsecuredContext{
		role:           role,
		receptionState: message.NewReceptionStateEmpty(),
		params:         DefaultParams(),
	}

	if role == SessionRoleInitiator {
		nodeID, err := generateEphemeralNodeID()
		if err != nil {
			return nil, err
		}
		ctx.ephemeralNodeID = nodeID
	}

	return ctx, nil
}

func (u *UnsecuredContext) Role() SessionRole {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.role
}

func (u *UnsecuredContext) EphemeralNodeID() fabric.NodeID {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ephemeralNodeID
}

func (u *UnsecuredContext) SetEphemeralNodeID(nodeID fabric.NodeID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ephemeralNodeID = nodeID
}

// CheckCounter applies the relaxed duplicate detection Spec 4.6.5.3
// requires for unencrypted messages: counters behind the window are still
// accepted, since they may come from a peer that just rebooted.
func (u *UnsecuredContext) CheckCounter(counter uint32) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.receptionState.CheckUnencrypted(counter)
}

func (u *UnsecuredContext) GetParams() Params {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.params
}

// SetParams is typically called with parameters learned from a DNS-SD TXT record.
func (u *UnsecuredContext) SetParams(params Params) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.params = params.WithDefaults()
}

// generateEphemeralNodeID draws a random node ID within the operational
// range, per Spec 4.13.2.1.
func generateEphemeralNodeID() (fabric.NodeID, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}

	span := uint64(fabric.NodeIDMaxOperational) - uint64(fabric.NodeIDMinOperational)
	nodeID := binary.LittleEndian.Uint64(buf[:])%span + uint64(fabric.NodeIDMinOperational)
	return fabric.NodeID(nodeID), nil
}
