package session

import (
	"sync"
	"time"

	"github.com/vellumhub/matterd/pkg/fabric"
	"github.com/vellumhub/matterd/pkg/message"
)

// Key size constants.
const (
	SessionKeySize   = 16 // I2R/R2I key size for AES-128
	ResumptionIDSize = 16
	MaxCATCount      = 3 // CASE Authenticated Tags stored per session
)

// SecureContext holds the state of one established secure session —
// created by pkg/securechannel once a PASE or CASE handshake completes —
// and does the per-message encrypt/decrypt/replay-check work against it.
//
// It stores the 15 fields Spec Section 4.13.3.1 lists for a session
// entry (type, role, session IDs, keys, shared secret, counters,
// reception state, fabric/peer binding, resumption ID, timestamps,
// MRP parameters), plus up to MaxCATCount CASE Authenticated Tags.
type SecureContext struct {
	sessionType    SessionType
	role           SessionRole
	localSessionID uint16
	peerSessionID  uint16

	i2rKey       []byte
	r2iKey       []byte
	sharedSecret []byte // CASE resumption only; nil for PASE

	encryptCodec *message.Codec
	decryptCodec *message.Codec

	localCounter   *message.SessionCounter
	receptionState *message.ReceptionState

	fabricIndex fabric.FabricIndex // 0 for PASE, pre-AddNOC
	peerNodeID  fabric.NodeID      // 0 for PASE
	localNodeID fabric.NodeID      // 0 for PASE

	resumptionID [ResumptionIDSize]byte

	sessionTimestamp time.Time // last send or receive
	activeTimestamp  time.Time // last receive only, drives PeerActiveMode

	params Params

	caseAuthTags []uint32

	mu sync.RWMutex
}

// SecureContextConfig is the input to NewSecureContext, assembled by
// pkg/securechannel once a handshake yields its derived keys.
type SecureContextConfig struct {
	SessionType    SessionType
	Role           SessionRole
	LocalSessionID uint16
	PeerSessionID  uint16
	I2RKey         []byte
	R2IKey         []byte
	SharedSecret   []byte // optional, CASE resumption only
	FabricIndex    fabric.FabricIndex
	PeerNodeID     fabric.NodeID
	LocalNodeID    fabric.NodeID
	Params         Params
	CaseAuthTags   []uint32
}

// nonceNodeID is the node ID a Codec's AEAD nonce is constructed from.
// PASE sessions predate NOC issuance, so both ends use the unspecified
// node ID (0) regardless of what the config carries.
func nonceNodeID(sessionType SessionType, nodeID fabric.NodeID) uint64 {
	if sessionType == SessionTypePASE {
		return 0
	}
	return uint64(nodeID)
}

func NewSecureContext(config SecureContextConfig) (*SecureContext, error) {
	if !config.SessionType.IsValid() {
		return nil, ErrInvalidSessionType
	}
	if !config.Role.IsValid() {
		return nil, ErrInvalidRole
	}
	if config.LocalSessionID == 0 {
		return nil, ErrInvalidSessionID
	}
	if len(config.I2RKey) != SessionKeySize || len(config.R2IKey) != SessionKeySize {
		return nil, ErrInvalidKey
	}

	localNonceID := nonceNodeID(config.SessionType, config.LocalNodeID)
	peerNonceID := nonceNodeID(config.SessionType, config.PeerNodeID)

	// Initiator encrypts with I2R and decrypts with R2I; responder is the
	// mirror image.
	encryptKey, decryptKey := config.I2RKey, config.R2IKey
	if config.Role == SessionRoleResponder {
		encryptKey, decryptKey = config.R2IKey, config.I2RKey
	}
	encryptCodec, err := message.NewCodec(encryptKey, localNonceID)
	if err != nil {
		return nil, err
	}
	decryptCodec, err := message.NewCodec(decryptKey, peerNonceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ctx := &SecureContext{
		sessionType:      config.SessionType,
		role:             config.Role,
		localSessionID:   config.LocalSessionID,
		peerSessionID:    config.PeerSessionID,
		i2rKey:           make([]byte, SessionKeySize),
		r2iKey:           make([]byte, SessionKeySize),
		encryptCodec:     encryptCodec,
		decryptCodec:     decryptCodec,
		localCounter:     message.NewSessionCounter(),
		receptionState:   message.NewReceptionStateEmpty(),
		fabricIndex:      config.FabricIndex,
		peerNodeID:       config.PeerNodeID,
		localNodeID:      config.LocalNodeID,
		sessionTimestamp: now,
		activeTimestamp:  now,
		params:           config.Params.WithDefaults(),
	}
	copy(ctx.i2rKey, config.I2RKey)
	copy(ctx.r2iKey, config.R2IKey)

	if len(config.SharedSecret) > 0 {
		ctx.sharedSecret = make([]byte, len(config.SharedSecret))
		copy(ctx.sharedSecret, config.SharedSecret)
	}
	if n := min(len(config.CaseAuthTags), MaxCATCount); n > 0 {
		ctx.caseAuthTags = make([]uint32, n)
		copy(ctx.caseAuthTags, config.CaseAuthTags[:n])
	}

	return ctx, nil
}

// LocalSessionID routes incoming messages to this context.
func (s *SecureContext) LocalSessionID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localSessionID
}

// PeerSessionID must be placed in the Session ID field of outgoing messages.
func (s *SecureContext) PeerSessionID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerSessionID
}

func (s *SecureContext) SessionType() SessionType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionType
}

func (s *SecureContext) Role() SessionRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// FabricIndex is 0 for a PASE session before AddNOC.
func (s *SecureContext) FabricIndex() fabric.FabricIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fabricIndex
}

// SetFabricIndex is called once AddNOC completes on a PASE session.
func (s *SecureContext) SetFabricIndex(index fabric.FabricIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fabricIndex = index
}

// PeerNodeID is 0 for a PASE session.
func (s *SecureContext) PeerNodeID() fabric.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerNodeID
}

// LocalNodeID is 0 for a PASE session.
func (s *SecureContext) LocalNodeID() fabric.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localNodeID
}

// Encrypt draws the next outbound counter, stamps header with it and the
// peer's session ID, and seals payload under the session's encrypt codec.
func (s *SecureContext) Encrypt(header *message.MessageHeader, protocol *message.ProtocolHeader, payload []byte, privacy bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, err := s.localCounter.Next()
	if err != nil {
		return nil, ErrCounterExhausted
	}
	header.SessionID = s.peerSessionID
	header.MessageCounter = counter

	encrypted, err := s.encryptCodec.Encode(header, protocol, payload, privacy)
	if err != nil {
		return nil, err
	}
	s.sessionTimestamp = time.Now()
	return encrypted, nil
}

// Decrypt opens an incoming frame and rejects it as a replay unless its
// counter advances the reception state.
func (s *SecureContext) Decrypt(data []byte) (*message.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := s.decryptCodec.Decode(data, nonceNodeID(s.sessionType, s.peerNodeID))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if !s.receptionState.CheckAndAccept(frame.Header.MessageCounter, false) {
		return nil, ErrReplayDetected
	}

	now := time.Now()
	s.sessionTimestamp = now
	s.activeTimestamp = now
	return frame, nil
}

func (s *SecureContext) NextCounter() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, err := s.localCounter.Next()
	if err != nil {
		return 0, ErrCounterExhausted
	}
	return counter, nil
}

// CheckCounter reports whether an incoming counter should be accepted,
// without decrypting anything.
func (s *SecureContext) CheckCounter(counter uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receptionState.CheckAndAccept(counter, false)
}

// IsPeerActive implements Spec 4.13.3.1 field 15d:
// PeerActiveMode = (now - ActiveTimestamp) < ActiveThreshold.
func (s *SecureContext) IsPeerActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.activeTimestamp) < s.params.ActiveThreshold
}

// MarkActivity updates timestamps on message send/receive; pass
// isReceive=true for incoming messages.
func (s *SecureContext) MarkActivity(isReceive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.sessionTimestamp = now
	if isReceive {
		s.activeTimestamp = now
	}
}

func (s *SecureContext) GetParams() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *SecureContext) SetParams(params Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params.WithDefaults()
}

// SetResumptionID stores the ID a completed CASE handshake minted for
// future resumption.
func (s *SecureContext) SetResumptionID(id [ResumptionIDSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumptionID = id
}

func (s *SecureContext) ResumptionID() [ResumptionIDSize]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumptionID
}

// SharedSecret returns a copy of the CASE resumption secret, or nil for PASE.
func (s *SecureContext) SharedSecret() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sharedSecret == nil {
		return nil
	}
	result := make([]byte, len(s.sharedSecret))
	copy(result, s.sharedSecret)
	return result
}

// CaseAuthTags returns a copy of the session's CATs, or nil if none.
func (s *SecureContext) CaseAuthTags() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.caseAuthTags == nil {
		return nil
	}
	result := make([]uint32, len(s.caseAuthTags))
	copy(result, s.caseAuthTags)
	return result
}

func (s *SecureContext) SessionTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionTimestamp
}

func (s *SecureContext) ActiveTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTimestamp
}

// ZeroizeKeys wipes key material and invalidates the codecs; call when
// closing a session.
func (s *SecureContext) ZeroizeKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.i2rKey {
		s.i2rKey[i] = 0
	}
	for i := range s.r2iKey {
		s.r2iKey[i] = 0
	}
	for i := range s.sharedSecret {
		s.sharedSecret[i] = 0
	}

	s.encryptCodec = nil
	s.decryptCodec = nil
}
