package pase

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"
	"sync"

	"github.com/vellumhub/matterd/pkg/crypto"
	"github.com/vellumhub/matterd/pkg/crypto/spake2p"
)

// Role is which side of the PASE exchange a Session plays.
type Role int

const (
	RoleInitiator Role = iota // commissioner, knows the passcode
	RoleResponder             // commissionee, holds the verifier
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// State steps through the PBKDFParamRequest/Response, Pake1/2/3, and
// StatusReport exchange in order; StateFailed is reachable from any
// waiting state once a confirmation check fails.
type State int

const (
	StateInit State = iota
	StateWaitingPBKDFResponse
	StateWaitingPake1
	StateWaitingPake2
	StateWaitingPake3
	StateWaitingStatusReport
	StateComplete
	StateFailed
)

func (s State) String() string {
	names := [...]string{
		"Init", "WaitingPBKDFResponse", "WaitingPake1", "WaitingPake2",
		"WaitingPake3", "WaitingStatusReport", "Complete", "Failed",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// Session drives one side of a PASE handshake end to end. Construct one
// with NewInitiator/NewInitiatorWithParams (commissioner) or NewResponder
// (commissionee), feed it each incoming message, send back what it
// returns, and read SessionKeys() once State() reports StateComplete.
type Session struct {
	mu   sync.Mutex
	role Role

	state State

	passcode   uint32    // set for RoleInitiator
	verifier   *Verifier // set for RoleResponder
	salt       []byte
	iterations uint32

	localSessionID uint16
	peerSessionID  uint16

	localRandom [RandomSize]byte
	peerRandom  [RandomSize]byte

	commissioningHash []byte // SHA-256(ContextPrefix || req || resp)
	spake             *spake2p.SPAKE2P

	pbkdfReqBytes  []byte
	pbkdfRespBytes []byte

	sessionKeys *SessionKeys

	localMRPParams *MRPParameters
	peerMRPParams  *MRPParameters

	rand io.Reader // overridable for tests
}

func NewInitiator(passcode uint32) (*Session, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	return &Session{role: RoleInitiator, state: StateInit, passcode: passcode, rand: rand.Reader}, nil
}

// NewInitiatorWithParams is for an initiator that already has the salt and
// iteration count out of band, skipping the responder round trip that
// would otherwise supply them.
func NewInitiatorWithParams(passcode uint32, salt []byte, iterations uint32) (*Session, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	if err := validatePBKDFParams(salt, iterations); err != nil {
		return nil, err
	}
	return &Session{
		role: RoleInitiator, state: StateInit,
		passcode: passcode, salt: cloneBytes(salt), iterations: iterations,
		rand: rand.Reader,
	}, nil
}

func NewResponder(verifier *Verifier, salt []byte, iterations uint32) (*Session, error) {
	if verifier == nil {
		return nil, ErrInvalidMessage
	}
	if err := validatePBKDFParams(salt, iterations); err != nil {
		return nil, err
	}
	return &Session{
		role: RoleResponder, state: StateInit,
		verifier: verifier, salt: cloneBytes(salt), iterations: iterations,
		rand: rand.Reader,
	}, nil
}

// requireRoleState is the guard every handshake step starts with: wrong
// role or wrong state both mean the caller is driving the state machine
// out of order.
func (s *Session) requireRoleState(role Role, state State) error {
	if s.role != role || s.state != state {
		return ErrInvalidState
	}
	return nil
}

// Start issues the PBKDFParamRequest (initiator only).
func (s *Session) Start(localSessionID uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleInitiator, StateInit); err != nil {
		return nil, err
	}
	s.localSessionID = localSessionID
	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return nil, err
	}

	req := &PBKDFParamRequest{
		InitiatorRandom:    s.localRandom,
		InitiatorSessionID: localSessionID,
		PasscodeID:         DefaultPasscodeID,
		HasPBKDFParameters: s.salt != nil && s.iterations > 0,
		MRPParams:          s.localMRPParams,
	}
	data, err := req.Encode()
	if err != nil {
		return nil, err
	}

	s.pbkdfReqBytes = data
	s.state = StateWaitingPBKDFResponse
	return data, nil
}

// HandlePBKDFParamRequest answers a PBKDFParamRequest with a
// PBKDFParamResponse (responder only), and sets up the SPAKE2+ verifier
// side once the transcript context is known.
func (s *Session) HandlePBKDFParamRequest(data []byte, localSessionID uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleResponder, StateInit); err != nil {
		return nil, err
	}

	req, err := DecodePBKDFParamRequest(data)
	if err != nil {
		return nil, err
	}
	if req.PasscodeID != DefaultPasscodeID {
		return nil, ErrInvalidPasscodeID
	}

	s.pbkdfReqBytes = data
	s.localSessionID = localSessionID
	s.peerSessionID = req.InitiatorSessionID
	s.peerRandom = req.InitiatorRandom
	s.peerMRPParams = req.MRPParams

	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return nil, err
	}

	resp := &PBKDFParamResponse{
		InitiatorRandom:    req.InitiatorRandom,
		ResponderRandom:    s.localRandom,
		ResponderSessionID: localSessionID,
		MRPParams:          s.localMRPParams,
	}
	if !req.HasPBKDFParameters {
		resp.PBKDFParams = &PBKDFParameters{Iterations: s.iterations, Salt: s.salt}
	}

	respData, err := resp.Encode()
	if err != nil {
		return nil, err
	}
	s.pbkdfRespBytes = respData

	if err := s.computeContext(); err != nil {
		return nil, err
	}
	s.spake, err = spake2p.NewVerifier(s.commissioningHash, nil, nil, s.verifier.W0, s.verifier.L)
	if err != nil {
		return nil, err
	}

	s.state = StateWaitingPake1
	return respData, nil
}

// HandlePBKDFParamResponse answers a PBKDFParamResponse with Pake1
// (initiator only), setting up the SPAKE2+ prover side.
func (s *Session) HandlePBKDFParamResponse(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleInitiator, StateWaitingPBKDFResponse); err != nil {
		return nil, err
	}

	resp, err := DecodePBKDFParamResponse(data)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(resp.InitiatorRandom[:], s.localRandom[:]) != 1 {
		return nil, ErrRandomMismatch
	}

	s.pbkdfRespBytes = data
	s.peerSessionID = resp.ResponderSessionID
	s.peerRandom = resp.ResponderRandom
	s.peerMRPParams = resp.MRPParams

	if s.salt == nil && resp.PBKDFParams != nil {
		s.salt = resp.PBKDFParams.Salt
		s.iterations = resp.PBKDFParams.Iterations
	}
	if s.salt == nil || s.iterations == 0 {
		return nil, ErrInvalidMessage
	}

	if err := s.computeContext(); err != nil {
		return nil, err
	}
	w0, w1, err := ComputeW0W1(s.passcode, s.salt, s.iterations)
	if err != nil {
		return nil, err
	}
	s.spake, err = spake2p.NewProver(s.commissioningHash, nil, nil, w0, w1)
	if err != nil {
		return nil, err
	}

	shareA, err := s.spake.GenerateShare()
	if err != nil {
		return nil, err
	}
	data, err = (&Pake1{PA: shareA}).Encode()
	if err != nil {
		return nil, err
	}

	s.state = StateWaitingPake2
	return data, nil
}

// HandlePake1 answers Pake1 with Pake2 (responder only).
func (s *Session) HandlePake1(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleResponder, StateWaitingPake1); err != nil {
		return nil, err
	}

	pake1, err := DecodePake1(data)
	if err != nil {
		return nil, err
	}

	shareB, err := s.spake.GenerateShare()
	if err != nil {
		return nil, err
	}
	if err := s.spake.ProcessPeerShare(pake1.PA); err != nil {
		return nil, err
	}
	confirmB, err := s.spake.Confirmation()
	if err != nil {
		return nil, err
	}

	data, err = (&Pake2{PB: shareB, CB: confirmB}).Encode()
	if err != nil {
		return nil, err
	}

	s.state = StateWaitingPake3
	return data, nil
}

// HandlePake2 answers Pake2 with Pake3 (initiator only).
func (s *Session) HandlePake2(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleInitiator, StateWaitingPake2); err != nil {
		return nil, err
	}

	pake2, err := DecodePake2(data)
	if err != nil {
		return nil, err
	}
	if err := s.spake.ProcessPeerShare(pake2.PB); err != nil {
		return nil, err
	}
	if err := s.spake.VerifyPeerConfirmation(pake2.CB); err != nil {
		return nil, ErrConfirmationFailed
	}

	confirmA, err := s.spake.Confirmation()
	if err != nil {
		return nil, err
	}
	data, err = (&Pake3{CA: confirmA}).Encode()
	if err != nil {
		return nil, err
	}

	s.state = StateWaitingStatusReport
	return data, nil
}

// HandlePake3 verifies the initiator's confirmation (responder only),
// completing the handshake. The caller encodes the success/error status
// report with securechannel helpers; this method only reports success.
func (s *Session) HandlePake3(data []byte) (statusReport []byte, success bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleResponder, StateWaitingPake3); err != nil {
		return nil, false, err
	}

	pake3, err := DecodePake3(data)
	if err != nil {
		return nil, false, err
	}
	if err := s.spake.VerifyPeerConfirmation(pake3.CA); err != nil {
		s.state = StateFailed
		return nil, false, ErrConfirmationFailed
	}
	if err := s.deriveSessionKeys(); err != nil {
		return nil, false, err
	}

	s.state = StateComplete
	return nil, true, nil
}

// HandleStatusReport completes the handshake on the initiator side once
// the responder's StatusReport is decoded by the caller.
func (s *Session) HandleStatusReport(isSuccess bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleInitiator, StateWaitingStatusReport); err != nil {
		return err
	}
	if !isSuccess {
		s.state = StateFailed
		return ErrInvalidStatusReport
	}
	if err := s.deriveSessionKeys(); err != nil {
		return err
	}
	s.state = StateComplete
	return nil
}

// computeContext hashes the transcript prefix so far into the
// commissioning hash that seeds SPAKE2+ on both sides:
// SHA256(ContextPrefix || PBKDFParamRequest || PBKDFParamResponse).
func (s *Session) computeContext() error {
	h := sha256.New()
	h.Write([]byte(ContextPrefix))
	h.Write(s.pbkdfReqBytes)
	h.Write(s.pbkdfRespBytes)
	s.commissioningHash = h.Sum(nil)
	return nil
}

// deriveSessionKeys expands the SPAKE2+ shared secret into the I2R, R2I,
// and attestation-challenge keys: HKDF-SHA256(Ke, salt=nil,
// info="SessionKeys", 48).
func (s *Session) deriveSessionKeys() error {
	ke := s.spake.SharedSecret()
	if len(ke) == 0 {
		return ErrSessionNotReady
	}
	expanded, err := crypto.HKDFSHA256(ke, nil, []byte("SessionKeys"), 48)
	if err != nil {
		return err
	}

	keys := &SessionKeys{}
	copy(keys.I2RKey[:], expanded[0:16])
	copy(keys.R2IKey[:], expanded[16:32])
	copy(keys.AttestationChallenge[:], expanded[32:48])
	s.sessionKeys = keys
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Role() Role {
	return s.role
}

// SessionKeys returns the derived keys, or nil before StateComplete.
func (s *Session) SessionKeys() *SessionKeys {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateComplete {
		return nil
	}
	return s.sessionKeys
}

func (s *Session) LocalSessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSessionID
}

func (s *Session) PeerSessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerSessionID
}

// SetLocalMRPParams must be called before Start (initiator) or
// HandlePBKDFParamRequest (responder) to have the params reflected in the
// outgoing message.
func (s *Session) SetLocalMRPParams(params *MRPParameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localMRPParams = params
}

func (s *Session) PeerMRPParams() *MRPParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerMRPParams
}

// SetRandom overrides the random source; tests use this for determinism.
func (s *Session) SetRandom(r io.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rand = r
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
