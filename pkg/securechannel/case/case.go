// Package casesession implements CASE (Certificate Authenticated Session
// Establishment), the Sigma protocol used to establish secure sessions
// between already-commissioned Matter nodes using their operational
// certificates. It mutually authenticates both ends and derives the
// session's encryption keys.
//
// Two flows share the same message types:
//   - Full handshake: Sigma1 → Sigma2 → Sigma3 → StatusReport
//   - Resumption:      Sigma1 (+resumption fields) → Sigma2Resume
//
// Spec References:
//   - Section 4.14.2: Certificate Authenticated Session Establishment (CASE)
//   - Section 4.14.2.3: Protocol Details (Sigma1/2/3 message flows)
//   - Section 4.14.2.4: Field Descriptions (Destination Identifier)
//   - Section 4.14.2.6: Key Derivation
package casesession

import "errors"

// Size constants for CASE message fields.
const (
	RandomSize        = 32 // initiator/responder random
	ResumptionIDSize  = 16
	MICSize           = 16 // AEAD MIC
	DestinationIDSize = 32 // SHA-256 output
	SessionKeySize    = 16
)

// AEAD nonces, one per encrypted field across the handshake.
var (
	Sigma2Nonce  = []byte("NCASE_Sigma2N")
	Sigma3Nonce  = []byte("NCASE_Sigma3N")
	Resume1Nonce = []byte("NCASE_SigmaS1")
	Resume2Nonce = []byte("NCASE_SigmaS2")
)

// HKDF info strings for each derived key.
var (
	S2KInfo    = []byte("Sigma2")
	S3KInfo    = []byte("Sigma3")
	S1RKInfo   = []byte("Sigma1_Resume")
	S2RKInfo   = []byte("Sigma2_Resume")
	SEKeysInfo = []byte("SessionKeys")
)

// Role identifies which side of the handshake a Session plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

var roleNames = [...]string{"Initiator", "Responder"}

func (r Role) String() string {
	if int(r) < 0 || int(r) >= len(roleNames) {
		return "Unknown"
	}
	return roleNames[r]
}

// State is the CASE handshake state machine.
type State int

const (
	StateInit State = iota
	StateWaitingSigma2
	StateWaitingSigma2Resume
	StateWaitingSigma3
	StateWaitingStatusReport
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	"Init",
	"WaitingSigma2",
	"WaitingSigma2Resume",
	"WaitingSigma3",
	"WaitingStatusReport",
	"Complete",
	"Failed",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// SessionKeys are the keys a completed CASE exchange hands to the Secure
// Channel layer.
type SessionKeys struct {
	I2RKey               [SessionKeySize]byte
	R2IKey               [SessionKeySize]byte
	AttestationChallenge [SessionKeySize]byte
}

// ResumptionInfo is what a node persists about a completed session so a
// later reconnect can skip the full certificate handshake.
type ResumptionInfo struct {
	ResumptionID [ResumptionIDSize]byte
	SharedSecret []byte
	PeerNodeID   uint64
	PeerCATs     []uint32
}

// PeerCertInfo is what ValidatePeerCertChainFunc extracts from a verified
// peer certificate chain.
type PeerCertInfo struct {
	NodeID    uint64
	FabricID  uint64
	PublicKey [65]byte // uncompressed SEC1 point
}

// ValidatePeerCertChainFunc verifies the peer's NOC (and ICAC, if present)
// chains to trustedRootPubKey and returns the identity it asserts. Callers
// plug in their own trust store and TLV cert parser; a nil validator
// skips verification, which callers should only do in tests.
type ValidatePeerCertChainFunc func(
	noc []byte,
	icac []byte,
	trustedRootPubKey [65]byte,
) (*PeerCertInfo, error)

// Errors returned by CASE operations.
var (
	ErrInvalidState            = errors.New("case: invalid state for operation")
	ErrNoSharedRoot            = errors.New("case: no shared trust roots")
	ErrInvalidDestination      = errors.New("case: invalid destination identifier")
	ErrInvalidCertificate      = errors.New("case: certificate validation failed")
	ErrSignatureInvalid        = errors.New("case: signature verification failed")
	ErrDecryptionFailed        = errors.New("case: decryption failed")
	ErrResumptionFailed        = errors.New("case: session resumption failed")
	ErrInvalidResumeMIC        = errors.New("case: invalid resumption MIC")
	ErrInvalidMessage          = errors.New("case: invalid message format")
	ErrInvalidRandom           = errors.New("case: invalid random size")
	ErrMissingResumptionField  = errors.New("case: resumption requires both resumptionID and initiatorResumeMIC")
	ErrInvalidStatusReport     = errors.New("case: received failure status report")
	ErrSessionNotReady         = errors.New("case: session not yet established")
)
