package casesession

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/vellumhub/matterd/pkg/crypto"
	"github.com/vellumhub/matterd/pkg/fabric"
)

// FabricLookupFunc resolves the Sigma1 DestinationID (computed per fabric
// candidate from destinationID/initiatorRandom) to the fabric the
// initiator is actually targeting.
type FabricLookupFunc func(
	destinationID [DestinationIDSize]byte,
	initiatorRandom [RandomSize]byte,
) (*fabric.FabricInfo, *crypto.P256KeyPair, error)

// ResumptionLookupFunc resolves a Sigma1 resumption ID to the prior
// session's shared secret and fabric, or ok=false if it's unknown/expired.
type ResumptionLookupFunc func(
	resumptionID [ResumptionIDSize]byte,
) (sharedSecret []byte, fabricInfo *fabric.FabricInfo, operationalKey *crypto.P256KeyPair, ok bool)

// Session drives one side of a CASE handshake.
//
// Initiator: NewInitiator → Start → HandleSigma2 (or HandleSigma2Resume) →
// HandleStatusReport → SessionKeys.
// Responder: NewResponder → HandleSigma1 → [HandleSigma3 unless resumed] →
// SessionKeys.
type Session struct {
	mu   sync.Mutex
	role Role

	state State

	fabricInfo     *fabric.FabricInfo
	operationalKey *crypto.P256KeyPair
	targetNodeID   uint64 // initiator only

	fabricLookup     FabricLookupFunc     // responder only
	resumptionLookup ResumptionLookupFunc // responder only

	// certValidator checks the peer's NOC/ICAC chain against our trusted
	// root and returns the bound node ID/public key. Nil skips validation
	// entirely — acceptable in tests, never in production.
	certValidator ValidatePeerCertChainFunc

	localSessionID uint16
	peerSessionID  uint16

	localRandom [RandomSize]byte
	peerRandom  [RandomSize]byte

	ephKeyPair    *crypto.P256KeyPair
	peerEphPubKey [crypto.P256PublicKeySizeBytes]byte

	sharedSecret []byte
	ipk          [crypto.SymmetricKeySize]byte

	resumptionInfo  *ResumptionInfo // initiator's prior session, if resuming
	newResumptionID [ResumptionIDSize]byte

	msg1Bytes []byte
	msg2Bytes []byte
	msg3Bytes []byte

	sessionKeys    *SessionKeys
	usedResumption bool

	peerNOC    []byte
	peerICAC   []byte
	peerNodeID uint64

	localMRPParams *MRPParameters
	peerMRPParams  *MRPParameters

	rand io.Reader
}

// NewInitiator creates a CASE session that will open a connection to
// targetNodeID, authenticating with operationalKey under fabricInfo.
func NewInitiator(fabricInfo *fabric.FabricInfo, operationalKey *crypto.P256KeyPair, targetNodeID uint64) *Session {
	return &Session{
		role:           RoleInitiator,
		state:          StateInit,
		fabricInfo:     fabricInfo,
		operationalKey: operationalKey,
		targetNodeID:   targetNodeID,
		ipk:            deriveIPK(fabricInfo),
		rand:           rand.Reader,
	}
}

// NewResponder creates a CASE session that answers an incoming Sigma1,
// resolving the target fabric via fabricLookup and optionally accepting
// resumption via resumptionLookup.
func NewResponder(fabricLookup FabricLookupFunc, resumptionLookup ResumptionLookupFunc) *Session {
	return &Session{
		role:             RoleResponder,
		state:            StateInit,
		fabricLookup:     fabricLookup,
		resumptionLookup: resumptionLookup,
		rand:             rand.Reader,
	}
}

func deriveIPK(fabricInfo *fabric.FabricInfo) [crypto.SymmetricKeySize]byte {
	ipkSlice, _ := crypto.DeriveGroupOperationalKeyV1(fabricInfo.IPK[:], fabricInfo.CompressedFabricID[:])
	var ipk [crypto.SymmetricKeySize]byte
	copy(ipk[:], ipkSlice)
	return ipk
}

// WithResumption arms an initiator session to attempt resuming info's
// prior session instead of a full handshake.
func (s *Session) WithResumption(info *ResumptionInfo) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumptionInfo = info
	return s
}

func (s *Session) WithMRPParams(params *MRPParameters) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localMRPParams = params
	return s
}

// WithCertValidator installs the peer certificate chain check; without
// one, certificate validation and signature verification are both
// skipped, which is acceptable only for tests.
func (s *Session) WithCertValidator(validator ValidatePeerCertChainFunc) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certValidator = validator
	return s
}

// requireRoleState guards every handshake step against being driven out
// of order or from the wrong side.
func (s *Session) requireRoleState(method string, role Role, state State) error {
	if s.role != role {
		return fmt.Errorf("%w: %s() only valid for %s", ErrInvalidState, method, role)
	}
	if s.state != state {
		return fmt.Errorf("%w: %s() expected %s state, got %s", ErrInvalidState, method, state, s.state)
	}
	return nil
}

// Start issues Sigma1 (initiator only).
func (s *Session) Start(localSessionID uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState("Start", RoleInitiator, StateInit); err != nil {
		return nil, err
	}
	s.localSessionID = localSessionID

	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return nil, fmt.Errorf("failed to generate random: %w", err)
	}
	var err error
	s.ephKeyPair, err = crypto.P256GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	var rootPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(rootPubKey[:], s.fabricInfo.RootPublicKey[:])
	destinationID := GenerateDestinationID(s.localRandom, rootPubKey, uint64(s.fabricInfo.FabricID), s.targetNodeID, s.ipk)

	sigma1 := &Sigma1{
		InitiatorRandom:    s.localRandom,
		InitiatorSessionID: s.localSessionID,
		DestinationID:      destinationID,
		MRPParams:          s.localMRPParams,
	}
	copy(sigma1.InitiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

	if s.resumptionInfo != nil {
		sigma1.ResumptionID = &s.resumptionInfo.ResumptionID
		s1rk, err := DeriveS1RK(s.resumptionInfo.SharedSecret, s.localRandom, s.resumptionInfo.ResumptionID)
		if err != nil {
			return nil, fmt.Errorf("failed to derive S1RK: %w", err)
		}
		mic, err := ComputeResumeMIC(s1rk, Resume1Nonce)
		if err != nil {
			return nil, fmt.Errorf("failed to compute Resume1MIC: %w", err)
		}
		sigma1.InitiatorResumeMIC = &mic
	}

	msg1Bytes, err := sigma1.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Sigma1: %w", err)
	}
	s.msg1Bytes = msg1Bytes

	if s.resumptionInfo != nil {
		s.state = StateWaitingSigma2Resume
	} else {
		s.state = StateWaitingSigma2
	}
	return msg1Bytes, nil
}

// HandleSigma1 answers Sigma1 with Sigma2 or Sigma2Resume (responder
// only), preferring resumption when the peer offered a valid resumption
// ID and MIC.
func (s *Session) HandleSigma1(data []byte, localSessionID uint16) (response []byte, isResumption bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState("HandleSigma1", RoleResponder, StateInit); err != nil {
		return nil, false, err
	}

	sigma1, err := DecodeSigma1(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode Sigma1: %w", err)
	}
	if (sigma1.ResumptionID != nil) != (sigma1.InitiatorResumeMIC != nil) {
		return nil, false, ErrMissingResumptionField
	}

	s.msg1Bytes = data
	s.localSessionID = localSessionID
	s.peerSessionID = sigma1.InitiatorSessionID
	s.peerRandom = sigma1.InitiatorRandom
	s.peerMRPParams = sigma1.MRPParams
	copy(s.peerEphPubKey[:], sigma1.InitiatorEphPubKey[:])

	if sigma1.ResumptionID != nil {
		if resp, ok, err := s.tryResume(sigma1); ok {
			return resp, true, err
		}
		// Resumption lookup missed or MIC didn't verify; fall through to a
		// full handshake.
	}

	fabricInfo, operationalKey, err := s.fabricLookup(sigma1.DestinationID, sigma1.InitiatorRandom)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrNoSharedRoot, err)
	}
	s.fabricInfo = fabricInfo
	s.operationalKey = operationalKey
	s.ipk = deriveIPK(fabricInfo)

	resp, err := s.generateSigma2(sigma1)
	return resp, false, err
}

// tryResume attempts session resumption for an incoming Sigma1 that
// carried a resumption ID. ok reports whether resumption applies at all
// (lookup hit and MIC verified) — the caller falls back to a full
// handshake when ok is false, regardless of err.
func (s *Session) tryResume(sigma1 *Sigma1) (response []byte, ok bool, err error) {
	if s.resumptionLookup == nil {
		return nil, false, nil
	}
	sharedSecret, fabricInfo, operationalKey, found := s.resumptionLookup(*sigma1.ResumptionID)
	if !found {
		return nil, false, nil
	}
	s1rk, err := DeriveS1RK(sharedSecret, sigma1.InitiatorRandom, *sigma1.ResumptionID)
	if err != nil || !VerifyResumeMIC(s1rk, Resume1Nonce, *sigma1.InitiatorResumeMIC) {
		return nil, false, nil
	}

	s.fabricInfo = fabricInfo
	s.operationalKey = operationalKey
	s.sharedSecret = sharedSecret
	s.ipk = deriveIPK(fabricInfo)

	resp, err := s.generateSigma2Resume(sigma1)
	return resp, true, err
}

func (s *Session) generateSigma2(sigma1 *Sigma1) ([]byte, error) {
	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return nil, fmt.Errorf("failed to generate random: %w", err)
	}
	var err error
	s.ephKeyPair, err = crypto.P256GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	if _, err := io.ReadFull(s.rand, s.newResumptionID[:]); err != nil {
		return nil, fmt.Errorf("failed to generate resumption ID: %w", err)
	}

	s.sharedSecret, err = crypto.P256ECDH(s.ephKeyPair, sigma1.InitiatorEphPubKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	var responderEphPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(responderEphPubKey[:], s.ephKeyPair.P256PublicKey())

	tbsData2 := &TBSData2{
		ResponderNOC:       s.fabricInfo.NOC,
		ResponderICAC:      s.fabricInfo.ICAC,
		ResponderEphPubKey: responderEphPubKey,
		InitiatorEphPubKey: sigma1.InitiatorEphPubKey,
	}
	tbsData2Bytes, err := tbsData2.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode TBSData2: %w", err)
	}
	signature, err := crypto.P256Sign(s.operationalKey, tbsData2Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign TBSData2: %w", err)
	}

	tbeData2 := &TBEData2{
		ResponderNOC:  s.fabricInfo.NOC,
		ResponderICAC: s.fabricInfo.ICAC,
		ResumptionID:  s.newResumptionID,
	}
	copy(tbeData2.Signature[:], signature)
	tbeData2Bytes, err := tbeData2.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode TBEData2: %w", err)
	}

	s2k, err := DeriveS2K(s.sharedSecret, s.ipk, s.localRandom, responderEphPubKey, s.msg1Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive S2K: %w", err)
	}
	encrypted2, err := EncryptTBEData(s2k, tbeData2Bytes, Sigma2Nonce, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TBEData2: %w", err)
	}

	sigma2 := &Sigma2{
		ResponderRandom:    s.localRandom,
		ResponderSessionID: s.localSessionID,
		ResponderEphPubKey: responderEphPubKey,
		Encrypted2:         encrypted2,
		MRPParams:          s.localMRPParams,
	}
	msg2Bytes, err := sigma2.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Sigma2: %w", err)
	}
	s.msg2Bytes = msg2Bytes
	s.state = StateWaitingSigma3
	return msg2Bytes, nil
}

func (s *Session) generateSigma2Resume(sigma1 *Sigma1) ([]byte, error) {
	if _, err := io.ReadFull(s.rand, s.newResumptionID[:]); err != nil {
		return nil, fmt.Errorf("failed to generate resumption ID: %w", err)
	}

	s2rk, err := DeriveS2RK(s.sharedSecret, sigma1.InitiatorRandom, s.newResumptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive S2RK: %w", err)
	}
	resume2MIC, err := ComputeResumeMIC(s2rk, Resume2Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to compute Resume2MIC: %w", err)
	}

	sigma2Resume := &Sigma2Resume{
		ResumptionID:       s.newResumptionID,
		Resume2MIC:         resume2MIC,
		ResponderSessionID: s.localSessionID,
		MRPParams:          s.localMRPParams,
	}
	msg2Bytes, err := sigma2Resume.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Sigma2Resume: %w", err)
	}
	s.msg2Bytes = msg2Bytes
	s.usedResumption = true

	s.sessionKeys, err = DeriveResumptionSessionKeys(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session keys: %w", err)
	}
	s.state = StateComplete
	return msg2Bytes, nil
}

// HandleSigma2 answers Sigma2 with Sigma3 (initiator only).
func (s *Session) HandleSigma2(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleInitiator {
		return nil, fmt.Errorf("%w: HandleSigma2() only valid for initiator", ErrInvalidState)
	}
	// A session armed for resumption may still receive a plain Sigma2 if
	// the responder couldn't resume; accept it from either waiting state.
	if s.state != StateWaitingSigma2 && s.state != StateWaitingSigma2Resume {
		return nil, fmt.Errorf("%w: expected WaitingSigma2 state, got %s", ErrInvalidState, s.state)
	}

	sigma2, err := DecodeSigma2(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Sigma2: %w", err)
	}

	s.msg2Bytes = data
	s.peerSessionID = sigma2.ResponderSessionID
	s.peerRandom = sigma2.ResponderRandom
	s.peerMRPParams = sigma2.MRPParams
	copy(s.peerEphPubKey[:], sigma2.ResponderEphPubKey[:])

	s.sharedSecret, err = crypto.P256ECDH(s.ephKeyPair, sigma2.ResponderEphPubKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	s2k, err := DeriveS2K(s.sharedSecret, s.ipk, sigma2.ResponderRandom, sigma2.ResponderEphPubKey, s.msg1Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive S2K: %w", err)
	}
	tbeData2Bytes, err := DecryptTBEData(s2k, sigma2.Encrypted2, Sigma2Nonce, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	tbeData2, err := DecodeTBEData2(tbeData2Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TBEData2: %w", err)
	}

	s.peerNOC = tbeData2.ResponderNOC
	s.peerICAC = tbeData2.ResponderICAC
	s.newResumptionID = tbeData2.ResumptionID

	if s.certValidator != nil {
		if err := s.verifySigma2Signature(sigma2, tbeData2); err != nil {
			return nil, err
		}
	}
	return s.generateSigma3()
}

// verifySigma2Signature validates the responder's certificate chain and
// TBSData2 signature, populating s.peerNodeID on success.
func (s *Session) verifySigma2Signature(sigma2 *Sigma2, tbeData2 *TBEData2) error {
	peerCertInfo, err := s.certValidator(tbeData2.ResponderNOC, tbeData2.ResponderICAC, s.fabricInfo.RootPublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if peerCertInfo.NodeID != s.targetNodeID {
		return fmt.Errorf("%w: peer node ID %d does not match target %d", ErrInvalidCertificate, peerCertInfo.NodeID, s.targetNodeID)
	}
	s.peerNodeID = peerCertInfo.NodeID

	var initiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(initiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

	tbsData2 := &TBSData2{
		ResponderNOC:       tbeData2.ResponderNOC,
		ResponderICAC:      tbeData2.ResponderICAC,
		ResponderEphPubKey: sigma2.ResponderEphPubKey,
		InitiatorEphPubKey: initiatorEphPubKey,
	}
	tbsData2Bytes, err := tbsData2.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode TBSData2 for verification: %w", err)
	}
	valid, err := crypto.P256Verify(peerCertInfo.PublicKey[:], tbsData2Bytes, tbeData2.Signature[:])
	if err != nil || !valid {
		return fmt.Errorf("%w: TBSData2 signature verification failed", ErrSignatureInvalid)
	}
	return nil
}

func (s *Session) generateSigma3() ([]byte, error) {
	var initiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(initiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

	tbsData3 := &TBSData3{
		InitiatorNOC:       s.fabricInfo.NOC,
		InitiatorICAC:      s.fabricInfo.ICAC,
		InitiatorEphPubKey: initiatorEphPubKey,
		ResponderEphPubKey: s.peerEphPubKey,
	}
	tbsData3Bytes, err := tbsData3.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode TBSData3: %w", err)
	}
	signature, err := crypto.P256Sign(s.operationalKey, tbsData3Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign TBSData3: %w", err)
	}

	tbeData3 := &TBEData3{InitiatorNOC: s.fabricInfo.NOC, InitiatorICAC: s.fabricInfo.ICAC}
	copy(tbeData3.Signature[:], signature)
	tbeData3Bytes, err := tbeData3.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode TBEData3: %w", err)
	}

	s3k, err := DeriveS3K(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive S3K: %w", err)
	}
	encrypted3, err := EncryptTBEData(s3k, tbeData3Bytes, Sigma3Nonce, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TBEData3: %w", err)
	}

	msg3Bytes, err := (&Sigma3{Encrypted3: encrypted3}).Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Sigma3: %w", err)
	}
	s.msg3Bytes = msg3Bytes
	s.state = StateWaitingStatusReport
	return msg3Bytes, nil
}

// HandleSigma2Resume completes a resumed handshake (initiator only).
func (s *Session) HandleSigma2Resume(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState("HandleSigma2Resume", RoleInitiator, StateWaitingSigma2Resume); err != nil {
		return err
	}
	if s.resumptionInfo == nil {
		return fmt.Errorf("%w: no resumption info available", ErrResumptionFailed)
	}

	sigma2Resume, err := DecodeSigma2Resume(data)
	if err != nil {
		return fmt.Errorf("failed to decode Sigma2Resume: %w", err)
	}

	s.msg2Bytes = data
	s.peerSessionID = sigma2Resume.ResponderSessionID
	s.peerMRPParams = sigma2Resume.MRPParams
	s.newResumptionID = sigma2Resume.ResumptionID
	s.sharedSecret = s.resumptionInfo.SharedSecret

	s2rk, err := DeriveS2RK(s.sharedSecret, s.localRandom, sigma2Resume.ResumptionID)
	if err != nil {
		return fmt.Errorf("failed to derive S2RK: %w", err)
	}
	if !VerifyResumeMIC(s2rk, Resume2Nonce, sigma2Resume.Resume2MIC) {
		return ErrInvalidResumeMIC
	}

	s.sessionKeys, err = DeriveResumptionSessionKeys(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes)
	if err != nil {
		return fmt.Errorf("failed to derive session keys: %w", err)
	}
	s.usedResumption = true
	s.state = StateComplete
	return nil
}

// HandleSigma3 completes a full handshake (responder only).
func (s *Session) HandleSigma3(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState("HandleSigma3", RoleResponder, StateWaitingSigma3); err != nil {
		return err
	}

	sigma3, err := DecodeSigma3(data)
	if err != nil {
		return fmt.Errorf("failed to decode Sigma3: %w", err)
	}
	s.msg3Bytes = data

	s3k, err := DeriveS3K(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes)
	if err != nil {
		return fmt.Errorf("failed to derive S3K: %w", err)
	}
	tbeData3Bytes, err := DecryptTBEData(s3k, sigma3.Encrypted3, Sigma3Nonce, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	tbeData3, err := DecodeTBEData3(tbeData3Bytes)
	if err != nil {
		return fmt.Errorf("failed to decode TBEData3: %w", err)
	}

	s.peerNOC = tbeData3.InitiatorNOC
	s.peerICAC = tbeData3.InitiatorICAC

	if s.certValidator != nil {
		if err := s.verifySigma3Signature(tbeData3); err != nil {
			return err
		}
	}

	s.sessionKeys, err = DeriveSessionKeys(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes, s.msg3Bytes)
	if err != nil {
		return fmt.Errorf("failed to derive session keys: %w", err)
	}
	s.state = StateComplete
	return nil
}

// verifySigma3Signature validates the initiator's certificate chain and
// TBSData3 signature, populating s.peerNodeID on success.
func (s *Session) verifySigma3Signature(tbeData3 *TBEData3) error {
	peerCertInfo, err := s.certValidator(tbeData3.InitiatorNOC, tbeData3.InitiatorICAC, s.fabricInfo.RootPublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if peerCertInfo.FabricID != uint64(s.fabricInfo.FabricID) {
		return fmt.Errorf("%w: peer fabric ID %d does not match expected %d", ErrInvalidCertificate, peerCertInfo.FabricID, s.fabricInfo.FabricID)
	}
	s.peerNodeID = peerCertInfo.NodeID

	var responderEphPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(responderEphPubKey[:], s.ephKeyPair.P256PublicKey())

	tbsData3 := &TBSData3{
		InitiatorNOC:       tbeData3.InitiatorNOC,
		InitiatorICAC:      tbeData3.InitiatorICAC,
		InitiatorEphPubKey: s.peerEphPubKey,
		ResponderEphPubKey: responderEphPubKey,
	}
	tbsData3Bytes, err := tbsData3.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode TBSData3 for verification: %w", err)
	}
	valid, err := crypto.P256Verify(peerCertInfo.PublicKey[:], tbsData3Bytes, tbeData3.Signature[:])
	if err != nil || !valid {
		return fmt.Errorf("%w: TBSData3 signature verification failed", ErrSignatureInvalid)
	}
	return nil
}

// HandleStatusReport completes the handshake on the initiator side after a
// full (non-resumed) Sigma3 round trip.
func (s *Session) HandleStatusReport(success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState("HandleStatusReport", RoleInitiator, StateWaitingStatusReport); err != nil {
		return err
	}
	if !success {
		s.state = StateFailed
		return ErrInvalidStatusReport
	}

	var err error
	s.sessionKeys, err = DeriveSessionKeys(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes, s.msg3Bytes)
	if err != nil {
		return fmt.Errorf("failed to derive session keys: %w", err)
	}
	s.state = StateComplete
	return nil
}

// SessionKeys returns the derived keys; only valid once State() is
// StateComplete.
func (s *Session) SessionKeys() (*SessionKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateComplete {
		return nil, ErrSessionNotReady
	}
	return s.sessionKeys, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
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

func (s *Session) UsedResumption() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedResumption
}

// ResumptionID returns the resumption ID this session minted for future
// reconnection.
func (s *Session) ResumptionID() [ResumptionIDSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newResumptionID
}

// SharedSecret returns a copy of the ECDH shared secret, for callers that
// persist it to support later resumption.
func (s *Session) SharedSecret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret := make([]byte, len(s.sharedSecret))
	copy(secret, s.sharedSecret)
	return secret
}

func (s *Session) PeerMRPParams() *MRPParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerMRPParams
}

// PeerNodeID returns the operational node ID the peer's certificate
// chain asserted, populated once certValidator has run.
func (s *Session) PeerNodeID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerNodeID
}

// FabricIndex returns the local fabric table index the session is
// operating under.
func (s *Session) FabricIndex() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fabricInfo == nil {
		return 0
	}
	return uint8(s.fabricInfo.FabricIndex)
}

// PeerCATs returns the peer's CASE Authenticated Tags carried over from
// resumption, or nil for a fresh full handshake.
func (s *Session) PeerCATs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumptionInfo == nil {
		return nil
	}
	return s.resumptionInfo.PeerCATs
}
