package casesession

import "github.com/vellumhub/matterd/pkg/crypto"

// concatHash returns SHA256(parts[0] || parts[1] || ...), the transcript
// hash every CASE key derivation salts with.
func concatHash(parts ...[]byte) [32]byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return crypto.SHA256(buf)
}

// derive16 runs HKDF-SHA256(sharedSecret, salt, info, 16), the shape every
// CASE derived key but the final session-key triple takes.
func derive16(sharedSecret, salt, info []byte) ([crypto.SymmetricKeySize]byte, error) {
	var result [crypto.SymmetricKeySize]byte
	key, err := crypto.HKDFSHA256(sharedSecret, salt, info, crypto.SymmetricKeySize)
	if err != nil {
		return result, err
	}
	copy(result[:], key)
	return result, nil
}

// DeriveS2K derives the key that encrypts TBEData2, salted with the
// transcript hash of Sigma1 so a replayed Sigma1 can never be paired with
// a different Sigma2.
//
//	S2K = HKDF-SHA256(sharedSecret, ipk||responderRandom||responderEphPubKey||SHA256(msg1), "Sigma2", 16)
func DeriveS2K(
	sharedSecret []byte,
	ipk [crypto.SymmetricKeySize]byte,
	responderRandom [RandomSize]byte,
	responderEphPubKey [crypto.P256PublicKeySizeBytes]byte,
	msg1Bytes []byte,
) ([crypto.SymmetricKeySize]byte, error) {
	transcriptHash := crypto.SHA256(msg1Bytes)
	salt := make([]byte, 0, crypto.SymmetricKeySize+RandomSize+crypto.P256PublicKeySizeBytes+crypto.SHA256LenBytes)
	salt = append(salt, ipk[:]...)
	salt = append(salt, responderRandom[:]...)
	salt = append(salt, responderEphPubKey[:]...)
	salt = append(salt, transcriptHash[:]...)
	return derive16(sharedSecret, salt, S2KInfo)
}

// DeriveS3K derives the key that encrypts TBEData3.
//
//	S3K = HKDF-SHA256(sharedSecret, ipk||SHA256(msg1||msg2), "Sigma3", 16)
func DeriveS3K(sharedSecret []byte, ipk [crypto.SymmetricKeySize]byte, msg1Bytes, msg2Bytes []byte) ([crypto.SymmetricKeySize]byte, error) {
	transcriptHash := concatHash(msg1Bytes, msg2Bytes)
	salt := append(append([]byte{}, ipk[:]...), transcriptHash[:]...)
	return derive16(sharedSecret, salt, S3KInfo)
}

// DeriveS1RK derives the key a responder uses to verify a resuming
// Sigma1's InitiatorResumeMIC, over the prior session's shared secret.
//
//	S1RK = HKDF-SHA256(priorSharedSecret, initiatorRandom||resumptionID, "Sigma1_Resume", 16)
func DeriveS1RK(sharedSecret []byte, initiatorRandom [RandomSize]byte, resumptionID [ResumptionIDSize]byte) ([crypto.SymmetricKeySize]byte, error) {
	salt := append(append([]byte{}, initiatorRandom[:]...), resumptionID[:]...)
	return derive16(sharedSecret, salt, S1RKInfo)
}

// DeriveS2RK derives the key used for the Resume2MIC that accompanies
// Sigma2Resume, over the prior session's shared secret and the newly
// minted resumption ID for the session being established.
//
//	S2RK = HKDF-SHA256(priorSharedSecret, initiatorRandom||newResumptionID, "Sigma2_Resume", 16)
func DeriveS2RK(sharedSecret []byte, initiatorRandom [RandomSize]byte, newResumptionID [ResumptionIDSize]byte) ([crypto.SymmetricKeySize]byte, error) {
	salt := append(append([]byte{}, initiatorRandom[:]...), newResumptionID[:]...)
	return derive16(sharedSecret, salt, S2RKInfo)
}

// deriveSessionKeyTriple runs the shared final step both DeriveSessionKeys
// and DeriveResumptionSessionKeys reduce to once their transcript hash is
// known: 48 bytes of HKDF output split into I2R/R2I/attestation-challenge.
func deriveSessionKeyTriple(sharedSecret []byte, ipk [crypto.SymmetricKeySize]byte, transcriptHash [32]byte) (*SessionKeys, error) {
	salt := append(append([]byte{}, ipk[:]...), transcriptHash[:]...)
	keys, err := crypto.HKDFSHA256(sharedSecret, salt, SEKeysInfo, 48)
	if err != nil {
		return nil, err
	}
	result := &SessionKeys{}
	copy(result.I2RKey[:], keys[0:16])
	copy(result.R2IKey[:], keys[16:32])
	copy(result.AttestationChallenge[:], keys[32:48])
	return result, nil
}

// DeriveSessionKeys derives the I2R/R2I/attestation-challenge triple that
// ends a full handshake, over the transcript of all three Sigma messages.
func DeriveSessionKeys(sharedSecret []byte, ipk [crypto.SymmetricKeySize]byte, msg1Bytes, msg2Bytes, msg3Bytes []byte) (*SessionKeys, error) {
	return deriveSessionKeyTriple(sharedSecret, ipk, concatHash(msg1Bytes, msg2Bytes, msg3Bytes))
}

// DeriveResumptionSessionKeys derives the same triple for a resumed
// session, over the transcript of Sigma1 and Sigma2Resume only.
func DeriveResumptionSessionKeys(sharedSecret []byte, ipk [crypto.SymmetricKeySize]byte, msg1Bytes, sigma2ResumeBytes []byte) (*SessionKeys, error) {
	return deriveSessionKeyTriple(sharedSecret, ipk, concatHash(msg1Bytes, sigma2ResumeBytes))
}

// EncryptTBEData seals a TBEData2/TBEData3 payload with AES-128-CCM under
// key and nonce, appending the 16-byte MIC.
func EncryptTBEData(key [crypto.SymmetricKeySize]byte, plaintext, nonce, aad []byte) ([]byte, error) {
	return crypto.AESCCM128Encrypt(key[:], nonce, plaintext, aad)
}

// DecryptTBEData opens a sealed TBEData2/TBEData3 payload, verifying its MIC.
func DecryptTBEData(key [crypto.SymmetricKeySize]byte, ciphertext, nonce, aad []byte) ([]byte, error) {
	return crypto.AESCCM128Decrypt(key[:], nonce, ciphertext, aad)
}

// ComputeResumeMIC computes a resumption MIC as AES-CCM over empty
// plaintext — the ciphertext it produces is the 16-byte tag itself.
func ComputeResumeMIC(key [crypto.SymmetricKeySize]byte, nonce []byte) ([MICSize]byte, error) {
	var result [MICSize]byte
	ciphertext, err := crypto.AESCCM128Encrypt(key[:], nonce, nil, nil)
	if err != nil {
		return result, err
	}
	copy(result[:], ciphertext)
	return result, nil
}

// VerifyResumeMIC reports whether mic matches the tag ComputeResumeMIC
// would produce for key and nonce.
func VerifyResumeMIC(key [crypto.SymmetricKeySize]byte, nonce []byte, mic [MICSize]byte) bool {
	expected, err := ComputeResumeMIC(key, nonce)
	return err == nil && expected == mic
}
