package casesession

import (
	"encoding/binary"

	"github.com/vellumhub/matterd/pkg/crypto"
)

// destinationMessage builds the HMAC input for a destination ID candidate:
// initiatorRandom(32) || rootPublicKey(65) || fabricID(8 LE) || nodeID(8 LE).
func destinationMessage(
	initiatorRandom [RandomSize]byte,
	rootPublicKey [crypto.P256PublicKeySizeBytes]byte,
	fabricID uint64,
	nodeID uint64,
) []byte {
	msg := make([]byte, 0, RandomSize+crypto.P256PublicKeySizeBytes+8+8)
	msg = append(msg, initiatorRandom[:]...)
	msg = append(msg, rootPublicKey[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, fabricID)
	msg = binary.LittleEndian.AppendUint64(msg, nodeID)
	return msg
}

// GenerateDestinationID computes the privacy-preserving destination
// identifier a Sigma1 carries, per Section 4.14.2.4.1:
//
//	destinationIdentifier = HMAC-SHA256(key=ipk, message=initiatorRandom||rootPublicKey||fabricID||nodeID)
//
// ipk is the operational group key (derived from an epoch key and the
// compressed fabric ID), not the raw epoch key itself.
func GenerateDestinationID(
	initiatorRandom [RandomSize]byte,
	rootPublicKey [crypto.P256PublicKeySizeBytes]byte,
	fabricID uint64,
	nodeID uint64,
	ipk [crypto.SymmetricKeySize]byte,
) [DestinationIDSize]byte {
	return crypto.HMACSHA256(ipk[:], destinationMessage(initiatorRandom, rootPublicKey, fabricID, nodeID))
}

// GenerateDestinationIDFromEpochKey derives the IPK from epochKey and
// compressedFabricID before computing the destination ID, for callers
// that only have the raw Group Key Set epoch key on hand.
func GenerateDestinationIDFromEpochKey(
	initiatorRandom [RandomSize]byte,
	rootPublicKey [crypto.P256PublicKeySizeBytes]byte,
	fabricID uint64,
	nodeID uint64,
	epochKey [crypto.SymmetricKeySize]byte,
	compressedFabricID [crypto.CompressedFabricIDSize]byte,
) ([DestinationIDSize]byte, error) {
	ipkSlice, err := crypto.DeriveGroupOperationalKeyV1(epochKey[:], compressedFabricID[:])
	if err != nil {
		return [DestinationIDSize]byte{}, err
	}
	var ipk [crypto.SymmetricKeySize]byte
	copy(ipk[:], ipkSlice)
	return GenerateDestinationID(initiatorRandom, rootPublicKey, fabricID, nodeID, ipk), nil
}

// MatchDestinationID reports whether destinationID matches the candidate
// fabric/node/ipk triple. A responder calls this once per installed NOC
// until one matches, to identify which fabric a Sigma1 is targeting
// without the initiator ever naming it directly.
func MatchDestinationID(
	destinationID [DestinationIDSize]byte,
	initiatorRandom [RandomSize]byte,
	rootPublicKey [crypto.P256PublicKeySizeBytes]byte,
	fabricID uint64,
	nodeID uint64,
	ipk [crypto.SymmetricKeySize]byte,
) bool {
	return destinationID == GenerateDestinationID(initiatorRandom, rootPublicKey, fabricID, nodeID, ipk)
}
