package pase

import (
	"crypto/elliptic"
	"encoding/binary"
	"math/big"

	"github.com/vellumhub/matterd/pkg/crypto"
	"github.com/vellumhub/matterd/pkg/crypto/spake2p"
)

// Verifier holds the PASE verifier values a commissionee derives once from
// its passcode and stores for the life of the commissioning window: W0 lets
// it participate in SPAKE2+ without ever handling the raw passcode again,
// and L lets it check the commissioner's proof of knowledge.
type Verifier struct {
	W0 []byte // 32 bytes, w0s mod p
	L  []byte // 65 bytes, L = w1*P (uncompressed point)
}

// p256 is the curve every PASE point/scalar operation runs over.
var p256 = elliptic.P256()

// maxPasscode is the largest representable 8-digit setup code.
const maxPasscode = 99999999

// blockedPasscodes lists the values Section 5.1.7 forbids: repeated-digit
// runs and both orderings of the sequential run.
var blockedPasscodes = map[uint32]bool{
	0: true, 11111111: true, 22222222: true, 33333333: true, 44444444: true,
	55555555: true, 66666666: true, 77777777: true, 88888888: true, 99999999: true,
	12345678: true, 87654321: true,
}

// ValidatePasscode rejects passcodes outside the 8-digit range or matching
// one of the disallowed weak patterns.
func ValidatePasscode(passcode uint32) error {
	if passcode > maxPasscode {
		return ErrInvalidPasscode
	}
	if blockedPasscodes[passcode] {
		return ErrInvalidPasscode
	}
	return nil
}

func validatePBKDFParams(salt []byte, iterations uint32) error {
	if len(salt) < PBKDFMinSaltLength || len(salt) > PBKDFMaxSaltLength {
		return ErrInvalidSalt
	}
	if iterations < PBKDFMinIterations || iterations > PBKDFMaxIterations {
		return ErrInvalidIterations
	}
	return nil
}

// GenerateVerifier derives the (W0, L) pair a commissionee stores for a
// given passcode, per Matter Specification Section 3.10:
//
//	ws          = PBKDF2-SHA256(passcode_le, salt, iterations, 80)
//	w0s, w1s    = ws[0:40], ws[40:80]
//	w0, w1      = w0s mod p, w1s mod p
//	L           = w1 * P
func GenerateVerifier(passcode uint32, salt []byte, iterations uint32) (*Verifier, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	if err := validatePBKDFParams(salt, iterations); err != nil {
		return nil, err
	}

	w0, w1, err := ComputeW0W1(passcode, salt, iterations)
	if err != nil {
		return nil, err
	}
	l, err := basePointMultiply(w1)
	if err != nil {
		return nil, err
	}
	return &Verifier{W0: w0, L: l}, nil
}

// ComputeW0W1 runs the PBKDF2 + mod-p reduction step shared by verifier
// generation and the commissioner side, which derives the same scalars
// from the passcode it was given out of band.
func ComputeW0W1(passcode uint32, salt []byte, iterations uint32) (w0, w1 []byte, err error) {
	var passcodeLE [4]byte
	binary.LittleEndian.PutUint32(passcodeLE[:], passcode)

	ws := crypto.PBKDF2SHA256(passcodeLE[:], salt, int(iterations), 2*spake2p.WsSizeBytes)
	w0 = reduceModP(ws[:spake2p.WsSizeBytes])
	w1 = reduceModP(ws[spake2p.WsSizeBytes:])
	return w0, w1, nil
}

// reduceModP reduces a 40-byte big-endian value modulo the P-256 group
// order, the bias-resistant reduction RFC 9383 specifies, returning a
// fixed-width 32-byte scalar.
func reduceModP(ws []byte) []byte {
	v := new(big.Int).SetBytes(ws)
	v.Mod(v, p256.Params().N)

	out := make([]byte, spake2p.GroupSizeBytes)
	v.FillBytes(out)
	return out
}

// basePointMultiply computes scalar*P and encodes the result as an
// uncompressed SEC1 point.
func basePointMultiply(scalar []byte) ([]byte, error) {
	x, y := p256.ScalarBaseMult(scalar)

	point := make([]byte, spake2p.PointSizeBytes)
	point[0] = 0x04
	x.FillBytes(point[1:33])
	y.FillBytes(point[33:65])
	return point, nil
}

// Serialize concatenates W0 and L into the 97-byte form PASE persists.
func (v *Verifier) Serialize() []byte {
	out := make([]byte, spake2p.GroupSizeBytes+spake2p.PointSizeBytes)
	copy(out[:spake2p.GroupSizeBytes], v.W0)
	copy(out[spake2p.GroupSizeBytes:], v.L)
	return out
}

// DeserializeVerifier parses the concatenated form Serialize produces.
func DeserializeVerifier(data []byte) (*Verifier, error) {
	if len(data) != spake2p.GroupSizeBytes+spake2p.PointSizeBytes {
		return nil, ErrInvalidMessage
	}
	v := &Verifier{
		W0: make([]byte, spake2p.GroupSizeBytes),
		L:  make([]byte, spake2p.PointSizeBytes),
	}
	copy(v.W0, data[:spake2p.GroupSizeBytes])
	copy(v.L, data[spake2p.GroupSizeBytes:])
	return v, nil
}
