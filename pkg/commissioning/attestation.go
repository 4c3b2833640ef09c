// Device attestation artifacts for commissioning.
//
// The fetcher interface mirrors what a commissioner asks the device for
// during attestation: the Certification Declaration, the PAI and DAC
// certificates, and the DAC key pair the device signs attestation
// challenges with. Production devices back this with secure storage; the
// example fetcher ships the Matter test vendor (0xFFF1) development
// certificates so a stack can be commissioned out of the box.

package commissioning

import (
	"encoding/hex"
	"errors"
	"strings"
)

// AttestationDataKind identifies one attestation artifact.
type AttestationDataKind int

const (
	// AttestationCertDeclaration is the CMS-signed Certification Declaration.
	AttestationCertDeclaration AttestationDataKind = iota

	// AttestationPAI is the Product Attestation Intermediate certificate (DER).
	AttestationPAI

	// AttestationDAC is the Device Attestation Certificate (DER).
	AttestationDAC

	// AttestationDACPublicKey is the DAC subject public key (uncompressed P-256 point).
	AttestationDACPublicKey

	// AttestationDACPrivateKey is the DAC private key (P-256 scalar).
	AttestationDACPrivateKey
)

var attestationDataKindNames = [...]string{
	"CertDeclaration", "PAI", "DAC", "DACPublicKey", "DACPrivateKey",
}

// String returns a human-readable name for the data kind.
func (k AttestationDataKind) String() string {
	if k < 0 || int(k) >= len(attestationDataKindNames) {
		return "Unknown"
	}
	return attestationDataKindNames[k]
}

// ErrAttestationNoSpace indicates the caller's buffer cannot hold the artifact.
var ErrAttestationNoSpace = errors.New("commissioning: attestation buffer too small")

// ErrAttestationUnknownKind indicates an unrecognized artifact kind.
var ErrAttestationUnknownKind = errors.New("commissioning: unknown attestation data kind")

// AttestationFetcher supplies device attestation artifacts.
// Implementations copy the requested artifact into out and return the
// number of bytes written.
type AttestationFetcher interface {
	AttestationData(kind AttestationDataKind, out []byte) (int, error)
}

// ExampleAttestation serves the hard-coded Matter test vendor (0xFFF1)
// development certificates. Never ship these on a production device.
type ExampleAttestation struct{}

// NewExampleAttestation creates the development attestation fetcher.
func NewExampleAttestation() *ExampleAttestation {
	return &ExampleAttestation{}
}

// AttestationData implements AttestationFetcher.
func (e *ExampleAttestation) AttestationData(kind AttestationDataKind, out []byte) (int, error) {
	var src []byte
	switch kind {
	case AttestationCertDeclaration:
		src = certDeclaration
	case AttestationPAI:
		src = paiCert
	case AttestationDAC:
		src = dacCert
	case AttestationDACPublicKey:
		src = dacPublicKey
	case AttestationDACPrivateKey:
		src = dacPrivateKey
	default:
		return 0, ErrAttestationUnknownKind
	}
	if len(src) > len(out) {
		return 0, ErrAttestationNoSpace
	}
	return copy(out, src), nil
}

// mustHex decodes a whitespace-separated hex blob at package init.
func mustHex(s string) []byte {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, " ", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// paiCert is the example Product Attestation Intermediate certificate (DER).
var paiCert = mustHex(`
308201cb30820171a003020102020856ad8222ad945b64300a06082a8648ce3d
04030230303118301606035504030c0f4d617474657220546573742050414131
143012060a2b0601040182a27c02010c04464646313020170d32323032303530
30303030305a180f39393939313233313233353935395a303d31253023060355
04030c1c4d6174746572204465762050414920307846464631206e6f20504944
31143012060a2b0601040182a27c02010c04464646313059301306072a8648ce
3d020106082a8648ce3d03010703420004419a9315c2173e0c8c876d03ccfc94
4852647f7fec5e5082f4059928eca894c594151309ac631e4cb03392af684b0b
afb7e65b3b8162c2f52bf931b8e77aaa82a366306430120603551d130101ff04
0830060101ff020100300e0603551d0f0101ff040403020106301d0603551d0e
0416041463540e47f64b1c38d13884a462d16c195d8ffb3c301f0603551d2304
18301680146afd22771f511fecbf1641976710dcdc31a1717e300a06082a8648
ce3d0403020348003045022100b2ef27f49ae9b50fb91eeac94c4d0bdbb8d792
9c6cb88face529368d12054c0c0220655dc92b86bd909882a6c62177b825d7d0
5edbe7c22f9fea71220e7ea703f891
`)

// dacCert is the example Device Attestation Certificate (DER).
var dacCert = mustHex(`
308201e83082018ea003020102020852724d21e2c174af300a06082a8648ce3d
040302303d3125302306035504030c1c4d617474657220446576205041492030
7846464631206e6f2050494431143012060a2b0601040182a27c02010c044646
46313020170d3232303230353030303030305a180f3939393931323331323335
3935395a30533125302306035504030c1c4d6174746572204465762044414320
3078464646312f30783830303231143012060a2b0601040182a27c02010c0446
46463131143012060a2b0601040182a27c02020c04383030323059301306072a
8648ce3d020106082a8648ce3d03010703420004da93f16736256750d903b034
ba4588abaf58954f77aa9fd9989dfd400d7ab3fdc9753b3b921b294c950fd9d2
80d14c43862f16dc854b00ed39e750babf1dc4caa360305e300c0603551d1301
01ff04023000300e0603551d0f0101ff040403020780301d0603551d0e041604
14ef0656119c1c91a79a94e6dcf37979dbd07ff8a3301f0603551d2304183016
801463540e47f64b1c38d13884a462d16c195d8ffb3c300a06082a8648ce3d04
0302034800304502204686810733bf0dc8ff4cb5145a6bfa1aecffa8b6dab6c3
51aaeecdafb8be957d022100e8c28d6bfcc87a7d542ead6edaca148d5fa5061e
517cbe4f24a720e1c059de1a
`)

// dacPublicKey is the uncompressed P-256 public key of the DAC.
var dacPublicKey = mustHex(`
04da93f16736256750d903b034ba4588abaf58954f77aa9fd9989dfd400d7ab3
fdc9753b3b921b294c950fd9d280d14c43862f16dc854b00ed39e750babf1dc4
ca
`)

// dacPrivateKey is the P-256 private scalar matching dacPublicKey.
var dacPrivateKey = mustHex(`
daf21a7ea47a704802a7e66c50eb10bac3bdd16880398066ffdad7f52098b685
`)

// certDeclaration is the CMS-signed Certification Declaration.
var certDeclaration = mustHex(`
3082021906092a864886f70d010702a082020a30820206020103310d300b0609
6086480165030402013082017106092a864886f70d010701a08201620482015e
152400012501f1ff360205008005018005028005038005048005058005068005
0780050880050980050a80050b80050c80050d80050e80050f80051080051180
051280051380051480051580051680051780051880051980051a80051b80051c
80051d80051e80051f8005208005218005228005238005248005258005268005
2780052880052980052a80052b80052c80052d80052e80052f80053080053180
053280053380053480053580053680053780053880053980053a80053b80053c
80053d80053e80053f8005408005418005428005438005448005458005468005
4780054880054980054a80054b80054c80054d80054e80054f80055080055180
055280055380055480055580055680055780055880055980055a80055b80055c
80055d80055e80055f80056080056180056280056380182403162c04135a4947
32303134325a423333303030332d32342405002406002507942624080018317d
307b020103801462fa823359acfaa9963e1cfa140addf504f37160300b060960
8648016503040201300a06082a8648ce3d04030204473045022024e5d1f47a7d
7b0d206a26ef699b7c9757b72d469089de3192e678c745e7f60c022100f8aa2f
a711fcb79b97e397ceda667bae464e2bd3ffdfc3cced7aa8ca5f4c1a7c
`)
