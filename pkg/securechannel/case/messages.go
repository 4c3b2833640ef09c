package casesession

import (
	"bytes"
	"io"

	"github.com/vellumhub/matterd/pkg/crypto"
	"github.com/vellumhub/matterd/pkg/securechannel/messages"
	"github.com/vellumhub/matterd/pkg/tlv"
)

// TLV context tags for CASE messages. Each struct's tags restart at 1;
// only fields within the same structure need to be distinct.
const (
	tagSigma1InitiatorRandom        = 1
	tagSigma1InitiatorSessionID     = 2
	tagSigma1DestinationID          = 3
	tagSigma1InitiatorEphPubKey     = 4
	tagSigma1InitiatorSessionParams = 5
	tagSigma1ResumptionID           = 6
	tagSigma1InitiatorResumeMIC     = 7

	tagSigma2ResponderRandom        = 1
	tagSigma2ResponderSessionID     = 2
	tagSigma2ResponderEphPubKey     = 3
	tagSigma2Encrypted2             = 4
	tagSigma2ResponderSessionParams = 5

	tagSigma3Encrypted3 = 1

	tagSigma2ResumeResumptionID           = 1
	tagSigma2ResumeResponderMIC           = 2
	tagSigma2ResumeResponderSessionID     = 3
	tagSigma2ResumeResponderSessionParams = 4

	tagTBEData2ResponderNOC  = 1
	tagTBEData2ResponderICAC = 2
	tagTBEData2Signature     = 3
	tagTBEData2ResumptionID  = 4

	tagTBSData2ResponderNOC       = 1
	tagTBSData2ResponderICAC      = 2
	tagTBSData2ResponderEphPubKey = 3
	tagTBSData2InitiatorEphPubKey = 4

	tagTBEData3InitiatorNOC  = 1
	tagTBEData3InitiatorICAC = 2
	tagTBEData3Signature     = 3

	tagTBSData3InitiatorNOC       = 1
	tagTBSData3InitiatorICAC      = 2
	tagTBSData3InitiatorEphPubKey = 3
	tagTBSData3ResponderEphPubKey = 4
)

// MRP parameter tags (SessionParameterStruct) — shared with PASE.
const (
	tagMRPIdleRetrans   = 1
	tagMRPActiveRetrans = 2
	tagMRPActiveThresh  = 4
)

// MRPParameters is the optional MRP timing advertisement carried on
// Sigma1/Sigma2/Sigma2Resume. A zero field means "not present".
type MRPParameters struct {
	IdleRetransTimeout   uint32
	ActiveRetransTimeout uint32
	ActiveThreshold      uint16
}

// enterAnonymousStruct opens a reader over data, checks it leads with an
// anonymous structure, and enters it so forEachField can walk the members.
func enterAnonymousStruct(data []byte) (*tlv.Reader, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if r.Type() != tlv.ElementTypeStruct {
		return nil, ErrInvalidMessage
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	return r, nil
}

// forEachField walks the members of a just-entered structure, calling fn
// with each context tag's number. Non-context tags are skipped. Does not
// exit the container — callers match the original asymmetry of leaving
// top-level messages unexited while nested structures (MRPParameters) do
// exit, since that is what the wire reader state downstream expects.
func forEachField(r *tlv.Reader, fn func(tagNum uint64) error) error {
	for {
		err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if r.Type() == tlv.ElementTypeEnd {
			return nil
		}
		tag := r.Tag()
		if !tag.IsContext() {
			continue
		}
		if err := fn(uint64(tag.TagNumber())); err != nil {
			return err
		}
	}
}

func readFixedBytes(r *tlv.Reader, dst []byte) error {
	v, err := r.Bytes()
	if err != nil {
		return err
	}
	if len(v) != len(dst) {
		return ErrInvalidMessage
	}
	copy(dst, v)
	return nil
}

// Sigma1 is the first CASE message, sent by the initiator.
type Sigma1 struct {
	InitiatorRandom    [RandomSize]byte
	InitiatorSessionID uint16
	DestinationID      [DestinationIDSize]byte
	InitiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
	MRPParams          *MRPParameters

	// ResumptionID and InitiatorResumeMIC are both present or both absent.
	ResumptionID       *[ResumptionIDSize]byte
	InitiatorResumeMIC *[MICSize]byte
}

// HasResumption reports whether s carries a resumption attempt.
func (s *Sigma1) HasResumption() bool {
	return s.ResumptionID != nil && s.InitiatorResumeMIC != nil
}

func (s *Sigma1) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma1InitiatorRandom), s.InitiatorRandom[:]); err != nil {
		return nil, err
	}
	if err := messages.PutSessionID(w, tlv.ContextTag(tagSigma1InitiatorSessionID), s.InitiatorSessionID); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma1DestinationID), s.DestinationID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma1InitiatorEphPubKey), s.InitiatorEphPubKey[:]); err != nil {
		return nil, err
	}
	if s.MRPParams != nil {
		if err := encodeMRPParams(w, tagSigma1InitiatorSessionParams, s.MRPParams); err != nil {
			return nil, err
		}
	}
	if s.ResumptionID != nil {
		if err := w.PutBytes(tlv.ContextTag(tagSigma1ResumptionID), s.ResumptionID[:]); err != nil {
			return nil, err
		}
	}
	if s.InitiatorResumeMIC != nil {
		if err := w.PutBytes(tlv.ContextTag(tagSigma1InitiatorResumeMIC), s.InitiatorResumeMIC[:]); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeSigma1(data []byte) (*Sigma1, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	s := &Sigma1{}
	var hasRandom, hasSessionID, hasDestID, hasEphPubKey bool

	err = forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagSigma1InitiatorRandom:
			if err := readFixedBytes(r, s.InitiatorRandom[:]); err != nil {
				if err == ErrInvalidMessage {
					return ErrInvalidRandom
				}
				return err
			}
			hasRandom = true
		case tagSigma1InitiatorSessionID:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			s.InitiatorSessionID = uint16(v)
			hasSessionID = true
		case tagSigma1DestinationID:
			if err := readFixedBytes(r, s.DestinationID[:]); err != nil {
				return err
			}
			hasDestID = true
		case tagSigma1InitiatorEphPubKey:
			if err := readFixedBytes(r, s.InitiatorEphPubKey[:]); err != nil {
				return err
			}
			hasEphPubKey = true
		case tagSigma1InitiatorSessionParams:
			mrp, err := decodeMRPParams(r)
			if err != nil {
				return err
			}
			s.MRPParams = mrp
		case tagSigma1ResumptionID:
			s.ResumptionID = new([ResumptionIDSize]byte)
			return readFixedBytes(r, s.ResumptionID[:])
		case tagSigma1InitiatorResumeMIC:
			s.InitiatorResumeMIC = new([MICSize]byte)
			return readFixedBytes(r, s.InitiatorResumeMIC[:])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasRandom || !hasSessionID || !hasDestID || !hasEphPubKey {
		return nil, ErrInvalidMessage
	}
	return s, nil
}

// Sigma2 is the second CASE message, sent by the responder.
type Sigma2 struct {
	ResponderRandom    [RandomSize]byte
	ResponderSessionID uint16
	ResponderEphPubKey [crypto.P256PublicKeySizeBytes]byte
	Encrypted2         []byte
	MRPParams          *MRPParameters
}

func (s *Sigma2) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma2ResponderRandom), s.ResponderRandom[:]); err != nil {
		return nil, err
	}
	if err := messages.PutSessionID(w, tlv.ContextTag(tagSigma2ResponderSessionID), s.ResponderSessionID); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma2ResponderEphPubKey), s.ResponderEphPubKey[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma2Encrypted2), s.Encrypted2); err != nil {
		return nil, err
	}
	if s.MRPParams != nil {
		if err := encodeMRPParams(w, tagSigma2ResponderSessionParams, s.MRPParams); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeSigma2(data []byte) (*Sigma2, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	s := &Sigma2{}
	var hasRandom, hasSessionID, hasEphPubKey, hasEncrypted2 bool

	err = forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagSigma2ResponderRandom:
			if err := readFixedBytes(r, s.ResponderRandom[:]); err != nil {
				if err == ErrInvalidMessage {
					return ErrInvalidRandom
				}
				return err
			}
			hasRandom = true
		case tagSigma2ResponderSessionID:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			s.ResponderSessionID = uint16(v)
			hasSessionID = true
		case tagSigma2ResponderEphPubKey:
			if err := readFixedBytes(r, s.ResponderEphPubKey[:]); err != nil {
				return err
			}
			hasEphPubKey = true
		case tagSigma2Encrypted2:
			encrypted, err := r.Bytes()
			if err != nil {
				return err
			}
			s.Encrypted2 = encrypted
			hasEncrypted2 = true
		case tagSigma2ResponderSessionParams:
			mrp, err := decodeMRPParams(r)
			if err != nil {
				return err
			}
			s.MRPParams = mrp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasRandom || !hasSessionID || !hasEphPubKey || !hasEncrypted2 {
		return nil, ErrInvalidMessage
	}
	return s, nil
}

// TBEData2 is the decrypted content of Sigma2.Encrypted2.
type TBEData2 struct {
	ResponderNOC  []byte
	ResponderICAC []byte
	Signature     [crypto.P256SignatureSizeBytes]byte
	ResumptionID  [ResumptionIDSize]byte
}

func (t *TBEData2) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBEData2ResponderNOC), t.ResponderNOC); err != nil {
		return nil, err
	}
	if len(t.ResponderICAC) > 0 {
		if err := w.PutBytes(tlv.ContextTag(tagTBEData2ResponderICAC), t.ResponderICAC); err != nil {
			return nil, err
		}
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBEData2Signature), t.Signature[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBEData2ResumptionID), t.ResumptionID[:]); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeTBEData2(data []byte) (*TBEData2, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	t := &TBEData2{}
	var hasNOC, hasSignature, hasResumptionID bool

	err = forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagTBEData2ResponderNOC:
			noc, err := r.Bytes()
			if err != nil {
				return err
			}
			t.ResponderNOC = noc
			hasNOC = true
		case tagTBEData2ResponderICAC:
			icac, err := r.Bytes()
			if err != nil {
				return err
			}
			t.ResponderICAC = icac
		case tagTBEData2Signature:
			if err := readFixedBytes(r, t.Signature[:]); err != nil {
				return err
			}
			hasSignature = true
		case tagTBEData2ResumptionID:
			if err := readFixedBytes(r, t.ResumptionID[:]); err != nil {
				return err
			}
			hasResumptionID = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasNOC || !hasSignature || !hasResumptionID {
		return nil, ErrInvalidMessage
	}
	return t, nil
}

// TBSData2 is sigma-2-tbsdata: the unsent data Sigma2's signature covers.
type TBSData2 struct {
	ResponderNOC       []byte
	ResponderICAC      []byte
	ResponderEphPubKey [crypto.P256PublicKeySizeBytes]byte
	InitiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
}

func (t *TBSData2) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBSData2ResponderNOC), t.ResponderNOC); err != nil {
		return nil, err
	}
	if len(t.ResponderICAC) > 0 {
		if err := w.PutBytes(tlv.ContextTag(tagTBSData2ResponderICAC), t.ResponderICAC); err != nil {
			return nil, err
		}
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBSData2ResponderEphPubKey), t.ResponderEphPubKey[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBSData2InitiatorEphPubKey), t.InitiatorEphPubKey[:]); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sigma3 is the third CASE message, sent by the initiator.
type Sigma3 struct {
	Encrypted3 []byte
}

func (s *Sigma3) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma3Encrypted3), s.Encrypted3); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeSigma3(data []byte) (*Sigma3, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	s := &Sigma3{}
	var hasEncrypted3 bool

	err = forEachField(r, func(tagNum uint64) error {
		if tagNum != tagSigma3Encrypted3 {
			return nil
		}
		encrypted, err := r.Bytes()
		if err != nil {
			return err
		}
		s.Encrypted3 = encrypted
		hasEncrypted3 = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasEncrypted3 {
		return nil, ErrInvalidMessage
	}
	return s, nil
}

// TBEData3 is the decrypted content of Sigma3.Encrypted3.
type TBEData3 struct {
	InitiatorNOC  []byte
	InitiatorICAC []byte
	Signature     [crypto.P256SignatureSizeBytes]byte
}

func (t *TBEData3) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBEData3InitiatorNOC), t.InitiatorNOC); err != nil {
		return nil, err
	}
	if len(t.InitiatorICAC) > 0 {
		if err := w.PutBytes(tlv.ContextTag(tagTBEData3InitiatorICAC), t.InitiatorICAC); err != nil {
			return nil, err
		}
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBEData3Signature), t.Signature[:]); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeTBEData3(data []byte) (*TBEData3, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	t := &TBEData3{}
	var hasNOC, hasSignature bool

	err = forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagTBEData3InitiatorNOC:
			noc, err := r.Bytes()
			if err != nil {
				return err
			}
			t.InitiatorNOC = noc
			hasNOC = true
		case tagTBEData3InitiatorICAC:
			icac, err := r.Bytes()
			if err != nil {
				return err
			}
			t.InitiatorICAC = icac
		case tagTBEData3Signature:
			if err := readFixedBytes(r, t.Signature[:]); err != nil {
				return err
			}
			hasSignature = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasNOC || !hasSignature {
		return nil, ErrInvalidMessage
	}
	return t, nil
}

// TBSData3 is sigma-3-tbsdata: the unsent data Sigma3's signature covers.
type TBSData3 struct {
	InitiatorNOC       []byte
	InitiatorICAC      []byte
	InitiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
	ResponderEphPubKey [crypto.P256PublicKeySizeBytes]byte
}

func (t *TBSData3) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBSData3InitiatorNOC), t.InitiatorNOC); err != nil {
		return nil, err
	}
	if len(t.InitiatorICAC) > 0 {
		if err := w.PutBytes(tlv.ContextTag(tagTBSData3InitiatorICAC), t.InitiatorICAC); err != nil {
			return nil, err
		}
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBSData3InitiatorEphPubKey), t.InitiatorEphPubKey[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagTBSData3ResponderEphPubKey), t.ResponderEphPubKey[:]); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sigma2Resume is sent by the responder instead of Sigma2 when it accepts
// the initiator's resumption offer.
type Sigma2Resume struct {
	ResumptionID       [ResumptionIDSize]byte
	Resume2MIC         [MICSize]byte
	ResponderSessionID uint16
	MRPParams          *MRPParameters
}

func (s *Sigma2Resume) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma2ResumeResumptionID), s.ResumptionID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagSigma2ResumeResponderMIC), s.Resume2MIC[:]); err != nil {
		return nil, err
	}
	if err := messages.PutSessionID(w, tlv.ContextTag(tagSigma2ResumeResponderSessionID), s.ResponderSessionID); err != nil {
		return nil, err
	}
	if s.MRPParams != nil {
		if err := encodeMRPParams(w, tagSigma2ResumeResponderSessionParams, s.MRPParams); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeSigma2Resume(data []byte) (*Sigma2Resume, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	s := &Sigma2Resume{}
	var hasResumptionID, hasMIC, hasSessionID bool

	err = forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagSigma2ResumeResumptionID:
			if err := readFixedBytes(r, s.ResumptionID[:]); err != nil {
				return err
			}
			hasResumptionID = true
		case tagSigma2ResumeResponderMIC:
			if err := readFixedBytes(r, s.Resume2MIC[:]); err != nil {
				return err
			}
			hasMIC = true
		case tagSigma2ResumeResponderSessionID:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			s.ResponderSessionID = uint16(v)
			hasSessionID = true
		case tagSigma2ResumeResponderSessionParams:
			mrp, err := decodeMRPParams(r)
			if err != nil {
				return err
			}
			s.MRPParams = mrp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasResumptionID || !hasMIC || !hasSessionID {
		return nil, ErrInvalidMessage
	}
	return s, nil
}

func encodeMRPParams(w *tlv.Writer, tag uint8, params *MRPParameters) error {
	if err := w.StartStructure(tlv.ContextTag(tag)); err != nil {
		return err
	}
	if params.IdleRetransTimeout != 0 {
		if err := w.PutUint(tlv.ContextTag(tagMRPIdleRetrans), uint64(params.IdleRetransTimeout)); err != nil {
			return err
		}
	}
	if params.ActiveRetransTimeout != 0 {
		if err := w.PutUint(tlv.ContextTag(tagMRPActiveRetrans), uint64(params.ActiveRetransTimeout)); err != nil {
			return err
		}
	}
	if params.ActiveThreshold != 0 {
		if err := w.PutUint(tlv.ContextTag(tagMRPActiveThresh), uint64(params.ActiveThreshold)); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

// decodeMRPParams decodes a nested MRPParameters structure, unlike the
// top-level message decoders, it exits the container it entered since the
// caller's forEachField loop resumes at the parent level afterward.
func decodeMRPParams(r *tlv.Reader) (*MRPParameters, error) {
	if r.Type() != tlv.ElementTypeStruct {
		return nil, ErrInvalidMessage
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	params := &MRPParameters{}

	err := forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagMRPIdleRetrans:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			params.IdleRetransTimeout = uint32(v)
		case tagMRPActiveRetrans:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			params.ActiveRetransTimeout = uint32(v)
		case tagMRPActiveThresh:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			params.ActiveThreshold = uint16(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return params, nil
}
