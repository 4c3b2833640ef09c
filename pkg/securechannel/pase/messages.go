package pase

import (
	"bytes"
	"io"

	"github.com/vellumhub/matterd/pkg/tlv"
)

// Context tags, grouped by the structure they appear in.
const (
	tagPBKDFReqInitiatorRandom    = 1
	tagPBKDFReqInitiatorSessionID = 2
	tagPBKDFReqPasscodeID         = 3
	tagPBKDFReqHasPBKDFParams     = 4
	tagPBKDFReqInitiatorMRPParams = 5

	tagPBKDFRespInitiatorRandom    = 1
	tagPBKDFRespResponderRandom    = 2
	tagPBKDFRespResponderSessionID = 3
	tagPBKDFRespPBKDFParams        = 4
	tagPBKDFRespResponderMRPParams = 5

	tagPBKDFParamsIterations = 1
	tagPBKDFParamsSalt       = 2

	tagPake1PA = 1
	tagPake2PB = 1
	tagPake2CB = 2
	tagPake3CA = 1

	tagMRPIdleRetrans   = 1
	tagMRPActiveRetrans = 2
	tagMRPActiveThresh  = 4
)

// MRPParameters carries the MRP timing hints a session endpoint can embed
// in PBKDFParamRequest/Response.
type MRPParameters struct {
	IdleRetransTimeout   uint32
	ActiveRetransTimeout uint32
	ActiveThreshold      uint16
}

// PBKDFParameters is the salt/iteration pair a responder supplies when the
// initiator doesn't already have them.
type PBKDFParameters struct {
	Iterations uint32
	Salt       []byte
}

// PBKDFParamRequest is the first message of a PASE handshake.
type PBKDFParamRequest struct {
	InitiatorRandom    [RandomSize]byte
	InitiatorSessionID uint16
	PasscodeID         uint16
	HasPBKDFParameters bool
	MRPParams          *MRPParameters
}

func (p *PBKDFParamRequest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPBKDFReqInitiatorRandom), p.InitiatorRandom[:]); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagPBKDFReqInitiatorSessionID), uint64(p.InitiatorSessionID)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagPBKDFReqPasscodeID), uint64(p.PasscodeID)); err != nil {
		return nil, err
	}
	if err := w.PutBool(tlv.ContextTag(tagPBKDFReqHasPBKDFParams), p.HasPBKDFParameters); err != nil {
		return nil, err
	}
	if p.MRPParams != nil {
		if err := encodeMRPParams(w, tagPBKDFReqInitiatorMRPParams, p.MRPParams); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), w.EndContainer()
}

func DecodePBKDFParamRequest(data []byte) (*PBKDFParamRequest, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	p := &PBKDFParamRequest{}

	err = forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagPBKDFReqInitiatorRandom:
			return readFixedBytes(r, p.InitiatorRandom[:])
		case tagPBKDFReqInitiatorSessionID:
			v, err := r.Uint()
			p.InitiatorSessionID = uint16(v)
			return err
		case tagPBKDFReqPasscodeID:
			v, err := r.Uint()
			p.PasscodeID = uint16(v)
			return err
		case tagPBKDFReqHasPBKDFParams:
			v, err := r.Bool()
			p.HasPBKDFParameters = v
			return err
		case tagPBKDFReqInitiatorMRPParams:
			mrp, err := decodeMRPParams(r)
			p.MRPParams = mrp
			return err
		}
		return nil
	})
	return p, err
}

// PBKDFParamResponse answers a PBKDFParamRequest, carrying PBKDF
// parameters when the initiator didn't already supply them.
type PBKDFParamResponse struct {
	InitiatorRandom    [RandomSize]byte
	ResponderRandom    [RandomSize]byte
	ResponderSessionID uint16
	PBKDFParams        *PBKDFParameters
	MRPParams          *MRPParameters
}

func (p *PBKDFParamResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPBKDFRespInitiatorRandom), p.InitiatorRandom[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPBKDFRespResponderRandom), p.ResponderRandom[:]); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagPBKDFRespResponderSessionID), uint64(p.ResponderSessionID)); err != nil {
		return nil, err
	}
	if p.PBKDFParams != nil {
		if err := encodePBKDFParams(w, tagPBKDFRespPBKDFParams, p.PBKDFParams); err != nil {
			return nil, err
		}
	}
	if p.MRPParams != nil {
		if err := encodeMRPParams(w, tagPBKDFRespResponderMRPParams, p.MRPParams); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), w.EndContainer()
}

func DecodePBKDFParamResponse(data []byte) (*PBKDFParamResponse, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	p := &PBKDFParamResponse{}

	err = forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagPBKDFRespInitiatorRandom:
			return readFixedBytes(r, p.InitiatorRandom[:])
		case tagPBKDFRespResponderRandom:
			return readFixedBytes(r, p.ResponderRandom[:])
		case tagPBKDFRespResponderSessionID:
			v, err := r.Uint()
			p.ResponderSessionID = uint16(v)
			return err
		case tagPBKDFRespPBKDFParams:
			params, err := decodePBKDFParams(r)
			p.PBKDFParams = params
			return err
		case tagPBKDFRespResponderMRPParams:
			mrp, err := decodeMRPParams(r)
			p.MRPParams = mrp
			return err
		}
		return nil
	})
	return p, err
}

// Pake1 carries the initiator's SPAKE2+ public share.
type Pake1 struct {
	PA []byte // 65-byte uncompressed P-256 point
}

func (p *Pake1) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPake1PA), p.PA); err != nil {
		return nil, err
	}
	return buf.Bytes(), w.EndContainer()
}

func DecodePake1(data []byte) (*Pake1, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	p := &Pake1{}
	if err := forEachField(r, func(tagNum uint64) error {
		if tagNum == tagPake1PA {
			pa, err := r.Bytes()
			p.PA = pa
			return err
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if len(p.PA) == 0 {
		return nil, ErrInvalidMessage
	}
	return p, nil
}

// Pake2 carries the responder's SPAKE2+ public share and confirmation.
type Pake2 struct {
	PB []byte // 65-byte uncompressed P-256 point
	CB []byte // 32-byte HMAC confirmation
}

func (p *Pake2) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPake2PB), p.PB); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPake2CB), p.CB); err != nil {
		return nil, err
	}
	return buf.Bytes(), w.EndContainer()
}

func DecodePake2(data []byte) (*Pake2, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	p := &Pake2{}
	err = forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagPake2PB:
			pb, err := r.Bytes()
			p.PB = pb
			return err
		case tagPake2CB:
			cb, err := r.Bytes()
			p.CB = cb
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(p.PB) == 0 || len(p.CB) == 0 {
		return nil, ErrInvalidMessage
	}
	return p, nil
}

// Pake3 carries the initiator's SPAKE2+ confirmation.
type Pake3 struct {
	CA []byte // 32-byte HMAC confirmation
}

func (p *Pake3) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPake3CA), p.CA); err != nil {
		return nil, err
	}
	return buf.Bytes(), w.EndContainer()
}

func DecodePake3(data []byte) (*Pake3, error) {
	r, err := enterAnonymousStruct(data)
	if err != nil {
		return nil, err
	}
	p := &Pake3{}
	if err := forEachField(r, func(tagNum uint64) error {
		if tagNum == tagPake3CA {
			ca, err := r.Bytes()
			p.CA = ca
			return err
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if len(p.CA) == 0 {
		return nil, ErrInvalidMessage
	}
	return p, nil
}

// enterAnonymousStruct opens the reader on data, validates it starts with
// an anonymous structure, and enters it so forEachField can iterate the
// members. Shared by every PASE message decoder.
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

// forEachField walks the members of a just-entered structure, invoking fn
// with each context tag's number. Non-context tags are skipped; fn's
// error, if any, aborts the walk. Does not exit the container — callers
// that read a field in fn must not keep further state on r afterward.
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
		return ErrInvalidRandom
	}
	copy(dst, v)
	return nil
}

func encodePBKDFParams(w *tlv.Writer, tag uint8, params *PBKDFParameters) error {
	if err := w.StartStructure(tlv.ContextTag(tag)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(tagPBKDFParamsIterations), uint64(params.Iterations)); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPBKDFParamsSalt), params.Salt); err != nil {
		return err
	}
	return w.EndContainer()
}

func decodePBKDFParams(r *tlv.Reader) (*PBKDFParameters, error) {
	if r.Type() != tlv.ElementTypeStruct {
		return nil, ErrInvalidMessage
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	params := &PBKDFParameters{}
	err := forEachField(r, func(tagNum uint64) error {
		switch tagNum {
		case tagPBKDFParamsIterations:
			v, err := r.Uint()
			params.Iterations = uint32(v)
			return err
		case tagPBKDFParamsSalt:
			salt, err := r.Bytes()
			params.Salt = salt
			return err
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
			params.IdleRetransTimeout = uint32(v)
			return err
		case tagMRPActiveRetrans:
			v, err := r.Uint()
			params.ActiveRetransTimeout = uint32(v)
			return err
		case tagMRPActiveThresh:
			v, err := r.Uint()
			params.ActiveThreshold = uint16(v)
			return err
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
