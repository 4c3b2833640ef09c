package im

import (
	"bytes"

	"github.com/vellumhub/matterd/pkg/im/message"
	"github.com/vellumhub/matterd/pkg/tlv"
)

// DefaultMaxPayload is the largest IM payload the engine will emit in one
// message: the maximum secure SDU length.
const DefaultMaxPayload = 1024

// Fragmenter splits oversized IM response messages into chunks that each
// encode within the payload budget. Splitting happens at IB granularity —
// a single IB larger than the budget still travels whole, since the wire
// format cannot split one.
type Fragmenter struct {
	maxPayload int
}

func NewFragmenter(maxPayload int) *Fragmenter {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Fragmenter{maxPayload: maxPayload}
}

// FragmentReportData splits msg's attribute reports across as many
// ReportDataMessages as the payload budget requires. Always returns at
// least one chunk; only the final chunk carries the caller's
// SuppressResponse, earlier chunks demand a StatusResponse to release the
// next one.
func (f *Fragmenter) FragmentReportData(msg *message.ReportDataMessage) ([]*message.ReportDataMessage, error) {
	groups, err := splitIBs(msg.AttributeReports, f.maxPayload, func(reports []message.AttributeReportIB) (int, error) {
		probe := message.ReportDataMessage{
			SubscriptionID:   msg.SubscriptionID,
			AttributeReports: reports,
			SuppressResponse: msg.SuppressResponse,
		}
		return encodedLen(probe.Encode)
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]*message.ReportDataMessage, len(groups))
	for i, g := range groups {
		last := i == len(groups)-1
		chunks[i] = &message.ReportDataMessage{
			SubscriptionID:      msg.SubscriptionID,
			AttributeReports:    g,
			MoreChunkedMessages: !last,
			SuppressResponse:    last && msg.SuppressResponse,
		}
	}
	return chunks, nil
}

// FragmentInvokeResponse splits msg's invoke responses the same way.
func (f *Fragmenter) FragmentInvokeResponse(msg *message.InvokeResponseMessage) ([]*message.InvokeResponseMessage, error) {
	groups, err := splitIBs(msg.InvokeResponses, f.maxPayload, func(responses []message.InvokeResponseIB) (int, error) {
		probe := message.InvokeResponseMessage{
			SuppressResponse: msg.SuppressResponse,
			InvokeResponses:  responses,
		}
		return encodedLen(probe.Encode)
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]*message.InvokeResponseMessage, len(groups))
	for i, g := range groups {
		last := i == len(groups)-1
		chunks[i] = &message.InvokeResponseMessage{
			SuppressResponse:    last && msg.SuppressResponse,
			InvokeResponses:     g,
			MoreChunkedMessages: !last,
		}
	}
	return chunks, nil
}

// splitIBs greedily packs n IBs into groups whose encoded size stays within
// budget, measuring with encode over each candidate prefix. A group never
// goes empty: an IB that alone busts the budget ships alone.
func splitIBs[T any](ibs []T, budget int, measure func([]T) (int, error)) ([][]T, error) {
	n := len(ibs)
	if n == 0 {
		return [][]T{nil}, nil
	}

	var groups [][]T
	start := 0
	for start < n {
		end := start + 1
		for end < n {
			size, err := measure(ibs[start : end+1])
			if err != nil {
				return nil, err
			}
			if size > budget {
				break
			}
			end++
		}
		groups = append(groups, ibs[start:end])
		start = end
	}
	return groups, nil
}

func encodedLen(encode func(*tlv.Writer) error) (int, error) {
	var buf bytes.Buffer
	if err := encode(tlv.NewWriter(&buf)); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

// Assembler reassembles a request that arrives as multiple chunked
// messages. The request side of every supported interaction fits one
// message today, so this only accumulates and reports completion.
type Assembler struct {
	parts [][]byte
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Add appends one chunk. It reports whether the request is complete, which
// is the case as soon as a chunk arrives without the more-chunks flag.
func (a *Assembler) Add(payload []byte, moreChunks bool) bool {
	a.parts = append(a.parts, payload)
	return !moreChunks
}

// Assembled returns the concatenated request payload.
func (a *Assembler) Assembled() []byte {
	if len(a.parts) == 1 {
		return a.parts[0]
	}
	var buf bytes.Buffer
	for _, p := range a.parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

// Reset discards any partially assembled request.
func (a *Assembler) Reset() {
	a.parts = nil
}
