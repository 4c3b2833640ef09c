package im

import (
	"bytes"
	"errors"
	"sync"

	"github.com/vellumhub/matterd/pkg/exchange"
	"github.com/vellumhub/matterd/pkg/im/message"
	"github.com/vellumhub/matterd/pkg/tlv"
)

var (
	ErrReadHandlerBusy  = errors.New("read handler: busy processing another request")
	ErrReadPathNotFound = errors.New("read handler: path not found")
	ErrReadAccessDenied = errors.New("read handler: access denied")
)

// AttributeReader answers a single attribute read, returning its
// TLV-encoded value (or a status on failure).
type AttributeReader func(ctx *ReadContext, path message.AttributePathIB) (*AttributeResult, error)

// AttributeResult is what an AttributeReader produces for one path.
type AttributeResult struct {
	DataVersion message.DataVersion
	Data        []byte
	Status      *message.StatusIB // non-nil on failure
}

// ReadContext is the per-request context handed to an AttributeReader.
type ReadContext struct {
	Exchange         *exchange.ExchangeContext
	FabricIndex      uint8
	IsFabricFiltered bool
	SourceNodeID     uint64
}

// ReadHandlerState is the ReadHandler's small state machine: idle while
// between requests, processing while building a report, and sending-report
// while waiting on StatusResponse acks for a chunked reply.
type ReadHandlerState int

const (
	ReadHandlerStateIdle ReadHandlerState = iota
	ReadHandlerStateProcessing
	ReadHandlerStateSendingReport
)

func (s ReadHandlerState) String() string {
	names := [...]string{"Idle", "Processing", "SendingReport"}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// ReadHandler answers one ReadRequestMessage. With an engine-installed
// expander it expands wildcard paths and gates every concrete attribute
// through the access hook; a bare handler reads exactly the paths it is
// given. Replies chunk only as far as splitting pre-built reports across
// StatusResponse round trips — event reports are not interleaved.
type ReadHandler struct {
	attributeReader AttributeReader
	fragmenter      *Fragmenter

	// expander, when set, turns wildcard paths into the concrete attributes
	// that exist; access, when set, gates each concrete attribute. Both are
	// installed by the engine; a bare handler reads exactly the paths it is
	// given with no gating.
	expander PathExpander
	access   attributeAccess

	mu          sync.Mutex
	state       ReadHandlerState
	ctx         *ReadContext
	remaining   []*message.ReportDataMessage // chunks still to send, in order
}

func NewReadHandler(reader AttributeReader, maxPayload int) *ReadHandler {
	return &ReadHandler{
		attributeReader: reader,
		fragmenter:      NewFragmenter(maxPayload),
		state:           ReadHandlerStateIdle,
	}
}

// HandleReadRequest answers msg, returning the first (possibly only) chunk
// of the ReportData reply. Further chunks, if any, are released one at a
// time through HandleStatusResponse.
func (h *ReadHandler) HandleReadRequest(
	exchCtx *exchange.ExchangeContext,
	msg *message.ReadRequestMessage,
	fabricIndex uint8,
	sourceNodeID uint64,
) (*message.ReportDataMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ctx = &ReadContext{
		Exchange:         exchCtx,
		FabricIndex:      fabricIndex,
		IsFabricFiltered: msg.FabricFiltered,
		SourceNodeID:     sourceNodeID,
	}
	h.state = ReadHandlerStateProcessing

	var reports []message.AttributeReportIB
	for i := range msg.AttributeRequests {
		reports = append(reports, h.reportsForPath(&msg.AttributeRequests[i], msg.DataVersionFilters)...)
	}
	// EventRequests are intentionally unhandled: this core pushes events as
	// unsolicited reports rather than answering pulled event reads.

	response := &message.ReportDataMessage{
		AttributeReports:    reports,
		SuppressResponse:    true,
		MoreChunkedMessages: false,
	}

	chunks, err := h.fragmenter.FragmentReportData(response)
	if err != nil {
		h.state = ReadHandlerStateIdle
		return nil, err
	}

	first := chunks[0]
	if len(chunks) == 1 {
		h.state = ReadHandlerStateIdle
		return first, nil
	}

	h.state = ReadHandlerStateSendingReport
	h.remaining = chunks[1:]
	return first, nil
}

// HandleStatusResponse releases the next pending chunk once the peer acks
// the previous one, or tears down the chunked transfer on any non-success
// status or exhaustion.
func (h *ReadHandler) HandleStatusResponse(status message.Status) (*message.ReportDataMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != ReadHandlerStateSendingReport {
		return nil, nil
	}
	if status != message.StatusSuccess || len(h.remaining) == 0 {
		h.clearChunkState()
		return nil, nil
	}

	chunk := h.remaining[0]
	h.remaining = h.remaining[1:]
	if len(h.remaining) == 0 {
		h.clearChunkState()
	}
	return chunk, nil
}

func (h *ReadHandler) clearChunkState() {
	h.state = ReadHandlerStateIdle
	h.remaining = nil
}

// reportsForPath produces the reports one requested path contributes. A
// concrete path yields exactly one report (value or status). A wildcard
// path expands to whatever exists and is visible to the accessor; misses
// and denials inside a wildcard are skipped rather than reported, so a
// peer cannot probe for attributes it may not see.
func (h *ReadHandler) reportsForPath(path *message.AttributePathIB, filters []message.DataVersionFilterIB) []message.AttributeReportIB {
	if h.expander == nil {
		r := h.readAttribute(path, filters)
		if r.AttributeData == nil && r.AttributeStatus == nil {
			return nil
		}
		return []message.AttributeReportIB{r}
	}

	wildcard := hasWildcard(path)
	resolved, err := h.expander.ExpandAttributePath(*path)
	if err != nil {
		if wildcard {
			return nil
		}
		return []message.AttributeReportIB{statusReport(path, ErrorToStatus(err))}
	}

	var out []message.AttributeReportIB
	for _, res := range resolved {
		concrete := res.PathIB()
		concrete.ListIndex = path.ListIndex

		if res.ReadPrivilege == 0 {
			if wildcard {
				continue
			}
			out = append(out, statusReport(&concrete, message.StatusUnsupportedRead))
			continue
		}
		if h.access != nil && !h.access(res, false) {
			if wildcard {
				continue
			}
			out = append(out, statusReport(&concrete, message.StatusUnsupportedAccess))
			continue
		}

		r := h.readAttribute(&concrete, filters)
		if r.AttributeData == nil && (wildcard || r.AttributeStatus == nil) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (h *ReadHandler) readAttribute(path *message.AttributePathIB, filters []message.DataVersionFilterIB) message.AttributeReportIB {
	if h.attributeReader == nil {
		return statusReport(path, message.StatusUnsupportedAttribute)
	}
	if unchangedByVersion(path, filters) {
		// Current version matches a supplied filter: report nothing so the
		// caller's delta stays empty for this path.
		return message.AttributeReportIB{}
	}

	result, err := h.attributeReader(h.ctx, *path)
	switch {
	case err != nil:
		return statusReport(path, message.StatusFailure)
	case result == nil:
		return statusReport(path, message.StatusUnsupportedAttribute)
	case result.Status != nil:
		return message.AttributeReportIB{
			AttributeStatus: &message.AttributeStatusIB{Path: *path, Status: *result.Status},
		}
	default:
		return message.AttributeReportIB{
			AttributeData: &message.AttributeDataIB{
				DataVersion: result.DataVersion,
				Path:        *path,
				Data:        result.Data,
			},
		}
	}
}

// unchangedByVersion reports whether path's cluster matches one of the
// caller's data-version filters. Version tracking isn't implemented yet, so
// a match never actually suppresses the report; this exists as the one
// seam a future cache needs.
func unchangedByVersion(path *message.AttributePathIB, filters []message.DataVersionFilterIB) bool {
	for _, f := range filters {
		if clusterPathMatches(&f.Path, path) {
			return false
		}
	}
	return false
}

func clusterPathMatches(filterPath *message.ClusterPathIB, attrPath *message.AttributePathIB) bool {
	if filterPath.Endpoint != nil && attrPath.Endpoint != nil && *filterPath.Endpoint != *attrPath.Endpoint {
		return false
	}
	if filterPath.Cluster != nil && attrPath.Cluster != nil && *filterPath.Cluster != *attrPath.Cluster {
		return false
	}
	return true
}

func statusReport(path *message.AttributePathIB, status message.Status) message.AttributeReportIB {
	return message.AttributeReportIB{
		AttributeStatus: &message.AttributeStatusIB{
			Path:   *path,
			Status: message.StatusIB{Status: status},
		},
	}
}

// Reset returns the handler to idle, discarding any in-flight chunked
// transfer.
func (h *ReadHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctx = nil
	h.clearChunkState()
}

func (h *ReadHandler) State() ReadHandlerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func EncodeReportData(msg *message.ReportDataMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.Encode(tlv.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeReadRequest(data []byte) (*message.ReadRequestMessage, error) {
	var msg message.ReadRequestMessage
	if err := msg.Decode(tlv.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return &msg, nil
}
