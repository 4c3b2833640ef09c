package im

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/vellumhub/matterd/pkg/exchange"
	"github.com/vellumhub/matterd/pkg/im/message"
	"github.com/vellumhub/matterd/pkg/tlv"
)

var (
	ErrWriteHandlerBusy   = errors.New("write handler: busy processing another request")
	ErrWriteTimedMismatch = errors.New("write handler: timed request mismatch")
	ErrWriteWildcardPath  = errors.New("write handler: wildcard paths not supported")
	ErrWriteListOperation = errors.New("write handler: list operations not supported")
)

// WriteHandlerState is the WriteHandler's state machine.
type WriteHandlerState int

const (
	WriteHandlerStateIdle WriteHandlerState = iota
	WriteHandlerStateProcessing
	WriteHandlerStateReceivingChunks
	WriteHandlerStateSendingResponse
)

func (s WriteHandlerState) String() string {
	names := [...]string{"Idle", "Processing", "ReceivingChunks", "SendingResponse"}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// WriteContext is the per-request context handed to the dispatcher.
type WriteContext struct {
	Exchange     *exchange.ExchangeContext
	FabricIndex  uint8
	IsTimed      bool
	SourceNodeID uint64
}

// WriteHandler answers one WriteRequestMessage. Concrete paths dispatch
// directly; wildcard paths require an engine-installed expander and write
// every matching writable attribute, skipping denials silently. List
// add/remove operations (only full Replace) and multi-message (chunked)
// requests are rejected outright rather than reassembled.
type WriteHandler struct {
	dispatcher Dispatcher

	// expander and access are installed by the engine; see ReadHandler.
	// Without an expander, wildcard paths fail with InvalidAction.
	expander PathExpander
	access   attributeAccess

	mu               sync.Mutex
	state            WriteHandlerState
	ctx              *WriteContext
	statuses         []message.AttributeStatusIB
	suppressResponse bool
}

func NewWriteHandler(dispatcher Dispatcher) *WriteHandler {
	if dispatcher == nil {
		dispatcher = NullDispatcher{}
	}
	return &WriteHandler{dispatcher: dispatcher, state: WriteHandlerStateIdle}
}

func (h *WriteHandler) HandleWriteRequest(
	exchCtx *exchange.ExchangeContext,
	msg *message.WriteRequestMessage,
	fabricIndex uint8,
	sourceNodeID uint64,
	isTimed bool,
) (*message.WriteResponseMessage, error) {
	if msg.TimedRequest && !isTimed {
		return nil, ErrWriteTimedMismatch
	}
	if msg.MoreChunkedMessages {
		// Chunked writes exist to carry large list operations; neither is
		// supported here.
		return nil, ErrWriteListOperation
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.ctx = &WriteContext{
		Exchange:     exchCtx,
		FabricIndex:  fabricIndex,
		IsTimed:      isTimed,
		SourceNodeID: sourceNodeID,
	}
	h.state = WriteHandlerStateProcessing
	h.suppressResponse = msg.SuppressResponse

	var statuses []message.AttributeStatusIB
	for i := range msg.WriteRequests {
		statuses = append(statuses, h.writeRequest(&msg.WriteRequests[i])...)
	}
	h.statuses = statuses
	h.state = WriteHandlerStateIdle

	if msg.SuppressResponse {
		return nil, nil
	}
	return &message.WriteResponseMessage{WriteResponses: statuses}, nil
}

// writeRequest produces the statuses a single AttributeDataIB contributes:
// one for a concrete path, one per matching attribute for a wildcard path.
func (h *WriteHandler) writeRequest(attrData *message.AttributeDataIB) []message.AttributeStatusIB {
	path := attrData.Path

	if !hasWildcard(&path) {
		if h.expander != nil {
			resolved, err := h.expander.ExpandAttributePath(path)
			if err != nil {
				return []message.AttributeStatusIB{writeStatus(path, ErrorToStatus(err))}
			}
			if len(resolved) == 1 {
				if resolved[0].WritePrivilege == 0 {
					return []message.AttributeStatusIB{writeStatus(path, message.StatusUnsupportedWrite)}
				}
				if h.access != nil && !h.access(resolved[0], true) {
					return []message.AttributeStatusIB{writeStatus(path, message.StatusUnsupportedAccess)}
				}
			}
		}
		return []message.AttributeStatusIB{h.writeOne(attrData)}
	}

	if h.expander == nil {
		return []message.AttributeStatusIB{writeStatus(path, message.StatusInvalidAction)}
	}

	resolved, err := h.expander.ExpandAttributePath(path)
	if err != nil {
		return nil
	}
	var out []message.AttributeStatusIB
	for _, res := range resolved {
		// Non-writable and denied attributes fall out of a wildcard
		// silently, mirroring wildcard reads.
		if res.WritePrivilege == 0 {
			continue
		}
		if h.access != nil && !h.access(res, true) {
			continue
		}
		expanded := *attrData
		expanded.Path = res.PathIB()
		expanded.Path.ListIndex = path.ListIndex
		out = append(out, h.writeOne(&expanded))
	}
	return out
}

// writeOne validates and dispatches a single concrete AttributeDataIB,
// returning the status to report for it.
func (h *WriteHandler) writeOne(attrData *message.AttributeDataIB) message.AttributeStatusIB {
	path := attrData.Path

	if path.ListIndex != nil {
		return writeStatus(path, message.StatusUnsupportedWrite)
	}

	req := &AttributeWriteRequest{Path: path, IsTimed: h.ctx.IsTimed}
	if attrData.DataVersion != 0 {
		dv := attrData.DataVersion
		req.DataVersion = &dv
	}

	r := tlv.NewReader(bytes.NewReader(attrData.Data))
	if err := h.dispatcher.WriteAttribute(context.Background(), req, r); err != nil {
		return writeStatus(path, ErrorToStatus(err))
	}
	return writeStatus(path, message.StatusSuccess)
}

func writeStatus(path message.AttributePathIB, status message.Status) message.AttributeStatusIB {
	return message.AttributeStatusIB{Path: path, Status: message.StatusIB{Status: status}}
}

// hasWildcard reports whether any of the three path components needed for
// a write (endpoint, cluster, attribute) is omitted.
func hasWildcard(path *message.AttributePathIB) bool {
	return path.Endpoint == nil || path.Cluster == nil || path.Attribute == nil
}

func (h *WriteHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = WriteHandlerStateIdle
	h.ctx = nil
	h.statuses = nil
	h.suppressResponse = false
}

func (h *WriteHandler) State() WriteHandlerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func EncodeWriteResponse(msg *message.WriteResponseMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.Encode(tlv.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeWriteRequest(data []byte) (*message.WriteRequestMessage, error) {
	var msg message.WriteRequestMessage
	if err := msg.Decode(tlv.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return &msg, nil
}
