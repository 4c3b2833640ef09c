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
	ErrInvokeHandlerBusy     = errors.New("invoke handler: busy processing another request")
	ErrInvokeTimedMismatch   = errors.New("invoke handler: timed request mismatch")
	ErrInvokeCommandNotFound = errors.New("invoke handler: command not found")
	ErrInvokeInvalidPath     = errors.New("invoke handler: invalid command path")
)

// CommandHandler invokes one command, returning raw TLV response data or a
// status on failure.
type CommandHandler func(ctx *InvokeContext, path message.CommandPathIB, fields []byte) (*CommandResult, error)

// CommandResult is what a CommandHandler produces for one command.
type CommandResult struct {
	ResponsePath message.CommandPathIB
	ResponseData []byte // nil if the command has no response payload
	Status       *message.StatusIB
}

// InvokeContext is the per-request context handed to a CommandHandler.
type InvokeContext struct {
	Exchange     *exchange.ExchangeContext
	FabricIndex  uint8
	IsTimed      bool
	SourceNodeID uint64
}

// InvokeHandlerState is the InvokeHandler's state machine.
type InvokeHandlerState int

const (
	InvokeHandlerStateIdle InvokeHandlerState = iota
	InvokeHandlerStateReceiving
	InvokeHandlerStateProcessing
	InvokeHandlerStateSendingResponse
)

func (s InvokeHandlerState) String() string {
	names := [...]string{"Idle", "Receiving", "Processing", "SendingResponse"}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// InvokeHandler answers one InvokeRequestMessage, invoking each contained
// command through a CommandHandler and chunking the response across
// StatusResponse round trips when it doesn't fit in one payload.
//
// Per the Matter spec, InvokeRequestMessage itself never spans multiple
// messages — only the response can be chunked — so the assembler exists
// for symmetry with ReadHandler/WriteHandler rather than active use today.
type InvokeHandler struct {
	commandHandler CommandHandler
	assembler      *Assembler
	fragmenter     *Fragmenter

	// access, installed by the engine, gates each command before it runs.
	// nil invokes everything.
	access commandAccess

	mu        sync.Mutex
	state     InvokeHandlerState
	ctx       *InvokeContext
	remaining []*message.InvokeResponseMessage
}

func NewInvokeHandler(handler CommandHandler, maxPayload int) *InvokeHandler {
	return &InvokeHandler{
		commandHandler: handler,
		assembler:      NewAssembler(),
		fragmenter:     NewFragmenter(maxPayload),
		state:          InvokeHandlerStateIdle,
	}
}

func (h *InvokeHandler) HandleInvokeRequest(
	exchCtx *exchange.ExchangeContext,
	msg *message.InvokeRequestMessage,
	fabricIndex uint8,
	sourceNodeID uint64,
	isTimed bool,
) (*message.InvokeResponseMessage, error) {
	if msg.TimedRequest && !isTimed {
		return nil, ErrInvokeTimedMismatch
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.ctx = &InvokeContext{
		Exchange:     exchCtx,
		FabricIndex:  fabricIndex,
		IsTimed:      isTimed,
		SourceNodeID: sourceNodeID,
	}
	h.state = InvokeHandlerStateProcessing

	responses := h.invokeAll(msg.InvokeRequests)
	response := &message.InvokeResponseMessage{
		SuppressResponse: msg.SuppressResponse,
		InvokeResponses:  responses,
	}

	chunks, err := h.fragmenter.FragmentInvokeResponse(response)
	if err != nil {
		h.state = InvokeHandlerStateIdle
		return nil, err
	}

	first := chunks[0]
	if len(chunks) == 1 {
		h.state = InvokeHandlerStateIdle
		return first, nil
	}

	h.state = InvokeHandlerStateSendingResponse
	h.remaining = chunks[1:]
	return first, nil
}

func (h *InvokeHandler) HandleStatusResponse(status message.Status) (*message.InvokeResponseMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != InvokeHandlerStateSendingResponse {
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

func (h *InvokeHandler) clearChunkState() {
	h.state = InvokeHandlerStateIdle
	h.remaining = nil
}

// invokeAll runs every command in the batch and stamps CommandRef when the
// batch has more than one entry, as required so the client can correlate
// responses back to requests.
func (h *InvokeHandler) invokeAll(cmds []message.CommandDataIB) []message.InvokeResponseIB {
	responses := make([]message.InvokeResponseIB, len(cmds))
	needsRef := len(cmds) > 1

	for i := range cmds {
		resp := h.invokeOne(&cmds[i])
		ref := cmds[i].Ref
		if ref == nil && needsRef {
			implicit := uint16(i)
			ref = &implicit
		}
		stampRef(&resp, ref)
		responses[i] = resp
	}
	return responses
}

func stampRef(resp *message.InvokeResponseIB, ref *uint16) {
	if ref == nil {
		return
	}
	if resp.Command != nil {
		resp.Command.Ref = ref
	}
	if resp.Status != nil {
		r := *ref
		resp.Status.Ref = &r
	}
}

func (h *InvokeHandler) invokeOne(cmd *message.CommandDataIB) message.InvokeResponseIB {
	if h.commandHandler == nil {
		return statusResponse(cmd.Path, message.StatusUnsupportedCommand)
	}
	if h.access != nil {
		if st := h.access(cmd.Path); st != nil {
			return statusResponse(cmd.Path, *st)
		}
	}

	result, err := h.commandHandler(h.ctx, cmd.Path, cmd.Fields)
	switch {
	case err != nil:
		return statusResponse(cmd.Path, message.StatusFailure)
	case result == nil:
		return statusResponse(cmd.Path, message.StatusSuccess)
	case result.Status != nil:
		return message.InvokeResponseIB{
			Status: &message.CommandStatusIB{Path: cmd.Path, Status: *result.Status},
		}
	default:
		return message.InvokeResponseIB{
			Command: &message.CommandDataIB{Path: result.ResponsePath, Fields: result.ResponseData},
		}
	}
}

func statusResponse(path message.CommandPathIB, status message.Status) message.InvokeResponseIB {
	return message.InvokeResponseIB{
		Status: &message.CommandStatusIB{
			Path:   path,
			Status: message.StatusIB{Status: status},
		},
	}
}

// Reset returns the handler to idle, discarding any in-flight chunked
// transfer and reassembly state.
func (h *InvokeHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctx = nil
	h.clearChunkState()
	h.assembler.Reset()
}

func (h *InvokeHandler) State() InvokeHandlerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func EncodeStatusResponse(status message.Status) ([]byte, error) {
	var buf bytes.Buffer
	msg := message.StatusResponseMessage{Status: status}
	if err := msg.Encode(tlv.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeInvokeResponse(msg *message.InvokeResponseMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.Encode(tlv.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeInvokeRequest(data []byte) (*message.InvokeRequestMessage, error) {
	var msg message.InvokeRequestMessage
	if err := msg.Decode(tlv.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return &msg, nil
}

func DecodeStatusResponse(data []byte) (*message.StatusResponseMessage, error) {
	var msg message.StatusResponseMessage
	if err := msg.Decode(tlv.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return &msg, nil
}
