package im

import (
	"bytes"
	"sync"

	"github.com/pion/logging"
	"github.com/vellumhub/matterd/pkg/exchange"
	imsg "github.com/vellumhub/matterd/pkg/im/message"
	"github.com/vellumhub/matterd/pkg/message"
	"github.com/vellumhub/matterd/pkg/tlv"
)

// ProtocolID identifies the Interaction Model protocol on the exchange layer.
const ProtocolID message.ProtocolID = 0x0001

// action binds a request opcode to the function that produces its reply and
// the opcode that reply should carry.
type action struct {
	run        func(e *Engine, ctx *exchange.ExchangeContext, payload []byte) ([]byte, error)
	replyOp    imsg.Opcode
	unhandled  bool // true: run is nil, reply is a fixed status code
	fixedReply imsg.Status
}

// actions is the engine's dispatch table. Subscriptions and timed
// interactions aren't implemented, so they resolve to a fixed
// UnsupportedAccess status rather than a run function.
var actions = map[imsg.Opcode]action{
	imsg.OpcodeReadRequest:      {run: (*Engine).handleReadRequest, replyOp: imsg.OpcodeReportData},
	imsg.OpcodeWriteRequest:     {run: (*Engine).handleWriteRequest, replyOp: imsg.OpcodeWriteResponse},
	imsg.OpcodeInvokeRequest:    {run: (*Engine).handleInvokeRequest, replyOp: imsg.OpcodeInvokeResponse},
	imsg.OpcodeSubscribeRequest: {unhandled: true, fixedReply: imsg.StatusUnsupportedAccess},
	imsg.OpcodeTimedRequest:     {unhandled: true, fixedReply: imsg.StatusUnsupportedAccess},
}

// Engine is the node-side Interaction Model core: it demultiplexes
// ReadRequest/WriteRequest/InvokeRequest/StatusResponse exchange traffic,
// forwards each to a request-scoped handler, and re-encodes the handler's
// result as the matching IM reply. Subscriptions, timed interactions and
// multi-chunk reassembly beyond one status-response round trip are not
// implemented.
type Engine struct {
	dispatcher Dispatcher
	aclChecker AccessController
	maxPayload int
	log        logging.LeveledLogger

	mu            sync.Mutex
	readHandler   *ReadHandler
	writeHandler  *WriteHandler
	invokeHandler *InvokeHandler
}

// EngineConfig configures the Engine.
type EngineConfig struct {
	Dispatcher    Dispatcher
	ACLChecker    AccessController
	MaxPayload    int
	LoggerFactory logging.LoggerFactory
}

func NewEngine(cfg EngineConfig) *Engine {
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NullDispatcher{}
	}
	maxPayload := cfg.MaxPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	e := &Engine{
		dispatcher:    dispatcher,
		aclChecker:    cfg.ACLChecker,
		maxPayload:    maxPayload,
		readHandler:   NewReadHandler(nil, maxPayload),
		writeHandler:  NewWriteHandler(dispatcher),
		invokeHandler: NewInvokeHandler(nil, maxPayload),
	}
	if cfg.LoggerFactory != nil {
		e.log = cfg.LoggerFactory.NewLogger("im")
	}
	return e
}

// GetProtocolID satisfies whatever registers protocol handlers with the
// exchange manager.
func (e *Engine) GetProtocolID() message.ProtocolID {
	return ProtocolID
}

// OnMessage implements exchange.ExchangeDelegate: it is the single entry
// point for every IM exchange message. Replies are pushed through
// ctx.SendMessage directly (so the opcode can differ per case) and the
// method itself always returns (nil, nil) on the success path, telling the
// exchange layer not to send anything a second time.
func (e *Engine) OnMessage(ctx *exchange.ExchangeContext, hdr *message.ProtocolHeader, payload []byte) ([]byte, error) {
	opcode := imsg.Opcode(hdr.ProtocolOpcode)

	if opcode == imsg.OpcodeStatusResponse {
		return e.handleStatusResponse(ctx, payload)
	}

	act, known := actions[opcode]
	var reply []byte
	var replyOp imsg.Opcode
	var err error

	switch {
	case !known:
		reply, _ = e.encodeStatusResponse(imsg.StatusInvalidAction)
		replyOp = imsg.OpcodeStatusResponse
	case act.unhandled:
		reply, _ = e.encodeStatusResponse(act.fixedReply)
		replyOp = imsg.OpcodeStatusResponse
	default:
		reply, err = act.run(e, ctx, payload)
		replyOp = act.replyOp
	}
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, nil
	}
	if ctx == nil {
		// unit tests call OnMessage with no exchange context and want the
		// encoded bytes back directly
		return reply, nil
	}
	if err := ctx.SendMessage(uint8(replyOp), reply, true); err != nil {
		return nil, err
	}
	return nil, nil
}

// OnClose implements exchange.ExchangeDelegate, clearing any per-exchange
// handler state so a later exchange over the same session starts clean.
func (e *Engine) OnClose(ctx *exchange.ExchangeContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readHandler.Reset()
	e.writeHandler.Reset()
	e.invokeHandler.Reset()
}

func (e *Engine) handleReadRequest(ctx *exchange.ExchangeContext, payload []byte) ([]byte, error) {
	req, err := DecodeReadRequest(payload)
	if err != nil {
		return e.encodeStatusResponse(imsg.StatusInvalidAction)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	subject := SubjectFromExchange(ctx)
	handler := NewReadHandler(e.attributeReader(), e.maxPayload)
	if expander, ok := e.dispatcher.(PathExpander); ok {
		handler.expander = expander
		handler.access = e.attributeAccessFor(subject)
	}

	resp, err := handler.HandleReadRequest(ctx, req, uint8(subject.FabricIndex), subject.Subject)
	if err != nil {
		return e.encodeStatusResponse(ErrorToStatus(err))
	}
	e.readHandler = handler
	return EncodeReportData(resp)
}

func (e *Engine) handleWriteRequest(ctx *exchange.ExchangeContext, payload []byte) ([]byte, error) {
	req, err := DecodeWriteRequest(payload)
	if err != nil {
		return e.encodeStatusResponse(imsg.StatusInvalidAction)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	subject := SubjectFromExchange(ctx)
	if expander, ok := e.dispatcher.(PathExpander); ok {
		e.writeHandler.expander = expander
		e.writeHandler.access = e.attributeAccessFor(subject)
	}
	const timedInteractionsSupported = false

	resp, err := e.writeHandler.HandleWriteRequest(ctx, req, uint8(subject.FabricIndex), subject.Subject, timedInteractionsSupported)
	if err != nil {
		return e.encodeStatusResponse(ErrorToStatus(err))
	}
	if resp == nil {
		// SuppressResponse was requested.
		return nil, nil
	}
	return EncodeWriteResponse(resp)
}

func (e *Engine) handleInvokeRequest(ctx *exchange.ExchangeContext, payload []byte) ([]byte, error) {
	req, err := DecodeInvokeRequest(payload)
	if err != nil {
		return e.encodeStatusResponse(imsg.StatusInvalidAction)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	subject := SubjectFromExchange(ctx)
	handler := NewInvokeHandler(e.commandHandler(), e.maxPayload)
	handler.access = e.commandAccessFor(subject)
	const timedInteractionsSupported = false

	resp, err := handler.HandleInvokeRequest(ctx, req, uint8(subject.FabricIndex), subject.Subject, timedInteractionsSupported)
	if err != nil {
		return e.encodeStatusResponse(ErrorToStatus(err))
	}
	e.invokeHandler = handler
	return EncodeInvokeResponse(resp)
}

// pendingResponder describes an in-flight handler that is waiting on a
// StatusResponse to release its next chunk.
type pendingResponder struct {
	active  func() bool
	advance func(status imsg.Status) ([]byte, error)
	replyOp imsg.Opcode
}

// handleStatusResponse resolves a StatusResponseMessage against whichever
// handler (read or invoke) is mid-chunk. At most one can be active at a
// time since the engine serializes requests under e.mu.
func (e *Engine) handleStatusResponse(ctx *exchange.ExchangeContext, payload []byte) ([]byte, error) {
	statusMsg, err := DecodeStatusResponse(payload)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pending := []pendingResponder{
		{
			active: func() bool { return e.readHandler.State() == ReadHandlerStateSendingReport },
			advance: func(status imsg.Status) ([]byte, error) {
				resp, err := e.readHandler.HandleStatusResponse(status)
				if err != nil || resp == nil {
					return nil, err
				}
				return EncodeReportData(resp)
			},
			replyOp: imsg.OpcodeReportData,
		},
		{
			active: func() bool { return e.invokeHandler.State() == InvokeHandlerStateSendingResponse },
			advance: func(status imsg.Status) ([]byte, error) {
				resp, err := e.invokeHandler.HandleStatusResponse(status)
				if err != nil || resp == nil {
					return nil, err
				}
				return EncodeInvokeResponse(resp)
			},
			replyOp: imsg.OpcodeInvokeResponse,
		},
	}

	for _, p := range pending {
		if !p.active() {
			continue
		}
		reply, err := p.advance(statusMsg.Status)
		if err != nil {
			errReply, _ := e.encodeStatusResponse(ErrorToStatus(err))
			return e.sendOrReturn(ctx, uint8(imsg.OpcodeStatusResponse), errReply)
		}
		if reply == nil {
			return nil, nil
		}
		return e.sendOrReturn(ctx, uint8(p.replyOp), reply)
	}
	return nil, nil
}

func (e *Engine) sendOrReturn(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	if ctx == nil {
		return payload, nil
	}
	if err := ctx.SendMessage(opcode, payload, true); err != nil {
		return nil, err
	}
	return nil, nil
}

// attributeReader adapts the engine's Dispatcher to the AttributeReader
// function type the ReadHandler consumes.
func (e *Engine) attributeReader() AttributeReader {
	return func(ctx *ReadContext, path imsg.AttributePathIB) (*AttributeResult, error) {
		req := &AttributeReadRequest{Path: path, IsFabricFiltered: ctx.IsFabricFiltered}

		var buf bytes.Buffer
		w := tlv.NewWriter(&buf)
		if err := e.dispatcher.ReadAttribute(nil, req, w); err != nil {
			return &AttributeResult{Status: &imsg.StatusIB{Status: ErrorToStatus(err)}}, nil
		}
		return &AttributeResult{DataVersion: 1, Data: buf.Bytes()}, nil
	}
}

// commandHandler adapts the engine's Dispatcher to the CommandHandler
// function type the InvokeHandler consumes.
func (e *Engine) commandHandler() CommandHandler {
	return func(ctx *InvokeContext, path imsg.CommandPathIB, fields []byte) (*CommandResult, error) {
		req := &CommandInvokeRequest{Path: path, IsTimed: ctx.IsTimed}

		r := tlv.NewReader(bytes.NewReader(fields))
		respData, err := e.dispatcher.InvokeCommand(nil, req, r)
		if err != nil {
			return &CommandResult{Status: &imsg.StatusIB{Status: ErrorToStatus(err)}}, nil
		}
		return &CommandResult{ResponsePath: path, ResponseData: respData}, nil
	}
}

func (e *Engine) encodeStatusResponse(status imsg.Status) ([]byte, error) {
	return EncodeStatusResponse(status)
}
