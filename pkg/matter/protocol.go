package matter

import (
	"github.com/vellumhub/matterd/pkg/exchange"
	"github.com/vellumhub/matterd/pkg/im"
	"github.com/vellumhub/matterd/pkg/message"
	"github.com/vellumhub/matterd/pkg/securechannel"
)

// secureChannelAdapter adapts securechannel.Manager to exchange.ProtocolHandler.
type secureChannelAdapter struct {
	manager *securechannel.Manager
}

// newSecureChannelAdapter creates a new secure channel protocol adapter.
func newSecureChannelAdapter(manager *securechannel.Manager) *secureChannelAdapter {
	return &secureChannelAdapter{manager: manager}
}

// route forwards a secure channel message to the manager regardless of
// whether it arrived on an existing exchange or unsolicited.
func (a *secureChannelAdapter) route(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	return a.manager.Route(ctx.ID, securechannel.Opcode(opcode), payload)
}

// OnMessage handles a message on an existing exchange.
func (a *secureChannelAdapter) OnMessage(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	return a.route(ctx, opcode, payload)
}

// OnUnsolicited handles a new unsolicited message.
func (a *secureChannelAdapter) OnUnsolicited(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	return a.route(ctx, opcode, payload)
}

// Verify secureChannelAdapter implements exchange.ProtocolHandler.
var _ exchange.ProtocolHandler = (*secureChannelAdapter)(nil)

// imAdapter adapts im.Engine to exchange.ProtocolHandler.
type imAdapter struct {
	engine *im.Engine
}

// newIMAdapter creates a new interaction model protocol adapter.
func newIMAdapter(engine *im.Engine) *imAdapter {
	return &imAdapter{engine: engine}
}

// route builds the IM protocol header and forwards to the engine, regardless
// of whether the message arrived on an existing exchange or unsolicited.
func (a *imAdapter) route(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	header := &message.ProtocolHeader{
		ProtocolID:     im.ProtocolID,
		ProtocolOpcode: opcode,
		ExchangeID:     ctx.ID,
	}

	return a.engine.OnMessage(ctx, header, payload)
}

// OnMessage handles a message on an existing exchange.
func (a *imAdapter) OnMessage(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	return a.route(ctx, opcode, payload)
}

// OnUnsolicited handles a new unsolicited message.
func (a *imAdapter) OnUnsolicited(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	return a.route(ctx, opcode, payload)
}

// Verify imAdapter implements exchange.ProtocolHandler.
var _ exchange.ProtocolHandler = (*imAdapter)(nil)
