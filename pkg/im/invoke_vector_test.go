package im

import (
	"bytes"
	"context"
	"testing"

	imsg "github.com/vellumhub/matterd/pkg/im/message"
	"github.com/vellumhub/matterd/pkg/message"
	"github.com/vellumhub/matterd/pkg/tlv"
)

// fieldCapture records the command path and decodes the single u8 field the
// captured request carries.
type fieldCapture struct {
	NullDispatcher
	path  imsg.CommandPathIB
	value uint64
	got   bool
}

func (f *fieldCapture) InvokeCommand(ctx context.Context, req *CommandInvokeRequest, r *tlv.Reader) ([]byte, error) {
	f.path = req.Path
	if r == nil {
		return nil, nil
	}
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	if err := r.Next(); err != nil {
		return nil, err
	}
	v, err := r.Uint()
	if err != nil {
		return nil, err
	}
	f.value = v
	f.got = true
	return nil, nil
}

// TestInvokeRequest_WireRouting feeds the engine the raw wire bytes of an
// InvokeRequest for (endpoint 2, on/off cluster, command 1) with payload
// {1: 0x05} and checks the command lands on the right path with the field
// intact.
func TestInvokeRequest_WireRouting(t *testing.T) {
	wire := []byte{
		0x15,             // request struct
		0x28, 0x00,       // SuppressResponse = false
		0x28, 0x01,       // TimedRequest = false
		0x36, 0x02,       // InvokeRequests array
		0x15,             // CommandDataIB
		0x37, 0x00,       // CommandPathIB list
		0x24, 0x00, 0x02, //   endpoint 2
		0x24, 0x01, 0x06, //   cluster 0x0006 (on/off)
		0x24, 0x02, 0x01, //   command 1
		0x18,             // end path
		0x35, 0x01,       // command fields struct
		0x24, 0x01, 0x05, //   field 1 = 5
		0x18,             // end fields
		0x18, // end CommandDataIB
		0x18, // end array
		0x18, // end request
	}

	dispatcher := &fieldCapture{}
	engine := NewEngine(EngineConfig{Dispatcher: dispatcher})

	hdr := &message.ProtocolHeader{ProtocolOpcode: uint8(imsg.OpcodeInvokeRequest)}
	reply, err := engine.OnMessage(nil, hdr, wire)
	if err != nil {
		t.Fatalf("OnMessage: %v", err)
	}

	if dispatcher.path.Endpoint != 2 || dispatcher.path.Cluster != 0x0006 || dispatcher.path.Command != 1 {
		t.Errorf("command path = %+v, want endpoint 2, cluster 0x0006, command 1", dispatcher.path)
	}
	if !dispatcher.got || dispatcher.value != 5 {
		t.Errorf("command field = %d (got=%v), want 5", dispatcher.value, dispatcher.got)
	}

	var resp imsg.InvokeResponseMessage
	if err := resp.Decode(tlv.NewReader(bytes.NewReader(reply))); err != nil {
		t.Fatalf("decode InvokeResponse: %v", err)
	}
	if len(resp.InvokeResponses) != 1 {
		t.Fatalf("InvokeResponses = %d, want 1", len(resp.InvokeResponses))
	}
	status := resp.InvokeResponses[0].Status
	if status == nil || status.Status.Status != imsg.StatusSuccess {
		t.Errorf("response status = %+v, want Success", status)
	}
}
