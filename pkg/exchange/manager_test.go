package exchange

import (
	"net"
	"testing"

	"github.com/vellumhub/matterd/pkg/transport"
)

func testPeerAddress() transport.PeerAddress {
	return transport.PeerAddress{
		Addr:          &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5540},
		TransportType: transport.TransportTypeUDP,
	}
}

// TestCloseLeavesOtherExchangesIntact closes one of two exchanges on the
// same session and checks the survivor stays reachable under its key.
func TestCloseLeavesOtherExchangesIntact(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	sess := newTestSession(1, 2)
	addr := testPeerAddress()

	ex1, err := mgr.NewExchange(sess, 1, addr, 0, nil)
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}
	ex2, err := mgr.NewExchange(sess, 1, addr, 0, nil)
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}
	if mgr.ExchangeCount() != 2 {
		t.Fatalf("ExchangeCount = %d, want 2", mgr.ExchangeCount())
	}

	if err := ex1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if mgr.ExchangeCount() != 1 {
		t.Fatalf("ExchangeCount after close = %d, want 1", mgr.ExchangeCount())
	}
	if _, ok := mgr.GetExchange(1, ex1.ID, ExchangeRoleInitiator); ok {
		t.Error("closed exchange still reachable")
	}

	got, ok := mgr.GetExchange(1, ex2.ID, ExchangeRoleInitiator)
	if !ok {
		t.Fatal("surviving exchange not reachable")
	}
	if got != ex2 {
		t.Error("GetExchange returned a different exchange context")
	}

	// The same key under the opposite role must not resolve.
	if _, ok := mgr.GetExchange(1, ex2.ID, ExchangeRoleResponder); ok {
		t.Error("exchange resolved under the wrong role")
	}
}

// TestCloseIsIdempotent closes the same exchange twice.
func TestCloseIsIdempotent(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	ex, err := mgr.NewExchange(newTestSession(1, 2), 1, testPeerAddress(), 0, nil)
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}

	if err := ex.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ex.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if mgr.ExchangeCount() != 0 {
		t.Errorf("ExchangeCount = %d, want 0", mgr.ExchangeCount())
	}
}

// TestExchangeTableBound fills the table to MaxExchanges and checks the
// next creation fails with ErrNoSpace, then that closing one frees a slot.
func TestExchangeTableBound(t *testing.T) {
	mgr := NewManager(ManagerConfig{})
	sess := newTestSession(1, 2)
	addr := testPeerAddress()

	contexts := make([]*ExchangeContext, 0, MaxExchanges)
	for i := 0; i < MaxExchanges; i++ {
		ex, err := mgr.NewExchange(sess, 1, addr, 0, nil)
		if err != nil {
			t.Fatalf("NewExchange %d: %v", i, err)
		}
		contexts = append(contexts, ex)
	}

	if _, err := mgr.NewExchange(sess, 1, addr, 0, nil); err != ErrNoSpace {
		t.Fatalf("NewExchange past bound: err = %v, want ErrNoSpace", err)
	}

	if err := contexts[0].Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := mgr.NewExchange(sess, 1, addr, 0, nil); err != nil {
		t.Fatalf("NewExchange after close: %v", err)
	}
}
