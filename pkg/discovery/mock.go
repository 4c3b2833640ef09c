package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver is a test double implementing MDNSResolver that serves
// entries from an in-memory registry instead of the network.
type MockMDNSResolver struct {
	mu       sync.Mutex
	services map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver creates an empty MockMDNSResolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{
		services: make(map[string][]*zeroconf.ServiceEntry),
	}
}

// RegisterService adds an entry to the registry under the given service string.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

// ClearServices removes all registered entries.
func (m *MockMDNSResolver) ClearServices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string][]*zeroconf.ServiceEntry)
}

// Browse synchronously sends all registered entries for the service, then
// blocks until ctx is done (mirroring the streaming nature of a real browse).
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.Lock()
	matches := append([]*zeroconf.ServiceEntry(nil), m.services[service]...)
	m.mu.Unlock()

	go func() {
		defer close(entries)
		for _, e := range matches {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()

	return nil
}

// Lookup synchronously sends the entry matching instance+service, if any.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.Lock()
	matches := m.services[service]
	m.mu.Unlock()

	go func() {
		defer close(entries)
		for _, e := range matches {
			if e.Instance != instance {
				continue
			}
			select {
			case entries <- e:
			case <-ctx.Done():
			}
			return
		}
	}()

	return nil
}

// MockCommissionableService builds a zeroconf.ServiceEntry representing a
// commissionable node advertisement, for use with RegisterService in tests.
func MockCommissionableService(instanceName string, port int, ip net.IP, discriminator uint16) *zeroconf.ServiceEntry {
	txt := []string{
		"D=" + strconv.Itoa(int(discriminator)),
		"CM=1",
	}

	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instanceName,
			Service:  ServiceCommissionable,
			Domain:   DefaultDomain,
		},
		HostName: instanceName + ".local.",
		Port:     port,
		Text:     txt,
	}

	if ip4 := ip.To4(); ip4 != nil {
		entry.AddrIPv4 = []net.IP{ip4}
	} else {
		entry.AddrIPv6 = []net.IP{ip}
	}

	return entry
}

// MockOperationalService builds a zeroconf.ServiceEntry representing an
// operational node advertisement, for use with RegisterService in tests.
func MockOperationalService(compressedFabricID [8]byte, nodeID uint64, port int, ip net.IP) *zeroconf.ServiceEntry {
	instanceName := OperationalInstanceNameFromBytes(compressedFabricID[:], nodeID)

	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instanceName,
			Service:  ServiceOperational,
			Domain:   DefaultDomain,
		},
		HostName: instanceName + ".local.",
		Port:     port,
	}

	if ip4 := ip.To4(); ip4 != nil {
		entry.AddrIPv4 = []net.IP{ip4}
	} else {
		entry.AddrIPv6 = []net.IP{ip}
	}

	return entry
}
