package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/vellumhub/matterd/pkg/fabric"
	"github.com/pion/logging"
)

// ManagerConfig holds configuration for a Manager.
type ManagerConfig struct {
	// HostName is the mDNS host name advertised by the local advertiser.
	HostName string

	// Port is the Matter port to advertise (default: DefaultPort).
	Port int

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// BrowseTimeout bounds browse operations with no caller-supplied deadline.
	BrowseTimeout time.Duration

	// LookupTimeout bounds lookup operations with no caller-supplied deadline.
	LookupTimeout time.Duration

	// ServerFactory is the factory for creating mDNS advertising servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// MDNSResolver injects a resolver implementation (for tests). If nil,
	// the production zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Manager combines an Advertiser and a Resolver behind a single lifecycle,
// so a node can both advertise itself and discover peers through one handle.
type Manager struct {
	config     ManagerConfig
	advertiser *Advertiser
	resolver   *Resolver

	mu     sync.RWMutex
	closed bool
}

// NewManager creates a Manager with the given configuration.
func NewManager(config ManagerConfig) (*Manager, error) {
	advertiser, err := NewAdvertiser(AdvertiserConfig{
		HostName:      config.HostName,
		Port:          config.Port,
		Interfaces:    config.Interfaces,
		ServerFactory: config.ServerFactory,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	resolver, err := NewResolver(ResolverConfig{
		BrowseTimeout: config.BrowseTimeout,
		LookupTimeout: config.LookupTimeout,
		MDNSResolver:  config.MDNSResolver,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:     config,
		advertiser: advertiser,
		resolver:   resolver,
	}, nil
}

// guardOpen returns ErrClosed if the manager has been closed, nil otherwise.
func (m *Manager) guardOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close stops all advertising and closes the manager. Idempotent beyond the
// first call, which reports ErrClosed on repeat.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	m.mu.Unlock()

	return m.advertiser.Close()
}

// Advertiser returns the underlying Advertiser.
func (m *Manager) Advertiser() *Advertiser {
	return m.advertiser
}

// Resolver returns the underlying Resolver.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// StartCommissionable begins advertising the commissionable node discovery service.
func (m *Manager) StartCommissionable(txt CommissionableTXT) error {
	if err := m.guardOpen(); err != nil {
		return err
	}
	return m.advertiser.StartCommissionable(txt)
}

// StartOperational begins advertising the operational discovery service.
func (m *Manager) StartOperational(compressedFabricID [8]byte, nodeID fabric.NodeID, txt OperationalTXT) error {
	if err := m.guardOpen(); err != nil {
		return err
	}
	return m.advertiser.StartOperational(compressedFabricID, nodeID, txt)
}

// StartCommissioner begins advertising the commissioner discovery service.
func (m *Manager) StartCommissioner(txt CommissionerTXT) error {
	if err := m.guardOpen(); err != nil {
		return err
	}
	return m.advertiser.StartCommissioner(txt)
}

// StopAdvertising stops advertising a specific service type.
func (m *Manager) StopAdvertising(serviceType ServiceType) error {
	if err := m.guardOpen(); err != nil {
		return err
	}
	return m.advertiser.Stop(serviceType)
}

// StopAllAdvertising stops all active service advertisements.
func (m *Manager) StopAllAdvertising() error {
	if err := m.guardOpen(); err != nil {
		return err
	}
	m.advertiser.StopAll()
	return nil
}

// IsAdvertising returns true if the given service type is currently advertised.
func (m *Manager) IsAdvertising(serviceType ServiceType) bool {
	if err := m.guardOpen(); err != nil {
		return false
	}
	return m.advertiser.IsAdvertising(serviceType)
}

// BrowseCommissionable discovers all commissionable nodes on the network.
func (m *Manager) BrowseCommissionable(ctx context.Context) (<-chan ResolvedService, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseCommissionable(ctx)
}

// BrowseCommissionableByDiscriminator discovers commissionable nodes advertising
// the given long discriminator.
func (m *Manager) BrowseCommissionableByDiscriminator(ctx context.Context, discriminator uint16) (<-chan ResolvedService, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseCommissionableByDiscriminator(ctx, discriminator)
}

// BrowseCommissionableByVendor discovers commissionable nodes advertising the given vendor ID.
func (m *Manager) BrowseCommissionableByVendor(ctx context.Context, vendorID fabric.VendorID) (<-chan ResolvedService, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseCommissionableByVendor(ctx, vendorID)
}

// BrowseOperational discovers operational nodes on the network.
func (m *Manager) BrowseOperational(ctx context.Context) (<-chan ResolvedService, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseOperational(ctx)
}

// BrowseCommissioner discovers commissioners advertising on the network.
func (m *Manager) BrowseCommissioner(ctx context.Context) (<-chan ResolvedService, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	return m.resolver.BrowseCommissioner(ctx)
}

// LookupOperational resolves a single operational node by compressed fabric ID and node ID.
func (m *Manager) LookupOperational(ctx context.Context, compressedFabricID [8]byte, nodeID fabric.NodeID) (*ResolvedService, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	return m.resolver.LookupOperational(ctx, compressedFabricID, nodeID)
}

// DiscoverCommissionableNode browses for a commissionable node with the given
// long discriminator and returns the first match, bounded by ctx.
func (m *Manager) DiscoverCommissionableNode(ctx context.Context, discriminator uint16) (*ResolvedService, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	return m.resolver.DiscoverCommissionableNode(ctx, discriminator)
}
