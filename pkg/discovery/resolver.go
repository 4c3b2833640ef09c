package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vellumhub/matterd/pkg/fabric"
	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for a single-target lookup.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedService describes a discovered DNS-SD service instance.
type ResolvedService struct {
	ServiceType  ServiceType
	InstanceName string
	HostName     string
	Port         int
	IPs          []net.IP
	Text         map[string]string
}

// PreferredIP returns the highest-priority IP address for this service,
// per the sorting rules in Spec Section 4.3.2.6.
func (r ResolvedService) PreferredIP() (net.IP, bool) {
	sorted := SortIPsByPreference(r.IPs)
	if len(sorted) == 0 {
		return nil, false
	}
	return sorted[0], true
}

// IPv6Addresses returns only the IPv6 addresses for this service.
func (r ResolvedService) IPv6Addresses() []net.IP {
	return FilterIPv6(r.IPs)
}

// IPv4Addresses returns only the IPv4 addresses for this service.
func (r ResolvedService) IPv4Addresses() []net.IP {
	return FilterIPv4(r.IPs)
}

// MDNSResolver is the interface for mDNS service discovery.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse discovers all instances of a service and streams entries on the channel.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup resolves a single named instance of a service.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production MDNSResolver backed by grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Lookup(ctx, instance, service, domain, entries)
}

// ResolverConfig holds configuration for a Resolver.
type ResolverConfig struct {
	// BrowseTimeout bounds how long a browse runs when the caller's context
	// has no deadline of its own. Defaults to DefaultBrowseTimeout.
	BrowseTimeout time.Duration

	// LookupTimeout bounds how long a single-target lookup runs when the
	// caller's context has no deadline of its own. Defaults to DefaultLookupTimeout.
	LookupTimeout time.Duration

	// MDNSResolver injects a resolver implementation (for tests). If nil,
	// the production zeroconf resolver is used.
	MDNSResolver MDNSResolver
}

// Resolver discovers Matter services on the network via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

// NewResolver creates a Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	return &Resolver{config: config, resolver: resolver}, nil
}

// BrowseCommissionable discovers all commissionable nodes on the network.
func (r *Resolver) BrowseCommissionable(ctx context.Context) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceTypeCommissionable, ServiceCommissionable)
}

// BrowseCommissionableWithFilter discovers commissionable nodes matching a subtype filter.
func (r *Resolver) BrowseCommissionableWithFilter(ctx context.Context, subtype string) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceTypeCommissionable, subtype+"._sub."+ServiceCommissionable)
}

// BrowseCommissionableByDiscriminator discovers commissionable nodes advertising
// the given long discriminator.
func (r *Resolver) BrowseCommissionableByDiscriminator(ctx context.Context, discriminator uint16) (<-chan ResolvedService, error) {
	return r.BrowseCommissionableWithFilter(ctx, LongDiscriminatorSubtype(discriminator))
}

// BrowseCommissionableByVendor discovers commissionable nodes advertising the given vendor ID.
func (r *Resolver) BrowseCommissionableByVendor(ctx context.Context, vendorID fabric.VendorID) (<-chan ResolvedService, error) {
	return r.BrowseCommissionableWithFilter(ctx, VendorIDSubtype(vendorID))
}

// BrowseOperational discovers operational nodes on the network.
func (r *Resolver) BrowseOperational(ctx context.Context) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceTypeOperational, ServiceOperational)
}

// BrowseCommissioner discovers commissioners advertising on the network.
func (r *Resolver) BrowseCommissioner(ctx context.Context) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceTypeCommissioner, ServiceCommissioner)
}

// browse runs a DNS-SD browse for the given service string and streams
// resolved entries on the returned channel.
func (r *Resolver) browse(ctx context.Context, serviceType ServiceType, service string) (<-chan ResolvedService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	rawEntries := make(chan *zeroconf.ServiceEntry)
	if err := r.resolver.Browse(ctx, service, DefaultDomain, rawEntries); err != nil {
		return nil, fmt.Errorf("discovery: browse %s failed: %w", service, err)
	}

	out := make(chan ResolvedService)
	go func() {
		defer close(out)
		for {
			select {
			case entry, ok := <-rawEntries:
				if !ok {
					return
				}
				svc, err := entryToResolvedService(serviceType, entry)
				if err != nil {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// LookupOperational resolves a single operational node by compressed fabric ID and node ID.
func (r *Resolver) LookupOperational(ctx context.Context, compressedFabricID [8]byte, nodeID fabric.NodeID) (*ResolvedService, error) {
	instanceName := OperationalInstanceName(compressedFabricID, nodeID)
	return r.Lookup(ctx, instanceName, ServiceTypeOperational, ServiceOperational)
}

// Lookup resolves a single named service instance.
func (r *Resolver) Lookup(ctx context.Context, instanceName string, serviceType ServiceType, service string) (*ResolvedService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry, 1)
	if err := r.resolver.Lookup(ctx, instanceName, service, DefaultDomain, entries); err != nil {
		return nil, fmt.Errorf("discovery: lookup %s failed: %w", instanceName, err)
	}

	select {
	case entry, ok := <-entries:
		if !ok {
			return nil, ErrServiceNotFound
		}
		svc, err := entryToResolvedService(serviceType, entry)
		if err != nil {
			return nil, err
		}
		return &svc, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// DiscoverCommissionableNode browses for a commissionable node with the given
// long discriminator and returns the first match, bounded by ctx.
func (r *Resolver) DiscoverCommissionableNode(ctx context.Context, discriminator uint16) (*ResolvedService, error) {
	entries, err := r.BrowseCommissionableByDiscriminator(ctx, discriminator)
	if err != nil {
		return nil, err
	}

	select {
	case svc, ok := <-entries:
		if !ok {
			return nil, ErrServiceNotFound
		}
		return &svc, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// entryToResolvedService converts a zeroconf.ServiceEntry into a ResolvedService,
// combining IPv4/IPv6 addresses and sorting them by Matter's address preference.
func entryToResolvedService(serviceType ServiceType, entry *zeroconf.ServiceEntry) (ResolvedService, error) {
	ips := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)
	ips = SortIPsByPreference(ips)

	text := ParseTXT(entry.Text)

	return ResolvedService{
		ServiceType:  serviceType,
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          ips,
		Text:         text,
	}, nil
}

// Subtype filter builders for DNS-SD subtype-qualified browses.
// Spec Section 4.3.1.2

// ShortDiscriminatorSubtype builds the subtype selector for a short discriminator filter.
func ShortDiscriminatorSubtype(shortDiscriminator uint8) string {
	return "_S" + strconv.Itoa(int(shortDiscriminator))
}

// LongDiscriminatorSubtype builds the subtype selector for a long discriminator filter.
func LongDiscriminatorSubtype(longDiscriminator uint16) string {
	return "_L" + strconv.Itoa(int(longDiscriminator))
}

// VendorIDSubtype builds the subtype selector for a vendor ID filter.
func VendorIDSubtype(vendorID fabric.VendorID) string {
	return "_V" + strconv.Itoa(int(vendorID))
}

// DeviceTypeSubtype builds the subtype selector for a device type filter.
func DeviceTypeSubtype(deviceType uint32) string {
	return "_T" + strconv.Itoa(int(deviceType))
}

// CommissioningModeSubtype is the subtype selector for nodes open for commissioning.
const CommissioningModeSubtype = "_CM"
