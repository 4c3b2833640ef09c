package datamodel

import "sync"

// BasicNode is the in-memory Node → Endpoint registry the core stack ships
// with. Lookups and the descriptor cluster's PartsList both need endpoints
// in the order they were added, so a parallel slice tracks insertion order
// alongside the id-keyed map.
type BasicNode struct {
	mu        sync.RWMutex
	endpoints map[EndpointID]Endpoint
	order     []EndpointID
	listener  AttributeChangeListener
}

// NewNode creates a new empty node.
func NewNode() *BasicNode {
	return &BasicNode{
		endpoints: make(map[EndpointID]Endpoint),
	}
}

// AddEndpoint registers an endpoint with the node.
// Returns ErrEndpointExists if an endpoint with the same ID already exists.
func (n *BasicNode) AddEndpoint(ep Endpoint) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := ep.ID()
	if _, exists := n.endpoints[id]; exists {
		return ErrEndpointExists
	}

	n.endpoints[id] = ep
	n.order = append(n.order, id)
	return nil
}

// RemoveEndpoint removes an endpoint from the node.
// Returns ErrEndpointNotFound if the endpoint doesn't exist.
func (n *BasicNode) RemoveEndpoint(id EndpointID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.endpoints[id]; !exists {
		return ErrEndpointNotFound
	}

	delete(n.endpoints, id)
	n.order = removeID(n.order, id)
	return nil
}

// GetEndpoint returns the endpoint with the given ID, or nil if not found.
func (n *BasicNode) GetEndpoint(id EndpointID) Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.endpoints[id]
}

// GetEndpoints returns all endpoints in registration order.
func (n *BasicNode) GetEndpoints() []Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return orderedValues(n.order, n.endpoints)
}

// EndpointCount returns the number of registered endpoints.
func (n *BasicNode) EndpointCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.endpoints)
}

// HasEndpoint returns true if an endpoint with the given ID exists.
func (n *BasicNode) HasEndpoint(id EndpointID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, exists := n.endpoints[id]
	return exists
}

// SetAttributeChangeListener sets the listener for attribute changes.
func (n *BasicNode) SetAttributeChangeListener(listener AttributeChangeListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = listener
}

// NotifyAttributeChanged notifies the listener that an attribute changed.
// This should be called by clusters when attributes are modified.
func (n *BasicNode) NotifyAttributeChanged(path ConcreteAttributePath) {
	n.mu.RLock()
	listener := n.listener
	n.mu.RUnlock()

	if listener != nil {
		listener.OnAttributeChanged(path)
	}
}

// GetCluster is a convenience method to get a cluster by endpoint and cluster ID.
// Returns nil if the endpoint or cluster doesn't exist.
func (n *BasicNode) GetCluster(endpointID EndpointID, clusterID ClusterID) Cluster {
	ep := n.GetEndpoint(endpointID)
	if ep == nil {
		return nil
	}
	return ep.GetCluster(clusterID)
}

// Verify BasicNode implements the interfaces.
var (
	_ Node              = (*BasicNode)(nil)
	_ DataModelProvider = (*BasicNode)(nil)
)
