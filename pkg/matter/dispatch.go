package matter

import (
	"context"

	"github.com/vellumhub/matterd/pkg/acl"
	"github.com/vellumhub/matterd/pkg/datamodel"
	"github.com/vellumhub/matterd/pkg/im"
	imsg "github.com/vellumhub/matterd/pkg/im/message"
	"github.com/vellumhub/matterd/pkg/tlv"
)

// nodeDispatcher implements im.Dispatcher by routing to the datamodel.
type nodeDispatcher struct {
	node *datamodel.BasicNode
}

// newNodeDispatcher creates a dispatcher that routes to the given node's data model.
func newNodeDispatcher(node *datamodel.BasicNode) *nodeDispatcher {
	return &nodeDispatcher{node: node}
}

// derefEndpoint returns the datamodel endpoint ID for an optional path pointer,
// defaulting to 0 when unset.
func derefEndpoint(p *imsg.EndpointID) datamodel.EndpointID {
	if p == nil {
		return 0
	}
	return datamodel.EndpointID(*p)
}

// derefCluster returns the datamodel cluster ID for an optional path pointer,
// defaulting to 0 when unset.
func derefCluster(p *imsg.ClusterID) datamodel.ClusterID {
	if p == nil {
		return 0
	}
	return datamodel.ClusterID(*p)
}

// derefAttribute returns the datamodel attribute ID for an optional path pointer,
// defaulting to 0 when unset.
func derefAttribute(p *imsg.AttributeID) datamodel.AttributeID {
	if p == nil {
		return 0
	}
	return datamodel.AttributeID(*p)
}

// resolveCluster looks up the endpoint and cluster for an (optional) endpoint
// and cluster path pointer pair, defaulting unset pointers to 0.
func (d *nodeDispatcher) resolveCluster(endpointPtr *imsg.EndpointID, clusterPtr *imsg.ClusterID) (datamodel.EndpointID, datamodel.ClusterID, datamodel.Cluster, error) {
	endpointID := derefEndpoint(endpointPtr)
	endpoint := d.node.GetEndpoint(endpointID)
	if endpoint == nil {
		return 0, 0, nil, im.ErrClusterNotFound
	}

	clusterID := derefCluster(clusterPtr)
	cluster := endpoint.GetCluster(clusterID)
	if cluster == nil {
		return 0, 0, nil, im.ErrClusterNotFound
	}

	return endpointID, clusterID, cluster, nil
}

// ReadAttribute reads an attribute value.
func (d *nodeDispatcher) ReadAttribute(ctx context.Context, req *im.AttributeReadRequest, w *tlv.Writer) error {
	endpointID, clusterID, cluster, err := d.resolveCluster(req.Path.Endpoint, req.Path.Cluster)
	if err != nil {
		return err
	}

	readReq := datamodel.ReadAttributeRequest{
		Path: datamodel.ConcreteAttributePath{
			Endpoint:  endpointID,
			Cluster:   clusterID,
			Attribute: derefAttribute(req.Path.Attribute),
		},
	}

	return cluster.ReadAttribute(ctx, readReq, w)
}

// WriteAttribute writes an attribute value.
func (d *nodeDispatcher) WriteAttribute(ctx context.Context, req *im.AttributeWriteRequest, r *tlv.Reader) error {
	endpointID, clusterID, cluster, err := d.resolveCluster(req.Path.Endpoint, req.Path.Cluster)
	if err != nil {
		return err
	}

	writeReq := datamodel.WriteAttributeRequest{
		Path: datamodel.ConcreteDataAttributePath{
			ConcreteAttributePath: datamodel.ConcreteAttributePath{
				Endpoint:  endpointID,
				Cluster:   clusterID,
				Attribute: derefAttribute(req.Path.Attribute),
			},
		},
	}

	return cluster.WriteAttribute(ctx, writeReq, r)
}

// InvokeCommand invokes a cluster command.
func (d *nodeDispatcher) InvokeCommand(ctx context.Context, req *im.CommandInvokeRequest, r *tlv.Reader) ([]byte, error) {
	// Get endpoint
	endpoint := d.node.GetEndpoint(datamodel.EndpointID(req.Path.Endpoint))
	if endpoint == nil {
		return nil, im.ErrClusterNotFound
	}

	// Get cluster
	cluster := endpoint.GetCluster(datamodel.ClusterID(req.Path.Cluster))
	if cluster == nil {
		return nil, im.ErrClusterNotFound
	}

	// Build an InvokeRequest for the cluster
	invokeReq := datamodel.InvokeRequest{
		Path: datamodel.ConcreteCommandPath{
			Endpoint: datamodel.EndpointID(req.Path.Endpoint),
			Cluster:  datamodel.ClusterID(req.Path.Cluster),
			Command:  datamodel.CommandID(req.Path.Command),
		},
	}

	return cluster.InvokeCommand(ctx, invokeReq, r)
}

// aclPrivilege maps a data-model privilege onto the ACL layer's scale.
func aclPrivilege(p *datamodel.Privilege) acl.Privilege {
	if p == nil {
		return 0
	}
	switch *p {
	case datamodel.PrivilegeView:
		return acl.PrivilegeView
	case datamodel.PrivilegeProxyView:
		return acl.PrivilegeProxyView
	case datamodel.PrivilegeOperate:
		return acl.PrivilegeOperate
	case datamodel.PrivilegeManage:
		return acl.PrivilegeManage
	case datamodel.PrivilegeAdminister:
		return acl.PrivilegeAdminister
	default:
		return 0
	}
}

// ExpandAttributePath implements im.PathExpander over the node's data
// model. An omitted endpoint walks every endpoint, an omitted cluster every
// cluster on the endpoint, an omitted attribute every attribute in the
// cluster's attribute list. A concrete component that does not exist fails
// with the matching im sentinel so the caller can report which layer was
// unsupported.
func (d *nodeDispatcher) ExpandAttributePath(path imsg.AttributePathIB) ([]im.ResolvedAttribute, error) {
	var endpoints []datamodel.Endpoint
	if path.Endpoint == nil {
		endpoints = d.node.GetEndpoints()
	} else {
		ep := d.node.GetEndpoint(datamodel.EndpointID(*path.Endpoint))
		if ep == nil {
			return nil, im.ErrEndpointNotFound
		}
		endpoints = []datamodel.Endpoint{ep}
	}

	var out []im.ResolvedAttribute
	for _, ep := range endpoints {
		var clusters []datamodel.Cluster
		if path.Cluster == nil {
			clusters = ep.GetClusters()
		} else {
			cl := ep.GetCluster(datamodel.ClusterID(*path.Cluster))
			if cl == nil {
				if path.Endpoint == nil {
					continue
				}
				return nil, im.ErrClusterNotFound
			}
			clusters = []datamodel.Cluster{cl}
		}

		for _, cl := range clusters {
			attrs := cl.AttributeList()
			if path.Attribute != nil {
				entry := datamodel.FindAttribute(attrs, datamodel.AttributeID(*path.Attribute))
				if entry == nil {
					if path.Endpoint == nil || path.Cluster == nil {
						continue
					}
					return nil, im.ErrAttributeNotFound
				}
				attrs = []datamodel.AttributeEntry{*entry}
			}
			for i := range attrs {
				out = append(out, im.ResolvedAttribute{
					Endpoint:       imsg.EndpointID(ep.ID()),
					Cluster:        imsg.ClusterID(cl.ID()),
					Attribute:      imsg.AttributeID(attrs[i].ID),
					ReadPrivilege:  aclPrivilege(attrs[i].ReadPrivilege),
					WritePrivilege: aclPrivilege(attrs[i].WritePrivilege),
				})
			}
		}
	}
	return out, nil
}

// ResolveCommandPath implements im.CommandResolver: it looks the command up
// in the cluster's accepted-command list and reports the privilege an
// invoker needs.
func (d *nodeDispatcher) ResolveCommandPath(path imsg.CommandPathIB) (im.ResolvedCommand, error) {
	ep := d.node.GetEndpoint(datamodel.EndpointID(path.Endpoint))
	if ep == nil {
		return im.ResolvedCommand{}, im.ErrEndpointNotFound
	}
	cl := ep.GetCluster(datamodel.ClusterID(path.Cluster))
	if cl == nil {
		return im.ResolvedCommand{}, im.ErrClusterNotFound
	}
	entry := datamodel.FindCommand(cl.AcceptedCommandList(), datamodel.CommandID(path.Command))
	if entry == nil {
		return im.ResolvedCommand{}, im.ErrCommandNotFound
	}
	priv := entry.InvokePrivilege
	return im.ResolvedCommand{
		InvokePrivilege: aclPrivilege(&priv),
		RequiresTimed:   entry.RequiresTimed(),
	}, nil
}

// Verify nodeDispatcher implements im.Dispatcher plus the path metadata
// interfaces the engine upgrades to when present.
var _ im.Dispatcher = (*nodeDispatcher)(nil)
var _ im.PathExpander = (*nodeDispatcher)(nil)
var _ im.CommandResolver = (*nodeDispatcher)(nil)

// StatusError wraps an IM status code as an error.
type StatusError struct {
	Status imsg.Status
}

func (e *StatusError) Error() string {
	return e.Status.String()
}

// NewStatusError creates a new StatusError.
func NewStatusError(status imsg.Status) *StatusError {
	return &StatusError{Status: status}
}
