package im

import (
	"github.com/vellumhub/matterd/pkg/acl"
	"github.com/vellumhub/matterd/pkg/exchange"
	"github.com/vellumhub/matterd/pkg/fabric"
	"github.com/vellumhub/matterd/pkg/im/message"
	"github.com/vellumhub/matterd/pkg/session"
)

// AccessController is the slice of the ACL layer the engine consults before
// touching an attribute or command. Both acl.Checker and acl.Manager satisfy
// it.
type AccessController interface {
	Check(subject acl.SubjectDescriptor, target acl.RequestPath, required acl.Privilege) acl.Result
}

// ResolvedAttribute is one concrete (endpoint, cluster, attribute) triple a
// possibly-wildcard attribute path expands to, together with the privileges
// its metadata declares. A zero privilege means the corresponding operation
// is not supported on the attribute.
type ResolvedAttribute struct {
	Endpoint  message.EndpointID
	Cluster   message.ClusterID
	Attribute message.AttributeID

	ReadPrivilege  acl.Privilege
	WritePrivilege acl.Privilege
}

// PathIB returns the concrete AttributePathIB addressing this attribute.
func (r ResolvedAttribute) PathIB() message.AttributePathIB {
	ep, cl, at := r.Endpoint, r.Cluster, r.Attribute
	return message.AttributePathIB{Endpoint: &ep, Cluster: &cl, Attribute: &at}
}

// PathExpander expands wildcard attribute paths against the node's data
// model. An omitted endpoint means every endpoint, an omitted cluster every
// cluster on the endpoint, an omitted attribute every attribute on the
// cluster. Expansion of a fully concrete path that does not exist fails
// with ErrEndpointNotFound / ErrClusterNotFound / ErrAttributeNotFound so
// the caller can report the precise unsupported layer; a wildcard path that
// matches nothing expands to an empty slice with no error.
type PathExpander interface {
	ExpandAttributePath(path message.AttributePathIB) ([]ResolvedAttribute, error)
}

// ResolvedCommand carries the metadata an invoke access check needs.
type ResolvedCommand struct {
	InvokePrivilege acl.Privilege
	RequiresTimed   bool
}

// CommandResolver looks up command metadata for a concrete command path.
type CommandResolver interface {
	ResolveCommandPath(path message.CommandPathIB) (ResolvedCommand, error)
}

// attributeAccess is the per-request hook the read/write handlers consult
// for each concrete attribute before dispatching. nil means no access
// control is configured and everything is allowed.
type attributeAccess func(res ResolvedAttribute, write bool) bool

// commandAccess is the per-request hook the invoke handler consults for
// each command. It returns nil when access is granted, or the status to
// report instead of invoking.
type commandAccess func(path message.CommandPathIB) *message.Status

// sessionIdentity is the slice of session.SecureContext the IM layer reads
// to build the accessor's subject descriptor.
type sessionIdentity interface {
	SessionType() session.SessionType
	FabricIndex() fabric.FabricIndex
	PeerNodeID() fabric.NodeID
	PeerSessionID() uint16
	CaseAuthTags() []uint32
}

// SubjectFromExchange derives the accessing subject from the exchange's
// underlying session. A PASE session (or the unsecured bootstrap session
// PASE itself runs over) yields a commissioning subject, which the ACL
// layer grants implicit Administer.
func SubjectFromExchange(ctx *exchange.ExchangeContext) acl.SubjectDescriptor {
	if ctx == nil {
		return acl.SubjectDescriptor{AuthMode: acl.AuthModePASE, IsCommissioning: true}
	}
	sess, ok := ctx.Session().(sessionIdentity)
	if !ok {
		// Unsecured session: only the PASE handshake itself travels here.
		return acl.SubjectDescriptor{AuthMode: acl.AuthModePASE, IsCommissioning: true}
	}

	if sess.SessionType() == session.SessionTypeCASE {
		subject := acl.SubjectDescriptor{
			FabricIndex: sess.FabricIndex(),
			AuthMode:    acl.AuthModeCASE,
			Subject:     uint64(sess.PeerNodeID()),
		}
		for i, tag := range sess.CaseAuthTags() {
			if i >= len(subject.CATs) {
				break
			}
			subject.CATs[i] = acl.CASEAuthTag(tag)
		}
		return subject
	}

	// PASE: the peer has no operational identity yet; its session id is the
	// only subject handle available.
	return acl.SubjectDescriptor{
		FabricIndex:     sess.FabricIndex(),
		AuthMode:        acl.AuthModePASE,
		Subject:         uint64(sess.PeerSessionID()),
		IsCommissioning: true,
	}
}

// attributeAccessFor binds the engine's access controller to a subject for
// the duration of one request. Returns nil (allow all) when no controller
// is configured.
func (e *Engine) attributeAccessFor(subject acl.SubjectDescriptor) attributeAccess {
	if e.aclChecker == nil {
		return nil
	}
	return func(res ResolvedAttribute, write bool) bool {
		required := res.ReadPrivilege
		reqType := acl.RequestTypeAttributeRead
		if write {
			required = res.WritePrivilege
			reqType = acl.RequestTypeAttributeWrite
		}
		if required == 0 {
			return false
		}
		target := acl.NewRequestPathWithEntity(uint32(res.Cluster), uint16(res.Endpoint), reqType, uint32(res.Attribute))
		return e.aclChecker.Check(subject, target, required) == acl.ResultAllowed
	}
}

// commandAccessFor binds command metadata resolution plus the access
// controller to a subject. Returns nil when either half is missing, in
// which case invokes proceed unchecked (the standalone-handler test path).
func (e *Engine) commandAccessFor(subject acl.SubjectDescriptor) commandAccess {
	resolver, ok := e.dispatcher.(CommandResolver)
	if !ok || e.aclChecker == nil {
		return nil
	}
	return func(path message.CommandPathIB) *message.Status {
		res, err := resolver.ResolveCommandPath(path)
		if err != nil {
			st := ErrorToStatus(err)
			return &st
		}
		target := acl.NewRequestPathWithEntity(uint32(path.Cluster), uint16(path.Endpoint), acl.RequestTypeCommandInvoke, uint32(path.Command))
		if e.aclChecker.Check(subject, target, res.InvokePrivilege) != acl.ResultAllowed {
			st := message.StatusUnsupportedAccess
			return &st
		}
		return nil
	}
}
