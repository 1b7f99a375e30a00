// Package buffer implements the per-role connection state machines from
// spec §4.5: the common Buffer contract, and the Server/Client/Relay
// implementations (socket I/O, admission, client table, ping routing,
// permission enforcement, relay policy).
package buffer

import (
	"errors"

	"github.com/appnet-org/owlnet/pkg/ids"
)

// ErrPermissionDenied is returned when an RPC's declared Permission rejects
// its (caller, callee) pair — at send time on a client (spec §4.5.2), or
// implicitly dropped with an AuthorityChanged reply on a relay/server.
var ErrPermissionDenied = errors.New("buffer: rpc not permitted for this caller/callee pair")

// Permission classifies who may call an RPC and who it may target (spec
// §4.5.2). Declared per RPC alongside its ProtocolRegistry descriptor.
type Permission int

const (
	AuthorityToClients Permission = iota
	ClientsToAuthority
	ClientsToClients
	ClientsToAll
	AnyToAll
)

func (p Permission) String() string {
	switch p {
	case AuthorityToClients:
		return "AuthorityToClients"
	case ClientsToAuthority:
		return "ClientsToAuthority"
	case ClientsToClients:
		return "ClientsToClients"
	case ClientsToAll:
		return "ClientsToAll"
	case AnyToAll:
		return "AnyToAll"
	default:
		return "Unknown"
	}
}

// Check validates an RPC call's (caller, callee) pair against its
// permission class (spec §4.5.2 table). authority is ids.NoneClientId on a
// plain server (the server itself is the authority and holds no ClientId of
// its own) and a real ClientId on a relay once a host is assigned. callee is
// ids.NoneClientId for calls with no single target (ClientsToAll/AnyToAll
// broadcasts) — except for ClientsToAuthority, where it is the only way to
// address a plain server's authority, since that authority's id is itself
// ids.NoneClientId. calleeIsAuthority therefore compares callee == authority
// directly rather than special-casing callee.IsNone(): on a relay authority
// is never None, so the comparison still requires a real matching id.
func (p Permission) Check(caller, callee, authority ids.ClientId) bool {
	callerIsAuthority := caller == authority
	calleeIsAuthority := callee == authority

	switch p {
	case AuthorityToClients:
		return callerIsAuthority && !callee.IsNone() && !calleeIsAuthority
	case ClientsToAuthority:
		return !callerIsAuthority && calleeIsAuthority
	case ClientsToClients:
		return !callerIsAuthority && !callee.IsNone() && !calleeIsAuthority && callee != caller
	case ClientsToAll:
		return !callerIsAuthority
	case AnyToAll:
		return true
	default:
		return false
	}
}
