package buffer

import (
	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/ping"
)

// Transport picks which socket an outbound message travels over. Control
// messages (admission, spawn/despawn, host migration, connect/disconnect,
// ping) are always TCP (spec §5 ordering guarantees); application RPCs
// choose per their declared reliability.
type Transport int

const (
	TransportTCP Transport = iota
	TransportUDP
)

// OutboundMessage is a fully RPC-encoded payload (header + args, from
// rpccodec.Encode) queued for delivery to one or more clients.
type OutboundMessage struct {
	Transport Transport
	Targets   []ids.ClientId // nil/empty means "every currently connected client"
	Payload   []byte
}

// InboundMessage is a decoded message handed to the connection façade's
// dispatcher (spec §2 data flow: "dispatched locally ... or re-queued for
// relay").
type InboundMessage struct {
	From      ids.ClientId
	RpcId     ids.RpcId
	Payload   []byte // header + args, undecoded; the façade runs rpccodec.Decode
	Transport Transport
}

// EventKind distinguishes the roster/authority notifications a Buffer
// raises outside the normal application-message flow (spec §5: "the
// dispatcher processes client-event messages ... strictly before
// application RPCs received in the same batch").
type EventKind int

const (
	EventClientConnected EventKind = iota
	EventClientDisconnected
	EventHostMigration
)

func (k EventKind) String() string {
	switch k {
	case EventClientConnected:
		return "ClientConnected"
	case EventClientDisconnected:
		return "ClientDisconnected"
	case EventHostMigration:
		return "HostMigration"
	default:
		return "Unknown"
	}
}

// Event is one roster or authority change. ClientId names the peer that
// connected/disconnected (EventClientConnected/EventClientDisconnected);
// AuthorityId names the newly assigned authority (EventHostMigration). A
// client sees its own local admission as EventClientConnected with
// ClientId == LocalId().
type Event struct {
	Kind        EventKind
	ClientId    ids.ClientId
	AuthorityId ids.ClientId
}

// Buffer is the common contract every role implements (spec §4.5).
type Buffer interface {
	// Receive drains both sockets non-blocking, ingesting complete packets
	// and returning newly decoded messages.
	Receive() ([]InboundMessage, error)
	// Events drains the roster/authority notifications raised since the
	// last call, oldest first. A connection façade's dispatcher must apply
	// these before any InboundMessage from the same Receive batch.
	Events() []Event
	// Send flushes every peer's outbound packets.
	Send() error
	// Enqueue appends msg to the relevant peers' outbound packets.
	Enqueue(msg OutboundMessage) error
	// Disconnect tears down this endpoint's own session (client role) or
	// every connection (server/relay role, graceful shutdown).
	Disconnect() error
	// DisconnectClient drops one client; only meaningful on server/relay.
	DisconnectClient(id ids.ClientId) error
	// MigrateHost reassigns the relay's authority; only meaningful on a
	// relay. newHostId may be ids.NoneClientId to request the deterministic
	// fallback (spec §4.8 step 1).
	MigrateHost(newHostId ids.ClientId) error
	// Ping measures round-trip latency to target.
	Ping(target ids.ClientId, onResolved func(*ping.Request)) *ping.Request

	LocalId() ids.ClientId
	Authority() ids.ClientId
}
