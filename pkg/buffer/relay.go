package buffer

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/owlnet/pkg/config"
	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/logging"
	"github.com/appnet-org/owlnet/pkg/migration"
	"github.com/appnet-org/owlnet/pkg/ping"
	"github.com/appnet-org/owlnet/pkg/rpccodec"
	"github.com/appnet-org/owlnet/pkg/spawn"
)

// RelayBuffer is the relay role from spec §4.5.3: admission identical to
// ServerBuffer, plus host selection, migration, permission-gated
// client-to-client forwarding, and the shutdown-when-empty policy. It
// embeds *ServerBuffer and supplies relay policy through the hook options
// ServerBuffer exposes, rather than duplicating the socket/admission code.
type RelayBuffer struct {
	*ServerBuffer
	coordinator *migration.Coordinator
}

// NewRelayBuffer builds a RelayBuffer. cfg.Migratable (forced true whenever
// cfg.ShutdownWhenEmpty is false, per config.New) decides whether the
// relay survives its current host disconnecting.
func NewRelayBuffer(cfg *config.Config, log *logging.Logger, registry rpccodec.ProtocolRegistry, spawner *spawn.Spawner, permissions map[ids.RpcId]Permission) (*RelayBuffer, error) {
	r := &RelayBuffer{coordinator: migration.NewCoordinator(cfg.Migratable)}

	admissionPolicy := func(req ConnectionRequest) ConnectionResponseCode {
		if req.IsHost && !r.coordinator.Authority().IsNone() {
			return HostAlreadyAssigned
		}
		return Accepted
	}

	onAdmitted := func(record *ClientRecord, requestedHost bool) {
		wantsHost := requestedHost || cfg.HostAddr == ""
		if cfg.HostAddr != "" {
			if tcpAddr, ok := record.TCPConn.RemoteAddr().(*net.TCPAddr); ok {
				wantsHost = tcpAddr.IP.String() == cfg.HostAddr
			}
		}
		if !wantsHost || !r.coordinator.Authority().IsNone() {
			return
		}
		r.coordinator.Migrate(record.Id)
		r.broadcastHostMigration(record.Id)
	}

	onDisconnected := func(id ids.ClientId) {
		if r.coordinator.Authority() != id {
			return
		}
		if r.coordinator.ShouldShutdownOnAuthorityDisconnect() {
			r.log.Info(logging.CategoryLifecycle, "authority disconnected, relay is not migratable, shutting down")
			_ = r.Disconnect()
			return
		}
		next, err := migration.SelectNewAuthority(r.clients.IdsExcept(id), ids.NoneClientId)
		if err != nil {
			r.coordinator.Migrate(ids.NoneClientId)
			return
		}
		r.coordinator.Migrate(next)
		r.broadcastHostMigration(next)
	}

	s, err := NewServerBuffer(cfg, log, registry, spawner, permissions,
		withAllowHost(true),
		withAuthorityFunc(r.coordinator.Authority),
		withAdmissionPolicy(admissionPolicy),
		withAdmissionHook(onAdmitted),
		withDisconnectHook(onDisconnected),
		withApplicationDispatch(r.ForwardIfPermitted),
		withPingDispatch(r.routePing),
	)
	if err != nil {
		return nil, err
	}
	r.ServerBuffer = s
	return r, nil
}

func (r *RelayBuffer) broadcastHostMigration(newAuthority ids.ClientId) {
	r.broadcastExcept(ids.NoneClientId, ids.RpcHostMigration, &HostMigrationPayload{NewAuthorityId: newAuthority})
	r.pushEvent(Event{Kind: EventHostMigration, AuthorityId: newAuthority})
}

// MigrateHost lets the relay's own application code force a migration
// (e.g. an operator command), overriding the embedded ServerBuffer's
// "relay only" stub. newHostId may be ids.NoneClientId to request the
// deterministic first-admitted-client fallback.
func (r *RelayBuffer) MigrateHost(newHostId ids.ClientId) error {
	candidates := r.clients.IdsExcept(ids.NoneClientId)
	next, err := migration.SelectNewAuthority(candidates, newHostId)
	if err != nil {
		return err
	}
	r.coordinator.Migrate(next)
	r.broadcastHostMigration(next)
	return nil
}

// ForwardIfPermitted applies the permission table to an inbound
// application RPC (rpcId >= ids.FirstUserRpcId) and relays it verbatim to
// its callee(s) when allowed (spec §4.5.2/§4.5.3). The relay never executes
// application RPCs and never trusts header.CallerId on its own: spec §4.5.3
// requires validating caller == claimedCaller first, since from is the
// identity the bytes were actually authenticated under (the client record
// whose secret matched) while header.CallerId is whatever the payload
// claims — without this check a client could forge another client's or the
// authority's id and have the permission check and AuthorityChanged
// sender-identification both run against the forged identity. A violation
// (forged caller, or a real permission-table rejection) is answered with
// AuthorityChanged rather than forwarded, since the most common legitimate
// cause is a sender's stale view of the authority after a migration.
func (r *RelayBuffer) ForwardIfPermitted(from ids.ClientId, header rpccodec.Header, raw []byte, transport Transport) {
	authority := r.coordinator.Authority()

	if header.CallerId != from {
		r.log.Warn(logging.CategoryException, "rpc claimed caller does not match authenticated sender, dropping", zap.Uint32("claimed", uint32(header.CallerId)), zap.Uint32("from", uint32(from)))
		if record, ok := r.clients.Get(from); ok {
			_ = r.sendControl(record, ids.RpcAuthorityChanged, &AuthorityChanged{AuthorityId: authority})
		}
		return
	}

	perm, ok := r.permissions[header.RpcId]
	if !ok {
		r.log.Warn(logging.CategoryDispatch, "no declared permission for rpcId, dropping", zap.Uint32("rpcId", uint32(header.RpcId)))
		return
	}

	if !perm.Check(from, header.CalleeId, authority) {
		if record, ok := r.clients.Get(from); ok {
			_ = r.sendControl(record, ids.RpcAuthorityChanged, &AuthorityChanged{AuthorityId: authority})
		}
		return
	}

	targets := []ids.ClientId{header.CalleeId}
	if header.CalleeId.IsNone() {
		targets = r.clients.IdsExcept(from)
	}
	_ = r.Enqueue(OutboundMessage{Transport: transport, Targets: targets, Payload: raw})
}

func (r *RelayBuffer) Ping(target ids.ClientId, onResolved func(*ping.Request)) *ping.Request {
	return r.ServerBuffer.Ping(target, onResolved)
}

// routePing implements spec §4.7's relay-forwarding rule: a ping whose
// logical target (header.CalleeId) is this relay itself (None) is
// answered/resolved locally exactly like a plain ServerBuffer; any other
// target is relayed verbatim onto that client's own TCP connection —
// first leg (request) addressed back at the target, return leg
// (response) addressed back at the original source — without the relay
// ever touching pingMgr for a hop it isn't a party to.
func (r *RelayBuffer) routePing(from ids.ClientId, header rpccodec.Header, msg ping.Message, rpcId ids.RpcId) {
	if header.CalleeId.IsNone() {
		if rpcId == ids.RpcPingRequest {
			r.handlePingRequest(from, msg)
			return
		}
		r.pingMgr.HandleResponse(msg.RequestId, time.UnixMilli(msg.TimestampMillis))
		return
	}

	target, ok := r.clients.Get(header.CalleeId)
	if !ok {
		r.log.Warn(logging.CategoryDispatch, "ping targets unknown client, dropping", zap.Uint32("calleeId", uint32(header.CalleeId)))
		return
	}
	if err := r.sendControlRouted(target, rpcId, header.CallerId, header.CalleeId, &msg); err != nil {
		r.log.Warn(logging.CategoryTransport, "ping forward failed", zap.Error(err))
	}
}

var _ Buffer = (*RelayBuffer)(nil)
