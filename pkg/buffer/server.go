package buffer

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/owlnet/pkg/config"
	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/logging"
	"github.com/appnet-org/owlnet/pkg/netpacket"
	"github.com/appnet-org/owlnet/pkg/ping"
	"github.com/appnet-org/owlnet/pkg/rpccodec"
	"github.com/appnet-org/owlnet/pkg/spawn"
	"github.com/appnet-org/owlnet/pkg/transform"
)

// ServerBuffer is the authoritative-server role from spec §4.5.1: localId
// and authority are both ids.NoneClientId, since the server process is the
// authority and never addresses itself by a ClientId.
//
// The TCP accept/read loop is written in the same goroutine-per-connection,
// fan-in-channel style as pkg/transport/transport.go's receive path (read,
// deserialize through a packet registry, hand off to a dispatcher) —
// adapted here to Go's idiomatic channel-based multiplexing rather than a
// literal single OS-level select() over heterogeneous socket kinds, since
// net.Listener/net.Conn don't expose raw fds for select in portable Go.
type ServerBuffer struct {
	cfg *config.Config
	log *logging.Logger

	registry    rpccodec.ProtocolRegistry
	pipeline    *transform.Pipeline
	spawner     *spawn.Spawner
	pingMgr     *ping.Manager
	permissions map[ids.RpcId]Permission

	clients    *ClientTable
	pendingAdm *PendingAdmissionList
	secrets    *secretGenerator

	tcpListener *net.TCPListener
	udpConn     *net.UDPConn

	nextClientId uint32 // atomic, starts at 1 (0 is ids.NoneClientId)

	inbound chan InboundMessage
	events  chan Event

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// allowHost, authorityFunc, onAdmitted and onDisconnected let
	// RelayBuffer reuse every socket/admission mechanic here while
	// supplying relay-only policy (host admission, authority reporting,
	// migration triggers) without Go-style inheritance.
	allowHost           bool
	authorityFunc       func() ids.ClientId
	onAdmitted          func(record *ClientRecord, requestedHost bool)
	onDisconnected      func(id ids.ClientId)
	admissionPolicy     func(req ConnectionRequest) ConnectionResponseCode
	dispatchApplication func(from ids.ClientId, header rpccodec.Header, raw []byte, transport Transport)
	pingDispatch        func(from ids.ClientId, header rpccodec.Header, msg ping.Message, rpcId ids.RpcId)
}

// ServerOption customizes a ServerBuffer at construction; used by
// NewRelayBuffer to layer relay policy over the shared implementation.
type ServerOption func(*ServerBuffer)

func withAllowHost(v bool) ServerOption { return func(s *ServerBuffer) { s.allowHost = v } }
func withAuthorityFunc(f func() ids.ClientId) ServerOption {
	return func(s *ServerBuffer) { s.authorityFunc = f }
}
func withAdmissionHook(f func(record *ClientRecord, requestedHost bool)) ServerOption {
	return func(s *ServerBuffer) { s.onAdmitted = f }
}
func withDisconnectHook(f func(id ids.ClientId)) ServerOption {
	return func(s *ServerBuffer) { s.onDisconnected = f }
}
func withAdmissionPolicy(f func(req ConnectionRequest) ConnectionResponseCode) ServerOption {
	return func(s *ServerBuffer) { s.admissionPolicy = f }
}

// withApplicationDispatch overrides how a decoded application RPC (rpcId >=
// ids.FirstUserRpcId) is handled once control rpcIds have been stripped out;
// a RelayBuffer uses this to forward instead of queuing for local delivery.
func withApplicationDispatch(f func(from ids.ClientId, header rpccodec.Header, raw []byte, transport Transport)) ServerOption {
	return func(s *ServerBuffer) { s.dispatchApplication = f }
}

// withPingDispatch overrides how an inbound ping request/response is
// routed once decoded; a RelayBuffer uses this to forward a ping that
// isn't addressed to the relay itself on to its real target (spec §4.7).
func withPingDispatch(f func(from ids.ClientId, header rpccodec.Header, msg ping.Message, rpcId ids.RpcId)) ServerOption {
	return func(s *ServerBuffer) { s.pingDispatch = f }
}

// NewServerBuffer binds the TCP and UDP sockets and starts the background
// accept/read loops. registry must already carry every control and
// application rpcId descriptor the caller intends to dispatch.
func NewServerBuffer(cfg *config.Config, log *logging.Logger, registry rpccodec.ProtocolRegistry, spawner *spawn.Spawner, permissions map[ids.RpcId]Permission, opts ...ServerOption) (*ServerBuffer, error) {
	tcpAddr := &net.TCPAddr{IP: net.ParseIP(cfg.ServerAddr), Port: cfg.TCPPort}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("buffer: listen tcp: %w", err)
	}
	udpAddr := &net.UDPAddr{IP: net.ParseIP(cfg.ServerAddr), Port: cfg.UDPPort}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("buffer: listen udp: %w", err)
	}

	s := &ServerBuffer{
		cfg:          cfg,
		log:          log,
		registry:     registry,
		pipeline:     buildPipeline(cfg),
		spawner:      spawner,
		pingMgr:      ping.NewManager(ids.NoneClientId, ping.DefaultTimeout),
		permissions:  permissions,
		clients:      NewClientTable(),
		pendingAdm:   NewPendingAdmissionList(cfg.ConnectionRequestTimeout),
		secrets:      newSecretGenerator(),
		tcpListener:  listener,
		udpConn:      udpConn,
		nextClientId: 1,
		inbound:      make(chan InboundMessage, 256),
		events:       make(chan Event, 64),
		closing:      make(chan struct{}),
	}
	s.dispatchApplication = s.defaultDispatchApplication
	s.pingDispatch = s.defaultPingDispatch

	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.udpReadLoop()

	return s, nil
}

func (s *ServerBuffer) LocalId() ids.ClientId { return ids.NoneClientId }

func (s *ServerBuffer) Authority() ids.ClientId {
	if s.authorityFunc != nil {
		return s.authorityFunc()
	}
	return ids.NoneClientId
}

func (s *ServerBuffer) Clients() *ClientTable { return s.clients }

// TCPAddr and UDPAddr report the bound socket addresses, letting a caller
// that configured cfg.TCPPort/cfg.UDPPort as 0 (ephemeral) discover the
// actual ports the OS assigned before dialing a client against them.
func (s *ServerBuffer) TCPAddr() *net.TCPAddr { return s.tcpListener.Addr().(*net.TCPAddr) }
func (s *ServerBuffer) UDPAddr() *net.UDPAddr { return s.udpConn.LocalAddr().(*net.UDPAddr) }

func (s *ServerBuffer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.tcpListener.AcceptTCP()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				s.log.Warn(logging.CategoryTransport, "tcp accept failed", zap.Error(err))
				continue
			}
		}
		s.completeAdmission(conn)
	}
}

// completeAdmission finalizes phase 2 of the handshake (spec §4.5.1): a new
// TCP connection is only accepted if its remote IP matches a still-pending,
// previously-Accepted UDP admission.
func (s *ServerBuffer) completeAdmission(conn *net.TCPConn) {
	remoteIP := conn.RemoteAddr().(*net.TCPAddr).IP.String()
	addr, secret, asHost, ok := s.pendingAdm.Take(remoteIP)
	if !ok {
		s.log.Warn(logging.CategoryAdmission, "tcp connect with no matching pending admission", zap.String("remoteIP", remoteIP))
		conn.Close()
		return
	}
	udpAddr, _ := addr.(*net.UDPAddr)

	id := ids.ClientId(atomic.AddUint32(&s.nextClientId, 1) - 1)
	record := &ClientRecord{
		Id:        id,
		Secret:    secret,
		TCPConn:   conn,
		UDPAddr:   udpAddr,
		TCPPacket: netpacket.New(s.cfg.BufferSize, false),
		UDPPacket: netpacket.New(s.cfg.BufferSize, true),
	}
	s.clients.Add(record)

	s.wg.Add(1)
	go s.tcpReadLoop(record)

	if s.onAdmitted != nil {
		s.onAdmitted(record, asHost)
	}

	assignment := ClientIdAssignment{AssignedId: id, AuthorityId: s.Authority(), ClientSecret: secret, MaxClients: uint32(s.cfg.MaxClients)}
	if err := s.sendControl(record, ids.RpcLocalClientConnected, &assignment); err != nil {
		s.log.Error(logging.CategoryAdmission, "failed to send client id assignment", zap.Error(err))
		return
	}

	for _, obj := range s.spawner.ReplayForLateJoin() {
		obj := obj
		_ = s.sendControl(record, ids.RpcNetworkObjectSpawn, &obj)
	}

	s.broadcastExcept(id, ids.RpcClientConnected, &ClientConnectedPayload{Id: id})
	s.pushEvent(Event{Kind: EventClientConnected, ClientId: id})
	s.log.Info(logging.CategoryLifecycle, "client admitted", zap.Uint32("clientId", uint32(id)))
}

func (s *ServerBuffer) udpReadLoop() {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.BufferSize)
	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				s.log.Warn(logging.CategoryTransport, "udp read failed", zap.Error(err))
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(data, addr)
	}
}

func (s *ServerBuffer) handleDatagram(data []byte, addr *net.UDPAddr) {
	header, region, err := parseDatagram(data, s.pipeline)
	if err != nil {
		s.log.Warn(logging.CategoryException, "malformed datagram", zap.Error(err))
		return
	}

	if header.SenderClientId.IsNone() {
		s.handleConnectionRequest(region, addr)
		return
	}

	record, ok := s.clients.Get(header.SenderClientId)
	if !ok || record.Secret != header.SenderSecret {
		s.log.Warn(logging.CategoryException, "udp datagram with unknown or mismatched secret", zap.Uint32("clientId", uint32(header.SenderClientId)))
		return
	}
	record.UDPAddr = addr

	netpacket.IterateMessages(region, func(msg []byte) bool {
		s.decodeAndDispatch(record.Id, TransportUDP, msg)
		return true
	})
}

// handleConnectionRequest runs phase 1 of admission (spec §4.5.1 step 1):
// the request arrives as a control RPC (rpcId 6) wrapped in the same packet
// framing as every other transmission; the accept/reject response is a bare
// 4-byte response code, since the sender has no assigned ClientId yet to
// address a full RPC reply to.
func (s *ServerBuffer) handleConnectionRequest(region []byte, addr *net.UDPAddr) {
	var req ConnectionRequest
	var decodeErr error
	found := false
	netpacket.IterateMessages(region, func(msg []byte) bool {
		_, args, err := rpccodec.Decode(msg, s.registry)
		if err != nil {
			decodeErr = err
			return false
		}
		if len(args) != 1 {
			decodeErr = rpccodec.ErrArgCountMismatch
			return false
		}
		r, ok := args[0].(*ConnectionRequest)
		if !ok {
			decodeErr = rpccodec.ErrArgCountMismatch
			return false
		}
		req = *r
		found = true
		return false
	})
	if decodeErr != nil || !found {
		s.log.Warn(logging.CategoryAdmission, "malformed connection request", zap.Error(decodeErr))
		return
	}

	code := ValidateAdmission(s.cfg, req, s.clients.Len(), s.pendingAdm.Len(), addr.IP.String(), s.allowHost)
	if code == Accepted && s.admissionPolicy != nil {
		code = s.admissionPolicy(req)
	}
	if code == Accepted {
		secret := s.secrets.next()
		s.pendingAdm.Add(addr.IP.String(), addr, secret, req.IsHost, time.Now())
	}
	s.sendRawUDP(addr, EncodeResponseCode(code))
}

func (s *ServerBuffer) tcpReadLoop(record *ClientRecord) {
	defer s.wg.Done()
	conn := record.TCPConn.(*net.TCPConn)
	buf := make([]byte, s.cfg.BufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.handleClientGone(record.Id)
			return
		}
		data := buf[:n]
		offset := 0
		for offset < len(data) {
			consumed, complete, err := record.TCPPacket.Ingest(data, offset)
			if err != nil {
				s.log.Warn(logging.CategoryException, "tcp packet framing error", zap.Error(err))
				s.handleClientGone(record.Id)
				return
			}
			if consumed == 0 {
				break
			}
			offset += consumed
			if complete {
				region, err := reassembleAndTransform(record.TCPPacket, s.pipeline)
				if err != nil {
					s.log.Warn(logging.CategoryException, "tcp packet decompress failed", zap.Error(err))
				} else if record.TCPPacket.Header.SenderSecret == record.Secret {
					netpacket.IterateMessages(region, func(msg []byte) bool {
						s.decodeAndDispatch(record.Id, TransportTCP, msg)
						return true
					})
				}
				record.TCPPacket.ResetIngest()
			}
		}
	}
}

// decodeAndDispatch interprets reserved control rpcIds directly against
// this endpoint's spawner/ping manager (spec §4.6/§4.7) and routes
// everything else through dispatchApplication.
func (s *ServerBuffer) decodeAndDispatch(from ids.ClientId, transport Transport, msg []byte) {
	header, args, err := rpccodec.Decode(msg, s.registry)
	if err != nil {
		s.log.Warn(logging.CategoryDispatch, "undecodable rpc", zap.Error(err))
		return
	}

	switch header.RpcId {
	case ids.RpcNetworkObjectSpawn:
		if m, ok := args[0].(*spawn.SpawnMessage); ok {
			if _, err := s.spawner.ApplyRemoteSpawn(*m); err != nil {
				s.log.Warn(logging.CategoryDispatch, "remote spawn rejected", zap.Error(err))
			}
		}
		return
	case ids.RpcNetworkObjectDespawn:
		if m, ok := args[0].(*spawn.DespawnMessage); ok {
			s.spawner.ApplyRemoteDespawn(*m)
		}
		return
	case ids.RpcPingRequest, ids.RpcPingResponse:
		if m, ok := args[0].(*ping.Message); ok {
			s.pingDispatch(from, header, *m, header.RpcId)
		}
		return
	}

	if header.RpcId.IsControl() {
		s.log.Warn(logging.CategoryDispatch, "unexpected control rpc", zap.Uint32("rpcId", uint32(header.RpcId)))
		return
	}

	s.dispatchApplication(from, header, msg, transport)
}

// defaultDispatchApplication implements spec §4.5.1's server-role relay
// policy. header.CallerId is first checked against from, the authenticated
// sender the bytes actually arrived under (derived from the client record
// whose secret matched) — a mismatch means a forged caller id and the
// message is dropped outright. The declared Permission then both gates the
// call (a violation sends AuthorityChanged back and drops the message, per
// spec §4.5.2) and selects the routing: ClientsToClients rebroadcasts to its
// callee(s) without local execution; ClientsToAll/AnyToAll with an explicit
// callee route to just that callee; every other combination (including the
// no-callee broadcast case) executes locally and relays to every other
// client; ClientsToAuthority is delivered locally only and never relayed.
// Control rpcIds never reach here — decodeAndDispatch strips them out first.
func (s *ServerBuffer) defaultDispatchApplication(from ids.ClientId, header rpccodec.Header, raw []byte, transport Transport) {
	if header.CallerId != from {
		s.log.Warn(logging.CategoryException, "rpc claimed caller does not match authenticated sender, dropping", zap.Uint32("claimed", uint32(header.CallerId)), zap.Uint32("from", uint32(from)))
		return
	}

	perm, ok := s.permissions[header.RpcId]
	if !ok {
		s.log.Warn(logging.CategoryDispatch, "no declared permission for rpcId, dropping", zap.Uint32("rpcId", uint32(header.RpcId)))
		return
	}
	if !perm.Check(from, header.CalleeId, s.Authority()) {
		if record, ok := s.clients.Get(from); ok {
			_ = s.sendControl(record, ids.RpcAuthorityChanged, &AuthorityChanged{AuthorityId: s.Authority()})
		}
		return
	}

	switch perm {
	case ClientsToClients:
		targets := []ids.ClientId{header.CalleeId}
		if header.CalleeId.IsNone() {
			targets = s.clients.IdsExcept(from)
		}
		_ = s.Enqueue(OutboundMessage{Transport: transport, Targets: targets, Payload: raw})
	case ClientsToAuthority:
		s.inbound <- InboundMessage{From: from, RpcId: header.RpcId, Payload: raw, Transport: transport}
	case ClientsToAll, AnyToAll:
		if !header.CalleeId.IsNone() {
			_ = s.Enqueue(OutboundMessage{Transport: transport, Targets: []ids.ClientId{header.CalleeId}, Payload: raw})
			return
		}
		fallthrough
	default:
		s.inbound <- InboundMessage{From: from, RpcId: header.RpcId, Payload: raw, Transport: transport}
		_ = s.Enqueue(OutboundMessage{Transport: transport, Targets: s.clients.IdsExcept(from), Payload: raw})
	}
}

// handlePingRequest answers an incoming ping addressed to this endpoint
// with its own receive timestamp, over the distinct RpcPingResponse id so
// the reply can never be mistaken for a fresh request on the other side
// (spec §4.7).
func (s *ServerBuffer) handlePingRequest(from ids.ClientId, msg ping.Message) {
	record, ok := s.clients.Get(from)
	if !ok {
		return
	}
	reply := ping.Message{RequestId: msg.RequestId, TimestampMillis: time.Now().UnixMilli()}
	if err := s.sendControl(record, ids.RpcPingResponse, &reply); err != nil {
		s.log.Warn(logging.CategoryTransport, "ping reply failed", zap.Error(err))
	}
}

// defaultPingDispatch treats every inbound ping as addressed to this
// endpoint itself: a plain ServerBuffer has no notion of forwarding one
// client's ping on to another (only RelayBuffer overrides this, per
// spec §4.7's "a relay that receives a ping not addressed to it forwards
// it"). header.CalleeId is the logical ping target; a plain server only
// ever expects it to be ids.NoneClientId (itself).
func (s *ServerBuffer) defaultPingDispatch(from ids.ClientId, header rpccodec.Header, msg ping.Message, rpcId ids.RpcId) {
	if !header.CalleeId.IsNone() {
		s.log.Warn(logging.CategoryDispatch, "ping addressed to another client is not routable on a plain server", zap.Uint32("calleeId", uint32(header.CalleeId)))
		return
	}
	if rpcId == ids.RpcPingRequest {
		s.handlePingRequest(from, msg)
		return
	}
	s.pingMgr.HandleResponse(msg.RequestId, time.UnixMilli(msg.TimestampMillis))
}

func (s *ServerBuffer) handleClientGone(id ids.ClientId) {
	if _, ok := s.clients.Get(id); !ok {
		return
	}
	s.clients.Remove(id)
	s.broadcastExcept(id, ids.RpcClientDisconnected, &ClientConnectedPayload{Id: id})
	s.pushEvent(Event{Kind: EventClientDisconnected, ClientId: id})
	s.log.Info(logging.CategoryLifecycle, "client disconnected", zap.Uint32("clientId", uint32(id)))

	if s.onDisconnected != nil {
		s.onDisconnected(id)
	}
}

// sendControl encodes a single control RPC (caller=authority=None,
// callee=the target client) and writes it directly to one client's TCP
// connection, bypassing Enqueue/Send's batching since admission-path
// control messages must land immediately.
func (s *ServerBuffer) sendControl(record *ClientRecord, rpcId ids.RpcId, arg ids.Encodable) error {
	return s.sendControlRouted(record, rpcId, ids.NoneClientId, record.Id, arg)
}

// sendControlRouted is sendControl with an explicit caller/callee pair,
// used when relaying a control rpc (e.g. a forwarded ping) on someone
// else's behalf rather than issuing it as this endpoint's own message.
func (s *ServerBuffer) sendControlRouted(record *ClientRecord, rpcId ids.RpcId, callerId, calleeId ids.ClientId, arg ids.Encodable) error {
	payload, err := rpccodec.Encode(rpccodec.Header{RpcId: rpcId, CallerId: callerId, CalleeId: calleeId}, []ids.Encodable{arg}, rpccodec.NoInjection, rpccodec.NoInjection)
	if err != nil {
		return err
	}
	pkt := netpacket.New(s.cfg.BufferSize, false)
	region, err := pkt.Reserve(len(payload))
	if err != nil {
		return err
	}
	copy(region, payload)
	return s.flushOne(record, pkt)
}

func (s *ServerBuffer) flushOne(record *ClientRecord, pkt *netpacket.Packet) error {
	h := netpacket.Header{
		ProtocolVersion: s.cfg.ProtocolVersion,
		AppVersion:      s.cfg.AppVersion,
		TimestampMillis: time.Now().UnixMilli(),
		SenderClientId:  ids.NoneClientId,
	}
	raw := pkt.Emit(h)
	transformed, err := s.pipeline.ApplySend(raw)
	if err != nil {
		return err
	}
	_, err = record.TCPConn.Write(transformed)
	return err
}

func (s *ServerBuffer) sendRawUDP(addr *net.UDPAddr, body []byte) {
	pkt := netpacket.New(netpacket.HeaderSize+4+len(body), true)
	region, err := pkt.Reserve(len(body))
	if err != nil {
		s.log.Warn(logging.CategoryTransport, "response too large for one datagram", zap.Error(err))
		return
	}
	copy(region, body)
	h := netpacket.Header{
		ProtocolVersion: s.cfg.ProtocolVersion,
		AppVersion:      s.cfg.AppVersion,
		TimestampMillis: time.Now().UnixMilli(),
		SenderClientId:  ids.NoneClientId,
	}
	raw := pkt.Emit(h)
	transformed, err := s.pipeline.ApplySend(raw)
	if err != nil {
		s.log.Warn(logging.CategoryTransport, "failed to transform admission response", zap.Error(err))
		return
	}
	if _, err := s.udpConn.WriteToUDP(transformed, addr); err != nil {
		s.log.Warn(logging.CategoryTransport, "failed to send admission response", zap.Error(err))
	}
}

func (s *ServerBuffer) broadcastExcept(exclude ids.ClientId, rpcId ids.RpcId, arg ids.Encodable) {
	for _, id := range s.clients.IdsExcept(exclude) {
		record, ok := s.clients.Get(id)
		if !ok {
			continue
		}
		if err := s.sendControl(record, rpcId, arg); err != nil {
			s.log.Warn(logging.CategoryDispatch, "broadcast send failed", zap.Uint32("clientId", uint32(id)), zap.Error(err))
		}
	}
}

// Receive drains every inbound message decoded since the last call.
func (s *ServerBuffer) Receive() ([]InboundMessage, error) {
	s.pendingAdm.Sweep(time.Now())
	var out []InboundMessage
	for {
		select {
		case m := <-s.inbound:
			out = append(out, m)
		default:
			return out, nil
		}
	}
}

// pushEvent is a non-blocking send: a façade that never calls Events() must
// not stall admission/disconnect handling on a full channel.
func (s *ServerBuffer) pushEvent(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warn(logging.CategoryLifecycle, "event channel full, dropping", zap.String("kind", e.Kind.String()))
	}
}

// Events drains every roster/authority notification raised since the last
// call, oldest first.
func (s *ServerBuffer) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-s.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Enqueue stages msg into each target's outbound packet; Send flushes them.
func (s *ServerBuffer) Enqueue(msg OutboundMessage) error {
	targets := msg.Targets
	if len(targets) == 0 {
		targets = s.clients.IdsExcept(ids.NoneClientId)
	}
	for _, id := range targets {
		record, ok := s.clients.Get(id)
		if !ok {
			continue
		}
		pkt := record.TCPPacket
		if msg.Transport == TransportUDP {
			pkt = record.UDPPacket
		}
		region, err := pkt.Reserve(len(msg.Payload))
		if err != nil {
			return err
		}
		copy(region, msg.Payload)
	}
	return nil
}

// Send flushes every client's pending TCP and UDP packets.
func (s *ServerBuffer) Send() error {
	for _, record := range s.clients.AllByAdmission() {
		if err := s.flushPacket(record, record.TCPPacket, false); err != nil {
			return err
		}
		if err := s.flushPacket(record, record.UDPPacket, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *ServerBuffer) flushPacket(record *ClientRecord, pkt *netpacket.Packet, udp bool) error {
	for {
		h := netpacket.Header{
			ProtocolVersion: s.cfg.ProtocolVersion,
			AppVersion:      s.cfg.AppVersion,
			TimestampMillis: time.Now().UnixMilli(),
			SenderClientId:  ids.NoneClientId,
		}
		raw := pkt.Emit(h)
		if len(raw) == netpacket.HeaderSize {
			return nil
		}
		transformed, err := s.pipeline.ApplySend(raw)
		if err != nil {
			return err
		}
		if udp {
			_, err = s.udpConn.WriteToUDP(transformed, record.UDPAddr)
		} else {
			_, err = record.TCPConn.Write(transformed)
		}
		if err != nil {
			return err
		}
		hadMore := pkt.HasPendingFragment()
		pkt.Reset()
		if !hadMore {
			return nil
		}
	}
}

func (s *ServerBuffer) Disconnect() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.tcpListener.Close()
		s.udpConn.Close()
	})
	for _, record := range s.clients.AllByAdmission() {
		record.TCPConn.Close()
	}
	s.pingMgr.Stop()
	s.wg.Wait()
	return nil
}

func (s *ServerBuffer) DisconnectClient(id ids.ClientId) error {
	record, ok := s.clients.Get(id)
	if !ok {
		return nil
	}
	record.TCPConn.Close()
	return nil
}

func (s *ServerBuffer) MigrateHost(ids.ClientId) error {
	return fmt.Errorf("buffer: host migration is only meaningful on a relay session")
}

func (s *ServerBuffer) Ping(target ids.ClientId, onResolved func(*ping.Request)) *ping.Request {
	req := s.pingMgr.Ping(target, onResolved)
	if req.State != ping.StateSucceeded {
		record, ok := s.clients.Get(target)
		if ok {
			_ = s.sendControl(record, ids.RpcPingRequest, &ping.Message{RequestId: req.Id, TimestampMillis: req.SendTime.UnixMilli()})
		}
	}
	return req
}

var _ Buffer = (*ServerBuffer)(nil)
