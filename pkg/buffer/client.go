package buffer

import (
	"fmt"
	"net"
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
	"sync"
)

// ClientBuffer is the client role from spec §4.5.2: a single logical
// connection to one server or relay, reached over a paired TCP/UDP socket
// pair. A ping's logical target travels in the control rpc header's
// calleeId rather than the payload, so a relay peer can forward a ping that
// isn't addressed to it on to the right client (spec §4.7); this endpoint
// never needs to know whether the other side of its one socket is a plain
// server or a forwarding relay.
type ClientBuffer struct {
	cfg *config.Config
	log *logging.Logger

	registry rpccodec.ProtocolRegistry
	pipeline *transform.Pipeline
	spawner  *spawn.Spawner
	pingMgr  *ping.Manager

	permissions map[ids.RpcId]Permission

	tcpConn *net.TCPConn
	udpConn *net.UDPConn

	tcpOut    *netpacket.Packet
	udpOut    *netpacket.Packet
	tcpIngest *netpacket.Packet

	localId     ids.ClientId
	secret      uint32
	maxClients  uint32
	authorityMu sync.RWMutex
	authorityId ids.ClientId

	inbound chan InboundMessage
	events  chan Event

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial runs the two-phase admission handshake (spec §4.5.1/§4.5.2) against
// cfg.ServerAddr and returns a live ClientBuffer once the server has
// assigned this endpoint a ClientId.
func Dial(cfg *config.Config, log *logging.Logger, registry rpccodec.ProtocolRegistry, spawner *spawn.Spawner, permissions map[ids.RpcId]Permission) (*ClientBuffer, error) {
	udpAddr := &net.UDPAddr{IP: net.ParseIP(cfg.ServerAddr), Port: cfg.UDPPort}
	udpConn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("buffer: dial udp: %w", err)
	}

	pipeline := buildPipeline(cfg)
	req := ConnectionRequest{
		AppId:     ids.NewStringId(cfg.AppID),
		SessionId: ids.NewStringId(cfg.SessionID),
		IsHost:    cfg.Role == config.RoleHost,
	}

	code, err := requestAdmission(cfg, udpConn, pipeline, req)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("buffer: admission: %w", err)
	}
	if code != Accepted {
		udpConn.Close()
		return nil, fmt.Errorf("buffer: admission rejected: %s", code)
	}

	tcpAddr := &net.TCPAddr{IP: net.ParseIP(cfg.ServerAddr), Port: cfg.TCPPort}
	tcpConn, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("buffer: dial tcp: %w", err)
	}

	c := &ClientBuffer{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		pipeline:    pipeline,
		spawner:     spawner,
		permissions: permissions,
		tcpConn:     tcpConn,
		udpConn:     udpConn,
		tcpOut:      netpacket.New(cfg.BufferSize, false),
		udpOut:      netpacket.New(cfg.BufferSize, true),
		tcpIngest:   netpacket.New(cfg.BufferSize, false),
		inbound:     make(chan InboundMessage, 256),
		events:      make(chan Event, 64),
		closing:     make(chan struct{}),
	}

	assignment, err := c.awaitAssignment()
	if err != nil {
		tcpConn.Close()
		udpConn.Close()
		return nil, fmt.Errorf("buffer: awaiting client id assignment: %w", err)
	}
	c.localId = assignment.AssignedId
	c.secret = assignment.ClientSecret
	c.maxClients = assignment.MaxClients
	c.authorityId = assignment.AuthorityId
	c.pingMgr = ping.NewManager(c.localId, ping.DefaultTimeout)
	c.pushEvent(Event{Kind: EventClientConnected, ClientId: c.localId})

	c.wg.Add(2)
	go c.tcpReadLoop()
	go c.udpReadLoop()

	return c, nil
}

// requestAdmission runs phase 1 (spec §4.5.1 step 1): send the
// ConnectionRequest over UDP, retrying at cfg.ConnectionRequestRate up to
// cfg.ConnectionRequestLimit times or until cfg.ConnectionRequestTimeout
// elapses, whichever comes first.
func requestAdmission(cfg *config.Config, conn *net.UDPConn, pipeline *transform.Pipeline, req ConnectionRequest) (ConnectionResponseCode, error) {
	payload, err := rpccodec.Encode(rpccodec.Header{RpcId: ids.RpcConnectionRequest}, []ids.Encodable{&req}, rpccodec.NoInjection, rpccodec.NoInjection)
	if err != nil {
		return 0, err
	}
	pkt := netpacket.New(cfg.BufferSize, true)
	region, err := pkt.Reserve(len(payload))
	if err != nil {
		return 0, err
	}
	copy(region, payload)
	h := netpacket.Header{ProtocolVersion: cfg.ProtocolVersion, AppVersion: cfg.AppVersion, TimestampMillis: time.Now().UnixMilli(), SenderClientId: ids.NoneClientId}
	raw := pkt.Emit(h)
	datagram, err := pipeline.ApplySend(raw)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(cfg.ConnectionRequestTimeout)
	buf := make([]byte, cfg.BufferSize)
	for attempt := 0; attempt < cfg.ConnectionRequestLimit; attempt++ {
		if time.Now().After(deadline) {
			break
		}
		if _, err := conn.Write(datagram); err != nil {
			return 0, err
		}
		readDeadline := time.Now().Add(cfg.ConnectionRequestRate)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		conn.SetReadDeadline(readDeadline)
		n, err := conn.Read(buf)
		if err != nil {
			continue // timeout or transient error: retry
		}
		_, region, err := parseDatagram(buf[:n], pipeline)
		if err != nil {
			continue
		}
		var respCode ConnectionResponseCode
		var found bool
		netpacket.IterateMessages(region, func(msg []byte) bool {
			c, err := DecodeResponseCode(msg)
			if err == nil {
				respCode, found = c, true
			}
			return false
		})
		if found {
			return respCode, nil
		}
	}
	return 0, fmt.Errorf("buffer: no admission response after %d attempts", cfg.ConnectionRequestLimit)
}

// awaitAssignment blocks on the fresh TCP connection for the server's
// LocalClientConnected control message (spec §4.5.1 step 2), the first
// thing the server ever sends a newly admitted client. The server's spawn
// replay (spec §4.6) can arrive packed into the same Read as the
// assignment, so every complete packet in a Read is applied via
// applyEarlyControl before awaitAssignment returns — nothing after the
// assignment in the buffer is discarded.
func (c *ClientBuffer) awaitAssignment() (ClientIdAssignment, error) {
	buf := make([]byte, c.cfg.BufferSize)
	var assignment ClientIdAssignment
	var found bool
	for !found {
		n, err := c.tcpConn.Read(buf)
		if err != nil {
			return ClientIdAssignment{}, err
		}
		data := buf[:n]
		offset := 0
		for offset < len(data) {
			consumed, complete, err := c.tcpIngest.Ingest(data, offset)
			if err != nil {
				return ClientIdAssignment{}, err
			}
			if consumed == 0 {
				break
			}
			offset += consumed
			if !complete {
				continue
			}
			region, err := reassembleAndTransform(c.tcpIngest, c.pipeline)
			c.tcpIngest.ResetIngest()
			if err != nil {
				return ClientIdAssignment{}, err
			}
			netpacket.IterateMessages(region, func(msg []byte) bool {
				header, args, err := rpccodec.Decode(msg, c.registry)
				if err != nil {
					return true
				}
				if header.RpcId == ids.RpcLocalClientConnected {
					if a, ok := args[0].(*ClientIdAssignment); ok {
						assignment, found = *a, true
					}
					return true
				}
				c.applyEarlyControl(header, args)
				return true
			})
		}
	}
	return assignment, nil
}

// applyEarlyControl handles the control messages that can legitimately
// arrive before the assignment is known (spawn replay, roster broadcasts);
// anything else this early is unexpected and only logged.
func (c *ClientBuffer) applyEarlyControl(header rpccodec.Header, args []ids.Encodable) {
	switch header.RpcId {
	case ids.RpcNetworkObjectSpawn:
		if m, ok := args[0].(*spawn.SpawnMessage); ok {
			if _, err := c.spawner.ApplyRemoteSpawn(*m); err != nil {
				c.log.Warn(logging.CategoryDispatch, "remote spawn rejected", zap.Error(err))
			}
		}
	case ids.RpcNetworkObjectDespawn:
		if m, ok := args[0].(*spawn.DespawnMessage); ok {
			c.spawner.ApplyRemoteDespawn(*m)
		}
	case ids.RpcClientConnected, ids.RpcClientDisconnected:
	default:
		c.log.Warn(logging.CategoryDispatch, "unexpected control rpc before assignment", zap.Uint32("rpcId", uint32(header.RpcId)))
	}
}

func (c *ClientBuffer) LocalId() ids.ClientId { return c.localId }

func (c *ClientBuffer) Authority() ids.ClientId {
	c.authorityMu.RLock()
	defer c.authorityMu.RUnlock()
	return c.authorityId
}

func (c *ClientBuffer) setAuthority(id ids.ClientId) {
	c.authorityMu.Lock()
	c.authorityId = id
	c.authorityMu.Unlock()
}

func (c *ClientBuffer) tcpReadLoop() {
	defer c.wg.Done()
	buf := make([]byte, c.cfg.BufferSize)
	for {
		n, err := c.tcpConn.Read(buf)
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.log.Warn(logging.CategoryTransport, "tcp connection to peer lost", zap.Error(err))
			}
			return
		}
		data := buf[:n]
		offset := 0
		for offset < len(data) {
			consumed, complete, err := c.tcpIngest.Ingest(data, offset)
			if err != nil {
				c.log.Warn(logging.CategoryException, "tcp packet framing error", zap.Error(err))
				return
			}
			if consumed == 0 {
				break
			}
			offset += consumed
			if complete {
				region, err := reassembleAndTransform(c.tcpIngest, c.pipeline)
				if err != nil {
					c.log.Warn(logging.CategoryException, "tcp packet decompress failed", zap.Error(err))
				} else {
					netpacket.IterateMessages(region, func(msg []byte) bool {
						c.decodeAndDispatch(TransportTCP, msg)
						return true
					})
				}
				c.tcpIngest.ResetIngest()
			}
		}
	}
}

func (c *ClientBuffer) udpReadLoop() {
	defer c.wg.Done()
	buf := make([]byte, c.cfg.BufferSize)
	for {
		n, err := c.udpConn.Read(buf)
		if err != nil {
			select {
			case <-c.closing:
				return
			default:
				c.log.Warn(logging.CategoryTransport, "udp read failed", zap.Error(err))
				continue
			}
		}
		_, region, err := parseDatagram(buf[:n], c.pipeline)
		if err != nil {
			c.log.Warn(logging.CategoryException, "malformed datagram", zap.Error(err))
			continue
		}
		netpacket.IterateMessages(region, func(msg []byte) bool {
			c.decodeAndDispatch(TransportUDP, msg)
			return true
		})
	}
}

func (c *ClientBuffer) decodeAndDispatch(transport Transport, msg []byte) {
	header, args, err := rpccodec.Decode(msg, c.registry)
	if err != nil {
		c.log.Warn(logging.CategoryDispatch, "undecodable rpc", zap.Error(err))
		return
	}

	switch header.RpcId {
	case ids.RpcNetworkObjectSpawn:
		if m, ok := args[0].(*spawn.SpawnMessage); ok {
			if _, err := c.spawner.ApplyRemoteSpawn(*m); err != nil {
				c.log.Warn(logging.CategoryDispatch, "remote spawn rejected", zap.Error(err))
			}
		}
		return
	case ids.RpcNetworkObjectDespawn:
		if m, ok := args[0].(*spawn.DespawnMessage); ok {
			c.spawner.ApplyRemoteDespawn(*m)
		}
		return
	case ids.RpcPingRequest:
		if m, ok := args[0].(*ping.Message); ok {
			c.handlePingRequest(header.CallerId, *m)
		}
		return
	case ids.RpcPingResponse:
		if m, ok := args[0].(*ping.Message); ok {
			c.pingMgr.HandleResponse(m.RequestId, time.UnixMilli(m.TimestampMillis))
		}
		return
	case ids.RpcHostMigration:
		if m, ok := args[0].(*HostMigrationPayload); ok {
			c.setAuthority(m.NewAuthorityId)
			c.pushEvent(Event{Kind: EventHostMigration, AuthorityId: m.NewAuthorityId})
		}
		return
	case ids.RpcAuthorityChanged:
		if m, ok := args[0].(*AuthorityChanged); ok {
			c.setAuthority(m.AuthorityId)
		}
		return
	case ids.RpcClientConnected:
		if m, ok := args[0].(*ClientConnectedPayload); ok {
			c.pushEvent(Event{Kind: EventClientConnected, ClientId: m.Id})
		}
		return
	case ids.RpcClientDisconnected:
		if m, ok := args[0].(*ClientConnectedPayload); ok {
			c.pushEvent(Event{Kind: EventClientDisconnected, ClientId: m.Id})
		}
		return
	}

	if header.RpcId.IsControl() {
		c.log.Warn(logging.CategoryDispatch, "unexpected control rpc", zap.Uint32("rpcId", uint32(header.RpcId)))
		return
	}

	c.inbound <- InboundMessage{From: header.CallerId, RpcId: header.RpcId, Payload: msg, Transport: transport}
}

// handlePingRequest answers a ping addressed to this client, whatever its
// ultimate source (direct server/relay, or a peer the relay forwarded it
// from). askerId — the original ping's CallerId — becomes the reply's
// calleeId so a relay in between knows which socket to route it back to.
func (c *ClientBuffer) handlePingRequest(askerId ids.ClientId, msg ping.Message) {
	reply := ping.Message{RequestId: msg.RequestId, TimestampMillis: time.Now().UnixMilli()}
	if err := c.sendControl(ids.RpcPingResponse, askerId, &reply); err != nil {
		c.log.Warn(logging.CategoryTransport, "ping reply failed", zap.Error(err))
	}
}

// sendControl encodes and writes one control RPC directly over the TCP
// connection, bypassing Enqueue/Send's batching. calleeId is the logical
// target: c.Authority() for anything addressed at the server/relay itself,
// or another client's id when the message (a ping) is meant to travel
// through the relay to a third party.
func (c *ClientBuffer) sendControl(rpcId ids.RpcId, calleeId ids.ClientId, arg ids.Encodable) error {
	payload, err := rpccodec.Encode(rpccodec.Header{RpcId: rpcId, CallerId: c.localId, CalleeId: calleeId}, []ids.Encodable{arg}, rpccodec.NoInjection, rpccodec.NoInjection)
	if err != nil {
		return err
	}
	pkt := netpacket.New(c.cfg.BufferSize, false)
	region, err := pkt.Reserve(len(payload))
	if err != nil {
		return err
	}
	copy(region, payload)
	h := netpacket.Header{ProtocolVersion: c.cfg.ProtocolVersion, AppVersion: c.cfg.AppVersion, TimestampMillis: time.Now().UnixMilli(), SenderClientId: c.localId, SenderSecret: c.secret}
	raw := pkt.Emit(h)
	transformed, err := c.pipeline.ApplySend(raw)
	if err != nil {
		return err
	}
	_, err = c.tcpConn.Write(transformed)
	return err
}

// Receive drains every inbound application message decoded since the last
// call.
func (c *ClientBuffer) Receive() ([]InboundMessage, error) {
	var out []InboundMessage
	for {
		select {
		case m := <-c.inbound:
			out = append(out, m)
		default:
			return out, nil
		}
	}
}

// pushEvent is a non-blocking send: a façade that never calls Events() must
// not stall the read loop on a full channel.
func (c *ClientBuffer) pushEvent(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Warn(logging.CategoryLifecycle, "event channel full, dropping", zap.String("kind", e.Kind.String()))
	}
}

// Events drains every roster/authority notification raised since the last
// call, oldest first.
func (c *ClientBuffer) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-c.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Enqueue stages msg into this connection's one pending TCP or UDP packet.
// Targets is ignored; a client has exactly one peer. Application RPCs
// (control rpcIds are exempt) are checked against the permission table
// first — spec §4.5.2 requires enforcement "on send and on relay", and this
// is the send side: the relay/server only ever sees what already passed
// here, but must never rely on that alone since it cannot trust a client to
// run this check honestly (see ForwardIfPermitted/defaultDispatchApplication
// for the receiving side's own validation).
func (c *ClientBuffer) Enqueue(msg OutboundMessage) error {
	header, err := rpccodec.PeekHeader(msg.Payload)
	if err != nil {
		return err
	}
	if !header.RpcId.IsControl() {
		perm, ok := c.permissions[header.RpcId]
		if !ok {
			return fmt.Errorf("buffer: no declared permission for rpcId %d", header.RpcId)
		}
		if !perm.Check(header.CallerId, header.CalleeId, c.Authority()) {
			return ErrPermissionDenied
		}
	}

	pkt := c.tcpOut
	if msg.Transport == TransportUDP {
		pkt = c.udpOut
	}
	region, err := pkt.Reserve(len(msg.Payload))
	if err != nil {
		return err
	}
	copy(region, msg.Payload)
	return nil
}

// Send flushes the pending TCP and UDP packets to the server/relay.
func (c *ClientBuffer) Send() error {
	if err := c.flush(c.tcpOut, false); err != nil {
		return err
	}
	return c.flush(c.udpOut, true)
}

func (c *ClientBuffer) flush(pkt *netpacket.Packet, udp bool) error {
	for {
		h := netpacket.Header{ProtocolVersion: c.cfg.ProtocolVersion, AppVersion: c.cfg.AppVersion, TimestampMillis: time.Now().UnixMilli(), SenderClientId: c.localId, SenderSecret: c.secret}
		raw := pkt.Emit(h)
		if len(raw) == netpacket.HeaderSize {
			return nil
		}
		transformed, err := c.pipeline.ApplySend(raw)
		if err != nil {
			return err
		}
		if udp {
			_, err = c.udpConn.Write(transformed)
		} else {
			_, err = c.tcpConn.Write(transformed)
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

func (c *ClientBuffer) Disconnect() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.tcpConn.Close()
		c.udpConn.Close()
	})
	if c.pingMgr != nil {
		c.pingMgr.Stop()
	}
	c.wg.Wait()
	return nil
}

func (c *ClientBuffer) DisconnectClient(ids.ClientId) error {
	return fmt.Errorf("buffer: a client session has no clients of its own to disconnect")
}

func (c *ClientBuffer) MigrateHost(ids.ClientId) error {
	return fmt.Errorf("buffer: host migration is only meaningful on a relay session")
}

// Ping measures round-trip latency to target. A pending request is always
// sent over this client's one socket, addressed (calleeId) at target; a
// relay on the other end forwards it on if target isn't the relay itself
// (spec §4.7). Self-pinging short-circuits inside pingMgr and never touches
// the wire.
func (c *ClientBuffer) Ping(target ids.ClientId, onResolved func(*ping.Request)) *ping.Request {
	req := c.pingMgr.Ping(target, onResolved)
	if req.State == ping.StatePending {
		_ = c.sendControl(ids.RpcPingRequest, target, &ping.Message{RequestId: req.Id, TimestampMillis: req.SendTime.UnixMilli()})
	}
	return req
}

var _ Buffer = (*ClientBuffer)(nil)
