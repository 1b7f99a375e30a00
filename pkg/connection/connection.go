// Package connection implements the façade from spec §2 item 8 / §5: a
// Connection wraps a pkg/buffer.Buffer and exposes it to application code
// either synchronously (the caller drives Receive/ExecuteQueue/Send itself,
// typically once per tick) or through a background worker thread (spec
// §5's "a background worker owns all socket reads/writes").
//
// Threaded mode is grounded on the teacher's pkg/rpc/client.go receiveLoop
// (a background goroutine reading a transport and dispatching through
// channels) and pkg/transport/timer.go's goroutine lifecycle (a stop
// channel plus sync.WaitGroup, delete-before-close-style shutdown).
// Ordered event subscriber lists follow pkg/rpc/element.RPCElementChain's
// plain ordered-slice-of-callbacks shape.
package connection

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/owlnet/pkg/buffer"
	"github.com/appnet-org/owlnet/pkg/config"
	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/logging"
	"github.com/appnet-org/owlnet/pkg/ping"
	"github.com/appnet-org/owlnet/pkg/rpccodec"
	"github.com/appnet-org/owlnet/pkg/spawn"
)

// Handler processes one decoded application RPC dispatched off the execute
// queue. from is the caller recorded in the wire header, already validated
// by the Buffer layer (forged-caller messages never reach here).
type Handler func(from ids.ClientId, args []ids.Encodable)

// queueItem is one entry on the execute queue: either a roster/authority
// Event or a decoded application message, never both. Events always precede
// the messages from the same Receive/worker-iteration batch (spec §5: "the
// dispatcher processes client-event messages ... strictly before
// application RPCs received in the same batch").
type queueItem struct {
	evt *buffer.Event
	msg *buffer.InboundMessage
}

// request is one caller-issued, worker-serviced operation (spec §5: "control
// requests from the caller ... placed on a separate request queue serviced
// by the worker each iteration"). apply runs on the worker goroutine, the
// only place the underlying Buffer's mutating calls are safe to make once
// threaded; done reports the result back to the blocked caller, the same
// per-call response-channel shape as the teacher's pendingCalls map.
type request struct {
	apply func(buffer.Buffer) error
	done  chan error
}

// Connection is the public façade described above.
type Connection struct {
	cfg      *config.Config
	log      *logging.Logger
	registry rpccodec.ProtocolRegistry
	buf      buffer.Buffer

	handlersMu sync.RWMutex
	handlers   map[ids.RpcId]Handler

	onConnected     subscriberList[ids.ClientId]
	onDisconnected  subscriberList[ids.ClientId]
	onHostMigration subscriberList[ids.ClientId]

	queue    chan queueItem
	requests chan request

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds the Buffer for cfg.Role and wraps it in a Connection. In
// threaded mode (the default, cfg.Threaded) a background worker goroutine
// starts immediately, sleeping max(0, cfg.ThreadUpdateDelta - iteration
// time) between iterations; in synchronous mode the caller alone drives
// Receive/ExecuteQueue/Send.
func New(cfg *config.Config, log *logging.Logger, registry rpccodec.ProtocolRegistry, spawner *spawn.Spawner, permissions map[ids.RpcId]buffer.Permission) (*Connection, error) {
	buf, err := newBuffer(cfg, log, registry, spawner, permissions)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:      cfg,
		log:      log,
		registry: registry,
		buf:      buf,
		handlers: make(map[ids.RpcId]Handler),
		queue:    make(chan queueItem, 1024),
		requests: make(chan request, 64),
		stop:     make(chan struct{}),
	}

	if cfg.Threaded {
		c.wg.Add(1)
		go c.runWorker()
	}

	return c, nil
}

func newBuffer(cfg *config.Config, log *logging.Logger, registry rpccodec.ProtocolRegistry, spawner *spawn.Spawner, permissions map[ids.RpcId]buffer.Permission) (buffer.Buffer, error) {
	switch cfg.Role {
	case config.RoleServer:
		return buffer.NewServerBuffer(cfg, log, registry, spawner, permissions)
	case config.RoleRelay:
		return buffer.NewRelayBuffer(cfg, log, registry, spawner, permissions)
	case config.RoleClient, config.RoleHost:
		return buffer.Dial(cfg, log, registry, spawner, permissions)
	default:
		return nil, fmt.Errorf("connection: unknown role %v", cfg.Role)
	}
}

// Buf returns the underlying Buffer, for callers that need role-specific
// accessors (e.g. a server's bound ephemeral ports) the common interface
// doesn't expose.
func (c *Connection) Buf() buffer.Buffer { return c.buf }

// HandleRpc registers h as the application handler for rpcId. rpccodec's
// ProtocolRegistry only carries the wire shape of an RPC (spec
// §4.4/RPCDescriptor has no callback slot of its own), so the façade keeps
// its own rpcId-to-handler table.
func (c *Connection) HandleRpc(rpcId ids.RpcId, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[rpcId] = h
}

// OnClientConnected subscribes fn to every future client-connected event
// (including this endpoint's own admission, for a client Connection) and
// returns an id usable with OffClientConnected. Subscribers fire in
// registration order.
func (c *Connection) OnClientConnected(fn func(ids.ClientId)) int {
	return c.onConnected.Subscribe(fn)
}

func (c *Connection) OffClientConnected(id int) { c.onConnected.Unsubscribe(id) }

// OnClientDisconnected subscribes fn to every future client-disconnected
// event.
func (c *Connection) OnClientDisconnected(fn func(ids.ClientId)) int {
	return c.onDisconnected.Subscribe(fn)
}

func (c *Connection) OffClientDisconnected(id int) { c.onDisconnected.Unsubscribe(id) }

// OnHostMigration subscribes fn to every future host-migration event; fn
// receives the newly assigned authority id.
func (c *Connection) OnHostMigration(fn func(ids.ClientId)) int {
	return c.onHostMigration.Subscribe(fn)
}

func (c *Connection) OffHostMigration(id int) { c.onHostMigration.Unsubscribe(id) }

// Receive is synchronous-mode only: it drains the Buffer's sockets and
// roster/authority events and stages them on the execute queue for the next
// ExecuteQueue call. In threaded mode the background worker already does
// this every iteration and Receive returns ErrInvalidState.
func (c *Connection) Receive() error {
	if c.cfg.Threaded {
		return ErrInvalidState
	}
	msgs, err := c.buf.Receive()
	if err != nil {
		return err
	}
	c.enqueueBatch(c.buf.Events(), msgs)
	return nil
}

// Send is synchronous-mode only: it flushes the Buffer's pending outbound
// packets. In threaded mode the background worker owns every socket write
// and Send returns ErrInvalidState.
func (c *Connection) Send() error {
	if c.cfg.Threaded {
		return ErrInvalidState
	}
	return c.buf.Send()
}

// AwaitConnection blocks until this endpoint's admission is complete.
// pkg/buffer.Dial already runs the full two-phase handshake synchronously
// at construction (spec §4.5.1), so by the time a Connection exists the
// wait this operation names is already satisfied; it is kept for parity
// with spec §5's named operation and the symmetry of the
// Receive/ExecuteQueue/Send/AwaitConnection surface, and — like Receive and
// Send — is invalid to call directly once threaded, since the worker alone
// owns the connection lifecycle there.
func (c *Connection) AwaitConnection() error {
	if c.cfg.Threaded {
		return ErrInvalidState
	}
	return nil
}

// ExecuteQueue drains every event and decoded message staged since the last
// call and dispatches each to its subscriber list or registered Handler, in
// arrival order (events before the messages from the same batch). Valid in
// both synchronous and threaded mode; this is the one operation the caller
// thread always drives itself (spec §5).
func (c *Connection) ExecuteQueue() error {
	for {
		select {
		case it := <-c.queue:
			c.dispatch(it)
		default:
			return nil
		}
	}
}

func (c *Connection) dispatch(it queueItem) {
	if it.evt != nil {
		c.dispatchEvent(*it.evt)
		return
	}
	c.dispatchMessage(*it.msg)
}

func (c *Connection) dispatchEvent(e buffer.Event) {
	switch e.Kind {
	case buffer.EventClientConnected:
		c.onConnected.fire(e.ClientId)
	case buffer.EventClientDisconnected:
		c.onDisconnected.fire(e.ClientId)
	case buffer.EventHostMigration:
		c.onHostMigration.fire(e.AuthorityId)
	}
}

func (c *Connection) dispatchMessage(m buffer.InboundMessage) {
	_, args, err := rpccodec.Decode(m.Payload, c.registry)
	if err != nil {
		c.log.Warn(logging.CategoryDispatch, "undecodable queued rpc", zap.Error(err))
		return
	}
	c.handlersMu.RLock()
	h, ok := c.handlers[m.RpcId]
	c.handlersMu.RUnlock()
	if !ok {
		c.log.Warn(logging.CategoryDispatch, "no handler registered for rpcId", zap.Uint32("rpcId", uint32(m.RpcId)))
		return
	}
	h(m.From, args)
}

// enqueueBatch stages one Receive/worker-iteration's events and messages on
// the execute queue, events first. A full queue drops the item with a
// warning rather than blocking the producer (worker or caller), the same
// non-blocking-send policy pkg/buffer uses for its own event channel.
func (c *Connection) enqueueBatch(events []buffer.Event, msgs []buffer.InboundMessage) {
	for i := range events {
		c.pushQueueItem(queueItem{evt: &events[i]})
	}
	for i := range msgs {
		c.pushQueueItem(queueItem{msg: &msgs[i]})
	}
}

func (c *Connection) pushQueueItem(it queueItem) {
	select {
	case c.queue <- it:
	default:
		c.log.Warn(logging.CategoryDispatch, "execute queue full, dropping dispatch item")
	}
}

// Enqueue stages an already-encoded RPC for delivery. In synchronous mode
// this calls straight through to the Buffer; in threaded mode it crosses to
// the worker over the bounded request queue, since Packet objects living
// inside the worker-owned Buffer are never touched from the caller's thread
// directly (spec §5).
func (c *Connection) Enqueue(msg buffer.OutboundMessage) error {
	if !c.cfg.Threaded {
		return c.buf.Enqueue(msg)
	}
	return c.submitRequest(func(b buffer.Buffer) error { return b.Enqueue(msg) })
}

// DisconnectClient drops one client; only meaningful on a server/relay
// Connection. Crosses the request queue in threaded mode.
func (c *Connection) DisconnectClient(id ids.ClientId) error {
	if !c.cfg.Threaded {
		return c.buf.DisconnectClient(id)
	}
	return c.submitRequest(func(b buffer.Buffer) error { return b.DisconnectClient(id) })
}

// MigrateHost reassigns a relay's authority; only meaningful on a relay
// Connection. Crosses the request queue in threaded mode.
func (c *Connection) MigrateHost(newHostId ids.ClientId) error {
	if !c.cfg.Threaded {
		return c.buf.MigrateHost(newHostId)
	}
	return c.submitRequest(func(b buffer.Buffer) error { return b.MigrateHost(newHostId) })
}

func (c *Connection) submitRequest(apply func(buffer.Buffer) error) error {
	req := request{apply: apply, done: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.stop:
		return ErrInvalidState
	}
	select {
	case err := <-req.done:
		return err
	case <-c.stop:
		return ErrInvalidState
	}
}

// Ping measures round-trip latency to target. This stays a direct
// passthrough to the Buffer in both modes rather than crossing the request
// queue: sendControl/sendControlRouted (what Ping ultimately calls) already
// writes a freshly allocated packet directly to the socket and is already
// called concurrently from more than one goroutine elsewhere in pkg/buffer
// (the accept loop, admission hooks), so routing only Ping through the
// worker would add asymmetric latency without closing a hazard that
// already exists on every other control send.
func (c *Connection) Ping(target ids.ClientId, onResolved func(*ping.Request)) *ping.Request {
	return c.buf.Ping(target, onResolved)
}

func (c *Connection) LocalId() ids.ClientId   { return c.buf.LocalId() }
func (c *Connection) Authority() ids.ClientId { return c.buf.Authority() }

// Disconnect stops the background worker (threaded mode) and tears down the
// underlying Buffer.
func (c *Connection) Disconnect() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	return c.buf.Disconnect()
}

// runWorker is the threaded-mode background worker (spec §5): it sleeps
// max(0, cfg.ThreadUpdateDelta - iteration time) between iterations,
// servicing the request queue before touching sockets so a pending
// Enqueue/DisconnectClient/MigrateHost lands before the same iteration's
// Send. Lifecycle mirrors the teacher's pkg/transport/timer.go: a stop
// channel plus sync.WaitGroup, no separate start() beyond the goroutine
// launch in New.
func (c *Connection) runWorker() {
	defer c.wg.Done()
	for {
		start := time.Now()
		c.workerIteration()
		sleep := c.cfg.ThreadUpdateDelta - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-c.stop:
			return
		case <-time.After(sleep):
		}
	}
}

func (c *Connection) workerIteration() {
	c.serviceRequests()

	msgs, err := c.buf.Receive()
	if err != nil {
		c.log.Warn(logging.CategoryTransport, "worker receive failed", zap.Error(err))
	}
	c.enqueueBatch(c.buf.Events(), msgs)

	if err := c.buf.Send(); err != nil {
		c.log.Warn(logging.CategoryTransport, "worker send failed", zap.Error(err))
	}
}

func (c *Connection) serviceRequests() {
	for {
		select {
		case req := <-c.requests:
			req.done <- req.apply(c.buf)
		default:
			return
		}
	}
}
