package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/appnet-org/owlnet/pkg/buffer"
	"github.com/appnet-org/owlnet/pkg/config"
	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/logging"
	"github.com/appnet-org/owlnet/pkg/rpccodec"
	"github.com/appnet-org/owlnet/pkg/spawn"
)

// testEchoRpc is an application rpcId used only by these tests, declared
// AnyToAll so neither side's permission check gets in the way of exercising
// dispatch itself.
const testEchoRpc ids.RpcId = 30

func testLogger() *logging.Logger { return logging.New(zap.NewNop()) }

func testRegistry(t *testing.T) *rpccodec.StaticProtocolRegistry {
	t.Helper()
	reg := rpccodec.NewStaticProtocolRegistry()
	require.NoError(t, rpccodec.RegisterControlRPCs(reg))
	require.NoError(t, buffer.RegisterControlRPCs(reg))
	require.NoError(t, reg.Register(rpccodec.RPCDescriptor{
		RpcId:                testEchoRpc,
		ArgFactories:         []rpccodec.ArgFactory{func() ids.Encodable { return new(ids.StringId) }},
		CallerInjectionIndex: rpccodec.NoInjection,
		CalleeInjectionIndex: rpccodec.NoInjection,
	}))
	return reg
}

func testSpawner() *spawn.Spawner { return spawn.NewSpawner(spawn.NewTypeRegistry(), false) }

func testPermissions() map[ids.RpcId]buffer.Permission {
	return map[ids.RpcId]buffer.Permission{testEchoRpc: buffer.AnyToAll}
}

func ephemeralCfg(opts ...config.Option) *config.Config {
	base := []config.Option{
		config.WithAppID("game"),
		config.WithSessionID("session-1"),
		config.WithMaxClients(4),
		config.WithTCPPort(0),
		config.WithUDPPort(0),
		config.WithConnectionRequestRate(50 * time.Millisecond),
		config.WithConnectionRequestTimeout(2 * time.Second),
	}
	return config.New(append(base, opts...)...)
}

func dialAgainst(srv *buffer.ServerBuffer, role config.Role, opts ...config.Option) *config.Config {
	base := append([]config.Option{
		config.WithRole(role),
		func(c *config.Config) {
			c.TCPPort = srv.TCPAddr().Port
			c.UDPPort = srv.UDPAddr().Port
		},
	}, opts...)
	return ephemeralCfg(base...)
}

func newTestConnection(t *testing.T, cfg *config.Config) *Connection {
	t.Helper()
	c, err := New(cfg, testLogger(), testRegistry(t), testSpawner(), testPermissions())
	require.NoError(t, err)
	return c
}

func TestThreadedModeRejectsDirectReceiveSendAwait(t *testing.T) {
	srv := newTestConnection(t, ephemeralCfg(config.WithRole(config.RoleServer), config.WithThreaded(true)))
	defer srv.Disconnect()

	require.ErrorIs(t, srv.Receive(), ErrInvalidState)
	require.ErrorIs(t, srv.Send(), ErrInvalidState)
	require.ErrorIs(t, srv.AwaitConnection(), ErrInvalidState)
}

func TestSynchronousAwaitConnectionSucceeds(t *testing.T) {
	srv := newTestConnection(t, ephemeralCfg(config.WithRole(config.RoleServer), config.WithThreaded(false)))
	defer srv.Disconnect()

	require.NoError(t, srv.AwaitConnection())
}

// TestSynchronousConnectionFiresClientConnectedEvent exercises synchronous
// mode end to end: the caller alone drives Receive/ExecuteQueue, and a
// client's admission must surface on the server as a ClientConnected event
// (pushed by ServerBuffer.completeAdmission) that reaches the server
// Connection's OnClientConnected subscribers.
func TestSynchronousConnectionFiresClientConnectedEvent(t *testing.T) {
	srv := newTestConnection(t, ephemeralCfg(config.WithRole(config.RoleServer), config.WithThreaded(false)))
	defer srv.Disconnect()

	connected := make(chan ids.ClientId, 1)
	srv.OnClientConnected(func(id ids.ClientId) { connected <- id })

	srvBuf, ok := srv.Buf().(*buffer.ServerBuffer)
	require.True(t, ok)

	cli := newTestConnection(t, dialAgainst(srvBuf, config.RoleClient, config.WithThreaded(false)))
	defer cli.Disconnect()

	require.Eventually(t, func() bool {
		require.NoError(t, srv.Receive())
		require.NoError(t, srv.ExecuteQueue())
		select {
		case id := <-connected:
			require.Equal(t, cli.LocalId(), id)
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

// TestThreadedConnectionDispatchesApplicationHandler exercises threaded
// mode: the background worker alone touches the Buffer's sockets, Enqueue
// crosses the request queue to reach it, and the caller thread still must
// drive ExecuteQueue itself to run the registered Handler.
func TestThreadedConnectionDispatchesApplicationHandler(t *testing.T) {
	srv := newTestConnection(t, ephemeralCfg(config.WithRole(config.RoleServer), config.WithThreaded(true)))
	defer srv.Disconnect()

	received := make(chan string, 1)
	srv.HandleRpc(testEchoRpc, func(from ids.ClientId, args []ids.Encodable) {
		if s, ok := args[0].(*ids.StringId); ok {
			received <- s.Value
		}
	})

	srvBuf, ok := srv.Buf().(*buffer.ServerBuffer)
	require.True(t, ok)

	cli := newTestConnection(t, dialAgainst(srvBuf, config.RoleClient, config.WithThreaded(true)))
	defer cli.Disconnect()

	require.Eventually(t, func() bool { return srvBuf.Clients().Len() == 1 }, time.Second, 10*time.Millisecond)

	payload, err := rpccodec.Encode(
		rpccodec.Header{RpcId: testEchoRpc, CallerId: cli.LocalId(), CalleeId: ids.NoneClientId},
		[]ids.Encodable{&ids.StringId{Value: "hello"}},
		rpccodec.NoInjection, rpccodec.NoInjection,
	)
	require.NoError(t, err)
	require.NoError(t, cli.Enqueue(buffer.OutboundMessage{Transport: buffer.TransportTCP, Payload: payload}))

	require.Eventually(t, func() bool {
		require.NoError(t, srv.ExecuteQueue())
		select {
		case msg := <-received:
			require.Equal(t, "hello", msg)
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

// TestThreadedDisconnectClientCrossesRequestQueue checks that
// DisconnectClient, issued from the caller thread against a threaded
// Connection, actually reaches the worker-owned Buffer and takes effect.
func TestThreadedDisconnectClientCrossesRequestQueue(t *testing.T) {
	srv := newTestConnection(t, ephemeralCfg(config.WithRole(config.RoleServer), config.WithThreaded(true)))
	defer srv.Disconnect()

	srvBuf, ok := srv.Buf().(*buffer.ServerBuffer)
	require.True(t, ok)

	cli := newTestConnection(t, dialAgainst(srvBuf, config.RoleClient, config.WithThreaded(true)))
	defer cli.Disconnect()

	require.Eventually(t, func() bool { return srvBuf.Clients().Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.DisconnectClient(cli.LocalId()))

	require.Eventually(t, func() bool { return srvBuf.Clients().Len() == 0 }, time.Second, 10*time.Millisecond)
}
