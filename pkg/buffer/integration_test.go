package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/appnet-org/owlnet/pkg/config"
	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/logging"
	"github.com/appnet-org/owlnet/pkg/ping"
	"github.com/appnet-org/owlnet/pkg/rpccodec"
	"github.com/appnet-org/owlnet/pkg/spawn"
)

func testLogger() *logging.Logger { return logging.New(zap.NewNop()) }

func testRegistry(t *testing.T) *rpccodec.StaticProtocolRegistry {
	t.Helper()
	reg := rpccodec.NewStaticProtocolRegistry()
	require.NoError(t, rpccodec.RegisterControlRPCs(reg))
	require.NoError(t, RegisterControlRPCs(reg))
	return reg
}

func testSpawner() *spawn.Spawner {
	return spawn.NewSpawner(spawn.NewTypeRegistry(), false)
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

// dialAgainst points a freshly built client config at srv's actually bound
// ephemeral ports, since ServerBuffer binds port 0 to whatever the OS hands
// back.
func dialAgainst(srv *ServerBuffer, role config.Role) *config.Config {
	return ephemeralCfg(
		config.WithRole(role),
		func(c *config.Config) {
			c.TCPPort = srv.TCPAddr().Port
			c.UDPPort = srv.UDPAddr().Port
		},
	)
}

func TestServerClientAdmission(t *testing.T) {
	srv, err := NewServerBuffer(ephemeralCfg(config.WithRole(config.RoleServer)), testLogger(), testRegistry(t), testSpawner(), nil)
	require.NoError(t, err)
	defer srv.Disconnect()

	cli, err := Dial(dialAgainst(srv, config.RoleClient), testLogger(), testRegistry(t), testSpawner(), nil)
	require.NoError(t, err)
	defer cli.Disconnect()

	require.NotEqual(t, ids.NoneClientId, cli.LocalId())
	require.Equal(t, ids.NoneClientId, cli.Authority(), "a plain server has no ClientId of its own")
	require.Eventually(t, func() bool { return srv.Clients().Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestClientPingsPlainServer(t *testing.T) {
	srv, err := NewServerBuffer(ephemeralCfg(config.WithRole(config.RoleServer)), testLogger(), testRegistry(t), testSpawner(), nil)
	require.NoError(t, err)
	defer srv.Disconnect()

	cli, err := Dial(dialAgainst(srv, config.RoleClient), testLogger(), testRegistry(t), testSpawner(), nil)
	require.NoError(t, err)
	defer cli.Disconnect()

	resolved := make(chan *ping.Request, 1)
	req := cli.Ping(ids.NoneClientId, func(r *ping.Request) { resolved <- r })
	require.Equal(t, ping.StatePending, req.State)

	select {
	case r := <-resolved:
		require.Equal(t, ping.StateSucceeded, r.State)
	case <-time.After(time.Second):
		t.Fatal("ping to the server never resolved")
	}
}

// TestRelayForwardsPingBetweenClients exercises spec §4.7's relay-forwarding
// rule directly: client A pings client B's ClientId, and the relay — never
// itself the addressee — relays the request to B and B's reply back to A.
func TestRelayForwardsPingBetweenClients(t *testing.T) {
	relay, err := NewRelayBuffer(ephemeralCfg(config.WithRole(config.RoleRelay), config.WithShutdownWhenEmpty(false)), testLogger(), testRegistry(t), testSpawner(), map[ids.RpcId]Permission{})
	require.NoError(t, err)
	defer relay.Disconnect()

	a, err := Dial(dialAgainst(relay.ServerBuffer, config.RoleClient), testLogger(), testRegistry(t), testSpawner(), nil)
	require.NoError(t, err)
	defer a.Disconnect()

	b, err := Dial(dialAgainst(relay.ServerBuffer, config.RoleClient), testLogger(), testRegistry(t), testSpawner(), nil)
	require.NoError(t, err)
	defer b.Disconnect()

	require.Eventually(t, func() bool { return relay.Clients().Len() == 2 }, time.Second, 10*time.Millisecond)
	require.NotEqual(t, a.LocalId(), b.LocalId())

	resolved := make(chan *ping.Request, 1)
	req := a.Ping(b.LocalId(), func(r *ping.Request) { resolved <- r })
	require.Equal(t, ping.StatePending, req.State)

	select {
	case r := <-resolved:
		require.Equal(t, ping.StateSucceeded, r.State)
		require.Equal(t, b.LocalId(), r.Target)
	case <-time.After(time.Second):
		t.Fatal("ping forwarded through the relay never resolved")
	}
}

func TestRelayPingAddressedToItselfIsNotForwarded(t *testing.T) {
	relay, err := NewRelayBuffer(ephemeralCfg(config.WithRole(config.RoleRelay), config.WithShutdownWhenEmpty(false)), testLogger(), testRegistry(t), testSpawner(), map[ids.RpcId]Permission{})
	require.NoError(t, err)
	defer relay.Disconnect()

	a, err := Dial(dialAgainst(relay.ServerBuffer, config.RoleClient), testLogger(), testRegistry(t), testSpawner(), nil)
	require.NoError(t, err)
	defer a.Disconnect()

	resolved := make(chan *ping.Request, 1)
	req := a.Ping(ids.NoneClientId, func(r *ping.Request) { resolved <- r })
	require.Equal(t, ping.StatePending, req.State)

	select {
	case r := <-resolved:
		require.Equal(t, ping.StateSucceeded, r.State)
	case <-time.After(time.Second):
		t.Fatal("ping to the relay itself never resolved")
	}
}
