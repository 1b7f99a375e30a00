package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/owlnet/pkg/ids"
)

func TestAuthorityToClients(t *testing.T) {
	const authority ids.ClientId = 1
	require.True(t, AuthorityToClients.Check(authority, 2, authority))
	require.False(t, AuthorityToClients.Check(2, 3, authority), "non-authority caller must be rejected")
	require.False(t, AuthorityToClients.Check(authority, authority, authority), "callee must not be the authority itself")
}

func TestClientsToAuthority(t *testing.T) {
	const authority ids.ClientId = 1
	require.True(t, ClientsToAuthority.Check(2, authority, authority))
	require.False(t, ClientsToAuthority.Check(authority, authority, authority), "caller must not be the authority")
	require.False(t, ClientsToAuthority.Check(2, 3, authority), "callee must be the authority")
}

// TestClientsToAuthorityPlainServer covers the case a plain ServerBuffer
// hits on every such RPC: the server's own authority id is ids.NoneClientId
// (it has no ClientId of its own), so addressing "the authority" means
// sending calleeId = ids.NoneClientId too.
func TestClientsToAuthorityPlainServer(t *testing.T) {
	require.True(t, ClientsToAuthority.Check(2, ids.NoneClientId, ids.NoneClientId))
	require.False(t, ClientsToAuthority.Check(2, 3, ids.NoneClientId), "a real callee id is never the plain server's authority")
}

func TestClientsToClients(t *testing.T) {
	const authority ids.ClientId = 1
	require.True(t, ClientsToClients.Check(2, 3, authority))
	require.False(t, ClientsToClients.Check(authority, 3, authority))
	require.False(t, ClientsToClients.Check(2, authority, authority))
	require.False(t, ClientsToClients.Check(2, 2, authority), "callee must be a different client than the caller")
}

func TestClientsToAll(t *testing.T) {
	const authority ids.ClientId = 1
	require.True(t, ClientsToAll.Check(2, ids.NoneClientId, authority))
	require.True(t, ClientsToAll.Check(2, authority, authority))
	require.False(t, ClientsToAll.Check(authority, 2, authority))
}

func TestAnyToAll(t *testing.T) {
	const authority ids.ClientId = 1
	require.True(t, AnyToAll.Check(authority, ids.NoneClientId, authority))
	require.True(t, AnyToAll.Check(2, 3, authority))
}
