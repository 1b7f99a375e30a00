package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/owlnet/pkg/ids"
)

func TestConnectionRequestRoundTrip(t *testing.T) {
	req := ConnectionRequest{AppId: ids.NewStringId("game"), SessionId: ids.NewStringId("sess"), IsHost: true}
	buf := make([]byte, req.EncodedLen())
	_, err := req.Write(buf)
	require.NoError(t, err)

	var out ConnectionRequest
	_, err = out.Read(buf)
	require.NoError(t, err)
	require.Equal(t, req, out)
}

func TestConnectionResponseCodeRoundTrip(t *testing.T) {
	buf := EncodeResponseCode(ServerFull)
	require.Len(t, buf, 4)
	got, err := DecodeResponseCode(buf)
	require.NoError(t, err)
	require.Equal(t, ServerFull, got)
}

func TestClientIdAssignmentRoundTrip(t *testing.T) {
	a := ClientIdAssignment{AssignedId: 5, AuthorityId: 0, ClientSecret: 0xdeadbeef, MaxClients: 4}
	buf := make([]byte, a.EncodedLen())
	_, err := a.Write(buf)
	require.NoError(t, err)

	var out ClientIdAssignment
	_, err = out.Read(buf)
	require.NoError(t, err)
	require.Equal(t, a, out)
}

func TestAuthorityChangedRoundTrip(t *testing.T) {
	a := AuthorityChanged{AuthorityId: 3}
	buf := make([]byte, a.EncodedLen())
	_, err := a.Write(buf)
	require.NoError(t, err)

	var out AuthorityChanged
	_, err = out.Read(buf)
	require.NoError(t, err)
	require.Equal(t, a, out)
}
