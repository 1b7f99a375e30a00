package rpccodec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/owlnet/pkg/ids"
)

func TestControlHeaderOmitsTargetNetworkId(t *testing.T) {
	h := Header{RpcId: ids.RpcClientConnected, CallerId: 7, CalleeId: 0}
	buf, err := Encode(h, nil, NoInjection, NoInjection)
	require.NoError(t, err)
	require.Len(t, buf, 12)
}

func TestUserRpcHeaderIncludesTargetNetworkId(t *testing.T) {
	h := Header{RpcId: 30, CallerId: 1, CalleeId: 2, TargetNetworkId: 9}
	buf, err := Encode(h, nil, NoInjection, NoInjection)
	require.NoError(t, err)
	require.Len(t, buf, 16)
}

func TestEncodeDecodeRoundTripWithInjectedCallerAndArgs(t *testing.T) {
	registry := NewStaticProtocolRegistry()
	const rpcMove ids.RpcId = 42
	require.NoError(t, registry.Register(RPCDescriptor{
		RpcId: rpcMove,
		ArgFactories: []ArgFactory{
			func() ids.Encodable { return new(ClientIdArg) },
			func() ids.Encodable { return new(ids.Uint32) },
			func() ids.Encodable { return new(ids.Uint32) },
		},
		CallerInjectionIndex: 0,
		CalleeInjectionIndex: NoInjection,
	}))

	h := Header{RpcId: rpcMove, CallerId: 5, CalleeId: 0, TargetNetworkId: 3}
	x := ids.Uint32(100)
	y := ids.Uint32(4000000000)
	args := []ids.Encodable{nil, &x, &y}

	wire, err := Encode(h, args, 0, NoInjection)
	require.NoError(t, err)
	// Injection slot 0 contributes zero bytes; only x and y are on the wire.
	require.Len(t, wire, HeaderLen(rpcMove)+x.EncodedLen()+y.EncodedLen())

	decodedHeader, decodedArgs, err := Decode(wire, registry)
	require.NoError(t, err)
	require.Equal(t, h, decodedHeader)
	require.Len(t, decodedArgs, 3)
	require.Equal(t, ids.ClientId(5), decodedArgs[0].(ClientIdArg).ClientId)
	require.Equal(t, x, *decodedArgs[1].(*ids.Uint32))
	require.Equal(t, y, *decodedArgs[2].(*ids.Uint32))
}

func TestDecodeUnknownRpcIdFails(t *testing.T) {
	registry := NewStaticProtocolRegistry()
	h := Header{RpcId: 99}
	wire, err := Encode(h, nil, NoInjection, NoInjection)
	require.NoError(t, err)
	_, _, err = Decode(wire, registry)
	require.ErrorIs(t, err, ErrUnknownRPC)
}

func TestRegisterRejectsReservedRpcZero(t *testing.T) {
	registry := NewStaticProtocolRegistry()
	err := registry.Register(RPCDescriptor{RpcId: ids.RpcNone})
	require.Error(t, err)
}
