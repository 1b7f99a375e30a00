package rpccodec

import (
	"testing"

	"capnproto.org/go/capnp/v3"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestProtoEncodableRoundTrip(t *testing.T) {
	src := NewProtoEncodable(wrapperspb.String("hello owlnet"))
	buf := make([]byte, src.EncodedLen())
	n, err := src.Write(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	dst := NewProtoEncodable(&wrapperspb.StringValue{})
	consumed, err := dst.Read(buf)
	require.NoError(t, err)
	require.Equal(t, n, consumed)
	require.Equal(t, "hello owlnet", dst.Msg.(*wrapperspb.StringValue).GetValue())
}

func TestCapnpEncodableRoundTrip(t *testing.T) {
	msg, _, err := capnp.NewMessage(capnp.SingleSegment(nil))
	require.NoError(t, err)
	src := NewCapnpEncodable(msg)

	buf := make([]byte, src.EncodedLen())
	n, err := src.Write(buf)
	require.NoError(t, err)

	target, _, err := capnp.NewMessage(capnp.SingleSegment(nil))
	require.NoError(t, err)
	dst := NewCapnpEncodable(target)
	consumed, err := dst.Read(buf)
	require.NoError(t, err)
	require.Equal(t, n, consumed)
}
