package transform

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/appnet-org/owlnet/pkg/netpacket"
)

func buildPacket(body []byte) []byte {
	out := make([]byte, netpacket.HeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(out)))
	copy(out[netpacket.HeaderSize:], body)
	return out
}

func TestCompressionStepRoundTripsThroughPipeline(t *testing.T) {
	body := make([]byte, 300)
	for i := range body {
		body[i] = byte('a' + i%3)
	}
	packet := buildPacket(body)

	step := NewCompressionStep()
	sent, err := step.OnSend(packet)
	require.NoError(t, err)
	require.NotEqual(t, 0, sent[24]&netpacket.FlagCompressionEnabled)
	require.Less(t, len(sent), len(packet))

	received, err := step.OnReceive(sent)
	require.NoError(t, err)
	require.Equal(t, byte(0), received[24]&netpacket.FlagCompressionEnabled)
	require.Equal(t, body, received[netpacket.HeaderSize:])
}

func TestCompressionStepLeavesShortMessagesUncompressed(t *testing.T) {
	packet := buildPacket([]byte{1, 2, 3, 4})

	step := NewCompressionStep()
	sent, err := step.OnSend(packet)
	require.NoError(t, err)
	require.Equal(t, byte(0), sent[24]&netpacket.FlagCompressionEnabled)
	require.Equal(t, packet, sent)

	received, err := step.OnReceive(sent)
	require.NoError(t, err)
	require.Equal(t, sent, received)
}
