// Package rpccodec implements the RPC message layout from spec §4.4: a
// small fixed header plus an argument list encoded through the Encodable
// contract, with caller/callee injection slots recovered from the header
// instead of the wire.
//
// Grounded on the teacher's pkg/rpc/client.go framing helpers and
// internal/protocol/header.go's explicit byte-buffer codec, generalized
// from aRPC's service/method framing to owlnet's
// rpcId/callerId/calleeId/targetNetworkId header.
package rpccodec

import (
	"encoding/binary"
	"errors"

	"github.com/appnet-org/owlnet/pkg/ids"
)

var (
	ErrTruncatedHeader = errors.New("rpccodec: buffer too short for RPC header")
	ErrUnknownRPC       = errors.New("rpccodec: no descriptor registered for this rpcId")
	ErrArgCountMismatch = errors.New("rpccodec: arg list length does not match the RPC's declared parameters")
)

// Header is the fixed portion of every RPC message (spec §3/§4.4). For
// reserved control ids (rpcId < 30) TargetNetworkId is omitted from the
// wire form entirely.
type Header struct {
	RpcId            ids.RpcId
	CallerId         ids.ClientId
	CalleeId         ids.ClientId
	TargetNetworkId  ids.NetworkId
}

// HeaderLen returns the wire length of the header for a given rpcId.
func HeaderLen(rpcId ids.RpcId) int {
	if rpcId.IsControl() {
		return 12
	}
	return 16
}

func writeHeader(into []byte, h Header) int {
	binary.LittleEndian.PutUint32(into[0:4], uint32(h.RpcId))
	binary.LittleEndian.PutUint32(into[4:8], uint32(h.CallerId))
	binary.LittleEndian.PutUint32(into[8:12], uint32(h.CalleeId))
	if h.RpcId.IsControl() {
		return 12
	}
	binary.LittleEndian.PutUint32(into[12:16], uint32(h.TargetNetworkId))
	return 16
}

// PeekHeader reads just the fixed header off an encoded message, without a
// ProtocolRegistry or any argument decoding. Used where only routing fields
// (rpcId, callerId, calleeId) are needed — e.g. permission enforcement on
// an already-encoded outbound payload.
func PeekHeader(data []byte) (Header, error) {
	h, _, err := readHeader(data)
	return h, err
}

func readHeader(from []byte) (Header, int, error) {
	if len(from) < 12 {
		return Header{}, 0, ErrTruncatedHeader
	}
	h := Header{
		RpcId:    ids.RpcId(binary.LittleEndian.Uint32(from[0:4])),
		CallerId: ids.ClientId(binary.LittleEndian.Uint32(from[4:8])),
		CalleeId: ids.ClientId(binary.LittleEndian.Uint32(from[8:12])),
	}
	if h.RpcId.IsControl() {
		return h, 12, nil
	}
	if len(from) < 16 {
		return Header{}, 0, ErrTruncatedHeader
	}
	h.TargetNetworkId = ids.NetworkId(binary.LittleEndian.Uint32(from[12:16]))
	return h, 16, nil
}
