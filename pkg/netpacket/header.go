package netpacket

import (
	"encoding/binary"

	"github.com/appnet-org/owlnet/pkg/ids"
)

// HeaderSize is the fixed 28-byte little-endian header from spec §3. The
// named fields sum to 25 bytes; the remaining 3 bytes are reserved padding
// kept for future flags without reshaping the wire format.
const HeaderSize = 28

// FlagCompressionEnabled is bit 0 of the header's flags byte (spec §3,
// §4.3). Bits 1-7 are free for application use.
const FlagCompressionEnabled byte = 1 << 0

// Header is the fixed packet header described in spec §3.
type Header struct {
	ProtocolVersion      uint16
	AppVersion           uint16
	TimestampMillis      int64
	TotalPacketLength    int32
	SenderClientId       ids.ClientId
	SenderSecret         uint32
	Flags                byte
}

func (h Header) CompressionEnabled() bool {
	return h.Flags&FlagCompressionEnabled != 0
}

func (h *Header) SetCompressionEnabled(v bool) {
	if v {
		h.Flags |= FlagCompressionEnabled
	} else {
		h.Flags &^= FlagCompressionEnabled
	}
}

func writeHeader(into []byte, h Header) {
	binary.LittleEndian.PutUint16(into[0:2], h.ProtocolVersion)
	binary.LittleEndian.PutUint16(into[2:4], h.AppVersion)
	binary.LittleEndian.PutUint64(into[4:12], uint64(h.TimestampMillis))
	binary.LittleEndian.PutUint32(into[12:16], uint32(h.TotalPacketLength))
	binary.LittleEndian.PutUint32(into[16:20], uint32(h.SenderClientId))
	binary.LittleEndian.PutUint32(into[20:24], h.SenderSecret)
	into[24] = h.Flags
	// into[25:28] reserved, left zero.
	into[25], into[26], into[27] = 0, 0, 0
}

func readHeader(from []byte) Header {
	return Header{
		ProtocolVersion:   binary.LittleEndian.Uint16(from[0:2]),
		AppVersion:        binary.LittleEndian.Uint16(from[2:4]),
		TimestampMillis:   int64(binary.LittleEndian.Uint64(from[4:12])),
		TotalPacketLength: int32(binary.LittleEndian.Uint32(from[12:16])),
		SenderClientId:    ids.ClientId(binary.LittleEndian.Uint32(from[16:20])),
		SenderSecret:      binary.LittleEndian.Uint32(from[20:24]),
		Flags:             from[24],
	}
}
