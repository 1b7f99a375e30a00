package ping

import (
	"encoding/binary"

	"github.com/appnet-org/owlnet/pkg/ids"
)

// Message is the wire payload shape shared by rpcId 8 (PingRequest) and
// rpcId 10 (PingResponse): `{requestId, timestampMillis}` (spec §4.7). The
// two rpcIds, not the payload, distinguish an outbound ping from its reply.
type Message struct {
	RequestId       RequestId
	TimestampMillis int64
}

func (Message) EncodedLen() int { return 12 }

func (m Message) Write(into []byte) (int, error) {
	if len(into) < 12 {
		return 0, ids.ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(into[0:4], uint32(m.RequestId))
	binary.LittleEndian.PutUint64(into[4:12], uint64(m.TimestampMillis))
	return 12, nil
}

func (m *Message) Read(from []byte) (int, error) {
	if len(from) < 12 {
		return 0, ids.ErrTruncated
	}
	m.RequestId = RequestId(binary.LittleEndian.Uint32(from[0:4]))
	m.TimestampMillis = int64(binary.LittleEndian.Uint64(from[4:12]))
	return 12, nil
}
