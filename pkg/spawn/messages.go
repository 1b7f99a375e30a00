package spawn

import (
	"encoding/binary"

	"github.com/appnet-org/owlnet/pkg/ids"
)

// SpawnMessage is the control-RPC payload a spawn produces (spec §4.6):
// `{typeTag: u8, id: NetworkId}`.
type SpawnMessage struct {
	Tag TypeTag
	Id  ids.NetworkId
}

func (SpawnMessage) EncodedLen() int { return 5 }

func (m SpawnMessage) Write(into []byte) (int, error) {
	if len(into) < 5 {
		return 0, ids.ErrBufferTooSmall
	}
	into[0] = byte(m.Tag)
	binary.LittleEndian.PutUint32(into[1:5], uint32(m.Id))
	return 5, nil
}

func (m *SpawnMessage) Read(from []byte) (int, error) {
	if len(from) < 5 {
		return 0, ids.ErrTruncated
	}
	m.Tag = TypeTag(from[0])
	m.Id = ids.NetworkId(binary.LittleEndian.Uint32(from[1:5]))
	return 5, nil
}

// DespawnMessage is the control-RPC payload a despawn produces: `{id:
// NetworkId}`.
type DespawnMessage struct {
	Id ids.NetworkId
}

func (DespawnMessage) EncodedLen() int { return 4 }

func (m DespawnMessage) Write(into []byte) (int, error) {
	if len(into) < 4 {
		return 0, ids.ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(into[0:4], uint32(m.Id))
	return 4, nil
}

func (m *DespawnMessage) Read(from []byte) (int, error) {
	if len(from) < 4 {
		return 0, ids.ErrTruncated
	}
	m.Id = ids.NetworkId(binary.LittleEndian.Uint32(from[0:4]))
	return 4, nil
}
