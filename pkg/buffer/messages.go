package buffer

import (
	"encoding/binary"

	"github.com/appnet-org/owlnet/pkg/ids"
)

// ConnectionRequest is the UDP admission datagram payload (spec §3/§6,
// reserved rpcId 6).
type ConnectionRequest struct {
	AppId     ids.StringId
	SessionId ids.StringId
	IsHost    bool
}

func (r ConnectionRequest) EncodedLen() int {
	return r.AppId.EncodedLen() + r.SessionId.EncodedLen() + 1
}

func (r ConnectionRequest) Write(into []byte) (int, error) {
	if len(into) < r.EncodedLen() {
		return 0, ids.ErrBufferTooSmall
	}
	off := 0
	n, err := r.AppId.Write(into[off:])
	if err != nil {
		return 0, err
	}
	off += n
	n, err = r.SessionId.Write(into[off:])
	if err != nil {
		return 0, err
	}
	off += n
	if r.IsHost {
		into[off] = 1
	} else {
		into[off] = 0
	}
	return off + 1, nil
}

func (r *ConnectionRequest) Read(from []byte) (int, error) {
	off := 0
	n, err := r.AppId.Read(from[off:])
	if err != nil {
		return 0, err
	}
	off += n
	n, err = r.SessionId.Read(from[off:])
	if err != nil {
		return 0, err
	}
	off += n
	if len(from) < off+1 {
		return 0, ids.ErrTruncated
	}
	r.IsHost = from[off] != 0
	return off + 1, nil
}

// ConnectionResponseCode is the 4-byte little-endian admission reply (spec
// §6).
type ConnectionResponseCode int32

const (
	Accepted ConnectionResponseCode = iota
	ServerFull
	IncorrectAppId
	HostAlreadyAssigned
	Rejected
)

func (c ConnectionResponseCode) String() string {
	switch c {
	case Accepted:
		return "Accepted"
	case ServerFull:
		return "ServerFull"
	case IncorrectAppId:
		return "IncorrectAppId"
	case HostAlreadyAssigned:
		return "HostAlreadyAssigned"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

func EncodeResponseCode(c ConnectionResponseCode) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(c))
	return buf
}

func DecodeResponseCode(buf []byte) (ConnectionResponseCode, error) {
	if len(buf) < 4 {
		return 0, ids.ErrTruncated
	}
	return ConnectionResponseCode(binary.LittleEndian.Uint32(buf)), nil
}

// ClientIdAssignment is sent once per client immediately after the stream
// handshake (spec §3, reserved rpcId 2 payload).
type ClientIdAssignment struct {
	AssignedId   ids.ClientId
	AuthorityId  ids.ClientId
	ClientSecret uint32
	MaxClients   uint32
}

func (ClientIdAssignment) EncodedLen() int { return 16 }

func (a ClientIdAssignment) Write(into []byte) (int, error) {
	if len(into) < 16 {
		return 0, ids.ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(into[0:4], uint32(a.AssignedId))
	binary.LittleEndian.PutUint32(into[4:8], uint32(a.AuthorityId))
	binary.LittleEndian.PutUint32(into[8:12], a.ClientSecret)
	binary.LittleEndian.PutUint32(into[12:16], a.MaxClients)
	return 16, nil
}

func (a *ClientIdAssignment) Read(from []byte) (int, error) {
	if len(from) < 16 {
		return 0, ids.ErrTruncated
	}
	a.AssignedId = ids.ClientId(binary.LittleEndian.Uint32(from[0:4]))
	a.AuthorityId = ids.ClientId(binary.LittleEndian.Uint32(from[4:8]))
	a.ClientSecret = binary.LittleEndian.Uint32(from[8:12])
	a.MaxClients = binary.LittleEndian.Uint32(from[12:16])
	return 16, nil
}

// AuthorityChanged corrects a caller's view of the current authority after
// a permission violation (spec §4.5.2): `{authorityId}`.
type AuthorityChanged struct {
	AuthorityId ids.ClientId
}

func (AuthorityChanged) EncodedLen() int { return 4 }

func (a AuthorityChanged) Write(into []byte) (int, error) {
	if len(into) < 4 {
		return 0, ids.ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(into[0:4], uint32(a.AuthorityId))
	return 4, nil
}

func (a *AuthorityChanged) Read(from []byte) (int, error) {
	if len(from) < 4 {
		return 0, ids.ErrTruncated
	}
	a.AuthorityId = ids.ClientId(binary.LittleEndian.Uint32(from[0:4]))
	return 4, nil
}

// ClientConnectedPayload is the `{id}` payload for reserved rpcIds 1 and 3
// (ClientConnected / ClientDisconnected).
type ClientConnectedPayload struct {
	Id ids.ClientId
}

func (ClientConnectedPayload) EncodedLen() int { return 4 }

func (p ClientConnectedPayload) Write(into []byte) (int, error) {
	if len(into) < 4 {
		return 0, ids.ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(into[0:4], uint32(p.Id))
	return 4, nil
}

func (p *ClientConnectedPayload) Read(from []byte) (int, error) {
	if len(from) < 4 {
		return 0, ids.ErrTruncated
	}
	p.Id = ids.ClientId(binary.LittleEndian.Uint32(from[0:4]))
	return 4, nil
}

// HostMigrationPayload is the `{newAuthorityId}` payload for reserved rpcId
// 7.
type HostMigrationPayload struct {
	NewAuthorityId ids.ClientId
}

func (HostMigrationPayload) EncodedLen() int { return 4 }

func (p HostMigrationPayload) Write(into []byte) (int, error) {
	if len(into) < 4 {
		return 0, ids.ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(into[0:4], uint32(p.NewAuthorityId))
	return 4, nil
}

func (p *HostMigrationPayload) Read(from []byte) (int, error) {
	if len(from) < 4 {
		return 0, ids.ErrTruncated
	}
	p.NewAuthorityId = ids.ClientId(binary.LittleEndian.Uint32(from[0:4]))
	return 4, nil
}
