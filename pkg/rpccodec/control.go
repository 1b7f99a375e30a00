package rpccodec

import (
	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/ping"
	"github.com/appnet-org/owlnet/pkg/spawn"
)

// RegisterControlRPCs registers the reserved control rpcIds whose payload
// types live outside package buffer (spec §6): NetworkObjectSpawn,
// NetworkObjectDespawn, PingRequest, PingResponse. ClientConnected,
// LocalClientConnected, ClientDisconnected, ConnectionRequest, HostMigration
// and AuthorityChanged are registered separately by package buffer, which
// owns those payload types — registering them here would import buffer and
// cycle back.
//
// None of the reserved control RPCs reinject a caller/callee id into their
// argument list — the header's CallerId/CalleeId already carry routing
// information the payload never duplicates.
func RegisterControlRPCs(reg *StaticProtocolRegistry) error {
	type descr struct {
		id      ids.RpcId
		factory ArgFactory
	}
	for _, d := range []descr{
		{ids.RpcNetworkObjectSpawn, func() ids.Encodable { return new(spawn.SpawnMessage) }},
		{ids.RpcNetworkObjectDespawn, func() ids.Encodable { return new(spawn.DespawnMessage) }},
		{ids.RpcPingRequest, func() ids.Encodable { return new(ping.Message) }},
		{ids.RpcPingResponse, func() ids.Encodable { return new(ping.Message) }},
	} {
		err := reg.Register(RPCDescriptor{
			RpcId:                d.id,
			ArgFactories:         []ArgFactory{d.factory},
			CallerInjectionIndex: NoInjection,
			CalleeInjectionIndex: NoInjection,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
