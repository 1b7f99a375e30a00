package buffer

import (
	"github.com/appnet-org/owlnet/pkg/ids"
	"github.com/appnet-org/owlnet/pkg/rpccodec"
)

// RegisterControlRPCs registers the reserved control rpcIds whose payload
// types live in this package: ClientConnected, ClientDisconnected,
// LocalClientConnected, ConnectionRequest, HostMigration, AuthorityChanged.
//
// Callers also invoke rpccodec.RegisterControlRPCs on the same registry for
// the remaining reserved ids (spawn/despawn/ping) before registering any
// application rpcIds.
func RegisterControlRPCs(reg *rpccodec.StaticProtocolRegistry) error {
	type descr struct {
		id      ids.RpcId
		factory rpccodec.ArgFactory
	}
	for _, d := range []descr{
		{ids.RpcClientConnected, func() ids.Encodable { return new(ClientConnectedPayload) }},
		{ids.RpcClientDisconnected, func() ids.Encodable { return new(ClientConnectedPayload) }},
		{ids.RpcLocalClientConnected, func() ids.Encodable { return new(ClientIdAssignment) }},
		{ids.RpcConnectionRequest, func() ids.Encodable { return new(ConnectionRequest) }},
		{ids.RpcHostMigration, func() ids.Encodable { return new(HostMigrationPayload) }},
		{ids.RpcAuthorityChanged, func() ids.Encodable { return new(AuthorityChanged) }},
	} {
		err := reg.Register(rpccodec.RPCDescriptor{
			RpcId:                d.id,
			ArgFactories:         []rpccodec.ArgFactory{d.factory},
			CallerInjectionIndex: rpccodec.NoInjection,
			CalleeInjectionIndex: rpccodec.NoInjection,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
