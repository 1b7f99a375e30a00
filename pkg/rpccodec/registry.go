package rpccodec

import (
	"fmt"
	"sync"

	"github.com/appnet-org/owlnet/pkg/ids"
)

// NoInjection marks a descriptor as not reserving a positional argument for
// caller/callee recovery.
const NoInjection = -1

// ArgFactory builds a zero-value Encodable the decoder Reads into.
type ArgFactory func() ids.Encodable

// RPCDescriptor is the per-rpcId parameter-type list a generated protocol
// table would supply (spec §4.4, OVERVIEW §2: "the core consumes a
// ProtocolRegistry abstraction; how it is produced is out of scope").
type RPCDescriptor struct {
	RpcId                ids.RpcId
	ArgFactories         []ArgFactory
	CallerInjectionIndex int // NoInjection if the RPC has no caller-id parameter
	CalleeInjectionIndex int // NoInjection if the RPC has no callee-id parameter
}

// ProtocolRegistry resolves an rpcId to its declared parameter shape.
type ProtocolRegistry interface {
	Lookup(rpcId ids.RpcId) (RPCDescriptor, bool)
}

// StaticProtocolRegistry is a map-backed ProtocolRegistry, generalized from
// internal/protocol/packet.go's PacketRegistry (map[id]Type +
// reserved-id validation) from packet-type registration to RPC descriptors.
type StaticProtocolRegistry struct {
	mu          sync.RWMutex
	descriptors map[ids.RpcId]RPCDescriptor
}

func NewStaticProtocolRegistry() *StaticProtocolRegistry {
	return &StaticProtocolRegistry{descriptors: make(map[ids.RpcId]RPCDescriptor)}
}

// Register adds d, failing if rpcId 0 (RpcNone, reserved) or a duplicate is
// supplied.
func (r *StaticProtocolRegistry) Register(d RPCDescriptor) error {
	if d.RpcId == ids.RpcNone {
		return fmt.Errorf("rpccodec: rpcId 0 is reserved: %w", ErrUnknownRPC)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.RpcId]; exists {
		return fmt.Errorf("rpccodec: rpcId %d already registered", d.RpcId)
	}
	r.descriptors[d.RpcId] = d
	return nil
}

func (r *StaticProtocolRegistry) Lookup(rpcId ids.RpcId) (RPCDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[rpcId]
	return d, ok
}
