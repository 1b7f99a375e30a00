// Package spawn implements the replicated-object spawner from spec §4.6:
// monotonic id allocation, a pluggable TypeRegistry, late-join replay, and a
// pending-lookup list keyed by NetworkId (or any caller-chosen key).
//
// TypeRegistry is grounded on internal/protocol/packet.go's PacketRegistry
// (map[id]Type + reserved-id-0 validation, RegisterX/GetX accessor pairs),
// generalized from packet-type registration to object-tag registration.
package spawn

import (
	"errors"
	"reflect"
	"sync"

	"github.com/appnet-org/owlnet/pkg/ids"
)

// TypeTag identifies a replicated object's concrete type on the wire.
// Tag 0 is reserved, tag 1 is the base object, user tags start at 2
// (spec §4.6).
type TypeTag uint8

const (
	ReservedTag   TypeTag = 0
	BaseObjectTag TypeTag = 1
	FirstUserTag  TypeTag = 2
)

var (
	ErrReservedTag      = errors.New("spawn: tag 0 is reserved")
	ErrTagAlreadyExists = errors.New("spawn: tag already registered")
	ErrUnknownTag       = errors.New("spawn: no constructor registered for this tag")
)

// NetworkObject is the minimal proxy contract a replicated object
// implements; the engine-integration layer that owns field replication is
// out of scope (spec §1 Non-goals).
type NetworkObject interface {
	NetworkId() ids.NetworkId
}

// Constructor builds a proxy instance for a freshly (re)spawned object.
type Constructor func(id ids.NetworkId) NetworkObject

// TypeRegistry maps user types to wire tags in both directions: Construct
// builds a proxy instance from an inbound tag, TagFor recovers the tag for
// an object the local authority is about to spawn.
type TypeRegistry struct {
	mu          sync.RWMutex
	byTag       map[TypeTag]Constructor
	tagOfType   map[reflect.Type]TypeTag
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byTag:     make(map[TypeTag]Constructor),
		tagOfType: make(map[reflect.Type]TypeTag),
	}
}

// Register binds tag to ctor. sample is only used to capture the concrete
// Go type ctor produces (typically ctor(0)), so TagFor can later look the
// tag back up from a live instance.
func (r *TypeRegistry) Register(tag TypeTag, sample NetworkObject, ctor Constructor) error {
	if tag == ReservedTag {
		return ErrReservedTag
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTag[tag]; exists {
		return ErrTagAlreadyExists
	}
	r.byTag[tag] = ctor
	r.tagOfType[reflect.TypeOf(sample)] = tag
	return nil
}

func (r *TypeRegistry) Construct(tag TypeTag, id ids.NetworkId) (NetworkObject, error) {
	r.mu.RLock()
	ctor, ok := r.byTag[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownTag
	}
	return ctor(id), nil
}

func (r *TypeRegistry) TagFor(obj NetworkObject) (TypeTag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.tagOfType[reflect.TypeOf(obj)]
	return tag, ok
}
