package spawn

import (
	"errors"
	"sort"
	"sync"

	"github.com/appnet-org/owlnet/pkg/ids"
)

var ErrNotAuthority = errors.New("spawn: only the authority allocates new network ids")

// PendingLookupList holds callbacks keyed by an arbitrary value (typically
// a NetworkId) that fire once the matching value is Resolved (spec §4.6).
// Entries are removed on resolution; nothing times them out, mirroring the
// spec's "drained once per dispatch pass" description rather than a TTL.
type PendingLookupList struct {
	mu   sync.Mutex
	byKey map[any][]func(any)
}

func NewPendingLookupList() *PendingLookupList {
	return &PendingLookupList{byKey: make(map[any][]func(any))}
}

// Await registers cb to run the next time key is Resolved.
func (l *PendingLookupList) Await(key any, cb func(any)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byKey[key] = append(l.byKey[key], cb)
}

// Resolve fires and removes every callback waiting on key. It is a no-op if
// nothing is waiting.
func (l *PendingLookupList) Resolve(key any, value any) {
	l.mu.Lock()
	cbs := l.byKey[key]
	delete(l.byKey, key)
	l.mu.Unlock()
	for _, cb := range cbs {
		cb(value)
	}
}

// Spawner owns every replicated object this endpoint knows about (spec
// §4.6). The authority (server, or host client on a relay session)
// allocates new ids from a monotonic counter; non-authority endpoints only
// ever apply spawns/despawns that arrive over the wire.
type Spawner struct {
	registry    *TypeRegistry
	isAuthority bool
	pending     *PendingLookupList

	mu      sync.Mutex
	objects map[ids.NetworkId]NetworkObject
	tags    map[ids.NetworkId]TypeTag
	nextId  ids.NetworkId
}

// NewSpawner builds a Spawner. isAuthority controls whether Spawn is
// allowed to allocate new ids locally (spec §4.6: "clients never allocate
// ids").
func NewSpawner(registry *TypeRegistry, isAuthority bool) *Spawner {
	return &Spawner{
		registry:    registry,
		isAuthority: isAuthority,
		pending:     NewPendingLookupList(),
		objects:     make(map[ids.NetworkId]NetworkObject),
		tags:        make(map[ids.NetworkId]TypeTag),
		nextId:      1, // 0 is ids.NoneNetworkId
	}
}

func (s *Spawner) Pending() *PendingLookupList { return s.pending }

// Spawn allocates the next id, constructs a proxy via the TypeRegistry, and
// returns the control message to broadcast. Only the authority may call
// this (spec §4.6).
func (s *Spawner) Spawn(tag TypeTag) (NetworkObject, SpawnMessage, error) {
	if !s.isAuthority {
		return nil, SpawnMessage{}, ErrNotAuthority
	}

	s.mu.Lock()
	id := s.nextId
	s.nextId++
	s.mu.Unlock()

	obj, err := s.registry.Construct(tag, id)
	if err != nil {
		return nil, SpawnMessage{}, err
	}

	s.mu.Lock()
	s.objects[id] = obj
	s.tags[id] = tag
	s.mu.Unlock()

	s.pending.Resolve(id, obj)
	return obj, SpawnMessage{Tag: tag, Id: id}, nil
}

// ApplyRemoteSpawn constructs and stores a proxy for a spawn message that
// arrived over the wire. If msg.Id is at or past the local counter, the
// counter advances past it (spec §4.6) so that a later local promotion to
// authority cannot allocate a colliding id.
func (s *Spawner) ApplyRemoteSpawn(msg SpawnMessage) (NetworkObject, error) {
	obj, err := s.registry.Construct(msg.Tag, msg.Id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.objects[msg.Id] = obj
	s.tags[msg.Id] = msg.Tag
	if msg.Id >= s.nextId {
		s.nextId = msg.Id + 1
	}
	s.mu.Unlock()

	s.pending.Resolve(msg.Id, obj)
	return obj, nil
}

// Despawn removes a locally-owned object and returns the control message to
// broadcast.
func (s *Spawner) Despawn(id ids.NetworkId) DespawnMessage {
	s.mu.Lock()
	delete(s.objects, id)
	delete(s.tags, id)
	s.mu.Unlock()
	return DespawnMessage{Id: id}
}

// ApplyRemoteDespawn removes an object following an inbound despawn
// message.
func (s *Spawner) ApplyRemoteDespawn(msg DespawnMessage) {
	s.mu.Lock()
	delete(s.objects, msg.Id)
	delete(s.tags, msg.Id)
	s.mu.Unlock()
}

func (s *Spawner) Get(id ids.NetworkId) (NetworkObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	return obj, ok
}

// ReplayForLateJoin returns one SpawnMessage per currently-live object,
// ordered by id, for the authority to send to a newly admitted client
// before any application state converges (spec §4.6).
func (s *Spawner) ReplayForLateJoin() []SpawnMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := make([]ids.NetworkId, 0, len(s.objects))
	for id := range s.objects {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	msgs := make([]SpawnMessage, len(ordered))
	for i, id := range ordered {
		msgs[i] = SpawnMessage{Tag: s.tags[id], Id: id}
	}
	return msgs
}
