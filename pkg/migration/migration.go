// Package migration implements the host-migration protocol from spec §4.8.
// Only relay sessions are migratable; this package holds the
// transport-agnostic selection/authority-tracking logic a RelayBuffer
// drives, in the same small-stateful-helper shape as the teacher's
// TimerManager/HandlerRegistry: an explicit constructor plus a handful of
// mutating methods, no hidden global state.
package migration

import (
	"errors"
	"sync"

	"github.com/appnet-org/owlnet/pkg/ids"
)

var ErrNoEligibleAuthority = errors.New("migration: no eligible client to promote to authority")

// OnMigration is fired after Migrate commits a new authority. old is
// ids.NoneClientId before the first host is ever assigned.
type OnMigration func(old, new_ ids.ClientId)

// Coordinator tracks the current authority of a relay session and performs
// the host-selection/broadcast bookkeeping around a migration. It does not
// itself send the HostMigration RPC; callers pick the id with
// SelectNewAuthority, commit it via Migrate, and broadcast that same id.
type Coordinator struct {
	mu          sync.Mutex
	migratable  bool
	authority   ids.ClientId
	subscribers []OnMigration
}

// NewCoordinator builds a Coordinator. migratable mirrors Config.Migratable
// (spec §6: forced true whenever ShutdownWhenEmpty is false).
func NewCoordinator(migratable bool) *Coordinator {
	return &Coordinator{migratable: migratable}
}

func (c *Coordinator) Authority() ids.ClientId {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authority
}

// Subscribe registers fn to run (in registration order) whenever Migrate
// commits a new authority, grounded on the teacher's ordered-slice-of-
// callbacks shape (pkg/rpc/element.RPCElementChain).
func (c *Coordinator) Subscribe(fn OnMigration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// SelectNewAuthority picks the relay's next authority (spec §4.8 step 1).
// explicit, when non-None, is used as-is (the caller, e.g. an
// application-invoked migrate_host(newId), is trusted to have validated
// membership). Otherwise the first entry of candidates — which the caller
// must have already ordered by admission time — is promoted.
func SelectNewAuthority(candidates []ids.ClientId, explicit ids.ClientId) (ids.ClientId, error) {
	if !explicit.IsNone() {
		return explicit, nil
	}
	if len(candidates) == 0 {
		return ids.NoneClientId, ErrNoEligibleAuthority
	}
	return candidates[0], nil
}

// Migrate commits newAuthority as the current authority and notifies every
// subscriber with the (old, new) pair (spec §4.8 step 2: the caller
// broadcasts the HostMigration control message separately, over the
// stream transport, using the same newAuthority value).
func (c *Coordinator) Migrate(newAuthority ids.ClientId) {
	c.mu.Lock()
	old := c.authority
	c.authority = newAuthority
	subs := append([]OnMigration(nil), c.subscribers...)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(old, newAuthority)
	}
}

// ShouldShutdownOnAuthorityDisconnect reports whether the relay must shut
// down when its current authority disconnects (spec §4.8: true whenever
// the session is not migratable).
func (c *Coordinator) ShouldShutdownOnAuthorityDisconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.migratable
}

// RoleChange reports how a migration affects one particular client's host
// status (spec §4.8 step 3), so a ClientBuffer can decide whether it just
// became or stopped being host.
type RoleChange struct {
	BecameHost bool
	LostHost   bool
}

// DetermineRoleChange is a pure helper any endpoint can use to interpret a
// HostMigration message against its own local id.
func DetermineRoleChange(localId, oldAuthority, newAuthority ids.ClientId) RoleChange {
	return RoleChange{
		BecameHost: newAuthority == localId && oldAuthority != localId,
		LostHost:   oldAuthority == localId && newAuthority != localId,
	}
}
