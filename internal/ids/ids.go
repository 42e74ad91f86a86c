// Package ids interns external string identifiers into dense internal
// integers, one registry per identifier domain (node, link, agent, vehicle,
// vehicle type, mode, activity type).
package ids

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Kind distinguishes identifier domains at the type level so a LinkID can
// never be passed where a NodeID is expected.
type Kind interface {
	kind()
}

type (
	NodeKind         struct{}
	LinkKind         struct{}
	AgentKind        struct{}
	VehicleKind      struct{}
	VehicleTypeKind  struct{}
	ModeKind         struct{}
	ActivityTypeKind struct{}
)

func (NodeKind) kind()         {}
func (LinkKind) kind()         {}
func (AgentKind) kind()        {}
func (VehicleKind) kind()      {}
func (VehicleTypeKind) kind()  {}
func (ModeKind) kind()         {}
func (ActivityTypeKind) kind() {}

// ID is a dense, monotonically assigned internal identifier for domain K.
// Equality and hashing use only the wrapped integer, per spec.
type ID[K Kind] uint32

// Invalid is a sentinel id that Intern never assigns (ids count up from 0);
// Lookup reports a miss through its boolean result, not through Invalid.
const Invalid = ^uint32(0)

func (id ID[K]) Valid() bool { return uint32(id) != Invalid }

type (
	NodeID         = ID[NodeKind]
	LinkID         = ID[LinkKind]
	AgentID        = ID[AgentKind]
	VehicleID      = ID[VehicleKind]
	VehicleTypeID  = ID[VehicleTypeKind]
	ModeID         = ID[ModeKind]
	ActivityTypeID = ID[ActivityTypeKind]
)

// shardCount is the number of lock-striped shards in a Registry's forward
// map. The registry is read-mostly after network/population load (§5), so a
// handful of shards is enough to keep concurrent readers from serializing on
// one mutex; it does not need to scale with core count the way a write-heavy
// structure would.
const shardCount = 16

type shard struct {
	mu  sync.RWMutex
	fwd map[string]uint32
}

// Registry interns external string ids into dense ID[K] values, assigned in
// creation order starting at 0. It supports create-or-get, reverse lookup,
// and binary (de)serialization for distributing the id space to every
// partition before simulation starts.
type Registry[K Kind] struct {
	shards [shardCount]shard

	mu  sync.RWMutex // guards rev; fwd writes take the shard lock first
	rev []string
}

// NewRegistry returns an empty registry for domain K.
func NewRegistry[K Kind]() *Registry[K] {
	r := &Registry[K]{}
	for i := range r.shards {
		r.shards[i].fwd = make(map[string]uint32)
	}
	return r
}

func shardFor(external string) int {
	return int(xxhash.Sum64String(external) % shardCount)
}

// Intern returns the dense id for external, assigning a new one if this is
// the first time external has been seen.
func (r *Registry[K]) Intern(external string) ID[K] {
	sh := &r.shards[shardFor(external)]

	sh.mu.RLock()
	if id, ok := sh.fwd[external]; ok {
		sh.mu.RUnlock()
		return ID[K](id)
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if id, ok := sh.fwd[external]; ok {
		return ID[K](id)
	}

	r.mu.Lock()
	id := uint32(len(r.rev))
	r.rev = append(r.rev, external)
	r.mu.Unlock()

	sh.fwd[external] = id
	return ID[K](id)
}

// Lookup returns the dense id for external without creating one.
func (r *Registry[K]) Lookup(external string) (ID[K], bool) {
	sh := &r.shards[shardFor(external)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	id, ok := sh.fwd[external]
	return ID[K](id), ok
}

// External reverses an internal id back to its external string. Panics if id
// was never interned by this registry: this is always a logic error (§7
// invariant violation), never a recoverable input problem.
func (r *Registry[K]) External(id ID[K]) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := uint32(id)
	if i >= uint32(len(r.rev)) {
		panic("ids: External called with an id this registry never assigned")
	}
	return r.rev[i]
}

// Len reports how many distinct external ids have been interned.
func (r *Registry[K]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rev)
}

// Snapshot returns the external strings in internal-id order, suitable for
// marshaling and shipping to every partition at setup time.
func (r *Registry[K]) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.rev))
	copy(out, r.rev)
	return out
}

// LoadSnapshot replaces the registry's contents with externals, assigning
// dense ids in slice order. Used on the receiving side of an id-registry
// blob so every partition agrees on the same string<->id mapping.
func (r *Registry[K]) LoadSnapshot(externals []string) {
	for i := range r.shards {
		r.shards[i].fwd = make(map[string]uint32)
	}
	r.rev = make([]string, 0, len(externals))
	for _, e := range externals {
		r.Intern(e)
	}
}
