// Package presence tracks, per synchronized entity (an identity's device log
// or a group), the current consensus height and which peers are reachable.
//
// The Registry is the only owner of this state. Every mutation goes through
// its methods; the entity table is guarded by a read/write lock and each entity
// by its own mutex, so minting a height for one group never waits on another.
package presence

import (
	"fmt"
	"sort"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/sasha-s/go-deadlock"
)

type member struct {
	lastKnown uint64
	online    bool
}

type entity struct {
	mu      deadlock.Mutex
	height  uint64
	members map[string]*member
}

// Registry holds presence state for all entities of a node.
type Registry struct {
	mu       deadlock.RWMutex
	self     string
	entities map[string]*entity
}

// NewRegistry returns an empty registry. self is the node's own address and
// is never reported as a reachable peer.
func NewRegistry(self string) *Registry {
	return &Registry{
		self:     self,
		entities: make(map[string]*entity),
	}
}

// Self returns the node address the registry was created with.
func (r *Registry) Self() string {
	return r.self
}

// Init (re)registers an entity at height with every roster peer offline.
// A roster height above the entity height is clamped.
func (r *Registry) Init(id string, height uint64, roster map[string]uint64) {
	e := &entity{
		height:  height,
		members: make(map[string]*member, len(roster)),
	}
	for peer, h := range roster {
		e.members[peer] = &member{lastKnown: min(h, height)}
	}

	r.mu.Lock()
	r.entities[id] = e
	r.mu.Unlock()
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[id]
	return ok
}

// Remove forgets id. Removing an unknown entity is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.entities, id)
	r.mu.Unlock()
}

func (r *Registry) get(id string) (*entity, error) {
	r.mu.RLock()
	e, ok := r.entities[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}
	return e, nil
}

// Admit adds peer to the entity roster, offline, with last known height set
// to height. An already known peer keeps its reachability.
func (r *Registry) Admit(id, peer string, height uint64) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	h := min(height, e.height)
	if m, ok := e.members[peer]; ok {
		m.lastKnown = max(m.lastKnown, h)
		return nil
	}
	e.members[peer] = &member{lastKnown: h}
	return nil
}

// Evict drops peer from the entity roster.
func (r *Registry) Evict(id, peer string) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.members[peer]; !ok {
		return fmt.Errorf("peer %s: %w", peer, common.ErrNotFound)
	}
	delete(e.members, peer)
	return nil
}

// MarkOnline flags peer reachable and returns its last known height.
// Calling it again changes nothing.
func (r *Registry) MarkOnline(id, peer string) (uint64, error) {
	return r.setOnline(id, peer, true)
}

// MarkOffline flags peer unreachable and returns its last known height.
func (r *Registry) MarkOffline(id, peer string) (uint64, error) {
	return r.setOnline(id, peer, false)
}

func (r *Registry) setOnline(id, peer string, online bool) (uint64, error) {
	e, err := r.get(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.members[peer]
	if !ok {
		return 0, fmt.Errorf("peer %s: %w", peer, common.ErrNotFound)
	}
	m.online = online
	return m.lastKnown, nil
}

// IsOnline reports the reachability of peer; unknown peers are offline.
func (r *Registry) IsOnline(id, peer string) bool {
	e, err := r.get(id)
	if err != nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.members[peer]
	return ok && m.online
}

// IncreaseHeight increments the entity height and returns the new value.
// Concurrent callers for one entity observe distinct consecutive results.
func (r *Registry) IncreaseHeight(id string) (uint64, error) {
	e, err := r.get(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.height++
	return e.height, nil
}

// Height returns the current entity height.
func (r *Registry) Height(id string) (uint64, error) {
	e, err := r.get(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.height, nil
}

// Raise moves the entity height up to height when it is behind and returns
// the resulting height. It is used when another peer minted the height.
func (r *Registry) Raise(id string, height uint64) (uint64, error) {
	e, err := r.get(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.height = max(e.height, height)
	return e.height, nil
}

// Acknowledge records that peer holds the entity log up to height. The last
// known height only moves forward and never exceeds the entity height.
func (r *Registry) Acknowledge(id, peer string, height uint64) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.members[peer]
	if !ok {
		return fmt.Errorf("peer %s: %w", peer, common.ErrNotFound)
	}
	m.lastKnown = max(m.lastKnown, min(height, e.height))
	return nil
}

// LastKnown returns the last height acknowledged by peer.
func (r *Registry) LastKnown(id, peer string) (uint64, error) {
	e, err := r.get(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.members[peer]
	if !ok {
		return 0, fmt.Errorf("peer %s: %w", peer, common.ErrNotFound)
	}
	return m.lastKnown, nil
}

// ReachablePeers returns a sorted snapshot of online peers, excluding self.
func (r *Registry) ReachablePeers(id string) ([]string, error) {
	e, err := r.get(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	peers := make([]string, 0, len(e.members))
	for p, m := range e.members {
		if m.online && p != r.self {
			peers = append(peers, p)
		}
	}
	e.mu.Unlock()

	sort.Strings(peers)
	return peers, nil
}

// Peers returns a sorted snapshot of every known peer of the entity.
func (r *Registry) Peers(id string) ([]string, error) {
	e, err := r.get(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	peers := make([]string, 0, len(e.members))
	for p := range e.members {
		peers = append(peers, p)
	}
	e.mu.Unlock()

	sort.Strings(peers)
	return peers, nil
}

// Entities returns the ids of all registered entities, sorted.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
