// Package consensus decides, per group, whether this node mints heights for
// an action or forwards it to the group authority, and applies the height
// ordered events it receives.
//
// A group is in one of three modes. A group created here is LocalAuthority:
// every accepted action gets the next height from the presence registry, is
// persisted, and is then fanned out to reachable members. A group joined
// through an invite is RemoteAuthority: actions are forwarded unminted to the
// authority and the local store changes only when the matching Sync comes
// back. Anything else is NotTracked.
package consensus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/blobstore"
	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/presence"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/groups"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/members"
	"github.com/sasha-s/go-deadlock"
)

// Mode is the authority mode of a group.
type Mode int

const (
	NotTracked Mode = iota
	LocalAuthority
	RemoteAuthority
)

func (m Mode) String() string {
	switch m {
	case LocalAuthority:
		return "local"
	case RemoteAuthority:
		return "remote"
	default:
		return "not-tracked"
	}
}

// DefaultMaxPending bounds the out-of-order Syncs buffered per remote group.
const DefaultMaxPending = 1024

// Identity is the local identity a Dispatcher acts for.
type Identity struct {
	ID     string
	Addr   string
	Name   string
	Avatar []byte
}

// Config wires a Dispatcher.
type Config struct {
	Self     Identity
	DB       *sql.DB
	Registry *presence.Registry
	Blobs    blobstore.Store
	Logger   logging.Logger

	// MaxPending defaults to DefaultMaxPending.
	MaxPending int
	// Now defaults to time.Now.
	Now func() time.Time
}

type tracked struct {
	mode      Mode
	authority string

	// mint serializes validation, height assignment and persistence of a
	// local group.
	mint deadlock.Mutex

	// apply serializes inbound Syncs of a remote group.
	apply   deadlock.Mutex
	applied uint64
	pending map[uint64]events.Event
}

// Dispatcher runs the group consensus of one identity.
type Dispatcher struct {
	self       Identity
	db         *sql.DB
	registry   *presence.Registry
	blobs      blobstore.Store
	logger     logging.Logger
	maxPending int
	now        func() time.Time

	mu      deadlock.RWMutex
	groups  map[string]*tracked
	invites map[string]events.Invite
	// early holds Syncs that reach a pending invite before it is accepted.
	early map[string]map[uint64]events.Event
}

func New(cfg Config) *Dispatcher {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		self:       cfg.Self,
		db:         cfg.DB,
		registry:   cfg.Registry,
		blobs:      cfg.Blobs,
		logger:     cfg.Logger.With("module", "consensus", "identity", cfg.Self.ID),
		maxPending: cfg.MaxPending,
		now:        cfg.Now,
		groups:     make(map[string]*tracked),
		invites:    make(map[string]events.Invite),
		early:      make(map[string]map[uint64]events.Event),
	}
}

// Load restores the tracked state of every stored group.
func (d *Dispatcher) Load(ctx context.Context) error {
	all, err := groups.NewSQLiteRepository(d.db).All(ctx)
	if err != nil {
		return err
	}

	for _, g := range all {
		if g.Local {
			list, err := members.NewSQLiteRepository(d.db).List(ctx, g.ID)
			if err != nil {
				return err
			}
			roster := make(map[string]uint64, len(list))
			for _, m := range list {
				roster[m.Addr] = m.Height
			}
			d.registry.Init(g.GID, g.Height, roster)
			d.track(g.GID, &tracked{mode: LocalAuthority})
		} else {
			d.registry.Init(g.GID, g.Height, map[string]uint64{g.Owner: g.Height})
			d.track(g.GID, &tracked{mode: RemoteAuthority, authority: g.Owner, applied: g.Height})
		}
	}

	d.logger.Info(ctx, "groups loaded", "count", len(all))
	return nil
}

// Mode reports the authority mode of the group with network id gid.
func (d *Dispatcher) Mode(gid string) Mode {
	if t := d.lookup(gid); t != nil {
		return t.mode
	}
	return NotTracked
}

// Tracked returns the network ids of all tracked groups in the given mode.
func (d *Dispatcher) Tracked(mode Mode) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for gid, t := range d.groups {
		if t.mode == mode {
			ids = append(ids, gid)
		}
	}
	return ids
}

func (d *Dispatcher) track(gid string, t *tracked) {
	if t.pending == nil {
		t.pending = make(map[uint64]events.Event)
	}
	d.mu.Lock()
	d.groups[gid] = t
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(gid string) {
	d.mu.Lock()
	delete(d.groups, gid)
	d.mu.Unlock()
	d.registry.Remove(gid)
}

func (d *Dispatcher) lookup(gid string) *tracked {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.groups[gid]
}

// resolve loads the group row and its tracked state.
func (d *Dispatcher) resolve(ctx context.Context, groupID int64) (*models.Group, *tracked, error) {
	g, err := groups.NewSQLiteRepository(d.db).Get(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	t := d.lookup(g.GID)
	if t == nil {
		return nil, nil, fmt.Errorf("group %s is not tracked: %w", g.GID, common.ErrState)
	}
	return g, t, nil
}

func (d *Dispatcher) timestamp() int64 {
	return d.now().Unix()
}
