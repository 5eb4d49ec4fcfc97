package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/dbx"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/netx"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/groups"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/members"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/messages"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
)

const groupIDSize = 32

// NewMember describes a peer to admit into a group.
type NewMember struct {
	ID     string
	Addr   string
	Name   string
	Avatar []byte
}

// CreateGroup creates a local-authority group with this identity as its
// first member at height 1.
func (d *Dispatcher) CreateGroup(ctx context.Context, name string) (*rpc.HandleResult, error) {
	if name == "" {
		return nil, fmt.Errorf("empty group name: %w", common.ErrState)
	}
	gid, err := common.MakeRandHexString(groupIDSize)
	if err != nil {
		return nil, err
	}

	const height = 1
	now := d.timestamp()
	g := &models.Group{GID: gid, Owner: d.self.Addr, Name: name, Local: true, Height: height, Datetime: now}

	err = dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := groups.NewSQLiteRepository(tx).Create(ctx, g); err != nil {
			return err
		}
		return members.NewSQLiteRepository(tx).Insert(ctx, &models.Member{
			GroupID:  g.ID,
			MemberID: d.self.ID,
			Addr:     d.self.Addr,
			Name:     d.self.Name,
			Height:   height,
			Datetime: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if len(d.self.Avatar) > 0 {
		if err := d.blobs.WriteAvatar(ctx, d.self.ID, d.self.ID, d.self.Avatar); err != nil {
			d.logger.Warn(ctx, "avatar write failed", "error", err)
		}
	}

	d.registry.Init(gid, height, map[string]uint64{d.self.Addr: height})
	d.track(gid, &tracked{mode: LocalAuthority})

	res := rpc.NewHandleResult()
	res.Rpc(d.self.ID, MethodCreate, g.ToRPC()...)
	res.Control(rpc.AddGroup, gid)

	d.logger.Info(ctx, "group created", "group", gid)
	return res, nil
}

// PendingInvites returns the invites received and not yet accepted.
func (d *Dispatcher) PendingInvites() []events.Invite {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]events.Invite, 0, len(d.invites))
	for _, inv := range d.invites {
		out = append(out, inv)
	}
	return out
}

// AcceptInvite starts tracking the invited group under its authority. The
// group is applied up to inv.Height.
func (d *Dispatcher) AcceptInvite(ctx context.Context, gid string) (*rpc.HandleResult, error) {
	d.mu.RLock()
	inv, ok := d.invites[gid]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("invite %s: %w", gid, common.ErrNotFound)
	}
	if d.lookup(gid) != nil {
		return nil, fmt.Errorf("group %s already tracked: %w", gid, common.ErrState)
	}
	if _, err := netx.ParsePeerAddr(inv.Authority); err != nil {
		return nil, err
	}

	now := d.timestamp()
	g := &models.Group{GID: inv.Group, Owner: inv.Authority, Name: inv.Name, Height: inv.Height, Datetime: now}

	err := dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := groups.NewSQLiteRepository(tx).Create(ctx, g); err != nil {
			return err
		}
		mr := members.NewSQLiteRepository(tx)
		self := false
		for _, m := range inv.Members {
			self = self || m.ID == d.self.ID
			err := mr.Insert(ctx, &models.Member{
				GroupID:  g.ID,
				MemberID: m.ID,
				Addr:     m.Addr,
				Name:     m.Name,
				Height:   min(m.Height, inv.Height),
				Datetime: now,
			})
			if err != nil {
				return err
			}
		}
		if self {
			return nil
		}
		return mr.Insert(ctx, &models.Member{
			GroupID:  g.ID,
			MemberID: d.self.ID,
			Addr:     d.self.Addr,
			Name:     d.self.Name,
			Height:   inv.Height,
			Datetime: now,
		})
	})
	if err != nil {
		return nil, err
	}

	d.registry.Init(gid, inv.Height, map[string]uint64{inv.Authority: inv.Height})

	// Syncs minted between the invite and now were held back; they become
	// the pending window of the tracked group so nothing is skipped.
	t := &tracked{mode: RemoteAuthority, authority: inv.Authority, applied: inv.Height, pending: make(map[uint64]events.Event)}
	d.mu.Lock()
	for h, ev := range d.early[gid] {
		if h > inv.Height {
			t.pending[h] = ev
		}
	}
	d.groups[gid] = t
	delete(d.invites, gid)
	delete(d.early, gid)
	d.mu.Unlock()

	res := rpc.NewHandleResult()
	res.Rpc(d.self.ID, MethodInviteAccept, g.ToRPC()...)

	t.apply.Lock()
	err = d.drain(ctx, g, t, res)
	t.apply.Unlock()
	if err != nil {
		d.logger.Warn(ctx, "held syncs not applied", "group", gid, "applied", t.applied, "error", err)
	}

	d.logger.Info(ctx, "invite accepted", "group", gid, "authority", inv.Authority, "height", inv.Height, "applied", t.applied)
	return res, nil
}

// JoinMember admits m into the group.
func (d *Dispatcher) JoinMember(ctx context.Context, groupID int64, m NewMember) (*rpc.HandleResult, error) {
	g, t, err := d.resolve(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := d.validateJoin(ctx, g, m.ID, m.Addr); err != nil {
		return nil, err
	}

	ev := events.MemberJoin{Member: m.ID, Addr: m.Addr, Name: m.Name, Avatar: m.Avatar}
	if t.mode == RemoteAuthority {
		return d.forward(g, t.authority, ev)
	}
	return d.mintJoin(ctx, g, t, ev, nil)
}

func (d *Dispatcher) validateJoin(ctx context.Context, g *models.Group, memberID, addr string) error {
	pa, err := netx.ParsePeerAddr(addr)
	if err != nil {
		return err
	}
	if pa.ID != memberID {
		return fmt.Errorf("address %s does not belong to %s: %w", addr, memberID, common.ErrState)
	}

	_, err = members.NewSQLiteRepository(d.db).Get(ctx, g.ID, memberID)
	switch {
	case err == nil:
		return fmt.Errorf("%s is already a member: %w", memberID, common.ErrState)
	case !errors.Is(err, common.ErrNotFound):
		return err
	}
	return nil
}

// mintJoin re-validates the join inside the mint section. The new member is
// admitted after the fan-out; it learns the join height from its invite,
// which carries the roster as of that height.
func (d *Dispatcher) mintJoin(ctx context.Context, g *models.Group, t *tracked, ev events.MemberJoin,
	check func(ctx context.Context) error) (*rpc.HandleResult, error) {
	var (
		inv    rpc.Outbound
		invErr error
	)
	res, _, err := d.mint(ctx, g, t, ev,
		func(ctx context.Context) error {
			if err := d.validateJoin(ctx, g, ev.Member, ev.Addr); err != nil {
				return err
			}
			if check != nil {
				return check(ctx)
			}
			return nil
		},
		func(height uint64) error {
			if err := d.registry.Admit(g.GID, ev.Addr, height); err != nil {
				return err
			}
			inv, invErr = d.invite(ctx, g, ev.Addr, height)
			return nil
		})
	if err != nil {
		return nil, err
	}

	if invErr != nil {
		d.logger.Error(ctx, "invite not built", "group", g.GID, "member", ev.Member, "error", invErr)
		return res, nil
	}
	res.Send(inv)
	return res, nil
}

// LeaveMember removes memberID from the group. The authority cannot remove
// itself from its own group; it deletes the group instead.
func (d *Dispatcher) LeaveMember(ctx context.Context, groupID int64, memberID string) (*rpc.HandleResult, error) {
	g, t, err := d.resolve(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if _, err := d.memberByID(ctx, g, memberID); err != nil {
		return nil, err
	}

	ev := events.MemberLeave{Member: memberID}
	if t.mode == RemoteAuthority {
		if memberID != d.self.ID {
			return nil, fmt.Errorf("only the authority removes other members: %w", common.ErrState)
		}
		return d.forward(g, t.authority, ev)
	}
	if memberID == d.self.ID {
		return nil, fmt.Errorf("owner cannot leave its own group: %w", common.ErrState)
	}
	return d.mintLeave(ctx, g, t, ev, nil)
}

// mintLeave re-checks membership inside the mint section. The leaving member
// is evicted after the fan-out so it receives its own removal.
func (d *Dispatcher) mintLeave(ctx context.Context, g *models.Group, t *tracked, ev events.MemberLeave,
	check func(ctx context.Context) error) (*rpc.HandleResult, error) {
	var addr string
	res, _, err := d.mint(ctx, g, t, ev,
		func(ctx context.Context) error {
			m, err := d.memberByID(ctx, g, ev.Member)
			if err != nil {
				return err
			}
			addr = m.Addr
			if check != nil {
				return check(ctx)
			}
			return nil
		},
		func(uint64) error {
			if err := d.registry.Evict(g.GID, addr); err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			return nil
		})
	return res, err
}

// memberByID returns the member of g with public id memberID, or ErrState
// when there is none.
func (d *Dispatcher) memberByID(ctx context.Context, g *models.Group, memberID string) (*models.Member, error) {
	m, err := members.NewSQLiteRepository(d.db).Get(ctx, g.ID, memberID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%s is not a member of %s: %w", memberID, g.GID, common.ErrState)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateMessage posts payload as this identity.
func (d *Dispatcher) CreateMessage(ctx context.Context, groupID int64, payload events.Payload) (*rpc.HandleResult, error) {
	g, t, err := d.resolve(ctx, groupID)
	if err != nil {
		return nil, err
	}

	isMember := func(ctx context.Context) error {
		_, err := d.memberByID(ctx, g, d.self.ID)
		return err
	}
	if err := isMember(ctx); err != nil {
		return nil, err
	}

	ev := events.MessageCreate{Author: d.self.ID, Payload: payload, Timestamp: d.timestamp()}
	if t.mode == RemoteAuthority {
		return d.forward(g, t.authority, ev)
	}
	res, _, err := d.mint(ctx, g, t, ev, isMember, nil)
	return res, err
}

// RenameGroup changes the group name.
func (d *Dispatcher) RenameGroup(ctx context.Context, groupID int64, name string) (*rpc.HandleResult, error) {
	if name == "" {
		return nil, fmt.Errorf("empty group name: %w", common.ErrState)
	}
	g, t, err := d.resolve(ctx, groupID)
	if err != nil {
		return nil, err
	}

	ev := events.GroupRename{Name: name}
	if t.mode == RemoteAuthority {
		return d.forward(g, t.authority, ev)
	}
	res, _, err := d.mint(ctx, g, t, ev, nil, nil)
	return res, err
}

// DeleteGroup dissolves a local group, telling reachable members with a
// heightless Close, or leaves a remote one.
func (d *Dispatcher) DeleteGroup(ctx context.Context, groupID int64) (*rpc.HandleResult, error) {
	g, t, err := d.resolve(ctx, groupID)
	if err != nil {
		return nil, err
	}

	res := rpc.NewHandleResult()

	switch t.mode {
	case LocalAuthority:
		// no mint of this group may start or finish once the close is decided
		t.mint.Lock()
		defer t.mint.Unlock()
		if d.lookup(g.GID) != t {
			return nil, fmt.Errorf("group %s is not tracked: %w", g.GID, common.ErrState)
		}

		peers, err := d.registry.ReachablePeers(g.GID)
		if err != nil {
			return nil, err
		}
		payload, err := events.Encode(events.Close{Group: g.GID})
		if err != nil {
			return nil, err
		}
		if err := d.drop(ctx, g); err != nil {
			return nil, err
		}
		for _, p := range peers {
			res.Send(rpc.Outbound{Entity: g.GID, To: p, Payload: payload})
		}
		res.Control(rpc.RemoveGroup, g.GID)

	case RemoteAuthority:
		leave, err := d.forward(g, t.authority, events.MemberLeave{Member: d.self.ID})
		if err != nil {
			return nil, err
		}
		if err := d.drop(ctx, g); err != nil {
			return nil, err
		}
		res.Merge(leave)
	}

	res.Rpc(d.self.ID, MethodDelete, g.ID)
	d.logger.Info(ctx, "group deleted", "group", g.GID, "mode", t.mode)
	return res, nil
}

// List returns every stored group.
func (d *Dispatcher) List(ctx context.Context) ([]models.Group, error) {
	return groups.NewSQLiteRepository(d.db).All(ctx)
}

// Detail is a group with its members and messages.
type Detail struct {
	Group    models.Group
	Members  []models.Member
	Messages []models.Message
}

func (d *Dispatcher) Detail(ctx context.Context, groupID int64) (*Detail, error) {
	g, err := groups.NewSQLiteRepository(d.db).Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ms, err := members.NewSQLiteRepository(d.db).List(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	msgs, err := messages.NewSQLiteRepository(d.db).List(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Group: *g, Members: ms, Messages: msgs}, nil
}
