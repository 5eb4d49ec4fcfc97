package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/dbx"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/groups"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/members"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/messages"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
)

// UI notification methods.
const (
	MethodCreate        = "group-create"
	MethodMemberJoin    = "group-member-join"
	MethodMemberLeave   = "group-member-leave"
	MethodMemberOnline  = "group-member-online"
	MethodMemberOffline = "group-member-offline"
	MethodMessageCreate = "group-message-create"
	MethodName          = "group-name"
	MethodDelete        = "group-delete"
	MethodClose         = "group-close"
	MethodInvite        = "group-invite"
	MethodInviteAccept  = "group-invite-accept"
)

// persist applies ev at height to the stored group in one transaction and
// raises the stored group height. It returns the UI notifications.
func (d *Dispatcher) persist(ctx context.Context, g *models.Group, height uint64, ev events.Event) (*rpc.HandleResult, error) {
	res := rpc.NewHandleResult()

	err := dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		mr := members.NewSQLiteRepository(tx)

		switch e := ev.(type) {
		case events.MemberJoin:
			m := &models.Member{
				GroupID:  g.ID,
				MemberID: e.Member,
				Addr:     e.Addr,
				Name:     e.Name,
				Height:   height,
				Datetime: d.timestamp(),
			}
			if err := mr.Insert(ctx, m); err != nil {
				return err
			}
			res.Rpc(d.self.ID, MethodMemberJoin, m.ToRPC()...)

		case events.MemberLeave:
			if err := mr.Delete(ctx, g.ID, e.Member); err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			res.Rpc(d.self.ID, MethodMemberLeave, g.ID, e.Member)

		case events.MessageCreate:
			var rowID int64
			author, err := mr.Get(ctx, g.ID, e.Author)
			switch {
			case err == nil:
				rowID = author.ID
			case !errors.Is(err, common.ErrNotFound):
				return err
			}
			msg := &models.Message{
				GroupID:     g.ID,
				MemberRowID: rowID,
				IsMe:        e.Author == d.self.ID,
				Type:        e.Payload.Type,
				Content:     e.Payload.Content,
				Height:      height,
				Datetime:    e.Timestamp,
			}
			if err := messages.NewSQLiteRepository(tx).Insert(ctx, msg); err != nil {
				return err
			}
			res.Rpc(d.self.ID, MethodMessageCreate, msg.ToRPC()...)

		case events.GroupRename:
			if err := groups.NewSQLiteRepository(tx).UpdateName(ctx, g.ID, e.Name); err != nil {
				return err
			}
			res.Rpc(d.self.ID, MethodName, g.ID, e.Name)

		case events.GroupClose:
			// removal is done by the caller once the height is recorded

		default:
			return fmt.Errorf("event %T: %w", ev, common.ErrDecode)
		}

		return groups.NewSQLiteRepository(tx).UpdateHeight(ctx, g.ID, height)
	})
	if err != nil {
		return nil, fmt.Errorf("persist %s at %d: %w", g.GID, height, err)
	}

	if join, ok := ev.(events.MemberJoin); ok && len(join.Avatar) > 0 {
		if err := d.blobs.WriteAvatar(ctx, d.self.ID, join.Member, join.Avatar); err != nil {
			d.logger.Warn(ctx, "avatar write failed", "member", join.Member, "error", err)
		}
	}
	return res, nil
}

// mint assigns the next height to ev and fans the Sync out to every
// reachable member. check runs first and after runs last, both inside the
// group's mint section, so validation, persistence and roster changes of one
// group never interleave. The height is taken from the registry only once the
// event is durable, so a failed write leaves no gap.
func (d *Dispatcher) mint(ctx context.Context, g *models.Group, t *tracked, ev events.Event,
	check func(ctx context.Context) error, after func(height uint64) error) (*rpc.HandleResult, uint64, error) {
	t.mint.Lock()
	defer t.mint.Unlock()

	if d.lookup(g.GID) != t {
		return nil, 0, fmt.Errorf("group %s is not tracked: %w", g.GID, common.ErrState)
	}
	if check != nil {
		if err := check(ctx); err != nil {
			return nil, 0, err
		}
	}

	current, err := d.registry.Height(g.GID)
	if err != nil {
		return nil, 0, err
	}
	height := current + 1

	res, err := d.persist(ctx, g, height, ev)
	if err != nil {
		return nil, 0, err
	}
	if _, err := d.registry.Raise(g.GID, height); err != nil {
		return nil, 0, err
	}

	payload, err := events.Encode(events.Sync{Group: g.GID, Height: height, Event: ev})
	if err != nil {
		return nil, 0, err
	}

	peers, err := d.registry.ReachablePeers(g.GID)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range peers {
		res.Send(rpc.Outbound{Entity: g.GID, To: p, Height: height, Payload: payload})
	}

	if after != nil {
		if err := after(height); err != nil {
			return nil, 0, err
		}
	}

	d.logger.Debug(ctx, "event minted", "group", g.GID, "height", height, "type", ev.Type(), "fanout", len(peers))
	return res, height, nil
}

// forward addresses an unminted ev to the group authority.
func (d *Dispatcher) forward(g *models.Group, authority string, ev events.Event) (*rpc.HandleResult, error) {
	payload, err := events.Encode(events.Sync{Group: g.GID, Event: ev})
	if err != nil {
		return nil, err
	}
	res := rpc.NewHandleResult()
	res.Send(rpc.Outbound{Entity: g.GID, To: authority, Payload: payload})
	return res, nil
}

// invite builds the Invite sent to a member admitted at height.
func (d *Dispatcher) invite(ctx context.Context, g *models.Group, to string, height uint64) (rpc.Outbound, error) {
	list, err := members.NewSQLiteRepository(d.db).List(ctx, g.ID)
	if err != nil {
		return rpc.Outbound{}, err
	}

	roster := make([]events.InviteMember, 0, len(list))
	for _, m := range list {
		roster = append(roster, events.InviteMember{ID: m.MemberID, Addr: m.Addr, Name: m.Name, Height: m.Height})
	}

	payload, err := events.Encode(events.Invite{
		Group:     g.GID,
		Authority: d.self.Addr,
		Name:      g.Name,
		Height:    height,
		Members:   roster,
	})
	if err != nil {
		return rpc.Outbound{}, err
	}
	return rpc.Outbound{Entity: g.GID, To: to, Payload: payload}, nil
}

// drop forgets a group locally: rows, tracked state and presence.
func (d *Dispatcher) drop(ctx context.Context, g *models.Group) error {
	d.untrack(g.GID)
	if err := groups.NewSQLiteRepository(d.db).Delete(ctx, g.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return nil
}
