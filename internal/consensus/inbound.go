package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/netx"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/groups"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/members"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
)

// HandleInbound applies an envelope received from the peer at address from.
func (d *Dispatcher) HandleInbound(ctx context.Context, from string, payload []byte) (*rpc.HandleResult, error) {
	env, err := events.Decode(payload)
	if err != nil {
		return nil, err
	}
	return d.HandleEnvelope(ctx, from, env)
}

// HandleEnvelope is HandleInbound for an already decoded envelope.
func (d *Dispatcher) HandleEnvelope(ctx context.Context, from string, env events.Envelope) (*rpc.HandleResult, error) {
	switch e := env.(type) {
	case events.Sync:
		return d.handleSync(ctx, from, e)
	case events.Close:
		return d.handleClose(ctx, from, e)
	case events.Invite:
		return d.handleInvite(ctx, from, e)
	case events.Profile:
		return nil, fmt.Errorf("profile envelope for group consensus: %w", common.ErrState)
	default:
		return nil, fmt.Errorf("envelope %T: %w", env, common.ErrDecode)
	}
}

func (d *Dispatcher) handleSync(ctx context.Context, from string, s events.Sync) (*rpc.HandleResult, error) {
	t, held, err := d.holdEarly(ctx, from, s)
	if err != nil {
		return nil, err
	}
	if held {
		return rpc.NewHandleResult(), nil
	}
	g, err := groups.NewSQLiteRepository(d.db).GetByGID(ctx, s.Group)
	if err != nil {
		return nil, err
	}

	if t.mode == LocalAuthority {
		if s.Height != 0 {
			return nil, fmt.Errorf("minted sync for local group %s: %w", s.Group, common.ErrState)
		}
		return d.handleForwarded(ctx, from, g, t, s.Event)
	}

	if from != t.authority {
		return nil, fmt.Errorf("sync for %s from %s, authority is %s: %w", s.Group, from, t.authority, common.ErrState)
	}
	if s.Height == 0 {
		return nil, fmt.Errorf("unminted sync from authority: %w", common.ErrState)
	}
	return d.applyOrdered(ctx, g, t, s.Height, s.Event)
}

// holdEarly returns the tracked state of the Sync's group. A minted Sync from
// the authority of a pending invite is held until the invite is accepted and
// held is true; the authority may mint again before the invitee decides.
func (d *Dispatcher) holdEarly(ctx context.Context, from string, s events.Sync) (*tracked, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t := d.groups[s.Group]; t != nil {
		return t, false, nil
	}
	inv, ok := d.invites[s.Group]
	if !ok {
		return nil, false, fmt.Errorf("group %s: %w", s.Group, common.ErrNotFound)
	}
	if from != inv.Authority || s.Height == 0 {
		return nil, false, fmt.Errorf("sync for invited group %s from %s: %w", s.Group, from, common.ErrState)
	}
	if s.Height <= inv.Height {
		return nil, true, nil
	}

	held := d.early[s.Group]
	if held == nil {
		held = make(map[uint64]events.Event)
		d.early[s.Group] = held
	}
	if _, ok := held[s.Height]; !ok && len(held) >= d.maxPending {
		d.logger.Warn(ctx, "invite buffer full, dropping", "group", s.Group, "height", s.Height)
		return nil, true, nil
	}
	held[s.Height] = s.Event
	d.logger.Debug(ctx, "sync held for invite", "group", s.Group, "height", s.Height, "invite_height", inv.Height)
	return nil, true, nil
}

// handleForwarded validates an action a member sent to this authority and
// mints it. The originator receives the Sync like any other reachable member,
// since it did not apply the action itself.
func (d *Dispatcher) handleForwarded(ctx context.Context, from string, g *models.Group, t *tracked, ev events.Event) (*rpc.HandleResult, error) {
	sender, err := d.member(ctx, g, from)
	if err != nil {
		return nil, err
	}

	// Runs inside the mint section: the sender must still be a member, and a
	// valid forwarded action proves it reachable before the fan-out is built.
	senderReachable := func(ctx context.Context) error {
		if _, err := d.member(ctx, g, from); err != nil {
			return err
		}
		_, err := d.registry.MarkOnline(g.GID, from)
		return err
	}

	switch e := ev.(type) {
	case events.MemberJoin:
		return d.mintJoin(ctx, g, t, e, senderReachable)

	case events.MemberLeave:
		if e.Member != sender.MemberID {
			return nil, fmt.Errorf("%s cannot remove %s: %w", sender.MemberID, e.Member, common.ErrState)
		}
		return d.mintLeave(ctx, g, t, e, senderReachable)

	case events.MessageCreate:
		if e.Author != sender.MemberID {
			return nil, fmt.Errorf("author %s is not sender %s: %w", e.Author, sender.MemberID, common.ErrState)
		}
		res, _, err := d.mint(ctx, g, t, e, senderReachable, nil)
		return res, err

	case events.GroupRename:
		if e.Name == "" {
			return nil, fmt.Errorf("empty group name: %w", common.ErrState)
		}
		res, _, err := d.mint(ctx, g, t, e, senderReachable, nil)
		return res, err

	case events.GroupClose:
		return nil, fmt.Errorf("only the authority closes %s: %w", g.GID, common.ErrState)

	default:
		return nil, fmt.Errorf("event %T: %w", ev, common.ErrDecode)
	}
}

// member returns the member of g reachable at addr.
func (d *Dispatcher) member(ctx context.Context, g *models.Group, addr string) (*models.Member, error) {
	pa, err := netx.ParsePeerAddr(addr)
	if err != nil {
		return nil, err
	}
	m, err := members.NewSQLiteRepository(d.db).Get(ctx, g.ID, pa.ID)
	if errors.Is(err, common.ErrNotFound) || (err == nil && m.Addr != addr) {
		return nil, fmt.Errorf("%s is not a member of %s: %w", addr, g.GID, common.ErrState)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// applyOrdered applies Syncs of a remote group in height order. Heights at or
// below the applied one are duplicates and ignored; heights past the next
// expected one wait in a bounded buffer until the gap closes.
func (d *Dispatcher) applyOrdered(ctx context.Context, g *models.Group, t *tracked, height uint64, ev events.Event) (*rpc.HandleResult, error) {
	t.apply.Lock()
	defer t.apply.Unlock()

	res := rpc.NewHandleResult()

	switch {
	case height <= t.applied:
		d.logger.Debug(ctx, "duplicate sync ignored", "group", g.GID, "height", height, "applied", t.applied)
		return res, nil
	case height > t.applied+1:
		if _, ok := t.pending[height]; !ok && len(t.pending) >= d.maxPending {
			d.logger.Warn(ctx, "sync buffer full, dropping", "group", g.GID, "height", height, "applied", t.applied)
			return res, nil
		}
		t.pending[height] = ev
		d.logger.Debug(ctx, "sync buffered", "group", g.GID, "height", height, "applied", t.applied)
		return res, nil
	}

	t.pending[height] = ev
	return res, d.drain(ctx, g, t, res)
}

// drain applies buffered Syncs while they continue the applied height. A Sync
// that fails to persist stays buffered for the next attempt.
func (d *Dispatcher) drain(ctx context.Context, g *models.Group, t *tracked, res *rpc.HandleResult) error {
	for {
		next := t.applied + 1
		ev, ok := t.pending[next]
		if !ok {
			return nil
		}
		done, err := d.applyOne(ctx, g, t, next, ev, res)
		if t.applied >= next {
			delete(t.pending, next)
		}
		if err != nil || done {
			return err
		}
	}
}

// applyOne persists one contiguous Sync. done is true when the group is gone
// after the event.
func (d *Dispatcher) applyOne(ctx context.Context, g *models.Group, t *tracked, height uint64, ev events.Event, res *rpc.HandleResult) (bool, error) {
	r, err := d.persist(ctx, g, height, ev)
	if err != nil {
		return false, err
	}
	t.applied = height
	if _, err := d.registry.IncreaseHeight(g.GID); err != nil {
		return false, err
	}
	res.Merge(r)

	closed := false
	switch e := ev.(type) {
	case events.GroupClose:
		closed = true
	case events.MemberLeave:
		closed = e.Member == d.self.ID
	}
	if !closed {
		return false, nil
	}

	if err := d.drop(ctx, g); err != nil {
		return true, err
	}
	res.Rpc(d.self.ID, MethodClose, g.ID)
	d.logger.Info(ctx, "left group", "group", g.GID, "height", height)
	return true, nil
}

func (d *Dispatcher) handleClose(ctx context.Context, from string, c events.Close) (*rpc.HandleResult, error) {
	t := d.lookup(c.Group)
	if t == nil {
		return nil, fmt.Errorf("group %s: %w", c.Group, common.ErrNotFound)
	}
	if t.mode != RemoteAuthority || from != t.authority {
		return nil, fmt.Errorf("close for %s from %s: %w", c.Group, from, common.ErrState)
	}

	g, err := groups.NewSQLiteRepository(d.db).GetByGID(ctx, c.Group)
	if err != nil {
		return nil, err
	}

	t.apply.Lock()
	defer t.apply.Unlock()

	if err := d.drop(ctx, g); err != nil {
		return nil, err
	}

	res := rpc.NewHandleResult()
	res.Rpc(d.self.ID, MethodClose, g.ID)
	d.logger.Info(ctx, "group closed by authority", "group", g.GID)
	return res, nil
}

// handleInvite records an invite until it is accepted and notifies the UI.
func (d *Dispatcher) handleInvite(ctx context.Context, from string, inv events.Invite) (*rpc.HandleResult, error) {
	if from != inv.Authority {
		return nil, fmt.Errorf("invite for %s relayed by %s: %w", inv.Group, from, common.ErrState)
	}
	if inv.Group == "" {
		return nil, fmt.Errorf("invite without group: %w", common.ErrDecode)
	}
	if d.lookup(inv.Group) != nil {
		return rpc.NewHandleResult(), nil
	}

	d.mu.Lock()
	d.invites[inv.Group] = inv
	d.mu.Unlock()

	res := rpc.NewHandleResult()
	res.Rpc(d.self.ID, MethodInvite, inv.Group, inv.Authority, inv.Name, inv.Height)
	return res, nil
}
