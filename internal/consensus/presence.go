package consensus

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/netx"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/groups"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/members"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
)

// PeerOnline marks addr reachable for group gid. The UI is notified only on a
// transition. It returns the peer's last known height, which a catch-up
// protocol would compare with the group height.
func (d *Dispatcher) PeerOnline(ctx context.Context, gid, addr string) (uint64, *rpc.HandleResult, error) {
	return d.setPresence(ctx, gid, addr, true)
}

// PeerOffline marks addr unreachable for group gid.
func (d *Dispatcher) PeerOffline(ctx context.Context, gid, addr string) (uint64, *rpc.HandleResult, error) {
	return d.setPresence(ctx, gid, addr, false)
}

func (d *Dispatcher) setPresence(ctx context.Context, gid, addr string, online bool) (uint64, *rpc.HandleResult, error) {
	was := d.registry.IsOnline(gid, addr)

	var (
		last uint64
		err  error
	)
	if online {
		last, err = d.registry.MarkOnline(gid, addr)
	} else {
		last, err = d.registry.MarkOffline(gid, addr)
	}
	if err != nil {
		return 0, nil, err
	}

	res := rpc.NewHandleResult()
	if was == online {
		return last, res, nil
	}

	g, err := groups.NewSQLiteRepository(d.db).GetByGID(ctx, gid)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return last, res, nil
		}
		return 0, nil, err
	}

	var member string
	if pa, err := netx.ParsePeerAddr(addr); err == nil {
		member = pa.ID
	}

	if online {
		res.Rpc(d.self.ID, MethodMemberOnline, g.ID, member, addr)
		if height, err := d.registry.Height(gid); err == nil && last < height {
			d.logger.Debug(ctx, "peer behind", "group", gid, "peer", addr, "last_known", last, "height", height)
		}
	} else {
		res.Rpc(d.self.ID, MethodMemberOffline, g.ID, member)
	}
	return last, res, nil
}

// Acknowledge records that addr holds group gid up to height, in the
// registry and in the stored member row so the value survives a restart.
func (d *Dispatcher) Acknowledge(ctx context.Context, gid, addr string, height uint64) error {
	if err := d.registry.Acknowledge(gid, addr, height); err != nil {
		return err
	}
	pa, err := netx.ParsePeerAddr(addr)
	if err != nil {
		return err
	}
	g, err := groups.NewSQLiteRepository(d.db).GetByGID(ctx, gid)
	if err != nil {
		return err
	}
	return members.NewSQLiteRepository(d.db).UpdateHeight(ctx, g.ID, pa.ID, height)
}
