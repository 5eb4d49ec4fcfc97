package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
	"github.com/dmitrijs2005/peerkeeper/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Deliver routes an authenticated payload to the session of identity to.
func (n *Node) Deliver(ctx context.Context, from transport.Peer, to string, payload []byte) error {
	s, err := n.session(to)
	if err != nil {
		return err
	}

	env, err := events.Decode(payload)
	if err != nil {
		return err
	}

	var res *rpc.HandleResult
	switch e := env.(type) {
	case events.Profile:
		res, err = s.applyProfile(ctx, from, e)
	default:
		res, err = s.dispatcher.HandleEnvelope(ctx, from.Addr, env)
	}
	if err != nil {
		return err
	}

	n.notifyAll(res.Rpcs)
	n.dispatch(ctx, s, res)
	return nil
}

// Ping answers a reachability probe. A probe from a known peer also proves
// that peer is reachable.
func (n *Node) Ping(ctx context.Context, from transport.Peer, to string) error {
	s, err := n.session(to)
	if err != nil {
		return err
	}
	n.notifyAll(s.seen(ctx, from.Addr).Rpcs)
	return nil
}

// dispatch performs the sends of res with bounded concurrency. A failed send
// marks the peer offline for the entity; it never fails the operation.
func (n *Node) dispatch(ctx context.Context, s *Session, res *rpc.HandleResult) {
	// Peers are addressed by identity and host on one listener, so the
	// transport needs no per-group registration; controls are only recorded.
	for _, c := range res.Controls {
		s.logger.Info(ctx, "entity control", "kind", c.Kind, "entity", c.Entity)
	}
	if len(res.Sends) == 0 {
		return
	}

	var (
		mu       sync.Mutex
		followup = rpc.NewHandleResult()
	)

	var g errgroup.Group
	g.SetLimit(n.cfg.FanOutLimit)
	for _, o := range res.Sends {
		o := o
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
			defer cancel()

			if err := s.messenger.Send(sctx, o.To, o.Payload); err != nil {
				s.logger.Warn(ctx, "send failed", "to", o.To, "entity", o.Entity, "height", o.Height,
					"error", fmt.Errorf("%w: %v", common.ErrPeerUnreachable, err))

				r, err := s.setPresence(ctx, o.Entity, o.To, false)
				if err != nil {
					return nil
				}
				mu.Lock()
				followup.Merge(r)
				mu.Unlock()
				return nil
			}

			if o.Height > 0 {
				s.acknowledge(ctx, o.Entity, o.To, o.Height)
			}
			return nil
		})
	}
	_ = g.Wait()

	n.notifyAll(followup.Rpcs)
}
