package node

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
	"golang.org/x/sync/errgroup"
)

// Run pings the known peers of every session each PingInterval until ctx is
// cancelled.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.Sweep(ctx)
		}
	}
}

// Sweep pings every known peer of every session once and records the
// outcome in each entity the peer belongs to.
func (n *Node) Sweep(ctx context.Context) {
	for _, s := range n.Sessions() {
		n.sweep(ctx, s)
	}
}

func (n *Node) sweep(ctx context.Context, s *Session) {
	entities := make(map[string][]string)
	for _, id := range s.registry.Entities() {
		peers, err := s.registry.Peers(id)
		if err != nil {
			continue
		}
		for _, p := range peers {
			if p != s.addr {
				entities[p] = append(entities[p], id)
			}
		}
	}

	var (
		mu  sync.Mutex
		res = rpc.NewHandleResult()
	)

	var g errgroup.Group
	g.SetLimit(n.cfg.FanOutLimit)
	for addr, ids := range entities {
		addr, ids := addr, ids
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
			err := s.messenger.Ping(pctx, addr)
			cancel()

			online := err == nil
			for _, id := range ids {
				r, err := s.setPresence(ctx, id, addr, online)
				if err != nil {
					s.logger.Debug(ctx, "presence not updated", "entity", id, "peer", addr, "error", err)
					continue
				}
				mu.Lock()
				res.Merge(r)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	n.notifyAll(res.Rpcs)
}
