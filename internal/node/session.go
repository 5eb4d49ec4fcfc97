package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/accounts"
	"github.com/dmitrijs2005/peerkeeper/internal/blobstore"
	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/consensus"
	"github.com/dmitrijs2005/peerkeeper/internal/custody"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/netx"
	"github.com/dmitrijs2005/peerkeeper/internal/presence"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/devices"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
	"github.com/dmitrijs2005/peerkeeper/internal/storage"
	"github.com/dmitrijs2005/peerkeeper/internal/transport"
)

// Session is one unlocked identity.
//
// The identity's own devices form the entity keyed by its public id in the
// presence registry; every group is an entity keyed by its network id.
type Session struct {
	gid       string
	addr      string
	accountID int64
	keypair   custody.Keypair

	accounts   *accounts.Service
	blobs      blobstore.Store
	registry   *presence.Registry
	dispatcher *consensus.Dispatcher
	messenger  Messenger
	logger     logging.Logger

	groupDB     *sql.DB
	consensusDB *sql.DB
}

func openSession(ctx context.Context, n *Node, acc *models.Account, kp custody.Keypair) (*Session, error) {
	addr := netx.JoinPeerAddr(acc.GID, n.cfg.Advertise)
	if _, err := netx.ParsePeerAddr(addr); err != nil {
		return nil, err
	}

	cdb, err := storage.OpenConsensus(ctx, n.cfg.DataDir, acc.GID)
	if err != nil {
		return nil, err
	}
	gdb, err := storage.OpenGroups(ctx, n.cfg.DataDir, acc.GID)
	if err != nil {
		_ = cdb.Close()
		return nil, err
	}

	s := &Session{
		gid:         acc.GID,
		addr:        addr,
		accountID:   acc.ID,
		keypair:     kp,
		accounts:    n.accounts,
		blobs:       n.cfg.Blobs,
		registry:    presence.NewRegistry(addr),
		messenger:   n.cfg.Messengers(kp, addr),
		logger:      n.logger.With("identity", acc.GID),
		groupDB:     gdb,
		consensusDB: cdb,
	}

	roster, err := s.devices().Distributes(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	roster[addr] = acc.OwnHeight
	s.registry.Init(acc.GID, acc.OwnHeight, roster)

	s.dispatcher = consensus.New(consensus.Config{
		Self: consensus.Identity{
			ID:     acc.GID,
			Addr:   addr,
			Name:   acc.Name,
			Avatar: acc.Avatar,
		},
		DB:       gdb,
		Registry: s.registry,
		Blobs:    n.cfg.Blobs,
		Logger:   n.logger,
	})
	if err := s.dispatcher.Load(ctx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Session) close() {
	_ = s.groupDB.Close()
	_ = s.consensusDB.Close()
}

func (s *Session) devices() devices.Repository {
	return devices.NewSQLiteRepository(s.consensusDB)
}

func (s *Session) GID() string  { return s.gid }
func (s *Session) Addr() string { return s.addr }

func (s *Session) Dispatcher() *consensus.Dispatcher { return s.dispatcher }
func (s *Session) Registry() *presence.Registry      { return s.registry }

// AddDevice registers another device of this identity at addr.
func (s *Session) AddDevice(ctx context.Context, name, info, addr string) (*rpc.HandleResult, error) {
	pa, err := netx.ParsePeerAddr(addr)
	if err != nil {
		return nil, err
	}
	if pa.ID != s.gid {
		return nil, fmt.Errorf("device %s belongs to another identity: %w", addr, common.ErrState)
	}
	if addr == s.addr {
		return nil, fmt.Errorf("device %s is this node: %w", addr, common.ErrState)
	}

	d := &models.Device{Name: name, Info: info, Addr: addr, Datetime: time.Now().Unix()}
	if err := s.devices().Insert(ctx, d); err != nil {
		return nil, err
	}
	if err := s.registry.Admit(s.gid, addr, 0); err != nil {
		return nil, err
	}

	res := rpc.NewHandleResult()
	res.Rpc(s.gid, MethodDeviceAdd, d.ToRPC()...)
	return res, nil
}

// UpdateProfile changes the public profile and mints an own height for it,
// which every reachable own device receives.
func (s *Session) UpdateProfile(ctx context.Context, info accounts.Info) (*rpc.HandleResult, error) {
	acc, err := s.accounts.UpdateInfo(ctx, s.gid, info)
	if err != nil {
		return nil, err
	}

	height, err := s.registry.IncreaseHeight(s.gid)
	if err != nil {
		return nil, err
	}
	if _, err := s.accounts.UpdateConsensus(ctx, acc.ID, height); err != nil {
		s.logger.Error(ctx, "minted own height not persisted", "height", height, "error", err)
		return nil, err
	}
	s.writeAvatar(ctx, acc.Avatar)

	payload, err := events.Encode(events.Profile{
		Account:   s.gid,
		Height:    height,
		Name:      acc.Name,
		Avatar:    acc.Avatar,
		Wallet:    acc.Wallet,
		PubHeight: acc.PubHeight,
	})
	if err != nil {
		return nil, err
	}

	res := rpc.NewHandleResult()
	res.Rpc(s.gid, MethodProfile, acc.ToRPC()...)

	peers, err := s.registry.ReachablePeers(s.gid)
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		res.Send(rpc.Outbound{Entity: s.gid, To: p, Height: height, Payload: payload})
	}
	return res, nil
}

// applyProfile stores a profile minted by another device of this identity.
func (s *Session) applyProfile(ctx context.Context, from transport.Peer, p events.Profile) (*rpc.HandleResult, error) {
	if from.ID != s.gid || p.Account != s.gid {
		return nil, fmt.Errorf("profile of %s from %s: %w", p.Account, from.Addr, common.ErrState)
	}
	if _, err := s.registry.LastKnown(s.gid, from.Addr); err != nil {
		return nil, fmt.Errorf("unknown device %s: %w", from.Addr, common.ErrState)
	}

	acc, changed, err := s.accounts.ApplyProfile(ctx, p)
	if err != nil {
		return nil, err
	}

	res := rpc.NewHandleResult()
	if _, err := s.registry.Raise(s.gid, p.Height); err != nil {
		return nil, err
	}
	online, err := s.setPresence(ctx, s.gid, from.Addr, true)
	if err != nil {
		return nil, err
	}
	res.Merge(online)
	s.acknowledge(ctx, s.gid, from.Addr, p.Height)

	if changed {
		s.writeAvatar(ctx, acc.Avatar)
		res.Rpc(s.gid, MethodProfile, acc.ToRPC()...)
	}
	return res, nil
}

func (s *Session) writeAvatar(ctx context.Context, avatar []byte) {
	if len(avatar) == 0 {
		return
	}
	if err := s.blobs.WriteAvatar(ctx, s.gid, s.gid, avatar); err != nil {
		s.logger.Warn(ctx, "avatar write failed", "error", err)
	}
}

// setPresence records reachability of addr for entity and returns the UI
// notifications for it.
func (s *Session) setPresence(ctx context.Context, entity, addr string, online bool) (*rpc.HandleResult, error) {
	if entity == s.gid {
		var err error
		if online {
			_, err = s.registry.MarkOnline(entity, addr)
		} else {
			_, err = s.registry.MarkOffline(entity, addr)
		}
		return rpc.NewHandleResult(), err
	}

	var (
		res *rpc.HandleResult
		err error
	)
	if online {
		_, res, err = s.dispatcher.PeerOnline(ctx, entity, addr)
	} else {
		_, res, err = s.dispatcher.PeerOffline(ctx, entity, addr)
	}
	return res, err
}

// seen marks addr reachable in every entity that knows it.
func (s *Session) seen(ctx context.Context, addr string) *rpc.HandleResult {
	res := rpc.NewHandleResult()
	for _, id := range s.registry.Entities() {
		if s.registry.IsOnline(id, addr) {
			continue
		}
		if _, err := s.registry.LastKnown(id, addr); err != nil {
			continue
		}
		r, err := s.setPresence(ctx, id, addr, true)
		if err != nil {
			s.logger.Debug(ctx, "presence not updated", "entity", id, "peer", addr, "error", err)
			continue
		}
		res.Merge(r)
	}
	return res
}

// acknowledge records a confirmed delivery of height to addr.
func (s *Session) acknowledge(ctx context.Context, entity, addr string, height uint64) {
	var err error
	if entity == s.gid {
		if err = s.registry.Acknowledge(entity, addr, height); err == nil {
			err = s.devices().UpdateHeight(ctx, addr, height)
		}
	} else {
		err = s.dispatcher.Acknowledge(ctx, entity, addr, height)
	}
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		s.logger.Debug(ctx, "acknowledge failed", "entity", entity, "peer", addr, "error", err)
	}
}
