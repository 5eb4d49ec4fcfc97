// Package accounts manages the local identities of a node: generation, PIN
// handling and the public profile that is shared with the identity's own
// devices.
package accounts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/custody"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/repositories/accounts"
	"github.com/google/uuid"
)

// Service is the identity catalog backed by the node-wide account store.
type Service struct {
	db     *sql.DB
	logger logging.Logger
}

func NewService(db *sql.DB, logger logging.Logger) *Service {
	return &Service{db: db, logger: logger.With("module", "accounts")}
}

func (s *Service) repo() accounts.Repository {
	return accounts.NewSQLiteRepository(s.db)
}

// Generate creates and stores a new identity. Generating the same phrase and
// index again refreshes the stored record under the new PIN.
func (s *Service) Generate(ctx context.Context, p custody.GenerateParams) (*models.Account, custody.Keypair, error) {
	acc, kp, err := custody.Generate(p)
	if err != nil {
		return nil, custody.Keypair{}, err
	}
	if err := s.repo().Insert(ctx, acc); err != nil {
		return nil, custody.Keypair{}, err
	}
	s.logger.Info(ctx, "identity generated", "gid", acc.GID, "index", acc.Index)
	return acc, kp, nil
}

func (s *Service) List(ctx context.Context) ([]models.Account, error) {
	return s.repo().All(ctx)
}

func (s *Service) Get(ctx context.Context, gid string) (*models.Account, error) {
	return s.repo().Get(ctx, gid)
}

// Unlock authenticates pin and returns the account with its live keypair.
func (s *Service) Unlock(ctx context.Context, gid, pin string) (*models.Account, custody.Keypair, error) {
	acc, err := s.repo().Get(ctx, gid)
	if err != nil {
		return nil, custody.Keypair{}, err
	}
	kp, err := custody.RevealSecret(acc, pin)
	if err != nil {
		s.logger.Warn(ctx, "unlock failed", "gid", gid, "error", err)
		return nil, custody.Keypair{}, err
	}
	return acc, kp, nil
}

// ChangePin rewraps the content key under newPin. The stored lock, salt and
// wrapped key change together or not at all.
func (s *Service) ChangePin(ctx context.Context, gid, oldPin, newPin string) error {
	acc, err := s.repo().Get(ctx, gid)
	if err != nil {
		return err
	}
	updated, err := custody.ChangePin(acc, oldPin, newPin)
	if err != nil {
		return err
	}
	if err := s.repo().UpdateLock(ctx, updated); err != nil {
		return err
	}
	s.logger.Info(ctx, "pin changed", "gid", gid)
	return nil
}

func (s *Service) Mnemonic(ctx context.Context, gid, pin string) (string, error) {
	acc, err := s.repo().Get(ctx, gid)
	if err != nil {
		return "", err
	}
	return custody.RevealMnemonic(acc, pin)
}

func (s *Service) Secret(ctx context.Context, gid, pin string) (custody.Keypair, error) {
	acc, err := s.repo().Get(ctx, gid)
	if err != nil {
		return custody.Keypair{}, err
	}
	return custody.RevealSecret(acc, pin)
}

// Info is the editable public profile.
type Info struct {
	Name   string
	Avatar []byte
	Wallet string
}

// UpdateInfo stores a new public profile and bumps its version.
func (s *Service) UpdateInfo(ctx context.Context, gid string, info Info) (*models.Account, error) {
	acc, err := s.repo().Get(ctx, gid)
	if err != nil {
		return nil, err
	}
	acc.Name = info.Name
	acc.Avatar = info.Avatar
	acc.Wallet = info.Wallet
	acc.PubHeight++

	if err := s.repo().UpdateInfo(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// UpdateConsensus records height as the identity's own height under a fresh
// event id, which it returns.
func (s *Service) UpdateConsensus(ctx context.Context, id int64, height uint64) (uuid.UUID, error) {
	event := uuid.New()
	if err := s.repo().UpdateConsensus(ctx, id, height, event); err != nil {
		return uuid.Nil, err
	}
	return event, nil
}

// ApplyProfile stores a profile minted by another device of the same
// identity. It is a no-op unless p is newer than the stored own height; the
// boolean reports whether anything changed.
func (s *Service) ApplyProfile(ctx context.Context, p events.Profile) (*models.Account, bool, error) {
	acc, err := s.repo().Get(ctx, p.Account)
	if err != nil {
		return nil, false, err
	}
	if p.Height <= acc.OwnHeight {
		return acc, false, nil
	}

	acc.Name = p.Name
	acc.Avatar = p.Avatar
	acc.Wallet = p.Wallet
	acc.PubHeight = max(acc.PubHeight, p.PubHeight)
	if err := s.repo().UpdateInfo(ctx, acc); err != nil {
		return nil, false, err
	}

	event, err := s.UpdateConsensus(ctx, acc.ID, p.Height)
	if err != nil {
		return nil, false, fmt.Errorf("profile applied without height: %w", err)
	}
	acc.OwnHeight = p.Height
	acc.Event = event
	return acc, true, nil
}
