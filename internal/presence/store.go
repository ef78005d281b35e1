// Package presence keeps the durable online flag of an account in step with
// live connections. Message delivery consults the connection registry; the
// router only reads the flag to clear one left behind by a lost connection.
// The getUsers listing reads the flag straight from the accounts table.
package presence

import (
	"context"

	"go.uber.org/zap"
)

// FlagStore persists the per-account online flag.
type FlagStore interface {
	SetOnline(ctx context.Context, username string, online bool) error
	IsOnline(ctx context.Context, username string) (bool, error)
}

type Store struct {
	flags  FlagStore
	logger *zap.SugaredLogger
}

func NewStore(flags FlagStore, logger *zap.SugaredLogger) *Store {
	return &Store{flags: flags, logger: logger}
}

func (s *Store) MarkOnline(ctx context.Context, username string) error {
	if err := s.flags.SetOnline(ctx, username, true); err != nil {
		s.logger.Warnw("mark online failed", "username", username, "err", err)
		return err
	}
	return nil
}

func (s *Store) MarkOffline(ctx context.Context, username string) error {
	if err := s.flags.SetOnline(ctx, username, false); err != nil {
		s.logger.Warnw("mark offline failed", "username", username, "err", err)
		return err
	}
	return nil
}

func (s *Store) IsOnline(ctx context.Context, username string) (bool, error) {
	return s.flags.IsOnline(ctx, username)
}
