// Package repository persists finished tournament sessions and trust
// ledger snapshots.
package repository

import (
	"context"

	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/trust"
)

// Store provides durable access to node state.
type Store interface {
	// Archive stores a terminal session, replacing any earlier record for
	// its height.
	Archive(ctx context.Context, s *tournament.Snapshot) error

	// Session returns the archived session at height.
	// Returns ErrNotFound if the height was never archived.
	Session(ctx context.Context, height uint64) (*tournament.Snapshot, error)

	// Latest returns the highest archived height.
	// Returns ErrNotFound if nothing was archived.
	Latest(ctx context.Context) (uint64, error)

	// SaveTrust replaces the stored ledger snapshot.
	SaveTrust(ctx context.Context, s trust.Snapshot) error

	// LoadTrust returns the stored ledger snapshot.
	// Returns ErrNotFound if none was saved.
	LoadTrust(ctx context.Context) (trust.Snapshot, error)

	Close() error
}
