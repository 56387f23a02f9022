// Package store persists the append-only event log.
package store

import (
	"context"

	"landledger/internal/ledger"
)

// Store assigns sequence numbers and retains every entry forever. There is
// no update or delete surface: the log is history.
type Store interface {
	// Append persists the entry, assigning the next global sequence number
	// into entry.Seq.
	Append(ctx context.Context, entry *ledger.Entry) error

	// ListSince returns up to limit entries with seq > after, in sequence
	// order. limit <= 0 means no limit.
	ListSince(ctx context.Context, after int64, limit int) ([]ledger.Entry, error)
}
