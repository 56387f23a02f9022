// Package sweep drives the deadline-triggered transitions: escrow expiry
// and voting close. The sweep is safe to run from multiple instances at
// once; every transition it triggers is idempotent and guarded by the
// entity's version check.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"landledger/internal/dispute"
	"landledger/internal/transfer"
	id "landledger/pkg/domain"
)

// TransferExpirer is the slice of the transfer engine the sweep needs.
type TransferExpirer interface {
	ListEscrowExpired(ctx context.Context, now time.Time) ([]*transfer.Transfer, error)
	Expire(ctx context.Context, transferID id.TransferID) (*transfer.Transfer, error)
}

// VotingCloser is the slice of the dispute engine the sweep needs.
type VotingCloser interface {
	ListVotingClosed(ctx context.Context, now time.Time) ([]*dispute.Dispute, error)
	CloseVoting(ctx context.Context, disputeID id.DisputeID) (*dispute.Dispute, error)
}

// Sweeper runs the recurring deadline scan.
type Sweeper struct {
	transfers TransferExpirer
	disputes  VotingCloser
	logger    *slog.Logger
	interval  time.Duration
}

func New(transfers TransferExpirer, disputes VotingCloser, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		transfers: transfers,
		disputes:  disputes,
		logger:    logger,
		interval:  interval,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass over both deadline kinds. A failure on one entity is
// logged and does not stop the rest of the pass; only scan failures abort.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.expireEscrows(ctx, now) })
	g.Go(func() error { return s.closeVoting(ctx, now) })
	return g.Wait()
}

func (s *Sweeper) expireEscrows(ctx context.Context, now time.Time) error {
	expired, err := s.transfers.ListEscrowExpired(ctx, now)
	if err != nil {
		return err
	}
	for _, t := range expired {
		if _, err := s.transfers.Expire(ctx, t.ID); err != nil {
			s.logger.ErrorContext(ctx, "escrow expiry failed",
				"transfer_id", t.ID,
				"error", err,
			)
			continue
		}
		s.logger.InfoContext(ctx, "escrow expired", "transfer_id", t.ID, "parcel_id", t.ParcelID)
	}
	return nil
}

func (s *Sweeper) closeVoting(ctx context.Context, now time.Time) error {
	closed, err := s.disputes.ListVotingClosed(ctx, now)
	if err != nil {
		return err
	}
	for _, d := range closed {
		if _, err := s.disputes.CloseVoting(ctx, d.ID); err != nil {
			s.logger.ErrorContext(ctx, "voting close failed",
				"dispute_id", d.ID,
				"error", err,
			)
			continue
		}
		s.logger.InfoContext(ctx, "voting closed", "dispute_id", d.ID, "parcel_id", d.ParcelID)
	}
	return nil
}
