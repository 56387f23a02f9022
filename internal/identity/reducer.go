package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"landledger/internal/ledger"
	id "landledger/pkg/domain"
)

// Adjustments are the configured score magnitudes applied per outcome.
type Adjustments struct {
	TransferCompleted int
	DisputeWon        int
	DisputeLost       int
}

// Adjuster is the slice of the store the reducer writes through.
type Adjuster interface {
	AdjustReputation(ctx context.Context, identityID id.IdentityID, delta Delta) error
}

// Reducer folds ledger entries into reputation counters. It is the only
// writer of reputation: engines never touch it directly.
type Reducer struct {
	store Adjuster
	adj   Adjustments
}

func NewReducer(store Adjuster, adj Adjustments) *Reducer {
	return &Reducer{store: store, adj: adj}
}

// transferSnapshot and disputeSnapshot pick the fields the reducer needs out
// of the entry payloads without importing the engine packages.
type transferSnapshot struct {
	SellerID id.IdentityID `json:"sellerId"`
	BuyerID  id.IdentityID `json:"buyerId"`
}

type disputeSnapshot struct {
	PlaintiffID id.IdentityID `json:"plaintiffId"`
	DefendantID id.IdentityID `json:"defendantId"`
}

func (r *Reducer) Apply(ctx context.Context, entry ledger.Entry) error {
	switch entry.EntityType {
	case ledger.EntityTransfer:
		return r.applyTransfer(ctx, entry)
	case ledger.EntityDispute:
		return r.applyDispute(ctx, entry)
	default:
		return nil
	}
}

func (r *Reducer) applyTransfer(ctx context.Context, entry ledger.Entry) error {
	var snap transferSnapshot
	if err := json.Unmarshal(entry.Snapshot, &snap); err != nil {
		return fmt.Errorf("reducer: transfer snapshot: %w", err)
	}

	switch entry.NewState {
	case "completed":
		delta := Delta{Score: r.adj.TransferCompleted, TotalTransactions: 1, SuccessfulTransactions: 1}
		if err := r.store.AdjustReputation(ctx, snap.SellerID, delta); err != nil {
			return err
		}
		return r.store.AdjustReputation(ctx, snap.BuyerID, delta)
	case "cancelled", "expired":
		// Only counts as an attempted transaction once funds were locked.
		if entry.PriorState != "escrowed" {
			return nil
		}
		delta := Delta{TotalTransactions: 1}
		if err := r.store.AdjustReputation(ctx, snap.SellerID, delta); err != nil {
			return err
		}
		return r.store.AdjustReputation(ctx, snap.BuyerID, delta)
	}
	return nil
}

func (r *Reducer) applyDispute(ctx context.Context, entry ledger.Entry) error {
	var snap disputeSnapshot
	if err := json.Unmarshal(entry.Snapshot, &snap); err != nil {
		return fmt.Errorf("reducer: dispute snapshot: %w", err)
	}

	// A vote entry keeps the dispute in community_voting. Evidence appended
	// during voting takes the same shape, but only the parties may append
	// evidence and they may not vote, so the actor disambiguates.
	if entry.PriorState == "community_voting" && entry.NewState == "community_voting" {
		if entry.ActorID == snap.PlaintiffID || entry.ActorID == snap.DefendantID {
			return nil
		}
		return r.store.AdjustReputation(ctx, entry.ActorID, Delta{CommunityVotes: 1})
	}

	switch entry.NewState {
	case "resolved":
		if err := r.store.AdjustReputation(ctx, snap.PlaintiffID, Delta{Score: r.adj.DisputeWon, DisputesWon: 1}); err != nil {
			return err
		}
		return r.store.AdjustReputation(ctx, snap.DefendantID, Delta{Score: -r.adj.DisputeLost, DisputesLost: 1})
	case "rejected":
		if err := r.store.AdjustReputation(ctx, snap.DefendantID, Delta{Score: r.adj.DisputeWon, DisputesWon: 1}); err != nil {
			return err
		}
		return r.store.AdjustReputation(ctx, snap.PlaintiffID, Delta{Score: -r.adj.DisputeLost, DisputesLost: 1})
	}
	return nil
}
