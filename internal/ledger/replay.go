package ledger

import "context"

// Snapshot maps entity id to the raw entity JSON as of the last entry that
// touched it. Folding the full log must reconstruct the same state that
// direct store reads report.
type Snapshot map[EntityType]map[string][]byte

// Replay folds the log from the beginning into a per-entity snapshot.
// Later entries for the same entity overwrite earlier ones, so the result
// reflects each entity's final recorded transition.
func Replay(ctx context.Context, svc *Service) (Snapshot, error) {
	snap := Snapshot{}
	const batch = 512

	var after int64
	for {
		entries, err := svc.ListSince(ctx, after, batch)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return snap, nil
		}
		for _, e := range entries {
			byID, ok := snap[e.EntityType]
			if !ok {
				byID = make(map[string][]byte)
				snap[e.EntityType] = byID
			}
			byID[e.EntityID] = e.Snapshot
			after = e.Seq
		}
	}
}
