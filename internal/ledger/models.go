package ledger

import (
	"encoding/json"
	"time"

	id "landledger/pkg/domain"
)

// EntityType names the kind of record an entry describes.
type EntityType string

const (
	EntityParcel   EntityType = "parcel"
	EntityTransfer EntityType = "transfer"
	EntityDispute  EntityType = "dispute"
	EntityIdentity EntityType = "identity"
)

// Entry is one state transition in the append-only log. Seq is the single
// global order of truth across all entities; history is never mutated.
type Entry struct {
	Seq        int64           `json:"seq"`
	OccurredAt time.Time       `json:"occurredAt"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	PriorState string          `json:"priorState"`
	NewState   string          `json:"newState"`
	ActorID    id.IdentityID   `json:"actorId"`
	// Snapshot is the entity as of this transition, so folding the log
	// reconstructs current state without consulting the entity stores.
	Snapshot json.RawMessage `json:"snapshot"`
}
