package transfer

import (
	"time"

	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
)

// State is the escrow state machine position. Transitions are monotonic;
// Completed, Cancelled and Expired are terminal.
type State string

const (
	StateInitiated State = "initiated"
	StateEscrowed  State = "escrowed"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	// StateExpired is functionally identical to Cancelled but distinguished
	// for audit: the deadline sweep produced it, not a party.
	StateExpired State = "expired"
)

// Terminal reports whether no further transition may leave the state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Action is a caller-requested advance on a transfer.
type Action string

const (
	ActionEscrow   Action = "escrow"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// ParseAction constructs an Action from external input.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionEscrow, ActionComplete, ActionCancel:
		return a, nil
	default:
		return "", derrors.New(derrors.CodeInvalidInput, "invalid transfer action: "+s)
	}
}

// Transfer is an ownership transfer moving through escrow. Retained forever
// as history; never destroyed.
type Transfer struct {
	ID       id.TransferID `json:"id"`
	ParcelID id.ParcelID   `json:"parcelId"`
	SellerID id.IdentityID `json:"sellerId"`
	BuyerID  id.IdentityID `json:"buyerId"`
	Amount   int64         `json:"amount"`
	// EscrowHeld is the locked amount. It must equal Amount before the
	// transfer can complete, and the completed record must carry the same
	// figure that was escrowed.
	EscrowHeld     int64      `json:"escrowHeld"`
	State          State      `json:"state"`
	InitiatedAt    time.Time  `json:"initiatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	EscrowDeadline *time.Time `json:"escrowDeadline,omitempty"`
	Version        int64      `json:"version"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Filter narrows List results. Party matches either seller or buyer.
type Filter struct {
	ParcelID id.ParcelID
	Party    id.IdentityID
	State    State
}
