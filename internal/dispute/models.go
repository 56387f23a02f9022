package dispute

import (
	"time"

	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
)

// State is the dispute lifecycle position.
type State string

const (
	StateFiled           State = "filed"
	StateUnderReview     State = "under_review"
	StateCommunityVoting State = "community_voting"
	StateResolved        State = "resolved"
	StateRejected        State = "rejected"
)

// Terminal reports whether the dispute can change no further.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateRejected
}

// Open reports whether the dispute still blocks parcel activity.
func (s State) Open() bool {
	return !s.Terminal()
}

// Action is a caller-requested lifecycle step.
type Action string

const (
	ActionReview     Action = "review"
	ActionOpenVoting Action = "open_voting"
	ActionResolve    Action = "resolve"
	ActionReject     Action = "reject"
)

func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionReview, ActionOpenVoting, ActionResolve, ActionReject:
		return Action(raw), nil
	default:
		return "", derrors.New(derrors.CodeInvalidInput, "invalid dispute action: "+raw)
	}
}

// VoteChoice is a community member's position on a dispute.
type VoteChoice string

const (
	VoteSupport VoteChoice = "support"
	VoteAgainst VoteChoice = "against"
	VoteAbstain VoteChoice = "abstain"
)

func ParseVoteChoice(raw string) (VoteChoice, error) {
	switch VoteChoice(raw) {
	case VoteSupport, VoteAgainst, VoteAbstain:
		return VoteChoice(raw), nil
	default:
		return "", derrors.New(derrors.CodeInvalidInput, "invalid vote choice: "+raw)
	}
}

// Tally is the running vote count, updated as votes land.
type Tally struct {
	Support int `json:"support"`
	Against int `json:"against"`
	Abstain int `json:"abstain"`
}

// Counted returns the number of non-abstain votes, which is what quorum
// measures.
func (t Tally) Counted() int {
	return t.Support + t.Against
}

// Dispute is a challenge against a parcel's recorded ownership. Plaintiff
// supports the claim; the community votes support (plaintiff) or against
// (defendant, the current owner).
type Dispute struct {
	ID             id.DisputeID  `json:"id"`
	ParcelID       id.ParcelID   `json:"parcelId"`
	PlaintiffID    id.IdentityID `json:"plaintiffId"`
	DefendantID    id.IdentityID `json:"defendantId"`
	Reason         string        `json:"reason"`
	Evidence       []string      `json:"evidence,omitempty"`
	State          State         `json:"state"`
	ArbitratorID   id.IdentityID `json:"arbitratorId,omitempty"`
	Tally          Tally         `json:"tally"`
	VotingDeadline *time.Time    `json:"votingDeadline,omitempty"`
	Resolution     string        `json:"resolution,omitempty"`
	FiledAt        time.Time     `json:"filedAt"`
	ClosedAt       *time.Time    `json:"closedAt,omitempty"`
	Version        int64         `json:"version"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Vote is a single recorded ballot.
type Vote struct {
	DisputeID id.DisputeID  `json:"disputeId"`
	VoterID   id.IdentityID `json:"voterId"`
	Choice    VoteChoice    `json:"choice"`
	CastAt    time.Time     `json:"castAt"`
}

// Filter narrows List results; zero values match everything.
type Filter struct {
	ParcelID id.ParcelID
	Party    id.IdentityID
	State    State
}
