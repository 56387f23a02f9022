package identity

import (
	"time"

	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
)

// Role determines which operations a party may perform.
type Role string

const (
	RoleLandowner  Role = "landowner"
	RoleBuyer      Role = "buyer"
	RoleAuthority  Role = "authority"
	RoleArbitrator Role = "arbitrator"
)

var validRoles = map[Role]bool{
	RoleLandowner:  true,
	RoleBuyer:      true,
	RoleAuthority:  true,
	RoleArbitrator: true,
}

// ParseRole constructs a Role from external input.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !validRoles[r] {
		return "", derrors.New(derrors.CodeInvalidInput, "invalid role: "+s)
	}
	return r, nil
}

// Verification is the outcome of identity vetting. Only verified identities
// may own parcels, trade, or vote.
type Verification string

const (
	VerificationPending  Verification = "pending"
	VerificationVerified Verification = "verified"
	VerificationRejected Verification = "rejected"
)

var validVerifications = map[Verification]bool{
	VerificationPending:  true,
	VerificationVerified: true,
	VerificationRejected: true,
}

// ParseVerification constructs a Verification from external input.
func ParseVerification(s string) (Verification, error) {
	v := Verification(s)
	if !validVerifications[v] {
		return "", derrors.New(derrors.CodeInvalidInput, "invalid verification status: "+s)
	}
	return v, nil
}

// Reputation aggregates a party's track record. It is derived state: the
// ledger's post-transition reducers are the only writers.
type Reputation struct {
	Score                  int `json:"score"`
	TotalTransactions      int `json:"totalTransactions"`
	SuccessfulTransactions int `json:"successfulTransactions"`
	DisputesWon            int `json:"disputesWon"`
	DisputesLost           int `json:"disputesLost"`
	CommunityVotes         int `json:"communityVotes"`
}

// Identity is a registered party.
type Identity struct {
	ID           id.IdentityID `json:"id"`
	Name         string        `json:"name"`
	Role         Role          `json:"role"`
	Verification Verification  `json:"verification"`
	Reputation   Reputation    `json:"reputation"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Verified reports whether the identity passed vetting.
func (i *Identity) Verified() bool {
	return i.Verification == VerificationVerified
}

// Delta is a set of reputation counter increments applied atomically.
// Counters only grow; Score is the one signed field and is clamped to
// [0, 100] at the store.
type Delta struct {
	Score                  int
	TotalTransactions      int
	SuccessfulTransactions int
	DisputesWon            int
	DisputesLost           int
	CommunityVotes         int
}
