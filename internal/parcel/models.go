package parcel

import (
	"time"

	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
)

// Status is the parcel's transactability. Disputed takes priority over
// TransferPending: a disputed parcel rejects new transfer initiation.
type Status string

const (
	StatusActive          Status = "active"
	StatusDisputed        Status = "disputed"
	StatusTransferPending Status = "transfer_pending"
)

var validStatuses = map[Status]bool{
	StatusActive:          true,
	StatusDisputed:        true,
	StatusTransferPending: true,
}

// ParseStatus constructs a Status from external input (list filters).
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", derrors.New(derrors.CodeInvalidInput, "invalid parcel status: "+s)
	}
	return st, nil
}

// Parcel is a registered unit of land. Owner changes only through the
// transfer engine on completion; status changes only through the engines.
type Parcel struct {
	ID            id.ParcelID   `json:"id"`
	Title         string        `json:"title"`
	OwnerID       id.IdentityID `json:"ownerId"`
	AreaSqM       float64       `json:"areaSqM"`
	DeclaredValue int64         `json:"declaredValue"`
	Status        Status        `json:"status"`
	// Documents are content-addressed references; the core never interprets
	// their contents.
	Documents    []string  `json:"documents"`
	RegisteredAt time.Time `json:"registeredAt"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Filter narrows List results.
type Filter struct {
	OwnerID id.IdentityID
	Status  Status
}
