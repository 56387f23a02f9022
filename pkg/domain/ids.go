// Package domain holds the typed identifiers shared across the ledger.
// Typed IDs keep a parcel reference from silently standing in for a
// transfer or identity reference at a call site.
package domain

import (
	"github.com/google/uuid"

	derrors "landledger/pkg/domain-errors"
)

type (
	ParcelID   string
	TransferID string
	DisputeID  string
	IdentityID string
)

func NewParcelID() ParcelID     { return ParcelID(uuid.NewString()) }
func NewTransferID() TransferID { return TransferID(uuid.NewString()) }
func NewDisputeID() DisputeID   { return DisputeID(uuid.NewString()) }
func NewIdentityID() IdentityID { return IdentityID(uuid.NewString()) }

func (p ParcelID) String() string   { return string(p) }
func (t TransferID) String() string { return string(t) }
func (d DisputeID) String() string  { return string(d) }
func (i IdentityID) String() string { return string(i) }

// Parse helpers validate external input at the transport boundary.

func ParseParcelID(raw string) (ParcelID, error) {
	if raw == "" {
		return "", derrors.New(derrors.CodeInvalidInput, "parcel id is required")
	}
	return ParcelID(raw), nil
}

func ParseTransferID(raw string) (TransferID, error) {
	if raw == "" {
		return "", derrors.New(derrors.CodeInvalidInput, "transfer id is required")
	}
	return TransferID(raw), nil
}

func ParseDisputeID(raw string) (DisputeID, error) {
	if raw == "" {
		return "", derrors.New(derrors.CodeInvalidInput, "dispute id is required")
	}
	return DisputeID(raw), nil
}

func ParseIdentityID(raw string) (IdentityID, error) {
	if raw == "" {
		return "", derrors.New(derrors.CodeInvalidInput, "identity id is required")
	}
	return IdentityID(raw), nil
}
