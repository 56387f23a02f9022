package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"landledger/internal/transfer"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/httputil"
)

type initiateTransferRequest struct {
	ParcelID string `json:"parcelId"`
	SellerID string `json:"sellerId"`
	BuyerID  string `json:"buyerId"`
	Amount   int64  `json:"amount"`
}

func (h *Handler) initiateTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[initiateTransferRequest](w, r, h.logger)
	if !ok {
		return
	}
	parcelID, err := id.ParseParcelID(req.ParcelID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sellerID, err := id.ParseIdentityID(req.SellerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	buyerID, err := id.ParseIdentityID(req.BuyerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.transfers.Initiate(r.Context(), parcelID, sellerID, buyerID, req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

type advanceTransferRequest struct {
	Action string `json:"action"`
}

func (h *Handler) advanceTransfer(w http.ResponseWriter, r *http.Request) {
	transferID, err := id.ParseTransferID(chi.URLParam(r, "transferID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[advanceTransferRequest](w, r, h.logger)
	if !ok {
		return
	}
	action, err := transfer.ParseAction(req.Action)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.transfers.Advance(r.Context(), transferID, action)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	transferID, err := id.ParseTransferID(chi.URLParam(r, "transferID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.transfers.Get(r.Context(), transferID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	filter := transfer.Filter{}
	if raw := r.URL.Query().Get("parcel"); raw != "" {
		filter.ParcelID = id.ParcelID(raw)
	}
	if raw := r.URL.Query().Get("party"); raw != "" {
		filter.Party = id.IdentityID(raw)
	}
	if raw := r.URL.Query().Get("state"); raw != "" {
		filter.State = transfer.State(raw)
	}
	out, err := h.transfers.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
