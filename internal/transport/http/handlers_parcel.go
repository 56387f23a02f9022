package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"landledger/internal/parcel"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/httputil"
)

type registerParcelRequest struct {
	Title         string   `json:"title"`
	OwnerID       string   `json:"ownerId"`
	AreaSqM       float64  `json:"areaSqM"`
	DeclaredValue int64    `json:"declaredValue"`
	Documents     []string `json:"documents,omitempty"`
}

func (h *Handler) registerParcel(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerParcelRequest](w, r, h.logger)
	if !ok {
		return
	}
	ownerID, err := id.ParseIdentityID(req.OwnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.parcels.Register(r.Context(), parcel.RegisterParams{
		Title:         req.Title,
		OwnerID:       ownerID,
		AreaSqM:       req.AreaSqM,
		DeclaredValue: req.DeclaredValue,
		Documents:     req.Documents,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) getParcel(w http.ResponseWriter, r *http.Request) {
	parcelID, err := id.ParseParcelID(chi.URLParam(r, "parcelID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.parcels.Get(r.Context(), parcelID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) listParcels(w http.ResponseWriter, r *http.Request) {
	filter := parcel.Filter{}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		filter.OwnerID = id.IdentityID(owner)
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := parcel.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Status = status
	}
	out, err := h.parcels.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
