package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"landledger/internal/dispute"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/httputil"
)

type fileDisputeRequest struct {
	ParcelID string   `json:"parcelId"`
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence,omitempty"`
}

func (h *Handler) fileDispute(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[fileDisputeRequest](w, r, h.logger)
	if !ok {
		return
	}
	parcelID, err := id.ParseParcelID(req.ParcelID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.disputes.File(r.Context(), parcelID, req.Reason, req.Evidence)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

type advanceDisputeRequest struct {
	Action     string `json:"action"`
	Resolution string `json:"resolution,omitempty"`
}

func (h *Handler) advanceDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := id.ParseDisputeID(chi.URLParam(r, "disputeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[advanceDisputeRequest](w, r, h.logger)
	if !ok {
		return
	}
	action, err := dispute.ParseAction(req.Action)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.disputes.Advance(r.Context(), disputeID, action, req.Resolution)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

type castVoteRequest struct {
	Choice string `json:"choice"`
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request) {
	disputeID, err := id.ParseDisputeID(chi.URLParam(r, "disputeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[castVoteRequest](w, r, h.logger)
	if !ok {
		return
	}
	choice, err := dispute.ParseVoteChoice(req.Choice)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.disputes.CastVote(r.Context(), disputeID, choice)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

type addEvidenceRequest struct {
	Ref string `json:"ref"`
}

func (h *Handler) addEvidence(w http.ResponseWriter, r *http.Request) {
	disputeID, err := id.ParseDisputeID(chi.URLParam(r, "disputeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[addEvidenceRequest](w, r, h.logger)
	if !ok {
		return
	}
	d, err := h.disputes.AddEvidence(r.Context(), disputeID, req.Ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) getDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := id.ParseDisputeID(chi.URLParam(r, "disputeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.disputes.Get(r.Context(), disputeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) listDisputes(w http.ResponseWriter, r *http.Request) {
	filter := dispute.Filter{}
	if raw := r.URL.Query().Get("parcel"); raw != "" {
		filter.ParcelID = id.ParcelID(raw)
	}
	if raw := r.URL.Query().Get("party"); raw != "" {
		filter.Party = id.IdentityID(raw)
	}
	if raw := r.URL.Query().Get("state"); raw != "" {
		filter.State = dispute.State(raw)
	}
	out, err := h.disputes.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
