package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"landledger/internal/identity"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/httputil"
)

type registerIdentityRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type registerIdentityResponse struct {
	Identity *identity.Identity `json:"identity"`
	Token    string             `json:"token"`
}

func (h *Handler) registerIdentity(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerIdentityRequest](w, r, h.logger)
	if !ok {
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ident, err := h.identities.Register(r.Context(), req.Name, role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := h.issuer.Issue(ident.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registerIdentityResponse{Identity: ident, Token: token})
}

func (h *Handler) getIdentity(w http.ResponseWriter, r *http.Request) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ident, err := h.identities.Resolve(r.Context(), identityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ident)
}

func (h *Handler) listIdentities(w http.ResponseWriter, r *http.Request) {
	out, err := h.identities.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type setVerificationRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setVerification(w http.ResponseWriter, r *http.Request) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[setVerificationRequest](w, r, h.logger)
	if !ok {
		return
	}
	status, err := identity.ParseVerification(req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ident, err := h.identities.SetVerification(r.Context(), identityID, status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ident)
}
