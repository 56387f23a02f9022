package httptransport

import (
	"net/http"
	"strconv"

	derrors "landledger/pkg/domain-errors"
	"landledger/pkg/platform/httputil"
)

const defaultEventPageSize = 500

// listEvents exposes the ordered event log for downstream consumers:
// GET /v1/events?since=<seq>&limit=<n> returns entries with seq > since.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			httputil.WriteError(w, derrors.New(derrors.CodeInvalidInput, "since must be a non-negative integer"))
			return
		}
		since = parsed
	}
	limit := defaultEventPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > defaultEventPageSize {
			httputil.WriteError(w, derrors.Newf(derrors.CodeInvalidInput, "limit must be between 1 and %d", defaultEventPageSize))
			return
		}
		limit = parsed
	}

	entries, err := h.ledger.ListSince(r.Context(), since, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}
