// Package httptransport is the thin HTTP layer over the ledger's engines.
// Handlers decode, delegate, and encode; business rules live in the
// services.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"landledger/internal/dispute"
	"landledger/internal/identity"
	"landledger/internal/ledger"
	"landledger/internal/parcel"
	"landledger/internal/transfer"
)

// Handler bundles the engines behind the route table.
type Handler struct {
	identities *identity.Service
	parcels    *parcel.Service
	transfers  *transfer.Service
	disputes   *dispute.Service
	ledger     *ledger.Service
	issuer     *TokenIssuer
	logger     *slog.Logger
}

func NewHandler(
	identities *identity.Service,
	parcels *parcel.Service,
	transfers *transfer.Service,
	disputes *dispute.Service,
	ledgerSvc *ledger.Service,
	issuer *TokenIssuer,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		identities: identities,
		parcels:    parcels,
		transfers:  transfers,
		disputes:   disputes,
		ledger:     ledgerSvc,
		issuer:     issuer,
		logger:     logger,
	}
}

// NewRouter wires the public API.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestID)
	r.Use(AccessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		// Registration is the entry point; everything else needs a token.
		r.Post("/identities", h.registerIdentity)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(h.issuer, h.logger))

			r.Get("/identities", h.listIdentities)
			r.Get("/identities/{identityID}", h.getIdentity)
			r.Post("/identities/{identityID}/verification", h.setVerification)

			r.Post("/parcels", h.registerParcel)
			r.Get("/parcels", h.listParcels)
			r.Get("/parcels/{parcelID}", h.getParcel)

			r.Post("/transfers", h.initiateTransfer)
			r.Get("/transfers", h.listTransfers)
			r.Get("/transfers/{transferID}", h.getTransfer)
			r.Post("/transfers/{transferID}/advance", h.advanceTransfer)

			r.Post("/disputes", h.fileDispute)
			r.Get("/disputes", h.listDisputes)
			r.Get("/disputes/{disputeID}", h.getDispute)
			r.Post("/disputes/{disputeID}/advance", h.advanceDispute)
			r.Post("/disputes/{disputeID}/votes", h.castVote)
			r.Post("/disputes/{disputeID}/evidence", h.addEvidence)

			r.Get("/events", h.listEvents)
		})
	})
	return r
}
