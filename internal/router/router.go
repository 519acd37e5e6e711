package router

import (
	"net/http"

	"github.com/prepdeck/payments-backend/internal/payments"
)

// Middleware wraps a handler, e.g. bearer-token auth.
type Middleware func(http.Handler) http.Handler

// New returns an http.Handler serving the payments API under /api/v1.
// requireAuth rejects unauthenticated requests; optionalAuth passes them
// through so the verify endpoint can degrade to unattributed verification.
func New(h *payments.Handler, requireAuth, optionalAuth Middleware) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.Handle(base+"/payments", requireAuth(methodPOST(h.CreatePayment)))
	mux.Handle(base+"/payments/verify", optionalAuth(methodPOST(h.VerifyPayment)))
	mux.Handle(base+"/credits/balance", requireAuth(methodGET(h.GetBalance)))
	mux.Handle(base+"/credits/ledger", requireAuth(methodGET(h.ListLedger)))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
