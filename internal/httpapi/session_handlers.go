package httpapi

import (
	"net/http"

	"apicatalog.org/internal/audit"
	"apicatalog.org/internal/auth"
)

type sessionResponse struct {
	Token     string          `json:"token"`
	Principal *auth.Principal `json:"principal"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleSessionRefresh trades the bearer, expired or not, for a fresh one.
// Any failure leaves the caller unauthenticated.
func (a *API) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		unauthorized(w, r, err.Error())
		return
	}
	fresh, principal, err := a.refresher.Refresh(r.Context(), token)
	if err != nil {
		_ = audit.Record(r.Context(), audit.Entry{Event: "session.refresh", Outcome: "unauthenticated"})
		handleError(w, r, err)
		return
	}
	ctx := auth.ContextWithPrincipal(r.Context(), principal)
	_ = audit.Record(ctx, audit.Entry{Event: "session.refresh", Target: principal.SubjectID, Outcome: "ok"})
	writeJSON(w, http.StatusOK, sessionResponse{Token: fresh, Principal: principal})
}
