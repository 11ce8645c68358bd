package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"apicatalog.org/internal/approval"
	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/backend"
	"apicatalog.org/internal/obs"
	"apicatalog.org/internal/requests"
)

type decisionRequest struct {
	Feedback string `json:"feedback"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

func (d decisionRequest) text() string {
	for _, s := range []string{d.Feedback, d.Reason, d.Message} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

type listResponse[T any] struct {
	requests.Page[T]
	TotalPages int  `json:"totalPages"`
	Stale      bool `json:"stale,omitempty"`
}

type acceptResponse struct {
	Request requests.MembershipRequest `json:"request"`
	Warning string                     `json:"warning,omitempty"`
}

type listQuery struct {
	filter  requests.Filter
	page    int
	size    int
	scope   approval.Scope
	refresh bool
}

func (a *API) parseListQuery(r *http.Request, p *auth.Principal) (listQuery, error) {
	q := r.URL.Query()
	var lq listQuery
	for _, s := range splitList(q.Get("status")) {
		lq.filter.Statuses = append(lq.filter.Statuses, requests.ParseStatus(s))
	}
	lq.filter.Sectors = splitList(q.Get("sector"))
	lq.filter.Text = q.Get("q")

	var err error
	if lq.page, err = parsePositiveInt(q.Get("page"), 0, 0, 100000); err != nil {
		return lq, fmt.Errorf("%w: page %v", requests.ErrInvalidInput, err)
	}
	if lq.size, err = parsePositiveInt(q.Get("size"), a.pageSize, 1, 500); err != nil {
		return lq, fmt.Errorf("%w: size %v", requests.ErrInvalidInput, err)
	}
	raw := q.Get("scope")
	if raw == "" && !auth.CanAdminister(p) {
		raw = string(approval.ScopeMine)
	}
	if lq.scope, err = approval.ParseScope(raw); err != nil {
		return lq, err
	}
	lq.refresh = q.Get("refresh") != "false"
	return lq, nil
}

// syncView refreshes a listing from the backend. An unreachable backend
// degrades to the cached data; a superseded load is not an error.
func syncView(ctx context.Context, sync func(context.Context) (int, error)) (stale bool, err error) {
	_, err = sync(ctx)
	switch {
	case err == nil, errors.Is(err, requests.ErrStale):
		return false, nil
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		obs.Warn("serving cached requests", map[string]any{"error": err.Error()})
		return true, nil
	}
	return false, err
}

func sameEmail(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// creationVisible: admins see everything, users see their structure's
// requests and their own.
func creationVisible(p *auth.Principal, mineOnly bool) requests.Scope[requests.CreationRequest] {
	if auth.CanAdminister(p) && !mineOnly {
		return nil
	}
	return func(r requests.CreationRequest) bool {
		if sameEmail(r.RequesterEmail, p.Email) {
			return true
		}
		return !mineOnly && auth.OwnsStructure(p, r.StructureID)
	}
}

// accessVisible: users see what they asked for and what was asked of the APIs
// their structure owns.
func accessVisible(p *auth.Principal, mineOnly bool) requests.Scope[requests.AccessRequest] {
	if auth.CanAdminister(p) && !mineOnly {
		return nil
	}
	return func(r requests.AccessRequest) bool {
		if (r.RequesterID != "" && r.RequesterID == p.SubjectID) || sameEmail(r.RequesterEmail, p.Email) {
			return true
		}
		return !mineOnly && auth.OwnsStructure(p, r.APIStructureID)
	}
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p := auth.CurrentPrincipal(r.Context())
	if p == nil {
		handleError(w, r, auth.ErrUnauthenticated)
		return nil, false
	}
	return p, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return nil, false
	}
	if !auth.CanAdminister(p) {
		handleError(w, r, auth.ErrForbidden)
		return nil, false
	}
	return p, true
}

// --- creation ---

func (a *API) listCreation(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	lq, err := a.parseListQuery(r, p)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var stale bool
	if lq.refresh {
		stale, err = syncView(r.Context(), func(ctx context.Context) (int, error) {
			return a.engine.SyncCreation(ctx, lq.scope)
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
	}
	page := a.engine.Store().Creation.ListScoped(lq.filter, creationVisible(p, lq.scope == approval.ScopeMine), lq.page, lq.size)
	writeJSON(w, http.StatusOK, listResponse[requests.CreationRequest]{Page: page, TotalPages: page.TotalPages(), Stale: stale})
}

func (a *API) submitCreation(w http.ResponseWriter, r *http.Request) {
	var draft requests.CreationRequest
	if err := decodeJSON(w, r, &draft); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	rec, err := a.engine.SubmitCreation(r.Context(), draft)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/requests/creation/"+rec.Key())
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) approveCreation(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, func(ctx context.Context, id, text string) (any, error) {
		return a.engine.ApproveCreation(ctx, id, text)
	})
}

func (a *API) rejectCreation(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, func(ctx context.Context, id, text string) (any, error) {
		return a.engine.RejectCreation(ctx, id, text)
	})
}

func (a *API) deleteCreation(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeleteCreation(r.Context(), r.PathValue("id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- access ---

func (a *API) listAccess(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	lq, err := a.parseListQuery(r, p)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var stale bool
	if lq.refresh {
		stale, err = syncView(r.Context(), func(ctx context.Context) (int, error) {
			return a.engine.SyncAccess(ctx, lq.scope)
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
	}
	page := a.engine.Store().Access.ListScoped(lq.filter, accessVisible(p, lq.scope == approval.ScopeMine), lq.page, lq.size)
	writeJSON(w, http.StatusOK, listResponse[requests.AccessRequest]{Page: page, TotalPages: page.TotalPages(), Stale: stale})
}

func (a *API) submitAccess(w http.ResponseWriter, r *http.Request) {
	var draft requests.AccessRequest
	if err := decodeJSON(w, r, &draft); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	rec, err := a.engine.SubmitAccess(r.Context(), draft)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/requests/access/"+rec.Key())
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) approveAccess(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, func(ctx context.Context, id, text string) (any, error) {
		return a.engine.ApproveAccess(ctx, id, text)
	})
}

func (a *API) rejectAccess(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, func(ctx context.Context, id, text string) (any, error) {
		return a.engine.RejectAccess(ctx, id, text)
	})
}

// --- memberships ---

func (a *API) listMemberships(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	lq, err := a.parseListQuery(r, nil)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var stale bool
	if lq.refresh {
		stale, err = syncView(r.Context(), a.engine.SyncMemberships)
		if err != nil {
			handleError(w, r, err)
			return
		}
	}
	page := a.engine.Store().Membership.List(lq.filter, lq.page, lq.size)
	writeJSON(w, http.StatusOK, listResponse[requests.MembershipRequest]{Page: page, TotalPages: page.TotalPages(), Stale: stale})
}

func (a *API) submitMembership(w http.ResponseWriter, r *http.Request) {
	var draft requests.MembershipRequest
	if err := decodeJSON(w, r, &draft); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	rec, err := a.engine.SubmitMembership(r.Context(), draft)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) acceptMembership(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, func(ctx context.Context, id, text string) (any, error) {
		res, err := a.engine.AcceptMembership(ctx, id, text)
		if err != nil {
			return nil, err
		}
		out := acceptResponse{Request: res.Request}
		if res.Warning != nil {
			out.Warning = res.Warning.Error()
		}
		return out, nil
	})
}

func (a *API) refuseMembership(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, func(ctx context.Context, id, text string) (any, error) {
		return a.engine.RefuseMembership(ctx, id, text)
	})
}

func (a *API) deleteMembership(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeleteMembership(r.Context(), r.PathValue("id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decide runs one transition with the optional decision body.
func (a *API) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, text string) (any, error)) {
	var body decisionRequest
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	out, err := fn(r.Context(), r.PathValue("id"), body.text())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
