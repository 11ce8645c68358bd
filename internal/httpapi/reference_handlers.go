package httpapi

import (
	"context"
	"net/http"
	"time"

	"apicatalog.org/internal/catalog"
)

const referenceTimeout = 5 * time.Second

type referenceName struct {
	Kind catalog.Kind `json:"kind"`
	ID   string       `json:"id"`
	Name string       `json:"name"`
}

func (a *API) referenceKind(w http.ResponseWriter, r *http.Request) (catalog.Kind, bool) {
	if a.reference == nil {
		writeError(w, r, http.StatusServiceUnavailable, "reference catalog unavailable")
		return "", false
	}
	kind, ok := catalog.ParseKind(r.PathValue("kind"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown reference kind")
		return "", false
	}
	return kind, true
}

// entities returns the cached entities of kind, loading them first when the
// cache is cold. A failed load yields whatever is cached.
func (a *API) entities(ctx context.Context, kind catalog.Kind) []catalog.Entity {
	items := a.reference.Entities(kind)
	if len(items) > 0 {
		return items
	}
	ctx, cancel := context.WithTimeout(ctx, referenceTimeout)
	defer cancel()
	if _, err := a.reference.BulkLoad(ctx, kind); err != nil {
		return items
	}
	return a.reference.Entities(kind)
}

func (a *API) listReference(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.referenceKind(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":  kind,
		"items": a.entities(r.Context(), kind),
	})
}

func (a *API) resolveReference(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.referenceKind(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), referenceTimeout)
	defer cancel()
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, referenceName{Kind: kind, ID: id, Name: a.reference.Resolve(ctx, kind, id)})
}

func (a *API) serviceTree(w http.ResponseWriter, r *http.Request) {
	if a.reference == nil {
		writeError(w, r, http.StatusServiceUnavailable, "reference catalog unavailable")
		return
	}
	a.entities(r.Context(), catalog.Services)
	writeJSON(w, http.StatusOK, map[string]any{"items": a.reference.ServiceTree()})
}
