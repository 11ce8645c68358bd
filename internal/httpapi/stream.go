package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"apicatalog.org/internal/approval"
	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/requests"
)

// Stream handles Server-Sent Events for request outcomes. Non-admins only
// receive outcomes of requests they can see.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.engine.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(a.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case o, ok := <-ch:
			if !ok {
				return
			}
			if !a.outcomeVisible(p, o) {
				continue
			}
			payload, err := json.Marshal(o)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: outcome\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (a *API) outcomeVisible(p *auth.Principal, o approval.Outcome) bool {
	if auth.CanAdminister(p) || o.Actor == p.SubjectID {
		return true
	}
	store := a.engine.Store()
	switch o.Kind {
	case requests.KindCreation:
		if rec, ok := store.Creation.Get(o.RequestID); ok {
			return creationVisible(p, false)(rec)
		}
	case requests.KindAccess:
		if rec, ok := store.Access.Get(o.RequestID); ok {
			return accessVisible(p, false)(rec)
		}
	}
	return false
}
