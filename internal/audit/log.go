package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the HTTP request identifier for audit entries.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the identifier set by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry describes one decision taken on a request.
type Entry struct {
	Event   string // e.g. "membership.accept"
	Kind    string
	Target  string // request id
	Outcome string // ok, conflict, forbidden, error
	Fields  map[string]any
}

// Record writes entry as a JSON line, enriched with the request id and the
// acting principal found in ctx.
func Record(ctx context.Context, e Entry) error {
	e.Event = strings.TrimSpace(e.Event)
	if e.Event == "" {
		return errors.New("event name is required")
	}
	line := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": e.Event,
	}
	if rid := RequestID(ctx); rid != "" {
		line["request_id"] = rid
	}
	if p := auth.CurrentPrincipal(ctx); p != nil {
		line["actor"] = p.SubjectID
		line["role"] = string(p.Role)
		if p.HomeStructureID != "" {
			line["actor_structure"] = p.HomeStructureID
		}
	} else {
		line["actor"] = "anonymous"
	}
	if e.Kind != "" {
		line["kind"] = e.Kind
	}
	if e.Target != "" {
		line["target"] = e.Target
	}
	if e.Outcome != "" {
		line["outcome"] = e.Outcome
	}
	fields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	line["fields"] = fields

	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
