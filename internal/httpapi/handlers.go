package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"apicatalog.org/internal/activity"
	"apicatalog.org/internal/approval"
	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/backend"
	"apicatalog.org/internal/catalog"
	"apicatalog.org/internal/dashboard"
	"apicatalog.org/internal/obs"
	"apicatalog.org/internal/requests"
)

const serviceName = "api-catalog-portal"

// Pinger is anything whose liveness can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the dependencies the portal cannot serve without. Nil
// members are skipped.
type ReadyProbe struct {
	DB      *sql.DB
	Backend Pinger
	Redis   Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Backend != nil {
		if err := rp.Backend.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Reference is the read side of the reference catalog. catalog.Cache
// implements it.
type Reference interface {
	Resolve(ctx context.Context, kind catalog.Kind, id string) string
	Entities(kind catalog.Kind) []catalog.Entity
	ServiceTree() []catalog.ServiceNode
	BulkLoad(ctx context.Context, kind catalog.Kind) (int, error)
}

// Services are the domain components the HTTP layer exposes. Only Engine is
// required.
type Services struct {
	Engine    *approval.Engine
	Reference Reference
	Dashboard *dashboard.Aggregator
	Activity  activity.Recorder
	Resolver  *auth.Resolver
	Refresher *auth.Refresher
}

// Option tunes the HTTP layer.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithCORSOrigins lists browser origins allowed to call the API.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithTrustedProxies lists the proxies whose X-Forwarded-For is believed.
func WithTrustedProxies(proxies ...netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = proxies }
}

// WithPageSize sets the default listing page size.
func WithPageSize(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// API is the portal's HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	engine    *approval.Engine
	reference Reference
	dashboard *dashboard.Aggregator
	activity  activity.Recorder
	resolver  *auth.Resolver
	refresher *auth.Refresher

	rateBurst   int
	ratePerSec  float64
	corsOrigins []string
	pageSize    int

	trustedProxies []netip.Prefix
	maxBody     int64
	keepAlive   time.Duration
	now         func() time.Time
}

func New(rp readinessChecker, version string, svc Services, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		engine:     svc.Engine,
		reference:  svc.Reference,
		dashboard:  svc.Dashboard,
		activity:   svc.Activity,
		resolver:   svc.Resolver,
		refresher:  svc.Refresher,
		rateBurst:  20,
		ratePerSec: 10,
		pageSize:   20,
		maxBody:    1 << 20,
		keepAlive:  25 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/me", a.handleMe)
	a.mux.HandleFunc("POST /v1/session/refresh", a.handleSessionRefresh)

	a.mux.HandleFunc("GET /v1/requests/creation", a.listCreation)
	a.mux.HandleFunc("POST /v1/requests/creation", a.submitCreation)
	a.mux.HandleFunc("POST /v1/requests/creation/{id}/approve", a.approveCreation)
	a.mux.HandleFunc("POST /v1/requests/creation/{id}/reject", a.rejectCreation)
	a.mux.HandleFunc("DELETE /v1/requests/creation/{id}", a.deleteCreation)

	a.mux.HandleFunc("GET /v1/requests/access", a.listAccess)
	a.mux.HandleFunc("POST /v1/requests/access", a.submitAccess)
	a.mux.HandleFunc("POST /v1/requests/access/{id}/approve", a.approveAccess)
	a.mux.HandleFunc("POST /v1/requests/access/{id}/reject", a.rejectAccess)

	a.mux.HandleFunc("GET /v1/memberships", a.listMemberships)
	a.mux.HandleFunc("POST /v1/memberships", a.submitMembership)
	a.mux.HandleFunc("POST /v1/memberships/{id}/accept", a.acceptMembership)
	a.mux.HandleFunc("POST /v1/memberships/{id}/refuse", a.refuseMembership)
	a.mux.HandleFunc("DELETE /v1/memberships/{id}", a.deleteMembership)

	a.mux.HandleFunc("GET /v1/reference/services/tree", a.serviceTree)
	a.mux.HandleFunc("GET /v1/reference/{kind}", a.listReference)
	a.mux.HandleFunc("GET /v1/reference/{kind}/{id}", a.resolveReference)

	a.mux.HandleFunc("GET /v1/dashboard", a.handleDashboard)
	a.mux.HandleFunc("GET /v1/activities/recent", a.recentActivities)
	a.mux.HandleFunc("GET /v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return RealIP(h, a.trustedProxies)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := a.readyProbe.Check(ctx); err != nil {
			obs.SetReady(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, "", msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, code int, reason, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if reason != "" {
		payload["code"] = reason
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleError maps domain errors onto HTTP. A conflict tells the caller to
// drop the item from its list; unavailable means nothing changed and the
// action may be retried.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, requests.ErrInvalidInput):
		writeErrorCode(w, r, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired):
		w.Header().Set("WWW-Authenticate", `Bearer realm="portal"`)
		writeErrorCode(w, r, http.StatusUnauthorized, "authentication", "authentication required")
	case errors.Is(err, auth.ErrForbidden):
		writeErrorCode(w, r, http.StatusForbidden, "authorization", "insufficient rights")
	case errors.Is(err, requests.ErrConflict):
		writeErrorCode(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, catalog.ErrAPINotFound):
		writeErrorCode(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		writeErrorCode(w, r, http.StatusServiceUnavailable, "unavailable", "catalog backend unavailable, nothing was changed")
	default:
		obs.Error("request failed", err, map[string]any{"path": r.URL.Path, "request_id": RequestIDFromContext(r.Context())})
		writeErrorCode(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, dst)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("out of range")
	}
	return val, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
