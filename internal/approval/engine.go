package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"apicatalog.org/internal/activity"
	"apicatalog.org/internal/audit"
	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/catalog"
	"apicatalog.org/internal/events"
	"apicatalog.org/internal/notify"
	"apicatalog.org/internal/obs"
	"apicatalog.org/internal/requests"
)

// ErrCredentialIssuance marks the non-fatal warning returned when a membership
// was accepted but its login credentials could not be issued.
var ErrCredentialIssuance = errors.New("approval: credential issuance failed")

// CreationRemote is the backend side of creation requests.
type CreationRemote interface {
	ListMyCreationRequests(ctx context.Context, page, size int) ([]requests.CreationRequest, int, error)
	ListPendingCreationRequests(ctx context.Context, page, size int) ([]requests.CreationRequest, int, error)
	SubmitCreation(ctx context.Context, r requests.CreationRequest) (requests.CreationRequest, error)
	ApproveCreation(ctx context.Context, id, feedback string) (requests.CreationRequest, error)
	RejectCreation(ctx context.Context, id, feedback string) (requests.CreationRequest, error)
	DeleteCreation(ctx context.Context, id string) error
}

// AccessRemote is the backend side of usage requests.
type AccessRemote interface {
	ListPendingAccessRequests(ctx context.Context, page, size int) ([]requests.AccessRequest, int, error)
	ListMyAccessRequests(ctx context.Context, page, size int) ([]requests.AccessRequest, int, error)
	SubmitAccess(ctx context.Context, r requests.AccessRequest) (requests.AccessRequest, error)
	ApproveAccess(ctx context.Context, id, feedback string) (requests.AccessRequest, error)
	RejectAccess(ctx context.Context, id, feedback string) (requests.AccessRequest, error)
}

// MembershipRemote is the backend side of membership requests.
type MembershipRemote interface {
	ListMemberships(ctx context.Context) ([]requests.MembershipRequest, int, error)
	SubmitMembership(ctx context.Context, r requests.MembershipRequest) (requests.MembershipRequest, error)
	AcceptMembership(ctx context.Context, id, message string) (requests.MembershipRequest, error)
	RefuseMembership(ctx context.Context, id, message string) (requests.MembershipRequest, error)
	DeleteMembership(ctx context.Context, id string) error
}

// Remote is everything the engine needs from the system of record.
type Remote interface {
	CreationRemote
	AccessRemote
	MembershipRemote
}

// APIDirectory resolves the API an access request targets.
type APIDirectory interface {
	Lookup(ctx context.Context, id string) (catalog.API, error)
}

// NameResolver turns reference ids into display names for the activity feed.
type NameResolver interface {
	ResolveName(kind catalog.Kind, id string) string
}

// Action is what was done to a request.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionAccept  Action = "accept"
	ActionRefuse  Action = "refuse"
	ActionDelete  Action = "delete"
)

// Outcome is published for every successful engine operation.
type Outcome struct {
	Kind      requests.Kind   `json:"kind"`
	Action    Action          `json:"action"`
	RequestID string          `json:"requestId"`
	Status    requests.Status `json:"status,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Warning   string          `json:"warning,omitempty"`
	At        time.Time       `json:"at"`
}

// Default feedback attached when the decider leaves it empty.
const (
	DefaultCreationApproval   = "API creation request approved by administrator."
	DefaultAccessApproval     = "API usage request approved by owner"
	AccessRejectionPrefix     = "API usage request rejected by owner: "
	DefaultMembershipApproval = "Membership request accepted by administrator."
)

// Engine is the approval state machine. It authorizes, checks preconditions
// and drives every transition through the request store.
type Engine struct {
	store    *requests.Store
	remote   Remote
	apis     APIDirectory
	issuer   notify.Issuer
	outcomes *events.Bus[Outcome]
	feed     activity.Recorder
	names    NameResolver
	now      func() time.Time

	pageSize     int
	maxPages     int
	issueTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithIssuer sets the credential issuer used on membership acceptance.
func WithIssuer(i notify.Issuer) Option { return func(e *Engine) { e.issuer = i } }

// WithActivity records outcomes in the activity feed.
func WithActivity(r activity.Recorder) Option { return func(e *Engine) { e.feed = r } }

// WithNames resolves sector names for activity entries.
func WithNames(n NameResolver) Option { return func(e *Engine) { e.names = n } }

// WithOutcomes publishes outcomes on bus instead of a private one.
func WithOutcomes(bus *events.Bus[Outcome]) Option {
	return func(e *Engine) {
		if bus != nil {
			e.outcomes = bus
		}
	}
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithPageSize sets the page size used when syncing lists.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// New builds an Engine over store, remote and the API directory.
func New(store *requests.Store, remote Remote, apis APIDirectory, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		remote:       remote,
		apis:         apis,
		outcomes:     events.NewBus[Outcome](64),
		now:          time.Now,
		pageSize:     50,
		maxPages:     40,
		issueTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the request store for read-only listings.
func (e *Engine) Store() *requests.Store { return e.store }

// Subscribe streams outcomes until ctx ends.
func (e *Engine) Subscribe(ctx context.Context) <-chan Outcome {
	return e.outcomes.Subscribe(ctx)
}

func currentPrincipal(ctx context.Context) (*auth.Principal, error) {
	p := auth.CurrentPrincipal(ctx)
	if p == nil {
		return nil, fmt.Errorf("%w: sign in to continue", auth.ErrUnauthenticated)
	}
	return p, nil
}

func requireAdmin(p *auth.Principal) error {
	if !auth.CanAdminister(p) {
		return fmt.Errorf("%w: administrator role required", auth.ErrForbidden)
	}
	return nil
}

// transition describes one state change.
type transition[T requests.Record[T]] struct {
	coll             *requests.Collection[T]
	action           Action
	to               requests.Status
	authorize        func(ctx context.Context, p *auth.Principal, rec T, found bool) error
	feedbackRequired bool
	feedback         func(string) string
	commit           requests.Commit[T]
	describe         func(T) activity.Activity
	after            func(ctx context.Context, rec T) string
}

// run checks, in order: authorization, existence and pending state, feedback.
// The first failure wins. On success the after hook runs exactly once.
func run[T requests.Record[T]](ctx context.Context, e *Engine, id, feedback string, t transition[T]) (T, string, error) {
	var zero T
	id = strings.TrimSpace(id)
	kind := t.coll.Kind()

	fail := func(err error) (T, string, error) {
		e.report(ctx, kind, t.action, id, err)
		return zero, "", err
	}

	p, err := currentPrincipal(ctx)
	if err != nil {
		return fail(err)
	}
	rec, found := t.coll.Get(id)
	if err := t.authorize(ctx, p, rec, found); err != nil {
		return fail(err)
	}
	feedback = strings.TrimSpace(feedback)
	// The pending check happens under the per-id lock, after any transition
	// already in flight has committed or rolled back.
	check := func(T) error {
		if t.feedbackRequired && feedback == "" {
			return fmt.Errorf("%w: a reason is required to %s a request", requests.ErrInvalidInput, t.action)
		}
		return nil
	}
	text := feedback
	if t.feedback != nil {
		text = t.feedback(feedback)
	}

	out, err := t.coll.ApplyTransitionChecked(ctx, id, t.to, text, check, t.commit)
	if err != nil {
		return fail(err)
	}
	var warning string
	if t.after != nil {
		warning = t.after(ctx, out)
	}
	e.report(ctx, kind, t.action, id, nil)
	e.publish(ctx, p, Outcome{Kind: kind, Action: t.action, RequestID: id, Status: out.State(), Warning: warning})
	if t.describe != nil {
		e.record(ctx, p, t.describe(out))
	}
	return out, warning, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, requests.ErrConflict):
		return "conflict"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, requests.ErrInvalidInput):
		return "invalid"
	}
	return "error"
}

// report counts and audits an attempt, successful or not.
func (e *Engine) report(ctx context.Context, kind requests.Kind, action Action, id string, err error) {
	outcome := outcomeLabel(err)
	obs.ObserveTransition(string(kind), string(action), outcome)
	entry := audit.Entry{Event: string(kind) + "." + string(action), Kind: string(kind), Target: id, Outcome: outcome}
	if err != nil {
		entry.Fields = map[string]any{"error": err.Error()}
	}
	if aerr := audit.Record(ctx, entry); aerr != nil {
		obs.Error("audit write failed", aerr, nil)
	}
}

func (e *Engine) publish(_ context.Context, p *auth.Principal, o Outcome) {
	if p != nil {
		o.Actor = p.SubjectID
	}
	o.At = e.now().UTC()
	e.outcomes.Publish(o)
}

func (e *Engine) record(ctx context.Context, p *auth.Principal, a activity.Activity) {
	if e.feed == nil {
		return
	}
	if p != nil {
		a.UserID = p.SubjectID
		a.Username = p.DisplayName
	}
	if a.SectorID != "" && a.SectorName == "" && e.names != nil {
		a.SectorName = e.names.ResolveName(catalog.Sectors, a.SectorID)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = e.now()
	}
	if err := e.feed.Record(ctx, a); err != nil {
		obs.Warn("activity record failed", map[string]any{"type": string(a.Type), "error": err.Error()})
	}
}

// remove runs the delete flow shared by creation and membership requests.
func remove[T requests.Record[T]](ctx context.Context, e *Engine, id string, coll *requests.Collection[T],
	authorize func(ctx context.Context, p *auth.Principal, rec T, found bool) error,
	commit func(ctx context.Context, id string) error,
) error {
	id = strings.TrimSpace(id)
	kind := coll.Kind()
	p, err := currentPrincipal(ctx)
	if err == nil {
		rec, found := coll.Get(id)
		err = authorize(ctx, p, rec, found)
	}
	if err == nil {
		err = coll.Remove(ctx, id, func(ctx context.Context) error { return commit(ctx, id) })
	}
	e.report(ctx, kind, ActionDelete, id, err)
	if err != nil {
		return err
	}
	e.publish(ctx, p, Outcome{Kind: kind, Action: ActionDelete, RequestID: id})
	e.record(ctx, p, activity.Activity{
		Type:        activity.RequestDeleted,
		Description: fmt.Sprintf("%s request %s deleted", kind, id),
		EntityID:    id,
	})
	return nil
}
