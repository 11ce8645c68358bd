package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"apicatalog.org/internal/activity"
	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/catalog"
	"apicatalog.org/internal/requests"
)

// authorizeAccess lets admins act on any usage request and other principals
// only on requests for APIs their structure owns. A request the store does
// not know cannot be proven to be theirs, so it is forbidden.
func (e *Engine) authorizeAccess(ctx context.Context, p *auth.Principal, r requests.AccessRequest, found bool) error {
	if auth.CanAdminister(p) {
		return nil
	}
	if !found {
		return fmt.Errorf("%w: not an owner of this request's API", auth.ErrForbidden)
	}
	owner := r.APIStructureID
	if owner == "" {
		api, err := e.apis.Lookup(ctx, r.APIID)
		if errors.Is(err, catalog.ErrAPINotFound) {
			return fmt.Errorf("%w: API %s is not in the catalog", auth.ErrForbidden, r.APIID)
		}
		if err != nil {
			return fmt.Errorf("resolve API %s owner: %w", r.APIID, err)
		}
		owner = api.StructureID
	}
	if !auth.CanActOnStructure(p, owner) {
		return fmt.Errorf("%w: not an owner of API %s", auth.ErrForbidden, r.APIID)
	}
	return nil
}

// ApproveAccess grants usage request id. The requester then counts as an
// approved consumer.
func (e *Engine) ApproveAccess(ctx context.Context, id, feedback string) (requests.AccessRequest, error) {
	rec, _, err := run(ctx, e, id, feedback, transition[requests.AccessRequest]{
		coll:      e.store.Access,
		action:    ActionApprove,
		to:        requests.StatusApproved,
		authorize: e.authorizeAccess,
		feedback:  orDefault(DefaultAccessApproval),
		commit: func(ctx context.Context, r requests.AccessRequest) (requests.AccessRequest, error) {
			return e.remote.ApproveAccess(ctx, r.Key(), r.Feedback)
		},
		describe: func(r requests.AccessRequest) activity.Activity {
			return activity.Activity{
				Type:        activity.APIRequestApproved,
				Description: fmt.Sprintf("Access to %s granted to %s", apiLabel(r), r.RequesterName),
				EntityID:    r.Key(),
				EntityName:  r.APIName,
				SectorID:    r.SectorID,
			}
		},
	})
	return rec, err
}

// RejectAccess declines usage request id; the reason is stored with the
// "rejected by owner" prefix.
func (e *Engine) RejectAccess(ctx context.Context, id, reason string) (requests.AccessRequest, error) {
	rec, _, err := run(ctx, e, id, reason, transition[requests.AccessRequest]{
		coll:             e.store.Access,
		action:           ActionReject,
		to:               requests.StatusRejected,
		authorize:        e.authorizeAccess,
		feedbackRequired: true,
		feedback:         func(s string) string { return AccessRejectionPrefix + s },
		commit: func(ctx context.Context, r requests.AccessRequest) (requests.AccessRequest, error) {
			return e.remote.RejectAccess(ctx, r.Key(), r.Feedback)
		},
		describe: func(r requests.AccessRequest) activity.Activity {
			return activity.Activity{
				Type:        activity.APIRequestRejected,
				Description: fmt.Sprintf("Access to %s refused to %s", apiLabel(r), r.RequesterName),
				EntityID:    r.Key(),
				EntityName:  r.APIName,
				SectorID:    r.SectorID,
			}
		},
	})
	return rec, err
}

func apiLabel(r requests.AccessRequest) string {
	if r.APIName != "" {
		return r.APIName
	}
	return "API " + r.APIID
}

// SubmitAccess asks for usage rights on a published API. A caller may hold
// only one pending request per API.
func (e *Engine) SubmitAccess(ctx context.Context, draft requests.AccessRequest) (requests.AccessRequest, error) {
	p, err := currentPrincipal(ctx)
	var api catalog.API
	if err == nil {
		api, err = e.publishedAPI(ctx, draft.APIID)
	}
	if err == nil {
		draft = accessDraft(draft, p, api, e)
		err = draft.Validate()
	}
	if err == nil {
		err = e.ensureNoPendingAccess(draft)
	}
	var created requests.AccessRequest
	if err == nil {
		created, err = e.remote.SubmitAccess(ctx, draft)
	}
	if err != nil {
		e.report(ctx, requests.KindAccess, ActionSubmit, "", err)
		return requests.AccessRequest{}, err
	}
	created = mergeAccess(created, draft)
	e.report(ctx, requests.KindAccess, ActionSubmit, created.Key(), nil)
	if created.Key() != "" {
		e.store.Access.Upsert([]requests.AccessRequest{created})
	}
	e.publish(ctx, p, Outcome{Kind: requests.KindAccess, Action: ActionSubmit, RequestID: created.Key(), Status: created.Status})
	e.record(ctx, p, activity.Activity{
		Type:        activity.APIRequestCreated,
		Description: fmt.Sprintf("Access to %s requested", apiLabel(created)),
		EntityID:    created.Key(),
		EntityName:  created.APIName,
		SectorID:    created.SectorID,
	})
	return created, nil
}

func (e *Engine) publishedAPI(ctx context.Context, apiID string) (catalog.API, error) {
	apiID = strings.TrimSpace(apiID)
	if apiID == "" {
		return catalog.API{}, fmt.Errorf("%w: apiId is required", requests.ErrInvalidInput)
	}
	api, err := e.apis.Lookup(ctx, apiID)
	if errors.Is(err, catalog.ErrAPINotFound) {
		return catalog.API{}, fmt.Errorf("%w: API %s does not exist", requests.ErrInvalidInput, apiID)
	}
	if err != nil {
		return catalog.API{}, err
	}
	if !api.Published() {
		return catalog.API{}, fmt.Errorf("%w: API %s is not published", requests.ErrInvalidInput, apiID)
	}
	if api.ID == "" {
		api.ID = apiID
	}
	return api, nil
}

func (e *Engine) ensureNoPendingAccess(d requests.AccessRequest) error {
	for _, r := range e.store.Access.Snapshot() {
		if r.State() == requests.StatusPending && r.RequesterID == d.RequesterID &&
			requests.NormalizeID(r.APIID) == requests.NormalizeID(d.APIID) {
			return fmt.Errorf("%w: a pending request for this API already exists (%s)", requests.ErrConflict, r.Key())
		}
	}
	return nil
}

func accessDraft(d requests.AccessRequest, p *auth.Principal, api catalog.API, e *Engine) requests.AccessRequest {
	d.ID = ""
	d.APIID = api.ID
	d.APIName = api.Name
	d.APIStructureID = api.StructureID
	d.RequesterID = p.SubjectID
	if d.RequesterName == "" {
		d.RequesterName = p.DisplayName
	}
	if d.RequesterEmail == "" {
		d.RequesterEmail = p.Email
	}
	if d.StructureID == "" {
		d.StructureID = p.HomeStructureID
	}
	if d.SectorID == "" {
		d.SectorID = p.HomeSectorID
	}
	d.Reason = strings.TrimSpace(d.Reason)
	d.Status = requests.StatusPending
	d.Feedback = ""
	d.RequestDate = requests.At(e.now())
	return d
}

func mergeAccess(got, draft requests.AccessRequest) requests.AccessRequest {
	if got.Key() == "" && got.APIID == "" {
		return draft
	}
	if got.APIID == "" {
		got.APIID = draft.APIID
	}
	if got.APIName == "" {
		got.APIName = draft.APIName
	}
	if got.APIStructureID == "" {
		got.APIStructureID = draft.APIStructureID
	}
	if got.RequesterID == "" {
		got.RequesterID = draft.RequesterID
	}
	if got.RequesterName == "" {
		got.RequesterName = draft.RequesterName
	}
	if got.RequesterEmail == "" {
		got.RequesterEmail = draft.RequesterEmail
	}
	if got.StructureID == "" {
		got.StructureID = draft.StructureID
	}
	if got.SectorID == "" {
		got.SectorID = draft.SectorID
	}
	if got.Status == "" {
		got.Status = requests.StatusPending
	}
	if got.RequestDate.IsZero() {
		got.RequestDate = draft.RequestDate
	}
	return got
}
