package approval

import (
	"context"
	"fmt"
	"strings"

	"apicatalog.org/internal/activity"
	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/requests"
)

func orDefault(def string) func(string) string {
	return func(s string) string {
		if s == "" {
			return def
		}
		return s
	}
}

func adminOnly[T any](_ context.Context, p *auth.Principal, _ T, _ bool) error {
	return requireAdmin(p)
}

// ApproveCreation publishes the API behind creation request id. Admin only.
func (e *Engine) ApproveCreation(ctx context.Context, id, feedback string) (requests.CreationRequest, error) {
	rec, _, err := run(ctx, e, id, feedback, transition[requests.CreationRequest]{
		coll:      e.store.Creation,
		action:    ActionApprove,
		to:        requests.StatusApproved,
		authorize: adminOnly[requests.CreationRequest],
		feedback:  orDefault(DefaultCreationApproval),
		commit: func(ctx context.Context, r requests.CreationRequest) (requests.CreationRequest, error) {
			return e.remote.ApproveCreation(ctx, r.Key(), r.Feedback)
		},
		describe: func(r requests.CreationRequest) activity.Activity {
			return activity.Activity{
				Type:        activity.APICreated,
				Description: fmt.Sprintf("API %q approved for publication", r.APIName),
				EntityID:    r.Key(),
				EntityName:  r.APIName,
				SectorID:    r.SectorID,
			}
		},
	})
	return rec, err
}

// RejectCreation closes creation request id. feedback is mandatory.
func (e *Engine) RejectCreation(ctx context.Context, id, feedback string) (requests.CreationRequest, error) {
	rec, _, err := run(ctx, e, id, feedback, transition[requests.CreationRequest]{
		coll:             e.store.Creation,
		action:           ActionReject,
		to:               requests.StatusRejected,
		authorize:        adminOnly[requests.CreationRequest],
		feedbackRequired: true,
		commit: func(ctx context.Context, r requests.CreationRequest) (requests.CreationRequest, error) {
			return e.remote.RejectCreation(ctx, r.Key(), r.Feedback)
		},
		describe: func(r requests.CreationRequest) activity.Activity {
			return activity.Activity{
				Type:        activity.APIRequestRejected,
				Description: fmt.Sprintf("Creation request for %q rejected", r.APIName),
				EntityID:    r.Key(),
				EntityName:  r.APIName,
				SectorID:    r.SectorID,
			}
		},
	})
	return rec, err
}

// DeleteCreation withdraws creation request id. Admins may delete any request,
// providers only those filed for their own structure.
func (e *Engine) DeleteCreation(ctx context.Context, id string) error {
	return remove(ctx, e, id, e.store.Creation,
		func(_ context.Context, p *auth.Principal, r requests.CreationRequest, found bool) error {
			if (found || auth.CanAdminister(p)) && auth.CanActOnStructure(p, r.StructureID) {
				return nil
			}
			return fmt.Errorf("%w: only administrators or the owning structure may delete this request", auth.ErrForbidden)
		},
		e.remote.DeleteCreation,
	)
}

// SubmitCreation files a new creation request for the caller. Requester and
// structure fields default to the caller's own.
func (e *Engine) SubmitCreation(ctx context.Context, draft requests.CreationRequest) (requests.CreationRequest, error) {
	p, err := currentPrincipal(ctx)
	if err == nil {
		draft = creationDraft(draft, p, e)
		err = draft.Validate()
	}
	var created requests.CreationRequest
	if err == nil {
		created, err = e.remote.SubmitCreation(ctx, draft)
	}
	if err != nil {
		e.report(ctx, requests.KindCreation, ActionSubmit, "", err)
		return requests.CreationRequest{}, err
	}
	created = mergeCreation(created, draft)
	e.report(ctx, requests.KindCreation, ActionSubmit, created.Key(), nil)
	if created.Key() != "" {
		e.store.Creation.Upsert([]requests.CreationRequest{created})
	}
	e.publish(ctx, p, Outcome{Kind: requests.KindCreation, Action: ActionSubmit, RequestID: created.Key(), Status: created.Status})
	e.record(ctx, p, activity.Activity{
		Type:        activity.APIRequestCreated,
		Description: fmt.Sprintf("Creation of API %q requested", created.APIName),
		EntityID:    created.Key(),
		EntityName:  created.APIName,
		SectorID:    created.SectorID,
	})
	return created, nil
}

func creationDraft(d requests.CreationRequest, p *auth.Principal, e *Engine) requests.CreationRequest {
	d.ID = ""
	d.APIName = strings.TrimSpace(d.APIName)
	d.BaseURL = strings.TrimSpace(d.BaseURL)
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
	d.Status = requests.StatusPending
	d.Feedback = ""
	d.RequestDate = requests.At(e.now())
	return d
}

// mergeCreation fills what the backend left out of its echo from the draft.
func mergeCreation(got, draft requests.CreationRequest) requests.CreationRequest {
	if got.Key() == "" && got.APIName == "" {
		return draft
	}
	if got.APIName == "" {
		got.APIName = draft.APIName
	}
	if got.StructureID == "" {
		got.StructureID = draft.StructureID
	}
	if got.SectorID == "" {
		got.SectorID = draft.SectorID
	}
	if got.RequesterEmail == "" {
		got.RequesterEmail = draft.RequesterEmail
	}
	if got.RequesterName == "" {
		got.RequesterName = draft.RequesterName
	}
	if got.BaseURL == "" {
		got.BaseURL = draft.BaseURL
	}
	if got.Status == "" {
		got.Status = requests.StatusPending
	}
	if got.RequestDate.IsZero() {
		got.RequestDate = draft.RequestDate
	}
	return got
}
