package approval

import (
	"context"
	"fmt"
	"strings"

	"apicatalog.org/internal/activity"
	"apicatalog.org/internal/notify"
	"apicatalog.org/internal/obs"
	"apicatalog.org/internal/requests"
)

// Acceptance is the result of accepting a membership. Warning is set, and
// wraps ErrCredentialIssuance, when the account was accepted but its
// credentials could not be sent.
type Acceptance struct {
	Request requests.MembershipRequest
	Warning error
}

// AcceptMembership accepts membership request id and issues login
// credentials exactly once. An issuance failure does not undo the acceptance.
func (e *Engine) AcceptMembership(ctx context.Context, id, message string) (Acceptance, error) {
	var warning error
	rec, _, err := run(ctx, e, id, message, transition[requests.MembershipRequest]{
		coll:      e.store.Membership,
		action:    ActionAccept,
		to:        requests.StatusAccepted,
		authorize: adminOnly[requests.MembershipRequest],
		feedback:  orDefault(DefaultMembershipApproval),
		commit: func(ctx context.Context, r requests.MembershipRequest) (requests.MembershipRequest, error) {
			return e.remote.AcceptMembership(ctx, r.Key(), r.Response)
		},
		after: func(ctx context.Context, r requests.MembershipRequest) string {
			warning = e.issueCredentials(ctx, r)
			if warning != nil {
				return warning.Error()
			}
			return ""
		},
		describe: func(r requests.MembershipRequest) activity.Activity {
			return activity.Activity{
				Type:        activity.UserRegistered,
				Description: fmt.Sprintf("%s joined the platform", memberLabel(r)),
				EntityID:    r.Key(),
				EntityName:  r.Name,
				SectorID:    r.SectorID,
			}
		},
	})
	if err != nil {
		return Acceptance{}, err
	}
	return Acceptance{Request: rec, Warning: warning}, nil
}

// issueCredentials runs detached from ctx cancellation: once the acceptance
// is committed the caller going away must not skip the email.
func (e *Engine) issueCredentials(ctx context.Context, r requests.MembershipRequest) error {
	if e.issuer == nil {
		obs.ObserveCredentialIssuance("skipped")
		return fmt.Errorf("%w: no credential issuer configured", ErrCredentialIssuance)
	}
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.issueTimeout)
	defer cancel()
	err := e.issuer.Issue(ictx, notify.Recipient{Email: r.Email, Username: r.Email})
	if err != nil {
		obs.ObserveCredentialIssuance("failed")
		obs.Error("credential issuance failed", err, map[string]any{"request_id": r.Key()})
		return fmt.Errorf("%w: membership %s accepted but credentials were not sent: %v", ErrCredentialIssuance, r.Key(), err)
	}
	obs.ObserveCredentialIssuance("sent")
	return nil
}

// RefuseMembership refuses membership request id. A reason is mandatory.
func (e *Engine) RefuseMembership(ctx context.Context, id, reason string) (requests.MembershipRequest, error) {
	rec, _, err := run(ctx, e, id, reason, transition[requests.MembershipRequest]{
		coll:             e.store.Membership,
		action:           ActionRefuse,
		to:               requests.StatusRefused,
		authorize:        adminOnly[requests.MembershipRequest],
		feedbackRequired: true,
		commit: func(ctx context.Context, r requests.MembershipRequest) (requests.MembershipRequest, error) {
			return e.remote.RefuseMembership(ctx, r.Key(), r.Response)
		},
		describe: func(r requests.MembershipRequest) activity.Activity {
			return activity.Activity{
				Type:        activity.MembershipRefused,
				Description: fmt.Sprintf("Membership of %s refused", memberLabel(r)),
				EntityID:    r.Key(),
				EntityName:  r.Name,
				SectorID:    r.SectorID,
			}
		},
	})
	return rec, err
}

// DeleteMembership removes membership request id. Admin only.
func (e *Engine) DeleteMembership(ctx context.Context, id string) error {
	return remove(ctx, e, id, e.store.Membership, adminOnly[requests.MembershipRequest], e.remote.DeleteMembership)
}

// SubmitMembership files a request to join the platform. No credential is
// needed; this is how prospective users sign up.
func (e *Engine) SubmitMembership(ctx context.Context, draft requests.MembershipRequest) (requests.MembershipRequest, error) {
	draft.ID = ""
	draft.Name = strings.TrimSpace(draft.Name)
	draft.Email = strings.TrimSpace(draft.Email)
	draft.Status = requests.StatusPending
	draft.Response = ""
	draft.RequestDate = requests.At(e.now())

	err := draft.Validate()
	var created requests.MembershipRequest
	if err == nil {
		created, err = e.remote.SubmitMembership(ctx, draft)
	}
	if err != nil {
		e.report(ctx, requests.KindMembership, ActionSubmit, "", err)
		return requests.MembershipRequest{}, err
	}
	if created.Email == "" {
		id := created.ID
		created = draft
		created.ID = id
	}
	if created.Status == "" {
		created.Status = requests.StatusPending
	}
	e.report(ctx, requests.KindMembership, ActionSubmit, created.Key(), nil)
	if created.Key() != "" {
		e.store.Membership.Upsert([]requests.MembershipRequest{created})
	}
	e.publish(ctx, nil, Outcome{Kind: requests.KindMembership, Action: ActionSubmit, RequestID: created.Key(), Status: created.Status})
	e.record(ctx, nil, activity.Activity{
		Type:        activity.MembershipCreated,
		Description: fmt.Sprintf("%s asked to join the platform", memberLabel(created)),
		EntityID:    created.Key(),
		EntityName:  created.Name,
		SectorID:    created.SectorID,
	})
	return created, nil
}

func memberLabel(r requests.MembershipRequest) string {
	if r.Name != "" {
		return r.Name
	}
	return r.Email
}
