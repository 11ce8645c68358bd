package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"apicatalog.org/internal/requests"
)

// ListMyCreationRequests returns the caller's own creation requests.
func (c *Client) ListMyCreationRequests(ctx context.Context, page, size int) ([]requests.CreationRequest, int, error) {
	q := pageQuery(page, size)
	q.Set("type", "CREATION")
	data, err := c.do(ctx, call{op: "creation.mine", method: http.MethodGet, path: "/api/api-creation-request/my-requests", query: q})
	if err != nil {
		return nil, 0, err
	}
	return decodeList[requests.CreationRequest]("creation.mine", data)
}

// ListPendingCreationRequests is the administrator queue.
func (c *Client) ListPendingCreationRequests(ctx context.Context, page, size int) ([]requests.CreationRequest, int, error) {
	data, err := c.do(ctx, call{op: "creation.pending", method: http.MethodGet, path: "/api/api-creation-request/pending", query: pageQuery(page, size)})
	if err != nil {
		return nil, 0, err
	}
	return decodeList[requests.CreationRequest]("creation.pending", data)
}

type creationSubmission struct {
	RequesterName  string              `json:"requesterName,omitempty"`
	RequesterEmail string              `json:"requesterEmail,omitempty"`
	APIName        string              `json:"apiName"`
	Description    string              `json:"description,omitempty"`
	StructureID    string              `json:"structure"`
	SectorID       string              `json:"secteur"`
	ServiceID      string              `json:"service,omitempty"`
	BaseURL        string              `json:"baseUrl"`
	Version        string              `json:"version,omitempty"`
	RequiresAuth   bool                `json:"requiresAuth"`
	AuthType       string              `json:"authType,omitempty"`
	Endpoints      []requests.Endpoint `json:"endpoints,omitempty"`
	Type           string              `json:"type"`
}

// SubmitCreation files a new creation request and returns the stored record.
func (c *Client) SubmitCreation(ctx context.Context, r requests.CreationRequest) (requests.CreationRequest, error) {
	body := creationSubmission{
		RequesterName:  r.RequesterName,
		RequesterEmail: r.RequesterEmail,
		APIName:        r.APIName,
		Description:    r.Description,
		StructureID:    r.StructureID,
		SectorID:       r.SectorID,
		ServiceID:      r.ServiceID,
		BaseURL:        r.BaseURL,
		Version:        r.Version,
		RequiresAuth:   r.RequiresAuth,
		AuthType:       r.AuthType,
		Endpoints:      r.Endpoints,
		Type:           "CREATION",
	}
	data, err := c.do(ctx, call{op: "creation.submit", method: http.MethodPost, path: "/api/api-creation-request/new-api", body: body})
	if err != nil {
		return requests.CreationRequest{}, err
	}
	return decodeOne[requests.CreationRequest]("creation.submit", data)
}

// ApproveCreation publishes the API behind request id.
func (c *Client) ApproveCreation(ctx context.Context, id, feedback string) (requests.CreationRequest, error) {
	return c.decideCreation(ctx, "creation.approve", id, "approve", feedback)
}

// RejectCreation closes request id with feedback.
func (c *Client) RejectCreation(ctx context.Context, id, feedback string) (requests.CreationRequest, error) {
	return c.decideCreation(ctx, "creation.reject", id, "reject", feedback)
}

func (c *Client) decideCreation(ctx context.Context, op, id, action, feedback string) (requests.CreationRequest, error) {
	data, err := c.do(ctx, call{
		op:     op,
		method: http.MethodPut,
		path:   "/api/admin/requests/creation/" + escape(id) + "/" + action,
		body:   newDecision(feedback),
	})
	if err != nil {
		return requests.CreationRequest{}, missingAsConflict(err)
	}
	return decodeOne[requests.CreationRequest](op, data)
}

// DeleteCreation withdraws request id.
func (c *Client) DeleteCreation(ctx context.Context, id string) error {
	_, err := c.do(ctx, call{op: "creation.delete", method: http.MethodDelete, path: "/api/api-creation-request/" + escape(id)})
	return missingAsConflict(err)
}

// ListPendingAccessRequests lists usage requests awaiting a decision from
// the owners the caller represents.
func (c *Client) ListPendingAccessRequests(ctx context.Context, page, size int) ([]requests.AccessRequest, int, error) {
	data, err := c.do(ctx, call{op: "access.pending", method: http.MethodGet, path: "/api/api-request/pending", query: pageQuery(page, size)})
	if err != nil {
		return nil, 0, err
	}
	return decodeList[requests.AccessRequest]("access.pending", data)
}

// ListMyAccessRequests returns the caller's own usage requests.
func (c *Client) ListMyAccessRequests(ctx context.Context, page, size int) ([]requests.AccessRequest, int, error) {
	data, err := c.do(ctx, call{op: "access.mine", method: http.MethodGet, path: "/api/api-request/my-requests", query: pageQuery(page, size)})
	if err != nil {
		return nil, 0, err
	}
	return decodeList[requests.AccessRequest]("access.mine", data)
}

type accessSubmission struct {
	APIID          string `json:"apiId"`
	Reason         string `json:"reason,omitempty"`
	RequesterName  string `json:"requesterName,omitempty"`
	RequesterEmail string `json:"requesterEmail,omitempty"`
}

// SubmitAccess asks for usage rights on an API.
func (c *Client) SubmitAccess(ctx context.Context, r requests.AccessRequest) (requests.AccessRequest, error) {
	body := accessSubmission{APIID: r.APIID, Reason: r.Reason, RequesterName: r.RequesterName, RequesterEmail: r.RequesterEmail}
	data, err := c.do(ctx, call{op: "access.submit", method: http.MethodPost, path: "/api/api-request", body: body})
	if err != nil {
		return requests.AccessRequest{}, err
	}
	return decodeOne[requests.AccessRequest]("access.submit", data)
}

// ApproveAccess grants usage request id.
func (c *Client) ApproveAccess(ctx context.Context, id, feedback string) (requests.AccessRequest, error) {
	return c.decideAccess(ctx, "access.approve", id, "approve", feedback)
}

// RejectAccess declines usage request id.
func (c *Client) RejectAccess(ctx context.Context, id, feedback string) (requests.AccessRequest, error) {
	return c.decideAccess(ctx, "access.reject", id, "reject", feedback)
}

func (c *Client) decideAccess(ctx context.Context, op, id, action, feedback string) (requests.AccessRequest, error) {
	data, err := c.do(ctx, call{
		op:     op,
		method: http.MethodPut,
		path:   "/api/api-request/" + escape(id) + "/" + action,
		body:   newDecision(feedback),
	})
	if err != nil {
		return requests.AccessRequest{}, missingAsConflict(err)
	}
	return decodeOne[requests.AccessRequest](op, data)
}

// ListMemberships returns every membership request the caller may see.
func (c *Client) ListMemberships(ctx context.Context) ([]requests.MembershipRequest, int, error) {
	data, err := c.do(ctx, call{op: "membership.list", method: http.MethodGet, path: "/api/adheration/requests"})
	if err != nil {
		return nil, 0, err
	}
	return decodeList[requests.MembershipRequest]("membership.list", data)
}

type membershipSubmission struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	StructureID string `json:"structure"`
	SectorID    string `json:"secteur"`
	Role        string `json:"role,omitempty"`
	Message     string `json:"message,omitempty"`
}

// SubmitMembership files a platform-access request. It needs no credential.
func (c *Client) SubmitMembership(ctx context.Context, r requests.MembershipRequest) (requests.MembershipRequest, error) {
	body := membershipSubmission{Name: r.Name, Email: r.Email, StructureID: r.StructureID, SectorID: r.SectorID, Role: r.Role, Message: r.Message}
	data, err := c.do(ctx, call{op: "membership.submit", method: http.MethodPost, path: "/api/adheration/request", body: body})
	if err != nil {
		return requests.MembershipRequest{}, err
	}
	return decodeMembershipAck("membership.submit", data)
}

type memberMessage struct {
	Message string `json:"message,omitempty"`
}

// AcceptMembership accepts request id.
func (c *Client) AcceptMembership(ctx context.Context, id, message string) (requests.MembershipRequest, error) {
	return c.decideMembership(ctx, "membership.accept", "/api/adheration/accept/", id, message)
}

// RefuseMembership refuses request id.
func (c *Client) RefuseMembership(ctx context.Context, id, message string) (requests.MembershipRequest, error) {
	return c.decideMembership(ctx, "membership.refuse", "/api/adheration/refuse/", id, message)
}

func (c *Client) decideMembership(ctx context.Context, op, prefix, id, message string) (requests.MembershipRequest, error) {
	data, err := c.do(ctx, call{op: op, method: http.MethodPost, path: prefix + escape(id), body: memberMessage{Message: message}})
	if err != nil {
		return requests.MembershipRequest{}, missingAsConflict(err)
	}
	return decodeMembershipAck(op, data)
}

// DeleteMembership removes request id.
func (c *Client) DeleteMembership(ctx context.Context, id string) error {
	_, err := c.do(ctx, call{op: "membership.delete", method: http.MethodDelete, path: "/api/adheration/delete/" + escape(id)})
	return missingAsConflict(err)
}

// decodeMembershipAck accepts either the full record or the short
// {"message", "requestId"} acknowledgement. An acknowledgement yields a zero
// record and the caller keeps its own view.
func decodeMembershipAck(op string, data []byte) (requests.MembershipRequest, error) {
	var probe struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Email == "" {
		return requests.MembershipRequest{}, nil
	}
	return decodeOne[requests.MembershipRequest](op, data)
}
