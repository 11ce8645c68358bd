package requests

import (
	"strings"
	"time"
)

// Record is implemented by the three request families so one Collection
// implementation can hold each of them.
type Record[T any] interface {
	Key() string
	State() Status
	Refs() (structureID, sectorID string)
	Submitted() time.Time
	Text() []string
	WithState(s Status, feedback string) T
}

// Endpoint describes one operation of a proposed API.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// CreationRequest asks for a new API to be published in the catalog.
type CreationRequest struct {
	ID             string     `json:"id"`
	RequesterName  string     `json:"requesterName"`
	RequesterEmail string     `json:"requesterEmail"`
	APIName        string     `json:"apiName"`
	Description    string     `json:"description,omitempty"`
	StructureID    string     `json:"structure"`
	SectorID       string     `json:"secteur"`
	ServiceID      string     `json:"service,omitempty"`
	BaseURL        string     `json:"baseUrl"`
	Version        string     `json:"version,omitempty"`
	RequiresAuth   bool       `json:"requiresAuth"`
	AuthType       string     `json:"authType,omitempty"`
	Endpoints      []Endpoint `json:"endpoints,omitempty"`
	Status         Status     `json:"status"`
	RequestDate    Timestamp  `json:"requestDate"`
	Feedback       string     `json:"feedback,omitempty"`
}

func (r CreationRequest) Key() string          { return strings.TrimSpace(r.ID) }
func (r CreationRequest) State() Status        { return r.Status }
func (r CreationRequest) Submitted() time.Time { return r.RequestDate.Time }

func (r CreationRequest) Refs() (string, string) { return r.StructureID, r.SectorID }

func (r CreationRequest) Text() []string {
	return []string{r.RequesterName, r.APIName, r.RequesterEmail, r.Description}
}

func (r CreationRequest) WithState(s Status, feedback string) CreationRequest {
	r.Status = s
	r.Feedback = feedback
	r.Endpoints = append([]Endpoint(nil), r.Endpoints...)
	return r
}

// AccessRequest asks for usage rights on an already-published API.
type AccessRequest struct {
	ID             string    `json:"id"`
	APIID          string    `json:"apiId"`
	APIName        string    `json:"apiName,omitempty"`
	APIStructureID string    `json:"apiStructure,omitempty"`
	RequesterID    string    `json:"requesterId"`
	RequesterName  string    `json:"requesterName"`
	RequesterEmail string    `json:"requesterEmail"`
	StructureID    string    `json:"structure,omitempty"`
	SectorID       string    `json:"secteur,omitempty"`
	Reason         string    `json:"reason"`
	Status         Status    `json:"status"`
	RequestDate    Timestamp `json:"requestDate"`
	Feedback       string    `json:"feedback,omitempty"`
}

func (r AccessRequest) Key() string          { return strings.TrimSpace(r.ID) }
func (r AccessRequest) State() Status        { return r.Status }
func (r AccessRequest) Submitted() time.Time { return r.RequestDate.Time }

func (r AccessRequest) Refs() (string, string) { return r.StructureID, r.SectorID }

func (r AccessRequest) Text() []string {
	return []string{r.RequesterName, r.RequesterEmail, r.APIName, r.Reason}
}

func (r AccessRequest) WithState(s Status, feedback string) AccessRequest {
	r.Status = s
	r.Feedback = feedback
	return r
}

// MembershipRequest ("adhésion") asks for a platform account under a structure.
type MembershipRequest struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	StructureID string    `json:"structure"`
	SectorID    string    `json:"secteur"`
	Role        string    `json:"role,omitempty"`
	Message     string    `json:"message,omitempty"`
	Status      Status    `json:"status"`
	RequestDate Timestamp `json:"requestDate"`
	Response    string    `json:"response,omitempty"`
}

func (r MembershipRequest) Key() string          { return strings.TrimSpace(r.ID) }
func (r MembershipRequest) State() Status        { return r.Status }
func (r MembershipRequest) Submitted() time.Time { return r.RequestDate.Time }

func (r MembershipRequest) Refs() (string, string) { return r.StructureID, r.SectorID }

func (r MembershipRequest) Text() []string {
	return []string{r.Name, r.Email, r.Message}
}

func (r MembershipRequest) WithState(s Status, feedback string) MembershipRequest {
	r.Status = s
	r.Response = feedback
	return r
}

// Page is one slice of a filtered, sorted listing.
type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
}

// TotalPages is ceil(Total/Size); zero when Size is zero.
func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}
