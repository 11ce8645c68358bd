package requests

import (
	"encoding/json"
	"strings"
)

// Kind names one of the three request families. They never share storage.
type Kind string

const (
	KindCreation   Kind = "creation"
	KindAccess     Kind = "access"
	KindMembership Kind = "membership"
)

// Status of a request. Creation and access requests use pending, approved and
// rejected; membership requests use pending, accepted and refused.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusAccepted Status = "accepted"
	StatusRefused  Status = "refused"
)

// ParseStatus normalises backend spellings ("PENDING", "Accepted") to Status.
func ParseStatus(raw string) Status {
	return Status(strings.ToLower(strings.TrimSpace(raw)))
}

// UnmarshalJSON accepts any letter case.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusAccepted, StatusRefused:
		return true
	}
	return false
}

// CanTransition reports whether kind allows from -> to.
func CanTransition(kind Kind, from, to Status) bool {
	if from != StatusPending {
		return false
	}
	switch kind {
	case KindCreation, KindAccess:
		return to == StatusApproved || to == StatusRejected
	case KindMembership:
		return to == StatusAccepted || to == StatusRefused
	}
	return false
}
