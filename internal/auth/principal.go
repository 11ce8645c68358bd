package auth

import (
	"strings"
	"time"
)

// Role is the unified portal role. Providers and consumers are both RoleUser.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// MapLegacyRole normalises a raw role claim. Only the exact string "admin"
// yields RoleAdmin; "consumer", "provider", "user" and anything unrecognised
// map to RoleUser.
func MapLegacyRole(raw string) Role {
	switch raw {
	case "admin":
		return RoleAdmin
	case "user", "consumer", "provider":
		return RoleUser
	default:
		return RoleUser
	}
}

// Principal is the authenticated actor derived from one credential.
type Principal struct {
	SubjectID       string    `json:"subject_id"`
	Role            Role      `json:"role"`
	HomeStructureID string    `json:"home_structure_id,omitempty"`
	HomeSectorID    string    `json:"home_sector_id,omitempty"`
	DisplayName     string    `json:"display_name,omitempty"`
	Email           string    `json:"email,omitempty"`
	StructureName   string    `json:"structure_name,omitempty"`
	SectorName      string    `json:"sector_name,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the credential behind p is no longer valid at now.
func (p *Principal) Expired(now time.Time) bool {
	if p == nil {
		return true
	}
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// HasRole reports whether p holds role. A nil principal holds nothing.
func HasRole(p *Principal, role Role) bool {
	if p == nil {
		return false
	}
	return p.Role == role
}

// CanAdminister is true only for admins.
func CanAdminister(p *Principal) bool {
	return HasRole(p, RoleAdmin)
}

// OwnsStructure reports whether p is attached to structureID. Ids are compared
// after trimming path separators, which some backend payloads carry.
func OwnsStructure(p *Principal, structureID string) bool {
	if p == nil {
		return false
	}
	home := normalizeID(p.HomeStructureID)
	return home != "" && home == normalizeID(structureID)
}

// CanActOnStructure: admins always, users only for their own structure.
func CanActOnStructure(p *Principal, structureID string) bool {
	return CanAdminister(p) || OwnsStructure(p, structureID)
}

func normalizeID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "/", "")
}
