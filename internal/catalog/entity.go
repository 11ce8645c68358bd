package catalog

import (
	"sort"
	"strings"
)

// Kind is a reference entity family. The value doubles as the backend path
// segment and the legacy envelope key.
type Kind string

const (
	Structures Kind = "structures"
	Sectors    Kind = "secteurs"
	Services   Kind = "services"
)

const (
	// Placeholder is returned while a name is being fetched.
	Placeholder = "Loading…"
	// Unknown is returned for empty identifiers.
	Unknown = "Unknown"
)

// ParseKind accepts singular, plural, English and French spellings.
func ParseKind(raw string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "structure", "structures":
		return Structures, true
	case "sector", "sectors", "secteur", "secteurs":
		return Sectors, true
	case "service", "services":
		return Services, true
	}
	return "", false
}

// Label is the singular English noun for k.
func (k Kind) Label() string {
	switch k {
	case Structures:
		return "structure"
	case Sectors:
		return "sector"
	case Services:
		return "service"
	}
	return string(k)
}

// Entity is a structure, sector or service.
type Entity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// ServiceNode is a main service with its sub-services.
type ServiceNode struct {
	Entity
	Children []Entity `json:"children,omitempty"`
}

// UncategorizedID groups sub-services whose parent is unknown.
const UncategorizedID = "uncategorized"

// BuildServiceTree arranges services into the two-level hierarchy. A service
// whose parentId does not name a main service lands under "uncategorized".
func BuildServiceTree(services []Entity) []ServiceNode {
	mains := make(map[string]*ServiceNode)
	var order []string
	for _, s := range services {
		if strings.TrimSpace(s.ParentID) != "" {
			continue
		}
		if _, dup := mains[s.ID]; dup {
			continue
		}
		mains[s.ID] = &ServiceNode{Entity: s}
		order = append(order, s.ID)
	}

	var orphans []Entity
	for _, s := range services {
		parent := strings.TrimSpace(s.ParentID)
		if parent == "" {
			continue
		}
		if node, ok := mains[parent]; ok {
			node.Children = append(node.Children, s)
			continue
		}
		if node, ok := mains[normalizeID(parent)]; ok {
			node.Children = append(node.Children, s)
			continue
		}
		orphans = append(orphans, s)
	}

	out := make([]ServiceNode, 0, len(order)+1)
	for _, id := range order {
		node := mains[id]
		sortEntities(node.Children)
		out = append(out, *node)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	if len(orphans) > 0 {
		sortEntities(orphans)
		out = append(out, ServiceNode{
			Entity:   Entity{ID: UncategorizedID, Name: "Uncategorized"},
			Children: orphans,
		})
	}
	return out
}

func sortEntities(items []Entity) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := strings.ToLower(items[i].Name), strings.ToLower(items[j].Name)
		if a != b {
			return a < b
		}
		return items[i].ID < items[j].ID
	})
}

func normalizeID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "/", "")
}

// candidateIDs returns the raw id and, when different, its separator-free form.
func candidateIDs(id string) []string {
	id = strings.TrimSpace(id)
	stripped := normalizeID(id)
	if stripped == id || stripped == "" {
		return []string{id}
	}
	return []string{id, stripped}
}
