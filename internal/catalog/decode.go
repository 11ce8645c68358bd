package catalog

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DecodeEntities reads a reference listing in any of the shapes the backend
// has produced, tried in this order: a {"content": [...]} page, the legacy
// {"<kind>": [...]} envelope, a bare array. Anything else yields nil.
// Elements without an id or name are skipped.
func DecodeEntities(kind Kind, raw []byte) []Entity {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '[':
		return decodeList(raw)
	case '{':
		var env map[string]json.RawMessage
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil
		}
		if list, ok := env["content"]; ok && isArray(list) {
			return decodeList(list)
		}
		if list, ok := env[string(kind)]; ok && isArray(list) {
			return decodeList(list)
		}
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func decodeList(raw []byte) []Entity {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}
	out := make([]Entity, 0, len(elems))
	for _, elem := range elems {
		var e Entity
		if err := json.Unmarshal(elem, &e); err != nil {
			continue
		}
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" || strings.TrimSpace(e.Name) == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}
