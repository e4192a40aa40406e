package dragdrop

import (
	"maps"
	"slices"
	"strings"
)

// Payload keys written at drag start.
const (
	KeyType = "application/x-drag-type"
	KeyID   = "application/x-drag-id"
	KeyText = "text/plain"
)

// Payload is the key/value channel that travels with a drag. Drop targets that
// share no memory with the drag source read it at drop time. During drag-over
// only the key names are observable.
type Payload interface {
	SetData(key, value string)
	GetData(key string) string
	Types() []string
}

// DataTransfer is a map backed Payload.
type DataTransfer map[string]string

func (d DataTransfer) SetData(key, value string) { d[key] = value }

func (d DataTransfer) GetData(key string) string { return d[key] }

func (d DataTransfer) Types() []string { return slices.Sorted(maps.Keys(d)) }

// CarriesDrag reports whether the key names observed during drag-over belong
// to a board drag. Columns use it to decide whether to highlight.
func CarriesDrag(types []string) bool {
	for _, t := range types {
		switch t {
		case KeyType, KeyID, KeyText:
			return true
		}
	}
	return false
}

// Resolve reads the dragged entity from p at drop time. The id falls back to
// the plain text entry. A missing or unknown type is treated as a task, so a
// drop is only handled as a column reorder when the payload says so.
func Resolve(p Payload) (Type, string, bool) {
	id := strings.TrimSpace(p.GetData(KeyID))
	if id == "" {
		id = strings.TrimSpace(p.GetData(KeyText))
	}
	if id == "" {
		return None, "", false
	}
	typ, ok := ParseType(p.GetData(KeyType))
	if !ok {
		typ = Task
	}
	return typ, id, true
}
