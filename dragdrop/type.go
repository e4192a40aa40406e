package dragdrop

import "fmt"

// Type tags what is being dragged.
type Type uint8

const (
	None Type = iota
	Category
	Task
	Priority
)

func (t Type) String() string {
	switch t {
	case None:
		return ""
	case Category:
		return "category"
	case Task:
		return "task"
	case Priority:
		return "priority"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType maps a payload tag to a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "category":
		return Category, true
	case "task":
		return Task, true
	case "priority":
		return Priority, true
	}
	return None, false
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = None
		return nil
	}
	v, ok := ParseType(string(b))
	if !ok {
		return fmt.Errorf("unknown drag type %q", b)
	}
	*t = v
	return nil
}
