package board

// OpError is what a failed board operation leaves in the error slot.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	if e.Err == nil || e.Err.Error() == "" {
		return "failed to " + e.Op
	}
	return "failed to " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }
