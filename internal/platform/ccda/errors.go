package ccda

import "errors"

// StructuralError reports well-formed XML that lacks a mandatory CDA element.
type StructuralError struct {
	Msg string
}

func (e *StructuralError) Error() string {
	return "ccda: " + e.Msg
}

// IsStructural reports whether err is (or wraps) a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}
