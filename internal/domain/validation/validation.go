// Package validation holds the field-level input error shared by the
// checkout operations.
package validation

import "fmt"

// Error reports malformed or missing input. Field names the offending input
// so transports can point the client at it.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errorf builds an *Error for field.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}
