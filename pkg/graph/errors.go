package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID means an add event named an id that a currently
	// existing entity of the same kind already holds.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrDanglingReference means an add event referenced an id with no
	// currently existing match.
	ErrDanglingReference = errors.New("dangling reference")
)

// DuplicateIDError carries the kind and id of a rejected add.
type DuplicateIDError struct {
	Kind Kind
	ID   uint32
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("%s %d already exists", e.Kind, e.ID)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}

// DanglingReferenceError identifies which reference of an add event failed
// to resolve. Field is the payload field name, e.g. "input_port_id".
type DanglingReferenceError struct {
	Kind  Kind
	Field string
	ID    uint32
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s references missing %s %d", e.Kind, e.Field, e.ID)
}

func (e *DanglingReferenceError) Is(target error) bool {
	return target == ErrDanglingReference
}

// DanglingFields returns the payload fields named by every
// DanglingReferenceError in err, in the order they were reported.
func DanglingFields(err error) []string {
	var fields []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if d, ok := e.(*DanglingReferenceError); ok {
			fields = append(fields, d.Field)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		walk(errors.Unwrap(e))
	}
	walk(err)
	return fields
}
