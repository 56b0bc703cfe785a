package nuclos

import "errors"

var (
	// ErrNotFound signals a failed lookup: an unknown business object,
	// attribute or dependency name, a vanished instance id, or an empty
	// query result where one instance was required.
	ErrNotFound = errors.New("not found")

	// ErrDeleted signals access to a record after Delete.
	ErrDeleted = errors.New("record is deleted")

	// ErrNotPersisted signals an operation that needs a server id on a record
	// that has never been saved.
	ErrNotPersisted = errors.New("record has not been saved yet")
)

// ValueError signals an invalid attribute assignment, e.g. writing a readonly
// attribute, a nil value for a non-nullable one, or a reference of the wrong
// type.
type ValueError struct {
	Message string
}

func (e *ValueError) Error() string {
	return e.Message
}
