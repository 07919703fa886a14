package lease

import (
	"github.com/google/uuid"
)

// newRecordID returns the id of a freshly created lease record.
func newRecordID() string {
	return uuid.NewString()
}

// NewOwnerID generates a random owner id for callers that have no principal of their own
// (e.g. command line clients).
func NewOwnerID() string {
	return uuid.NewString()
}
