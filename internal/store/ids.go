package store

import "github.com/google/uuid"

// newID mints an entity identifier.
func newID() string {
	return uuid.NewString()
}
