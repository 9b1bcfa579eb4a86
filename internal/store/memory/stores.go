package memory

import "github.com/wolfeidau/academy/internal/store"

// NewStores returns a full set of in-memory stores.
func NewStores() store.Stores {
	return store.Stores{
		Users:       NewUserStore(),
		Sessions:    NewSessionStore(),
		Enrollments: NewEnrollmentStore(),
	}
}
