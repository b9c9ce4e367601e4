package shared

import (
	"time"

	"github.com/google/uuid"
)

// Identity is embedded by records that are stored in the catalog.
// Timestamps are kept in UTC.
type Identity struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewIdentity returns an Identity with a random ID created now
func NewIdentity() Identity {
	now := time.Now().UTC()
	return Identity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

// Touch marks the record as modified
func (i *Identity) Touch() {
	i.UpdatedAt = time.Now().UTC()
}
