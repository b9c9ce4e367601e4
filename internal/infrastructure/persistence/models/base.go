package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel holds the key and audit columns of the measurements table
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// stamp sets the key and timestamps for a row about to be written. A zero
// created time means the row is new.
func (m *BaseModel) stamp(id uuid.UUID, created time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		created = now
	}
	m.ID = id
	m.CreatedAt = created.UTC()
	m.UpdatedAt = now
}
