// Package entity holds the persistence base shared by versioned records.
package entity

import (
	"context"
	"time"

	"paydesk/internal/core/id"
)

// Validatable is implemented by entities that check their own invariants
// without touching the database.
type Validatable interface {
	Validate(ctx context.Context) error
}

// BaseEntity carries the primary key and optimistic-lock version.
type BaseEntity struct {
	ID id.ID `db:"id" json:"id"`

	// Version is incremented on every update; repositories compare it in WHERE.
	Version int `db:"version" json:"version"`
}

// NewBaseEntity creates a new BaseEntity with generated ID.
func NewBaseEntity() BaseEntity {
	return BaseEntity{
		ID:      id.New(),
		Version: 1,
	}
}

// Touch increments version.
func (b *BaseEntity) Touch() {
	b.Version++
}

// SetVersion updates the version number (used by repository after sync).
func (b *BaseEntity) SetVersion(v int) {
	b.Version = v
}

// BaseDocument extends BaseEntity with audit fields.
type BaseDocument struct {
	BaseEntity

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	CreatedBy string    `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy string    `db:"updated_by" json:"updatedBy,omitempty"`
}

// NewBaseDocument creates a new BaseDocument with generated ID and timestamps.
func NewBaseDocument(createdBy string) BaseDocument {
	now := time.Now().UTC()
	return BaseDocument{
		BaseEntity: NewBaseEntity(),
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  createdBy,
		UpdatedBy:  createdBy,
	}
}

// Touch updates the UpdatedAt timestamp and increments version.
func (b *BaseDocument) Touch(updatedBy string) {
	b.UpdatedAt = time.Now().UTC()
	if updatedBy != "" {
		b.UpdatedBy = updatedBy
	}
	b.BaseEntity.Touch()
}
