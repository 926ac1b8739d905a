package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides shared columns for all tables.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures UUIDs are generated for new records.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// OrderCounter is the single-row source of order numbers. The row is
// incremented inside the settlement transaction, so concurrent writers
// serialize on its lock and never hand out the same number twice.
type OrderCounter struct {
	ID    int   `gorm:"primaryKey" json:"id"`
	Value int64 `json:"value"`
}
