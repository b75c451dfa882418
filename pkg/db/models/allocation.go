package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Allocation is one pre-generated slot of a drop. SequenceNum is the stable
// identity; SortOrder is a shuffled permutation that decides claim order.
type Allocation struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Tier        string     `gorm:"column:tier;not null;uniqueIndex:ux_allocations_drop_sequence,priority:1;uniqueIndex:ux_allocations_drop_sort_order,priority:1;index:idx_allocations_drop_claim,priority:1"`
	Year        int        `gorm:"column:year;not null;uniqueIndex:ux_allocations_drop_sequence,priority:2;uniqueIndex:ux_allocations_drop_sort_order,priority:2;index:idx_allocations_drop_claim,priority:2"`
	SequenceNum int        `gorm:"column:sequence_num;not null;uniqueIndex:ux_allocations_drop_sequence,priority:3"`
	SortOrder   int        `gorm:"column:sort_order;not null;uniqueIndex:ux_allocations_drop_sort_order,priority:3;index:idx_allocations_drop_claim,priority:4"`
	Claimed     bool       `gorm:"column:claimed;not null;default:false;index:idx_allocations_drop_claim,priority:3"`
	ClaimedBy   *string    `gorm:"column:claimed_by"`
	ClaimedAt   *time.Time `gorm:"column:claimed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Allocation) TableName() string { return "allocations" }

func (a *Allocation) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
