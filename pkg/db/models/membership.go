package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Membership is the issued artifact bound to exactly one claimed allocation.
type Membership struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID       string     `gorm:"column:user_id;not null;index:idx_memberships_user"`
	AllocationID uuid.UUID  `gorm:"column:allocation_id;type:uuid;not null;uniqueIndex:ux_memberships_allocation"`
	Tier         string     `gorm:"column:tier;not null;index:idx_memberships_drop,priority:1"`
	Year         int        `gorm:"column:year;not null;index:idx_memberships_drop,priority:2"`
	SequenceNum  int        `gorm:"column:sequence_num;not null"`
	PassSerial   string     `gorm:"column:pass_serial;not null;uniqueIndex:ux_memberships_pass_serial"`
	Revoked      bool       `gorm:"column:revoked;not null;default:false"`
	RevokedAt    *time.Time `gorm:"column:revoked_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Membership) TableName() string { return "memberships" }

func (m *Membership) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
