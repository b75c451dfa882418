package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/pkg/enums"
)

// ReforgeRequest moves a membership's active signing key to a new device once
// confirmed. Only the digest of the confirmation token is stored.
type ReforgeRequest struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	MembershipID uuid.UUID           `gorm:"column:membership_id;type:uuid;not null;index:idx_reforge_requests_membership"`
	OldDeviceID  string              `gorm:"column:old_device_id;not null"`
	NewDeviceID  string              `gorm:"column:new_device_id;not null"`
	NewPublicKey string              `gorm:"column:new_public_key;not null"`
	TokenHash    string              `gorm:"column:token_hash;not null;uniqueIndex:ux_reforge_requests_token_hash"`
	Status       enums.ReforgeStatus `gorm:"column:status;type:text;not null;index:idx_reforge_requests_status_expires,priority:1"`
	ExpiresAt    time.Time           `gorm:"column:expires_at;not null;index:idx_reforge_requests_status_expires,priority:2"`
	ConfirmedAt  *time.Time          `gorm:"column:confirmed_at"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (ReforgeRequest) TableName() string { return "reforge_requests" }

func (r *ReforgeRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
