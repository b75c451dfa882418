package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MembershipDevice holds a device signing key registered to a membership.
// At most one device per membership is active at a time.
type MembershipDevice struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	MembershipID uuid.UUID  `gorm:"column:membership_id;type:uuid;not null;uniqueIndex:ux_membership_devices_device,priority:1"`
	DeviceID     string     `gorm:"column:device_id;not null;uniqueIndex:ux_membership_devices_device,priority:2"`
	PublicKey    string     `gorm:"column:public_key;not null"`
	IsActive     bool       `gorm:"column:is_active;not null;default:true"`
	RegisteredAt time.Time  `gorm:"column:registered_at;not null"`
	RevokedAt    *time.Time `gorm:"column:revoked_at"`
}

func (MembershipDevice) TableName() string { return "membership_devices" }

func (d *MembershipDevice) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
