package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Encounter is a verified proof that two memberships met. EncounterToken is the
// signed token's jti and doubles as the replay guard.
type Encounter struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InitiatorID    uuid.UUID `gorm:"column:initiator_id;type:uuid;not null;index:idx_encounters_initiator" json:"initiator_id"`
	ReceiverID     uuid.UUID `gorm:"column:receiver_id;type:uuid;not null;index:idx_encounters_receiver" json:"receiver_id"`
	EncounterToken string    `gorm:"column:encounter_token;not null;uniqueIndex:ux_encounters_token" json:"encounter_token"`
	Latitude       *float64  `gorm:"column:latitude" json:"latitude,omitempty"`
	Longitude      *float64  `gorm:"column:longitude" json:"longitude,omitempty"`
	EncounteredAt  time.Time `gorm:"column:encountered_at;not null" json:"encountered_at"`
	VerifiedAt     time.Time `gorm:"column:verified_at;not null" json:"verified_at"`
}

func (Encounter) TableName() string { return "encounters" }

func (e *Encounter) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
