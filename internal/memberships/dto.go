package memberships

import (
	"time"

	"github.com/google/uuid"

	"github.com/vyris/vyris-backend/pkg/db/models"
)

// MembershipDTO is the transport shape returned by mint and replay.
type MembershipDTO struct {
	ID          uuid.UUID `json:"id"`
	Tier        string    `json:"tier"`
	Year        int       `json:"year"`
	SequenceNum int       `json:"sequence_num"`
	PassSerial  string    `json:"pass_serial"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromModel maps a membership row to its transport shape.
func FromModel(m *models.Membership) *MembershipDTO {
	if m == nil {
		return nil
	}
	return &MembershipDTO{
		ID:          m.ID,
		Tier:        m.Tier,
		Year:        m.Year,
		SequenceNum: m.SequenceNum,
		PassSerial:  m.PassSerial,
		CreatedAt:   m.CreatedAt,
	}
}
