package payloads

import (
	"time"

	"github.com/google/uuid"
)

// MembershipMintedEvent announces a freshly minted membership.
type MembershipMintedEvent struct {
	MembershipID uuid.UUID `json:"membershipId"`
	UserID       string    `json:"userId"`
	Tier         string    `json:"tier"`
	Year         int       `json:"year"`
	SequenceNum  int       `json:"sequenceNum"`
	PassSerial   string    `json:"passSerial"`
	ReceiptHash  string    `json:"receiptHash"`
	MintedAt     time.Time `json:"mintedAt"`
}

// ReforgeConfirmationRequestedEvent asks the mailer to deliver a confirm link.
type ReforgeConfirmationRequestedEvent struct {
	ReforgeID    uuid.UUID `json:"reforgeId"`
	MembershipID uuid.UUID `json:"membershipId"`
	UserID       string    `json:"userId"`
	NewDeviceID  string    `json:"newDeviceId"`
	ConfirmURL   string    `json:"confirmUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ReforgeConfirmedEvent is emitted once the device key has moved.
type ReforgeConfirmedEvent struct {
	ReforgeID    uuid.UUID `json:"reforgeId"`
	MembershipID uuid.UUID `json:"membershipId"`
	OldDeviceID  string    `json:"oldDeviceId"`
	NewDeviceID  string    `json:"newDeviceId"`
	ConfirmedAt  time.Time `json:"confirmedAt"`
}

// EncounterVerifiedEvent is emitted for every recorded encounter.
type EncounterVerifiedEvent struct {
	EncounterID   uuid.UUID `json:"encounterId"`
	InitiatorID   uuid.UUID `json:"initiatorId"`
	ReceiverID    uuid.UUID `json:"receiverId"`
	EncounteredAt time.Time `json:"encounteredAt"`
}
