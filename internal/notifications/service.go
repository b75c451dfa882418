package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/enums"
	"github.com/vyris/vyris-backend/pkg/outbox"
	"github.com/vyris/vyris-backend/pkg/outbox/payloads"
)

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service queues domain notifications on the outbox. Every method writes in
// the caller's transaction; delivery happens in the outbox publisher.
type Service struct {
	outbox emitter
	now    func() time.Time
}

// NewService wires the notifier to the outbox.
func NewService(publisher emitter) (*Service, error) {
	if publisher == nil {
		return nil, errors.New("outbox publisher required")
	}
	return &Service{outbox: publisher, now: func() time.Time { return time.Now().UTC() }}, nil
}

// MembershipMinted queues the membership_minted event.
func (s *Service) MembershipMinted(ctx context.Context, tx *gorm.DB, m *models.Membership, receiptHash string) error {
	if m == nil {
		return errors.New("membership required")
	}
	membershipID := m.ID
	return s.emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventMembershipMinted,
		AggregateType: enums.AggregateMembership,
		AggregateID:   m.ID,
		Actor:         &outbox.ActorRef{UserID: m.UserID, MembershipID: &membershipID},
		Data: payloads.MembershipMintedEvent{
			MembershipID: m.ID,
			UserID:       m.UserID,
			Tier:         m.Tier,
			Year:         m.Year,
			SequenceNum:  m.SequenceNum,
			PassSerial:   m.PassSerial,
			ReceiptHash:  receiptHash,
			MintedAt:     m.CreatedAt,
		},
	})
}

// RequestReforgeConfirmation queues the confirm link for the membership owner.
func (s *Service) RequestReforgeConfirmation(ctx context.Context, tx *gorm.DB, req *models.ReforgeRequest, userID, confirmURL string) error {
	if req == nil {
		return errors.New("reforge request required")
	}
	membershipID := req.MembershipID
	return s.emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReforgeConfirmationRequested,
		AggregateType: enums.AggregateReforgeRequest,
		AggregateID:   req.ID,
		Actor:         &outbox.ActorRef{UserID: userID, MembershipID: &membershipID},
		Data: payloads.ReforgeConfirmationRequestedEvent{
			ReforgeID:    req.ID,
			MembershipID: req.MembershipID,
			UserID:       userID,
			NewDeviceID:  req.NewDeviceID,
			ConfirmURL:   confirmURL,
			ExpiresAt:    req.ExpiresAt,
		},
	})
}

// ReforgeConfirmed queues the reforge_confirmed event.
func (s *Service) ReforgeConfirmed(ctx context.Context, tx *gorm.DB, req *models.ReforgeRequest) error {
	if req == nil {
		return errors.New("reforge request required")
	}
	confirmedAt := s.now()
	if req.ConfirmedAt != nil {
		confirmedAt = *req.ConfirmedAt
	}
	membershipID := req.MembershipID
	return s.emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReforgeConfirmed,
		AggregateType: enums.AggregateReforgeRequest,
		AggregateID:   req.ID,
		Actor:         &outbox.ActorRef{MembershipID: &membershipID},
		Data: payloads.ReforgeConfirmedEvent{
			ReforgeID:    req.ID,
			MembershipID: req.MembershipID,
			OldDeviceID:  req.OldDeviceID,
			NewDeviceID:  req.NewDeviceID,
			ConfirmedAt:  confirmedAt,
		},
	})
}

// EncounterVerified queues the encounter_verified event.
func (s *Service) EncounterVerified(ctx context.Context, tx *gorm.DB, enc *models.Encounter) error {
	if enc == nil {
		return errors.New("encounter required")
	}
	initiator := enc.InitiatorID
	return s.emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEncounterVerified,
		AggregateType: enums.AggregateEncounter,
		AggregateID:   enc.ID,
		Actor:         &outbox.ActorRef{MembershipID: &initiator},
		Data: payloads.EncounterVerifiedEvent{
			EncounterID:   enc.ID,
			InitiatorID:   enc.InitiatorID,
			ReceiverID:    enc.ReceiverID,
			EncounteredAt: enc.EncounteredAt,
		},
	})
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	event.OccurredAt = s.now()
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return fmt.Errorf("queue %s: %w", event.EventType, err)
	}
	return nil
}
