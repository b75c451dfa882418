package passes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/internal/memberships"
	"github.com/vyris/vyris-backend/pkg/db/models"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/pkpass"
	"github.com/vyris/vyris-backend/pkg/security"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type membershipStore interface {
	GetWithTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Membership, error)
	GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Membership, error)
	RegisterDevice(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID, deviceID, publicKey string) (*models.MembershipDevice, error)
}

// PassEncoder renders a membership into a wallet pass.
type PassEncoder interface {
	Encode(m models.Membership) (*pkpass.Bundle, error)
}

// Service issues wallet passes to membership owners.
type Service interface {
	Issue(ctx context.Context, membershipID uuid.UUID, userID string) (*pkpass.Bundle, error)
	RegisterDevice(ctx context.Context, input DeviceInput) (*models.MembershipDevice, error)
}

// DeviceInput binds the first signing device to a membership.
type DeviceInput struct {
	MembershipID uuid.UUID
	UserID       string
	DeviceID     string
	PublicKey    string
}

// ServiceParams wires pass issuance.
type ServiceParams struct {
	Tx          txRunner
	Memberships membershipStore
	Encoder     PassEncoder
	Logger      *logger.Logger
}

type service struct {
	tx          txRunner
	memberships membershipStore
	encoder     PassEncoder
	logg        *logger.Logger
}

func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Memberships == nil {
		return nil, fmt.Errorf("membership store required")
	}
	if p.Encoder == nil {
		return nil, fmt.Errorf("pass encoder required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{tx: p.Tx, memberships: p.Memberships, encoder: p.Encoder, logg: p.Logger}, nil
}

func (s *service) Issue(ctx context.Context, membershipID uuid.UUID, userID string) (*pkpass.Bundle, error) {
	if membershipID == uuid.Nil || strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership_id and user_id are required")
	}
	ctx = s.logg.WithMembershipID(s.logg.WithUserID(ctx, userID), membershipID.String())

	m, err := ownedBy(userID)(s.memberships.GetWithTx(ctx, nil, membershipID))
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	bundle, err := s.encoder.Encode(*m)
	if err != nil {
		s.logg.Error(ctx, "passes.encode_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "pass could not be rendered")
	}
	s.logg.Info(ctx, "pass issued")
	return bundle, nil
}

func (s *service) RegisterDevice(ctx context.Context, input DeviceInput) (*models.MembershipDevice, error) {
	if input.MembershipID == uuid.Nil || strings.TrimSpace(input.UserID) == "" || strings.TrimSpace(input.DeviceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership_id, user_id and device_id are required")
	}
	publicKey, err := security.NormalizePublicKeyPEM(input.PublicKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "public key must be a PEM encoded P-256 key").
			WithDetails(map[string]string{"field": "public_key"})
	}
	ctx = s.logg.WithMembershipID(ctx, input.MembershipID.String())

	var device *models.MembershipDevice
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// the row lock serializes first-device registration per membership
		if _, err := ownedBy(input.UserID)(s.memberships.GetForUpdate(ctx, tx, input.MembershipID)); err != nil {
			return err
		}
		registered, err := s.memberships.RegisterDevice(ctx, tx, input.MembershipID, strings.TrimSpace(input.DeviceID), publicKey)
		if errors.Is(err, memberships.ErrDeviceConflict) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "another device is already active; use reforge to move it")
		}
		if err != nil {
			return err
		}
		device = registered
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	return device, nil
}

// ownedBy accepts only unrevoked memberships held by userID.
func ownedBy(userID string) func(*models.Membership, error) (*models.Membership, error) {
	return func(m *models.Membership, err error) (*models.Membership, error) {
		if errors.Is(err, memberships.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
		}
		if err != nil {
			return nil, err
		}
		if m.UserID != userID || m.Revoked {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "membership is not available to this user")
		}
		return m, nil
	}
}

func (s *service) classify(ctx context.Context, err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	s.logg.Error(ctx, "passes.lookup_failed", err)
	return pkgerrors.Wrap(pkgerrors.CodeRetryable, err, "membership lookup failed")
}
