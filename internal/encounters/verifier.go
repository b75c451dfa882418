package encounters

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/internal/memberships"
	"github.com/vyris/vyris-backend/pkg/db"
	"github.com/vyris/vyris-backend/pkg/db/models"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/security"
	"github.com/vyris/vyris-backend/pkg/types"
)

const (
	defaultMaxAge    = 300 * time.Second
	defaultClockSkew = 30 * time.Second
)

// Claims is the payload of an encounter token. Subject is the initiator
// membership, the first audience entry the receiver.
type Claims struct {
	jwt.RegisteredClaims
	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type membershipLoader interface {
	GetWithTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Membership, error)
}

type notifier interface {
	EncounterVerified(ctx context.Context, tx *gorm.DB, enc *models.Encounter) error
}

// Service verifies signed encounter tokens and records them once.
type Service interface {
	VerifyAndRecord(ctx context.Context, token string) (*models.Encounter, error)
}

// ServiceParams wires the verifier.
type ServiceParams struct {
	Tx           txRunner
	Memberships  membershipLoader
	Notifier     notifier
	PublicKeyPEM string
	MaxAge       time.Duration
	ClockSkew    time.Duration
	Logger       *logger.Logger
}

type service struct {
	tx          txRunner
	memberships membershipLoader
	notifier    notifier
	key         *ecdsa.PublicKey
	maxAge      time.Duration
	skew        time.Duration
	logg        *logger.Logger
	now         func() time.Time
}

// NewService builds the encounter verifier.
func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Memberships == nil {
		return nil, fmt.Errorf("membership loader required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	key, err := security.ParseP256PublicKey(p.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("encounter public key: %w", err)
	}
	if p.MaxAge <= 0 {
		p.MaxAge = defaultMaxAge
	}
	if p.ClockSkew <= 0 {
		p.ClockSkew = defaultClockSkew
	}
	return &service{
		tx:          p.Tx,
		memberships: p.Memberships,
		notifier:    p.Notifier,
		key:         key,
		maxAge:      p.MaxAge,
		skew:        p.ClockSkew,
		logg:        p.Logger,
		now:         time.Now,
	}, nil
}

func (s *service) VerifyAndRecord(ctx context.Context, token string) (*models.Encounter, error) {
	claims, err := s.parse(strings.TrimSpace(token))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "encounter token rejected")
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid encounter token")
	}

	initiatorID, receiverID, err := participants(claims)
	if err != nil {
		return nil, err
	}
	coords, err := coordinates(claims)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	encounter := &models.Encounter{
		InitiatorID:    initiatorID,
		ReceiverID:     receiverID,
		EncounterToken: claims.ID,
		EncounteredAt:  claims.IssuedAt.Time.UTC(),
		VerifiedAt:     now,
	}
	if coords != nil {
		encounter.Latitude = &coords.Lat
		encounter.Longitude = &coords.Lng
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"initiator_id": initiatorID.String(), "receiver_id": receiverID.String()})
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		for _, id := range []uuid.UUID{initiatorID, receiverID} {
			m, err := s.memberships.GetWithTx(ctx, tx, id)
			if errors.Is(err, memberships.ErrNotFound) {
				return pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown membership")
			}
			if err != nil {
				return err
			}
			if m.Revoked {
				return pkgerrors.New(pkgerrors.CodeUnauthorized, "membership revoked")
			}
		}

		if err := tx.WithContext(ctx).Create(encounter).Error; err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "encounter token already used")
			}
			return err
		}
		if s.notifier != nil {
			return s.notifier.EncounterVerified(ctx, tx, encounter)
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			s.logg.Error(ctx, "encounter.record_failed", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeRetryable, err, "record encounter")
		}
		return nil, err
	}

	s.logg.Info(ctx, "encounter verified")
	return encounter, nil
}

func (s *service) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.skew),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}); err != nil {
		return nil, err
	}

	if claims.IssuedAt == nil {
		return nil, errors.New("iat claim is required")
	}
	if age := s.now().Sub(claims.IssuedAt.Time); age > s.maxAge {
		return nil, fmt.Errorf("token issued %s ago exceeds %s", age.Round(time.Second), s.maxAge)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, errors.New("jti claim is required")
	}
	if claims.Subject == "" || len(claims.Audience) == 0 || claims.Audience[0] == "" {
		return nil, errors.New("sub and aud claims are required")
	}
	return claims, nil
}

func participants(claims *Claims) (uuid.UUID, uuid.UUID, error) {
	initiator, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "sub is not a membership id")
	}
	receiver, err := uuid.Parse(claims.Audience[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "aud is not a membership id")
	}
	if initiator == receiver {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "a membership cannot encounter itself")
	}
	return initiator, receiver, nil
}

func coordinates(claims *Claims) (*types.Coordinates, error) {
	if claims.Lat == nil && claims.Lng == nil {
		return nil, nil
	}
	if claims.Lat == nil || claims.Lng == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lat and lng must be provided together")
	}
	c := types.Coordinates{Lat: *claims.Lat, Lng: *claims.Lng}
	if err := c.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coordinates")
	}
	return &c, nil
}
