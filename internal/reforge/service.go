package reforge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/internal/memberships"
	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/enums"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/security"
)

const (
	defaultTTL  = 24 * time.Hour
	confirmPath = "/reforge/confirm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type deviceStore interface {
	GetWithTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Membership, error)
	ActiveDevice(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (*models.MembershipDevice, error)
	DeactivateDevice(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID, deviceID string) (bool, error)
	UpsertActiveDevice(ctx context.Context, tx *gorm.DB, device *models.MembershipDevice) error
}

type requestStore interface {
	Create(ctx context.Context, tx *gorm.DB, req *models.ReforgeRequest) error
	FindPendingForUpdate(ctx context.Context, tx *gorm.DB, tokenHash string) (*models.ReforgeRequest, error)
	Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.ReforgeStatus, at time.Time) (bool, error)
}

// Notifier queues the reforge side effects inside the reforge transaction.
type Notifier interface {
	RequestReforgeConfirmation(ctx context.Context, tx *gorm.DB, req *models.ReforgeRequest, userID, confirmURL string) error
	ReforgeConfirmed(ctx context.Context, tx *gorm.DB, req *models.ReforgeRequest) error
}

// Service moves a membership's signing key to a new device.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	Confirm(ctx context.Context, token string) (*ConfirmResult, error)
}

// InitiateInput describes a requested device move.
type InitiateInput struct {
	MembershipID uuid.UUID
	UserID       string
	OldDeviceID  string
	NewDeviceID  string
	NewPublicKey string
}

// InitiateResult is returned once the confirmation has been queued.
type InitiateResult struct {
	ReforgeID  uuid.UUID `json:"reforge_id"`
	ConfirmURL string    `json:"confirm_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ConfirmResult identifies the device that is now active.
type ConfirmResult struct {
	MembershipID uuid.UUID `json:"membership_id"`
	NewDeviceID  string    `json:"new_device_id"`
}

// ServiceParams wires the reforge flow.
type ServiceParams struct {
	Tx       txRunner
	Devices  deviceStore
	Requests requestStore
	Notifier Notifier
	BaseURL  string
	TTL      time.Duration
	Logger   *logger.Logger
}

type service struct {
	tx       txRunner
	devices  deviceStore
	requests requestStore
	notifier Notifier
	baseURL  string
	ttl      time.Duration
	logg     *logger.Logger
	now      func() time.Time
	token    func() (string, error)
}

// NewService builds the reforge service.
func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Devices == nil {
		return nil, fmt.Errorf("device store required")
	}
	if p.Requests == nil {
		return nil, fmt.Errorf("request store required")
	}
	if p.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	base, err := url.Parse(strings.TrimSpace(p.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("reforge base url %q must be absolute", p.BaseURL)
	}
	if p.TTL <= 0 {
		p.TTL = defaultTTL
	}
	return &service{
		tx:       p.Tx,
		devices:  p.Devices,
		requests: p.Requests,
		notifier: p.Notifier,
		baseURL:  strings.TrimRight(base.String(), "/"),
		ttl:      p.TTL,
		logg:     p.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		token:    func() (string, error) { return security.SecureToken(security.DefaultTokenBytes) },
	}, nil
}

func (s *service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	if err := validateInitiate(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithMembershipID(ctx, input.MembershipID.String())

	var result *InitiateResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		membership, err := s.devices.GetWithTx(ctx, tx, input.MembershipID)
		if errors.Is(err, memberships.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "membership not found for user")
		}
		if err != nil {
			return err
		}
		if membership.UserID != input.UserID || membership.Revoked {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "membership not found for user")
		}

		active, err := s.devices.ActiveDevice(ctx, tx, input.MembershipID)
		if errors.Is(err, memberships.ErrNotFound) || (err == nil && active.DeviceID != input.OldDeviceID) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "old device is not the active device")
		}
		if err != nil {
			return err
		}

		publicKey, err := security.NormalizePublicKeyPEM(input.NewPublicKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "new public key must be a PEM encoded P-256 key").
				WithDetails(map[string]string{"field": "new_public_key"})
		}

		token, err := s.token()
		if err != nil {
			return err
		}
		now := s.now()
		req := &models.ReforgeRequest{
			MembershipID: input.MembershipID,
			OldDeviceID:  input.OldDeviceID,
			NewDeviceID:  input.NewDeviceID,
			NewPublicKey: publicKey,
			TokenHash:    security.HashToken(token),
			Status:       enums.ReforgeStatusPending,
			ExpiresAt:    now.Add(s.ttl),
			CreatedAt:    now,
		}
		if err := s.requests.Create(ctx, tx, req); err != nil {
			return err
		}

		confirmURL := s.confirmURL(token)
		if err := s.notifier.RequestReforgeConfirmation(ctx, tx, req, input.UserID, confirmURL); err != nil {
			return err
		}
		result = &InitiateResult{ReforgeID: req.ID, ConfirmURL: confirmURL, ExpiresAt: req.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, err, "reforge.initiate_failed")
	}

	s.logg.Info(s.logg.WithField(ctx, "reforge_id", result.ReforgeID.String()), "reforge requested")
	return result, nil
}

func (s *service) Confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reforge request not found")
	}

	var (
		result  *ConfirmResult
		expired bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		req, err := s.requests.FindPendingForUpdate(ctx, tx, security.HashToken(token))
		if errors.Is(err, ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "reforge request not found")
		}
		if err != nil {
			return err
		}

		now := s.now()
		if !now.Before(req.ExpiresAt) {
			// committed so the token can never be confirmed later
			expired = true
			_, err := s.requests.Transition(ctx, tx, req.ID, enums.ReforgeStatusExpired, now)
			return err
		}

		deactivated, err := s.devices.DeactivateDevice(ctx, tx, req.MembershipID, req.OldDeviceID)
		if err != nil {
			return err
		}
		if !deactivated {
			return pkgerrors.New(pkgerrors.CodeConflict, "old device is no longer active")
		}
		if err := s.devices.UpsertActiveDevice(ctx, tx, &models.MembershipDevice{
			MembershipID: req.MembershipID,
			DeviceID:     req.NewDeviceID,
			PublicKey:    req.NewPublicKey,
			RegisteredAt: now,
		}); err != nil {
			return err
		}
		if _, err := s.requests.Transition(ctx, tx, req.ID, enums.ReforgeStatusConfirmed, now); err != nil {
			return err
		}
		req.Status = enums.ReforgeStatusConfirmed
		req.ConfirmedAt = &now
		if err := s.notifier.ReforgeConfirmed(ctx, tx, req); err != nil {
			return err
		}

		result = &ConfirmResult{MembershipID: req.MembershipID, NewDeviceID: req.NewDeviceID}
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, err, "reforge.confirm_failed")
	}
	if expired {
		return nil, pkgerrors.New(pkgerrors.CodeExpired, "reforge request expired")
	}

	s.logg.Info(s.logg.WithMembershipID(ctx, result.MembershipID.String()), "reforge confirmed")
	return result, nil
}

func (s *service) confirmURL(token string) string {
	return s.baseURL + confirmPath + "?token=" + url.QueryEscape(token)
}

func (s *service) classify(ctx context.Context, err error, event string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	s.logg.Error(ctx, event, err)
	return pkgerrors.Wrap(pkgerrors.CodeRetryable, err, "reforge could not be completed")
}

func validateInitiate(input InitiateInput) error {
	missing := []string{}
	if input.MembershipID == uuid.Nil {
		missing = append(missing, "membership_id")
	}
	if strings.TrimSpace(input.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(input.OldDeviceID) == "" {
		missing = append(missing, "old_device_id")
	}
	if strings.TrimSpace(input.NewDeviceID) == "" {
		missing = append(missing, "new_device_id")
	}
	if strings.TrimSpace(input.NewPublicKey) == "" {
		missing = append(missing, "new_public_key")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "missing required fields").
			WithDetails(map[string]any{"fields": missing})
	}
	if input.OldDeviceID == input.NewDeviceID {
		return pkgerrors.New(pkgerrors.CodeValidation, "new device must differ from the old device")
	}
	return nil
}
