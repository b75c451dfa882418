package memberships

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/types"
)

var (
	// ErrNotFound is returned when no membership or device matches.
	ErrNotFound = errors.New("membership not found")
	// ErrDeviceConflict is returned when a different device is already active.
	ErrDeviceConflict = errors.New("membership already has an active device")
)

// PassSerial builds the externally presented serial for a membership.
func PassSerial(tier string, year int, id uuid.UUID) string {
	return fmt.Sprintf("vyris-%s-%d-%s", tier, year, id)
}

// Repository exposes membership and device persistence.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// conn prefers the caller's transaction.
func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// Create inserts the membership for a freshly claimed allocation. It must run
// in the claim transaction.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, userID string, alloc *models.Allocation) (*models.Membership, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	if alloc == nil {
		return nil, errors.New("allocation is required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	id := uuid.New()
	membership := &models.Membership{
		ID:           id,
		UserID:       userID,
		AllocationID: alloc.ID,
		Tier:         alloc.Tier,
		Year:         alloc.Year,
		SequenceNum:  alloc.SequenceNum,
		PassSerial:   PassSerial(alloc.Tier, alloc.Year, id),
		CreatedAt:    r.now(),
	}
	if err := tx.WithContext(ctx).Create(membership).Error; err != nil {
		return nil, fmt.Errorf("create membership: %w", err)
	}
	return membership, nil
}

// Get loads a membership by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Membership, error) {
	return r.load(r.db.WithContext(ctx), id)
}

// GetWithTx loads a membership through tx when one is given.
func (r *Repository) GetWithTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Membership, error) {
	return r.load(r.conn(ctx, tx), id)
}

// GetForUpdate loads and row-locks a membership inside tx.
func (r *Repository) GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Membership, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	return r.load(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *Repository) load(q *gorm.DB, id uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	if err := q.Where("id = ?", id).Take(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load membership: %w", err)
	}
	return &membership, nil
}

// Revoke marks a membership revoked. It reports whether anything changed.
func (r *Repository) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("id = ? AND revoked = ?", id, false).
		Updates(map[string]any{"revoked": true, "revoked_at": r.now()})
	if res.Error != nil {
		return false, fmt.Errorf("revoke membership: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CountByDrop counts memberships issued for a drop.
func (r *Repository) CountByDrop(ctx context.Context, drop types.Drop) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("tier = ? AND year = ?", drop.Tier, drop.Year).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count memberships: %w", err)
	}
	return n, nil
}

// RegisterDevice binds the first device to a membership. Registering the
// already active device again returns it unchanged; a different active device
// yields ErrDeviceConflict, since moving keys goes through reforge.
func (r *Repository) RegisterDevice(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID, deviceID, publicKey string) (*models.MembershipDevice, error) {
	active, err := r.ActiveDevice(ctx, tx, membershipID)
	switch {
	case err == nil:
		if active.DeviceID == deviceID && active.PublicKey == publicKey {
			return active, nil
		}
		return nil, ErrDeviceConflict
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	device := &models.MembershipDevice{
		MembershipID: membershipID,
		DeviceID:     deviceID,
		PublicKey:    publicKey,
		IsActive:     true,
		RegisteredAt: r.now(),
	}
	if err := r.UpsertActiveDevice(ctx, tx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// ActiveDevice returns the active device of a membership.
func (r *Repository) ActiveDevice(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (*models.MembershipDevice, error) {
	var device models.MembershipDevice
	err := r.conn(ctx, tx).
		Where("membership_id = ? AND is_active = ?", membershipID, true).
		Take(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load active device: %w", err)
	}
	return &device, nil
}

// DeactivateDevice revokes a device. It reports whether the device was active.
func (r *Repository) DeactivateDevice(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID, deviceID string) (bool, error) {
	res := r.conn(ctx, tx).Model(&models.MembershipDevice{}).
		Where("membership_id = ? AND device_id = ? AND is_active = ?", membershipID, deviceID, true).
		Updates(map[string]any{"is_active": false, "revoked_at": r.now()})
	if res.Error != nil {
		return false, fmt.Errorf("deactivate device: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UpsertActiveDevice inserts the device as active, or reactivates it with the
// new key when the pair was registered before.
func (r *Repository) UpsertActiveDevice(ctx context.Context, tx *gorm.DB, device *models.MembershipDevice) error {
	if device == nil || device.MembershipID == uuid.Nil || strings.TrimSpace(device.DeviceID) == "" {
		return errors.New("membership id and device id are required")
	}
	device.IsActive = true
	device.RevokedAt = nil
	if device.RegisteredAt.IsZero() {
		device.RegisteredAt = r.now()
	}
	err := r.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "membership_id"}, {Name: "device_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"public_key":    device.PublicKey,
			"is_active":     true,
			"revoked_at":    nil,
			"registered_at": device.RegisteredAt,
		}),
	}).Create(device).Error
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}
