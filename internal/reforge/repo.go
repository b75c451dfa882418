package reforge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/enums"
)

// ErrNotFound is returned when no PENDING request matches a token.
var ErrNotFound = errors.New("reforge request not found")

// Repository persists reforge requests.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new request inside tx.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, req *models.ReforgeRequest) error {
	if err := tx.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("create reforge request: %w", err)
	}
	return nil
}

// FindPendingForUpdate locks the PENDING request with the given token digest.
func (r *Repository) FindPendingForUpdate(ctx context.Context, tx *gorm.DB, tokenHash string) (*models.ReforgeRequest, error) {
	var req models.ReforgeRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_hash = ? AND status = ?", tokenHash, enums.ReforgeStatusPending).
		Take(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load reforge request: %w", err)
	}
	return &req, nil
}

// Transition moves a PENDING request to a terminal status. It reports
// whether the request was still PENDING.
func (r *Repository) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.ReforgeStatus, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %s is not terminal", status)
	}
	updates := map[string]any{"status": status}
	if status == enums.ReforgeStatusConfirmed {
		updates["confirmed_at"] = at
	}
	res := tx.WithContext(ctx).Model(&models.ReforgeRequest{}).
		Where("id = ? AND status = ?", id, enums.ReforgeStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update reforge request: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ExpireOverdue marks every PENDING request past its deadline as EXPIRED.
func (r *Repository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ReforgeRequest{}).
		Where("status = ? AND expires_at <= ?", enums.ReforgeStatusPending, now.UTC()).
		Update("status", enums.ReforgeStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("expire reforge requests: %w", res.Error)
	}
	return res.RowsAffected, nil
}
