package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/enums"
)

const maxErrorDetail = 512

// ErrNotFound is returned when no ledger entry matches.
var ErrNotFound = errors.New("receipt ledger entry not found")

// Hash returns the ledger key for raw receipt bytes.
func Hash(receipt []byte) string {
	sum := sha256.Sum256(receipt)
	return hex.EncodeToString(sum[:])
}

// Repository persists receipt ledger entries.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// UpsertPending records a PENDING entry for the receipt unless one already
// exists, in which case the stored entry is returned with isNew=false.
func (r *Repository) UpsertPending(ctx context.Context, receipt []byte, userID string, originalTxID *string) (*models.ReceiptLedgerEntry, bool, error) {
	if len(receipt) == 0 {
		return nil, false, errors.New("receipt is required")
	}
	now := r.now()
	entry := &models.ReceiptLedgerEntry{
		ReceiptHash:  Hash(receipt),
		UserID:       userID,
		OriginalTxID: normalizeTxID(originalTxID),
		Status:       enums.ReceiptStatusPending,
		Attempts:     1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "receipt_hash"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert ledger entry: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return entry, true, nil
	}

	existing, err := r.GetByHash(ctx, entry.ReceiptHash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Reopen moves an entry back to PENDING for a new attempt. FAILED entries
// qualify, as do PENDING entries untouched since staleBefore, which belong to
// an attempt that died before finishing. Only one concurrent caller can win;
// the rest get false.
func (r *Repository) Reopen(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ReceiptLedgerEntry{}).
		Where("id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			id, enums.ReceiptStatusFailed, enums.ReceiptStatusPending, staleBefore.UTC()).
		Updates(map[string]any{
			"status":       enums.ReceiptStatusPending,
			"error_detail": nil,
			"attempts":     gorm.Expr("attempts + 1"),
			"updated_at":   r.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("reopen ledger entry: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkFulfilled links the entry to its membership inside the mint transaction.
// It only transitions PENDING entries.
func (r *Repository) MarkFulfilled(ctx context.Context, tx *gorm.DB, id, membershipID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction is required")
	}
	res := tx.WithContext(ctx).Model(&models.ReceiptLedgerEntry{}).
		Where("id = ? AND status = ?", id, enums.ReceiptStatusPending).
		Updates(map[string]any{
			"status":        enums.ReceiptStatusFulfilled,
			"membership_id": membershipID,
			"error_detail":  nil,
			"updated_at":    r.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark ledger entry fulfilled: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed records a failed attempt. A FULFILLED entry is never downgraded,
// so an ambiguous commit cannot reopen a receipt that already minted.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	reason = truncate(reason, maxErrorDetail)
	res := r.db.WithContext(ctx).Model(&models.ReceiptLedgerEntry{}).
		Where("id = ? AND status <> ?", id, enums.ReceiptStatusFulfilled).
		Updates(map[string]any{
			"status":       enums.ReceiptStatusFailed,
			"error_detail": reason,
			"updated_at":   r.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("mark ledger entry failed: %w", res.Error)
	}
	return nil
}

// Get loads an entry by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.ReceiptLedgerEntry, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// GetByHash loads an entry by receipt hash.
func (r *Repository) GetByHash(ctx context.Context, hash string) (*models.ReceiptLedgerEntry, error) {
	return r.first(r.db.WithContext(ctx).Where("receipt_hash = ?", hash))
}

// ListStalePending returns PENDING entries untouched since before cutoff,
// oldest first.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.ReceiptLedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []models.ReceiptLedgerEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.ReceiptStatusPending, cutoff.UTC()).
		Order("updated_at").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list stale pending entries: %w", err)
	}
	return entries, nil
}

// CountPendingSince counts PENDING entries touched at or after since, i.e.
// mints that may still be in flight.
func (r *Repository) CountPendingSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ReceiptLedgerEntry{}).
		Where("status = ? AND updated_at >= ?", enums.ReceiptStatusPending, since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

func (r *Repository) first(q *gorm.DB) (*models.ReceiptLedgerEntry, error) {
	var entry models.ReceiptLedgerEntry
	if err := q.Take(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}
	return &entry, nil
}

func normalizeTxID(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// truncate caps s at max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
