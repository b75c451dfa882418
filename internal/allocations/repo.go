package allocations

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/types"
)

const seedBatchSize = 500

// ErrPoolExhausted is returned by ClaimNext when no unclaimed allocation is left.
var ErrPoolExhausted = errors.New("allocation pool exhausted")

// SeedResult summarizes a Seed call.
type SeedResult struct {
	Existing int64 `json:"existing"`
	Removed  int64 `json:"removed"`
	Inserted int64 `json:"inserted"`
}

// PoolStats counts the allocations of a drop.
type PoolStats struct {
	Total   int64 `json:"total"`
	Claimed int64 `json:"claimed"`
}

// Unclaimed is the number of slots still available in the durable pool.
func (s PoolStats) Unclaimed() int64 { return s.Total - s.Claimed }

// Repository owns the allocations table.
type Repository struct {
	db   *gorm.DB
	intn func(n int) int
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, intn: rand.IntN}
}

// Seed makes sure the drop has capacity allocations. A drop that already has
// capacity rows is left alone. Otherwise unclaimed rows are dropped and the
// missing sequence numbers are inserted with freshly shuffled sort orders.
// Claimed rows keep their sequence number and sort order.
func (r *Repository) Seed(ctx context.Context, drop types.Drop, capacity int) (SeedResult, error) {
	var result SeedResult
	if err := drop.Validate(); err != nil {
		return result, err
	}
	if capacity <= 0 {
		return result, fmt.Errorf("capacity must be positive, got %d", capacity)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := dropScope(tx.Model(&models.Allocation{}), drop).Count(&result.Existing).Error; err != nil {
			return fmt.Errorf("count allocations: %w", err)
		}
		if result.Existing >= int64(capacity) {
			return nil
		}

		del := dropScope(tx, drop).Where("claimed = ?", false).Delete(&models.Allocation{})
		if del.Error != nil {
			return fmt.Errorf("delete unclaimed allocations: %w", del.Error)
		}
		result.Removed = del.RowsAffected

		var claimed []models.Allocation
		if err := dropScope(tx.Select("sequence_num", "sort_order"), drop).
			Where("claimed = ?", true).
			Find(&claimed).Error; err != nil {
			return fmt.Errorf("load claimed allocations: %w", err)
		}

		rows := r.buildRows(drop, capacity, claimed)
		if len(rows) == 0 {
			return nil
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tier"}, {Name: "year"}, {Name: "sequence_num"}},
			DoNothing: true,
		}).CreateInBatches(rows, seedBatchSize)
		if res.Error != nil {
			return fmt.Errorf("insert allocations: %w", res.Error)
		}
		result.Inserted = res.RowsAffected
		return nil
	})
	return result, err
}

// buildRows pairs every sequence number not held by a claimed row with a
// shuffled sort order not held by a claimed row.
func (r *Repository) buildRows(drop types.Drop, capacity int, claimed []models.Allocation) []models.Allocation {
	usedSeq := make(map[int]struct{}, len(claimed))
	usedSort := make(map[int]struct{}, len(claimed))
	for _, a := range claimed {
		usedSeq[a.SequenceNum] = struct{}{}
		usedSort[a.SortOrder] = struct{}{}
	}

	missing := make([]int, 0, capacity)
	for seq := 1; seq <= capacity; seq++ {
		if _, ok := usedSeq[seq]; !ok {
			missing = append(missing, seq)
		}
	}

	orders := make([]int, 0, len(missing))
	for order := 1; len(orders) < len(missing); order++ {
		if _, ok := usedSort[order]; !ok {
			orders = append(orders, order)
		}
	}
	shuffle(orders, r.intn)

	now := time.Now().UTC()
	rows := make([]models.Allocation, len(missing))
	for i, seq := range missing {
		rows[i] = models.Allocation{
			Tier:        drop.Tier,
			Year:        drop.Year,
			SequenceNum: seq,
			SortOrder:   orders[i],
			CreatedAt:   now,
		}
	}
	return rows
}

// shuffle is an in-place Fisher-Yates shuffle.
func shuffle(values []int, intn func(int) int) {
	for i := len(values) - 1; i > 0; i-- {
		j := intn(i + 1)
		values[i], values[j] = values[j], values[i]
	}
}

// ClaimNext claims the unclaimed allocation with the lowest sort order inside
// tx. Rows locked by concurrent claimants are skipped rather than waited on.
func (r *Repository) ClaimNext(ctx context.Context, tx *gorm.DB, drop types.Drop, claimant string) (*models.Allocation, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	var alloc models.Allocation
	err := dropScope(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}), drop).
		Where("claimed = ?", false).
		Order("sort_order").
		Limit(1).
		Take(&alloc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPoolExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("select allocation: %w", err)
	}

	now := time.Now().UTC()
	res := tx.WithContext(ctx).Model(&models.Allocation{}).
		Where("id = ? AND claimed = ?", alloc.ID, false).
		Updates(map[string]any{"claimed": true, "claimed_by": claimant, "claimed_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("claim allocation: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, fmt.Errorf("claim allocation %s: row changed underneath", alloc.ID)
	}

	alloc.Claimed = true
	alloc.ClaimedBy = &claimant
	alloc.ClaimedAt = &now
	return &alloc, nil
}

// Unseed removes the unclaimed allocations of a drop.
func (r *Repository) Unseed(ctx context.Context, drop types.Drop) (int64, error) {
	res := dropScope(r.db.WithContext(ctx), drop).Where("claimed = ?", false).Delete(&models.Allocation{})
	if res.Error != nil {
		return 0, fmt.Errorf("unseed %s: %w", drop, res.Error)
	}
	return res.RowsAffected, nil
}

// Stats counts total and claimed allocations of a drop.
func (r *Repository) Stats(ctx context.Context, drop types.Drop) (PoolStats, error) {
	var stats PoolStats
	base := dropScope(r.db.WithContext(ctx).Model(&models.Allocation{}), drop)
	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return stats, fmt.Errorf("count allocations: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("claimed = ?", true).Count(&stats.Claimed).Error; err != nil {
		return stats, fmt.Errorf("count claimed allocations: %w", err)
	}
	return stats, nil
}

func dropScope(q *gorm.DB, drop types.Drop) *gorm.DB {
	return q.Where("tier = ? AND year = ?", drop.Tier, drop.Year)
}
