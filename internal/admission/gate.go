package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/types"
)

// counterStore is the subset of pkg/redis the gate relies on.
type counterStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	GetInt64(ctx context.Context, key string) (int64, bool, error)
	DecrIfPositive(ctx context.Context, key string) (bool, error)
	CompareAndSet(ctx context.Context, key string, expected, next int64) (bool, error)
	DropSlotsKey(tier string, year int) string
}

// Gate is the fast pre-check in front of the allocation pool. The counter lives
// in Redis so every API replica shares it.
type Gate struct {
	store counterStore
	logg  *logger.Logger
}

// NewGate binds the gate to its counter store.
func NewGate(store counterStore, logg *logger.Logger) (*Gate, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	return &Gate{store: store, logg: logg}, nil
}

// Init sets the drop counter to capacity when it does not exist yet. It
// reports whether the counter was created.
func (g *Gate) Init(ctx context.Context, drop types.Drop, capacity int64) (bool, error) {
	if capacity < 0 {
		return false, fmt.Errorf("capacity must be non-negative, got %d", capacity)
	}
	created, err := g.store.SetNX(ctx, g.key(drop), capacity, 0)
	if err != nil {
		return false, fmt.Errorf("init gate %s: %w", drop, err)
	}
	if created && g.logg != nil {
		g.logg.Info(g.logg.WithFields(ctx, map[string]any{"drop": drop.String(), "capacity": capacity}), "admission gate initialized")
	}
	return created, nil
}

// TryReserve takes one slot when any remain. An unreachable store is returned
// as an error and must be treated as a denial by callers.
func (g *Gate) TryReserve(ctx context.Context, drop types.Drop) (bool, error) {
	ok, err := g.store.DecrIfPositive(ctx, g.key(drop))
	if err != nil {
		return false, fmt.Errorf("reserve slot %s: %w", drop, err)
	}
	return ok, nil
}

// Release gives a previously reserved slot back.
func (g *Gate) Release(ctx context.Context, drop types.Drop) error {
	if _, err := g.store.Incr(ctx, g.key(drop)); err != nil {
		return fmt.Errorf("release slot %s: %w", drop, err)
	}
	return nil
}

// Remaining reads the counter; a missing counter reads as zero.
func (g *Gate) Remaining(ctx context.Context, drop types.Drop) (int64, error) {
	n, _, err := g.store.GetInt64(ctx, g.key(drop))
	if err != nil {
		return 0, fmt.Errorf("read gate %s: %w", drop, err)
	}
	return n, nil
}

// Resync overwrites the counter with target only while it still holds observed.
func (g *Gate) Resync(ctx context.Context, drop types.Drop, observed, target int64) (bool, error) {
	if target < 0 {
		return false, fmt.Errorf("resync target must be non-negative, got %d", target)
	}
	ok, err := g.store.CompareAndSet(ctx, g.key(drop), observed, target)
	if err != nil {
		return false, fmt.Errorf("resync gate %s: %w", drop, err)
	}
	return ok, nil
}

func (g *Gate) key(drop types.Drop) string {
	return g.store.DropSlotsKey(drop.Tier, drop.Year)
}
