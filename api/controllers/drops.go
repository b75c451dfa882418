package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vyris/vyris-backend/api/responses"
	"github.com/vyris/vyris-backend/api/validators"
	"github.com/vyris/vyris-backend/internal/allocations"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/types"
)

type DropGate interface {
	Remaining(ctx context.Context, drop types.Drop) (int64, error)
}

type DropPool interface {
	Stats(ctx context.Context, drop types.Drop) (allocations.PoolStats, error)
}

type dropStatusResponse struct {
	Tier      string `json:"tier"`
	Year      int    `json:"year"`
	Capacity  int64  `json:"capacity"`
	Claimed   int64  `json:"claimed"`
	Remaining int64  `json:"remaining"`
	SoldOut   bool   `json:"sold_out"`
}

// DropStatus reports the pool and gate view of one drop. Remaining is the
// gate's value, which is what the next mint will see.
func DropStatus(gate DropGate, pool DropPool, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gate == nil || pool == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "drop status unavailable"))
			return
		}

		year, err := validators.ParseIntParam(chi.URLParam(r, "year"), "year", 2000, 9999)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		drop, err := types.NewDrop(chi.URLParam(r, "tier"), year)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid drop"))
			return
		}

		stats, err := pool.Stats(r.Context(), drop)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if stats.Total == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "drop not seeded"))
			return
		}
		remaining, err := gate.Remaining(r.Context(), drop)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dropStatusResponse{
			Tier:      drop.Tier,
			Year:      drop.Year,
			Capacity:  stats.Total,
			Claimed:   stats.Claimed,
			Remaining: remaining,
			SoldOut:   remaining <= 0,
		})
	}
}
