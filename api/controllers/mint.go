package controllers

import (
	"net/http"

	"github.com/vyris/vyris-backend/api/responses"
	"github.com/vyris/vyris-backend/api/validators"
	"github.com/vyris/vyris-backend/internal/memberships"
	"github.com/vyris/vyris-backend/internal/mint"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
)

type mintRequest struct {
	ReceiptData           string  `json:"receipt_data" validate:"required"`
	UserID                string  `json:"user_id" validate:"required,max=128"`
	OriginalTransactionID *string `json:"original_transaction_id,omitempty" validate:"omitempty,max=128"`
}

type mintResponse struct {
	Status     string                     `json:"status"`
	Membership *memberships.MembershipDTO `json:"membership"`
}

// Mint turns a purchase receipt into a membership. A replay of a fulfilled
// receipt answers 200 with the original membership.
func Mint(svc mint.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "mint service unavailable"))
			return
		}

		var req mintRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithUserID(r.Context(), req.UserID)
		result, err := svc.Mint(ctx, mint.Input{
			ReceiptData:  []byte(req.ReceiptData),
			UserID:       req.UserID,
			OriginalTxID: req.OriginalTransactionID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, mintResponse{
			Status:     "FULFILLED",
			Membership: memberships.FromModel(result.Membership),
		})
	}
}
