package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vyris/vyris-backend/api/responses"
	"github.com/vyris/vyris-backend/api/validators"
	"github.com/vyris/vyris-backend/internal/reforge"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
)

type reforgeInitRequest struct {
	MembershipID string `json:"membership_id" validate:"required,uuid"`
	UserID       string `json:"user_id" validate:"required,max=128"`
	OldDeviceID  string `json:"old_device_id" validate:"required,max=128"`
	NewDeviceID  string `json:"new_device_id" validate:"required,max=128"`
	NewPublicKey string `json:"new_public_key" validate:"required"`
}

type reforgeInitResponse struct {
	Status     string    `json:"status"`
	ReforgeID  uuid.UUID `json:"reforge_id"`
	ConfirmURL string    `json:"confirm_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type reforgeConfirmRequest struct {
	Token string `json:"token" validate:"required,max=256"`
}

type reforgeConfirmResponse struct {
	Status       string    `json:"status"`
	MembershipID uuid.UUID `json:"membership_id"`
	NewDeviceID  string    `json:"new_device_id"`
}

// ReforgeInit starts moving a membership to a new device.
func ReforgeInit(svc reforge.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reforge service unavailable"))
			return
		}

		var req reforgeInitRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		membershipID, err := validators.ParseUUID(req.MembershipID, "membership_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Initiate(r.Context(), reforge.InitiateInput{
			MembershipID: membershipID,
			UserID:       req.UserID,
			OldDeviceID:  req.OldDeviceID,
			NewDeviceID:  req.NewDeviceID,
			NewPublicKey: req.NewPublicKey,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, reforgeInitResponse{
			Status:     "PENDING",
			ReforgeID:  result.ReforgeID,
			ConfirmURL: result.ConfirmURL,
			ExpiresAt:  result.ExpiresAt,
		})
	}
}

// ReforgeConfirm completes a device move with the emailed token.
func ReforgeConfirm(svc reforge.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reforge service unavailable"))
			return
		}

		var req reforgeConfirmRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Confirm(r.Context(), req.Token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reforgeConfirmResponse{
			Status:       "CONFIRMED",
			MembershipID: result.MembershipID,
			NewDeviceID:  result.NewDeviceID,
		})
	}
}
