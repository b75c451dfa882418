package controllers

import (
	"net/http"

	"github.com/vyris/vyris-backend/api/responses"
	"github.com/vyris/vyris-backend/api/validators"
	"github.com/vyris/vyris-backend/internal/passes"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
)

type issuePassRequest struct {
	MembershipID string `json:"membership_id" validate:"required,uuid"`
	UserID       string `json:"user_id" validate:"required,max=128"`
	DeviceID     string `json:"device_id,omitempty" validate:"omitempty,max=128"`
	PublicKey    string `json:"public_key,omitempty" validate:"required_with=DeviceID"`
}

// IssuePass returns the wallet pass for a membership. When the request names
// a device, it is registered as the membership's first signing device.
func IssuePass(svc passes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pass service unavailable"))
			return
		}

		var req issuePassRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		membershipID, err := validators.ParseUUID(req.MembershipID, "membership_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if req.DeviceID != "" {
			if _, err := svc.RegisterDevice(ctx, passes.DeviceInput{
				MembershipID: membershipID,
				UserID:       req.UserID,
				DeviceID:     req.DeviceID,
				PublicKey:    req.PublicKey,
			}); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		bundle, err := svc.Issue(ctx, membershipID, req.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteBinary(w, bundle.ContentType, bundle.Filename, bundle.Data)
	}
}
