package controllers

import (
	"net/http"

	"github.com/vyris/vyris-backend/api/responses"
	"github.com/vyris/vyris-backend/api/validators"
	"github.com/vyris/vyris-backend/internal/encounters"
	"github.com/vyris/vyris-backend/pkg/db/models"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
)

type verifyEncounterRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

type verifyEncounterResponse struct {
	Status    string            `json:"status"`
	Encounter *models.Encounter `json:"encounter"`
}

func VerifyEncounter(svc encounters.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "encounter service unavailable"))
			return
		}

		var req verifyEncounterRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		encounter, err := svc.VerifyAndRecord(r.Context(), req.Token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, verifyEncounterResponse{
			Status:    "VERIFIED",
			Encounter: encounter,
		})
	}
}
