package validators

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
)

// ParseIntParam parses a numeric path or query value within [min, max].
func ParseIntParam(raw, field string, min, max int) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "parameter must be numeric").WithDetails(map[string]any{"field": field})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "parameter out of range").WithDetails(map[string]any{"field": field, "min": min, "max": max})
	}
	return value, nil
}

// ParseUUID parses an identifier that has already passed the uuid tag.
func ParseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid identifier").WithDetails(map[string]any{"field": field})
	}
	return id, nil
}
