package validation

import (
	"math"

	"service-dispatch/internal/shared/apperrors"
)

// ValidateCoordinates validates latitude and longitude values
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return apperrors.Validation("lat", "must be between -90 and 90")
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return apperrors.Validation("lng", "must be between -180 and 180")
	}
	return nil
}

// RequireCoordinates rejects samples where either coordinate was omitted.
func RequireCoordinates(lat, lng *float64) error {
	if lat == nil {
		return apperrors.Validation("lat", "is required")
	}
	if lng == nil {
		return apperrors.Validation("lng", "is required")
	}
	return ValidateCoordinates(*lat, *lng)
}

// ValidateStringNotEmpty validates that a string is not empty
func ValidateStringNotEmpty(value, fieldName string) error {
	if value == "" {
		return apperrors.Validation(fieldName, "cannot be empty")
	}
	return nil
}

// ValidateLimit clamps list sizes to 1..100, defaulting to 50.
func ValidateLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		return 50, nil
	case limit < 0:
		return 0, apperrors.Validation("limit", "must be positive")
	case limit > 100:
		return 0, apperrors.Validation("limit", "must be <= 100")
	}
	return limit, nil
}
