// Package validation checks and normalizes request input before it reaches a service.
package validation

import (
	"regexp"
	"strings"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
)

const (
	// CityMinLength is the shortest sanitized city accepted.
	CityMinLength = 2
	// CityMaxLength bounds the raw query to keep cache keys and upstream URLs small.
	CityMaxLength = 100
)

var cityDisallowed = regexp.MustCompile(`[^a-zA-Z\s,-]`)

var (
	ErrCityRequired = apperr.New(apperr.KindValidation, "INVALID_CITY", `Query parameter "city" is required`)
	ErrCityTooShort = apperr.New(apperr.KindValidation, "INVALID_CITY", "City name must be at least 2 letters")
	ErrCityTooLong  = apperr.New(apperr.KindValidation, "INVALID_CITY", "City name is too long")
)

// SanitizeCity drops every character outside letters, whitespace, comma and hyphen,
// then trims and lower-cases the rest. "New York123!" becomes "new york".
func SanitizeCity(raw string) string {
	return strings.ToLower(strings.TrimSpace(cityDisallowed.ReplaceAllString(raw, "")))
}

// ValidateCity returns the sanitized cache key for raw, or a validation error.
func ValidateCity(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrCityRequired
	}
	if len(trimmed) > CityMaxLength {
		return "", ErrCityTooLong
	}
	city := SanitizeCity(trimmed)
	if len(city) < CityMinLength {
		return "", ErrCityTooShort
	}
	return city, nil
}
