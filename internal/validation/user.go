package validation

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	upperPattern    = regexp.MustCompile(`[A-Z]`)
	lowerPattern    = regexp.MustCompile(`[a-z]`)
	digitPattern    = regexp.MustCompile(`\d`)
	specialPattern  = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// PasswordMaxBytes is the longest password bcrypt will hash.
const PasswordMaxBytes = 72

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	mustRegister(v, "username_chars", usernamePattern)
	mustRegister(v, "email_format", emailPattern)
	mustRegister(v, "has_upper", upperPattern)
	mustRegister(v, "has_lower", lowerPattern)
	mustRegister(v, "has_digit", digitPattern)
	mustRegister(v, "has_special", specialPattern)
	err := v.RegisterValidation("bcrypt_len", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= PasswordMaxBytes
	})
	if err != nil {
		panic(err)
	}
	return v
}

func mustRegister(v *validator.Validate, tag string, re *regexp.Regexp) {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
}

// Registration is the POST /api/auth/register body.
type Registration struct {
	Username string `json:"username" validate:"required,min=3,max=20,username_chars"`
	Email    string `json:"email" validate:"required,email_format"`
	Password string `json:"password" validate:"required,min=8,bcrypt_len,has_upper,has_lower,has_digit,has_special"`
}

// Login is the POST /api/auth/login body. Email may hold a username.
type Login struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// EmailRequest is the POST /api/auth/resend-verification body.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email_format"`
}

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

var ErrValidation = apperr.New(apperr.KindValidation, "VALIDATION_FAILED", "Invalid request")

var registrationMessages = map[string]string{
	"Username.min":            "Username must be between 3 and 20 characters long",
	"Username.max":            "Username must be between 3 and 20 characters long",
	"Username.username_chars": "Username can only contain letters, numbers, and underscores",
	"Email.email_format":      "Invalid email format",
	"Password.min":            "Password must be at least 8 characters long",
	"Password.bcrypt_len":     "Password must be at most 72 bytes long",
	"Password.has_upper":      "Password must contain at least one uppercase letter",
	"Password.has_lower":      "Password must contain at least one lowercase letter",
	"Password.has_digit":      "Password must contain at least one number",
	"Password.has_special":    "Password must contain at least one special character",
}

// ValidateRegistration trims username and email and checks every field rule.
func ValidateRegistration(r Registration) (Registration, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	if err := validate.Struct(r); err != nil {
		return r, translate(err, "Username, email, and password are required", registrationMessages)
	}
	return r, nil
}

// ValidateLogin checks that both credentials are present.
func ValidateLogin(l Login) (Login, error) {
	l.Email = strings.TrimSpace(l.Email)
	if err := validate.Struct(l); err != nil {
		return l, translate(err, "Email/Username and password are required", nil)
	}
	return l, nil
}

// ValidateEmail checks a resend-verification request.
func ValidateEmail(e EmailRequest) (EmailRequest, error) {
	e.Email = strings.TrimSpace(e.Email)
	if err := validate.Struct(e); err != nil {
		return e, translate(err, "Email is required", map[string]string{
			"Email.email_format": "Invalid email format",
		})
	}
	return e, nil
}

// ValidateCoordinates rejects NaN and out-of-range degrees.
func ValidateCoordinates(c Coordinates) error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return ErrValidation.WithMessage("latitude and longitude must be numbers")
	}
	if err := validate.Struct(c); err != nil {
		return translate(err, "latitude and longitude are required", map[string]string{
			"Latitude.gte":  "latitude must be between -90 and 90",
			"Latitude.lte":  "latitude must be between -90 and 90",
			"Longitude.gte": "longitude must be between -180 and 180",
			"Longitude.lte": "longitude must be between -180 and 180",
		})
	}
	return nil
}

// ValidateVerificationToken rejects a missing token.
func ValidateVerificationToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrValidation.WithMessage("Invalid verification token")
	}
	return token, nil
}

// translate maps the first failing rule to a client message. A missing required field
// anywhere wins over every other rule.
func translate(err error, requiredMsg string, messages map[string]string) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return ErrValidation.Wrap(err)
	}
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			return ErrValidation.WithMessage(requiredMsg)
		}
	}
	fe := fieldErrs[0]
	if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
		return ErrValidation.WithMessage(msg)
	}
	return ErrValidation.WithMessage(fe.Error())
}
