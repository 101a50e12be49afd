package auth

import (
	"net/http"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
)

var (
	ErrUsernameTaken   = apperr.New(apperr.KindConflict, "USERNAME_TAKEN", "This username is already taken.")
	ErrEmailTaken      = apperr.New(apperr.KindConflict, "EMAIL_TAKEN", "This email is already registered.")
	ErrEmailUnverified = apperr.New(apperr.KindConflict, "EMAIL_UNVERIFIED", "This email is registered but not yet verified.")
	ErrEmailDelivery   = apperr.New(apperr.KindInternal, "EMAIL_DELIVERY_FAILED", "Registration successful but failed to send verification email. Please contact support.")
	ErrPasswordTooLong = apperr.New(apperr.KindValidation, "VALIDATION_FAILED", "Password must be at most 72 bytes long")
)

var ErrInvalidToken = apperr.New(apperr.KindInvalid, "INVALID_TOKEN", "Invalid or expired verification token. Please try registering again.")

// Login failures answer 400 like any other rejected form submission.
var (
	ErrInvalidCredentials = apperr.New(apperr.KindAuth, "INVALID_CREDENTIALS", "Invalid credentials").WithStatus(http.StatusBadRequest)
	ErrEmailNotVerified   = apperr.New(apperr.KindAuth, "EMAIL_NOT_VERIFIED", "Please verify your email before logging in.").WithStatus(http.StatusBadRequest)
)

var (
	ErrAccountNotFound = apperr.New(apperr.KindNotFound, "ACCOUNT_NOT_FOUND", "No account found with this email address.")
	ErrAlreadyVerified = apperr.New(apperr.KindInvalid, "ALREADY_VERIFIED", "This email is already verified. You can log in.")
	ErrResendCooldown  = apperr.New(apperr.KindRateLimited, "RESEND_COOLDOWN", "You can only resend a verification email every 5 minutes. Please try again later.")
)

// ErrInvalidSession rejects a missing, malformed or expired bearer token.
var ErrInvalidSession = apperr.New(apperr.KindAuth, "INVALID_SESSION", "Invalid or expired token")
