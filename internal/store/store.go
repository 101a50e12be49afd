// Package store persists user accounts.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/models"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("user already exists")
)

// UserStore is implemented by every backend. Finders return ErrNotFound on a miss;
// Create returns ErrDuplicate when a unique username or email already exists.
// Returned users are copies. Writes after Create touch only the fields they name, so
// concurrent flows on one account never roll back each other's changes.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// FindByIdentifier matches the case-folded email or the exact username.
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	FindByVerificationToken(ctx context.Context, token string) (*models.User, error)
	// MarkVerified sets the verified flag and clears the token and resend cooldown.
	MarkVerified(ctx context.Context, id string) error
	// RotateVerificationToken stores a new token and the earliest time of the next resend.
	RotateVerificationToken(ctx context.Context, id, token string, nextResendAt time.Time) error
	UpdateLocation(ctx context.Context, id string, loc models.Location) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NormalizeEmail is the stored form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
