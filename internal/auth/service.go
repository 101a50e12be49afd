// Package auth implements registration, email verification, login and bearer sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/mailer"
	"github.com/kjstillabower/weather-reporter/internal/models"
	"github.com/kjstillabower/weather-reporter/internal/observability"
	"github.com/kjstillabower/weather-reporter/internal/store"
)

// Client-facing success messages.
const (
	MsgRegistered      = "User registered. Please check your email to verify your account."
	MsgVerified        = "Email verified successfully! You can now log in."
	MsgAlreadyVerified = "Your email has already been verified. You can now log in."
	MsgResent          = "Verification email has been resent. Please check your inbox."
	MsgLoggedIn        = "Login successful"
)

// Config holds the identity settings.
type Config struct {
	FrontendURL    string
	ResendCooldown time.Duration
	BcryptCost     int
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	Token string
	User  models.Summary
}

// Service runs the account flows against a user store.
type Service struct {
	users  store.UserStore
	sender mailer.Sender
	tokens *TokenIssuer
	cfg    Config
	now    func() time.Time
}

// NewService returns a Service. now defaults to time.Now.
func NewService(users store.UserStore, sender mailer.Sender, tokens *TokenIssuer, cfg Config, now func() time.Time) *Service {
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = 5 * time.Minute
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	if now == nil {
		now = time.Now
	}
	return &Service{users: users, sender: sender, tokens: tokens, cfg: cfg, now: now}
}

// Register creates an unverified account and emails its verification link.
// If delivery fails the account stays persisted and ErrEmailDelivery is returned.
func (s *Service) Register(ctx context.Context, username, email, password string) error {
	err := s.register(ctx, username, email, password)
	record("register", err)
	return err
}

func (s *Service) register(ctx context.Context, username, email, password string) error {
	if err := s.conflict(ctx, username, email); err != nil {
		return err
	}

	hash, err := hashPassword(password, s.cfg.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return ErrPasswordTooLong.Wrap(err)
	}
	if err != nil {
		return apperr.ErrInternal.Wrap(err)
	}
	token, err := newVerificationToken()
	if err != nil {
		return apperr.ErrInternal.Wrap(err)
	}

	u := &models.User{
		Username:          username,
		Email:             store.NormalizeEmail(email),
		PasswordHash:      hash,
		VerificationToken: token,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent registration.
			if cerr := s.conflict(ctx, username, email); cerr != nil {
				return cerr
			}
			return ErrUsernameTaken.Wrap(err)
		}
		return apperr.ErrInternal.Wrap(err)
	}

	observability.LoggerFrom(ctx).Info("user registered", zap.String("user_id", u.ID))
	if err := s.sendVerification(ctx, u); err != nil {
		return ErrEmailDelivery.Wrap(err)
	}
	return nil
}

// conflict reports whether username or email is already in use. Username is checked first.
func (s *Service) conflict(ctx context.Context, username, email string) error {
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return apperr.ErrInternal.Wrap(err)
	}

	existing, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil && existing.IsVerified:
		return ErrEmailTaken
	case err == nil:
		return ErrEmailUnverified
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return apperr.ErrInternal.Wrap(err)
	}
}

// VerifyEmail consumes a verification token and returns the message to show.
func (s *Service) VerifyEmail(ctx context.Context, token string) (string, error) {
	msg, err := s.verifyEmail(ctx, token)
	record("verify", err)
	return msg, err
}

func (s *Service) verifyEmail(ctx context.Context, token string) (string, error) {
	u, err := s.users.FindByVerificationToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", apperr.ErrInternal.Wrap(err)
	}
	if u.IsVerified {
		return MsgAlreadyVerified, nil
	}

	if err := s.users.MarkVerified(ctx, u.ID); err != nil {
		return "", apperr.ErrInternal.Wrap(err)
	}
	observability.LoggerFrom(ctx).Info("email verified", zap.String("user_id", u.ID))
	return MsgVerified, nil
}

// Login authenticates identifier (an email or a username) and password.
// Unknown identifiers and wrong passwords are indistinguishable to the caller. An unverified
// account is rejected with ErrEmailNotVerified before its password is compared.
func (s *Service) Login(ctx context.Context, identifier, password string) (LoginResult, error) {
	res, err := s.login(ctx, identifier, password)
	record("login", err)
	return res, err
}

func (s *Service) login(ctx context.Context, identifier, password string) (LoginResult, error) {
	u, err := s.users.FindByIdentifier(ctx, strings.TrimSpace(identifier))
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, apperr.ErrInternal.Wrap(err)
	}
	if !u.IsVerified {
		return LoginResult{}, ErrEmailNotVerified
	}
	if !checkPassword(u.PasswordHash, password) {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(u.ID, u.Username)
	if err != nil {
		return LoginResult{}, apperr.ErrInternal.Wrap(err)
	}
	return LoginResult{Token: token, User: u.Summary()}, nil
}

// ResendVerification rotates the token of an unverified account and emails a new link,
// at most once per cooldown window. The first resend after registration is always allowed.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	err := s.resendVerification(ctx, email)
	record("resend", err)
	return err
}

func (s *Service) resendVerification(ctx context.Context, email string) error {
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return apperr.ErrInternal.Wrap(err)
	}
	if u.IsVerified {
		return ErrAlreadyVerified
	}

	now := s.now()
	if u.NextVerificationResendAt != nil && now.Before(*u.NextVerificationResendAt) {
		return ErrResendCooldown.WithRetryAfter(u.NextVerificationResendAt.Sub(now))
	}

	token, err := newVerificationToken()
	if err != nil {
		return apperr.ErrInternal.Wrap(err)
	}
	next := now.Add(s.cfg.ResendCooldown)
	if err := s.users.RotateVerificationToken(ctx, u.ID, token, next); err != nil {
		return apperr.ErrInternal.Wrap(err)
	}
	u.VerificationToken = token

	if err := s.sendVerification(ctx, u); err != nil {
		return ErrEmailDelivery.WithMessage("Failed to resend verification email. Please try again later.").Wrap(err)
	}
	return nil
}

// ParseToken verifies a bearer token and returns its claims.
func (s *Service) ParseToken(raw string) (*Claims, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, ErrInvalidSession.Wrap(err)
	}
	return claims, nil
}

// VerificationLink builds the link mailed to the user.
func (s *Service) VerificationLink(token string) string {
	return fmt.Sprintf("%s/verify?token=%s", strings.TrimRight(s.cfg.FrontendURL, "/"), url.QueryEscape(token))
}

func (s *Service) sendVerification(ctx context.Context, u *models.User) error {
	if err := s.sender.SendVerification(ctx, u.Email, u.Username, s.VerificationLink(u.VerificationToken)); err != nil {
		observability.LoggerFrom(ctx).Error("verification email failed",
			zap.String("user_id", u.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func record(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if appErr, ok := apperr.As(err); ok {
			result = strings.ToLower(appErr.Code)
		}
	}
	observability.RecordAuthEvent(operation, result)
}
