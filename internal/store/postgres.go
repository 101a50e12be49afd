package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kjstillabower/weather-reporter/internal/models"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_verified BOOLEAN NOT NULL DEFAULT false,
	verification_token TEXT,
	next_verification_resend_at TIMESTAMPTZ,
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	last_location_update TIMESTAMPTZ,
	geohash TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS users_verification_token_idx ON users (verification_token);
`

const selectUser = `SELECT id, username, email, password_hash, is_verified, verification_token,
	next_verification_resend_at, latitude, longitude, last_location_update, geohash,
	created_at, updated_at FROM users `

// PostgresStore keeps users in a PostgreSQL table through the pgx database/sql driver.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore opens dsn, pings it and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) Create(ctx context.Context, u *models.User) error {
	u.Email = NormalizeEmail(u.Email)
	u.ID = uuid.New().String()
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	lat, lng, at, gh := locationColumns(u.Location)
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, email, password_hash, is_verified,
		verification_token, next_verification_resend_at, latitude, longitude, last_location_update,
		geohash, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.IsVerified, nullString(u.VerificationToken),
		u.NextVerificationResendAt, lat, lng, at, gh, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		u.ID = ""
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.queryOne(ctx, "WHERE id = $1", id)
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.queryOne(ctx, "WHERE username = $1", username)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.queryOne(ctx, "WHERE email = $1", NormalizeEmail(email))
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	return s.queryOne(ctx, "WHERE email = $1 OR username = $2 LIMIT 1", NormalizeEmail(identifier), identifier)
}

func (s *PostgresStore) FindByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.queryOne(ctx, "WHERE verification_token = $1", token)
}

func (s *PostgresStore) MarkVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_verified=true, verification_token=NULL,
		next_verification_resend_at=NULL, updated_at=$2 WHERE id=$1`, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) RotateVerificationToken(ctx context.Context, id, token string, nextResendAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET verification_token=$2,
		next_verification_resend_at=$3, updated_at=$4 WHERE id=$1`,
		id, nullString(token), nextResendAt.UTC(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("rotate verification token: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) UpdateLocation(ctx context.Context, id string, loc models.Location) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET latitude=$2, longitude=$3,
		last_location_update=$4, geohash=$5, updated_at=$6 WHERE id=$1`,
		id, loc.Latitude, loc.Longitude, loc.LastLocationUpdate, nullString(loc.Geohash), s.now().UTC())
	if err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *PostgresStore) queryOne(ctx context.Context, where string, args ...any) (*models.User, error) {
	var (
		u               models.User
		token, gh       sql.NullString
		resendAt, locAt sql.NullTime
		lat, lng        sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, selectUser+where, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsVerified, &token,
		&resendAt, &lat, &lng, &locAt, &gh, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.VerificationToken = token.String
	if resendAt.Valid {
		t := resendAt.Time
		u.NextVerificationResendAt = &t
	}
	if lat.Valid && lng.Valid {
		u.Location = &models.Location{
			Latitude:           lat.Float64,
			Longitude:          lng.Float64,
			LastLocationUpdate: locAt.Time,
			Geohash:            gh.String,
		}
	}
	return &u, nil
}

func locationColumns(loc *models.Location) (lat, lng sql.NullFloat64, at sql.NullTime, gh sql.NullString) {
	if loc == nil {
		return
	}
	return sql.NullFloat64{Float64: loc.Latitude, Valid: true},
		sql.NullFloat64{Float64: loc.Longitude, Valid: true},
		sql.NullTime{Time: loc.LastLocationUpdate, Valid: true},
		nullString(loc.Geohash)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
