package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-reporter/internal/models"
)

// MemoryStore keeps users in process memory. Used for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.User
	now   func() time.Time
}

// NewMemoryStore returns an empty store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{users: make(map[string]models.User), now: now}
}

func (s *MemoryStore) Create(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	u.ID = uuid.New().String()
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = clone(*u)
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.find(func(u models.User) bool { return u.ID == id })
}

func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.find(func(u models.User) bool { return u.Username == username })
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = NormalizeEmail(email)
	return s.find(func(u models.User) bool { return u.Email == email })
}

func (s *MemoryStore) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	email := NormalizeEmail(identifier)
	return s.find(func(u models.User) bool { return u.Email == email || u.Username == identifier })
}

func (s *MemoryStore) FindByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.find(func(u models.User) bool { return u.VerificationToken == token })
}

func (s *MemoryStore) MarkVerified(ctx context.Context, id string) error {
	return s.modify(id, func(u *models.User) {
		u.IsVerified = true
		u.VerificationToken = ""
		u.NextVerificationResendAt = nil
	})
}

func (s *MemoryStore) RotateVerificationToken(ctx context.Context, id, token string, nextResendAt time.Time) error {
	return s.modify(id, func(u *models.User) {
		u.VerificationToken = token
		u.NextVerificationResendAt = &nextResendAt
	})
}

func (s *MemoryStore) UpdateLocation(ctx context.Context, id string, loc models.Location) error {
	return s.modify(id, func(u *models.User) { u.Location = &loc })
}

// modify applies fn to the stored user under the write lock.
func (s *MemoryStore) modify(id string, fn func(u *models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = s.now().UTC()
	s.users[id] = clone(u)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error  { return nil }
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

func (s *MemoryStore) find(match func(models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			c := clone(u)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// clone copies the pointer fields so callers never share state with the map.
func clone(u models.User) models.User {
	if u.Location != nil {
		loc := *u.Location
		u.Location = &loc
	}
	if u.NextVerificationResendAt != nil {
		t := *u.NextVerificationResendAt
		u.NextVerificationResendAt = &t
	}
	return u
}
