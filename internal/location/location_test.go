package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/models"
)

type fakeProfiles struct {
	mu       sync.Mutex
	loc      *models.Location
	updates  int
	reads    int
	now      time.Time
	readErr  error
	writeErr error
}

func (f *fakeProfiles) Profile(ctx context.Context) (models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return models.Profile{}, f.readErr
	}
	p := models.Profile{ID: "u1", Username: "alice"}
	if f.loc != nil {
		loc := *f.loc
		p.Location = &loc
	}
	return p, nil
}

func (f *fakeProfiles) UpdateLocation(ctx context.Context, lat, lng float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.updates++
	f.loc = &models.Location{Latitude: lat, Longitude: lng, LastLocationUpdate: f.now}
	return nil
}

type fakeGeo struct {
	fix Fix
	err error
}

func (g fakeGeo) CurrentPosition(ctx context.Context) (Fix, error) { return g.fix, g.err }

type fakePlaces struct {
	calls int
	err   error
}

func (p *fakePlaces) Reverse(ctx context.Context, lat, lng float64) (models.Place, error) {
	p.calls++
	if p.err != nil {
		return models.Place{}, p.err
	}
	return models.Place{DisplayName: "Portland, Oregon", City: "Portland", Latitude: lat, Longitude: lng}, nil
}

var (
	savedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pushAt  = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
)

func savedLoc() *models.Location {
	return &models.Location{Latitude: 45.0, Longitude: -122.0, LastLocationUpdate: savedAt}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name        string
		saved       *models.Location
		opts        []Option
		wantState   State
		wantUpdates int
		wantAt      time.Time
		wantLat     float64
	}{
		{
			name:      "no saved, no geolocator",
			wantState: Absent,
		},
		{
			name:      "saved, no consent",
			saved:     savedLoc(),
			opts:      []Option{WithGeolocator(fakeGeo{fix: Fix{10, 10}}, false)},
			wantState: Saved,
			wantAt:    savedAt,
			wantLat:   45.0,
		},
		{
			name:      "geolocation fails with saved",
			saved:     savedLoc(),
			opts:      []Option{WithGeolocator(fakeGeo{err: errors.New("denied")}, true)},
			wantState: Saved,
			wantAt:    savedAt,
			wantLat:   45.0,
		},
		{
			name:      "geolocation fails without saved",
			opts:      []Option{WithGeolocator(fakeGeo{err: errors.New("denied")}, true)},
			wantState: Absent,
		},
		{
			name:      "fix within tolerance keeps saved timestamp",
			saved:     savedLoc(),
			opts:      []Option{WithGeolocator(fakeGeo{fix: Fix{45.000001, -122.000001}}, true)},
			wantState: Live,
			wantAt:    savedAt,
			wantLat:   45.0,
		},
		{
			name:        "moved fix is pushed",
			saved:       savedLoc(),
			opts:        []Option{WithGeolocator(fakeGeo{fix: Fix{45.5, -122.6}}, true)},
			wantState:   Live,
			wantUpdates: 1,
			wantAt:      pushAt,
			wantLat:     45.5,
		},
		{
			name:        "first fix with nothing saved",
			opts:        []Option{WithGeolocator(fakeGeo{fix: Fix{45.5, -122.6}}, true)},
			wantState:   Live,
			wantUpdates: 1,
			wantAt:      pushAt,
			wantLat:     45.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles := &fakeProfiles{loc: tt.saved, now: pushAt}
			st, err := NewReconciler(profiles, tt.opts...).Reconcile(context.Background())
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if st.State != tt.wantState {
				t.Errorf("State = %v, want %v", st.State, tt.wantState)
			}
			if profiles.updates != tt.wantUpdates {
				t.Errorf("updates = %d, want %d", profiles.updates, tt.wantUpdates)
			}
			if tt.wantState == Absent {
				if st.Location != nil {
					t.Errorf("Location = %+v, want nil", st.Location)
				}
				return
			}
			if st.Location == nil {
				t.Fatal("Location = nil")
			}
			if !st.Location.LastLocationUpdate.Equal(tt.wantAt) {
				t.Errorf("LastLocationUpdate = %v, want %v", st.Location.LastLocationUpdate, tt.wantAt)
			}
			if st.Location.Latitude != tt.wantLat {
				t.Errorf("Latitude = %v, want %v", st.Location.Latitude, tt.wantLat)
			}
		})
	}
}

func TestReconcile_MovedReportsDistanceAndPlace(t *testing.T) {
	profiles := &fakeProfiles{loc: savedLoc(), now: pushAt}
	places := &fakePlaces{}
	r := NewReconciler(profiles,
		WithGeolocator(fakeGeo{fix: Fix{45.1, -122.0}}, true),
		WithPlaces(places),
	)
	st, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	// 0.1 degree of latitude is about 11.1 km.
	if math.Abs(st.MovedMeters-11119) > 50 {
		t.Errorf("MovedMeters = %.0f, want about 11119", st.MovedMeters)
	}
	if st.Place == nil || st.Place.City != "Portland" {
		t.Errorf("Place = %+v", st.Place)
	}
	if profiles.reads != 2 {
		t.Errorf("profile reads = %d, want 2", profiles.reads)
	}
}

func TestReconcile_PlaceFailureDegrades(t *testing.T) {
	profiles := &fakeProfiles{loc: savedLoc()}
	r := NewReconciler(profiles, WithPlaces(&fakePlaces{err: errors.New("boom")}))
	st, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if st.State != Saved || st.Place != nil {
		t.Errorf("Status = %+v", st)
	}
}

func TestReconcile_PushFailureFallsBack(t *testing.T) {
	profiles := &fakeProfiles{loc: savedLoc(), writeErr: errors.New("429")}
	r := NewReconciler(profiles, WithGeolocator(fakeGeo{fix: Fix{10, 10}}, true))
	st, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if st.State != Saved {
		t.Errorf("State = %v, want saved", st.State)
	}
}

func TestReconcile_ProfileError(t *testing.T) {
	profiles := &fakeProfiles{readErr: errors.New("unauthorized")}
	if _, err := NewReconciler(profiles).Reconcile(context.Background()); err == nil {
		t.Error("Reconcile() error = nil, want profile error")
	}
}

func TestSame(t *testing.T) {
	loc := models.Location{Latitude: 45, Longitude: -122}
	tests := []struct {
		fix  Fix
		want bool
	}{
		{Fix{45, -122}, true},
		{Fix{45.000009, -122.000009}, true},
		{Fix{45.00002, -122}, false},
		{Fix{45, -122.00002}, false},
	}
	for _, tt := range tests {
		if got := Same(tt.fix, loc); got != tt.want {
			t.Errorf("Same(%v) = %v, want %v", tt.fix, got, tt.want)
		}
	}
}

func TestDistanceMeters_Zero(t *testing.T) {
	if d := DistanceMeters(10, 20, 10, 20); d != 0 {
		t.Errorf("DistanceMeters(same) = %v", d)
	}
}
