// Package location decides which location a client should show: the saved one, a live
// fix, or none.
package location

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-reporter/internal/geocode"
	"github.com/kjstillabower/weather-reporter/internal/models"
)

// Tolerance is the coordinate difference, in degrees, below which two fixes are the same place.
const Tolerance = 1e-5

const earthRadiusMeters = 6371010.0

// State is the outcome of reconciliation.
type State int

const (
	Absent State = iota
	Saved
	Live
)

func (s State) String() string {
	switch s {
	case Saved:
		return "saved"
	case Live:
		return "live"
	default:
		return "absent"
	}
}

// Fix is a position reported by a geolocator.
type Fix struct {
	Latitude  float64
	Longitude float64
}

// Geolocator reads the device position.
type Geolocator interface {
	CurrentPosition(ctx context.Context) (Fix, error)
}

// ProfileAPI is the slice of the backend the reconciler needs.
type ProfileAPI interface {
	Profile(ctx context.Context) (models.Profile, error)
	UpdateLocation(ctx context.Context, lat, lng float64) error
}

// Status is the reconciled location. Location is nil only when State is Absent.
type Status struct {
	State       State
	Location    *models.Location
	Place       *models.Place
	MovedMeters float64
}

// Reconciler merges a live fix with the saved profile location.
type Reconciler struct {
	profiles ProfileAPI
	geo      Geolocator
	consent  bool
	places   geocode.Reverser
	logger   *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithGeolocator enables live fixes. consent must be true for geo to be read.
func WithGeolocator(geo Geolocator, consent bool) Option {
	return func(r *Reconciler) {
		r.geo = geo
		r.consent = consent
	}
}

// WithPlaces resolves the authoritative location to a place name. Pass a cached reverser.
func WithPlaces(places geocode.Reverser) Option {
	return func(r *Reconciler) { r.places = places }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

func NewReconciler(profiles ProfileAPI, opts ...Option) *Reconciler {
	r := &Reconciler{profiles: profiles, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile loads the profile and, with consent, compares it to a live fix. A changed fix is
// pushed to the backend and the profile re-read so the returned timestamp is the server's.
// Only profile failures are returned as errors; geolocation and place lookup failures degrade.
func (r *Reconciler) Reconcile(ctx context.Context) (Status, error) {
	profile, err := r.profiles.Profile(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load profile: %w", err)
	}
	saved := profile.Location

	if r.geo == nil || !r.consent {
		return r.withPlace(ctx, fallback(saved)), nil
	}

	fix, err := r.geo.CurrentPosition(ctx)
	if err != nil {
		r.logger.Warn("geolocation unavailable, using saved location", zap.Error(err))
		return r.withPlace(ctx, fallback(saved)), nil
	}

	if saved != nil && Same(fix, *saved) {
		loc := *saved
		return r.withPlace(ctx, Status{State: Live, Location: &loc}), nil
	}

	if err := r.profiles.UpdateLocation(ctx, fix.Latitude, fix.Longitude); err != nil {
		r.logger.Warn("location push failed, using saved location", zap.Error(err))
		return r.withPlace(ctx, fallback(saved)), nil
	}
	updated, err := r.profiles.Profile(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("reload profile: %w", err)
	}

	st := Status{State: Live, Location: updated.Location}
	if st.Location == nil {
		st.Location = &models.Location{Latitude: fix.Latitude, Longitude: fix.Longitude}
	}
	if saved != nil {
		st.MovedMeters = DistanceMeters(saved.Latitude, saved.Longitude, fix.Latitude, fix.Longitude)
	}
	return r.withPlace(ctx, st), nil
}

func (r *Reconciler) withPlace(ctx context.Context, st Status) Status {
	if r.places == nil || st.Location == nil {
		return st
	}
	place, err := r.places.Reverse(ctx, st.Location.Latitude, st.Location.Longitude)
	if err != nil {
		r.logger.Debug("reverse geocode failed", zap.Error(err))
		return st
	}
	st.Place = &place
	return st
}

func fallback(saved *models.Location) Status {
	if saved == nil {
		return Status{State: Absent}
	}
	loc := *saved
	return Status{State: Saved, Location: &loc}
}

// Same reports whether fix matches loc on both axes within Tolerance.
func Same(fix Fix, loc models.Location) bool {
	return math.Abs(fix.Latitude-loc.Latitude) < Tolerance &&
		math.Abs(fix.Longitude-loc.Longitude) < Tolerance
}

// DistanceMeters is the great-circle distance between two points.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * earthRadiusMeters
}

// StaticGeolocator always reports the same fix. The CLI uses it for --lat/--lon.
type StaticGeolocator Fix

func (g StaticGeolocator) CurrentPosition(ctx context.Context) (Fix, error) {
	return Fix(g), nil
}
