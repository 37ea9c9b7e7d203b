// Package search ranks and filters published trips near a query point or
// route. Two modes: route search (origin + destination) and radar search
// (single point, live discovery UIs).
package search

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/service/geomath"
	"github.com/uniride/carpool/pkg/logger"
)

// Config holds matcher tuning
type Config struct {
	// DefaultRadiusKm applies when a query carries no radius
	DefaultRadiusKm float64
	// RadarMaxResults caps radar responses
	RadarMaxResults int
}

// Matcher answers route and radar searches over the trip store
type Matcher struct {
	repo   trip.Repository
	cfg    Config
	logger *logger.Logger
}

// NewMatcher creates a matcher
func NewMatcher(repo trip.Repository, cfg Config, log *logger.Logger) *Matcher {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = 2.0
	}
	if cfg.RadarMaxResults <= 0 {
		cfg.RadarMaxResults = 50
	}
	return &Matcher{repo: repo, cfg: cfg, logger: log}
}

// RouteQuery is a search matching both endpoints of the requester's route
type RouteQuery struct {
	Origin          trip.GeoPoint
	Destination     trip.GeoPoint
	From, To        time.Time
	SeatsNeeded     int
	WomenOnly       bool
	RadiusKm        float64
	RequesterID     uuid.UUID
	RequesterGender collab.Gender
	ExcludeOwn      bool
}

// RouteMatch is a trip annotated with endpoint distances
type RouteMatch struct {
	Trip            *trip.Trip `json:"trip"`
	ToOriginKm      float64    `json:"distance_to_origin_km"`
	ToDestinationKm float64    `json:"distance_to_destination_km"`
	TotalKm         float64    `json:"total_distance_km"`
}

// SearchByRoute returns active trips near the requested route, applying the
// gender-restriction and capacity filters, sorted by summed endpoint distance
// with earliest departure as tie-break.
func (m *Matcher) SearchByRoute(ctx context.Context, q RouteQuery) ([]RouteMatch, error) {
	radius := q.RadiusKm
	if radius <= 0 {
		radius = m.cfg.DefaultRadiusKm
	}
	seats := q.SeatsNeeded
	if seats <= 0 {
		seats = 1
	}

	filters := trip.NearFilters{
		State:    trip.StateActive,
		DateFrom: &q.From,
		DateTo:   &q.To,
		MinSeats: seats,
	}
	if q.WomenOnly {
		women := true
		filters.WomenOnly = &women
	}

	// The admission rule can accept a trip whose origin is up to 2x the
	// radius away (when its destination sits on the requester's), so the
	// candidate fetch doubles the radius.
	candidates, err := m.repo.FindNear(ctx, q.Origin, radius*2*1000, filters)
	if err != nil {
		return nil, err
	}

	var matches []RouteMatch
	for _, cand := range candidates {
		t := cand.Trip
		if q.ExcludeOwn && t.DriverID == q.RequesterID {
			continue
		}
		if !m.genderAdmits(t, q.WomenOnly, q.RequesterGender) {
			continue
		}

		dOrigin := geomath.HaversineKm(q.Origin, t.Origin.Location)
		dDest := geomath.HaversineKm(q.Destination, t.Destination.Location)
		if !admitByDistance(dOrigin, dDest, radius) {
			continue
		}

		matches = append(matches, RouteMatch{
			Trip:            t,
			ToOriginKm:      dOrigin,
			ToDestinationKm: dDest,
			TotalKm:         dOrigin + dDest,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].TotalKm != matches[j].TotalKm {
			return matches[i].TotalKm < matches[j].TotalKm
		}
		return matches[i].Trip.DepartureTime.Before(matches[j].Trip.DepartureTime)
	})

	m.logger.Info("Route search completed",
		logger.Int("candidates", len(candidates)),
		logger.Int("matches", len(matches)),
		logger.Float64("radius_km", radius),
	)
	return matches, nil
}

// admitByDistance is the empirically tuned admission rule: accept when the
// summed endpoint distance fits twice the radius, or when one endpoint is
// inside the radius and the other within 1.5x of it. The looseness is
// deliberate; it maximizes recall for a small user base.
func admitByDistance(dOrigin, dDest, radiusKm float64) bool {
	if dOrigin+dDest <= 2*radiusKm {
		return true
	}
	if dOrigin <= radiusKm && dDest <= 1.5*radiusKm {
		return true
	}
	if dDest <= radiusKm && dOrigin <= 1.5*radiusKm {
		return true
	}
	return false
}

// genderAdmits applies the women-only visibility rule: with the filter on,
// only female requesters see (exclusively) women-only trips; without it,
// women-only trips stay hidden from everyone but female requesters.
func (m *Matcher) genderAdmits(t *trip.Trip, womenOnlyFilter bool, gender collab.Gender) bool {
	if womenOnlyFilter {
		return gender == collab.GenderFemale && t.WomenOnly
	}
	if t.WomenOnly {
		return gender == collab.GenderFemale
	}
	return true
}

// RadarQuery is a proximity search around a single point
type RadarQuery struct {
	Point        trip.GeoPoint
	RadiusMeters float64
	Date         *time.Time
	RequesterID  uuid.UUID
	ExcludeOwn   bool
}

// RadarMatch is a trip annotated with origin distance and ownership
type RadarMatch struct {
	Trip       *trip.Trip `json:"trip"`
	DistanceKm float64    `json:"distance_km"`
	IsOwn      bool       `json:"is_own"`
}

// SearchByPoint returns active trips whose origin lies within the radius of
// the point, nearest first, capped at the configured maximum. The requester's
// own trips are included and flagged unless ExcludeOwn is set.
func (m *Matcher) SearchByPoint(ctx context.Context, q RadarQuery) ([]RadarMatch, error) {
	filters := trip.NearFilters{State: trip.StateActive}
	if q.Date != nil {
		dayStart := time.Date(q.Date.Year(), q.Date.Month(), q.Date.Day(), 0, 0, 0, 0, q.Date.Location())
		dayEnd := dayStart.Add(24 * time.Hour)
		filters.DateFrom = &dayStart
		filters.DateTo = &dayEnd
	}

	results, err := m.repo.FindNear(ctx, q.Point, q.RadiusMeters, filters)
	if err != nil {
		return nil, err
	}

	var matches []RadarMatch
	for _, r := range results {
		isOwn := r.Trip.DriverID == q.RequesterID
		if q.ExcludeOwn && isOwn {
			continue
		}
		matches = append(matches, RadarMatch{Trip: r.Trip, DistanceKm: r.DistanceKm, IsOwn: isOwn})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].DistanceKm < matches[j].DistanceKm })
	if len(matches) > m.cfg.RadarMaxResults {
		matches = matches[:m.cfg.RadarMaxResults]
	}

	m.logger.Info("Radar search completed",
		logger.Int("matches", len(matches)),
		logger.Float64("radius_m", q.RadiusMeters),
	)
	return matches, nil
}
