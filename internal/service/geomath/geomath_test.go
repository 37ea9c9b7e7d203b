package geomath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/uniride/carpool/internal/domain/trip"
)

// TestHaversineKm_Symmetry tests that distance is symmetric and zero on itself
func TestHaversineKm_Symmetry(t *testing.T) {
	points := []struct {
		name string
		a, b trip.GeoPoint
	}{
		{"campus to downtown", trip.GeoPoint{Lat: -36.6, Lng: -72.1}, trip.GeoPoint{Lat: -36.5, Lng: -72.0}},
		{"across equator", trip.GeoPoint{Lat: 1.5, Lng: 10.0}, trip.GeoPoint{Lat: -1.5, Lng: 10.0}},
		{"across antimeridian", trip.GeoPoint{Lat: 0, Lng: 179.9}, trip.GeoPoint{Lat: 0, Lng: -179.9}},
	}

	for _, tt := range points {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, HaversineKm(tt.a, tt.b), HaversineKm(tt.b, tt.a), "distance should be symmetric")
			assert.Equal(t, 0.0, HaversineKm(tt.a, tt.a), "distance to itself should be zero")
		})
	}
}

// TestHaversineKm_KnownDistance tests a known reference distance
func TestHaversineKm_KnownDistance(t *testing.T) {
	// One degree of latitude is ~111.19 km
	a := trip.GeoPoint{Lat: 0, Lng: 0}
	b := trip.GeoPoint{Lat: 1, Lng: 0}

	d := HaversineKm(a, b)
	assert.InDelta(t, 111.19, d, 0.1, "one degree of latitude should be ~111.19 km")
}

// TestRoadDistanceKm_NeverBelowStraightLine tests the correction factor is >= 1
func TestRoadDistanceKm_NeverBelowStraightLine(t *testing.T) {
	pairs := []struct {
		name string
		a, b trip.GeoPoint
	}{
		{"short urban hop", trip.GeoPoint{Lat: -36.60, Lng: -72.10}, trip.GeoPoint{Lat: -36.61, Lng: -72.11}},
		{"midrange", trip.GeoPoint{Lat: -36.6, Lng: -72.1}, trip.GeoPoint{Lat: -36.5, Lng: -72.0}},
		{"long highway leg", trip.GeoPoint{Lat: -36.6, Lng: -72.1}, trip.GeoPoint{Lat: -33.4, Lng: -70.6}},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			assert.GreaterOrEqual(t, RoadDistanceKm(tt.a, tt.b), HaversineKm(tt.a, tt.b))
		})
	}
}

// TestRoadCorrection_StepBoundaries tests the correction step function
func TestRoadCorrection_StepBoundaries(t *testing.T) {
	tests := []struct {
		straightKm float64
		expected   float64
	}{
		{0.5, 1.6},
		{4.99, 1.6},
		{5.0, 1.4},
		{14.99, 1.4},
		{15.0, 1.3},
		{49.99, 1.3},
		{50.0, 1.2},
		{199.99, 1.2},
		{200.0, 1.15},
		{500.0, 1.15},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, roadCorrection(tt.straightKm), "correction for %.2f km", tt.straightKm)
	}
}

// TestEstimatedTravelMinutes_SpeedSteps tests travel time across the speed bands
func TestEstimatedTravelMinutes_SpeedSteps(t *testing.T) {
	tests := []struct {
		name     string
		km       float64
		expected int
	}{
		{"walking-speed urban crawl", 2.0, 8},    // 2/15*60
		{"dense city", 5.0, 15},                  // 5/20*60
		{"suburban", 10.0, 20},                   // 10/30*60
		{"regional road", 30.0, 33},              // 30/55*60 = 32.7 -> 33
		{"highway", 100.0, 80},                   // 100/75*60
		{"long haul", 300.0, 212},                // 300/85*60 = 211.76 -> 212
		{"zero distance", 0.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EstimatedTravelMinutes(tt.km))
		})
	}
}

// BenchmarkRoadDistanceKm benchmarks the full distance heuristic
func BenchmarkRoadDistanceKm(b *testing.B) {
	a := trip.GeoPoint{Lat: -36.6, Lng: -72.1}
	c := trip.GeoPoint{Lat: -36.5, Lng: -72.0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RoadDistanceKm(a, c)
	}
}
