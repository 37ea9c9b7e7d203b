// Package geomath provides the distance and travel-time heuristics the engine
// uses in place of a live routing service. All functions are pure and
// deterministic so that conflict math stays local to the request.
package geomath

import (
	"math"

	"github.com/uniride/carpool/internal/domain/trip"
)

const earthRadiusKm = 6371

// HaversineKm returns the great-circle distance between two points in
// kilometers, rounded to two decimals.
func HaversineKm(a, b trip.GeoPoint) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return round2(earthRadiusKm * c)
}

// RoadDistanceKm estimates the road distance between two points by applying
// an empirical urban-vs-highway correction to the straight-line distance.
func RoadDistanceKm(a, b trip.GeoPoint) float64 {
	straight := HaversineKm(a, b)
	return round2(straight * roadCorrection(straight))
}

// roadCorrection is a step function of straight-line distance. Short hops
// inside a city wander far more than highway legs do.
func roadCorrection(straightKm float64) float64 {
	switch {
	case straightKm < 5:
		return 1.6
	case straightKm < 15:
		return 1.4
	case straightKm < 50:
		return 1.3
	case straightKm < 200:
		return 1.2
	default:
		return 1.15
	}
}

// EstimatedTravelMinutes converts a road distance into a travel-time estimate
// using an average speed that grows with trip length.
func EstimatedTravelMinutes(km float64) int {
	return int(math.Round(km / averageSpeedKmh(km) * 60))
}

func averageSpeedKmh(km float64) float64 {
	switch {
	case km < 3:
		return 15
	case km < 8:
		return 20
	case km < 20:
		return 30
	case km < 50:
		return 55
	case km < 150:
		return 75
	default:
		return 85
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
