package models

import "time"

// RouteState tracks the active route polyline and the deviation timers.
// It is owned and mutated exclusively by the route monitor.
type RouteState struct {
	EncodedPolyline  string     `json:"encoded_polyline"`
	LastRecalculated time.Time  `json:"last_recalculated"`
	OffRouteSince    *time.Time `json:"off_route_since,omitempty"`
}

// DeviationResult is the outcome of checking one position against the route.
type DeviationResult struct {
	IsOffRoute              bool    `json:"is_off_route"`
	DistanceFromRouteMeters float64 `json:"distance_from_route_meters"`
}
