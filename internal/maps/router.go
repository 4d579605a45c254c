package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"github.com/roadhelp/dispatch-core/internal/models"
)

// RouteResult is one computed driving route.
type RouteResult struct {
	EncodedPolyline string
	ETAText         string
	DistanceText    string
	Duration        time.Duration
}

// Router computes a driving route between two coordinates.
type Router interface {
	Route(ctx context.Context, origin, destination models.LatLng) (RouteResult, error)
}

// GoogleRouter implements Router using the Google Directions API.
type GoogleRouter struct {
	client *maps.Client
}

// NewGoogleRouter wraps an existing maps client.
func NewGoogleRouter(client *maps.Client) *GoogleRouter {
	return &GoogleRouter{client: client}
}

// Route requests driving directions and returns the overview polyline of the
// first route along with its leg totals.
func (g *GoogleRouter) Route(ctx context.Context, origin, destination models.LatLng) (RouteResult, error) {
	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", origin.Latitude, origin.Longitude),
		Destination: fmt.Sprintf("%f,%f", destination.Latitude, destination.Longitude),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return RouteResult{}, fmt.Errorf("directions request: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return RouteResult{}, fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	return RouteResult{
		EncodedPolyline: routes[0].OverviewPolyline.Points,
		ETAText:         leg.Duration.String(),
		DistanceText:    leg.Distance.HumanReadable,
		Duration:        leg.Duration,
	}, nil
}
