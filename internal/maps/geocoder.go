// Package maps wraps the Google Maps Web Service APIs consumed by the
// dispatch core: reverse geocoding and driving directions. Both are billed
// per call, so the services above this package throttle aggressively.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

// Geocoder resolves coordinates into a human-readable address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// GoogleGeocoder implements Geocoder using the Google Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

// NewGoogleGeocoder wraps an existing maps client.
func NewGoogleGeocoder(client *maps.Client) *GoogleGeocoder {
	return &GoogleGeocoder{client: client}
}

// ReverseGeocode returns the formatted address of the first geocoding result.
func (g *GoogleGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocoding (%f,%f): %w", lat, lng, err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no address found for (%f,%f)", lat, lng)
	}
	return results[0].FormattedAddress, nil
}
