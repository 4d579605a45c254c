package models

import (
	"fmt"
	"time"
)

// LatLng is a bare coordinate pair used for route origins and destinations.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Position represents one accepted device fix with associated metadata.
// A Position is immutable once emitted; the next sample supersedes it.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Address    string    `json:"address,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"` // meters, nil when the source does not report it
	Heading    *float64  `json:"heading,omitempty"`  // degrees clockwise from true north
	Speed      *float64  `json:"speed,omitempty"`    // meters per second
	CapturedAt time.Time `json:"captured_at"`
}

// Validate checks that the coordinates are within range.
func (p Position) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range [-90,90]", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range [-180,180]", p.Longitude)
	}
	return nil
}

// LatLng returns the coordinate pair of the position.
func (p Position) LatLng() LatLng {
	return LatLng{Latitude: p.Latitude, Longitude: p.Longitude}
}

// SmoothedPosition is the continuously-interpolated render position. It only
// exists in memory and must never be used for business decisions.
type SmoothedPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
