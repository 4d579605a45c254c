package models

import "time"

// ServiceType identifies one roadside service a provider can offer.
type ServiceType string

const (
	ServiceTow       ServiceType = "tow"
	ServiceTire      ServiceType = "tire"
	ServiceMechanic  ServiceType = "mechanic"
	ServiceLocksmith ServiceType = "locksmith"
)

// ProviderSnapshot is one discovered provider as of a single discovery poll.
// The published collection is replaced wholesale every poll, never merged, so
// a snapshot can never outlive one poll interval plus the heartbeat TTL.
type ProviderSnapshot struct {
	ProviderID    string        `json:"provider_id"`
	Position      Position      `json:"position"`
	Rating        float64       `json:"rating"`
	TotalServices int           `json:"total_services"`
	Services      []ServiceType `json:"services"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	DistanceKm    float64       `json:"distance_km"` // from the requesting user
}
