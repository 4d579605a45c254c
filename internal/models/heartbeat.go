package models

import "time"

// Heartbeat statuses written to the location store.
const (
	StatusAlive   = "alive"
	StatusOffline = "offline"
)

// DeviceStats carries basic device health sampled alongside a heartbeat so
// the backend can spot providers running on struggling hardware.
type DeviceStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Heartbeat represents one liveness write of a provider's position.
type Heartbeat struct {
	ProviderID string      `json:"provider_id"`
	Position   Position    `json:"position"`
	Status     string      `json:"status"`
	Stats      DeviceStats `json:"stats"`
	Timestamp  time.Time   `json:"timestamp"`
}
