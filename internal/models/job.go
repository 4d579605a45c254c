package models

import "time"

// QueuedJob is one unclaimed dispatch opportunity offered to a provider.
// A provider is presented at most one QueuedJob at a time.
type QueuedJob struct {
	JobID       string      `json:"job_id"`
	Origin      Position    `json:"origin"`
	ServiceType ServiceType `json:"service_type"`
	OfferedAt   time.Time   `json:"offered_at"`
}
