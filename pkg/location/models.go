package location

import "time"

// Fix represents one raw position sample from a provider, before any
// filtering or smoothing is applied.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // metres; estimated when the source only reports HDOP
	Heading   *float64
	Speed     *float64 // metres per second
	Timestamp time.Time
}
