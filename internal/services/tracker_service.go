package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadhelp/dispatch-core/internal/maps"
	"github.com/roadhelp/dispatch-core/internal/models"
	"github.com/roadhelp/dispatch-core/pkg/file"
	"github.com/roadhelp/dispatch-core/pkg/geo"
	"github.com/roadhelp/dispatch-core/pkg/location"
	"github.com/roadhelp/dispatch-core/pkg/mqtt"
)

// PositionSource exposes the tracker's latest accepted position to the other
// services. All business decisions run off this, never off the smoothed
// render position.
type PositionSource interface {
	CurrentPosition() (models.Position, bool)
}

// smoothingStopMeters is the distance at which the render position snaps to
// its target instead of interpolating further.
const smoothingStopMeters = 0.5

// TrackerService continuously samples the device position, filters noisy
// fixes, derives heading and speed, smooths the rendered position on an
// independent tick, throttles reverse geocoding, and publishes each accepted
// position to an MQTT topic for live subscribers.
type TrackerService struct {
	// Configuration fields
	topic              string
	qos                int
	sampleInterval     time.Duration
	smoothingInterval  time.Duration
	smoothingBlend     float64
	accuracyCeilingM   float64
	minMovementSpeedMS float64
	geocodeMinInterval time.Duration
	geocodeMinMoveM    float64
	firstFixTimeout    time.Duration
	lastKnownFile      string

	// Dependencies
	provider   location.Provider
	geocoder   maps.Geocoder
	fileClient file.FileOperations
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	mu               sync.RWMutex
	current          *models.Position
	smoothed         models.SmoothedPosition
	haveSmoothed     bool
	approximate      bool
	permissionDenied bool
	haveAccurateFix  bool
	lastGeocodeAt    time.Time
	lastGeocodeLat   float64
	lastGeocodeLng   float64
	subscribers      []chan models.Position
}

// TrackerConfig groups the tuning knobs of the tracker.
type TrackerConfig struct {
	Topic              string
	QOS                int
	SampleInterval     time.Duration
	SmoothingInterval  time.Duration
	SmoothingBlend     float64
	AccuracyCeilingM   float64
	MinMovementSpeedMS float64
	GeocodeMinInterval time.Duration
	GeocodeMinMoveM    float64
	FirstFixTimeout    time.Duration
	LastKnownFile      string
}

// NewTrackerService creates a new TrackerService instance with the provided configuration.
func NewTrackerService(cfg TrackerConfig, provider location.Provider, geocoder maps.Geocoder,
	fileClient file.FileOperations, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *TrackerService {
	return &TrackerService{
		topic:              cfg.Topic,
		qos:                cfg.QOS,
		sampleInterval:     cfg.SampleInterval,
		smoothingInterval:  cfg.SmoothingInterval,
		smoothingBlend:     cfg.SmoothingBlend,
		accuracyCeilingM:   cfg.AccuracyCeilingM,
		minMovementSpeedMS: cfg.MinMovementSpeedMS,
		geocodeMinInterval: cfg.GeocodeMinInterval,
		geocodeMinMoveM:    cfg.GeocodeMinMoveM,
		firstFixTimeout:    cfg.FirstFixTimeout,
		lastKnownFile:      cfg.LastKnownFile,
		provider:           provider,
		geocoder:           geocoder,
		fileClient:         fileClient,
		mqttClient:         mqttClient,
		logger:             logger,
	}
}

// Start launches the sampling and smoothing loops.
func (t *TrackerService) Start() error {
	if t.running {
		t.logger.Warn().Msg("TrackerService is already running")
		return errors.New("tracker service is already running")
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.running = true

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.runSampleLoop()
	}()
	go func() {
		defer t.wg.Done()
		t.runSmoothingLoop()
	}()

	// If nothing acceptable arrives in time, fall back to the position
	// persisted by a previous session instead of blocking consumers.
	fallback := time.AfterFunc(t.firstFixTimeout, t.loadLastKnown)
	go func() {
		<-t.ctx.Done()
		fallback.Stop()
	}()

	t.logger.Info().
		Str("topic", t.topic).
		Dur("sample_interval", t.sampleInterval).
		Msg("TrackerService started")
	return nil
}

// Stop gracefully stops the TrackerService, ensuring all goroutines are terminated.
func (t *TrackerService) Stop() error {
	if !t.running {
		t.logger.Warn().Msg("TrackerService is not running")
		return errors.New("tracker service is not running")
	}

	t.cancel()
	t.wg.Wait()

	if err := t.provider.Close(); err != nil {
		t.logger.Error().Err(err).Msg("Failed to close location provider")
		return err
	}

	t.running = false
	t.logger.Info().Msg("TrackerService stopped")
	return nil
}

// runSampleLoop pulls fixes from the provider on the sampling cadence.
func (t *TrackerService) runSampleLoop() {
	// Sample immediately so the first fix does not wait a full interval.
	if terminal := t.sample(); terminal {
		return
	}

	ticker := time.NewTicker(t.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if terminal := t.sample(); terminal {
				return
			}
		case <-t.ctx.Done():
			return
		}
	}
}

// sample pulls one fix and runs it through the acceptance pipeline. It
// reports whether the loop should stop (permission denial is terminal).
func (t *TrackerService) sample() bool {
	fix, err := t.provider.GetFix()
	if err != nil {
		if errors.Is(err, location.ErrPermissionDenied) {
			t.mu.Lock()
			t.permissionDenied = true
			t.mu.Unlock()
			t.logger.Error().Err(err).Msg("Location permission denied; tracking halted until the user acts")
			return true
		}
		// Temporary unavailability: the fallback timer or the next tick
		// handles it, nothing to surface.
		t.logger.Debug().Err(err).Msg("Fix unavailable")
		return false
	}

	t.accept(fix)
	return false
}

// accept applies the noise filter and derives the published Position.
func (t *TrackerService) accept(fix location.Fix) {
	t.mu.Lock()

	// Once a trustworthy fix exists, degraded fixes are discarded so the
	// rendered position never jumps to a bad estimate.
	if t.haveAccurateFix && fix.Accuracy > t.accuracyCeilingM {
		t.mu.Unlock()
		t.logger.Debug().
			Float64("accuracy_m", fix.Accuracy).
			Float64("ceiling_m", t.accuracyCeilingM).
			Msg("Rejected inaccurate fix")
		return
	}

	prev := t.current
	pos := models.Position{
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Accuracy:   &fix.Accuracy,
		CapturedAt: fix.Timestamp,
	}
	if err := pos.Validate(); err != nil {
		t.mu.Unlock()
		t.logger.Warn().Err(err).Msg("Rejected out-of-range fix")
		return
	}

	pos.Speed = t.deriveSpeed(fix, prev)
	pos.Heading = t.deriveHeading(fix, prev, pos.Speed)
	if prev != nil {
		// Carry the last resolved address until the next geocode.
		pos.Address = prev.Address
	}

	t.current = &pos
	t.approximate = false
	if fix.Accuracy <= t.accuracyCeilingM {
		t.haveAccurateFix = true
	}
	needGeocode := t.shouldGeocode(pos)
	if needGeocode {
		t.lastGeocodeAt = time.Now()
		t.lastGeocodeLat = pos.Latitude
		t.lastGeocodeLng = pos.Longitude
	}
	t.mu.Unlock()

	if needGeocode {
		t.reverseGeocode(pos)
	}

	t.persistLastKnown(pos)
	t.publishPosition()
	t.notifySubscribers()
}

// deriveSpeed prefers the provider's speed and otherwise computes it from
// the displacement since the previous accepted fix.
func (t *TrackerService) deriveSpeed(fix location.Fix, prev *models.Position) *float64 {
	if fix.Speed != nil {
		return fix.Speed
	}
	if prev == nil {
		return nil
	}
	dt := fix.Timestamp.Sub(prev.CapturedAt).Seconds()
	if dt <= 0 {
		return prev.Speed
	}
	speed := geo.MetersBetween(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude) / dt
	return &speed
}

// deriveHeading prefers the provider's heading. Without one, the bearing
// between the last two fixes is used, but only above the movement threshold:
// consecutive stationary fixes differ by noise, and the bearing of noise is
// meaningless, so the previous heading is retained instead.
func (t *TrackerService) deriveHeading(fix location.Fix, prev *models.Position, speed *float64) *float64 {
	if fix.Heading != nil {
		return fix.Heading
	}
	if prev == nil {
		return nil
	}
	if speed != nil && *speed >= t.minMovementSpeedMS {
		bearing := geo.InitialBearing(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
		return &bearing
	}
	return prev.Heading
}

// shouldGeocode enforces the dual throttle: both the minimum interval and
// the minimum displacement must have elapsed since the last geocode. Called
// with the state lock held.
func (t *TrackerService) shouldGeocode(pos models.Position) bool {
	if t.geocoder == nil {
		return false
	}
	if t.lastGeocodeAt.IsZero() {
		return true
	}
	if time.Since(t.lastGeocodeAt) < t.geocodeMinInterval {
		return false
	}
	moved := geo.MetersBetween(t.lastGeocodeLat, t.lastGeocodeLng, pos.Latitude, pos.Longitude)
	return moved >= t.geocodeMinMoveM
}

// reverseGeocode resolves the address of the given position and attaches it
// to the current position if it is still the latest one.
func (t *TrackerService) reverseGeocode(pos models.Position) {
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	address, err := t.geocoder.ReverseGeocode(ctx, pos.Latitude, pos.Longitude)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Reverse geocoding failed")
		return
	}

	t.mu.Lock()
	if t.current != nil && t.current.CapturedAt.Equal(pos.CapturedAt) {
		updated := *t.current
		updated.Address = address
		t.current = &updated
	}
	t.mu.Unlock()
}

// runSmoothingLoop interpolates the rendered position toward the latest
// accepted fix, independently of fix arrival, so map rendering stays smooth
// regardless of GPS sampling jitter.
func (t *TrackerService) runSmoothingLoop() {
	ticker := time.NewTicker(t.smoothingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.smoothTick()
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *TrackerService) smoothTick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return
	}
	target := *t.current

	if !t.haveSmoothed {
		t.smoothed = models.SmoothedPosition{Latitude: target.Latitude, Longitude: target.Longitude}
		t.haveSmoothed = true
		return
	}

	remaining := geo.MetersBetween(t.smoothed.Latitude, t.smoothed.Longitude, target.Latitude, target.Longitude)
	if remaining <= smoothingStopMeters {
		t.smoothed = models.SmoothedPosition{Latitude: target.Latitude, Longitude: target.Longitude}
		return
	}

	lat, lng := geo.Interpolate(t.smoothed.Latitude, t.smoothed.Longitude, target.Latitude, target.Longitude, t.smoothingBlend)
	t.smoothed = models.SmoothedPosition{Latitude: lat, Longitude: lng}
}

// loadLastKnown installs the persisted fallback position if no live fix has
// been accepted yet. The result is explicitly flagged approximate.
func (t *TrackerService) loadLastKnown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		return
	}

	var pos models.Position
	if err := t.fileClient.ReadJsonFile(t.lastKnownFile, &pos); err != nil {
		t.logger.Warn().Err(err).Msg("No last-known position available for fallback")
		return
	}
	if err := pos.Validate(); err != nil {
		t.logger.Warn().Err(err).Msg("Discarding invalid persisted position")
		return
	}

	t.current = &pos
	t.approximate = true
	t.logger.Info().
		Float64("latitude", pos.Latitude).
		Float64("longitude", pos.Longitude).
		Msg("Fix timeout; using last-known position")
}

// persistLastKnown stores the position for the next session's fallback.
func (t *TrackerService) persistLastKnown(pos models.Position) {
	if t.lastKnownFile == "" {
		return
	}
	if err := t.fileClient.WriteJsonFile(t.lastKnownFile, pos); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist last-known position")
	}
}

// publishPosition mirrors the accepted position to the live MQTT topic.
func (t *TrackerService) publishPosition() {
	if t.mqttClient == nil || t.topic == "" {
		return
	}

	pos, ok := t.CurrentPosition()
	if !ok {
		return
	}

	payload, err := json.Marshal(pos)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to serialize position message")
		return
	}

	token := t.mqttClient.Publish(t.topic, byte(t.qos), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		t.logger.Error().Err(err).Str("topic", t.topic).Msg("Failed to publish position message")
	}
}

func (t *TrackerService) notifySubscribers() {
	pos, ok := t.CurrentPosition()
	if !ok {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- pos:
		default:
			// Slow consumers miss samples rather than stalling the tracker.
		}
	}
}

// Subscribe returns a channel receiving every accepted position. Slow
// consumers are skipped, not buffered indefinitely.
func (t *TrackerService) Subscribe() <-chan models.Position {
	ch := make(chan models.Position, 16)
	t.mu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.mu.Unlock()
	return ch
}

// CurrentPosition returns the latest accepted position, if any.
func (t *TrackerService) CurrentPosition() (models.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return models.Position{}, false
	}
	return *t.current, true
}

// SmoothedPosition returns the interpolated render position, if any.
func (t *TrackerService) SmoothedPosition() (models.SmoothedPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.smoothed, t.haveSmoothed
}

// IsApproximate reports whether the current position is a persisted fallback
// rather than a live fix.
func (t *TrackerService) IsApproximate() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.approximate
}

// PermissionDenied reports whether tracking halted on a terminal permission error.
func (t *TrackerService) PermissionDenied() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.permissionDenied
}
