package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gmaps "googlemaps.github.io/maps"

	"github.com/roadhelp/dispatch-core/internal/maps"
	"github.com/roadhelp/dispatch-core/internal/models"
	"github.com/roadhelp/dispatch-core/pkg/geo"
)

// earlyExitFraction stops the segment scan once a segment is found within
// this fraction of the deviation threshold; scanning on proves nothing once
// the position is clearly on-route.
const earlyExitFraction = 0.3

// RouteMonitorService watches the live position against the active route
// polyline and requests a new route when the vehicle has genuinely left it.
// Recalculation is metered: it requires continuous deviation for a minimum
// duration AND a hard minimum interval since the previous recalculation,
// so a single bad fix or a brief detour cannot burn routing-API calls.
type RouteMonitorService struct {
	// Configuration fields
	checkInterval       time.Duration
	deviationThresholdM float64
	minOffRouteDuration time.Duration
	recalculateFloor    time.Duration

	// Dependencies
	router  maps.Router
	tracker PositionSource
	logger  zerolog.Logger

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	mu              sync.Mutex
	encodedPolyline string
	vertices        []models.LatLng
	destination     *models.LatLng
	offRouteSince   *time.Time
	lastRecalc      time.Time
	recalcInFlight  bool
	generation      uint64

	onRecalculated func(maps.RouteResult)
}

// NewRouteMonitorService creates a new RouteMonitorService instance.
func NewRouteMonitorService(checkInterval time.Duration, deviationThresholdM float64,
	minOffRouteDuration, recalculateFloor time.Duration, router maps.Router,
	tracker PositionSource, logger zerolog.Logger) *RouteMonitorService {
	return &RouteMonitorService{
		checkInterval:       checkInterval,
		deviationThresholdM: deviationThresholdM,
		minOffRouteDuration: minOffRouteDuration,
		recalculateFloor:    recalculateFloor,
		router:              router,
		tracker:             tracker,
		logger:              logger,
	}
}

// SetRecalculatedHandler registers the callback invoked with each newly
// fetched route. Must be called before Start.
func (r *RouteMonitorService) SetRecalculatedHandler(handler func(maps.RouteResult)) {
	r.onRecalculated = handler
}

// SetRoute installs the active route. The polyline is decoded once and
// cached; installing the identical polyline again reuses the cache.
func (r *RouteMonitorService) SetRoute(encodedPolyline string, destination models.LatLng) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if encodedPolyline != r.encodedPolyline {
		decoded, err := gmaps.DecodePolyline(encodedPolyline)
		if err != nil {
			return err
		}
		vertices := make([]models.LatLng, len(decoded))
		for i, v := range decoded {
			vertices[i] = models.LatLng{Latitude: v.Lat, Longitude: v.Lng}
		}
		r.encodedPolyline = encodedPolyline
		r.vertices = vertices
	}

	r.destination = &destination
	r.offRouteSince = nil
	r.generation++
	return nil
}

// ClearRouteCache discards the decoded polyline and deviation timers. Must
// be called whenever the route legitimately changes outside this component
// (new destination, job phase transition), so a live position is never
// compared against a stale polyline.
func (r *RouteMonitorService) ClearRouteCache() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.encodedPolyline = ""
	r.vertices = nil
	r.destination = nil
	r.offRouteSince = nil
	r.generation++
}

// ResetRecalculateTimer lifts the minimum-interval floor, allowing the next
// justified deviation to recalculate immediately. For job phase transitions.
func (r *RouteMonitorService) ResetRecalculateTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRecalc = time.Time{}
}

// Start launches the periodic deviation checks against the tracker.
func (r *RouteMonitorService) Start() error {
	if r.running {
		r.logger.Warn().Msg("RouteMonitorService is already running")
		return errors.New("route monitor service is already running")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runCheckLoop()
	}()

	r.logger.Info().
		Dur("check_interval", r.checkInterval).
		Float64("deviation_threshold_m", r.deviationThresholdM).
		Msg("RouteMonitorService started")
	return nil
}

// Stop gracefully stops the RouteMonitorService.
func (r *RouteMonitorService) Stop() error {
	if !r.running {
		r.logger.Warn().Msg("RouteMonitorService is not running")
		return errors.New("route monitor service is not running")
	}

	r.cancel()
	r.wg.Wait()

	r.running = false
	r.logger.Info().Msg("RouteMonitorService stopped")
	return nil
}

func (r *RouteMonitorService) runCheckLoop() {
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if position, ok := r.tracker.CurrentPosition(); ok {
				r.Evaluate(position, time.Now())
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// CheckDeviation computes the perpendicular distance from the position to
// the active route. Without an active route it reports on-route.
func (r *RouteMonitorService) CheckDeviation(position models.Position) models.DeviationResult {
	r.mu.Lock()
	vertices := r.vertices
	r.mu.Unlock()

	return checkDeviation(position, vertices, r.deviationThresholdM)
}

// checkDeviation scans the route segments for the minimum perpendicular
// distance, stopping early once any segment is close enough to prove the
// position on-route.
func checkDeviation(position models.Position, vertices []models.LatLng, thresholdM float64) models.DeviationResult {
	if len(vertices) < 2 {
		return models.DeviationResult{}
	}

	earlyExit := thresholdM * earlyExitFraction
	minDistance := geo.PointToSegmentMeters(
		position.Latitude, position.Longitude,
		vertices[0].Latitude, vertices[0].Longitude,
		vertices[1].Latitude, vertices[1].Longitude,
	)
	for i := 1; i < len(vertices)-1 && minDistance >= earlyExit; i++ {
		d := geo.PointToSegmentMeters(
			position.Latitude, position.Longitude,
			vertices[i].Latitude, vertices[i].Longitude,
			vertices[i+1].Latitude, vertices[i+1].Longitude,
		)
		if d < minDistance {
			minDistance = d
		}
	}

	return models.DeviationResult{
		IsOffRoute:              minDistance > thresholdM,
		DistanceFromRouteMeters: minDistance,
	}
}

// Evaluate runs one deviation check and applies the hysteresis rules,
// triggering a recalculation when all gates pass.
func (r *RouteMonitorService) Evaluate(position models.Position, now time.Time) models.DeviationResult {
	result := r.CheckDeviation(position)

	r.mu.Lock()
	if len(r.vertices) < 2 || r.destination == nil {
		r.mu.Unlock()
		return result
	}

	if !result.IsOffRoute {
		// Back within the corridor: reset the hysteresis without side effects.
		r.offRouteSince = nil
		r.mu.Unlock()
		return result
	}

	if r.offRouteSince == nil {
		since := now
		r.offRouteSince = &since
		r.mu.Unlock()
		return result
	}

	continuous := now.Sub(*r.offRouteSince) >= r.minOffRouteDuration
	floorClear := r.lastRecalc.IsZero() || now.Sub(r.lastRecalc) >= r.recalculateFloor
	if !continuous || !floorClear || r.recalcInFlight {
		r.mu.Unlock()
		return result
	}

	// All gates passed: claim the slot before the network call so a slow
	// response cannot double-trigger.
	r.recalcInFlight = true
	r.lastRecalc = now
	generation := r.generation
	origin := position.LatLng()
	destination := *r.destination
	r.mu.Unlock()

	r.logger.Info().
		Float64("distance_from_route_m", result.DistanceFromRouteMeters).
		Msg("Off route; requesting recalculation")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.recalculate(generation, origin, destination)
	}()

	return result
}

// recalculate fetches a new route and installs it, unless the route was
// cleared or replaced while the request was in flight.
func (r *RouteMonitorService) recalculate(generation uint64, origin, destination models.LatLng) {
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	routeResult, err := r.router.Route(ctx, origin, destination)

	r.mu.Lock()
	r.recalcInFlight = false
	if generation != r.generation {
		r.mu.Unlock()
		r.logger.Debug().Msg("Dropping recalculation for a superseded route")
		return
	}
	if err != nil {
		r.mu.Unlock()
		r.logger.Error().Err(err).Msg("Route recalculation failed")
		return
	}

	decoded, decodeErr := gmaps.DecodePolyline(routeResult.EncodedPolyline)
	if decodeErr != nil {
		r.mu.Unlock()
		r.logger.Error().Err(decodeErr).Msg("Failed to decode recalculated polyline")
		return
	}
	vertices := make([]models.LatLng, len(decoded))
	for i, v := range decoded {
		vertices[i] = models.LatLng{Latitude: v.Lat, Longitude: v.Lng}
	}
	r.encodedPolyline = routeResult.EncodedPolyline
	r.vertices = vertices
	r.offRouteSince = nil
	handler := r.onRecalculated
	r.mu.Unlock()

	r.logger.Info().Str("eta", routeResult.ETAText).Msg("Route recalculated")
	if handler != nil {
		handler(routeResult)
	}
}

// RouteState returns a copy of the monitor's current route bookkeeping.
func (r *RouteMonitorService) RouteState() models.RouteState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := models.RouteState{
		EncodedPolyline:  r.encodedPolyline,
		LastRecalculated: r.lastRecalc,
	}
	if r.offRouteSince != nil {
		since := *r.offRouteSince
		state.OffRouteSince = &since
	}
	return state
}
