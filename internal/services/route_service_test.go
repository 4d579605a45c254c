package services

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/roadhelp/dispatch-core/internal/maps"
	"github.com/roadhelp/dispatch-core/internal/models"
)

// Encodes (38.5,-120.2), (40.7,-120.95), (43.252,-126.453).
const testPolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

func newTestRouteMonitor(router maps.Router) *RouteMonitorService {
	return NewRouteMonitorService(5*time.Second, 100, 5*time.Second, 2*time.Minute,
		router, &stubPositionSource{}, zerolog.Nop())
}

// straightRoute is a north-south corridor at longitude 10.
func straightRoute() []models.LatLng {
	return []models.LatLng{
		{Latitude: 10.000, Longitude: 10},
		{Latitude: 10.005, Longitude: 10},
		{Latitude: 10.010, Longitude: 10},
	}
}

func installRoute(r *RouteMonitorService, vertices []models.LatLng, destination models.LatLng) {
	r.mu.Lock()
	r.vertices = vertices
	r.destination = &destination
	r.mu.Unlock()
}

// TestRouteMonitorService_SetRouteDecodesPolyline verifies the polyline is
// decoded on install and reflected in the route state.
func TestRouteMonitorService_SetRouteDecodesPolyline(t *testing.T) {
	r := newTestRouteMonitor(new(MockRouter))

	err := r.SetRoute(testPolyline, models.LatLng{Latitude: 43.252, Longitude: -126.453})
	assert.NoError(t, err)
	assert.Equal(t, testPolyline, r.RouteState().EncodedPolyline)

	r.mu.Lock()
	vertices := r.vertices
	r.mu.Unlock()
	assert.Len(t, vertices, 3)
	assert.InDelta(t, 38.5, vertices[0].Latitude, 1e-4)
	assert.InDelta(t, -120.2, vertices[0].Longitude, 1e-4)
}

// TestCheckDeviation covers the pure deviation math.
func TestCheckDeviation(t *testing.T) {
	vertices := straightRoute()

	t.Run("on the route", func(t *testing.T) {
		result := checkDeviation(models.Position{Latitude: 10.003, Longitude: 10}, vertices, 100)
		assert.False(t, result.IsOffRoute)
		assert.InDelta(t, 0, result.DistanceFromRouteMeters, 1)
	})

	t.Run("off the route", func(t *testing.T) {
		// ~330m east of the corridor.
		result := checkDeviation(models.Position{Latitude: 10.003, Longitude: 10.003}, vertices, 100)
		assert.True(t, result.IsOffRoute)
		assert.InDelta(t, 330, result.DistanceFromRouteMeters, 15)
	})

	t.Run("inside the threshold", func(t *testing.T) {
		// ~55m east: deviating, but within the corridor width.
		result := checkDeviation(models.Position{Latitude: 10.003, Longitude: 10.0005}, vertices, 100)
		assert.False(t, result.IsOffRoute)
	})

	t.Run("no route installed", func(t *testing.T) {
		result := checkDeviation(models.Position{Latitude: 10.003, Longitude: 10.003}, nil, 100)
		assert.False(t, result.IsOffRoute)
		assert.Zero(t, result.DistanceFromRouteMeters)
	})
}

// TestRouteMonitorService_HysteresisGatesRecalculation verifies a brief
// deviation never recalculates: only continuous off-route time does.
func TestRouteMonitorService_HysteresisGatesRecalculation(t *testing.T) {
	router := new(MockRouter)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).
		Return(maps.RouteResult{EncodedPolyline: testPolyline, ETAText: "12 mins"}, nil)

	r := newTestRouteMonitor(router)
	installRoute(r, straightRoute(), models.LatLng{Latitude: 10.01, Longitude: 10})

	onRoute := models.Position{Latitude: 10.003, Longitude: 10}
	offRoute := models.Position{Latitude: 10.003, Longitude: 10.003}
	t0 := time.Now()

	// First off-route check only stamps the timer.
	result := r.Evaluate(offRoute, t0)
	assert.True(t, result.IsOffRoute)
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)

	// Still inside the hysteresis window.
	r.Evaluate(offRoute, t0.Add(2*time.Second))
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)

	// Back on route: the timer resets, the brief detour is forgotten.
	r.Evaluate(onRoute, t0.Add(3*time.Second))
	assert.Nil(t, r.RouteState().OffRouteSince)

	// A fresh deviation has to run the full window again.
	r.Evaluate(offRoute, t0.Add(4*time.Second))
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)

	// Continuously off-route past the window: recalculation fires.
	r.Evaluate(offRoute, t0.Add(10*time.Second))
	r.wg.Wait()
	router.AssertNumberOfCalls(t, "Route", 1)

	// The new route is installed and the deviation timer cleared.
	state := r.RouteState()
	assert.Equal(t, testPolyline, state.EncodedPolyline)
	assert.Nil(t, state.OffRouteSince)
}

// TestRouteMonitorService_RecalculateFloor verifies the hard minimum interval
// between recalculations, independent of how long the vehicle stays off route.
func TestRouteMonitorService_RecalculateFloor(t *testing.T) {
	router := new(MockRouter)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).
		Return(maps.RouteResult{}, errors.New("routing unavailable"))

	r := newTestRouteMonitor(router)
	installRoute(r, straightRoute(), models.LatLng{Latitude: 10.01, Longitude: 10})

	offRoute := models.Position{Latitude: 10.003, Longitude: 10.003}
	t0 := time.Now()
	r.mu.Lock()
	r.lastRecalc = t0
	r.mu.Unlock()

	r.Evaluate(offRoute, t0.Add(10*time.Second))
	r.Evaluate(offRoute, t0.Add(20*time.Second))
	r.wg.Wait()
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)

	// Past the floor the same continuous deviation recalculates.
	r.Evaluate(offRoute, t0.Add(125*time.Second))
	r.wg.Wait()
	router.AssertNumberOfCalls(t, "Route", 1)
}

// TestRouteMonitorService_ResetRecalculateTimer verifies lifting the floor
// for job phase transitions.
func TestRouteMonitorService_ResetRecalculateTimer(t *testing.T) {
	router := new(MockRouter)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).
		Return(maps.RouteResult{}, errors.New("routing unavailable"))

	r := newTestRouteMonitor(router)
	installRoute(r, straightRoute(), models.LatLng{Latitude: 10.01, Longitude: 10})

	offRoute := models.Position{Latitude: 10.003, Longitude: 10.003}
	t0 := time.Now()
	r.mu.Lock()
	r.lastRecalc = t0
	r.mu.Unlock()

	r.ResetRecalculateTimer()

	r.Evaluate(offRoute, t0.Add(10*time.Second))
	r.Evaluate(offRoute, t0.Add(20*time.Second))
	r.wg.Wait()
	router.AssertNumberOfCalls(t, "Route", 1)
}

// TestRouteMonitorService_StaleRecalculationDropped verifies a recalculation
// racing a route change never installs its result.
func TestRouteMonitorService_StaleRecalculationDropped(t *testing.T) {
	router := new(MockRouter)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).
		Return(maps.RouteResult{EncodedPolyline: testPolyline}, nil)

	r := newTestRouteMonitor(router)
	assert.NoError(t, r.SetRoute(testPolyline, models.LatLng{Latitude: 10.01, Longitude: 10}))

	r.mu.Lock()
	staleGeneration := r.generation
	r.mu.Unlock()

	// The route was cleared while the request was in flight.
	r.ClearRouteCache()

	r.recalculate(staleGeneration, models.LatLng{Latitude: 10, Longitude: 10}, models.LatLng{Latitude: 10.01, Longitude: 10})
	assert.Empty(t, r.RouteState().EncodedPolyline)
}

// TestRouteMonitorService_ClearRouteCache verifies checks report on-route
// once the route is gone.
func TestRouteMonitorService_ClearRouteCache(t *testing.T) {
	r := newTestRouteMonitor(new(MockRouter))
	assert.NoError(t, r.SetRoute(testPolyline, models.LatLng{Latitude: 43.252, Longitude: -126.453}))

	r.ClearRouteCache()

	result := r.CheckDeviation(models.Position{Latitude: 0, Longitude: 0})
	assert.False(t, result.IsOffRoute)
	assert.Empty(t, r.RouteState().EncodedPolyline)
}

// TestRouteMonitorService_StartStop exercises the lifecycle guard rails.
func TestRouteMonitorService_StartStop(t *testing.T) {
	r := newTestRouteMonitor(new(MockRouter))

	assert.NoError(t, r.Start())
	err := r.Start()
	assert.Error(t, err)
	assert.Equal(t, "route monitor service is already running", err.Error())

	assert.NoError(t, r.Stop())
	err = r.Stop()
	assert.Error(t, err)
	assert.Equal(t, "route monitor service is not running", err.Error())
}
