package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roadhelp/dispatch-core/internal/maps"
	"github.com/roadhelp/dispatch-core/internal/models"
	"github.com/roadhelp/dispatch-core/internal/services"
	"github.com/roadhelp/dispatch-core/internal/store"
	"github.com/roadhelp/dispatch-core/internal/utils"
	"github.com/roadhelp/dispatch-core/pkg/file"
	"github.com/roadhelp/dispatch-core/pkg/identity"
	"github.com/roadhelp/dispatch-core/pkg/location"
	"github.com/roadhelp/dispatch-core/pkg/mqtt"
)

// Service is the lifecycle contract every registered service satisfies.
type Service interface {
	Start() error
	Stop() error
}

// ServiceRegistry manages the lifecycle of the dispatch core services.
type ServiceRegistry struct {
	services    map[string]Service
	serviceKeys []string // Maintains order of service registration

	mqttClient    mqtt.MQTTClient
	fileClient    file.FileOperations
	locationStore store.LocationStore
	jobQueue      store.JobQueue
	geocoder      maps.Geocoder
	router        maps.Router
	session       *models.SessionState
	monitor       *services.ConnectivityMonitor
	Logger        zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, fileClient file.FileOperations,
	locationStore store.LocationStore, jobQueue store.JobQueue, geocoder maps.Geocoder,
	router maps.Router, session *models.SessionState, monitor *services.ConnectivityMonitor,
	logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:      make(map[string]Service),
		mqttClient:    mqttClient,
		fileClient:    fileClient,
		locationStore: locationStore,
		jobQueue:      jobQueue,
		geocoder:      geocoder,
		router:        router,
		session:       session,
		monitor:       monitor,
		Logger:        logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return err
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
// The tracker is always constructed when enabled, before anything that
// consumes its position.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, providerInfo identity.ProviderInfoInterface) error {
	var tracker *services.TrackerService

	if config.Services.Tracker.Enabled {
		provider, err := sr.buildLocationProvider(config)
		if err != nil {
			sr.Logger.Error().Err(err).Msg("Failed to initialize location provider")
			return err
		}

		tracker = services.NewTrackerService(
			services.TrackerConfig{
				Topic:              config.Services.Tracker.Topic,
				QOS:                config.Services.Tracker.QOS,
				SampleInterval:     config.Services.Tracker.SampleInterval,
				SmoothingInterval:  config.Services.Tracker.SmoothingInterval,
				SmoothingBlend:     config.Services.Tracker.SmoothingBlend,
				AccuracyCeilingM:   config.Services.Tracker.AccuracyCeilingM,
				MinMovementSpeedMS: config.Services.Tracker.MinMovementSpeedMS,
				GeocodeMinInterval: config.Services.Tracker.GeocodeMinInterval,
				GeocodeMinMoveM:    config.Services.Tracker.GeocodeMinMoveM,
				FirstFixTimeout:    config.Services.Tracker.FirstFixTimeout,
				LastKnownFile:      config.Services.Tracker.LastKnownFile,
			},
			provider,
			sr.geocoder,
			sr.fileClient,
			sr.mqttClient,
			sr.Logger,
		)
		sr.RegisterService("tracker", tracker)
	}

	if config.Services.Heartbeat.Enabled {
		if tracker == nil {
			return errors.New("heartbeat service requires the tracker to be enabled")
		}
		heartbeat := services.NewHeartbeatService(
			config.Services.Heartbeat.Topic,
			config.Liveness.HeartbeatInterval,
			config.Services.Heartbeat.QOS,
			providerInfo,
			tracker,
			sr.locationStore,
			sr.mqttClient,
			sr.session,
			sr.Logger,
		)
		sr.RegisterService("heartbeat", heartbeat)
	}

	if config.Services.Discovery.Enabled {
		if tracker == nil {
			return errors.New("discovery service requires the tracker to be enabled")
		}
		discovery := services.NewDiscoveryService(
			config.Services.Discovery.PollInterval,
			config.Liveness.TTL,
			config.Services.Discovery.RadiusKm,
			sr.locationStore,
			tracker,
			sr.Logger,
		)
		sr.RegisterService("discovery", discovery)
		if sr.monitor != nil {
			sr.monitor.Register(discovery)
		}
	}

	if config.Services.Dispatch.Enabled {
		if tracker == nil {
			return errors.New("dispatch service requires the tracker to be enabled")
		}
		dispatch := services.NewDispatchService(
			config.Services.Dispatch.PollInterval,
			config.Services.Dispatch.DeclineCooldown,
			sr.jobQueue,
			providerInfo,
			sr.session,
			tracker,
			sr.Logger,
		)
		sr.RegisterService("dispatch", dispatch)
		if sr.monitor != nil {
			sr.monitor.Register(dispatch)
		}
	}

	if config.Services.RouteMonitor.Enabled {
		if tracker == nil {
			return errors.New("route monitor service requires the tracker to be enabled")
		}
		routeMonitor := services.NewRouteMonitorService(
			config.Services.RouteMonitor.CheckInterval,
			config.Services.RouteMonitor.DeviationThresholdM,
			config.Services.RouteMonitor.MinOffRouteDuration,
			config.Services.RouteMonitor.RecalculateFloor,
			sr.router,
			tracker,
			sr.Logger,
		)
		sr.RegisterService("route_monitor", routeMonitor)
	}

	return nil
}

// buildLocationProvider picks the sensor or the geolocation API per config.
func (sr *ServiceRegistry) buildLocationProvider(config *utils.Config) (location.Provider, error) {
	if config.Services.Tracker.SensorBased {
		return location.NewSerialNMEAProvider(
			config.Services.Tracker.GPSDevicePort,
			config.Services.Tracker.GPSDeviceBaudRate,
		), nil
	}
	return location.NewGoogleGeolocationProvider(config.Maps.APIKey)
}

// GetService returns a registered service by name, or nil.
func (sr *ServiceRegistry) GetService(name string) Service {
	return sr.services[name]
}
