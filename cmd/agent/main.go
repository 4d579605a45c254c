package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	gmaps "googlemaps.github.io/maps"

	imaps "github.com/roadhelp/dispatch-core/internal/maps"
	"github.com/roadhelp/dispatch-core/internal/models"
	"github.com/roadhelp/dispatch-core/internal/service_registry"
	"github.com/roadhelp/dispatch-core/internal/services"
	"github.com/roadhelp/dispatch-core/internal/store"
	"github.com/roadhelp/dispatch-core/internal/utils"
	"github.com/roadhelp/dispatch-core/pkg/file"
	"github.com/roadhelp/dispatch-core/pkg/identity"
	"github.com/roadhelp/dispatch-core/pkg/mqtt"
)

func main() {
	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Generate a unique MQTT Client ID by appending a UUID
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	log.Info().Msgf("Using MQTT Client ID: %s", config.MQTT.ClientID)

	// Load the provider identity
	providerInfo := identity.NewProviderInfo(config.Identity.ProviderFile, fileClient)
	if err := providerInfo.LoadProviderInfo(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load provider information")
	}

	session := models.NewSessionState()
	session.SetRegisteredProvider(providerInfo.GetProviderID() != "")

	monitor := services.NewConnectivityMonitor(log)

	// Initialize the shared MQTT connection. Connectivity handlers must be
	// registered before the first connect so the initial callback is not missed.
	mqttClient := mqtt.NewMqttService(fileClient)
	mqttClient.SetConnectHandler(monitor.HandleConnect)
	mqttClient.SetConnectionLostHandler(monitor.HandleConnectionLost)
	if err := mqttClient.Initialize(config.MQTT.Broker, config.MQTT.ClientID, config.MQTT.CACertificate); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	// Initialize the Redis-backed location store and job queue
	redisClient := redis.NewClient(&redis.Options{Addr: config.Redis.Addr})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	cancelPing()
	redisStore := store.NewRedisStore(redisClient)

	// Geocoding, routing and network-based positioning all share one Maps client
	var geocoder imaps.Geocoder
	var router imaps.Router
	if config.Maps.APIKey != "" {
		mapsClient, err := gmaps.NewClient(gmaps.WithAPIKey(config.Maps.APIKey))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Maps client")
		}
		geocoder = imaps.NewGoogleGeocoder(mapsClient)
		router = imaps.NewGoogleRouter(mapsClient)
	} else if config.Services.RouteMonitor.Enabled {
		log.Fatal().Msg("Route monitoring requires a Maps API key")
	}

	// Create a new service registry to manage services
	registry := service_registry.NewServiceRegistry(mqttClient, fileClient,
		redisStore, redisStore, geocoder, router, session, monitor, log)

	// Register all services based on the configuration
	if err := registry.RegisterServices(config, providerInfo); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	if dispatch, ok := registry.GetService("dispatch").(*services.DispatchService); ok && dispatch != nil {
		dispatch.SetJobHandler(func(job models.QueuedJob) {
			log.Info().
				Str("job_id", job.JobID).
				Str("service_type", string(job.ServiceType)).
				Msg("Job offer available")
		})
	}

	// Start all registered services in the registry
	if err := registry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	session.SetLoggingOut(true)
	if err := registry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Error while stopping services")
	}
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Error while closing Redis client")
	}
	mqttClient.Disconnect(250)
}
