package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/roadhelp/dispatch-core/internal/models"
	"github.com/roadhelp/dispatch-core/internal/store"
	"github.com/roadhelp/dispatch-core/pkg/identity"
	"github.com/roadhelp/dispatch-core/pkg/mqtt"
)

// HeartbeatService periodically writes the provider's position and liveness
// timestamp to the location store, and mirrors the heartbeat to an MQTT
// topic for live subscribers. The write interval must stay paired with the
// discovery TTL; both come from the shared liveness configuration.
type HeartbeatService struct {
	Topic        string
	Interval     time.Duration
	QOS          int
	ProviderInfo identity.ProviderInfoInterface
	Tracker      PositionSource
	Store        store.LocationStore
	MqttClient   mqtt.MQTTClient
	Session      *models.SessionState
	Logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(topic string, interval time.Duration, qos int, providerInfo identity.ProviderInfoInterface,
	tracker PositionSource, locationStore store.LocationStore, mqttClient mqtt.MQTTClient,
	session *models.SessionState, logger zerolog.Logger) *HeartbeatService {

	return &HeartbeatService{
		Topic:        topic,
		Interval:     interval,
		QOS:          qos,
		ProviderInfo: providerInfo,
		Tracker:      tracker,
		Store:        locationStore,
		MqttClient:   mqttClient,
		Session:      session,
		Logger:       logger,
	}
}

// Start launches the heartbeat loop in a separate goroutine and flags the
// provider online in the store.
func (h *HeartbeatService) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.Session.SetOnline(true)

	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	if err := h.Store.SetOnline(ctx, h.ProviderInfo.GetProviderID(), true); err != nil {
		h.Logger.Error().Err(err).Msg("Failed to flag provider online")
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().Str("topic", h.Topic).Dur("interval", h.Interval).Msg("HeartbeatService started")
	return nil
}

// Stop gracefully stops the heartbeat service and flags the provider offline.
func (h *HeartbeatService) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()
	h.Session.SetOnline(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Store.SetOnline(ctx, h.ProviderInfo.GetProviderID(), false); err != nil {
		h.Logger.Error().Err(err).Msg("Failed to flag provider offline")
	}

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatService stopped")
	return nil
}

// runHeartbeatLoop continuously sends heartbeat messages at the specified interval.
func (h *HeartbeatService) runHeartbeatLoop() {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.beat()
		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

// beat writes one heartbeat. Writes are suppressed while the session is
// logging out or the provider is not accepting work, so a torn-down session
// can never resurrect itself in the store.
func (h *HeartbeatService) beat() {
	if h.Session.LoggingOut() || !h.Session.Online() {
		return
	}

	position, ok := h.Tracker.CurrentPosition()
	if !ok {
		h.Logger.Debug().Msg("No position yet; skipping heartbeat")
		return
	}

	heartbeat := models.Heartbeat{
		ProviderID: h.ProviderInfo.GetProviderID(),
		Position:   position,
		Status:     models.StatusAlive,
		Stats:      collectDeviceStats(h.Logger),
		Timestamp:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.Interval)
	defer cancel()
	if err := h.Store.PutHeartbeat(ctx, heartbeat); err != nil {
		h.Logger.Error().Err(err).Msg("Failed to write heartbeat to location store")
		return
	}

	if h.MqttClient != nil && h.Topic != "" {
		payload, err := json.Marshal(heartbeat)
		if err != nil {
			h.Logger.Error().Err(err).Msg("Failed to serialize heartbeat message")
			return
		}

		token := h.MqttClient.Publish(h.Topic, byte(h.QOS), false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
			return
		}
	}

	h.Logger.Debug().Msg("Heartbeat published successfully")
}

// collectDeviceStats samples basic device health. Failures degrade to zero
// values; a heartbeat without stats is still a heartbeat.
func collectDeviceStats(logger zerolog.Logger) models.DeviceStats {
	var stats models.DeviceStats

	cpuPercentages, err := cpu.Percent(0, false)
	if err != nil || len(cpuPercentages) == 0 {
		logger.Debug().Err(err).Msg("Failed to get CPU usage")
	} else {
		stats.CPUPercent = cpuPercentages[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to get memory usage")
	} else {
		stats.MemoryPercent = vm.UsedPercent
	}

	return stats
}
