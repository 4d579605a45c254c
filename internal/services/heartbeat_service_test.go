package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/roadhelp/dispatch-core/internal/models"
)

func newTestHeartbeat(locationStore *MockLocationStore, mqttClient *MockMQTTClient) (*HeartbeatService, *models.SessionState, *stubPositionSource) {
	providerInfo := new(MockProviderInfo)
	providerInfo.On("GetProviderID").Return("provider-1")

	session := models.NewSessionState()
	tracker := &stubPositionSource{}

	h := NewHeartbeatService("providers/heartbeat", 50*time.Millisecond, 1,
		providerInfo, tracker, locationStore, nil, session, zerolog.Nop())
	if mqttClient != nil {
		h.MqttClient = mqttClient
	}
	return h, session, tracker
}

// TestHeartbeatService_StartStop verifies the lifecycle flags: starting
// marks the provider online in both the session and the store, stopping
// reverses it.
func TestHeartbeatService_StartStop(t *testing.T) {
	mockStore := new(MockLocationStore)
	mockStore.On("SetOnline", mock.Anything, "provider-1", true).Return(nil).Once()
	mockStore.On("SetOnline", mock.Anything, "provider-1", false).Return(nil).Once()
	mockStore.On("PutHeartbeat", mock.Anything, mock.Anything).Return(nil).Maybe()

	h, session, _ := newTestHeartbeat(mockStore, nil)

	assert.NoError(t, h.Start())
	assert.True(t, session.Online())

	err := h.Start()
	assert.Error(t, err)
	assert.Equal(t, "heartbeat service is already running", err.Error())

	assert.NoError(t, h.Stop())
	assert.False(t, session.Online())

	err = h.Stop()
	assert.Error(t, err)
	assert.Equal(t, "heartbeat service is not running", err.Error())
	mockStore.AssertExpectations(t)
}

// TestHeartbeatService_BeatWritesStoreAndMQTT verifies one heartbeat reaches
// both the location store and the live topic.
func TestHeartbeatService_BeatWritesStoreAndMQTT(t *testing.T) {
	mockStore := new(MockLocationStore)
	mockStore.On("PutHeartbeat", mock.Anything, mock.MatchedBy(func(hb models.Heartbeat) bool {
		return hb.ProviderID == "provider-1" && hb.Status == models.StatusAlive && hb.Position.Latitude == 10
	})).Return(nil)

	mockMQTT := new(MockMQTTClient)
	mockMQTT.On("Publish", "providers/heartbeat", byte(1), false, mock.Anything).Return(&fakeToken{})

	h, session, tracker := newTestHeartbeat(mockStore, mockMQTT)
	h.ctx = context.Background()
	session.SetOnline(true)
	tracker.set(models.Position{Latitude: 10, Longitude: 10, CapturedAt: time.Now()})

	h.beat()

	mockStore.AssertNumberOfCalls(t, "PutHeartbeat", 1)
	mockMQTT.AssertNumberOfCalls(t, "Publish", 1)
}

// TestHeartbeatService_BeatSuppressed verifies no writes happen while
// logging out, while off-shift, or before the first position.
func TestHeartbeatService_BeatSuppressed(t *testing.T) {
	t.Run("logging out", func(t *testing.T) {
		mockStore := new(MockLocationStore)
		h, session, tracker := newTestHeartbeat(mockStore, nil)
		h.ctx = context.Background()
		session.SetOnline(true)
		session.SetLoggingOut(true)
		tracker.set(models.Position{Latitude: 10, Longitude: 10})

		h.beat()
		mockStore.AssertNotCalled(t, "PutHeartbeat", mock.Anything, mock.Anything)
	})

	t.Run("off shift", func(t *testing.T) {
		mockStore := new(MockLocationStore)
		h, _, tracker := newTestHeartbeat(mockStore, nil)
		h.ctx = context.Background()
		tracker.set(models.Position{Latitude: 10, Longitude: 10})

		h.beat()
		mockStore.AssertNotCalled(t, "PutHeartbeat", mock.Anything, mock.Anything)
	})

	t.Run("no position yet", func(t *testing.T) {
		mockStore := new(MockLocationStore)
		h, session, _ := newTestHeartbeat(mockStore, nil)
		h.ctx = context.Background()
		session.SetOnline(true)

		h.beat()
		mockStore.AssertNotCalled(t, "PutHeartbeat", mock.Anything, mock.Anything)
	})
}

// TestHeartbeatService_LoopBeats verifies heartbeats flow on the interval
// once started.
func TestHeartbeatService_LoopBeats(t *testing.T) {
	mockStore := new(MockLocationStore)
	mockStore.On("SetOnline", mock.Anything, "provider-1", mock.Anything).Return(nil)
	mockStore.On("PutHeartbeat", mock.Anything, mock.Anything).Return(nil)

	h, _, tracker := newTestHeartbeat(mockStore, nil)
	tracker.set(models.Position{Latitude: 10, Longitude: 10, CapturedAt: time.Now()})

	assert.NoError(t, h.Start())
	time.Sleep(120 * time.Millisecond)
	assert.NoError(t, h.Stop())

	mockStore.AssertCalled(t, "PutHeartbeat", mock.Anything, mock.Anything)
}
