package services

import (
	"context"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"

	"github.com/roadhelp/dispatch-core/internal/maps"
	"github.com/roadhelp/dispatch-core/internal/models"
	"github.com/roadhelp/dispatch-core/internal/store"
	"github.com/roadhelp/dispatch-core/pkg/identity"
	"github.com/roadhelp/dispatch-core/pkg/location"
)

// fakeToken satisfies the paho Token interface for publish expectations.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

// MockMQTTClient mocks the MQTT client used by the publishing services.
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() pahomqtt.Token {
	args := m.Called()
	return args.Get(0).(pahomqtt.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(pahomqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	args := m.Called(topic, qos, callback)
	return args.Get(0).(pahomqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) pahomqtt.Token {
	args := m.Called(topics)
	return args.Get(0).(pahomqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockLocationStore mocks the shared provider-position store.
type MockLocationStore struct {
	mock.Mock
}

func (m *MockLocationStore) PutHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	args := m.Called(ctx, hb)
	return args.Error(0)
}

func (m *MockLocationStore) SetOnline(ctx context.Context, providerID string, online bool) error {
	args := m.Called(ctx, providerID, online)
	return args.Error(0)
}

func (m *MockLocationStore) QueryOnline(ctx context.Context) ([]store.ProviderRecord, error) {
	args := m.Called(ctx)
	if records, ok := args.Get(0).([]store.ProviderRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockJobQueue mocks the server-side job queue.
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) NextJob(ctx context.Context, providerID string) (*models.QueuedJob, error) {
	args := m.Called(ctx, providerID)
	if job, ok := args.Get(0).(*models.QueuedJob); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobQueue) QueueSize(ctx context.Context, providerID string) (int, error) {
	args := m.Called(ctx, providerID)
	return args.Int(0), args.Error(1)
}

func (m *MockJobQueue) Accept(ctx context.Context, providerID, jobID string) error {
	args := m.Called(ctx, providerID, jobID)
	return args.Error(0)
}

// MockProviderInfo mocks the provider identity accessor.
type MockProviderInfo struct {
	mock.Mock
}

func (m *MockProviderInfo) LoadProviderInfo() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockProviderInfo) SaveProviderID(providerID string) error {
	args := m.Called(providerID)
	return args.Error(0)
}

func (m *MockProviderInfo) GetProviderID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProviderInfo) GetProviderIdentity() *identity.Identity {
	args := m.Called()
	if id, ok := args.Get(0).(*identity.Identity); ok {
		return id
	}
	return nil
}

// MockLocationProvider mocks the raw fix source.
type MockLocationProvider struct {
	mock.Mock
}

func (m *MockLocationProvider) GetFix() (location.Fix, error) {
	args := m.Called()
	return args.Get(0).(location.Fix), args.Error(1)
}

func (m *MockLocationProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockGeocoder mocks reverse geocoding.
type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	args := m.Called(ctx, lat, lng)
	return args.String(0), args.Error(1)
}

// MockRouter mocks the directions API.
type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) Route(ctx context.Context, origin, destination models.LatLng) (maps.RouteResult, error) {
	args := m.Called(ctx, origin, destination)
	return args.Get(0).(maps.RouteResult), args.Error(1)
}

// MockFileOperations mocks the file helper used for persistence.
type MockFileOperations struct {
	mock.Mock
}

func (m *MockFileOperations) IsFileExists(filePath string) (bool, error) {
	args := m.Called(filePath)
	return args.Bool(0), args.Error(1)
}

func (m *MockFileOperations) ReadFile(filePath string) (string, error) {
	args := m.Called(filePath)
	return args.String(0), args.Error(1)
}

func (m *MockFileOperations) ReadFileRaw(filePath string) ([]byte, error) {
	args := m.Called(filePath)
	if data, ok := args.Get(0).([]byte); ok {
		return data, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFileOperations) ReadJsonFile(filePath string, v any) error {
	args := m.Called(filePath, v)
	return args.Error(0)
}

func (m *MockFileOperations) ReadYamlFile(filePath string, v any) error {
	args := m.Called(filePath, v)
	return args.Error(0)
}

func (m *MockFileOperations) WriteFile(filePath string, data string) error {
	args := m.Called(filePath, data)
	return args.Error(0)
}

func (m *MockFileOperations) WriteFileRaw(filePath string, data []byte) error {
	args := m.Called(filePath, data)
	return args.Error(0)
}

func (m *MockFileOperations) WriteJsonFile(filePath string, data any) error {
	args := m.Called(filePath, data)
	return args.Error(0)
}

func (m *MockFileOperations) WriteYamlFile(filePath string, data any) error {
	args := m.Called(filePath, data)
	return args.Error(0)
}

// stubPositionSource feeds a fixed position into the consumers.
type stubPositionSource struct {
	mu  sync.Mutex
	pos *models.Position
}

func (s *stubPositionSource) set(pos models.Position) {
	s.mu.Lock()
	s.pos = &pos
	s.mu.Unlock()
}

func (s *stubPositionSource) clear() {
	s.mu.Lock()
	s.pos = nil
	s.mu.Unlock()
}

func (s *stubPositionSource) CurrentPosition() (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == nil {
		return models.Position{}, false
	}
	return *s.pos, true
}
