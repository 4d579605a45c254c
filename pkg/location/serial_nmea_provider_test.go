package location

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	ggaSentence = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	rmcSentence = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
)

// endlessSentences replays the same NMEA line forever, like a live receiver
// that never stops talking.
type endlessSentences struct {
	line string
}

func (e *endlessSentences) Read(p []byte) (int, error) {
	return copy(p, e.line+"\r\n"), nil
}

func TestReadFix_GGAAndRMC(t *testing.T) {
	fix, err := readFix(strings.NewReader(ggaSentence + "\r\n" + rmcSentence + "\r\n"))
	assert.NoError(t, err)

	assert.InDelta(t, 48.1173, fix.Latitude, 1e-3)
	assert.InDelta(t, 11.5167, fix.Longitude, 1e-3)
	assert.InDelta(t, 0.9*hdopToMeters, fix.Accuracy, 1e-6)

	if assert.NotNil(t, fix.Speed) {
		assert.InDelta(t, 22.4*knotsToMetersPerSecond, *fix.Speed, 1e-6)
	}
	if assert.NotNil(t, fix.Heading) {
		assert.InDelta(t, 84.4, *fix.Heading, 1e-6)
	}
}

// A receiver configured to emit only GGA must still produce a fix once the
// stream ends; speed and heading stay unknown.
func TestReadFix_GGAOnly(t *testing.T) {
	fix, err := readFix(strings.NewReader(ggaSentence + "\r\n"))
	assert.NoError(t, err)

	assert.InDelta(t, 48.1173, fix.Latitude, 1e-3)
	assert.Nil(t, fix.Speed)
	assert.Nil(t, fix.Heading)
}

func TestReadFix_NoUsableSentences(t *testing.T) {
	_, err := readFix(strings.NewReader("$GPVTG,084.4,T,077.8,M,022.4,N,041.5,K*43\r\n"))
	assert.ErrorIs(t, err, ErrNoFix)
}

// A live stream that never carries RMC must not hold the read open forever:
// the sentence cap ends it with whatever was assembled.
func TestReadFix_BoundedOnEndlessStream(t *testing.T) {
	fix, err := readFix(&endlessSentences{line: ggaSentence})
	assert.NoError(t, err)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-3)
	assert.Nil(t, fix.Speed)
}
