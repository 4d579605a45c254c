package location

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

// knotsToMetersPerSecond converts NMEA speed-over-ground to m/s.
const knotsToMetersPerSecond = 0.514444

// hdopToMeters is the nominal user-equivalent range error used to turn a
// dimensionless HDOP into an accuracy estimate in metres.
const hdopToMeters = 5.0

// maxSentencesPerFix bounds how many sentences a single read inspects.
// Receivers talk continuously, so without a cap a device that never emits
// RMC would keep the loop reading forever.
const maxSentencesPerFix = 128

// serialReadTimeout bounds the wait for the next sentence so a quiet port
// ends the read instead of hanging it.
const serialReadTimeout = 5 * time.Second

// SerialNMEAProvider retrieves fixes from a GPS device connected via serial
// port, e.g. the dash unit mounted in a tow truck.
type SerialNMEAProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication
}

// NewSerialNMEAProvider creates a new provider for the specified port and baud rate.
func NewSerialNMEAProvider(port string, baudRate int) *SerialNMEAProvider {
	return &SerialNMEAProvider{
		port:     port,
		baudRate: baudRate,
	}
}

// GetFix reads NMEA sentences from the device until it has assembled a fix.
// GGA supplies position and HDOP; an RMC sentence seen for the same cycle
// supplies speed over ground and course. A device that only emits GGA still
// yields a fix, with nil speed and heading, once the sentence cap or the
// read timeout is hit.
func (d *SerialNMEAProvider) GetFix() (Fix, error) {
	c := &serial.Config{Name: d.port, Baud: d.baudRate, ReadTimeout: serialReadTimeout}
	s, err := serial.OpenPort(c)
	if err != nil {
		if os.IsPermission(err) {
			return Fix{}, ErrPermissionDenied
		}
		return Fix{}, err
	}
	defer s.Close()

	return readFix(s)
}

func readFix(r io.Reader) (Fix, error) {
	var fix Fix
	haveGGA := false

	scanner := bufio.NewScanner(r)
	for seen := 0; seen < maxSentencesPerFix && scanner.Scan(); seen++ {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "$GPGGA"), strings.HasPrefix(line, "$GNGGA"):
			sentence, err := nmea.Parse(line)
			if err != nil {
				continue
			}
			if gga, ok := sentence.(nmea.GGA); ok {
				fix.Latitude = gga.Latitude
				fix.Longitude = gga.Longitude
				fix.Accuracy = gga.HDOP * hdopToMeters
				fix.Timestamp = time.Now()
				haveGGA = true
			}
		case strings.HasPrefix(line, "$GPRMC"), strings.HasPrefix(line, "$GNRMC"):
			sentence, err := nmea.Parse(line)
			if err != nil {
				continue
			}
			if rmc, ok := sentence.(nmea.RMC); ok && rmc.Validity == nmea.ValidRMC {
				speed := rmc.Speed * knotsToMetersPerSecond
				course := rmc.Course
				fix.Speed = &speed
				fix.Heading = &course
			}
		}

		if haveGGA && fix.Speed != nil {
			return fix, nil
		}
	}

	if haveGGA {
		return fix, nil
	}
	if err := scanner.Err(); err != nil {
		return Fix{}, err
	}

	return Fix{}, ErrNoFix
}

// Close releases the provider. The port is opened per read, so there is
// nothing to tear down.
func (d *SerialNMEAProvider) Close() error {
	return nil
}
