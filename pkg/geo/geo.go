// Package geo contains pure geographic computation helpers.
package geo

import "math"

const (
	earthRadiusKm = 6371.0
	earthRadiusM  = earthRadiusKm * 1000
)

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// MetersBetween returns the great-circle distance in metres.
func MetersBetween(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineKm(lat1, lng1, lat2, lng2) * 1000
}

// InitialBearing returns the spherical bearing in degrees [0,360) from the
// first point toward the second.
func InitialBearing(lat1, lng1, lat2, lng2 float64) float64 {
	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)
	dLng := degreesToRadians(lng2 - lng1)

	y := math.Sin(dLng) * math.Cos(rLat2)
	x := math.Cos(rLat1)*math.Sin(rLat2) -
		math.Sin(rLat1)*math.Cos(rLat2)*math.Cos(dLng)

	bearing := radiansToDegrees(math.Atan2(y, x))
	return math.Mod(bearing+360, 360)
}

// Interpolate moves from (lat1,lng1) toward (lat2,lng2) by the given
// fraction in [0,1] using simple linear blending. Adequate for the
// sub-hundred-metre steps of render smoothing.
func Interpolate(lat1, lng1, lat2, lng2, fraction float64) (float64, float64) {
	return lat1 + (lat2-lat1)*fraction, lng1 + (lng2-lng1)*fraction
}

// PointToSegmentMeters returns the distance in metres from point p to the
// segment (a,b), projecting in a locally-flat equirectangular plane centred
// on p. Valid at city-street scale.
func PointToSegmentMeters(pLat, pLng, aLat, aLng, bLat, bLng float64) float64 {
	cosLat := math.Cos(degreesToRadians(pLat))

	// Flatten to metres relative to p.
	ax := degreesToRadians(aLng-pLng) * cosLat * earthRadiusM
	ay := degreesToRadians(aLat-pLat) * earthRadiusM
	bx := degreesToRadians(bLng-pLng) * cosLat * earthRadiusM
	by := degreesToRadians(bLat-pLat) * earthRadiusM

	dx := bx - ax
	dy := by - ay

	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(ax, ay)
	}

	// Projection of p (the origin) onto the segment, clamped to its ends.
	t := -(ax*dx + ay*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	cx := ax + t*dx
	cy := ay + t*dy
	return math.Hypot(cx, cy)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
