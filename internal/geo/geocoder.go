package geo

import (
	"hash/fnv"
	"strings"
)

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Geocoder resolves a free-text address to coordinates.
type Geocoder interface {
	Locate(address string) Point
}

// DefaultAnchor is the reference point simulated coordinates are scattered around (Logroño).
var DefaultAnchor = Point{Lat: 42.4627, Lng: -2.4449}

// HashGeocoder derives stable pseudo-coordinates from a hash of the address.
// The same address always lands on the same point; it does not resolve real places.
type HashGeocoder struct {
	Anchor Point
	// Spread is the maximum offset in degrees applied on each axis.
	Spread float64
}

// NewHashGeocoder returns a HashGeocoder around DefaultAnchor with a 0.15 degree spread.
func NewHashGeocoder() HashGeocoder {
	return HashGeocoder{Anchor: DefaultAnchor, Spread: 0.15}
}

func (g HashGeocoder) Locate(address string) Point {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(address))))
	sum := h.Sum32()
	// low and high halves drive the two axes independently
	latFrac := float64(sum&0xffff)/0xffff*2 - 1
	lngFrac := float64(sum>>16)/0xffff*2 - 1
	return Point{
		Lat: g.Anchor.Lat + latFrac*g.Spread,
		Lng: g.Anchor.Lng + lngFrac*g.Spread,
	}
}

// SimulateCoordinates geocodes address with the default HashGeocoder.
func SimulateCoordinates(address string) (lat, lng float64) {
	p := NewHashGeocoder().Locate(address)
	return p.Lat, p.Lng
}
