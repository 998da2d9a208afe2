package google

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// maxBiasRadius is the largest circle radius Places accepts, in meters.
const maxBiasRadius = 50000

// ParseCircle reads a "lat,lng,radius_meters" string. An empty string
// returns (nil, nil).
func ParseCircle(s string) (*Circle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, eris.Errorf("google: location bias %q: want lat,lng,radius", s)
	}

	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "google: location bias %q", s)
		}
		vals[i] = v
	}

	c := &Circle{Lat: vals[0], Lng: vals[1], RadiusMeters: vals[2]}
	switch {
	case c.Lat < -90 || c.Lat > 90:
		return nil, eris.Errorf("google: location bias latitude %v out of range", c.Lat)
	case c.Lng < -180 || c.Lng > 180:
		return nil, eris.Errorf("google: location bias longitude %v out of range", c.Lng)
	case c.RadiusMeters <= 0 || c.RadiusMeters > maxBiasRadius:
		return nil, eris.Errorf("google: location bias radius must be in (0, %d]", maxBiasRadius)
	}
	return c, nil
}
