package matching

import (
	"math"
	"testing"

	"github.com/twpayne/go-polyline"
)

//encodeShape builds an encoded polyline from lat/lon pairs for testing
func encodeShape(coords [][]float64) string {
	return string(polyline.EncodeCoords(coords))
}

//straightShapeCoords is a straight line along the equator from lon 0 to 0.01
func straightShapeCoords() [][]float64 {
	coords := make([][]float64, 0, 11)
	for i := 0; i <= 10; i++ {
		coords = append(coords, []float64{0.0, float64(i) * 0.001})
	}
	return coords
}

func TestWebMercatorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{
			name: "origin",
			lat:  0.0,
			lon:  0.0,
		},
		{
			name: "central europe",
			lat:  48.7758,
			lon:  9.1829,
		},
		{
			name: "southern hemisphere",
			lat:  -33.8688,
			lon:  151.2093,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon := wgs84(webMercator(tt.lat, tt.lon))
			if math.Abs(lat-tt.lat) > 1e-9 || math.Abs(lon-tt.lon) > 1e-9 {
				t.Errorf("round trip of (%v, %v) = (%v, %v)", tt.lat, tt.lon, lat, lon)
			}
		})
	}
}

func TestNewLineStringRequiresTwoPoints(t *testing.T) {
	if _, err := NewLineString([]Point{{X: 0, Y: 0}}); err == nil {
		t.Errorf("NewLineString with a single point should fail")
	}
}

func TestDecodeShape(t *testing.T) {
	shape, err := DecodeShape(encodeShape(straightShapeCoords()))
	if err != nil {
		t.Errorf("DecodeShape failed: %v", err)
		return
	}

	//0.01 degrees of longitude at the equator in the mercator plane
	want := earthRadiusMeters * 0.01 * math.Pi / 180.0
	if math.Abs(shape.Length()-want) > 1.0 {
		t.Errorf("shape length = %v, want %v", shape.Length(), want)
	}
}

func TestDecodeShapeInvalid(t *testing.T) {
	if _, err := DecodeShape("not a polyline \xff"); err == nil {
		t.Errorf("DecodeShape with garbage input should fail")
	}
}

func TestProjectAndInterpolate(t *testing.T) {
	shape, err := DecodeShape(encodeShape(straightShapeCoords()))
	if err != nil {
		t.Errorf("DecodeShape failed: %v", err)
		return
	}

	//a point halfway along the line projects to half the arc length
	halfway := webMercator(0.0, 0.005)
	projection := shape.Project(halfway)
	if math.Abs(projection-shape.Length()/2.0) > 0.5 {
		t.Errorf("projection = %v, want %v", projection, shape.Length()/2.0)
	}

	//interpolating the projection returns the point itself
	lat, lon := wgs84(shape.Interpolate(projection))
	if math.Abs(lat) > 1e-6 || math.Abs(lon-0.005) > 1e-6 {
		t.Errorf("interpolated point = (%v, %v), want (0, 0.005)", lat, lon)
	}

	//interpolation clamps to the line ends
	start := shape.Interpolate(-10.0)
	if start != shape.points[0] {
		t.Errorf("negative arc length should clamp to the first point")
	}
	end := shape.Interpolate(shape.Length() + 10.0)
	if end != shape.points[len(shape.points)-1] {
		t.Errorf("overlong arc length should clamp to the last point")
	}
}

func TestDistanceAndCovers(t *testing.T) {
	shape, err := DecodeShape(encodeShape(straightShapeCoords()))
	if err != nil {
		t.Errorf("DecodeShape failed: %v", err)
		return
	}

	//0.0002 degrees of latitude north of the line, roughly 22 meters
	offLine := webMercator(0.0002, 0.005)

	d := shape.Distance(offLine)
	if math.Abs(d-22.26) > 0.5 {
		t.Errorf("distance = %v, want about 22.26", d)
	}
	if !shape.Covers(offLine, 30.0) {
		t.Errorf("point should be covered by a 30m buffer")
	}
	if shape.Covers(offLine, 10.0) {
		t.Errorf("point should not be covered by a 10m buffer")
	}
}
