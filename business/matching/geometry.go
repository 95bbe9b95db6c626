// Package matching implements the AVL match engine: planar shape geometry,
// spatial and temporal scoring of nominal trip candidates, bayesian
// convergence over successive samples and per-stop metric prediction.
package matching

import (
	"fmt"
	"math"

	"github.com/twpayne/go-polyline"
)

const earthRadiusMeters = 6378137.0

// Point is a coordinate pair in the Web Mercator plane (meters)
type Point struct {
	X float64
	Y float64
}

//webMercator projects a WGS-84 coordinate into the Web Mercator plane.
//Distances in this projection are only approximately metric but adequate at
//city scale, where all matching happens.
func webMercator(lat float64, lon float64) Point {
	x := earthRadiusMeters * lon * math.Pi / 180.0
	y := earthRadiusMeters * math.Log(math.Tan(math.Pi/4.0+lat*math.Pi/360.0))
	return Point{X: x, Y: y}
}

//wgs84 is the inverse of webMercator, returns latitude and longitude in degrees
func wgs84(p Point) (float64, float64) {
	lon := p.X / earthRadiusMeters * 180.0 / math.Pi
	lat := (2.0*math.Atan(math.Exp(p.Y/earthRadiusMeters)) - math.Pi/2.0) * 180.0 / math.Pi
	return lat, lon
}

func distance(a Point, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// LineString is an ordered sequence of points in the Web Mercator plane with
// precomputed cumulative segment lengths
type LineString struct {
	points  []Point
	lengths []float64
}

// NewLineString builds a LineString from at least two points
func NewLineString(points []Point) (*LineString, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("line string requires at least 2 points, got %d", len(points))
	}
	lengths := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		lengths[i] = lengths[i-1] + distance(points[i-1], points[i])
	}
	return &LineString{points: points, lengths: lengths}, nil
}

// DecodeShape decodes an encoded polyline into a Web Mercator LineString
func DecodeShape(encodedPolyline string) (*LineString, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encodedPolyline))
	if err != nil {
		return nil, fmt.Errorf("decoding shape polyline: %w", err)
	}
	points := make([]Point, 0, len(coords))
	for _, coord := range coords {
		points = append(points, webMercator(coord[0], coord[1]))
	}
	return NewLineString(points)
}

// Length returns the total arc length of the line in meters
func (l *LineString) Length() float64 {
	return l.lengths[len(l.lengths)-1]
}

//nearestOnSegment returns the point on segment a-b nearest to p and its
//fractional position t on the segment
func nearestOnSegment(a Point, b Point, p Point) (Point, float64) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	segmentSquared := dx*dx + dy*dy
	t := 0.0
	if segmentSquared > 0 {
		t = ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / segmentSquared
		t = math.Min(1, math.Max(0, t))
	}
	return Point{X: a.X + dx*t, Y: a.Y + dy*t}, t
}

// Project returns the arc length of the foot of perpendicular of p on the line
func (l *LineString) Project(p Point) float64 {
	best := math.MaxFloat64
	projection := 0.0
	for i := 1; i < len(l.points); i++ {
		nearest, t := nearestOnSegment(l.points[i-1], l.points[i], p)
		d := distance(nearest, p)
		if d < best {
			best = d
			projection = l.lengths[i-1] + (l.lengths[i]-l.lengths[i-1])*t
		}
	}
	return projection
}

// Distance returns the shortest distance from p to the line in meters
func (l *LineString) Distance(p Point) float64 {
	best := math.MaxFloat64
	for i := 1; i < len(l.points); i++ {
		nearest, _ := nearestOnSegment(l.points[i-1], l.points[i], p)
		if d := distance(nearest, p); d < best {
			best = d
		}
	}
	return best
}

// Covers reports whether p lies within buffer meters of the line
func (l *LineString) Covers(p Point, buffer float64) bool {
	return l.Distance(p) <= buffer
}

// Interpolate returns the point at arc length along the line, clamped to its ends
func (l *LineString) Interpolate(along float64) Point {
	if along <= 0 {
		return l.points[0]
	}
	if along >= l.Length() {
		return l.points[len(l.points)-1]
	}
	for i := 1; i < len(l.points); i++ {
		if along <= l.lengths[i] {
			segmentLength := l.lengths[i] - l.lengths[i-1]
			t := 0.0
			if segmentLength > 0 {
				t = (along - l.lengths[i-1]) / segmentLength
			}
			a := l.points[i-1]
			b := l.points[i]
			return Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
		}
	}
	return l.points[len(l.points)-1]
}

func clamp(value float64, minValue float64, maxValue float64) float64 {
	return math.Max(minValue, math.Min(maxValue, value))
}
