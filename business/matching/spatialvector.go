package matching

import (
	"fmt"
	"math"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
)

//minimumMovementMeters is the total distance below which a GNSS sequence is
//not considered vehicle movement
const minimumMovementMeters = 50.0

//minimumMovementLinearity separates actual travel from GNSS jitter around a
//standing vehicle: direct distance over travelled distance
const minimumMovementLinearity = 0.35

// SpatialVector is the segment between two successive GNSS samples
type SpatialVector struct {
	Start avl.GnssPosition
	End   avl.GnssPosition
}

// Length returns the haversine distance between start and end in meters
func (v *SpatialVector) Length() float64 {
	return haversineDistance(v.Start.Latitude, v.Start.Longitude, v.End.Latitude, v.End.Longitude)
}

// Bearing returns the initial bearing from start to end in degrees [0,360)
func (v *SpatialVector) Bearing() float64 {
	lat1 := v.Start.Latitude * math.Pi / 180.0
	lat2 := v.End.Latitude * math.Pi / 180.0
	dLon := (v.End.Longitude - v.Start.Longitude) * math.Pi / 180.0

	x := math.Sin(dLon) * math.Cos(lat2)
	y := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	bearing := math.Atan2(x, y) * 180.0 / math.Pi
	return math.Mod(bearing+360.0, 360.0)
}

func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := lat1 * math.Pi / 180.0
	rLat2 := lat2 * math.Pi / 180.0
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return 6371000.0 * c
}

// SpatialVectorCollection is the ordered vector view over a vehicle's GNSS buffer
type SpatialVectorCollection struct {
	Vectors []SpatialVector
}

// NewSpatialVectorCollection requires at least two GNSS samples
func NewSpatialVectorCollection(positions []avl.GnssPosition) (*SpatialVectorCollection, error) {
	if len(positions) < 2 {
		return nil, fmt.Errorf("at least 2 gnss positions are required for a vector collection, got %d", len(positions))
	}
	vectors := make([]SpatialVector, 0, len(positions)-1)
	for i := 0; i < len(positions)-1; i++ {
		vectors = append(vectors, SpatialVector{Start: positions[i], End: positions[i+1]})
	}
	return &SpatialVectorCollection{Vectors: vectors}, nil
}

// Positions returns the GNSS samples spanned by the collection in order
func (c *SpatialVectorCollection) Positions() []avl.GnssPosition {
	positions := make([]avl.GnssPosition, 0, len(c.Vectors)+1)
	for _, v := range c.Vectors {
		positions = append(positions, v.Start)
	}
	positions = append(positions, c.Vectors[len(c.Vectors)-1].End)
	return positions
}

// Length returns the total travelled distance in meters
func (c *SpatialVectorCollection) Length() float64 {
	total := 0.0
	for _, v := range c.Vectors {
		total += v.Length()
	}
	return total
}

// Bearing returns the overall bearing from the first to the last sample
func (c *SpatialVectorCollection) Bearing() float64 {
	overall := SpatialVector{
		Start: c.Vectors[0].Start,
		End:   c.Vectors[len(c.Vectors)-1].End,
	}
	return overall.Bearing()
}

// IsMovement reports whether the collection describes actual vehicle travel
// rather than GNSS noise around a standing vehicle
func (c *SpatialVectorCollection) IsMovement() bool {
	total := c.Length()
	if total < minimumMovementMeters {
		return false
	}
	direct := SpatialVector{
		Start: c.Vectors[0].Start,
		End:   c.Vectors[len(c.Vectors)-1].End,
	}
	linearity := 0.0
	if total > 0 {
		linearity = direct.Length() / total
	}
	return linearity > minimumMovementLinearity
}
