package matching

import (
	"fmt"
	"log"
	"time"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
)

// Matcher runs the match pipeline for one vehicle snapshot against a set of
// nominal trip candidates
type Matcher struct {
	log                 *log.Logger
	storage             avl.Storage
	candidates          []avl.Trip
	shapeFilterEnabled  bool
	shapeFilterDistance float64

	//MatchedVehiclePosition is set by Verify when the shape snap filter is
	//active and the vehicle is close enough to the shape. The caller
	//substitutes the raw GNSS sample with it.
	MatchedVehiclePosition *avl.GnssPosition
}

// NewMatcher creates a Matcher over the given candidate set
func NewMatcher(log *log.Logger, storage avl.Storage, candidates []avl.Trip,
	shapeFilterEnabled bool, shapeFilterDistance float64) *Matcher {
	return &Matcher{
		log:                 log,
		storage:             storage,
		candidates:          candidates,
		shapeFilterEnabled:  shapeFilterEnabled,
		shapeFilterDistance: shapeFilterDistance,
	}
}

// Match scores every candidate spatially and temporally, then folds the
// surviving scores into the bayesian posterior vectors carried in priors.
//Candidates another vehicle is already logged on to are skipped without
//scoring. Returns convergence and the updated posterior vectors; an empty map
//means no candidate survived this round.
func (m *Matcher) Match(vehicle *avl.Vehicle, positions []avl.GnssPosition,
	priors map[string][]float64, now time.Time) (bool, map[string][]float64) {

	if len(m.candidates) == 0 {
		m.log.Printf("no trip candidates available to match avl data for vehicle %s", vehicle.VehicleRef)
		return false, priors
	}

	activity, err := NewSpatialVectorCollection(positions)
	if err != nil {
		m.log.Printf("no sufficient avl data for vehicle %s: %v", vehicle.VehicleRef, err)
		return false, priors
	}

	occupied, err := m.occupiedTripIds(vehicle.VehicleRef)
	if err != nil {
		m.log.Printf("unable to determine occupied trips, skipping exclusivity filter: %v", err)
		occupied = map[string]bool{}
	}

	start := time.Now()
	scores := make(map[string]float64)
	for i := range m.candidates {
		candidate := &m.candidates[i]
		if !candidate.IsValid() {
			m.log.Printf("trip candidate %s has no usable geometry or stop times, skipping", candidate.Descriptor.TripId)
			continue
		}
		//skip candidates another vehicle is already operating
		if occupied[candidate.Descriptor.TripId] {
			continue
		}

		shape, err := DecodeShape(candidate.ShapePolyline)
		if err != nil {
			m.log.Printf("trip candidate %s: %v, skipping", candidate.Descriptor.TripId, err)
			continue
		}

		spatial := NewSpatialMatch(shape)
		spatialScore := spatial.CalculateMatchScore(activity)
		if spatialScore == 0.0 {
			continue
		}

		temporal := NewTemporalMatch(candidate.StopTimes, shape, now)
		temporalScore := temporal.CalculateMatchScore(spatial.SpatialProgressPct)
		if temporalScore == 0.0 {
			continue
		}

		scores[candidate.Descriptor.TripId] = spatialScore * temporalScore
	}

	if len(scores) == 0 {
		m.log.Printf("all trip candidates for vehicle %s discarded due to logical, spatial or temporal mismatch", vehicle.VehicleRef)
		return false, map[string][]float64{}
	}

	//seed priors with the current scores when no previous update exists
	if priors == nil {
		priors = make(map[string][]float64, len(scores))
		for k, v := range scores {
			priors[k] = []float64{v}
		}
	}

	converged, posteriors := BayesianUpdate(priors, scores, 1.0)

	m.log.Printf("matching for vehicle %s completed after %s", vehicle.VehicleRef, time.Since(start))
	for tripId, vector := range posteriors {
		m.log.Printf("matched tripId:%s score:%.4f convergence:%v", tripId, vector[len(vector)-1], converged)
	}

	return converged, posteriors
}

// Verify runs the spatial match only, against the single candidate the
// vehicle is operationally logged on to. When the shape snap filter applies,
// MatchedVehiclePosition carries the newest sample snapped onto the shape.
func (m *Matcher) Verify(vehicle *avl.Vehicle, positions []avl.GnssPosition) bool {
	m.MatchedVehiclePosition = nil

	if len(m.candidates) == 0 {
		m.log.Printf("no trip candidates available to verify avl data for vehicle %s", vehicle.VehicleRef)
		return false
	}

	activity, err := NewSpatialVectorCollection(positions)
	if err != nil {
		m.log.Printf("no sufficient avl data for vehicle %s: %v", vehicle.VehicleRef, err)
		return false
	}

	candidate := &m.candidates[0]
	shape, err := DecodeShape(candidate.ShapePolyline)
	if err != nil {
		m.log.Printf("trip candidate %s: %v", candidate.Descriptor.TripId, err)
		return false
	}

	spatial := NewSpatialMatch(shape)
	matched := spatial.CalculateMatchScore(activity) > 0.0

	if matched && m.shapeFilterEnabled {
		last := positions[len(positions)-1]
		lastPoint := webMercator(last.Latitude, last.Longitude)
		if shape.Distance(lastPoint) <= m.shapeFilterDistance {
			lat, lon := wgs84(shape.Interpolate(spatial.LastProjection))
			m.MatchedVehiclePosition = &avl.GnssPosition{
				Latitude:  lat,
				Longitude: lon,
				Timestamp: last.Timestamp,
			}
		}
	}

	return matched
}

// PredictTripMetrics predicts trip metrics for a known trip at the given position
func (m *Matcher) PredictTripMetrics(trip *avl.Trip, position avl.GnssPosition, now time.Time) (*avl.TripMetrics, error) {
	shape, err := DecodeShape(trip.ShapePolyline)
	if err != nil {
		return nil, fmt.Errorf("trip %s: %w", trip.Descriptor.TripId, err)
	}
	temporal := NewTemporalMatch(trip.StopTimes, shape, now)
	return temporal.PredictTripMetrics(position, now), nil
}

//occupiedTripIds returns the trip ids other vehicles are operationally logged
//on to, enforcing the at most one vehicle per trip invariant
func (m *Matcher) occupiedTripIds(ownVehicleRef string) (map[string]bool, error) {
	vehicles, err := m.storage.GetVehicles()
	if err != nil {
		return nil, err
	}
	occupied := make(map[string]bool)
	for _, v := range vehicles {
		if v.VehicleRef == ownVehicleRef {
			continue
		}
		if tripId := v.TripId(); tripId != "" {
			occupied[tripId] = true
		}
	}
	return occupied, nil
}
