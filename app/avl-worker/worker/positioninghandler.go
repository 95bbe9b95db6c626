package worker

import (
	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/business/iom"
	"github.com/sebastianknopf/avl2gtfsrt/business/iom/vdv435"
	"github.com/sebastianknopf/avl2gtfsrt/business/matching"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/events"
)

// HandleGnssPosition processes one GNSS position publication: it appends the
// sample to the vehicle's buffer and, when enough fresh movement data exists,
// runs either trip acquisition or on-trip verification.
func (p *Processor) HandleGnssPosition(topic string, msg *vdv435.GnssPhysicalPositionData) {
	vehicleRef := iom.TopicValue(topic, "Vehicle")
	if vehicleRef == "" {
		p.log.Printf("position update without vehicle ref in topic %s, discarding", topic)
		return
	}

	vehicle, err := p.storage.GetVehicle(vehicleRef)
	if err != nil {
		p.log.Printf("loading vehicle %s failed: %v", vehicleRef, err)
		return
	}
	if vehicle == nil || !vehicle.IsTechnicallyLoggedOn {
		p.log.Printf("vehicle %s is not technically logged on, discarding position update", vehicleRef)
		return
	}

	measured, err := msg.MeasurementTime()
	if err != nil {
		p.log.Printf("position update for vehicle %s: %v", vehicleRef, err)
		return
	}

	now := p.now()
	if measured.Before(now.Add(-maxGnssAge)) {
		p.log.Printf("position update for vehicle %s is older than %s and will be ignored", vehicleRef, maxGnssAge)
		return
	}

	if vehicle.Activity == nil {
		vehicle.Activity = &avl.VehicleActivity{}
	}
	vehicle.Activity.GnssPositions = append(vehicle.Activity.GnssPositions, avl.GnssPosition{
		Latitude:  msg.GnssPhysicalPosition.WGS84PhysicalPosition.Latitude,
		Longitude: msg.GnssPhysicalPosition.WGS84PhysicalPosition.Longitude,
		Timestamp: measured.Unix(),
	})

	if err = p.storage.UpdateVehicle(vehicle); err != nil {
		p.log.Printf("updating vehicle %s failed: %v", vehicleRef, err)
		return
	}

	p.log.Printf("processed position update for vehicle %s successfully", vehicleRef)
	p.publishEvent(events.TypeGnssUpdate, vehicleRef, vehicle.TripId())

	positions := vehicle.Activity.GnssPositions
	if len(positions) < 2 {
		return
	}
	if !p.matchingEnabled(positions) {
		return
	}

	vector, err := matching.NewSpatialVectorCollection(positions)
	if err != nil || !vector.IsMovement() {
		return
	}

	if !vehicle.IsOperationallyLoggedOn {
		p.acquireTrip(vehicle)
	} else {
		p.verifyTrip(vehicle)
	}
}

//matchingEnabled gates matching rounds on sample spread: a device reporting
//every second must not trigger a full matching round per sample
func (p *Processor) matchingEnabled(positions []avl.GnssPosition) bool {
	if p.settings.MatchingMaxInterval <= 0 {
		return true
	}
	latest := positions[len(positions)-1].Timestamp
	for i := len(positions) - 1; i >= 0; i-- {
		if latest-positions[i].Timestamp >= int64(p.settings.MatchingMaxInterval) {
			return true
		}
	}
	return false
}

//acquireTrip runs one bayesian matching round over the nominal trip
//candidates near the vehicle and performs the operational log on when the
//posterior has converged
func (p *Processor) acquireTrip(vehicle *avl.Vehicle) {
	p.log.Printf("vehicle %s is not operationally logged on, loading nominal trip candidates", vehicle.VehicleRef)

	last := vehicle.LastPosition()
	candidates := p.nominal.GetTripCandidates(last.Latitude, last.Longitude)

	//fall back to the cached candidate set when the schedule source yields
	//nothing, the vehicle may sit in a coverage gap
	if len(candidates) == 0 && vehicle.Cache != nil {
		candidates = vehicle.Cache.TripCandidates
	}

	matcher := matching.NewMatcher(p.log, p.storage, candidates, false, 0)
	converged, posteriors := matcher.Match(vehicle, vehicle.Activity.GnssPositions,
		vehicle.Activity.TripCandidateProbabilities, p.now())

	vehicle.Activity.TripCandidateConvergence = converged
	vehicle.Activity.TripCandidateProbabilities = posteriors

	//keep only candidates that survived this round in the cache
	if vehicle.Cache == nil {
		vehicle.Cache = &avl.VehicleCache{}
	}
	vehicle.Cache.TripCandidates = nil
	for _, candidate := range candidates {
		if _, ok := posteriors[candidate.Descriptor.TripId]; ok {
			vehicle.Cache.TripCandidates = append(vehicle.Cache.TripCandidates, candidate)
		}
	}

	if err := p.storage.UpdateVehicle(vehicle); err != nil {
		p.log.Printf("updating vehicle %s failed: %v", vehicle.VehicleRef, err)
		return
	}

	if !converged {
		return
	}

	tripId := matching.ArgmaxPosterior(posteriors)
	var trip *avl.Trip
	for i := range candidates {
		if candidates[i].Descriptor.TripId == tripId {
			trip = &candidates[i]
			break
		}
	}
	if trip == nil {
		p.log.Printf("converged trip %s is not among the candidates of vehicle %s", tripId, vehicle.VehicleRef)
		return
	}

	p.log.Printf("vehicle %s matched to trip %s, performing operational log on", vehicle.VehicleRef, tripId)

	vehicle.IsOperationallyLoggedOn = true
	vehicle.Activity.TripDescriptor = &trip.Descriptor
	vehicle.Activity.TripCandidateFailures = 0

	metrics, err := matcher.PredictTripMetrics(trip, *vehicle.LastPosition(), p.now())
	if err != nil {
		p.log.Printf("predicting trip metrics for vehicle %s failed: %v", vehicle.VehicleRef, err)
	} else {
		vehicle.Activity.TripMetrics = metrics
	}

	if err = p.storage.UpdateVehicle(vehicle); err != nil {
		p.log.Printf("updating vehicle %s failed: %v", vehicle.VehicleRef, err)
		return
	}
	if err = p.storage.UpdateTrip(trip); err != nil {
		p.log.Printf("persisting trip %s failed: %v", tripId, err)
	}

	p.publishEvent(events.TypeOperationalLogOn, vehicle.VehicleRef, tripId)
}

//verifyTrip checks that an operationally logged on vehicle still follows its
//trip and maintains the trip metrics. The vehicle is logged off at the final
//stop or after too many failed verifications.
func (p *Processor) verifyTrip(vehicle *avl.Vehicle) {
	p.log.Printf("vehicle %s is operationally logged on, verifying current trip", vehicle.VehicleRef)

	tripId := vehicle.TripId()
	trip, err := p.storage.GetTrip(tripId)
	if err != nil || trip == nil {
		p.log.Printf("loading trip %s for vehicle %s failed: %v", tripId, vehicle.VehicleRef, err)
		return
	}

	matcher := matching.NewMatcher(p.log, p.storage, []avl.Trip{*trip},
		p.settings.ShapeFilterEnabled, p.settings.ShapeFilterDistance)

	if matcher.Verify(vehicle, vehicle.Activity.GnssPositions) {
		vehicle.Activity.TripCandidateFailures = 0

		metrics, err := matcher.PredictTripMetrics(trip, *vehicle.LastPosition(), p.now())
		if err != nil {
			p.log.Printf("predicting trip metrics for vehicle %s failed: %v", vehicle.VehicleRef, err)
		} else {
			vehicle.Activity.TripMetrics = metrics
		}
	} else {
		vehicle.Activity.TripCandidateFailures++
	}

	//substitute the raw sample with its shape projection when close enough
	if p.settings.ShapeFilterEnabled && matcher.MatchedVehiclePosition != nil {
		vehicle.Activity.GnssPositions[len(vehicle.Activity.GnssPositions)-1] = *matcher.MatchedVehiclePosition
	}

	//natural end of trip: the position buffer is dropped as well, otherwise
	//the next update would re-assign the finished trip immediately
	if vehicle.Activity.TripMetrics != nil && vehicle.Activity.TripMetrics.CurrentStopIsFinal {
		p.log.Printf("vehicle %s arrived at last stop, performing operational log off", vehicle.VehicleRef)
		p.operationalLogOff(vehicle, trip)
		vehicle.Activity.GnssPositions = nil
	} else if vehicle.Activity.TripCandidateFailures >= p.settings.MatchingMaxFailures {
		p.log.Printf("vehicle %s does not match its current trip anymore, performing operational log off", vehicle.VehicleRef)
		p.operationalLogOff(vehicle, trip)
	}

	if err = p.storage.UpdateVehicle(vehicle); err != nil {
		p.log.Printf("updating vehicle %s failed: %v", vehicle.VehicleRef, err)
	}
}

//operationalLogOff clears the trip refs of the vehicle and tombstones the
//trip for differential emission
func (p *Processor) operationalLogOff(vehicle *avl.Vehicle, trip *avl.Trip) {
	tripId := trip.Descriptor.TripId

	vehicle.IsOperationallyLoggedOn = false
	vehicle.Activity.TripDescriptor = nil
	vehicle.Activity.TripMetrics = nil
	vehicle.Activity.TripCandidateProbabilities = nil
	vehicle.Activity.TripCandidateConvergence = false
	vehicle.Activity.TripCandidateFailures = 0

	trip.DifferentialDeleted = true
	if err := p.storage.UpdateTrip(trip); err != nil {
		p.log.Printf("tombstoning trip %s failed: %v", tripId, err)
	}

	p.publishEvent(events.TypeOperationalLogOff, vehicle.VehicleRef, tripId)
}
