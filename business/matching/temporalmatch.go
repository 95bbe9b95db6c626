package matching

import (
	"time"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
)

const (
	//maxProgressDeviationPct is the largest tolerated difference between
	//time based and spatial trip progress
	maxProgressDeviationPct = 30.0
	//earlyTripPenalty weighs down candidates running ahead of schedule,
	//lateness is far more common than earliness
	earlyTripPenalty = 0.8

	//stoppedAtDistanceMeters and incomingAtDistanceMeters are the
	//distance bands for the current stop status prediction
	stoppedAtDistanceMeters  = 30.0
	incomingAtDistanceMeters = 60.0
)

// TemporalMatch scores trip candidates by comparing their scheduled progress
// with the observed spatial progress, and predicts per-stop trip metrics
type TemporalMatch struct {
	stopTimes       []avl.StopTime
	shape           *LineString
	stopProjections []float64

	//TimeProgressPct is the scheduled progress of the trip at construction
	//time in percent of the shape length
	TimeProgressPct         float64
	timeCurrentStopSequence int
	timeNextStopSequence    int
}

// NewTemporalMatch precomputes stop projections and the time based progress of
// the candidate at "now". The timestamp is truncated to the full minute so the
// temporal score is stable within a minute.
func NewTemporalMatch(stopTimes []avl.StopTime, shape *LineString, now time.Time) *TemporalMatch {
	t := TemporalMatch{
		stopTimes:       stopTimes,
		shape:           shape,
		stopProjections: make([]float64, len(stopTimes)),
	}
	for i, stopTime := range stopTimes {
		t.stopProjections[i] = shape.Project(webMercator(stopTime.Stop.Latitude, stopTime.Stop.Longitude))
	}

	currentTimestamp := now.Truncate(time.Minute).Unix()

	firstDeparture := stopTimes[0].DepartureTimestamp
	lastDeparture := stopTimes[len(stopTimes)-1].DepartureTimestamp

	if currentTimestamp <= firstDeparture {
		t.TimeProgressPct = 0.0
		t.timeCurrentStopSequence = 0
		t.timeNextStopSequence = 0
		return &t
	}
	if currentTimestamp >= lastDeparture {
		t.TimeProgressPct = 100.0
		t.timeCurrentStopSequence = stopTimes[len(stopTimes)-2].StopSequence
		t.timeNextStopSequence = stopTimes[len(stopTimes)-1].StopSequence
		return &t
	}

	//locate the stop pair enclosing "now" and interpolate between their
	//shape projections proportional to the elapsed time
	for i := 0; i < len(stopTimes)-1; i++ {
		thisDeparture := stopTimes[i].DepartureTimestamp
		nextDeparture := stopTimes[i+1].DepartureTimestamp

		if thisDeparture <= currentTimestamp && currentTimestamp <= nextDeparture {
			timeProgress := 1.0
			if nextDeparture > thisDeparture {
				timeProgress = float64(currentTimestamp-thisDeparture) / float64(nextDeparture-thisDeparture)
			}

			thisProjection := t.stopProjections[i]
			nextProjection := t.stopProjections[i+1]

			t.TimeProgressPct = (thisProjection + (nextProjection-thisProjection)*timeProgress) / shape.Length() * 100.0
			t.TimeProgressPct = clamp(t.TimeProgressPct, 0.0, 100.0)

			t.timeCurrentStopSequence = stopTimes[i].StopSequence
			t.timeNextStopSequence = stopTimes[i+1].StopSequence
			break
		}
	}
	return &t
}

// CalculateMatchScore compares time based and spatial progress. A candidate
// that should not be running yet, or deviates more than
// maxProgressDeviationPct, scores zero.
func (t *TemporalMatch) CalculateMatchScore(spatialProgressPct float64) float64 {
	if spatialProgressPct != 0.0 && t.TimeProgressPct == 0.0 {
		return 0.0
	}

	deviationPct := t.TimeProgressPct - spatialProgressPct
	if deviationPct > maxProgressDeviationPct || deviationPct < -maxProgressDeviationPct {
		return 0.0
	}

	score := 1.0 - abs(deviationPct)/100.0
	if deviationPct < 0.0 {
		score *= earlyTripPenalty
	}
	return score
}

// PredictTripMetrics derives the current/next stop, stop status and delay for
// a vehicle at position on this trip
func (t *TemporalMatch) PredictTripMetrics(position avl.GnssPosition, now time.Time) *avl.TripMetrics {
	metrics := avl.TripMetrics{
		CurrentStopStatus: avl.StatusInTransitTo,
	}

	positionProjection := t.shape.Project(webMercator(position.Latitude, position.Longitude))

	for i, stopProjection := range t.stopProjections {
		if stopProjection < positionProjection {
			continue
		}

		finalStop := i == len(t.stopProjections)-1

		d := stopProjection - positionProjection
		if d < stoppedAtDistanceMeters {
			metrics.CurrentStopStatus = avl.StatusStoppedAt
			metrics.CurrentStopIsFinal = finalStop
		} else if d < incomingAtDistanceMeters {
			metrics.CurrentStopStatus = avl.StatusIncomingAt
			metrics.CurrentStopIsFinal = finalStop
		}

		if i > 0 {
			currentSequence := t.stopTimes[i-1].StopSequence
			metrics.CurrentStopSequence = &currentSequence
			metrics.CurrentStopId = t.stopTimes[i-1].Stop.StopId
		}
		nextSequence := t.stopTimes[i].StopSequence
		metrics.NextStopSequence = &nextSequence
		metrics.NextStopId = t.stopTimes[i].Stop.StopId

		//delay against the scheduled departure of the upcoming stop.
		//double counts dwell time in some cases, a better model needs
		//real arrival observations
		metrics.CurrentDelay = now.Unix() - t.stopTimes[i].DepartureTimestamp
		break
	}

	return &metrics
}

func abs(value float64) float64 {
	if value < 0 {
		return -value
	}
	return value
}
