// Package avl contains the persistent entity model of the AVL tracking
// pipeline and the storage backends owning it.
package avl

import (
	"fmt"
	"time"
)

// VehicleStopStatus values emitted in TripMetrics, matching the GTFS-Realtime
// VehiclePosition.VehicleStopStatus enum names.
const (
	StatusInTransitTo = "IN_TRANSIT_TO"
	StatusIncomingAt  = "INCOMING_AT"
	StatusStoppedAt   = "STOPPED_AT"
)

// GnssPosition is a single AVL sample in WGS-84 degrees with an epoch second timestamp
type GnssPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// Vehicle is the root entity created on first technical log-on.
//Activity is present exactly while the vehicle is technically logged on.
//DifferentialDeleted is a tombstone kept until the differential feed has
//announced the deletion, cleared again on the next technical log-on.
type Vehicle struct {
	VehicleRef              string           `json:"vehicle_ref"`
	IsTechnicallyLoggedOn   bool             `json:"is_technically_logged_on"`
	IsOperationallyLoggedOn bool             `json:"is_operationally_logged_on"`
	DifferentialDeleted     bool             `json:"differential_deleted"`
	Activity                *VehicleActivity `json:"activity,omitempty"`
	Cache                   *VehicleCache    `json:"cache,omitempty"`
}

// LastPosition returns the newest GNSS sample of the vehicle or nil when no
// activity or samples are present
func (v *Vehicle) LastPosition() *GnssPosition {
	if v.Activity == nil || len(v.Activity.GnssPositions) == 0 {
		return nil
	}
	return &v.Activity.GnssPositions[len(v.Activity.GnssPositions)-1]
}

// TripId returns the trip id the vehicle is operationally logged on to, or
// empty string
func (v *Vehicle) TripId() string {
	if v.Activity == nil || v.Activity.TripDescriptor == nil {
		return ""
	}
	return v.Activity.TripDescriptor.TripId
}

func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle ref:%s techOn:%v opOn:%v deleted:%v",
		v.VehicleRef, v.IsTechnicallyLoggedOn, v.IsOperationallyLoggedOn, v.DifferentialDeleted)
}

// VehicleActivity holds the windowed GNSS buffer and the matching state of a
// technically logged on vehicle
type VehicleActivity struct {
	GnssPositions []GnssPosition `json:"gnss_positions"`
	//TripDescriptor is set while the vehicle is operationally logged on
	TripDescriptor *TripDescriptor `json:"trip_descriptor,omitempty"`
	TripMetrics    *TripMetrics    `json:"trip_metrics,omitempty"`
	//TripCandidateProbabilities maps trip id to the vector of posteriors
	//produced by successive bayesian updates
	TripCandidateProbabilities map[string][]float64 `json:"trip_candidate_probabilities,omitempty"`
	TripCandidateConvergence   bool                 `json:"trip_candidate_convergence"`
	TripCandidateFailures      int                  `json:"trip_candidate_failures"`
}

// VehicleCache keeps the most recent candidate set as fallback for schedule
// source outages. Opaque to everything but the matching pipeline.
type VehicleCache struct {
	TripCandidates []Trip `json:"trip_candidates"`
}

// TripDescriptor identifies a nominal trip in GTFS-Realtime terms.
//StartTime is formatted as seconds after operating day midnight and may
//exceed 24:00:00, StartDate is the operating day as YYYYMMDD.
type TripDescriptor struct {
	TripId               string `json:"trip_id"`
	RouteId              string `json:"route_id"`
	DirectionId          string `json:"direction_id,omitempty"`
	StartDate            string `json:"start_date"`
	StartTime            string `json:"start_time"`
	ScheduleRelationship string `json:"schedule_relationship,omitempty"`
}

// Stop is a boarding point in WGS-84 coordinates
type Stop struct {
	StopId    string  `json:"stop_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// StopTime is one scheduled call of a trip. Timestamps are epoch seconds
// resolved for the concrete operating day.
type StopTime struct {
	StopSequence       int   `json:"stop_sequence"`
	ArrivalTimestamp   int64 `json:"arrival_timestamp"`
	DepartureTimestamp int64 `json:"departure_timestamp"`
	Stop               Stop  `json:"stop"`
}

// Trip is a materialized nominal trip candidate: descriptor, ordered stop
// times and the encoded shape polyline.
//DifferentialDeleted marks the trip for removal after the next differential
//feed emission.
type Trip struct {
	Descriptor          TripDescriptor `json:"descriptor"`
	StopTimes           []StopTime     `json:"stop_times"`
	ShapePolyline       string         `json:"shape_polyline"`
	DifferentialDeleted bool           `json:"differential_deleted"`
}

// FirstStopTime returns the first scheduled call or nil for an empty trip
func (t *Trip) FirstStopTime() *StopTime {
	if len(t.StopTimes) == 0 {
		return nil
	}
	return &t.StopTimes[0]
}

// LastStopTime returns the final scheduled call or nil for an empty trip
func (t *Trip) LastStopTime() *StopTime {
	if len(t.StopTimes) == 0 {
		return nil
	}
	return &t.StopTimes[len(t.StopTimes)-1]
}

// IsValid reports whether the trip carries enough data to be matched against:
// at least two stop times and a non-empty shape
func (t *Trip) IsValid() bool {
	return len(t.StopTimes) >= 2 && t.ShapePolyline != ""
}

// TripMetrics is the per-stop prediction state of a tracked vehicle.
//NextStopSequence is always greater than CurrentStopSequence when both are
//present. CurrentDelay is signed seconds, negative when running early.
type TripMetrics struct {
	CurrentStopSequence *int   `json:"current_stop_sequence,omitempty"`
	CurrentStopId       string `json:"current_stop_id,omitempty"`
	NextStopSequence    *int   `json:"next_stop_sequence,omitempty"`
	NextStopId          string `json:"next_stop_id,omitempty"`
	CurrentStopStatus   string `json:"current_stop_status"`
	CurrentStopIsFinal  bool   `json:"current_stop_is_final"`
	CurrentDelay        int64  `json:"current_delay"`
}

// TrimGnssPositions drops samples older than reviewSeconds relative to now and
// truncates the buffer to the newest maxDataPoints entries, preserving order.
func TrimGnssPositions(positions []GnssPosition, now time.Time, reviewSeconds int, maxDataPoints int) []GnssPosition {
	cutoff := now.Unix() - int64(reviewSeconds)
	trimmed := make([]GnssPosition, 0, len(positions))
	for _, p := range positions {
		if p.Timestamp > cutoff {
			trimmed = append(trimmed, p)
		}
	}
	if maxDataPoints > 0 && len(trimmed) > maxDataPoints {
		trimmed = trimmed[len(trimmed)-maxDataPoints:]
	}
	return trimmed
}
