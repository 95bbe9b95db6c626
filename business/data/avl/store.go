package avl

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Storage is the single owner of persistent Vehicle and Trip instances.
//All implementations apply the GNSS trim discipline on UpdateVehicle and are
//safe for concurrent use from the worker pool.
type Storage interface {
	GetVehicles() ([]*Vehicle, error)
	GetVehicle(vehicleRef string) (*Vehicle, error)
	UpdateVehicle(v *Vehicle) error
	//CleanupVehicleTripRefs removes the trip descriptor, metrics and
	//candidate probabilities from the vehicle's activity and persists it
	CleanupVehicleTripRefs(v *Vehicle) error
	GetTrips() ([]*Trip, error)
	GetTrip(tripId string) (*Trip, error)
	UpdateTrip(t *Trip) error
	DeleteTrip(t *Trip) error
	Close() error
}

//cleanupTripRefs clears all trip references on the vehicle in memory
func cleanupTripRefs(v *Vehicle) {
	v.IsOperationallyLoggedOn = false
	if v.Activity == nil {
		return
	}
	v.Activity.TripDescriptor = nil
	v.Activity.TripMetrics = nil
	v.Activity.TripCandidateProbabilities = nil
	v.Activity.TripCandidateConvergence = false
	v.Activity.TripCandidateFailures = 0
}

// Store persists vehicles and trips as JSON documents in postgres via sqlx.
//Entities round-trip losslessly, unknown fields in stored documents are
//ignored on load.
type Store struct {
	db            *sqlx.DB
	reviewSeconds int
	maxDataPoints int
}

// NewStore creates a Store enforcing the given GNSS window on every vehicle update
func NewStore(db *sqlx.DB, reviewSeconds int, maxDataPoints int) *Store {
	return &Store{
		db:            db,
		reviewSeconds: reviewSeconds,
		maxDataPoints: maxDataPoints,
	}
}

// GetVehicles retrieves all vehicles
func (s *Store) GetVehicles() ([]*Vehicle, error) {
	var documents [][]byte
	err := s.db.Select(&documents, "select document from vehicle")
	if err != nil {
		return nil, fmt.Errorf("loading vehicles: %w", err)
	}
	results := make([]*Vehicle, 0, len(documents))
	for _, document := range documents {
		vehicle := Vehicle{}
		if err = json.Unmarshal(document, &vehicle); err != nil {
			return nil, fmt.Errorf("unmarshalling vehicle document: %w", err)
		}
		results = append(results, &vehicle)
	}
	return results, nil
}

// GetVehicle retrieves the vehicle with vehicleRef, nil when unknown
func (s *Store) GetVehicle(vehicleRef string) (*Vehicle, error) {
	var document []byte
	err := s.db.Get(&document, s.db.Rebind("select document from vehicle where vehicle_ref = ?"), vehicleRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading vehicle %s: %w", vehicleRef, err)
	}
	vehicle := Vehicle{}
	if err = json.Unmarshal(document, &vehicle); err != nil {
		return nil, fmt.Errorf("unmarshalling vehicle document %s: %w", vehicleRef, err)
	}
	return &vehicle, nil
}

// UpdateVehicle upserts the vehicle, applying the GNSS trim discipline first
func (s *Store) UpdateVehicle(v *Vehicle) error {
	if v.Activity != nil {
		v.Activity.GnssPositions = TrimGnssPositions(v.Activity.GnssPositions, time.Now(), s.reviewSeconds, s.maxDataPoints)
	}
	document, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling vehicle %s: %w", v.VehicleRef, err)
	}
	statementString := s.db.Rebind("insert into vehicle (vehicle_ref, document) values (?, ?) " +
		"on conflict (vehicle_ref) do update set document = excluded.document")
	_, err = s.db.Exec(statementString, v.VehicleRef, document)
	if err != nil {
		return fmt.Errorf("saving vehicle %s: %w", v.VehicleRef, err)
	}
	return nil
}

// CleanupVehicleTripRefs implements Storage
func (s *Store) CleanupVehicleTripRefs(v *Vehicle) error {
	cleanupTripRefs(v)
	return s.UpdateVehicle(v)
}

// GetTrips retrieves all persisted trips
func (s *Store) GetTrips() ([]*Trip, error) {
	var documents [][]byte
	err := s.db.Select(&documents, "select document from trip")
	if err != nil {
		return nil, fmt.Errorf("loading trips: %w", err)
	}
	results := make([]*Trip, 0, len(documents))
	for _, document := range documents {
		trip := Trip{}
		if err = json.Unmarshal(document, &trip); err != nil {
			return nil, fmt.Errorf("unmarshalling trip document: %w", err)
		}
		results = append(results, &trip)
	}
	return results, nil
}

// GetTrip retrieves the trip with tripId, nil when unknown
func (s *Store) GetTrip(tripId string) (*Trip, error) {
	var document []byte
	err := s.db.Get(&document, s.db.Rebind("select document from trip where trip_id = ?"), tripId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading trip %s: %w", tripId, err)
	}
	trip := Trip{}
	if err = json.Unmarshal(document, &trip); err != nil {
		return nil, fmt.Errorf("unmarshalling trip document %s: %w", tripId, err)
	}
	return &trip, nil
}

// UpdateTrip upserts the trip keyed by its descriptor's trip id
func (s *Store) UpdateTrip(t *Trip) error {
	document, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshalling trip %s: %w", t.Descriptor.TripId, err)
	}
	statementString := s.db.Rebind("insert into trip (trip_id, document) values (?, ?) " +
		"on conflict (trip_id) do update set document = excluded.document")
	_, err = s.db.Exec(statementString, t.Descriptor.TripId, document)
	if err != nil {
		return fmt.Errorf("saving trip %s: %w", t.Descriptor.TripId, err)
	}
	return nil
}

// DeleteTrip removes the trip permanently
func (s *Store) DeleteTrip(t *Trip) error {
	_, err := s.db.Exec(s.db.Rebind("delete from trip where trip_id = ?"), t.Descriptor.TripId)
	if err != nil {
		return fmt.Errorf("deleting trip %s: %w", t.Descriptor.TripId, err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}
