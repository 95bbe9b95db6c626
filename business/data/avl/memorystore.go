package avl

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Storage backend used for local runs and tests.
//Entities pass through the same JSON serialization as the postgres Store so
//both backends expose identical round-trip behavior.
type MemoryStore struct {
	mu            sync.RWMutex
	vehicles      map[string][]byte
	trips         map[string][]byte
	reviewSeconds int
	maxDataPoints int
}

// NewMemoryStore creates an empty MemoryStore with the given GNSS window
func NewMemoryStore(reviewSeconds int, maxDataPoints int) *MemoryStore {
	return &MemoryStore{
		vehicles:      make(map[string][]byte),
		trips:         make(map[string][]byte),
		reviewSeconds: reviewSeconds,
		maxDataPoints: maxDataPoints,
	}
}

// GetVehicles implements Storage
func (m *MemoryStore) GetVehicles() ([]*Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Vehicle, 0, len(m.vehicles))
	for ref, document := range m.vehicles {
		vehicle := Vehicle{}
		if err := json.Unmarshal(document, &vehicle); err != nil {
			return nil, fmt.Errorf("unmarshalling vehicle document %s: %w", ref, err)
		}
		results = append(results, &vehicle)
	}
	return results, nil
}

// GetVehicle implements Storage
func (m *MemoryStore) GetVehicle(vehicleRef string) (*Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	document, present := m.vehicles[vehicleRef]
	if !present {
		return nil, nil
	}
	vehicle := Vehicle{}
	if err := json.Unmarshal(document, &vehicle); err != nil {
		return nil, fmt.Errorf("unmarshalling vehicle document %s: %w", vehicleRef, err)
	}
	return &vehicle, nil
}

// UpdateVehicle implements Storage, applying the GNSS trim discipline
func (m *MemoryStore) UpdateVehicle(v *Vehicle) error {
	if v.Activity != nil {
		v.Activity.GnssPositions = TrimGnssPositions(v.Activity.GnssPositions, time.Now(), m.reviewSeconds, m.maxDataPoints)
	}
	document, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling vehicle %s: %w", v.VehicleRef, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.VehicleRef] = document
	return nil
}

// CleanupVehicleTripRefs implements Storage
func (m *MemoryStore) CleanupVehicleTripRefs(v *Vehicle) error {
	cleanupTripRefs(v)
	return m.UpdateVehicle(v)
}

// GetTrips implements Storage
func (m *MemoryStore) GetTrips() ([]*Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Trip, 0, len(m.trips))
	for id, document := range m.trips {
		trip := Trip{}
		if err := json.Unmarshal(document, &trip); err != nil {
			return nil, fmt.Errorf("unmarshalling trip document %s: %w", id, err)
		}
		results = append(results, &trip)
	}
	return results, nil
}

// GetTrip implements Storage
func (m *MemoryStore) GetTrip(tripId string) (*Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	document, present := m.trips[tripId]
	if !present {
		return nil, nil
	}
	trip := Trip{}
	if err := json.Unmarshal(document, &trip); err != nil {
		return nil, fmt.Errorf("unmarshalling trip document %s: %w", tripId, err)
	}
	return &trip, nil
}

// UpdateTrip implements Storage
func (m *MemoryStore) UpdateTrip(t *Trip) error {
	document, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshalling trip %s: %w", t.Descriptor.TripId, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.Descriptor.TripId] = document
	return nil
}

// DeleteTrip implements Storage
func (m *MemoryStore) DeleteTrip(t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trips, t.Descriptor.TripId)
	return nil
}

// Close implements Storage
func (m *MemoryStore) Close() error {
	return nil
}
