// Package gtfsrt assembles GTFS-Realtime feed messages from the persisted
// vehicle and trip state, in full dataset and differential mode.
package gtfsrt

import (
	"log"
	"strings"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
)

const gtfsRealtimeVersion = "2.0"

// Assembler builds feed messages from the state store. Full dataset feeds
// are pure reads, differential feeds additionally perform the tombstone
// cleanup after emission.
type Assembler struct {
	log      *log.Logger
	storage  avl.Storage
	location *time.Location

	//now is replaceable for deterministic tests
	now func() time.Time
}

// NewAssembler creates an Assembler emitting header timestamps in location
func NewAssembler(log *log.Logger, storage avl.Storage, location *time.Location) *Assembler {
	if location == nil {
		location = time.UTC
	}
	return &Assembler{
		log:      log,
		storage:  storage,
		location: location,
		now:      time.Now,
	}
}

// StripFeedId removes a feed id prefix from an identifier, e.g. "vvs:123" to
// "123". Identifiers without a prefix pass through unchanged.
func StripFeedId(id string) string {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func (a *Assembler) feedMessage(incrementality gtfsproto.FeedHeader_Incrementality,
	entities []*gtfsproto.FeedEntity) *gtfsproto.FeedMessage {
	timestamp := uint64(a.now().In(a.location).Unix())
	return &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      &incrementality,
			Timestamp:           &timestamp,
		},
		Entity: entities,
	}
}

// FullVehiclePositions builds the full dataset vehicle position feed over all
// technically logged on vehicles
func (a *Assembler) FullVehiclePositions() (*gtfsproto.FeedMessage, error) {
	vehicles, err := a.storage.GetVehicles()
	if err != nil {
		return nil, err
	}

	entities := make([]*gtfsproto.FeedEntity, 0, len(vehicles))
	for _, vehicle := range vehicles {
		if !vehicle.IsTechnicallyLoggedOn || vehicle.DifferentialDeleted {
			continue
		}
		if entity := a.vehiclePositionEntity(vehicle); entity != nil {
			entities = append(entities, entity)
		}
	}
	return a.feedMessage(gtfsproto.FeedHeader_FULL_DATASET, entities), nil
}

// FullTripUpdates builds the full dataset trip update feed over all
// operationally logged on vehicles with trip metrics
func (a *Assembler) FullTripUpdates() (*gtfsproto.FeedMessage, error) {
	vehicles, err := a.storage.GetVehicles()
	if err != nil {
		return nil, err
	}

	entities := make([]*gtfsproto.FeedEntity, 0, len(vehicles))
	for _, vehicle := range vehicles {
		if entity := a.tripUpdateEntity(vehicle); entity != nil {
			entities = append(entities, entity)
		}
	}
	return a.feedMessage(gtfsproto.FeedHeader_FULL_DATASET, entities), nil
}

// DifferentialVehiclePositions builds the differential vehicle position feed
// for a single vehicle, including its deletion tombstone
func (a *Assembler) DifferentialVehiclePositions(vehicleRef string) (*gtfsproto.FeedMessage, error) {
	vehicle, err := a.storage.GetVehicle(vehicleRef)
	if err != nil {
		return nil, err
	}

	entities := make([]*gtfsproto.FeedEntity, 0, 1)
	if vehicle != nil {
		if vehicle.DifferentialDeleted {
			entities = append(entities, &gtfsproto.FeedEntity{
				Id:        proto.String(vehicle.VehicleRef),
				IsDeleted: proto.Bool(true),
			})
		} else if entity := a.vehiclePositionEntity(vehicle); entity != nil {
			entities = append(entities, entity)
		}
	}
	return a.feedMessage(gtfsproto.FeedHeader_DIFFERENTIAL, entities), nil
}

// DifferentialTripUpdates builds the differential trip update feed for a
// single vehicle. Tombstoned trips are emitted with is_deleted and cleaned up
// afterwards, the cleanup side effect is confined to this path.
func (a *Assembler) DifferentialTripUpdates(vehicleRef string) (*gtfsproto.FeedMessage, error) {
	vehicle, err := a.storage.GetVehicle(vehicleRef)
	if err != nil {
		return nil, err
	}
	if vehicle == nil {
		return a.feedMessage(gtfsproto.FeedHeader_DIFFERENTIAL, nil), nil
	}

	entities := make([]*gtfsproto.FeedEntity, 0, 1)

	if tripId := vehicle.TripId(); tripId != "" {
		trip, err := a.storage.GetTrip(tripId)
		if err != nil {
			return nil, err
		}
		if trip != nil && trip.DifferentialDeleted {
			entities = append(entities, a.deletedTripEntity(trip))
			a.cleanupTombstone(vehicle, trip)
		} else if entity := a.tripUpdateEntity(vehicle); entity != nil {
			entities = append(entities, entity)
		}
	} else {
		//an operational log off clears the trip refs before emission, so the
		//tombstoned trip is only reachable through the trip store
		entities = append(entities, a.orphanedTripTombstones(vehicle)...)
	}

	return a.feedMessage(gtfsproto.FeedHeader_DIFFERENTIAL, entities), nil
}

//orphanedTripTombstones emits and cleans up tombstoned trips no vehicle
//references anymore
func (a *Assembler) orphanedTripTombstones(forVehicle *avl.Vehicle) []*gtfsproto.FeedEntity {
	trips, err := a.storage.GetTrips()
	if err != nil {
		a.log.Printf("loading trips for tombstone cleanup failed: %v", err)
		return nil
	}
	vehicles, err := a.storage.GetVehicles()
	if err != nil {
		a.log.Printf("loading vehicles for tombstone cleanup failed: %v", err)
		return nil
	}

	referenced := make(map[string]bool)
	for _, vehicle := range vehicles {
		if tripId := vehicle.TripId(); tripId != "" {
			referenced[tripId] = true
		}
	}

	entities := make([]*gtfsproto.FeedEntity, 0)
	for _, trip := range trips {
		if !trip.DifferentialDeleted || referenced[trip.Descriptor.TripId] {
			continue
		}
		entities = append(entities, a.deletedTripEntity(trip))
		a.cleanupTombstone(forVehicle, trip)
	}
	return entities
}

func (a *Assembler) deletedTripEntity(trip *avl.Trip) *gtfsproto.FeedEntity {
	return &gtfsproto.FeedEntity{
		Id:        proto.String(StripFeedId(trip.Descriptor.TripId)),
		IsDeleted: proto.Bool(true),
	}
}

//cleanupTombstone removes an emitted trip tombstone and the trip refs of the
//vehicle it was emitted for
func (a *Assembler) cleanupTombstone(vehicle *avl.Vehicle, trip *avl.Trip) {
	if err := a.storage.CleanupVehicleTripRefs(vehicle); err != nil {
		a.log.Printf("cleaning up trip refs of vehicle %s failed: %v", vehicle.VehicleRef, err)
	}
	if err := a.storage.DeleteTrip(trip); err != nil {
		a.log.Printf("deleting trip %s failed: %v", trip.Descriptor.TripId, err)
	}
}

//vehiclePositionEntity builds the vehicle position entity of one vehicle, nil
//when the vehicle has no position yet
func (a *Assembler) vehiclePositionEntity(vehicle *avl.Vehicle) *gtfsproto.FeedEntity {
	position := vehicle.LastPosition()
	if position == nil {
		return nil
	}

	vehiclePosition := &gtfsproto.VehiclePosition{
		Timestamp: proto.Uint64(uint64(position.Timestamp)),
		Vehicle:   a.vehicleDescriptor(vehicle),
		Position: &gtfsproto.Position{
			Latitude:  proto.Float32(float32(position.Latitude)),
			Longitude: proto.Float32(float32(position.Longitude)),
		},
	}

	if vehicle.IsOperationallyLoggedOn && vehicle.Activity != nil {
		if descriptor := vehicle.Activity.TripDescriptor; descriptor != nil {
			vehiclePosition.Trip = a.tripDescriptor(descriptor)
		}
		if metrics := vehicle.Activity.TripMetrics; metrics != nil {
			if metrics.NextStopSequence != nil {
				vehiclePosition.CurrentStopSequence = proto.Uint32(uint32(*metrics.NextStopSequence))
			}
			if metrics.NextStopId != "" {
				vehiclePosition.StopId = proto.String(StripFeedId(metrics.NextStopId))
			}
			if status, ok := gtfsproto.VehiclePosition_VehicleStopStatus_value[metrics.CurrentStopStatus]; ok {
				vehiclePosition.CurrentStatus = gtfsproto.VehiclePosition_VehicleStopStatus(status).Enum()
			}
		}
	}

	return &gtfsproto.FeedEntity{
		Id:      proto.String(vehicle.VehicleRef),
		Vehicle: vehiclePosition,
	}
}

//tripUpdateEntity builds the trip update entity of one vehicle, nil when the
//vehicle is not operating a trip with metrics
func (a *Assembler) tripUpdateEntity(vehicle *avl.Vehicle) *gtfsproto.FeedEntity {
	if !vehicle.IsTechnicallyLoggedOn || !vehicle.IsOperationallyLoggedOn || vehicle.DifferentialDeleted {
		return nil
	}
	if vehicle.Activity == nil || vehicle.Activity.TripMetrics == nil || vehicle.Activity.TripMetrics.NextStopSequence == nil {
		return nil
	}

	tripId := vehicle.TripId()
	if tripId == "" {
		return nil
	}
	trip, err := a.storage.GetTrip(tripId)
	if err != nil || trip == nil || trip.DifferentialDeleted {
		return nil
	}

	position := vehicle.LastPosition()
	if position == nil {
		return nil
	}

	tripUpdate := &gtfsproto.TripUpdate{
		Timestamp:      proto.Uint64(uint64(position.Timestamp)),
		Trip:           a.tripDescriptor(&trip.Descriptor),
		Vehicle:        a.vehicleDescriptor(vehicle),
		StopTimeUpdate: a.stopTimeUpdates(trip, vehicle.Activity.TripMetrics),
	}

	return &gtfsproto.FeedEntity{
		Id:         proto.String(StripFeedId(tripId)),
		TripUpdate: tripUpdate,
	}
}

//stopTimeUpdates builds the upcoming stop time updates, propagating the
//current delay stop by stop. Earliness is absorbed at stops with a scheduled
//waiting time, lateness is reduced by the waiting time but never inverted.
func (a *Assembler) stopTimeUpdates(trip *avl.Trip, metrics *avl.TripMetrics) []*gtfsproto.TripUpdate_StopTimeUpdate {
	updates := make([]*gtfsproto.TripUpdate_StopTimeUpdate, 0, len(trip.StopTimes))

	currentDelay := metrics.CurrentDelay
	for _, stopTime := range trip.StopTimes {
		if stopTime.StopSequence < *metrics.NextStopSequence {
			continue
		}

		waitingTime := stopTime.DepartureTimestamp - stopTime.ArrivalTimestamp

		var arrivalDelay, departureDelay int64
		if currentDelay < 0 {
			arrivalDelay = currentDelay
			//an early vehicle waits for its nominal departure at a stop with
			//scheduled waiting time
			if waitingTime > 0 {
				departureDelay = 0
				currentDelay = 0
			} else {
				departureDelay = currentDelay
			}
		} else if currentDelay > 0 {
			arrivalDelay = currentDelay
			departureDelay = clampDelay(currentDelay-waitingTime, minDelay(0, currentDelay), currentDelay)
			currentDelay = departureDelay
		}

		updates = append(updates, &gtfsproto.TripUpdate_StopTimeUpdate{
			StopSequence: proto.Uint32(uint32(stopTime.StopSequence)),
			StopId:       proto.String(StripFeedId(stopTime.Stop.StopId)),
			Arrival: &gtfsproto.TripUpdate_StopTimeEvent{
				Time:  proto.Int64(stopTime.ArrivalTimestamp + arrivalDelay),
				Delay: proto.Int32(int32(arrivalDelay)),
			},
			Departure: &gtfsproto.TripUpdate_StopTimeEvent{
				Time:  proto.Int64(stopTime.DepartureTimestamp + departureDelay),
				Delay: proto.Int32(int32(departureDelay)),
			},
		})
	}
	return updates
}

func (a *Assembler) tripDescriptor(descriptor *avl.TripDescriptor) *gtfsproto.TripDescriptor {
	return &gtfsproto.TripDescriptor{
		TripId:    proto.String(StripFeedId(descriptor.TripId)),
		RouteId:   proto.String(StripFeedId(descriptor.RouteId)),
		StartTime: proto.String(descriptor.StartTime),
		StartDate: proto.String(descriptor.StartDate),
	}
}

func (a *Assembler) vehicleDescriptor(vehicle *avl.Vehicle) *gtfsproto.VehicleDescriptor {
	return &gtfsproto.VehicleDescriptor{
		Id:           proto.String(vehicle.VehicleRef),
		Label:        proto.String(vehicle.VehicleRef),
		LicensePlate: proto.String(vehicle.VehicleRef),
	}
}

func clampDelay(value int64, lower int64, upper int64) int64 {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}

func minDelay(a int64, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
