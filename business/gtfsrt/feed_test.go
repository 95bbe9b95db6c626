package gtfsrt

import (
	"io"
	"log"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/matryer/is"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
)

func testAssembler(storage avl.Storage) *Assembler {
	a := NewAssembler(log.New(io.Discard, "", 0), storage, time.UTC)
	a.now = func() time.Time { return time.Date(2026, 3, 14, 12, 5, 0, 0, time.UTC) }
	return a
}

//trackedVehicle builds an operationally logged on vehicle with metrics
//pointing at the stop with nextSequence
func trackedVehicle(vehicleRef string, tripId string, nextSequence int, delay int64) *avl.Vehicle {
	return &avl.Vehicle{
		VehicleRef:              vehicleRef,
		IsTechnicallyLoggedOn:   true,
		IsOperationallyLoggedOn: true,
		Activity: &avl.VehicleActivity{
			GnssPositions: []avl.GnssPosition{
				{Latitude: 48.7758, Longitude: 9.1829, Timestamp: time.Now().Unix()},
			},
			TripDescriptor: &avl.TripDescriptor{
				TripId:    tripId,
				RouteId:   "vvs:route-1",
				StartDate: "20260314",
				StartTime: "12:00:00",
			},
			TripMetrics: &avl.TripMetrics{
				NextStopSequence:  &nextSequence,
				NextStopId:        "vvs:stop-2",
				CurrentStopStatus: avl.StatusInTransitTo,
				CurrentDelay:      delay,
			},
		},
	}
}

//scheduledTrip builds a persisted trip with three stops, the second one with
//90 seconds of scheduled waiting time
func scheduledTrip(tripId string) *avl.Trip {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC).Unix()
	return &avl.Trip{
		Descriptor: avl.TripDescriptor{
			TripId:    tripId,
			RouteId:   "vvs:route-1",
			StartDate: "20260314",
			StartTime: "12:00:00",
		},
		StopTimes: []avl.StopTime{
			{
				StopSequence:       1,
				ArrivalTimestamp:   base,
				DepartureTimestamp: base,
				Stop:               avl.Stop{StopId: "vvs:stop-1"},
			},
			{
				StopSequence:       2,
				ArrivalTimestamp:   base + 600,
				DepartureTimestamp: base + 690,
				Stop:               avl.Stop{StopId: "vvs:stop-2"},
			},
			{
				StopSequence:       3,
				ArrivalTimestamp:   base + 1200,
				DepartureTimestamp: base + 1200,
				Stop:               avl.Stop{StopId: "vvs:stop-3"},
			},
		},
		ShapePolyline: "_p~iF~ps|U_ulLnnqC",
	}
}

func TestStripFeedId(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{
			name: "prefixed id",
			id:   "vvs:trip-1",
			want: "trip-1",
		},
		{
			name: "unprefixed id",
			id:   "trip-1",
			want: "trip-1",
		},
		{
			name: "only first prefix is stripped",
			id:   "vvs:trip:1",
			want: "trip:1",
		},
		{
			name: "empty id",
			id:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFeedId(tt.id); got != tt.want {
				t.Errorf("StripFeedId(%s) = %s, want %s", tt.id, got, tt.want)
			}
		})
	}
}

func TestFullVehiclePositions(t *testing.T) {
	is := is.New(t)

	storage := avl.NewMemoryStore(3600, 100)
	is.NoErr(storage.UpdateTrip(scheduledTrip("vvs:trip-1")))
	is.NoErr(storage.UpdateVehicle(trackedVehicle("bus-1", "vvs:trip-1", 2, 0)))

	//not technically logged on, must not appear
	is.NoErr(storage.UpdateVehicle(&avl.Vehicle{VehicleRef: "bus-2"}))

	feed, err := testAssembler(storage).FullVehiclePositions()
	is.NoErr(err)

	is.Equal(feed.Header.GetGtfsRealtimeVersion(), "2.0")
	is.Equal(feed.Header.GetIncrementality(), gtfsproto.FeedHeader_FULL_DATASET)
	is.Equal(len(feed.Entity), 1)

	entity := feed.Entity[0]
	is.Equal(entity.GetId(), "bus-1")

	position := entity.GetVehicle()
	is.True(position != nil)
	is.Equal(position.GetVehicle().GetId(), "bus-1")
	is.Equal(position.GetCurrentStopSequence(), uint32(2))
	is.Equal(position.GetStopId(), "stop-2")
	is.Equal(position.GetCurrentStatus(), gtfsproto.VehiclePosition_IN_TRANSIT_TO)
	is.Equal(position.GetTrip().GetTripId(), "trip-1")
	is.Equal(position.GetTrip().GetRouteId(), "route-1")
}

func TestFullVehiclePositionsWithoutTripAssignment(t *testing.T) {
	is := is.New(t)

	storage := avl.NewMemoryStore(3600, 100)
	vehicle := &avl.Vehicle{
		VehicleRef:            "bus-1",
		IsTechnicallyLoggedOn: true,
		Activity: &avl.VehicleActivity{
			GnssPositions: []avl.GnssPosition{
				{Latitude: 48.7758, Longitude: 9.1829, Timestamp: time.Now().Unix()},
			},
		},
	}
	is.NoErr(storage.UpdateVehicle(vehicle))

	feed, err := testAssembler(storage).FullVehiclePositions()
	is.NoErr(err)
	is.Equal(len(feed.Entity), 1)

	//a merely technically logged on vehicle carries no trip reference
	position := feed.Entity[0].GetVehicle()
	is.Equal(position.Trip, nil)
	is.True(position.GetPosition() != nil)
}

func TestFullTripUpdates(t *testing.T) {
	is := is.New(t)

	storage := avl.NewMemoryStore(3600, 100)
	is.NoErr(storage.UpdateTrip(scheduledTrip("vvs:trip-1")))
	is.NoErr(storage.UpdateVehicle(trackedVehicle("bus-1", "vvs:trip-1", 2, 0)))

	feed, err := testAssembler(storage).FullTripUpdates()
	is.NoErr(err)
	is.Equal(len(feed.Entity), 1)

	entity := feed.Entity[0]
	is.Equal(entity.GetId(), "trip-1")

	update := entity.GetTripUpdate()
	is.True(update != nil)
	is.Equal(update.GetTrip().GetTripId(), "trip-1")
	is.Equal(update.GetVehicle().GetId(), "bus-1")

	//updates start at the next stop, passed stops are not re-predicted
	is.Equal(len(update.StopTimeUpdate), 2)
	is.Equal(update.StopTimeUpdate[0].GetStopSequence(), uint32(2))
	is.Equal(update.StopTimeUpdate[0].GetStopId(), "stop-2")
	is.Equal(update.StopTimeUpdate[1].GetStopSequence(), uint32(3))
}

func TestStopTimeUpdatesDelayPropagation(t *testing.T) {
	is := is.New(t)

	//120 seconds late, stop 2 has 90 seconds of scheduled waiting time: the
	//departure runs 30 seconds late and the remaining stops inherit that
	storage := avl.NewMemoryStore(3600, 100)
	trip := scheduledTrip("vvs:trip-1")
	is.NoErr(storage.UpdateTrip(trip))
	is.NoErr(storage.UpdateVehicle(trackedVehicle("bus-1", "vvs:trip-1", 2, 120)))

	feed, err := testAssembler(storage).FullTripUpdates()
	is.NoErr(err)
	is.Equal(len(feed.Entity), 1)

	updates := feed.Entity[0].GetTripUpdate().StopTimeUpdate
	is.Equal(len(updates), 2)

	is.Equal(updates[0].GetArrival().GetDelay(), int32(120))
	is.Equal(updates[0].GetArrival().GetTime(), trip.StopTimes[1].ArrivalTimestamp+120)
	is.Equal(updates[0].GetDeparture().GetDelay(), int32(30))
	is.Equal(updates[0].GetDeparture().GetTime(), trip.StopTimes[1].DepartureTimestamp+30)

	is.Equal(updates[1].GetArrival().GetDelay(), int32(30))
	is.Equal(updates[1].GetDeparture().GetDelay(), int32(30))
}

func TestStopTimeUpdatesEarlinessAbsorption(t *testing.T) {
	is := is.New(t)

	//45 seconds early: the earliness is absorbed at the stop with scheduled
	//waiting time, the vehicle departs on time from there
	storage := avl.NewMemoryStore(3600, 100)
	is.NoErr(storage.UpdateTrip(scheduledTrip("vvs:trip-1")))
	is.NoErr(storage.UpdateVehicle(trackedVehicle("bus-1", "vvs:trip-1", 2, -45)))

	feed, err := testAssembler(storage).FullTripUpdates()
	is.NoErr(err)

	updates := feed.Entity[0].GetTripUpdate().StopTimeUpdate
	is.Equal(len(updates), 2)

	is.Equal(updates[0].GetArrival().GetDelay(), int32(-45))
	is.Equal(updates[0].GetDeparture().GetDelay(), int32(0))

	is.Equal(updates[1].GetArrival().GetDelay(), int32(0))
	is.Equal(updates[1].GetDeparture().GetDelay(), int32(0))
}

func TestDifferentialVehiclePositions(t *testing.T) {
	is := is.New(t)

	storage := avl.NewMemoryStore(3600, 100)
	is.NoErr(storage.UpdateTrip(scheduledTrip("vvs:trip-1")))
	is.NoErr(storage.UpdateVehicle(trackedVehicle("bus-1", "vvs:trip-1", 2, 0)))

	feed, err := testAssembler(storage).DifferentialVehiclePositions("bus-1")
	is.NoErr(err)
	is.Equal(feed.Header.GetIncrementality(), gtfsproto.FeedHeader_DIFFERENTIAL)
	is.Equal(len(feed.Entity), 1)
	is.Equal(feed.Entity[0].GetId(), "bus-1")
	is.True(!feed.Entity[0].GetIsDeleted())
}

func TestDifferentialVehiclePositionsTombstone(t *testing.T) {
	is := is.New(t)

	storage := avl.NewMemoryStore(3600, 100)
	vehicle := trackedVehicle("bus-1", "vvs:trip-1", 2, 0)
	vehicle.IsTechnicallyLoggedOn = false
	vehicle.DifferentialDeleted = true
	is.NoErr(storage.UpdateVehicle(vehicle))

	feed, err := testAssembler(storage).DifferentialVehiclePositions("bus-1")
	is.NoErr(err)
	is.Equal(len(feed.Entity), 1)
	is.Equal(feed.Entity[0].GetId(), "bus-1")
	is.True(feed.Entity[0].GetIsDeleted())
}

func TestDifferentialVehiclePositionsUnknownVehicle(t *testing.T) {
	is := is.New(t)

	storage := avl.NewMemoryStore(3600, 100)
	feed, err := testAssembler(storage).DifferentialVehiclePositions("bus-1")
	is.NoErr(err)
	is.Equal(len(feed.Entity), 0)
}

func TestDifferentialTripUpdatesTombstoneAndCleanup(t *testing.T) {
	is := is.New(t)

	//technical log off: the vehicle still references the tombstoned trip
	storage := avl.NewMemoryStore(3600, 100)
	trip := scheduledTrip("vvs:trip-1")
	trip.DifferentialDeleted = true
	is.NoErr(storage.UpdateTrip(trip))

	vehicle := trackedVehicle("bus-1", "vvs:trip-1", 2, 0)
	vehicle.IsTechnicallyLoggedOn = false
	vehicle.DifferentialDeleted = true
	is.NoErr(storage.UpdateVehicle(vehicle))

	assembler := testAssembler(storage)
	feed, err := assembler.DifferentialTripUpdates("bus-1")
	is.NoErr(err)
	is.Equal(len(feed.Entity), 1)
	is.Equal(feed.Entity[0].GetId(), "trip-1")
	is.True(feed.Entity[0].GetIsDeleted())

	//the tombstone is consumed: trip deleted, vehicle refs cleaned
	gone, err := storage.GetTrip("vvs:trip-1")
	is.NoErr(err)
	is.Equal(gone, nil)

	cleaned, err := storage.GetVehicle("bus-1")
	is.NoErr(err)
	is.Equal(cleaned.TripId(), "")

	//a second differential emission carries no tombstone anymore
	feed, err = assembler.DifferentialTripUpdates("bus-1")
	is.NoErr(err)
	is.Equal(len(feed.Entity), 0)
}

func TestDifferentialTripUpdatesOrphanedTombstone(t *testing.T) {
	is := is.New(t)

	//operational log off: the vehicle's trip refs are already cleared, the
	//tombstoned trip is only reachable through the trip store
	storage := avl.NewMemoryStore(3600, 100)
	trip := scheduledTrip("vvs:trip-1")
	trip.DifferentialDeleted = true
	is.NoErr(storage.UpdateTrip(trip))

	vehicle := &avl.Vehicle{
		VehicleRef:            "bus-1",
		IsTechnicallyLoggedOn: true,
		Activity: &avl.VehicleActivity{
			GnssPositions: []avl.GnssPosition{
				{Latitude: 48.7758, Longitude: 9.1829, Timestamp: time.Now().Unix()},
			},
		},
	}
	is.NoErr(storage.UpdateVehicle(vehicle))

	feed, err := testAssembler(storage).DifferentialTripUpdates("bus-1")
	is.NoErr(err)
	is.Equal(len(feed.Entity), 1)
	is.Equal(feed.Entity[0].GetId(), "trip-1")
	is.True(feed.Entity[0].GetIsDeleted())

	gone, err := storage.GetTrip("vvs:trip-1")
	is.NoErr(err)
	is.Equal(gone, nil)
}

func TestDifferentialTripUpdatesKeepsReferencedTombstones(t *testing.T) {
	is := is.New(t)

	//a tombstoned trip still referenced by another vehicle is that vehicle's
	//business, not an orphan
	storage := avl.NewMemoryStore(3600, 100)
	trip := scheduledTrip("vvs:trip-1")
	trip.DifferentialDeleted = true
	is.NoErr(storage.UpdateTrip(trip))

	is.NoErr(storage.UpdateVehicle(trackedVehicle("bus-2", "vvs:trip-1", 2, 0)))

	vehicle := &avl.Vehicle{
		VehicleRef:            "bus-1",
		IsTechnicallyLoggedOn: true,
		Activity:              &avl.VehicleActivity{},
	}
	is.NoErr(storage.UpdateVehicle(vehicle))

	feed, err := testAssembler(storage).DifferentialTripUpdates("bus-1")
	is.NoErr(err)
	is.Equal(len(feed.Entity), 0)

	kept, err := storage.GetTrip("vvs:trip-1")
	is.NoErr(err)
	is.True(kept != nil)
}

func TestTripUpdateRequiresOperationalLogOn(t *testing.T) {
	is := is.New(t)

	storage := avl.NewMemoryStore(3600, 100)
	is.NoErr(storage.UpdateTrip(scheduledTrip("vvs:trip-1")))

	vehicle := trackedVehicle("bus-1", "vvs:trip-1", 2, 0)
	vehicle.IsOperationallyLoggedOn = false
	is.NoErr(storage.UpdateVehicle(vehicle))

	feed, err := testAssembler(storage).FullTripUpdates()
	is.NoErr(err)
	is.Equal(len(feed.Entity), 0)
}
