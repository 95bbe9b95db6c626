package worker

import (
	"fmt"
	"time"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/business/iom/vdv435"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/events"
)

// HandleTechnicalLogOn processes a technical log on request. A vehicle is
// created on its first log on and fully reset on every later one, including
// the differential tombstone. Vehicles that are already logged on are
// rejected with doubleLogOn.
func (p *Processor) HandleTechnicalLogOn(request *vdv435.TechnicalVehicleLogOnRequest) (*vdv435.TechnicalVehicleLogOnResponse, error) {
	vehicleRef := request.VehicleRef
	if vehicleRef == "" {
		return nil, fmt.Errorf("technical log on request without vehicle ref")
	}

	vehicle, err := p.storage.GetVehicle(vehicleRef)
	if err != nil {
		return nil, fmt.Errorf("loading vehicle %s: %w", vehicleRef, err)
	}

	if vehicle != nil && vehicle.IsTechnicallyLoggedOn {
		p.log.Printf("vehicle %s tried to log on but is already logged on", vehicleRef)
		return &vdv435.TechnicalVehicleLogOnResponse{
			CommonResponseCode: vdv435.CommonResponseCodeMessageUnderstood,
			ResponseError: &vdv435.TechnicalVehicleLogOnResponseError{
				TechnicalVehicleLogOnResponseCode: vdv435.ResponseCodeDoubleLogOn,
			},
		}, nil
	}

	if vehicle == nil {
		vehicle = &avl.Vehicle{VehicleRef: vehicleRef}
	}
	vehicle.IsTechnicallyLoggedOn = true
	vehicle.IsOperationallyLoggedOn = false
	vehicle.DifferentialDeleted = false
	vehicle.Activity = &avl.VehicleActivity{}
	if vehicle.Cache == nil {
		vehicle.Cache = &avl.VehicleCache{}
	}

	if err = p.storage.UpdateVehicle(vehicle); err != nil {
		return nil, fmt.Errorf("updating vehicle %s: %w", vehicleRef, err)
	}

	p.log.Printf("vehicle %s logged on successfully", vehicleRef)
	p.publishEvent(events.TypeTechnicalLogOn, vehicleRef, "")

	return &vdv435.TechnicalVehicleLogOnResponse{
		ResponseData: &vdv435.TechnicalVehicleLogOnResponseData{
			Timestamp: p.now().Format(time.RFC3339),
		},
	}, nil
}

// HandleTechnicalLogOff processes a technical log off request. The vehicle is
// tombstoned for differential emission, trip descriptor and metrics stay in
// place until the differential cleanup consumes them. Vehicles that are not
// logged on are rejected with vehicleNotLoggedOn.
func (p *Processor) HandleTechnicalLogOff(request *vdv435.TechnicalVehicleLogOffRequest) (*vdv435.TechnicalVehicleLogOffResponse, error) {
	vehicleRef := request.VehicleRef
	if vehicleRef == "" {
		return nil, fmt.Errorf("technical log off request without vehicle ref")
	}

	vehicle, err := p.storage.GetVehicle(vehicleRef)
	if err != nil {
		return nil, fmt.Errorf("loading vehicle %s: %w", vehicleRef, err)
	}

	if vehicle == nil || !vehicle.IsTechnicallyLoggedOn {
		p.log.Printf("vehicle %s tried to log off but is not logged on", vehicleRef)
		return &vdv435.TechnicalVehicleLogOffResponse{
			CommonResponseCode: vdv435.CommonResponseCodeMessageUnderstood,
			ResponseError: &vdv435.TechnicalVehicleLogOffResponseError{
				TechnicalVehicleLogOffResponseCode: vdv435.ResponseCodeVehicleNotLoggedOn,
			},
		}, nil
	}

	tripId := vehicle.TripId()

	vehicle.IsTechnicallyLoggedOn = false
	vehicle.IsOperationallyLoggedOn = false
	vehicle.DifferentialDeleted = true

	//the trip the vehicle was operating is tombstoned as well, the
	//differential cleanup removes both together
	if tripId != "" {
		if trip, err := p.storage.GetTrip(tripId); err == nil && trip != nil {
			trip.DifferentialDeleted = true
			if err = p.storage.UpdateTrip(trip); err != nil {
				p.log.Printf("tombstoning trip %s failed: %v", tripId, err)
			}
		}
	}

	if err = p.storage.UpdateVehicle(vehicle); err != nil {
		return nil, fmt.Errorf("updating vehicle %s: %w", vehicleRef, err)
	}

	p.log.Printf("vehicle %s logged off successfully", vehicleRef)
	p.publishEvent(events.TypeTechnicalLogOff, vehicleRef, tripId)

	return &vdv435.TechnicalVehicleLogOffResponse{
		ResponseData: &vdv435.TechnicalVehicleLogOffResponseData{
			Timestamp: p.now().Format(time.RFC3339),
		},
	}, nil
}
