// Package worker contains the avl worker: it consumes the IoM message bus,
// serializes processing per vehicle and drives the trip matching lifecycle.
package worker

import (
	"fmt"
	"log"
	"os"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/business/iom"
	"github.com/sebastianknopf/avl2gtfsrt/business/iom/vdv435"
	"github.com/sebastianknopf/avl2gtfsrt/business/nominal"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/events"
)

// Run connects the IoM client in ITCS role to the processor and blocks until
// a shutdown signal arrives. On shutdown the bus connection is closed first,
// then the dispatcher drains its queues.
func Run(log *log.Logger, storage avl.Storage, nominalClient *nominal.Client,
	eventsPublisher *events.Publisher, iomConfig iom.Config, settings Settings,
	workerCount int, shutdown chan os.Signal) error {

	processor := NewProcessor(log, storage, nominalClient, eventsPublisher, settings)
	dispatcher := NewDispatcher(log, processor.HandleMessage, workerCount)

	client, err := iom.NewClient(log, iomConfig, iom.RoleItcs)
	if err != nil {
		return fmt.Errorf("creating iom client: %w", err)
	}

	client.OnRequest = func(topic string, msg vdv435.Message) (vdv435.Message, error) {
		var vehicleRef string
		switch request := msg.(type) {
		case *vdv435.TechnicalVehicleLogOnRequest:
			vehicleRef = request.VehicleRef
		case *vdv435.TechnicalVehicleLogOffRequest:
			vehicleRef = request.VehicleRef
		}
		if vehicleRef == "" {
			return processor.HandleRequest(topic, msg)
		}

		//log on and log off run in the vehicle's processing slot so they
		//never interleave with an in flight position handler whose storage
		//write would otherwise undo them
		var response vdv435.Message
		var err error
		dispatcher.Execute(vehicleRef, func() {
			response, err = processor.HandleRequest(topic, msg)
		})
		if err != nil {
			return nil, err
		}

		//keep the dispatcher bookkeeping in sync with the log on state
		switch msg.(type) {
		case *vdv435.TechnicalVehicleLogOnRequest:
			dispatcher.Register(vehicleRef)
		case *vdv435.TechnicalVehicleLogOffRequest:
			dispatcher.Reset(vehicleRef)
		}
		return response, nil
	}

	client.OnPublication = func(topic string, msg vdv435.Message) {
		vehicleRef := iom.TopicValue(topic, "Vehicle")
		if vehicleRef == "" {
			log.Printf("publication without vehicle ref in topic %s, discarding", topic)
			return
		}
		_, droppable := msg.(*vdv435.GnssPhysicalPositionData)
		dispatcher.Dispatch(vehicleRef, topic, msg, droppable)
	}

	if err = client.Start(); err != nil {
		return err
	}

	log.Printf("avl worker started")
	<-shutdown
	log.Printf("avl worker shutting down")

	client.Stop()
	dispatcher.Stop()
	return nil
}
