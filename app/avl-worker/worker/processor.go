package worker

import (
	"fmt"
	"log"
	"time"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/business/iom/vdv435"
	"github.com/sebastianknopf/avl2gtfsrt/business/nominal"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/events"
)

//maxGnssAge is the acceptance window for inbound position samples, older
//samples are strictly stale
const maxGnssAge = 150 * time.Second

// Settings carries the matching behavior knobs of the processor
type Settings struct {
	//MatchingMaxInterval is the minimum observed sample spread in seconds
	//before a matching round runs, zero disables the gate
	MatchingMaxInterval int
	//MatchingMaxFailures is the number of consecutive failed on-trip
	//verifications that force an operational log off
	MatchingMaxFailures int
	ShapeFilterEnabled  bool
	ShapeFilterDistance float64
}

// Processor implements the vehicle-side semantics of the message bus: the
// technical log on and log off handshake and the position driven trip
// matching lifecycle. Handlers of one vehicle never run concurrently, the
// dispatcher guarantees that.
type Processor struct {
	log      *log.Logger
	storage  avl.Storage
	nominal  *nominal.Client
	events   *events.Publisher
	settings Settings

	//now is replaceable for deterministic tests
	now func() time.Time
}

// NewProcessor creates a Processor. The events publisher may be nil when no
// event stream is connected.
func NewProcessor(log *log.Logger, storage avl.Storage, nominalClient *nominal.Client,
	eventsPublisher *events.Publisher, settings Settings) *Processor {
	if settings.MatchingMaxFailures < 1 {
		settings.MatchingMaxFailures = 5
	}
	return &Processor{
		log:      log,
		storage:  storage,
		nominal:  nominalClient,
		events:   eventsPublisher,
		settings: settings,
		now:      time.Now,
	}
}

// HandleRequest answers an inbound request message, used as iom request
// callback
func (p *Processor) HandleRequest(topic string, msg vdv435.Message) (vdv435.Message, error) {
	switch request := msg.(type) {
	case *vdv435.TechnicalVehicleLogOnRequest:
		return p.HandleTechnicalLogOn(request)
	case *vdv435.TechnicalVehicleLogOffRequest:
		return p.HandleTechnicalLogOff(request)
	default:
		return nil, fmt.Errorf("%s is not usable in request/response", msg.RootElement())
	}
}

// HandleMessage processes an inbound data publication, used as dispatcher
// handler
func (p *Processor) HandleMessage(topic string, msg vdv435.Message) {
	switch publication := msg.(type) {
	case *vdv435.GnssPhysicalPositionData:
		p.HandleGnssPosition(topic, publication)
	default:
		p.log.Printf("%s is not usable in pub/sub, discarding", msg.RootElement())
	}
}

func (p *Processor) publishEvent(eventType string, vehicleRef string, tripId string) {
	if p.events == nil {
		return
	}
	p.events.Publish(events.VehicleEvent{
		Type:       eventType,
		VehicleRef: vehicleRef,
		TripId:     tripId,
		Timestamp:  p.now().Unix(),
	})
}
