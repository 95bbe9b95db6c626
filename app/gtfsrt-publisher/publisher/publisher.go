// Package publisher pushes differential GTFS-Realtime feeds to an MQTT
// endpoint whenever a vehicle event arrives on the internal event stream.
package publisher

import (
	"fmt"
	logger "log"
	"strings"
	"sync"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/sebastianknopf/avl2gtfsrt/business/gtfsrt"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/events"
)

const (
	//defaultTopicTemplate is the outbound topic, dataType is one of
	//vehiclepositions and tripupdates
	defaultTopicTemplate = "gtfsrt/{dataType}/{vehicleId}"

	dataTypeVehiclePositions = "vehiclepositions"
	dataTypeTripUpdates      = "tripupdates"

	//publishMinInterval debounces position driven emission: at most one
	//gnss triggered differential publication per vehicle every two seconds
	publishMinInterval = rate.Limit(0.5)
)

// Config is the JSON publisher configuration carried in A2G_PUBLISHER_CONFIG
type Config struct {
	Endpoint string `json:"endpoint"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Topic    string `json:"topic"`
}

// Publisher listens on the vehicle event stream and publishes the affected
// vehicle's differential feeds over MQTT
type Publisher struct {
	log            *logger.Logger
	assembler      *gtfsrt.Assembler
	mqtt           mqtt.Client
	topicTemplate  string
	organisationId string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPublisher creates a Publisher, not yet connected
func NewPublisher(log *logger.Logger, assembler *gtfsrt.Assembler, config Config, organisationId string) (*Publisher, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("publisher requires an mqtt endpoint")
	}
	if config.Port == 0 {
		config.Port = 1883
	}
	if config.Topic == "" {
		config.Topic = defaultTopicTemplate
	}

	options := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", config.Endpoint, config.Port)).
		SetClientID(fmt.Sprintf("avl2gtfsrt-publisher-%s", organisationId)).
		SetAutoReconnect(true)
	if config.Username != "" {
		options.SetUsername(config.Username)
		options.SetPassword(config.Password)
	}

	return &Publisher{
		log:            log,
		assembler:      assembler,
		mqtt:           mqtt.NewClient(options),
		topicTemplate:  config.Topic,
		organisationId: organisationId,
		limiters:       make(map[string]*rate.Limiter),
	}, nil
}

// Start connects to the MQTT endpoint
func (p *Publisher) Start() error {
	token := p.mqtt.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to mqtt endpoint: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the MQTT endpoint
func (p *Publisher) Stop() {
	p.mqtt.Disconnect(250)
}

// OnEvent handles one vehicle event from the event stream, used as events
// subscription handler
func (p *Publisher) OnEvent(event events.VehicleEvent) {
	p.log.Printf("received %s event for vehicle %s", event.Type, event.VehicleRef)

	//only position updates are debounced. Log on and log off events are the
	//last events a vehicle may ever emit, dropping them would leave their
	//tombstones unpublished and uncleaned forever.
	if event.Type == events.TypeGnssUpdate && !p.limiter(event.VehicleRef).Allow() {
		return
	}

	vehiclePositions, err := p.assembler.DifferentialVehiclePositions(event.VehicleRef)
	if err != nil {
		p.log.Printf("building differential vehicle positions for vehicle %s failed: %v", event.VehicleRef, err)
		return
	}
	p.send(event.VehicleRef, dataTypeVehiclePositions, vehiclePositions)

	tripUpdates, err := p.assembler.DifferentialTripUpdates(event.VehicleRef)
	if err != nil {
		p.log.Printf("building differential trip updates for vehicle %s failed: %v", event.VehicleRef, err)
		return
	}
	p.send(event.VehicleRef, dataTypeTripUpdates, tripUpdates)
}

//limiter returns the per vehicle debounce limiter, creating it on first use
func (p *Publisher) limiter(vehicleRef string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	limiter, ok := p.limiters[vehicleRef]
	if !ok {
		limiter = rate.NewLimiter(publishMinInterval, 1)
		p.limiters[vehicleRef] = limiter
	}
	return limiter
}

func (p *Publisher) send(vehicleId string, dataType string, feedMessage *gtfsproto.FeedMessage) {
	payload, err := proto.Marshal(feedMessage)
	if err != nil {
		p.log.Printf("failed to marshal feed message for vehicle %s, error:%v", vehicleId, err)
		return
	}

	topic := p.topicTemplate
	topic = strings.ReplaceAll(topic, "{organisationId}", p.organisationId)
	topic = strings.ReplaceAll(topic, "{dataType}", dataType)
	topic = strings.ReplaceAll(topic, "{vehicleId}", vehicleId)

	token := p.mqtt.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		p.log.Printf("publishing to topic %s failed: %v", topic, token.Error())
		return
	}
	p.log.Printf("sent message for vehicle %s and data type %s", vehicleId, dataType)
}
