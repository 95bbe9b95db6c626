package iom

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sebastianknopf/avl2gtfsrt/business/iom/vdv435"
)

// Role determines which topic level structures a client subscribes and
// publishes to
type Role int

const (
	// RoleItcs is the server side: it answers log-on and log-off requests and
	// consumes position publications
	RoleItcs Role = iota + 1
	// RoleVehicle is the device side: it issues log-on and log-off requests
	// and publishes positions
	RoleVehicle
)

const (
	connectTimeout = 10 * time.Second
	requestTimeout = 30 * time.Second
)

// RequestHandler answers an inbound request message with a response message
type RequestHandler func(topic string, msg vdv435.Message) (vdv435.Message, error)

// PublicationHandler consumes an inbound data publication
type PublicationHandler func(topic string, msg vdv435.Message)

// Config carries the MQTT broker coordinates and the IoM identities
type Config struct {
	Host           string
	Port           int
	Username       string
	Password       string
	InstanceId     string
	OrganisationId string
	ItcsId         string
}

// Client is an IoM participant over MQTT in either the ITCS or the vehicle
// role. OnRequest and OnPublication must be set before Start.
type Client struct {
	log    *log.Logger
	config Config
	role   Role
	mqtt   mqtt.Client

	OnRequest     RequestHandler
	OnPublication PublicationHandler

	//single in-flight request slot
	correlationMu     sync.Mutex
	correlationId     string
	correlationResult chan []byte
}

// NewClient creates an IoM client, not yet connected
func NewClient(log *log.Logger, config Config, role Role) (*Client, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("mqtt host is not configured")
	}
	if config.Port == 0 {
		config.Port = 1883
	}

	c := &Client{
		log:    log,
		config: config,
		role:   role,
	}

	options := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", config.Host, config.Port)).
		SetClientID(fmt.Sprintf("avl2gtfsrt-IoM-%s-%s", config.OrganisationId, config.InstanceId)).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if config.Username != "" {
		options.SetUsername(config.Username)
		options.SetPassword(config.Password)
	}

	c.mqtt = mqtt.NewClient(options)
	return c, nil
}

// Start connects to the broker. Subscriptions are installed by the connect
// handler so they survive reconnects.
func (c *Client) Start() error {
	c.log.Printf("connecting to mqtt broker at %s:%d", c.config.Host, c.config.Port)
	token := c.mqtt.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timeout connecting to mqtt broker at %s:%d", c.config.Host, c.config.Port)
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker, allowing in-flight publications to finish
func (c *Client) Stop() {
	c.log.Printf("shutting down mqtt connection")
	c.mqtt.Disconnect(250)
}

//subscribedTopics returns the topic level structures of the client role with
//their qos, identity placeholders resolved
func (c *Client) subscribedTopics() map[string]byte {
	identity := c.identityValues()
	if c.role == RoleItcs {
		return map[string]byte{
			FormatTopic(TopicItcsInboxSub, identity):            QosInbox,
			FormatTopic(TopicVehiclePhysicalPosition, identity): QosPhysicalPosition,
		}
	}
	return map[string]byte{
		FormatTopic(TopicVehicleInboxSub, identity): QosInbox,
	}
}

func (c *Client) onConnect(client mqtt.Client) {
	for topic, qos := range c.subscribedTopics() {
		c.log.Printf("subscribing to topic: %s", topic)
		if token := client.Subscribe(topic, qos, c.onMessage); token.Wait() && token.Error() != nil {
			c.log.Printf("subscribing to topic %s failed: %v", topic, token.Error())
		}
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Printf("mqtt connection lost: %v", err)
}

func (c *Client) onMessage(_ mqtt.Client, message mqtt.Message) {
	c.log.Printf("received message in topic %s", message.Topic())

	identity := c.identityValues()
	inbox := TopicItcsInboxSub
	if c.role == RoleVehicle {
		inbox = TopicVehicleInboxSub
	}

	if TopicMatches(message.Topic(), FormatTopic(inbox, identity)) {
		//an inbox message is a response when a request is in flight,
		//otherwise a request directed at us
		if c.resolveCorrelation(message.Topic(), message.Payload()) {
			return
		}
		c.handleRequest(message.Topic(), message.Payload())
		return
	}

	c.handlePublication(message.Topic(), message.Payload())
}

func (c *Client) handleRequest(topic string, payload []byte) {
	if c.OnRequest == nil {
		return
	}

	msg, err := vdv435.Decode(payload)
	if err != nil {
		c.log.Printf("discarding message in topic %s: %v", topic, err)
		return
	}

	response, err := c.OnRequest(topic, msg)
	if err != nil {
		c.log.Printf("handling request in topic %s failed: %v", topic, err)
		return
	}
	if response == nil {
		return
	}

	//the reply goes to the vehicle inbox of the requesting vehicle, keyed by
	//the data version and correlation id of the request topic
	values := c.identityValues()
	values["data_version"] = TopicValue(topic, "DataVersion")
	values["correlation_id"] = TopicValue(topic, "CorrelationId")
	switch request := msg.(type) {
	case *vdv435.TechnicalVehicleLogOnRequest:
		values["vehicle_id"] = request.VehicleRef
	case *vdv435.TechnicalVehicleLogOffRequest:
		values["vehicle_id"] = request.VehicleRef
	}

	c.publish(FormatTopic(TopicVehicleInboxPub, values), QosInbox, false, response)
}

func (c *Client) handlePublication(topic string, payload []byte) {
	if c.OnPublication == nil {
		return
	}

	msg, err := vdv435.Decode(payload)
	if err != nil {
		c.log.Printf("discarding message in topic %s: %v", topic, err)
		return
	}
	c.OnPublication(topic, msg)
}

//resolveCorrelation completes the in-flight request when the topic carries
//its correlation id. Returns true when the message was consumed as response.
func (c *Client) resolveCorrelation(topic string, payload []byte) bool {
	c.correlationMu.Lock()
	defer c.correlationMu.Unlock()

	if c.correlationId == "" || TopicValue(topic, "CorrelationId") != c.correlationId {
		return false
	}

	c.correlationId = ""
	c.correlationResult <- payload
	return true
}

//request publishes msg with a fresh correlation id and blocks until the
//matching response arrives or the timeout expires. Only one request may be in
//flight at a time.
func (c *Client) request(topic string, qos byte, msg vdv435.Message) (vdv435.Message, error) {
	c.correlationMu.Lock()
	if c.correlationId != "" {
		c.correlationMu.Unlock()
		return nil, fmt.Errorf("another request is already in flight")
	}
	correlationId := uuid.NewString()
	result := make(chan []byte, 1)
	c.correlationId = correlationId
	c.correlationResult = result
	c.correlationMu.Unlock()

	values := c.identityValues()
	values["correlation_id"] = correlationId
	if err := c.publish(FormatTopic(topic, values), qos, false, msg); err != nil {
		c.clearCorrelation()
		return nil, err
	}

	select {
	case payload := <-result:
		return vdv435.Decode(payload)
	case <-time.After(requestTimeout):
		c.clearCorrelation()
		return nil, fmt.Errorf("no response to request with correlation id %s", correlationId)
	}
}

func (c *Client) clearCorrelation() {
	c.correlationMu.Lock()
	c.correlationId = ""
	c.correlationResult = nil
	c.correlationMu.Unlock()
}

func (c *Client) publish(topic string, qos byte, retained bool, msg vdv435.Message) error {
	payload, err := vdv435.Encode(msg)
	if err != nil {
		return err
	}

	token := c.mqtt.Publish(topic, qos, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to topic %s: %w", topic, token.Error())
	}

	c.log.Printf("published message to topic %s", topic)
	return nil
}

// LogOnVehicle runs the technical log-on handshake for a vehicle device.
//Vehicle role only.
func (c *Client) LogOnVehicle(vehicleRef string) error {
	if c.role != RoleVehicle {
		return fmt.Errorf("only clients with role type vehicle may log on vehicles")
	}

	response, err := c.request(TopicItcsInboxPub, QosInbox, &vdv435.TechnicalVehicleLogOnRequest{VehicleRef: vehicleRef})
	if err != nil {
		return err
	}

	logOnResponse, ok := response.(*vdv435.TechnicalVehicleLogOnResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %s to log on request", response.RootElement())
	}
	if logOnResponse.ResponseError != nil {
		return fmt.Errorf("failed to log on vehicle %s, response: %s",
			vehicleRef, logOnResponse.ResponseError.TechnicalVehicleLogOnResponseCode)
	}

	c.log.Printf("vehicle %s successfully logged on", vehicleRef)
	return nil
}

// LogOffVehicle runs the technical log-off handshake for a vehicle device.
//Vehicle role only.
func (c *Client) LogOffVehicle(vehicleRef string) error {
	if c.role != RoleVehicle {
		return fmt.Errorf("only clients with role type vehicle may log off vehicles")
	}

	response, err := c.request(TopicItcsInboxPub, QosInbox, &vdv435.TechnicalVehicleLogOffRequest{VehicleRef: vehicleRef})
	if err != nil {
		return err
	}

	logOffResponse, ok := response.(*vdv435.TechnicalVehicleLogOffResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %s to log off request", response.RootElement())
	}
	if logOffResponse.ResponseError != nil {
		return fmt.Errorf("failed to log off vehicle %s, response: %s",
			vehicleRef, logOffResponse.ResponseError.TechnicalVehicleLogOffResponseCode)
	}

	c.log.Printf("vehicle %s successfully logged off", vehicleRef)
	return nil
}

// PublishPosition publishes a retained GNSS position sample of a vehicle.
//Vehicle role only.
func (c *Client) PublishPosition(vehicleRef string, latitude float64, longitude float64, timestamp time.Time) error {
	if c.role != RoleVehicle {
		return fmt.Errorf("only clients with role type vehicle may publish position updates")
	}

	values := c.identityValues()
	values["vehicle_ref"] = vehicleRef

	msg := &vdv435.GnssPhysicalPositionData{
		PublisherId:            c.config.InstanceId,
		TimestampOfMeasurement: timestamp.Truncate(time.Second).Format(time.RFC3339),
		GnssPhysicalPosition: vdv435.GnssPhysicalPosition{
			WGS84PhysicalPosition: vdv435.WGS84PhysicalPosition{
				Latitude:  latitude,
				Longitude: longitude,
			},
		},
	}
	return c.publish(FormatTopic(TopicVehiclePhysicalPositionPub, values), QosPhysicalPosition, true, msg)
}

func (c *Client) identityValues() map[string]string {
	return map[string]string{
		"organisation_id": c.config.OrganisationId,
		"itcs_id":         c.config.ItcsId,
	}
}
