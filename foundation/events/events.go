// Package events carries the internal vehicle event stream between the avl
// worker and downstream consumers over NATS.
package events

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject vehicle events are published on
const DefaultSubject = "avl.events"

// Event types emitted by the avl worker
const (
	TypeTechnicalLogOn    = "technical_log_on"
	TypeTechnicalLogOff   = "technical_log_off"
	TypeOperationalLogOn  = "operational_log_on"
	TypeOperationalLogOff = "operational_log_off"
	TypeGnssUpdate        = "gnss_update"
)

// VehicleEvent describes a state change of a single vehicle. TripId is set
// for operational events only.
type VehicleEvent struct {
	Type       string `json:"type"`
	VehicleRef string `json:"vehicle_ref"`
	TripId     string `json:"trip_id,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Publisher sends vehicle events over a NATS connection
type Publisher struct {
	log     *log.Logger
	nats    *nats.Conn
	subject string
}

// NewPublisher creates a Publisher on subject, falling back to DefaultSubject
// when empty
func NewPublisher(log *log.Logger, natsConnection *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{
		log:     log,
		nats:    natsConnection,
		subject: subject,
	}
}

// Publish sends event on the configured subject. Publication failures are
// logged, not returned, the event stream is best effort.
func (p *Publisher) Publish(event VehicleEvent) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		p.log.Printf("failed to marshal vehicle event, error:%v", err)
		return
	}
	if err = p.nats.Publish(p.subject, jsonData); err != nil {
		p.log.Printf("failed to send vehicle event over nats, error:%v", err)
	}
}

// Subscribe installs handler for vehicle events on subject and returns the
// subscription for tear down
func Subscribe(log *log.Logger, natsConnection *nats.Conn, subject string,
	handler func(VehicleEvent)) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	sub, err := natsConnection.Subscribe(subject, func(msg *nats.Msg) {
		var event VehicleEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("error parsing vehicle event: %s, payload:%s", err, string(msg.Data))
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to subject %s: %w", subject, err)
	}
	return sub, nil
}
