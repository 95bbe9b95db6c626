// Package iom implements the VDV-435 internet of mobility message bus on top
// of MQTT, with the topic level structures and the ITCS and vehicle client
// roles.
package iom

import (
	"strings"
)

// Topic level structure templates. Placeholders in braces are substituted by
// FormatTopic, + and # are MQTT subscription wildcards.
const (
	//subscriptions of the ITCS role
	TopicItcsInboxSub            = "IoM/1.0/DataVersion/+/Inbox/ItcsInbox/Country/de/+/Organisation/{organisation_id}/+/ItcsId/{itcs_id}/#"
	TopicVehiclePhysicalPosition = "IoM/1.0/DataVersion/+/Country/de/+/Organisation/{organisation_id}/+/Vehicle/+/+/PhysicalPosition/#"

	//publications of the ITCS role
	TopicVehicleInboxPub = "IoM/1.0/DataVersion/{data_version}/Inbox/VehicleInbox/Country/de/any/Organisation/{organisation_id}/any/VehicleId/{vehicle_id}/CorrelationId/{correlation_id}/ResponseData"

	//subscriptions of the vehicle role
	TopicVehicleInboxSub = "IoM/1.0/DataVersion/+/Inbox/VehicleInbox/Country/de/+/Organisation/{organisation_id}/+/VehicleId/+/CorrelationId/+/ResponseData"

	//publications of the vehicle role
	TopicItcsInboxPub               = "IoM/1.0/DataVersion/any/Inbox/ItcsInbox/Country/de/any/Organisation/{organisation_id}/any/ItcsId/{itcs_id}/CorrelationId/{correlation_id}/RequestData"
	TopicVehiclePhysicalPositionPub = "IoM/1.0/DataVersion/any/Country/de/any/Organisation/{organisation_id}/any/Vehicle/{vehicle_ref}/any/PhysicalPosition/GnssPhysicalPositionData"
)

// QoS levels per topic level structure
const (
	QosInbox            byte = 2
	QosPhysicalPosition byte = 0
)

// FormatTopic substitutes {placeholder} occurrences in a topic level structure
// template. Placeholders without a value remain untouched so templates can be
// filled in several passes.
func FormatTopic(template string, values map[string]string) string {
	topic := template
	for key, value := range values {
		topic = strings.ReplaceAll(topic, "{"+key+"}", value)
	}
	return topic
}

// TopicValue extracts the segment following the given keyword segment, e.g.
// TopicValue(".../Vehicle/bus-1/...", "Vehicle") returns "bus-1". Returns an
// empty string when the keyword is absent or terminates the topic.
func TopicValue(topic string, keyword string) string {
	segments := strings.Split(topic, "/")
	for i, segment := range segments {
		if segment == keyword && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}

// TopicMatches reports whether topic matches an MQTT subscription pattern
// with + and # wildcards. Unresolved {placeholder} segments match any single
// segment.
func TopicMatches(topic string, pattern string) bool {
	topicSegments := strings.Split(topic, "/")
	patternSegments := strings.Split(pattern, "/")

	for i, patternSegment := range patternSegments {
		if patternSegment == "#" {
			return true
		}
		if i >= len(topicSegments) {
			return false
		}
		if patternSegment == "+" {
			continue
		}
		if strings.HasPrefix(patternSegment, "{") && strings.HasSuffix(patternSegment, "}") {
			continue
		}
		if patternSegment != topicSegments[i] {
			return false
		}
	}
	return len(topicSegments) == len(patternSegments)
}
