// Package vdv435 contains the VDV-435 message structures exchanged over the
// IoM bus and their XML codec.
//Inbound payloads may carry namespace prefixes (netex:, siri:), decoding
//matches on local element names only.
package vdv435

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// Response codes defined by VDV-435
const (
	CommonResponseCodeMessageUnderstood = "messageUnderstood"
	ResponseCodeDoubleLogOn             = "doubleLogOn"
	ResponseCodeVehicleNotLoggedOn      = "vehicleNotLoggedOn"
)

// Message is implemented by every VDV-435 structure the codec understands
type Message interface {
	RootElement() string
}

// TechnicalVehicleLogOnRequest announces a vehicle device coming online
type TechnicalVehicleLogOnRequest struct {
	XMLName    xml.Name `xml:"TechnicalVehicleLogOnRequest"`
	VehicleRef string   `xml:"VehicleRef"`
}

// RootElement implements Message
func (m *TechnicalVehicleLogOnRequest) RootElement() string { return "TechnicalVehicleLogOnRequest" }

// TechnicalVehicleLogOnResponseData is the positive log-on reply body
type TechnicalVehicleLogOnResponseData struct {
	Timestamp string `xml:"Timestamp,omitempty"`
}

// TechnicalVehicleLogOnResponseError carries the log-on rejection code
type TechnicalVehicleLogOnResponseError struct {
	TechnicalVehicleLogOnResponseCode string `xml:"TechnicalVehicleLogOnResponseCode"`
}

// TechnicalVehicleLogOnResponse replies to TechnicalVehicleLogOnRequest with
// either ResponseData or ResponseError set
type TechnicalVehicleLogOnResponse struct {
	XMLName            xml.Name                            `xml:"TechnicalVehicleLogOnResponse"`
	CommonResponseCode string                              `xml:"CommonResponseCode,omitempty"`
	ResponseData       *TechnicalVehicleLogOnResponseData  `xml:"TechnicalVehicleLogOnResponseData,omitempty"`
	ResponseError      *TechnicalVehicleLogOnResponseError `xml:"TechnicalVehicleLogOnResponseError,omitempty"`
}

// RootElement implements Message
func (m *TechnicalVehicleLogOnResponse) RootElement() string { return "TechnicalVehicleLogOnResponse" }

// TechnicalVehicleLogOffRequest announces a vehicle device going offline
type TechnicalVehicleLogOffRequest struct {
	XMLName    xml.Name `xml:"TechnicalVehicleLogOffRequest"`
	VehicleRef string   `xml:"VehicleRef"`
}

// RootElement implements Message
func (m *TechnicalVehicleLogOffRequest) RootElement() string { return "TechnicalVehicleLogOffRequest" }

// TechnicalVehicleLogOffResponseData is the positive log-off reply body
type TechnicalVehicleLogOffResponseData struct {
	Timestamp string `xml:"Timestamp,omitempty"`
}

// TechnicalVehicleLogOffResponseError carries the log-off rejection code
type TechnicalVehicleLogOffResponseError struct {
	TechnicalVehicleLogOffResponseCode string `xml:"TechnicalVehicleLogOffResponseCode"`
}

// TechnicalVehicleLogOffResponse replies to TechnicalVehicleLogOffRequest
type TechnicalVehicleLogOffResponse struct {
	XMLName            xml.Name                             `xml:"TechnicalVehicleLogOffResponse"`
	CommonResponseCode string                               `xml:"CommonResponseCode,omitempty"`
	ResponseData       *TechnicalVehicleLogOffResponseData  `xml:"TechnicalVehicleLogOffResponseData,omitempty"`
	ResponseError      *TechnicalVehicleLogOffResponseError `xml:"TechnicalVehicleLogOffResponseError,omitempty"`
}

// RootElement implements Message
func (m *TechnicalVehicleLogOffResponse) RootElement() string {
	return "TechnicalVehicleLogOffResponse"
}

// WGS84PhysicalPosition is a coordinate in WGS-84 degrees
type WGS84PhysicalPosition struct {
	Latitude  float64 `xml:"Latitude"`
	Longitude float64 `xml:"Longitude"`
}

// GnssPhysicalPosition wraps the coordinate variants of a position sample
type GnssPhysicalPosition struct {
	WGS84PhysicalPosition WGS84PhysicalPosition `xml:"WGS84PhysicalPosition"`
}

// GnssPhysicalPositionData is the retained position publication of a vehicle
type GnssPhysicalPositionData struct {
	XMLName                xml.Name             `xml:"GnssPhysicalPositionData"`
	PublisherId            string               `xml:"PublisherId,omitempty"`
	TimestampOfMeasurement string               `xml:"TimestampOfMeasurement"`
	GnssPhysicalPosition   GnssPhysicalPosition `xml:"GnssPhysicalPosition"`
}

// RootElement implements Message
func (m *GnssPhysicalPositionData) RootElement() string { return "GnssPhysicalPositionData" }

// MeasurementTime parses the ISO-8601 TimestampOfMeasurement
func (m *GnssPhysicalPositionData) MeasurementTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, m.TimestampOfMeasurement)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid TimestampOfMeasurement %q: %w", m.TimestampOfMeasurement, err)
	}
	return t, nil
}

// Encode marshals a message to its XML wire form
func Encode(msg Message) ([]byte, error) {
	payload, err := xml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.RootElement(), err)
	}
	return payload, nil
}

// Decode determines the message type from the root element of payload and
// un-marshals it. Unknown root elements are a protocol violation.
func Decode(payload []byte) (Message, error) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	root, err := rootElement(decoder)
	if err != nil {
		return nil, err
	}

	var msg Message
	switch root.Name.Local {
	case "TechnicalVehicleLogOnRequest":
		msg = &TechnicalVehicleLogOnRequest{}
	case "TechnicalVehicleLogOnResponse":
		msg = &TechnicalVehicleLogOnResponse{}
	case "TechnicalVehicleLogOffRequest":
		msg = &TechnicalVehicleLogOffRequest{}
	case "TechnicalVehicleLogOffResponse":
		msg = &TechnicalVehicleLogOffResponse{}
	case "GnssPhysicalPositionData":
		msg = &GnssPhysicalPositionData{}
	default:
		return nil, fmt.Errorf("unknown vdv435 message %q", root.Name.Local)
	}

	if err = decoder.DecodeElement(msg, root); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", root.Name.Local, err)
	}
	return msg, nil
}

//rootElement advances the decoder to the first start element
func rootElement(decoder *xml.Decoder) (*xml.StartElement, error) {
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("payload contains no xml element")
		}
		if err != nil {
			return nil, fmt.Errorf("reading xml payload: %w", err)
		}
		if start, ok := token.(xml.StartElement); ok {
			return &start, nil
		}
	}
}
