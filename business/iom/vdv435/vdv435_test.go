package vdv435

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestDecodeTechnicalVehicleLogOnRequest(t *testing.T) {
	is := is.New(t)

	payload := []byte(`<TechnicalVehicleLogOnRequest><VehicleRef>bus-1</VehicleRef></TechnicalVehicleLogOnRequest>`)
	msg, err := Decode(payload)
	is.NoErr(err)

	request, ok := msg.(*TechnicalVehicleLogOnRequest)
	is.True(ok)
	is.Equal(request.VehicleRef, "bus-1")
}

func TestDecodeWithNamespacePrefix(t *testing.T) {
	is := is.New(t)

	//devices commonly prefix elements with a namespace, decoding matches on
	//local names only
	payload := []byte(`<vdv:TechnicalVehicleLogOffRequest xmlns:vdv="vdv435">` +
		`<vdv:VehicleRef>bus-2</vdv:VehicleRef>` +
		`</vdv:TechnicalVehicleLogOffRequest>`)
	msg, err := Decode(payload)
	is.NoErr(err)

	request, ok := msg.(*TechnicalVehicleLogOffRequest)
	is.True(ok)
	is.Equal(request.VehicleRef, "bus-2")
}

func TestDecodeSkipsLeadingDeclaration(t *testing.T) {
	is := is.New(t)

	payload := []byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<GnssPhysicalPositionData>` +
		`<TimestampOfMeasurement>2026-03-14T12:00:00Z</TimestampOfMeasurement>` +
		`<GnssPhysicalPosition><WGS84PhysicalPosition>` +
		`<Latitude>48.7758</Latitude><Longitude>9.1829</Longitude>` +
		`</WGS84PhysicalPosition></GnssPhysicalPosition>` +
		`</GnssPhysicalPositionData>`)
	msg, err := Decode(payload)
	is.NoErr(err)

	position, ok := msg.(*GnssPhysicalPositionData)
	is.True(ok)
	is.Equal(position.GnssPhysicalPosition.WGS84PhysicalPosition.Latitude, 48.7758)
	is.Equal(position.GnssPhysicalPosition.WGS84PhysicalPosition.Longitude, 9.1829)

	measured, err := position.MeasurementTime()
	is.NoErr(err)
	is.Equal(measured.UTC(), time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
}

func TestDecodeUnknownRootElement(t *testing.T) {
	if _, err := Decode([]byte(`<SomethingElse/>`)); err == nil {
		t.Errorf("unknown root element must be rejected")
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	if _, err := Decode([]byte("")); err == nil {
		t.Errorf("empty payload must be rejected")
	}
}

func TestEncodeDecodeResponses(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "positive log on response",
			msg: &TechnicalVehicleLogOnResponse{
				CommonResponseCode: CommonResponseCodeMessageUnderstood,
				ResponseData: &TechnicalVehicleLogOnResponseData{
					Timestamp: "2026-03-14T12:00:00Z",
				},
			},
		},
		{
			name: "double log on error",
			msg: &TechnicalVehicleLogOnResponse{
				CommonResponseCode: CommonResponseCodeMessageUnderstood,
				ResponseError: &TechnicalVehicleLogOnResponseError{
					TechnicalVehicleLogOnResponseCode: ResponseCodeDoubleLogOn,
				},
			},
		},
		{
			name: "not logged on error",
			msg: &TechnicalVehicleLogOffResponse{
				CommonResponseCode: CommonResponseCodeMessageUnderstood,
				ResponseError: &TechnicalVehicleLogOffResponseError{
					TechnicalVehicleLogOffResponseCode: ResponseCodeVehicleNotLoggedOn,
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.msg)
			if err != nil {
				t.Errorf("Encode failed: %v", err)
				return
			}
			decoded, err := Decode(payload)
			if err != nil {
				t.Errorf("Decode failed: %v", err)
				return
			}
			if decoded.RootElement() != tt.msg.RootElement() {
				t.Errorf("round trip changed root element: %s, want %s", decoded.RootElement(), tt.msg.RootElement())
			}
		})
	}
}

func TestEncodeDecodeResponseError(t *testing.T) {
	is := is.New(t)

	payload, err := Encode(&TechnicalVehicleLogOnResponse{
		CommonResponseCode: CommonResponseCodeMessageUnderstood,
		ResponseError: &TechnicalVehicleLogOnResponseError{
			TechnicalVehicleLogOnResponseCode: ResponseCodeDoubleLogOn,
		},
	})
	is.NoErr(err)

	msg, err := Decode(payload)
	is.NoErr(err)

	response, ok := msg.(*TechnicalVehicleLogOnResponse)
	is.True(ok)
	is.True(response.ResponseError != nil)
	is.Equal(response.ResponseError.TechnicalVehicleLogOnResponseCode, ResponseCodeDoubleLogOn)
	is.Equal(response.ResponseData, nil)
}

func TestMeasurementTimeInvalid(t *testing.T) {
	position := GnssPhysicalPositionData{TimestampOfMeasurement: "yesterday"}
	if _, err := position.MeasurementTime(); err == nil {
		t.Errorf("invalid timestamp must be rejected")
	}
}
