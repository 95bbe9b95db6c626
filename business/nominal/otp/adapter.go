// Package otp implements the nominal schedule adapter for OpenTripPlanner's
// GTFS GraphQL API.
package otp

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/httpclient"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/operatingday"
)

const (
	//stopRadiusMeters limits nearby stop discovery around the vehicle
	stopRadiusMeters = 200
	//maxTripCandidates caps the candidate list handed to the matcher
	maxTripCandidates = 20
	//departureLookBack absorbs clock skew and slightly early departures
	departureLookBack = 15 * time.Minute

	requestTimeout = 15 * time.Second
)

const nearbyStopsQuery = `
query NearbyStops($lat: Float!, $lon: Float!, $radius: Int!) {
  stopsByRadius(lat: $lat, lon: $lon, radius: $radius) {
    edges {
      node {
        distance,
        stop {
          gtfsId
        }
      }
    }
  }
}`

const departingTripsQuery = `
query DepartingTrips($date: String!, $stopId: String!) {
  stop(id: $stopId) {
    stoptimesForServiceDate(date: $date) {
      stoptimes {
        scheduledArrival
        scheduledDeparture
        trip {
          gtfsId
          route {
            gtfsId
          }
          tripGeometry {
            points
          }
          stoptimes {
            scheduledArrival
            scheduledDeparture
            stopPositionInPattern
            stop {
              gtfsId
              name
              lat
              lon
            }
          }
        }
      }
    }
  }
}`

// Config is the JSON adapter configuration carried in A2G_NOMINAL_ADAPTER_CONFIG
type Config struct {
	Endpoint string `json:"endpoint"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Settings carries schedule interpretation options
type Settings struct {
	Location               *time.Location
	OperatingDayEndSeconds int
	Calendar               *operatingday.Calendar
}

// Adapter queries an OTP instance for trips boarding near a coordinate
type Adapter struct {
	log      *log.Logger
	endpoint string
	client   *httpclient.Client
	settings Settings
}

// NewAdapter creates an Adapter for the configured OTP endpoint
func NewAdapter(log *log.Logger, config Config, settings Settings) (*Adapter, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("otp adapter requires an endpoint")
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Adapter{
		log:      log,
		endpoint: config.Endpoint,
		client:   httpclient.NewClient(requestTimeout, config.Username, config.Password),
		settings: settings,
	}, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type nearbyStopsResponse struct {
	Data struct {
		StopsByRadius *struct {
			Edges []struct {
				Node struct {
					Distance float64 `json:"distance"`
					Stop     struct {
						GtfsId string `json:"gtfsId"`
					} `json:"stop"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"stopsByRadius"`
	} `json:"data"`
}

type otpStopTime struct {
	ScheduledArrival      *int `json:"scheduledArrival"`
	ScheduledDeparture    *int `json:"scheduledDeparture"`
	StopPositionInPattern int  `json:"stopPositionInPattern"`
	Stop                  struct {
		GtfsId string  `json:"gtfsId"`
		Name   string  `json:"name"`
		Lat    float64 `json:"lat"`
		Lon    float64 `json:"lon"`
	} `json:"stop"`
}

type otpTrip struct {
	GtfsId string `json:"gtfsId"`
	Route  struct {
		GtfsId string `json:"gtfsId"`
	} `json:"route"`
	TripGeometry *struct {
		Points string `json:"points"`
	} `json:"tripGeometry"`
	StopTimes []otpStopTime `json:"stoptimes"`
}

type departingTripsResponse struct {
	Data struct {
		Stop *struct {
			StoptimesForServiceDate []struct {
				Stoptimes []struct {
					ScheduledArrival   *int    `json:"scheduledArrival"`
					ScheduledDeparture *int    `json:"scheduledDeparture"`
					Trip               otpTrip `json:"trip"`
				} `json:"stoptimes"`
			} `json:"stoptimesForServiceDate"`
		} `json:"stop"`
	} `json:"data"`
}

//departingTrip pairs a trip with its scheduled departure at the queried stop
//for candidate ordering
type departingTrip struct {
	trip               otpTrip
	scheduledDeparture int64
}

// GetTripCandidates implements nominal.Adapter
func (a *Adapter) GetTripCandidates(lat float64, lon float64) ([]avl.Trip, error) {
	referenceTimestamp := time.Now().In(a.settings.Location).Truncate(time.Second).Add(-departureLookBack)
	referenceDate := operatingday.ReferenceDate(referenceTimestamp, a.settings.OperatingDayEndSeconds)

	if a.settings.Calendar != nil && a.settings.Calendar.IsSundayService(referenceDate) {
		a.log.Printf("reference date %s is a sunday or public holiday, schedule follows sunday service",
			operatingday.DateString(referenceDate))
	}

	stopIds, err := a.loadNearbyStops(lat, lon)
	if err != nil {
		return nil, err
	}
	if len(stopIds) == 0 {
		a.log.Printf("no nearby stops found for coordinates (%f, %f)", lat, lon)
		return []avl.Trip{}, nil
	}

	departing := make([]departingTrip, 0)
	for _, stopId := range stopIds {
		trips, err := a.loadDepartingTrips(stopId, referenceTimestamp, referenceDate)
		if err != nil {
			return nil, err
		}
		departing = append(departing, trips...)
	}

	sort.SliceStable(departing, func(i, j int) bool {
		return departing[i].scheduledDeparture < departing[j].scheduledDeparture
	})
	if len(departing) > maxTripCandidates {
		departing = departing[:maxTripCandidates]
	}

	return a.materializeTrips(departing, referenceDate), nil
}

func (a *Adapter) loadNearbyStops(lat float64, lon float64) ([]string, error) {
	response := nearbyStopsResponse{}
	err := a.client.PostJSON(a.endpoint, graphQLRequest{
		Query: nearbyStopsQuery,
		Variables: map[string]interface{}{
			"lat":    lat,
			"lon":    lon,
			"radius": stopRadiusMeters,
		},
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("querying nearby stops: %w", err)
	}

	if response.Data.StopsByRadius == nil {
		return nil, nil
	}
	stopIds := make([]string, 0, len(response.Data.StopsByRadius.Edges))
	for _, edge := range response.Data.StopsByRadius.Edges {
		if edge.Node.Stop.GtfsId != "" {
			stopIds = append(stopIds, edge.Node.Stop.GtfsId)
		}
	}
	return stopIds, nil
}

//loadDepartingTrips returns all trips calling at stopId on the operating day
//whose boarding at this stop departs at or after the reference timestamp
func (a *Adapter) loadDepartingTrips(stopId string, referenceTimestamp time.Time, referenceDate time.Time) ([]departingTrip, error) {
	response := departingTripsResponse{}
	err := a.client.PostJSON(a.endpoint, graphQLRequest{
		Query: departingTripsQuery,
		Variables: map[string]interface{}{
			"stopId": stopId,
			"date":   referenceDate.Format("2006-01-02"),
		},
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("querying departing trips at stop %s: %w", stopId, err)
	}

	if response.Data.Stop == nil {
		return nil, nil
	}

	anchor := referenceDate.Unix()
	results := make([]departingTrip, 0)
	for _, pattern := range response.Data.Stop.StoptimesForServiceDate {
		for _, stoptime := range pattern.Stoptimes {
			departureSeconds := scheduleSeconds(stoptime.ScheduledDeparture, stoptime.ScheduledArrival)
			if departureSeconds == nil {
				continue
			}
			departureTimestamp := anchor + int64(*departureSeconds)
			if departureTimestamp >= referenceTimestamp.Unix() {
				results = append(results, departingTrip{
					trip:               stoptime.Trip,
					scheduledDeparture: departureTimestamp,
				})
			}
		}
	}
	return results, nil
}

//materializeTrips converts OTP trips into model trips with stop times
//resolved to epoch seconds in the operating day. Invalid candidates are
//dropped.
func (a *Adapter) materializeTrips(departing []departingTrip, referenceDate time.Time) []avl.Trip {
	anchor := referenceDate.Unix()
	seen := make(map[string]bool)
	trips := make([]avl.Trip, 0, len(departing))

	for _, d := range departing {
		td := d.trip
		if seen[td.GtfsId] {
			continue
		}
		seen[td.GtfsId] = true

		if td.TripGeometry == nil || td.TripGeometry.Points == "" {
			a.log.Printf("trip %s contains no shape data and was discarded", td.GtfsId)
			continue
		}
		if len(td.StopTimes) == 0 {
			a.log.Printf("trip %s contains no stop times and was discarded", td.GtfsId)
			continue
		}

		stopTimes := make([]avl.StopTime, 0, len(td.StopTimes))
		for _, std := range td.StopTimes {
			arrivalSeconds := scheduleSeconds(std.ScheduledArrival, std.ScheduledDeparture)
			departureSeconds := scheduleSeconds(std.ScheduledDeparture, std.ScheduledArrival)
			if arrivalSeconds == nil || departureSeconds == nil {
				continue
			}
			stopTimes = append(stopTimes, avl.StopTime{
				StopSequence:       std.StopPositionInPattern,
				ArrivalTimestamp:   anchor + int64(*arrivalSeconds),
				DepartureTimestamp: anchor + int64(*departureSeconds),
				Stop: avl.Stop{
					StopId:    std.Stop.GtfsId,
					Latitude:  std.Stop.Lat,
					Longitude: std.Stop.Lon,
					Name:      std.Stop.Name,
				},
			})
		}
		if len(stopTimes) < 2 {
			a.log.Printf("trip %s contains too few usable stop times and was discarded", td.GtfsId)
			continue
		}

		trips = append(trips, avl.Trip{
			Descriptor: avl.TripDescriptor{
				TripId:    td.GtfsId,
				RouteId:   td.Route.GtfsId,
				StartDate: operatingday.DateString(referenceDate),
				StartTime: operatingday.FormatSeconds(int(stopTimes[0].DepartureTimestamp - anchor)),
			},
			StopTimes:     stopTimes,
			ShapePolyline: td.TripGeometry.Points,
		})
	}
	return trips
}

//scheduleSeconds picks the primary schedule value, falling back to the
//secondary when the feed omits one of arrival or departure
func scheduleSeconds(primary *int, secondary *int) *int {
	if primary != nil {
		return primary
	}
	return secondary
}
