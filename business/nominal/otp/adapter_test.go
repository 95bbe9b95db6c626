package otp

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/sebastianknopf/avl2gtfsrt/foundation/operatingday"
)

//otpFixture serves canned graphql responses and records request variables
type otpFixture struct {
	stops         []string
	trip          map[string]interface{}
	authorization string
}

func (f *otpFixture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.authorization = r.Header.Get("Authorization")

		request := graphQLRequest{}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, nearby := request.Variables["radius"]; nearby {
			edges := make([]map[string]interface{}, 0, len(f.stops))
			for _, stopId := range f.stops {
				edges = append(edges, map[string]interface{}{
					"node": map[string]interface{}{
						"distance": 25.0,
						"stop":     map[string]interface{}{"gtfsId": stopId},
					},
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"stopsByRadius": map[string]interface{}{"edges": edges},
				},
			})
			return
		}

		stoptimes := []map[string]interface{}{}
		if f.trip != nil {
			stoptimes = append(stoptimes, f.trip)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"stop": map[string]interface{}{
					"stoptimesForServiceDate": []map[string]interface{}{
						{"stoptimes": stoptimes},
					},
				},
			},
		})
	}
}

//fixtureReferenceDate mirrors the operating day resolution of the adapter
func fixtureReferenceDate() time.Time {
	return operatingday.ReferenceDate(time.Now().UTC().Add(-departureLookBack), operatingday.SecondsPerDay)
}

//departingTripFixture builds a boarding of trip-1 departing shortly after now,
//expressed as seconds after the operating day midnight
func departingTripFixture(geometry string) map[string]interface{} {
	referenceDate := fixtureReferenceDate()
	departure := int(time.Now().Unix()-referenceDate.Unix()) + 300

	stoptime := func(position int, offset int, stopId string, lat float64, lon float64) map[string]interface{} {
		return map[string]interface{}{
			"scheduledArrival":      departure + offset,
			"scheduledDeparture":    departure + offset,
			"stopPositionInPattern": position,
			"stop": map[string]interface{}{
				"gtfsId": stopId,
				"name":   stopId,
				"lat":    lat,
				"lon":    lon,
			},
		}
	}

	trip := map[string]interface{}{
		"gtfsId": "vvs:trip-1",
		"route":  map[string]interface{}{"gtfsId": "vvs:route-1"},
		"stoptimes": []map[string]interface{}{
			stoptime(1, 0, "vvs:stop-1", 0.0, 0.0),
			stoptime(2, 600, "vvs:stop-2", 0.0, 0.005),
			stoptime(3, 1200, "vvs:stop-3", 0.0, 0.01),
		},
	}
	if geometry != "" {
		trip["tripGeometry"] = map[string]interface{}{"points": geometry}
	}

	return map[string]interface{}{
		"scheduledArrival":   departure,
		"scheduledDeparture": departure,
		"trip":               trip,
	}
}

func newTestAdapter(t *testing.T, endpoint string, username string, password string) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(log.New(io.Discard, "", 0), Config{
		Endpoint: endpoint,
		Username: username,
		Password: password,
	}, Settings{
		Location:               time.UTC,
		OperatingDayEndSeconds: operatingday.SecondsPerDay,
	})
	if err != nil {
		t.Fatalf("creating adapter failed: %v", err)
	}
	return adapter
}

func TestGetTripCandidates(t *testing.T) {
	is := is.New(t)

	fixture := otpFixture{
		stops: []string{"vvs:stop-1"},
		trip:  departingTripFixture("_p~iF~ps|U_ulLnnqC"),
	}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, "", "")
	candidates, err := adapter.GetTripCandidates(0.0, 0.0)
	is.NoErr(err)
	is.Equal(len(candidates), 1)

	trip := candidates[0]
	is.Equal(trip.Descriptor.TripId, "vvs:trip-1")
	is.Equal(trip.Descriptor.RouteId, "vvs:route-1")
	is.Equal(trip.Descriptor.StartDate, operatingday.DateString(fixtureReferenceDate()))
	is.Equal(len(trip.StopTimes), 3)
	is.Equal(trip.StopTimes[0].Stop.StopId, "vvs:stop-1")
	is.Equal(trip.StopTimes[2].DepartureTimestamp-trip.StopTimes[0].DepartureTimestamp, int64(1200))
	is.True(trip.IsValid())
}

func TestGetTripCandidatesWithoutNearbyStops(t *testing.T) {
	is := is.New(t)

	fixture := otpFixture{}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, "", "")
	candidates, err := adapter.GetTripCandidates(0.0, 0.0)
	is.NoErr(err)
	is.Equal(len(candidates), 0)
}

func TestGetTripCandidatesDiscardsTripsWithoutGeometry(t *testing.T) {
	is := is.New(t)

	fixture := otpFixture{
		stops: []string{"vvs:stop-1"},
		trip:  departingTripFixture(""),
	}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, "", "")
	candidates, err := adapter.GetTripCandidates(0.0, 0.0)
	is.NoErr(err)
	is.Equal(len(candidates), 0)
}

func TestGetTripCandidatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, "", "")
	if _, err := adapter.GetTripCandidates(0.0, 0.0); err == nil {
		t.Errorf("server error must be surfaced to the caller")
	}
}

func TestGetTripCandidatesSendsBasicAuth(t *testing.T) {
	is := is.New(t)

	fixture := otpFixture{stops: []string{"vvs:stop-1"}}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, "otp", "secret")
	_, err := adapter.GetTripCandidates(0.0, 0.0)
	is.NoErr(err)
	is.True(fixture.authorization != "")
}
