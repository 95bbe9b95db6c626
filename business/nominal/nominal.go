// Package nominal resolves nominal trip candidates near a coordinate from an
// external schedule source.
package nominal

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/business/nominal/otp"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/operatingday"
)

// Adapter translates a coordinate and "now" into materialized trip candidates.
//Implementations are pure query translators: no retries, no caching.
type Adapter interface {
	GetTripCandidates(lat float64, lon float64) ([]avl.Trip, error)
}

// AdapterSettings carries the schedule interpretation options shared by all
// adapter types
type AdapterSettings struct {
	Location               *time.Location
	OperatingDayEndSeconds int
	Calendar               *operatingday.Calendar
}

// Client wraps the configured Adapter with the error policy of the schedule
// source surface: failures are logged and yield an empty candidate list, the
// caller decides about fallbacks.
type Client struct {
	log     *log.Logger
	adapter Adapter
}

// NewClient constructs the adapter named by adapterType from its JSON
// configuration. Unknown adapter types and invalid configuration are startup
// errors.
func NewClient(log *log.Logger, adapterType string, adapterConfig string, settings AdapterSettings) (*Client, error) {
	switch adapterType {
	case "otp":
		config := otp.Config{}
		if err := json.Unmarshal([]byte(adapterConfig), &config); err != nil {
			return nil, fmt.Errorf("parsing nominal adapter config: %w", err)
		}
		adapter, err := otp.NewAdapter(log, config, otp.Settings{
			Location:               settings.Location,
			OperatingDayEndSeconds: settings.OperatingDayEndSeconds,
			Calendar:               settings.Calendar,
		})
		if err != nil {
			return nil, fmt.Errorf("creating otp adapter: %w", err)
		}
		return &Client{log: log, adapter: adapter}, nil
	default:
		return nil, fmt.Errorf("unknown nominal adapter type %q", adapterType)
	}
}

// NewClientWithAdapter wraps an existing Adapter, used by tests and embedders
func NewClientWithAdapter(log *log.Logger, adapter Adapter) *Client {
	return &Client{log: log, adapter: adapter}
}

// GetTripCandidates returns the candidates near (lat, lon), or an empty slice
// when the schedule source fails
func (c *Client) GetTripCandidates(lat float64, lon float64) []avl.Trip {
	candidates, err := c.adapter.GetTripCandidates(lat, lon)
	if err != nil {
		c.log.Printf("loading trip candidates failed: %v", err)
		return []avl.Trip{}
	}
	return candidates
}
