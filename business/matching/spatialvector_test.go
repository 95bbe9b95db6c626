package matching

import (
	"math"
	"testing"

	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
)

func TestSpatialVectorLength(t *testing.T) {
	//0.001 degrees of latitude, roughly 111 meters
	v := SpatialVector{
		Start: avl.GnssPosition{Latitude: 0.0, Longitude: 0.0},
		End:   avl.GnssPosition{Latitude: 0.001, Longitude: 0.0},
	}
	if got := v.Length(); math.Abs(got-111.19) > 0.5 {
		t.Errorf("Length() = %v, want about 111.19", got)
	}
}

func TestSpatialVectorBearing(t *testing.T) {
	tests := []struct {
		name string
		v    SpatialVector
		want float64
	}{
		{
			name: "due north",
			v: SpatialVector{
				Start: avl.GnssPosition{Latitude: 0.0, Longitude: 0.0},
				End:   avl.GnssPosition{Latitude: 0.001, Longitude: 0.0},
			},
			want: 0.0,
		},
		{
			name: "due east",
			v: SpatialVector{
				Start: avl.GnssPosition{Latitude: 0.0, Longitude: 0.0},
				End:   avl.GnssPosition{Latitude: 0.0, Longitude: 0.001},
			},
			want: 90.0,
		},
		{
			name: "due south",
			v: SpatialVector{
				Start: avl.GnssPosition{Latitude: 0.001, Longitude: 0.0},
				End:   avl.GnssPosition{Latitude: 0.0, Longitude: 0.0},
			},
			want: 180.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Bearing(); math.Abs(got-tt.want) > 0.1 {
				t.Errorf("Bearing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSpatialVectorCollectionRequiresTwoPositions(t *testing.T) {
	if _, err := NewSpatialVectorCollection([]avl.GnssPosition{{Latitude: 0, Longitude: 0}}); err == nil {
		t.Errorf("collection over a single position should fail")
	}
}

func TestSpatialVectorCollectionPositions(t *testing.T) {
	positions := []avl.GnssPosition{
		{Latitude: 0.0, Longitude: 0.0, Timestamp: 10},
		{Latitude: 0.0001, Longitude: 0.0, Timestamp: 20},
		{Latitude: 0.0002, Longitude: 0.0, Timestamp: 30},
	}
	collection, err := NewSpatialVectorCollection(positions)
	if err != nil {
		t.Errorf("NewSpatialVectorCollection failed: %v", err)
		return
	}
	got := collection.Positions()
	if len(got) != len(positions) {
		t.Errorf("Positions() returned %d samples, want %d", len(got), len(positions))
		return
	}
	for i := range positions {
		if got[i] != positions[i] {
			t.Errorf("Positions()[%d] = %v, want %v", i, got[i], positions[i])
		}
	}
}

func TestIsMovement(t *testing.T) {
	tests := []struct {
		name      string
		positions []avl.GnssPosition
		want      bool
	}{
		{
			name: "short hop below movement threshold",
			positions: []avl.GnssPosition{
				{Latitude: 0.0, Longitude: 0.0},
				{Latitude: 0.0001, Longitude: 0.0},
			},
			want: false,
		},
		{
			name: "jitter around a standing vehicle",
			positions: []avl.GnssPosition{
				{Latitude: 0.0, Longitude: 0.0},
				{Latitude: 0.0003, Longitude: 0.0},
				{Latitude: 0.0, Longitude: 0.0},
				{Latitude: 0.0003, Longitude: 0.0},
				{Latitude: 0.0, Longitude: 0.0},
			},
			want: false,
		},
		{
			name: "straight travel",
			positions: []avl.GnssPosition{
				{Latitude: 0.0, Longitude: 0.0},
				{Latitude: 0.0002, Longitude: 0.0},
				{Latitude: 0.0004, Longitude: 0.0},
				{Latitude: 0.0006, Longitude: 0.0},
				{Latitude: 0.0008, Longitude: 0.0},
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collection, err := NewSpatialVectorCollection(tt.positions)
			if err != nil {
				t.Errorf("NewSpatialVectorCollection failed: %v", err)
				return
			}
			if got := collection.IsMovement(); got != tt.want {
				t.Errorf("IsMovement() = %v, want %v", got, tt.want)
			}
		})
	}
}
