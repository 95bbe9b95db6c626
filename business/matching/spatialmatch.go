package matching

const (
	//tripShapeBufferMeters is the tolerance corridor around the trip shape
	tripShapeBufferMeters = 30.0
	//tripShapeMatchRatio is the minimum share of samples inside the corridor
	tripShapeMatchRatio = 0.60
	//tripShapeForwardMovementRatio is the minimum forward over backward
	//movement ratio along the shape
	tripShapeForwardMovementRatio = 0.75
)

// SpatialMatch scores how well a GNSS sequence fits a single trip shape
type SpatialMatch struct {
	shape *LineString

	//MatchScore is the result of the last CalculateMatchScore call
	MatchScore float64
	//SpatialProgressPct is the progress of the newest sample along the
	//shape in percent, set even when the score is zero
	SpatialProgressPct float64
	//LastProjection is the arc length of the newest sample's projection,
	//used by the shape snap filter
	LastProjection float64
}

// NewSpatialMatch creates a SpatialMatch for a decoded trip shape
func NewSpatialMatch(shape *LineString) *SpatialMatch {
	return &SpatialMatch{shape: shape}
}

// CalculateMatchScore computes matchRatio * forwardRatio for the activity, or
// zero when too few samples track the shape or movement runs against it
func (s *SpatialMatch) CalculateMatchScore(activity *SpatialVectorCollection) float64 {
	positions := activity.Positions()
	coords := make([]Point, 0, len(positions))
	for _, p := range positions {
		coords = append(coords, webMercator(p.Latitude, p.Longitude))
	}

	s.LastProjection = s.shape.Project(coords[len(coords)-1])
	s.SpatialProgressPct = s.LastProjection / s.shape.Length() * 100.0

	matching := 0
	for _, c := range coords {
		if s.shape.Covers(c, tripShapeBufferMeters) {
			matching++
		}
	}
	matchRatio := float64(matching) / float64(len(coords))
	if matchRatio < tripShapeMatchRatio {
		return 0.0
	}

	//a sufficient share of projections must move forward along the shape
	projections := make([]float64, 0, len(coords))
	for _, c := range coords {
		projections = append(projections, s.shape.Project(c))
	}
	forward := 0
	backward := 0
	for i := 0; i < len(projections)-1; i++ {
		if projections[i] < projections[i+1] {
			forward++
		} else if projections[i] > projections[i+1] {
			backward++
		}
	}
	forwardRatio := 1.0
	if backward > 0 {
		forwardRatio = clamp(float64(forward)/float64(backward), 0.0, 1.0)
	}
	if forwardRatio < tripShapeForwardMovementRatio {
		return 0.0
	}

	s.MatchScore = matchRatio * forwardRatio
	return s.MatchScore
}
