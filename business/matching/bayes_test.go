package matching

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

func TestSoftmax(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
	}{
		{
			name:   "uniform scores",
			scores: []float64{0.5, 0.5, 0.5},
		},
		{
			name:   "spread scores",
			scores: []float64{0.1, 0.9, 0.4},
		},
		{
			name:   "single score",
			scores: []float64{0.7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Softmax(tt.scores)
			sum := 0.0
			for _, v := range result {
				if v <= 0.0 || v > 1.0 {
					t.Errorf("softmax value %v outside (0, 1]", v)
				}
				sum += v
			}
			if math.Abs(sum-1.0) > 1e-9 {
				t.Errorf("softmax values sum to %v, want 1.0", sum)
			}
		})
	}
}

func TestSoftmaxEmpty(t *testing.T) {
	if result := Softmax(nil); result != nil {
		t.Errorf("Softmax(nil) = %v, want nil", result)
	}
}

func TestSoftmaxOrdering(t *testing.T) {
	is := is.New(t)
	result := Softmax([]float64{0.2, 0.8})
	is.True(result[1] > result[0])
}

func TestBayesianUpdatePosteriorsSumToOne(t *testing.T) {
	likelihood := map[string]float64{
		"trip-1": 0.9,
		"trip-2": 0.3,
		"trip-3": 0.1,
	}
	_, posteriors := BayesianUpdate(map[string][]float64{}, likelihood, 1.0)

	sum := 0.0
	for _, vector := range posteriors {
		sum += vector[len(vector)-1]
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("last posteriors sum to %v, want 1.0", sum)
	}
}

func TestBayesianUpdateIsDeterministic(t *testing.T) {
	likelihood := map[string]float64{
		"trip-1": 0.7,
		"trip-2": 0.6,
		"trip-3": 0.2,
	}
	_, first := BayesianUpdate(map[string][]float64{}, likelihood, 1.0)
	_, second := BayesianUpdate(map[string][]float64{}, likelihood, 1.0)

	for k, vector := range first {
		other, present := second[k]
		if !present || len(other) != len(vector) {
			t.Errorf("posteriors for %s differ between identical runs", k)
			continue
		}
		for i := range vector {
			if vector[i] != other[i] {
				t.Errorf("posterior %s[%d] differs between identical runs: %v vs %v", k, i, vector[i], other[i])
			}
		}
	}
}

func TestBayesianUpdateConvergence(t *testing.T) {
	likelihood := map[string]float64{
		"trip-1": 1.0,
		"trip-2": 0.0,
	}

	converged := false
	priors := map[string][]float64{}
	rounds := 0
	for ; rounds < 10; rounds++ {
		converged, priors = BayesianUpdate(priors, likelihood, 1.0)
		if converged {
			break
		}
	}

	if !converged {
		t.Errorf("posterior never converged after %d rounds", rounds)
		return
	}
	if rounds > 4 {
		t.Errorf("convergence took %d rounds, expected at most 4", rounds)
	}
	if best := ArgmaxPosterior(priors); best != "trip-1" {
		t.Errorf("ArgmaxPosterior = %s, want trip-1", best)
	}
}

func TestBayesianUpdateDropsVanishedCandidates(t *testing.T) {
	is := is.New(t)

	priors := map[string][]float64{
		"trip-1": {0.5, 0.6},
		"trip-2": {0.5, 0.4},
	}
	_, posteriors := BayesianUpdate(priors, map[string]float64{"trip-1": 0.9}, 1.0)

	_, present := posteriors["trip-2"]
	is.True(!present)
	is.True(len(posteriors["trip-1"]) > 0)
}

func TestBayesianUpdateSeedsNewCandidates(t *testing.T) {
	priors := map[string][]float64{
		"trip-1": {0.8},
	}
	likelihood := map[string]float64{
		"trip-1": 0.7,
		"trip-2": 0.5,
	}
	_, posteriors := BayesianUpdate(priors, likelihood, 1.0)

	vector, present := posteriors["trip-2"]
	if !present || len(vector) != 2 {
		t.Errorf("new candidate should carry seed and posterior, got %v", vector)
	}
}

func TestBayesianUpdateCapsHistory(t *testing.T) {
	likelihood := map[string]float64{
		"trip-1": 0.6,
		"trip-2": 0.5,
	}
	priors := map[string][]float64{}
	for i := 0; i < 20; i++ {
		_, priors = BayesianUpdate(priors, likelihood, 1.0)
	}
	for k, vector := range priors {
		if len(vector) > posteriorHistoryLength {
			t.Errorf("posterior history for %s grew to %d entries, cap is %d", k, len(vector), posteriorHistoryLength)
		}
	}
}

func TestBayesianUpdateEmptyLikelihood(t *testing.T) {
	converged, posteriors := BayesianUpdate(map[string][]float64{"trip-1": {0.9}}, map[string]float64{}, 1.0)
	if converged {
		t.Errorf("empty likelihood must not converge")
	}
	if len(posteriors) != 0 {
		t.Errorf("empty likelihood should return empty posteriors, got %v", posteriors)
	}
}

func TestHasConvergedStableWindow(t *testing.T) {
	tests := []struct {
		name       string
		posteriors map[string][]float64
		want       bool
	}{
		{
			name: "high posterior converges immediately",
			posteriors: map[string][]float64{
				"trip-1": {0.985},
				"trip-2": {0.015},
			},
			want: true,
		},
		{
			name: "stable majority converges",
			posteriors: map[string][]float64{
				"trip-1": {0.70, 0.705, 0.71},
				"trip-2": {0.30, 0.295, 0.29},
			},
			want: true,
		},
		{
			name: "still moving",
			posteriors: map[string][]float64{
				"trip-1": {0.55, 0.65, 0.75},
				"trip-2": {0.45, 0.35, 0.25},
			},
			want: false,
		},
		{
			name: "majority too weak",
			posteriors: map[string][]float64{
				"trip-1": {0.45, 0.45, 0.45},
				"trip-2": {0.40, 0.40, 0.40},
			},
			want: false,
		},
		{
			name:       "empty posteriors",
			posteriors: map[string][]float64{},
			want:       false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasConverged(tt.posteriors); got != tt.want {
				t.Errorf("hasConverged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArgmaxPosterior(t *testing.T) {
	tests := []struct {
		name       string
		posteriors map[string][]float64
		want       string
	}{
		{
			name: "clear winner",
			posteriors: map[string][]float64{
				"trip-1": {0.2},
				"trip-2": {0.8},
			},
			want: "trip-2",
		},
		{
			name: "tie resolves to first key in order",
			posteriors: map[string][]float64{
				"trip-b": {0.5},
				"trip-a": {0.5},
			},
			want: "trip-a",
		},
		{
			name:       "empty input",
			posteriors: map[string][]float64{},
			want:       "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ArgmaxPosterior(tt.posteriors); got != tt.want {
				t.Errorf("ArgmaxPosterior() = %s, want %s", got, tt.want)
			}
		})
	}
}
