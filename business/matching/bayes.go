package matching

import (
	"math"
	"sort"
)

const (
	//convergedPosterior immediately accepts the best candidate
	convergedPosterior = 0.98
	//stablePosterior accepts the best candidate when its posterior has
	//settled over the last stablePosteriorWindow updates
	stablePosterior       = 0.50
	stablePosteriorWindow = 3
	stablePosteriorDelta  = 0.02

	//posteriorHistoryLength bounds the per candidate posterior vectors
	posteriorHistoryLength = 10
)

// Softmax normalizes scores into a probability distribution, numerically
// stable by shifting with the maximum score
func Softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	result := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		result[i] = math.Exp(s - maxScore)
		sum += result[i]
	}
	for i := range result {
		result[i] /= sum
	}
	return result
}

// BayesianUpdate folds one round of candidate likelihoods into the posterior
// vectors carried per trip candidate.
//Candidates vanished from likelihood are dropped from the priors, new
//candidates start with a singleton vector holding their likelihood. Returns
//whether the best candidate has converged and the updated posterior vectors.
func BayesianUpdate(priors map[string][]float64, likelihood map[string]float64, alpha float64) (bool, map[string][]float64) {
	if len(likelihood) == 0 {
		return false, map[string][]float64{}
	}

	//sort keys for deterministic pairing of priors and likelihoods
	keys := make([]string, 0, len(likelihood))
	for k := range likelihood {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rawScores := make([]float64, len(keys))
	for i, k := range keys {
		rawScores[i] = likelihood[k]
	}
	normalized := Softmax(rawScores)

	//rebuild priors: drop vanished keys, seed new ones
	posteriors := make(map[string][]float64, len(keys))
	lastPriors := make([]float64, len(keys))
	for i, k := range keys {
		if vector, present := priors[k]; present && len(vector) > 0 {
			posteriors[k] = append([]float64{}, vector...)
			lastPriors[i] = vector[len(vector)-1]
		} else {
			posteriors[k] = []float64{normalized[i]}
			lastPriors[i] = normalized[i]
		}
	}

	unnormalized := make([]float64, len(keys))
	total := 0.0
	for i := range keys {
		unnormalized[i] = lastPriors[i] * math.Pow(normalized[i], alpha)
		total += unnormalized[i]
	}

	for i, k := range keys {
		posterior := 0.0
		if total > 0 {
			posterior = unnormalized[i] / total
		}
		vector := append(posteriors[k], posterior)
		if len(vector) > posteriorHistoryLength {
			vector = vector[len(vector)-posteriorHistoryLength:]
		}
		posteriors[k] = vector
	}

	return hasConverged(posteriors), posteriors
}

//hasConverged applies the convergence test to the candidate with the highest
//last posterior
func hasConverged(posteriors map[string][]float64) bool {
	best := ""
	bestValue := -1.0
	for k, vector := range posteriors {
		if len(vector) == 0 {
			continue
		}
		if last := vector[len(vector)-1]; last > bestValue {
			bestValue = last
			best = k
		}
	}
	if best == "" {
		return false
	}
	if bestValue > convergedPosterior {
		return true
	}
	vector := posteriors[best]
	if bestValue > stablePosterior && len(vector) >= stablePosteriorWindow {
		window := vector[len(vector)-stablePosteriorWindow:]
		for i := 0; i < len(window); i++ {
			for j := i + 1; j < len(window); j++ {
				if abs(window[i]-window[j]) >= stablePosteriorDelta {
					return false
				}
			}
		}
		return true
	}
	return false
}

// ArgmaxPosterior returns the candidate key with the highest last posterior
// value, empty string for empty input
func ArgmaxPosterior(posteriors map[string][]float64) string {
	best := ""
	bestValue := -1.0
	//iterate sorted for deterministic tie behavior
	keys := make([]string, 0, len(posteriors))
	for k := range posteriors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vector := posteriors[k]
		if len(vector) == 0 {
			continue
		}
		if last := vector[len(vector)-1]; last > bestValue {
			bestValue = last
			best = k
		}
	}
	return best
}
