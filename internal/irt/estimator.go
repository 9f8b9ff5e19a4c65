// Package irt implements a single-parameter (Rasch) item-response model.
// Ability is estimated by Newton-Raphson maximum likelihood over the full
// response set, so no incremental state is kept between calls.
package irt

import (
	"fmt"
	"math"

	"github.com/masterypath/backend/internal/models"
)

const (
	thetaMin = -4.0
	thetaMax = 4.0

	maxIterations = 10
	tolerance     = 0.01

	// One logit spans 25 difficulty points on the 0-100 scale.
	logitScale = 25.0

	// Rescale factor from logits to difficulty points (100/6 over the
	// effective range) used for the early-stop width check.
	pointsPerLogit = 16.67

	// Standard error reported when the information is too small to invert,
	// e.g. degenerate all-correct or all-incorrect response sets.
	degenerateSE = 10.0
)

// Observation is one dichotomous response at a known difficulty.
type Observation struct {
	Correct    bool
	Difficulty int
}

// probability is the Rasch item response function: P(correct | theta, beta).
func probability(theta, beta float64) float64 {
	return 1.0 / (1.0 + math.Exp(-(theta - beta)))
}

// betaFor maps a 0-100 difficulty onto the logit scale centered at 0.
func betaFor(difficulty int) float64 {
	return (float64(difficulty) - 50.0) / logitScale
}

// Estimate runs Newton-Raphson MLE from theta=0. Degenerate response sets
// (all correct or all incorrect) have no finite solution; the estimate is
// clamped to [-4,4] and returned with a wide standard error instead of
// diverging or failing.
func Estimate(responses []Observation) models.AbilityEstimate {
	if len(responses) == 0 {
		return models.AbilityEstimate{
			Theta:          0,
			StandardError:  degenerateSE,
			ConfidenceLow:  thetaMin,
			ConfidenceHigh: thetaMax,
			SampleSize:     0,
			Converged:      false,
			Reason:         "no responses yet",
		}
	}

	theta := 0.0
	iterations := 0
	converged := false
	clamped := false
	var information float64

	for iterations < maxIterations {
		iterations++

		score := 0.0
		information = 0.0
		for _, r := range responses {
			p := probability(theta, betaFor(r.Difficulty))
			observed := 0.0
			if r.Correct {
				observed = 1.0
			}
			score += observed - p
			information += p * (1.0 - p)
		}

		if math.Abs(score) < tolerance {
			converged = true
			break
		}
		if information <= 0 {
			break
		}

		theta += score / information
		if theta < thetaMin {
			theta = thetaMin
			clamped = true
		}
		if theta > thetaMax {
			theta = thetaMax
			clamped = true
		}
	}

	se := degenerateSE
	if information > 1e-9 {
		se = 1.0 / math.Sqrt(information)
	}
	if se > degenerateSE {
		se = degenerateSE
	}

	reason := fmt.Sprintf("converged in %d iterations", iterations)
	switch {
	case clamped:
		reason = "no finite MLE for this response pattern, estimate clamped (low confidence)"
	case !converged:
		reason = fmt.Sprintf("did not converge within %d iterations, using last estimate (low confidence)", maxIterations)
	}

	return models.AbilityEstimate{
		Theta:          theta,
		StandardError:  se,
		ConfidenceLow:  theta - 1.96*se,
		ConfidenceHigh: theta + 1.96*se,
		SampleSize:     len(responses),
		Iterations:     iterations,
		Converged:      converged && !clamped,
		Reason:         reason,
	}
}

// ShouldStopEarly reports whether the estimate is precise enough to end the
// session. Both conditions are required: a narrow interval from too few
// samples must not trigger an early stop.
func ShouldStopEarly(estimate models.AbilityEstimate) bool {
	widthPoints := (estimate.ConfidenceHigh - estimate.ConfidenceLow) * pointsPerLogit
	return widthPoints < 10 && estimate.SampleSize >= 3
}

// AbilityRank maps theta onto [0,1] for discrimination-index grouping.
func AbilityRank(theta float64) float64 {
	return (theta - thetaMin) / (thetaMax - thetaMin)
}
