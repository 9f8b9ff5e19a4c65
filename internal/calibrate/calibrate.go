package calibrate

import (
	"fmt"
	"math/rand"

	"github.com/masterypath/backend/internal/models"
)

const (
	// MaxAdjustments caps per-session difficulty swings so a run of
	// alternating scores cannot whiplash the learner.
	MaxAdjustments = 3

	stepUp   = 15
	stepDown = 15
)

// Calibrator computes initial and adjusted difficulty. The random source is
// injected so tests run with a fixed seed; production wires real entropy.
type Calibrator struct {
	rng *rand.Rand
}

func New(rng *rand.Rand) *Calibrator {
	return &Calibrator{rng: rng}
}

// InitialPlacement is the full result of initial calibration: the chosen
// difficulty plus every input that produced it. Callers log or surface the
// rationale, never just the number.
type InitialPlacement struct {
	Difficulty         int     `json:"difficulty"`
	RecentScoreAvg     float64 `json:"recent_score_avg"`
	Baseline           int     `json:"baseline"`
	CalibrationPenalty int     `json:"calibration_penalty"`
	Jitter             int     `json:"jitter"`
	Rationale          string  `json:"rationale"`
}

// CalculateInitial places a learner from up to their last 10 scores (0-1)
// and their average calibration error (0-100 points). Learners with poor
// self-calibration start 10 points easier.
func (c *Calibrator) CalculateInitial(recentScores []float64, calibrationErrorAvg float64) InitialPlacement {
	if len(recentScores) > 10 {
		recentScores = recentScores[len(recentScores)-10:]
	}

	avg := 0.0
	for _, s := range recentScores {
		avg += s
	}
	if len(recentScores) > 0 {
		avg /= float64(len(recentScores))
	}

	baseline := 50
	switch {
	case len(recentScores) == 0:
		baseline = 50
	case avg < 0.60:
		baseline = 20
	case avg < 0.80:
		baseline = 50
	default:
		baseline = 75
	}

	penalty := 0
	if calibrationErrorAvg > 20 {
		penalty = 10
	}

	jitter := c.rng.Intn(21) - 10 // [-10, 10]

	difficulty := clamp(baseline - penalty + jitter)

	return InitialPlacement{
		Difficulty:         difficulty,
		RecentScoreAvg:     avg,
		Baseline:           baseline,
		CalibrationPenalty: penalty,
		Jitter:             jitter,
		Rationale: fmt.Sprintf("avg score %.2f over %d responses -> baseline %d, calibration penalty %d, jitter %+d -> %d",
			avg, len(recentScores), baseline, penalty, jitter, difficulty),
	}
}

// Adjustment is one post-response difficulty move.
type Adjustment struct {
	New    int    `json:"new"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// Adjust moves difficulty after a scored response. Strong performance
// (>0.85) steps up 15, weak (<0.60) steps down 15, middling scores drift by
// a small jitter. Once the per-session cap is reached the difficulty holds.
func (c *Calibrator) Adjust(current int, score float64, adjustmentsSoFar int) Adjustment {
	if adjustmentsSoFar >= MaxAdjustments {
		return Adjustment{
			New:    current,
			Delta:  0,
			Reason: "adjustment cap reached",
		}
	}

	var delta int
	var reason string
	switch {
	case score > 0.85:
		delta = stepUp
		reason = fmt.Sprintf("score %.2f > 0.85, raising difficulty by %d", score, stepUp)
	case score < 0.60:
		delta = -stepDown
		reason = fmt.Sprintf("score %.2f < 0.60, lowering difficulty by %d", score, stepDown)
	default:
		delta = c.rng.Intn(11) - 5 // [-5, 5]
		reason = fmt.Sprintf("score %.2f in comfort band, drifting by %+d", score, delta)
	}

	next := clamp(current + delta)

	return Adjustment{
		New:    next,
		Delta:  next - current,
		Reason: reason,
	}
}

// TierForDifficulty maps the numeric scale onto complexity tiers.
func TierForDifficulty(d int) models.ComplexityTier {
	if d <= 33 {
		return models.TierBasic
	}
	if d <= 66 {
		return models.TierIntermediate
	}
	return models.TierAdvanced
}

func clamp(d int) int {
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}
