// Package mastery evaluates the five-criterion, time-spaced protocol that
// certifies a learner's command of an objective.
package mastery

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/masterypath/backend/internal/metrics"
	"github.com/masterypath/backend/internal/models"
)

// Criterion weights. They sum to 1.0; progress is the weighted sum of
// per-criterion partial credit, scaled to 0-100.
const (
	weightStreak      = 0.30
	weightSpacing     = 0.20
	weightVariety     = 0.20
	weightDifficulty  = 0.15
	weightCalibration = 0.15

	highScoreLine     = 0.80
	requiredStreak    = 3
	requiredSpan      = 48 * time.Hour
	difficultySlack   = 10
	calibrationLimit  = 15.0
)

// SnapshotStore persists mastery snapshots. Only the transition to VERIFIED
// is ever written; the snapshot is otherwise recomputed from history.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, userID int64, objectiveID string) (*models.MasterySnapshot, error)
	SaveVerified(ctx context.Context, snap models.MasterySnapshot) error
}

// Requirements are the objective's bar for mastery.
type Requirements struct {
	DifficultyFloor int
	AssessmentTypes []models.AssessmentType
}

type Verifier struct {
	store SnapshotStore
	now   func() time.Time
}

func NewVerifier(store SnapshotStore) *Verifier {
	return &Verifier{store: store, now: time.Now}
}

// Check evaluates mastery from response history. A previously persisted
// VERIFIED snapshot is terminal: later poor performance never downgrades it.
func (v *Verifier) Check(ctx context.Context, userID int64, objectiveID string, responses []models.ResponseRecord, req Requirements) (models.MasterySnapshot, error) {
	if v.store != nil {
		persisted, err := v.store.GetSnapshot(ctx, userID, objectiveID)
		if err != nil {
			return models.MasterySnapshot{}, fmt.Errorf("load mastery snapshot: %w", err)
		}
		if persisted != nil && persisted.Status == models.MasteryVerified {
			return *persisted, nil
		}
	}

	snap := Evaluate(responses, req, v.now())
	snap.UserID = userID
	snap.ObjectiveID = objectiveID

	if snap.Status == models.MasteryVerified && v.store != nil {
		verifiedAt := v.now()
		snap.VerifiedAt = &verifiedAt
		if err := v.store.SaveVerified(ctx, snap); err != nil {
			return models.MasterySnapshot{}, fmt.Errorf("persist verified mastery: %w", err)
		}
		metrics.MasteryVerified.Inc()
	}

	return snap, nil
}

// Evaluate is the pure criterion check over time-ordered responses.
func Evaluate(responses []models.ResponseRecord, req Requirements, now time.Time) models.MasterySnapshot {
	snap := models.MasterySnapshot{
		Status:    models.MasteryNotStarted,
		CheckedAt: now,
	}
	if len(responses) == 0 {
		snap.Reason = "no responses recorded"
		return snap
	}
	snap.Status = models.MasteryInProgress

	// Trailing streak of high scores. Any intervening low score resets it,
	// so only the run ending at the most recent response counts.
	streak := 0
	for i := len(responses) - 1; i >= 0; i-- {
		if responses[i].Score > highScoreLine {
			streak++
		} else {
			break
		}
	}
	snap.StreakLen = streak

	// The qualifying window is the last 3 responses of the streak (or the
	// whole streak while it is still short, for partial credit).
	windowLen := streak
	if windowLen > requiredStreak {
		windowLen = requiredStreak
	}
	window := responses[len(responses)-windowLen:]

	c := models.MasteryCriteria{
		ConsecutiveHighScores: streakCriterion(streak),
		TimeSpacing:           spacingCriterion(window),
		AssessmentVariety:     varietyCriterion(window, req.AssessmentTypes),
		DifficultyMatch:       difficultyCriterion(window, req.DifficultyFloor),
		CalibrationAccuracy:   calibrationCriterion(window),
	}
	snap.Criteria = c

	snap.Progress = 100 * (weightStreak*c.ConsecutiveHighScores.Partial +
		weightSpacing*c.TimeSpacing.Partial +
		weightVariety*c.AssessmentVariety.Partial +
		weightDifficulty*c.DifficultyMatch.Partial +
		weightCalibration*c.CalibrationAccuracy.Partial)

	if c.ConsecutiveHighScores.Met && c.TimeSpacing.Met && c.AssessmentVariety.Met &&
		c.DifficultyMatch.Met && c.CalibrationAccuracy.Met {
		snap.Status = models.MasteryVerified
		snap.Reason = fmt.Sprintf("all five criteria met over a %d-response streak", streak)
	} else {
		snap.Reason = firstUnmet(c)
	}

	return snap
}

func streakCriterion(streak int) models.CriterionResult {
	capped := streak
	if capped > requiredStreak {
		capped = requiredStreak
	}
	return models.CriterionResult{
		Met:     streak >= requiredStreak,
		Partial: float64(capped) / float64(requiredStreak),
		Detail:  fmt.Sprintf("streak of %d high scores (need %d consecutive > %.2f)", streak, requiredStreak, highScoreLine),
	}
}

func spacingCriterion(window []models.ResponseRecord) models.CriterionResult {
	if len(window) < 2 {
		return models.CriterionResult{Detail: "streak too short to measure spacing"}
	}
	span := window[len(window)-1].RespondedAt.Sub(window[0].RespondedAt)
	partial := float64(span) / float64(requiredSpan)
	if partial > 1 {
		partial = 1
	}
	return models.CriterionResult{
		Met:     len(window) >= requiredStreak && span >= requiredSpan,
		Partial: partial,
		Detail:  fmt.Sprintf("streak spans %s (need >= 2 days)", span.Round(time.Minute)),
	}
}

func varietyCriterion(window []models.ResponseRecord, required []models.AssessmentType) models.CriterionResult {
	if len(required) == 0 {
		return models.CriterionResult{Met: len(window) >= requiredStreak, Partial: 1, Detail: "no assessment-type variety required"}
	}
	seen := make(map[models.AssessmentType]bool, len(window))
	for _, r := range window {
		seen[r.AssessmentType] = true
	}
	matched := 0
	for _, t := range required {
		if seen[t] {
			matched++
		}
	}
	return models.CriterionResult{
		Met:     len(window) >= requiredStreak && matched == len(required),
		Partial: float64(matched) / float64(len(required)),
		Detail:  fmt.Sprintf("%d of %d required assessment types in streak", matched, len(required)),
	}
}

func difficultyCriterion(window []models.ResponseRecord, floor int) models.CriterionResult {
	if len(window) == 0 {
		return models.CriterionResult{Detail: "no qualifying responses"}
	}
	sum := 0
	for _, r := range window {
		sum += r.DifficultyAtTime
	}
	avg := float64(sum) / float64(len(window))
	threshold := float64(floor - difficultySlack)

	partial := 1.0
	if threshold > 0 && avg < threshold {
		partial = avg / threshold
	}
	return models.CriterionResult{
		Met:     len(window) >= requiredStreak && avg >= threshold,
		Partial: partial,
		Detail:  fmt.Sprintf("streak avg difficulty %.1f (need >= %.0f)", avg, threshold),
	}
}

// calibrationCriterion compares self-reported confidence against the actual
// score. Confidence 1-5 maps to an expected score of 20-100 points.
func calibrationCriterion(window []models.ResponseRecord) models.CriterionResult {
	if len(window) == 0 {
		return models.CriterionResult{Detail: "no qualifying responses"}
	}
	totalErr := 0.0
	for _, r := range window {
		expected := float64(r.Confidence) * 20.0
		totalErr += math.Abs(expected - r.Score*100.0)
	}
	avgErr := totalErr / float64(len(window))

	partial := 1.0
	if avgErr > calibrationLimit {
		partial = calibrationLimit / avgErr
	}
	return models.CriterionResult{
		Met:     len(window) >= requiredStreak && avgErr <= calibrationLimit,
		Partial: partial,
		Detail:  fmt.Sprintf("avg calibration error %.1f points (need <= %.0f)", avgErr, calibrationLimit),
	}
}

func firstUnmet(c models.MasteryCriteria) string {
	switch {
	case !c.ConsecutiveHighScores.Met:
		return c.ConsecutiveHighScores.Detail
	case !c.TimeSpacing.Met:
		return c.TimeSpacing.Detail
	case !c.AssessmentVariety.Met:
		return c.AssessmentVariety.Detail
	case !c.DifficultyMatch.Met:
		return c.DifficultyMatch.Detail
	default:
		return c.CalibrationAccuracy.Detail
	}
}
