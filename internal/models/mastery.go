package models

import "time"

type MasteryStatus string

const (
	MasteryNotStarted MasteryStatus = "NOT_STARTED"
	MasteryInProgress MasteryStatus = "IN_PROGRESS"
	MasteryVerified   MasteryStatus = "VERIFIED"
)

// CriterionResult is the outcome of one mastery criterion: whether it is
// met, partial credit in [0,1], and a human-readable detail.
type CriterionResult struct {
	Met     bool    `json:"met"`
	Partial float64 `json:"partial"`
	Detail  string  `json:"detail"`
}

type MasteryCriteria struct {
	ConsecutiveHighScores CriterionResult `json:"consecutive_high_scores"`
	TimeSpacing           CriterionResult `json:"time_spacing"`
	AssessmentVariety     CriterionResult `json:"assessment_variety"`
	DifficultyMatch       CriterionResult `json:"difficulty_match"`
	CalibrationAccuracy   CriterionResult `json:"calibration_accuracy"`
}

type MasterySnapshot struct {
	UserID      int64           `json:"user_id"`
	ObjectiveID string          `json:"objective_id"`
	Status      MasteryStatus   `json:"status"`
	Progress    float64         `json:"progress"`
	Criteria    MasteryCriteria `json:"criteria"`
	StreakLen   int             `json:"streak_length"`
	Reason      string          `json:"reason"`
	VerifiedAt  *time.Time      `json:"verified_at,omitempty"`
	CheckedAt   time.Time       `json:"checked_at"`
}
