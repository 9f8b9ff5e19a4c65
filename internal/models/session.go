package models

import "time"

type SessionStatus string

const (
	SessionActive       SessionStatus = "active"
	SessionEarlyStopped SessionStatus = "early_stopped"
	SessionNormalEnd    SessionStatus = "normal_end"
	SessionStrategicEnd SessionStatus = "strategic_end"
	SessionAbandoned    SessionStatus = "abandoned"
	SessionClosed       SessionStatus = "closed"
)

// Ended reports whether the session has left ACTIVE. A session in an end
// state still accepts the wind-down response when status is strategic_end.
func (s SessionStatus) Ended() bool {
	return s != SessionActive
}

// ResponseRecord is one scored answer within a session. Append-only:
// records are never updated after insert.
type ResponseRecord struct {
	ID               int64          `json:"id"`
	SessionID        string         `json:"session_id"`
	UserID           int64          `json:"user_id"`
	QuestionID       int64          `json:"question_id"`
	Score            float64        `json:"score"`
	Confidence       int            `json:"confidence"`
	DifficultyAtTime int            `json:"difficulty_at_time"`
	AssessmentType   AssessmentType `json:"assessment_type"`
	ElapsedMs        int64          `json:"elapsed_ms"`
	IdempotencyKey   string         `json:"idempotency_key"`
	RespondedAt      time.Time      `json:"responded_at"`
}

// Correct maps the continuous score onto the dichotomous outcome the Rasch
// model consumes. The 0.60 line matches the calibrator's low-score threshold.
func (r ResponseRecord) Correct() bool {
	return r.Score >= 0.60
}

type AdaptiveSessionState struct {
	SessionID         string           `json:"session_id"`
	UserID            int64            `json:"user_id"`
	ObjectiveIDs      []string         `json:"objective_ids"`
	CurrentDifficulty int              `json:"current_difficulty"`
	AdjustmentCount   int              `json:"adjustment_count"`
	QuestionsAsked    int              `json:"questions_asked"`
	Status            SessionStatus    `json:"status"`
	EndReason         string           `json:"end_reason,omitempty"`
	PendingQuestionID *int64           `json:"pending_question_id,omitempty"`
	// Decisions is the human-readable trail of placement, adjustment, and
	// ending decisions, surfaced in the session summary.
	Decisions      []string         `json:"decisions,omitempty"`
	Responses      []ResponseRecord `json:"responses,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
}

// PrimaryObjective returns the objective questions are drawn from.
func (s *AdaptiveSessionState) PrimaryObjective() string {
	if len(s.ObjectiveIDs) == 0 {
		return ""
	}
	return s.ObjectiveIDs[0]
}

type AbilityEstimate struct {
	Theta          float64 `json:"theta"`
	StandardError  float64 `json:"standard_error"`
	ConfidenceLow  float64 `json:"confidence_low"`
	ConfidenceHigh float64 `json:"confidence_high"`
	SampleSize     int     `json:"sample_size"`
	Iterations     int     `json:"iterations"`
	Converged      bool    `json:"converged"`
	Reason         string  `json:"reason"`
}

// ── API Request/Response Types ────────────────────────────

type StartSessionRequest struct {
	ObjectiveIDs []string `json:"objective_ids"`
}

type StartSessionResponse struct {
	SessionID         string          `json:"session_id"`
	InitialDifficulty int             `json:"initial_difficulty"`
	PlacementReason   string          `json:"placement_reason"`
	FirstQuestion     *ServedQuestion `json:"first_question"`
}

type SubmitResponseRequest struct {
	QuestionID     int64   `json:"question_id"`
	Score          float64 `json:"score"`
	Confidence     int     `json:"confidence"`
	ElapsedMs      int64   `json:"elapsed_ms"`
	IdempotencyKey string  `json:"idempotency_key"`
}

type SubmitAnswerRequest struct {
	QuestionID     int64  `json:"question_id"`
	AnswerText     string `json:"answer_text"`
	ElapsedMs      int64  `json:"elapsed_ms"`
	IdempotencyKey string `json:"idempotency_key"`
}

type SubmitResponseResponse struct {
	NextQuestion     *ServedQuestion  `json:"next_question"`
	Difficulty       int              `json:"difficulty"`
	AdjustmentReason string           `json:"adjustment_reason,omitempty"`
	CanStopEarly     bool             `json:"can_stop_early"`
	RecommendBreak   bool             `json:"recommend_break"`
	Ability          AbilityEstimate  `json:"ability"`
	Mastery          *MasterySnapshot `json:"mastery,omitempty"`
	SessionStatus    SessionStatus    `json:"session_status"`
	EndReason        string           `json:"end_reason,omitempty"`
}

type SessionSummary struct {
	SessionID            string          `json:"session_id"`
	Status               SessionStatus   `json:"status"`
	EndReason            string          `json:"end_reason,omitempty"`
	QuestionsAsked       int             `json:"questions_asked"`
	FinalDifficulty      int             `json:"final_difficulty"`
	Ability              AbilityEstimate `json:"ability"`
	EfficiencyVsBaseline float64         `json:"efficiency_vs_baseline"`
	Decisions            []string        `json:"decisions,omitempty"`
}
