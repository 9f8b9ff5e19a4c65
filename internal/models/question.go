package models

import "time"

type ComplexityTier string

const (
	TierBasic        ComplexityTier = "BASIC"
	TierIntermediate ComplexityTier = "INTERMEDIATE"
	TierAdvanced     ComplexityTier = "ADVANCED"
)

var ValidComplexityTiers = map[ComplexityTier]bool{
	TierBasic:        true,
	TierIntermediate: true,
	TierAdvanced:     true,
}

type AssessmentType string

const (
	AssessmentRecall      AssessmentType = "recall"
	AssessmentApplication AssessmentType = "application"
	AssessmentAnalysis    AssessmentType = "analysis"
	AssessmentSynthesis   AssessmentType = "synthesis"
)

var ValidAssessmentTypes = map[AssessmentType]bool{
	AssessmentRecall:      true,
	AssessmentApplication: true,
	AssessmentAnalysis:    true,
	AssessmentSynthesis:   true,
}

type Question struct {
	ID                  int64          `json:"id"`
	ObjectiveID         string         `json:"objective_id"`
	Text                string         `json:"text"`
	ExpectedCriteria    []string       `json:"expected_criteria,omitempty"`
	Difficulty          int            `json:"difficulty"`
	ComplexityTier      ComplexityTier `json:"complexity_tier"`
	AssessmentType      AssessmentType `json:"assessment_type"`
	DiscriminationIndex *float64       `json:"discrimination_index,omitempty"`
	UsageCount          int            `json:"usage_count"`
	Flagged             bool           `json:"flagged"`
	// FollowUpOf references the question this one follows up on. It is a
	// plain ID into the append-only pool, never a live pointer.
	FollowUpOf *int64    `json:"follow_up_of,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ServedQuestion is the client-facing view of a question. Expected criteria
// stay server-side: they are the scoring rubric.
type ServedQuestion struct {
	ID             int64          `json:"id"`
	ObjectiveID    string         `json:"objective_id"`
	Text           string         `json:"text"`
	Difficulty     int            `json:"difficulty"`
	ComplexityTier ComplexityTier `json:"complexity_tier"`
	AssessmentType AssessmentType `json:"assessment_type"`
}

func (q *Question) ToServed() ServedQuestion {
	return ServedQuestion{
		ID:             q.ID,
		ObjectiveID:    q.ObjectiveID,
		Text:           q.Text,
		Difficulty:     q.Difficulty,
		ComplexityTier: q.ComplexityTier,
		AssessmentType: q.AssessmentType,
	}
}

// QuestionOutcome is one historical respondent result for a question, kept
// for discrimination-index statistics.
type QuestionOutcome struct {
	QuestionID  int64     `json:"question_id"`
	UserID      int64     `json:"user_id"`
	Correct     bool      `json:"correct"`
	AbilityRank float64   `json:"ability_rank"`
	AnsweredAt  time.Time `json:"answered_at"`
}

type QuestionListResponse struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}
