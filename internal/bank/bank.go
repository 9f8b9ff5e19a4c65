package bank

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/masterypath/backend/internal/metrics"
	"github.com/masterypath/backend/internal/models"
)

const (
	// CooldownDays is how long a question stays ineligible for a user
	// after being served to them.
	CooldownDays = 14

	// discriminationMinOutcomes is the outcome count at which the
	// discrimination index starts being computed.
	discriminationMinOutcomes = 20

	// discriminationFloor flags questions that fail to separate strong
	// performers from weak ones.
	discriminationFloor = 0.2

	// discriminationGroupFraction is the share of outcomes in each of the
	// top and bottom ability groups.
	discriminationGroupFraction = 0.27
)

// PoolStore is the persistence surface for the question pool.
type PoolStore interface {
	// SelectCandidate returns the least-used eligible question in the
	// window, atomically bumping its usage count and recording the serve
	// for cooldown tracking. Returns (nil, nil) when the pool has no
	// eligible candidate.
	SelectCandidate(ctx context.Context, objectiveID string, tier models.ComplexityTier, minDiff, maxDiff int, userID int64) (*models.Question, error)

	// InsertGenerated persists a freshly generated question with zero
	// usage and no discrimination index.
	InsertGenerated(ctx context.Context, q models.Question) (*models.Question, error)

	// MarkSelected bumps usage and records the serve for a question that
	// was chosen outside SelectCandidate.
	MarkSelected(ctx context.Context, questionID, userID int64) error

	// AppendOutcome records one answer outcome and returns the question's
	// total outcome count afterwards.
	AppendOutcome(ctx context.Context, outcome models.QuestionOutcome) (int, error)

	// Outcomes returns every recorded outcome for a question.
	Outcomes(ctx context.Context, questionID int64) ([]models.QuestionOutcome, error)

	// SetDiscrimination stores a recomputed discrimination index and flag
	// state.
	SetDiscrimination(ctx context.Context, questionID int64, index float64, flagged bool) error

	// FlaggedQuestions lists questions flagged for review.
	FlaggedQuestions(ctx context.Context, limit, offset int) ([]models.Question, int, error)

	// GetQuestion fetches a question by ID.
	GetQuestion(ctx context.Context, questionID int64) (*models.Question, error)
}

// Bank selects questions for sessions and maintains per-question quality
// statistics. Selection falls through from the static pool to on-demand
// generation when the pool is exhausted.
type Bank struct {
	pool      QuestionSource
	generated QuestionSource
	store     PoolStore
}

func New(store PoolStore, gen QuestionGenerator) *Bank {
	return &Bank{
		pool:      NewStaticPoolSource(store),
		generated: NewGeneratedSource(gen, store),
		store:     store,
	}
}

// Select returns the next question for the request, generating one when the
// pool cannot serve it.
func (b *Bank) Select(ctx context.Context, req SelectRequest) (*models.Question, error) {
	q, err := b.pool.Next(ctx, req)
	if err == nil {
		metrics.QuestionsServed.WithLabelValues("pool").Inc()
		return q, nil
	}
	if !errors.Is(err, ErrPoolExhausted) {
		return nil, err
	}

	log.Printf("[bank] pool exhausted for objective=%s difficulty=%d tier=%s, generating",
		req.ObjectiveID, req.TargetDifficulty, req.Tier)
	q, err = b.generated.Next(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.QuestionsServed.WithLabelValues("generated").Inc()
	return q, nil
}

// RecordOutcome appends one answer outcome and, once the question has enough
// data, recomputes its discrimination index and flag state.
func (b *Bank) RecordOutcome(ctx context.Context, outcome models.QuestionOutcome) error {
	count, err := b.store.AppendOutcome(ctx, outcome)
	if err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	if count < discriminationMinOutcomes {
		return nil
	}

	outcomes, err := b.store.Outcomes(ctx, outcome.QuestionID)
	if err != nil {
		return fmt.Errorf("load outcomes: %w", err)
	}

	index, ok := DiscriminationIndex(outcomes)
	if !ok {
		return nil
	}

	flagged := index < discriminationFloor
	if flagged {
		log.Printf("WARN: [bank] question %d flagged for review, discrimination=%.3f", outcome.QuestionID, index)
		metrics.QuestionsFlagged.Inc()
	}
	if err := b.store.SetDiscrimination(ctx, outcome.QuestionID, index, flagged); err != nil {
		return fmt.Errorf("store discrimination: %w", err)
	}
	return nil
}

// Flagged lists questions held out for manual review.
func (b *Bank) Flagged(ctx context.Context, limit, offset int) ([]models.Question, int, error) {
	return b.store.FlaggedQuestions(ctx, limit, offset)
}

// Question fetches a single question by ID.
func (b *Bank) Question(ctx context.Context, questionID int64) (*models.Question, error) {
	return b.store.GetQuestion(ctx, questionID)
}

// DiscriminationIndex computes the classical upper-lower discrimination
// index: outcomes are ranked by answerer ability, and the index is the
// correct-rate difference between the top and bottom 27% groups. The
// boolean result is false when there is too little data to form both
// groups.
func DiscriminationIndex(outcomes []models.QuestionOutcome) (float64, bool) {
	if len(outcomes) < discriminationMinOutcomes {
		return 0, false
	}

	sorted := make([]models.QuestionOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AbilityRank < sorted[j].AbilityRank
	})

	groupSize := int(float64(len(sorted)) * discriminationGroupFraction)
	if groupSize < 1 {
		groupSize = 1
	}

	bottom := sorted[:groupSize]
	top := sorted[len(sorted)-groupSize:]

	return correctRate(top) - correctRate(bottom), true
}

func correctRate(outcomes []models.QuestionOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	correct := 0
	for _, o := range outcomes {
		if o.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(outcomes))
}
