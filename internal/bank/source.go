package bank

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/masterypath/backend/internal/generator"
	"github.com/masterypath/backend/internal/models"
)

var (
	// ErrPoolExhausted means the static pool has no eligible candidate for
	// the request (window, tier, and cooldown filters all applied).
	ErrPoolExhausted = errors.New("question pool exhausted for request")

	// ErrGenerationUnavailable means on-demand generation failed on every
	// retry. Callers surface this instead of stalling a session.
	ErrGenerationUnavailable = errors.New("question generation unavailable")
)

// SelectRequest describes one question selection.
type SelectRequest struct {
	ObjectiveID      string
	TargetDifficulty int
	Tier             models.ComplexityTier
	UserID           int64
}

// QuestionSource yields a question for a selection request. Cooldown
// enforcement and on-demand generation are separate concerns, so each gets
// its own implementation and the bank composes them.
type QuestionSource interface {
	Next(ctx context.Context, req SelectRequest) (*models.Question, error)
}

// ── StaticPoolSource ──────────────────────────────────────

// StaticPoolSource serves the existing pool: difficulty window, tier match,
// per-user cooldown, least-used first.
type StaticPoolSource struct {
	store PoolStore
}

func NewStaticPoolSource(store PoolStore) *StaticPoolSource {
	return &StaticPoolSource{store: store}
}

func (s *StaticPoolSource) Next(ctx context.Context, req SelectRequest) (*models.Question, error) {
	minDiff := max(0, req.TargetDifficulty-10)
	maxDiff := min(100, req.TargetDifficulty+10)

	q, err := s.store.SelectCandidate(ctx, req.ObjectiveID, req.Tier, minDiff, maxDiff, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("select from pool: %w", err)
	}
	if q == nil {
		return nil, ErrPoolExhausted
	}
	return q, nil
}

// ── selection rules ───────────────────────────────────────

// eligible and preferred are the Go statement of SelectCandidate's WHERE
// and ORDER BY clauses; the store's SQL must match them. lastServed is the
// user's last serve time for the question, zero when never served.

func eligible(q models.Question, lastServed time.Time, tier models.ComplexityTier, minDiff, maxDiff int, now time.Time) bool {
	if q.Flagged || q.ComplexityTier != tier {
		return false
	}
	if q.Difficulty < minDiff || q.Difficulty > maxDiff {
		return false
	}
	if !lastServed.IsZero() && now.Sub(lastServed) < CooldownDays*24*time.Hour {
		return false
	}
	return true
}

func preferred(a, b models.Question) bool {
	if a.UsageCount != b.UsageCount {
		return a.UsageCount < b.UsageCount
	}
	return a.ID < b.ID
}

// pickCandidate applies the selection rules over an in-memory pool. It is
// the reference for SelectCandidate and drives the store fakes in tests.
func pickCandidate(pool []models.Question, lastServed map[int64]time.Time, objectiveID string, tier models.ComplexityTier, minDiff, maxDiff int, now time.Time) *models.Question {
	var best *models.Question
	for i := range pool {
		q := pool[i]
		if q.ObjectiveID != objectiveID || !eligible(q, lastServed[q.ID], tier, minDiff, maxDiff, now) {
			continue
		}
		if best == nil || preferred(q, *best) {
			best = &pool[i]
		}
	}
	return best
}

// ── GeneratedSource ───────────────────────────────────────

// QuestionGenerator is the content-generation collaborator.
type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, objectiveID string, difficulty int, tier string) (*generator.GeneratedQuestion, *generator.LLMResponse, error)
}

const generationRetries = 3

// GeneratedSource creates a question on demand when the pool is exhausted,
// persists it with zero usage, and selects it.
type GeneratedSource struct {
	gen   QuestionGenerator
	store PoolStore
}

func NewGeneratedSource(gen QuestionGenerator, store PoolStore) *GeneratedSource {
	return &GeneratedSource{gen: gen, store: store}
}

func (s *GeneratedSource) Next(ctx context.Context, req SelectRequest) (*models.Question, error) {
	var gq *generator.GeneratedQuestion
	var lastErr error

	for attempt := 1; attempt <= generationRetries; attempt++ {
		var err error
		gq, _, err = s.gen.GenerateQuestion(ctx, req.ObjectiveID, req.TargetDifficulty, string(req.Tier))
		if err == nil {
			break
		}
		lastErr = err
		gq = nil
		log.Printf("WARN: [bank] generation attempt %d/%d failed for objective=%s difficulty=%d: %v",
			attempt, generationRetries, req.ObjectiveID, req.TargetDifficulty, err)
	}
	if gq == nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, lastErr)
	}

	q := models.Question{
		ObjectiveID:      req.ObjectiveID,
		Text:             gq.Text,
		ExpectedCriteria: gq.ExpectedCriteria,
		Difficulty:       req.TargetDifficulty,
		ComplexityTier:   req.Tier,
		AssessmentType:   models.AssessmentType(gq.AssessmentType),
	}

	saved, err := s.store.InsertGenerated(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("persist generated question: %w", err)
	}

	if err := s.store.MarkSelected(ctx, saved.ID, req.UserID); err != nil {
		return nil, fmt.Errorf("mark generated question selected: %w", err)
	}
	saved.UsageCount++

	return saved, nil
}
