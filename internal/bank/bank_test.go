package bank

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/masterypath/backend/internal/generator"
	"github.com/masterypath/backend/internal/models"
)

// fakePoolStore keeps the pool in memory and selects with the same rules
// the SQL store applies.
type fakePoolStore struct {
	pool         []models.Question
	lastServed   map[int64]time.Time
	inserted     []models.Question
	marked       []int64
	outcomes     []models.QuestionOutcome
	outcomeCount int
	setIndex     *float64
	setFlagged   bool
	nextID       int64
}

func (f *fakePoolStore) SelectCandidate(ctx context.Context, objectiveID string, tier models.ComplexityTier, minDiff, maxDiff int, userID int64) (*models.Question, error) {
	now := time.Now()
	best := pickCandidate(f.pool, f.lastServed, objectiveID, tier, minDiff, maxDiff, now)
	if best == nil {
		return nil, nil
	}
	best.UsageCount++
	if f.lastServed == nil {
		f.lastServed = make(map[int64]time.Time)
	}
	f.lastServed[best.ID] = now
	q := *best
	return &q, nil
}

func (f *fakePoolStore) InsertGenerated(ctx context.Context, q models.Question) (*models.Question, error) {
	f.nextID++
	q.ID = f.nextID
	f.inserted = append(f.inserted, q)
	return &q, nil
}

func (f *fakePoolStore) MarkSelected(ctx context.Context, questionID, userID int64) error {
	f.marked = append(f.marked, questionID)
	return nil
}

func (f *fakePoolStore) AppendOutcome(ctx context.Context, o models.QuestionOutcome) (int, error) {
	f.outcomes = append(f.outcomes, o)
	f.outcomeCount++
	return f.outcomeCount, nil
}

func (f *fakePoolStore) Outcomes(ctx context.Context, questionID int64) ([]models.QuestionOutcome, error) {
	return f.outcomes, nil
}

func (f *fakePoolStore) SetDiscrimination(ctx context.Context, questionID int64, index float64, flagged bool) error {
	f.setIndex = &index
	f.setFlagged = flagged
	return nil
}

func (f *fakePoolStore) FlaggedQuestions(ctx context.Context, limit, offset int) ([]models.Question, int, error) {
	return nil, 0, nil
}

func (f *fakePoolStore) GetQuestion(ctx context.Context, questionID int64) (*models.Question, error) {
	for _, q := range f.pool {
		if q.ID == questionID {
			return &q, nil
		}
	}
	for _, q := range f.inserted {
		if q.ID == questionID {
			return &q, nil
		}
	}
	return nil, nil
}

// fakeGenerator counts invocations and can fail a set number of times.
type fakeGenerator struct {
	calls    int
	failures int
}

func (f *fakeGenerator) GenerateQuestion(ctx context.Context, objectiveID string, difficulty int, tier string) (*generator.GeneratedQuestion, *generator.LLMResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, nil, fmt.Errorf("model overloaded")
	}
	return &generator.GeneratedQuestion{
		Text:             "Explain how the two mechanisms interact and when each one dominates.",
		ExpectedCriteria: []string{"names both mechanisms", "identifies the crossover condition"},
		AssessmentType:   string(models.AssessmentAnalysis),
	}, &generator.LLMResponse{Content: "{}"}, nil
}

func poolQuestion(id int64, difficulty int) models.Question {
	return models.Question{
		ID:             id,
		ObjectiveID:    "obj-1",
		Text:           "What invariant does the cooldown protect?",
		Difficulty:     difficulty,
		ComplexityTier: models.TierIntermediate,
		AssessmentType: models.AssessmentRecall,
	}
}

func intermediateRequest() SelectRequest {
	return SelectRequest{
		ObjectiveID: "obj-1", TargetDifficulty: 50, Tier: models.TierIntermediate, UserID: 1,
	}
}

func TestSelectFromPool(t *testing.T) {
	store := &fakePoolStore{pool: []models.Question{poolQuestion(7, 50)}}
	gen := &fakeGenerator{}
	b := New(store, gen)

	q, err := b.Select(context.Background(), intermediateRequest())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if q.ID != 7 {
		t.Errorf("selected question %d, want 7", q.ID)
	}
	if gen.calls != 0 {
		t.Errorf("generator invoked %d times, want 0 when the pool can serve", gen.calls)
	}
}

func TestSelectHonorsCooldown(t *testing.T) {
	// The lightly used question was served to this user two days ago; while
	// an alternative exists, it must be picked regardless of usage.
	store := &fakePoolStore{
		pool: []models.Question{poolQuestion(1, 50), poolQuestion(2, 52)},
		lastServed: map[int64]time.Time{
			1: time.Now().Add(-2 * 24 * time.Hour),
		},
	}
	store.pool[1].UsageCount = 9
	gen := &fakeGenerator{}
	b := New(store, gen)

	q, err := b.Select(context.Background(), intermediateRequest())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if q.ID != 2 {
		t.Errorf("selected question %d, want 2 (question 1 is cooling down)", q.ID)
	}
	if gen.calls != 0 {
		t.Errorf("generator invoked %d times, want 0", gen.calls)
	}
}

func TestSelectCooldownExpiry(t *testing.T) {
	store := &fakePoolStore{
		pool: []models.Question{poolQuestion(1, 50)},
		lastServed: map[int64]time.Time{
			1: time.Now().Add(-15 * 24 * time.Hour),
		},
	}
	gen := &fakeGenerator{}
	b := New(store, gen)

	q, err := b.Select(context.Background(), intermediateRequest())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if q.ID != 1 {
		t.Errorf("selected question %d, want 1 after its cooldown lapsed", q.ID)
	}
	if gen.calls != 0 {
		t.Errorf("generator invoked %d times, want 0", gen.calls)
	}
}

func TestSelectPrefersLeastUsed(t *testing.T) {
	store := &fakePoolStore{
		pool: []models.Question{poolQuestion(1, 50), poolQuestion(2, 52)},
	}
	store.pool[0].UsageCount = 5
	store.pool[1].UsageCount = 1
	b := New(store, &fakeGenerator{})

	q, err := b.Select(context.Background(), intermediateRequest())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if q.ID != 2 {
		t.Errorf("selected question %d, want the least-used 2", q.ID)
	}
}

func TestEligibility(t *testing.T) {
	now := time.Now()
	base := poolQuestion(1, 50)
	flagged := base
	flagged.Flagged = true
	offTier := base
	offTier.ComplexityTier = models.TierAdvanced
	tooHard := base
	tooHard.Difficulty = 61

	tests := []struct {
		name       string
		q          models.Question
		lastServed time.Time
		want       bool
	}{
		{"never served", base, time.Time{}, true},
		{"served 2 days ago", base, now.Add(-2 * 24 * time.Hour), false},
		{"served exactly 14 days ago", base, now.Add(-CooldownDays * 24 * time.Hour), true},
		{"flagged", flagged, time.Time{}, false},
		{"wrong tier", offTier, time.Time{}, false},
		{"outside window", tooHard, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eligible(tt.q, tt.lastServed, models.TierIntermediate, 40, 60, now)
			if got != tt.want {
				t.Errorf("eligible(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestSelectGeneratesWhenPoolExhausted(t *testing.T) {
	// The only matching question is inside its cooldown, so the pool yields
	// nothing and generation runs exactly once.
	store := &fakePoolStore{
		pool: []models.Question{poolQuestion(7, 50)},
		lastServed: map[int64]time.Time{
			7: time.Now().Add(-2 * 24 * time.Hour),
		},
	}
	gen := &fakeGenerator{}
	b := New(store, gen)

	q, err := b.Select(context.Background(), intermediateRequest())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("generator invoked %d times, want exactly 1", gen.calls)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("persisted %d generated questions, want 1", len(store.inserted))
	}
	if store.inserted[0].UsageCount != 0 {
		t.Errorf("generated question persisted with usage %d, want 0", store.inserted[0].UsageCount)
	}
	if q.Difficulty != 50 || q.ComplexityTier != models.TierIntermediate {
		t.Errorf("generated question placement = (%d, %s), want (50, INTERMEDIATE)", q.Difficulty, q.ComplexityTier)
	}
	if len(store.marked) != 1 || store.marked[0] != q.ID {
		t.Errorf("generated question was not marked selected: %v", store.marked)
	}
}

func TestSelectGenerationRetries(t *testing.T) {
	store := &fakePoolStore{}
	gen := &fakeGenerator{failures: 2}
	b := New(store, gen)

	_, err := b.Select(context.Background(), intermediateRequest())
	if err != nil {
		t.Fatalf("Select should succeed on the third attempt: %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("generator invoked %d times, want 3", gen.calls)
	}
}

func TestSelectGenerationUnavailable(t *testing.T) {
	store := &fakePoolStore{}
	gen := &fakeGenerator{failures: 10}
	b := New(store, gen)

	_, err := b.Select(context.Background(), intermediateRequest())
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("err = %v, want ErrGenerationUnavailable", err)
	}
	if gen.calls != generationRetries {
		t.Errorf("generator invoked %d times, want %d", gen.calls, generationRetries)
	}
}

func TestRecordOutcomeBelowGate(t *testing.T) {
	store := &fakePoolStore{}
	b := New(store, &fakeGenerator{})

	for i := 0; i < discriminationMinOutcomes-1; i++ {
		err := b.RecordOutcome(context.Background(), models.QuestionOutcome{
			QuestionID: 7, UserID: int64(i), Correct: true, AbilityRank: 0.5,
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if store.setIndex != nil {
		t.Errorf("discrimination recomputed at %d outcomes, want only at >= %d",
			store.outcomeCount, discriminationMinOutcomes)
	}
}

func TestRecordOutcomeFlagsLowDiscrimination(t *testing.T) {
	store := &fakePoolStore{}
	b := New(store, &fakeGenerator{})

	// Strong and weak respondents pass at the same rate: zero discrimination.
	for i := 0; i < discriminationMinOutcomes; i++ {
		rank := float64(i) / float64(discriminationMinOutcomes)
		err := b.RecordOutcome(context.Background(), models.QuestionOutcome{
			QuestionID: 7, UserID: int64(i), Correct: i%2 == 0, AbilityRank: rank,
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	if store.setIndex == nil {
		t.Fatal("discrimination was not recomputed at the outcome gate")
	}
	if *store.setIndex < -1 || *store.setIndex > 1 {
		t.Errorf("discrimination index %f out of [-1,1]", *store.setIndex)
	}
	if !store.setFlagged {
		t.Errorf("index %f should flag the question for review", *store.setIndex)
	}
}

func TestDiscriminationIndexSeparation(t *testing.T) {
	// Top-ability respondents pass, bottom fail: index near +1.
	var outcomes []models.QuestionOutcome
	for i := 0; i < 30; i++ {
		rank := float64(i) / 30.0
		outcomes = append(outcomes, models.QuestionOutcome{
			QuestionID: 1, UserID: int64(i), Correct: rank >= 0.5, AbilityRank: rank,
		})
	}

	index, ok := DiscriminationIndex(outcomes)
	if !ok {
		t.Fatal("enough outcomes, want a computed index")
	}
	if index != 1 {
		t.Errorf("index = %f, want 1 for perfect separation", index)
	}

	if _, ok := DiscriminationIndex(outcomes[:10]); ok {
		t.Error("too few outcomes must not produce an index")
	}
}
