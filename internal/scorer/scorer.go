// Package scorer evaluates free-text answers against a question's expected
// criteria. The assessment engine never grades text itself; it consumes the
// score/confidence pair this collaborator returns.
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/masterypath/backend/internal/generator"
)

// Result is the scored outcome of one free-text answer.
type Result struct {
	Score      float64 `json:"score"`      // [0,1]
	Confidence int     `json:"confidence"` // [1,5]
	Feedback   string  `json:"feedback"`
}

// Scorer evaluates an answer against the expected criteria.
type Scorer interface {
	Evaluate(ctx context.Context, answerText string, expectedCriteria []string) (*Result, error)
}

// New picks the scorer implementation from the environment, mirroring the
// generator's mock-mode switch.
func New() Scorer {
	if os.Getenv("MOCK_SCORER") == "true" {
		log.Println("Scorer using keyword heuristic (mock mode)")
		return &HeuristicScorer{}
	}
	model := os.Getenv("ANTHROPIC_SCORER_MODEL")
	if model == "" {
		model = os.Getenv("ANTHROPIC_MODEL")
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	log.Println("Scorer using Anthropic API:", model)
	return &LLMScorer{llm: generator.NewAPIClient(model)}
}

// ── LLMScorer — Anthropic-backed grading ──────────────────

type LLMScorer struct {
	llm generator.LLMClient
}

func NewLLMScorer(llm generator.LLMClient) *LLMScorer {
	return &LLMScorer{llm: llm}
}

func (s *LLMScorer) Evaluate(ctx context.Context, answerText string, expectedCriteria []string) (*Result, error) {
	systemPrompt := `You grade free-text answers for an adaptive learning platform.

Given an answer and the criteria a correct answer must contain, respond with
a single JSON object and nothing else:

{"score": 0.0-1.0, "confidence": 1-5, "feedback": "one or two sentences"}

score is the fraction of criteria genuinely satisfied. confidence reflects
how certain you are in that score given the answer's clarity.`

	userPrompt := fmt.Sprintf("Criteria:\n- %s\n\nAnswer:\n%s",
		strings.Join(expectedCriteria, "\n- "), answerText)

	resp, err := s.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("score answer: %w", err)
	}

	result, err := parseResult(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse score response: %w", err)
	}
	return result, nil
}

func parseResult(content string) (*Result, error) {
	cleaned := strings.TrimSpace(content)
	if idx := strings.Index(cleaned, "{"); idx > 0 {
		cleaned = cleaned[idx:]
	}
	if idx := strings.LastIndex(cleaned, "}"); idx >= 0 {
		cleaned = cleaned[:idx+1]
	}

	var r Result
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("invalid scorer JSON: %w", err)
	}
	if r.Score < 0 || r.Score > 1 {
		return nil, fmt.Errorf("score %.3f outside [0,1]", r.Score)
	}
	if r.Confidence < 1 || r.Confidence > 5 {
		return nil, fmt.Errorf("confidence %d outside [1,5]", r.Confidence)
	}
	return &r, nil
}

// ── HeuristicScorer — Local Development ───────────────────

// HeuristicScorer scores by naive keyword coverage of the criteria. Only
// suitable for local development and tests.
type HeuristicScorer struct{}

func (s *HeuristicScorer) Evaluate(ctx context.Context, answerText string, expectedCriteria []string) (*Result, error) {
	if len(expectedCriteria) == 0 {
		return &Result{Score: 0.5, Confidence: 1, Feedback: "no criteria to score against"}, nil
	}

	answer := strings.ToLower(answerText)
	hit := 0
	for _, criterion := range expectedCriteria {
		for _, word := range strings.Fields(strings.ToLower(criterion)) {
			if len(word) > 4 && strings.Contains(answer, word) {
				hit++
				break
			}
		}
	}

	score := float64(hit) / float64(len(expectedCriteria))
	return &Result{
		Score:      score,
		Confidence: 2,
		Feedback:   fmt.Sprintf("heuristic: matched %d of %d criteria", hit, len(expectedCriteria)),
	}, nil
}
