// Package session orchestrates the adaptive per-question loop: placement,
// selection, estimation, mastery checks, and session ending.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/masterypath/backend/internal/bank"
	"github.com/masterypath/backend/internal/calibrate"
	"github.com/masterypath/backend/internal/irt"
	"github.com/masterypath/backend/internal/mastery"
	"github.com/masterypath/backend/internal/metrics"
	"github.com/masterypath/backend/internal/models"
	"github.com/masterypath/backend/internal/scorer"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionClosed       = errors.New("session no longer accepts responses")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrInvalidInput        = errors.New("invalid input")
)

// SessionStore is durable session state. WithSession runs fn against the
// freshly loaded state under a transaction: mutations fn makes, including
// appended responses, commit atomically or not at all.
type SessionStore interface {
	CreateSession(ctx context.Context, state *models.AdaptiveSessionState) error
	GetSession(ctx context.Context, sessionID string) (*models.AdaptiveSessionState, error)
	UpdateSession(ctx context.Context, state *models.AdaptiveSessionState) error
	WithSession(ctx context.Context, sessionID string, fn func(*models.AdaptiveSessionState) error) (*models.AdaptiveSessionState, error)

	// RecentPerformance returns the user's last scores (oldest first, at most
	// limit) and their average calibration error in points, across sessions.
	RecentPerformance(ctx context.Context, userID int64, limit int) ([]float64, float64, error)

	// ObjectiveResponses returns the user's time-ordered response history
	// for an objective, excluding the named session.
	ObjectiveResponses(ctx context.Context, userID int64, objectiveID, excludeSessionID string) ([]models.ResponseRecord, error)

	// AbandonStale ends sessions idle longer than idleFor, preserving their
	// responses, and returns how many it ended.
	AbandonStale(ctx context.Context, idleFor time.Duration) (int64, error)
}

// QuestionProvider is the question-selection collaborator. *bank.Bank is the
// production implementation.
type QuestionProvider interface {
	Select(ctx context.Context, req bank.SelectRequest) (*models.Question, error)
	RecordOutcome(ctx context.Context, outcome models.QuestionOutcome) error
	Question(ctx context.Context, questionID int64) (*models.Question, error)
}

// MasteryChecker evaluates mastery over response history.
type MasteryChecker interface {
	Check(ctx context.Context, userID int64, objectiveID string, responses []models.ResponseRecord, req mastery.Requirements) (models.MasterySnapshot, error)
}

type Config struct {
	// MaxQuestions is the fixed-length baseline cap; sessions never exceed
	// it and efficiency is measured against it.
	MaxQuestions int

	// InactivityTimeout is how long a session may sit idle before the
	// sweeper abandons it.
	InactivityTimeout time.Duration

	// MasteryFloor and MasteryTypes are the default objective requirements.
	MasteryFloor int
	MasteryTypes []models.AssessmentType

	// StrategicDrop is the difficulty reduction for the confidence-building
	// question served before a low-scoring session ends.
	StrategicDrop int

	// LowFinishAvg is the last-two-scores average below which a session
	// ends strategically.
	LowFinishAvg float64
}

func DefaultConfig() Config {
	return Config{
		MaxQuestions:      10,
		InactivityTimeout: 30 * time.Minute,
		MasteryFloor:      50,
		MasteryTypes: []models.AssessmentType{
			models.AssessmentRecall,
			models.AssessmentApplication,
			models.AssessmentAnalysis,
		},
		StrategicDrop: 25,
		LowFinishAvg:  0.65,
	}
}

// Service runs adaptive sessions. One question is outstanding per session at
// a time; the service advances only on receipt of a scored response.
type Service struct {
	store     SessionStore
	questions QuestionProvider
	cal       *calibrate.Calibrator
	verifier  MasteryChecker
	scorer    scorer.Scorer
	cfg       Config
	now       func() time.Time
}

func NewService(store SessionStore, questions QuestionProvider, cal *calibrate.Calibrator, verifier MasteryChecker, sc scorer.Scorer, cfg Config) *Service {
	if cfg.MaxQuestions <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		store:     store,
		questions: questions,
		cal:       cal,
		verifier:  verifier,
		scorer:    sc,
		cfg:       cfg,
		now:       time.Now,
	}
}

// StartSession places the learner and serves the first question. If no
// question can be produced the session is recorded as abandoned with the
// reason, never left hanging.
func (s *Service) StartSession(ctx context.Context, userID int64, objectiveIDs []string) (*models.StartSessionResponse, error) {
	if len(objectiveIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one objective_id is required", ErrInvalidInput)
	}

	scores, calibrationErr, err := s.store.RecentPerformance(ctx, userID, 10)
	if err != nil {
		return nil, fmt.Errorf("load recent performance: %w", err)
	}
	placement := s.cal.CalculateInitial(scores, calibrationErr)

	now := s.now()
	state := &models.AdaptiveSessionState{
		SessionID:         uuid.NewString(),
		UserID:            userID,
		ObjectiveIDs:      objectiveIDs,
		CurrentDifficulty: placement.Difficulty,
		Status:            models.SessionActive,
		Decisions:         []string{"placement: " + placement.Rationale},
		StartedAt:         now,
		LastActivityAt:    now,
	}
	if err := s.store.CreateSession(ctx, state); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Printf("[session] %s started for user %d at difficulty %d (%s)",
		state.SessionID, userID, placement.Difficulty, placement.Rationale)
	metrics.SessionsStarted.Inc()

	q, err := s.serveQuestion(ctx, state, state.CurrentDifficulty)
	if err != nil {
		s.abandon(ctx, state, fmt.Sprintf("no question available at start: %v", err))
		return nil, fmt.Errorf("serve first question: %w", err)
	}
	if err := s.store.UpdateSession(ctx, state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	served := q.ToServed()
	return &models.StartSessionResponse{
		SessionID:         state.SessionID,
		InitialDifficulty: state.CurrentDifficulty,
		PlacementReason:   placement.Rationale,
		FirstQuestion:     &served,
	}, nil
}

// SubmitResponse applies one scored response: append, re-estimate, check
// mastery, and either end the session or serve the next question. Input is
// validated before any state is touched, and a duplicate idempotency key is
// rejected without re-applying effects.
func (s *Service) SubmitResponse(ctx context.Context, userID int64, sessionID string, req models.SubmitResponseRequest) (*models.SubmitResponseResponse, error) {
	if err := validateSubmission(req); err != nil {
		return nil, err
	}

	question, err := s.questions.Question(ctx, req.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("load question: %w", err)
	}
	if question == nil {
		return nil, fmt.Errorf("%w: question %d does not exist", ErrInvalidInput, req.QuestionID)
	}

	var resp *models.SubmitResponseResponse
	var outcome *models.QuestionOutcome

	_, err = s.store.WithSession(ctx, sessionID, func(state *models.AdaptiveSessionState) error {
		if state.UserID != userID {
			return ErrSessionNotFound
		}
		if state.ClosedAt != nil {
			return ErrSessionClosed
		}
		if state.Status != models.SessionActive && state.Status != models.SessionStrategicEnd {
			return ErrSessionClosed
		}
		for _, r := range state.Responses {
			if r.IdempotencyKey == req.IdempotencyKey {
				return ErrDuplicateSubmission
			}
		}
		if state.PendingQuestionID != nil && *state.PendingQuestionID != req.QuestionID {
			return fmt.Errorf("%w: question %d is not the outstanding question", ErrInvalidInput, req.QuestionID)
		}

		now := s.now()
		record := models.ResponseRecord{
			SessionID:        state.SessionID,
			UserID:           userID,
			QuestionID:       req.QuestionID,
			Score:            req.Score,
			Confidence:       req.Confidence,
			DifficultyAtTime: state.CurrentDifficulty,
			AssessmentType:   question.AssessmentType,
			ElapsedMs:        req.ElapsedMs,
			IdempotencyKey:   req.IdempotencyKey,
			RespondedAt:      now,
		}
		state.Responses = append(state.Responses, record)
		state.PendingQuestionID = nil
		state.LastActivityAt = now

		estimate := s.estimate(state.Responses)
		metrics.EstimateIterations.Observe(float64(estimate.Iterations))

		snap, err := s.checkMastery(ctx, state)
		if err != nil {
			return err
		}

		outcome = &models.QuestionOutcome{
			QuestionID:  req.QuestionID,
			UserID:      userID,
			Correct:     record.Correct(),
			AbilityRank: irt.AbilityRank(estimate.Theta),
		}

		resp = &models.SubmitResponseResponse{
			Difficulty:     state.CurrentDifficulty,
			CanStopEarly:   irt.ShouldStopEarly(estimate),
			RecommendBreak: DetectPerformanceDecline(lastScores(state.Responses, 3)),
			Ability:        estimate,
			Mastery:        &snap,
		}

		// The wind-down question of a strategically ending session is the
		// last one; its response closes the session.
		if state.Status == models.SessionStrategicEnd {
			s.close(state, models.SessionStrategicEnd, "finished on a confidence-building question after a low-scoring stretch")
			resp.SessionStatus = state.Status
			resp.EndReason = state.EndReason
			return nil
		}

		endStatus, endDetail := s.decideEnd(state, estimate, snap)
		if endStatus == "" {
			return s.continueSession(ctx, state, record.Score, resp)
		}
		return s.endSession(ctx, state, endStatus, endDetail, resp)
	})
	if err != nil {
		return nil, err
	}

	// Outcome statistics are per-question, not per-session; a failure here
	// must not fail the submission.
	if outcome != nil {
		if err := s.questions.RecordOutcome(ctx, *outcome); err != nil {
			log.Printf("WARN: [session] record outcome for question %d: %v", outcome.QuestionID, err)
		}
	}

	return resp, nil
}

// SubmitAnswer scores free text through the scorer collaborator and feeds
// the result into the standard response path.
func (s *Service) SubmitAnswer(ctx context.Context, userID int64, sessionID string, req models.SubmitAnswerRequest) (*models.SubmitResponseResponse, error) {
	if req.AnswerText == "" {
		return nil, fmt.Errorf("%w: answer_text is required", ErrInvalidInput)
	}

	question, err := s.questions.Question(ctx, req.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("load question: %w", err)
	}
	if question == nil {
		return nil, fmt.Errorf("%w: question %d does not exist", ErrInvalidInput, req.QuestionID)
	}

	result, err := s.scorer.Evaluate(ctx, req.AnswerText, question.ExpectedCriteria)
	if err != nil {
		return nil, fmt.Errorf("score answer: %w", err)
	}

	return s.SubmitResponse(ctx, userID, sessionID, models.SubmitResponseRequest{
		QuestionID:     req.QuestionID,
		Score:          result.Score,
		Confidence:     result.Confidence,
		ElapsedMs:      req.ElapsedMs,
		IdempotencyKey: req.IdempotencyKey,
	})
}

// GetSessionSummary reports the session outcome. The first summary read of
// an ended session finalizes it to closed.
func (s *Service) GetSessionSummary(ctx context.Context, userID int64, sessionID string) (*models.SessionSummary, error) {
	state, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if state == nil || state.UserID != userID {
		return nil, ErrSessionNotFound
	}

	summary := &models.SessionSummary{
		SessionID:            state.SessionID,
		Status:               state.Status,
		EndReason:            state.EndReason,
		QuestionsAsked:       state.QuestionsAsked,
		FinalDifficulty:      state.CurrentDifficulty,
		Ability:              s.estimate(state.Responses),
		EfficiencyVsBaseline: s.efficiency(state.QuestionsAsked),
		Decisions:            state.Decisions,
	}

	if state.ClosedAt != nil && state.Status != models.SessionClosed {
		state.Status = models.SessionClosed
		if err := s.store.UpdateSession(ctx, state); err != nil {
			return nil, fmt.Errorf("finalize session: %w", err)
		}
	}

	return summary, nil
}

// MasterySnapshot evaluates the user's standing on an objective from their
// full response history.
func (s *Service) MasterySnapshot(ctx context.Context, userID int64, objectiveID string) (models.MasterySnapshot, error) {
	history, err := s.store.ObjectiveResponses(ctx, userID, objectiveID, "")
	if err != nil {
		return models.MasterySnapshot{}, fmt.Errorf("load objective history: %w", err)
	}
	return s.verifier.Check(ctx, userID, objectiveID, history, s.requirements())
}

// StartInactivitySweeper abandons idle sessions on a fixed cadence. Partial
// data is preserved for analytics.
func (s *Service) StartInactivitySweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Printf("[session-sweeper] started, interval %s, timeout %s", interval, s.cfg.InactivityTimeout)

		for {
			select {
			case <-ctx.Done():
				log.Printf("[session-sweeper] stopped")
				return
			case <-ticker.C:
				n, err := s.store.AbandonStale(ctx, s.cfg.InactivityTimeout)
				if err != nil {
					log.Printf("WARN: [session-sweeper] abandon stale sessions: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("[session-sweeper] abandoned %d idle sessions", n)
					metrics.SessionsEnded.WithLabelValues(string(models.SessionAbandoned)).Add(float64(n))
				}
			}
		}
	}()
}

// DetectPerformanceDecline reports two consecutive drops of more than 15
// points each across the given scores (oldest first). It is a non-blocking
// signal; it never ends a session.
func DetectPerformanceDecline(scores []float64) bool {
	if len(scores) < 3 {
		return false
	}
	a, b, c := scores[len(scores)-3], scores[len(scores)-2], scores[len(scores)-1]
	return a-b > 0.15 && b-c > 0.15
}

// ── internals ─────────────────────────────────────────────

func validateSubmission(req models.SubmitResponseRequest) error {
	switch {
	case req.Score < 0 || req.Score > 1:
		return fmt.Errorf("%w: score must be within [0,1]", ErrInvalidInput)
	case req.Confidence < 1 || req.Confidence > 5:
		return fmt.Errorf("%w: confidence must be within [1,5]", ErrInvalidInput)
	case req.ElapsedMs < 0:
		return fmt.Errorf("%w: elapsed_ms must not be negative", ErrInvalidInput)
	case req.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency_key is required", ErrInvalidInput)
	}
	return nil
}

func (s *Service) estimate(responses []models.ResponseRecord) models.AbilityEstimate {
	obs := make([]irt.Observation, len(responses))
	for i, r := range responses {
		obs[i] = irt.Observation{Correct: r.Correct(), Difficulty: r.DifficultyAtTime}
	}
	return irt.Estimate(obs)
}

func (s *Service) requirements() mastery.Requirements {
	return mastery.Requirements{
		DifficultyFloor: s.cfg.MasteryFloor,
		AssessmentTypes: s.cfg.MasteryTypes,
	}
}

// checkMastery evaluates the primary objective over cross-session history
// plus the current session's responses.
func (s *Service) checkMastery(ctx context.Context, state *models.AdaptiveSessionState) (models.MasterySnapshot, error) {
	objective := state.PrimaryObjective()
	history, err := s.store.ObjectiveResponses(ctx, state.UserID, objective, state.SessionID)
	if err != nil {
		return models.MasterySnapshot{}, fmt.Errorf("load objective history: %w", err)
	}
	all := append(history, state.Responses...)
	return s.verifier.Check(ctx, state.UserID, objective, all, s.requirements())
}

// decideEnd returns the end status for the session, or "" to continue.
func (s *Service) decideEnd(state *models.AdaptiveSessionState, estimate models.AbilityEstimate, snap models.MasterySnapshot) (models.SessionStatus, string) {
	if irt.ShouldStopEarly(estimate) {
		return models.SessionEarlyStopped, fmt.Sprintf("ability estimate precise enough after %d questions", state.QuestionsAsked)
	}
	if snap.Status == models.MasteryVerified {
		return models.SessionNormalEnd, "mastery verified for objective " + state.PrimaryObjective()
	}
	if state.QuestionsAsked >= s.cfg.MaxQuestions {
		return models.SessionNormalEnd, fmt.Sprintf("question cap of %d reached", s.cfg.MaxQuestions)
	}
	return "", ""
}

func (s *Service) continueSession(ctx context.Context, state *models.AdaptiveSessionState, score float64, resp *models.SubmitResponseResponse) error {
	adj := s.cal.Adjust(state.CurrentDifficulty, score, state.AdjustmentCount)
	if adj.Reason != "adjustment cap reached" {
		state.AdjustmentCount++
	}
	state.CurrentDifficulty = adj.New
	state.Decisions = append(state.Decisions, "adjust: "+adj.Reason)

	q, err := s.serveQuestion(ctx, state, state.CurrentDifficulty)
	if err != nil {
		s.markAbandoned(state, fmt.Sprintf("no question available: %v", err))
		resp.SessionStatus = state.Status
		resp.EndReason = state.EndReason
		resp.Difficulty = state.CurrentDifficulty
		return nil
	}

	served := q.ToServed()
	resp.NextQuestion = &served
	resp.Difficulty = state.CurrentDifficulty
	resp.AdjustmentReason = adj.Reason
	resp.SessionStatus = state.Status
	return nil
}

// endSession closes the session, unless the learner is finishing on a weak
// run, in which case one easier wind-down question is served first.
func (s *Service) endSession(ctx context.Context, state *models.AdaptiveSessionState, status models.SessionStatus, detail string, resp *models.SubmitResponseResponse) error {
	last := lastScores(state.Responses, 2)
	if len(last) == 2 && (last[0]+last[1])/2 < s.cfg.LowFinishAvg {
		easier := state.CurrentDifficulty - s.cfg.StrategicDrop
		if easier < 0 {
			easier = 0
		}
		q, err := s.serveQuestion(ctx, state, easier)
		if err == nil {
			state.Status = models.SessionStrategicEnd
			state.Decisions = append(state.Decisions, fmt.Sprintf("end condition met: %s (%s)", status, detail))
			state.CurrentDifficulty = easier
			state.Decisions = append(state.Decisions,
				fmt.Sprintf("strategic end: weak finish (avg %.2f), one confidence question at difficulty %d", (last[0]+last[1])/2, easier))

			served := q.ToServed()
			resp.NextQuestion = &served
			resp.Difficulty = easier
			resp.SessionStatus = state.Status
			return nil
		}
		log.Printf("WARN: [session] %s wind-down question unavailable, closing: %v", state.SessionID, err)
	}

	s.close(state, status, detail)
	resp.SessionStatus = state.Status
	resp.EndReason = state.EndReason
	return nil
}

func (s *Service) serveQuestion(ctx context.Context, state *models.AdaptiveSessionState, difficulty int) (*models.Question, error) {
	q, err := s.questions.Select(ctx, bank.SelectRequest{
		ObjectiveID:      state.PrimaryObjective(),
		TargetDifficulty: difficulty,
		Tier:             calibrate.TierForDifficulty(difficulty),
		UserID:           state.UserID,
	})
	if err != nil {
		if errors.Is(err, bank.ErrGenerationUnavailable) {
			metrics.GenerationFailures.Inc()
		}
		return nil, err
	}
	state.PendingQuestionID = &q.ID
	state.QuestionsAsked++
	return q, nil
}

func (s *Service) close(state *models.AdaptiveSessionState, status models.SessionStatus, detail string) {
	now := s.now()
	state.Status = status
	state.EndReason = detail
	state.PendingQuestionID = nil
	state.ClosedAt = &now
	state.Decisions = append(state.Decisions, fmt.Sprintf("end: %s (%s)", status, detail))

	log.Printf("[session] %s ended: %s (%s)", state.SessionID, status, detail)
	metrics.SessionsEnded.WithLabelValues(string(status)).Inc()
	metrics.SessionLength.Observe(float64(state.QuestionsAsked))
}

func (s *Service) markAbandoned(state *models.AdaptiveSessionState, reason string) {
	s.close(state, models.SessionAbandoned, reason)
}

// abandon is the out-of-transaction variant used before the first question
// has been served.
func (s *Service) abandon(ctx context.Context, state *models.AdaptiveSessionState, reason string) {
	s.markAbandoned(state, reason)
	if err := s.store.UpdateSession(ctx, state); err != nil {
		log.Printf("WARN: [session] %s record abandonment: %v", state.SessionID, err)
	}
}

func (s *Service) efficiency(questionsAsked int) float64 {
	if s.cfg.MaxQuestions <= 0 || questionsAsked >= s.cfg.MaxQuestions {
		return 0
	}
	return float64(s.cfg.MaxQuestions-questionsAsked) / float64(s.cfg.MaxQuestions)
}

func lastScores(responses []models.ResponseRecord, n int) []float64 {
	if len(responses) < n {
		n = len(responses)
	}
	scores := make([]float64, 0, n)
	for _, r := range responses[len(responses)-n:] {
		scores = append(scores, r.Score)
	}
	return scores
}
