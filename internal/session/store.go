package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/masterypath/backend/internal/models"
)

// Store is the Postgres-backed SessionStore.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const sessionCols = `id, user_id, objective_ids, current_difficulty, adjustment_count,
	        questions_asked, status, end_reason, pending_question_id, decision_log,
	        started_at, last_activity_at, closed_at`

func (s *Store) CreateSession(ctx context.Context, state *models.AdaptiveSessionState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO adaptive_sessions
		     (id, user_id, objective_ids, current_difficulty, adjustment_count,
		      questions_asked, status, end_reason, pending_question_id, decision_log,
		      started_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		state.SessionID, state.UserID, pq.Array(state.ObjectiveIDs),
		state.CurrentDifficulty, state.AdjustmentCount, state.QuestionsAsked,
		state.Status, state.EndReason, state.PendingQuestionID,
		pq.Array(state.Decisions), state.StartedAt, state.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.AdaptiveSessionState, error) {
	state, err := scanSession(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM adaptive_sessions WHERE id = $1`, sessionCols),
		sessionID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	state.Responses, err = s.loadResponses(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Store) UpdateSession(ctx context.Context, state *models.AdaptiveSessionState) error {
	return s.updateSessionRow(ctx, s.db, state)
}

// WithSession runs fn against the session under a row lock. Responses fn
// appends (ID zero) and every field change commit atomically; any error from
// fn rolls everything back.
func (s *Store) WithSession(ctx context.Context, sessionID string, fn func(*models.AdaptiveSessionState) error) (*models.AdaptiveSessionState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session update: %w", err)
	}
	defer tx.Rollback()

	state, err := scanSession(tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM adaptive_sessions WHERE id = $1 FOR UPDATE`, sessionCols),
		sessionID,
	))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}

	state.Responses, err = s.loadResponses(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	existing := len(state.Responses)

	if err := fn(state); err != nil {
		return nil, err
	}

	for i := existing; i < len(state.Responses); i++ {
		r := &state.Responses[i]
		err := tx.QueryRowContext(ctx,
			`INSERT INTO session_responses
			     (session_id, user_id, question_id, score, confidence,
			      difficulty_at_time, assessment_type, elapsed_ms, idempotency_key, responded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id`,
			r.SessionID, r.UserID, r.QuestionID, r.Score, r.Confidence,
			r.DifficultyAtTime, r.AssessmentType, r.ElapsedMs, r.IdempotencyKey, r.RespondedAt,
		).Scan(&r.ID)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return nil, ErrDuplicateSubmission
			}
			return nil, fmt.Errorf("insert response: %w", err)
		}
	}

	if err := s.updateSessionRow(ctx, tx, state); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session update: %w", err)
	}
	return state, nil
}

func (s *Store) RecentPerformance(ctx context.Context, userID int64, limit int) ([]float64, float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT score, confidence FROM session_responses
		 WHERE user_id = $1 ORDER BY responded_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("load recent performance: %w", err)
	}
	defer rows.Close()

	var scores []float64
	totalErr := 0.0
	for rows.Next() {
		var score float64
		var confidence int
		if err := rows.Scan(&score, &confidence); err != nil {
			return nil, 0, fmt.Errorf("scan recent response: %w", err)
		}
		scores = append(scores, score)
		diff := float64(confidence)*20.0 - score*100.0
		if diff < 0 {
			diff = -diff
		}
		totalErr += diff
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Newest-first from the query; callers expect oldest-first.
	for i, j := 0, len(scores)-1; i < j; i, j = i+1, j-1 {
		scores[i], scores[j] = scores[j], scores[i]
	}

	avgErr := 0.0
	if len(scores) > 0 {
		avgErr = totalErr / float64(len(scores))
	}
	return scores, avgErr, nil
}

func (s *Store) ObjectiveResponses(ctx context.Context, userID int64, objectiveID, excludeSessionID string) ([]models.ResponseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.session_id, r.user_id, r.question_id, r.score, r.confidence,
		        r.difficulty_at_time, r.assessment_type, r.elapsed_ms, r.idempotency_key, r.responded_at
		 FROM session_responses r
		 JOIN questions q ON q.id = r.question_id
		 WHERE r.user_id = $1 AND q.objective_id = $2 AND ($3 = '' OR r.session_id <> $3)
		 ORDER BY r.responded_at ASC, r.id ASC`,
		userID, objectiveID, excludeSessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load objective responses: %w", err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

// sweepEligible is the Go statement of the AbandonStale predicate; the SQL
// below must match it. A session with closed_at set has already finished,
// even when a summary read has not yet finalized its status to closed, and
// the sweeper never rewrites it.
func sweepEligible(state *models.AdaptiveSessionState, idleFor time.Duration, now time.Time) bool {
	if state.ClosedAt != nil {
		return false
	}
	if state.Status != models.SessionActive && state.Status != models.SessionStrategicEnd {
		return false
	}
	return now.Sub(state.LastActivityAt) > idleFor
}

func (s *Store) AbandonStale(ctx context.Context, idleFor time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE adaptive_sessions
		 SET status = $1, end_reason = 'inactivity timeout', pending_question_id = NULL,
		     closed_at = NOW(),
		     decision_log = array_append(decision_log, 'end: abandoned (inactivity timeout)')
		 WHERE status IN ($2, $3)
		   AND closed_at IS NULL
		   AND last_activity_at < NOW() - ($4 * INTERVAL '1 second')`,
		models.SessionAbandoned, models.SessionActive, models.SessionStrategicEnd,
		int64(idleFor.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("abandon stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// ── scanning helpers ──────────────────────────────────────

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanSession(row *sql.Row) (*models.AdaptiveSessionState, error) {
	var state models.AdaptiveSessionState
	err := row.Scan(&state.SessionID, &state.UserID, pq.Array(&state.ObjectiveIDs),
		&state.CurrentDifficulty, &state.AdjustmentCount, &state.QuestionsAsked,
		&state.Status, &state.EndReason, &state.PendingQuestionID,
		pq.Array(&state.Decisions), &state.StartedAt, &state.LastActivityAt, &state.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) loadResponses(ctx context.Context, q execer, sessionID string) ([]models.ResponseRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, session_id, user_id, question_id, score, confidence,
		        difficulty_at_time, assessment_type, elapsed_ms, idempotency_key, responded_at
		 FROM session_responses WHERE session_id = $1
		 ORDER BY responded_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load session responses: %w", err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

func scanResponses(rows *sql.Rows) ([]models.ResponseRecord, error) {
	var records []models.ResponseRecord
	for rows.Next() {
		var r models.ResponseRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.QuestionID, &r.Score,
			&r.Confidence, &r.DifficultyAtTime, &r.AssessmentType,
			&r.ElapsedMs, &r.IdempotencyKey, &r.RespondedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) updateSessionRow(ctx context.Context, q execer, state *models.AdaptiveSessionState) error {
	_, err := q.ExecContext(ctx,
		`UPDATE adaptive_sessions
		 SET current_difficulty = $1, adjustment_count = $2, questions_asked = $3,
		     status = $4, end_reason = $5, pending_question_id = $6,
		     decision_log = $7, last_activity_at = $8, closed_at = $9
		 WHERE id = $10`,
		state.CurrentDifficulty, state.AdjustmentCount, state.QuestionsAsked,
		state.Status, state.EndReason, state.PendingQuestionID,
		pq.Array(state.Decisions), state.LastActivityAt, state.ClosedAt,
		state.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}
