package bank

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/masterypath/backend/internal/models"
)

// Store is the Postgres-backed PoolStore.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const questionCols = `id, objective_id, text, expected_criteria, difficulty, complexity_tier,
	        assessment_type, discrimination_index, usage_count, flagged, follow_up_of, created_at`

func scanQuestion(row interface{ Scan(...any) error }) (*models.Question, error) {
	var q models.Question
	err := row.Scan(&q.ID, &q.ObjectiveID, &q.Text, pq.Array(&q.ExpectedCriteria),
		&q.Difficulty, &q.ComplexityTier, &q.AssessmentType,
		&q.DiscriminationIndex, &q.UsageCount, &q.Flagged, &q.FollowUpOf, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// SelectCandidate picks the least-used unflagged question in the difficulty
// window, skipping anything served to this user within the cooldown. The
// usage bump and serve record commit atomically with the pick so concurrent
// sessions never double-count.
func (s *Store) SelectCandidate(ctx context.Context, objectiveID string, tier models.ComplexityTier, minDiff, maxDiff int, userID int64) (*models.Question, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin select: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM questions q
		 WHERE q.objective_id = $1
		   AND q.complexity_tier = $2
		   AND q.difficulty BETWEEN $3 AND $4
		   AND q.flagged = FALSE
		   AND NOT EXISTS (
		       SELECT 1 FROM question_usage u
		       WHERE u.question_id = q.id
		         AND u.user_id = $5
		         AND u.last_used_at > NOW() - ($6 * INTERVAL '1 day')
		   )
		 ORDER BY q.usage_count ASC, q.id ASC
		 LIMIT 1
		 FOR UPDATE OF q SKIP LOCKED`, questionCols),
		objectiveID, tier, minDiff, maxDiff, userID, CooldownDays,
	)

	q, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select candidate: %w", err)
	}

	if err := markSelectedTx(ctx, tx, q.ID, userID); err != nil {
		return nil, err
	}
	q.UsageCount++

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit select: %w", err)
	}
	return q, nil
}

func (s *Store) InsertGenerated(ctx context.Context, q models.Question) (*models.Question, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO questions
		     (objective_id, text, expected_criteria, difficulty, complexity_tier, assessment_type, follow_up_of)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING %s`, questionCols),
		q.ObjectiveID, q.Text, pq.Array(q.ExpectedCriteria),
		q.Difficulty, q.ComplexityTier, q.AssessmentType, q.FollowUpOf,
	)
	saved, err := scanQuestion(row)
	if err != nil {
		return nil, fmt.Errorf("insert generated question: %w", err)
	}
	return saved, nil
}

func (s *Store) MarkSelected(ctx context.Context, questionID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark selected: %w", err)
	}
	defer tx.Rollback()

	if err := markSelectedTx(ctx, tx, questionID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func markSelectedTx(ctx context.Context, tx *sql.Tx, questionID, userID int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE questions SET usage_count = usage_count + 1 WHERE id = $1`,
		questionID,
	); err != nil {
		return fmt.Errorf("bump usage count: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO question_usage (question_id, user_id, last_used_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (question_id, user_id) DO UPDATE SET last_used_at = NOW()`,
		questionID, userID,
	); err != nil {
		return fmt.Errorf("record serve: %w", err)
	}
	return nil
}

func (s *Store) AppendOutcome(ctx context.Context, o models.QuestionOutcome) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`WITH inserted AS (
		     INSERT INTO question_outcomes (question_id, user_id, correct, ability_rank)
		     VALUES ($1, $2, $3, $4)
		 )
		 SELECT COUNT(*) + 1 FROM question_outcomes WHERE question_id = $1`,
		o.QuestionID, o.UserID, o.Correct, o.AbilityRank,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("append outcome: %w", err)
	}
	return count, nil
}

func (s *Store) Outcomes(ctx context.Context, questionID int64) ([]models.QuestionOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, user_id, correct, ability_rank, answered_at
		 FROM question_outcomes WHERE question_id = $1 ORDER BY answered_at ASC`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.QuestionOutcome
	for rows.Next() {
		var o models.QuestionOutcome
		if err := rows.Scan(&o.QuestionID, &o.UserID, &o.Correct, &o.AbilityRank, &o.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func (s *Store) SetDiscrimination(ctx context.Context, questionID int64, index float64, flagged bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE questions SET discrimination_index = $1, flagged = $2 WHERE id = $3`,
		index, flagged, questionID,
	)
	if err != nil {
		return fmt.Errorf("set discrimination: %w", err)
	}
	return nil
}

func (s *Store) FlaggedQuestions(ctx context.Context, limit, offset int) ([]models.Question, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE flagged = TRUE`,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count flagged: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM questions
		 WHERE flagged = TRUE
		 ORDER BY discrimination_index ASC NULLS LAST, id ASC
		 LIMIT $1 OFFSET $2`, questionCols),
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list flagged: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan flagged question: %w", err)
		}
		questions = append(questions, *q)
	}
	return questions, total, rows.Err()
}

func (s *Store) GetQuestion(ctx context.Context, questionID int64) (*models.Question, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM questions WHERE id = $1`, questionCols),
		questionID,
	)
	q, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}
