package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func Connect() (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "masterypath_user")
	password := getEnv("DB_PASSWORD", "masterypath_password")
	dbname := getEnv("DB_NAME", "masterypath")
	sslmode := getEnv("DB_SSLMODE", "disable")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

func Migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		name VARCHAR(255) NOT NULL,
		password VARCHAR(255) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE TABLE IF NOT EXISTS questions (
		id                   BIGSERIAL PRIMARY KEY,
		objective_id         VARCHAR(100) NOT NULL,
		text                 TEXT NOT NULL,
		expected_criteria    TEXT[] NOT NULL DEFAULT '{}',
		difficulty           INT NOT NULL CHECK (difficulty >= 0 AND difficulty <= 100),
		complexity_tier      VARCHAR(20) NOT NULL,
		assessment_type      VARCHAR(20) NOT NULL,
		discrimination_index REAL,
		usage_count          INT NOT NULL DEFAULT 0,
		flagged              BOOLEAN NOT NULL DEFAULT FALSE,
		follow_up_of         BIGINT REFERENCES questions(id),
		created_at           TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_questions_selection ON questions(objective_id, complexity_tier, difficulty, usage_count);
	CREATE INDEX IF NOT EXISTS idx_questions_flagged ON questions(flagged) WHERE flagged = TRUE;

	CREATE TABLE IF NOT EXISTS question_usage (
		question_id  BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		last_used_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE(question_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_user ON question_usage(user_id, last_used_at);

	CREATE TABLE IF NOT EXISTS question_outcomes (
		id           BIGSERIAL PRIMARY KEY,
		question_id  BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		correct      BOOLEAN NOT NULL,
		ability_rank REAL NOT NULL DEFAULT 0.5,
		answered_at  TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_question ON question_outcomes(question_id, answered_at);

	CREATE TABLE IF NOT EXISTS adaptive_sessions (
		id                  UUID PRIMARY KEY,
		user_id             BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		objective_ids       TEXT[] NOT NULL,
		current_difficulty  INT NOT NULL CHECK (current_difficulty >= 0 AND current_difficulty <= 100),
		adjustment_count    INT NOT NULL DEFAULT 0 CHECK (adjustment_count >= 0 AND adjustment_count <= 3),
		questions_asked     INT NOT NULL DEFAULT 0,
		status              VARCHAR(20) NOT NULL DEFAULT 'active',
		end_reason          TEXT NOT NULL DEFAULT '',
		pending_question_id BIGINT REFERENCES questions(id),
		decision_log        TEXT[] NOT NULL DEFAULT '{}',
		started_at          TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		last_activity_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		closed_at           TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON adaptive_sessions(user_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_sweeper ON adaptive_sessions(status, last_activity_at);

	CREATE TABLE IF NOT EXISTS session_responses (
		id                 BIGSERIAL PRIMARY KEY,
		session_id         UUID NOT NULL REFERENCES adaptive_sessions(id) ON DELETE CASCADE,
		user_id            BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		question_id        BIGINT NOT NULL REFERENCES questions(id),
		score              REAL NOT NULL CHECK (score >= 0 AND score <= 1),
		confidence         INT NOT NULL CHECK (confidence >= 1 AND confidence <= 5),
		difficulty_at_time INT NOT NULL,
		assessment_type    VARCHAR(20) NOT NULL,
		elapsed_ms         BIGINT NOT NULL DEFAULT 0,
		idempotency_key    VARCHAR(100) NOT NULL,
		responded_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE(session_id, idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_responses_session ON session_responses(session_id, responded_at);
	CREATE INDEX IF NOT EXISTS idx_responses_user ON session_responses(user_id, responded_at DESC);

	CREATE TABLE IF NOT EXISTS mastery_snapshots (
		id           BIGSERIAL PRIMARY KEY,
		user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		objective_id VARCHAR(100) NOT NULL,
		status       VARCHAR(20) NOT NULL,
		progress     REAL NOT NULL DEFAULT 0,
		criteria     JSONB,
		verified_at  TIMESTAMP WITH TIME ZONE,
		checked_at   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE(user_id, objective_id)
	);

	CREATE INDEX IF NOT EXISTS idx_mastery_user ON mastery_snapshots(user_id);
	`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Idempotent for databases created before these columns existed
	alterStatements := []string{
		`ALTER TABLE questions ADD COLUMN IF NOT EXISTS follow_up_of BIGINT REFERENCES questions(id)`,
		`ALTER TABLE adaptive_sessions ADD COLUMN IF NOT EXISTS decision_log TEXT[] NOT NULL DEFAULT '{}'`,
		`ALTER TABLE session_responses ADD COLUMN IF NOT EXISTS elapsed_ms BIGINT NOT NULL DEFAULT 0`,
	}
	for _, stmt := range alterStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("alter table failed: %w", err)
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
