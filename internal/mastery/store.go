package mastery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/masterypath/backend/internal/models"
)

// Store is the Postgres-backed SnapshotStore.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetSnapshot(ctx context.Context, userID int64, objectiveID string) (*models.MasterySnapshot, error) {
	var snap models.MasterySnapshot
	var criteria []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, objective_id, status, progress, criteria, verified_at, checked_at
		 FROM mastery_snapshots WHERE user_id = $1 AND objective_id = $2`,
		userID, objectiveID,
	).Scan(&snap.UserID, &snap.ObjectiveID, &snap.Status, &snap.Progress,
		&criteria, &snap.VerifiedAt, &snap.CheckedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mastery snapshot: %w", err)
	}

	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &snap.Criteria); err != nil {
			return nil, fmt.Errorf("decode mastery criteria: %w", err)
		}
	}
	return &snap, nil
}

func (s *Store) SaveVerified(ctx context.Context, snap models.MasterySnapshot) error {
	criteria, err := json.Marshal(snap.Criteria)
	if err != nil {
		return fmt.Errorf("encode mastery criteria: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mastery_snapshots (user_id, objective_id, status, progress, criteria, verified_at, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, objective_id) DO UPDATE
		 SET status = EXCLUDED.status, progress = EXCLUDED.progress,
		     criteria = EXCLUDED.criteria, verified_at = EXCLUDED.verified_at,
		     checked_at = EXCLUDED.checked_at
		 WHERE mastery_snapshots.status <> $3`,
		snap.UserID, snap.ObjectiveID, snap.Status, snap.Progress,
		criteria, snap.VerifiedAt, snap.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("save verified mastery: %w", err)
	}
	return nil
}
