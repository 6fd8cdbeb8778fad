package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetResumeSnapshot loads the resume view sent to the worker process.
// Returns (nil, nil) when the resume does not exist.
func (db *DB) GetResumeSnapshot(ctx context.Context, resumeID uuid.UUID) (*ResumeSnapshot, error) {
	var snapshot ResumeSnapshot
	var contentJSON []byte

	err := db.pool.QueryRow(ctx,
		`SELECT id, title, content FROM resumes WHERE id = $1`, resumeID,
	).Scan(&snapshot.ID, &snapshot.Title, &contentJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resume: %w", err)
	}

	if len(contentJSON) > 0 {
		_ = json.Unmarshal(contentJSON, &snapshot.Content)
	}
	return &snapshot, nil
}

// GetCoverLetterSnapshot loads the cover-letter view sent to the worker
// process. Returns (nil, nil) when the cover letter does not exist.
func (db *DB) GetCoverLetterSnapshot(ctx context.Context, coverLetterID uuid.UUID) (*CoverLetterSnapshot, error) {
	var snapshot CoverLetterSnapshot
	var contentJSON []byte
	var template *string

	err := db.pool.QueryRow(ctx,
		`SELECT id, company, position, content, template FROM cover_letters WHERE id = $1`,
		coverLetterID,
	).Scan(&snapshot.ID, &snapshot.Company, &snapshot.Position, &contentJSON, &template)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cover letter: %w", err)
	}

	if len(contentJSON) > 0 {
		_ = json.Unmarshal(contentJSON, &snapshot.Content)
	}
	if template != nil && *template != "" {
		snapshot.Template = *template
	} else {
		snapshot.Template = "professional"
	}
	return &snapshot, nil
}

// AwardApplicationXP adds experience points to a user's stats row after a
// successful job application run. Best-effort reward signal; the caller
// swallows errors.
func (db *DB) AwardApplicationXP(ctx context.Context, userID uuid.UUID, points int) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO user_stats (user_id, xp, applications_submitted)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (user_id) DO UPDATE
		 SET xp = user_stats.xp + $2,
		     applications_submitted = user_stats.applications_submitted + 1,
		     updated_at = NOW()`,
		userID, points,
	)
	if err != nil {
		return fmt.Errorf("failed to award application XP: %w", err)
	}
	return nil
}
