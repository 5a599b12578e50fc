package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexus-ai/nexus/pkg/models"
)

// SaveReview upserts a review row.
func (db *DB) SaveReview(r *models.Review) error {
	var resolved any
	if r.ResolvedAt != nil {
		resolved = epoch(*r.ResolvedAt)
	}
	_, err := db.Exec(`
		INSERT INTO reviews (id, task_id, project_id, reason, context, status, resolution, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolution = excluded.resolution,
			resolved_at = excluded.resolved_at
	`, r.ID, r.TaskID, r.ProjectID, string(r.Reason), r.Context, string(r.Status), r.Resolution,
		epoch(r.CreatedAt), resolved)
	if err != nil {
		return fmt.Errorf("save review %s: %w", r.ID, err)
	}
	return nil
}

// GetReview loads one review.
func (db *DB) GetReview(id string) (*models.Review, error) {
	row := db.QueryRow(reviewSelect+" WHERE id = ?", id)
	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return review, err
}

// PendingReviews returns all unresolved reviews, oldest first.
func (db *DB) PendingReviews() ([]*models.Review, error) {
	rows, err := db.Query(reviewSelect + " WHERE status = 'pending' ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("pending reviews: %w", err)
	}
	defer rows.Close()

	var out []*models.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, review)
	}
	return out, rows.Err()
}

const reviewSelect = `
	SELECT id, task_id, project_id, reason, context, status, resolution, created_at, resolved_at
	FROM reviews`

func scanReview(row rowScanner) (*models.Review, error) {
	var r models.Review
	var reason, status string
	var reviewContext, resolution sql.NullString
	var created int64
	var resolved sql.NullInt64

	if err := row.Scan(&r.ID, &r.TaskID, &r.ProjectID, &reason, &reviewContext, &status,
		&resolution, &created, &resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	r.Reason = models.ReviewReason(reason)
	r.Context = reviewContext.String
	r.Status = models.ReviewStatus(status)
	r.Resolution = resolution.String
	r.CreatedAt = fromEpoch(created)
	r.ResolvedAt = fromNullEpoch(resolved)
	return &r, nil
}
