package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

const threadColumns = `id, user_id, consultant_id, last_message_at, created_at`

// ThreadRepository abstracts thread persistence.
type ThreadRepository interface {
	ListThreadsForUser(ctx context.Context, userID string) ([]models.Thread, error)
	ListThreadIDsForUser(ctx context.Context, userID string) ([]string, error)
	FindThreadBetween(ctx context.Context, userA string, userB string) (models.Thread, error)
	CreateThread(ctx context.Context, primaryID string, counterpartyID string) (models.Thread, error)
	GetThread(ctx context.Context, threadID string) (models.Thread, error)
	TouchThread(ctx context.Context, threadID string, at time.Time) error
}

// ThreadRepo is a sqlx implementation of ThreadRepository.
type ThreadRepo struct {
	db *sqlx.DB
}

// NewThreadRepo constructs a ThreadRepo.
func NewThreadRepo(db *sqlx.DB) *ThreadRepo {
	return &ThreadRepo{db: db}
}

// ListThreadsForUser returns the user's threads, most recent activity first.
func (r *ThreadRepo) ListThreadsForUser(ctx context.Context, userID string) ([]models.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads
        WHERE user_id=$1 OR consultant_id=$1
        ORDER BY last_message_at DESC, created_at DESC`
	threads := []models.Thread{}
	if err := r.db.SelectContext(ctx, &threads, query, userID); err != nil {
		return nil, classify(err)
	}
	return threads, nil
}

// ListThreadIDsForUser returns only the ids of the user's threads.
func (r *ThreadRepo) ListThreadIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM threads WHERE user_id=$1 OR consultant_id=$1`, userID); err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

// FindThreadBetween looks up a thread holding both ids in either slot.
// The oldest match wins when duplicates exist.
func (r *ThreadRepo) FindThreadBetween(ctx context.Context, userA string, userB string) (models.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads
        WHERE (user_id=$1 AND consultant_id=$2) OR (user_id=$2 AND consultant_id=$1)
        ORDER BY created_at ASC
        LIMIT 1`
	var thread models.Thread
	err := r.db.GetContext(ctx, &thread, query, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return models.Thread{}, classify(err)
	}
	return thread, nil
}

// CreateThread inserts a thread. No uniqueness is enforced on the pair.
func (r *ThreadRepo) CreateThread(ctx context.Context, primaryID string, counterpartyID string) (models.Thread, error) {
	var thread models.Thread
	err := r.db.QueryRowxContext(ctx, `INSERT INTO threads (id, user_id, consultant_id) VALUES ($1, $2, $3) RETURNING `+threadColumns,
		uuid.NewString(), primaryID, counterpartyID).StructScan(&thread)
	if err != nil {
		return models.Thread{}, classify(err)
	}
	return thread, nil
}

// GetThread fetches a thread by id.
func (r *ThreadRepo) GetThread(ctx context.Context, threadID string) (models.Thread, error) {
	var thread models.Thread
	err := r.db.GetContext(ctx, &thread, `SELECT `+threadColumns+` FROM threads WHERE id=$1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return models.Thread{}, classify(err)
	}
	return thread, nil
}

// TouchThread moves the thread's last activity to at.
func (r *ThreadRepo) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE threads SET last_message_at=$2 WHERE id=$1`, threadID, at)
	if err != nil {
		return classify(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if count == 0 {
		return ErrThreadNotFound
	}
	return nil
}
