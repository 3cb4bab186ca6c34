package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"support-chat/internal/models"
)

const messageColumns = `id, thread_id, sender_id, content, attachment_url, attachment_mime_type, attachment_name, attachment_size, is_read, created_at`

// MessageRepository defines interactions for thread messages.
type MessageRepository interface {
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	LatestMessages(ctx context.Context, threadIDs []string) (map[string]models.Message, error)
	MarkThreadRead(ctx context.Context, threadID string, readerID string) (int64, error)
	CountUnread(ctx context.Context, threadIDs []string, userID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ListMessages returns every message of the thread, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE thread_id=$1
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, threadID); err != nil {
		return nil, classify(err)
	}
	return msgs, nil
}

// CreateMessage stores a message, with its optional attachment.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	var (
		url, mime, name *string
		size            *int64
	)
	if a := msg.Attachment; a != nil {
		url, mime, name, size = &a.URL, &a.MimeType, &a.Name, &a.Size
	}

	var created models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, thread_id, sender_id, content, attachment_url, attachment_mime_type, attachment_name, attachment_size)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+messageColumns,
		uuid.NewString(), msg.ThreadID, msg.SenderID, msg.Content, url, mime, name, size).StructScan(&created)
	if err != nil {
		return models.Message{}, classify(err)
	}
	return created, nil
}

// LatestMessages returns the newest message of each given thread. Threads
// without messages are absent from the result.
func (r *MessageRepo) LatestMessages(ctx context.Context, threadIDs []string) (map[string]models.Message, error) {
	latest := make(map[string]models.Message, len(threadIDs))
	if len(threadIDs) == 0 {
		return latest, nil
	}
	query := `SELECT DISTINCT ON (thread_id) ` + messageColumns + ` FROM messages
        WHERE thread_id = ANY($1)
        ORDER BY thread_id, created_at DESC, id DESC`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, pq.Array(threadIDs)); err != nil {
		return nil, classify(err)
	}
	for _, m := range msgs {
		latest[m.ThreadID] = m
	}
	return latest, nil
}

// MarkThreadRead flags every message in the thread not written by readerID
// as read. Repeating it changes nothing.
func (r *MessageRepo) MarkThreadRead(ctx context.Context, threadID string, readerID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE
        WHERE thread_id=$1 AND sender_id<>$2 AND is_read = FALSE`, threadID, readerID)
	if err != nil {
		return 0, classify(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// CountUnread counts unread messages in the threads not written by userID.
func (r *MessageRepo) CountUnread(ctx context.Context, threadIDs []string, userID string) (int, error) {
	if len(threadIDs) == 0 {
		return 0, nil
	}
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE thread_id = ANY($1) AND sender_id<>$2 AND is_read = FALSE`, pq.Array(threadIDs), userID)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}
