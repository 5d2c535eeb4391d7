package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

// msgCols selects a message with its reactions aggregated as JSON.
const msgCols = `m.id, m.conversation_id, m.sender_id, m.kind, m.text, m.media, m.delivered_to, m.read_by,
	COALESCE((SELECT json_agg(json_build_object('user_id', mr.user_id, 'emoji', mr.emoji) ORDER BY mr.created_at)
	          FROM message_reactions mr WHERE mr.message_id = m.id), '[]'::json),
	m.reply_to, m.forwarded_from, m.edited_at, m.is_deleted, m.deleted_for, m.created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Text, &m.Media, &m.DeliveredTo, &m.ReadBy,
		&m.Reactions, &m.ReplyTo, &m.ForwardedFrom, &m.EditedAt, &m.IsDeleted, &m.DeletedFor, &m.CreatedAt)
}

func collectMessages(rows pgx.Rows, op string, capacity int) ([]model.Message, error) {
	defer rows.Close()
	msgs := make([]model.Message, 0, capacity)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return msgs, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, kind, text, media, delivered_to, read_by, reply_to, forwarded_from, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.ConversationID, m.SenderID, m.Kind, m.Text, m.Media, m.DeliveredTo, m.ReadBy, m.ReplyTo, m.ForwardedFrom, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages m WHERE m.id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// MarkDelivered adds userID to delivered_to of every message that lacks it.
func (r *MessageRepository) MarkDelivered(ctx context.Context, chatID, userID string) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkDelivered", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET delivered_to = array_append(delivered_to, $2)
		 WHERE conversation_id = $1 AND NOT $2 = ANY(delivered_to)`,
		chatID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkDelivered: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET read_by = array_append(read_by, $2)
		 WHERE conversation_id = $1 AND NOT $2 = ANY(read_by)`,
		chatID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateText only applies to live messages; ErrConflict means it was deleted.
// The outer SELECT sees the row as it was before the update.
func (r *MessageRepository) UpdateText(ctx context.Context, id, text string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateText", time.Now())()
	var wasDeleted *bool
	err := r.pool.QueryRow(ctx,
		`WITH upd AS (
		   UPDATE messages SET text = $1, edited_at = $2 WHERE id = $3 AND is_deleted = false RETURNING id
		 )
		 SELECT (SELECT is_deleted FROM messages WHERE id = $3)`,
		text, editedAt, id,
	).Scan(&wasDeleted)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateText: %w", err)
	}
	switch {
	case wasDeleted == nil:
		return storage.ErrNotFound
	case *wasDeleted:
		return storage.ErrConflict
	}
	return nil
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE messages SET is_deleted = true, text = NULL, media = NULL, edited_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM message_reactions WHERE message_id = $1`, id); err != nil {
		return fmt.Errorf("msgRepo.SoftDelete reactions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.SoftDelete commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) HideFor(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("msg.HideFor", time.Now())()
	var found bool
	err := r.pool.QueryRow(ctx,
		`WITH upd AS (
		   UPDATE messages SET deleted_for = array_append(deleted_for, $2)
		   WHERE id = $1 AND NOT $2 = ANY(deleted_for) RETURNING id
		 )
		 SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`,
		id, userID,
	).Scan(&found)
	if err != nil {
		return fmt.Errorf("msgRepo.HideFor: %w", err)
	}
	if !found {
		return storage.ErrNotFound
	}
	return nil
}

func (r *MessageRepository) List(ctx context.Context, chatID, viewerID string, after *time.Time, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+` FROM messages m
		 WHERE m.conversation_id = $1
		   AND ($2::timestamptz IS NULL OR m.created_at > $2)
		   AND NOT $3 = ANY(m.deleted_for)
		 ORDER BY m.created_at ASC, m.id ASC
		 LIMIT $4`, chatID, after, viewerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.List query: %w", err)
	}
	return collectMessages(rows, "msgRepo.List", limit)
}

func (r *MessageRepository) Latest(ctx context.Context, chatID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Latest", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgCols+` FROM messages m WHERE m.conversation_id = $1
		 ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, chatID)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.Latest: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) ListMedia(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListMedia", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+` FROM messages m
		 WHERE m.conversation_id = $1 AND m.is_deleted = false AND m.kind <> 'text'
		 ORDER BY m.created_at DESC, m.id DESC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListMedia query: %w", err)
	}
	return collectMessages(rows, "msgRepo.ListMedia", 32)
}

// likeLiteral escapes $2 so LIKE wildcards in the query match literally.
const likeLiteral = `replace(replace(replace($2, '\', '\\'), '%', '\%'), '_', '\_')`

// Search matches the full-text index or a substring, restricted to the user's conversations.
func (r *MessageRepository) Search(ctx context.Context, userID, query, chatID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Search", time.Now())()
	sql := `SELECT ` + msgCols + ` FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id AND (c.user_low = $1 OR c.user_high = $1)
		 WHERE m.is_deleted = false AND NOT $1 = ANY(m.deleted_for)
		   AND (m.search @@ plainto_tsquery('simple', $2) OR m.text ILIKE '%' || `+likeLiteral+` || '%' ESCAPE '\')`
	args := []any{userID, query}
	if chatID != "" {
		sql += ` AND m.conversation_id = $3`
		args = append(args, chatID)
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Search query: %w", err)
	}
	return collectMessages(rows, "msgRepo.Search", limit)
}
