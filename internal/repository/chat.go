package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

const chatCols = `id, user_low, user_high, last_message_preview, last_message_at, created_at, updated_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.LastMessagePreview, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
}

// FindOrCreateDirect inserts the canonical pair and falls back to the existing
// row when another caller won the UNIQUE (user_low, user_high) race.
func (r *ChatRepository) FindOrCreateDirect(ctx context.Context, a, b string, now time.Time) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("chat.FindOrCreateDirect", time.Now())()
	pair := model.PairOf(a, b)
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, user_low, user_high, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_low, user_high) DO NOTHING
		 RETURNING `+chatCols,
		uuid.NewString(), pair[0], pair[1], now,
	)
	err := scanChat(row, c)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("chatRepo.FindOrCreateDirect insert: %w", err)
	}
	c, err = r.FindDirect(ctx, a, b)
	if err != nil {
		return nil, false, fmt.Errorf("chatRepo.FindOrCreateDirect select: %w", err)
	}
	return c, false, nil
}

func (r *ChatRepository) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("chat.FindDirect", time.Now())()
	pair := model.PairOf(a, b)
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM conversations WHERE user_low = $1 AND user_high = $2`, pair[0], pair[1])
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.FindDirect: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM conversations WHERE id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListForParticipant returns the caller's conversation list with the peer
// profile, the caller's meta and the unread count in one query.
func (r *ChatRepository) ListForParticipant(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("chat.ListForParticipant", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.last_message_preview, c.last_message_at,
		        COALESCE(cm.pinned, false), COALESCE(cm.muted, false), COALESCE(cm.archived, false), cm.last_read_at,
		        (SELECT COUNT(*) FROM messages m
		          WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND NOT m.is_deleted
		            AND NOT $1 = ANY(m.read_by) AND NOT $1 = ANY(m.deleted_for)),
		        `+prefixed("u.", userCols)+`
		 FROM conversations c
		 JOIN users u ON u.id = CASE WHEN c.user_low = $1 THEN c.user_high ELSE c.user_low END
		 LEFT JOIN conversation_meta cm ON cm.conversation_id = c.id AND cm.user_id = $1
		 WHERE c.user_low = $1 OR c.user_high = $1
		 ORDER BY COALESCE(cm.pinned, false) DESC, c.last_message_at DESC NULLS LAST, c.id DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForParticipant query: %w", err)
	}
	defer rows.Close()

	out := make([]model.ConversationSummary, 0, 16)
	for rows.Next() {
		var s model.ConversationSummary
		var peer model.User
		if err := rows.Scan(&s.ID, &s.LastMessagePreview, &s.LastMessageAt,
			&s.Pinned, &s.Muted, &s.Archived, &s.LastReadAt, &s.UnreadCount,
			&peer.ID, &peer.Username, &peer.Name, &peer.AvatarURL, &peer.IsOnline, &peer.LastSeenAt,
			&peer.ShowLastSeen, &peer.StatusText, &peer.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForParticipant scan: %w", err)
		}
		if s.LastMessagePreview == "" {
			s.LastMessagePreview = model.PreviewPlaceholder
		}
		s.Peer = peer.ToProfile()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForParticipant rows: %w", err)
	}
	return out, nil
}

func (r *ChatRepository) PeerIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.PeerIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT CASE WHEN user_low = $1 THEN user_high ELSE user_low END
		 FROM conversations WHERE user_low = $1 OR user_high = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.PeerIDs query: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.PeerIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.PeerIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ChatRepository) GetMeta(ctx context.Context, chatID, userID string) (*model.ConversationMeta, error) {
	defer logger.DeferLogDuration("chat.GetMeta", time.Now())()
	m := &model.ConversationMeta{ConversationID: chatID, UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT pinned, muted, archived, last_read_at FROM conversation_meta
		 WHERE conversation_id = $1 AND user_id = $2`, chatID, userID,
	).Scan(&m.Pinned, &m.Muted, &m.Archived, &m.LastReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetMeta: %w", err)
	}
	return m, nil
}

// SetMeta upserts the row; NULL parameters keep the stored value.
func (r *ChatRepository) SetMeta(ctx context.Context, chatID, userID string, upd model.MetaUpdate) (*model.ConversationMeta, error) {
	defer logger.DeferLogDuration("chat.SetMeta", time.Now())()
	m := &model.ConversationMeta{ConversationID: chatID, UserID: userID}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO conversation_meta (conversation_id, user_id, pinned, muted, archived, last_read_at)
		 VALUES ($1, $2, COALESCE($3, false), COALESCE($4, false), COALESCE($5, false), $6)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET
		   pinned       = COALESCE($3, conversation_meta.pinned),
		   muted        = COALESCE($4, conversation_meta.muted),
		   archived     = COALESCE($5, conversation_meta.archived),
		   last_read_at = COALESCE($6, conversation_meta.last_read_at)
		 RETURNING pinned, muted, archived, last_read_at`,
		chatID, userID, upd.Pinned, upd.Muted, upd.Archived, upd.LastReadAt,
	).Scan(&m.Pinned, &m.Muted, &m.Archived, &m.LastReadAt)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.SetMeta: %w", err)
	}
	return m, nil
}

func (r *ChatRepository) TouchPreview(ctx context.Context, chatID, preview string, at time.Time) error {
	defer logger.DeferLogDuration("chat.TouchPreview", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET last_message_preview = $1, last_message_at = $2, updated_at = $2 WHERE id = $3`,
		preview, at, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.TouchPreview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
