package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/storage"
)

// ToggleReaction removes the (user, emoji) pair when present and inserts it
// otherwise. The message row is locked first, so toggles on one message are
// serialized with each other and with SoftDelete. Deleted messages are
// rejected with ErrConflict.
func (r *MessageRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Toggle", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.Toggle begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var deleted bool
	err = tx.QueryRow(ctx, `SELECT is_deleted FROM messages WHERE id = $1 FOR UPDATE`, messageID).Scan(&deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("reactionRepo.Toggle lock: %w", err)
	}
	if deleted {
		return false, storage.ErrConflict
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.Toggle delete: %w", err)
	}
	added := tag.RowsAffected() == 0
	if added {
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)`,
			messageID, userID, emoji,
		); err != nil {
			return false, fmt.Errorf("reactionRepo.Toggle insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("reactionRepo.Toggle commit: %w", err)
	}
	return added, nil
}
