// Package storage declares the persistence contracts shared by the Postgres
// repositories and the in-memory stores used for -memory mode and tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dmchat/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write did not apply
	// (unique username taken, message already deleted).
	ErrConflict = errors.New("conflict")
)

// Users is the identity directory. Presence is written only by the websocket hub.
type Users interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Exists(ctx context.Context, id string) (bool, error)
	Profiles(ctx context.Context, ids []string) (map[string]model.Profile, error)
	UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error)
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
}

// Chats is the conversation registry.
type Chats interface {
	// FindOrCreateDirect returns the single conversation for the unordered
	// pair {a, b}, creating it when absent. created is false for the loser of a race.
	FindOrCreateDirect(ctx context.Context, a, b string, now time.Time) (conv *model.Conversation, created bool, err error)
	FindDirect(ctx context.Context, a, b string) (*model.Conversation, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListForParticipant(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	PeerIDs(ctx context.Context, userID string) ([]string, error)
	GetMeta(ctx context.Context, chatID, userID string) (*model.ConversationMeta, error)
	SetMeta(ctx context.Context, chatID, userID string, upd model.MetaUpdate) (*model.ConversationMeta, error)
	TouchPreview(ctx context.Context, chatID, preview string, at time.Time) error
}

// Messages is the message ledger. Set mutations are unions/toggles applied by
// the store itself, never read-modify-write by callers.
type Messages interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// MarkDelivered and MarkRead return the number of messages that changed.
	MarkDelivered(ctx context.Context, chatID, userID string) (int64, error)
	MarkRead(ctx context.Context, chatID, userID string) (int64, error)
	// UpdateText returns ErrConflict when the message is deleted.
	UpdateText(ctx context.Context, id, text string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	HideFor(ctx context.Context, id, userID string) error
	// ToggleReaction returns ErrConflict when the message is deleted.
	ToggleReaction(ctx context.Context, id, userID, emoji string) (added bool, err error)
	List(ctx context.Context, chatID, viewerID string, after *time.Time, limit int) ([]model.Message, error)
	Latest(ctx context.Context, chatID string) (*model.Message, error)
	ListMedia(ctx context.Context, chatID string) ([]model.Message, error)
	Search(ctx context.Context, userID, query, chatID string, limit int) ([]model.Message, error)
}

// PushSubscriptions keeps Web Push endpoints per user.
type PushSubscriptions interface {
	SaveSubscription(ctx context.Context, userID string, sub model.PushSubscription) error
	Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
	Close() error
}
