// Package memory is an in-process implementation of the storage contracts,
// used by the -memory run mode and by service tests.
package memory

import (
	"sync"

	"github.com/dmchat/internal/model"
)

type metaKey struct {
	chatID string
	userID string
}

type Store struct {
	mu sync.RWMutex

	users      map[string]*model.User
	byUsername map[string]string

	chats map[string]*model.Conversation
	pairs map[[2]string]string
	meta  map[metaKey]*model.ConversationMeta

	messages map[string]*model.Message
	byChat   map[string][]string

	subs map[string]map[string]model.PushSubscription
}

func New() *Store {
	return &Store{
		users:      make(map[string]*model.User),
		byUsername: make(map[string]string),
		chats:      make(map[string]*model.Conversation),
		pairs:      make(map[[2]string]string),
		meta:       make(map[metaKey]*model.ConversationMeta),
		messages:   make(map[string]*model.Message),
		byChat:     make(map[string][]string),
		subs:       make(map[string]map[string]model.PushSubscription),
	}
}

func (s *Store) Close() error { return nil }

// Users, Chats and Messages are views over the same Store so that
// cross-entity reads (unread counts, search scope) see one consistent state.
type (
	Users    struct{ *Store }
	Chats    struct{ *Store }
	Messages struct{ *Store }
)

func (s *Store) Users() *Users       { return &Users{s} }
func (s *Store) Chats() *Chats       { return &Chats{s} }
func (s *Store) Messages() *Messages { return &Messages{s} }

func contains(set []string, v string) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
