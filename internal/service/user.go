package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

// UserService exposes profiles and records presence for the websocket hub.
type UserService struct {
	users storage.Users
	chats storage.Chats

	// provisioned caches ids known to exist so Provision stays off the DB.
	provisioned sync.Map
}

func NewUserService(users storage.Users, chats storage.Chats) *UserService {
	return &UserService{users: users, chats: chats}
}

func (s *UserService) Me(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, wrap("user.Me", err)
	}
	return u, nil
}

// UpdateMe applies the supplied fields. A taken username yields ErrConflict.
func (s *UserService) UpdateMe(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.User, error) {
	if upd.Username != nil {
		name := strings.ToLower(strings.TrimSpace(*upd.Username))
		if name == "" {
			return nil, fmt.Errorf("user.UpdateMe: empty username: %w", ErrInvalidTarget)
		}
		upd.Username = &name
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		upd.Name = &name
	}
	if upd.Empty() {
		return s.Me(ctx, userID)
	}
	u, err := s.users.UpdateProfile(ctx, userID, upd)
	if err != nil {
		return nil, wrap("user.UpdateMe", err)
	}
	return u, nil
}

func (s *UserService) UserByUsername(ctx context.Context, username string) (*model.Profile, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, wrap("user.UserByUsername", err)
	}
	p := u.ToProfile()
	return &p, nil
}

// Provision creates the directory entry for an authenticated subject on first
// sight. Identity is issued elsewhere; this only mirrors it.
func (s *UserService) Provision(ctx context.Context, id, username, name string) error {
	if _, ok := s.provisioned.Load(id); ok {
		return nil
	}
	ok, err := s.users.Exists(ctx, id)
	if err != nil {
		return wrap("user.Provision", err)
	}
	if !ok {
		if username == "" {
			username = id
		}
		err := s.create(ctx, id, username, name)
		if errors.Is(err, storage.ErrConflict) {
			// Either a concurrent request created id, or the username is taken.
			if ok, _ = s.users.Exists(ctx, id); !ok {
				err = s.create(ctx, id, id, name)
			} else {
				err = nil
			}
		}
		if err != nil {
			return wrap("user.Provision", err)
		}
	}
	s.provisioned.Store(id, struct{}{})
	return nil
}

func (s *UserService) create(ctx context.Context, id, username, name string) error {
	return s.users.Create(ctx, &model.User{
		ID:           id,
		Username:     strings.ToLower(username),
		Name:         name,
		ShowLastSeen: true,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	})
}

// SetPresence records the online transition and returns the public profile
// plus the peers that should hear about it.
func (s *UserService) SetPresence(ctx context.Context, userID string, online bool) (model.Profile, []string, error) {
	if err := s.users.SetOnline(ctx, userID, online, time.Now().UTC().Truncate(time.Microsecond)); err != nil {
		return model.Profile{}, nil, wrap("user.SetPresence", err)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.Profile{}, nil, wrap("user.SetPresence", err)
	}
	peers, err := s.chats.PeerIDs(ctx, userID)
	if err != nil {
		return model.Profile{}, nil, wrap("user.SetPresence peers", err)
	}
	return u.ToProfile(), peers, nil
}
