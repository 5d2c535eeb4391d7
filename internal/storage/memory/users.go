package memory

import (
	"context"
	"strings"
	"time"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

func (s *Users) Create(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, ok := s.users[u.ID]; ok {
		return storage.ErrConflict
	}
	if _, ok := s.byUsername[key]; ok {
		return storage.ErrConflict
	}
	cp := *u
	cp.Username = key
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = &cp
	s.byUsername[key] = u.ID
	return nil
}

func (s *Users) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Users) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Users) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *Users) Profiles(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Profile, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u.ToProfile()
		}
	}
	return out, nil
}

func (s *Users) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if upd.Username != nil {
		key := strings.ToLower(*upd.Username)
		if owner, taken := s.byUsername[key]; taken && owner != id {
			return nil, storage.ErrConflict
		}
		delete(s.byUsername, u.Username)
		s.byUsername[key] = id
		u.Username = key
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.AvatarURL != nil {
		u.AvatarURL = *upd.AvatarURL
	}
	if upd.StatusText != nil {
		u.StatusText = *upd.StatusText
	}
	if upd.ShowLastSeen != nil {
		u.ShowLastSeen = *upd.ShowLastSeen
	}
	return cloneUser(u), nil
}

func (s *Users) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeenAt = &at
	return nil
}

func cloneUser(u *model.User) *model.User {
	cp := *u
	cp.LastSeenAt = clonePtr(u.LastSeenAt)
	return &cp
}
