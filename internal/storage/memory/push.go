package memory

import (
	"context"

	"github.com/dmchat/internal/model"
)

func (s *Store) SaveSubscription(ctx context.Context, userID string, sub model.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEndpoint, ok := s.subs[userID]
	if !ok {
		byEndpoint = make(map[string]model.PushSubscription)
		s.subs[userID] = byEndpoint
	}
	byEndpoint[sub.Endpoint] = sub
	return nil
}

func (s *Store) Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PushSubscription, 0, len(s.subs[userID]))
	for _, sub := range s.subs[userID] {
		out = append(out, sub)
	}
	return out, nil
}

func (s *Store) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[userID], endpoint)
	return nil
}
