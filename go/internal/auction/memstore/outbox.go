package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/outbox"
)

var _ outbox.Source = (*Store)(nil)

func (s *Store) FetchUnsent(_ context.Context, limit, maxAttempts int) ([]auction.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []auction.OutboxEvent
	for _, e := range s.data.outbox {
		if _, ok := s.data.sent[e.ID]; ok {
			continue
		}
		if maxAttempts > 0 && s.data.failures[e.ID] >= maxAttempts {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) FetchByID(_ context.Context, id uuid.UUID) (*auction.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.sent[id]; ok {
		return nil, outbox.ErrNotPending
	}
	for _, e := range s.data.outbox {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, outbox.ErrNotPending
}

func (s *Store) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.sent[id]; !ok {
		s.data.sent[id] = at
	}
	return nil
}

// MarkFailed counts a failed delivery. The event stays pending.
func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.failures[id]++
	return nil
}

func (s *Store) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.outbox) - len(s.data.sent), nil
}
