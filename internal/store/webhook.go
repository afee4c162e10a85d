package store

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhooks.
// Primary index: webhook id → webhook.
// Secondary index: owner → event → webhook.
type WebhookStore struct {
	mu       sync.RWMutex
	webhooks map[uuid.UUID]*domain.Webhook
	byOwner  map[uuid.UUID]map[string]*domain.Webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks: make(map[uuid.UUID]*domain.Webhook),
		byOwner:  make(map[uuid.UUID]map[string]*domain.Webhook),
	}
}

// Upsert inserts or updates a subscription keyed by (owner, event). An
// existing subscription keeps its id and only has its URL replaced.
// It returns a copy of the stored webhook and whether it was newly
// created.
func (s *WebhookStore) Upsert(w domain.Webhook) (domain.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byOwner[w.Owner][w.Event]; ok {
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
		}
		return *existing, false
	}

	stored := w
	s.webhooks[w.ID] = &stored
	if s.byOwner[w.Owner] == nil {
		s.byOwner[w.Owner] = make(map[string]*domain.Webhook)
	}
	s.byOwner[w.Owner][w.Event] = &stored
	return stored, true
}

// ListByOwner returns all webhooks of owner sorted by event.
// Returns an empty slice if the owner has no subscriptions.
func (s *WebhookStore) ListByOwner(owner uuid.UUID) []domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byOwner[owner]
	result := make([]domain.Webhook, 0, len(events))
	for _, w := range events {
		result = append(result, *w)
	}
	slices.SortFunc(result, func(a, b domain.Webhook) int {
		return strings.Compare(a.Event, b.Event)
	})
	return result
}

// Delete removes a webhook of owner by id. It returns
// domain.ErrWebhookNotFound if owner has no such webhook.
func (s *WebhookStore) Delete(owner, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok || w.Owner != owner {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)
	if events, ok := s.byOwner[w.Owner]; ok {
		delete(events, w.Event)
		if len(events) == 0 {
			delete(s.byOwner, w.Owner)
		}
	}
	return nil
}

// DeleteOwner removes every webhook of owner.
func (s *WebhookStore) DeleteOwner(owner uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.byOwner[owner] {
		delete(s.webhooks, w.ID)
	}
	delete(s.byOwner, owner)
}

// Lookup returns the webhook for an owner and event. The second return
// value is false if no subscription exists.
func (s *WebhookStore) Lookup(owner uuid.UUID, event string) (domain.Webhook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byOwner[owner][event]
	if !ok {
		return domain.Webhook{}, false
	}
	return *w, true
}
