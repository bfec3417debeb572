// Package conversationtest provides an in-memory conversation store for
// tests of packages built on the conversation repository.
package conversationtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"funnel_builder_backend/internal/conversation/repository"
	"funnel_builder_backend/platform/apperr"

	"github.com/google/uuid"
)

// Store is an in-memory repository.Repository. It enforces the
// one-active-conversation-per-user rule the way the partial unique index
// does, and rolls back every write of a failed WithTx.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	now           func() time.Time
	conversations map[uuid.UUID]repository.Conversation
	messages      []repository.Message
	interactions  []repository.Interaction

	// FailInsertMessage makes InsertMessage fail when set.
	FailInsertMessage error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:           func() time.Time { return time.Now().UTC() },
		conversations: make(map[uuid.UUID]repository.Conversation),
	}
}

var _ repository.Repository = (*Store)(nil)

type snapshot struct {
	conversations map[uuid.UUID]repository.Conversation
	messages      []repository.Message
	interactions  []repository.Interaction
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs := make(map[uuid.UUID]repository.Conversation, len(s.conversations))
	for k, v := range s.conversations {
		v.UserPath = append([]string(nil), v.UserPath...)
		convs[k] = v
	}
	return snapshot{
		conversations: convs,
		messages:      append([]repository.Message(nil), s.messages...),
		interactions:  append([]repository.Interaction(nil), s.interactions...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = snap.conversations
	s.messages = snap.messages
	s.interactions = snap.interactions
}

// WithTx serializes units of work and undoes their writes on error.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Conversations returns every stored conversation ordered by creation.
func (s *Store) Conversations() []repository.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveCount counts active conversations for a user.
func (s *Store) ActiveCount(experienceID, whopUserID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conversations {
		if c.ExperienceID == experienceID && c.WhopUserID == whopUserID && c.Status == repository.StatusActive {
			n++
		}
	}
	return n
}

// Touch moves a conversation's last activity into the past.
func (s *Store) Touch(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversations[id]
	c.LastActivityAt = at
	s.conversations[id] = c
}

func (s *Store) InsertConversation(_ context.Context, p repository.CreateConversationParams) (repository.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ExperienceID == p.ExperienceID && c.WhopUserID == p.WhopUserID && c.Status == repository.StatusActive {
			return repository.Conversation{}, repository.ErrActiveConversationExists
		}
	}
	now := s.now()
	c := repository.Conversation{
		ID:             uuid.New(),
		ExperienceID:   p.ExperienceID,
		WhopUserID:     p.WhopUserID,
		FunnelID:       p.FunnelID,
		Status:         repository.StatusActive,
		CurrentBlockID: p.CurrentBlockID,
		UserPath:       append([]string(nil), p.UserPath...),
		Metadata:       p.Metadata,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *Store) GetConversation(_ context.Context, id uuid.UUID) (repository.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return repository.Conversation{}, apperr.NotFound("conversation not found")
	}
	c.UserPath = append([]string(nil), c.UserPath...)
	return c, nil
}

func (s *Store) GetConversationForUpdate(ctx context.Context, id uuid.UUID) (repository.Conversation, error) {
	return s.GetConversation(ctx, id)
}

func (s *Store) FindActive(_ context.Context, experienceID, whopUserID string) (*repository.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ExperienceID == experienceID && c.WhopUserID == whopUserID && c.Status == repository.StatusActive {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateProgress(_ context.Context, p repository.ProgressParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[p.ID]
	if !ok {
		return apperr.NotFound("conversation not found")
	}
	c.CurrentBlockID = p.CurrentBlockID
	c.UserPath = append([]string(nil), p.UserPath...)
	c.Status = p.Status
	c.LastActivityAt = s.now()
	c.UpdatedAt = c.LastActivityAt
	s.conversations[p.ID] = c
	return nil
}

func (s *Store) UpdateStatusIfActive(_ context.Context, id uuid.UUID, status repository.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.Status != repository.StatusActive {
		return false, nil
	}
	c.Status = status
	c.UpdatedAt = s.now()
	s.conversations[id] = c
	return true, nil
}

func (s *Store) UpdateStatusAndMetadata(_ context.Context, id uuid.UUID, status repository.Status, md repository.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return apperr.NotFound("conversation not found")
	}
	c.Status = status
	c.Metadata = md
	c.UpdatedAt = s.now()
	s.conversations[id] = c
	return nil
}

func (s *Store) ListIdleActive(_ context.Context, before time.Time, limit int) ([]repository.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Conversation, 0)
	for _, c := range s.conversations {
		if c.Status == repository.StatusActive && c.LastActivityAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertMessage(_ context.Context, p repository.MessageParams) (repository.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsertMessage != nil {
		return repository.Message{}, s.FailInsertMessage
	}
	m := repository.Message{
		ID:             uuid.New(),
		ConversationID: p.ConversationID,
		Type:           p.Type,
		Content:        p.Content,
		Metadata:       p.Metadata,
		CreatedAt:      s.now(),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID uuid.UUID) ([]repository.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Message, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) InsertInteraction(_ context.Context, p repository.InteractionParams) (repository.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := repository.Interaction{
		ID:             uuid.New(),
		ConversationID: p.ConversationID,
		BlockID:        p.BlockID,
		OptionText:     p.OptionText,
		NextBlockID:    p.NextBlockID,
		CreatedAt:      s.now(),
	}
	s.interactions = append(s.interactions, it)
	return it, nil
}

func (s *Store) ListInteractions(_ context.Context, conversationID uuid.UUID) ([]repository.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Interaction, 0)
	for _, it := range s.interactions {
		if it.ConversationID == conversationID {
			out = append(out, it)
		}
	}
	return out, nil
}
