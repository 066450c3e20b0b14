package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/pkg/domain"
)

var (
	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrNotParticipant is returned when the caller is not part of the
	// conversation.
	ErrNotParticipant = errors.New("not a conversation participant")
	// ErrEmptyMessage is returned for blank message text.
	ErrEmptyMessage = errors.New("message text is required")
)

// DefaultLatency is the fixed simulated delivery delay for message sends.
const DefaultLatency = 300 * time.Millisecond

// Resolver resolves a participant id to display details. Unknown ids must
// degrade to a placeholder, never fail.
type Resolver interface {
	Resolve(ctx context.Context, id string) domain.Participant
}

// Summary is one row of a user's conversation list.
type Summary struct {
	ID            string             `json:"id"`
	With          domain.Participant `json:"with"`
	LastMessage   string             `json:"lastMessage,omitempty"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	Unread        int                `json:"unread"`
}

// View is a full conversation with participants resolved.
type View struct {
	domain.Conversation
	Resolved [2]domain.Participant `json:"resolvedParticipants"`
}

// Store is the in-memory simulated message board keyed by participant
// pairs. Conversations are never deleted.
type Store struct {
	resolver Resolver
	latency  time.Duration
	now      func() time.Time

	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	order         []string // encounter order, the tie-break for equal timestamps
}

// Option customizes a Store.
type Option func(*Store)

// WithLatency overrides the simulated delivery delay. Zero disables it.
func WithLatency(d time.Duration) Option {
	return func(s *Store) { s.latency = d }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds an empty store over a participant resolver.
func New(resolver Resolver, opts ...Option) *Store {
	s := &Store{
		resolver:      resolver,
		latency:       DefaultLatency,
		now:           time.Now,
		conversations: make(map[string]*domain.Conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed loads pre-existing conversations, preserving their order.
func (s *Store) Seed(conversations []domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range conversations {
		conv := c
		if conv.Unread == nil {
			conv.Unread = map[string]int{}
		}
		if _, exists := s.conversations[conv.ID]; !exists {
			s.order = append(s.order, conv.ID)
		}
		s.conversations[conv.ID] = &conv
	}
}

// ConversationsForUser lists the user's conversations, most recent message
// first. Equal timestamps keep encounter order.
func (s *Store) ConversationsForUser(ctx context.Context, userID string) []Summary {
	s.mu.Lock()
	var convs []*domain.Conversation
	for _, id := range s.order {
		c := s.conversations[id]
		if c.Participants[0] == userID || c.Participants[1] == userID {
			convs = append(convs, c)
		}
	}
	summaries := make([]Summary, 0, len(convs))
	for _, c := range convs {
		other := c.Participants[0]
		if other == userID {
			other = c.Participants[1]
		}
		sum := Summary{
			ID:            c.ID,
			LastMessageAt: c.LastMessageAt,
			Unread:        c.Unread[userID],
		}
		if n := len(c.Messages); n > 0 {
			sum.LastMessage = c.Messages[n-1].Text
		}
		sum.With = domain.Participant{ID: other}
		summaries = append(summaries, sum)
	}
	s.mu.Unlock()

	// Resolve outside the lock; the resolver may hit the directory store.
	for i := range summaries {
		summaries[i].With = s.resolver.Resolve(ctx, summaries[i].With.ID)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
	return summaries
}

// ConversationByID returns the full conversation for a participant and, as
// the read-on-open side effect, zeroes the viewer's unread counter.
func (s *Store) ConversationByID(ctx context.Context, id, viewerID string) (View, error) {
	s.mu.Lock()
	c, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return View{}, ErrConversationNotFound
	}
	if viewerID != c.Participants[0] && viewerID != c.Participants[1] {
		s.mu.Unlock()
		return View{}, ErrNotParticipant
	}
	c.Unread[viewerID] = 0
	view := View{Conversation: snapshot(c)}
	s.mu.Unlock()

	view.Resolved[0] = s.resolver.Resolve(ctx, view.Participants[0])
	view.Resolved[1] = s.resolver.Resolve(ctx, view.Participants[1])
	return view, nil
}

// SendMessage appends a message after the simulated delivery delay, bumps
// the last-message timestamp, increments the receiver's unread counter, and
// zeroes the sender's.
func (s *Store) SendMessage(ctx context.Context, conversationID, senderID, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if err := s.wait(ctx); err != nil {
		return domain.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return domain.Message{}, ErrConversationNotFound
	}
	var receiver string
	switch senderID {
	case c.Participants[0]:
		receiver = c.Participants[1]
	case c.Participants[1]:
		receiver = c.Participants[0]
	default:
		return domain.Message{}, ErrNotParticipant
	}

	msg := domain.Message{
		ID:       uuid.NewString(),
		SenderID: senderID,
		Text:     text,
		SentAt:   s.now().UTC(),
	}
	c.Messages = append(c.Messages, msg)
	c.LastMessageAt = msg.SentAt
	c.Unread[receiver]++
	c.Unread[senderID] = 0
	return msg, nil
}

// FindOrCreateConversation returns the conversation id for the unordered
// participant pair, creating an empty one on first contact.
func (s *Store) FindOrCreateConversation(idA, idB string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		c := s.conversations[id]
		if (c.Participants[0] == idA && c.Participants[1] == idB) ||
			(c.Participants[0] == idB && c.Participants[1] == idA) {
			return c.ID
		}
	}
	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		Participants: [2]string{idA, idB},
		Unread:       map[string]int{},
	}
	s.conversations[conv.ID] = conv
	s.order = append(s.order, conv.ID)
	return conv.ID
}

func snapshot(c *domain.Conversation) domain.Conversation {
	out := *c
	out.Messages = append([]domain.Message(nil), c.Messages...)
	out.Unread = make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		out.Unread[k] = v
	}
	return out
}

func (s *Store) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
