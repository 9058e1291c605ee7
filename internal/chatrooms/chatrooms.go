package chatrooms

import (
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/matchcore/internal/cache"
	"github.com/suPer8Hu/matchcore/internal/matches"
)

var (
	ErrNotFound       = errors.New("chatrooms: chat session not found")
	ErrNotParticipant = errors.New("chatrooms: sender is not a participant")
	ErrEmptyMessage   = errors.New("chatrooms: message is empty")
)

type Message struct {
	Sender  int64     `json:"sender"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

type ChatSession struct {
	ID        int64     `json:"id"`
	MatchID   int64     `json:"match_id"`
	UserID1   int64     `json:"user_id_1"`
	UserID2   int64     `json:"user_id_2"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

func (c ChatSession) Clone() ChatSession {
	c.Messages = append([]Message(nil), c.Messages...)
	return c
}

func SetKey(c *ChatSession, key int64) { c.ID = key }

type Store = cache.Store[ChatSession]

type Service struct {
	store   *Store
	matches *matches.Service
	now     func() time.Time
}

func NewService(store *Store, m *matches.Service) *Service {
	return &Service{store: store, matches: m, now: time.Now}
}

// OpenForMatch returns the chat session of the match, creating it on first use.
func (s *Service) OpenForMatch(matchID int64) (ChatSession, error) {
	m, err := s.matches.Get(matchID)
	if err != nil {
		return ChatSession{}, err
	}
	if m.ChatSessionID != 0 {
		if cs, ok := s.store.Get(m.ChatSessionID); ok {
			return cs, nil
		}
	}

	cs := ChatSession{
		MatchID:   m.ID,
		UserID1:   m.UserID1,
		UserID2:   m.UserID2,
		Messages:  []Message{},
		CreatedAt: s.now().UTC(),
	}
	id, err := s.store.Create(cs)
	if err != nil {
		return ChatSession{}, err
	}
	cs.ID = id
	if err := s.matches.SetChatSession(matchID, id); err != nil {
		s.store.Delete(id)
		return ChatSession{}, err
	}
	return cs, nil
}

func (s *Service) Get(sessionID int64) (ChatSession, error) {
	cs, ok := s.store.Get(sessionID)
	if !ok {
		return ChatSession{}, ErrNotFound
	}
	return cs, nil
}

// Append adds a message from one of the two participants.
func (s *Service) Append(sessionID, sender int64, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}

	var (
		msg   Message
		inErr error
	)
	found := s.store.Update(sessionID, func(cs *ChatSession) {
		if sender != cs.UserID1 && sender != cs.UserID2 {
			inErr = ErrNotParticipant
			return
		}
		at := s.now().UTC()
		if n := len(cs.Messages); n > 0 && !at.After(cs.Messages[n-1].SentAt) {
			at = cs.Messages[n-1].SentAt.Add(time.Microsecond)
		}
		msg = Message{Sender: sender, Content: content, SentAt: at}
		cs.Messages = append(cs.Messages, msg)
	})
	if !found {
		return Message{}, ErrNotFound
	}
	if inErr != nil {
		return Message{}, inErr
	}
	return msg, nil
}

// History returns the newest limit messages in chronological order. A limit
// of zero returns everything.
func (s *Service) History(sessionID int64, limit int) ([]Message, error) {
	cs, ok := s.store.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	msgs := cs.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Service) Delete(sessionID int64) bool {
	return s.store.Delete(sessionID)
}

func (s *Service) Store() *Store { return s.store }
