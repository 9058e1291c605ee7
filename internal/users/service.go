package users

import (
	"context"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/suPer8Hu/matchcore/internal/chatrooms"
	"github.com/suPer8Hu/matchcore/internal/events"
	"github.com/suPer8Hu/matchcore/internal/matches"
)

const (
	minAge = 18
	maxAge = 120
)

type Service struct {
	store     *Store
	matches   *matches.Service
	chats     *chatrooms.Service
	publisher events.Publisher
	now       func() time.Time
}

func NewService(store *Store, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: store, publisher: publisher, now: time.Now}
}

// AttachCascade wires the dependents removed by Deactivate. Matches and chat
// sessions are built after users because they link back through Service.
func (s *Service) AttachCascade(m *matches.Service, c *chatrooms.Service) {
	s.matches = m
	s.chats = c
}

type CreateInput struct {
	TelegramUserName string
	TelegramID       int64
	Gender           Gender
	Age              int
	TargetGender     Gender
}

func (s *Service) Create(in CreateInput) (User, error) {
	if !in.Gender.Valid() || (in.TargetGender != GenderUnknown && !in.TargetGender.Valid()) {
		return User{}, ErrInvalidInput
	}
	if in.Age != 0 && (in.Age < minAge || in.Age > maxAge) {
		return User{}, ErrInvalidAge
	}
	u := User{
		TelegramUserName: strings.TrimSpace(in.TelegramUserName),
		TelegramID:       in.TelegramID,
		Gender:           in.Gender,
		Age:              in.Age,
		TargetGender:     in.TargetGender,
		MatchIDs:         []int64{},
		BlockedUserIDs:   []int64{},
		CreatedAt:        s.now().UTC(),
	}
	id, err := s.store.Create(u)
	if err != nil {
		return User{}, err
	}
	u.ID = id
	return u, nil
}

func (s *Service) Get(userID int64) (User, error) {
	u, ok := s.store.Get(userID)
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *Service) Exists(userID int64) bool {
	_, ok := s.store.Get(userID)
	return ok
}

func (s *Service) EditAge(userID int64, age int) error {
	if age < minAge || age > maxAge {
		return ErrInvalidAge
	}
	return s.edit(userID, func(u *User) { u.Age = age })
}

func (s *Service) EditTargetGender(userID int64, g Gender) error {
	if !g.Valid() {
		return ErrInvalidInput
	}
	return s.edit(userID, func(u *User) { u.TargetGender = g })
}

func (s *Service) EditSummary(userID int64, summary string) error {
	return s.edit(userID, func(u *User) { u.PersonalitySummary = strings.TrimSpace(summary) })
}

// UpdateProfile stores the personality summary produced by a finished
// conversation.
func (s *Service) UpdateProfile(_ context.Context, userID int64, profile string) error {
	return s.EditSummary(userID, profile)
}

// GenderOf names the user's gender for prompt selection.
func (s *Service) GenderOf(userID int64) string {
	u, ok := s.store.Get(userID)
	if !ok {
		return "neutral"
	}
	switch u.Gender {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	}
	return "neutral"
}

func (s *Service) Block(userID, blockedID int64) error {
	return s.edit(userID, func(u *User) {
		if !slices.Contains(u.BlockedUserIDs, blockedID) {
			u.BlockedUserIDs = append(u.BlockedUserIDs, blockedID)
		}
	})
}

func (s *Service) edit(userID int64, fn func(*User)) error {
	if !s.store.Update(userID, fn) {
		return ErrNotFound
	}
	return nil
}

// AddMatch links matchID into the user. It reports false for unknown users.
func (s *Service) AddMatch(userID, matchID int64) bool {
	return s.store.Update(userID, func(u *User) {
		if !slices.Contains(u.MatchIDs, matchID) {
			u.MatchIDs = append(u.MatchIDs, matchID)
		}
	})
}

// RemoveMatch unlinks matchID. It reports whether the user held the id.
func (s *Service) RemoveMatch(userID, matchID int64) bool {
	removed := false
	s.store.Update(userID, func(u *User) {
		if i := slices.Index(u.MatchIDs, matchID); i >= 0 {
			u.MatchIDs = slices.Delete(u.MatchIDs, i, i+1)
			removed = true
		}
	})
	return removed
}

func (s *Service) Statistics() Statistics {
	var st Statistics
	s.store.Range(func(_ int64, u User) bool {
		st.Total++
		switch u.Gender {
		case GenderMale:
			st.Male++
		case GenderFemale:
			st.Female++
		}
		return true
	})
	return st
}

func (s *Service) ListByGender(g Gender) []User {
	var out []User
	s.store.Range(func(_ int64, u User) bool {
		if u.Gender == g {
			out = append(out, u)
		}
		return true
	})
	return out
}

// Deactivate removes the user together with every match it is part of and the
// chat sessions of those matches. Counterparts lose the match id. The cascade
// is not transactional: an interruption leaves dangling references that the
// integrity pass repairs before the next sync.
func (s *Service) Deactivate(ctx context.Context, userID int64) (DeactivateReport, error) {
	var rep DeactivateReport
	u, ok := s.store.Get(userID)
	if !ok {
		return rep, ErrNotFound
	}

	matchIDs := append([]int64(nil), u.MatchIDs...)
	if s.matches != nil {
		for _, m := range s.matches.ForUser(userID) {
			if !slices.Contains(matchIDs, m.ID) {
				matchIDs = append(matchIDs, m.ID)
			}
		}
	}

	for _, mid := range matchIDs {
		if s.matches == nil {
			break
		}
		m, err := s.matches.Get(mid)
		if err != nil {
			continue
		}
		if other := m.Counterpart(userID); other != userID && s.RemoveMatch(other, mid) {
			rep.UpdatedUsers++
		}
		if m.ChatSessionID != 0 && s.chats != nil && s.chats.Delete(m.ChatSessionID) {
			rep.ChatSessions++
		}
		if s.matches.Delete(mid) {
			rep.Matches++
		}
	}

	s.store.Delete(userID)
	log.Printf("users deactivated user=%d matches=%d chat_sessions=%d updated_users=%d",
		userID, rep.Matches, rep.ChatSessions, rep.UpdatedUsers)

	events.Emit(ctx, s.publisher, events.New(events.TypeUserDeactivated, userID, rep))
	return rep, nil
}

func (s *Service) Store() *Store { return s.store }
