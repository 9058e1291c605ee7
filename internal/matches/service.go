package matches

import (
	"log"
	"time"
)

// Linker records match membership on the user side.
type Linker interface {
	Exists(userID int64) bool
	AddMatch(userID, matchID int64) bool
}

type Service struct {
	store *Store
	users Linker
	now   func() time.Time
}

func NewService(store *Store, users Linker) *Service {
	return &Service{store: store, users: users, now: time.Now}
}

type CreateInput struct {
	UserID1            int64
	UserID2            int64
	DescriptionToUser1 string
	DescriptionToUser2 string
	Score              int
}

// Create stores a match and links its id into both users.
func (s *Service) Create(in CreateInput) (Match, error) {
	if in.UserID1 == in.UserID2 {
		return Match{}, ErrSameUser
	}
	if s.users != nil && (!s.users.Exists(in.UserID1) || !s.users.Exists(in.UserID2)) {
		return Match{}, ErrNotParticipant
	}

	m := Match{
		UserID1:            in.UserID1,
		UserID2:            in.UserID2,
		DescriptionToUser1: in.DescriptionToUser1,
		DescriptionToUser2: in.DescriptionToUser2,
		Score:              in.Score,
		MatchedAt:          s.now().UTC(),
		MutualGameScores:   map[string]int{},
	}
	id, err := s.store.Create(m)
	if err != nil {
		return Match{}, err
	}
	m.ID = id

	if s.users != nil {
		for _, uid := range []int64{in.UserID1, in.UserID2} {
			if !s.users.AddMatch(uid, id) {
				log.Printf("matches match=%d link user=%d failed: user missing", id, uid)
			}
		}
	}
	return m, nil
}

func (s *Service) Get(matchID int64) (Match, error) {
	m, ok := s.store.Get(matchID)
	if !ok {
		return Match{}, ErrNotFound
	}
	return m, nil
}

// ToggleLike flips the liked flag and returns the new value.
func (s *Service) ToggleLike(matchID int64) (bool, error) {
	var liked bool
	if !s.store.Update(matchID, func(m *Match) {
		m.Liked = !m.Liked
		liked = m.Liked
	}) {
		return false, ErrNotFound
	}
	return liked, nil
}

// ViewFor returns the match from the point of view of userID.
func (s *Service) ViewFor(userID, matchID int64) (View, error) {
	m, ok := s.store.Get(matchID)
	if !ok {
		return View{}, ErrNotFound
	}
	if !m.Involves(userID) {
		return View{}, ErrNotParticipant
	}
	desc := m.DescriptionToUser1
	if userID == m.UserID2 {
		desc = m.DescriptionToUser2
	}
	return View{
		MatchID:       m.ID,
		TargetUserID:  m.Counterpart(userID),
		Description:   desc,
		Score:         m.Score,
		MatchedAt:     m.MatchedAt,
		Liked:         m.Liked,
		ChatSessionID: m.ChatSessionID,
	}, nil
}

// ForUser lists every match that involves userID, ordered by id.
func (s *Service) ForUser(userID int64) []Match {
	var out []Match
	s.store.Range(func(_ int64, m Match) bool {
		if m.Involves(userID) {
			out = append(out, m)
		}
		return true
	})
	return out
}

func (s *Service) SetChatSession(matchID, sessionID int64) error {
	if !s.store.Update(matchID, func(m *Match) { m.ChatSessionID = sessionID }) {
		return ErrNotFound
	}
	return nil
}

// RecordGameScore stores the shared score of a mini game for the match.
func (s *Service) RecordGameScore(matchID int64, game string, score int) error {
	if !s.store.Update(matchID, func(m *Match) {
		if m.MutualGameScores == nil {
			m.MutualGameScores = map[string]int{}
		}
		m.MutualGameScores[game] = score
	}) {
		return ErrNotFound
	}
	return nil
}

// Delete removes the match only. Unlinking users and chat sessions is done by
// the caller.
func (s *Service) Delete(matchID int64) bool {
	return s.store.Delete(matchID)
}

func (s *Service) Store() *Store { return s.store }
