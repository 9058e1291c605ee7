package matches

import (
	"errors"
	"time"

	"github.com/suPer8Hu/matchcore/internal/cache"
)

var (
	ErrNotFound       = errors.New("matches: match not found")
	ErrNotParticipant = errors.New("matches: user is not part of this match")
	ErrSameUser       = errors.New("matches: a user cannot be matched with themselves")
)

type Match struct {
	ID                 int64          `json:"id"`
	UserID1            int64          `json:"user_id_1"`
	UserID2            int64          `json:"user_id_2"`
	DescriptionToUser1 string         `json:"description_to_user_1"`
	DescriptionToUser2 string         `json:"description_to_user_2"`
	Score              int            `json:"score"`
	MatchedAt          time.Time      `json:"matched_at"`
	Liked              bool           `json:"liked"`
	MutualGameScores   map[string]int `json:"mutual_game_scores,omitempty"`
	ChatSessionID      int64          `json:"chat_session_id,omitempty"`
}

func (m Match) Clone() Match {
	if m.MutualGameScores != nil {
		scores := make(map[string]int, len(m.MutualGameScores))
		for k, v := range m.MutualGameScores {
			scores[k] = v
		}
		m.MutualGameScores = scores
	}
	return m
}

// Involves reports whether userID is one side of the match.
func (m Match) Involves(userID int64) bool {
	return m.UserID1 == userID || m.UserID2 == userID
}

// Counterpart returns the other side of the match for userID.
func (m Match) Counterpart(userID int64) int64 {
	if m.UserID1 == userID {
		return m.UserID2
	}
	return m.UserID1
}

// View is a match as seen by one of its users.
type View struct {
	MatchID       int64     `json:"match_id"`
	TargetUserID  int64     `json:"target_user_id"`
	Description   string    `json:"description"`
	Score         int       `json:"score"`
	MatchedAt     time.Time `json:"matched_at"`
	Liked         bool      `json:"liked"`
	ChatSessionID int64     `json:"chat_session_id,omitempty"`
}

func SetKey(m *Match, key int64) { m.ID = key }

type Store = cache.Store[Match]
