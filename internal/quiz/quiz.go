package quiz

import (
	"errors"
	"maps"
	"time"

	"github.com/suPer8Hu/matchcore/internal/cache"
)

var (
	ErrInvalidSession = errors.New("quiz: session not found or not in the expected state")
	ErrInvalidAnswer  = errors.New("quiz: answer does not fit the current question")
)

type Answer struct {
	QuestionID string    `json:"question_id"`
	Option     string    `json:"option"`
	Category   string    `json:"category"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Session is one run through the bank. Completed is set exactly when every
// question has an answer and Result holds the resolved category.
type Session struct {
	ID          int64          `json:"id"`
	UserID      int64          `json:"user_id"`
	Answers     []Answer       `json:"answers"`
	Scores      map[string]int `json:"scores"`
	Result      string         `json:"result,omitempty"`
	Completed   bool           `json:"completed"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (s Session) Clone() Session {
	s.Answers = append([]Answer(nil), s.Answers...)
	s.Scores = maps.Clone(s.Scores)
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		s.CompletedAt = &at
	}
	return s
}

func SetKey(s *Session, key int64) { s.ID = key }

type Store = cache.Store[Session]

type Progress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

type StartResult struct {
	SessionID int64    `json:"session_id"`
	Question  Question `json:"question"`
	Progress  Progress `json:"progress"`
}

// Outcome is the resolved result of a completed session.
type Outcome struct {
	SessionID   int64          `json:"session_id"`
	Category    string         `json:"category"`
	Card        Card           `json:"card"`
	Scores      map[string]int `json:"scores"`
	CompletedAt time.Time      `json:"completed_at"`
}

type AnswerResult struct {
	Next      *Question `json:"next_question,omitempty"`
	Progress  Progress  `json:"progress"`
	Completed bool      `json:"completed"`
	Result    *Outcome  `json:"result,omitempty"`
}

type Stats struct {
	QuestionCount     int  `json:"question_count"`
	CardCount         int  `json:"card_count"`
	SessionCount      int  `json:"session_count"`
	CompletedSessions int  `json:"completed_sessions"`
	ExpectedQuestions int  `json:"expected_questions"`
	ExpectedCards     int  `json:"expected_cards"`
	Ready             bool `json:"system_ready"`
}
