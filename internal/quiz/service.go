package quiz

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/suPer8Hu/matchcore/internal/events"
	"github.com/suPer8Hu/matchcore/internal/metrics"
)

const (
	expectedQuestions = 16
	expectedCards     = 8
)

type Service struct {
	store     *Store
	bank      *Bank
	publisher events.Publisher
	reapAfter time.Duration
	now       func() time.Time
}

func NewService(store *Store, bank *Bank, publisher events.Publisher) *Service {
	if bank == nil {
		bank = DefaultBank()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: store, bank: bank, publisher: publisher, reapAfter: 24 * time.Hour, now: time.Now}
}

// SetReapAfter sets how old an unfinished session must be before it is reaped.
func (s *Service) SetReapAfter(d time.Duration) {
	if d > 0 {
		s.reapAfter = d
	}
}

func (s *Service) Bank() *Bank { return s.bank }

func (s *Service) Start(userID int64) (StartResult, error) {
	first, _ := s.bank.Question(0)
	sess := Session{
		UserID:    userID,
		Answers:   []Answer{},
		Scores:    map[string]int{},
		StartedAt: s.now().UTC(),
	}
	id, err := s.store.Create(sess)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{
		SessionID: id,
		Question:  first,
		Progress:  Progress{Answered: 0, Total: s.bank.Total()},
	}, nil
}

// Answer records option for the session's current question. The last answer
// completes the session and resolves its result.
func (s *Service) Answer(ctx context.Context, sessionID int64, questionID, option string) (AnswerResult, error) {
	var (
		res   AnswerResult
		inErr error
		done  Session
	)
	total := s.bank.Total()
	found := s.store.Update(sessionID, func(sess *Session) {
		if sess.Completed {
			inErr = ErrInvalidSession
			return
		}
		q, ok := s.bank.Question(len(sess.Answers))
		if !ok {
			inErr = ErrInvalidSession
			return
		}
		if q.ID != strings.TrimSpace(questionID) {
			inErr = ErrInvalidAnswer
			return
		}
		category, ok := q.category(option)
		if !ok {
			inErr = ErrInvalidAnswer
			return
		}

		at := s.now().UTC()
		sess.Answers = append(sess.Answers, Answer{
			QuestionID: q.ID,
			Option:     strings.ToUpper(strings.TrimSpace(option)),
			Category:   category,
			AnsweredAt: at,
		})
		if sess.Scores == nil {
			sess.Scores = map[string]int{}
		}
		sess.Scores[category]++
		res.Progress = Progress{Answered: len(sess.Answers), Total: total}

		if len(sess.Answers) < total {
			next, _ := s.bank.Question(len(sess.Answers))
			res.Next = &next
			return
		}
		sess.Result = Resolve(sess.Scores, s.bank.Categories)
		sess.Completed = true
		sess.CompletedAt = &at
		res.Completed = true
		done = sess.Clone()
	})
	if !found {
		return AnswerResult{}, ErrInvalidSession
	}
	if inErr != nil {
		return AnswerResult{}, inErr
	}

	if res.Completed {
		out := s.outcome(done)
		res.Result = &out
		metrics.QuizCompletions.WithLabelValues(out.Category).Inc()
		log.Printf("quiz completed session=%d user=%d result=%s", done.ID, done.UserID, out.Category)
		events.Emit(ctx, s.publisher, events.New(events.TypeQuizCompleted, done.UserID, map[string]any{
			"session_id": done.ID,
			"result":     out.Category,
			"scores":     out.Scores,
		}))
	}
	return res, nil
}

func (s *Service) outcome(sess Session) Outcome {
	card, _ := s.bank.Card(sess.Result)
	out := Outcome{SessionID: sess.ID, Category: sess.Result, Card: card, Scores: sess.Scores}
	if sess.CompletedAt != nil {
		out.CompletedAt = *sess.CompletedAt
	}
	return out
}

// Result returns the outcome of a completed session. Repeated calls return the
// same outcome.
func (s *Service) Result(sessionID int64) (Outcome, error) {
	sess, ok := s.store.Get(sessionID)
	if !ok || !sess.Completed {
		return Outcome{}, ErrInvalidSession
	}
	return s.outcome(sess), nil
}

// History lists the user's completed sessions, newest first. A limit of zero
// returns all of them.
func (s *Service) History(userID int64, limit int) []Outcome {
	var done []Session
	s.store.Range(func(_ int64, sess Session) bool {
		if sess.UserID == userID && sess.Completed {
			done = append(done, sess)
		}
		return true
	})
	sort.SliceStable(done, func(i, j int) bool {
		a, b := *done[i].CompletedAt, *done[j].CompletedAt
		if a.Equal(b) {
			return done[i].ID > done[j].ID
		}
		return a.After(b)
	})
	if limit > 0 && len(done) > limit {
		done = done[:limit]
	}
	out := make([]Outcome, 0, len(done))
	for _, sess := range done {
		out = append(out, s.outcome(sess))
	}
	return out
}

// ReapAbandoned deletes unfinished sessions started before now minus the reap
// age. Completed sessions are kept. It returns the number removed.
func (s *Service) ReapAbandoned(now time.Time) int {
	cutoff := now.Add(-s.reapAfter)
	var stale []int64
	s.store.Range(func(key int64, sess Session) bool {
		if !sess.Completed && sess.StartedAt.Before(cutoff) {
			stale = append(stale, key)
		}
		return true
	})
	n := 0
	for _, key := range stale {
		if s.store.Delete(key) {
			n++
		}
	}
	if n > 0 {
		metrics.QuizReaped.Add(float64(n))
		log.Printf("quiz reaped abandoned sessions=%d cutoff=%s", n, cutoff.Format(time.RFC3339))
	}
	return n
}

// Reap runs ReapAbandoned against the current time. It is the maintenance job
// scheduled next to the sync ticks.
func (s *Service) Reap(context.Context) {
	s.ReapAbandoned(s.now())
}

func (s *Service) Stats() Stats {
	st := Stats{
		QuestionCount:     s.bank.Total(),
		CardCount:         len(s.bank.Cards),
		ExpectedQuestions: expectedQuestions,
		ExpectedCards:     expectedCards,
	}
	s.store.Range(func(_ int64, sess Session) bool {
		st.SessionCount++
		if sess.Completed {
			st.CompletedSessions++
		}
		return true
	})
	st.Ready = st.QuestionCount == expectedQuestions && st.CardCount == expectedCards
	return st
}

func (s *Service) Store() *Store { return s.store }
