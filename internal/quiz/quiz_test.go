package quiz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/matchcore/internal/cache"
	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/events"
	"github.com/suPer8Hu/matchcore/internal/idgen"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestService(t *testing.T) (*Service, *events.Recorder, *stepClock) {
	t.Helper()
	ds := durable.NewMemoryStore()
	alloc := idgen.NewAllocator(durable.KindQuizSession, func(context.Context) (int64, error) { return 0, nil }, nil)
	alloc.Initialize(context.Background())
	rec := &events.Recorder{}
	svc := NewService(cache.New[Session](durable.KindQuizSession, ds, alloc, SetKey), nil, rec)
	clock := &stepClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc.now = clock.now
	return svc, rec, clock
}

func TestResolve_TieBreaksByOrder(t *testing.T) {
	assert.Equal(t, "A", Resolve(map[string]int{"A": 2, "B": 1}, []string{"A", "B"}))
	assert.Equal(t, "A", Resolve(map[string]int{"A": 1, "B": 1}, []string{"A", "B"}))
	assert.Equal(t, "B", Resolve(map[string]int{"A": 1, "B": 1}, []string{"B", "A"}))
	assert.Equal(t, "A3", Resolve(map[string]int{"A7": 3, "A3": 3, "A1": 2}, DefaultBank().Categories))
}

func TestDefaultBank(t *testing.T) {
	b := DefaultBank()
	require.Equal(t, 16, b.Total())
	assert.Len(t, b.Cards, 8)
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8"}, b.Categories)
	for _, q := range b.Questions {
		assert.Len(t, q.Options, 4, q.ID)
	}
	c, ok := b.Card("A5")
	require.True(t, ok)
	assert.Equal(t, "Prairie Guardian", c.Name)
}

func TestAnswer_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	start, err := svc.Start(1)
	require.NoError(t, err)
	assert.Equal(t, "Q1", start.Question.ID)
	assert.Equal(t, Progress{Answered: 0, Total: 16}, start.Progress)

	_, err = svc.Answer(ctx, start.SessionID, "Q2", "A")
	assert.ErrorIs(t, err, ErrInvalidAnswer)
	_, err = svc.Answer(ctx, start.SessionID, "Q1", "E")
	assert.ErrorIs(t, err, ErrInvalidAnswer)
	_, err = svc.Answer(ctx, 999, "Q1", "A")
	assert.ErrorIs(t, err, ErrInvalidSession)

	res, err := svc.Answer(ctx, start.SessionID, "Q1", " b ")
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, "Q2", res.Next.ID)
	assert.Equal(t, 1, res.Progress.Answered)
	assert.False(t, res.Completed)

	_, err = svc.Result(start.SessionID)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestQuiz_EndToEnd(t *testing.T) {
	svc, rec, _ := newTestService(t)
	ctx := context.Background()

	start, err := svc.Start(42)
	require.NoError(t, err)

	// every "A" answer: A1 wins with 8 of 16
	var last AnswerResult
	for _, q := range svc.Bank().Questions {
		last, err = svc.Answer(ctx, start.SessionID, q.ID, "A")
		require.NoError(t, err)
	}
	require.True(t, last.Completed)
	require.NotNil(t, last.Result)
	assert.Nil(t, last.Next)
	assert.Equal(t, "A1", last.Result.Category)
	assert.Equal(t, "Wind Traveler", last.Result.Card.Name)

	sum := 0
	for _, n := range last.Result.Scores {
		sum += n
	}
	assert.Equal(t, 16, sum)

	first, err := svc.Result(start.SessionID)
	require.NoError(t, err)
	again, err := svc.Result(start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, last.Result.Category, first.Category)

	_, err = svc.Answer(ctx, start.SessionID, "Q16", "A")
	assert.ErrorIs(t, err, ErrInvalidSession)

	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeQuizCompleted, evs[0].Type)
	assert.Equal(t, int64(42), evs[0].UserID)
}

func TestHistory_NewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	complete := func(option string) int64 {
		s, err := svc.Start(7)
		require.NoError(t, err)
		for _, q := range svc.Bank().Questions {
			_, err := svc.Answer(ctx, s.SessionID, q.ID, option)
			require.NoError(t, err)
		}
		return s.SessionID
	}
	older := complete("A")
	newer := complete("B")
	_, err := svc.Start(7)
	require.NoError(t, err)

	hist := svc.History(7, 0)
	require.Len(t, hist, 2)
	assert.Equal(t, newer, hist[0].SessionID)
	assert.Equal(t, older, hist[1].SessionID)

	assert.Len(t, svc.History(7, 1), 1)
	assert.Empty(t, svc.History(8, 0))
}

func TestReapAbandoned(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	svc.SetReapAfter(time.Hour)

	stale, _ := svc.Start(1)
	done, _ := svc.Start(2)
	for _, q := range svc.Bank().Questions {
		_, err := svc.Answer(ctx, done.SessionID, q.ID, "C")
		require.NoError(t, err)
	}

	clock.t = clock.t.Add(2 * time.Hour)
	fresh, _ := svc.Start(3)

	assert.Equal(t, 1, svc.ReapAbandoned(clock.t))
	_, ok := svc.Store().Get(stale.SessionID)
	assert.False(t, ok)
	_, ok = svc.Store().Get(done.SessionID)
	assert.True(t, ok)
	_, ok = svc.Store().Get(fresh.SessionID)
	assert.True(t, ok)

	st := svc.Stats()
	assert.Equal(t, 2, st.SessionCount)
	assert.Equal(t, 1, st.CompletedSessions)
	assert.True(t, st.Ready)
}
