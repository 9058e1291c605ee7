package chatrooms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/matchcore/internal/cache"
	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/idgen"
	"github.com/suPer8Hu/matchcore/internal/matches"
)

func newTestService(t *testing.T) (*Service, *matches.Service) {
	t.Helper()
	ctx := context.Background()
	ds := durable.NewMemoryStore()
	ids := idgen.NewSet(ds, nil, durable.KindMatch, durable.KindChatSession)
	ids.InitializeAll(ctx)

	ms := matches.NewService(cache.New[matches.Match](durable.KindMatch, ds, ids.Get(durable.KindMatch), matches.SetKey), nil)
	cs := NewService(cache.New[ChatSession](durable.KindChatSession, ds, ids.Get(durable.KindChatSession), SetKey), ms)
	return cs, ms
}

func TestOpenForMatch_IsIdempotent(t *testing.T) {
	svc, ms := newTestService(t)
	m, err := ms.Create(matches.CreateInput{UserID1: 10, UserID2: 20})
	require.NoError(t, err)

	first, err := svc.OpenForMatch(m.ID)
	require.NoError(t, err)
	second, err := svc.OpenForMatch(m.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	linked, _ := ms.Get(m.ID)
	assert.Equal(t, first.ID, linked.ChatSessionID)

	_, err = svc.OpenForMatch(404)
	assert.ErrorIs(t, err, matches.ErrNotFound)
}

func TestAppendAndHistory(t *testing.T) {
	svc, ms := newTestService(t)
	m, _ := ms.Create(matches.CreateInput{UserID1: 10, UserID2: 20})
	room, _ := svc.OpenForMatch(m.ID)

	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, err := svc.Append(room.ID, 10, "hi")
	require.NoError(t, err)
	_, err = svc.Append(room.ID, 20, "hello")
	require.NoError(t, err)
	_, err = svc.Append(room.ID, 20, "how are you")
	require.NoError(t, err)

	_, err = svc.Append(room.ID, 30, "intruder")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = svc.Append(room.ID, 10, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = svc.Append(999, 10, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := svc.History(room.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i].SentAt.After(all[i-1].SentAt), "messages must be strictly time ordered")
	}

	last, err := svc.History(room.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "hello", last[0].Content)
	assert.Equal(t, "how are you", last[1].Content)
}
