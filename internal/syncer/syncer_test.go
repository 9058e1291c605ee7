package syncer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/matchcore/internal/cache"
	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/idgen"
	"github.com/suPer8Hu/matchcore/internal/integrity"
)

type fakePersister struct {
	kind  durable.Kind
	calls atomic.Int32
	panic bool
	rep   cache.Report
}

func (f *fakePersister) Kind() durable.Kind { return f.kind }
func (f *fakePersister) Len() int           { return 0 }

func (f *fakePersister) PersistAll(context.Context) cache.Report {
	f.calls.Add(1)
	if f.panic {
		panic("durable store exploded")
	}
	r := f.rep
	r.Kind = f.kind
	return r
}

type countingMarks struct{ n atomic.Int32 }

func (c *countingMarks) Publish(context.Context) { c.n.Add(1) }

func TestTick_FailingStoreDoesNotBlockOthers(t *testing.T) {
	s := New(time.Hour)
	users := &fakePersister{kind: durable.KindUser, rep: cache.Report{Succeeded: 2, Total: 2}}
	broken := &fakePersister{kind: durable.KindMatch, panic: true}
	chats := &fakePersister{kind: durable.KindChatSession, rep: cache.Report{Succeeded: 1, Total: 3}}
	s.Register(users, broken, chats)

	var order []string
	s.SetIntegrity(func(ctx context.Context) integrity.Result {
		order = append(order, "integrity")
		return integrity.Result{ChecksCompleted: 5, TotalChecks: 5}
	})
	marks := &countingMarks{}
	s.SetWatermarks(marks)

	rep := s.Tick(context.Background())
	require.Len(t, rep.Stores, 3)
	assert.Equal(t, []string{"integrity"}, order)
	require.NotNil(t, rep.Integrity)
	assert.Equal(t, 5, rep.Integrity.ChecksCompleted)

	assert.NoError(t, rep.Stores[0].Err)
	assert.Error(t, rep.Stores[1].Err)
	assert.Equal(t, durable.KindMatch, rep.Stores[1].Kind)
	assert.NoError(t, rep.Stores[2].Err)
	assert.Equal(t, 2, rep.Stores[2].Failed())
	assert.Equal(t, 2, rep.Failed())

	assert.EqualValues(t, 1, chats.calls.Load())
	assert.EqualValues(t, 1, marks.n.Load())
}

func TestTick_IntegrityPanicIsContained(t *testing.T) {
	s := New(time.Hour)
	p := &fakePersister{kind: durable.KindUser}
	s.Register(p)
	s.SetIntegrity(func(context.Context) integrity.Result { panic("boom") })

	rep := s.Tick(context.Background())
	assert.Nil(t, rep.Integrity)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestStop_PerformsFinalFlush(t *testing.T) {
	s := New(time.Hour)
	p := &fakePersister{kind: durable.KindUser, rep: cache.Report{Succeeded: 1, Total: 1}}
	s.Register(p)

	var reaped atomic.Int32
	s.AddJob("reap", "@every 1h", func(context.Context) { reaped.Add(1) })
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rep := s.Stop(ctx)

	require.Len(t, rep.Stores, 1)
	assert.EqualValues(t, 1, p.calls.Load())
	assert.Zero(t, reaped.Load())
}

func TestStart_RejectsBadJobSpec(t *testing.T) {
	s := New(time.Hour)
	s.AddJob("bad", "not a cron spec", func(context.Context) {})
	assert.Error(t, s.Start())
}

func TestTick_PersistsRealStore(t *testing.T) {
	ds := durable.NewMemoryStore()
	ids := idgen.NewSet(ds, nil, durable.KindUser)
	ids.InitializeAll(context.Background())

	type note struct {
		ID   int64  `json:"id"`
		Text string `json:"text"`
	}
	store := cache.New[note](durable.KindUser, ds, ids.Get(durable.KindUser), func(n *note, k int64) { n.ID = k })
	_, err := store.Create(note{Text: "a"})
	require.NoError(t, err)
	_, err = store.Create(note{Text: "b"})
	require.NoError(t, err)

	s := New(time.Hour)
	s.Register(store)
	s.SetWatermarks(ids)
	rep := s.Tick(context.Background())
	require.Len(t, rep.Stores, 1)
	assert.Equal(t, 2, rep.Stores[0].Succeeded)

	n, err := ds.Count(context.Background(), durable.KindUser, durable.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Zero(t, store.Pending())
}
