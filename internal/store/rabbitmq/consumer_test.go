package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/matchcore/internal/events"
)

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func TestQueuesFor(t *testing.T) {
	q := QueuesFor("domain_events")
	assert.Equal(t, Queues{Main: "domain_events", Retry: "domain_events.retry", DLQ: "domain_events.dlq"}, q)
}

func TestDecode(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, ErrBadMessage)
	_, err = Decode([]byte(`{"type":"quiz.completed"}`))
	assert.ErrorIs(t, err, ErrBadMessage)

	body, err := json.Marshal(events.New(events.TypeQuizCompleted, 3, map[string]string{"result": "A1"}))
	require.NoError(t, err)
	e, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.UserID)
	assert.JSONEq(t, `{"result":"A1"}`, string(e.Payload))
}

func TestHandle_SettlesDelivery(t *testing.T) {
	ctx := context.Background()
	good, _ := json.Marshal(events.New(events.TypeUserDeactivated, 1, nil))

	var got []events.Event
	ok := func(_ context.Context, e events.Event) error { got = append(got, e); return nil }
	failing := func(context.Context, events.Event) error { return errors.New("db down") }

	a := &fakeAck{}
	Handle(ctx, 0, good, a, ok)
	assert.True(t, a.acked)
	assert.Len(t, got, 1)

	a = &fakeAck{}
	Handle(ctx, 0, good, a, failing)
	assert.True(t, a.nacked)
	assert.False(t, a.requeued)

	a = &fakeAck{}
	Handle(ctx, 0, []byte("{"), a, ok)
	assert.True(t, a.nacked)
	assert.Len(t, got, 1)
}
