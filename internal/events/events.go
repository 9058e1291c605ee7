package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeProfileCompleted = "profile.completed"
	TypeQuizCompleted    = "quiz.completed"
	TypeUserDeactivated  = "user.deactivated"
)

// Event is a domain fact published after the in-memory state changed.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	UserID  int64           `json:"user_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// New builds an event with a fresh id. A payload that cannot be encoded is
// dropped rather than failing the caller.
func New(typ string, userID int64, payload any) Event {
	e := Event{ID: uuid.NewString(), Type: typ, UserID: userID, At: time.Now().UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Printf("events type=%s encode payload failed err=%v", typ, err)
		} else {
			e.Payload = b
		}
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Emit publishes e and only logs a failure. Domain operations never fail
// because the broker is unavailable.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Printf("events publish failed type=%s id=%s err=%v", e.Type, e.ID, err)
	}
}
