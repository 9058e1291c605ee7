package durable

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind names a durable collection. Every entity kind owns one.
type Kind string

const (
	KindUser         Kind = "users"
	KindMatch        Kind = "matches"
	KindChatSession  Kind = "chat_sessions"
	KindConversation Kind = "ai_conversations"
	KindQuizSession  Kind = "quiz_sessions"
)

var ErrNotFound = errors.New("durable: document not found")

// Document is one persisted record. Key doubles as the primary identifier
// inside its collection.
type Document struct {
	Kind      Kind
	Key       int64
	Body      []byte
	UpdatedAt time.Time
}

// Filter selects documents of one kind. An empty Keys slice matches every
// document. Desc and Limit only affect Find.
type Filter struct {
	Keys  []int64
	Desc  bool
	Limit int
}

// ByKey is shorthand for a single-key filter.
func ByKey(key int64) Filter {
	return Filter{Keys: []int64{key}}
}

// Store is the durable collaborator. Entity stores depend on nothing beyond it.
type Store interface {
	Find(ctx context.Context, kind Kind, f Filter) ([]Document, error)
	FindOne(ctx context.Context, kind Kind, f Filter) (*Document, error)
	InsertOne(ctx context.Context, doc Document) error
	InsertMany(ctx context.Context, docs []Document) error
	UpdateOne(ctx context.Context, kind Kind, f Filter, body []byte, upsert bool) error
	DeleteOne(ctx context.Context, kind Kind, f Filter) error
	DeleteMany(ctx context.Context, kind Kind, f Filter) (int64, error)
	Count(ctx context.Context, kind Kind, f Filter) (int64, error)
}

// MaxKey returns the largest key persisted for kind, or 0 when the
// collection is empty.
func MaxKey(ctx context.Context, s Store, kind Kind) (int64, error) {
	docs, err := s.Find(ctx, kind, Filter{Desc: true, Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	return docs[0].Key, nil
}

// PersistenceError reports a failed durable call for a single record.
type PersistenceError struct {
	Kind Kind
	Key  int64
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("durable: %s %s/%d: %v", e.Op, e.Kind, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
