package durable

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It backs DB_DRIVER=memory and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Kind]map[int64]Document
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[Kind]map[int64]Document), now: time.Now}
}

func (s *MemoryStore) matching(kind Kind, f Filter) []Document {
	coll := s.docs[kind]
	var out []Document
	if len(f.Keys) > 0 {
		for _, k := range f.Keys {
			if d, ok := coll[k]; ok {
				out = append(out, d)
			}
		}
	} else {
		out = make([]Document, 0, len(coll))
		for _, d := range coll {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Desc {
			return out[i].Key > out[j].Key
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func cloneDoc(d Document) Document {
	d.Body = append([]byte(nil), d.Body...)
	return d
}

func (s *MemoryStore) Find(ctx context.Context, kind Kind, f Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.matching(kind, f)
	if f.Limit > 0 && len(docs) > f.Limit {
		docs = docs[:f.Limit]
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, cloneDoc(d))
	}
	return out, nil
}

func (s *MemoryStore) FindOne(ctx context.Context, kind Kind, f Filter) (*Document, error) {
	docs, err := s.Find(ctx, kind, Filter{Keys: f.Keys, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0], nil
}

func (s *MemoryStore) insertLocked(doc Document) error {
	coll, ok := s.docs[doc.Kind]
	if !ok {
		coll = make(map[int64]Document)
		s.docs[doc.Kind] = coll
	}
	if _, exists := coll[doc.Key]; exists {
		return fmt.Errorf("durable: duplicate key %s/%d", doc.Kind, doc.Key)
	}
	doc = cloneDoc(doc)
	doc.UpdatedAt = s.now()
	coll[doc.Key] = doc
	return nil
}

func (s *MemoryStore) InsertOne(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(doc)
}

func (s *MemoryStore) InsertMany(ctx context.Context, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if err := s.insertLocked(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) UpdateOne(ctx context.Context, kind Kind, f Filter, body []byte, upsert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(f.Keys) != 1 {
		return ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := f.Keys[0]
	if _, ok := s.docs[kind][key]; !ok {
		if !upsert {
			return ErrNotFound
		}
		return s.insertLocked(Document{Kind: kind, Key: key, Body: body})
	}
	s.docs[kind][key] = Document{Kind: kind, Key: key, Body: append([]byte(nil), body...), UpdatedAt: s.now()}
	return nil
}

func (s *MemoryStore) DeleteOne(ctx context.Context, kind Kind, f Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.matching(kind, f)
	if len(docs) == 0 {
		return nil
	}
	delete(s.docs[kind], docs[0].Key)
	return nil
}

func (s *MemoryStore) DeleteMany(ctx context.Context, kind Kind, f Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.matching(kind, f)
	for _, d := range docs {
		delete(s.docs[kind], d.Key)
	}
	return int64(len(docs)), nil
}

func (s *MemoryStore) Count(ctx context.Context, kind Kind, f Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matching(kind, f))), nil
}
