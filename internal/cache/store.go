package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/idgen"
)

var ErrNotFound = errors.New("cache: record not found")

// Cloner lets an entity hand out copies that do not share slices or maps with
// the cached value. Entities without it are copied shallowly.
type Cloner[E any] interface {
	Clone() E
}

// Report summarises one persistence pass over a store.
type Report struct {
	Kind      durable.Kind
	Succeeded int
	Total     int
}

func (r Report) Failed() int { return r.Total - r.Succeeded }

// Store is the in-memory, authoritative collection for one entity kind.
// Mutations only touch memory and mark the key dirty; PersistAll mirrors
// dirty keys and pending deletes to the durable store.
type Store[E any] struct {
	kind    durable.Kind
	durable durable.Store
	alloc   *idgen.Allocator
	setKey  func(*E, int64)

	mu      sync.RWMutex
	records map[int64]E
	dirty   map[int64]uint64
	deleted map[int64]struct{}
	gen     uint64

	loaded atomic.Bool
}

// New builds a store for kind. setKey writes an allocated key into the entity.
func New[E any](kind durable.Kind, ds durable.Store, alloc *idgen.Allocator, setKey func(*E, int64)) *Store[E] {
	return &Store[E]{
		kind:    kind,
		durable: ds,
		alloc:   alloc,
		setKey:  setKey,
		records: make(map[int64]E),
		dirty:   make(map[int64]uint64),
		deleted: make(map[int64]struct{}),
	}
}

func (s *Store[E]) Kind() durable.Kind { return s.kind }

func (s *Store[E]) copyOf(e E) E {
	if c, ok := any(e).(Cloner[E]); ok {
		return c.Clone()
	}
	return e
}

// must hold s.mu
func (s *Store[E]) markDirty(key int64) {
	s.gen++
	s.dirty[key] = s.gen
	delete(s.deleted, key)
}

// Create allocates a key, stores e under it and returns the key.
func (s *Store[E]) Create(e E) (int64, error) {
	key, err := s.alloc.Next()
	if err != nil {
		return 0, err
	}
	s.setKey(&e, key)

	s.mu.Lock()
	s.records[key] = s.copyOf(e)
	s.markDirty(key)
	s.mu.Unlock()
	return key, nil
}

// Put stores e under an existing key and marks it dirty.
func (s *Store[E]) Put(key int64, e E) {
	s.setKey(&e, key)
	if s.alloc != nil {
		s.alloc.Observe(key)
	}
	s.mu.Lock()
	s.records[key] = s.copyOf(e)
	s.markDirty(key)
	s.mu.Unlock()
}

func (s *Store[E]) Get(key int64) (E, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[key]
	if !ok {
		var zero E
		return zero, false
	}
	return s.copyOf(e), true
}

// Update applies fn to the stored entity in place. It reports false when key
// is absent.
func (s *Store[E]) Update(key int64, fn func(*E)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[key]
	if !ok {
		return false
	}
	fn(&e)
	s.setKey(&e, key)
	s.records[key] = e
	s.markDirty(key)
	return true
}

// Delete removes key from memory and queues the durable delete. Dependents
// are the caller's concern.
func (s *Store[E]) Delete(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return false
	}
	delete(s.records, key)
	delete(s.dirty, key)
	s.deleted[key] = struct{}{}
	return true
}

func (s *Store[E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Keys returns every key in ascending order.
func (s *Store[E]) Keys() []int64 {
	s.mu.RLock()
	keys := make([]int64, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Range calls fn for a snapshot of the records in key order until fn returns
// false. fn may call back into the store.
func (s *Store[E]) Range(fn func(key int64, e E) bool) {
	type entry struct {
		key int64
		e   E
	}
	s.mu.RLock()
	snap := make([]entry, 0, len(s.records))
	for k, e := range s.records {
		snap = append(snap, entry{k, s.copyOf(e)})
	}
	s.mu.RUnlock()
	sort.Slice(snap, func(i, j int) bool { return snap[i].key < snap[j].key })

	for _, en := range snap {
		if !fn(en.key, en.e) {
			return
		}
	}
}

// Pending reports how many keys wait for the next persistence pass.
func (s *Store[E]) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) + len(s.deleted)
}

type pendingWrite struct {
	key  int64
	gen  uint64
	body []byte
}

// snapshot encodes the given dirty keys under the read lock. Keys that fail
// to encode are returned separately.
func (s *Store[E]) snapshot(keys []int64) (writes []pendingWrite, failed []int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		gen, isDirty := s.dirty[k]
		e, ok := s.records[k]
		if !ok {
			continue
		}
		body, err := json.Marshal(e)
		if err != nil {
			log.Printf("cache kind=%s key=%d encode failed err=%v", s.kind, k, err)
			failed = append(failed, k)
			continue
		}
		if !isDirty {
			gen = 0
		}
		writes = append(writes, pendingWrite{key: k, gen: gen, body: body})
	}
	return writes, failed
}

func (s *Store[E]) upsert(ctx context.Context, w pendingWrite) error {
	if err := s.durable.UpdateOne(ctx, s.kind, durable.ByKey(w.key), w.body, true); err != nil {
		return &durable.PersistenceError{Kind: s.kind, Key: w.key, Op: "upsert", Err: err}
	}
	s.mu.Lock()
	if g, ok := s.dirty[w.key]; ok && g == w.gen {
		delete(s.dirty, w.key)
	}
	s.mu.Unlock()
	return nil
}

// PersistAll upserts every dirty record and applies queued deletes. A failing
// record is logged and stays queued; it never stops the rest of the batch.
func (s *Store[E]) PersistAll(ctx context.Context) Report {
	s.mu.RLock()
	dirtyKeys := make([]int64, 0, len(s.dirty))
	for k := range s.dirty {
		dirtyKeys = append(dirtyKeys, k)
	}
	deletes := make([]int64, 0, len(s.deleted))
	for k := range s.deleted {
		deletes = append(deletes, k)
	}
	s.mu.RUnlock()
	sort.Slice(dirtyKeys, func(i, j int) bool { return dirtyKeys[i] < dirtyKeys[j] })
	sort.Slice(deletes, func(i, j int) bool { return deletes[i] < deletes[j] })

	rep := Report{Kind: s.kind}
	writes, encodeFailures := s.snapshot(dirtyKeys)
	rep.Total += len(encodeFailures)

	for _, w := range writes {
		rep.Total++
		if err := s.upsert(ctx, w); err != nil {
			log.Printf("cache persist failed %v", err)
			continue
		}
		rep.Succeeded++
	}

	for _, k := range deletes {
		rep.Total++
		if err := s.durable.DeleteOne(ctx, s.kind, durable.ByKey(k)); err != nil {
			log.Printf("cache persist failed %v", &durable.PersistenceError{Kind: s.kind, Key: k, Op: "delete", Err: err})
			continue
		}
		s.mu.Lock()
		if _, recreated := s.records[k]; !recreated {
			delete(s.deleted, k)
		}
		s.mu.Unlock()
		rep.Succeeded++
	}
	return rep
}

// Persist upserts the named keys right away, whether or not they are dirty.
// Missing keys are skipped.
func (s *Store[E]) Persist(ctx context.Context, keys ...int64) error {
	writes, encodeFailures := s.snapshot(keys)
	var errs []error
	for _, k := range encodeFailures {
		errs = append(errs, &durable.PersistenceError{Kind: s.kind, Key: k, Op: "encode", Err: errors.New("marshal failed")})
	}
	for _, w := range writes {
		if err := s.upsert(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadAll hydrates the store from the durable store. It runs at most once; a
// failed read leaves the store empty and still counts as the one run.
func (s *Store[E]) LoadAll(ctx context.Context) error {
	if !s.loaded.CompareAndSwap(false, true) {
		return nil
	}

	docs, err := s.durable.Find(ctx, s.kind, durable.Filter{})
	if err != nil {
		log.Printf("cache kind=%s hydrate failed, starting empty err=%v", s.kind, err)
		return &durable.PersistenceError{Kind: s.kind, Op: "load", Err: err}
	}

	var maxKey int64
	loaded := 0
	s.mu.Lock()
	for _, d := range docs {
		var e E
		if err := json.Unmarshal(d.Body, &e); err != nil {
			log.Printf("cache kind=%s key=%d decode failed, skipped err=%v", s.kind, d.Key, err)
			continue
		}
		s.setKey(&e, d.Key)
		if _, exists := s.records[d.Key]; exists {
			continue
		}
		s.records[d.Key] = e
		loaded++
		if d.Key > maxKey {
			maxKey = d.Key
		}
	}
	s.mu.Unlock()

	if s.alloc != nil {
		s.alloc.Observe(maxKey)
	}
	log.Printf("cache kind=%s hydrated records=%d", s.kind, loaded)
	return nil
}

// Loaded reports whether LoadAll already ran.
func (s *Store[E]) Loaded() bool { return s.loaded.Load() }
