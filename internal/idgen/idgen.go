package idgen

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/suPer8Hu/matchcore/internal/durable"
)

var ErrNotInitialized = errors.New("idgen: allocator not initialized")

// Seeder reports the largest key already persisted for a kind.
type Seeder func(ctx context.Context) (int64, error)

// Watermarks is an optional durable high-water mark per kind. It closes the
// gap left by the timestamp fallback: a restart whose durable read fails still
// never allocates below a value published by a previous process.
type Watermarks interface {
	Load(ctx context.Context, kind string) (int64, error)
	Store(ctx context.Context, kind string, value int64) error
}

// Allocator hands out strictly increasing keys for one entity kind.
type Allocator struct {
	kind  durable.Kind
	seed  Seeder
	marks Watermarks
	now   func() time.Time

	mu          sync.Mutex
	initialized atomic.Bool
	counter     atomic.Int64
}

func NewAllocator(kind durable.Kind, seed Seeder, marks Watermarks) *Allocator {
	return &Allocator{kind: kind, seed: seed, marks: marks, now: time.Now}
}

// Initialize seeds the counter. Only the first call does any work. A failed
// durable read falls back to the wall clock in milliseconds.
func (a *Allocator) Initialize(ctx context.Context) {
	if a.initialized.Load() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized.Load() {
		return
	}

	var start int64
	if a.seed != nil {
		max, err := a.seed(ctx)
		if err != nil {
			start = a.now().UnixMilli()
			log.Printf("idgen kind=%s seed read failed, using clock seed=%d err=%v", a.kind, start, err)
		} else {
			start = max
		}
	}

	if a.marks != nil {
		mark, err := a.marks.Load(ctx, string(a.kind))
		if err != nil {
			log.Printf("idgen kind=%s watermark read failed err=%v", a.kind, err)
		} else if mark > start {
			start = mark
		}
	}

	if cur := a.counter.Load(); cur > start {
		start = cur
	}
	a.counter.Store(start)
	a.initialized.Store(true)
	log.Printf("idgen kind=%s initialized counter=%d", a.kind, start)
}

func (a *Allocator) Next() (int64, error) {
	if !a.initialized.Load() {
		return 0, ErrNotInitialized
	}
	return a.counter.Add(1), nil
}

// Current returns the last issued (or seeded) value.
func (a *Allocator) Current() int64 {
	return a.counter.Load()
}

// Observe raises the counter to at least key.
func (a *Allocator) Observe(key int64) {
	for {
		cur := a.counter.Load()
		if key <= cur || a.counter.CompareAndSwap(cur, key) {
			return
		}
	}
}

func (a *Allocator) Kind() durable.Kind { return a.kind }

// Set groups one allocator per entity kind.
type Set struct {
	marks      Watermarks
	allocators map[durable.Kind]*Allocator
	order      []durable.Kind
}

// NewSet builds allocators seeded from the maximum key stored for each kind.
// marks may be nil.
func NewSet(store durable.Store, marks Watermarks, kinds ...durable.Kind) *Set {
	s := &Set{marks: marks, allocators: make(map[durable.Kind]*Allocator, len(kinds))}
	for _, k := range kinds {
		kind := k
		seed := func(ctx context.Context) (int64, error) {
			return durable.MaxKey(ctx, store, kind)
		}
		s.allocators[kind] = NewAllocator(kind, seed, marks)
		s.order = append(s.order, kind)
	}
	return s
}

func (s *Set) Get(kind durable.Kind) *Allocator {
	return s.allocators[kind]
}

func (s *Set) InitializeAll(ctx context.Context) {
	for _, k := range s.order {
		s.allocators[k].Initialize(ctx)
	}
}

// Publish writes every counter to the watermark store. Failures are logged.
func (s *Set) Publish(ctx context.Context) {
	if s.marks == nil {
		return
	}
	for _, k := range s.order {
		a := s.allocators[k]
		if !a.initialized.Load() {
			continue
		}
		if err := s.marks.Store(ctx, string(k), a.Current()); err != nil {
			log.Printf("idgen kind=%s watermark publish failed err=%v", k, err)
		}
	}
}
