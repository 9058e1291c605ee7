package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/suPer8Hu/matchcore/internal/cache"
	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/integrity"
	"github.com/suPer8Hu/matchcore/internal/metrics"
)

// Persister is one entity store as seen by the scheduler.
type Persister interface {
	Kind() durable.Kind
	PersistAll(ctx context.Context) cache.Report
	Len() int
}

// WatermarkPublisher records allocator high-water marks after each tick.
type WatermarkPublisher interface {
	Publish(ctx context.Context)
}

type IntegrityFunc func(ctx context.Context) integrity.Result

// StoreResult is the outcome of one store within a tick. Err is set when the
// store panicked; per-record failures only show up in the report counts.
type StoreResult struct {
	cache.Report
	Err error `json:"error,omitempty"`
}

type TickReport struct {
	Integrity *integrity.Result `json:"integrity,omitempty"`
	Stores    []StoreResult     `json:"stores"`
	Duration  time.Duration     `json:"duration"`
}

// Failed counts stores that panicked or left records unpersisted.
func (r TickReport) Failed() int {
	n := 0
	for _, s := range r.Stores {
		if s.Err != nil || s.Failed() > 0 {
			n++
		}
	}
	return n
}

type job struct {
	name string
	spec string
	fn   func(ctx context.Context)
}

// Scheduler drains every registered store on a fixed period. Ticks never
// overlap and a failing store never stops the others.
type Scheduler struct {
	interval  time.Duration
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	integrity IntegrityFunc
	marks     WatermarkPublisher

	mu     sync.Mutex
	stores []Persister
	jobs   []job

	tickMu  sync.Mutex
	started bool
}

func New(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		interval: interval,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default())), cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Register(ps ...Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores = append(s.stores, ps...)
}

// SetIntegrity installs the pass run at the start of every tick.
func (s *Scheduler) SetIntegrity(fn IntegrityFunc) { s.integrity = fn }

func (s *Scheduler) SetWatermarks(w WatermarkPublisher) { s.marks = w }

// AddJob schedules a maintenance function next to the sync ticks. It must be
// called before Start.
func (s *Scheduler) AddJob(name, spec string, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job{name: name, spec: spec, fn: fn})
}

func (s *Scheduler) registered() []Persister {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Persister(nil), s.stores...)
}

// Tick runs one sync pass: integrity first, then every store in registration
// order, then the watermark publish.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	var rep TickReport

	if s.integrity != nil {
		res, err := safeIntegrity(ctx, s.integrity)
		if err != nil {
			log.Printf("sync integrity pass failed err=%v", err)
		} else {
			rep.Integrity = &res
			if !res.OK() {
				log.Printf("sync integrity checks=%d/%d errors=%v", res.ChecksCompleted, res.TotalChecks, res.Errors)
			}
		}
	}

	for _, p := range s.registered() {
		sr := persistOne(ctx, p)
		rep.Stores = append(rep.Stores, sr)

		kind := string(p.Kind())
		metrics.CachedRecords.WithLabelValues(kind).Set(float64(p.Len()))
		if sr.Err != nil {
			metrics.StoreFailures.WithLabelValues(kind).Inc()
			log.Printf("sync kind=%s store failed err=%v", kind, sr.Err)
			continue
		}
		metrics.RecordsPersisted.WithLabelValues(kind).Add(float64(sr.Succeeded))
		metrics.RecordsFailed.WithLabelValues(kind).Add(float64(sr.Failed()))
		if sr.Failed() > 0 {
			log.Printf("sync kind=%s persisted=%d/%d", kind, sr.Succeeded, sr.Total)
		}
	}

	if s.marks != nil {
		s.marks.Publish(ctx)
	}

	rep.Duration = time.Since(start)
	metrics.TickDuration.Observe(rep.Duration.Seconds())
	return rep
}

func persistOne(ctx context.Context, p Persister) (sr StoreResult) {
	sr.Kind = p.Kind()
	defer func() {
		if r := recover(); r != nil {
			sr.Err = fmt.Errorf("panic: %v", r)
		}
	}()
	sr.Report = p.PersistAll(ctx)
	return sr
}

func safeIntegrity(ctx context.Context, fn IntegrityFunc) (res integrity.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx), nil
}

// Start schedules the sync tick and every maintenance job.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("syncer: already started")
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.Tick(s.ctx) }); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	for _, j := range s.jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() {
			log.Printf("sync job=%s triggered", j.name)
			j.fn(s.ctx)
		}); err != nil {
			return fmt.Errorf("schedule job %s: %w", j.name, err)
		}
	}

	s.cron.Start()
	s.started = true
	log.Printf("sync scheduler started interval=%s stores=%d jobs=%d", s.interval, len(s.stores), len(s.jobs))
	return nil
}

// Stop stops scheduling, waits for a running tick or job and then performs
// the final flush with ctx. The final flush runs even if ctx expires while
// waiting; each store then reports its own failures.
func (s *Scheduler) Stop(ctx context.Context) TickReport {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
			log.Printf("sync stop: running jobs did not finish err=%v", ctx.Err())
		}
	}

	rep := s.Tick(ctx)
	s.cancel()
	log.Printf("sync final flush stores=%d failed=%d cost=%s", len(rep.Stores), rep.Failed(), rep.Duration)
	return rep
}
