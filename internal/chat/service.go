package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/matchcore/internal/common"
	"github.com/suPer8Hu/matchcore/internal/conversation"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound = errors.New("chat: job not found")
	ErrQueueFull   = errors.New("chat: job queue is full")
	ErrEmptyPrompt = errors.New("chat: prompt is empty")
	ErrClosed      = errors.New("chat: service closed")
)

const (
	maxIdempotencyKey = 128
	// bound on each job row write once it no longer follows the caller's ctx
	bookkeepingTimeout = 5 * time.Second
)

// Sender is the conversation orchestrator as seen by the job runner.
type Sender interface {
	Send(ctx context.Context, userID int64, message string) (conversation.Outcome, error)
}

// Service accepts AI sends as jobs and runs them on a bounded worker pool.
type Service struct {
	repo    *Repo
	sender  Sender
	workers int
	queue   chan string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(repo *Repo, sender Sender, workers, queueSize int) *Service {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	return &Service{repo: repo, sender: sender, workers: workers, queue: make(chan string, queueSize)}
}

// Submit stores a queued job and hands it to the pool. A repeated
// idempotency key returns the first job with created=false.
func (s *Service) Submit(ctx context.Context, userID int64, prompt, idempotencyKey string) (*Job, bool, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, false, ErrEmptyPrompt
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > maxIdempotencyKey {
		return nil, false, errors.New("chat: idempotency key too long")
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	j := &Job{ID: jobID, UserID: userID, Prompt: prompt, Status: JobQueued}
	if idempotencyKey != "" {
		j.IdempotencyKey = &idempotencyKey
	}

	job, created, err := s.repo.CreateJobOrGetExisting(ctx, j)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return job, false, nil
	}
	if err := s.enqueue(job.ID); err != nil {
		_ = s.repo.MarkJobFailed(ctx, job.ID, err.Error())
		return nil, false, err
	}
	return job, true, nil
}

func (s *Service) enqueue(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Get returns the job if it belongs to userID. Other users' jobs look
// missing.
func (s *Service) Get(ctx context.Context, userID int64, jobID string) (*Job, error) {
	j, err := s.repo.GetJobByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		// hide existence
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Start launches the workers and re-enqueues jobs left unfinished by a
// previous process.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func(workerID int) {
			defer s.wg.Done()
			for jobID := range s.queue {
				start := time.Now()
				if err := s.handleJob(ctx, jobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, jobID, time.Since(start), err)
				}
			}
		}(i)
	}

	pending, err := s.repo.ListUnfinished(ctx, cap(s.queue))
	if err != nil {
		log.Printf("chat jobs resume failed err=%v", err)
		return
	}
	for _, j := range pending {
		if j.Status == JobRunning {
			_ = s.repo.Requeue(ctx, j.ID)
		}
		if err := s.enqueue(j.ID); err != nil {
			log.Printf("chat jobs resume job=%s err=%v", j.ID, err)
		}
	}
	if len(pending) > 0 {
		log.Printf("chat jobs resumed=%d", len(pending))
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

// bookkeeping runs fn on a context that survives shutdown, so a job whose
// send already happened is never left running and sent again by the next
// process.
func bookkeeping(ctx context.Context, fn func(ctx context.Context) error) error {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	return fn(bctx)
}

func (s *Service) handleJob(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	if ctx.Err() != nil {
		// shutting down: leave it queued for the next process
		log.Printf("chat jobs job=%s left queued err=%v", jobID, ctx.Err())
		return nil
	}

	var claimed bool
	err := bookkeeping(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = s.repo.UpdateJobStatusRunning(ctx, jobID)
		return err
	})
	if err != nil {
		return err
	}
	if !claimed {
		// another worker owns it or it already finished
		return nil
	}
	var j *Job
	err = bookkeeping(ctx, func(ctx context.Context) error {
		var err error
		j, err = s.repo.GetJobByID(ctx, jobID)
		return err
	})
	if err != nil {
		_ = bookkeeping(ctx, func(ctx context.Context) error { return s.repo.Requeue(ctx, jobID) })
		return err
	}

	t := time.Now()
	out, err := s.sender.Send(ctx, j.UserID, j.Prompt)
	genCost := time.Since(t)
	if err != nil {
		_ = bookkeeping(ctx, func(ctx context.Context) error { return s.repo.MarkJobFailed(ctx, jobID, err.Error()) })
		log.Printf("job_timing_failed job=%s gen=%s total=%s err=%v", jobID, genCost, time.Since(jobStart), err)
		return err
	}

	if err := bookkeeping(ctx, func(ctx context.Context) error { return s.repo.MarkJobSucceeded(ctx, jobID, out) }); err != nil {
		return err
	}
	if total := time.Since(jobStart); total > 2*time.Second {
		log.Printf("job_timing job=%s gen=%s attempts=%d total=%s", jobID, genCost, out.Attempts, total)
	}
	return nil
}
