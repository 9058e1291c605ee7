package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/matchcore/internal/conversation"
	"gorm.io/gorm"
)

type recordingSender struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *recordingSender) Send(ctx context.Context, userID int64, message string) (conversation.Outcome, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%d:%s", userID, message))
	if s.err != nil {
		return conversation.Outcome{}, s.err
	}
	return conversation.Outcome{Reply: "echo " + message, Success: true, Attempts: 1}, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestSubmit_RunsJobAndStoresReply(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	sender := &recordingSender{}
	svc := NewService(repo, sender, 1, 8)
	ctx := context.Background()
	svc.Start(ctx)

	job, created, err := svc.Submit(ctx, 1, "  Hello  ", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !created || job.Status != JobQueued {
		t.Fatalf("expected new queued job, got created=%v status=%s", created, job.Status)
	}
	svc.Close()

	got, err := svc.Get(ctx, 1, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobSucceeded {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
	if got.Reply == nil || *got.Reply != "echo Hello" {
		t.Fatalf("unexpected reply: %v", got.Reply)
	}
	if !got.Success || got.Attempts != 1 {
		t.Fatalf("unexpected outcome: success=%v attempts=%d", got.Success, got.Attempts)
	}
	if len(sender.calls) != 1 || sender.calls[0] != "1:Hello" {
		t.Fatalf("unexpected sender calls: %v", sender.calls)
	}

	if _, err := svc.Get(ctx, 2, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected other user to see not found, got %v", err)
	}
}

func TestSubmit_IdempotencyKeyReturnsExistingJob(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, &recordingSender{}, 1, 8)
	ctx := context.Background()

	first, created, err := svc.Submit(ctx, 7, "hi", "key-1")
	if err != nil || !created {
		t.Fatalf("first submit: created=%v err=%v", created, err)
	}
	second, created, err := svc.Submit(ctx, 7, "hi again", "key-1")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing job %s, got %s created=%v", first.ID, second.ID, created)
	}

	// same key, different user is a different job
	other, created, err := svc.Submit(ctx, 8, "hi", "key-1")
	if err != nil || !created || other.ID == first.ID {
		t.Fatalf("expected new job for another user: created=%v err=%v", created, err)
	}

	if _, _, err := svc.Submit(ctx, 7, "   ", ""); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestHandleJob_MarksFailure(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, &recordingSender{err: errors.New("user lock lost")}, 1, 8)
	ctx := context.Background()
	svc.Start(ctx)

	job, _, err := svc.Submit(ctx, 3, "hello", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	svc.Close()

	got, err := repo.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobFailed || got.Error == nil || *got.Error != "user lock lost" {
		t.Fatalf("unexpected job state: status=%s err=%v", got.Status, got.Error)
	}
}

func TestStart_ResumesUnfinishedJobs(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	for i, st := range []JobStatus{JobQueued, JobRunning, JobSucceeded} {
		j := &Job{ID: fmt.Sprintf("01JOB%021d", i), UserID: 5, Prompt: fmt.Sprintf("p%d", i), Status: st}
		if err := repo.CreateJob(ctx, j); err != nil {
			t.Fatalf("seed job %d: %v", i, err)
		}
	}

	sender := &recordingSender{}
	svc := NewService(repo, sender, 1, 8)
	svc.Start(ctx)
	svc.Close()

	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 resumed jobs, got %v", sender.calls)
	}
	pending, err := repo.ListUnfinished(ctx, 0)
	if err != nil {
		t.Fatalf("list unfinished: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no unfinished jobs, got %d", len(pending))
	}

	if _, _, err := svc.Submit(ctx, 5, "late", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

// gatedSender blocks every send until release is closed.
type gatedSender struct {
	recordingSender
	started chan struct{}
	release chan struct{}
}

func (s *gatedSender) Send(ctx context.Context, userID int64, message string) (conversation.Outcome, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	return s.recordingSender.Send(ctx, userID, message)
}

func TestShutdownMidSend_RecordsOutcomeAndDoesNotResend(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	sender := &gatedSender{started: make(chan struct{}, 1), release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(repo, sender, 1, 8)
	svc.Start(ctx)

	inFlight, _, err := svc.Submit(ctx, 4, "first", "")
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	<-sender.started
	waiting, _, err := svc.Submit(ctx, 4, "second", "")
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	// the signal arrives while the first send is still with the provider
	cancel()
	close(sender.release)
	svc.Close()

	bg := context.Background()
	got, err := repo.GetJobByID(bg, inFlight.ID)
	if err != nil {
		t.Fatalf("get in-flight job: %v", err)
	}
	if got.Status != JobSucceeded {
		t.Fatalf("expected in-flight job succeeded after shutdown, got %s", got.Status)
	}
	got, err = repo.GetJobByID(bg, waiting.ID)
	if err != nil {
		t.Fatalf("get waiting job: %v", err)
	}
	if got.Status != JobQueued {
		t.Fatalf("expected unclaimed job to stay queued, got %s", got.Status)
	}

	restarted := NewService(repo, sender, 1, 8)
	restarted.Start(bg)
	restarted.Close()

	if len(sender.calls) != 2 || sender.calls[0] != "4:first" || sender.calls[1] != "4:second" {
		t.Fatalf("expected each prompt sent exactly once, got %v", sender.calls)
	}
}
