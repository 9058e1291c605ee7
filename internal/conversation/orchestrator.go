package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/matchcore/internal/ai"
	"github.com/suPer8Hu/matchcore/internal/events"
	"github.com/suPer8Hu/matchcore/internal/metrics"
)

var (
	ErrEmptyMessage = errors.New("conversation: message is empty")
	ErrUnknownUser  = errors.New("conversation: user does not exist")
)

// Outcome is what a send produced. Success is false when the fallback reply
// was used.
type Outcome struct {
	Reply     string    `json:"reply"`
	Profile   string    `json:"profile,omitempty"`
	Questions string    `json:"questions,omitempty"`
	Final     bool      `json:"final"`
	Success   bool      `json:"success"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// Profiles is the user-side collaborator: it confirms the user exists,
// supplies the gender used to pick the preamble and receives the profile of a
// finished conversation.
type Profiles interface {
	Exists(userID int64) bool
	GenderOf(userID int64) string
	UpdateProfile(ctx context.Context, userID int64, profile string) error
}

// Enqueuer accepts conversation keys for immediate persistence.
type Enqueuer interface {
	Enqueue(key int64) bool
}

type Options struct {
	Retry   RetryPolicy
	Timeout time.Duration
	Rules   *Rules
	Prompts *Prompts
}

// Orchestrator runs the AI dialogue on top of the conversation store.
type Orchestrator struct {
	store     *Store
	provider  ai.Provider
	rules     *Rules
	prompts   *Prompts
	policy    RetryPolicy
	timeout   time.Duration
	profiles  Profiles
	flusher   Enqueuer
	publisher events.Publisher

	sleep SleepFunc
	now   func() time.Time

	mu     sync.Mutex
	byUser map[int64]int64
	locks  map[int64]*sync.Mutex
}

func NewOrchestrator(store *Store, provider ai.Provider, opts Options) *Orchestrator {
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Prompts == nil {
		p, err := LoadPrompts("")
		if err != nil {
			panic(err)
		}
		opts.Prompts = p
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Retry.Unit <= 0 {
		opts.Retry.Unit = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Orchestrator{
		store:     store,
		provider:  provider,
		rules:     opts.Rules,
		prompts:   opts.Prompts,
		policy:    opts.Retry,
		timeout:   opts.Timeout,
		publisher: events.Nop{},
		sleep:     realSleep,
		now:       time.Now,
		byUser:    make(map[int64]int64),
		locks:     make(map[int64]*sync.Mutex),
	}
}

func (o *Orchestrator) SetProfiles(p Profiles)          { o.profiles = p }
func (o *Orchestrator) SetFlusher(f Enqueuer)           { o.flusher = f }
func (o *Orchestrator) SetPublisher(p events.Publisher) { o.publisher = p }

// Reindex rebuilds the user index from the store. Call it after hydration.
func (o *Orchestrator) Reindex() {
	idx := make(map[int64]int64)
	o.store.Range(func(key int64, c Conversation) bool {
		idx[c.UserID] = key
		return true
	})
	o.mu.Lock()
	o.byUser = idx
	o.mu.Unlock()
}

func (o *Orchestrator) userLock(userID int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[userID] = l
	}
	return l
}

// lookup returns the conversation key of userID. Index entries whose record
// was removed behind our back are dropped.
func (o *Orchestrator) lookup(userID int64) (int64, bool) {
	o.mu.Lock()
	key, ok := o.byUser[userID]
	o.mu.Unlock()
	if !ok {
		return 0, false
	}
	if _, exists := o.store.Get(key); !exists {
		o.mu.Lock()
		if o.byUser[userID] == key {
			delete(o.byUser, userID)
		}
		o.mu.Unlock()
		return 0, false
	}
	return key, true
}

func (o *Orchestrator) ensure(userID int64) (int64, error) {
	if key, ok := o.lookup(userID); ok {
		return key, nil
	}
	at := o.now().UTC()
	key, err := o.store.Create(Conversation{UserID: userID, Turns: []Turn{}, State: StateIdle, CreatedAt: at, UpdatedAt: at})
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	o.byUser[userID] = key
	o.mu.Unlock()
	return key, nil
}

func (o *Orchestrator) preamble(userID int64) string {
	gender := "neutral"
	if o.profiles != nil {
		if g := o.profiles.GenderOf(userID); g != "" {
			gender = g
		}
	}
	return o.prompts.Preamble(gender)
}

// Send appends the user's message, asks the provider for a reply with
// bounded retries and records the reply. Provider failures never surface as
// an error: after the last attempt the fallback reply is returned with
// Success false. Errors are reserved for invalid input and allocation
// failures.
func (o *Orchestrator) Send(ctx context.Context, userID int64, message string) (Outcome, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Outcome{}, ErrEmptyMessage
	}
	if o.profiles != nil && !o.profiles.Exists(userID) {
		return Outcome{}, ErrUnknownUser
	}

	l := o.userLock(userID)
	l.Lock()
	defer l.Unlock()

	key, err := o.ensure(userID)
	if err != nil {
		return Outcome{}, err
	}

	var turns []Turn
	o.store.Update(key, func(c *Conversation) {
		c.appendTurn(SpeakerUser, message, o.now().UTC())
		c.State = StateAwaitingReply
		turns = append([]Turn(nil), c.Turns...)
	})
	payload := requestMessages(o.preamble(userID), turns)

	var reply string
	res := retry(ctx, o.policy, o.sleep, ai.Retryable, func(ctx context.Context, attempt int) error {
		// the provider call is bounded by its own deadline, not by the caller
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		out, err := o.provider.Chat(callCtx, payload)
		if err != nil {
			result := "fatal"
			if ai.Retryable(err) {
				result = "retryable"
			}
			metrics.AIAttempts.WithLabelValues(result).Inc()
			log.Printf("conversation user=%d attempt=%d/%d failed err=%v", userID, attempt, o.policy.MaxAttempts, err)
			return err
		}
		metrics.AIAttempts.WithLabelValues("ok").Inc()
		reply = out
		return nil
	})

	if res.LastError != nil {
		metrics.AIFallbacks.Inc()
		o.store.Update(key, func(c *Conversation) { c.State = StateIdle })
		log.Printf("conversation user=%d falling back after attempts=%d err=%v", userID, res.Attempts, res.LastError)
		return Outcome{
			Reply:    o.rules.FallbackReply,
			Success:  false,
			Attempts: res.Attempts,
			At:       o.now().UTC(),
		}, nil
	}

	out := Outcome{Reply: reply, Success: true, Attempts: res.Attempts}
	if o.rules.Classify(reply) == Final {
		out.Final = true
		out.Profile, out.Questions = o.rules.Split(reply)
	}

	o.store.Update(key, func(c *Conversation) {
		t := c.appendTurn(SpeakerAssistant, reply, o.now().UTC())
		out.At = t.Timestamp
		if out.Final {
			c.State = StateTerminal
		} else {
			c.State = StateIdle
		}
	})

	if o.flusher != nil {
		o.flusher.Enqueue(key)
	}

	if out.Final {
		o.finish(ctx, userID, out)
	}
	return out, nil
}

func (o *Orchestrator) finish(ctx context.Context, userID int64, out Outcome) {
	if o.profiles != nil && out.Profile != "" {
		if err := o.profiles.UpdateProfile(ctx, userID, out.Profile); err != nil {
			log.Printf("conversation user=%d profile update failed err=%v", userID, err)
		}
	}
	events.Emit(ctx, o.publisher, events.New(events.TypeProfileCompleted, userID, map[string]string{
		"profile":   out.Profile,
		"questions": out.Questions,
	}))
}

// History returns the user's turns in order. Users without a conversation
// get an empty slice.
func (o *Orchestrator) History(userID int64) []Turn {
	key, ok := o.lookup(userID)
	if !ok {
		return []Turn{}
	}
	c, ok := o.store.Get(key)
	if !ok {
		return []Turn{}
	}
	return c.Turns
}

// State reports the dialogue state of the user's conversation.
func (o *Orchestrator) State(userID int64) State {
	key, ok := o.lookup(userID)
	if !ok {
		return StateIdle
	}
	c, _ := o.store.Get(key)
	return c.State
}

// Reset clears the user's turns and returns the conversation to idle.
func (o *Orchestrator) Reset(userID int64) bool {
	l := o.userLock(userID)
	l.Lock()
	defer l.Unlock()

	key, ok := o.lookup(userID)
	if !ok {
		return false
	}
	return o.store.Update(key, func(c *Conversation) {
		c.Turns = []Turn{}
		c.State = StateIdle
		c.UpdatedAt = o.now().UTC()
	})
}

// Forget deletes the user's conversation.
func (o *Orchestrator) Forget(userID int64) bool {
	key, ok := o.lookup(userID)
	if !ok {
		return false
	}
	o.mu.Lock()
	delete(o.byUser, userID)
	o.mu.Unlock()
	return o.store.Delete(key)
}

func (o *Orchestrator) Store() *Store { return o.store }
