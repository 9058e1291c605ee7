package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/matchcore/internal/ai"
	"github.com/suPer8Hu/matchcore/internal/cache"
	"github.com/suPer8Hu/matchcore/internal/chat"
	"github.com/suPer8Hu/matchcore/internal/chatrooms"
	"github.com/suPer8Hu/matchcore/internal/config"
	"github.com/suPer8Hu/matchcore/internal/conversation"
	"github.com/suPer8Hu/matchcore/internal/db"
	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/events"
	"github.com/suPer8Hu/matchcore/internal/httpapi"
	"github.com/suPer8Hu/matchcore/internal/httpapi/handlers"
	"github.com/suPer8Hu/matchcore/internal/idgen"
	"github.com/suPer8Hu/matchcore/internal/integrity"
	"github.com/suPer8Hu/matchcore/internal/matches"
	"github.com/suPer8Hu/matchcore/internal/quiz"
	"github.com/suPer8Hu/matchcore/internal/store/rabbitmq"
	"github.com/suPer8Hu/matchcore/internal/store/redisstore"
	"github.com/suPer8Hu/matchcore/internal/syncer"
	"github.com/suPer8Hu/matchcore/internal/users"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	var ds durable.Store
	if gdb == nil {
		log.Printf("DB_DRIVER=memory, records live only as long as the process")
		ds = durable.NewMemoryStore()
	} else {
		ds = durable.NewGormStore(gdb)
	}

	// watermarks harden id allocation against a durable store that lags
	// behind; without redis the allocators seed from the durable max key only
	var marks idgen.Watermarks
	var rdb *redisstore.Store
	if cfg.RedisAddr != "" {
		s, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("redis unavailable addr=%s, continuing without watermarks err=%v", cfg.RedisAddr, err)
		} else {
			rdb = s
			marks = s
		}
	}

	var publisher events.Publisher = events.Nop{}
	var rabbitPub *rabbitmq.Publisher
	if cfg.RabbitURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("rabbitmq unavailable, domain events are dropped err=%v", err)
		} else {
			rabbitPub = p
			publisher = p
		}
	}

	ids := idgen.NewSet(ds, marks,
		durable.KindUser, durable.KindMatch, durable.KindChatSession, durable.KindConversation, durable.KindQuizSession)
	ids.InitializeAll(ctx)

	userStore := cache.New[users.User](durable.KindUser, ds, ids.Get(durable.KindUser), users.SetKey)
	matchStore := cache.New[matches.Match](durable.KindMatch, ds, ids.Get(durable.KindMatch), matches.SetKey)
	chatStore := cache.New[chatrooms.ChatSession](durable.KindChatSession, ds, ids.Get(durable.KindChatSession), chatrooms.SetKey)
	convStore := cache.New[conversation.Conversation](durable.KindConversation, ds, ids.Get(durable.KindConversation), conversation.SetKey)
	quizStore := cache.New[quiz.Session](durable.KindQuizSession, ds, ids.Get(durable.KindQuizSession), quiz.SetKey)

	usersSvc := users.NewService(userStore, publisher)
	matchesSvc := matches.NewService(matchStore, usersSvc)
	chatsSvc := chatrooms.NewService(chatStore, matchesSvc)
	usersSvc.AttachCascade(matchesSvc, chatsSvc)

	reg := ai.NewDefaultRegistry(ai.Settings{
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OllamaModel:       cfg.OllamaModel,
		OpenRouterBaseURL: cfg.OpenRouterURL,
		OpenRouterAPIKey:  cfg.OpenRouterKey,
		OpenRouterModel:   cfg.OpenRouterModel,
		OpenRouterSiteURL: cfg.OpenRouterSite,
		OpenRouterAppName: cfg.OpenRouterApp,
	})
	provider, err := reg.Get(ctx, cfg.AIProvider, cfg.AIModel)
	if err != nil {
		log.Fatalf("ai provider=%s: %v", cfg.AIProvider, err)
	}
	rules, err := conversation.LoadRules(cfg.ConversationRulesPath)
	if err != nil {
		log.Fatalf("conversation rules: %v", err)
	}
	prompts, err := conversation.LoadPrompts(cfg.SystemPromptPath)
	if err != nil {
		log.Fatalf("system prompt: %v", err)
	}
	orch := conversation.NewOrchestrator(convStore, provider, conversation.Options{
		Retry:   conversation.RetryPolicy{MaxAttempts: cfg.AIMaxAttempts, Unit: cfg.AIBackoffUnit},
		Timeout: cfg.AITimeout,
		Rules:   rules,
		Prompts: prompts,
	})
	orch.SetProfiles(usersSvc)
	orch.SetPublisher(publisher)
	flusher := conversation.NewFlusher(convStore.Persist, 128, 5*time.Second)
	orch.SetFlusher(flusher)

	quizSvc := quiz.NewService(quizStore, nil, publisher)
	quizSvc.SetReapAfter(cfg.QuizReapAfter)

	t0 := time.Now()
	degraded := false
	for _, load := range []func(context.Context) error{
		userStore.LoadAll, matchStore.LoadAll, chatStore.LoadAll, convStore.LoadAll, quizStore.LoadAll,
	} {
		// a failed hydration leaves that store empty; the process keeps serving
		if err := load(ctx); err != nil {
			log.Printf("hydrate degraded err=%v", err)
			degraded = true
		}
	}
	orch.Reindex()
	log.Printf("hydrated users=%d matches=%d chats=%d conversations=%d quiz=%d cost=%s",
		userStore.Len(), matchStore.Len(), chatStore.Len(), convStore.Len(), quizStore.Len(), time.Since(t0))

	sched := syncer.New(cfg.SyncInterval)
	sched.Register(userStore, matchStore, chatStore, convStore, quizStore)
	if degraded {
		// references into a store that failed to load would all look dangling
		log.Printf("integrity pass disabled until restart: hydration incomplete")
	} else {
		sched.SetIntegrity(integrity.NewChecker(userStore, matchStore, chatStore, convStore).Run)
	}
	sched.SetWatermarks(ids)
	sched.AddJob("quiz-reap", cfg.QuizReapSchedule, quizSvc.Reap)
	if err := sched.Start(); err != nil {
		log.Fatalf("sync scheduler: %v", err)
	}

	var jobs *chat.Service
	var audit *durable.AuditLog
	if gdb != nil {
		jobs = chat.NewService(chat.NewRepo(gdb), orch, cfg.AIJobWorkers, 256)
		jobs.Start(ctx)
		audit = durable.NewAuditLog(gdb)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(handlers.Services{
			Users:         usersSvc,
			Matches:       matchesSvc,
			Chats:         chatsSvc,
			Conversations: orch,
			Quiz:          quizSvc,
			Jobs:          jobs,
			Audit:         audit,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("http listening addr=%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown err=%v", err)
		}
		if jobs != nil {
			jobs.Close()
		}
		flusher.Close()

		rep := sched.Stop(shutdownCtx)
		if rep.Failed() > 0 {
			log.Printf("final flush left stores=%d with unpersisted records", rep.Failed())
		}
		if rabbitPub != nil {
			_ = rabbitPub.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
