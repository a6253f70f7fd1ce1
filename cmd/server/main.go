package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"

	"github.com/queuedesk-io/queuedesk/internal/ai"
	"github.com/queuedesk-io/queuedesk/internal/api"
	"github.com/queuedesk-io/queuedesk/internal/auth"
	"github.com/queuedesk-io/queuedesk/internal/cache"
	"github.com/queuedesk-io/queuedesk/internal/config"
	"github.com/queuedesk-io/queuedesk/internal/queue"
	"github.com/queuedesk-io/queuedesk/internal/realtime"
	"github.com/queuedesk-io/queuedesk/internal/repository"
	"github.com/queuedesk-io/queuedesk/internal/runner"
	"github.com/queuedesk-io/queuedesk/internal/ticket"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		log.Printf("config file %s not found, using defaults and environment", path)
		path = ""
	}
	if err := config.Load(path); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.Get()

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	clientRepo := repository.NewClientRepository(db)
	engineerRepo := repository.NewEngineerRepository(db)
	ticketRepo := repository.NewTicketRepository(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	qm := queue.NewManager(clientRepo, engineerRepo)
	if err := qm.Init(ctx); err != nil {
		log.Fatalf("seed engineer registry: %v", err)
	}

	var snapshot *cache.SnapshotStore
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, queue snapshots disabled: %v", err)
		} else {
			defer rdb.Close()
			snapshot = cache.NewSnapshotStore(rdb, cfg.Queue.SnapshotTTL)
		}
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)

	hub := realtime.NewHub()
	notifier := realtime.NewHubNotifier(hub)
	svc := ticket.NewService(ticketRepo, clientRepo, engineerRepo, qm, notifier)

	var responder ai.Responder = ai.CannedResponder{}
	if cfg.AI.Enabled && cfg.AI.APIKey != "" {
		client := openai.NewClient(option.WithAPIKey(cfg.AI.APIKey))
		responder = ai.NewModelResponder(&client, ai.NewTavilyClient(cfg.AI.TavilyAPIKey),
			func(o *ai.Options) {
				if cfg.AI.Model != "" {
					o.Model = cfg.AI.Model
				}
				if cfg.AI.MaxTokens > 0 {
					o.MaxTokens = cfg.AI.MaxTokens
				}
			})
	}

	realtime.NewDispatcher(hub, qm, svc, responder)

	broadcaster := realtime.NewBroadcaster(hub, qm, snapshot, cfg.Queue.BroadcastInterval)
	go broadcaster.Run(ctx)

	tasks := runner.NewRunner()
	tasks.Add(ticket.NewAutoCloseTask(svc, cfg.Queue.AutoCloseSchedule, cfg.Queue.AutoCloseAfter))
	if err := tasks.Start(ctx); err != nil {
		log.Fatalf("start background runner: %v", err)
	}

	router := api.NewRouter(api.RouterConfig{
		JWTManager: jwtManager,
		Hub:        hub,
		Tickets:    api.NewTicketHandler(svc),
		Dashboard:  api.NewDashboardHandler(svc, qm, hub, snapshot),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("%s listening on %s", cfg.App.Name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	tasks.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
