package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/config"
	"github.com/dmchat/internal/handler"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/observability"
	"github.com/dmchat/internal/push"
	"github.com/dmchat/internal/repository"
	"github.com/dmchat/internal/service"
	"github.com/dmchat/internal/startup"
	"github.com/dmchat/internal/storage"
	"github.com/dmchat/internal/storage/memory"
	redisstorage "github.com/dmchat/internal/storage/redis"
	"github.com/dmchat/internal/ws"
	"github.com/dmchat/migrations"
)

// stores is the storage selected at startup.
type stores struct {
	users storage.Users
	chats storage.Chats
	msgs  storage.Messages
	subs  storage.PushSubscriptions
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep all state in process memory (no database)")
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	issueToken := flag.String("issue-token", "", "print a token for this subject signed with JWT_SECRET and exit")
	tokenUsername := flag.String("username", "", "username claim for -issue-token")
	flag.Parse()

	if *genVAPID {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			os.Exit(1)
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	if *issueToken != "" {
		if cfg.JWTSecret == "" {
			logger.Errorf("issue token: JWT_SECRET is not set")
			os.Exit(1)
		}
		tok, err := middleware.IssueToken(cfg.JWTSecret, *issueToken, *tokenUsername, *tokenUsername, 24*time.Hour)
		if err != nil {
			logger.Errorf("issue token: %v", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	logger.Info("starting API service")
	observability.RegisterMetrics()
	if cfg.JWTSecret == "" {
		logger.Errorf("JWT_SECRET is empty: tokens signed with an empty key will be accepted")
	}

	var st stores
	if *inMemory {
		mem := memory.New()
		st = stores{users: mem.Users(), chats: mem.Chats(), msgs: mem.Messages(), subs: mem}
		logger.Info("using in-memory storage")
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		pool, err := openDatabase(cfg)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer pool.Close()
		if *migrate {
			logger.Info("migrations applied, exiting")
			return
		}
		users := repository.NewUserRepository(pool)
		resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := users.ResetOnline(resetCtx); err != nil {
			logger.Errorf("reset online status: %v", err)
		}
		resetCancel()
		st = stores{
			users: users,
			chats: repository.NewChatRepository(pool),
			msgs:  repository.NewMessageRepository(pool),
			subs:  memory.New(),
		}
		logger.Info("database connected, migrations applied")
	}

	var rdb *redisstorage.Client
	if cfg.Redis.URL != "" {
		var err error
		rdb, err = startup.ConnectRedisWithRetry(context.Background(), cfg.Redis.URL, 30*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer rdb.Close()
		st.subs = rdb
		logger.Info("redis connected")
	}

	outbox := ws.NewOutbox(cfg.OutboxSize)
	userSvc := service.NewUserService(st.users, st.chats)
	chatSvc := service.NewChatService(st.users, st.chats, st.msgs, outbox)
	hub := ws.NewHub(chatSvc, userSvc, cfg.MaxWSConnections)
	hub.SetPublisher(outbox)
	outbox.Attach(hub)

	var relay *ws.RedisRelay
	if rdb != nil {
		relay = ws.NewRedisRelay(rdb.Raw(), cfg.Redis.Channel, hub)
		outbox.Attach(relay)
		logger.Infof("relay node %s on channel %s", relay.NodeID(), cfg.Redis.Channel)
	}

	vapidPublic := ""
	if cfg.Push.Enabled {
		keys, err := push.EnsureVAPIDKeys(cfg.Push.KeysFile)
		if err != nil {
			logger.Errorf("VAPID keys: %v (push disabled)", err)
		} else {
			chatSvc.SetPushNotifier(push.NewSender(st.subs, keys, cfg.Push.Subject, cfg.Push.TTL, nil))
			vapidPublic = keys.PublicKey
			logger.Info("web push enabled")
		}
	}

	var workers sync.WaitGroup
	hubCtx, hubCancel := context.WithCancel(context.Background())
	outboxCtx, outboxCancel := context.WithCancel(context.Background())
	relayCtx, relayCancel := context.WithCancel(context.Background())
	workers.Add(2)
	go func() {
		defer workers.Done()
		hub.Run(hubCtx)
	}()
	go func() {
		defer workers.Done()
		outbox.Run(outboxCtx)
	}()
	if relay != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			relay.Run(relayCtx)
		}()
	}

	api := &handler.API{
		Users:    handler.NewUserHandler(userSvc),
		Chats:    handler.NewChatHandler(chatSvc),
		Messages: handler.NewMessageHandler(chatSvc),
		Push:     handler.NewPushHandler(st.subs, vapidPublic),
	}
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	auth := middleware.JWTAuth(cfg.JWTSecret)
	provision := handler.Provision(userSvc)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", observability.Handler())
	r.With(auth, provision).Get("/ws", wsH.ServeWS)
	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		r.Use(provision)
		r.Use(chimw.Compress(5))
		api.Routes(r)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")

	// Flush queued events to still-connected clients before closing them.
	outboxCancel()
	relayCancel()
	hubCancel()
	workers.Wait()
	logger.Info("hub and outbox stopped")
}

// openDatabase connects with retries and applies the embedded migrations.
func openDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool, err := startup.ConnectDBWithRetry(context.Background(), poolCfg, 60*time.Second)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("migrations applied")
	return pool, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "dmchat"
		password = "dmchat_secret"
		database = "dmchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
