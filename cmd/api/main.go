package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/wanderlust/internal/docdb"
	"github.com/diagnosis/wanderlust/internal/docdb/memdb"
	"github.com/diagnosis/wanderlust/internal/docdb/mongodb"
	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/http/handlers"
	"github.com/diagnosis/wanderlust/internal/http/middleware"
	"github.com/diagnosis/wanderlust/internal/identity"
	"github.com/diagnosis/wanderlust/internal/kv"
	"github.com/diagnosis/wanderlust/internal/platform/mailer"
	"github.com/diagnosis/wanderlust/internal/repo"
	"github.com/diagnosis/wanderlust/internal/repo/memory"
	"github.com/diagnosis/wanderlust/internal/repo/postgres"
	"github.com/diagnosis/wanderlust/internal/session"
	"github.com/diagnosis/wanderlust/internal/store/cloud"
	"github.com/diagnosis/wanderlust/internal/store/local"
	"github.com/diagnosis/wanderlust/pkg/config"
	"github.com/diagnosis/wanderlust/pkg/database"
	"github.com/diagnosis/wanderlust/pkg/events"
	"github.com/diagnosis/wanderlust/pkg/logger"
	mw "github.com/diagnosis/wanderlust/pkg/middleware"
)

// How often a local store shared through Redis or a file picks up other writers.
const localRefresh = 5 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Error("wanderlust stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	mode := cfg.StoreMode()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// Redis backs the local store, rate limiting and idempotency when configured.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		c, err := kv.DialRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb = c
		closers = append(closers, func() { _ = rdb.Close() })
	}

	users, idem, err := accounts(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	ids := identity.NewProvider(users, identity.Config{
		JWTSecret:         cfg.Auth.JWTSecret,
		SessionTTL:        cfg.Auth.SessionTTL,
		GuestSessionTTL:   cfg.Auth.GuestSessionTTL,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
	})
	sess := session.New()

	deps := handlers.Deps{
		Identity:     ids,
		Session:      sess,
		Mailer:       mailer.New(cfg.Email),
		Mode:         mode,
		PublicURL:    cfg.Server.PublicURL,
		AllowOrigins: cfg.Server.AllowOrigins,
	}
	g, gctx := errgroup.WithContext(ctx)

	switch {
	case rdb != nil:
		deps.GuestLimiter = middleware.NewRedisLimiter(rdb, cfg.RateLimit.GuestAttempts, cfg.RateLimit.GuestWindow)
		deps.Idempotency = middleware.NewRedisIdempotency(rdb)
	case idem != nil:
		deps.GuestLimiter = middleware.NewLocalLimiter(cfg.RateLimit.GuestAttempts, cfg.RateLimit.GuestWindow)
		deps.Idempotency = idem
		g.Go(func() error {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n, err := idem.CleanupExpired(gctx); err != nil {
						logger.Warn("idempotency cleanup failed", "error", err)
					} else if n > 0 {
						logger.Debug("idempotency records expired", "count", n)
					}
				}
			}
		})
	default:
		deps.GuestLimiter = middleware.NewLocalLimiter(cfg.RateLimit.GuestAttempts, cfg.RateLimit.GuestWindow)
		deps.Idempotency = middleware.NewMemoryIdempotency()
	}

	switch mode {
	case config.ModeCloud, config.ModeMemory:
		db, err := documentDB(ctx, cfg, mode, &closers)
		if err != nil {
			return err
		}
		bus, err := eventBus(cfg)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = bus.Close() })

		st := cloud.New(docdb.Guard(db), ids, sess, cloud.WithEvents(bus))
		closers = append(closers, st.Close)
		deps.Store, deps.Guests = st, st

	default:
		var kvs kv.Store
		shared := true
		switch {
		case rdb != nil:
			kvs = kv.NewRedis(rdb, "wanderlust:")
		case cfg.Store.DataFile != "":
			kvs = kv.NewFile(cfg.Store.DataFile)
		default:
			kvs, shared = kv.NewMemory(), false
		}
		st, err := local.New(ctx, kvs, local.WithKey(cfg.Store.Key), local.WithSession(sess))
		if err != nil {
			return err
		}
		// The local store has no auth feed of its own; attribute writes to whoever signs in.
		closers = append(closers, ids.OnAuthStateChanged(func(u *identity.User) {
			if u == nil || u.Anonymous {
				sess.Clear()
				return
			}
			sess.SetPrincipal(domain.Principal{ID: u.ID, Email: u.Email})
		}))
		owner := local.Owner
		deps.Store, deps.Owner, deps.SingleUser = st, &owner, true

		if shared {
			g.Go(func() error {
				ticker := time.NewTicker(localRefresh)
				defer ticker.Stop()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
						if err := st.Refresh(gctx); err != nil {
							logger.Warn("local store refresh failed", "error", err)
						}
					}
				}
			})
		}
	}

	h := handlers.New(deps)
	closers = append(closers, h.Close)

	r := chi.NewRouter()
	if cfg.Server.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(mw.RequestID)
	r.Use(mw.StoreMode(mode))
	r.Use(mw.Logging)
	// Recoverer reports through the request's log entry set up by Logging.
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Content-Disposition", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)
	r.Mount("/v1", h.Routes())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		logger.Info("Starting wanderlust", "port", cfg.Server.Port, "store", mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down wanderlust...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// accounts picks the account directory, and a Postgres replay store for retried
// creates when Postgres is configured.
func accounts(ctx context.Context, cfg *config.Config, closers *[]func()) (repo.UsersRepo, *postgres.IdempotencyRepoImpl, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, accounts are kept in memory")
		return memory.NewUsersRepo(), nil, nil
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	*closers = append(*closers, pool.Close)

	users := postgres.NewUsersRepo(pool)
	if err := users.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("users schema: %w", err)
	}
	idem := postgres.NewIdempotencyRepo(pool)
	if err := idem.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("idempotency schema: %w", err)
	}
	return users, idem, nil
}

func documentDB(ctx context.Context, cfg *config.Config, mode string, closers *[]func()) (docdb.DB, error) {
	if mode == config.ModeMemory || cfg.Mongo.URL == "" {
		logger.Warn("holidays are kept in memory and lost on restart")
		return memdb.New(), nil
	}
	client, coll, err := database.ConnectMongo(ctx, cfg.Mongo)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, func() { _ = client.Disconnect(context.Background()) })

	db := mongodb.New(coll)
	if err := db.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("holiday indexes: %w", err)
	}
	return db, nil
}

func eventBus(cfg *config.Config) (events.EventBus, error) {
	if cfg.NATS.URL == "" {
		return events.Nop{}, nil
	}
	bus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	// Audit trail of every holiday change, including those made by other replicas.
	if err := bus.Subscribe("holiday.>", func(msg *events.Message) {
		logger.Debug("holiday event", "subject", msg.Subject)
	}); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("subscribe holiday events: %w", err)
	}
	return bus, nil
}
