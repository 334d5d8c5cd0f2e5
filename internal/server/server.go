package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rewear/apiserver/config"
	"github.com/rewear/apiserver/internal/db"
	"github.com/rewear/apiserver/internal/handlers"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/internal/storage"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/internal/store/memory"
	"github.com/rs/cors"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 15 * time.Second
)

// Server wraps the HTTP server and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	log        logging.Logger
}

// repositories is the persistence surface the services are built on.
type repositories struct {
	users    services.UserRepository
	listings services.ListingRepository
	orders   services.OrderRepository
	ledger   services.LedgerRepository
	comments services.CommentRepository
	ping     func(ctx context.Context) error
}

// New wires the store, media host, event publisher, services and routes.
func New(ctx context.Context, cfg config.Config, log logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv := &Server{log: log}
	repos, err := srv.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	media, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		srv.close()
		return nil, fmt.Errorf("open media storage: %w", err)
	}

	srv.mq, err = mq.Open(ctx, cfg.MQ)
	if err != nil {
		srv.close()
		return nil, fmt.Errorf("open message queue: %w", err)
	}
	events := mq.NewEventPublisher(srv.mq, cfg.MQ.Channel, log)

	authService := services.NewAuthService(repos.users, media, cfg.Auth, cfg.Marketplace.SignupBonusPoints, log)
	listingService := services.NewListingService(repos.listings, repos.users, media, events, cfg.Marketplace.ModerationRequired, log)
	ledgerService := services.NewLedgerService(repos.ledger, repos.listings, repos.orders, events, log)
	commentService := services.NewCommentService(repos.comments, repos.listings, repos.users)
	userService := services.NewUserService(repos.users, repos.listings, repos.orders, media, log)
	adminService := services.NewAdminService(repos.users, listingService, repos.ledger, repos.orders, media, log)

	authHandler := handlers.NewAuthHandler(authService, cfg.Auth.CookieSecure, log)
	adminHandler := handlers.NewAdminHandler(adminService, listingService, ledgerService, commentService, log)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(log),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz(repos.ping))
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, authHandler, userService, log)
	})
	listingRoutes := func(r chi.Router) {
		handlers.ListingRouter(r, authHandler, listingService, ledgerService, log)
	}
	router.Route("/listings", listingRoutes)
	router.Route("/products", listingRoutes)
	router.Route("/swaps", func(r chi.Router) {
		handlers.SwapRouter(r, authHandler, ledgerService, log)
	})
	router.Route("/comments", func(r chi.Router) {
		handlers.CommentRouter(r, authHandler, commentService, log)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, authHandler, adminHandler)
	})
	router.Route("/media", func(r chi.Router) {
		handlers.MediaRouter(r, media, log)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	srv.router = router
	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv, nil
}

func (s *Server) openStore(ctx context.Context, cfg config.Config) (repositories, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		s.log.Warn(ctx, "using in-memory store, data is lost on restart")
		st := memory.New()
		return repositories{
			users:    st.Users(),
			listings: st.Listings(),
			orders:   st.Orders(),
			ledger:   st.Ledger(),
			comments: st.Comments(),
		}, nil
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return repositories{}, err
	}
	s.db = dbConn
	return repositories{
		users:    store.NewUserRepository(dbConn),
		listings: store.NewListingRepository(dbConn),
		orders:   store.NewOrderRepository(dbConn),
		ledger:   store.NewLedgerRepository(dbConn),
		comments: store.NewCommentRepository(dbConn),
		ping:     dbConn.PingContext,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	s.log.Info(ctx, "shutting down http server")
	return s.Shutdown()
}

// Shutdown stops accepting requests, waits for in-flight ones and closes the
// store and broker connections.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.mq != nil {
		if err := s.mq.Close(); err != nil {
			s.log.Warn(context.Background(), "close message queue failed", "error", err)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// requestLogger logs one line per request with its status and latency.
func requestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info(r.Context(), "request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
