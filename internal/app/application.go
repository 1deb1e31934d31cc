package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"liveclass/internal/api"
	"liveclass/internal/broadcast"
	"liveclass/internal/config"
	"liveclass/internal/lesson"
	"liveclass/internal/poll"
	"liveclass/internal/session"
	"liveclass/internal/websocket"
)

// Application wires all components and owns their lifecycles.
// Initialization order: Store -> Registry -> Router (+ redis mirror) ->
// Engine -> Lesson collaborators -> API -> HTTP.
type Application struct {
	config      *config.Config
	store       *session.Store
	registry    *websocket.Registry
	router      *broadcast.Router
	redisMirror *broadcast.RedisMirror
	engine      *poll.Engine
	lessonStore lesson.Store
	httpServer  *http.Server
}

// NewApplication builds the application from config. The registry and
// broadcast router reference each other, so the publisher is wired into the
// registry as a second step.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store := session.NewStore(cfg.Session.RemovalGrace)
	registry := websocket.NewRegistry(store)
	router := broadcast.NewRouter(registry)
	registry.SetPublisher(router)

	var redisMirror *broadcast.RedisMirror
	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror, err := broadcast.NewRedisMirror(context.Background(), client, router)
		if err != nil {
			return nil, fmt.Errorf("failed to start redis mirror: %w", err)
		}
		router.AddMirror(mirror)
		redisMirror = mirror
	}

	engine := poll.NewEngine(store, router, registry)

	lessonStore, err := lesson.NewSQLiteStore(cfg.Lesson.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open lesson store: %w", err)
	}

	apiServer := api.NewServer(store, registry, lesson.NewOutlineAnalyzer(), lessonStore)
	wsHandler := websocket.NewHandler(registry, engine, store)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		store:       store,
		registry:    registry,
		router:      router,
		redisMirror: redisMirror,
		engine:      engine,
		lessonStore: lessonStore,
		httpServer:  httpServer,
	}, nil
}

// Start begins serving. It returns once the listener is up or startup
// failed.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting liveclass server on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Liveclass server started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the application down in reverse dependency order:
// HTTP listener, redis mirror, lesson store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down liveclass server")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if app.redisMirror != nil {
		if err := app.redisMirror.Close(); err != nil {
			log.Printf("Redis mirror shutdown error: %v", err)
		}
	}
	if err := app.lessonStore.Close(); err != nil {
		log.Printf("Lesson store shutdown error: %v", err)
	}

	log.Printf("Liveclass server shutdown complete")
	return nil
}

// Addr returns the server address for external connections.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
