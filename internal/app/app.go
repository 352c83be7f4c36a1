package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/repository/sqlite"
	"crowdwatch/internal/route"
	"crowdwatch/internal/service"
	"crowdwatch/internal/service/storage"
	"crowdwatch/internal/service/websocket"

	"go.uber.org/multierr"
)

const shutdownTimeout = 10 * time.Second

// App is the crowd backend: HTTP API, record buffer and viewer hub.
type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            *sqlite.DB
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	manager       *service.Manager
}

func NewApp(cfg *config.Config, logger *logger.Logger) (*App, error) {
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	crowdRepo := sqlite.NewCrowdRepository(db)
	buffer := storage.NewBufferService(cfg, logger, crowdRepo)
	hub := websocket.NewHubService(logger)

	return &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		bufferService: buffer,
		hubService:    hub,
		manager:       service.NewManager(buffer, hub, crowdRepo, cfg, logger),
	}, nil
}

// Handler exposes the routed API, used by tests.
func (a *App) Handler() http.Handler {
	return route.SetupRoutes(a.manager, a.logger)
}

// Run serves until ctx is cancelled, then drains the buffer and closes the database.
func (a *App) Run(ctx context.Context) (err error) {
	bgCtx, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a.bufferService.Run(bgCtx) }()
	go func() { defer wg.Done(); a.hubService.Run(bgCtx) }()

	defer func() {
		stopBackground()
		wg.Wait()
		err = multierr.Append(err, a.db.Close())
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Printf("🚌 Crowd Backend\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🗄️  Database: %s\n", a.config.DatabasePath)
	fmt.Printf("👥 Bus capacity: %d\n", a.config.BusCapacity)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("Shutting down crowd backend")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
