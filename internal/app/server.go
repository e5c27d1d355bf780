// Package app wires the executor, dispatcher and HTTP surface into a
// runnable server.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/api"
	"github.com/relaydb/relaydb/internal/dispatcher"
	"github.com/relaydb/relaydb/internal/executor"
)

type Server struct {
	log        *zap.Logger
	cfg        Config
	exec       executor.Executor
	dispatcher *dispatcher.Dispatcher
	httpServer *http.Server
}

func NewServer(cfg Config, log *zap.Logger) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var exec executor.Executor
	switch cfg.Driver {
	case "postgres":
		exec = executor.NewPostgres(cfg.DSN, log)
	default:
		exec = executor.NewSQLite(cfg.DSN, log)
	}

	d := dispatcher.New(exec, log)
	if cfg.TxWarnAfter > 0 {
		d.SetTxWarnAfter(cfg.TxWarnAfter)
	}

	return &Server{
		log:        log,
		cfg:        cfg,
		exec:       exec,
		dispatcher: d,
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: api.SetupRoutes(log, d),
		},
	}, nil
}

// Run brings the server up and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.MigrationsDir != "" {
		if err := Migrate(s.log, s.cfg.Driver, s.cfg.DSN, s.cfg.MigrationsDir); err != nil {
			return err
		}
	}

	if err := s.exec.Open(ctx); err != nil {
		return err
	}

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	defer stopDispatcher()
	go s.dispatcher.Run(dispatcherCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}
	stopDispatcher()
	return s.exec.Close()
}
