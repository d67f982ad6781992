package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/infra/metrics"
	"telegram-subscriber-notify/internal/usecase"
)

const requestTimeout = 60 * time.Second

// Server is the notification and registry admin API.
type Server struct {
	subUC    usecase.SubscriberUseCase
	notifyUC usecase.NotificationUseCase
	apiKey   string
	log      *zerolog.Logger
}

func NewServer(
	subUC usecase.SubscriberUseCase,
	notifyUC usecase.NotificationUseCase,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "http_api").Logger()
	if apiKey == "" {
		l.Warn().Msg("api key not configured; API is open to anyone who can reach it")
	}
	return &Server{subUC: subUC, notifyUC: notifyUC, apiKey: apiKey, log: &l}
}

// Routes builds the router. /health and /metrics are unauthenticated.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIKey(s.apiKey))

		// fan-out routes have no deadline; they finish what they started
		r.Post("/notify", notifyHandler(s.notifyUC, s.log))
		r.Post("/subscribers/sync", subscribersSyncAllHandler(s.subUC))

		r.Group(func(r chi.Router) {
			r.Use(Timeout(requestTimeout))
			r.Get("/subscribers", subscribersListHandler(s.subUC))
			r.Put("/subscribers/{chatId}", subscriberPutHandler(s.subUC))
			r.Delete("/subscribers/{chatId}", subscriberDeleteHandler(s.subUC))
			r.Post("/subscribers/{chatId}/sync", subscriberSyncHandler(s.subUC))
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then drains for up to 10s.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info().Msg("http api stopped")
		return nil
	}
}
