// Package httpapi exposes the user and admin HTTP surfaces of vatwatch.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/vatwatch/core/logger"
)

const shutdownTimeout = 10 * time.Second

// Options configures the router.
type Options struct {
	APIToken string
	// AdminToken enables /admin when non-empty.
	AdminToken string
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	Cycles  CycleTrigger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(users UserService, admin AdminService, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if users != nil {
		NewAPIHandler(users, opts.APIToken).Register(r)
	}
	if admin != nil && opts.AdminToken != "" {
		NewAdminHandler(admin, opts.Cycles, opts.AdminToken).Register(r)
	}
	return r
}

// NewServer builds an HTTP server with the project defaults.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http", "listen", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(ctx, "http", "stopped")
	return nil
}

// requireToken accepts the token from the query parameter or the header.
func requireToken(expected, queryKey, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(header)
			if token == "" {
				token = r.URL.Query().Get(queryKey)
			}
			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				logger.Warn(r.Context(), "http", "unauthorized",
					slog.String("path", r.URL.Path),
				)
				writeText(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithRID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		level := slog.LevelInfo
		if code >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Event(ctx, "http", level, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_code", code),
			slog.Duration("took", logger.Took(start)),
		)
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil || rec == http.ErrAbortHandler {
				if rec != nil {
					panic(rec)
				}
				return
			}
			logger.Error(r.Context(), "http", "panic",
				slog.String("path", r.URL.Path),
				slog.String("panic", fmt.Sprint(rec)),
			)
			writeText(w, http.StatusInternalServerError, "Internal error")
		}()
		next.ServeHTTP(w, r)
	})
}
