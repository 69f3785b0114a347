package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckmesh/querygrid/internal/auth"
	"github.com/duckmesh/querygrid/internal/config"
	"github.com/duckmesh/querygrid/internal/observability"
	"github.com/duckmesh/querygrid/internal/query"
	"github.com/duckmesh/querygrid/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// QueryService is the subset of *query.Service the handlers call.
type QueryService interface {
	Execute(ctx context.Context, name, text string) (query.Result, error)
	Connect(ctx context.Context, name string) error
	ListFiles(ctx context.Context, name, prefix string) ([]storage.ObjectInfo, error)
	Storage(ctx context.Context, name string) (json.RawMessage, error)
	List() []query.Connection
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Queries           QueryService
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleListConnections(deps, w, r)
	})
	protected.HandleFunc("POST /v1/connections/{name}/connect", func(w http.ResponseWriter, r *http.Request) {
		handleConnect(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections/{name}/files", func(w http.ResponseWriter, r *http.Request) {
		handleListFiles(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections/{name}/storage", func(w http.ResponseWriter, r *http.Request) {
		handleStorage(deps, w, r)
	})
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(cfg, deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/connections", protectedHandler)
	mux.Handle("POST /v1/connections/{name}/connect", protectedHandler)
	mux.Handle("GET /v1/connections/{name}/files", protectedHandler)
	mux.Handle("GET /v1/connections/{name}/storage", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckConnectionsLoaded fails until at least one connection is configured.
func CheckConnectionsLoaded(queries QueryService) ReadinessCheck {
	return func(_ context.Context) error {
		if queries == nil || len(queries.List()) == 0 {
			return errors.New("no connections are configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// authorize checks the caller's identity, when one is present, against the
// connection and role.
func authorize(r *http.Request, connection, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if !identity.HasRole(role) {
		observability.IncrementAuthFailure(observability.AuthForbidden)
		return fmt.Errorf("missing required role %q", role)
	}
	if !identity.CanAccess(connection) {
		observability.IncrementAuthFailure(observability.AuthForbidden)
		return fmt.Errorf("access to connection %q is not granted", connection)
	}
	return nil
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	if extra == nil {
		extra = map[string]any{}
	}
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
