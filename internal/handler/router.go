package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/perpmatch/internal/service"
)

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware. crank may be nil.
func NewRouter(
	accountSvc *service.AccountService,
	webhookSvc *service.WebhookService,
	registry *service.Registry,
	crank *service.Crank,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	accountH := NewAccountHandler(accountSvc, registry)
	webhookH := NewWebhookHandler(webhookSvc)
	marketH := NewMarketHandler(registry, crank)
	orderH := NewOrderHandler(registry)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/crank", marketH.CrankStats)

	// Account routes.
	r.Post("/accounts", accountH.Register)
	r.Route("/accounts/{owner}", func(r chi.Router) {
		r.Get("/", accountH.Get)
		r.Delete("/", accountH.Close)
		r.Get("/fills", accountH.ListFills)

		r.Post("/webhooks", webhookH.Upsert)
		r.Get("/webhooks", webhookH.List)
		r.Delete("/webhooks/{webhook_id}", webhookH.Delete)
	})

	// Market routes.
	r.Get("/markets", marketH.List)
	r.Route("/markets/{market}", func(r chi.Router) {
		r.Get("/", marketH.Get)
		r.Put("/oracle", marketH.SetOracle)
		r.Get("/events", marketH.Events)

		r.Post("/orders", orderH.Place)
		r.Get("/orders/{owner}", orderH.List)
		r.Put("/orders/{owner}", orderH.Replace)
		r.Delete("/orders/{owner}", orderH.CancelAll)
		r.Delete("/orders/{owner}/{order_id}", orderH.Cancel)
		r.Delete("/orders/{owner}/client/{client_order_id}", orderH.CancelByClientOrderID)
	})

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
