// Package http exposes the ledger over a JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"contas/internal/auth"
	"contas/internal/cache"
	"contas/internal/core"
	"contas/internal/services"
	"contas/internal/storage"
)

type Server struct {
	http.Server
	store  storage.Store
	ledger *services.LedgerService
	issuer *auth.TokenIssuer

	rateLimiter *rateLimiter

	// Snapshot cache for GET /api/accounts/{id}; invalidated on every
	// balance mutation.
	accountCache *cache.LRU[core.Account]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, store storage.Store, ledger *services.LedgerService, issuer *auth.TokenIssuer) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:            store,
		ledger:           ledger,
		issuer:           issuer,
		rateLimiter:      newRateLimiter(),
		accountCache:     newAccountCache(),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	authed := auth.Middleware(issuer)
	public := func(h http.HandlerFunc) http.Handler { return s.withCommon(h) }
	private := func(h http.HandlerFunc) http.Handler { return s.withCommon(authed(h)) }

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("POST /api/users", public(s.handleCreateUser))
	mux.Handle("POST /api/tokens", public(s.handleCreateToken))
	mux.Handle("DELETE /api/tokens", private(s.handleRevokeToken))
	mux.Handle("GET /api/users/{id}", private(s.handleGetUser))

	mux.Handle("POST /api/users/{id}/accounts", private(s.handleCreateAccount))
	mux.Handle("GET /api/users/{id}/accounts", private(s.handleListAccounts))
	mux.Handle("GET /api/accounts/{id}", private(s.handleGetAccount))
	mux.Handle("PUT /api/accounts/{id}", private(s.handleUpdateAccount))

	mux.Handle("POST /api/users/{id}/incomes", private(s.handleCreateIncome))
	mux.Handle("POST /api/users/{id}/expenses", private(s.handleCreateExpense))
	mux.Handle("GET /api/users/{id}/transactions", private(s.handleListTransactions))
	mux.Handle("GET /api/users/{id}/incomes", private(s.handleListIncomes))
	mux.Handle("GET /api/users/{id}/expenses", private(s.handleListExpenses))
	mux.Handle("GET /api/transactions/{id}", private(s.handleGetTransaction))
	mux.Handle("PUT /api/transactions/{id}", private(s.handleUpdateTransaction))
	mux.Handle("DELETE /api/transactions/{id}", private(s.handleDeleteTransaction))

	mux.Handle("POST /api/users/{id}/transfers", private(s.handleCreateTransfer))
	mux.Handle("GET /api/transfers/{id}", private(s.handleGetTransfer))
	mux.Handle("PUT /api/transfers/{id}", private(s.handleMutateTransfer))
	mux.Handle("DELETE /api/transfers/{id}", private(s.handleMutateTransfer))
	mux.Handle("GET /api/accounts/{id}/transfers", private(s.handleListTransfers))

	mux.Handle("GET /api/accounts/{id}/audit", private(s.handleAccountAudit))
	mux.Handle("GET /api/categories", private(s.handleListCategories))

	return s
}

func newAccountCache() *cache.LRU[core.Account] {
	return cache.NewLRU[core.Account](500, time.Minute)
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.accountCache.CleanExpired(); cleaned > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the HTTP listener and the background cleanup loops.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withCommon adds request ids, security headers, rate limiting of
// writes, and request logging.
func (s *Server) withCommon(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if isWrite(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP,
				"method", r.Method,
				"url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
				Kind:    "rate_limited",
				Message: "too many requests, try again later",
			}})
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	return "req_" + uuid.NewString()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// A cheap read proves the store answers.
	if _, err := s.store.ListCategories(ctx, 0); err != nil {
		slog.ErrorContext(ctx, "Readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) accountCacheKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *Server) invalidateAccounts(accounts []core.Account) {
	for _, a := range accounts {
		s.accountCache.Delete(s.accountCacheKey(a.ID))
	}
}
