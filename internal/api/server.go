package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse-wager/internal/engine"
	"horse-wager/internal/logging"
	"horse-wager/internal/metrics"
	"horse-wager/internal/model"
	"horse-wager/internal/ws"
)

// Pinger reports storage health for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	engine *engine.Engine
	hub    *ws.Hub
	db     Pinger
	secret []byte
	log    zerolog.Logger
}

// NewServer wires the HTTP surface. db may be nil for the in-memory store.
func NewServer(eng *engine.Engine, hub *ws.Hub, db Pinger, secret string) *Server {
	return &Server{engine: eng, hub: hub, db: db, secret: []byte(secret), log: logging.Component("api")}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// WebSocket; browsers cannot set headers so the token rides in the query.
	r.Get("/ws", s.hub.Handler(s.identify))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/api/wagers", s.placeWager)
		r.Get("/api/wagers/{id}", s.getWager)
		r.Get("/api/balance", s.getBalance)
		r.Get("/api/ledger", s.getLedger)
		r.Get("/api/stats", s.getStats)
		r.Get("/api/leaderboard", s.getLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/api/admin/deposit", s.adminDeposit)
			r.Get("/api/admin/stats", s.houseStats)
			r.Get("/api/admin/wagers/{id}", s.adminGetWager)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			jsonErr(w, 503, "temporarily unavailable")
			return
		}
	}
	json200(w, map[string]string{"status": "ok"})
}

// ── Auth ─────────────────────────────────────────────

// IssueToken signs an HS256 token carrying the account id and role.
func IssueToken(secret []byte, accountID string, role model.Role, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  accountID,
		"role": string(role),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Server) parseToken(tokenStr string) (accountID, role string, err error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid claims")
	}
	accountID, _ = claims["sub"].(string)
	role, _ = claims["role"].(string)
	if accountID == "" {
		return "", "", fmt.Errorf("token has no subject")
	}
	return accountID, role, nil
}

// identify resolves the ws caller from ?token=, or "" when absent or invalid.
func (s *Server) identify(r *http.Request) string {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		return ""
	}
	id, _, err := s.parseToken(tok)
	if err != nil {
		return ""
	}
	return id
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const (
	ctxAccountID ctxKey = "accountID"
	ctxRole      ctxKey = "role"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, 401, "missing token")
			return
		}
		accountID, role, err := s.parseToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			jsonErr(w, 401, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), ctxAccountID, accountID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleAdmin) {
			jsonErr(w, 403, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func accountOf(r *http.Request) string {
	id, _ := r.Context().Value(ctxAccountID).(string)
	return id
}

// ── Wagers ───────────────────────────────────────────

func (s *Server) placeWager(w http.ResponseWriter, r *http.Request) {
	var req model.WagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	// The caller always wagers from their own account.
	req.AccountID = accountOf(r)

	res, err := s.engine.PlaceWager(r.Context(), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	json200(w, res)
}

func (s *Server) getWager(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Wager(r.Context(), accountOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	json200(w, rec)
}

func (s *Server) adminGetWager(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Wager(r.Context(), "", chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	json200(w, rec)
}

// ── Account ──────────────────────────────────────────

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	id := accountOf(r)
	bal, err := s.engine.Balance(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	json200(w, model.Account{ID: id, Balance: bal})
}

func (s *Server) getLedger(w http.ResponseWriter, r *http.Request) {
	lines, err := s.engine.Ledger(r.Context(), accountOf(r), queryInt(r, "limit", 50))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	json200(w, lines)
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req model.DepositReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.AccountID == "" || req.Amount <= 0 {
		jsonErr(w, 400, "account_id and amount > 0 required")
		return
	}
	ref := r.Header.Get("Idempotency-Key")
	bal, err := s.engine.Deposit(r.Context(), ref, req.AccountID, req.Amount)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	json200(w, model.Account{ID: req.AccountID, Balance: bal})
}

// ── Stats ────────────────────────────────────────────

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.stats(w, r, accountOf(r))
}

func (s *Server) houseStats(w http.ResponseWriter, r *http.Request) {
	s.stats(w, r, "")
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request, accountID string) {
	win, ok := model.ParseWindow(r.URL.Query().Get("window"))
	if !ok {
		jsonErr(w, 400, "window must be all, day, week or month")
		return
	}
	st, err := s.engine.Stats(r.Context(), accountID, win)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	json200(w, st)
}

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	win, ok := model.ParseWindow(r.URL.Query().Get("window"))
	if !ok {
		jsonErr(w, 400, "window must be all, day, week or month")
		return
	}
	board, err := s.engine.Leaderboard(r.Context(), win, queryInt(r, "limit", 10))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	json200(w, board)
}

// ── Helpers ──────────────────────────────────────────

// writeErr maps the error taxonomy onto HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		jsonErr(w, 400, "wager rejected: "+err.Error())
	case errors.Is(err, model.ErrInsufficientFunds):
		jsonErr(w, 402, "wager rejected: insufficient funds")
	case errors.Is(err, model.ErrNotFound):
		jsonErr(w, 404, "not found")
	case errors.Is(err, model.ErrStorage):
		jsonErr(w, 503, "temporarily unavailable")
	default:
		s.log.Error().Err(err).Msg("internal error")
		jsonErr(w, 500, "internal error")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
