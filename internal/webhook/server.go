// Package webhook exposes the HTTP ingress for trading signals.
//
// TradingView (or any alert source) posts JSON payloads to /webhook; the
// server validates them and hands them to the signal handler on a fresh
// goroutine so slow order placement never blocks the alert source. Two
// GET endpoints, /test_buy and /test_sell, inject synthetic signals for
// manual smoke testing against a paper account.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// SignalHandler processes an inbound trading signal. It reports whether
// the signal resulted in a new entry task being started.
type SignalHandler interface {
	HandleSignal(ctx context.Context, sig types.Signal) bool
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Addr string
}

// Server receives trading signals over HTTP and dispatches them to the
// signal handler.
type Server struct {
	handler    SignalHandler
	logger     *slog.Logger
	httpServer *http.Server

	// baseCtx is the lifetime context for dispatched signal tasks. Entry
	// and exit loops must outlive the HTTP request that delivered the
	// signal, so tasks are never bound to the request context.
	baseCtx context.Context
}

// NewServer creates a webhook server. Dispatched signal tasks run under
// baseCtx, which should be the process lifetime context.
func NewServer(cfg ServerConfig, handler SignalHandler, baseCtx context.Context, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		handler: handler,
		logger:  logger,
		baseCtx: baseCtx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/test_buy", s.testBuyHandler)
	mux.HandleFunc("/test_sell", s.testSellHandler)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the webhook server.
func (s *Server) Start() error {
	s.logger.Info("starting webhook server", "addr", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("webhook server error", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down webhook server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("online"))
}

// webhookPayload is the wire format of an inbound alert.
type webhookPayload struct {
	Ticker  string `json:"ticker"`
	Side    string `json:"side"`
	Comment string `json:"comment"`
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Warn("rejecting malformed webhook payload", "err", err)
		s.nok(w)
		return
	}

	side, ok := types.ParseSide(payload.Side)
	if !ok {
		s.logger.Warn("rejecting webhook with unknown side", "side", payload.Side)
		s.nok(w)
		return
	}
	if payload.Ticker == "" {
		s.logger.Warn("rejecting webhook with empty ticker")
		s.nok(w)
		return
	}

	sig := types.Signal{
		Ticker:  payload.Ticker,
		Side:    side,
		Comment: payload.Comment,
	}

	s.logger.Info("signal received",
		"ticker", sig.Ticker,
		"side", sig.Side,
		"comment", sig.Comment,
	)

	s.dispatch(sig)
	s.ok(w)
}

func (s *Server) testBuyHandler(w http.ResponseWriter, r *http.Request) {
	s.testSignal(w, r, types.SideBuy, "test entry")
}

func (s *Server) testSellHandler(w http.ResponseWriter, r *http.Request) {
	s.testSignal(w, r, types.SideSell, "close test position")
}

func (s *Server) testSignal(w http.ResponseWriter, r *http.Request, side types.Side, comment string) {
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		s.nok(w)
		return
	}

	sig := types.Signal{Ticker: ticker, Side: side, Comment: comment}
	s.logger.Info("test signal injected", "ticker", ticker, "side", side)

	s.dispatch(sig)
	s.ok(w)
}

// dispatch hands the signal to the handler without blocking the request.
func (s *Server) dispatch(sig types.Signal) {
	go s.handler.HandleSignal(s.baseCtx, sig)
}

func (s *Server) ok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) nok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("nok"))
}
