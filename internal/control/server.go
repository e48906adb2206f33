// Package control exposes the agent's local-only HTTP surface (spec
// §4.8): status and trade inspection, config updates, pause/resume,
// and manual buy/sell. Grounded on the teacher's stdlib net/http
// ServeMux pattern (internal/app/app_test.go's info/fill servers).
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"evm-swap-agent/internal/aggregation"
	"evm-swap-agent/internal/chain"
	"evm-swap-agent/internal/config"
	"evm-swap-agent/internal/trade"
)

// AuditCursor persists a monotonic sequence number across restarts, so
// audit log lines stay ordered even after the agent is bounced.
type AuditCursor interface {
	IncrementCounter(ctx context.Context, key string) (uint64, error)
}

const auditCursorKey = "control_audit_cursor"

// Server is the control-plane HTTP listener, bound to 127.0.0.1 only.
type Server struct {
	cfg     *config.Store
	trades  *trade.Manager
	feed    *aggregation.Engine
	chain   *chain.Client
	log     *zap.Logger
	started time.Time
	metrics http.Handler
	audit   AuditCursor

	httpSrv *http.Server
}

func New(cfg *config.Store, trades *trade.Manager, feed *aggregation.Engine, chainClient *chain.Client, log *zap.Logger, metricsHandler http.Handler, audit AuditCursor) *Server {
	return &Server{cfg: cfg, trades: trades, feed: feed, chain: chainClient, log: log, started: time.Now(), metrics: metricsHandler, audit: audit}
}

// logAudit assigns and logs the next audit-cursor sequence number for a
// control-plane mutation (pause/resume/sell/buy), so the operator log can
// be replayed in order even across restarts. Best-effort: a cursor
// persistence failure logs a warning but never blocks the request.
func (s *Server) logAudit(ctx context.Context, action string, fields ...zap.Field) {
	if s.audit == nil || s.log == nil {
		return
	}
	seq, err := s.audit.IncrementCounter(ctx, auditCursorKey)
	if err != nil {
		s.log.Warn("audit cursor persist failed", zap.String("action", action), zap.Error(err))
		return
	}
	s.log.Info("control action", append([]zap.Field{zap.Uint64("audit_seq", seq), zap.String("action", action)}, fields...)...)
}

// Run binds to 127.0.0.1:port and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/trades", s.handleTrades)
	mux.HandleFunc("/balances", s.handleBalances)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/sell", s.handleSell)
	mux.HandleFunc("/sell-all", s.handleSellAll)
	mux.HandleFunc("/buy", s.handleBuy)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		notFound(w)
		return
	}
	snap := s.trades.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"paused":       s.trades.Paused(),
		"uptime_sec":   int(time.Since(s.started).Seconds()),
		"pair_count":   s.feed.PairCount(),
		"wallet":       s.chain.Address().Hex(),
		"active_count": len(snap.ActiveTrades),
		"summary":      snap.Summary,
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, s.trades.Snapshot())
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		notFound(w)
		return
	}
	s.trades.Reconcile(r.Context())
	snap := s.trades.Snapshot()
	positions := make(map[string]map[string]string, len(snap.ActiveTrades))
	for pair, t := range snap.ActiveTrades {
		positions[pair] = map[string]string{
			"tokens_in_possession": t.TokensInPossession.String(),
			"base_token":           t.BaseToken,
		}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.cfg.Get())
	case http.MethodPost:
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		next, err := s.cfg.ApplyUpdate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, next)
	default:
		notFound(w)
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		notFound(w)
		return
	}
	s.trades.SetPaused(true)
	s.logAudit(r.Context(), "pause")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		notFound(w)
		return
	}
	s.trades.SetPaused(false)
	s.logAudit(r.Context(), "resume")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		notFound(w)
		return
	}
	var body struct {
		Pair    string  `json:"pair"`
		Percent float64 `json:"percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.trades.ManualSell(r.Context(), body.Pair, body.Percent)
	switch {
	case err == nil:
		s.logAudit(r.Context(), "sell", zap.String("pair", body.Pair), zap.Float64("percent", body.Percent))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, trade.ErrTradeNotFound), errors.Is(err, trade.ErrPairUnknown):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, trade.ErrTradeLocked):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, trade.ErrInvalidPercent):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleSellAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		notFound(w)
		return
	}
	results := s.trades.SellAll(r.Context())
	out := make(map[string]string, len(results))
	for pair, err := range results {
		if err != nil {
			out[pair] = err.Error()
		} else {
			out[pair] = "ok"
		}
	}
	s.logAudit(r.Context(), "sell-all", zap.Int("pair_count", len(results)))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		notFound(w)
		return
	}
	var body struct {
		Pair      string  `json:"pair"`
		EthAmount float64 `json:"ethAmount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.EthAmount <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("ethAmount must be > 0"))
		return
	}
	err := s.trades.ManualBuy(r.Context(), body.Pair, body.EthAmount)
	switch {
	case err == nil:
		s.logAudit(r.Context(), "buy", zap.String("pair", body.Pair), zap.Float64("eth_amount", body.EthAmount))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, trade.ErrTradeExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, trade.ErrPairUnknown):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
