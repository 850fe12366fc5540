package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradevault/tickstream/pkg/feed"
	"github.com/tradevault/tickstream/pkg/stream"
	"github.com/tradevault/tickstream/pkg/symbols"
)

type Server struct {
	streams    *stream.Service
	detector   stream.Detector
	historical *feed.HistoricalClient
	auth       *TokenVerifier
	logger     *logrus.Logger
	port       string

	httpServer *http.Server
}

func NewServer(streams *stream.Service, detector stream.Detector, historical *feed.HistoricalClient, auth *TokenVerifier, logger *logrus.Logger, port string) *Server {
	return &Server{
		streams:    streams,
		detector:   detector,
		historical: historical,
		auth:       auth,
		logger:     logger,
		port:       port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/market/status", s.handleMarketStatus)
	mux.HandleFunc("/api/history/bars", s.handleHistoricalBars)
	mux.HandleFunc("/api/stream/prices", s.handleStreamPrices)
	mux.HandleFunc("/api/stream/pnl", s.handleStreamPnL)

	// WebSocket transports for the same streams
	mux.HandleFunc("/ws/prices", s.handleWSPrices)
	mux.HandleFunc("/ws/pnl", s.handleWSPnL)

	handler := corsMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:    ":" + s.port,
		Handler: handler,
	}

	s.logger.Infof("Starting API server on port %s", s.port)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	syms := splitSymbols(r.URL.Query().Get("symbols"))
	status := s.detector.IsOpen(r.Context(), syms)
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHistoricalBars(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	schema := q.Get("schema")
	if schema == "" {
		schema = "ohlcv-1m"
	}

	end := time.Now().UTC()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid end time", http.StatusBadRequest)
			return
		}
		end = t.UTC()
	}
	start := end.Add(-1 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid start time", http.StatusBadRequest)
			return
		}
		start = t.UTC()
	}

	variants := symbols.ExpandVariants(symbol)

	// Resolve failures are non-fatal; an empty result for a known-good call
	// means the dataset has never heard of this symbol.
	if resolved, err := s.historical.ResolveSymbols(r.Context(), variants); err == nil && len(resolved) == 0 {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	bars, err := s.historical.RangeQuery(r.Context(), feed.RangeParams{
		Schema:  schema,
		Symbols: variants,
		Start:   start,
		End:     end,
	})
	if err != nil {
		s.logger.WithError(err).Error("Historical bars query failed")
		http.Error(w, "historical query failed", http.StatusBadGateway)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"start":  start,
		"end":    end,
		"schema": schema,
		"count":  len(bars),
		"data":   bars,
	})
}

func (s *Server) handleStreamPrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	syms := normalizeSymbols(body.Symbols)
	if len(syms) == 0 {
		http.Error(w, "symbols is required", http.StatusBadRequest)
		return
	}

	sink, err := newSSESink(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.streams.RunPrices(r.Context(), sink, syms)
}

func (s *Server) handleStreamPnL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := s.auth.UserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	sink, err := newSSESink(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.streams.RunPnL(r.Context(), sink, userID)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func splitSymbols(raw string) []string {
	return normalizeSymbols(strings.Split(raw, ","))
}

func normalizeSymbols(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
