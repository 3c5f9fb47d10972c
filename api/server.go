// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package api serves the indexed order book state over HTTP and streams
// committed events over a websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/book"
	"github.com/luxfi/clob-indexer/evm"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/storage"
)

// MaxChartBuckets bounds the candles returned by one chart request.
const MaxChartBuckets = 1000

// Store is what the API reads from.
type Store interface {
	storage.Reader
	Ping(ctx context.Context) error
}

// Server is the read API.
type Server struct {
	store  Store
	hub    *Hub
	logger *zap.Logger
	router *mux.Router
}

// NewServer creates the API. hub may be nil, which disables /api/v1/ws.
func NewServer(store Store, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, hub: hub, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/tokens/{address}", s.handleToken).Methods("GET")
	api.HandleFunc("/books/{id}", s.handleBook).Methods("GET")
	api.HandleFunc("/books/{id}/depths", s.handleDepths).Methods("GET")
	api.HandleFunc("/books/{id}/depths/{tick}", s.handleDepth).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleOrder).Methods("GET")
	api.HandleFunc("/charts/{base}/{quote}/{interval}", s.handleChart).Methods("GET")
	if s.hub != nil {
		api.HandleFunc("/ws", s.hub.HandleWebSocket)
	}
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(corsMiddleware(s.router))
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == "OPTIONS" {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// get writes the row under key, or a 404 when it does not exist.
func (s *Server) get(w http.ResponseWriter, r *http.Request, key string, dst storage.Entity) {
	err := s.store.Get(r.Context(), dst.Collection(), key, dst)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", dst.Collection(), key))
	case err != nil:
		s.logger.Error("store read failed", zap.String("collection", string(dst.Collection())), zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
	default:
		writeJSON(w, http.StatusOK, dst)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	addr := evm.ChecksumAddress(mux.Vars(r)["address"])
	s.get(w, r, addr, &model.Token{})
}

// parseID reads a decimal 256-bit id from the route.
func parseID(w http.ResponseWriter, r *http.Request) (*uint256.Int, bool) {
	id, err := uint256.FromDecimal(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	return id, true
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	s.get(w, r, id.Dec(), &model.Book{})
}

func (s *Server) handleDepths(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var depths []model.Depth
	if err := s.store.List(r.Context(), storage.CollectionDepths, model.DepthPrefix(id), limit, &depths); err != nil {
		s.logger.Error("list depths failed", zap.String("book", id.Dec()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if depths == nil {
		depths = []model.Depth{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": depths})
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	tick, err := strconv.ParseInt(mux.Vars(r)["tick"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tick")
		return
	}
	s.get(w, r, model.DepthID(id, int32(tick)), &model.Depth{})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	s.get(w, r, id.Dec(), &model.OpenOrder{})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	iv, ok := book.ParseInterval(vars["interval"])
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown interval")
		return
	}
	q := r.URL.Query()
	from, err := strconv.ParseUint(q.Get("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := strconv.ParseUint(q.Get("to"), 10, 64)
	if err != nil || to < from {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	first := iv.Bucket(from)
	n := (to - first) / iv.Seconds
	if n >= MaxChartBuckets {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("range exceeds %d buckets", MaxChartBuckets))
		return
	}

	base := evm.ChecksumAddress(vars["base"])
	quote := evm.ChecksumAddress(vars["quote"])
	candles := []model.ChartLog{}
	// counted so a range ending near MaxUint64 cannot wrap
	for i := uint64(0); i <= n; i++ {
		ts := first + i*iv.Seconds
		var c model.ChartLog
		err := s.store.Get(r.Context(), storage.CollectionChartLogs, book.ChartLogID(base, quote, iv.Name, ts), &c)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("chart read failed", zap.String("market", book.MarketCode(base, quote)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "database error")
			return
		}
		candles = append(candles, c)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketCode": book.MarketCode(base, quote),
		"interval":   iv.Name,
		"items":      candles,
	})
}
