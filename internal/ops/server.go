package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
	"MarketIndexer/internal/indexer"
	"MarketIndexer/internal/observability"
)

// Pipelines is the engine surface the ops server exposes.
type Pipelines interface {
	Feeds() []indexer.FeedInfo
	Pause(feed chain.Feed) error
	Resume(feed chain.Feed) error
	Digest() string
}

// DeadLetterStore lists and requeues permanently failed events.
type DeadLetterStore interface {
	DeadLetters(ctx context.Context, feed chain.Feed, limit int) ([]event.Record, error)
	RequeueDeadLetters(ctx context.Context, feed chain.Feed) (int64, error)
}

// Server is the operator HTTP surface: feed status and control, dead
// letters, health probes and Prometheus metrics. It never exposes
// write access to projected data.
type Server struct {
	engine Pipelines
	store  DeadLetterStore
	health *observability.HealthChecker
	http   *http.Server
	log    zerolog.Logger
}

func NewServer(addr string, engine Pipelines, store DeadLetterStore, health *observability.HealthChecker, log zerolog.Logger) *Server {
	s := &Server{
		engine: engine,
		store:  store,
		health: health,
		log:    log.With().Str("component", "ops").Logger(),
	}

	r := mux.NewRouter()
	r.Use(s.requestID)
	r.HandleFunc("/v1/feeds", s.handleFeeds).Methods(http.MethodGet)
	r.HandleFunc("/v1/feeds/{feed}/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/v1/feeds/{feed}/resume", s.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/v1/feeds/{feed}/deadletters", s.handleDeadLetters).Methods(http.MethodGet)
	r.HandleFunc("/v1/feeds/{feed}/deadletters/requeue", s.handleRequeue).Methods(http.MethodPost)
	r.HandleFunc("/v1/digest", s.handleDigest).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// requestID tags every request so operator actions can be correlated
// in the logs. Callers may supply their own via X-Request-ID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		s.log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context ends, then drains with a bounded grace
// period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("ops server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"feeds": s.engine.Feeds(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	feed := chain.Feed(mux.Vars(r)["feed"])
	if err := s.engine.Pause(feed); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.log.Info().Str("feed", string(feed)).Msg("feed paused by operator")
	writeJSON(w, http.StatusOK, map[string]any{"feed": feed, "status": "PAUSED"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	feed := chain.Feed(mux.Vars(r)["feed"])
	if err := s.engine.Resume(feed); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.log.Info().Str("feed", string(feed)).Msg("feed resumed by operator")
	writeJSON(w, http.StatusOK, map[string]any{"feed": feed, "status": "RUNNING"})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	feed := chain.Feed(mux.Vars(r)["feed"])
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.store.DeadLetters(r.Context(), feed, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type deadLetter struct {
		TxHash       string `json:"tx_hash"`
		LogIndex     int64  `json:"log_index"`
		Block        int64  `json:"block"`
		EventType    string `json:"event_type"`
		Contract     string `json:"contract"`
		ErrorClass   string `json:"error_class"`
		ErrorMessage string `json:"error_message"`
		RetryCount   int    `json:"retry_count"`
	}
	out := make([]deadLetter, 0, len(records))
	for _, rec := range records {
		out = append(out, deadLetter{
			TxHash:       rec.Ref.TxHash,
			LogIndex:     rec.Ref.LogIndex,
			Block:        rec.Ref.Block.Number,
			EventType:    rec.EventType.String(),
			Contract:     rec.Contract,
			ErrorClass:   rec.ErrorClass,
			ErrorMessage: rec.ErrorMessage,
			RetryCount:   rec.RetryCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": feed, "dead_letters": out})
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	feed := chain.Feed(mux.Vars(r)["feed"])
	n, err := s.store.RequeueDeadLetters(r.Context(), feed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info().Str("feed", string(feed)).Int64("count", n).Msg("dead letters requeued")
	writeJSON(w, http.StatusOK, map[string]any{"feed": feed, "requeued": n})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"digest": s.engine.Digest()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
