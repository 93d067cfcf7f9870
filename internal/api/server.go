package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/codetrek/replikit/internal/storage"
	"github.com/codetrek/replikit/pkg/replication"
)

const defaultPullLimit = 100

// Replicator is the per-collection replication surface the HTTP layer
// exposes. The services manager implements it by routing to one engine
// per collection.
type Replicator interface {
	Pull(ctx context.Context, collection string, after replication.Checkpoint, limit int) (*replication.PullResult[*storage.Document], error)
	Push(ctx context.Context, collection string, rows []replication.PushRow[*storage.Document]) ([]*storage.Document, error)
	Stream(ctx context.Context, collection string) (<-chan replication.ChangeBatch[*storage.Document], error)
}

// Middleware wraps a handler, e.g. with bearer-token enforcement.
type Middleware func(http.Handler) http.Handler

// Server exposes the replication protocol over HTTP.
type Server struct {
	repl         Replicator
	mux          *http.ServeMux
	log          *zap.Logger
	auth         Middleware
	maxPullLimit int
}

// Option configures a Server.
type Option func(*Server)

// WithMaxPullLimit caps the page size a client may request.
func WithMaxPullLimit(n int) Option {
	return func(s *Server) { s.maxPullLimit = n }
}

// WithAuth guards the replication routes with the given middleware.
// /health stays open.
func WithAuth(mw Middleware) Option {
	return func(s *Server) { s.auth = mw }
}

// NewServer builds the HTTP server over a Replicator.
func NewServer(repl Replicator, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		repl:         repl,
		mux:          http.NewServeMux(),
		log:          log,
		maxPullLimit: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Replication operations
	s.mux.Handle("GET /v1/replication/{collection}/pull", s.protect(http.HandlerFunc(s.handlePull)))
	s.mux.Handle("POST /v1/replication/{collection}/push", s.protect(http.HandlerFunc(s.handlePush)))
	s.mux.Handle("GET /v1/replication/{collection}/stream", s.protect(http.HandlerFunc(s.handleStream)))

	// Health check
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) protect(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return s.auth(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if err := validateCollection(collection); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	after, err := checkpointFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := defaultPullLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid 'limit' parameter", http.StatusBadRequest)
			return
		}
	}
	if limit > s.maxPullLimit {
		limit = s.maxPullLimit
	}

	res, err := s.repl.Pull(r.Context(), collection, after, limit)
	if err != nil {
		s.log.Error("pull failed", zap.String("collection", collection), zap.Error(err))
		http.Error(w, "pull failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, PullResponse{
		Documents:  flattenDocuments(res.Documents),
		Checkpoint: res.Checkpoint,
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if err := validateCollection(collection); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rows := make([]replication.PushRow[*storage.Document], 0, len(req.Rows))
	for i, row := range req.Rows {
		doc, err := parseDocument(collection, row.NewDocumentState)
		if err != nil {
			http.Error(w, "row "+strconv.Itoa(i)+": newDocumentState: "+err.Error(), http.StatusBadRequest)
			return
		}
		parsed := replication.PushRow[*storage.Document]{NewDocumentState: doc}
		if row.AssumedMasterState != nil {
			assumed, err := parseDocument(collection, row.AssumedMasterState)
			if err != nil {
				http.Error(w, "row "+strconv.Itoa(i)+": assumedMasterState: "+err.Error(), http.StatusBadRequest)
				return
			}
			parsed.AssumedMasterState = assumed
		}
		rows = append(rows, parsed)
	}

	conflicts, err := s.repl.Push(r.Context(), collection, rows)
	if err != nil {
		if errors.Is(err, replication.ErrCommitConflict) {
			http.Error(w, "commit conflict, retry the push", http.StatusConflict)
			return
		}
		s.log.Error("push failed", zap.String("collection", collection), zap.Error(err))
		http.Error(w, "push failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, PushResponse{Conflicts: flattenDocuments(conflicts)})
}

func checkpointFromQuery(r *http.Request) (replication.Checkpoint, error) {
	q := r.URL.Query()
	rawAt, rawID := q.Get("updatedAt"), q.Get("id")
	if rawAt == "" && rawID == "" {
		return replication.Checkpoint{}, nil
	}
	if rawAt == "" || rawID == "" {
		return replication.Checkpoint{}, errors.New("checkpoint requires both 'updatedAt' and 'id' parameters")
	}
	at, err := time.Parse(time.RFC3339Nano, rawAt)
	if err != nil {
		return replication.Checkpoint{}, errors.New("invalid 'updatedAt' parameter: " + err.Error())
	}
	return replication.Checkpoint{LastDocumentID: rawID, LastUpdatedAt: at.UTC()}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
