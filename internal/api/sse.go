package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// sseHeartbeatInterval is how often a comment line is written to keep
// proxies from timing out an idle stream. Variable so tests can shrink it.
var sseHeartbeatInterval = 30 * time.Second

// handleStream serves the live change feed as Server-Sent Events. Each
// event carries one change batch in the pull response shape, so clients
// can feed stream batches through the same decoding path as pull pages.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if err := validateCollection(collection); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	batches, err := s.repl.Stream(r.Context(), collection)
	if err != nil {
		s.log.Error("stream subscribe failed", zap.String("collection", collection), zap.Error(err))
		http.Error(w, "stream failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case batch, open := <-batches:
			if !open {
				return
			}
			payload, err := json.Marshal(PullResponse{
				Documents:  flattenDocuments(batch.Documents),
				Checkpoint: batch.Checkpoint,
			})
			if err != nil {
				s.log.Error("stream encode failed", zap.String("collection", collection), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
