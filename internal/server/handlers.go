package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/ashita-ai/memento/internal/consolidation"
	"github.com/ashita-ai/memento/internal/engine"
	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
	"github.com/ashita-ai/memento/internal/service/notes"
)

// handleAddNote accepts a note for consolidation. With async intake the
// response is 202 and consolidation happens on the worker; otherwise the
// full consolidation outcome is returned inline.
func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req model.AddNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	var ts time.Time
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	out, err := s.svc.AddNote(r.Context(), req.Content, ts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if out.Queued {
		writeJSON(w, r, http.StatusAccepted, model.NoteAccepted{Queued: true})
		return
	}
	writeJSON(w, r, http.StatusOK, noteResultFromConsolidation(out.Result))
}

// handleRetrieve runs the retrieval pipeline for a query.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req model.RetrieveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	out, err := s.svc.Retrieve(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleHealth reports liveness of the server and its dependencies. The
// graph store is load-bearing: an unreachable graph degrades status to
// "degraded". The search index is an accelerator, so its state is reported
// but never degrades the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:     "ok",
		Version:    s.version,
		Graph:      "ok",
		QueueDepth: s.svc.QueueDepth(),
		Uptime:     int64(time.Since(s.startedAt).Seconds()),
	}

	if s.graphPing != nil {
		if err := s.graphPing(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Graph = "unreachable"
		}
	}
	if s.indexHealthy != nil {
		resp.Qdrant = "ok"
		if err := s.indexHealthy(r.Context()); err != nil {
			resp.Qdrant = "unreachable"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// writeServiceError maps service-layer errors onto API status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, notes.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "note queue full, retry later")
	case errors.Is(err, graph.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, engine.ErrDependencyUnavailable):
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUnavailable, err.Error())
	default:
		s.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

func noteResultFromConsolidation(res consolidation.Result) model.NoteResult {
	out := model.NoteResult{
		NoteID:     res.NoteID,
		Skipped:    res.Skipped,
		SkipReason: res.SkipReason,
		LLMCalls:   res.LLMCalls,
	}
	for _, e := range res.Entities {
		out.Entities = append(out.Entities, model.NoteEntity{
			ID:     e.ID,
			Name:   e.Name,
			Type:   e.Type,
			Action: e.Action,
		})
	}
	for _, m := range res.Memories {
		out.Memories = append(out.Memories, model.NoteMemory{
			ID:             m.ID,
			Content:        m.Content,
			About:          m.About,
			ValidAt:        m.ValidAt,
			InvalidatedIDs: m.InvalidatedIDs,
		})
	}
	return out
}
