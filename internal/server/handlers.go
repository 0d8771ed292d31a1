package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/graph"
	"github.com/kairoshq/kairos/internal/resolve"
	"github.com/kairoshq/kairos/pkg/types"
)

// Pipeline is the resolution surface the API exposes.
type Pipeline interface {
	ProcessMeeting(ctx context.Context, meeting *types.Meeting) (*resolve.MeetingResult, error)
	ConfirmMention(ctx context.Context, userID, meetingID, mentionID, entityID string) (*types.Mention, error)
}

// Merger consolidates two entities.
type Merger interface {
	Merge(ctx context.Context, userID, fromID, toID string) (*types.MergeAuditRecord, error)
}

const defaultUserID = "default"

// userID reads the acting user from the request header, falling back to
// the single-user default.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-Kairos-User"); id != "" {
		return id
	}
	return defaultUserID
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps graph errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, graph.ErrAlreadyExists), errors.Is(err, graph.ErrWriteConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleIngestMeeting runs the full pipeline on a posted meeting.
func (s *Server) handleIngestMeeting(w http.ResponseWriter, r *http.Request) {
	var meeting types.Meeting
	if err := json.NewDecoder(r.Body).Decode(&meeting); err != nil {
		writeError(w, http.StatusBadRequest, "invalid meeting payload")
		return
	}
	if meeting.MeetingID == "" {
		writeError(w, http.StatusBadRequest, "meeting_id is required")
		return
	}
	if meeting.UserID == "" {
		meeting.UserID = userID(r)
	}

	result, err := s.pipeline.ProcessMeeting(r.Context(), &meeting)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.hub.Broadcast(Event{Type: EventMeetingProcessed, UserID: meeting.UserID, Payload: result})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMeetingMentions(w http.ResponseWriter, r *http.Request) {
	mentions, err := s.store.MentionsByMeeting(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mentions": mentions})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEntity(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleSearchEntities resolves a normalized name prefix to canonical
// entities via the alias index.
func (s *Server) handleSearchEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	uid := userID(r)
	ids, err := s.store.QueryAliasPrefix(r.Context(), uid, types.NormalizeText(q), 50)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	seen := make(map[string]bool, len(ids))
	entities := make([]*types.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.store.GetCanonicalEntity(r.Context(), uid, id)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if !seen[e.ID] {
			seen[e.ID] = true
			entities = append(entities, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
}

func (s *Server) handleEntityMentions(w http.ResponseWriter, r *http.Request) {
	mentions, err := s.store.MentionsByEntity(r.Context(), userID(r), r.PathValue("id"), 0)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mentions": mentions})
}

func (s *Server) handleEntityEdges(w http.ResponseWriter, r *http.Request) {
	uid, id := userID(r), r.PathValue("id")
	outgoing, err := s.store.EdgesFrom(r.Context(), uid, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	incoming, err := s.store.EdgesTo(r.Context(), uid, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outgoing": outgoing,
		"incoming": incoming,
	})
}

func (s *Server) handleEntityEvidence(w http.ResponseWriter, r *http.Request) {
	uid, id := userID(r), r.PathValue("id")
	e, err := s.store.GetEntity(r.Context(), uid, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	overflow, err := s.store.EvidenceOverflow(r.Context(), uid, id, 0)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"top_evidence": e.TopEvidence,
		"overflow":     overflow,
	})
}

// handlePendingMentions lists ambiguous mentions awaiting confirmation.
func (s *Server) handlePendingMentions(w http.ResponseWriter, r *http.Request) {
	mentions, err := s.store.MentionsByState(r.Context(), userID(r), types.StateAmbiguous, 100)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mentions": mentions})
}

type confirmRequest struct {
	MeetingID string `json:"meeting_id"`
	MentionID string `json:"mention_id"`
	EntityID  string `json:"entity_id"`
}

func (s *Server) handleConfirmMention(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid confirm payload")
		return
	}
	if req.MeetingID == "" || req.MentionID == "" || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "meeting_id, mention_id, and entity_id are required")
		return
	}

	uid := userID(r)
	m, err := s.pipeline.ConfirmMention(r.Context(), uid, req.MeetingID, req.MentionID, req.EntityID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.hub.Broadcast(Event{Type: EventMentionConfirmed, UserID: uid, Payload: m})
	writeJSON(w, http.StatusOK, m)
}

type mergeRequest struct {
	FromEntityID string `json:"from_entity_id"`
	ToEntityID   string `json:"to_entity_id"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid merge payload")
		return
	}
	if req.FromEntityID == "" || req.ToEntityID == "" {
		writeError(w, http.StatusBadRequest, "from_entity_id and to_entity_id are required")
		return
	}

	uid := userID(r)
	rec, err := s.merger.Merge(r.Context(), uid, req.FromEntityID, req.ToEntityID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.hub.Broadcast(Event{Type: EventEntitiesMerged, UserID: uid, Payload: rec})
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetMergeAudit(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetMergeAudit(r.Context(), userID(r), r.PathValue("from"), r.PathValue("to"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
