package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/auth"
	"github.com/haasonsaas/tenantagent/internal/envelope"
	"github.com/haasonsaas/tenantagent/pkg/models"
)

const (
	// ConversationHeader carries the conversation id in both directions.
	ConversationHeader = "X-Conversation-ID"

	// InterruptionMarker prefixes the in-band approval line of a run stream.
	InterruptionMarker = "[INTERRUPTION]"
)

type runRequest struct {
	Input          string `json:"input"`
	ConversationID string `json:"conversationId"`
}

// HistoryResponse is the body of GET /api/conversations/{id}/history.
type HistoryResponse struct {
	ConversationID string           `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
}

// ApprovalsResponse is the body of GET /api/approvals.
type ApprovalsResponse struct {
	Approvals []*agent.ApprovalRequest `json:"approvals"`
}

type parseRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		s.jsonError(w, "input is required", http.StatusBadRequest)
		return
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = strings.TrimSpace(r.Header.Get(ConversationHeader))
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	id, _ := auth.IdentityFromContext(r.Context())
	if ok, wait := s.runLimiter.Allow(limitKey(r, id)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		s.metrics.RecordError("http", "rate_limited")
		s.jsonError(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	events, err := s.runtime.Run(r.Context(), agent.RunRequest{
		ConversationID: conversationID,
		Input:          req.Input,
		Session:        agent.NewSessionContext(id.TenantID, id.AppAuthToken),
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, agent.ErrNoProvider) {
			status = http.StatusServiceUnavailable
		}
		s.jsonError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(ConversationHeader, conversationID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	logger := s.logger.With("conversation_id", conversationID)
	for ev := range events {
		switch ev := ev.(type) {
		case agent.TextChunk:
			if _, err := io.WriteString(w, ev.Text); err != nil {
				logger.Debug("client went away", "error", err)
				return
			}
			flush()
		case agent.ToolActivity:
			logger.Debug("tool activity", "tool", ev.Name, "phase", ev.Phase, "attempt", ev.Attempt)
		case agent.InterruptionSignal:
			if _, err := io.WriteString(w, formatInterruption(ev)); err != nil {
				return
			}
			flush()
		case agent.StreamError:
			logger.Error("run failed", "error", ev.Err)
			s.metrics.RecordError("http", "stream")
			// Headers are already out; aborting the connection is the
			// only way to tell the client the stream is incomplete.
			panic(http.ErrAbortHandler)
		}
	}
}

// formatInterruption renders the in-band approval line. It starts on a new
// line so clients can scan for the marker at line start.
func formatInterruption(sig agent.InterruptionSignal) string {
	ids := make([]string, 0, len(sig.Requests))
	for _, req := range sig.Requests {
		if req != nil {
			ids = append(ids, req.ID)
		}
	}
	message := sig.Message
	if message == "" {
		message = "approval required"
	}
	if len(ids) == 0 {
		return fmt.Sprintf("\n%s %s\n", InterruptionMarker, message)
	}
	return fmt.Sprintf("\n%s %s (requests: %s)\n", InterruptionMarker, message, strings.Join(ids, ", "))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.PathValue("id"))
	if conversationID == "" {
		s.jsonError(w, "conversation id is required", http.StatusBadRequest)
		return
	}
	messages, err := s.runtime.History().Load(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("load history", "conversation_id", conversationID, "error", err)
		s.jsonError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	s.jsonResponse(w, http.StatusOK, HistoryResponse{ConversationID: conversationID, Messages: messages})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.PathValue("id"))
	if conversationID == "" {
		s.jsonError(w, "conversation id is required", http.StatusBadRequest)
		return
	}
	if err := s.runtime.History().Delete(r.Context(), conversationID); err != nil {
		s.logger.Error("delete history", "conversation_id", conversationID, "error", err)
		s.jsonError(w, "failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	checker := s.runtime.Approvals()
	if checker == nil {
		s.jsonResponse(w, http.StatusOK, ApprovalsResponse{Approvals: []*agent.ApprovalRequest{}})
		return
	}
	pending, err := checker.Pending(r.Context(), strings.TrimSpace(r.URL.Query().Get("conversationId")))
	if err != nil {
		s.logger.Error("list approvals", "error", err)
		s.jsonError(w, "failed to list approvals", http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []*agent.ApprovalRequest{}
	}
	s.jsonResponse(w, http.StatusOK, ApprovalsResponse{Approvals: pending})
}

func (s *Server) handleDecideApproval(decision agent.ApprovalDecision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checker := s.runtime.Approvals()
		if checker == nil {
			s.jsonError(w, "approvals are not enabled", http.StatusNotFound)
			return
		}
		decidedBy := "api"
		if id, ok := auth.IdentityFromContext(r.Context()); ok && id.TenantID != "" {
			decidedBy = id.TenantID
		}

		requestID := r.PathValue("id")
		var (
			req *agent.ApprovalRequest
			err error
		)
		if decision == agent.ApprovalAllowed {
			req, err = checker.Approve(r.Context(), requestID, decidedBy)
		} else {
			req, err = checker.Deny(r.Context(), requestID, decidedBy)
		}
		switch {
		case errors.Is(err, agent.ErrApprovalNotFound):
			s.jsonError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, agent.ErrApprovalDecided):
			s.jsonError(w, err.Error(), http.StatusConflict)
		case err != nil:
			s.logger.Error("decide approval", "id", requestID, "error", err)
			s.jsonError(w, "failed to record decision", http.StatusInternalServerError)
		default:
			s.jsonResponse(w, http.StatusOK, req)
		}
	}
}

func (s *Server) handleParseEnvelope(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.jsonResponse(w, http.StatusOK, envelope.Parse(req.Text))
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		s.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// limitKey buckets runs by tenant, falling back to the client address for
// requests without a tenant header.
func limitKey(r *http.Request, id auth.Identity) string {
	if id.TenantID != "" {
		return "tenant:" + id.TenantID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
