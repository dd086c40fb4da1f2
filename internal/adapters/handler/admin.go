// Package handler implements HTTP request handlers
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
	"livechat-core/internal/core/services"
)

// AdminHandler serves the agent-console and operations surface: presence
// writes, queue administration, escalation runs, and conversation actions.
// Gated by a shared secret header (internal surface, fronted by the CRM's
// own auth in production).
type AdminHandler struct {
	router    *services.Router
	presence  *services.Presence
	escalator *services.Escalator
	console   *services.Console
	secret    string
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(
	router *services.Router,
	presence *services.Presence,
	escalator *services.Escalator,
	console *services.Console,
	secret string,
) *AdminHandler {
	return &AdminHandler{
		router:    router,
		presence:  presence,
		escalator: escalator,
		console:   console,
		secret:    secret,
	}
}

// authorized validates the shared secret header
func (h *AdminHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.secret == "" || r.Header.Get("X-Dispatch-Secret") != h.secret {
		slog.Warn("Unauthorized admin request",
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
		)
		writeError(w, http.StatusUnauthorized, "invalid or missing secret")
		return false
	}
	return true
}

// ============================================================================
// Presence
// ============================================================================

// HandleSetPresence handles POST /admin/agents/{id}/presence
func (h *AdminHandler) HandleSetPresence(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	agentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	status := domain.PresenceStatus(req.Status)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown presence status")
		return
	}

	if err := h.presence.SetStatus(r.Context(), agentID, status); err != nil {
		if err == ports.ErrNotFound {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		slog.Error("Failed to set presence", "error", err, "agent_id", agentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeEnvelope(w, http.StatusOK, "Success", map[string]interface{}{
		"agent_id": agentID,
		"status":   status,
	})
}

// HandleOnlineAgents handles GET /admin/agents/online
func (h *AdminHandler) HandleOnlineAgents(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	var branchID *int64
	if raw := r.URL.Query().Get("branch_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid branch id")
			return
		}
		branchID = &id
	}

	ids, err := h.presence.OnlineAgents(r.Context(), branchID)
	if err != nil {
		slog.Error("Failed to list online agents", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeEnvelope(w, http.StatusOK, "Success", map[string]interface{}{
		"agent_ids": ids,
	})
}

// ============================================================================
// Queue administration (invoked when inbox membership changes)
// ============================================================================

// HandleQueueAdd handles POST /admin/inboxes/{id}/queue/add
func (h *AdminHandler) HandleQueueAdd(w http.ResponseWriter, r *http.Request) {
	h.queueMembership(w, r, h.router.AddAgent)
}

// HandleQueueRemove handles POST /admin/inboxes/{id}/queue/remove
func (h *AdminHandler) HandleQueueRemove(w http.ResponseWriter, r *http.Request) {
	h.queueMembership(w, r, h.router.RemoveAgent)
}

func (h *AdminHandler) queueMembership(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, inboxID, agentID int64) error) {
	if !h.authorized(w, r) {
		return
	}

	inboxID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid inbox id")
		return
	}

	var req struct {
		AgentID int64 `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == 0 {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	if err := op(r.Context(), inboxID, req.AgentID); err != nil {
		slog.Error("Queue membership change failed",
			"error", err,
			"inbox_id", inboxID,
			"agent_id", req.AgentID,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeEnvelope(w, http.StatusOK, "Success", nil)
}

// HandleQueueReset handles POST /admin/inboxes/{id}/queue/reset
func (h *AdminHandler) HandleQueueReset(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	inboxID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid inbox id")
		return
	}

	if err := h.router.ResetQueue(r.Context(), inboxID); err != nil {
		slog.Error("Queue reset failed", "error", err, "inbox_id", inboxID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeEnvelope(w, http.StatusOK, "Success", nil)
}

// HandleQueueSnapshot handles GET /admin/inboxes/{id}/queue
func (h *AdminHandler) HandleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	inboxID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid inbox id")
		return
	}

	queue, err := h.router.QueueSnapshot(r.Context(), inboxID)
	if err != nil {
		if err == ports.ErrNotFound {
			writeError(w, http.StatusNotFound, "inbox not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeEnvelope(w, http.StatusOK, "Success", map[string]interface{}{
		"inbox_id": inboxID,
		"queue":    queue,
	})
}

// ============================================================================
// Escalation
// ============================================================================

// HandleEscalationRun handles POST /admin/escalations/run. Accepts
// timeout_seconds override and dry_run mode.
func (h *AdminHandler) HandleEscalationRun(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	q := r.URL.Query()

	var timeout time.Duration
	if raw := q.Get("timeout_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout_seconds")
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	dryRun := q.Get("dry_run") == "true" || q.Get("dry_run") == "1"

	report, err := h.escalator.RunOnce(r.Context(), timeout, dryRun)
	if err != nil {
		slog.Error("Manual escalation run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeEnvelope(w, http.StatusOK, "Success", report)
}

// ============================================================================
// Conversation actions (agent console)
// ============================================================================

// HandleReply handles POST /admin/conversations/{id}/reply
func (h *AdminHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req struct {
		AgentID  int64  `json:"agent_id"`
		Body     string `json:"body"`
		Internal bool   `json:"internal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == 0 {
		writeError(w, http.StatusBadRequest, "agent_id and body are required")
		return
	}

	direction := domain.DirectionOut
	if req.Internal {
		direction = domain.DirectionInternal
	}

	msg, err := h.console.Reply(r.Context(), convID, req.AgentID, direction, req.Body)
	if err != nil {
		if err == ports.ErrNotFound {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		slog.Error("Agent reply failed", "error", err, "conversation_id", convID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeEnvelope(w, http.StatusCreated, "Success", msg)
}

// HandleTransition handles POST /admin/conversations/{id}/{action}
// where action is open|resolve|close
func (h *AdminHandler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var op func(ctx context.Context, id int64) error
	switch mux.Vars(r)["action"] {
	case "open":
		op = h.console.Open
	case "resolve":
		op = h.console.Resolve
	case "close":
		op = h.console.Close
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	if err := op(r.Context(), convID); err != nil {
		if err == ports.ErrNotFound {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		slog.Error("Conversation transition failed",
			"error", err,
			"conversation_id", convID,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeEnvelope(w, http.StatusOK, "Success", nil)
}

// pathID extracts a numeric {name} path variable
func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
