// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
	"livechat-core/internal/core/services"
)

// WidgetHandlerConfig tunes the transport-level guards
type WidgetHandlerConfig struct {
	PerIPRPS        float64
	PerIPBurst      int
	StreamIdleLimit time.Duration
}

// WidgetHandler serves the externally facing widget API: session bootstrap,
// message send, long-poll, and server-push streaming.
type WidgetHandler struct {
	gateway  *services.Gateway
	broker   *StreamBroker
	limiters *limiterPool
	idle     time.Duration
}

// NewWidgetHandler creates a widget handler
func NewWidgetHandler(gateway *services.Gateway, broker *StreamBroker, cfg WidgetHandlerConfig) *WidgetHandler {
	idle := cfg.StreamIdleLimit
	if idle <= 0 {
		idle = 60 * time.Second
	}
	return &WidgetHandler{
		gateway:  gateway,
		broker:   broker,
		limiters: newLimiterPool(cfg.PerIPRPS, cfg.PerIPBurst),
		idle:     idle,
	}
}

// bootstrapRequest is the POST /widget/bootstrap body
type bootstrapRequest struct {
	WidgetToken       string `json:"widget_token"`
	ContactExternalID string `json:"contact_external_id"`
}

// bootstrapResponse is the wire shape the embed script expects
type bootstrapResponse struct {
	WidgetSessionToken string `json:"widget_session_token"`
	CaptchaRequired    bool   `json:"captcha_required"`
	CaptchaToken       string `json:"captcha_token,omitempty"`
	CaptchaPrompt      string `json:"captcha_prompt,omitempty"`
}

// HandleBootstrap handles POST /widget/bootstrap
func (h *WidgetHandler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.limiters.Allow(ip) {
		writeThrottled(w)
		return
	}

	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	result, err := h.gateway.Bootstrap(r.Context(), req.WidgetToken, req.ContactExternalID, r.Header.Get("Origin"), ip)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bootstrapResponse{
		WidgetSessionToken: result.Session.Token,
		CaptchaRequired:    result.CaptchaRequired,
		CaptchaToken:       result.CaptchaToken,
		CaptchaPrompt:      result.CaptchaPrompt,
	})
}

// sendRequest is the POST /widget/send body
type sendRequest struct {
	WidgetToken        string `json:"widget_token"`
	WidgetSessionToken string `json:"widget_session_token"`
	Body               string `json:"body"`
	CaptchaToken       string `json:"captcha_token,omitempty"`
	CaptchaAnswer      string `json:"captcha_answer,omitempty"`
}

// HandleSend handles POST /widget/send. 201 on success; 400 with
// captcha_required when an unresolved challenge blocks the send.
func (h *WidgetHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.limiters.Allow(ip) {
		writeThrottled(w)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	msg, err := h.gateway.Send(r.Context(), req.WidgetToken, req.WidgetSessionToken, req.Body, req.CaptchaToken, req.CaptchaAnswer, ip)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message_id": msg.ID,
		"created_at": msg.CreatedAt,
	})
}

// HandlePoll handles GET /widget/poll
func (h *WidgetHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.limiters.Allow(ip) {
		writeThrottled(w)
		return
	}

	q := r.URL.Query()
	sinceID, _ := strconv.ParseInt(q.Get("since_id"), 10, 64)

	msgs, err := h.gateway.Poll(r.Context(), q.Get("widget_token"), q.Get("widget_session_token"), sinceID)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
	})
}

// HandleStream handles GET /widget/stream: a long-lived text/event-stream
// connection. Emits `ready` immediately, then forwards conversation events
// until the client disconnects or the idle limit closes the stream (the
// client reconnects and reconciles via since_id).
func (h *WidgetHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.limiters.Allow(ip) {
		writeThrottled(w)
		return
	}

	q := r.URL.Query()
	_, convID, err := h.gateway.ResolveSession(r.Context(), q.Get("widget_token"), q.Get("widget_session_token"))
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	var events <-chan domain.Event
	if convID != 0 {
		ch, cancel := h.broker.Subscribe(convID)
		defer cancel()
		events = ch
	}

	// Idle limit: the connection closes itself rather than holding
	// resources indefinitely
	idle := time.NewTimer(h.idle)
	defer idle.Stop()

	for {
		select {
		case evt := <-events:
			if err := writeSSEEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(h.idle)

		case <-idle.C:
			slog.Debug("Stream idle limit reached, closing",
				"conversation_id", convID,
			)
			return

		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent serializes one event in SSE framing. Messages carry their
// ID so clients can advance their watermark without a poll round trip.
func writeSSEEvent(w http.ResponseWriter, evt domain.Event) error {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		slog.Error("Failed to encode stream event",
			"error", err,
			"event", evt.Name,
		)
		return nil // skip this event, keep the stream
	}

	if p, ok := evt.Payload.(domain.MessageCreatedPayload); ok && p.Message != nil {
		if _, err := fmt.Fprintf(w, "id: %d\n", p.Message.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, data)
	return err
}

// writeGatewayError maps the gateway error taxonomy to HTTP statuses
func (h *WidgetHandler) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case err == services.ErrUnknownWidget:
		writeError(w, http.StatusNotFound, "unknown widget token")
	case err == services.ErrOriginNotAllowed:
		writeError(w, http.StatusForbidden, "origin not allowed")
	case err == ports.ErrSessionNotFound:
		writeError(w, http.StatusUnauthorized, "invalid or expired session")
	case err == services.ErrCaptchaRequired:
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"captcha_required": true,
		})
	case err == services.ErrEmptyBody:
		writeError(w, http.StatusBadRequest, "message body must not be empty")
	case err == services.ErrMissingContact:
		writeError(w, http.StatusBadRequest, "contact_external_id is required")
	default:
		slog.Error("Widget request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeThrottled answers the generic "try again later" for rate-limited
// callers
func writeThrottled(w http.ResponseWriter) {
	writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
}
