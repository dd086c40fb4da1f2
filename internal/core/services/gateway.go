// Package services contains core business logic
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Gateway error taxonomy, mapped to HTTP statuses by the handler layer
var (
	ErrUnknownWidget    = errors.New("unknown widget token")
	ErrOriginNotAllowed = errors.New("request origin not in inbox allowlist")
	ErrCaptchaRequired  = errors.New("captcha challenge outstanding")
	ErrEmptyBody        = errors.New("message body must not be empty")
	ErrMissingContact   = errors.New("contact_external_id is required")
)

const maxMessageBodyLen = 4096

// BootstrapResult is the session handed back to the widget
type BootstrapResult struct {
	Session         *domain.WidgetSession
	CaptchaRequired bool
	CaptchaToken    string
	CaptchaPrompt   string
}

// Gateway implements the widget session flow: bootstrap, send, poll. It
// owns session/captcha/throttle checks; transport concerns (HTTP, SSE)
// stay in the handler layer.
type Gateway struct {
	inboxes       ports.InboxRepository
	contacts      ports.ContactRepository
	conversations ports.ConversationRepository
	messages      ports.MessageRepository
	sessions      ports.SessionStore
	captchas      ports.CaptchaStore
	abuse         ports.AbuseGuard
	router        *Router
	bus           ports.EventBus
}

// NewGateway creates the widget gateway with dependencies injected
func NewGateway(
	inboxes ports.InboxRepository,
	contacts ports.ContactRepository,
	conversations ports.ConversationRepository,
	messages ports.MessageRepository,
	sessions ports.SessionStore,
	captchas ports.CaptchaStore,
	abuse ports.AbuseGuard,
	router *Router,
	bus ports.EventBus,
) *Gateway {
	return &Gateway{
		inboxes:       inboxes,
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		sessions:      sessions,
		captchas:      captchas,
		abuse:         abuse,
		router:        router,
		bus:           bus,
	}
}

// Bootstrap validates the widget origin, resolves the contact, and creates
// or reuses the widget session. A challenge is issued when the abuse
// heuristic triggers, and re-issued for any session still blocked behind an
// unsolved challenge, so an expired one never strands the visitor.
func (g *Gateway) Bootstrap(ctx context.Context, widgetToken, contactExternalID, origin, clientIP string) (*BootstrapResult, error) {
	inbox, err := g.resolveInbox(ctx, widgetToken, origin)
	if err != nil {
		return nil, err
	}

	if contactExternalID == "" {
		return nil, ErrMissingContact
	}

	contact, err := g.contacts.GetOrCreateByExternalID(ctx, inbox.ID, contactExternalID)
	if err != nil {
		return nil, fmt.Errorf("resolve contact: %w", err)
	}

	sess, err := g.sessions.FindOrCreate(ctx, inbox.ID, contact.ID)
	if err != nil {
		return nil, fmt.Errorf("create widget session: %w", err)
	}

	result := &BootstrapResult{Session: sess}

	// Abuse heuristic: request velocity from the client IP. The guard
	// adapter fails closed, so store trouble means "throttled" here.
	throttled, err := g.abuse.Hit(ctx, clientIP)
	if err != nil {
		slog.Error("Abuse velocity check errored",
			"error", err,
			"client_ip", clientIP,
		)
		throttled = true
	}

	// A session still owing an answer gets a fresh challenge even when the
	// velocity heuristic has cooled off: the previous challenge may have
	// expired, and a gated session with no live challenge cannot recover.
	if (throttled || sess.CaptchaRequired) && !sess.CaptchaPassed {
		challenge, err := g.captchas.Create(ctx, clientIP)
		if err != nil {
			return nil, fmt.Errorf("issue captcha challenge: %w", err)
		}
		if !sess.CaptchaRequired {
			if err := g.sessions.RequireCaptcha(ctx, sess.Token); err != nil {
				return nil, fmt.Errorf("flag session for captcha: %w", err)
			}
			sess.CaptchaRequired = true
		}
		result.CaptchaRequired = true
		result.CaptchaToken = challenge.Token
		result.CaptchaPrompt = challenge.Prompt

		slog.Info("Captcha challenge issued",
			"inbox_id", inbox.ID,
			"client_ip", clientIP,
		)
	}

	return result, nil
}

// Send creates an inbound visitor message. Rejects with ErrCaptchaRequired
// while an unresolved challenge blocks the session; a correct token/answer
// pair marks the session passed so later sends skip the gate. When the
// conversation is unassigned, an assignee is picked via the round-robin
// queue.
func (g *Gateway) Send(ctx context.Context, widgetToken, sessionToken, body, captchaToken, captchaAnswer, clientIP string) (*domain.Message, error) {
	inbox, err := g.inboxes.GetByWidgetToken(ctx, widgetToken)
	if err != nil {
		if err == ports.ErrNotFound {
			return nil, ErrUnknownWidget
		}
		return nil, fmt.Errorf("resolve inbox: %w", err)
	}

	sess, err := g.sessions.Get(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if sess.InboxID != inbox.ID {
		return nil, ports.ErrSessionNotFound
	}

	// Send velocity counts against the same heuristic as bootstrap
	throttled, err := g.abuse.Hit(ctx, clientIP)
	if err != nil {
		slog.Error("Abuse velocity check errored",
			"error", err,
			"client_ip", clientIP,
		)
		throttled = true
	}
	if throttled && !sess.CaptchaPassed && !sess.CaptchaRequired {
		if err := g.sessions.RequireCaptcha(ctx, sess.Token); err != nil {
			return nil, fmt.Errorf("flag session for captcha: %w", err)
		}
		sess.CaptchaRequired = true
	}

	if sess.CaptchaRequired && !sess.CaptchaPassed {
		passed := false
		if captchaToken != "" {
			passed, err = g.captchas.Verify(ctx, captchaToken, captchaAnswer)
			if err != nil {
				return nil, fmt.Errorf("verify captcha: %w", err)
			}
		}
		if !passed {
			return nil, ErrCaptchaRequired
		}
		if err := g.sessions.MarkCaptchaPassed(ctx, sess.Token); err != nil {
			return nil, fmt.Errorf("mark captcha passed: %w", err)
		}
		sess.CaptchaPassed = true
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if len(body) > maxMessageBodyLen {
		body = body[:maxMessageBodyLen]
	}

	conv, created, err := g.conversations.GetOrCreateOpen(ctx, inbox.ID, sess.ContactID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		g.bus.DispatchAsync(ctx, domain.Event{
			Name:    domain.EventConversationCreated,
			At:      time.Now(),
			Payload: domain.ConversationPayload{Conversation: conv},
		})
	}

	msg, err := domain.NewInboundMessage(conv.ID, sess.ContactID, body)
	if err != nil {
		return nil, err
	}

	id, err := g.messages.Save(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	msg.ID = id

	g.bus.DispatchAsync(ctx, domain.Event{
		Name: domain.EventMessageCreated,
		At:   msg.CreatedAt,
		Payload: domain.MessageCreatedPayload{
			Message: msg,
			InboxID: inbox.ID,
		},
	})

	if !conv.Assigned() {
		if _, _, err := g.router.AssignConversation(ctx, conv); err != nil {
			// Assignment trouble must not lose the visitor's message;
			// the escalation scanner or the next send retries
			slog.Error("Auto-assignment failed",
				"error", err,
				"conversation_id", conv.ID,
			)
		}
	}

	return msg, nil
}

// Poll returns visitor-visible messages with ID > sinceID, ascending.
// Read-only and repeatable; the session cursor only ever moves forward.
func (g *Gateway) Poll(ctx context.Context, widgetToken, sessionToken string, sinceID int64) ([]domain.Message, error) {
	inbox, err := g.inboxes.GetByWidgetToken(ctx, widgetToken)
	if err != nil {
		if err == ports.ErrNotFound {
			return nil, ErrUnknownWidget
		}
		return nil, fmt.Errorf("resolve inbox: %w", err)
	}

	sess, err := g.sessions.Get(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if sess.InboxID != inbox.ID {
		return nil, ports.ErrSessionNotFound
	}

	conv, err := g.conversations.FindOpen(ctx, inbox.ID, sess.ContactID)
	if err != nil {
		if err == ports.ErrNotFound {
			return []domain.Message{}, nil
		}
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	msgs, err := g.messages.ListVisibleSince(ctx, conv.ID, sinceID, 100)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if len(msgs) > 0 {
		last := msgs[len(msgs)-1].ID
		if err := g.sessions.AdvanceCursor(ctx, sess.Token, last); err != nil {
			slog.Warn("Failed to advance session cursor",
				"error", err,
				"session", sess.Token,
			)
		}
	}

	return msgs, nil
}

// ResolveSession validates a (widget, session) token pair for the stream
// endpoint and returns the session plus its live conversation ID (0 when
// the visitor has not written yet).
func (g *Gateway) ResolveSession(ctx context.Context, widgetToken, sessionToken string) (*domain.WidgetSession, int64, error) {
	inbox, err := g.inboxes.GetByWidgetToken(ctx, widgetToken)
	if err != nil {
		if err == ports.ErrNotFound {
			return nil, 0, ErrUnknownWidget
		}
		return nil, 0, fmt.Errorf("resolve inbox: %w", err)
	}

	sess, err := g.sessions.Get(ctx, sessionToken)
	if err != nil {
		return nil, 0, err
	}
	if sess.InboxID != inbox.ID {
		return nil, 0, ports.ErrSessionNotFound
	}

	conv, err := g.conversations.FindOpen(ctx, inbox.ID, sess.ContactID)
	if err != nil {
		if err == ports.ErrNotFound {
			return sess, 0, nil
		}
		return nil, 0, fmt.Errorf("resolve conversation: %w", err)
	}

	return sess, conv.ID, nil
}

// resolveInbox validates the widget token and the request origin against
// the inbox's domain allowlist
func (g *Gateway) resolveInbox(ctx context.Context, widgetToken, origin string) (*domain.Inbox, error) {
	inbox, err := g.inboxes.GetByWidgetToken(ctx, widgetToken)
	if err != nil {
		if err == ports.ErrNotFound {
			return nil, ErrUnknownWidget
		}
		return nil, fmt.Errorf("resolve inbox: %w", err)
	}

	if !originAllowed(inbox.AllowedDomains, origin) {
		slog.Warn("Widget request from disallowed origin",
			"inbox_id", inbox.ID,
			"origin", origin,
		)
		return nil, ErrOriginNotAllowed
	}

	return inbox, nil
}

// originAllowed matches the Origin header host against the allowlist.
// An empty allowlist admits every origin (widget embedded anywhere).
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	if origin == "" {
		return false
	}

	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)

	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
