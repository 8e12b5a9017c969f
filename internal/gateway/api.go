// ABOUTME: HTTP API handlers for inbound messages and identity operations
// ABOUTME: Every handler derives the thread identity before touching storage

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/hearth/internal/auth"
	"github.com/2389/hearth/internal/dedupe"
	"github.com/2389/hearth/internal/threadctx"
)

// InboundMessage is the JSON request body for POST /v1/messages.
type InboundMessage struct {
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id"`
	MessageID  string `json:"message_id"`
	Text       string `json:"text"`
}

// MessageReply is the JSON response for POST /v1/messages.
type MessageReply struct {
	ThreadID string `json:"thread_id"`
	Reply    string `json:"reply,omitempty"`
	Status   string `json:"status"`
}

// identityRequest is the shared JSON envelope for identity endpoints:
// thread addressing plus tool-specific fields passed through verbatim.
type identityRequest struct {
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id"`
}

// routes builds the HTTP handler tree. Inbound endpoints are wrapped in
// auth middleware when a verifier is configured.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("POST /v1/messages", g.handleMessage)
	mux.HandleFunc("POST /v1/identity/request", g.identityToolHandler("request_identity_merge"))
	mux.HandleFunc("POST /v1/identity/confirm", g.identityToolHandler("confirm_identity_merge"))
	mux.HandleFunc("POST /v1/identity/merge", g.identityToolHandler("merge_additional_identity"))
	mux.HandleFunc("GET /v1/identity", g.handleGetIdentity)

	if g.verifier == nil {
		return mux
	}
	protected := auth.Middleware(g.verifier)(mux)
	outer := http.NewServeMux()
	// Health stays reachable without a token.
	outer.HandleFunc("GET /healthz", g.handleHealth)
	outer.Handle("/", protected)
	return outer
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// threadFor validates the addressed thread against the connector's
// token. A connector may only speak for its own channel.
func (g *Gateway) threadFor(r *http.Request, channel, externalID string) (threadctx.ThreadID, int, string) {
	claims := auth.FromContext(r.Context())
	if claims != nil {
		if channel == "" {
			channel = claims.Channel
		} else if channel != claims.Channel {
			return "", http.StatusForbidden, "token not valid for this channel"
		}
	}
	threadID, err := threadctx.Compose(channel, externalID)
	if err != nil {
		return "", http.StatusBadRequest, err.Error()
	}
	return threadID, 0, ""
}

func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	var in InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	threadID, status, msg := g.threadFor(r, in.Channel, in.ExternalID)
	if status != 0 {
		writeError(w, status, msg)
		return
	}

	if in.MessageID != "" && g.dedupe.Seen(dedupe.MessageKey(threadID.Channel(), in.MessageID)) {
		g.logger.Debug("dropping duplicate delivery", "thread_id", threadID, "message_id", in.MessageID)
		writeJSON(w, http.StatusOK, MessageReply{ThreadID: string(threadID), Status: "duplicate"})
		return
	}

	ctx := threadctx.WithThread(r.Context(), threadID)
	a, err := g.assistants.ForThread(ctx)
	if err != nil {
		g.serverError(w, "building assistant", err)
		return
	}
	if g.watcher != nil {
		if err := g.watcher.Watch(a.Namespace()); err != nil {
			g.logger.Warn("watching namespace failed", "namespace", a.Key(), "error", err)
		}
	}

	reply, err := a.HandleMessage(ctx, in.Text)
	if err != nil {
		g.serverError(w, "handling message", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageReply{ThreadID: string(threadID), Reply: reply, Status: "ok"})
}

// identityToolHandler adapts one identity tool to HTTP. The body names
// the thread (channel, external id) and carries the tool's own input
// fields; the thread goes into the context, never into the tool input.
func (g *Gateway) identityToolHandler(toolName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var addr identityRequest
		if err := json.Unmarshal(body, &addr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		threadID, status, msg := g.threadFor(r, addr.Channel, addr.ExternalID)
		if status != 0 {
			writeError(w, status, msg)
			return
		}

		ctx := threadctx.WithThread(r.Context(), threadID)
		result, err := g.registry.Invoke(ctx, toolName, body)
		if err != nil {
			g.serverError(w, "invoking "+toolName, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(result)
	}
}

func (g *Gateway) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threadID, status, msg := g.threadFor(r, q.Get("channel"), q.Get("external_id"))
	if status != 0 {
		writeError(w, status, msg)
		return
	}

	ctx := threadctx.WithThread(r.Context(), threadID)
	result, err := g.registry.Invoke(ctx, "get_my_identity", json.RawMessage(`{}`))
	if err != nil {
		g.serverError(w, "reading identity", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

func (g *Gateway) serverError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, threadctx.ErrNoThread) {
		writeError(w, http.StatusBadRequest, "thread identity required")
		return
	}
	g.logger.Error(op+" failed", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
