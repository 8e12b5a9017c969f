// ABOUTME: Per-namespace assistant instance with private conversation history
// ABOUTME: Holds a namespace-scoped database handle and records every exchange to it

package assistant

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hearth/internal/namespace"
)

// Message is one recorded exchange entry in a namespace's history.
type Message struct {
	ID        string
	Role      string
	Body      string
	CreatedAt time.Time
}

// Responder produces the assistant's reply for one inbound message.
// It is the pluggable model boundary; everything around it (history,
// namespace scoping) is this package's job.
type Responder interface {
	Respond(ctx context.Context, history []Message, inbound string) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, history []Message, inbound string) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, history []Message, inbound string) (string, error) {
	return f(ctx, history, inbound)
}

// EchoResponder is the built-in fallback used when no model backend is
// configured. It acknowledges the message without inventing content.
var EchoResponder = ResponderFunc(func(_ context.Context, _ []Message, inbound string) (string, error) {
	return "received: " + inbound, nil
})

// Assistant is one namespace-bound assistant instance. A verified user's
// threads share a single instance; unverified threads each get their own.
// It never sees another namespace's history or files.
type Assistant struct {
	key       string
	ns        *namespace.Namespace
	db        *sql.DB
	responder Responder
	logger    *slog.Logger
}

// New wires an assistant to its namespace and history database. The
// handle is owned by the caller's connection cache, not the assistant.
func New(key string, ns *namespace.Namespace, db *sql.DB, responder Responder, logger *slog.Logger) (*Assistant, error) {
	if responder == nil {
		responder = EchoResponder
	}
	a := &Assistant{
		key:       key,
		ns:        ns,
		db:        db,
		responder: responder,
		logger:    logger,
	}
	if err := a.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

// Key returns the namespace key this assistant is bound to.
func (a *Assistant) Key() string { return a.key }

// Namespace returns the assistant's storage namespace.
func (a *Assistant) Namespace() *namespace.Namespace { return a.ns }

func (a *Assistant) ensureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}
	return nil
}

// HandleMessage records the inbound message, produces a reply, records
// it, and returns it. History and reply both live only in this
// assistant's namespace.
func (a *Assistant) HandleMessage(ctx context.Context, inbound string) (string, error) {
	history, err := a.History(ctx, 50)
	if err != nil {
		return "", err
	}
	if err := a.append(ctx, "user", inbound); err != nil {
		return "", err
	}

	reply, err := a.responder.Respond(ctx, history, inbound)
	if err != nil {
		return "", fmt.Errorf("producing reply: %w", err)
	}
	if err := a.append(ctx, "assistant", reply); err != nil {
		return "", err
	}
	a.logger.Debug("handled message", "namespace", a.key, "inbound_len", len(inbound))
	return reply, nil
}

func (a *Assistant) append(ctx context.Context, role, body string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO messages (id, role, body, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), role, body, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording message: %w", err)
	}
	return nil
}

// History returns the most recent messages in chronological order.
func (a *Assistant) History(ctx context.Context, limit int) ([]Message, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, role, body, created_at FROM messages
		ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.Role, &m.Body, &created); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
