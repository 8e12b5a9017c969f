// ABOUTME: Identity pack exposes merge and verification tools to the assistant
// ABOUTME: Thread identity comes from context only; rejections are results, not errors

package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/2389/hearth/internal/identity"
	"github.com/2389/hearth/internal/threadctx"
)

// IdentityPack creates the identity tool pack over the registry service.
func IdentityPack(svc *identity.Service) *Pack {
	h := &identityHandlers{svc: svc}
	return &Pack{
		ID: "builtin:identity",
		Tools: []*Tool{
			{
				Name:        "request_identity_merge",
				Description: "Start verifying this conversation's identity by sending a code to a contact address",
				InputSchema: `{"type":"object","properties":{"method":{"type":"string","enum":["email","phone"]},"contact":{"type":"string"}},"required":["method","contact"]}`,
				Handler:     h.RequestMerge,
			},
			{
				Name:        "confirm_identity_merge",
				Description: "Confirm a previously requested verification code",
				InputSchema: `{"type":"object","properties":{"code":{"type":"string"}},"required":["code"]}`,
				Handler:     h.ConfirmMerge,
			},
			{
				Name:        "merge_additional_identity",
				Description: "Fold another conversation channel into the verified account",
				InputSchema: `{"type":"object","properties":{"other_thread_id":{"type":"string","description":"channel:external-id of the thread to fold in"}},"required":["other_thread_id"]}`,
				Handler:     h.MergeAdditional,
			},
			{
				Name:        "get_my_identity",
				Description: "Report this conversation's identity status and linked channels",
				InputSchema: `{"type":"object","properties":{}}`,
				Handler:     h.GetMyIdentity,
			},
		},
	}
}

type identityHandlers struct {
	svc *identity.Service
}

// rejected wraps a recoverable verification rejection as a tool result
// the assistant can relay to the user. Infrastructure errors still
// return as errors.
func rejected(err error) (json.RawMessage, error) {
	reason := identity.Reason(err)
	if reason == "" {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"status": "rejected",
		"reason": reason,
	})
}

type requestMergeInput struct {
	Method  string `json:"method"`
	Contact string `json:"contact"`
}

func (h *identityHandlers) RequestMerge(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in requestMergeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	pending, err := h.svc.RequestMerge(ctx, in.Method, in.Contact)
	if err != nil {
		return rejected(err)
	}
	// The code itself goes out of band to the contact address; the
	// assistant only learns that one was sent.
	return json.Marshal(map[string]any{
		"status":             "code_sent",
		"method":             in.Method,
		"expires_at":         pending.ExpiresAt.Format(time.RFC3339),
		"expires_in_minutes": int(time.Until(pending.ExpiresAt).Round(time.Minute) / time.Minute),
	})
}

type confirmMergeInput struct {
	Code string `json:"code"`
}

func (h *identityHandlers) ConfirmMerge(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in confirmMergeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	outcome, err := h.svc.ConfirmMerge(ctx, in.Code)
	if err != nil {
		reason := identity.Reason(err)
		if reason == "" {
			return nil, err
		}
		payload := map[string]any{"status": "rejected", "reason": reason}
		// A spent code on a verified identity still reports the account
		// it belongs to.
		if outcome != nil && outcome.PersistentUserID != "" {
			payload["persistent_user_id"] = outcome.PersistentUserID
		}
		return json.Marshal(payload)
	}
	return json.Marshal(map[string]any{
		"status":             "verified",
		"persistent_user_id": outcome.PersistentUserID,
		"files_moved":        len(outcome.Migration.FilesMoved),
		"databases_moved":    len(outcome.Migration.DatabasesMoved),
		"collections_moved":  len(outcome.Migration.CollectionsMoved),
		"conflicts_renamed":  len(outcome.Migration.ConflictsRenamed),
	})
}

type mergeAdditionalInput struct {
	OtherThreadID string `json:"other_thread_id"`
}

func (h *identityHandlers) MergeAdditional(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in mergeAdditionalInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	otherThread := threadctx.ThreadID(in.OtherThreadID)
	if err := otherThread.Validate(); err != nil {
		return nil, err
	}
	outcome, err := h.svc.MergeAdditional(ctx, otherThread)
	if err != nil {
		return rejected(err)
	}
	return json.Marshal(map[string]any{
		"status":             "merged",
		"persistent_user_id": outcome.PersistentUserID,
		"merged_thread":      string(otherThread),
		"files_moved":        len(outcome.Migration.FilesMoved),
		"databases_moved":    len(outcome.Migration.DatabasesMoved),
		"collections_moved":  len(outcome.Migration.CollectionsMoved),
		"conflicts_renamed":  len(outcome.Migration.ConflictsRenamed),
	})
}

func (h *identityHandlers) GetMyIdentity(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	ident, err := h.svc.Current(ctx)
	if err != nil {
		return nil, err
	}
	linked, err := h.svc.Linked(ctx)
	if err != nil {
		return nil, err
	}
	threads := make([]string, 0, len(linked))
	for _, l := range linked {
		threads = append(threads, l.ThreadID)
	}
	out := map[string]any{
		"identity_id":   ident.IdentityID,
		"status":        string(ident.Status),
		"namespace_key": ident.NamespaceKey(),
		"threads":       threads,
	}
	if ident.PersistentUserID != nil {
		out["persistent_user_id"] = *ident.PersistentUserID
	}
	return json.Marshal(out)
}
