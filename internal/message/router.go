// Package message routes typed, persisted messages between engines and
// subsystems.
//
// Every send is persisted as a pending record before anything else
// happens, so no message is lost to a handler crash. Messages targeting an
// engine are dispatched through a closed handler table and finalised with
// the handler's outcome. Messages targeting a subsystem stay pending in
// that subsystem's inbox until it polls them off.
package message

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/total-audio/meshos/internal/logging"
	"github.com/total-audio/meshos/pkg/mesh"
)

// Handler processes one message addressed to an engine and returns the
// result recorded on the completed message.
type Handler func(ctx context.Context, msg *mesh.Message) (string, error)

// Router persists and dispatches mesh messages.
type Router struct {
	workspaceID string
	store       *mesh.Store
	handlers    map[mesh.Participant]Handler
	log         zerolog.Logger
}

// NewRouter creates a message router with an empty dispatch table.
func NewRouter(workspaceID string, store *mesh.Store) *Router {
	return &Router{
		workspaceID: workspaceID,
		store:       store,
		handlers:    make(map[mesh.Participant]Handler),
		log:         logging.New("message", workspaceID),
	}
}

// RegisterHandler binds an engine to its message handler. The dispatch
// table is closed over engine names; subsystems consume their inboxes by
// polling and never get handlers.
func (r *Router) RegisterHandler(engine mesh.Participant, h Handler) error {
	if !engine.IsEngine() {
		return fmt.Errorf("%q is not an engine, only engines take handlers", engine)
	}
	if h == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	r.handlers[engine] = h
	return nil
}

// Send persists a new message and dispatches it if the target is an
// engine. The generated message ID is the idempotency key for retries.
func (r *Router) Send(ctx context.Context, source, target mesh.Participant, msgType string, payload map[string]any) (*mesh.Message, error) {
	return r.SendWithID(ctx, uuid.New().String(), source, target, msgType, payload)
}

// SendWithID is Send with a caller-supplied idempotency key. Retrying a
// send with the same ID neither duplicates the record nor re-runs the
// handler.
func (r *Router) SendWithID(ctx context.Context, id string, source, target mesh.Participant, msgType string, payload map[string]any) (*mesh.Message, error) {
	msg := &mesh.Message{
		ID:          id,
		WorkspaceID: r.workspaceID,
		Source:      source,
		Target:      target,
		Type:        msgType,
		Payload:     payload,
		Status:      mesh.MessageStatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	// A retried ID may belong to a message that already ran to a terminal
	// state. Re-read rather than assume the in-memory copy is current.
	stored, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read back message: %w", err)
	}
	if stored.Status.Terminal() {
		return stored, nil
	}

	if target.IsEngine() {
		r.dispatch(ctx, stored)
		return r.store.GetMessage(ctx, id)
	}

	r.log.Debug().
		Str("message_id", id).
		Str("target", string(target)).
		Msg("message queued for subsystem inbox")
	return stored, nil
}

// dispatch runs the target engine's handler and records the single
// terminal transition. A panicking handler fails the message instead of
// taking the router down.
func (r *Router) dispatch(ctx context.Context, msg *mesh.Message) {
	handler, ok := r.handlers[msg.Target]
	if !ok {
		r.finalize(ctx, msg.ID, "", fmt.Sprintf("no handler registered for engine %q", msg.Target))
		return
	}

	result, err := r.runHandler(ctx, handler, msg)
	if err != nil {
		r.log.Warn().
			Str("message_id", msg.ID).
			Str("target", string(msg.Target)).
			Err(err).
			Msg("handler failed")
		r.finalize(ctx, msg.ID, "", err.Error())
		return
	}
	r.finalize(ctx, msg.ID, result, "")
}

func (r *Router) runHandler(ctx context.Context, handler Handler, msg *mesh.Message) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return handler(ctx, msg)
}

func (r *Router) finalize(ctx context.Context, id, result, errMsg string) {
	var err error
	if errMsg != "" {
		err = r.store.MarkFailed(ctx, id, errMsg)
	} else {
		err = r.store.MarkProcessed(ctx, id, result)
	}
	if err != nil {
		r.log.Error().Str("message_id", id).Err(err).Msg("failed to finalize message")
	}
}

// ProcessPending dispatches up to limit pending engine-targeted messages,
// oldest first. Subsystem-targeted messages are left for their inboxes.
// Returns how many messages reached a terminal state this pass.
func (r *Router) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := r.store.PendingMessages(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending messages: %w", err)
	}

	processed := 0
	for _, msg := range pending {
		if !msg.Target.IsEngine() {
			continue
		}
		r.dispatch(ctx, msg)
		processed++
	}
	return processed, nil
}

// MessagesForSystem pops up to limit queued messages for a polling
// subsystem, oldest first.
func (r *Router) MessagesForSystem(ctx context.Context, system mesh.Participant, limit int) ([]*mesh.Message, error) {
	return r.store.MessagesForSystem(ctx, system, limit)
}
