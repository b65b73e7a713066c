// Package notify is the notification collaborator of the leave workflow.
//
// The workflow only calls Notify; delivery mechanics live elsewhere.
// Notification is fire-and-forget: a failed send is logged by the caller
// and never undoes the transition that triggered it.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event identifies what happened to an application.
type Event string

const (
	EventSubmitted    Event = "leave.submitted"
	EventUpdated      Event = "leave.updated"
	EventStepApproved Event = "leave.step_approved"
	EventApproved     Event = "leave.approved"
	EventRejected     Event = "leave.rejected"
	EventCancelled    Event = "leave.cancelled"
)

// Notification is one message to one recipient.
// Recipient is an employee id, or "role:<role>" when a step is bound to a role only.
type Notification struct {
	Event     Event          `json:"event"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// RoleRecipient addresses everyone holding role.
func RoleRecipient(role string) string { return "role:" + role }

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier writes notifications to a zap logger. It is the default
// notifier when no delivery channel is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.log.Info("notification",
		zap.String("event", string(msg.Event)),
		zap.String("recipient", msg.Recipient),
		zap.Any("payload", msg.Payload),
	)
	return nil
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps notifications in memory. Err, when set, is returned from
// every Notify after recording.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.Err
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Events returns the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Event
	}
	return out
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Recorder)(nil)
)
