package notification

import (
	"context"
	"errors"
	"log/slog"
)

// Event names pushed to clients.
const (
	EventConnected            = "connected"
	EventTransactionInitiated = "transaction_initiated"
	EventFundingSettled       = "funding_settled"
	EventObligationSettled    = "obligation_settled"
	EventPaymentFailed        = "payment_failed"
)

// Event describes a notification payload addressed to one user.
type Event struct {
	Name string         `json:"event"`
	Data map[string]any `json:"data,omitempty"`
}

// Notifier delivers events to downstream systems. Delivery is best effort:
// an error is reported but never undoes the state change that caused it.
type Notifier interface {
	Notify(ctx context.Context, uid string, event Event) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Notify writes the event to the structured logger.
func (n *LoggerNotifier) Notify(ctx context.Context, uid string, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.DebugContext(ctx, "notification", slog.String("uid", uid), slog.String("event", event.Name))
	return nil
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

// Notify delivers to every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, uid string, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, uid, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notification in memory; handy in tests.
type Recorder struct {
	events chan Recorded
}

// Recorded is one captured notification.
type Recorded struct {
	UID   string
	Event Event
}

// NewRecorder buffers up to size notifications.
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Recorded, size)}
}

func (r *Recorder) Notify(_ context.Context, uid string, event Event) error {
	select {
	case r.events <- Recorded{UID: uid, Event: event}:
	default:
	}
	return nil
}

// Drain returns everything recorded so far.
func (r *Recorder) Drain() []Recorded {
	var out []Recorded
	for {
		select {
		case rec := <-r.events:
			out = append(out, rec)
		default:
			return out
		}
	}
}
