// internal/notify/notify.go

// Package notify delivers change, recovery, and escalation notifications
// to configured sinks. Delivery is fire-and-forget: Publish never blocks
// the monitoring loop on a sink and never surfaces a sink failure.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/utils"
	"github.com/valpere/ScrapeSentry/pkg/types"
)

// deliveryTimeout bounds one sink delivery when the sink has no timeout
// of its own configured.
const deliveryTimeout = 10 * time.Second

// Kind labels what happened.
type Kind = types.NotificationKind

const (
	KindChangeDetected = types.KindChangeDetected
	KindRecovered      = types.KindRecovered
	KindEscalated      = types.KindEscalated
)

// Notification is one outbound message.
type Notification struct {
	Kind     Kind                    `json:"kind"`
	URL      string                  `json:"url"`
	Severity internal.ChangeSeverity `json:"severity,omitempty"`
	Message  string                  `json:"message"`

	// BrokenSelectors accompanies CHANGE_DETECTED and ESCALATED
	BrokenSelectors []string `json:"broken_selectors,omitempty"`

	// AdoptedSelectors accompanies RECOVERED: original to replacement
	AdoptedSelectors map[string]string `json:"adopted_selectors,omitempty"`

	// RequiresManualReset flags escalations that stay parked until an
	// operator resets the baseline
	RequiresManualReset bool `json:"requires_manual_reset,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Sink delivers one notification somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher fans notifications out to every configured sink.
type Dispatcher struct {
	sinks  []Sink
	logger utils.Logger
	wg     sync.WaitGroup
}

// NewDispatcher builds a Dispatcher from notification configuration.
func NewDispatcher(cfg config.NotifyConfig) (*Dispatcher, error) {
	d := &Dispatcher{logger: utils.NewComponentLogger("notify")}
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "log":
			d.sinks = append(d.sinks, NewLogSink())
		case "webhook":
			d.sinks = append(d.sinks, NewWebhookSink(sc))
		default:
			return nil, utils.NewError(utils.ErrCodeConfig, "unknown notification sink").
				WithContext("type", sc.Type).
				Build()
		}
	}
	return d, nil
}

// NewDispatcherWithSinks wires explicit sinks, primarily for tests.
func NewDispatcherWithSinks(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: utils.NewComponentLogger("notify")}
}

// Publish hands the notification to every sink and returns immediately.
// Deliveries run detached from the caller's context so a cancelled
// monitoring cycle does not abort messages already on their way out.
func (d *Dispatcher) Publish(n Notification) {
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}

	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(sink Sink) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			if err := sink.Deliver(ctx, n); err != nil {
				d.logger.WithFields(map[string]interface{}{
					"sink": sink.Name(),
					"kind": string(n.Kind),
					"url":  n.URL,
				}).Warnf("notification delivery failed: %v", err)
			}
		}(sink)
	}
}

// Close waits for in-flight deliveries to finish.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// LogSink writes notifications to the application log.
type LogSink struct {
	logger utils.Logger
}

// NewLogSink creates the log sink.
func NewLogSink() *LogSink {
	return &LogSink{logger: utils.NewComponentLogger("notify-log")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(ctx context.Context, n Notification) error {
	fields := map[string]interface{}{
		"kind": string(n.Kind),
		"url":  n.URL,
	}
	if n.Severity != "" {
		fields["severity"] = string(n.Severity)
	}
	if len(n.BrokenSelectors) > 0 {
		fields["broken"] = len(n.BrokenSelectors)
	}
	if n.RequiresManualReset {
		fields["requires_manual_reset"] = true
	}
	s.logger.WithFields(fields).Info(n.Message)
	return nil
}
