package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/augur/internal/filter"
	"github.com/dyluth/augur/pkg/gameplay"
)

// OutputFormat specifies how watched messages are written.
type OutputFormat string

const (
	// OutputFormatDefault writes one human-readable line per event, request or delta
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON writes each kept message as line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Options selects what a Watcher prints.
type Options struct {
	Format OutputFormat
	Events filter.Criteria // Applied to event messages only
	Class  gameplay.Tag    // Activity class prefix for activate, cancel and delta messages, empty = all
}

// Filtered reports whether any event or class filter is set.
func (o Options) Filtered() bool {
	return o.Events.HasFilters() || o.Class != ""
}

// Watcher formats replication traffic for an operator.
// It is not safe for concurrent use.
type Watcher struct {
	w    io.Writer
	opts Options
	now  func() time.Time

	// Classes seen in activate and delta messages, so cancels can be filtered by class.
	classes map[uuid.UUID]gameplay.Tag
}

// New creates a watcher writing to w.
func New(w io.Writer, opts Options) (*Watcher, error) {
	if opts.Format == "" {
		opts.Format = OutputFormatDefault
	}
	if _, err := ParseOutputFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	if opts.Class != "" {
		if err := opts.Class.Validate(); err != nil {
			return nil, fmt.Errorf("invalid class filter: %w", err)
		}
	}
	return &Watcher{
		w:       w,
		opts:    opts,
		now:     time.Now,
		classes: make(map[uuid.UUID]gameplay.Tag),
	}, nil
}

// Write prints msg if it passes the watcher's filters.
// Returns true if anything was written.
func (wt *Watcher) Write(msg *gameplay.Message) (bool, error) {
	kept := wt.filter(msg)
	if kept == nil {
		return false, nil
	}

	if wt.opts.Format == OutputFormatJSON {
		data, err := json.Marshal(kept)
		if err != nil {
			return false, fmt.Errorf("failed to marshal message to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(wt.w, "%s\n", data); err != nil {
			return false, fmt.Errorf("failed to write JSON output: %w", err)
		}
		return true, nil
	}

	ts := wt.now().Format("15:04:05.000")
	for _, line := range formatLines(kept) {
		if _, err := fmt.Fprintf(wt.w, "[%s] %s\n", ts, line); err != nil {
			return false, fmt.Errorf("failed to write output: %w", err)
		}
	}
	return true, nil
}

// filter returns the part of msg to print, or nil when nothing passes.
// Delta batches are narrowed to the deltas whose class matches.
func (wt *Watcher) filter(msg *gameplay.Message) *gameplay.Message {
	switch msg.Kind {
	case gameplay.MessageEvent:
		if msg.Event == nil || !wt.opts.Events.Matches(msg.Event) {
			return nil
		}
		return msg

	case gameplay.MessageActivate:
		if msg.Activation == nil {
			return nil
		}
		wt.classes[msg.Activation.ActivityID] = msg.Activation.Class
		if !wt.classMatches(msg.Activation.Class) {
			return nil
		}
		return msg

	case gameplay.MessageCancel:
		if msg.Cancel == nil {
			return nil
		}
		if wt.opts.Class == "" {
			return msg
		}
		class, ok := wt.classes[msg.Cancel.ActivityID]
		if !ok || !wt.classMatches(class) {
			return nil
		}
		return msg

	case gameplay.MessageDeltas:
		var deltas []gameplay.Delta
		for _, d := range msg.Deltas {
			if d.Kind == gameplay.DeltaRemoved {
				delete(wt.classes, d.State.ID)
			} else {
				wt.classes[d.State.ID] = d.State.Class
			}
			if wt.classMatches(d.State.Class) {
				deltas = append(deltas, d)
			}
		}
		if len(deltas) == 0 {
			return nil
		}
		if len(deltas) == len(msg.Deltas) {
			return msg
		}
		narrowed := *msg
		narrowed.Deltas = deltas
		return &narrowed
	}

	return nil
}

// WriteState prints one stored activity state regardless of filters.
func (wt *Watcher) WriteState(state *gameplay.ActivityState) error {
	if wt.opts.Format == OutputFormatJSON {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal activity state to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(wt.w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSON output: %w", err)
		}
		return nil
	}

	line := fmt.Sprintf("🏁 %s id=%s status=%s", state.Class, state.ID, state.Status)
	if latest, ok := state.LatestSnapshot(); ok {
		line += fmt.Sprintf(" latest=%s#%d", latest.StateTag, latest.SequenceNumber)
	}
	if _, err := fmt.Fprintf(wt.w, "[%s] %s\n", wt.now().Format("15:04:05.000"), line); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (wt *Watcher) classMatches(class gameplay.Tag) bool {
	return wt.opts.Class == "" || class.Matches(wt.opts.Class)
}

func formatLines(msg *gameplay.Message) []string {
	switch msg.Kind {
	case gameplay.MessageEvent:
		env := msg.Event
		line := fmt.Sprintf("📨 Event: %s policy=%s", env.EventTag, msg.Policy)
		if env.DomainTag != "" {
			line += fmt.Sprintf(" domain=%s", env.DomainTag)
		}
		if env.Sender != nil {
			line += fmt.Sprintf(" sender=%s", env.Sender.ID)
		}
		if env.Payload.Type != "" {
			line += fmt.Sprintf(" payload=%s", env.Payload.Type)
		}
		return []string{line + fromSuffix(msg) + predictedSuffix(msg)}

	case gameplay.MessageActivate:
		req := msg.Activation
		line := fmt.Sprintf("🚀 Activate: %s id=%s policy=%s", req.Class, shortID(req.ActivityID), req.Policy)
		if req.Instigator != nil {
			line += fmt.Sprintf(" instigator=%s", req.Instigator.ID)
		}
		return []string{line + fromSuffix(msg)}

	case gameplay.MessageCancel:
		return []string{fmt.Sprintf("🛑 Cancel: id=%s", shortID(msg.Cancel.ActivityID)) + fromSuffix(msg)}

	case gameplay.MessageDeltas:
		lines := make([]string, 0, len(msg.Deltas))
		for _, d := range msg.Deltas {
			lines = append(lines, formatDelta(d))
		}
		return lines
	}
	return nil
}

func formatDelta(d gameplay.Delta) string {
	icon := "✏️ "
	switch d.Kind {
	case gameplay.DeltaAdded:
		icon = "✨"
	case gameplay.DeltaRemoved:
		icon = "🗑️ "
	}

	line := fmt.Sprintf("%s State %s: %s id=%s status=%s", icon, d.Kind, d.State.Class, shortID(d.State.ID), d.State.Status)
	if latest, ok := d.State.LatestSnapshot(); ok {
		line += fmt.Sprintf(" latest=%s#%d", latest.StateTag, latest.SequenceNumber)
	}
	return line
}

func fromSuffix(msg *gameplay.Message) string {
	if msg.From == "" {
		return ""
	}
	return fmt.Sprintf(" from=%s", msg.From)
}

func predictedSuffix(msg *gameplay.Message) string {
	if !msg.Predicted {
		return ""
	}
	return " (predicted)"
}

// shortID truncates an activity id to its first 8 characters for compact display.
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// Stream writes every message from msgs until ctx is done or msgs is closed.
// Errors from errs are fatal, matching a subscription whose decode errors should stop the watch.
func Stream(ctx context.Context, wt *Watcher, msgs <-chan *gameplay.Message, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("subscription error: %w", err)

		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if _, err := wt.Write(msg); err != nil {
				return err
			}
		}
	}
}

// StateGetter reads one stored authoritative activity state.
type StateGetter interface {
	GetState(ctx context.Context, id uuid.UUID) (*gameplay.ActivityState, error)
}

// PollForState polls until the activity state is stored and satisfies done, or timeout elapses.
// A nil done accepts the first stored state. isNotFound classifies missing-state errors.
// Polls every 200ms.
func PollForState(ctx context.Context, store StateGetter, id uuid.UUID, done func(*gameplay.ActivityState) bool, isNotFound func(error) bool, timeout time.Duration) (*gameplay.ActivityState, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for activity %s after %v", id, timeout)

		case <-ticker.C:
			state, err := store.GetState(ctx, id)
			if err != nil {
				if isNotFound != nil && isNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query activity state: %w", err)
			}

			if done == nil || done(state) {
				return state, nil
			}
		}
	}
}
