// Package sink turns bus events into output streams: a severity-colored
// console line per event and an append-only JSONL file for embedders.
// Both subscribe through bus.OnAny and can be detached with the returned
// unsubscribe function.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/nexus-ai/nexus/internal/bus"
)

var (
	dimColor    = color.New(color.FgHiBlack)
	infoColor   = color.New(color.FgCyan)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	strongColor = color.New(color.FgMagenta, color.Bold)
)

// colorFor buckets event types by what a human scanning the run cares
// about: red for failures, yellow for escalations and pauses, green for
// completions, magenta for project-level transitions.
func colorFor(eventType string) *color.Color {
	switch {
	case strings.HasSuffix(eventType, ":failed") || eventType == bus.SystemError ||
		eventType == bus.AgentError || eventType == bus.TaskMergeFailed || eventType == bus.PlanningError:
		return badColor
	case eventType == bus.TaskEscalated || eventType == bus.ReviewRequested ||
		eventType == bus.CoordinatorPaused || eventType == bus.ReviewRejected:
		return warnColor
	case strings.HasSuffix(eventType, ":completed") || eventType == bus.TaskMerged ||
		eventType == bus.ReviewApproved:
		return goodColor
	case strings.HasPrefix(eventType, "project:") || strings.HasPrefix(eventType, "coordinator:"):
		return strongColor
	case strings.HasPrefix(eventType, "agent:") || eventType == bus.TaskStatusChanged:
		return dimColor
	default:
		return infoColor
	}
}

// Console writes one compact line per event to a writer.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	// Verbose includes chatty agent and status-change events.
	verbose bool
}

// NewConsole creates a console sink. out defaults to os.Stdout.
func NewConsole(out io.Writer, verbose bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, verbose: verbose}
}

// Attach subscribes the sink to every event on the bus.
func (c *Console) Attach(events *bus.Bus) func() {
	return events.OnAny(c.handle)
}

func (c *Console) handle(ev bus.Event) {
	if !c.verbose && isChatty(ev.Type) {
		return
	}
	line := fmt.Sprintf("%s  %-28s %s",
		ev.Timestamp.Format("15:04:05"), ev.Type, summarize(ev))

	c.mu.Lock()
	defer c.mu.Unlock()
	colorFor(ev.Type).Fprintln(c.out, line)
}

func isChatty(eventType string) bool {
	switch eventType {
	case bus.AgentProgress, bus.AgentOutput, bus.TaskStatusChanged, bus.AgentIdle, bus.AgentAssigned:
		return true
	}
	return false
}

// summarize renders the payload fields worth a console line.
func summarize(ev bus.Event) string {
	switch p := ev.Payload.(type) {
	case bus.TaskPayload:
		s := p.TaskID
		if p.TaskName != "" && p.TaskName != p.TaskID {
			s += " (" + p.TaskName + ")"
		}
		if p.Error != "" {
			s += ": " + p.Error
		}
		if p.Detail != "" {
			s += " " + p.Detail
		}
		return s
	case bus.WavePayload:
		return fmt.Sprintf("wave %d: %d tasks", p.WaveID, p.TaskCount)
	case bus.AgentPayload:
		s := p.AgentID
		if p.Error != "" {
			s += ": " + p.Error
		}
		return s
	case bus.QAPayload:
		return fmt.Sprintf("%s iteration %d: %d errors", p.TaskID, p.Iteration, p.Errors)
	case bus.ProjectPayload:
		if p.Error != "" {
			return p.ProjectID + ": " + p.Error
		}
		return fmt.Sprintf("%s: %d completed, %d failed", p.ProjectID, p.CompletedTasks, p.FailedTasks)
	case bus.ReviewPayload:
		return fmt.Sprintf("%s (task %s, %s)", p.ReviewID, p.TaskID, p.Reason)
	case bus.InterviewPayload:
		if p.Message != "" {
			return p.SessionID + ": " + p.Message
		}
		return p.SessionID
	case bus.PlanningPayload:
		if p.Feature != "" {
			return fmt.Sprintf("%s: %d tasks", p.Feature, p.Tasks)
		}
		return p.ProjectID
	case bus.CheckpointPayload:
		return p.CheckpointID + " (" + p.Reason + ")"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", p)
	}
}

// JSONL appends every event as one JSON line to a file. Lines are
// self-contained so a consumer can tail the file.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONL opens (appending) the event log at path.
func NewJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &JSONL{file: f, enc: json.NewEncoder(f)}, nil
}

// Attach subscribes the sink to every event on the bus.
func (j *JSONL) Attach(events *bus.Bus) func() {
	return events.OnAny(j.handle)
}

func (j *JSONL) handle(ev bus.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	// Encode errors are swallowed: the log is an observer, never a
	// reason to break the run.
	_ = j.enc.Encode(ev)
}

// Close closes the underlying file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
