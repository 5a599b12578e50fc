package llm

import (
	"fmt"
	"sync"
)

// Pricing per million tokens. Applied uniformly; per-model tables can
// replace this when billing accuracy starts to matter.
const (
	inputCostPerMillion  = 3.0
	outputCostPerMillion = 15.0
)

// meterKey identifies one usage bucket.
type meterKey struct {
	Model   string
	AgentID string
}

// MeterEntry is a snapshot of one (model, agent) bucket.
type MeterEntry struct {
	Model        string
	AgentID      string
	InputTokens  int64
	OutputTokens int64
	Calls        int64
}

// Meter accumulates token usage across all clients in the process,
// keyed by (model, agentID). Safe for concurrent use.
type Meter struct {
	mu      sync.Mutex
	buckets map[meterKey]*MeterEntry
}

// NewMeter returns an empty meter.
func NewMeter() *Meter {
	return &Meter{buckets: make(map[meterKey]*MeterEntry)}
}

// Add records the usage of one completed call.
func (m *Meter) Add(model, agentID string, usage Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := meterKey{Model: model, AgentID: agentID}
	entry, ok := m.buckets[key]
	if !ok {
		entry = &MeterEntry{Model: model, AgentID: agentID}
		m.buckets[key] = entry
	}
	entry.InputTokens += usage.InputTokens
	entry.OutputTokens += usage.OutputTokens
	entry.Calls++
}

// Totals returns the aggregate input and output token counts.
func (m *Meter) Totals() (input, output int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.buckets {
		input += entry.InputTokens
		output += entry.OutputTokens
	}
	return input, output
}

// Calls returns the total number of recorded calls.
func (m *Meter) Calls() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, entry := range m.buckets {
		n += entry.Calls
	}
	return n
}

// Entries returns a snapshot of every bucket.
func (m *Meter) Entries() []MeterEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MeterEntry, 0, len(m.buckets))
	for _, entry := range m.buckets {
		out = append(out, *entry)
	}
	return out
}

// Cost estimates the dollar cost of all recorded usage.
func (m *Meter) Cost() float64 {
	input, output := m.Totals()
	return float64(input)/1_000_000*inputCostPerMillion +
		float64(output)/1_000_000*outputCostPerMillion
}

// Summary formats the meter for log output.
func (m *Meter) Summary() string {
	input, output := m.Totals()
	return fmt.Sprintf("tokens: %d in / %d out across %d calls ($%.4f)",
		input, output, m.Calls(), m.Cost())
}

// Reset clears all buckets.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets = make(map[meterKey]*MeterEntry)
}

// DefaultMeter is the process-wide meter clients record into when no
// explicit meter is wired.
var DefaultMeter = NewMeter()
