package llm

import (
	"sync"
	"testing"
)

func TestMeterAddAndTotals(t *testing.T) {
	m := NewMeter()
	m.Add("model-a", "agent-1", Usage{InputTokens: 100, OutputTokens: 50})
	m.Add("model-a", "agent-1", Usage{InputTokens: 10, OutputTokens: 5})
	m.Add("model-b", "agent-2", Usage{InputTokens: 1, OutputTokens: 2})

	input, output := m.Totals()
	if input != 111 || output != 57 {
		t.Errorf("Totals() = (%d, %d), want (111, 57)", input, output)
	}
	if m.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", m.Calls())
	}
}

func TestMeterBucketsByModelAndAgent(t *testing.T) {
	m := NewMeter()
	m.Add("model-a", "agent-1", Usage{InputTokens: 1})
	m.Add("model-a", "agent-2", Usage{InputTokens: 1})
	m.Add("model-b", "agent-1", Usage{InputTokens: 1})

	entries := m.Entries()
	if len(entries) != 3 {
		t.Fatalf("Entries() returned %d buckets, want 3", len(entries))
	}
}

func TestMeterCost(t *testing.T) {
	m := NewMeter()
	m.Add("model-a", "agent-1", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})

	want := inputCostPerMillion + outputCostPerMillion
	if got := m.Cost(); got != want {
		t.Errorf("Cost() = %f, want %f", got, want)
	}
}

func TestMeterReset(t *testing.T) {
	m := NewMeter()
	m.Add("model-a", "agent-1", Usage{InputTokens: 5})
	m.Reset()

	input, output := m.Totals()
	if input != 0 || output != 0 {
		t.Errorf("Totals() after Reset = (%d, %d), want (0, 0)", input, output)
	}
}

func TestMeterConcurrentAdd(t *testing.T) {
	m := NewMeter()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Add("model-a", "agent-1", Usage{InputTokens: 1, OutputTokens: 1})
			}
		}()
	}
	wg.Wait()

	input, output := m.Totals()
	if input != 1000 || output != 1000 {
		t.Errorf("Totals() = (%d, %d), want (1000, 1000)", input, output)
	}
}
