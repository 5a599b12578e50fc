package models

import (
	"testing"
	"time"
)

func TestAgentTypeValid(t *testing.T) {
	for _, typ := range []AgentType{AgentPlanner, AgentCoder, AgentTester, AgentReviewer, AgentMerger} {
		if !typ.Valid() {
			t.Errorf("type %q should be valid", typ)
		}
	}
	if AgentType("wizard").Valid() {
		t.Error("unknown type should not be valid")
	}
}

func TestAgentStatusValid(t *testing.T) {
	for _, s := range []AgentStatus{AgentStatusIdle, AgentStatusAssigned, AgentStatusWorking, AgentStatusError, AgentStatusTerminated} {
		if !s.Valid() {
			t.Errorf("status %q should be valid", s)
		}
	}
	if AgentStatus("sleeping").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestAverageIterationsPerTask(t *testing.T) {
	m := AgentMetrics{}
	if got := m.AverageIterationsPerTask(); got != 0 {
		t.Errorf("empty metrics average = %v, want 0", got)
	}

	m = AgentMetrics{
		TasksCompleted:  3,
		TasksFailed:     1,
		TotalIterations: 12,
		TotalTimeActive: 5 * time.Minute,
	}
	if got := m.AverageIterationsPerTask(); got != 3 {
		t.Errorf("average = %v, want 3", got)
	}
}
