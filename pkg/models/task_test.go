package models

import (
	"strings"
	"testing"
)

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusPlanning, TaskStatusAssigned,
		TaskStatusInProgress, TaskStatusAIReview, TaskStatusHumanReview,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("status %q should be valid", s)
		}
	}
	if TaskStatus("bogus").Valid() {
		t.Error("bogus status should not be valid")
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusPlanning, true},
		{TaskStatusPending, TaskStatusInProgress, true},
		{TaskStatusPlanning, TaskStatusAssigned, true},
		{TaskStatusAssigned, TaskStatusInProgress, true},
		{TaskStatusInProgress, TaskStatusAIReview, true},
		{TaskStatusAIReview, TaskStatusCompleted, true},
		{TaskStatusAIReview, TaskStatusHumanReview, true},
		{TaskStatusHumanReview, TaskStatusCompleted, true},
		{TaskStatusHumanReview, TaskStatusFailed, true},
		{TaskStatusInProgress, TaskStatusEscalated, true},
		// Backward edges are never allowed.
		{TaskStatusInProgress, TaskStatusPending, false},
		{TaskStatusAIReview, TaskStatusInProgress, false},
		{TaskStatusCompleted, TaskStatusPending, false},
		// Terminal states have no outgoing edges.
		{TaskStatusCompleted, TaskStatusFailed, false},
		{TaskStatusFailed, TaskStatusCompleted, false},
		{TaskStatusEscalated, TaskStatusCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("CanTransitionTo(%q -> %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	for _, s := range []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated} {
		if !s.Terminal() {
			t.Errorf("status %q should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskStatusPending, TaskStatusInProgress, TaskStatusHumanReview} {
		if s.Terminal() {
			t.Errorf("status %q should not be terminal", s)
		}
	}
}

func TestSizeForMinutes(t *testing.T) {
	tests := []struct {
		minutes int
		want    TaskSize
	}{
		{1, SizeAtomic},
		{10, SizeAtomic},
		{11, SizeSmall},
		{20, SizeSmall},
		{21, SizeMedium},
		{30, SizeMedium},
	}
	for _, tt := range tests {
		if got := SizeForMinutes(tt.minutes); got != tt.want {
			t.Errorf("SizeForMinutes(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}

func TestTaskValidate(t *testing.T) {
	base := func() *Task {
		return &Task{
			ID:               "t1",
			Name:             "add handler",
			EstimatedMinutes: 15,
			Files:            []string{"a.go", "b.go"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	tk := base()
	tk.EstimatedMinutes = 45
	if err := tk.Validate(); err == nil {
		t.Error("expected error for estimate above limit")
	}

	tk = base()
	tk.EstimatedMinutes = 0
	if err := tk.Validate(); err == nil {
		t.Error("expected error for zero estimate")
	}

	tk = base()
	tk.Files = []string{"a", "b", "c", "d", "e", "f"}
	if err := tk.Validate(); err == nil {
		t.Error("expected error for too many files")
	}

	tk = base()
	tk.DependsOn = []string{"t1"}
	err := tk.Validate()
	if err == nil {
		t.Fatal("expected error for self-dependency")
	}
	if !strings.Contains(err.Error(), "itself") {
		t.Errorf("unexpected error message: %v", err)
	}

	tk = base()
	tk.Name = ""
	if err := tk.Validate(); err == nil {
		t.Error("expected error for empty name")
	}
}
