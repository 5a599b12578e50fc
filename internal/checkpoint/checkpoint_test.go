package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-ai/nexus/internal/bus"
	"github.com/nexus-ai/nexus/internal/state"
	"github.com/nexus-ai/nexus/pkg/models"
)

type fakeGit struct {
	head        string
	headErr     error
	checkedOut  []string
	checkoutErr error
}

func (f *fakeGit) CurrentCommit(ctx context.Context) (string, error) { return f.head, f.headErr }
func (f *fakeGit) CheckoutBranch(ctx context.Context, name string) error {
	f.checkedOut = append(f.checkedOut, name)
	return f.checkoutErr
}

func setup(t *testing.T) (*state.DB, *state.Manager) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := db.SaveProject(&models.Project{
		ID: "p1", Name: "demo", Mode: models.ModeGenesis, RootPath: "/tmp/demo",
		Status: models.ProjectStatusRunning, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	states := state.NewManager(db, true)
	if _, err := states.Create("p1", "demo", models.ModeGenesis); err != nil {
		t.Fatal(err)
	}
	return db, states
}

func newTestManager(t *testing.T, db *state.DB, states *state.Manager, g *fakeGit, events *bus.Bus) *Manager {
	t.Helper()
	m := NewManager(db, states, nil, events)
	if g != nil {
		m.git = g
	}
	return m
}

func TestCreateRecordsStateAndHead(t *testing.T) {
	db, states := setup(t)
	events := bus.New()
	var created int
	events.On(bus.SystemCheckpointCreated, func(bus.Event) { created++ })

	total := 5
	if _, err := states.Update("p1", state.StateUpdate{TotalTasks: &total}); err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, db, states, &fakeGit{head: "abc123"}, events)

	checkpoint, err := m.Create(context.Background(), "p1", "wave 1 complete")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if checkpoint.GitCommit != "abc123" {
		t.Errorf("GitCommit = %q", checkpoint.GitCommit)
	}
	if created != 1 {
		t.Errorf("saw %d created events, want 1", created)
	}

	listed, err := m.List("p1")
	if err != nil || len(listed) != 1 {
		t.Fatalf("List() = %v, %v", listed, err)
	}
}

func TestCreateWithoutState(t *testing.T) {
	db, states := setup(t)
	m := newTestManager(t, db, states, nil, nil)
	if _, err := m.Create(context.Background(), "unknown", "manual"); err == nil {
		t.Error("Create for unknown project should error")
	}
}

func TestCreatePrunesToRetention(t *testing.T) {
	db, states := setup(t)
	m := newTestManager(t, db, states, nil, nil)
	m.SetRetention(3)

	for i := 0; i < 5; i++ {
		m.now = func() time.Time {
			return time.Date(2026, 8, 25, 12, i, 0, 0, time.UTC)
		}
		if _, err := m.Create(context.Background(), "p1", "manual"); err != nil {
			t.Fatal(err)
		}
	}

	listed, err := m.List("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 3 {
		t.Errorf("kept %d checkpoints, want 3", len(listed))
	}
}

func TestRestoreAppliesSnapshot(t *testing.T) {
	db, states := setup(t)
	events := bus.New()
	var restored int
	events.On(bus.SystemCheckpointRestored, func(bus.Event) { restored++ })

	g := &fakeGit{head: "abc123"}
	m := newTestManager(t, db, states, g, events)

	total := 9
	if _, err := states.Update("p1", state.StateUpdate{TotalTasks: &total}); err != nil {
		t.Fatal(err)
	}
	checkpoint, err := m.Create(context.Background(), "p1", "before risky change")
	if err != nil {
		t.Fatal(err)
	}

	// Mutate past the snapshot, then rewind.
	total = 99
	if _, err := states.Update("p1", state.StateUpdate{TotalTasks: &total}); err != nil {
		t.Fatal(err)
	}

	st, err := m.Restore(context.Background(), checkpoint.ID, RestoreOptions{RestoreGit: true})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if st.TotalTasks != 9 {
		t.Errorf("TotalTasks = %d, want 9", st.TotalTasks)
	}
	current, _ := states.Get("p1")
	if current.TotalTasks != 9 {
		t.Error("restore must apply through the state manager")
	}
	if len(g.checkedOut) != 1 || g.checkedOut[0] != "abc123" {
		t.Errorf("checkedOut = %v", g.checkedOut)
	}
	if restored != 1 {
		t.Errorf("saw %d restored events, want 1", restored)
	}
}

func TestRestoreSurvivesCheckoutFailure(t *testing.T) {
	db, states := setup(t)
	g := &fakeGit{head: "abc123", checkoutErr: errors.New("dirty tree")}
	m := newTestManager(t, db, states, g, nil)

	checkpoint, err := m.Create(context.Background(), "p1", "manual")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Restore(context.Background(), checkpoint.ID, RestoreOptions{RestoreGit: true}); err != nil {
		t.Errorf("Restore() error = %v, checkout failure must only warn", err)
	}
}

func TestRestoreUnknownCheckpoint(t *testing.T) {
	db, states := setup(t)
	m := newTestManager(t, db, states, nil, nil)
	if _, err := m.Restore(context.Background(), "missing", RestoreOptions{}); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
