package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-ai/nexus/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func testProject(id string) *models.Project {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	return &models.Project{
		ID:        id,
		Name:      "demo",
		Mode:      models.ModeGenesis,
		RootPath:  "/tmp/demo",
		Status:    models.ProjectStatusInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	db := openTestDB(t)
	p := testProject("p1")
	if err := db.SaveProject(p); err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}

	got, err := db.GetProject("p1")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Name != "demo" || got.Mode != models.ModeGenesis || !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("got %+v", got)
	}

	// Upsert updates status in place.
	p.Status = models.ProjectStatusRunning
	if err := db.SaveProject(p); err != nil {
		t.Fatalf("SaveProject() update error = %v", err)
	}
	got, _ = db.GetProject("p1")
	if got.Status != models.ProjectStatusRunning {
		t.Errorf("Status = %q after upsert", got.Status)
	}

	if _, err := db.GetProject("missing"); err != ErrNotFound {
		t.Errorf("GetProject(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTaskRoundTripPreservesArrays(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveProject(testProject("p1")); err != nil {
		t.Fatal(err)
	}

	done := time.Date(2026, 8, 25, 13, 0, 0, 0, time.UTC)
	task := &models.Task{
		ID:               "t1",
		ProjectID:        "p1",
		Name:             "wire config",
		Type:             models.TaskTypeAuto,
		Size:             models.SizeSmall,
		Status:           models.TaskStatusCompleted,
		EstimatedMinutes: 15,
		Files:            []string{"internal/config/config.go", "cmd/nexus/main.go"},
		TestCriteria:     []string{"config loads from yaml"},
		DependsOn:        []string{"t0"},
		WaveID:           2,
		Priority:         1,
		CreatedAt:        done.Add(-time.Hour),
		CompletedAt:      &done,
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if len(got.Files) != 2 || got.Files[0] != "internal/config/config.go" {
		t.Errorf("Files = %v", got.Files)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "t0" {
		t.Errorf("DependsOn = %v", got.DependsOn)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
	if got.WaveID != 2 || got.Size != models.SizeSmall {
		t.Errorf("got %+v", got)
	}
}

func TestTasksByProjectOrdering(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveProject(testProject("p1")); err != nil {
		t.Fatal(err)
	}
	base := time.Now().UTC()
	tasks := []*models.Task{
		{ID: "c", ProjectID: "p1", Name: "c", WaveID: 1, Priority: 0, CreatedAt: base},
		{ID: "a", ProjectID: "p1", Name: "a", WaveID: 0, Priority: 1, CreatedAt: base},
		{ID: "b", ProjectID: "p1", Name: "b", WaveID: 0, Priority: 0, CreatedAt: base},
	}
	if err := db.SaveTasks(tasks); err != nil {
		t.Fatalf("SaveTasks() error = %v", err)
	}

	got, err := db.TasksByProject("p1")
	if err != nil {
		t.Fatalf("TasksByProject() error = %v", err)
	}
	var order []string
	for _, task := range got {
		order = append(order, task.ID)
	}
	want := []string{"b", "a", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestProjectDeleteCascades(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveProject(testProject("p1")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := db.SaveRequirement(&models.Requirement{
		ID: "r1", ProjectID: "p1", Category: models.CategoryFunctional,
		Text: "users can log in", Priority: models.PriorityMust,
		Confidence: 0.9, Source: "interview", CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveTask(&models.Task{ID: "t1", ProjectID: "p1", Name: "x", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteProject("p1"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if reqs, _ := db.RequirementsByProject("p1"); len(reqs) != 0 {
		t.Errorf("requirements survived cascade: %v", reqs)
	}
	if _, err := db.GetTask("t1"); err != ErrNotFound {
		t.Errorf("task survived cascade: err = %v", err)
	}
}

func TestCheckpointPruneKeepsNewest(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveProject(testProject("p1")); err != nil {
		t.Fatal(err)
	}
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := db.SaveCheckpoint(&models.Checkpoint{
			ID:            string(rune('a' + i)),
			ProjectID:     "p1",
			Reason:        "wave",
			StateSnapshot: []byte("{}"),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := db.PruneCheckpoints("p1", 2)
	if err != nil {
		t.Fatalf("PruneCheckpoints() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	remaining, _ := db.ListCheckpoints("p1")
	if len(remaining) != 2 || remaining[0].ID != "e" || remaining[1].ID != "d" {
		var ids []string
		for _, c := range remaining {
			ids = append(ids, c.ID)
		}
		t.Errorf("remaining = %v, want [e d] newest-first", ids)
	}
}

func TestReviewPersistence(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveProject(testProject("p1")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	review := &models.Review{
		ID: "rev1", TaskID: "t1", ProjectID: "p1",
		Reason: models.ReasonMergeConflict, Context: "conflicts: a.go",
		Status: models.ReviewPending, CreatedAt: now,
	}
	if err := db.SaveReview(review); err != nil {
		t.Fatalf("SaveReview() error = %v", err)
	}

	pending, err := db.PendingReviews()
	if err != nil {
		t.Fatalf("PendingReviews() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Reason != models.ReasonMergeConflict {
		t.Fatalf("pending = %+v", pending)
	}

	resolved := now.Add(time.Minute)
	review.Status = models.ReviewApproved
	review.Resolution = "looks fine"
	review.ResolvedAt = &resolved
	if err := db.SaveReview(review); err != nil {
		t.Fatal(err)
	}
	if pending, _ = db.PendingReviews(); len(pending) != 0 {
		t.Errorf("resolved review still pending: %+v", pending)
	}
	got, _ := db.GetReview("rev1")
	if got.Resolution != "looks fine" || got.ResolvedAt == nil {
		t.Errorf("got %+v", got)
	}
}

func TestEpisodesByCategoryLimit(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveProject(testProject("p1")); err != nil {
		t.Fatal(err)
	}
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		if err := db.SaveEpisode(&Episode{
			ID: string(rune('a' + i)), ProjectID: "p1", Category: "backend",
			Summary: "task", Outcome: "completed", ActualMinutes: 10 + i,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.EpisodesByCategory("p1", "backend", 2)
	if err != nil {
		t.Fatalf("EpisodesByCategory() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "d" {
		t.Errorf("got %+v, want 2 newest-first", got)
	}
}
