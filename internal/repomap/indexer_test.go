package repomap

import (
	"strings"
	"testing"

	"github.com/nexus-ai/nexus/internal/state"
)

type memChunkStore struct {
	chunks   map[string][]*state.CodeChunk
	replaced int
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{chunks: make(map[string][]*state.CodeChunk)}
}

func (s *memChunkStore) ReplaceCodeChunks(projectID, path string, chunks []*state.CodeChunk) error {
	s.chunks[path] = chunks
	s.replaced++
	return nil
}

func (s *memChunkStore) CodeChunksByPath(projectID, path string) ([]*state.CodeChunk, error) {
	return s.chunks[path], nil
}

func TestIndexStoresSourceChunks(t *testing.T) {
	root := seedRepo(t)
	store := newMemChunkStore()

	indexed, err := NewIndexer(store).Index("p1", root)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	// main.go, auth.go, and app.ts are source; README.md is not.
	if indexed != 3 {
		t.Errorf("Index() = %d files, want 3", indexed)
	}
	if _, ok := store.chunks["README.md"]; ok {
		t.Error("non-source file must not be indexed")
	}

	auth := store.chunks["internal/auth/auth.go"]
	if len(auth) == 0 {
		t.Fatal("no chunks stored for auth.go")
	}
	var joined strings.Builder
	for i, c := range auth {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.ProjectID != "p1" || c.ID == "" || c.Tokens <= 0 {
			t.Errorf("chunk %d = %+v, missing identity fields", i, c)
		}
		joined.WriteString(c.Content)
	}
	if !strings.Contains(joined.String(), "func NewService()") {
		t.Errorf("chunks do not reassemble the file:\n%s", joined.String())
	}
}

func TestIndexSkipsUnchangedFiles(t *testing.T) {
	root := seedRepo(t)
	store := newMemChunkStore()
	ix := NewIndexer(store)

	if _, err := ix.Index("p1", root); err != nil {
		t.Fatal(err)
	}
	first := store.replaced

	indexed, err := ix.Index("p1", root)
	if err != nil {
		t.Fatal(err)
	}
	if indexed != 0 {
		t.Errorf("second Index() = %d files, want 0", indexed)
	}
	if store.replaced != first {
		t.Errorf("replaced %d times after second pass, want %d", store.replaced, first)
	}
}

func TestSplitBreaksAtLineBoundaries(t *testing.T) {
	ix := NewIndexer(newMemChunkStore())
	ix.SetChunkTokens(5)

	content := "line one here\nline two here\nline three here\n"
	chunks := ix.split("p1", "f.go", content)
	if len(chunks) < 2 {
		t.Fatalf("split into %d chunks, want several at a 5-token budget", len(chunks))
	}
	var joined strings.Builder
	for _, c := range chunks {
		if c.Content != "" && !strings.HasSuffix(c.Content, "\n") && c != chunks[len(chunks)-1] {
			t.Errorf("chunk %d ends mid-line: %q", c.ChunkIndex, c.Content)
		}
		joined.WriteString(c.Content)
	}
	if joined.String() != content {
		t.Errorf("chunks reassemble to %q, want original", joined.String())
	}
}
