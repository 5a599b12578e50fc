package repomap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-ai/nexus/internal/llm"
	"github.com/nexus-ai/nexus/internal/state"
)

// DefaultChunkTokens is the target size of one stored chunk. Small
// enough that a handful of chunks fit an evolution prompt, large enough
// that a chunk usually covers a whole declaration.
const DefaultChunkTokens = 400

// maxIndexedFileBytes skips files too large to be source code.
const maxIndexedFileBytes = 512 * 1024

// ChunkStore persists indexed source chunks. state.DB satisfies this.
type ChunkStore interface {
	ReplaceCodeChunks(projectID, path string, chunks []*state.CodeChunk) error
	CodeChunksByPath(projectID, path string) ([]*state.CodeChunk, error)
}

// Indexer slices a repository's source files into token-budgeted chunks
// and keeps the code_chunks table in sync with what is on disk.
// Evolution runs index before planning so prompt context can be drawn
// from storage instead of re-reading the tree.
type Indexer struct {
	store       ChunkStore
	chunkTokens int
	countTokens func(string) int
	debugLog    func(format string, args ...interface{})
}

// NewIndexer creates an Indexer over the store.
func NewIndexer(store ChunkStore) *Indexer {
	return &Indexer{
		store:       store,
		chunkTokens: DefaultChunkTokens,
		countTokens: llm.CountTokens,
		debugLog:    func(string, ...interface{}) {},
	}
}

// SetChunkTokens overrides the per-chunk token target.
func (ix *Indexer) SetChunkTokens(n int) {
	if n > 0 {
		ix.chunkTokens = n
	}
}

// SetDebugLogger sets the debug logging function.
func (ix *Indexer) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		ix.debugLog = fn
	}
}

// Index walks root and stores chunks for every recognized source file.
// Files whose stored chunks already match their contents are left
// untouched. Returns how many files were (re)indexed.
func (ix *Indexer) Index(projectID, root string) (int, error) {
	files, err := collectFiles(root)
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", root, err)
	}

	indexed := 0
	for _, rel := range files {
		if patternFor(rel) == nil {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || info.Size() > maxIndexedFileBytes {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			continue
		}

		chunks := ix.split(projectID, rel, string(content))
		if len(chunks) == 0 {
			continue
		}
		stored, err := ix.store.CodeChunksByPath(projectID, rel)
		if err == nil && chunksMatch(stored, chunks) {
			continue
		}
		if err := ix.store.ReplaceCodeChunks(projectID, rel, chunks); err != nil {
			return indexed, fmt.Errorf("index %s: %w", rel, err)
		}
		indexed++
	}
	ix.debugLog("[repomap] indexed %s: %d of %d files changed", root, indexed, len(files))
	return indexed, nil
}

// split cuts content into chunks of roughly chunkTokens each, breaking
// at line boundaries so a chunk never starts mid-line.
func (ix *Indexer) split(projectID, path, content string) []*state.CodeChunk {
	now := time.Now().UTC()
	var chunks []*state.CodeChunk
	var b strings.Builder
	tokens := 0

	flush := func() {
		if b.Len() == 0 {
			return
		}
		chunks = append(chunks, &state.CodeChunk{
			ID:         uuid.NewString(),
			ProjectID:  projectID,
			Path:       path,
			ChunkIndex: len(chunks),
			Content:    b.String(),
			Tokens:     tokens,
			CreatedAt:  now,
		})
		b.Reset()
		tokens = 0
	}

	for _, line := range strings.SplitAfter(content, "\n") {
		lineTokens := ix.countTokens(line)
		if tokens > 0 && tokens+lineTokens > ix.chunkTokens {
			flush()
		}
		b.WriteString(line)
		tokens += lineTokens
	}
	flush()
	return chunks
}

// chunksMatch reports whether stored chunks reassemble to the same text
// as the fresh split.
func chunksMatch(stored, fresh []*state.CodeChunk) bool {
	if len(stored) == 0 || len(stored) != len(fresh) {
		return false
	}
	for i := range stored {
		if stored[i].Content != fresh[i].Content {
			return false
		}
	}
	return true
}
