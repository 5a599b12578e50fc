package merge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nexus-ai/nexus/internal/exec"
)

// SmartResult is the outcome of format-aware conflict resolution.
type SmartResult struct {
	// MergedFiles maps resolved paths to their merged contents.
	MergedFiles map[string][]byte
	// Unresolved lists conflicts the resolver could not handle.
	Unresolved []string
	// RegenerateCommands lists commands to rerun for discarded lock files.
	RegenerateCommands []string
}

// Complete reports whether every conflict was resolved.
func (r *SmartResult) Complete() bool { return len(r.Unresolved) == 0 }

// lockFileCommands maps generated lock files to the command that rebuilds
// them. Lock files are never merged textually; they are regenerated.
var lockFileCommands = map[string]string{
	"package-lock.json": "npm install",
	"yarn.lock":         "yarn install",
	"pnpm-lock.yaml":    "pnpm install",
	"go.sum":            "go mod tidy",
	"Cargo.lock":        "cargo build",
	"poetry.lock":       "poetry lock",
}

// ResolveSmart attempts format-aware merging of conflicted files. It
// handles dependency manifests (union of dependency maps, source wins on
// version clashes), line-oriented lists, and lock files (dropped in favor
// of a regenerate command). Anything else lands in Unresolved.
func ResolveSmart(ctx context.Context, runner exec.CommandRunner, repoDir string, conflicts []string, targetBranch, sourceBranch string) *SmartResult {
	result := &SmartResult{MergedFiles: make(map[string][]byte)}

	for _, file := range conflicts {
		base := filepath.Base(file)
		if cmd, ok := lockFileCommands[base]; ok {
			// Take the target side; the command rebuilds the rest.
			if contents, err := showFile(ctx, runner, repoDir, targetBranch, file); err == nil {
				result.MergedFiles[file] = contents
			}
			result.RegenerateCommands = append(result.RegenerateCommands, cmd)
			continue
		}

		targetSide, terr := showFile(ctx, runner, repoDir, targetBranch, file)
		sourceSide, serr := showFile(ctx, runner, repoDir, sourceBranch, file)
		if serr != nil {
			result.Unresolved = append(result.Unresolved, file)
			continue
		}
		if terr != nil {
			// Added only on the source side.
			result.MergedFiles[file] = sourceSide
			continue
		}

		var merged []byte
		var err error
		switch {
		case base == "package.json":
			merged, err = mergePackageJSON(targetSide, sourceSide)
		case base == "go.mod":
			merged, err = mergeLineUnion(targetSide, sourceSide)
		case base == ".gitignore" || base == "requirements.txt" || base == ".env.example":
			merged, err = mergeLineUnion(targetSide, sourceSide)
		default:
			result.Unresolved = append(result.Unresolved, file)
			continue
		}
		if err != nil {
			result.Unresolved = append(result.Unresolved, file)
			continue
		}
		result.MergedFiles[file] = merged
	}

	sort.Strings(result.RegenerateCommands)
	return result
}

func showFile(ctx context.Context, runner exec.CommandRunner, repoDir, branch, file string) ([]byte, error) {
	return runner.Run(ctx, repoDir, "git", "show", branch+":"+file)
}

// mergePackageJSON unions the dependency maps of both sides on top of the
// target's manifest. The source side wins version clashes since it is the
// newer work.
func mergePackageJSON(target, source []byte) ([]byte, error) {
	var targetDoc, sourceDoc map[string]json.RawMessage
	if err := json.Unmarshal(target, &targetDoc); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(source, &sourceDoc); err != nil {
		return nil, err
	}

	for _, section := range []string{"dependencies", "devDependencies", "peerDependencies", "scripts"} {
		merged := map[string]string{}
		for _, doc := range []map[string]json.RawMessage{targetDoc, sourceDoc} {
			raw, ok := doc[section]
			if !ok {
				continue
			}
			var entries map[string]string
			if err := json.Unmarshal(raw, &entries); err != nil {
				return nil, err
			}
			for k, v := range entries {
				merged[k] = v
			}
		}
		if len(merged) > 0 {
			encoded, err := json.Marshal(merged)
			if err != nil {
				return nil, err
			}
			targetDoc[section] = encoded
		}
	}

	// Non-map fields the source changed also carry over.
	for _, field := range []string{"version", "main", "types", "type"} {
		if raw, ok := sourceDoc[field]; ok {
			targetDoc[field] = raw
		}
	}
	return json.MarshalIndent(targetDoc, "", "  ")
}

// mergeLineUnion keeps the target's lines in order and appends lines only
// the source has. Suits .gitignore-style files and go.mod require lists.
func mergeLineUnion(target, source []byte) ([]byte, error) {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(string(target), "\n") {
		out = append(out, line)
		seen[strings.TrimSpace(line)] = true
	}
	for _, line := range strings.Split(string(source), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		out = append(out, line)
		seen[trimmed] = true
	}
	return []byte(strings.Join(out, "\n")), nil
}

func writeRepoFile(repoDir, path string, contents []byte) error {
	full := filepath.Join(repoDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, contents, 0o644)
}
