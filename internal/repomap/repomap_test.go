package repomap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func seedRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("cmd/server/main.go", "package main\n\nfunc main() {}\n")
	write("internal/auth/auth.go", "package auth\n\ntype Service struct{}\n\nfunc NewService() *Service { return nil }\n\nfunc (s *Service) Login() {}\n")
	write("web/app.ts", "export class App {}\nexport function mount(el: string) {}\n")
	write("README.md", "# demo\n")
	write("node_modules/pkg/index.js", "module.exports = {}\n")
	write(".git/config", "[core]\n")
	return root
}

func TestGenerateListsTreeAndLanguages(t *testing.T) {
	root := seedRepo(t)
	out, err := NewGenerator().Generate(root)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	for _, want := range []string{"cmd/server/", "main.go", "internal/auth/", "web/"} {
		if !strings.Contains(out, want) {
			t.Errorf("map missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "Go (2 files)") || !strings.Contains(out, "TypeScript (1 files)") {
		t.Errorf("language summary wrong:\n%s", out)
	}
	if strings.Contains(out, "node_modules") || strings.Contains(out, ".git") {
		t.Error("ignored directories leaked into the map")
	}
}

func TestGenerateSamplesExportedSymbols(t *testing.T) {
	root := seedRepo(t)
	out, err := NewGenerator().Generate(root)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out, "internal/auth/auth.go: Service, NewService, Login") {
		t.Errorf("missing Go symbols:\n%s", out)
	}
	if !strings.Contains(out, "web/app.ts: App, mount") {
		t.Errorf("missing TS symbols:\n%s", out)
	}
}

func TestGenerateHonorsBudget(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 300; i++ {
		name := filepath.Join(root, "pkg", "file"+strings.Repeat("x", i%7)+string(rune('a'+i%26))+".go")
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(name, []byte("package pkg\n\nfunc Exported() {}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	g := NewGenerator()
	g.SetBudget(200)
	out, err := g.Generate(root)
	if err != nil {
		t.Fatal(err)
	}
	if got := g.countTokens(out); got > 250 {
		t.Errorf("map is ~%d tokens, budget was 200", got)
	}
	if !strings.Contains(out, "truncated") {
		t.Error("oversized map must say it was truncated")
	}
}

func TestGenerateEmptyRepo(t *testing.T) {
	out, err := NewGenerator().Generate(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "empty repository") {
		t.Errorf("out = %q", out)
	}
}
