// Package archive maintains the git-backed, human-readable record beneath
// the data directory. Every successful coordination operation that touches
// durable state lands here as exactly one commit; history is never
// rewritten.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Archive is the writer handle. A single internal mutex serializes
// commits; readers may observe the tree at the last commit.
type Archive struct {
	dir         string
	authorName  string
	authorEmail string
	log         *slog.Logger

	mu sync.Mutex
}

// Open initializes the archive repository at dir, creating it with an
// initial commit when absent.
func Open(dir, author string, log *slog.Logger) (*Archive, error) {
	if log == nil {
		log = slog.Default()
	}
	name, email := splitAuthor(author)
	a := &Archive{dir: dir, authorName: name, authorEmail: email, log: log}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if _, err := a.git(context.Background(), "init", "--quiet"); err != nil {
			return nil, fmt.Errorf("init archive repo: %w", err)
		}
	}
	if _, err := a.git(context.Background(), "rev-parse", "--verify", "HEAD"); err != nil {
		if _, err := a.commitArgs(context.Background(), "initialize archive", "--allow-empty"); err != nil {
			return nil, fmt.Errorf("initial commit: %w", err)
		}
	}
	return a, nil
}

// Dir returns the repository root.
func (a *Archive) Dir() string { return a.dir }

func splitAuthor(author string) (name, email string) {
	name = strings.TrimSpace(author)
	email = "agent-mail@localhost"
	if i := strings.IndexByte(author, '<'); i >= 0 {
		name = strings.TrimSpace(author[:i])
		email = strings.Trim(strings.TrimSpace(author[i:]), "<>")
	}
	if name == "" {
		name = "agent-mail"
	}
	return name, email
}

// Staged is an in-memory file index built up inside a unit-of-work and
// committed atomically after the relational commit succeeds.
type Staged struct {
	files map[string][]byte
}

func NewStaged() *Staged {
	return &Staged{files: make(map[string][]byte)}
}

// Add stages content at a repository-relative path.
func (s *Staged) Add(relPath string, content []byte) {
	s.files[filepath.ToSlash(relPath)] = content
}

// Empty reports whether anything is staged.
func (s *Staged) Empty() bool { return len(s.files) == 0 }

// Paths returns the staged paths in deterministic order.
func (s *Staged) Paths() []string {
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Commit writes the staged files into the working tree and records them
// as one commit. The message line follows
// "{op} {entity-kind} {id} in {project-slug}".
func (a *Archive) Commit(ctx context.Context, staged *Staged, message string) error {
	if staged == nil || staged.Empty() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	paths := staged.Paths()
	for _, rel := range paths {
		full := filepath.Join(a.dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("archive mkdir %s: %w", rel, err)
		}
		if err := os.WriteFile(full, staged.files[rel], 0o644); err != nil {
			return fmt.Errorf("archive write %s: %w", rel, err)
		}
	}

	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := a.git(ctx, addArgs...); err != nil {
		return fmt.Errorf("archive add: %w", err)
	}
	// content-addressed writes are idempotent: identical bytes stage to a
	// clean index, and a clean index needs no commit
	if _, err := a.git(ctx, "diff", "--cached", "--quiet", "HEAD"); err == nil {
		return nil
	}
	if _, err := a.commitArgs(ctx, message); err != nil {
		return fmt.Errorf("archive commit: %w", err)
	}
	return nil
}

// ReadFile returns the content of a repository-relative path at HEAD.
func (a *Archive) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	out, err := a.git(ctx, "show", "HEAD:"+filepath.ToSlash(relPath))
	if err != nil {
		return nil, fmt.Errorf("archive read %s: %w", relPath, err)
	}
	return out, nil
}

// HasFile reports whether the path exists at HEAD.
func (a *Archive) HasFile(ctx context.Context, relPath string) bool {
	_, err := a.git(ctx, "cat-file", "-e", "HEAD:"+filepath.ToSlash(relPath))
	return err == nil
}

// HeadMessage returns the subject line of the latest commit.
func (a *Archive) HeadMessage(ctx context.Context) (string, error) {
	out, err := a.git(ctx, "log", "-1", "--pretty=%s")
	if err != nil {
		return "", fmt.Errorf("archive head: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (a *Archive) commitArgs(ctx context.Context, message string, extra ...string) ([]byte, error) {
	args := []string{"commit", "--quiet", "-m", message,
		"--author", fmt.Sprintf("%s <%s>", a.authorName, a.authorEmail)}
	args = append(args, extra...)
	return a.git(ctx, args...)
}

func (a *Archive) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = a.dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+a.authorName,
		"GIT_AUTHOR_EMAIL="+a.authorEmail,
		"GIT_COMMITTER_NAME="+a.authorName,
		"GIT_COMMITTER_EMAIL="+a.authorEmail,
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
