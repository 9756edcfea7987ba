package archive

import (
	"context"
	"os/exec"
	"testing"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	a, err := Open(t.TempDir(), "agent-mail <agent-mail@localhost>", nil)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	return a
}

func TestOpenCreatesInitialCommit(t *testing.T) {
	a := newTestArchive(t)
	msg, err := a.HeadMessage(context.Background())
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if msg == "" {
		t.Fatal("expected an initial commit")
	}
}

func TestCommitAndReadBack(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	staged := NewStaged()
	staged.Add("projects/p1/messages/2025/06/1__hi__1.md", []byte("id: 1\n\nhello\n"))
	staged.Add("projects/p1/agents/beta/inbox/2025/06/1__hi__1.md", []byte("id: 1\n\nhello\n"))

	if err := a.Commit(ctx, staged, "create message 1 in p1"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	head, err := a.HeadMessage(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != "create message 1 in p1" {
		t.Errorf("head message = %q", head)
	}

	content, err := a.ReadFile(ctx, "projects/p1/messages/2025/06/1__hi__1.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != "id: 1\n\nhello\n" {
		t.Errorf("content = %q", content)
	}
	if !a.HasFile(ctx, "projects/p1/agents/beta/inbox/2025/06/1__hi__1.md") {
		t.Error("inbox copy missing at HEAD")
	}
	if a.HasFile(ctx, "projects/p1/agents/beta/inbox/2025/06/other.md") {
		t.Error("unexpected file reported present")
	}
}

func TestEmptyStagedCommitIsNoop(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	before, _ := a.HeadMessage(ctx)
	if err := a.Commit(ctx, NewStaged(), "should not appear"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	after, _ := a.HeadMessage(ctx)
	if before != after {
		t.Error("empty stage must not create a commit")
	}
}
