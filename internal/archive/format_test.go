package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "hello-world"},
		{"fix: races in sweeper!!", "fix-races-in-sweeper"},
		{"---", "untitled"},
		{"", "untitled"},
		{"MiXeD CaSe 123", "mixed-case-123"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugifyLengthBound(t *testing.T) {
	long := strings.Repeat("a", 200)
	if got := Slugify(long); len(got) > maxSlugLen {
		t.Fatalf("slug length %d exceeds bound %d", len(got), maxSlugLen)
	}
}

func sampleDoc() MessageDoc {
	return MessageDoc{
		ID:          42,
		ThreadID:    "thread-42",
		From:        "alpha",
		To:          []string{"beta", "gamma"},
		CC:          []string{"delta"},
		BCC:         []string{"epsilon"},
		Subject:     "deploy window",
		Importance:  core.ImportanceHigh,
		AckRequired: true,
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Body:        "first line\n\nsecond paragraph",
	}
}

func TestRenderParseRoundTrip(t *testing.T) {
	doc := sampleDoc()
	parsed, err := ParseMessageDoc(doc.Render())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID != doc.ID || parsed.ThreadID != doc.ThreadID || parsed.From != doc.From {
		t.Errorf("identity fields changed: %+v", parsed)
	}
	if len(parsed.To) != 2 || parsed.To[0] != "beta" {
		t.Errorf("to = %v", parsed.To)
	}
	if len(parsed.CC) != 1 || len(parsed.BCC) != 1 {
		t.Errorf("cc/bcc = %v / %v", parsed.CC, parsed.BCC)
	}
	if parsed.Subject != doc.Subject || parsed.Importance != doc.Importance || !parsed.AckRequired {
		t.Errorf("header fields changed: %+v", parsed)
	}
	if !parsed.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("created = %v, want %v", parsed.CreatedAt, doc.CreatedAt)
	}
	if parsed.Body != doc.Body {
		t.Errorf("body = %q, want %q", parsed.Body, doc.Body)
	}
}

func TestPaths(t *testing.T) {
	doc := sampleDoc()
	want := "projects/p1/messages/2025/06/" + doc.Basename()
	if got := doc.CanonicalPath("p1"); got != want {
		t.Errorf("canonical = %q, want %q", got, want)
	}
	if got := doc.OutboxPath("p1"); !strings.Contains(got, "agents/alpha/outbox/2025/06/") {
		t.Errorf("outbox = %q", got)
	}
	if got := doc.InboxPath("p1", "beta"); !strings.Contains(got, "agents/beta/inbox/2025/06/") {
		t.Errorf("inbox = %q", got)
	}
}

func TestInboxRecipientsSkipBCC(t *testing.T) {
	doc := sampleDoc()
	got := doc.InboxRecipients()
	for _, name := range got {
		if name == "epsilon" {
			t.Fatal("bcc recipient must not get an inbox copy")
		}
	}
	if len(got) != 3 {
		t.Fatalf("recipients = %v", got)
	}
}

func TestCommitMessage(t *testing.T) {
	if got := CommitMessage("create", "message", 7, "p1"); got != "create message 7 in p1" {
		t.Errorf("commit message = %q", got)
	}
}
