package archive

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
)

const maxSlugLen = 60

// Slugify maps arbitrary text to a lowercase, URL-safe, length-bounded
// slug for filenames and project directories.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > maxSlugLen {
		out = strings.Trim(out[:maxSlugLen], "-")
	}
	if out == "" {
		out = "untitled"
	}
	return out
}

// MessageDoc is everything needed to render a message into its archive
// form and back.
type MessageDoc struct {
	ID          core.MessageID
	ThreadID    string
	From        string
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Importance  core.Importance
	AckRequired bool
	CreatedAt   time.Time
	Body        string
}

// Render produces the canonical markdown document: a key: value header
// block, a blank line, then the body.
func (d MessageDoc) Render() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", d.ID)
	fmt.Fprintf(&b, "thread: %s\n", d.ThreadID)
	fmt.Fprintf(&b, "from: %s\n", d.From)
	fmt.Fprintf(&b, "to: %s\n", strings.Join(d.To, ","))
	fmt.Fprintf(&b, "cc: %s\n", strings.Join(d.CC, ","))
	fmt.Fprintf(&b, "bcc: %s\n", strings.Join(d.BCC, ","))
	fmt.Fprintf(&b, "subject: %s\n", sanitizeHeader(d.Subject))
	fmt.Fprintf(&b, "importance: %s\n", d.Importance)
	fmt.Fprintf(&b, "ack_required: %t\n", d.AckRequired)
	fmt.Fprintf(&b, "created: %s\n", d.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteByte('\n')
	b.WriteString(d.Body)
	if !strings.HasSuffix(d.Body, "\n") {
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r", " "), "\n", " ")
}

// ParseMessageDoc reads a rendered document back. Used by tests to verify
// round-trips.
func ParseMessageDoc(data []byte) (MessageDoc, error) {
	header, body, found := strings.Cut(string(data), "\n\n")
	if !found {
		return MessageDoc{}, fmt.Errorf("message document missing header separator")
	}
	var d MessageDoc
	for _, line := range strings.Split(header, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			key = strings.TrimSuffix(line, ":")
			value = ""
		}
		switch key {
		case "id":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return MessageDoc{}, fmt.Errorf("bad id header: %w", err)
			}
			d.ID = core.MessageID(n)
		case "thread":
			d.ThreadID = value
		case "from":
			d.From = value
		case "to":
			d.To = splitCSV(value)
		case "cc":
			d.CC = splitCSV(value)
		case "bcc":
			d.BCC = splitCSV(value)
		case "subject":
			d.Subject = value
		case "importance":
			d.Importance = core.Importance(value)
		case "ack_required":
			d.AckRequired = value == "true"
		case "created":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return MessageDoc{}, fmt.Errorf("bad created header: %w", err)
			}
			d.CreatedAt = t
		}
	}
	d.Body = strings.TrimSuffix(body, "\n")
	return d, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Basename is the shared filename for the canonical file and every
// mailbox copy: {epoch}__{subject-slug}__{id}.md
func (d MessageDoc) Basename() string {
	return fmt.Sprintf("%d__%s__%d.md", d.CreatedAt.UTC().Unix(), Slugify(d.Subject), d.ID)
}

func monthDir(t time.Time) string {
	return t.UTC().Format("2006/01")
}

// CanonicalPath is projects/{slug}/messages/YYYY/MM/{basename}.
func (d MessageDoc) CanonicalPath(projectSlug string) string {
	return path.Join("projects", projectSlug, "messages", monthDir(d.CreatedAt), d.Basename())
}

// OutboxPath is the sender's copy.
func (d MessageDoc) OutboxPath(projectSlug string) string {
	return path.Join("projects", projectSlug, "agents", d.From, "outbox", monthDir(d.CreatedAt), d.Basename())
}

// InboxPath is one recipient's copy. Only to/cc recipients get one.
func (d MessageDoc) InboxPath(projectSlug, agent string) string {
	return path.Join("projects", projectSlug, "agents", agent, "inbox", monthDir(d.CreatedAt), d.Basename())
}

// ProfilePath is the agent profile document, rewritten on every agent
// change.
func ProfilePath(projectSlug, agent string) string {
	return path.Join("projects", projectSlug, "agents", agent, "profile.json")
}

// AttachmentPath is content-addressed, so concurrent adds of the same
// bytes collapse to one tree entry.
func AttachmentPath(projectSlug, sha256, filename string) string {
	return path.Join("projects", projectSlug, "attachments", sha256, filename)
}

// CommitMessage formats the one-line commit subject.
func CommitMessage(op, entityKind string, id int64, projectSlug string) string {
	return fmt.Sprintf("%s %s %d in %s", op, entityKind, id, projectSlug)
}

// InboxRecipients returns the deduplicated non-bcc recipient names in
// stable order.
func (d MessageDoc) InboxRecipients() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, name := range append(append([]string{}, d.To...), d.CC...) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
