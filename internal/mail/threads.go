package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/mistakeknot/agentmail/internal/core"
)

// ListThreads returns the derived thread view: messages grouped by
// thread_id with the latest message as the representative.
func (s *Service) ListThreads(ctx context.Context, projectSlug string, limit int) ([]core.ThreadSummary, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	return r.ListThreads(ctx, project.ID, limit)
}

// ThreadMessages returns a thread in (created_ts, id) ascending order.
func (s *Service) ThreadMessages(ctx context.Context, projectSlug, threadID string) ([]core.Message, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	msgs, err := r.ThreadMessages(ctx, project.ID, threadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, core.Errf(core.KindMessageNotFound, "thread %q has no messages", threadID)
	}
	return msgs, nil
}

// SummarizeThread produces the deterministic digest: one line per message
// with sender, subject, and the first line of the body. No external
// summarizer is involved.
func (s *Service) SummarizeThread(ctx context.Context, projectSlug, threadID string) (string, error) {
	msgs, err := s.ThreadMessages(ctx, projectSlug, threadID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "thread %s (%d messages)\n", threadID, len(msgs))
	for _, m := range msgs {
		first, _, _ := strings.Cut(m.Body, "\n")
		fmt.Fprintf(&b, "- [%d] %s: %s", m.ID, m.SenderName, m.Subject)
		if first != "" {
			fmt.Fprintf(&b, " | %s", first)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
