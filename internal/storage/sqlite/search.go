package sqlite

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/mistakeknot/agentmail/internal/core"
)

// Tokenize splits subject+body text into lowercase tokens for the
// secondary index. Tokens under two runes carry no signal and are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// IndexMessage writes the token rows for a message. Runs in the same
// unit-of-work as the message insert.
func (q *Q) IndexMessage(ctx context.Context, project core.ProjectID, message core.MessageID, text string) error {
	for _, token := range Tokenize(text) {
		if _, err := q.h.ExecContext(ctx,
			`INSERT INTO message_tokens (project_id, message_id, token) VALUES (?, ?, ?)
			 ON CONFLICT(project_id, token, message_id) DO NOTHING`,
			int64(project), int64(message), token); err != nil {
			return fmt.Errorf("index token %q: %w", token, err)
		}
	}
	return nil
}

// SearchMessages finds messages whose index contains every query token
// as a prefix. Ranking is recency only.
func (q *Q) SearchMessages(ctx context.Context, project core.ProjectID, query string, limit int) ([]core.Message, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	stmt := `SELECT m.id, m.project_id, m.sender_id, a.name, m.thread_id, m.subject, m.body, m.importance, m.ack_required, m.created_ts
	         FROM messages m JOIN agents a ON a.id = m.sender_id
	         WHERE m.project_id = ?`
	args := []any{int64(project)}
	for _, token := range tokens {
		stmt += ` AND EXISTS (SELECT 1 FROM message_tokens t
		                      WHERE t.project_id = m.project_id AND t.message_id = m.id AND t.token LIKE ? ESCAPE '\')`
		args = append(args, escapeLike(token)+"%")
	}
	stmt += ` ORDER BY m.created_ts DESC, m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.h.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
