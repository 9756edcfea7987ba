package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
)

func (q *Q) InsertMessage(ctx context.Context, m core.Message) (core.Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO messages (project_id, sender_id, thread_id, subject, body, importance, ack_required, created_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(m.ProjectID), int64(m.SenderID), m.ThreadID, m.Subject, m.Body,
		string(m.Importance), boolToInt(m.AckRequired), fmtTime(m.CreatedAt),
	)
	if err != nil {
		return core.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Message{}, fmt.Errorf("message id: %w", err)
	}
	m.ID = core.MessageID(id)
	return m, nil
}

// SetMessageThread is used when the thread id is minted from the new
// message's own id.
func (q *Q) SetMessageThread(ctx context.Context, id core.MessageID, threadID string) error {
	_, err := q.h.ExecContext(ctx,
		`UPDATE messages SET thread_id = ? WHERE id = ?`, threadID, int64(id))
	if err != nil {
		return fmt.Errorf("set message thread: %w", err)
	}
	return nil
}

func (q *Q) InsertRecipient(ctx context.Context, r core.Recipient) error {
	_, err := q.h.ExecContext(ctx,
		`INSERT INTO message_recipients (message_id, agent_id, kind) VALUES (?, ?, ?)`,
		int64(r.MessageID), int64(r.AgentID), string(r.Kind),
	)
	if err != nil {
		return fmt.Errorf("insert recipient: %w", err)
	}
	return nil
}

// DeleteMessage is the compensating delete for a failed archive commit.
func (q *Q) DeleteMessage(ctx context.Context, id core.MessageID) error {
	if _, err := q.h.ExecContext(ctx,
		`DELETE FROM message_tokens WHERE message_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete message tokens: %w", err)
	}
	if _, err := q.h.ExecContext(ctx,
		`DELETE FROM message_recipients WHERE message_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete recipients: %w", err)
	}
	if _, err := q.h.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (q *Q) GetMessage(ctx context.Context, id core.MessageID) (core.Message, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT m.id, m.project_id, m.sender_id, a.name, m.thread_id, m.subject, m.body, m.importance, m.ack_required, m.created_ts
		 FROM messages m JOIN agents a ON a.id = m.sender_id
		 WHERE m.id = ?`, int64(id))
	return scanMessage(row)
}

// InboxItem is one inbox row: the message plus this recipient's delivery
// state.
type InboxItem struct {
	Message core.Message
	Kind    core.RecipientKind
	ReadAt  *time.Time
	AckAt   *time.Time
}

func (q *Q) ListInbox(ctx context.Context, project core.ProjectID, agent core.AgentID, unreadOnly bool, limit int) ([]InboxItem, error) {
	query := `SELECT m.id, m.project_id, m.sender_id, a.name, m.thread_id, m.subject, m.body, m.importance, m.ack_required, m.created_ts,
	                 r.kind, r.read_ts, r.ack_ts
	          FROM message_recipients r
	          JOIN messages m ON m.id = r.message_id
	          JOIN agents a ON a.id = m.sender_id
	          WHERE m.project_id = ? AND r.agent_id = ?`
	args := []any{int64(project), int64(agent)}
	if unreadOnly {
		query += ` AND r.read_ts IS NULL`
	}
	query += ` ORDER BY m.created_ts DESC, m.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	var out []InboxItem
	for rows.Next() {
		var (
			m              core.Message
			id, pid, sid   int64
			ack            int
			created, kind  string
			readTS, ackTS  sql.NullString
			importance     string
		)
		if err := rows.Scan(&id, &pid, &sid, &m.SenderName, &m.ThreadID, &m.Subject, &m.Body, &importance, &ack, &created, &kind, &readTS, &ackTS); err != nil {
			return nil, fmt.Errorf("scan inbox: %w", err)
		}
		m.ID = core.MessageID(id)
		m.ProjectID = core.ProjectID(pid)
		m.SenderID = core.AgentID(sid)
		m.Importance = core.Importance(importance)
		m.AckRequired = ack != 0
		m.CreatedAt = parseTime(created)
		out = append(out, InboxItem{
			Message: m,
			Kind:    core.RecipientKind(kind),
			ReadAt:  parseTimePtr(readTS),
			AckAt:   parseTimePtr(ackTS),
		})
	}
	return out, rows.Err()
}

func (q *Q) GetRecipient(ctx context.Context, message core.MessageID, agent core.AgentID) (core.Recipient, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT r.message_id, r.agent_id, a.name, r.kind, r.read_ts, r.ack_ts
		 FROM message_recipients r JOIN agents a ON a.id = r.agent_id
		 WHERE r.message_id = ? AND r.agent_id = ?`, int64(message), int64(agent))
	var (
		r             core.Recipient
		mid, aid      int64
		kind          string
		readTS, ackTS sql.NullString
	)
	err := row.Scan(&mid, &aid, &r.AgentName, &kind, &readTS, &ackTS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Recipient{}, core.Errf(core.KindMessageNotFound, "message %d has no recipient %d", message, agent)
		}
		return core.Recipient{}, fmt.Errorf("scan recipient: %w", err)
	}
	r.MessageID = core.MessageID(mid)
	r.AgentID = core.AgentID(aid)
	r.Kind = core.RecipientKind(kind)
	r.ReadAt = parseTimePtr(readTS)
	r.AckAt = parseTimePtr(ackTS)
	return r, nil
}

func (q *Q) Recipients(ctx context.Context, message core.MessageID) ([]core.Recipient, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT r.message_id, r.agent_id, a.name, r.kind, r.read_ts, r.ack_ts
		 FROM message_recipients r JOIN agents a ON a.id = r.agent_id
		 WHERE r.message_id = ?
		 ORDER BY a.name ASC`, int64(message))
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []core.Recipient
	for rows.Next() {
		var (
			r             core.Recipient
			mid, aid      int64
			kind          string
			readTS, ackTS sql.NullString
		)
		if err := rows.Scan(&mid, &aid, &r.AgentName, &kind, &readTS, &ackTS); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.MessageID = core.MessageID(mid)
		r.AgentID = core.AgentID(aid)
		r.Kind = core.RecipientKind(kind)
		r.ReadAt = parseTimePtr(readTS)
		r.AckAt = parseTimePtr(ackTS)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRead sets read_ts if null. Returns false when the timestamp was
// already set; that is not an error.
func (q *Q) MarkRead(ctx context.Context, message core.MessageID, agent core.AgentID, t time.Time) (bool, error) {
	res, err := q.h.ExecContext(ctx,
		`UPDATE message_recipients SET read_ts = ? WHERE message_id = ? AND agent_id = ? AND read_ts IS NULL`,
		fmtTime(t), int64(message), int64(agent))
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	return n > 0, nil
}

// MarkAck sets ack_ts if null, and read_ts along with it when still null.
func (q *Q) MarkAck(ctx context.Context, message core.MessageID, agent core.AgentID, t time.Time) (bool, error) {
	if _, err := q.MarkRead(ctx, message, agent, t); err != nil {
		return false, err
	}
	res, err := q.h.ExecContext(ctx,
		`UPDATE message_recipients SET ack_ts = ? WHERE message_id = ? AND agent_id = ? AND ack_ts IS NULL`,
		fmtTime(t), int64(message), int64(agent))
	if err != nil {
		return false, fmt.Errorf("mark ack: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark ack: %w", err)
	}
	return n > 0, nil
}

// ThreadMessages returns the thread in (created_ts, id) ascending order.
func (q *Q) ThreadMessages(ctx context.Context, project core.ProjectID, threadID string) ([]core.Message, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT m.id, m.project_id, m.sender_id, a.name, m.thread_id, m.subject, m.body, m.importance, m.ack_required, m.created_ts
		 FROM messages m JOIN agents a ON a.id = m.sender_id
		 WHERE m.project_id = ? AND m.thread_id = ?
		 ORDER BY m.created_ts ASC, m.id ASC`, int64(project), threadID)
	if err != nil {
		return nil, fmt.Errorf("thread messages: %w", err)
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

func (q *Q) ListThreads(ctx context.Context, project core.ProjectID, limit int) ([]core.ThreadSummary, error) {
	query := `SELECT m.thread_id,
	                 (SELECT COUNT(*) FROM messages m3
	                  WHERE m3.project_id = m.project_id AND m3.thread_id = m.thread_id) AS n,
	                 m.id, a.name, m.subject, m.created_ts
	          FROM messages m JOIN agents a ON a.id = m.sender_id
	          WHERE m.project_id = ?
	            AND m.id = (SELECT m2.id FROM messages m2
	                        WHERE m2.project_id = m.project_id AND m2.thread_id = m.thread_id
	                        ORDER BY m2.created_ts DESC, m2.id DESC LIMIT 1)
	          ORDER BY m.created_ts DESC, m.id DESC`
	args := []any{int64(project)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []core.ThreadSummary
	for rows.Next() {
		var (
			t       core.ThreadSummary
			lastID  int64
			created string
		)
		if err := rows.Scan(&t.ThreadID, &t.MessageCount, &lastID, &t.LastFrom, &t.LastSubject, &created); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		t.LastID = core.MessageID(lastID)
		t.LastAt = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ThreadMessageCount counts messages in the thread; zero means the thread
// has no messages yet.
func (q *Q) ThreadMessageCount(ctx context.Context, project core.ProjectID, threadID string) (int, error) {
	var n int
	err := q.h.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE project_id = ? AND thread_id = ?`,
		int64(project), threadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("thread count: %w", err)
	}
	return n, nil
}

func scanMessage(row scanner) (core.Message, error) {
	var (
		m            core.Message
		id, pid, sid int64
		ack          int
		importance   string
		created      string
	)
	err := row.Scan(&id, &pid, &sid, &m.SenderName, &m.ThreadID, &m.Subject, &m.Body, &importance, &ack, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Message{}, core.Errf(core.KindMessageNotFound, "message not found")
		}
		return core.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.ID = core.MessageID(id)
	m.ProjectID = core.ProjectID(pid)
	m.SenderID = core.AgentID(sid)
	m.Importance = core.Importance(importance)
	m.AckRequired = ack != 0
	m.CreatedAt = parseTime(created)
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
