package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mistakeknot/agentmail/internal/core"
)

func (q *Q) InsertAttachment(ctx context.Context, a core.Attachment) (core.Attachment, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = nowUTC()
	}
	var agentID, messageID any
	if a.AgentID != 0 {
		agentID = int64(a.AgentID)
	}
	if a.MessageID != 0 {
		messageID = int64(a.MessageID)
	}
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO attachments (project_id, agent_id, message_id, filename, stored_path, media_type, size_bytes, sha256, created_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(a.ProjectID), agentID, messageID, a.Filename, a.StoredPath,
		a.MediaType, a.SizeBytes, a.SHA256, fmtTime(a.CreatedAt),
	)
	if err != nil {
		return core.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Attachment{}, fmt.Errorf("attachment id: %w", err)
	}
	a.ID = core.AttachmentID(id)
	return a, nil
}

func (q *Q) GetAttachment(ctx context.Context, id core.AttachmentID) (core.Attachment, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT id, project_id, agent_id, message_id, filename, stored_path, media_type, size_bytes, sha256, created_ts
		 FROM attachments WHERE id = ?`, int64(id))
	var (
		a             core.Attachment
		aid, pid      int64
		agentID, msgID sql.NullInt64
		created       string
	)
	err := row.Scan(&aid, &pid, &agentID, &msgID, &a.Filename, &a.StoredPath, &a.MediaType, &a.SizeBytes, &a.SHA256, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Attachment{}, core.Errf(core.KindAttachmentNotFound, "attachment %d not found", id)
		}
		return core.Attachment{}, fmt.Errorf("scan attachment: %w", err)
	}
	a.ID = core.AttachmentID(aid)
	a.ProjectID = core.ProjectID(pid)
	if agentID.Valid {
		a.AgentID = core.AgentID(agentID.Int64)
	}
	if msgID.Valid {
		a.MessageID = core.MessageID(msgID.Int64)
	}
	a.CreatedAt = parseTime(created)
	return a, nil
}

// BindAttachment ties an already-stored attachment to a message.
func (q *Q) BindAttachment(ctx context.Context, id core.AttachmentID, message core.MessageID) error {
	res, err := q.h.ExecContext(ctx,
		`UPDATE attachments SET message_id = ? WHERE id = ?`, int64(message), int64(id))
	if err != nil {
		return fmt.Errorf("bind attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind attachment: %w", err)
	}
	if n == 0 {
		return core.Errf(core.KindAttachmentNotFound, "attachment %d not found", id)
	}
	return nil
}
