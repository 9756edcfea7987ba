package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
)

func (q *Q) InsertBuildSlot(ctx context.Context, s core.BuildSlot) (core.BuildSlot, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = nowUTC()
	}
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO build_slots (project_id, agent_id, ttl_seconds, created_ts, expires_ts)
		 VALUES (?, ?, ?, ?, ?)`,
		int64(s.ProjectID), int64(s.AgentID), s.TTLSeconds, fmtTime(s.CreatedAt), fmtTime(s.ExpiresAt),
	)
	if err != nil {
		return core.BuildSlot{}, fmt.Errorf("insert build slot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.BuildSlot{}, fmt.Errorf("build slot id: %w", err)
	}
	s.ID = core.BuildSlotID(id)
	return s, nil
}

func (q *Q) GetBuildSlot(ctx context.Context, id core.BuildSlotID) (core.BuildSlot, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT s.id, s.project_id, s.agent_id, a.name, s.ttl_seconds, s.created_ts, s.expires_ts, s.released_ts
		 FROM build_slots s JOIN agents a ON a.id = s.agent_id
		 WHERE s.id = ?`, int64(id))
	return scanBuildSlot(row)
}

// ActiveBuildSlot returns the single active slot, or BuildSlotNotFound.
func (q *Q) ActiveBuildSlot(ctx context.Context, project core.ProjectID, now time.Time) (core.BuildSlot, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT s.id, s.project_id, s.agent_id, a.name, s.ttl_seconds, s.created_ts, s.expires_ts, s.released_ts
		 FROM build_slots s JOIN agents a ON a.id = s.agent_id
		 WHERE s.project_id = ? AND s.released_ts IS NULL AND s.expires_ts > ?
		 ORDER BY s.created_ts ASC, s.id ASC LIMIT 1`, int64(project), fmtTime(now))
	return scanBuildSlot(row)
}

func (q *Q) ReleaseBuildSlot(ctx context.Context, id core.BuildSlotID, t time.Time) (bool, error) {
	res, err := q.h.ExecContext(ctx,
		`UPDATE build_slots SET released_ts = ? WHERE id = ? AND released_ts IS NULL`,
		fmtTime(t), int64(id))
	if err != nil {
		return false, fmt.Errorf("release build slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release build slot: %w", err)
	}
	return n > 0, nil
}

func (q *Q) RenewBuildSlot(ctx context.Context, id core.BuildSlotID, expires time.Time, ttlSeconds int64) error {
	_, err := q.h.ExecContext(ctx,
		`UPDATE build_slots SET expires_ts = ?, ttl_seconds = ? WHERE id = ? AND released_ts IS NULL`,
		fmtTime(expires), ttlSeconds, int64(id))
	if err != nil {
		return fmt.Errorf("renew build slot: %w", err)
	}
	return nil
}

func scanBuildSlot(row scanner) (core.BuildSlot, error) {
	var (
		s                core.BuildSlot
		id, pid, aid     int64
		created, expires string
		released         sql.NullString
	)
	err := row.Scan(&id, &pid, &aid, &s.AgentName, &s.TTLSeconds, &created, &expires, &released)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BuildSlot{}, core.Errf(core.KindBuildSlotNotFound, "build slot not found")
		}
		return core.BuildSlot{}, fmt.Errorf("scan build slot: %w", err)
	}
	s.ID = core.BuildSlotID(id)
	s.ProjectID = core.ProjectID(pid)
	s.AgentID = core.AgentID(aid)
	s.CreatedAt = parseTime(created)
	s.ExpiresAt = parseTime(expires)
	s.ReleasedAt = parseTimePtr(released)
	return s, nil
}
