package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
)

func (q *Q) InsertReservation(ctx context.Context, r core.Reservation) (core.Reservation, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = nowUTC()
	}
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO file_reservations (project_id, agent_id, ttl_seconds, exclusive, reason, created_ts, expires_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(r.ProjectID), int64(r.AgentID), r.TTLSeconds, boolToInt(r.Exclusive),
		r.Reason, fmtTime(r.CreatedAt), fmtTime(r.ExpiresAt),
	)
	if err != nil {
		return core.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Reservation{}, fmt.Errorf("reservation id: %w", err)
	}
	r.ID = core.ReservationID(id)
	for i, p := range r.Paths {
		if _, err := q.h.ExecContext(ctx,
			`INSERT INTO file_reservation_paths (reservation_id, position, path_pattern) VALUES (?, ?, ?)`,
			id, i, p); err != nil {
			return core.Reservation{}, fmt.Errorf("insert reservation path: %w", err)
		}
	}
	return r, nil
}

func (q *Q) GetReservation(ctx context.Context, id core.ReservationID) (core.Reservation, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT r.id, r.project_id, r.agent_id, a.name, r.ttl_seconds, r.exclusive, r.reason, r.created_ts, r.expires_ts, r.released_ts
		 FROM file_reservations r JOIN agents a ON a.id = r.agent_id
		 WHERE r.id = ?`, int64(id))
	r, err := scanReservation(row)
	if err != nil {
		return core.Reservation{}, err
	}
	r.Paths, err = q.reservationPaths(ctx, r.ID)
	if err != nil {
		return core.Reservation{}, err
	}
	return r, nil
}

// ActiveReservations returns unreleased, unexpired reservations in
// (created_ts, id) ascending order, paths attached.
func (q *Q) ActiveReservations(ctx context.Context, project core.ProjectID, now time.Time) ([]core.Reservation, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT r.id, r.project_id, r.agent_id, a.name, r.ttl_seconds, r.exclusive, r.reason, r.created_ts, r.expires_ts, r.released_ts
		 FROM file_reservations r JOIN agents a ON a.id = r.agent_id
		 WHERE r.project_id = ? AND r.released_ts IS NULL AND r.expires_ts > ?
		 ORDER BY r.created_ts ASC, r.id ASC`, int64(project), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("active reservations: %w", err)
	}
	return q.collectReservations(ctx, rows)
}

// ListReservations returns reservations newest first; activeOnly filters
// by derived state.
func (q *Q) ListReservations(ctx context.Context, project core.ProjectID, activeOnly bool, now time.Time) ([]core.Reservation, error) {
	query := `SELECT r.id, r.project_id, r.agent_id, a.name, r.ttl_seconds, r.exclusive, r.reason, r.created_ts, r.expires_ts, r.released_ts
	          FROM file_reservations r JOIN agents a ON a.id = r.agent_id
	          WHERE r.project_id = ?`
	args := []any{int64(project)}
	if activeOnly {
		query += ` AND r.released_ts IS NULL AND r.expires_ts > ?`
		args = append(args, fmtTime(now))
	}
	query += ` ORDER BY r.created_ts DESC, r.id DESC`
	rows, err := q.h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return q.collectReservations(ctx, rows)
}

func (q *Q) collectReservations(ctx context.Context, rows *sql.Rows) ([]core.Reservation, error) {
	defer rows.Close()
	var out []core.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reservations: %w", err)
	}
	for i := range out {
		paths, err := q.reservationPaths(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Paths = paths
	}
	return out, nil
}

func (q *Q) reservationPaths(ctx context.Context, id core.ReservationID) ([]string, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT path_pattern FROM file_reservation_paths WHERE reservation_id = ? ORDER BY position ASC`,
		int64(id))
	if err != nil {
		return nil, fmt.Errorf("reservation paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReleaseReservation sets released_ts once. Returns false when the row was
// already released.
func (q *Q) ReleaseReservation(ctx context.Context, id core.ReservationID, t time.Time) (bool, error) {
	res, err := q.h.ExecContext(ctx,
		`UPDATE file_reservations SET released_ts = ? WHERE id = ? AND released_ts IS NULL`,
		fmtTime(t), int64(id))
	if err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}
	return n > 0, nil
}

func (q *Q) RenewReservation(ctx context.Context, id core.ReservationID, expires time.Time, ttlSeconds int64) error {
	_, err := q.h.ExecContext(ctx,
		`UPDATE file_reservations SET expires_ts = ?, ttl_seconds = ? WHERE id = ? AND released_ts IS NULL`,
		fmtTime(expires), ttlSeconds, int64(id))
	if err != nil {
		return fmt.Errorf("renew reservation: %w", err)
	}
	return nil
}

// CompactReservations marks long-expired rows released so the active-set
// query stays cheap. Idempotent: released rows are never touched again.
func (q *Q) CompactReservations(ctx context.Context, expiredBefore time.Time) ([]core.Reservation, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT r.id, r.project_id, r.agent_id, a.name, r.ttl_seconds, r.exclusive, r.reason, r.created_ts, r.expires_ts, r.released_ts
		 FROM file_reservations r JOIN agents a ON a.id = r.agent_id
		 WHERE r.released_ts IS NULL AND r.expires_ts <= ?`, fmtTime(expiredBefore))
	if err != nil {
		return nil, fmt.Errorf("compact scan: %w", err)
	}
	expired, err := q.collectReservations(ctx, rows)
	if err != nil {
		return nil, err
	}
	for _, r := range expired {
		if _, err := q.h.ExecContext(ctx,
			`UPDATE file_reservations SET released_ts = expires_ts WHERE id = ? AND released_ts IS NULL`,
			int64(r.ID)); err != nil {
			return nil, fmt.Errorf("compact reservation %d: %w", r.ID, err)
		}
	}
	return expired, nil
}

func scanReservation(row scanner) (core.Reservation, error) {
	var (
		r                core.Reservation
		id, pid, aid     int64
		exclusive        int
		created, expires string
		released         sql.NullString
	)
	err := row.Scan(&id, &pid, &aid, &r.AgentName, &r.TTLSeconds, &exclusive, &r.Reason, &created, &expires, &released)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Reservation{}, core.Errf(core.KindReservationNotFound, "reservation not found")
		}
		return core.Reservation{}, fmt.Errorf("scan reservation: %w", err)
	}
	r.ID = core.ReservationID(id)
	r.ProjectID = core.ProjectID(pid)
	r.AgentID = core.AgentID(aid)
	r.Exclusive = exclusive != 0
	r.CreatedAt = parseTime(created)
	r.ExpiresAt = parseTime(expires)
	r.ReleasedAt = parseTimePtr(released)
	return r, nil
}
