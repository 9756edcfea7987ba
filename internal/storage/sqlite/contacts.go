package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
)

// orderPair returns the canonical (smaller-id first) ordering for the
// symmetric contact edge.
func orderPair(a, b core.AgentID) (core.AgentID, core.AgentID) {
	if a < b {
		return a, b
	}
	return b, a
}

func (q *Q) GetContact(ctx context.Context, project core.ProjectID, a, b core.AgentID) (core.Contact, error) {
	lo, hi := orderPair(a, b)
	row := q.h.QueryRowContext(ctx,
		`SELECT project_id, agent_a, agent_b, state, requested_by, requested_ts, decided_ts
		 FROM contacts WHERE project_id = ? AND agent_a = ? AND agent_b = ?`,
		int64(project), int64(lo), int64(hi))
	return scanContact(row)
}

func (q *Q) UpsertContact(ctx context.Context, c core.Contact) error {
	lo, hi := orderPair(c.AgentA, c.AgentB)
	var decided any
	if c.DecidedAt != nil {
		decided = fmtTime(*c.DecidedAt)
	}
	_, err := q.h.ExecContext(ctx,
		`INSERT INTO contacts (project_id, agent_a, agent_b, state, requested_by, requested_ts, decided_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, agent_a, agent_b) DO UPDATE SET
		   state = excluded.state,
		   requested_by = excluded.requested_by,
		   requested_ts = excluded.requested_ts,
		   decided_ts = excluded.decided_ts`,
		int64(c.ProjectID), int64(lo), int64(hi), string(c.State),
		int64(c.RequestedBy), fmtTime(c.RequestedAt), decided,
	)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (q *Q) SetContactState(ctx context.Context, project core.ProjectID, a, b core.AgentID, state core.ContactState, decided time.Time) error {
	lo, hi := orderPair(a, b)
	res, err := q.h.ExecContext(ctx,
		`UPDATE contacts SET state = ?, decided_ts = ? WHERE project_id = ? AND agent_a = ? AND agent_b = ?`,
		string(state), fmtTime(decided), int64(project), int64(lo), int64(hi))
	if err != nil {
		return fmt.Errorf("set contact state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set contact state: %w", err)
	}
	if n == 0 {
		return core.Errf(core.KindContactNotFound, "no contact between agents %d and %d", a, b)
	}
	return nil
}

func (q *Q) ListContacts(ctx context.Context, project core.ProjectID, agent core.AgentID) ([]core.Contact, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT project_id, agent_a, agent_b, state, requested_by, requested_ts, decided_ts
		 FROM contacts WHERE project_id = ? AND (agent_a = ? OR agent_b = ?)
		 ORDER BY requested_ts DESC`,
		int64(project), int64(agent), int64(agent))
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []core.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContact(row scanner) (core.Contact, error) {
	var (
		c                  core.Contact
		pid, a, b, reqBy   int64
		state, requestedTS string
		decidedTS          sql.NullString
	)
	err := row.Scan(&pid, &a, &b, &state, &reqBy, &requestedTS, &decidedTS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Contact{}, core.Errf(core.KindContactNotFound, "contact not found")
		}
		return core.Contact{}, fmt.Errorf("scan contact: %w", err)
	}
	c.ProjectID = core.ProjectID(pid)
	c.AgentA = core.AgentID(a)
	c.AgentB = core.AgentID(b)
	c.State = core.ContactState(state)
	c.RequestedBy = core.AgentID(reqBy)
	c.RequestedAt = parseTime(requestedTS)
	c.DecidedAt = parseTimePtr(decidedTS)
	return c, nil
}
