package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
)

func (q *Q) CreateAgent(ctx context.Context, a core.Agent) (core.Agent, error) {
	if a.ContactPolicy == "" {
		a.ContactPolicy = core.PolicyOpen
	}
	now := nowUTC()
	if a.InceptionAt.IsZero() {
		a.InceptionAt = now
	}
	if a.LastActiveAt.IsZero() {
		a.LastActiveAt = now
	}
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO agents (project_id, name, program, model, task_description, contact_policy, inception_ts, last_active_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(a.ProjectID), a.Name, a.Program, a.Model, a.TaskDescription,
		string(a.ContactPolicy), fmtTime(a.InceptionAt), fmtTime(a.LastActiveAt),
	)
	if err != nil {
		return core.Agent{}, fmt.Errorf("create agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Agent{}, fmt.Errorf("agent id: %w", err)
	}
	a.ID = core.AgentID(id)
	return a, nil
}

func (q *Q) GetAgent(ctx context.Context, id core.AgentID) (core.Agent, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT id, project_id, name, program, model, task_description, contact_policy, inception_ts, last_active_ts
		 FROM agents WHERE id = ?`, int64(id))
	return scanAgent(row)
}

func (q *Q) GetAgentByName(ctx context.Context, project core.ProjectID, name string) (core.Agent, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT id, project_id, name, program, model, task_description, contact_policy, inception_ts, last_active_ts
		 FROM agents WHERE project_id = ? AND name = ?`, int64(project), name)
	agent, err := scanAgent(row)
	if err != nil {
		if core.IsKind(err, core.KindAgentNotFound) {
			return core.Agent{}, core.Errf(core.KindAgentNotFound, "agent %q not found", name).
				WithDetails(map[string]any{"agent": name})
		}
		return core.Agent{}, err
	}
	return agent, nil
}

func (q *Q) ListAgents(ctx context.Context, project core.ProjectID) ([]core.Agent, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT id, project_id, name, program, model, task_description, contact_policy, inception_ts, last_active_ts
		 FROM agents WHERE project_id = ? ORDER BY name ASC`, int64(project))
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []core.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TouchAgent refreshes last_active_ts; every tool call bound to an agent
// goes through here.
func (q *Q) TouchAgent(ctx context.Context, id core.AgentID, t time.Time) error {
	_, err := q.h.ExecContext(ctx,
		`UPDATE agents SET last_active_ts = ? WHERE id = ?`, fmtTime(t), int64(id))
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	return nil
}

func (q *Q) SetAgentPolicy(ctx context.Context, id core.AgentID, policy core.ContactPolicy) error {
	res, err := q.h.ExecContext(ctx,
		`UPDATE agents SET contact_policy = ? WHERE id = ?`, string(policy), int64(id))
	if err != nil {
		return fmt.Errorf("set agent policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set agent policy: %w", err)
	}
	if n == 0 {
		return core.Errf(core.KindAgentNotFound, "agent %d not found", id)
	}
	return nil
}

func scanAgent(row scanner) (core.Agent, error) {
	var (
		a                     core.Agent
		id, projectID         int64
		policy                string
		inception, lastActive string
	)
	err := row.Scan(&id, &projectID, &a.Name, &a.Program, &a.Model, &a.TaskDescription, &policy, &inception, &lastActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Agent{}, core.Errf(core.KindAgentNotFound, "agent not found")
		}
		return core.Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	a.ID = core.AgentID(id)
	a.ProjectID = core.ProjectID(projectID)
	a.ContactPolicy = core.ContactPolicy(policy)
	a.InceptionAt = parseTime(inception)
	a.LastActiveAt = parseTime(lastActive)
	return a, nil
}
