package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mistakeknot/agentmail/internal/core"
)

func (q *Q) InsertMacro(ctx context.Context, m core.Macro) (core.Macro, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	stepsJSON, err := json.Marshal(m.Steps)
	if err != nil {
		return core.Macro{}, fmt.Errorf("marshal macro steps: %w", err)
	}
	var projectID any
	if m.ProjectID != 0 {
		projectID = int64(m.ProjectID)
	}
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO macros (project_id, name, steps_json, created_ts) VALUES (?, ?, ?, ?)`,
		projectID, m.Name, string(stepsJSON), fmtTime(m.CreatedAt),
	)
	if err != nil {
		return core.Macro{}, fmt.Errorf("insert macro: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Macro{}, fmt.Errorf("macro id: %w", err)
	}
	m.ID = core.MacroID(id)
	return m, nil
}

func (q *Q) GetMacroByName(ctx context.Context, project core.ProjectID, name string) (core.Macro, error) {
	// Project-scoped macros shadow global ones.
	row := q.h.QueryRowContext(ctx,
		`SELECT id, project_id, name, steps_json, created_ts FROM macros
		 WHERE name = ? AND (project_id = ? OR project_id IS NULL)
		 ORDER BY project_id IS NULL ASC LIMIT 1`, name, int64(project))
	return scanMacro(row)
}

func (q *Q) ListMacros(ctx context.Context, project core.ProjectID) ([]core.Macro, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT id, project_id, name, steps_json, created_ts FROM macros
		 WHERE project_id = ? OR project_id IS NULL
		 ORDER BY name ASC`, int64(project))
	if err != nil {
		return nil, fmt.Errorf("list macros: %w", err)
	}
	defer rows.Close()

	var out []core.Macro
	for rows.Next() {
		m, err := scanMacro(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMacro(row scanner) (core.Macro, error) {
	var (
		m         core.Macro
		id        int64
		projectID sql.NullInt64
		stepsJSON string
		created   string
	)
	err := row.Scan(&id, &projectID, &m.Name, &stepsJSON, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Macro{}, core.Errf(core.KindMacroNotFound, "macro not found")
		}
		return core.Macro{}, fmt.Errorf("scan macro: %w", err)
	}
	m.ID = core.MacroID(id)
	if projectID.Valid {
		m.ProjectID = core.ProjectID(projectID.Int64)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &m.Steps); err != nil {
		return core.Macro{}, fmt.Errorf("parse macro steps: %w", err)
	}
	m.CreatedAt = parseTime(created)
	return m, nil
}
