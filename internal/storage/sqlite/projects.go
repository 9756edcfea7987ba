package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mistakeknot/agentmail/internal/core"
)

// IsUniqueViolation reports whether err is a sqlite uniqueness failure.
// Controllers translate it into NameCollision or ensure-style upserts.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (q *Q) CreateProject(ctx context.Context, slug, humanKey string) (core.Project, error) {
	now := nowUTC()
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO projects (slug, human_key, created_ts) VALUES (?, ?, ?)`,
		slug, humanKey, fmtTime(now),
	)
	if err != nil {
		return core.Project{}, fmt.Errorf("create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Project{}, fmt.Errorf("project id: %w", err)
	}
	return core.Project{ID: core.ProjectID(id), Slug: slug, HumanKey: humanKey, CreatedAt: now}, nil
}

func (q *Q) GetProjectBySlug(ctx context.Context, slug string) (core.Project, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT id, slug, human_key, created_ts FROM projects WHERE slug = ?`, slug)
	return scanProject(row)
}

func (q *Q) GetProject(ctx context.Context, id core.ProjectID) (core.Project, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT id, slug, human_key, created_ts FROM projects WHERE id = ?`, int64(id))
	return scanProject(row)
}

func (q *Q) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT id, slug, human_key, created_ts FROM projects ORDER BY slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (core.Project, error) {
	var (
		p         core.Project
		id        int64
		createdAt string
	)
	err := row.Scan(&id, &p.Slug, &p.HumanKey, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Project{}, core.Errf(core.KindProjectNotFound, "project not found")
		}
		return core.Project{}, fmt.Errorf("scan project: %w", err)
	}
	p.ID = core.ProjectID(id)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}
