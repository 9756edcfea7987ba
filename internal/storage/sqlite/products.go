package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mistakeknot/agentmail/internal/core"
)

func (q *Q) InsertProduct(ctx context.Context, p core.Product) (core.Product, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowUTC()
	}
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO products (uid, name, created_ts) VALUES (?, ?, ?)`,
		p.UID, p.Name, fmtTime(p.CreatedAt),
	)
	if err != nil {
		return core.Product{}, fmt.Errorf("insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Product{}, fmt.Errorf("product id: %w", err)
	}
	p.ID = core.ProductID(id)
	return p, nil
}

func (q *Q) GetProductByName(ctx context.Context, name string) (core.Product, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT id, uid, name, created_ts FROM products WHERE name = ?`, name)
	p, err := scanProduct(row)
	if err != nil {
		return core.Product{}, err
	}
	p.Projects, err = q.productProjects(ctx, p.ID)
	return p, err
}

func (q *Q) GetProductByUID(ctx context.Context, uid string) (core.Product, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT id, uid, name, created_ts FROM products WHERE uid = ?`, uid)
	p, err := scanProduct(row)
	if err != nil {
		return core.Product{}, err
	}
	p.Projects, err = q.productProjects(ctx, p.ID)
	return p, err
}

func (q *Q) LinkProductProject(ctx context.Context, product core.ProductID, project core.ProjectID) error {
	_, err := q.h.ExecContext(ctx,
		`INSERT INTO product_projects (product_id, project_id) VALUES (?, ?)
		 ON CONFLICT(product_id, project_id) DO NOTHING`,
		int64(product), int64(project))
	if err != nil {
		return fmt.Errorf("link product: %w", err)
	}
	return nil
}

func (q *Q) ListProducts(ctx context.Context) ([]core.Product, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT id, uid, name, created_ts FROM products ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []core.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		projects, err := q.productProjects(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Projects = projects
	}
	return out, nil
}

func (q *Q) productProjects(ctx context.Context, id core.ProductID) ([]core.ProjectID, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT project_id FROM product_projects WHERE product_id = ? ORDER BY project_id ASC`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("product projects: %w", err)
	}
	defer rows.Close()
	var out []core.ProjectID
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("scan product project: %w", err)
		}
		out = append(out, core.ProjectID(pid))
	}
	return out, rows.Err()
}

func scanProduct(row scanner) (core.Product, error) {
	var (
		p       core.Product
		id      int64
		created string
	)
	err := row.Scan(&id, &p.UID, &p.Name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Product{}, core.Errf(core.KindProductNotFound, "product not found")
		}
		return core.Product{}, fmt.Errorf("scan product: %w", err)
	}
	p.ID = core.ProductID(id)
	p.CreatedAt = parseTime(created)
	return p, nil
}
