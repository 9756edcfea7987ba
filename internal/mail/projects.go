package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mistakeknot/agentmail/internal/archive"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

// EnsureProject returns the project with the given slug, creating it when
// absent. Creation also lays down the archive sub-tree for the project.
func (s *Service) EnsureProject(ctx context.Context, slug, humanKey string) (core.Project, error) {
	if !ValidSlug(slug) {
		return core.Project{}, core.Errf(core.KindInvalidArgument, "slug %q: must match [a-z0-9][a-z0-9-]{0,63}", slug)
	}
	if humanKey == "" {
		humanKey = slug
	}

	var (
		project core.Project
		created bool
	)
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		existing, err := tx.GetProjectBySlug(ctx, slug)
		if err == nil {
			project = existing
			return nil
		}
		if !core.IsKind(err, core.KindProjectNotFound) {
			return err
		}
		project, err = tx.CreateProject(ctx, slug, humanKey)
		if err != nil {
			if sqlite.IsUniqueViolation(err) {
				// lost a create race; the winner's row is what we want
				project, err = tx.GetProjectBySlug(ctx, slug)
				return err
			}
			return core.Wrap(core.KindPersistenceError, err, "create project")
		}
		created = true
		return nil
	})
	if err != nil {
		return core.Project{}, err
	}

	if created {
		staged := archive.NewStaged()
		meta, _ := json.MarshalIndent(map[string]any{
			"slug":       project.Slug,
			"human_key":  project.HumanKey,
			"created_ts": project.CreatedAt,
		}, "", "  ")
		staged.Add(fmt.Sprintf("projects/%s/project.json", project.Slug), append(meta, '\n'))
		if err := s.archiveCommit(ctx, staged, archive.CommitMessage("create", "project", int64(project.ID), project.Slug)); err != nil {
			s.log.Error("project archive write failed", "slug", project.Slug, "err", err)
			return core.Project{}, err
		}
	}
	return project, nil
}

// GetProject resolves a project by slug.
func (s *Service) GetProject(ctx context.Context, slug string) (core.Project, error) {
	return s.store.Reader().GetProjectBySlug(ctx, slug)
}

// ListProjects returns every project ordered by slug.
func (s *Service) ListProjects(ctx context.Context) ([]core.Project, error) {
	return s.store.Reader().ListProjects(ctx)
}
