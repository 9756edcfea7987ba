package mail

import (
	"context"

	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

// RegisterMacro records a named step sequence. Project-scoped macros
// shadow global ones of the same name.
func (s *Service) RegisterMacro(ctx context.Context, projectSlug, name string, steps []core.MacroStep) (core.Macro, error) {
	if name == "" {
		return core.Macro{}, core.Errf(core.KindInvalidArgument, "macro name required")
	}
	if len(steps) == 0 {
		return core.Macro{}, core.Errf(core.KindInvalidArgument, "macro needs at least one step")
	}
	for _, step := range steps {
		if step.Tool == "" {
			return core.Macro{}, core.Errf(core.KindInvalidArgument, "macro step missing tool name")
		}
	}

	var macro core.Macro
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		var projectID core.ProjectID
		if projectSlug != "" {
			project, err := tx.GetProjectBySlug(ctx, projectSlug)
			if err != nil {
				return err
			}
			projectID = project.ID
		}
		var err error
		macro, err = tx.InsertMacro(ctx, core.Macro{
			ProjectID: projectID,
			Name:      name,
			Steps:     steps,
			CreatedAt: s.now(),
		})
		if err != nil {
			if sqlite.IsUniqueViolation(err) {
				return core.Errf(core.KindNameCollision, "macro %q already registered", name)
			}
			return core.Wrap(core.KindPersistenceError, err, "register macro")
		}
		return nil
	})
	return macro, err
}

// GetMacro resolves a macro by name within a project scope.
func (s *Service) GetMacro(ctx context.Context, projectSlug, name string) (core.Macro, error) {
	r := s.store.Reader()
	var projectID core.ProjectID
	if projectSlug != "" {
		project, err := r.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return core.Macro{}, err
		}
		projectID = project.ID
	}
	return r.GetMacroByName(ctx, projectID, name)
}

// ListMacros returns project-scoped and global macros by name.
func (s *Service) ListMacros(ctx context.Context, projectSlug string) ([]core.Macro, error) {
	r := s.store.Reader()
	var projectID core.ProjectID
	if projectSlug != "" {
		project, err := r.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return nil, err
		}
		projectID = project.ID
	}
	return r.ListMacros(ctx, projectID)
}
