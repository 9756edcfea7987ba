package mail

import (
	"context"

	"github.com/google/uuid"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

// EnsureProduct returns the product with the given name, creating it with
// a fresh globally unique uid when absent.
func (s *Service) EnsureProduct(ctx context.Context, name string) (core.Product, error) {
	if name == "" {
		return core.Product{}, core.Errf(core.KindInvalidArgument, "product name required")
	}
	var product core.Product
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		existing, err := tx.GetProductByName(ctx, name)
		if err == nil {
			product = existing
			return nil
		}
		if !core.IsKind(err, core.KindProductNotFound) {
			return err
		}
		product, err = tx.InsertProduct(ctx, core.Product{
			UID:       uuid.NewString(),
			Name:      name,
			CreatedAt: s.now(),
		})
		if err != nil {
			if sqlite.IsUniqueViolation(err) {
				product, err = tx.GetProductByName(ctx, name)
				return err
			}
			return core.Wrap(core.KindPersistenceError, err, "create product")
		}
		return nil
	})
	return product, err
}

// LinkProjectToProduct adds the project to the product's set. Idempotent.
func (s *Service) LinkProjectToProduct(ctx context.Context, productName, projectSlug string) (core.Product, error) {
	var product core.Product
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		product, err = tx.GetProductByName(ctx, productName)
		if err != nil {
			return err
		}
		project, err := tx.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return err
		}
		if err := tx.LinkProductProject(ctx, product.ID, project.ID); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "link project")
		}
		product, err = tx.GetProductByName(ctx, productName)
		return err
	})
	return product, err
}

// ListProducts returns every product with its linked projects.
func (s *Service) ListProducts(ctx context.Context) ([]core.Product, error) {
	return s.store.Reader().ListProducts(ctx)
}
