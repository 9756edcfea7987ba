package mail

import (
	"context"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

// AcquireBuildSlot grants the single project-level lease, or fails with
// BuildSlotHeld naming the current holder. Check and insert share one
// unit-of-work, so racing acquirers serialize.
func (s *Service) AcquireBuildSlot(ctx context.Context, projectSlug, agentName string, ttlSeconds int64) (core.BuildSlot, error) {
	ttl, err := s.boundTTL(ttlSeconds, s.opts.BuildSlotDefaultTTL, s.opts.BuildSlotMaxTTL)
	if err != nil {
		return core.BuildSlot{}, err
	}

	var slot core.BuildSlot
	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return err
		}
		agent, err := s.resolveAgent(ctx, tx, project.ID, agentName)
		if err != nil {
			return err
		}

		now := s.now()
		if held, err := tx.ActiveBuildSlot(ctx, project.ID, now); err == nil {
			return core.Errf(core.KindBuildSlotHeld, "build slot held by %s", held.AgentName).
				WithDetails(map[string]any{
					"slot_id":    held.ID,
					"holder":     held.AgentName,
					"expires_ts": held.ExpiresAt,
				})
		} else if !core.IsKind(err, core.KindBuildSlotNotFound) {
			return err
		}

		slot, err = tx.InsertBuildSlot(ctx, core.BuildSlot{
			ProjectID:  project.ID,
			AgentID:    agent.ID,
			AgentName:  agent.Name,
			TTLSeconds: ttl,
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Duration(ttl) * time.Second),
		})
		if err != nil {
			return core.Wrap(core.KindPersistenceError, err, "insert build slot")
		}
		return nil
	})
	if err != nil {
		return core.BuildSlot{}, err
	}

	s.broadcast(projectSlug, agentName, core.Event{
		Type:    core.EventBuildSlotAcquired,
		Project: projectSlug,
		Agent:   agentName,
		Payload: map[string]any{"slot_id": slot.ID, "expires_ts": slot.ExpiresAt},
	})
	return slot, nil
}

// RenewBuildSlot extends the lease; agent-of-record only.
func (s *Service) RenewBuildSlot(ctx context.Context, id core.BuildSlotID, agentName string, ttlSeconds int64) (core.BuildSlot, error) {
	ttl, err := s.boundTTL(ttlSeconds, s.opts.BuildSlotDefaultTTL, s.opts.BuildSlotMaxTTL)
	if err != nil {
		return core.BuildSlot{}, err
	}
	var slot core.BuildSlot
	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		existing, err := tx.GetBuildSlot(ctx, id)
		if err != nil {
			return err
		}
		if existing.AgentName != agentName {
			return core.Errf(core.KindNotOwner, "build slot %d is held by %s", id, existing.AgentName)
		}
		now := s.now()
		if !existing.ActiveAt(now) {
			return core.Errf(core.KindAlreadyReleased, "build slot %d is not active", id)
		}
		if err := tx.RenewBuildSlot(ctx, id, now.Add(time.Duration(ttl)*time.Second), ttl); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "renew build slot")
		}
		slot, err = tx.GetBuildSlot(ctx, id)
		return err
	})
	return slot, err
}

// ReleaseBuildSlot is idempotent.
func (s *Service) ReleaseBuildSlot(ctx context.Context, id core.BuildSlotID) (core.BuildSlot, error) {
	var (
		slot        core.BuildSlot
		projectSlug string
	)
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		slot, err = tx.GetBuildSlot(ctx, id)
		if err != nil {
			return err
		}
		project, err := tx.GetProject(ctx, slot.ProjectID)
		if err != nil {
			return err
		}
		projectSlug = project.Slug
		if _, err := tx.ReleaseBuildSlot(ctx, id, s.now()); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "release build slot")
		}
		slot, err = tx.GetBuildSlot(ctx, id)
		return err
	})
	if err != nil {
		return core.BuildSlot{}, err
	}
	s.broadcast(projectSlug, slot.AgentName, core.Event{
		Type:    core.EventBuildSlotReleased,
		Project: projectSlug,
		Agent:   slot.AgentName,
		Payload: map[string]any{"slot_id": id},
	})
	return slot, nil
}
