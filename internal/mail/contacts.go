package mail

import (
	"context"

	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

// RequestContact opens (or reopens) a pending contact edge between two
// agents. Re-requesting a pending or accepted edge is a no-op.
func (s *Service) RequestContact(ctx context.Context, projectSlug, fromAgent, toAgent string) (core.Contact, error) {
	if fromAgent == toAgent {
		return core.Contact{}, core.Errf(core.KindInvalidArgument, "an agent cannot contact itself")
	}
	var contact core.Contact
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return err
		}
		from, err := s.resolveAgent(ctx, tx, project.ID, fromAgent)
		if err != nil {
			return err
		}
		to, err := tx.GetAgentByName(ctx, project.ID, toAgent)
		if err != nil {
			return err
		}

		existing, err := tx.GetContact(ctx, project.ID, from.ID, to.ID)
		if err == nil {
			switch existing.State {
			case core.ContactPending, core.ContactAccepted:
				contact = existing
				return nil
			}
		} else if !core.IsKind(err, core.KindContactNotFound) {
			return err
		}

		contact = core.Contact{
			ProjectID:   project.ID,
			AgentA:      from.ID,
			AgentB:      to.ID,
			State:       core.ContactPending,
			RequestedBy: from.ID,
			RequestedAt: s.now(),
		}
		if err := tx.UpsertContact(ctx, contact); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "request contact")
		}
		return nil
	})
	return contact, err
}

// RespondContact decides a pending request: accept or reject. Only the
// agent who did not originate the request may decide.
func (s *Service) RespondContact(ctx context.Context, projectSlug, agentName, otherAgent string, accept bool) (core.Contact, error) {
	var contact core.Contact
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return err
		}
		responder, err := s.resolveAgent(ctx, tx, project.ID, agentName)
		if err != nil {
			return err
		}
		other, err := tx.GetAgentByName(ctx, project.ID, otherAgent)
		if err != nil {
			return err
		}

		existing, err := tx.GetContact(ctx, project.ID, responder.ID, other.ID)
		if err != nil {
			return err
		}
		if existing.State != core.ContactPending {
			return core.Errf(core.KindInvalidArgument, "contact is %s, not pending", existing.State)
		}
		if existing.RequestedBy == responder.ID {
			return core.Errf(core.KindNotOwner, "the requesting agent cannot decide its own request")
		}

		state := core.ContactRejected
		if accept {
			state = core.ContactAccepted
		}
		if err := tx.SetContactState(ctx, project.ID, responder.ID, other.ID, state, s.now()); err != nil {
			return err
		}
		contact, err = tx.GetContact(ctx, project.ID, responder.ID, other.ID)
		return err
	})
	return contact, err
}

// RevokeContact retires an accepted edge.
func (s *Service) RevokeContact(ctx context.Context, projectSlug, agentName, otherAgent string) (core.Contact, error) {
	var contact core.Contact
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return err
		}
		agent, err := s.resolveAgent(ctx, tx, project.ID, agentName)
		if err != nil {
			return err
		}
		other, err := tx.GetAgentByName(ctx, project.ID, otherAgent)
		if err != nil {
			return err
		}

		existing, err := tx.GetContact(ctx, project.ID, agent.ID, other.ID)
		if err != nil {
			return err
		}
		if existing.State != core.ContactAccepted {
			return core.Errf(core.KindInvalidArgument, "contact is %s, not accepted", existing.State)
		}
		if err := tx.SetContactState(ctx, project.ID, agent.ID, other.ID, core.ContactRevoked, s.now()); err != nil {
			return err
		}
		contact, err = tx.GetContact(ctx, project.ID, agent.ID, other.ID)
		return err
	})
	return contact, err
}

// SetContactPolicy updates the agent's delivery policy.
func (s *Service) SetContactPolicy(ctx context.Context, projectSlug, agentName string, policy core.ContactPolicy) (core.Agent, error) {
	if !policy.Valid() {
		return core.Agent{}, core.Errf(core.KindInvalidArgument, "contact policy %q: must be open, auto, contacts_only, or block_all", policy)
	}
	var agent core.Agent
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return err
		}
		agent, err = s.resolveAgent(ctx, tx, project.ID, agentName)
		if err != nil {
			return err
		}
		if err := tx.SetAgentPolicy(ctx, agent.ID, policy); err != nil {
			return err
		}
		agent.ContactPolicy = policy
		return nil
	})
	if err != nil {
		return core.Agent{}, err
	}
	if err := s.writeAgentProfile(ctx, projectSlug, agent, "update"); err != nil {
		return core.Agent{}, err
	}
	return agent, nil
}

// ListContacts lists every contact edge touching the agent, newest first.
func (s *Service) ListContacts(ctx context.Context, projectSlug, agentName string) ([]core.Contact, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	agent, err := r.GetAgentByName(ctx, project.ID, agentName)
	if err != nil {
		return nil, err
	}
	return r.ListContacts(ctx, project.ID, agent.ID)
}
