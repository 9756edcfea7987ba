package mail

import (
	"context"

	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

type routedRecipient struct {
	agent core.Agent
	kind  core.RecipientKind
}

type routedSet struct {
	recipients []routedRecipient
}

// route resolves to/cc/bcc names into recipient rows under the contact
// policies. Duplicates across kinds collapse to the highest-priority kind;
// a single policy denial fails the whole send, so partial delivery never
// happens.
func (s *Service) route(ctx context.Context, tx *sqlite.Tx, project core.Project, sender core.Agent, to, cc, bcc []string) (routedSet, error) {
	type slot struct {
		kind  core.RecipientKind
		order int
	}
	collapsed := make(map[string]slot)
	order := 0
	add := func(names []string, kind core.RecipientKind) {
		for _, name := range names {
			existing, ok := collapsed[name]
			if !ok {
				collapsed[name] = slot{kind: kind, order: order}
				order++
				continue
			}
			if kind.Rank() > existing.kind.Rank() {
				existing.kind = kind
				collapsed[name] = existing
			}
		}
	}
	add(to, core.KindTo)
	add(cc, core.KindCC)
	add(bcc, core.KindBCC)

	if len(collapsed) == 0 {
		return routedSet{}, core.Errf(core.KindEmptyRecipients, "message has no recipients")
	}

	// deterministic resolution order: first appearance in the request
	ordered := make([]string, len(collapsed))
	for name, sl := range collapsed {
		ordered[sl.order] = name
	}

	var out routedSet
	for _, name := range ordered {
		agent, err := tx.GetAgentByName(ctx, project.ID, name)
		if err != nil {
			return routedSet{}, err
		}
		if agent.ID != sender.ID {
			if err := s.checkPolicy(ctx, tx, project, sender, agent); err != nil {
				return routedSet{}, err
			}
		}
		out.recipients = append(out.recipients, routedRecipient{agent: agent, kind: collapsed[name].kind})
	}
	return out, nil
}

// checkPolicy enforces the recipient's contact policy against the sender.
func (s *Service) checkPolicy(ctx context.Context, tx *sqlite.Tx, project core.Project, sender, recipient core.Agent) error {
	switch recipient.ContactPolicy {
	case core.PolicyOpen, "":
		return nil

	case core.PolicyAuto:
		// permitted; record the accepted edge when none exists yet
		_, err := tx.GetContact(ctx, project.ID, sender.ID, recipient.ID)
		if err == nil {
			return nil
		}
		if !core.IsKind(err, core.KindContactNotFound) {
			return err
		}
		now := s.now()
		return tx.UpsertContact(ctx, core.Contact{
			ProjectID:   project.ID,
			AgentA:      sender.ID,
			AgentB:      recipient.ID,
			State:       core.ContactAccepted,
			RequestedBy: sender.ID,
			RequestedAt: now,
			DecidedAt:   &now,
		})

	case core.PolicyContactsOnly:
		contact, err := tx.GetContact(ctx, project.ID, sender.ID, recipient.ID)
		if err != nil {
			if core.IsKind(err, core.KindContactNotFound) {
				return policyDenied(recipient.Name)
			}
			return err
		}
		if contact.State != core.ContactAccepted {
			return policyDenied(recipient.Name)
		}
		return nil

	case core.PolicyBlockAll:
		return policyDenied(recipient.Name)

	default:
		return core.Errf(core.KindInvalidArgument, "unknown contact policy %q", recipient.ContactPolicy)
	}
}

func policyDenied(recipient string) error {
	return core.Errf(core.KindPolicyDenied, "recipient %q does not accept messages from this sender", recipient).
		WithDetails(map[string]any{"recipient": recipient})
}
