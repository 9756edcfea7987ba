package mail

import (
	"context"
	"encoding/json"

	"github.com/mistakeknot/agentmail/internal/archive"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/names"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

const maxNameAttempts = 16

type RegisterAgentInput struct {
	Project         string
	Name            string
	Program         string
	Model           string
	TaskDescription string
}

// RegisterAgent creates an agent in the project. When the name is omitted
// the controller walks the deterministic adjective+noun sequence until an
// unused name commits; explicit names fail with NameCollision on conflict.
func (s *Service) RegisterAgent(ctx context.Context, in RegisterAgentInput) (core.Agent, error) {
	if in.Name != "" && len(in.Name) > 128 {
		return core.Agent{}, core.Errf(core.KindInvalidArgument, "agent name too long")
	}

	var agent core.Agent
	generated := in.Name == ""
	bucket := names.Bucket(s.now())

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := in.Name
		if generated {
			name = names.Generate(bucket, attempt)
		}
		err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
			project, err := tx.GetProjectBySlug(ctx, in.Project)
			if err != nil {
				return err
			}
			agent, err = tx.CreateAgent(ctx, core.Agent{
				ProjectID:       project.ID,
				Name:            name,
				Program:         in.Program,
				Model:           in.Model,
				TaskDescription: in.TaskDescription,
				ContactPolicy:   core.PolicyOpen,
				InceptionAt:     s.now(),
				LastActiveAt:    s.now(),
			})
			return err
		})
		if err == nil {
			break
		}
		if sqlite.IsUniqueViolation(err) {
			if generated {
				agent = core.Agent{}
				continue
			}
			return core.Agent{}, core.Errf(core.KindNameCollision, "agent name %q already taken in project %q", name, in.Project).
				WithDetails(map[string]any{"name": name})
		}
		if core.KindOf(err) != core.KindInternal {
			return core.Agent{}, err
		}
		return core.Agent{}, core.Wrap(core.KindPersistenceError, err, "register agent")
	}
	if agent.ID == 0 {
		return core.Agent{}, core.Errf(core.KindNameCollision, "no free generated name after %d attempts", maxNameAttempts)
	}

	if err := s.writeAgentProfile(ctx, in.Project, agent, "register"); err != nil {
		return core.Agent{}, err
	}
	s.broadcast(in.Project, agent.Name, core.Event{
		Type:    core.EventAgentRegistered,
		Project: in.Project,
		Agent:   agent.Name,
		Payload: map[string]any{"agent_id": agent.ID},
	})
	return agent, nil
}

// writeAgentProfile rewrites projects/{slug}/agents/{name}/profile.json.
func (s *Service) writeAgentProfile(ctx context.Context, projectSlug string, agent core.Agent, op string) error {
	staged := archive.NewStaged()
	profile, _ := json.MarshalIndent(agent, "", "  ")
	staged.Add(archive.ProfilePath(projectSlug, agent.Name), append(profile, '\n'))
	return s.archiveCommit(ctx, staged, archive.CommitMessage(op, "agent", int64(agent.ID), projectSlug))
}

// Heartbeat refreshes last_active_ts and broadcasts an agent.heartbeat
// event to the agent's own connections; it writes nothing to the archive.
func (s *Service) Heartbeat(ctx context.Context, projectSlug, agentName string) (core.Agent, error) {
	var agent core.Agent
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, projectSlug)
		if err != nil {
			return err
		}
		agent, err = tx.GetAgentByName(ctx, project.ID, agentName)
		if err != nil {
			return err
		}
		if err := tx.TouchAgent(ctx, agent.ID, s.now()); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "heartbeat")
		}
		agent.LastActiveAt = s.now()
		return nil
	})
	if err != nil {
		return core.Agent{}, err
	}
	s.broadcast(projectSlug, agent.Name, core.Event{
		Type:    core.EventAgentHeartbeat,
		Project: projectSlug,
		Agent:   agent.Name,
	})
	return agent, nil
}

// ListAgents returns the project's agents ordered by name.
func (s *Service) ListAgents(ctx context.Context, projectSlug string) ([]core.Agent, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	return r.ListAgents(ctx, project.ID)
}

// resolveAgent looks up (project, agent name) inside a unit-of-work and
// refreshes the agent's activity timestamp.
func (s *Service) resolveAgent(ctx context.Context, tx *sqlite.Tx, project core.ProjectID, name string) (core.Agent, error) {
	agent, err := tx.GetAgentByName(ctx, project, name)
	if err != nil {
		return core.Agent{}, err
	}
	if err := tx.TouchAgent(ctx, agent.ID, s.now()); err != nil {
		return core.Agent{}, core.Wrap(core.KindPersistenceError, err, "touch agent")
	}
	return agent, nil
}
