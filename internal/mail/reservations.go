package mail

import (
	"context"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/glob"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

type ReserveInput struct {
	Project    string
	Agent      string
	Paths      []string
	TTLSeconds int64
	Exclusive  bool
	Reason     string
}

// Reserve grants an advisory lease over the requested glob patterns, or
// fails with ReservationConflict naming the earliest contending active
// reservation. All requested paths are granted together or not at all.
// The conflict decision and the insert run under one unit-of-work, so two
// racing calls serialize and the loser observes the winner's row.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (core.Reservation, error) {
	if len(in.Paths) == 0 {
		return core.Reservation{}, core.Errf(core.KindInvalidArgument, "at least one path pattern required")
	}
	patterns := make([]glob.Pattern, len(in.Paths))
	for i, raw := range in.Paths {
		p, err := glob.Parse(raw)
		if err != nil {
			return core.Reservation{}, core.Wrap(core.KindInvalidArgument, err, "invalid path pattern")
		}
		patterns[i] = p
	}
	ttl, err := s.boundTTL(in.TTLSeconds, s.opts.ReservationDefaultTTL, s.opts.ReservationMaxTTL)
	if err != nil {
		return core.Reservation{}, err
	}

	var reservation core.Reservation
	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, in.Project)
		if err != nil {
			return err
		}
		agent, err := s.resolveAgent(ctx, tx, project.ID, in.Agent)
		if err != nil {
			return err
		}

		now := s.now()
		active, err := tx.ActiveReservations(ctx, project.ID, now)
		if err != nil {
			return core.Wrap(core.KindPersistenceError, err, "active set")
		}
		if conflict, conflictPaths := findConflict(patterns, in.Paths, in.Exclusive, active); conflict != nil {
			return core.Errf(core.KindReservationConflict,
				"paths contend with reservation %d held by %s", conflict.ID, conflict.AgentName).
				WithDetails(map[string]any{
					"conflicting_reservation_id": conflict.ID,
					"holder":                     conflict.AgentName,
					"paths":                      conflictPaths,
				})
		}

		reservation, err = tx.InsertReservation(ctx, core.Reservation{
			ProjectID:  project.ID,
			AgentID:    agent.ID,
			AgentName:  agent.Name,
			Paths:      in.Paths,
			TTLSeconds: ttl,
			Exclusive:  in.Exclusive,
			Reason:     in.Reason,
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Duration(ttl) * time.Second),
		})
		if err != nil {
			return core.Wrap(core.KindPersistenceError, err, "insert reservation")
		}
		return nil
	})
	if err != nil {
		return core.Reservation{}, err
	}

	s.broadcast(in.Project, in.Agent, core.Event{
		Type:    core.EventReservationGranted,
		Project: in.Project,
		Agent:   in.Agent,
		Payload: map[string]any{
			"reservation_id": reservation.ID,
			"paths":          reservation.Paths,
			"exclusive":      reservation.Exclusive,
			"expires_ts":     reservation.ExpiresAt,
		},
	})
	return reservation, nil
}

// findConflict applies the overlap rule: a requested pattern and an active
// pattern contend when they overlap and at least one side is exclusive.
// Ties among conflicting reservations resolve to the earliest created_ts,
// then smallest id; the active set arrives in exactly that order.
func findConflict(patterns []glob.Pattern, raw []string, exclusive bool, active []core.Reservation) (*core.Reservation, []string) {
	var (
		winner        *core.Reservation
		conflictPaths []string
	)
	for _, res := range active {
		if !exclusive && !res.Exclusive {
			continue
		}
		var contended []string
		for i, p := range patterns {
			for _, q := range res.Paths {
				qp, err := glob.Parse(q)
				if err != nil {
					continue
				}
				if p.Overlaps(qp) {
					contended = append(contended, raw[i])
					break
				}
			}
		}
		if len(contended) == 0 {
			continue
		}
		if winner == nil {
			r := res
			winner = &r
			conflictPaths = contended
		}
	}
	return winner, conflictPaths
}

// ReleaseReservation is idempotent: releasing an already-released or
// expired reservation succeeds as a no-op.
func (s *Service) ReleaseReservation(ctx context.Context, id core.ReservationID) (core.Reservation, error) {
	var (
		reservation core.Reservation
		projectSlug string
	)
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		reservation, err = tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		project, err := tx.GetProject(ctx, reservation.ProjectID)
		if err != nil {
			return err
		}
		projectSlug = project.Slug
		if _, err := tx.ReleaseReservation(ctx, id, s.now()); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "release")
		}
		reservation, err = tx.GetReservation(ctx, id)
		return err
	})
	if err != nil {
		return core.Reservation{}, err
	}
	s.broadcast(projectSlug, reservation.AgentName, core.Event{
		Type:    core.EventReservationRelease,
		Project: projectSlug,
		Agent:   reservation.AgentName,
		Payload: map[string]any{"reservation_id": id},
	})
	return reservation, nil
}

// RenewReservation advances expires_ts to now + ttl. Requires the agent of
// record and an active reservation.
func (s *Service) RenewReservation(ctx context.Context, id core.ReservationID, agentName string, ttlSeconds int64) (core.Reservation, error) {
	ttl, err := s.boundTTL(ttlSeconds, s.opts.ReservationDefaultTTL, s.opts.ReservationMaxTTL)
	if err != nil {
		return core.Reservation{}, err
	}
	var reservation core.Reservation
	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		res, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.AgentName != agentName {
			return core.Errf(core.KindNotOwner, "reservation %d is held by %s", id, res.AgentName)
		}
		now := s.now()
		if !res.ActiveAt(now) {
			return core.Errf(core.KindAlreadyReleased, "reservation %d is not active", id)
		}
		if err := tx.RenewReservation(ctx, id, now.Add(time.Duration(ttl)*time.Second), ttl); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "renew")
		}
		reservation, err = tx.GetReservation(ctx, id)
		return err
	})
	return reservation, err
}

// ForceReleaseReservation bypasses the agent-of-record check. Every use
// is recorded in the audit log.
func (s *Service) ForceReleaseReservation(ctx context.Context, id core.ReservationID, reason string) (core.Reservation, error) {
	var reservation core.Reservation
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		reservation, err = tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ReleaseReservation(ctx, id, s.now()); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "force release")
		}
		if err := tx.InsertAudit(ctx, sqlite.AuditEntry{
			Tool:      "force_release_reservation",
			Caller:    reason,
			OK:        true,
			CreatedAt: s.now(),
		}); err != nil {
			return core.Wrap(core.KindPersistenceError, err, "audit force release")
		}
		reservation, err = tx.GetReservation(ctx, id)
		return err
	})
	if err != nil {
		return core.Reservation{}, err
	}
	s.log.Warn("reservation force-released", "reservation_id", id, "reason", reason)
	return reservation, nil
}

// ListReservations returns reservations newest first; the active filter
// derives state from timestamps.
func (s *Service) ListReservations(ctx context.Context, projectSlug string, activeOnly bool) ([]core.Reservation, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	return r.ListReservations(ctx, project.ID, activeOnly, s.now())
}

// PathStatus is per-path coverage reported by PathsStatus.
type PathStatus struct {
	Path      string               `json:"path"`
	Free      bool                 `json:"free"`
	CoveredBy []core.ReservationID `json:"covered_by,omitempty"`
}

// PathsStatus reports which active reservations cover each given path.
func (s *Service) PathsStatus(ctx context.Context, projectSlug string, paths []string) ([]PathStatus, error) {
	r := s.store.Reader()
	project, err := r.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	active, err := r.ActiveReservations(ctx, project.ID, s.now())
	if err != nil {
		return nil, err
	}

	out := make([]PathStatus, 0, len(paths))
	for _, raw := range paths {
		p, err := glob.Parse(raw)
		if err != nil {
			return nil, core.Wrap(core.KindInvalidArgument, err, "invalid path pattern")
		}
		status := PathStatus{Path: raw, Free: true}
		for _, res := range active {
			for _, q := range res.Paths {
				qp, err := glob.Parse(q)
				if err != nil {
					continue
				}
				if p.Overlaps(qp) {
					status.Free = false
					status.CoveredBy = append(status.CoveredBy, res.ID)
					break
				}
			}
		}
		out = append(out, status)
	}
	return out, nil
}

// boundTTL applies the default and rejects requests beyond the maximum.
func (s *Service) boundTTL(requested, def, max int64) (int64, error) {
	if requested == 0 {
		return def, nil
	}
	if requested < 0 {
		return 0, core.Errf(core.KindInvalidArgument, "ttl_seconds must be positive")
	}
	if requested > max {
		return 0, core.Errf(core.KindInvalidArgument, "ttl_seconds %d exceeds maximum %d", requested, max)
	}
	return requested, nil
}
