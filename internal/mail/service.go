// Package mail is the coordination engine: per-entity controllers that
// validate inputs, run their invariants inside a store unit-of-work, and
// keep the git archive in step with every relational commit.
package mail

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/mistakeknot/agentmail/internal/archive"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/storage/sqlite"
)

// Broadcaster receives events after a successful commit.
type Broadcaster interface {
	Broadcast(project, agent string, event any)
}

// Options bound the TTL knobs. Zero values fall back to the defaults.
type Options struct {
	ReservationDefaultTTL int64
	ReservationMaxTTL     int64
	BuildSlotDefaultTTL   int64
	BuildSlotMaxTTL       int64
}

func (o Options) withDefaults() Options {
	if o.ReservationDefaultTTL <= 0 {
		o.ReservationDefaultTTL = 3600
	}
	if o.ReservationMaxTTL <= 0 {
		o.ReservationMaxTTL = 86400
	}
	if o.BuildSlotDefaultTTL <= 0 {
		o.BuildSlotDefaultTTL = 600
	}
	if o.BuildSlotMaxTTL <= 0 {
		o.BuildSlotMaxTTL = 3600
	}
	return o
}

type Service struct {
	store *sqlite.Store
	arch  *archive.Archive
	bus   Broadcaster
	log   *slog.Logger
	opts  Options
	now   func() time.Time
}

func NewService(store *sqlite.Store, arch *archive.Archive, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: store,
		arch:  arch,
		opts:  opts.withDefaults(),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithBroadcaster attaches the event bus.
func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.bus = b
	return s
}

// WithClock pins the service clock; tests use it to cross TTL boundaries.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Store exposes the underlying store for read-only frontier queries.
func (s *Service) Store() *sqlite.Store { return s.store }

// Archive exposes the archive; nil when the service runs without one.
func (s *Service) Archive() *archive.Archive { return s.arch }

func (s *Service) broadcast(project, agent string, ev core.Event) {
	if s.bus == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	s.bus.Broadcast(project, agent, ev)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidSlug reports whether s satisfies the URL-safe slug grammar.
func ValidSlug(s string) bool { return slugPattern.MatchString(s) }

// archiveCommit finishes the dual-write: called only after the relational
// commit succeeded. On failure the caller must run its compensating
// action and surface ArchiveWriteError.
func (s *Service) archiveCommit(ctx context.Context, staged *archive.Staged, message string) error {
	if s.arch == nil {
		return nil
	}
	if err := s.arch.Commit(ctx, staged, message); err != nil {
		return core.Wrap(core.KindArchiveWriteError, err, "archive commit")
	}
	return nil
}
