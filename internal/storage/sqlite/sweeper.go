package sqlite

import (
	"context"
	"log/slog"
	"time"

	"github.com/mistakeknot/agentmail/internal/core"
)

// Broadcaster is the interface for emitting events to streaming clients.
type Broadcaster interface {
	Broadcast(project, agent string, event any)
}

// Sweeper periodically compacts long-expired reservations so the
// active-set query stays bounded. Activity is derived from timestamps, so
// the sweep never changes observable reservation state; it only writes
// released_ts on rows already past expiry by the compaction window.
type Sweeper struct {
	store        *Store
	bus          Broadcaster
	interval     time.Duration
	compactAfter time.Duration
	log          *slog.Logger
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewSweeper(store *Store, bus Broadcaster, interval, compactAfter time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:        store,
		bus:          bus,
		interval:     interval,
		compactAfter: compactAfter,
		log:          log,
		done:         make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-sw.compactAfter)

	var compacted []core.Reservation
	err := sw.store.WithTx(ctx, func(tx *Tx) error {
		var err error
		compacted, err = tx.CompactReservations(ctx, cutoff)
		return err
	})
	if err != nil {
		sw.log.Error("sweeper", "err", err)
		return
	}
	if len(compacted) == 0 {
		return
	}

	sw.log.Info("compacted expired reservations", "count", len(compacted))

	if sw.bus != nil {
		for _, r := range compacted {
			sw.bus.Broadcast("", "", map[string]any{
				"type":           string(core.EventReservationExpired),
				"reservation_id": r.ID,
				"agent":          r.AgentName,
				"paths":          r.Paths,
			})
		}
	}
}
