// Package runtime runs the background jobs of a lifebook process.
package runtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/lifebook/story"
)

// Source supplies the story to resync.
type Source interface {
	UID() string
	Snapshot() story.Snapshot
}

// Syncer re-pushes a snapshot to the remote mirror.
type Syncer interface {
	Resync(ctx context.Context, uid string, snap story.Snapshot) error
}

// Resyncer periodically re-pushes the current story to the mirror so that
// writes lost while the mirror was unavailable eventually land.
type Resyncer struct {
	source   Source
	syncer   Syncer
	schedule Schedule
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// DefaultResyncTimeout bounds a single resync run.
const DefaultResyncTimeout = 2 * time.Minute

// NewResyncer creates a resyncer that runs on schedule.
func NewResyncer(source Source, syncer Syncer, schedule Schedule, logger zerolog.Logger) *Resyncer {
	return &Resyncer{
		source:   source,
		syncer:   syncer,
		schedule: schedule,
		timeout:  DefaultResyncTimeout,
		now:      time.Now,
		logger:   logger.With().Str("component", "resyncer").Logger(),
	}
}

// Start runs resyncs until ctx is cancelled. It blocks.
func (r *Resyncer) Start(ctx context.Context) {
	r.logger.Info().Msg("Starting resyncer")
	for {
		now := r.now()
		next := r.schedule.Next(now)
		if next.IsZero() {
			r.logger.Warn().Msg("Resyncer: schedule has no further activations")
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("Resyncer stopped: context cancelled")
			return
		case <-timer.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Resync failed; will retry on next activation")
			}
		}
	}
}

// RunOnce resyncs the current snapshot immediately.
func (r *Resyncer) RunOnce(ctx context.Context) error {
	uid := r.source.UID()
	r.logger.Debug().Str("method", "RunOnce").Str("uid", uid).Msg("called")

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.syncer.Resync(runCtx, uid, r.source.Snapshot()); err != nil {
		return err
	}
	r.logger.Info().Str("uid", uid).Msg("Resync complete")
	return nil
}
