package chat

import (
	"context"
	"time"

	"github.com/staylight/livechat/internal/logging"
)

// Reaper hard-deletes sessions past their TTL on an interval. Lookups
// already hide expired rows, so reap latency is invisible to clients; this
// only bounds how long dead transcripts occupy the store.
type Reaper struct {
	repo     *Repo
	interval time.Duration
}

func NewReaper(repo *Repo, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reaper{repo: repo, interval: interval}
}

// Run blocks until ctx is canceled. One sweep runs immediately on start so a
// restart does not postpone cleanup by a full interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		logging.Error().Err(err).Msg("expired session sweep failed")
		return
	}
	if n > 0 {
		logging.Info().Int64("sessions", n).Msg("reaped expired sessions")
	}
}
