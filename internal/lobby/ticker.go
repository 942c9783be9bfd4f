package lobby

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/trading-arena/internal/metrics"
)

// run is the tick loop of one RUNNING session. The first tick fires
// immediately, then once per tick interval until the session ends or ctx is
// cancelled. Whatever the exit path, the session's loop handle is cleared.
func (m *Manager) run(ctx context.Context, s *Session) {
	defer m.wg.Done()
	defer s.clearLoop()

	interval := s.Rules().TickInterval
	slog.Info("tick loop started", "session", s.ID(), "interval", interval)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		started := time.Now()
		out, done := s.tick(m.now())
		if !done {
			metrics.TicksTotal.Inc()
			metrics.TickDuration.Observe(time.Since(started).Seconds())
		}
		m.flush(s.ID(), out)
		if done {
			slog.Info("tick loop finished", "session", s.ID())
			return
		}

		select {
		case <-ctx.Done():
			m.flush(s.ID(), s.finish(m.now()))
			slog.Info("tick loop cancelled", "session", s.ID())
			return
		case <-t.C:
		}
	}
}
