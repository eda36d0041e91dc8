package correlation

import (
	"context"
	"time"
)

// Run recomputes correlations on the given interval until ctx is cancelled.
// The stop signal is observed between ticks only; an in-flight Update
// always completes.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", interval).Msg("Correlation monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Correlation monitor stopped")
			return
		case <-ticker.C:
			m.Update()
		}
	}
}
