package digest

import (
	"context"
	"log/slog"
	"time"

	"voicedesk/pkg/logger"

	"github.com/robfig/cron/v3"
)

// StartCron ticks the scheduler every minute in-process, for deployments
// without an external scheduler. Stop the returned cron on shutdown.
func StartCron(ctx context.Context, s *Scheduler, log *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc("@every 1m", func() {
		tickCtx := logger.With(ctx, log.With("trigger", "cron"))
		if _, err := s.Run(tickCtx, time.Now().UTC().Truncate(time.Minute), WindowPreviousDay); err != nil {
			log.Error("digest tick failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
