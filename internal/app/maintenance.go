package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ARX-SOLUTION/instagram-bridge/internal/eventbus"
	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

// pipelineStats accumulates pipeline counters between daily summaries.
type pipelineStats struct {
	mu        sync.Mutex
	forwarded int
	deduped   int
	failed    int
}

func newPipelineStats() *pipelineStats { return &pipelineStats{} }

func (s *pipelineStats) record(typ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch typ {
	case eventbus.TypeEventForwarded:
		s.forwarded++
	case eventbus.TypeEventDeduped:
		s.deduped++
	case eventbus.TypeDeliveryFailed:
		s.failed++
	}
}

func (s *pipelineStats) snapshotAndReset() (forwarded, deduped, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	forwarded, deduped, failed = s.forwarded, s.deduped, s.failed
	s.forwarded, s.deduped, s.failed = 0, 0, 0
	return
}

// startStats feeds the counters from the bus.
func (a *App) startStats(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				a.stats.record(ev.Type)
			}
		}
	}()
}

// startMaintenance schedules the periodic jobs: a dedup sweep plus topic
// cache flush every five minutes, and a daily log summary.
func (a *App) startMaintenance() error {
	c := cron.New()
	log := a.log.With(logx.String("comp", "maintenance"))

	if _, err := c.AddFunc("@every 5m", func() {
		before := a.dedup.Len()
		a.dedup.Cleanup()
		a.topics.Flush()
		log.Debug("maintenance sweep",
			logx.Int("dedup_before", before),
			logx.Int("dedup_after", a.dedup.Len()))
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc("@daily", func() {
		forwarded, deduped, failed := a.stats.snapshotAndReset()
		fields := []logx.Field{
			logx.Int("forwarded", forwarded),
			logx.Int("deduped", deduped),
			logx.Int("delivery_failed", failed),
			logx.Int("dedup_size", a.dedup.Len()),
			logx.Bool("forum_available", a.topics.ForumAvailable()),
			logx.Time("at", time.Now()),
		}
		if a.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if posts, err := a.store.RecentPosts(ctx, 1); err == nil && len(posts) > 0 {
				fields = append(fields, logx.String("latest_media_id", posts[0].MediaID))
			}
			cancel()
		}
		log.Info("daily summary", fields...)
	}); err != nil {
		return err
	}

	c.Start()
	a.cron = c
	return nil
}
