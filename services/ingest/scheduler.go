package ingest

import (
	"context"
	"fmt"

	"promoflow-engine/pkg/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler runs the ingestion cycle on a fixed interval.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	cfg     *config.Config
}

func NewScheduler(service *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		service: service,
		cfg:     cfg,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.Ingest.Interval)
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.service.RunCycle(context.Background()); err != nil {
			zap.L().Error("ingestion cycle failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	sweep := fmt.Sprintf("@every %s", s.cfg.Oversight.ScanWindow)
	if _, err := s.cron.AddFunc(sweep, func() {
		if err := s.service.RescanRecent(context.Background()); err != nil {
			zap.L().Error("anomaly rescan failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	zap.L().Info("ingestion scheduler started", zap.String("interval", s.cfg.Ingest.Interval.String()))
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	zap.L().Info("ingestion scheduler stopped")
	return nil
}

func registerScheduler(lc fx.Lifecycle, scheduler *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: scheduler.Start,
		OnStop:  scheduler.Stop,
	})
}
