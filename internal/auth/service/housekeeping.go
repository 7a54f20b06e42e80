package service

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is implemented by ephemeral stores that expire lazily and need an
// occasional pass to free memory.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// HousekeepingService periodically removes expired handshake state. Expiry
// is always enforced on read; this only bounds memory.
type HousekeepingService struct {
	Sweeper  Sweeper
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService defaults to a one minute interval.
func NewHousekeepingService(sweeper Sweeper, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Minute
	}

	return &HousekeepingService{
		Sweeper:  sweeper,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sweeper in the background until Stop is called.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until an in-progress sweep has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) cleanup() {
	n, err := s.Sweeper.DeleteExpired(context.Background())
	if err != nil {
		s.Logger.Error("failed to delete expired handshake state", "error", err)
		return
	}
	if n > 0 {
		s.Logger.Debug("deleted expired handshake state", "count", n)
	}
}
