package reconciliation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/repository"
)

// Result summarises a full reconciliation run.
type Result struct {
	PendingTrades      int                            `json:"pending_trades"`
	RepairedTrades     int                            `json:"repaired_trades"`
	FailedTrades       []string                       `json:"failed_trades"`
	TimelineMismatches []repository.TimelineMismatch `json:"timeline_mismatches"`
}

// TradeSyncer re-applies the trade status a dispute requires.
type TradeSyncer interface {
	PendingTradeSync(ctx context.Context) ([]string, error)
	SyncTrade(ctx context.Context, disputeID string) (bool, error)
}

type TimelineSource interface {
	TimelineMismatches(ctx context.Context) ([]repository.TimelineMismatch, error)
}

// Service repairs dispute/trade drift left behind by failed post-commit
// trade updates and reports disputes whose status disagrees with their
// timeline.
type Service struct {
	syncer    TradeSyncer
	timelines TimelineSource
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewService(syncer TradeSyncer, timelines TimelineSource, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{syncer: syncer, timelines: timelines, log: log, metrics: m}
}

// RunFullReconciliation runs the trade repair sweep and then the timeline
// check. Individual trade failures are reported in the result, not as an
// error.
func (s *Service) RunFullReconciliation(ctx context.Context) (*Result, error) {
	res := &Result{FailedTrades: []string{}}

	pending, repaired, failed, err := s.RepairTradeSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("repair trade sync: %w", err)
	}
	res.PendingTrades, res.RepairedTrades, res.FailedTrades = pending, repaired, failed

	mismatches, err := s.CheckTimelines(ctx)
	if err != nil {
		return nil, fmt.Errorf("check timelines: %w", err)
	}
	res.TimelineMismatches = mismatches

	s.log.Info("reconciliation finished",
		zap.Int("pending", res.PendingTrades),
		zap.Int("repaired", res.RepairedTrades),
		zap.Int("failed", len(res.FailedTrades)),
		zap.Int("timeline_mismatches", len(res.TimelineMismatches)))
	return res, nil
}

// RepairTradeSync applies the outstanding trade update of every dispute
// still marked pending. It returns how many were pending, how many were
// repaired and the IDs that failed again.
func (s *Service) RepairTradeSync(ctx context.Context) (int, int, []string, error) {
	ids, err := s.syncer.PendingTradeSync(ctx)
	if err != nil {
		return 0, 0, nil, err
	}

	repaired := 0
	failed := []string{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return len(ids), repaired, failed, err
		}
		synced, err := s.syncer.SyncTrade(ctx, id)
		switch {
		case err != nil:
			failed = append(failed, id)
			s.metrics.TradeSync("failed")
			s.log.Warn("trade repair failed", zap.String("dispute_id", id), zap.Error(err))
		case synced:
			repaired++
			s.metrics.TradeSync("repaired")
			s.log.Info("trade repaired", zap.String("dispute_id", id))
		}
	}
	return len(ids), repaired, failed, nil
}

// CheckTimelines returns disputes whose current status differs from the
// status of their last timeline entry.
func (s *Service) CheckTimelines(ctx context.Context) ([]repository.TimelineMismatch, error) {
	mismatches, err := s.timelines.TimelineMismatches(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range mismatches {
		s.log.Error("dispute timeline out of step",
			zap.String("dispute_id", m.DisputeID),
			zap.String("status", string(m.Status)),
			zap.String("timeline_status", string(m.TimelineStatus)))
	}
	if mismatches == nil {
		mismatches = []repository.TimelineMismatch{}
	}
	return mismatches, nil
}
