package sweepers

import (
	"context"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Only one run of each sweep may be queued or running at a time.
var sweepUnique = river.UniqueOpts{
	ByState: []rivertype.JobState{
		rivertype.JobStateAvailable,
		rivertype.JobStatePending,
		rivertype.JobStateRetryable,
		rivertype.JobStateRunning,
		rivertype.JobStateScheduled,
	},
}

type ExpirySweepArgs struct{}

func (ExpirySweepArgs) Kind() string { return "points_expiry_sweep" }

func (ExpirySweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 3, UniqueOpts: sweepUnique}
}

type TierSweepArgs struct{}

func (TierSweepArgs) Kind() string { return "tier_recalculation_sweep" }

func (TierSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 3, UniqueOpts: sweepUnique}
}

type ExpiryWorker struct {
	river.WorkerDefaults[ExpirySweepArgs]
	sweep *Expiry
}

func NewExpiryWorker(s *Expiry) *ExpiryWorker { return &ExpiryWorker{sweep: s} }

func (w *ExpiryWorker) Work(ctx context.Context, _ *river.Job[ExpirySweepArgs]) error {
	_, err := w.sweep.Run(ctx)
	return err
}

type TierWorker struct {
	river.WorkerDefaults[TierSweepArgs]
	sweep *Tiers
}

func NewTierWorker(s *Tiers) *TierWorker { return &TierWorker{sweep: s} }

func (w *TierWorker) Work(ctx context.Context, _ *river.Job[TierSweepArgs]) error {
	_, err := w.sweep.Run(ctx)
	return err
}

// PeriodicJobs schedules both sweeps; each also runs once at startup.
func PeriodicJobs(expiryEvery, tiersEvery time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(expiryEvery),
			func() (river.JobArgs, *river.InsertOpts) { return ExpirySweepArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(tiersEvery),
			func() (river.JobArgs, *river.InsertOpts) { return TierSweepArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
