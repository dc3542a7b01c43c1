// Package pipeline runs background jobs over the ledger.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// ArchiveJob copies closed ledger rows older than the retention window to
// cold storage, either on demand or on a cron schedule.
type ArchiveJob struct {
	archiver      domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:      archiver,
		retentionDays: retentionDays,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Cutoff returns the instant before which closed rows are archived.
func (j *ArchiveJob) Cutoff() time.Time {
	return j.now().AddDate(0, 0, -j.retentionDays)
}

// Run executes one archive pass.
func (j *ArchiveJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.Cutoff()
	n, err := j.archiver.ArchiveClosed(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logger.InfoContext(ctx, "pipeline: archive run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("rows", n),
	)
	return n, nil
}

// RunCron runs the job on a standard 5-field cron schedule (UTC) until ctx
// is cancelled. Runs never overlap.
func (j *ArchiveJob) RunCron(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if _, err := j.Run(ctx); err != nil {
			j.logger.ErrorContext(ctx, "pipeline: archive run failed",
				slog.String("error", err.Error()),
			)
		}
	}); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", spec, err)
	}

	j.logger.InfoContext(ctx, "pipeline: archive cron started", slog.String("cron", spec))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("pipeline: archive cron stopped")
	return nil
}

// ValidateCron reports whether spec parses as a 5-field cron expression.
func ValidateCron(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", spec, err)
	}
	return nil
}
