package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// ExecutionArchiveStore provides the read access the archiver needs. The
// Postgres ExecutionStore satisfies it.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error)
}

// MetricsSource yields the performance snapshot included in each archive.
// The coordinator satisfies it.
type MetricsSource interface {
	Metrics() domain.PerformanceMetrics
}

// dailyArchive is the JSON document uploaded per day.
type dailyArchive struct {
	Date        string                    `json:"date"`
	Performance domain.PerformanceMetrics `json:"performance"`
	Executions  []domain.ExecutionResult  `json:"executions"`
	ArchivedAt  time.Time                 `json:"archived_at"`
}

// Archiver uploads the day's execution history and a performance snapshot to
// blob storage. It reads, never deletes; retention in the primary store is a
// separate operational concern.
type Archiver struct {
	writer     domain.BlobWriter
	executions ExecutionArchiveStore
	metrics    MetricsSource
	logger     *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	executions ExecutionArchiveStore,
	metrics MetricsSource,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:     writer,
		executions: executions,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay uploads everything completed before the end of the given day to
// arbx/history/YYYY/MM/DD.json. It returns the number of archived executions.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	day = day.UTC()
	cutoff := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	executions, err := a.executions.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}

	doc := dailyArchive{
		Date:        day.Format("2006-01-02"),
		Performance: a.metrics.Metrics(),
		Executions:  executions,
		ArchivedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := fmt.Sprintf("arbx/history/%s.json", day.Format("2006/01/02"))
	if err := a.writer.Put(ctx, path, data, "application/json"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	a.logger.InfoContext(ctx, "daily archive uploaded",
		slog.String("path", path),
		slog.Int("executions", len(executions)),
	)
	return len(executions), nil
}

// RunDailyLoop archives the previous day shortly after each UTC midnight.
func (a *Archiver) RunDailyLoop(ctx context.Context) error {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 5, 0, 0, time.UTC).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			yesterday := time.Now().UTC().AddDate(0, 0, -1)
			if _, err := a.ArchiveDay(ctx, yesterday); err != nil {
				a.logger.WarnContext(ctx, "daily archive failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
