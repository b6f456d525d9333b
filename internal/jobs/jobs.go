package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/report"
)

const exportTimeout = 2 * time.Minute

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type SummarySource interface {
	ClosedSummaries(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.DayEndSummary, error)
}

// DayEndExporter writes closed shift summaries to spreadsheet files, one
// directory per business day.
type DayEndExporter struct {
	source  SummarySource
	storeID string
	dir     string
	format  report.Format
	now     func() time.Time
}

func NewDayEndExporter(source SummarySource, storeID string, dir string) *DayEndExporter {
	return &DayEndExporter{
		source:  source,
		storeID: storeID,
		dir:     dir,
		format:  report.FormatXLSX,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ExportDay writes every summary closed during the UTC day containing day
// and returns the written paths.
func (e *DayEndExporter) ExportDay(ctx context.Context, day time.Time) ([]string, error) {
	from := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	summaries, err := e.source.ClosedSummaries(ctx, e.storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list summaries for %s: %w", from.Format("2006-01-02"), err)
	}
	if len(summaries) == 0 {
		return nil, nil
	}

	target := filepath.Join(e.dir, from.Format("2006-01-02"))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	generatedAt := e.now()
	paths := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		body, err := report.RenderBytes(e.format, summary, generatedAt)
		if err != nil {
			return paths, fmt.Errorf("render shift %s: %w", summary.ShiftID, err)
		}
		path := filepath.Join(target, summary.ShiftID+"-"+report.FileName(summary, e.format))
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// RunPreviousDay exports yesterday's summaries and logs the outcome.
func (e *DayEndExporter) RunPreviousDay() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	day := e.now().AddDate(0, 0, -1)
	paths, err := e.ExportDay(ctx, day)
	if err != nil {
		zap.S().Errorw("day-end export failed", "day", day.Format("2006-01-02"), "error", err)
		return
	}
	zap.S().Infow("day-end export finished", "day", day.Format("2006-01-02"), "files", len(paths))
}

// Schedule registers the exporter on a new scheduler. The caller starts and
// stops it.
func Schedule(spec string, exporter *DayEndExporter) (*cron.Cron, error) {
	sched := cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser))
	if _, err := sched.AddFunc(spec, exporter.RunPreviousDay); err != nil {
		return nil, fmt.Errorf("schedule day-end export %q: %w: %w", spec, domain.ErrInvalidConfiguration, err)
	}
	return sched, nil
}
