package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/skinbot/internal/checkpoint"
	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
)

const opportunityBatch = 1000

// Janitor prunes finished scan history older than the retention window,
// handing each batch to the archiver before it is deleted.
type Janitor struct {
	checkpoints *checkpoint.Manager
	opps        domain.OpportunityStore
	archiver    domain.Archiver
	retention   time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// NewJanitor creates a Janitor. opps and archiver may be nil, in which
// case opportunities are kept and batches are deleted without archiving.
func NewJanitor(
	checkpoints *checkpoint.Manager,
	opps domain.OpportunityStore,
	archiver domain.Archiver,
	retention time.Duration,
	clk clock.Clock,
	logger *slog.Logger,
) *Janitor {
	return &Janitor{
		checkpoints: checkpoints,
		opps:        opps,
		archiver:    archiver,
		retention:   retention,
		clock:       clk,
		logger:      logger.With(slog.String("component", "janitor")),
	}
}

// Report counts what one Run removed.
type Report struct {
	Cutoff        time.Time
	Checkpoints   int64
	Opportunities int64
}

// Run executes a single prune pass.
func (j *Janitor) Run(ctx context.Context) (Report, error) {
	rep := Report{Cutoff: j.clock.Now().Add(-j.retention)}
	j.logger.InfoContext(ctx, "starting prune run",
		slog.Time("cutoff", rep.Cutoff),
		slog.Duration("retention", j.retention),
	)

	var archive func(context.Context, []domain.Checkpoint) error
	if j.archiver != nil {
		archive = j.archiver.ArchiveCheckpoints
	}
	n, err := j.checkpoints.Prune(ctx, rep.Cutoff, archive)
	rep.Checkpoints = n
	if err != nil {
		return rep, fmt.Errorf("pruning checkpoints before %v: %w", rep.Cutoff, err)
	}

	if j.opps != nil {
		n, err := j.pruneOpportunities(ctx, rep.Cutoff)
		rep.Opportunities = n
		if err != nil {
			return rep, fmt.Errorf("pruning opportunities before %v: %w", rep.Cutoff, err)
		}
	}

	j.logger.InfoContext(ctx, "prune run complete",
		slog.Int64("checkpoints", rep.Checkpoints),
		slog.Int64("opportunities", rep.Opportunities),
	)
	return rep, nil
}

func (j *Janitor) pruneOpportunities(ctx context.Context, cutoff time.Time) (int64, error) {
	if j.archiver != nil {
		for offset := 0; ; offset += opportunityBatch {
			batch, err := j.opps.List(ctx, domain.OpportunityQuery{
				ListOpts: domain.ListOpts{Until: &cutoff, Limit: opportunityBatch, Offset: offset},
			})
			if err != nil {
				return 0, err
			}
			if len(batch) == 0 {
				break
			}
			if err := j.archiver.ArchiveOpportunities(ctx, batch); err != nil {
				return 0, fmt.Errorf("archive: %w", err)
			}
			if len(batch) < opportunityBatch {
				break
			}
		}
	}
	return j.opps.DeleteBefore(ctx, cutoff)
}

// RunCron runs the janitor on a 5-field cron schedule until ctx ends.
// Failed runs are logged and retried at the next trigger.
func (j *Janitor) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	j.logger.InfoContext(ctx, "janitor cron started", slog.String("cron", cronExpr))

	for {
		now := j.clock.Now()
		next, err := sched.next(now)
		if err != nil {
			return err
		}
		j.logger.DebugContext(ctx, "janitor waiting for next trigger", slog.Time("next_run", next))
		if err := j.clock.Sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
		if _, err := j.Run(ctx); err != nil {
			j.logger.ErrorContext(ctx, "prune run failed", slog.String("error", err.Error()))
		}
	}
}

// cronField matches one cron position; nil values is a wildcard.
type cronField []int

func (f cronField) matches(v int) bool {
	if f == nil {
		return true
	}
	for _, x := range f {
		if x == v {
			return true
		}
	}
	return false
}

// parseCronField accepts "*", "*/n", single values, lists and a-b ranges.
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return nil, nil
	}
	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid cron step %q", field)
		}
		var out cronField
		for v := lo; v <= hi; v += n {
			out = append(out, v)
		}
		return out, nil
	}

	var out cronField
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		from, to, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(from)
		if err != nil {
			return nil, fmt.Errorf("invalid cron field value %q: %w", part, err)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(to); err != nil {
				return nil, fmt.Errorf("invalid cron range %q: %w", part, err)
			}
		}
		if a < lo || b > hi || a > b {
			return nil, fmt.Errorf("cron value %q outside %d-%d", part, lo, hi)
		}
		for v := a; v <= b; v++ {
			out = append(out, v)
		}
	}
	return out, nil
}

type cronSchedule struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronField
}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		v, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = v
	}
	return cronSchedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

func (c cronSchedule) matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// next returns the first matching minute strictly after t, searching up
// to one year ahead.
func (c cronSchedule) next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within one year")
}
