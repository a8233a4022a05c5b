// Package scanner drives a scan from its first (or resumed) page to the end
// of the catalog.
//
// Each page goes through fetch, detect, emit and checkpoint in that order
// before the next page is requested, so a process killed between pages
// resumes from the last persisted cursor. Cancellation is honoured between
// pages only and leaves the scan paused.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/skinbot/internal/arbitrage"
	"github.com/alanyoungcy/skinbot/internal/checkpoint"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/filter"
	"github.com/alanyoungcy/skinbot/internal/metrics"
	"github.com/alanyoungcy/skinbot/internal/notify"
)

// PageFetcher returns one filtered page of listings. *fetcher.Fetcher satisfies it.
type PageFetcher interface {
	FetchPage(ctx context.Context, gf filter.GameFilter, cursor string) (domain.Page, error)
}

// Detector turns a page of listings into opportunities. *arbitrage.Detector satisfies it.
type Detector interface {
	Detect(ctx context.Context, listings []domain.Listing, p arbitrage.Params) ([]domain.Opportunity, error)
}

// Job describes one scan.
type Job struct {
	// ScanID pins the scan to resume or create. Empty means resume the
	// active scan for UserID and OperationType, or start a new one.
	ScanID           string
	UserID           string
	OperationType    string
	Filter           filter.GameFilter
	MinProfitPercent float64
	FeePercent       float64
	// MaxItems stops the scan once this many listings were processed. Zero is unlimited.
	MaxItems int64
	Metadata map[string]string
}

// Result summarises a finished Run.
type Result struct {
	ScanID        string
	Status        domain.ScanStatus
	Pages         int
	Processed     int64
	Opportunities int
	Resumed       bool
}

// Scanner orchestrates fetcher, detector and checkpoints for one scan at a
// time per call to Run. It is safe to call Run from several goroutines.
type Scanner struct {
	fetcher     PageFetcher
	detector    Detector
	checkpoints *checkpoint.Manager
	locks       domain.LockManager
	lockTTL     time.Duration
	events      *EventPublisher
	notifier    *notify.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLocks serialises scans per user and operation type through lm.
func WithLocks(lm domain.LockManager, ttl time.Duration) Option {
	return func(s *Scanner) {
		s.locks = lm
		s.lockTTL = ttl
	}
}

// WithEvents publishes scan lifecycle events.
func WithEvents(p *EventPublisher) Option { return func(s *Scanner) { s.events = p } }

// WithNotifier reports finished scans.
func WithNotifier(n *notify.Notifier) Option { return func(s *Scanner) { s.notifier = n } }

// WithMetrics records page and scan counters.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scanner) { s.metrics = m } }

// New creates a Scanner.
func New(fetcher PageFetcher, detector Detector, checkpoints *checkpoint.Manager, logger *slog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		fetcher:     fetcher,
		detector:    detector,
		checkpoints: checkpoints,
		lockTTL:     30 * time.Minute,
		logger:      logger.With(slog.String("component", "scanner")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run executes job, emitting each opportunity to sink as soon as its page
// is detected. It returns once the catalog is exhausted (completed), job.MaxItems
// is reached (completed), ctx is cancelled or the checkpoint is paused
// externally (paused, nil error), or an unrecoverable error occurs (failed,
// error returned). A scan whose lock lapses stops with domain.ErrLockHeld and
// stays running for whoever holds the lock now.
func (s *Scanner) Run(ctx context.Context, job Job, sink Sink) (Result, error) {
	if err := validateJob(job); err != nil {
		return Result{}, err
	}

	var lease domain.Lock
	if s.locks != nil {
		l, err := s.locks.Acquire(ctx, lockKey(job), s.lockTTL)
		if err != nil {
			return Result{}, fmt.Errorf("scanner: lock %s/%s: %w", job.UserID, job.OperationType, err)
		}
		defer l.Release()
		lease = l
	}

	cp, resumed, err := s.start(ctx, job)
	if err != nil {
		return Result{}, err
	}

	logger := s.logger.With(
		slog.String("scan_id", cp.ScanID),
		slog.String("user_id", job.UserID),
		slog.String("game", string(job.Filter.Game())),
	)
	logger.InfoContext(ctx, "scan started",
		slog.Bool("resumed", resumed),
		slog.String("cursor", cp.Cursor),
		slog.Int64("processed_items", cp.ProcessedItems),
	)
	s.metrics.ScanStarted()
	s.events.Publish(ctx, ScanEventFrom(cp, 0))

	res := Result{ScanID: cp.ScanID, Processed: cp.ProcessedItems, Resumed: resumed}
	final, runErr := s.loop(ctx, job, cp, lease, sink, &res, logger)
	res.Status = final.Status

	s.metrics.ScanFinished(string(res.Status))
	s.report(ctx, final, res, runErr, logger)
	return res, runErr
}

func validateJob(job Job) error {
	switch {
	case job.UserID == "":
		return errors.New("scanner: job user id is required")
	case job.OperationType == "":
		return errors.New("scanner: job operation type is required")
	case job.Filter == nil:
		return errors.New("scanner: job filter is required")
	case job.MaxItems < 0:
		return fmt.Errorf("scanner: max items must not be negative, got %d", job.MaxItems)
	}
	return nil
}

func lockKey(job Job) string {
	return "scan:" + job.UserID + ":" + job.OperationType
}

// start loads, resumes or creates the checkpoint the scan will drive. Without
// a ScanID only a running checkpoint (left by a crashed process) is
// continued; a paused one waits for an explicit ScanID or an API resume.
func (s *Scanner) start(ctx context.Context, job Job) (domain.Checkpoint, bool, error) {
	if job.ScanID != "" {
		existing, err := s.checkpoints.Load(ctx, job.ScanID)
		if err != nil {
			return domain.Checkpoint{}, false, fmt.Errorf("scanner: %w", err)
		}
		if existing != nil {
			return s.resume(ctx, job, *existing)
		}
		return s.create(ctx, job, job.ScanID)
	}

	active, err := s.checkpoints.FindActive(ctx, job.UserID, job.OperationType)
	if err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("scanner: %w", err)
	}
	if active != nil {
		return s.resume(ctx, job, *active)
	}
	return s.create(ctx, job, uuid.NewString())
}

func (s *Scanner) resume(ctx context.Context, job Job, cp domain.Checkpoint) (domain.Checkpoint, bool, error) {
	if cp.Status.Terminal() {
		return domain.Checkpoint{}, false, fmt.Errorf("scanner: scan %s is already %s: %w",
			cp.ScanID, cp.Status, domain.ErrInvalidTransition)
	}
	if cp.UserID != job.UserID || cp.OperationType != job.OperationType {
		return domain.Checkpoint{}, false, fmt.Errorf("scanner: scan %s belongs to %s/%s: %w",
			cp.ScanID, cp.UserID, cp.OperationType, domain.ErrInvalidTransition)
	}
	// A cursor is only meaningful against the catalog it came from.
	if game := cp.Metadata["game"]; game != "" && game != string(job.Filter.Game()) {
		return domain.Checkpoint{}, false, fmt.Errorf("scanner: scan %s scans %s, job is for %s: %w",
			cp.ScanID, game, job.Filter.Game(), domain.ErrInvalidTransition)
	}
	resumed, err := s.checkpoints.Resume(ctx, cp.ScanID)
	if err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("scanner: %w", err)
	}
	return resumed, true, nil
}

func (s *Scanner) create(ctx context.Context, job Job, scanID string) (domain.Checkpoint, bool, error) {
	meta := make(map[string]string, len(job.Metadata)+4)
	for k, v := range job.Metadata {
		meta[k] = v
	}
	meta["game"] = string(job.Filter.Game())
	meta["min_profit_percent"] = strconv.FormatFloat(job.MinProfitPercent, 'f', -1, 64)
	meta["fee_percent"] = strconv.FormatFloat(job.FeePercent, 'f', -1, 64)
	if job.MaxItems > 0 {
		meta["max_items"] = strconv.FormatInt(job.MaxItems, 10)
	}

	cp, err := s.checkpoints.Create(ctx, scanID, job.UserID, job.OperationType, meta)
	if err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("scanner: %w", err)
	}
	return cp, false, nil
}

// loop processes pages until the scan leaves the running state and returns
// the final checkpoint. The lease, when held, is refreshed after every saved
// page; once it is lost the scan stops and is left running for the new holder.
func (s *Scanner) loop(ctx context.Context, job Job, cp domain.Checkpoint, lease domain.Lock, sink Sink, res *Result, logger *slog.Logger) (domain.Checkpoint, error) {
	// A page in flight runs to its checkpoint even if ctx is cancelled.
	pageCtx := context.WithoutCancel(ctx)
	params := arbitrage.Params{FeePercent: job.FeePercent, MinProfitPercent: job.MinProfitPercent}
	game := string(job.Filter.Game())
	cursor, processed := cp.Cursor, cp.ProcessedItems

	for {
		if ctx.Err() != nil {
			return s.pause(pageCtx, cp, logger)
		}
		if job.MaxItems > 0 && processed >= job.MaxItems {
			return s.complete(pageCtx, cp)
		}

		page, err := s.fetcher.FetchPage(pageCtx, job.Filter, cursor)
		if err != nil {
			return s.fail(pageCtx, cp, fmt.Errorf("scanner: scan %s: fetch page: %w", cp.ScanID, err), logger)
		}

		items, limitReached := page.Items, false
		if job.MaxItems > 0 && processed+int64(len(items)) >= job.MaxItems {
			items = items[:min(int64(len(items)), job.MaxItems-processed)]
			limitReached = true
		}

		opps, err := s.detector.Detect(pageCtx, items, params)
		if err != nil {
			return s.fail(pageCtx, cp, fmt.Errorf("scanner: scan %s: detect: %w", cp.ScanID, err), logger)
		}
		for _, opp := range opps {
			opp.ScanID = cp.ScanID
			opp.UserID = job.UserID
			if err := sink.Emit(pageCtx, opp); err != nil {
				return s.fail(pageCtx, cp, fmt.Errorf("scanner: scan %s: emit: %w", cp.ScanID, err), logger)
			}
			s.metrics.RecordOpportunity(game)
		}

		processed += int64(len(items))
		res.Pages++
		res.Processed = processed
		res.Opportunities += len(opps)
		s.metrics.RecordPage(game, len(items))

		updated, err := s.checkpoints.UpdateProgress(pageCtx, cp.ScanID, page.Cursor, processed, page.Total)
		if err != nil {
			if paused, ok := s.pausedExternally(pageCtx, cp.ScanID, err); ok {
				logger.InfoContext(ctx, "scan paused externally", slog.Int64("processed_items", processed))
				return paused, nil
			}
			return s.fail(pageCtx, cp, fmt.Errorf("scanner: scan %s: save progress: %w", cp.ScanID, err), logger)
		}
		cp = updated

		if lease != nil {
			if err := lease.Refresh(pageCtx, s.lockTTL); err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					logger.WarnContext(ctx, "scan lock lost", slog.Int64("processed_items", processed))
					return cp, fmt.Errorf("scanner: scan %s: lock lost: %w", cp.ScanID, err)
				}
				logger.WarnContext(ctx, "scan lock refresh failed", slog.String("error", err.Error()))
			}
		}

		logger.DebugContext(ctx, "page processed",
			slog.Int("page", res.Pages),
			slog.Int("items", len(items)),
			slog.Int("opportunities", len(opps)),
			slog.Int64("processed_items", processed),
			slog.Bool("last", page.Exhausted()),
		)

		if page.Exhausted() || limitReached {
			return s.complete(pageCtx, cp)
		}
		cursor = page.Cursor
	}
}

// pausedExternally reports whether a failed progress write was caused by
// someone pausing the scan through the API.
func (s *Scanner) pausedExternally(ctx context.Context, scanID string, err error) (domain.Checkpoint, bool) {
	if !errors.Is(err, domain.ErrInvalidTransition) && !errors.Is(err, domain.ErrStaleCheckpoint) {
		return domain.Checkpoint{}, false
	}
	cp, lerr := s.checkpoints.Load(ctx, scanID)
	if lerr != nil || cp == nil || cp.Status != domain.ScanPaused {
		return domain.Checkpoint{}, false
	}
	return *cp, true
}

func (s *Scanner) complete(ctx context.Context, cp domain.Checkpoint) (domain.Checkpoint, error) {
	done, err := s.checkpoints.MarkCompleted(ctx, cp.ScanID)
	if err != nil {
		return cp, fmt.Errorf("scanner: scan %s: complete: %w", cp.ScanID, err)
	}
	return done, nil
}

func (s *Scanner) pause(ctx context.Context, cp domain.Checkpoint, logger *slog.Logger) (domain.Checkpoint, error) {
	paused, err := s.checkpoints.Pause(ctx, cp.ScanID)
	if err != nil {
		return cp, fmt.Errorf("scanner: scan %s: pause: %w", cp.ScanID, err)
	}
	logger.InfoContext(ctx, "scan paused", slog.String("cursor", paused.Cursor))
	return paused, nil
}

func (s *Scanner) fail(ctx context.Context, cp domain.Checkpoint, cause error, logger *slog.Logger) (domain.Checkpoint, error) {
	failed, err := s.checkpoints.MarkFailed(ctx, cp.ScanID, cause.Error())
	if err != nil {
		logger.ErrorContext(ctx, "could not mark scan failed", slog.String("error", err.Error()))
		cp.Status = domain.ScanFailed
		cp.Reason = cause.Error()
		return cp, errors.Join(cause, err)
	}
	return failed, cause
}

func (s *Scanner) report(ctx context.Context, final domain.Checkpoint, res Result, runErr error, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	attrs := []any{
		slog.String("status", string(res.Status)),
		slog.Int("pages", res.Pages),
		slog.Int64("processed_items", res.Processed),
		slog.Int("opportunities", res.Opportunities),
	}
	if runErr != nil {
		logger.ErrorContext(ctx, "scan finished", append(attrs, slog.String("error", runErr.Error()))...)
	} else {
		logger.InfoContext(ctx, "scan finished", attrs...)
	}
	if final.Status == domain.ScanRunning {
		// Another worker holds the scan now and reports its outcome.
		return
	}

	s.events.Publish(ctx, ScanEventFrom(final, res.Opportunities))
	event, title, message := notify.FormatScanResult(final, res.Opportunities)
	_ = s.notifier.Notify(ctx, event, title, message)
}
