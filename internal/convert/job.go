// Package convert runs the batch migration of stored image fields to WebP.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/timmy/webpmigrate/internal/codec"
	"github.com/timmy/webpmigrate/internal/domain"
	"github.com/timmy/webpmigrate/internal/logger"
	"github.com/timmy/webpmigrate/internal/progress"
)

const border = "--------------------------------------------------"

// Repository is the content store a job reads from and commits to.
type Repository interface {
	Committer
	SiteExists(ctx context.Context, siteID string) (bool, error)
	CountImageFields(ctx context.Context, q domain.FieldQuery) (int, error)
	EachObject(ctx context.Context, q domain.FieldQuery, batch int, fn func(*domain.ContentObject) error) error
	ReadField(ctx context.Context, field *domain.ImageField) ([]byte, error)
	Compact(ctx context.Context) (domain.CompactStats, error)
}

// Job converts every eligible image field of one site.
type Job struct {
	cfg          domain.RunConfig
	repo         Repository
	filter       Filter
	log          *logger.Logger
	scanBatch    int
	progressOpts []progress.Option
	now          func() time.Time
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithLogger sets the job logger.
func WithLogger(log *logger.Logger) JobOption {
	return func(j *Job) { j.log = log }
}

// WithScanBatch sets how many objects are loaded per enumeration page.
func WithScanBatch(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.scanBatch = n
		}
	}
}

// WithProgress passes options to the progress reporter.
func WithProgress(opts ...progress.Option) JobOption {
	return func(j *Job) { j.progressOpts = append(j.progressOpts, opts...) }
}

// WithClock replaces time.Now for summary timestamps.
func WithClock(now func() time.Time) JobOption {
	return func(j *Job) { j.now = now }
}

// NewJob creates a job for cfg against repo.
func NewJob(cfg domain.RunConfig, repo Repository, opts ...JobOption) *Job {
	j := &Job{
		cfg:       cfg,
		repo:      repo,
		log:       logger.GetDefault(),
		scanBatch: 100,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run executes the job. The returned summary is never nil; on error its State
// is StateAborted and the counters reflect what happened before the abort.
// Batches committed before an abort stay applied.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	s := &Summary{
		RunID:     uuid.New(),
		State:     StateInit,
		DryRun:    j.cfg.DryRun,
		StartTime: j.now(),
	}
	ctx = j.log.WithContext(ctx)
	ctx = logger.SetComponent(ctx, "convert")
	ctx = logger.SetRunID(ctx, s.RunID.String())

	err := j.run(ctx, s)
	s.EndTime = j.now()
	if err != nil {
		j.transition(ctx, s, StateAborted)
		logger.FromContext(ctx).WithError(err).Error("Conversion aborted")
		j.logSummary(ctx, s)
		return s, err
	}
	return s, nil
}

func (j *Job) run(ctx context.Context, s *Summary) error {
	ctx = j.transition(ctx, s, StateInit)
	cfg := j.cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	ok, err := j.repo.SiteExists(ctx, cfg.SiteID)
	if err != nil {
		return fmt.Errorf("%w: look up site %q: %v", domain.ErrConfig, cfg.SiteID, err)
	}
	if !ok {
		return fmt.Errorf("%w: site %q not found", domain.ErrConfig, cfg.SiteID)
	}
	logger.CtxInfo(ctx, "Using site /%s", cfg.SiteID)

	ctx = j.transition(ctx, s, StateEnumerating)
	q := cfg.Query()
	total, err := j.repo.CountImageFields(ctx, q)
	if err != nil {
		return fmt.Errorf("count image fields: %w", err)
	}
	s.Total = total
	if total == 0 {
		logger.CtxInfo(ctx, "No image-related content found.")
		ctx = j.transition(ctx, s, StateDone)
		j.logSummary(ctx, s)
		return nil
	}
	j.banner(ctx, cfg, total)

	ctx = j.transition(ctx, s, StateIterating)
	log := logger.FromContext(ctx)
	reporter := progress.New(total, append([]progress.Option{progress.WithLogger(log)}, j.progressOpts...)...)
	batcher := NewBatcher(j.repo, cfg.CommitEvery, cfg.DryRun, log)

	err = j.repo.EachObject(ctx, q, j.scanBatch, func(obj *domain.ContentObject) error {
		for _, name := range cfg.FieldNames {
			if err := ctx.Err(); err != nil {
				return err
			}
			field := obj.Field(name)
			if field == nil {
				continue
			}
			out := j.examine(ctx, cfg, obj, field, batcher)
			s.record(out)
			reporter.Tick()
			if out.Kind == domain.OutcomeConverted {
				if err := batcher.MaybeFlush(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	reporter.Finish()
	s.Commits = batcher.Commits()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("interrupted after %d of %d fields, %d staged mutations discarded: %w",
				s.Examined, s.Total, batcher.Pending(), err)
		}
		return err
	}

	ctx = j.transition(ctx, s, StateFinalizing)
	if err := batcher.FinalFlush(ctx); err != nil {
		return err
	}
	s.Commits = batcher.Commits()
	j.logSummary(ctx, s)

	if cfg.Pack && !cfg.DryRun {
		logger.CtxInfo(ctx, "Packing database...")
		stats, err := j.repo.Compact(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrCompaction, err)
		}
		s.Compacted = true
		s.BlobsReclaimed = stats.BlobsDeleted
		logger.With(logger.Fields{"vacuumed": stats.Vacuumed}).
			WithDuration(stats.Duration.Milliseconds()).
			WithCount(stats.BlobsDeleted).
			Info(ctx, "DB packed.")
	}

	j.transition(ctx, s, StateDone)
	return nil
}

// examine produces the outcome of one field and stages its replacement when
// it converts.
func (j *Job) examine(ctx context.Context, cfg domain.RunConfig, obj *domain.ContentObject, field *domain.ImageField, b *Batcher) domain.Outcome {
	out := domain.Outcome{Path: obj.Path, Field: field.Name, BytesBefore: field.Size}
	log := logger.FromContext(ctx).WithFields(logger.Fields{"path": obj.Path, "field": field.Name})

	if field.IsTarget() {
		out.Kind = domain.OutcomeSkippedAlreadyTarget
		log.Infof("SKIP already webp: %s", obj.Path)
		return out
	}

	// Enumerated fields carry metadata only; bytes are read here.
	data, err := j.repo.ReadField(ctx, field)
	if err != nil {
		return j.fail(log, out, fmt.Errorf("read field: %w", err))
	}
	if len(data) == 0 {
		out.Kind = domain.OutcomeSkippedNoImage
		log.Debug("SKIP no image")
		return out
	}
	out.BytesBefore = int64(len(data))

	verdict, img, err := j.filter.Check(field.ContentType, data)
	switch verdict {
	case AlreadyTarget:
		out.Kind = domain.OutcomeSkippedAlreadyTarget
		log.Infof("SKIP already webp: %s", obj.Path)
		return out
	case NotAnImage:
		return j.fail(log, out, err)
	}

	if img.HasAlpha {
		log.Debugf("Transparency detected (%s), keeping alpha", img.Format)
	}
	encoded, err := codec.Encode(img.Pixels, img.HasAlpha, cfg.Quality)
	if err != nil {
		return j.fail(log, out, err)
	}

	filename := codec.ReplaceExt(field.Filename)
	log.Infof("CONVERT %s → %s (quality=%d, dry_run=%t)", obj.Path, filename, cfg.Quality, cfg.DryRun)

	b.Stage(domain.Mutation{
		ObjectID:    obj.ID,
		FieldID:     field.ID,
		FieldName:   field.Name,
		Path:        obj.Path,
		Data:        encoded,
		Filename:    filename,
		ContentType: codec.ContentType,
		Width:       img.Width,
		Height:      img.Height,
	})
	out.Kind = domain.OutcomeConverted
	out.BytesAfter = int64(len(encoded))
	return out
}

func (j *Job) fail(log *logger.Logger, out domain.Outcome, reason error) domain.Outcome {
	out.Kind = domain.OutcomeFailed
	out.Reason = reason
	log.WithError(reason).Warnf("Conversion failed: %s", out.Path)
	return out
}

func (j *Job) transition(ctx context.Context, s *Summary, next State) context.Context {
	s.State = next
	ctx = logger.SetPhase(ctx, string(next))
	logger.CtxDebug(ctx, "Entering phase %s", next)
	return ctx
}

func (j *Job) banner(ctx context.Context, cfg domain.RunConfig, total int) {
	logger.CtxInfo(ctx, border)
	logger.CtxInfo(ctx, "Starting image conversion")
	logger.CtxInfo(ctx, "QUALITY=%d", cfg.Quality)
	logger.CtxInfo(ctx, "DRY_RUN=%t", cfg.DryRun)
	logger.CtxInfo(ctx, "COMMIT_EVERY=%d", cfg.CommitEvery)
	logger.CtxInfo(ctx, "PACK=%t", cfg.Pack)
	logger.CtxInfo(ctx, "CONTENT_TYPES=%s", strings.Join(cfg.ContentTypes, ","))
	logger.CtxInfo(ctx, "FIELD_NAMES=%s", strings.Join(cfg.FieldNames, ","))
	logger.CtxInfo(ctx, "TOTAL FIELDS=%d", total)
	logger.CtxInfo(ctx, border)
}

func (j *Job) logSummary(ctx context.Context, s *Summary) {
	head := "DONE"
	if s.State == StateAborted {
		head = "ABORTED"
	}
	logger.CtxInfo(ctx, border)
	logger.With(logger.Fields{"commits": s.Commits}).
		WithCount(s.Examined).
		WithDuration(s.Elapsed().Milliseconds()).
		WithStatus(strings.ToLower(head)).
		Info(ctx, "%s: %d converted, %d skipped, %d failed.", head, s.Converted, s.Skipped(), s.Failed)
	if s.Converted > 0 {
		logger.CtxInfo(ctx, "Bytes: %s → %s", humanize.Bytes(uint64(s.BytesBefore)), humanize.Bytes(uint64(s.BytesAfter)))
	}
	logger.CtxInfo(ctx, border)
}

func (s *Summary) record(out domain.Outcome) {
	s.Examined++
	switch out.Kind {
	case domain.OutcomeConverted:
		s.Converted++
		s.BytesBefore += out.BytesBefore
		s.BytesAfter += out.BytesAfter
	case domain.OutcomeSkippedAlreadyTarget:
		s.SkippedAlreadyTarget++
	case domain.OutcomeSkippedNoImage:
		s.SkippedNoImage++
	case domain.OutcomeFailed:
		s.Failed++
	}
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrConfig):
		return 2
	case errors.Is(err, domain.ErrCommit):
		return 3
	case errors.Is(err, domain.ErrCompaction):
		return 4
	default:
		return 1
	}
}
