package convert

import (
	"context"
	"fmt"

	"github.com/timmy/webpmigrate/internal/domain"
	"github.com/timmy/webpmigrate/internal/logger"
)

// Committer applies a batch of mutations atomically.
type Committer interface {
	CommitBatch(ctx context.Context, mutations []domain.Mutation) error
}

// Batcher groups staged mutations into transactions of at most every items.
// In dry-run mode nothing is kept or committed; only the counters move.
type Batcher struct {
	committer Committer
	every     int
	dryRun    bool
	log       *logger.Logger

	pending []domain.Mutation
	staged  int
	commits int
}

// NewBatcher creates a batcher flushing every n staged mutations.
func NewBatcher(committer Committer, every int, dryRun bool, log *logger.Logger) *Batcher {
	if every <= 0 {
		every = domain.DefaultCommitEvery
	}
	if log == nil {
		log = logger.GetDefault()
	}
	b := &Batcher{committer: committer, every: every, dryRun: dryRun, log: log}
	if !dryRun {
		b.pending = make([]domain.Mutation, 0, every)
	}
	return b
}

// Stage records one mutation.
func (b *Batcher) Stage(m domain.Mutation) {
	b.staged++
	if b.dryRun {
		return
	}
	b.pending = append(b.pending, m)
}

// MaybeFlush commits when the staged count reaches a multiple of the batch size.
func (b *Batcher) MaybeFlush(ctx context.Context) error {
	if b.staged == 0 || b.staged%b.every != 0 {
		return nil
	}
	return b.flush(ctx)
}

// FinalFlush commits whatever remains.
func (b *Batcher) FinalFlush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	return b.flush(ctx)
}

func (b *Batcher) flush(ctx context.Context) error {
	if b.dryRun {
		return nil
	}
	n := len(b.pending)
	if n == 0 {
		return nil
	}
	if err := b.committer.CommitBatch(ctx, b.pending); err != nil {
		return fmt.Errorf("%w: commit %d mutations: %w", domain.ErrCommit, n, err)
	}
	b.commits++
	b.pending = make([]domain.Mutation, 0, b.every)
	b.log.WithFields(logger.Fields{
		logger.FieldCount: b.staged,
		"batch":           n,
	}).Infof("Committed at %d items", b.staged)
	return nil
}

// Commits returns the number of batches committed. Always zero on dry run.
func (b *Batcher) Commits() int { return b.commits }

// Staged returns the number of mutations staged so far.
func (b *Batcher) Staged() int { return b.staged }

// Pending returns the number of mutations waiting for the next commit.
func (b *Batcher) Pending() int { return len(b.pending) }
