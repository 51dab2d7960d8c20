package convert

import (
	"context"
	"errors"
	"testing"

	"github.com/timmy/webpmigrate/internal/domain"
)

func TestBatcherCommitCount(t *testing.T) {
	tests := []struct {
		name        string
		staged      int
		every       int
		dryRun      bool
		wantCommits int
	}{
		{"exact multiple", 500, 100, false, 5},
		{"remainder", 7, 3, false, 3},
		{"fewer than one batch", 2, 100, false, 1},
		{"nothing staged", 0, 100, false, 0},
		{"dry run never commits", 7, 3, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			obj := repo.add("Image", "/x", domain.ImageField{Name: "image"})
			b := NewBatcher(repo, tt.every, tt.dryRun, quietLogger())
			ctx := context.Background()
			for i := 0; i < tt.staged; i++ {
				b.Stage(domain.Mutation{ObjectID: obj.ID, FieldName: "image"})
				if b.Pending() > tt.every {
					t.Fatalf("pending %d exceeds batch size %d", b.Pending(), tt.every)
				}
				if err := b.MaybeFlush(ctx); err != nil {
					t.Fatal(err)
				}
			}
			if err := b.FinalFlush(ctx); err != nil {
				t.Fatal(err)
			}
			if b.Commits() != tt.wantCommits {
				t.Errorf("Commits() = %d, want %d", b.Commits(), tt.wantCommits)
			}
			if repo.commitCalls != tt.wantCommits {
				t.Errorf("CommitBatch calls = %d, want %d", repo.commitCalls, tt.wantCommits)
			}
			if b.Staged() != tt.staged {
				t.Errorf("Staged() = %d, want %d", b.Staged(), tt.staged)
			}
		})
	}
}

func TestBatcherCommitFailure(t *testing.T) {
	repo := newMemRepo()
	obj := repo.add("Image", "/x", domain.ImageField{Name: "image"})
	repo.failCommitAt = 1
	b := NewBatcher(repo, 2, false, quietLogger())

	b.Stage(domain.Mutation{ObjectID: obj.ID, FieldName: "image"})
	b.Stage(domain.Mutation{ObjectID: obj.ID, FieldName: "image"})
	err := b.MaybeFlush(context.Background())
	if !errors.Is(err, domain.ErrCommit) {
		t.Fatalf("err = %v, want ErrCommit", err)
	}
	if b.Commits() != 0 || b.Pending() != 2 {
		t.Errorf("commits=%d pending=%d after failure", b.Commits(), b.Pending())
	}
}
