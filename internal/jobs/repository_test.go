package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stickerkit/sticker-agent/internal/db"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func newJob(name string, created time.Time) *Job {
	end := 10.0
	return &Job{
		ID:          NewID(),
		Status:      StatusRunning,
		SourceName:  name,
		Speed:       1.5,
		CropStart:   0.5,
		CropEnd:     &end,
		MaxDuration: 10,
		Quality:     60,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newJob("cat.mp4", time.Now())
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetJob() returned nil")
	}
	if got.SourceName != "cat.mp4" || got.Status != StatusRunning {
		t.Errorf("got %+v", got)
	}
	if got.CropEnd == nil || *got.CropEnd != 10 {
		t.Errorf("CropEnd = %v, want 10", got.CropEnd)
	}
	if got.Speed != 1.5 || got.CropStart != 0.5 || got.MaxDuration != 10 || got.Quality != 60 {
		t.Errorf("settings not round-tripped: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := setupTestRepo(t)
	got, err := repo.GetJob(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetJob() = %+v, want nil", got)
	}
}

func TestRepository_NilCropEnd(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newJob("clip.gif", time.Now())
	job.CropEnd = nil
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	got, _ := repo.GetJob(ctx, job.ID)
	if got.CropEnd != nil {
		t.Errorf("CropEnd = %v, want nil", *got.CropEnd)
	}
}

func TestRepository_CompleteAndFail(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	ok := newJob("ok.mp4", time.Now())
	bad := newJob("bad.mp4", time.Now())
	for _, j := range []*Job{ok, bad} {
		if err := repo.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}

	if err := repo.CompleteJob(ctx, ok.ID, "abc123", 512, true); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}
	if err := repo.FailJob(ctx, bad.ID, "file too large"); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	got, _ := repo.GetJob(ctx, ok.ID)
	if got.Status != StatusCompleted || got.FileID != "abc123" || got.SizeKB != 512 || !got.Warning {
		t.Errorf("completed job = %+v", got)
	}

	got, _ = repo.GetJob(ctx, bad.ID)
	if got.Status != StatusFailed || got.Error != "file too large" {
		t.Errorf("failed job = %+v", got)
	}
}

func TestRepository_ListJobs(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		if err := repo.CreateJob(ctx, newJob(name, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}

	jobs, err := repo.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len = %d, want 2", len(jobs))
	}
	if jobs[0].SourceName != "c.mp4" || jobs[1].SourceName != "b.mp4" {
		t.Errorf("order = %s, %s; want newest first", jobs[0].SourceName, jobs[1].SourceName)
	}

	all, _ := repo.ListJobs(ctx, 0)
	if len(all) != 3 {
		t.Errorf("ListJobs(0) len = %d, want 3", len(all))
	}
}

func TestSQLiteRepository_ImplementsRepository(t *testing.T) {
	var _ Repository = (*SQLiteRepository)(nil)
}
