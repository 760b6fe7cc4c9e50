package job

import (
	"errors"
	"testing"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(100, time.Hour)

	job := store.Create("export", map[string]any{"keyword": "btc"})
	if job.ID == "" {
		t.Error("expected job ID")
	}
	if job.Status != StatusPending {
		t.Errorf("expected pending, got %s", job.Status)
	}

	retrieved, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.ID != job.ID || retrieved.Params["keyword"] != "btc" {
		t.Errorf("unexpected job %+v", retrieved)
	}
}

func TestStore_Update(t *testing.T) {
	store := NewStore(100, time.Hour)
	job := store.Create("export", nil)

	err := store.Update(job.ID, func(j *Job) {
		j.Status = StatusComplete
		j.Result = "trends/btc/a.json"
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	retrieved, _ := store.Get(job.ID)
	if retrieved.Status != StatusComplete || !retrieved.Done() {
		t.Errorf("expected complete, got %s", retrieved.Status)
	}
	if retrieved.Result != "trends/btc/a.json" {
		t.Errorf("unexpected result %v", retrieved.Result)
	}
}

func TestStore_MaxSize(t *testing.T) {
	store := NewStore(2, time.Hour)

	job1 := store.Create("export", nil)
	store.Create("export", nil)
	store.Create("export", nil) // Should evict job1

	_, err := store.Get(job1.ID)
	if err == nil {
		t.Error("expected job1 to be evicted")
	}
}

func TestStore_ExpiresFinishedJobs(t *testing.T) {
	store := NewStore(100, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	done := store.Create("export", nil)
	running := store.Create("export", nil)
	store.Update(done.ID, func(j *Job) { j.Status = StatusFailed })
	store.Update(running.ID, func(j *Job) { j.Status = StatusRunning })

	now = now.Add(2 * time.Hour)
	store.Create("export", nil)

	if _, err := store.Get(done.ID); err == nil {
		t.Error("expected finished job to expire")
	}
	if _, err := store.Get(running.ID); err != nil {
		t.Error("running job must not expire")
	}
}

func TestStore_NotFound(t *testing.T) {
	store := NewStore(100, time.Hour)

	_, err := store.Get("nonexistent")
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected NO_DATA for nonexistent job, got %v", err)
	}
	if err := store.Update("nonexistent", func(*Job) {}); !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected NO_DATA on update, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	store := NewStore(100, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	first := store.Create("export", nil)
	now = now.Add(time.Minute)
	second := store.Create("export", nil)

	jobs := store.List()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Error("expected newest job first")
	}
}
