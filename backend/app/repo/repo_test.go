package repo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"dutlab/backend/app/db"
	"dutlab/backend/app/models"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(db.Config{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "dutlab.db")})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

func job(id uint64) models.Job {
	return models.Job{JobID: id, DeviceID: 1, TestName: "s4", Iterations: 1, Parameters: map[string]any{"delay": 1}}
}

func TestEnsureDevicesKeepsExistingRows(t *testing.T) {
	ctx := context.Background()
	r := NewDeviceStatusRepository(openTestDB(t))
	if err := r.EnsureDevices(ctx, []int{1, 2}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := r.SetStatus(ctx, 1, models.StatusBusy); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := r.EnsureDevices(ctx, []int{1, 2, 3}); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	status, queue, err := r.GetStatus(ctx, 1)
	if err != nil || status != models.StatusBusy || len(queue) != 0 {
		t.Fatalf("busy row overwritten: status=%s queue=%v err=%v", status, queue, err)
	}
	rows, err := r.List(ctx)
	if err != nil || len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d (%v)", len(rows), err)
	}
}

func TestUnmanagedDeviceIsNotFound(t *testing.T) {
	ctx := context.Background()
	r := NewDeviceStatusRepository(openTestDB(t))
	if _, _, err := r.GetStatus(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Enqueue(ctx, 42, job(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on enqueue, got %v", err)
	}
	rows, _ := r.List(ctx)
	if len(rows) != 0 {
		t.Fatalf("mutation created a row for an unmanaged device")
	}
}

func TestQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	r := NewDeviceStatusRepository(openTestDB(t))
	_ = r.EnsureDevices(ctx, []int{1})
	for _, id := range []uint64{7, 8, 9} {
		if err := r.Enqueue(ctx, 1, job(id)); err != nil {
			t.Fatalf("enqueue %d: %v", id, err)
		}
	}
	for _, want := range []uint64{7, 8, 9} {
		got, ok, err := r.PopFront(ctx, 1)
		if err != nil || !ok || got.JobID != want {
			t.Fatalf("pop: want %d got %d ok=%v err=%v", want, got.JobID, ok, err)
		}
		if got.Parameters["delay"] != float64(1) {
			t.Fatalf("parameters not persisted: %+v", got.Parameters)
		}
	}
	if _, ok, _ := r.PopFront(ctx, 1); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestAdmitAndPopOrRelease(t *testing.T) {
	ctx := context.Background()
	r := NewDeviceStatusRepository(openTestDB(t))
	_ = r.EnsureDevices(ctx, []int{1})

	runNow, err := r.Admit(ctx, 1, job(1))
	if err != nil || !runNow {
		t.Fatalf("first admit should run now: %v %v", runNow, err)
	}
	runNow, _ = r.Admit(ctx, 1, job(2))
	if runNow {
		t.Fatalf("busy device must queue")
	}
	status, queue, _ := r.GetStatus(ctx, 1)
	if status != models.StatusBusy || len(queue) != 1 || queue[0].JobID != 2 {
		t.Fatalf("unexpected state %s %v", status, queue)
	}

	next, ok, _ := r.PopOrRelease(ctx, 1)
	if !ok || next.JobID != 2 {
		t.Fatalf("expected job 2, got %+v", next)
	}
	if _, ok, _ := r.PopOrRelease(ctx, 1); ok {
		t.Fatalf("expected release on empty queue")
	}
	status, _, _ = r.GetStatus(ctx, 1)
	if status != models.StatusFree {
		t.Fatalf("expected Free after release, got %s", status)
	}
}

func TestClaimOnlyFreeWithWork(t *testing.T) {
	ctx := context.Background()
	r := NewDeviceStatusRepository(openTestDB(t))
	_ = r.EnsureDevices(ctx, []int{1})

	if ok, _ := r.Claim(ctx, 1); ok {
		t.Fatalf("claimed an idle device with no work")
	}
	_ = r.Enqueue(ctx, 1, job(3))
	if ok, _ := r.Claim(ctx, 1); !ok {
		t.Fatalf("expected claim of free device with queued work")
	}
	if ok, _ := r.Claim(ctx, 1); ok {
		t.Fatalf("second claim must fail while busy")
	}
}

func TestConcurrentAdmitRunsExactlyOne(t *testing.T) {
	ctx := context.Background()
	r := NewDeviceStatusRepository(openTestDB(t))
	_ = r.EnsureDevices(ctx, []int{1})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ran int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			runNow, err := r.Admit(ctx, 1, job(id))
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if runNow {
				mu.Lock()
				ran++
				mu.Unlock()
			}
		}(uint64(i + 1))
	}
	wg.Wait()
	_, queue, _ := r.GetStatus(ctx, 1)
	if ran != 1 || len(queue) != 9 {
		t.Fatalf("expected one runner and nine queued, got %d and %d", ran, len(queue))
	}
}

func TestJobCounterIsUniqueAndDurable(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	c := NewJobCounterRepository(gdb)

	seen := make(map[uint64]bool)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.Next(ctx)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("duplicate job id %d", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	id, _ := c.Next(ctx)
	if id != 21 {
		t.Fatalf("counter reset by migration: next id %d", id)
	}
}

func TestLogAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	r := NewLogRepository(openTestDB(t))
	one := uint64(1)
	dev := 1
	recs := []*models.LogRecord{
		{JobID: &one, DeviceID: 1, TestName: "s4", Outcome: "Pass", Metrics: "{}"},
		{JobID: nil, DeviceID: models.ExternalDeviceID, TestName: "cpuinformation", Outcome: "Fail"},
	}
	for _, rec := range recs {
		if err := r.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := r.Get(ctx, 1)
	if err != nil || got == nil || got.TestName != "s4" {
		t.Fatalf("get: %+v %v", got, err)
	}
	if missing, err := r.Get(ctx, 99); missing != nil || err != nil {
		t.Fatalf("expected nil for unknown job, got %+v %v", missing, err)
	}
	list, _ := r.List(ctx, LogFilter{DeviceID: &dev})
	if len(list) != 1 {
		t.Fatalf("device filter: got %d records", len(list))
	}
	all, _ := r.List(ctx, LogFilter{})
	if len(all) != 2 || all[1].JobID != nil {
		t.Fatalf("unexpected records %+v", all)
	}
}
