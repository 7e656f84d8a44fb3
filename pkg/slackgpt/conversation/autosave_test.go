package conversation

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingTarget struct {
	mu    sync.Mutex
	saves int
	fail  bool
}

func (r *recordingTarget) Name() string { return "recording" }

func (r *recordingTarget) Save(context.Context, []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.fail {
		return errFailingSave
	}
	return nil
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func (r *recordingTarget) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

var errFailingSave = &saveError{}

type saveError struct{}

func (*saveError) Error() string { return "save failed" }

func TestNewAutosaver_InvalidSchedule(t *testing.T) {
	t.Parallel()
	_, err := NewAutosaver(newTestStore(), nil, AutosaveConfig{Schedule: "not a schedule"}, nil)
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestAutosaver_FlushOnlyWhenChanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	rec := &recordingTarget{}

	a, err := NewAutosaver(s, []Target{rec}, AutosaveConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 0 {
		t.Errorf("saves = %d, want 0 for unchanged store", rec.count())
	}

	s.AppendTurn("C", "T", "U", "x")
	if err := a.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 1 {
		t.Errorf("saves = %d, want 1", rec.count())
	}
}

func TestAutosaver_RetriesAfterFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	rec := &recordingTarget{fail: true}

	a, err := NewAutosaver(s, []Target{rec}, AutosaveConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	s.AppendTurn("C", "T", "U", "x")
	if err := a.Flush(ctx); err == nil {
		t.Fatal("expected failure")
	}

	rec.setFail(false)
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("saves = %d, want 2", rec.count())
	}
}

func TestAutosaver_NotifyAndStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	rec := &recordingTarget{}

	a, err := NewAutosaver(s, []Target{rec}, AutosaveConfig{OnMutation: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	a.Start(ctx)

	s.AppendTurn("C", "T", "U", "x")
	a.Notify()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("notify did not trigger a save")
	}

	s.AppendTurn("C", "T", "B", "y")
	before := rec.count()
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.count() <= before {
		t.Error("Stop did not flush pending changes")
	}
}

func TestAutosaver_NotifyDisabled(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	rec := &recordingTarget{}

	a, err := NewAutosaver(s, []Target{rec}, AutosaveConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.AppendTurn("C", "T", "U", "x")
	a.Notify()

	select {
	case <-a.notify:
		t.Error("Notify queued a write with OnMutation off")
	default:
	}
}
