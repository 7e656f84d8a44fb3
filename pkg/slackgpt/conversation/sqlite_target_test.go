package conversation

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSQLiteTarget_SaveLoadPrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	target, err := OpenSQLiteTarget(filepath.Join(t.TempDir(), "snap.db"), 2)
	if err != nil {
		t.Fatalf("OpenSQLiteTarget: %v", err)
	}
	defer target.Close()

	empty := newTestStore()
	if err := empty.Load(ctx, target); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load on empty db err = %v, want fs.ErrNotExist", err)
	}

	src := populatedStore(t)
	for i := 0; i < 3; i++ {
		src.AppendTurn("C9", "T", "U", "tick")
		if err := src.Persist(ctx, target); err != nil {
			t.Fatalf("Persist #%d: %v", i, err)
		}
	}

	n, err := target.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2 after pruning", n)
	}

	dst := newTestStore()
	if err := dst.Load(ctx, target); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(src.Snapshot(), dst.Snapshot()) {
		t.Error("latest snapshot does not match the store")
	}
	if got := len(dst.History("C9", "T")); got != 3 {
		t.Errorf("C9 history len = %d, want 3 (newest snapshot)", got)
	}
}
