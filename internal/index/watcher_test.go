package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/kodebase/internal/storage"
)

// watcherTestEnv sets up an artifacts root, storage, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, storage.Provider, *DB) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store, testDB(t)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(kind, id, _ string) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+id)
	r.mu.Unlock()
}

func (r *recorder) saw(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder
	go Watch(ctx, db, store, root, quietLogger(), rec.record)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(root, "B.yml"), record("B", "Initiative", "draft", "x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("B.yml")
		return cs != ""
	}, "new record not indexed by watcher")
	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("created:B")
	}, "expected created:B callback")
}

func TestWatcher_IgnoresNonRecordFiles(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder
	go Watch(ctx, db, store, root, quietLogger(), rec.record)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(root, "notes.md"), []byte("# not a record"), 0o644)
	_ = os.WriteFile(filepath.Join(root, ".kodebase-tmp-123"), record("B", "Tmp", "draft", "x"), 0o644)
	time.Sleep(300 * time.Millisecond)

	if all, _ := db.ListByState(""); len(all) != 0 {
		t.Errorf("non-record files indexed: %+v", all)
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, root, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	dir := filepath.Join(root, "A", "A.1")
	_ = os.MkdirAll(dir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(dir, "A.1.1.yml"), record("A.1.1", "Deep", "draft", "x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("A/A.1/A.1.1.yml")
		return cs != ""
	}, "record in new subdir not indexed by watcher")
}

func TestWatcher_UpdateReindexes(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	path := filepath.Join(root, "A.1.yml")
	_ = os.WriteFile(path, record("A.1", "Milestone", "draft", "x"), 0o644)
	if err := Sync(db, store, quietLogger()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var rec recorder
	go Watch(ctx, db, store, root, quietLogger(), rec.record)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(path, record("A.1", "Milestone", "ready", "x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		r, err := db.GetArtifact("A.1")
		return err == nil && r.State == "ready"
	}, "state change not reindexed")
	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("updated:A.1")
	}, "expected updated:A.1 callback")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	_ = os.WriteFile(filepath.Join(root, "C.yml"), record("C", "Delete Me", "draft", "x"), 0o644)
	if err := Sync(db, store, quietLogger()); err != nil {
		t.Fatal(err)
	}
	if cs, _ := db.GetChecksum("C.yml"); cs == "" {
		t.Fatal("precondition: record should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var rec recorder
	go Watch(ctx, db, store, root, quietLogger(), rec.record)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(root, "C.yml"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("C.yml")
		return cs == ""
	}, "deleted record still in index")
	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return rec.saw("deleted:C")
	}, "expected deleted:C callback")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	root, store, db := watcherTestEnv(t)
	_ = os.MkdirAll(filepath.Join(root, "old"), 0o755)
	_ = os.MkdirAll(filepath.Join(root, "new"), 0o755)
	_ = os.WriteFile(filepath.Join(root, "old", "D.yml"), record("D", "Rename", "draft", "x"), 0o644)
	if err := Sync(db, store, quietLogger()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, root, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(root, "old", "D.yml"), filepath.Join(root, "new", "D.yml"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum("old/D.yml")
		newCS, _ := db.GetChecksum("new/D.yml")
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed: old path should be removed and new path indexed")
}
