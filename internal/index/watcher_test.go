package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

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

func TestWatcher_NewFileIndexed(t *testing.T) {
	ws, store := testWorkspace(t)
	db := testDB(t)
	if err := os.MkdirAll(filepath.Join(ws, "tasks"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, ws, discard())
	time.Sleep(100 * time.Millisecond)

	writeEntity(t, ws, "tasks/new.md", "---\ntitle: New\n---\n\nbody\n")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum("tasks/new.md")
		return cs != ""
	}, "new file not indexed by watcher")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	ws, store := testWorkspace(t)
	db := testDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, ws, discard())
	time.Sleep(100 * time.Millisecond)

	if err := os.MkdirAll(filepath.Join(ws, "projects"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	writeEntity(t, ws, "projects/deep.md", "---\ntitle: Deep\n---\n\nbody\n")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum("projects/deep.md")
		return cs != ""
	}, "file in new directory not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	ws, store := testWorkspace(t)
	db := testDB(t)
	writeEntity(t, ws, "tasks/del.md", "---\ntitle: Delete Me\n---\n\nbody\n")
	if err := Sync(db, store, discard()); err != nil {
		t.Fatal(err)
	}
	if cs, _ := db.Checksum("tasks/del.md"); cs == "" {
		t.Fatal("precondition: entity should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, ws, discard())
	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(filepath.Join(ws, "tasks", "del.md")); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum("tasks/del.md")
		return cs == ""
	}, "deleted entity still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	ws, store := testWorkspace(t)
	db := testDB(t)
	writeEntity(t, ws, "tasks/old.md", "---\ntitle: Rename\n---\n\nbody\n")
	if err := Sync(db, store, discard()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, ws, discard())
	time.Sleep(100 * time.Millisecond)

	if err := os.Rename(filepath.Join(ws, "tasks", "old.md"), filepath.Join(ws, "tasks", "renamed.md")); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.Checksum("tasks/old.md")
		newCS, _ := db.Checksum("tasks/renamed.md")
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed")
}

func TestWatcher_IgnoresDecisionFiles(t *testing.T) {
	ws, store := testWorkspace(t)
	db := testDB(t)
	if err := os.MkdirAll(filepath.Join(ws, "tasks"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, ws, discard())
	time.Sleep(100 * time.Millisecond)

	writeEntity(t, ws, "decisions/proposal.md", "---\ntitle: P\nstatus: pending\n---\n\nr\n")
	writeEntity(t, ws, "tasks/canary.md", "---\ntitle: Canary\n---\n\nbody\n")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum("tasks/canary.md")
		return cs != ""
	}, "canary entity not indexed")

	if cs, _ := db.Checksum("decisions/proposal.md"); cs != "" {
		t.Error("decision file should not be indexed")
	}
}
