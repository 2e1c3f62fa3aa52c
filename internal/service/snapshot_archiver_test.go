package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
	"github.com/alanyoungcy/lastvalue/internal/lastvalue"
)

func commit(t *testing.T, svc *PriceService, recs ...domain.PriceRecord[domain.Quote]) {
	t.Helper()
	ctx := context.Background()
	id, err := svc.StartBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PublishPrices(ctx, id, recs); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompleteBatch(ctx, id); err != nil {
		t.Fatal(err)
	}
}

func newArchiver(svc *PriceService, blobs *fakeBlobs, locks domain.LockManager) *SnapshotArchiver {
	a := NewSnapshotArchiver(svc, blobs, locks, SnapshotArchiverConfig{Prefix: "snapshots", Interval: time.Minute}, discardLogger())
	a.now = func() time.Time { return time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestArchiveOnceSkipsUnchangedStore(t *testing.T) {
	h := newHarness()
	blobs := newFakeBlobs()
	a := newArchiver(h.svc, blobs, nil)
	ctx := context.Background()

	if key, err := a.ArchiveOnce(ctx); err != nil || key != "" {
		t.Fatalf("empty store: key %q err %v", key, err)
	}

	commit(t, h.svc, quote("AAPL", 10, "150.25"))
	key, err := a.ArchiveOnce(ctx)
	if err != nil {
		t.Fatalf("ArchiveOnce: %v", err)
	}
	if !strings.HasPrefix(key, "snapshots/2025/01/31/") {
		t.Errorf("key = %q", key)
	}
	if key, _ := a.ArchiveOnce(ctx); key != "" {
		t.Errorf("unchanged store uploaded again as %q", key)
	}

	// A batch that changes nothing does not trigger an upload either.
	commit(t, h.svc, quote("AAPL", 1, "1"))
	if key, _ := a.ArchiveOnce(ctx); key != "" {
		t.Errorf("superseded-only batch uploaded as %q", key)
	}

	commit(t, h.svc, quote("AAPL", 11, "151"))
	a.now = func() time.Time { return time.Date(2025, 1, 31, 12, 5, 0, 0, time.UTC) }
	if key, _ := a.ArchiveOnce(ctx); key == "" {
		t.Error("changed store not uploaded")
	}
	if len(blobs.objects) != 2 {
		t.Errorf("objects = %d, want 2", len(blobs.objects))
	}
}

func TestArchiveOncePrunesOldSnapshots(t *testing.T) {
	h := newHarness()
	blobs := newFakeBlobs()
	a := NewSnapshotArchiver(h.svc, blobs, nil, SnapshotArchiverConfig{Prefix: "snapshots", Interval: time.Minute, Keep: 2}, discardLogger())
	ctx := context.Background()

	var keys []string
	for i := range 4 {
		a.now = func() time.Time { return time.Date(2025, 1, 31, 12, i, 0, 0, time.UTC) }
		commit(t, h.svc, quote("AAPL", 10+i, "150"))
		key, err := a.ArchiveOnce(ctx)
		if err != nil || key == "" {
			t.Fatalf("upload %d: key %q err %v", i, key, err)
		}
		keys = append(keys, key)
	}

	if len(blobs.objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(blobs.objects))
	}
	for _, k := range keys[2:] {
		if _, ok := blobs.objects[k]; !ok {
			t.Errorf("newest snapshot %s was deleted", k)
		}
	}
}

func TestArchiveOnceRespectsLock(t *testing.T) {
	h := newHarness()
	commit(t, h.svc, quote("A", 1, "1"))
	blobs := newFakeBlobs()
	a := newArchiver(h.svc, blobs, &fakeLocks{held: true})

	key, err := a.ArchiveOnce(context.Background())
	if err != nil || key != "" {
		t.Errorf("key %q err %v, want skip", key, err)
	}
	if len(blobs.objects) != 0 {
		t.Error("uploaded without the lock")
	}
}

func TestArchiveOnceUploadError(t *testing.T) {
	h := newHarness()
	commit(t, h.svc, quote("A", 1, "1"))
	blobs := newFakeBlobs()
	blobs.err = errors.New("s3 down")
	a := newArchiver(h.svc, blobs, nil)

	if _, err := a.ArchiveOnce(context.Background()); err == nil {
		t.Fatal("want upload error")
	}
	// The failed version is retried on the next tick.
	blobs.err = nil
	if key, err := a.ArchiveOnce(context.Background()); err != nil || key == "" {
		t.Errorf("retry: key %q err %v", key, err)
	}
}

func TestRunArchivesOnShutdown(t *testing.T) {
	h := newHarness()
	commit(t, h.svc, quote("A", 1, "1"))
	blobs := newFakeBlobs()
	a := NewSnapshotArchiver(h.svc, blobs, nil, SnapshotArchiverConfig{Prefix: "s", Interval: time.Hour}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if len(blobs.objects) != 1 {
		t.Errorf("objects = %d, want 1 final snapshot", len(blobs.objects))
	}
}

func TestRestoreLatest(t *testing.T) {
	src := newHarness()
	commit(t, src.svc, quote("AAPL", 10, "150.25"), quote("GOOG", 11, "2750"))
	blobs := newFakeBlobs()
	if _, err := newArchiver(src.svc, blobs, nil).ArchiveOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	dst := NewPriceService(lastvalue.NewManager[domain.Quote](), PriceServiceDeps{}, discardLogger())
	key, err := RestoreLatest(context.Background(), blobs, "snapshots", dst, discardLogger())
	if err != nil {
		t.Fatalf("RestoreLatest: %v", err)
	}
	if key == "" {
		t.Fatal("no snapshot restored")
	}
	got, ok := dst.GetLastPrice(context.Background(), "GOOG")
	if !ok || !got.Equal(quote("GOOG", 11, "2750")) {
		t.Errorf("GOOG = %+v, %v", got, ok)
	}
}

func TestSeededArchiverSkipsRestoredSnapshot(t *testing.T) {
	src := newHarness()
	commit(t, src.svc, quote("AAPL", 10, "150.25"))
	blobs := newFakeBlobs()
	if _, err := newArchiver(src.svc, blobs, nil).ArchiveOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	dst := newHarness()
	key, err := RestoreLatest(context.Background(), blobs, "snapshots", dst.svc, discardLogger())
	if err != nil || key == "" {
		t.Fatalf("RestoreLatest: key %q err %v", key, err)
	}
	_, version := dst.svc.Snapshot(context.Background())

	a := newArchiver(dst.svc, blobs, nil)
	a.now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
	a.Seed(key, version)
	if got, err := a.ArchiveOnce(context.Background()); err != nil || got != "" {
		t.Fatalf("restored store uploaded again as %q (err %v)", got, err)
	}
	if len(blobs.objects) != 1 {
		t.Errorf("objects = %d, want 1", len(blobs.objects))
	}

	commit(t, dst.svc, quote("AAPL", 11, "151"))
	if got, _ := a.ArchiveOnce(context.Background()); got == "" {
		t.Error("store changed after restore but was not uploaded")
	}
}

func TestRestoreLatestWithoutSnapshots(t *testing.T) {
	svc := NewPriceService(lastvalue.NewManager[domain.Quote](), PriceServiceDeps{}, discardLogger())
	key, err := RestoreLatest(context.Background(), newFakeBlobs(), "snapshots", svc, discardLogger())
	if err != nil || key != "" {
		t.Errorf("key %q err %v", key, err)
	}
}
