package postfactory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStagePersistsOneRowPerChunk(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "release")

	f, err := New(sourcePath, "sqlite://"+filepath.Join(dir, "staged.db"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.store.Close()

	if err := os.MkdirAll(f.prepDir, 0755); err != nil {
		t.Fatalf("mkdir prep: %v", err)
	}
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(f.prepDir, "volume.r00"), payload, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ctx := context.Background()
	if err := f.Stage(ctx, []string{"alt.test"}, 100, "poster@example.com", "[{part}/{total}] {filename}"); err != nil {
		t.Fatalf("stage: %v", err)
	}

	rows, err := f.store.ListOrdered(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d staged rows, want 3 (300 bytes / 100-byte split)", len(rows))
	}
	for i, row := range rows {
		if row.SequenceNo != i+1 {
			t.Errorf("row %d: SequenceNo = %d, want %d", i, row.SequenceNo, i+1)
		}
		if row.Posted() {
			t.Errorf("row %d: should not be posted yet", i)
		}
		if _, err := os.Stat(row.BodyPath); err != nil {
			t.Errorf("row %d: body file missing: %v", i, err)
		}
	}

	if err := f.writeNZB(ctx); err != nil {
		t.Fatalf("writeNZB: %v", err)
	}
	if _, err := os.Stat(sourcePath + ".nzb"); err != nil {
		t.Errorf("expected nzb manifest: %v", err)
	}
}
