package content

import (
	"bytes"
	"crypto/md5"
	"os"
	"testing"
)

func TestSplitAppendCommutativity(t *testing.T) {
	dir := t.TempDir()

	data := bytes.Repeat([]byte("abcdefghij"), 1000) // 10000 bytes

	src := New(dir, "source.bin")
	if _, err := src.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	src.Close()

	wantSum := md5.Sum(data)

	for _, chunk := range []int64{1, 7, 777, 10000, 20000} {
		parts, err := src.Split(chunk)
		if err != nil {
			t.Fatalf("split(%d): %v", chunk, err)
		}

		rebuilt := New(dir, "rebuilt.bin")
		if err := rebuilt.Append(parts...); err != nil {
			t.Fatalf("append: %v", err)
		}

		got, err := os.ReadFile(rebuilt.Path())
		if err != nil {
			t.Fatalf("read rebuilt: %v", err)
		}

		if !bytes.Equal(got, data) {
			t.Fatalf("chunk=%d: round-trip mismatch: got %d bytes, want %d", chunk, len(got), len(data))
		}

		gotSum := md5.Sum(got)
		if gotSum != wantSum {
			t.Fatalf("chunk=%d: md5 mismatch", chunk)
		}

		for i, p := range parts {
			if p.Part() != i+1 {
				t.Errorf("part %d: Part()=%d", i, p.Part())
			}
			if p.TotalParts() != len(parts) {
				t.Errorf("part %d: TotalParts()=%d want %d", i, p.TotalParts(), len(parts))
			}
			if p.Parent() != src {
				t.Errorf("part %d: Parent() not src", i)
			}
		}

		rebuilt.Release()
	}
}

func TestAttachedDeletesOnRelease(t *testing.T) {
	dir := t.TempDir()

	c := New(dir, "temp.bin")
	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	path := c.Path()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backing file missing before release: %v", err)
	}

	if err := c.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected backing file to be deleted, stat err=%v", err)
	}
}

func TestDetachedSurvivesSaveMove(t *testing.T) {
	dir := t.TempDir()

	c := New(dir, "temp.bin")
	c.Write([]byte("hello"))

	dst := dir + "/saved.bin"
	if err := c.Save(dst, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	if c.Attached() {
		t.Fatalf("expected Content to be detached after move-save")
	}

	if err := c.Release(); err != nil {
		t.Fatalf("release after detach should not error: %v", err)
	}

	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("moved file should survive release: %v", err)
	}
}
