// Package content implements C3: the on-disk-backed byte stream abstraction
// shared by decoded article payloads and the PostFactory staging pipeline.
package content

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// BlockSize is the chunk size used for block-wise stream operations
// (append, split, hashing), matching the spec's BLOCK_SIZE=8192.
const BlockSize = 8192

// Content is an opaque, possibly large byte sequence with a file backing.
// The zero value is not usable; construct with New.
type Content struct {
	mu sync.Mutex

	workDir  string
	path     string
	file     *os.File
	filename string

	part       int
	totalParts int
	begin      int64
	end        int64
	totalSize  int64
	sortNo     int

	attached bool // true: dropping deletes the backing file
	valid    bool
	dirty    bool

	parent *Content // non-owning back-reference for split parts
}

// New creates a Content with default part/total-parts of 1/1, attached.
func New(workDir, filename string) *Content {
	return &Content{
		workDir:    workDir,
		filename:   filename,
		part:       1,
		totalParts: 1,
		attached:   true,
		valid:      true,
	}
}

// Open binds (creating if necessary) the backing file. If no path has been
// set, a unique temporary file is created in workDir.
func (c *Content) Open(mode int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(mode)
}

func (c *Content) openLocked(mode int) error {
	if c.file != nil {
		return nil
	}

	if c.path == "" {
		f, err := os.CreateTemp(c.workDir, "newsreap-content-*.bin")
		if err != nil {
			return fmt.Errorf("content: create temp: %w", err)
		}
		c.path = f.Name()
		c.file = f
		return nil
	}

	f, err := os.OpenFile(c.path, mode, 0644)
	if err != nil {
		return fmt.Errorf("content: open %s: %w", c.path, err)
	}
	c.file = f
	return nil
}

// Write appends data to the stream, marking it dirty.
func (c *Content) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openLocked(os.O_RDWR | os.O_CREATE); err != nil {
		return 0, err
	}
	n, err := c.file.Write(data)
	c.dirty = true
	return n, err
}

// Read reads up to len(p) bytes from the current file position.
func (c *Content) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openLocked(os.O_RDONLY); err != nil {
		return 0, err
	}
	return c.file.Read(p)
}

// Append opens self read-write and copies the full contents of each other
// Content in order, restoring each source's read position afterward.
func (c *Content) Append(others ...*Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openLocked(os.O_RDWR | os.O_CREATE | os.O_APPEND); err != nil {
		return err
	}

	for _, other := range others {
		other.mu.Lock()
		if err := other.openLocked(os.O_RDONLY); err != nil {
			other.mu.Unlock()
			return err
		}
		pos, err := other.file.Seek(0, io.SeekCurrent)
		if err != nil {
			other.mu.Unlock()
			return err
		}
		if _, err := other.file.Seek(0, io.SeekStart); err != nil {
			other.mu.Unlock()
			return err
		}
		buf := make([]byte, BlockSize)
		_, err = io.CopyBuffer(c.file, other.file, buf)
		if err == nil {
			_, err = other.file.Seek(pos, io.SeekStart)
		}
		other.mu.Unlock()
		if err != nil {
			return fmt.Errorf("content: append: %w", err)
		}
	}

	c.dirty = true
	return nil
}

// Split divides the Content into ordered parts of chunkSize bytes (the last
// part may be smaller), each carrying begin/end/part/totalParts and a
// non-owning back-reference to the parent.
func (c *Content) Split(chunkSize int64) ([]*Content, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("content: split size must be > 0")
	}

	size, err := c.Size()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if err := c.openLocked(os.O_RDONLY); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	srcPath := c.path
	c.mu.Unlock()

	total := int((size + chunkSize - 1) / chunkSize)
	if total == 0 {
		total = 1
	}

	parts := make([]*Content, 0, total)
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	for i := 0; i < total; i++ {
		begin := int64(i) * chunkSize
		end := begin + chunkSize
		if end > size {
			end = size
		}

		part := New(c.workDir, c.filename)
		part.part = i + 1
		part.totalParts = total
		part.begin = begin
		part.end = end
		part.totalSize = size
		part.sortNo = c.sortNo
		part.parent = c

		if err := part.openLocked(os.O_RDWR | os.O_CREATE); err != nil {
			return nil, err
		}
		if _, err := src.Seek(begin, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.CopyN(part.file, src, end-begin); err != nil && err != io.EOF {
			return nil, fmt.Errorf("content: split part %d: %w", i+1, err)
		}
		part.dirty = true
		parts = append(parts, part)
	}

	return parts, nil
}

// Save moves (copy=false) or copies (copy=true) the backing file to path.
// After a move, the Content is detached: dropping it no longer deletes the
// file.
func (c *Content) Save(path string, copy bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		c.file.Close()
		c.file = nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	if copy {
		if err := copyFile(c.path, path); err != nil {
			return err
		}
		return nil
	}

	if err := os.Rename(c.path, path); err != nil {
		// Cross-device rename: fall back to copy + remove.
		if err := copyFile(c.path, path); err != nil {
			return err
		}
		os.Remove(c.path)
	}
	c.path = path
	c.attached = false
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Size returns the filesystem size of the backing file.
func (c *Content) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return 0, nil
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (c *Content) hashOver(h interface{ Write([]byte) (int, error) }) error {
	c.mu.Lock()
	path := c.path
	c.mu.Unlock()

	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, BlockSize)
	_, err = io.CopyBuffer(writerFunc(h.Write), f, buf)
	return err
}

type writerFunc func([]byte) (int, error)

func (w writerFunc) Write(p []byte) (int, error) { return w(p) }

func (c *Content) MD5() ([]byte, error) {
	h := md5.New()
	if err := c.hashOver(h); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func (c *Content) SHA1() ([]byte, error) {
	h := sha1.New()
	if err := c.hashOver(h); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func (c *Content) SHA256() ([]byte, error) {
	h := sha256.New()
	if err := c.hashOver(h); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func (c *Content) CRC32() (uint32, error) {
	h := crc32.NewIEEE()
	if err := c.hashOver(h); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

// Key returns "<sort_no>/<filename>/<part>" for deterministic ordering
// across a SegmentedPost's parts.
func (c *Content) Key() string {
	return fmt.Sprintf("%d/%s/%d", c.sortNo, c.filename, c.part)
}

func (c *Content) Path() string       { return c.path }
func (c *Content) Filename() string   { return c.filename }
func (c *Content) Part() int          { return c.part }
func (c *Content) TotalParts() int    { return c.totalParts }
func (c *Content) Begin() int64       { return c.begin }
func (c *Content) End() int64         { return c.end }
func (c *Content) TotalSize() int64   { return c.totalSize }
func (c *Content) SortNo() int        { return c.sortNo }
func (c *Content) Valid() bool        { return c.valid }
func (c *Content) Dirty() bool        { return c.dirty }
func (c *Content) Attached() bool     { return c.attached }
func (c *Content) Parent() *Content   { return c.parent }

func (c *Content) SetPath(p string)      { c.path = p }
func (c *Content) SetFilename(n string)  { c.filename = n }
func (c *Content) SetPart(p int)         { c.part = p }
func (c *Content) SetTotalParts(n int)   { c.totalParts = n }
func (c *Content) SetBegin(b int64)      { c.begin = b }
func (c *Content) SetEnd(e int64)        { c.end = e }
func (c *Content) SetTotalSize(s int64)  { c.totalSize = s }
func (c *Content) SetSortNo(n int)       { c.sortNo = n }
func (c *Content) SetValid(v bool)       { c.valid = v }
func (c *Content) SetAttached(a bool)    { c.attached = a }

// Close closes the backing file handle without deleting it.
func (c *Content) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// Release closes the Content and, if attached, deletes the backing file.
// Invariant: attached Content's file exists until Release is called.
func (c *Content) Release() error {
	c.mu.Lock()
	path := c.path
	attached := c.attached
	c.mu.Unlock()

	if err := c.Close(); err != nil {
		return err
	}
	if attached && path != "" {
		return os.Remove(path)
	}
	return nil
}
