// Package postfactory implements C7: the staged, resumable upload pipeline
// that turns a source path into posted Usenet articles plus an NZB.
package postfactory

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/caronc/go-newsreap/internal/archive"
	"github.com/caronc/go-newsreap/internal/codec"
	"github.com/caronc/go-newsreap/internal/content"
	"github.com/caronc/go-newsreap/internal/nntpconn"
	"github.com/caronc/go-newsreap/internal/nntpmgr"
	"github.com/caronc/go-newsreap/internal/nzbmodel"
	"github.com/caronc/go-newsreap/internal/postfactory/store"
)

// PreHook runs before a stage; returning false aborts the stage.
type PreHook func() bool

// PostHook runs after a stage regardless of outcome, observing its error.
type PostHook func(err error)

// Factory drives one source path through prepare/stage/upload/verify/clean
// against a sibling "<path>.nrws/" working directory.
type Factory struct {
	sourcePath string
	nrwsDir    string
	prepDir    string
	stagedDir  string

	store *store.Store
	mgr   *nntpmgr.Manager

	preHooks  map[string]PreHook
	postHooks map[string]PostHook
}

// New opens (creating if necessary) the staged-article store for
// sourcePath's sibling working directory.
func New(sourcePath, storeDSN string, mgr *nntpmgr.Manager) (*Factory, error) {
	nrwsDir := sourcePath + ".nrws"

	db, err := store.Open(storeDSN)
	if err != nil {
		return nil, err
	}

	return &Factory{
		sourcePath: sourcePath,
		nrwsDir:    nrwsDir,
		prepDir:    filepath.Join(nrwsDir, "prep"),
		stagedDir:  filepath.Join(nrwsDir, "staged"),
		store:      db,
		mgr:        mgr,
		preHooks:   make(map[string]PreHook),
		postHooks:  make(map[string]PostHook),
	}, nil
}

// OnPre registers a pre_<stage> hook.
func (f *Factory) OnPre(stage string, h PreHook) { f.preHooks[stage] = h }

// OnPost registers a post_<stage> hook.
func (f *Factory) OnPost(stage string, h PostHook) { f.postHooks[stage] = h }

func (f *Factory) runStage(name string, fn func() error) error {
	setStatus(f.sourcePath, name, true, nil)

	if pre, ok := f.preHooks[name]; ok && !pre() {
		err := fmt.Errorf("postfactory: stage %s aborted by pre_%s hook", name, name)
		if post, ok := f.postHooks[name]; ok {
			post(err)
		}
		setStatus(f.sourcePath, name, false, err)
		return err
	}

	err := fn()

	if post, ok := f.postHooks[name]; ok {
		post(err)
	}
	setStatus(f.sourcePath, name, false, err)
	return err
}

// StageStatus is a point-in-time snapshot of one source path's progress
// through the pipeline, read by the introspection HTTP surface.
type StageStatus struct {
	Stage     string
	Running   bool
	Err       string
	UpdatedAt time.Time
}

var (
	statusMu sync.Mutex
	statuses = make(map[string]StageStatus)
)

func setStatus(sourcePath, stage string, running bool, err error) {
	statusMu.Lock()
	defer statusMu.Unlock()

	s := StageStatus{Stage: stage, Running: running, UpdatedAt: time.Now()}
	if err != nil {
		s.Err = err.Error()
	}
	statuses[sourcePath] = s
}

// Status reports the last known stage for sourcePath, if any Factory has
// run against it in this process.
func Status(sourcePath string) (StageStatus, bool) {
	statusMu.Lock()
	defer statusMu.Unlock()
	s, ok := statuses[sourcePath]
	return s, ok
}

// Run executes every stage in order: prepare, stage, upload, verify, clean.
func (f *Factory) Run(ctx context.Context, groups []string, splitSize int64, poster, subjectTemplate string) error {
	if err := f.Prepare(ctx, "auto"); err != nil {
		return err
	}
	if err := f.Stage(ctx, groups, splitSize, poster, subjectTemplate); err != nil {
		return err
	}
	if err := f.Upload(ctx, groups); err != nil {
		return err
	}
	if err := f.Verify(ctx, groups); err != nil {
		return err
	}
	return f.Clean()
}

// Prepare archives sourcePath via the RAR codec into prep/, then generates
// PAR2 recovery files, atomically: any failure removes prep/ entirely.
func (f *Factory) Prepare(ctx context.Context, archiveSize string) error {
	return f.runStage("prepare", func() error {
		if err := os.MkdirAll(f.prepDir, 0755); err != nil {
			return err
		}

		totalSize, err := dirSize(f.sourcePath)
		if err != nil {
			f.abortPrepare()
			return err
		}

		volSize := archive.ArchiveSizeFor(totalSize)
		if archiveSize != "" && archiveSize != "auto" {
			if parsed, perr := parseSizeBytes(archiveSize); perr == nil {
				volSize = parsed
			}
		}

		baseName := archive.SanitizeName(filepath.Base(f.sourcePath))

		rar, err := archive.NewRarArchiver()
		if err != nil {
			f.abortPrepare()
			return err
		}
		volumes, err := rar.Create(ctx, f.sourcePath, f.prepDir, baseName, volSize)
		if err != nil {
			f.abortPrepare()
			return err
		}

		par2, err := archive.NewPar2Generator()
		if err != nil {
			f.abortPrepare()
			return err
		}
		redundancy := totalSize / 20 // ~5% of the source size; Create does not pass it to par2
		if _, err := par2.Create(ctx, volumes, f.prepDir, baseName, redundancy); err != nil {
			f.abortPrepare()
			return err
		}

		return nil
	})
}

func (f *Factory) abortPrepare() { os.RemoveAll(f.prepDir) }

func dirSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

func parseSizeBytes(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// Stage walks prep/ in sorted order, splitting and yEnc-encoding each file
// into one StagedArticle row per chunk.
func (f *Factory) Stage(ctx context.Context, groups []string, splitSize int64, poster, subjectTemplate string) error {
	return f.runStage("stage", func() error {
		if err := os.MkdirAll(f.stagedDir, 0755); err != nil {
			return err
		}

		entries, err := os.ReadDir(f.prepDir)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for sortNo, name := range names {
			if err := f.stageFile(ctx, sortNo, name, groups, splitSize, poster, subjectTemplate); err != nil {
				return fmt.Errorf("postfactory: stage %s: %w", name, err)
			}
		}
		return nil
	})
}

func (f *Factory) stageFile(ctx context.Context, sortNo int, name string, groups []string, splitSize int64, poster, subjectTemplate string) error {
	src := content.New(f.prepDir, name)
	src.SetPath(filepath.Join(f.prepDir, name))
	src.SetSortNo(sortNo)

	post := nzbmodel.NewSegmentedPost(name, groups)
	if err := post.Split(src, splitSize); err != nil {
		return err
	}
	post.ApplyTemplate(poster, subjectTemplate)

	for _, a := range post.Articles() {
		part := a.Contents()[0]

		size, err := part.Size()
		if err != nil {
			return err
		}
		raw := make([]byte, size)
		if err := part.Open(os.O_RDONLY); err == nil {
			part.Read(raw)
		}

		lines := codec.EncodeYenc(name, raw)
		body := []byte(strings.Join(lines, "\r\n") + "\r\n")
		sum := sha1.Sum(body) // uploadOne re-hashes this staged body file
		bodyPath := filepath.Join(f.stagedDir, fmt.Sprintf("%s.%04d.txt", archive.SanitizeName(name), a.Sequence()))
		if err := os.WriteFile(bodyPath, body, 0644); err != nil {
			return err
		}

		header := make(map[string]string)
		for _, hl := range a.HeaderLines() {
			kv := strings.SplitN(hl, ": ", 2)
			if len(kv) == 2 {
				header[kv[0]] = kv[1]
			}
		}

		row := &store.StagedArticle{
			SourcePath: f.sourcePath,
			Filename:   name,
			SortNo:     sortNo,
			SequenceNo: a.Sequence(),
			TotalParts: len(post.Articles()),
			SHA1:       fmt.Sprintf("%x", sum),
			Size:       size,
			BodyPath:   bodyPath,
			MessageID:  a.MsgID(false),
			Groups:     groups,
			Header:     header,
		}
		if _, err := f.store.Insert(ctx, row); err != nil {
			return err
		}
	}

	return nil
}

// Upload reassembles each pending StagedArticle in (sort_no, sequence_no)
// order, verifies its local SHA-1, STATs its Message-ID once to guard
// against collision, and posts it; successful posts set posted_date. Once
// every staged article has a posted_date, an NZB manifest is written
// alongside the source path.
func (f *Factory) Upload(ctx context.Context, defaultGroups []string) error {
	return f.runStage("upload", func() error {
		rows, err := f.store.PendingUpload(ctx)
		if err != nil {
			return err
		}

		for _, row := range rows {
			if err := f.uploadOne(ctx, row, defaultGroups); err != nil {
				return fmt.Errorf("postfactory: upload %s seq %d: %w", row.Filename, row.SequenceNo, err)
			}
		}

		return f.writeNZB(ctx)
	})
}

// writeNZB renders every staged article (whether posted this run or a prior
// one) into an NZB manifest at "<sourcePath>.nzb".
func (f *Factory) writeNZB(ctx context.Context) error {
	all, err := f.store.ListOrdered(ctx)
	if err != nil {
		return err
	}

	byFile := make(map[string]*nzbmodel.NZBFile)
	var order []string
	for _, row := range all {
		file, ok := byFile[row.Filename]
		if !ok {
			file = &nzbmodel.NZBFile{
				Subject: row.Header["Subject"],
				Poster:  row.Header["From"],
				Groups:  row.Groups,
			}
			byFile[row.Filename] = file
			order = append(order, row.Filename)
		}
		file.Segments = append(file.Segments, nzbmodel.NZBSegment{
			Number:    row.SequenceNo,
			Bytes:     row.Size,
			MessageID: row.MessageID,
		})
	}

	doc := nzbmodel.NZB{XMLName: xml.Name{Local: "nzb"}}
	for _, name := range order {
		doc.Files = append(doc.Files, *byFile[name])
	}

	out, err := os.Create(f.sourcePath + ".nzb")
	if err != nil {
		return err
	}
	defer out.Close()

	enc := xml.NewEncoder(out)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("postfactory: write nzb: %w", err)
	}
	return nil
}

func (f *Factory) uploadOne(ctx context.Context, row *store.StagedArticle, defaultGroups []string) error {
	raw, err := os.ReadFile(row.BodyPath)
	if err != nil {
		return err
	}

	sum := sha1.Sum(raw)
	if fmt.Sprintf("%x", sum) != row.SHA1 {
		return fmt.Errorf("sha1 mismatch for %s (expected local content to be unchanged since stage)", row.BodyPath)
	}

	groups := row.Groups
	if len(groups) == 0 {
		groups = defaultGroups
	}
	if len(groups) == 0 {
		return fmt.Errorf("postfactory: no groups for %s (neither the staged row nor the default posting config names one)", row.Filename)
	}

	messageID := row.MessageID
	if res, err := f.mgr.Stat(messageID, groups[0], false); err == nil && res != nil {
		messageID = fmt.Sprintf("%x@newsreap", sha1.Sum([]byte(messageID+time.Now().String())))
	}

	var headerLines []string
	for k, v := range row.Header {
		headerLines = append(headerLines, k+": "+v)
	}
	headerLines = append(headerLines, "Message-ID: <"+messageID+">")

	bodyLines := strings.Split(strings.TrimRight(string(raw), "\r\n"), "\r\n")

	if err := f.mgr.Post(headerLines, bodyLines); err != nil {
		return err
	}

	return f.store.MarkPosted(ctx, row.ID, messageID, sql.NullTime{Time: time.Now().UTC(), Valid: true})
}

// Verify HEADs each posted-but-unverified row's Message-ID in its first
// group, setting verified_date on a parsed header response.
func (f *Factory) Verify(ctx context.Context, groups []string) error {
	return f.runStage("verify", func() error {
		rows, err := f.store.PendingVerify(ctx)
		if err != nil {
			return err
		}

		for _, row := range rows {
			group := ""
			if len(row.Groups) > 0 {
				group = row.Groups[0]
			} else if len(groups) > 0 {
				group = groups[0]
			}

			var res *nntpconn.HeaderResult
			res, err = f.mgr.Stat(row.MessageID, group, true)
			if err != nil || res == nil {
				continue // leave unverified; a future run will retry
			}
			if err := f.store.MarkVerified(ctx, row.ID, sql.NullTime{Time: time.Now().UTC(), Valid: true}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clean removes the entire "<path>.nrws/" working directory.
func (f *Factory) Clean() error {
	return f.runStage("clean", func() error {
		f.store.Close()
		return os.RemoveAll(f.nrwsDir)
	})
}
