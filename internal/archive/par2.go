package archive

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

// Par2Generator drives the system "par2" binary to create recovery volumes
// for an already-archived file set.
type Par2Generator struct {
	BinaryPath string
}

func NewPar2Generator() (*Par2Generator, error) {
	path, err := exec.LookPath("par2")
	if err != nil {
		return nil, fmt.Errorf("archive: par2 binary not found in PATH: %w", err)
	}
	return &Par2Generator{BinaryPath: path}, nil
}

// Create generates PAR2 recovery files for volumePaths under
// destDir/baseName.par2. redundancySize is not passed to par2, so the
// amount of recovery data is par2's own default.
func (p *Par2Generator) Create(ctx context.Context, volumePaths []string, destDir, baseName string, redundancySize int64) ([]string, error) {
	par2Path := filepath.Join(destDir, baseName+".par2")

	// c = create, -q = quiet; no block-size (-s) or redundancy (-r)
	// option is passed.
	args := []string{"c", "-q", par2Path}
	args = append(args, volumePaths...)

	cmd := exec.CommandContext(ctx, p.BinaryPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("archive: par2 create failed: %w: %s", err, out)
	}

	return filepath.Glob(filepath.Join(destDir, baseName+"*.par2"))
}

// ArchiveSizeFor implements the prepare() stage's archive_size="auto"
// bucketing: <100MiB->5MiB, <1GiB->15MiB, <5GiB->50MiB, <15GiB->100MiB,
// <25GiB->200MiB, else 400MiB.
func ArchiveSizeFor(totalSize int64) int64 {
	const mib = 1024 * 1024
	const gib = 1024 * mib

	switch {
	case totalSize < 100*mib:
		return 5 * mib
	case totalSize < 1*gib:
		return 15 * mib
	case totalSize < 5*gib:
		return 50 * mib
	case totalSize < 15*gib:
		return 100 * mib
	case totalSize < 25*gib:
		return 200 * mib
	default:
		return 400 * mib
	}
}
