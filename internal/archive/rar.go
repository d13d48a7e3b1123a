// Package archive wraps the external RAR and PAR2 command-line tools used
// by PostFactory.prepare() to turn a source path into an uploadable,
// recoverable archive set.
package archive

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

// RarArchiver drives the system "rar" binary to produce a (possibly
// multi-volume) RAR archive of a source path.
type RarArchiver struct {
	BinaryPath string
}

func NewRarArchiver() (*RarArchiver, error) {
	path, err := exec.LookPath("rar")
	if err != nil {
		return nil, fmt.Errorf("archive: rar binary not found in PATH: %w", err)
	}
	return &RarArchiver{BinaryPath: path}, nil
}

// Create archives every file under srcDir into volumeSize-bounded RAR
// volumes under destDir, returning the volume paths in creation order.
func (r *RarArchiver) Create(ctx context.Context, srcDir, destDir, baseName string, volumeSize int64) ([]string, error) {
	archivePath := filepath.Join(destDir, baseName+".rar")

	// a = add, -m0 = store (no compression, usenet posts are pre-compressed
	// media), -v<n>k = volume size in KB, -ep1 = strip the base srcDir from
	// stored paths.
	args := []string{"a", "-m0", "-ep1"}
	if volumeSize > 0 {
		args = append(args, fmt.Sprintf("-v%dk", volumeSize/1024))
	}
	args = append(args, archivePath, filepath.Join(srcDir, "*"))

	cmd := exec.CommandContext(ctx, r.BinaryPath, args...)
	cmd.Dir = srcDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("archive: rar create failed: %w: %s", err, out)
	}

	return volumePaths(destDir, baseName)
}

func volumePaths(destDir, baseName string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(destDir, baseName+"*.rar"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
