// Package persister implements the CORE's durability boundary (spec.md
// §4.1): serialized, ordered writes to a file handle with three variants
// — buffered append, flush-on-append, and atomic overwrite. It propagates
// IO errors to the caller and never retries; ordering beyond a single
// file is the caller's responsibility (the partition write guard, see
// pkg/partition).
package persister

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/driftline/driftline/internal/ierr"
)

// Persister serializes writes to one open file.
type Persister struct {
	f *os.File
}

// Open opens path for append, creating it if necessary.
func Open(path string) (*Persister, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ierr.IO(ierr.CodePersisterFailed, "open persister file", err)
	}
	return &Persister{f: f}, nil
}

// File exposes the underlying handle for read-side use (segments read
// from the same file they append to).
func (p *Persister) File() *os.File { return p.f }

// Append writes b without flushing. The caller decides durability policy
// by choosing Append vs AppendFlush (spec.md's enforce_fsync knob, see
// internal/config).
func (p *Persister) Append(b []byte) (int, error) {
	n, err := p.f.Write(b)
	if err != nil {
		return n, ierr.IO(ierr.CodePersisterFailed, "append", err)
	}
	return n, nil
}

// AppendFlush writes b and fsyncs before returning.
func (p *Persister) AppendFlush(b []byte) (int, error) {
	n, err := p.Append(b)
	if err != nil {
		return n, err
	}
	if err := p.f.Sync(); err != nil {
		return n, ierr.IO(ierr.CodePersisterFailed, "fsync", err)
	}
	return n, nil
}

// Sync fsyncs the file without writing.
func (p *Persister) Sync() error {
	if err := p.f.Sync(); err != nil {
		return ierr.IO(ierr.CodePersisterFailed, "fsync", err)
	}
	return nil
}

// Close closes the underlying file.
func (p *Persister) Close() error {
	if err := p.f.Close(); err != nil {
		return ierr.IO(ierr.CodePersisterFailed, "close", err)
	}
	return nil
}

// Overwrite atomically replaces the contents of path with b: write to a
// temp file in the same directory, fsync, then rename over path. A reader
// either sees the old content or the new content in full, never a partial
// write.
func Overwrite(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return ierr.IO(ierr.CodePersisterFailed, "create temp file for overwrite", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return ierr.IO(ierr.CodePersisterFailed, "write temp file for overwrite", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ierr.IO(ierr.CodePersisterFailed, "fsync temp file for overwrite", err)
	}
	if err := tmp.Close(); err != nil {
		return ierr.IO(ierr.CodePersisterFailed, "close temp file for overwrite", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return ierr.IO(ierr.CodePersisterFailed, "rename temp file into place", err)
	}
	return nil
}

// EnsureDir is a small helper every caller in this tree uses before
// opening a persister; it wraps os.MkdirAll with the taxonomy's IO kind.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ierr.IO(ierr.CodePersisterFailed, "create directory", errors.WithStack(err))
	}
	return nil
}
