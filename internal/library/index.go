// Package library owns the storage root where exported videos and their
// provenance sidecars live. It enumerates, serves and deletes outputs; it
// never mutates files in place, so readers need no locking against an
// in-flight export.
package library

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cliplab/cliplab-agent/internal/provenance"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
}

// IsVideoFile reports whether a filename has a recognized video extension.
func IsVideoFile(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

// Entry is a view over a file in the storage root plus its optional
// provenance record. It is derived on each List call, never stored.
type Entry struct {
	Path       string             `json:"path"`
	Filename   string             `json:"filename"`
	Size       int64              `json:"size"`
	ModTime    time.Time          `json:"mod_time"`
	Provenance *provenance.Record `json:"provenance,omitempty"`
}

// IsProcessed reports whether the entry was produced by an export. A file
// with no record is an original.
func (e *Entry) IsProcessed() bool { return e.Provenance != nil }

// ContainmentError reports a path that does not lie within the storage
// root. Always fatal, never bypassed.
type ContainmentError struct {
	Path string
	Root string
}

func (e *ContainmentError) Error() string {
	return fmt.Sprintf("path %s is outside the library root %s", e.Path, e.Root)
}

// Index enumerates and deletes files under the exclusively owned storage
// root.
type Index struct {
	root   string
	store  *provenance.Store
	logger *slog.Logger
}

// NewIndex resolves the root to an absolute path and creates it on first
// use.
func NewIndex(root string, store *provenance.Store, logger *slog.Logger) (*Index, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid library root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("cannot create library root: %w", err)
	}
	return &Index{root: absRoot, store: store, logger: logger}, nil
}

func (ix *Index) Root() string { return ix.root }

// Resolve verifies that path lies directly within the storage root and
// returns its absolute form, or a *ContainmentError.
func (ix *Index) Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &ContainmentError{Path: path, Root: ix.root}
	}
	rel, err := filepath.Rel(ix.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ContainmentError{Path: path, Root: ix.root}
	}
	return abs, nil
}

// List returns the library contents sorted by modification time descending.
// Sidecar and hidden files are excluded; only recognized video extensions
// are included. A sidecar whose read fails is logged and treated as absent,
// so one corrupt record never breaks the listing.
func (ix *Index) List() ([]*Entry, error) {
	dirents, err := os.ReadDir(ix.root)
	if err != nil {
		return nil, fmt.Errorf("cannot read library root: %w", err)
	}

	var entries []*Entry
	for _, d := range dirents {
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".") || !IsVideoFile(name) {
			continue
		}

		info, err := d.Info()
		if err != nil {
			// File vanished between ReadDir and stat; a concurrent delete
			// is not an error for the reader.
			continue
		}

		path := filepath.Join(ix.root, name)
		rec, err := ix.store.Read(path)
		if err != nil {
			if ix.logger != nil {
				ix.logger.Warn("unreadable provenance sidecar, treating file as original",
					"path", path, "error", err)
			}
			rec = nil
		}

		entries = append(entries, &Entry{
			Path:       path,
			Filename:   name,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			Provenance: rec,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].Filename > entries[j].Filename
	})
	return entries, nil
}

// Get returns the entry for a single library file, or nil if it does not
// exist.
func (ix *Index) Get(path string) (*Entry, error) {
	abs, err := ix.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec, err := ix.store.Read(abs)
	if err != nil {
		rec = nil
	}
	return &Entry{
		Path:       abs,
		Filename:   filepath.Base(abs),
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Provenance: rec,
	}, nil
}

// Delete removes a library file together with its sidecar. The containment
// check runs before anything is touched. The output is removed first: a
// crash between the two removals leaves an orphaned sidecar, which List
// already ignores because its target is gone.
func (ix *Index) Delete(path string) error {
	abs, err := ix.Resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("cannot delete %s: %w", abs, err)
	}
	if err := ix.store.Delete(abs); err != nil {
		return fmt.Errorf("output deleted but sidecar removal failed: %w", err)
	}

	if ix.logger != nil {
		ix.logger.Info("library file deleted", "path", abs)
	}
	return nil
}
