// Package provenance persists the lineage of processed video files as
// sidecar metadata colocated with each output.
package provenance

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cliplab/cliplab-agent/internal/edit"
)

const (
	// SidecarSuffix is appended to the output filename to form the sidecar
	// path, e.g. export_17123.mp4 -> export_17123.mp4.meta
	SidecarSuffix = ".meta"

	// SchemaVersion is written into every record. Readers ignore unknown
	// fields, so the version only bumps on incompatible changes.
	SchemaVersion = "1.0"

	// maxChainHops bounds ChainOf against cyclic lineage. Realistic chains
	// are a few hops deep.
	maxChainHops = 64
)

// Record links a processed file to its source and the edits applied.
// Created exactly once per successful export, immutable thereafter, and
// deleted together with its output file.
type Record struct {
	OriginalPath string          `json:"original_path"`
	ProcessedAt  time.Time       `json:"processed_at"`
	Edits        edit.Parameters `json:"edits"`
	Version      string          `json:"version"`
}

// WriteError reports a sidecar that could not be written. The output video
// itself is still usable, so callers surface this as a warning rather than
// failing the export.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot write provenance sidecar %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CycleError reports a lineage chain that exceeded the hop bound, which only
// happens when originalPath links form a cycle.
type CycleError struct {
	Path string
	Hops int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("provenance chain for %s exceeded %d hops, lineage cycle suspected", e.Path, e.Hops)
}

// SidecarPath derives the sidecar file path for an output file.
func SidecarPath(outputPath string) string {
	return outputPath + SidecarSuffix
}

// Store reads and writes sidecar records. It holds no state beyond a
// logger; the file system is the source of truth.
type Store struct {
	logger *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

// Write persists a record for an output file with create-new semantics: an
// existing sidecar at the derived path is an error, since outputs are never
// overwritten in place.
func (s *Store) Write(outputPath string, rec *Record) error {
	sidecar := SidecarPath(outputPath)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &WriteError{Path: sidecar, Err: err}
	}
	data = append(data, '\n')

	f, err := os.OpenFile(sidecar, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return &WriteError{Path: sidecar, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &WriteError{Path: sidecar, Err: err}
	}
	if err := f.Close(); err != nil {
		return &WriteError{Path: sidecar, Err: err}
	}

	if s.logger != nil {
		s.logger.Debug("provenance record written", "sidecar", sidecar, "original", rec.OriginalPath)
	}
	return nil
}

// Read returns the record for an output file, or nil (not an error) when no
// sidecar exists. A nil record is how "this file is an original" is
// determined. Unknown JSON fields are ignored for forward compatibility.
func (s *Store) Read(outputPath string) (*Record, error) {
	data, err := os.ReadFile(SidecarPath(outputPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read provenance sidecar: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("cannot parse provenance sidecar %s: %w", SidecarPath(outputPath), err)
	}
	return &rec, nil
}

// ChainOf follows originalPath links from an output file back toward the
// unedited source, returning the full lineage. The walk stops at the first
// file with no sidecar. A chain longer than the hop bound returns the
// records collected so far along with a *CycleError.
func (s *Store) ChainOf(outputPath string) ([]*Record, error) {
	var chain []*Record
	path := outputPath

	for hop := 0; hop < maxChainHops; hop++ {
		rec, err := s.Read(path)
		if err != nil {
			return chain, err
		}
		if rec == nil {
			return chain, nil
		}
		chain = append(chain, rec)
		path = rec.OriginalPath
	}

	return chain, &CycleError{Path: outputPath, Hops: maxChainHops}
}

// Delete removes the sidecar for an output file. A missing sidecar is not
// an error; originals have none.
func (s *Store) Delete(outputPath string) error {
	err := os.Remove(SidecarPath(outputPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
