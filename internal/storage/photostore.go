// Package storage persists captured photos under a dated directory tree and
// keeps the artifact index for the mission report.
//
// Layout: {root}/{YYYY-MM-DD}/{structure}/stop{N}_{angle}.jpg. Photos of an
// unidentified structure go under {FALLBACK}_STOP{N} instead, so shots from
// different unidentified stops never mix.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// PhotoStore writes JPEG artifacts and remembers what it wrote.
type PhotoStore struct {
	root     string
	fallback string
	quality  int
	clk      clock.Clock
	logger   golog.Logger

	mu        sync.Mutex
	artifacts []mission.PhotoArtifact
}

// NewPhotoStore creates the root directory if needed.
func NewPhotoStore(root, fallbackLabel string, jpegQuality int, clk clock.Clock, logger golog.Logger) (*PhotoStore, error) {
	if root == "" {
		return nil, errors.New("photo root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create photo root %s", root)
	}
	return &PhotoStore{
		root:     root,
		fallback: fallbackLabel,
		quality:  jpegQuality,
		clk:      clk,
		logger:   logger,
	}, nil
}

// Root returns the store's base directory.
func (s *PhotoStore) Root() string { return s.root }

// Save encodes the frame and writes it to the dated tree. The returned
// artifact records the absolute path and capture time.
func (s *PhotoStore) Save(f *vision.Frame, structureID string, stop int, angle string) (mission.PhotoArtifact, error) {
	now := s.clk.Now()
	dir := filepath.Join(s.root, now.Format("2006-01-02"), s.dirFor(structureID, stop))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mission.PhotoArtifact{}, errors.Wrapf(err, "create %s", dir)
	}

	data, err := f.EncodeJPEG(s.quality)
	if err != nil {
		return mission.PhotoArtifact{}, errors.Wrap(err, "encode photo")
	}

	path := filepath.Join(dir, fmt.Sprintf("stop%d_%s.jpg", stop, sanitize(angle)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return mission.PhotoArtifact{}, errors.Wrapf(err, "write %s", path)
	}

	art := mission.PhotoArtifact{
		Path:        path,
		StructureID: structureID,
		Stop:        stop,
		Angle:       angle,
		TakenAt:     now,
	}
	s.mu.Lock()
	s.artifacts = append(s.artifacts, art)
	s.mu.Unlock()

	s.logger.Debugw("photo saved", "path", path, "bytes", len(data))
	return art, nil
}

// Artifacts returns everything saved so far, in capture order.
func (s *PhotoStore) Artifacts() []mission.PhotoArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mission.PhotoArtifact, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

// ProbeWritable verifies the root accepts writes. Used by preflight.
func (s *PhotoStore) ProbeWritable() error {
	probe := filepath.Join(s.root, ".writable")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return errors.Wrapf(err, "photo root %s not writable", s.root)
	}
	return os.Remove(probe)
}

// dirFor picks the per-structure directory. Unidentified stops each get
// their own fallback directory keyed by stop ordinal.
func (s *PhotoStore) dirFor(structureID string, stop int) string {
	if strings.EqualFold(structureID, s.fallback) {
		return fmt.Sprintf("%s_STOP%d", strings.ToUpper(sanitize(structureID)), stop)
	}
	return sanitize(structureID)
}

// sanitize keeps directory and file names portable: anything outside
// [A-Za-z0-9._-] becomes an underscore.
func sanitize(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
