package preview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/cliplab/cliplab-agent/internal/edit"
)

// posterOffsetMs is where the poster frame is grabbed. One second in skips
// black lead-in frames on most clips; shorter clips fall back to frame zero
// inside the grabber.
const posterOffsetMs = 1000

// FrameGrabber extracts a single frame from a video into an image file.
// The ffmpeg transform satisfies this.
type FrameGrabber interface {
	ExtractFrame(ctx context.Context, sourcePath string, offsetMs int64, outputPath string) error
}

// Generator produces and caches poster images for library files. Processed
// files already have their edits baked into the frames, so the poster is
// the plain grabbed frame; Render previews a pending edit set instead.
type Generator struct {
	cacheDir string
	grabber  FrameGrabber
	logger   *slog.Logger
}

func NewGenerator(cacheDir string, grabber FrameGrabber, logger *slog.Logger) (*Generator, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create preview cache: %w", err)
	}
	return &Generator{cacheDir: cacheDir, grabber: grabber, logger: logger}, nil
}

// Poster returns the path of a cached PNG poster for videoPath, generating
// it on first request. The cache key covers the file's modification time,
// so a replaced file gets a fresh poster.
func (g *Generator) Poster(ctx context.Context, videoPath string) (string, error) {
	info, err := os.Stat(videoPath)
	if err != nil {
		return "", fmt.Errorf("cannot stat video: %w", err)
	}

	cached := filepath.Join(g.cacheDir, cacheKey(videoPath, info.ModTime().UnixNano())+".png")
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	frame := cached + ".frame.png"
	if err := g.grabber.ExtractFrame(ctx, videoPath, posterOffsetMs, frame); err != nil {
		return "", fmt.Errorf("cannot extract poster frame: %w", err)
	}
	defer os.Remove(frame)

	img, err := imaging.Open(frame)
	if err != nil {
		return "", fmt.Errorf("cannot decode poster frame: %w", err)
	}

	if err := imaging.Save(img, cached); err != nil {
		return "", fmt.Errorf("cannot write poster: %w", err)
	}
	return cached, nil
}

// Render writes a poster with an explicit edit parameter set applied, used
// to preview pending edits before exporting. The result is not cached.
func (g *Generator) Render(ctx context.Context, videoPath string, params edit.Parameters, outputPath string) error {
	frame := outputPath + ".frame.png"
	if err := g.grabber.ExtractFrame(ctx, videoPath, posterOffsetMs, frame); err != nil {
		return fmt.Errorf("cannot extract frame: %w", err)
	}
	defer os.Remove(frame)

	img, err := imaging.Open(frame)
	if err != nil {
		return fmt.Errorf("cannot decode frame: %w", err)
	}

	if err := imaging.Save(Apply(img, params), outputPath); err != nil {
		return fmt.Errorf("cannot write preview: %w", err)
	}
	return nil
}

func cacheKey(path string, modTimeNs int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", path, modTimeNs)))
	return hex.EncodeToString(sum[:16])
}
