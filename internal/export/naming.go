package export

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Namer hands out timestamped output paths under the storage root. Stamps
// are strictly increasing within the process, so two exports started in the
// same millisecond still get distinct names, and a path that already exists
// on disk is never reused.
type Namer struct {
	mu   sync.Mutex
	last int64
}

func NewNamer() *Namer {
	return &Namer{}
}

// OutputPath returns a fresh export_<epoch_ms><ext> path under root. ext
// must include the leading dot; an empty ext falls back to .mp4.
func (n *Namer) OutputPath(root, ext string) (string, error) {
	if ext == "" {
		ext = ".mp4"
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	stamp := time.Now().UnixMilli()
	if stamp <= n.last {
		stamp = n.last + 1
	}

	for attempts := 0; attempts < 1000; attempts++ {
		path := filepath.Join(root, fmt.Sprintf("export_%d%s", stamp, ext))
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			n.last = stamp
			return path, nil
		}
		stamp++
	}
	return "", fmt.Errorf("cannot find a free output name under %s", root)
}
