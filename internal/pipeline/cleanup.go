package pipeline

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dwsmith1983/sampleflow/internal/metrics"
)

// Cleanup tracks the ephemeral paths of one upload and removes each of them
// exactly once.
type Cleanup struct {
	mu      sync.Mutex
	paths   []string
	seen    map[string]bool
	done    bool
	root    string
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewCleanup creates an empty tracker.
func NewCleanup(logger *slog.Logger, rec metrics.Recorder) *Cleanup {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Cleanup{seen: make(map[string]bool), logger: logger, metrics: rec}
}

// SetRoot sets the upload directory. Directories below it left empty by
// removal, such as archive extraction dirs, are removed too; root itself is
// kept.
func (c *Cleanup) SetRoot(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root = filepath.Clean(root)
}

// Track registers path for removal. Empty and duplicate paths are ignored.
func (c *Cleanup) Track(path string) {
	if path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[path] {
		return
	}
	if c.done {
		c.remove(path)
		c.prune(path)
		return
	}
	c.seen[path] = true
	c.paths = append(c.paths, path)
}

// Paths returns the tracked paths in registration order.
func (c *Cleanup) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

// Run removes every tracked path. Later calls are no-ops. Failures are
// logged and never returned.
func (c *Cleanup) Run() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	for _, p := range c.paths {
		c.remove(p)
	}
	for _, p := range c.paths {
		c.prune(p)
	}
}

func (c *Cleanup) trackAndRun(path string) {
	c.Track(path)
	c.Run()
}

func (c *Cleanup) remove(path string) {
	c.seen[path] = true
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.metrics.IncCleanupFailures()
		c.logger.Warn("failed to remove ephemeral file", "path", path, "error", err)
	}
}

// prune removes the empty directories between path and root, innermost
// first. It stops at the first directory that is not empty.
func (c *Cleanup) prune(path string) {
	if c.root == "" {
		return
	}
	for dir := filepath.Dir(filepath.Clean(path)); below(c.root, dir); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// below reports whether dir lies strictly inside root.
func below(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
