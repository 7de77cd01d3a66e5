// Package plots resolves the image artifacts written by the static-analysis
// tool and exposes them as URLs.
package plots

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMetrics are the plot kinds the analysis tool renders per sample.
var DefaultMetrics = []string{"overall_entropy", "PE_section_entropy", "ELF_section_entropy"}

// DefaultURLPrefix is where the local plots directory is served.
const DefaultURLPrefix = "/plots/"

// Publisher turns a plot file name inside the plots directory into a URL.
type Publisher interface {
	Publish(ctx context.Context, name string) (string, error)
}

// Resolver finds the plots that exist for a sample and publishes them.
type Resolver struct {
	dir       string
	metrics   []string
	publisher Publisher
	logger    *slog.Logger
}

// NewResolver creates a Resolver over dir. Empty metrics use DefaultMetrics.
func NewResolver(dir string, metrics []string, pub Publisher) *Resolver {
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	return &Resolver{dir: dir, metrics: metrics, publisher: pub, logger: slog.Default()}
}

// SetLogger overrides the default logger.
func (r *Resolver) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Dir returns the plots directory.
func (r *Resolver) Dir() string { return r.dir }

// FileName returns the deterministic plot name for a sample and metric.
func FileName(sampleName, metric string) string {
	return filepath.Base(sampleName) + "_" + metric + ".png"
}

// Candidates lists the plot names for a sample: the deterministic names in
// metric order followed by any extra names the tool reported.
func (r *Resolver) Candidates(sampleName string, reported []string) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		name = filepath.Base(name)
		if name == "." || name == string(filepath.Separator) || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, m := range r.metrics {
		add(FileName(sampleName, m))
	}
	for _, p := range reported {
		add(p)
	}
	return names
}

// Resolve returns URLs for the sample's plots that exist on disk. Publishing
// failures drop the affected plot and are logged.
func (r *Resolver) Resolve(ctx context.Context, sampleName string, reported []string) []string {
	urls := []string{}
	for _, name := range r.Candidates(sampleName, reported) {
		info, err := os.Stat(filepath.Join(r.dir, name))
		if err != nil || info.IsDir() {
			continue
		}
		u, err := r.publisher.Publish(ctx, name)
		if err != nil {
			r.logger.Warn("failed to publish plot", "plot", name, "error", err)
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// LocalPublisher serves plots from the local directory under a URL prefix.
type LocalPublisher struct {
	base string
}

// NewLocalPublisher builds URLs as baseURL + prefix + escaped name. An empty
// baseURL yields host-relative URLs.
func NewLocalPublisher(baseURL, prefix string) *LocalPublisher {
	if prefix == "" {
		prefix = DefaultURLPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &LocalPublisher{base: strings.TrimRight(baseURL, "/") + prefix}
}

func (p *LocalPublisher) Publish(_ context.Context, name string) (string, error) {
	return p.base + url.PathEscape(name), nil
}
