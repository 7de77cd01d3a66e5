package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwsmith1983/sampleflow/internal/analyzer"
	"github.com/dwsmith1983/sampleflow/internal/classifier"
	"github.com/dwsmith1983/sampleflow/internal/hasher"
	"github.com/dwsmith1983/sampleflow/internal/runner"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

var (
	_ runner.Interface     = (*FakeRunner)(nil)
	_ analyzer.Interface   = (*FakeAnalyzer)(nil)
	_ hasher.Interface     = (*FakeHasher)(nil)
	_ classifier.Interface = (*FakeClassifier)(nil)
)

// FakeRunner returns a canned payload or error for every invocation.
type FakeRunner struct {
	Output json.RawMessage
	Err    error
	calls  atomic.Int64
}

func (f *FakeRunner) Run(_ context.Context, _ string, _ []string, _ time.Duration) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Output, nil
}

// Calls returns the number of Run invocations.
func (f *FakeRunner) Calls() int64 { return f.calls.Load() }

// FakeAnalyzer returns fixed descriptors, or fails when Err is set. Setup,
// when non-nil, runs first so tests can create extracted files on disk.
type FakeAnalyzer struct {
	Descriptors []types.SampleDescriptor
	Err         error
	Setup       func(artifact types.UploadedArtifact)
	calls       atomic.Int64
}

func (f *FakeAnalyzer) Analyze(_ context.Context, artifact types.UploadedArtifact) ([]types.SampleDescriptor, error) {
	f.calls.Add(1)
	if f.Setup != nil {
		f.Setup(artifact)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]types.SampleDescriptor(nil), f.Descriptors...), nil
}

// Calls returns the number of Analyze invocations.
func (f *FakeAnalyzer) Calls() int64 { return f.calls.Load() }

// FakeHasher maps sample paths to digests. Paths listed in Errors fail with
// the mapped error; unmapped paths fail with hasher.ErrNoDigest.
type FakeHasher struct {
	mu      sync.Mutex
	Digests map[string]string
	Errors  map[string]error
	calls   map[string]int
}

// NewFakeHasher creates a FakeHasher with empty maps.
func NewFakeHasher() *FakeHasher {
	return &FakeHasher{
		Digests: make(map[string]string),
		Errors:  make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *FakeHasher) Hash(_ context.Context, samplePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[samplePath]++
	if err, ok := f.Errors[samplePath]; ok {
		return "", err
	}
	d, ok := f.Digests[samplePath]
	if !ok || d == "" {
		return "", hasher.ErrNoDigest
	}
	return d, nil
}

// Calls returns the total number of Hash invocations.
func (f *FakeHasher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// CallsFor returns the number of Hash invocations for one path.
func (f *FakeHasher) CallsFor(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

// FakeClassifier returns Result (or Err) and counts calls per path.
type FakeClassifier struct {
	mu     sync.Mutex
	Result *types.Predictions
	Err    error
	paths  []string
}

func (f *FakeClassifier) Classify(_ context.Context, samplePath string) (*types.Predictions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, samplePath)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Result == nil {
		return &types.Predictions{PrimaryLabel: "benign"}, nil
	}
	res := *f.Result
	return &res, nil
}

// Calls returns the number of Classify invocations.
func (f *FakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

// Paths returns the sample paths Classify was called with, in order.
func (f *FakeClassifier) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}
