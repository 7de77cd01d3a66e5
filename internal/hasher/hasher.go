// Package hasher computes content digests by delegating to an external
// hashing script through the process runner.
package hasher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dwsmith1983/sampleflow/internal/runner"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// DefaultDigestField is the output field read when none is configured.
const DefaultDigestField = "md5"

// ErrNoDigest is returned when the hashing tool succeeded but its output
// carried no usable digest.
var ErrNoDigest = errors.New("hash output has no digest")

// Interface is the hashing capability used by the pipeline.
type Interface interface {
	Hash(ctx context.Context, samplePath string) (string, error)
}

var _ Interface = (*Hasher)(nil)

// Hasher runs the configured hash script against a sample path.
type Hasher struct {
	runner      runner.Interface
	command     string
	baseArgs    []string
	timeout     time.Duration
	digestField string
}

// New creates a Hasher. A zero timeout falls back to runner.DefaultTimeout.
func New(r runner.Interface, cfg types.HasherConfig, timeout time.Duration) *Hasher {
	command, args := runner.CommandLine(cfg.Interpreter, cfg.Script)
	field := cfg.DigestField
	if field == "" {
		field = DefaultDigestField
	}
	return &Hasher{
		runner:      r,
		command:     command,
		baseArgs:    args,
		timeout:     timeout,
		digestField: field,
	}
}

// Hash returns the lowercase hex digest of the file at samplePath. Runner
// failures are returned unchanged as *runner.Failure.
func (h *Hasher) Hash(ctx context.Context, samplePath string) (string, error) {
	args := append(append([]string{}, h.baseArgs...), samplePath)
	out, err := h.runner.Run(ctx, h.command, args, h.timeout)
	if err != nil {
		return "", err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(out, &fields); err != nil {
		return "", fmt.Errorf("%w: output is not an object", ErrNoDigest)
	}
	raw, ok := fields[h.digestField]
	if !ok {
		return "", fmt.Errorf("%w: field %q missing", ErrNoDigest, h.digestField)
	}
	var digest string
	if err := json.Unmarshal(raw, &digest); err != nil {
		return "", fmt.Errorf("%w: field %q is not a string", ErrNoDigest, h.digestField)
	}
	digest = types.NormalizeDigest(digest)
	if digest == "" {
		return "", fmt.Errorf("%w: field %q empty", ErrNoDigest, h.digestField)
	}
	return digest, nil
}
