// Package analyzer drives the external static-analysis tool and turns its
// report into sample descriptors.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dwsmith1983/sampleflow/internal/runner"
	"github.com/dwsmith1983/sampleflow/pkg/types"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// KeepExtractedFlag asks the tool to leave unpacked archive entries on disk.
const KeepExtractedFlag = "--keep-extracted"

const schemaURL = "inmemory://analyzer-output"

// outputSchema is the contract the analysis tool's stdout must satisfy.
const outputSchema = `{
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["filename"],
        "properties": {
          "filename": {"type": "string"},
          "file_path": {"type": ["string", "null"]},
          "plots": {
            "oneOf": [
              {"type": "array", "items": {"type": "string"}},
              {"type": "null"}
            ]
          }
        }
      }
    }
  }
}`

// Interface is the static-analysis capability used by the pipeline.
type Interface interface {
	Analyze(ctx context.Context, artifact types.UploadedArtifact) ([]types.SampleDescriptor, error)
}

var _ Interface = (*Analyzer)(nil)

// Analyzer invokes the static-analysis script once per uploaded artifact.
type Analyzer struct {
	runner   runner.Interface
	command  string
	baseArgs []string
	timeout  time.Duration
	schema   *jsonschema.Schema
}

// New creates an Analyzer for the given tool configuration.
func New(r runner.Interface, cfg types.ToolConfig, timeout time.Duration) (*Analyzer, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(outputSchema)); err != nil {
		return nil, fmt.Errorf("add analyzer schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile analyzer schema: %w", err)
	}

	command, args := runner.CommandLine(cfg.Interpreter, cfg.Script)
	return &Analyzer{
		runner:   r,
		command:  command,
		baseArgs: args,
		timeout:  timeout,
		schema:   schema,
	}, nil
}

// Args builds the tool arguments for an artifact: path, original name, the
// password when one was supplied and the keep-extracted flag for archives.
func Args(artifact types.UploadedArtifact) []string {
	args := []string{artifact.Path, artifact.OriginalName}
	if artifact.Password != "" {
		args = append(args, artifact.Password)
	}
	if artifact.IsArchive() {
		args = append(args, KeepExtractedFlag)
	}
	return args
}

// Analyze runs the tool and returns the descriptors in the order reported.
// Any failure, including output that violates the report schema, is a
// *runner.Failure.
func (a *Analyzer) Analyze(ctx context.Context, artifact types.UploadedArtifact) ([]types.SampleDescriptor, error) {
	args := append(append([]string{}, a.baseArgs...), Args(artifact)...)
	out, err := a.runner.Run(ctx, a.command, args, a.timeout)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, a.formatFailure(err)
	}
	if err := a.schema.Validate(doc); err != nil {
		return nil, a.formatFailure(err)
	}

	var result types.AnalysisResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, a.formatFailure(err)
	}
	return result.Results, nil
}

func (a *Analyzer) formatFailure(err error) *runner.Failure {
	return &runner.Failure{
		Kind:    runner.FailureOutputFormat,
		Command: a.command,
		Detail:  fmt.Sprintf("analysis report: %v", err),
		Err:     err,
	}
}
