package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	var (
		password string
		userID   string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run a local file through the analysis pipeline",
		Long: `Runs static analysis, dedup lookup and classification for a local file
and prints the per-sample outcomes. The pipeline removes the files it
analyses, so a scratch copy is analysed and the original is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], password, userID, asJSON)
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "archive password")
	cmd.Flags().StringVar(&userID, "user", types.AnonymousUserID, "user ID recorded on new file records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw upload response")
	return cmd
}

func runAnalyze(cmd *cobra.Command, path, password, userID string, asJSON bool) error {
	logger := newLogger(cmd, false)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	prov, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	if err := prov.Start(ctx); err != nil {
		return fmt.Errorf("connecting to provider: %w", err)
	}
	defer func() { _ = prov.Stop(ctx) }()

	pipe, err := newPipeline(ctx, cfg, prov, nil, logger)
	if err != nil {
		return err
	}

	artifact, err := stageArtifact(path, cfg.Server.UploadDir)
	if err != nil {
		return err
	}
	artifact.Password = password
	artifact.UserID = userID

	resp, err := pipe.Run(ctx, artifact)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printOutcomes(out, artifact.OriginalName, resp.Results)
	return nil
}

// stageArtifact copies src into dir (the OS temp dir when empty) and
// describes the copy as an upload named after src.
func stageArtifact(src, dir string) (types.UploadedArtifact, error) {
	in, err := os.Open(src)
	if err != nil {
		return types.UploadedArtifact{}, fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return types.UploadedArtifact{}, fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		return types.UploadedArtifact{}, fmt.Errorf("%s is a directory", src)
	}

	out, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return types.UploadedArtifact{}, fmt.Errorf("creating scratch copy: %w", err)
	}
	size, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(out.Name())
		return types.UploadedArtifact{}, fmt.Errorf("copying %s: %w", src, err)
	}

	return types.UploadedArtifact{
		Path:         out.Name(),
		OriginalName: filepath.Base(src),
		Size:         size,
	}, nil
}
