package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// NewLookupCmd creates the lookup command.
func NewLookupCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "lookup <digest>",
		Short: "Show the stored file record and report for a digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd, false)
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			prov, err := newProvider(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("creating provider: %w", err)
			}
			if err := prov.Start(ctx); err != nil {
				return fmt.Errorf("connecting to provider: %w", err)
			}
			defer func() { _ = prov.Stop(ctx) }()

			lookup, err := lookupDigest(ctx, prov, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(lookup)
			}
			printLookup(cmd.OutOrStdout(), lookup)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func lookupDigest(ctx context.Context, prov provider.Provider, digest string) (types.FileLookup, error) {
	digest = types.NormalizeDigest(digest)
	file, err := prov.GetFileByDigest(ctx, digest)
	if err != nil {
		return types.FileLookup{}, fmt.Errorf("looking up %s: %w", digest, err)
	}
	if file == nil {
		return types.FileLookup{}, fmt.Errorf("digest %s: %w", digest, provider.ErrNotFound)
	}
	report, err := prov.GetReportByFile(ctx, file.ID)
	if err != nil {
		return types.FileLookup{}, fmt.Errorf("loading report for %s: %w", digest, err)
	}
	return types.FileLookup{File: file, Report: report}, nil
}
