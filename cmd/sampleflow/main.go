package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/sampleflow/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "sampleflow",
		Short: "Malware sample analysis and classification service",
		Long: `Sampleflow accepts uploaded files, runs static analysis over the file and any
archive entries it contains, deduplicates samples by content digest and sends
new samples of a suitable size to a remote classifier. Verdicts are stored so
a sample seen before is answered from the store.`,
		Version:      version,
		SilenceUsage: true,
	}
	commands.AddPersistentFlags(root)

	root.AddCommand(
		commands.NewServeCmd(),
		commands.NewAnalyzeCmd(),
		commands.NewLookupCmd(),
		commands.NewMigrateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
