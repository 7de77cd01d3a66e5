package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dwsmith1983/sampleflow/pkg/types"
)

func statusString(s types.SampleStatus) string {
	switch s {
	case types.SampleAIAnalyzed, types.SampleFound:
		return color.GreenString(string(s))
	case types.SampleSizeUnsuitable, types.SampleNotAvailable, types.SamplePending:
		return color.YellowString(string(s))
	case types.SampleAnalysisError, types.SampleHashError, types.SampleHashFailed, types.SampleAIFailed:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func printOutcomes(w io.Writer, artifact string, outcomes []types.SampleOutcome) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Artifact: %s (%d samples)\n", artifact, len(outcomes))
	if len(outcomes) == 0 {
		_, _ = fmt.Fprintln(w, "  No samples extracted.")
		return
	}

	for _, o := range outcomes {
		digest := "-"
		if o.Digest != nil {
			digest = *o.Digest
		}
		_, _ = fmt.Fprintf(w, "  %-40s %-24s %s\n", o.Filename, statusString(o.Status), digest)
		if p := o.Classification; p != nil {
			_, _ = fmt.Fprintf(w, "    verdict: %s\n", predictionLine(p))
		}
		if o.Error != "" {
			_, _ = fmt.Fprintf(w, "    error:   %s\n", o.Error)
		}
		for _, u := range o.Plots {
			_, _ = fmt.Fprintf(w, "    plot:    %s\n", u)
		}
	}
}

func printLookup(w io.Writer, lookup types.FileLookup) {
	bold := color.New(color.Bold)
	f := lookup.File
	_, _ = bold.Fprintf(w, "File: %s\n", f.Name)
	_, _ = fmt.Fprintf(w, "  Digest:   %s\n", f.Digest)
	_, _ = fmt.Fprintf(w, "  ID:       %s\n", f.ID)
	_, _ = fmt.Fprintf(w, "  Status:   %s\n", f.Status)
	_, _ = fmt.Fprintf(w, "  User:     %s\n", f.UserID)
	_, _ = fmt.Fprintf(w, "  Uploaded: %s\n", f.UploadedAt.Format(time.RFC3339))

	if lookup.Report == nil {
		_, _ = fmt.Fprintln(w, color.YellowString("  No analysis report."))
		return
	}
	_, _ = fmt.Fprintf(w, "  Verdict:  %s\n", predictionLine(&lookup.Report.Predictions))
	_, _ = fmt.Fprintf(w, "  Reported: %s\n", lookup.Report.CreatedAt.Format(time.RFC3339))
}

// predictionLine renders a verdict as "label (p=0.93) families: a, b".
func predictionLine(p *types.Predictions) string {
	var b strings.Builder
	b.WriteString(p.PrimaryLabel)
	if p.PrimaryProbability != nil {
		fmt.Fprintf(&b, " (p=%.2f)", *p.PrimaryProbability)
	}
	if len(p.FamilyLabels) > 0 {
		b.WriteString(" families: ")
		b.WriteString(strings.Join(p.FamilyLabels, ", "))
	}
	return b.String()
}
