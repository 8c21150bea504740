// Package report implements the Reporter (C10): a single human-readable
// text artifact summarizing one run.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Data is everything the Reporter needs to render one run's summary.
type Data struct {
	RunTimestamp time.Time
	Duration     time.Duration

	SuccessCount int
	NoFaceCount  int
	ErrorCount   int

	// PersonMatchCounts maps a known Person's name to how many classroom
	// photos matched them this run.
	PersonMatchCounts map[string]int

	// ClusterSizes maps each labeled Unknown_Person_K to its member count.
	ClusterSizes    map[string]int
	UnlabeledCount  int

	Tolerance         float64
	MinFaceSize       int
	BackendEngine     string
	BackendModel      string
	FellBackToSerial  bool
	Cancelled         bool
}

// Filename returns the timestamp-prefixed report filename.
func Filename(ts time.Time) string {
	return ts.Format("20060102_150405") + "_report.txt"
}

// Write renders d and persists it to outputRoot/<timestamp>_report.txt,
// returning the path written. Unlike the other persisted artifacts, the
// report is not rewritten in place between runs — its filename carries a
// timestamp precisely so repeated runs never overwrite a previous report —
// so there is no atomic-rename step here, and a crash mid-write can leave a
// partially written report file behind.
func Write(outputRoot string, d Data) (string, error) {
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return "", fmt.Errorf("report: creating output root %s: %w", outputRoot, err)
	}

	path := filepath.Join(outputRoot, Filename(d.RunTimestamp))
	if err := os.WriteFile(path, []byte(render(d)), 0o644); err != nil {
		return "", fmt.Errorf("report: writing %s: %w", path, err)
	}
	return path, nil
}

func render(d Data) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Classroom photo organizing run — %s\n", d.RunTimestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", d.Duration.Round(time.Millisecond))
	if d.Cancelled {
		b.WriteString("Run was cancelled; results below cover work completed before cancellation.\n")
	}
	b.WriteString("\n")

	b.WriteString("Photo outcomes:\n")
	fmt.Fprintf(&b, "  success:  %d\n", d.SuccessCount)
	fmt.Fprintf(&b, "  no_face:  %d\n", d.NoFaceCount)
	fmt.Fprintf(&b, "  error:    %d\n", d.ErrorCount)
	b.WriteString("\n")

	b.WriteString("Matches per person:\n")
	if len(d.PersonMatchCounts) == 0 {
		b.WriteString("  (none)\n")
	} else {
		names := make([]string, 0, len(d.PersonMatchCounts))
		for name := range d.PersonMatchCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s: %d\n", name, d.PersonMatchCounts[name])
		}
	}
	b.WriteString("\n")

	b.WriteString("Unknown clusters:\n")
	if len(d.ClusterSizes) == 0 {
		b.WriteString("  (none)\n")
	} else {
		labels := make([]string, 0, len(d.ClusterSizes))
		for label := range d.ClusterSizes {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Fprintf(&b, "  %s: %d members\n", label, d.ClusterSizes[label])
		}
	}
	fmt.Fprintf(&b, "  unlabeled residuals: %d\n", d.UnlabeledCount)
	b.WriteString("\n")

	b.WriteString("Effective parameters:\n")
	fmt.Fprintf(&b, "  tolerance: %.3f\n", d.Tolerance)
	fmt.Fprintf(&b, "  min_face_size: %d\n", d.MinFaceSize)
	fmt.Fprintf(&b, "  backend: %s/%s\n", d.BackendEngine, d.BackendModel)
	fmt.Fprintf(&b, "  fell_back_to_serial: %t\n", d.FellBackToSerial)

	return b.String()
}
