// Package report renders file records for the command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/bucket-sync/internal/models"
)

// Format selects the output encoding.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat validates a --format value. Empty means Text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return Text, nil
	case Text, JSON, YAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json or yaml)", s)
	}
}

// Files writes recs in the given format. Text output is an aligned
// table with a trailing count.
func Files(w io.Writer, f Format, recs []models.FileRecord) error {
	if recs == nil {
		recs = []models.FileRecord{}
	}

	switch f {
	case JSON:
		return writeJSON(w, recs)
	case YAML:
		return writeYAML(w, recs)
	default:
		return writeTable(w, recs)
	}
}

// Value writes any value as JSON or YAML. Text falls back to fmt's %+v.
func Value(w io.Writer, f Format, v any) error {
	switch f {
	case JSON:
		return writeJSON(w, v)
	case YAML:
		return writeYAML(w, v)
	default:
		_, err := fmt.Fprintf(w, "%+v\n", v)
		return err
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return err
	}

	return enc.Close()
}

func writeTable(w io.Writer, recs []models.FileRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tCHECKSUM\tVERSION\tKIND")

	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Name, HumanSize(r.Size), formatTime(r.ModifiedAt), shortChecksum(r.Checksum), r.Version, r.Kind)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%d file(s)\n", len(recs))

	return err
}

// HumanSize formats a byte count with a binary unit.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.UTC().Format("2006-01-02 15:04:05")
}

func shortChecksum(sum string) string {
	if sum == "" {
		return "-"
	}

	if len(sum) > 12 {
		return sum[:12]
	}

	return sum
}
