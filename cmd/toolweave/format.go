package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/toolweave/internal/synthesis"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

func outputFormat() (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(formatFlag)); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", formatFlag)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReport(w io.Writer, report *synthesis.Report, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, report)
	}

	fmt.Fprintln(w, report.Content)
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "! %s\n", issue)
	}
	for _, s := range report.Suggestions {
		fmt.Fprintf(w, "> %s\n", s)
	}
	fmt.Fprintf(w, "\nquality %.2f, %dms", report.Quality, report.ExecutionTimeMs)
	if report.FromCache {
		fmt.Fprint(w, ", cached")
	}
	fmt.Fprintln(w)
	return nil
}
