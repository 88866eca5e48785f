// Package cli provides output formatting and progress reporting for the imgsearch CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/hyperjump/imgsearch/internal/models"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact prints one tab-separated line per result: rank, score, id, path.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// ParseOutputFormat maps a flag value to a format. Unknown values are an error.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, compact or json)", s)
	}
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	nameColor   = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
	warnColor   = color.New(color.FgYellow)
)

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.ID, r.Path)
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	headerColor.Fprintf(w, "\nFound %d %s results for %q in %dms\n\n",
		response.Total, response.Mode, response.Query, response.QueryTime)
	if len(response.Results) == 0 {
		dimColor.Fprintln(w, "No matching images.")
		return
	}
	for _, result := range response.Results {
		fmt.Fprintf(w, "%2d. ", result.Rank)
		nameColor.Fprint(w, result.Name)
		if response.Mode == models.ModeName {
			fmt.Fprintf(w, "  score %.4f\n", result.Score)
		} else {
			fmt.Fprintf(w, "  score %.4f  distance %.4f\n", result.Score, result.Distance)
		}
		dimColor.Fprintf(w, "    %s\n", result.Path)
	}
	fmt.Fprintln(w)
}

// WriteIndexResult writes the outcome of a folder load.
func WriteIndexResult(w io.Writer, resp *models.IndexResponse, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	headerColor.Fprintf(w, "Indexed %d of %d images from %s in %dms\n",
		resp.Indexed, resp.Discovered, resp.Session.Folder, resp.DurationMS)
	fmt.Fprintf(w, "Session: %s\n", resp.Session.ID)
	if len(resp.Skipped) > 0 {
		warnColor.Fprintf(w, "Skipped %d image(s):\n", len(resp.Skipped))
		for _, s := range resp.Skipped {
			warnColor.Fprintf(w, "  %s: %s\n", s.Path, s.Error)
		}
	}
	return nil
}

// WriteStatus writes the store and session status.
func WriteStatus(w io.Writer, st *models.Status, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	headerColor.Fprintln(w, "imgsearch status")
	if st.Session == nil {
		fmt.Fprintln(w, "Session:    none (load a folder with `imgsearch index <folder>`)")
	} else {
		fmt.Fprintf(w, "Session:    %s\n", st.Session.ID)
		fmt.Fprintf(w, "Folder:     %s\n", st.Session.Folder)
		fmt.Fprintf(w, "Created:    %s\n", st.Session.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if n := len(st.Session.Skipped); n > 0 {
			warnColor.Fprintf(w, "Skipped:    %d image(s)\n", n)
		}
	}
	fmt.Fprintf(w, "Images:     %d (%d persisted)\n", st.Images, st.Persisted)
	fmt.Fprintf(w, "Collection: %s", st.Collection)
	if st.Dimension > 0 {
		fmt.Fprintf(w, " (%d-d, %s)", st.Dimension, st.Metric)
	}
	fmt.Fprintln(w)
	if st.StoreDir != "" {
		fmt.Fprintf(w, "Store:      %s (%s)\n", st.StoreDir, FormatBytes(st.DiskUsageBytes))
	}
	if st.WatchedFolder != "" {
		fmt.Fprintf(w, "Watching:   %s\n", st.WatchedFolder)
	}
	return nil
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
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

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
