// Package cli formats command output for the belongings CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/umt-belongings/hub/internal/indexer"
	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" (or empty) and "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteMatches writes a similarity search result to w in the given format.
func WriteMatches(w io.Writer, resp *models.MatchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d match(es) among %d candidate(s) in %dms (threshold %.2f, limit %d)\n\n",
		len(resp.Matches), resp.Candidates, resp.QueryTime, resp.Threshold, resp.Limit)
	for i, m := range resp.Matches {
		writeMatch(w, i+1, m)
	}
	return nil
}

func writeMatch(w io.Writer, rank int, m *models.Match) {
	p := m.Post
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | %s\n", rank, m.Score, p.Type)
	fmt.Fprintf(w, "ID: %s\n", p.ID)
	fmt.Fprintf(w, "Title: %s\n", p.Title)
	if p.Category != "" {
		fmt.Fprintf(w, "Category: %s\n", p.Category)
	}
	if p.Location != "" {
		fmt.Fprintf(w, "Location: %s\n", p.Location)
	}
	if !p.Date.IsZero() {
		fmt.Fprintf(w, "Date: %s\n", p.Date.Format("2006-01-02"))
	}
	if p.Description != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(p.Description, 200))
	}
	fmt.Fprintln(w)
}

// WriteBackfill writes the summary of a vector backfill.
func WriteBackfill(w io.Writer, res *indexer.BackfillResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Backfill: %d post(s) without vectors, %d updated, %d failed\n", res.Total, res.Updated, res.Failed)
	return nil
}

// WriteStatus writes a status document as returned by /api/v1/status.
func WriteStatus(w io.Writer, status map[string]any, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintln(w, "Belongings Hub Status")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintf(w, "Posts: %v\n", status["posts"])
	fmt.Fprintf(w, "Posts with vectors: %v\n", status["posts_with_vectors"])
	fmt.Fprintf(w, "Notifications: %v\n", status["notifications"])
	if ext, ok := status["extractor"].(map[string]any); ok {
		fmt.Fprintf(w, "Extractor: %v (ready: %v, dimensions: %v)\n", ext["type"], ext["ready"], ext["dimensions"])
		if e, ok := ext["error"]; ok {
			fmt.Fprintf(w, "Extractor error: %v\n", e)
		}
	}
	if disk, ok := status["disk_usage_bytes"]; ok {
		fmt.Fprintf(w, "Disk usage: %s\n", formatBytes(toInt64(disk)))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func formatBytes(n int64) string {
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
