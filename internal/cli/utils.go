// Package cli formats KB Copilot results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kbcopilot/internal/ingest"
	"github.com/hyperjump/kbcopilot/internal/models"
	"github.com/hyperjump/kbcopilot/pkg/utils"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("invalid output format %q: use text or json", s)
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// AnswerOutput is the JSON shape of an answered question.
type AnswerOutput struct {
	Query string `json:"query"`
	*models.QueryResult
}

// WriteAnswer writes an answer with its citations and sources.
func WriteAnswer(w io.Writer, query string, result *models.QueryResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, AnswerOutput{Query: query, QueryResult: result})
	}
	fmt.Fprintf(w, "\n%s\n", result.Response)
	if len(result.Citations) > 0 {
		fmt.Fprintln(w, "\nCitations:")
		for _, c := range result.Citations {
			fmt.Fprintf(w, "  [Source %d] %s (%s)\n", c.SourceNumber, c.DocumentTitle, c.DocumentSource)
		}
	}
	if len(result.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, s := range result.Sources {
			fmt.Fprintln(w, rule)
			fmt.Fprintf(w, "[%d] %s | %s | %s | similarity %.2f\n",
				s.SourceNumber, s.DocumentTitle, s.DocumentSource, s.Category, s.Similarity)
			fmt.Fprintf(w, "%s\n", s.Excerpt)
		}
	}
	fmt.Fprintln(w)
	return nil
}

// StatsOutput is the JSON shape of the stats command. DiskUsageBytes is omitted
// for backends that keep nothing on disk.
type StatsOutput struct {
	*models.Stats
	DiskUsageBytes *int64 `json:"diskUsageBytes,omitempty"`
}

// WriteStats writes knowledge base statistics.
func WriteStats(w io.Writer, stats *models.Stats, diskUsage *int64, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, StatsOutput{Stats: stats, DiskUsageBytes: diskUsage})
	}
	fmt.Fprintf(w, "Documents:        %d (%d indexed)\n", stats.TotalDocuments, stats.IndexedDocuments)
	fmt.Fprintf(w, "Chunks:           %d\n", stats.TotalChunks)
	fmt.Fprintf(w, "Chunks/document:  %.1f\n", stats.AverageChunksPerDocument)
	if diskUsage != nil {
		fmt.Fprintf(w, "Disk usage:       %d bytes\n", *diskUsage)
	}
	return nil
}

// WriteDocuments writes a document listing.
func WriteDocuments(w io.Writer, docs []*models.DocumentWithChunkCount, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.DocumentWithChunkCount{}
		}
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	for _, d := range docs {
		status := "not indexed"
		if d.IsIndexed {
			status = "indexed"
		}
		fmt.Fprintf(w, "%s  %s\n", d.ID, d.Title)
		fmt.Fprintf(w, "    %s | %s | %d chunks | %s\n", d.Source, d.Category, d.ChunkCount, status)
	}
	return nil
}

// WriteDocument writes one document with a content preview.
func WriteDocument(w io.Writer, doc *models.DocumentWithChunkCount, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, doc)
	}
	fmt.Fprintf(w, "ID:       %s\n", doc.ID)
	fmt.Fprintf(w, "Title:    %s\n", doc.Title)
	fmt.Fprintf(w, "Source:   %s\n", doc.Source)
	fmt.Fprintf(w, "Category: %s\n", doc.Category)
	fmt.Fprintf(w, "Indexed:  %t (%d chunks)\n", doc.IsIndexed, doc.ChunkCount)
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(doc.Content, 200))
	return nil
}

// WriteIndexResults writes the outcome of index-all.
func WriteIndexResults(w io.Writer, results []models.IndexResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []models.IndexResult{}
		}
		return writeJSON(w, map[string]interface{}{"results": results})
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "Nothing to index.")
		return nil
	}
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
			fmt.Fprintf(w, "✗ %s: %s\n", r.Title, r.Error)
			continue
		}
		fmt.Fprintf(w, "✓ %s: %d chunks\n", r.Title, r.ChunksCreated)
	}
	fmt.Fprintf(w, "\nIndexed %d of %d documents\n", len(results)-failed, len(results))
	return nil
}

// WriteFileResults writes the outcome of seeding or ingesting files.
func WriteFileResults(w io.Writer, results []ingest.FileResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []ingest.FileResult{}
		}
		return writeJSON(w, map[string]interface{}{"results": results})
	}
	failed := 0
	for _, r := range results {
		switch {
		case r.Error != "":
			failed++
			fmt.Fprintf(w, "✗ %s: %s\n", r.Path, r.Error)
		case r.Skipped:
			fmt.Fprintf(w, "- %s: unchanged\n", r.Title)
		default:
			fmt.Fprintf(w, "✓ %s: %d chunks\n", r.Title, r.ChunksCreated)
		}
	}
	fmt.Fprintf(w, "\nProcessed %d files, %d failed\n", len(results), failed)
	return nil
}
