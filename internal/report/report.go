// Package report summarizes a JSONL decision log.
package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pacr/pacr/internal/logging"
)

const topN = 5

type Summary struct {
	Total      int            `json:"total"`
	Direct     int            `json:"direct"`
	Proxy      int            `json:"proxy"`
	Fallback   int            `json:"fallback"`
	Errors     int            `json:"errors"`
	CacheHits  int            `json:"cache_hits"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	TopHosts   []CountItem    `json:"top_hosts"`
	TopClauses []CountItem    `json:"top_clauses"`
	TopProxies []CountItem    `json:"top_directives"`
	TopErrors  []CountItem    `json:"top_errors"`
	Latency    LatencySummary `json:"latency_us"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Reader filters records older than Since when it is set.
type Reader struct {
	Since time.Time
}

func (r *Reader) Read(path string) ([]logging.Decision, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return r.ReadFrom(file)
}

func (r *Reader) ReadFrom(in io.Reader) ([]logging.Decision, error) {
	var decisions []logging.Decision
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d logging.Decision
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !r.Since.IsZero() && d.Timestamp.Before(r.Since) {
			continue
		}
		decisions = append(decisions, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func Summarize(decisions []logging.Decision) Summary {
	var summary Summary
	if len(decisions) == 0 {
		return summary
	}

	summary.Start = decisions[0].Timestamp
	summary.End = decisions[0].Timestamp

	hostCounts := map[string]int{}
	clauseCounts := map[string]int{}
	directiveCounts := map[string]int{}
	errorCounts := map[string]int{}
	latencies := make([]int64, 0, len(decisions))

	for _, d := range decisions {
		summary.Total++
		if d.Timestamp.Before(summary.Start) {
			summary.Start = d.Timestamp
		}
		if d.Timestamp.After(summary.End) {
			summary.End = d.Timestamp
		}

		switch d.Action {
		case "direct":
			summary.Direct++
		case "proxy":
			summary.Proxy++
			directiveCounts[d.Directive]++
		case "fallback":
			summary.Fallback++
		}
		if d.Error != "" {
			summary.Errors++
			errorCounts[errorHead(d.Error)]++
		}
		if d.CacheHit {
			summary.CacheHits++
		}

		hostCounts[d.Host]++
		clauseCounts[clauseKey(d)]++
		latencies = append(latencies, d.DurationUS)
	}

	summary.TopHosts = topCounts(hostCounts, topN)
	summary.TopClauses = topCounts(clauseCounts, topN)
	summary.TopProxies = topCounts(directiveCounts, topN)
	summary.TopErrors = topCounts(errorCounts, topN)
	summary.Latency = latencySummary(latencies)

	return summary
}

func clauseKey(d logging.Decision) string {
	if d.Clause > 0 {
		return "clause " + strconv.Itoa(d.Clause)
	}
	if d.Outcome == "" {
		return "unknown"
	}
	return d.Outcome
}

// errorHead keeps the part of a message before position details so that the
// same failure on different lines groups together.
func errorHead(msg string) string {
	if head, _, ok := strings.Cut(msg, " at "); ok {
		return head
	}
	if head, _, ok := strings.Cut(msg, ": "); ok {
		return head
	}
	return msg
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "Direct: %d\n", summary.Direct)
	fmt.Fprintf(&b, "Proxy: %d\n", summary.Proxy)
	fmt.Fprintf(&b, "Fallback: %d\n", summary.Fallback)
	fmt.Fprintf(&b, "Errors: %d\n", summary.Errors)
	fmt.Fprintf(&b, "Script cache hits: %d\n", summary.CacheHits)
	fmt.Fprintf(&b, "Latency p50/p95/p99 (us): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCounts(&b, "Top hosts", summary.TopHosts)
	writeCounts(&b, "Top clauses", summary.TopClauses)
	writeCounts(&b, "Top proxy directives", summary.TopProxies)
	writeCounts(&b, "Top errors", summary.TopErrors)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# pacr report\n\n")
	if !summary.Start.IsZero() {
		fmt.Fprintf(&b, "%s to %s\n\n", summary.Start.UTC().Format(time.RFC3339), summary.End.UTC().Format(time.RFC3339))
	}
	b.WriteString("## Totals\n\n")
	b.WriteString("| Total | Direct | Proxy | Fallback | Errors |\n")
	b.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n\n", summary.Total, summary.Direct, summary.Proxy, summary.Fallback, summary.Errors)
	fmt.Fprintf(&b, "Latency p50/p95/p99 (us): %.0f/%.0f/%.0f\n\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCountsMarkdown(&b, "Top hosts", summary.TopHosts)
	writeCountsMarkdown(&b, "Top clauses", summary.TopClauses)
	writeCountsMarkdown(&b, "Top proxy directives", summary.TopProxies)
	writeCountsMarkdown(&b, "Top errors", summary.TopErrors)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- `%s`: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

func WriteOutput(path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
