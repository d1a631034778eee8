// Package viz decides whether a query result is worth charting and, when it
// is, builds a renderer-agnostic chart description from the tabular data.
package viz

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/askdb/askdb/internal/query"
)

type Kind string

const (
	KindBar  Kind = "bar"
	KindLine Kind = "line"
	KindPie  Kind = "pie"
)

// Series is one plotted data series. Values always align with the Spec's
// labels; cells that did not parse as numbers are carried as zero.
type Series struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
	Color  string    `json:"color"`
}

// Spec describes a chart without committing to a rendering library.
type Spec struct {
	Kind        Kind     `json:"kind"`
	Labels      []string `json:"labels"`
	Series      []Series `json:"series"`
	ShowLegend  bool     `json:"show_legend"`
	BeginAtZero bool     `json:"begin_at_zero"`
}

// Question words that signal the user wants a picture, not a table.
var chartKeywords = []string{
	"chart", "graph", "plot", "visualize", "visual",
	"trend", "compare", "comparison", "distribution",
	"over time", "by month", "by year", "by category",
}

var seriesPalette = []string{
	"rgba(102, 126, 234, 0.8)",
	"rgba(118, 75, 162, 0.8)",
	"rgba(240, 147, 251, 0.8)",
	"rgba(245, 87, 108, 0.8)",
	"rgba(67, 206, 162, 0.8)",
}

// ShouldChart applies the two-stage trigger: a keyword match on the question,
// or failing that, a two-column multi-row result whose second column starts
// numeric. Failed or empty results never chart.
func ShouldChart(question string, result query.Result) bool {
	if result.Failed() || len(result.Rows) == 0 {
		return false
	}

	lowered := strings.ToLower(question)
	for _, keyword := range chartKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}

	if len(result.Columns) == 2 && len(result.Rows) > 1 {
		if _, ok := parseFloat(result.Rows[0][1]); ok {
			return true
		}
	}
	return false
}

// Build turns a result into a chart Spec, or nil when the result has fewer
// than two columns or no rows. Column 0 supplies the labels and every other
// column becomes one series.
func Build(question string, result query.Result) *Spec {
	if len(result.Columns) < 2 || len(result.Rows) == 0 {
		return nil
	}

	labels := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		labels = append(labels, stringify(row[0]))
	}

	series := make([]Series, 0, len(result.Columns)-1)
	for col := 1; col < len(result.Columns); col++ {
		values := make([]float64, 0, len(result.Rows))
		for _, row := range result.Rows {
			value, ok := parseFloat(row[col])
			if !ok {
				value = 0
			}
			values = append(values, value)
		}
		series = append(series, Series{
			Name:   result.Columns[col],
			Values: values,
			Color:  seriesPalette[col%len(seriesPalette)],
		})
	}

	kind := kindFor(question)
	return &Spec{
		Kind:        kind,
		Labels:      labels,
		Series:      series,
		ShowLegend:  len(series) > 1,
		BeginAtZero: kind != KindPie,
	}
}

func kindFor(question string) Kind {
	lowered := strings.ToLower(question)
	switch {
	case strings.Contains(lowered, "line"), strings.Contains(lowered, "trend"), strings.Contains(lowered, "over time"):
		return KindLine
	case strings.Contains(lowered, "pie"):
		return KindPie
	default:
		return KindBar
	}
}

func parseFloat(cell any) (float64, bool) {
	switch typed := cell.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int:
		return float64(typed), true
	case []byte:
		return parseFloatString(string(typed))
	case string:
		return parseFloatString(typed)
	default:
		return 0, false
	}
}

func parseFloatString(value string) (float64, bool) {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func stringify(cell any) string {
	switch typed := cell.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprint(typed)
	}
}
