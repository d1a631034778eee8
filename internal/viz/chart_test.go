package viz

import (
	"testing"

	"github.com/askdb/askdb/internal/query"
)

func twoColumnResult() query.Result {
	return query.Result{
		Columns: []string{"month", "revenue"},
		Rows: [][]any{
			{"2024-01", int64(1200)},
			{"2024-02", int64(900)},
		},
	}
}

func TestShouldChartKeywordTrigger(t *testing.T) {
	result := query.Result{
		Columns: []string{"a", "b", "c"},
		Rows:    [][]any{{"x", "not numeric", "also not"}},
	}

	if !ShouldChart("Plot the totals please", result) {
		t.Fatal("keyword match must trigger regardless of shape")
	}
	if !ShouldChart("how do sales compare BY MONTH", result) {
		t.Fatal("keyword match must be case insensitive")
	}
}

func TestShouldChartShapeTrigger(t *testing.T) {
	if !ShouldChart("list revenue", twoColumnResult()) {
		t.Fatal("two columns, multiple rows, numeric second column must trigger")
	}
}

func TestShouldChartShapeTriggerRequiresNumericSecondColumn(t *testing.T) {
	result := query.Result{
		Columns: []string{"name", "email"},
		Rows: [][]any{
			{"ada", "ada@example.com"},
			{"grace", "grace@example.com"},
		},
	}
	if ShouldChart("list users", result) {
		t.Fatal("non-numeric second column must not trigger")
	}
}

func TestShouldChartShapeTriggerRequiresMultipleRows(t *testing.T) {
	result := twoColumnResult()
	result.Rows = result.Rows[:1]
	if ShouldChart("list revenue", result) {
		t.Fatal("single row must not shape-trigger")
	}
}

func TestShouldChartRejectsErrorResult(t *testing.T) {
	result := query.Result{Err: "no such table: sales"}
	if ShouldChart("plot a chart of the trend over time", result) {
		t.Fatal("error result must never chart")
	}
}

func TestShouldChartRejectsEmptyResult(t *testing.T) {
	result := query.Result{Columns: []string{"month", "revenue"}}
	if ShouldChart("chart it", result) {
		t.Fatal("zero rows must never chart")
	}
}

func TestBuildDefaultsToBar(t *testing.T) {
	spec := Build("revenue by month", twoColumnResult())
	if spec == nil {
		t.Fatal("Build() = nil")
	}
	if spec.Kind != KindBar {
		t.Fatalf("Kind = %q", spec.Kind)
	}
	if !spec.BeginAtZero {
		t.Fatal("bar charts request a zero-based axis")
	}
	if spec.ShowLegend {
		t.Fatal("single series must not show a legend")
	}
	if len(spec.Labels) != 2 || spec.Labels[0] != "2024-01" {
		t.Fatalf("Labels = %v", spec.Labels)
	}
	if len(spec.Series) != 1 || spec.Series[0].Name != "revenue" {
		t.Fatalf("Series = %+v", spec.Series)
	}
	if spec.Series[0].Values[0] != 1200 || spec.Series[0].Values[1] != 900 {
		t.Fatalf("Values = %v", spec.Series[0].Values)
	}
}

func TestBuildKindFromQuestion(t *testing.T) {
	tests := []struct {
		question string
		want     Kind
	}{
		{"revenue trend over time", KindLine},
		{"line of signups", KindLine},
		{"pie of revenue share", KindPie},
		{"revenue by month", KindBar},
	}
	for _, tt := range tests {
		spec := Build(tt.question, twoColumnResult())
		if spec == nil || spec.Kind != tt.want {
			t.Fatalf("Build(%q).Kind = %v, want %q", tt.question, spec, tt.want)
		}
	}
}

func TestBuildPieOmitsZeroBasedAxis(t *testing.T) {
	spec := Build("pie of revenue", twoColumnResult())
	if spec == nil {
		t.Fatal("Build() = nil")
	}
	if spec.BeginAtZero {
		t.Fatal("pie charts must not request a zero-based axis")
	}
}

func TestBuildCoercesNonNumericCellsToZero(t *testing.T) {
	result := query.Result{
		Columns: []string{"month", "revenue"},
		Rows: [][]any{
			{"2024-01", "1200.5"},
			{"2024-02", "n/a"},
			{"2024-03", nil},
		},
	}

	spec := Build("revenue by month", result)
	if spec == nil {
		t.Fatal("Build() = nil")
	}
	values := spec.Series[0].Values
	if values[0] != 1200.5 || values[1] != 0 || values[2] != 0 {
		t.Fatalf("Values = %v", values)
	}
}

func TestBuildMultipleSeriesShowsLegend(t *testing.T) {
	result := query.Result{
		Columns: []string{"month", "revenue", "cost"},
		Rows: [][]any{
			{"2024-01", int64(1200), int64(800)},
			{"2024-02", int64(900), int64(700)},
		},
	}

	spec := Build("compare revenue and cost", result)
	if spec == nil {
		t.Fatal("Build() = nil")
	}
	if len(spec.Series) != 2 {
		t.Fatalf("series = %d", len(spec.Series))
	}
	if !spec.ShowLegend {
		t.Fatal("multiple series must show a legend")
	}
	if spec.Series[0].Color == spec.Series[1].Color {
		t.Fatal("adjacent series must get distinct palette colors")
	}
}

func TestBuildRejectsDegenerateShapes(t *testing.T) {
	oneColumn := query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}
	if Build("chart it", oneColumn) != nil {
		t.Fatal("single column must not build a spec")
	}
	empty := query.Result{Columns: []string{"a", "b"}}
	if Build("chart it", empty) != nil {
		t.Fatal("zero rows must not build a spec")
	}
}
