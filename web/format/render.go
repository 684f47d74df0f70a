package format

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"datachat/gateway"

	"github.com/gomarkdown/markdown"
)

// palette is the fixed cyclic color palette for chart categories.
var palette = []string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2",
	"#59a14f", "#edc949", "#af7aa1", "#ff9da7",
}

// ChartSpec is the payload handed to the page's Chart.js glue. The glue
// destroys any chart already bound to the canvas before creating a new one,
// so repeated re-renders into the same slot never leak.
type ChartSpec struct {
	Kind    string    `json:"kind"`
	Labels  []string  `json:"labels"`
	Values  []float64 `json:"values"`
	Colors  []string  `json:"colors"`
	Fill    bool      `json:"fill"`
	Tension float64   `json:"tension"`
}

// Renderer turns classified query results into HTML fragments.
type Renderer struct {
	tableRows int
}

func NewRenderer(tablePreviewRows int) *Renderer {
	if tablePreviewRows <= 0 {
		tablePreviewRows = 10
	}
	return &Renderer{tableRows: tablePreviewRows}
}

// Result renders one AI response as an HTML fragment. slotID must be unique
// per message; it names the chart canvas slot. The layout is always:
// mode-specific body, then the collapsible SQL viewer when SQL is present,
// then the route badge.
func (r *Renderer) Result(res *gateway.QueryResult, slotID string) string {
	var b strings.Builder
	b.WriteString(`<div class="ai-result">`)

	switch Classify(res) {
	case ModeKPI:
		b.WriteString(r.kpiCards(res))
		b.WriteString(r.explanation(res))
	case ModeTable:
		b.WriteString(r.table(res))
		b.WriteString(r.explanation(res))
	case ModeChart:
		b.WriteString(r.chart(res, slotID))
		b.WriteString(r.explanation(res))
	default:
		b.WriteString(r.explanation(res))
	}

	if res.SQL != "" {
		b.WriteString(r.sqlViewer(res.SQL))
	}
	badge := RouteBadge(res.Route)
	fmt.Fprintf(&b, `<span class="route-badge route-%s">%s</span>`, badge, badge)

	b.WriteString(`</div>`)
	return b.String()
}

// ErrorBubble renders a transient per-turn chat error. It is displayed in the
// chat surface but never persisted into any session.
func (r *Renderer) ErrorBubble(message string) string {
	return `<div class="chat-error">` + html.EscapeString(message) + `</div>`
}

// UserBubble renders one user message.
func (r *Renderer) UserBubble(text string) string {
	return `<div class="user-message">` + html.EscapeString(text) + `</div>`
}

func (r *Renderer) explanation(res *gateway.QueryResult) string {
	text := strings.TrimSpace(res.Explanation)
	if text == "" {
		return ""
	}
	rendered := markdown.ToHTML([]byte(text), nil, nil)
	return `<div class="explanation">` + string(rendered) + `</div>`
}

// kpiCards renders one card per key of the first row. Numeric values with no
// fractional part get grouping separators; others render with two decimals.
func (r *Renderer) kpiCards(res *gateway.QueryResult) string {
	var b strings.Builder
	b.WriteString(`<div class="kpi-row">`)
	first := res.Rows[0]
	for _, col := range kpiKeys(res, first) {
		value, ok := first[col]
		if !ok {
			continue
		}
		fmt.Fprintf(&b,
			`<div class="kpi-card"><div class="kpi-value">%s</div><div class="kpi-label">%s</div></div>`,
			html.EscapeString(FormatKPIValue(value)),
			html.EscapeString(col))
	}
	b.WriteString(`</div>`)
	return b.String()
}

// kpiKeys orders KPI cards by the declared columns, falling back to whatever
// keys the row has when the backend omitted the column list.
func kpiKeys(res *gateway.QueryResult, row map[string]any) []string {
	if len(res.Columns) > 0 {
		return res.Columns
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	return keys
}

// table renders a bounded preview grid: at most tableRows rows plus a
// "+N more rows" suffix when the result is larger.
func (r *Renderer) table(res *gateway.QueryResult) string {
	var b strings.Builder
	b.WriteString(`<div class="table-wrap"><table class="result-table"><thead><tr>`)
	for _, col := range res.Columns {
		b.WriteString(`<th>` + html.EscapeString(col) + `</th>`)
	}
	b.WriteString(`</tr></thead><tbody>`)

	limit := len(res.Rows)
	if limit > r.tableRows {
		limit = r.tableRows
	}
	for _, row := range res.Rows[:limit] {
		b.WriteString(`<tr>`)
		for _, col := range res.Columns {
			b.WriteString(`<td>` + html.EscapeString(FormatCell(row[col])) + `</td>`)
		}
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table>`)

	if extra := len(res.Rows) - limit; extra > 0 {
		fmt.Fprintf(&b, `<div class="more-rows">+%d more rows</div>`, extra)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// chart renders the canvas slot plus an embedded ChartSpec for the page glue.
func (r *Renderer) chart(res *gateway.QueryResult, slotID string) string {
	spec := BuildChartSpec(res)
	payload, err := json.Marshal(spec)
	if err != nil {
		return r.explanation(res)
	}
	canvasID := "chart-" + slotID
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="chart-slot" id="slot-%s">`, html.EscapeString(slotID))
	fmt.Fprintf(&b, `<canvas id="%s"></canvas>`, html.EscapeString(canvasID))
	fmt.Fprintf(&b, `<script type="application/json" class="chart-spec" data-canvas="%s">%s</script>`,
		html.EscapeString(canvasID), payload)
	b.WriteString(`</div>`)
	return b.String()
}

// BuildChartSpec maps a chart-mode result onto labels and magnitudes: column
// 0 stringified as category labels, column 1 parsed as float64 with 0 on
// parse failure. Line charts are drawn as a filled smoothed area; every other
// kind gets one palette color per category.
func BuildChartSpec(res *gateway.QueryResult) *ChartSpec {
	spec := &ChartSpec{Kind: string(res.ChartType)}
	labelCol, valueCol := res.Columns[0], res.Columns[1]
	for i, row := range res.Rows {
		spec.Labels = append(spec.Labels, FormatCell(row[labelCol]))
		spec.Values = append(spec.Values, toFloat(row[valueCol]))
		spec.Colors = append(spec.Colors, palette[i%len(palette)])
	}
	if res.ChartType == gateway.ChartLine {
		spec.Fill = true
		spec.Tension = 0.4
		spec.Colors = nil
	}
	return spec
}

// CountsChartSpec builds a bar spec straight from an explorer value-count
// breakdown, bypassing the query pipeline.
func CountsChartSpec(counts *gateway.ColumnCounts) *ChartSpec {
	spec := &ChartSpec{Kind: string(gateway.ChartBar)}
	for i, label := range counts.Labels {
		if i >= len(counts.Values) {
			break
		}
		spec.Labels = append(spec.Labels, label)
		spec.Values = append(spec.Values, float64(counts.Values[i]))
		spec.Colors = append(spec.Colors, palette[i%len(palette)])
	}
	return spec
}

func (r *Renderer) sqlViewer(sql string) string {
	return `<details class="sql-viewer"><summary>Show SQL</summary><pre><code>` +
		html.EscapeString(sql) + `</code></pre></details>`
}

// FormatKPIValue formats a KPI card value: integers get grouping separators,
// fractional numbers are fixed to two decimals, everything else renders as-is.
func FormatKPIValue(v any) string {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return groupThousands(int64(n))
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case float32:
		return FormatKPIValue(float64(n))
	case int:
		return groupThousands(int64(n))
	case int64:
		return groupThousands(n)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FormatCell renders an arbitrary JSON value for a table cell or chart label.
func FormatCell(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, digit := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
