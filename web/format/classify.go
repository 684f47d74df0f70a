package format

import "datachat/gateway"

// Mode is the single presentation mode chosen for one QueryResult. Exactly
// one mode fires per result; modes are never mixed.
type Mode int

const (
	ModeText Mode = iota
	ModeKPI
	ModeTable
	ModeChart
)

func (m Mode) String() string {
	switch m {
	case ModeKPI:
		return "kpi"
	case ModeTable:
		return "table"
	case ModeChart:
		return "chart"
	default:
		return "text"
	}
}

// chartKinds are the chart_type values rendered as an actual chart. Anything
// outside this set (other than table/kpi) falls back to text.
var chartKinds = map[gateway.ChartType]bool{
	gateway.ChartBar:      true,
	gateway.ChartLine:     true,
	gateway.ChartPie:      true,
	gateway.ChartDoughnut: true,
}

// HasDataRows reports whether a result carries real data: rows must be
// non-empty and must not be the single sentinel row whose first column is
// named "error".
func HasDataRows(res *gateway.QueryResult) bool {
	if res == nil || len(res.Rows) == 0 {
		return false
	}
	if len(res.Rows) == 1 && len(res.Columns) > 0 && res.Columns[0] == "error" {
		return false
	}
	return true
}

// Classify decides the presentation mode for a result. Evaluated in order,
// first match wins.
func Classify(res *gateway.QueryResult) Mode {
	if !HasDataRows(res) {
		return ModeText
	}
	switch {
	case res.ChartType == gateway.ChartKPI:
		return ModeKPI
	case res.ChartType == gateway.ChartTable:
		return ModeTable
	case chartKinds[res.ChartType] && len(res.Columns) >= 2:
		return ModeChart
	default:
		return ModeText
	}
}

// RouteBadge maps a backend route to the short badge label, defaulting to
// "sql" when the route is unset or unrecognized.
func RouteBadge(route gateway.Route) string {
	switch route {
	case gateway.RouteGeneral:
		return "general"
	case gateway.RouteCompute:
		return "compute"
	default:
		return "sql"
	}
}
