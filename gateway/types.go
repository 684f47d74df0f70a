package gateway

// Wire types for the analytics backend API. Decoded once at the boundary;
// everything downstream works with these structs, never raw JSON.

// FileInfo describes one uploaded dataset known to the backend.
type FileInfo struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	RowCount int    `json:"row_count"`
	Loaded   bool   `json:"loaded"`
}

// Column is one column of a dataset schema.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema describes the shape of an uploaded dataset.
type Schema struct {
	TableName string           `json:"table_name"`
	Columns   []Column         `json:"columns"`
	Sample    []map[string]any `json:"sample"`
	RowCount  int              `json:"row_count"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	Message string  `json:"message"`
	FileID  string  `json:"file_id"`
	Schema  *Schema `json:"schema"`
}

// NumericStat holds min/max/avg for one numeric column.
type NumericStat struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
	Avg *float64 `json:"avg"`
}

// ValueCount is one value bucket of a categorical column.
type ValueCount struct {
	Value any `json:"value"`
	Count int `json:"count"`
}

// Stats is the aggregate statistics payload for a dataset.
type Stats struct {
	TableName        string                  `json:"table_name"`
	RowCount         int                     `json:"row_count"`
	ColumnCount      int                     `json:"column_count"`
	Columns          []Column                `json:"columns"`
	NumericStats     map[string]NumericStat  `json:"numeric_stats"`
	CategoricalStats map[string][]ValueCount `json:"categorical_stats"`
}

// Sample is the explorer's first-N-rows payload.
type Sample struct {
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"total_rows"`
}

// ColumnCounts is a value-to-count mapping for one column, chart ready.
type ColumnCounts struct {
	Column string   `json:"column"`
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
	Total  int      `json:"total"`
}

// Route classifies how the backend answered a question.
type Route string

const (
	RouteGeneral Route = "general"
	RouteCompute Route = "compute"
	RouteSQL     Route = "sql"
)

// ChartType is the backend's presentation hint for a result.
type ChartType string

const (
	ChartNone     ChartType = "none"
	ChartTable    ChartType = "table"
	ChartKPI      ChartType = "kpi"
	ChartBar      ChartType = "bar"
	ChartLine     ChartType = "line"
	ChartPie      ChartType = "pie"
	ChartDoughnut ChartType = "doughnut"
)

// QueryResult is the backend's answer to one natural-language question.
// Degraded is set when the backend returned 422 with an explanation; that is
// a valid (if degraded) result, not an error.
type QueryResult struct {
	SQL         string           `json:"sql"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RowCount    int              `json:"row_count"`
	Explanation string           `json:"explanation"`
	ChartType   ChartType        `json:"chart_type"`
	Source      string           `json:"source"`
	Route       Route            `json:"route"`
	SessionID   string           `json:"session_id"`
	Error       string           `json:"error,omitempty"`
	Degraded    bool             `json:"-"`
}

// SessionRecord is one persisted conversation thread as stored by the backend.
type SessionRecord struct {
	ID        string          `json:"id"`
	FileID    string          `json:"file_id"`
	Title     string          `json:"title"`
	CreatedAt string          `json:"created_at"`
	Messages  []MessageRecord `json:"messages"`
}

// MessageRecord is one persisted message inside a SessionRecord.
type MessageRecord struct {
	Role    string       `json:"role"`
	Content string       `json:"content"`
	Result  *QueryResult `json:"result,omitempty"`
}

// DuckDBHealth reports how many uploaded files the backend holds in memory.
type DuckDBHealth struct {
	FilesLoaded int `json:"files_loaded"`
	TotalFiles  int `json:"total_files"`
}

// PostgresHealth reports the backend's durable store status.
type PostgresHealth struct {
	Connected bool     `json:"connected"`
	Tables    []string `json:"tables"`
}

// Health is the backend /health payload.
type Health struct {
	Status     string         `json:"status"`
	Ollama     string         `json:"ollama"`
	LLMModel   string         `json:"llm_model"`
	DuckDB     DuckDBHealth   `json:"duckdb"`
	PostgreSQL PostgresHealth `json:"postgresql"`
}

type queryRequest struct {
	Question  string  `json:"question"`
	FileID    string  `json:"file_id,omitempty"`
	SessionID *string `json:"session_id,omitempty"`
}

type errorDetail struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}
