package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"datachat/config"
	apperrors "datachat/errors"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		BackendBaseURL: srv.URL,
		RequestTimeout: 5 * time.Second,
		UploadTimeout:  5 * time.Second,
	}
	logger, _ := zap.NewDevelopment()
	return New(cfg, logger), srv
}

func TestQuerySuccess(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(QueryResult{
			SQL:         "SELECT 1",
			Columns:     []string{"n"},
			Rows:        []map[string]any{{"n": 1.0}},
			Explanation: "one",
			ChartType:   ChartKPI,
			Route:       RouteSQL,
			SessionID:   "s-1",
		})
	}))

	result, err := client.Query(context.Background(), "how many?", "file-1", "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.SessionID != "s-1" || result.ChartType != ChartKPI {
		t.Errorf("result = %+v", result)
	}
	if result.Degraded {
		t.Error("Degraded = true for a 200 response")
	}
	if _, present := gotBody["session_id"]; present {
		t.Error("empty session id must be omitted from the request body")
	}
	if gotBody["file_id"] != "file-1" {
		t.Errorf("file_id = %v", gotBody["file_id"])
	}
}

func TestQuerySendsSessionID(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(QueryResult{SessionID: "s-2"})
	}))

	if _, err := client.Query(context.Background(), "again", "file-1", "s-2"); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if gotBody["session_id"] != "s-2" {
		t.Errorf("session_id = %v, want s-2", gotBody["session_id"])
	}
}

func TestQueryDegraded422(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(QueryResult{
			Explanation: "I could not run that query, try rephrasing.",
			ChartType:   ChartNone,
			SessionID:   "s-1",
		})
	}))

	result, err := client.Query(context.Background(), "bad question", "file-1", "")
	if err != nil {
		t.Fatalf("Query() error = %v, a 422 with an explanation is a valid result", err)
	}
	if !result.Degraded {
		t.Error("Degraded = false, want true")
	}
	if result.Explanation == "" {
		t.Error("explanation lost on the degraded path")
	}
}

func TestQuery422WithoutExplanationIsError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "validation failed"}`))
	}))

	_, err := client.Query(context.Background(), "bad", "file-1", "")
	if err == nil {
		t.Fatal("Query() error = nil, want failure for a bare 422")
	}
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
		desc   string
	}{
		{
			name:   "404_is_dataset_not_loaded",
			status: http.StatusNotFound,
			body:   `{"detail": "file not found"}`,
			check:  apperrors.IsDatasetNotLoaded,
			desc:   "ErrDatasetNotLoaded",
		},
		{
			name:   "dataset_mention_in_detail",
			status: http.StatusBadRequest,
			body:   `{"detail": "no dataset loaded, upload a CSV first"}`,
			check:  apperrors.IsDatasetNotLoaded,
			desc:   "ErrDatasetNotLoaded",
		},
		{
			name:   "500_is_backend_error",
			status: http.StatusInternalServerError,
			body:   `{"detail": "duckdb exploded"}`,
			check:  func(err error) bool { return apperrors.IsBackend(err) },
			desc:   "ErrBackend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			_, err := client.ListFiles(context.Background())
			if err == nil {
				t.Fatal("ListFiles() error = nil, want failure")
			}
			if !tt.check(err) {
				t.Errorf("error = %v, want %s", err, tt.desc)
			}
		})
	}
}

func TestNetworkErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore

	cfg := &config.Config{
		BackendBaseURL: srv.URL,
		RequestTimeout: time.Second,
		UploadTimeout:  time.Second,
	}
	logger, _ := zap.NewDevelopment()
	client := New(cfg, logger)

	_, err := client.ListFiles(context.Background())
	if !apperrors.IsNetworkUnreachable(err) {
		t.Errorf("error = %v, want ErrNetworkUnreachable", err)
	}
}

func TestListFiles(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"file_id": "f1", "filename": "sales.csv", "row_count": 120, "loaded": true}]`))
	}))

	files, err := client.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].FileID != "f1" || files[0].RowCount != 120 {
		t.Errorf("files = %+v", files)
	}
}

func TestUpload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "sales.csv" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(UploadResponse{Message: "ok", FileID: "f1"})
	}))

	resp, err := client.Upload(context.Background(), "sales.csv", []byte("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if resp.FileID != "f1" {
		t.Errorf("FileID = %q, want f1", resp.FileID)
	}
}

func TestGetValueCounts(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/counts/region" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("file_id"); got != "f1" {
			t.Errorf("file_id = %q", got)
		}
		w.Write([]byte(`{"column": "region", "labels": ["west", "east"], "values": [7, 3], "total": 10}`))
	}))

	counts, err := client.GetValueCounts(context.Background(), "f1", "region")
	if err != nil {
		t.Fatalf("GetValueCounts() error = %v", err)
	}
	if counts.Column != "region" || len(counts.Labels) != 2 || counts.Values[0] != 7 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestHealth(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok", "ollama": "reachable", "llm_model": "llama3",
			"duckdb": {"files_loaded": 2, "total_files": 3},
			"postgresql": {"connected": true, "tables": ["sessions", "messages"]}}`))
	}))

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if health.Ollama != "reachable" || !health.PostgreSQL.Connected || health.DuckDB.FilesLoaded != 2 {
		t.Errorf("health = %+v", health)
	}
}
