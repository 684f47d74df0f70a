package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"datachat/config"
	apperrors "datachat/errors"

	"go.uber.org/zap"
)

// Client is the typed wrapper around the analytics backend HTTP API. It is the
// only place raw HTTP and JSON are handled; callers get structs and errors
// from the application taxonomy.
type Client struct {
	cfg        *config.Config
	baseURL    string
	httpClient *http.Client
	uploader   *http.Client
	logger     *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		baseURL:    cfg.BackendBaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		uploader:   &http.Client{Timeout: cfg.UploadTimeout},
		logger:     logger,
	}
}

// Upload sends a CSV to the backend and returns its registration result.
func (c *Client) Upload(ctx context.Context, filename string, contents []byte) (*UploadResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create multipart form: %w", err)
	}
	if _, err := part.Write(contents); err != nil {
		return nil, fmt.Errorf("write multipart form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.uploader.Do(req)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrNetworkUnreachable, err.Error())
	}
	defer resp.Body.Close()

	var result UploadResponse
	if err := c.decodeOrFail(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListFiles returns every dataset the backend knows about.
func (c *Client) ListFiles(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	if err := c.getJSON(ctx, "/files", &files); err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteFile removes an uploaded dataset from the backend.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.WrapError(apperrors.ErrNetworkUnreachable, err.Error())
	}
	defer resp.Body.Close()

	var ack map[string]any
	return c.decodeOrFail(resp, &ack)
}

// GetSchema returns the column layout and sample rows for one dataset.
func (c *Client) GetSchema(ctx context.Context, fileID string) (*Schema, error) {
	var schema Schema
	if err := c.getJSON(ctx, "/files/"+url.PathEscape(fileID)+"/schema", &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// GetStats returns aggregate statistics for one dataset.
func (c *Client) GetStats(ctx context.Context, fileID string) (*Stats, error) {
	var stats Stats
	if err := c.getJSON(ctx, "/stats?file_id="+url.QueryEscape(fileID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetSample returns the first n rows of a dataset for the explorer grid.
func (c *Client) GetSample(ctx context.Context, fileID string, n int) (*Sample, error) {
	var sample Sample
	path := fmt.Sprintf("/data/sample?file_id=%s&n=%d", url.QueryEscape(fileID), n)
	if err := c.getJSON(ctx, path, &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// GetValueCounts returns a chart-ready value/count breakdown for one column.
func (c *Client) GetValueCounts(ctx context.Context, fileID, column string) (*ColumnCounts, error) {
	var counts ColumnCounts
	path := "/data/counts/" + url.PathEscape(column) + "?file_id=" + url.QueryEscape(fileID)
	if err := c.getJSON(ctx, path, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

// Query asks a natural-language question about a dataset. sessionID may be
// empty for a brand-new chat; the response always carries the server-assigned
// session id. A 422 with an explanation decodes as a degraded result, not an
// error.
func (c *Client) Query(ctx context.Context, question, fileID, sessionID string) (*QueryResult, error) {
	reqBody := queryRequest{Question: question, FileID: fileID}
	if sessionID != "" {
		reqBody.SessionID = &sessionID
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrNetworkUnreachable, err.Error())
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		// The backend returns 422 when generated SQL failed but it still has
		// an explanation for the user. Render it, do not throw.
		var result QueryResult
		if err := json.Unmarshal(bodyBytes, &result); err == nil && result.Explanation != "" {
			result.Degraded = true
			return &result, nil
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, bodyBytes)
	}

	var result QueryResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return &result, nil
}

// GetSessions returns the persisted conversation threads for one dataset.
func (c *Client) GetSessions(ctx context.Context, fileID string) ([]SessionRecord, error) {
	var sessions []SessionRecord
	if err := c.getJSON(ctx, "/sessions?file_id="+url.QueryEscape(fileID), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSession removes a persisted conversation thread from the backend.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return fmt.Errorf("create delete session request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.WrapError(apperrors.ErrNetworkUnreachable, err.Error())
	}
	defer resp.Body.Close()

	var ack map[string]any
	return c.decodeOrFail(resp, &ack)
}

// Health returns the backend's component status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.getJSON(ctx, "/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.WrapError(apperrors.ErrNetworkUnreachable, err.Error())
	}
	defer resp.Body.Close()
	return c.decodeOrFail(resp, out)
}

// decodeOrFail decodes a 2xx body into out, or turns a non-2xx response into
// an error from the application taxonomy carrying the backend's detail string.
func (c *Client) decodeOrFail(resp *http.Response, out any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp.StatusCode, bodyBytes)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) statusError(status int, body []byte) error {
	detail := extractDetail(body)
	if status == http.StatusNotFound || apperrors.LooksLikeMissingDataset(detail) {
		return apperrors.WrapError(apperrors.ErrDatasetNotLoaded, detail)
	}
	c.logger.Warn("Backend returned error status",
		zap.Int("status", status),
		zap.String("detail", detail))
	return apperrors.WrapErrorf(apperrors.ErrBackend, "status %d: %s", status, detail)
}

// extractDetail pulls the human-readable message out of a backend error body.
func extractDetail(body []byte) string {
	var ed errorDetail
	if err := json.Unmarshal(body, &ed); err == nil {
		if ed.Detail != "" {
			return ed.Detail
		}
		if ed.Error != "" {
			return ed.Error
		}
	}
	return strings.TrimSpace(string(body))
}
