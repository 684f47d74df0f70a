package handlers

import (
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"net/http"
	"strings"

	"datachat/config"
	"datachat/gateway"
	"datachat/web/format"
	"datachat/web/services"
	"datachat/web/types"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ViewsHandler serves the dashboard and explorer views. Explorer payloads are
// cached with a short TTL since sample rows and stats are stable between
// uploads but requested on every page visit.
type ViewsHandler struct {
	gw       *gateway.Client
	registry *services.FileRegistry
	health   *services.HealthService
	pages    *template.Template
	cache    *gocache.Cache
	cfg      *config.Config
	logger   *zap.Logger
}

func NewViewsHandler(
	gw *gateway.Client,
	registry *services.FileRegistry,
	health *services.HealthService,
	pages *template.Template,
	cfg *config.Config,
	logger *zap.Logger,
) *ViewsHandler {
	return &ViewsHandler{
		gw:       gw,
		registry: registry,
		health:   health,
		pages:    pages,
		cache:    gocache.New(cfg.ExplorerCacheTTL, 2*cfg.ExplorerCacheTTL),
		cfg:      cfg,
		logger:   logger,
	}
}

type dashboardData struct {
	Health     types.HealthSnapshot
	Files      []types.File
	ActiveID   string
	TotalRows  int
	TotalFiles int
}

// Dashboard shows backend health and the uploaded file list.
func (h *ViewsHandler) Dashboard(c *gin.Context) {
	if err := h.registry.Refresh(c.Request.Context()); err != nil {
		// Stale list is still renderable; the health panel shows the outage.
		h.logger.Warn("Could not refresh file list for dashboard", zap.Error(err))
	}

	data := dashboardData{
		Health:   h.health.Snapshot(),
		Files:    h.registry.Files(),
		ActiveID: h.registry.ActiveID(),
	}
	data.TotalFiles = len(data.Files)
	for _, f := range data.Files {
		data.TotalRows += f.RowCount
	}

	if err := h.pages.ExecuteTemplate(c.Writer, "dashboard.html", data); err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not render dashboard", h.logger)
	}
}

type explorerData struct {
	ActiveFile    types.File
	HasActiveFile bool
	Schema        *gateway.Schema
	Stats         *gateway.Stats
	Sample        *gateway.Sample
	Error         string
}

// Explorer shows the active dataset's schema, sample rows, and stats.
func (h *ViewsHandler) Explorer(c *gin.Context) {
	data := explorerData{}
	data.ActiveFile, data.HasActiveFile = h.registry.Active()

	if data.HasActiveFile {
		fileID := data.ActiveFile.FileID

		schema, err := h.registry.Schema(c.Request.Context(), fileID)
		if err != nil {
			data.Error = err.Error()
		} else {
			data.Schema = schema
		}

		if cached, ok := h.cache.Get("stats:" + fileID); ok {
			data.Stats = cached.(*gateway.Stats)
		} else if stats, err := h.gw.GetStats(c.Request.Context(), fileID); err == nil {
			h.cache.SetDefault("stats:"+fileID, stats)
			data.Stats = stats
		} else {
			h.logger.Warn("Could not load stats", zap.Error(err), zap.String("file_id", fileID))
		}

		if cached, ok := h.cache.Get("sample:" + fileID); ok {
			data.Sample = cached.(*gateway.Sample)
		} else if sample, err := h.gw.GetSample(c.Request.Context(), fileID, h.cfg.ExplorerSampleRows); err == nil {
			h.cache.SetDefault("sample:"+fileID, sample)
			data.Sample = sample
		} else {
			h.logger.Warn("Could not load sample", zap.Error(err), zap.String("file_id", fileID))
		}
	}

	if err := h.pages.ExecuteTemplate(c.Writer, "explorer.html", data); err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not render explorer", h.logger)
	}
}

// ColumnCounts returns a chart fragment of value counts for one column of
// the active dataset, no LLM round trip needed.
func (h *ViewsHandler) ColumnCounts(c *gin.Context) {
	column := c.Param("column")
	fileID := h.registry.ActiveID()
	if fileID == "" {
		respondWithClientError(c, http.StatusBadRequest, "No file selected")
		return
	}

	counts, err := h.gw.GetValueCounts(c.Request.Context(), fileID, column)
	if err != nil {
		respondWithError(c, http.StatusBadGateway, err, "Could not load value counts", h.logger,
			zap.String("file_id", fileID),
			zap.String("column", column))
		return
	}

	payload, err := json.Marshal(format.CountsChartSpec(counts))
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not encode chart", h.logger)
		return
	}

	canvasID := "counts-" + column
	c.Header("Content-Type", "text/html; charset=utf-8")
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="chart-slot"><canvas id="%s"></canvas>`, html.EscapeString(canvasID))
	fmt.Fprintf(&b, `<script type="application/json" class="chart-spec" data-canvas="%s">%s</script></div>`,
		html.EscapeString(canvasID), payload)
	c.String(http.StatusOK, b.String())
}

// HealthJSON exposes the latest poll snapshot to the page's status badge.
func (h *ViewsHandler) HealthJSON(c *gin.Context) {
	snap := h.health.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"reachable":  snap.Reachable,
		"ollama":     snap.Ollama,
		"llm_model":  snap.LLMModel,
		"postgres":   snap.Postgres,
		"checked_at": snap.CheckedAt,
	})
}
