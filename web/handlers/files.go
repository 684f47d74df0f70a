package handlers

import (
	"html/template"
	"io"
	"net/http"

	"datachat/config"
	"datachat/gateway"
	"datachat/sampler"
	"datachat/utils"
	"datachat/web/services"
	"datachat/web/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FilesHandler manages uploads and the uploaded-file list. Uploads are parsed
// locally first for the instant preview, then forwarded to the backend which
// owns the durable copy.
type FilesHandler struct {
	gw       *gateway.Client
	registry *services.FileRegistry
	sessions *services.SessionStore
	pages    *template.Template
	cfg      *config.Config
	logger   *zap.Logger
}

func NewFilesHandler(
	gw *gateway.Client,
	registry *services.FileRegistry,
	sessions *services.SessionStore,
	pages *template.Template,
	cfg *config.Config,
	logger *zap.Logger,
) *FilesHandler {
	return &FilesHandler{
		gw:       gw,
		registry: registry,
		sessions: sessions,
		pages:    pages,
		cfg:      cfg,
		logger:   logger,
	}
}

type uploadPageData struct {
	Preview  *sampler.Preview
	Filename string
	Message  string
	Error    string
}

// UploadPage renders the upload form.
func (h *FilesHandler) UploadPage(c *gin.Context) {
	if err := h.pages.ExecuteTemplate(c.Writer, "upload.html", uploadPageData{}); err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not render upload page", h.logger)
	}
}

// Upload accepts a CSV, shows the local sampler preview immediately, and
// registers the file with the backend. On success the new file becomes the
// active dataset and the chat surface is rebound to it.
func (h *FilesHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "File upload error")
		return
	}

	sanitized := utils.SanitizeFilename(fileHeader.Filename)
	if sanitized == "" {
		respondWithClientError(c, http.StatusBadRequest, "Invalid or unsafe filename.")
		return
	}
	if !utils.IsCSVFilename(sanitized) {
		respondWithClientError(c, http.StatusBadRequest, "Only CSV files are supported.")
		return
	}
	if maxBytes := h.cfg.MaxUploadSizeMB * 1024 * 1024; maxBytes > 0 && fileHeader.Size > maxBytes {
		respondWithClientError(c, http.StatusBadRequest, "File too large.")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not read uploaded file", h.logger)
		return
	}
	defer src.Close()
	contents, err := io.ReadAll(src)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not read uploaded file", h.logger)
		return
	}

	// Local single-pass preview for instant feedback; the backend's parse is
	// authoritative and may disagree on edge cases.
	preview, err := sampler.Parse(contents, h.cfg.PreviewRows)
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Could not parse CSV: "+err.Error())
		return
	}

	data := uploadPageData{Preview: preview, Filename: sanitized}

	resp, err := h.gw.Upload(c.Request.Context(), sanitized, contents)
	if err != nil {
		h.logger.Error("Backend upload failed",
			zap.Error(err),
			zap.String("filename", sanitized))
		data.Error = "Upload failed: " + err.Error()
		c.Status(http.StatusBadGateway)
		h.renderUpload(c, data)
		return
	}

	rowCount := preview.TotalRows
	if resp.Schema != nil {
		rowCount = resp.Schema.RowCount
	}
	file := types.File{
		FileID:   resp.FileID,
		Filename: sanitized,
		RowCount: rowCount,
	}
	h.registry.Add(file)
	if err := h.sessions.BindFile(c.Request.Context(), file.FileID); err != nil {
		h.logger.Warn("Could not load sessions for new file",
			zap.Error(err),
			zap.String("file_id", file.FileID))
	}

	h.logger.Info("File uploaded",
		zap.String("filename", sanitized),
		zap.String("file_id", file.FileID),
		zap.Int("row_count", rowCount))

	data.Message = resp.Message
	h.renderUpload(c, data)
}

func (h *FilesHandler) renderUpload(c *gin.Context, data uploadPageData) {
	if err := h.pages.ExecuteTemplate(c.Writer, "upload.html", data); err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not render upload page", h.logger)
	}
}

// Select makes a file the active dataset and rebinds the chat surface to its
// persisted sessions.
func (h *FilesHandler) Select(c *gin.Context) {
	fileID := c.PostForm("file_id")
	if err := h.registry.SetActive(fileID); err != nil {
		respondWithClientError(c, http.StatusNotFound, "Unknown file")
		return
	}
	if err := h.sessions.BindFile(c.Request.Context(), fileID); err != nil {
		h.logger.Warn("Could not load sessions for file",
			zap.Error(err),
			zap.String("file_id", fileID))
	}
	c.Redirect(http.StatusSeeOther, "/chat")
}

// Delete removes an uploaded dataset. Deleting the active file clears the
// selection and empties the chat surface.
func (h *FilesHandler) Delete(c *gin.Context) {
	fileID := c.PostForm("file_id")
	if fileID == "" {
		respondWithClientError(c, http.StatusBadRequest, "File ID is required")
		return
	}

	wasActive := h.registry.ActiveID() == fileID
	if err := h.registry.Delete(c.Request.Context(), fileID); err != nil {
		respondWithError(c, http.StatusBadGateway, err, "Could not delete file", h.logger,
			zap.String("file_id", fileID))
		return
	}
	if wasActive {
		if err := h.sessions.BindFile(c.Request.Context(), ""); err != nil {
			h.logger.Warn("Could not unbind sessions after delete", zap.Error(err))
		}
	}
	c.Redirect(http.StatusSeeOther, "/")
}
