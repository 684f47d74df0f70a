package handlers

import (
	"html/template"
	"net/http"
	"strings"

	apperrors "datachat/errors"
	"datachat/web/format"
	"datachat/web/services"
	"datachat/web/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatHandler owns the chat surface: the session sidebar, the message
// history, and the send box. Send responses come back as HTML fragments.
type ChatHandler struct {
	sessions *services.SessionStore
	registry *services.FileRegistry
	renderer *format.Renderer
	pages    *template.Template
	logger   *zap.Logger
}

func NewChatHandler(
	sessions *services.SessionStore,
	registry *services.FileRegistry,
	renderer *format.Renderer,
	pages *template.Template,
	logger *zap.Logger,
) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		registry: registry,
		renderer: renderer,
		pages:    pages,
		logger:   logger,
	}
}

// MessageView is one pre-rendered chat bubble.
type MessageView struct {
	IsUser bool
	HTML   template.HTML
}

type chatPageData struct {
	ActiveFile       types.File
	HasActiveFile    bool
	Sessions         []types.Session
	CurrentSessionID string
	Messages         []MessageView
	Busy             bool
}

// Page renders the chat view for the active file.
func (h *ChatHandler) Page(c *gin.Context) {
	data := chatPageData{
		Sessions:         h.sessions.Sessions(),
		CurrentSessionID: h.sessions.CurrentSessionID(),
		Busy:             h.sessions.InFlight(),
	}
	data.ActiveFile, data.HasActiveFile = h.registry.Active()

	if data.CurrentSessionID != "" {
		if session, ok := h.sessions.SessionByID(data.CurrentSessionID); ok {
			data.Messages = h.renderHistory(session)
		}
	}

	if err := h.pages.ExecuteTemplate(c.Writer, "chat.html", data); err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not render chat page", h.logger)
	}
}

// Send runs one chat turn and returns the rendered fragment for it: the user
// bubble followed by the AI result, or a transient error bubble. Chat errors
// are per-turn and never stop subsequent sends.
func (h *ChatHandler) Send(c *gin.Context) {
	question := strings.TrimSpace(c.PostForm("message"))
	if question == "" {
		respondWithClientError(c, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")

	result, err := h.sessions.Send(c.Request.Context(), question)
	if err != nil {
		// Inline chat-surface error; session state was not corrupted.
		if !apperrors.IsNoFileSelected(err) && !apperrors.IsSendInFlight(err) {
			h.logger.Error("Chat send failed",
				zap.Error(err),
				zap.String("file_id", h.sessions.ActiveFile()))
		}
		fragment := h.renderer.UserBubble(question) + h.renderer.ErrorBubble(apperrors.ChatGuidance(err))
		c.String(http.StatusOK, fragment)
		return
	}

	fragment := h.renderer.UserBubble(question) + h.renderer.Result(result, uuid.New().String())
	c.String(http.StatusOK, fragment)
}

// SelectSession switches the current session; an empty id starts a fresh
// chat whose session is created on the next send.
func (h *ChatHandler) SelectSession(c *gin.Context) {
	h.sessions.SelectSession(c.PostForm("session_id"))
	c.Redirect(http.StatusSeeOther, "/chat")
}

// DeleteSession removes a session. On backend failure local state stays
// untouched and the user is told deletion did not happen.
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := c.PostForm("session_id")
	if sessionID == "" {
		respondWithClientError(c, http.StatusBadRequest, "Session ID is required")
		return
	}

	if err := h.sessions.DeleteSession(c.Request.Context(), sessionID); err != nil {
		respondWithError(c, http.StatusBadGateway, err, "Could not delete session", h.logger,
			zap.String("session_id", sessionID))
		return
	}
	c.Redirect(http.StatusSeeOther, "/chat")
}

// History returns the rendered message history of one session as a fragment,
// used when switching sessions without a full page load.
func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Param("sessionID")
	session, ok := h.sessions.SessionByID(sessionID)
	if !ok {
		respondWithClientError(c, http.StatusNotFound, "Unknown session")
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	var b strings.Builder
	for _, view := range h.renderHistory(session) {
		b.WriteString(string(view.HTML))
	}
	c.String(http.StatusOK, b.String())
}

func (h *ChatHandler) renderHistory(session types.Session) []MessageView {
	views := make([]MessageView, 0, len(session.Messages))
	for _, msg := range session.Messages {
		if msg.Kind == types.MessageUser {
			views = append(views, MessageView{
				IsUser: true,
				HTML:   template.HTML(h.renderer.UserBubble(msg.Text)),
			})
			continue
		}
		views = append(views, MessageView{
			HTML: template.HTML(h.renderer.Result(msg.Result, msg.ID)),
		})
	}
	return views
}
