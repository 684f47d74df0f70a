package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"datachat/config"
	apperrors "datachat/errors"
	"datachat/gateway"
	"datachat/web/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatGateway is the slice of the backend gateway the session store needs.
type ChatGateway interface {
	Query(ctx context.Context, question, fileID, sessionID string) (*gateway.QueryResult, error)
	GetSessions(ctx context.Context, fileID string) ([]gateway.SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// SendState is the chat surface's single-flight guard. Only one query may be
// in flight at a time; a send while pending is rejected, never queued.
type SendState int

const (
	SendIdle SendState = iota
	SendPending
)

// pendingTurn stages a user message whose session id is not yet known. It is
// resolved into the server-confirmed session when the response arrives.
type pendingTurn struct {
	correlationID string
	question      string
}

// SessionStore maintains, per active file, the ordered set of conversation
// sessions and their message histories, and mediates between optimistic local
// edits and server confirmation. The mapping is rebuilt wholesale on every
// active-file change and lives only for the lifetime of that selection.
type SessionStore struct {
	gw       ChatGateway
	logger   *zap.Logger
	titleMax int

	mu         sync.Mutex
	sessions   map[string]*types.Session
	activeFile string
	currentID  string
	sendState  SendState
	pending    *pendingTurn
	epoch      uint64
}

func NewSessionStore(gw ChatGateway, cfg *config.Config, logger *zap.Logger) *SessionStore {
	titleMax := cfg.SessionTitleMaxLen
	if titleMax <= 0 {
		titleMax = 30
	}
	return &SessionStore{
		gw:       gw,
		logger:   logger,
		titleMax: titleMax,
		sessions: make(map[string]*types.Session),
	}
}

// BindFile fetches the persisted sessions for fileID, replaces the entire
// session mapping, and selects the most recently created session for that
// file (or none). Sessions from any previously active file are discarded.
// Query responses dispatched before the rebind are dropped when they land.
func (ss *SessionStore) BindFile(ctx context.Context, fileID string) error {
	ss.mu.Lock()
	ss.epoch++
	myEpoch := ss.epoch
	ss.activeFile = fileID
	ss.sessions = make(map[string]*types.Session)
	ss.currentID = ""
	ss.pending = nil
	ss.mu.Unlock()

	if fileID == "" {
		return nil
	}

	records, err := ss.gw.GetSessions(ctx, fileID)
	if err != nil {
		ss.logger.Error("Failed to fetch sessions for file",
			zap.Error(err),
			zap.String("file_id", fileID))
		return apperrors.WrapError(err, "could not load sessions")
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.epoch != myEpoch {
		// Another rebind happened while we were fetching; its result wins.
		return nil
	}

	var newest *types.Session
	for _, rec := range records {
		if rec.FileID != fileID {
			continue
		}
		session := sessionFromRecord(rec)
		ss.sessions[session.ID] = session
		if newest == nil || session.CreatedAt.After(newest.CreatedAt) {
			newest = session
		}
	}
	if newest != nil {
		ss.currentID = newest.ID
	}
	return nil
}

// SelectSession sets the current session. An empty id means "start fresh":
// the next send creates a new session.
func (ss *SessionStore) SelectSession(sessionID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.currentID = sessionID
}

// DeleteSession removes a session from the backend first, then locally. On
// backend failure local state is left untouched so the UI never shows a
// phantom deletion.
func (ss *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ss.gw.DeleteSession(ctx, sessionID); err != nil {
		ss.logger.Error("Failed to delete session on backend",
			zap.Error(err),
			zap.String("session_id", sessionID))
		return apperrors.WrapError(err, "could not delete session")
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, sessionID)
	if ss.currentID == sessionID {
		ss.currentID = ""
	}
	return nil
}

// Send runs one chat turn against the backend.
//
// The optimistic user message is appended immediately when a current session
// exists. For a brand-new chat the user message is staged under a correlation
// id and committed only once the server-assigned session id is known, so the
// turn can never land in the wrong session. On failure the staged message is
// discarded and nothing beyond the already-appended optimistic message
// changes.
func (ss *SessionStore) Send(ctx context.Context, question string) (*gateway.QueryResult, error) {
	ss.mu.Lock()
	if ss.sendState == SendPending {
		ss.mu.Unlock()
		return nil, apperrors.ErrSendInFlight
	}
	if ss.activeFile == "" {
		ss.mu.Unlock()
		return nil, apperrors.ErrNoFileSelected
	}

	ss.sendState = SendPending
	fileID := ss.activeFile
	sessionID := ss.currentID
	myEpoch := ss.epoch

	if sessionID != "" {
		// A current id can be absent from the mapping after a rebind;
		// synthesize a placeholder so the optimistic append has a home.
		if _, ok := ss.sessions[sessionID]; !ok {
			ss.sessions[sessionID] = &types.Session{
				ID:        sessionID,
				FileID:    fileID,
				Title:     question,
				CreatedAt: time.Now(),
			}
		}
		ss.sessions[sessionID].Messages = append(ss.sessions[sessionID].Messages, types.Message{
			ID:   uuid.New().String(),
			Kind: types.MessageUser,
			Text: question,
		})
	} else {
		// Brand-new chat: the final session id is unknown, so the user
		// message is deferred until the server confirms one.
		ss.pending = &pendingTurn{
			correlationID: uuid.New().String(),
			question:      question,
		}
	}
	ss.mu.Unlock()

	result, err := ss.gw.Query(ctx, question, fileID, sessionID)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sendState = SendIdle

	if err != nil {
		ss.pending = nil
		return nil, err
	}

	if ss.epoch != myEpoch {
		// The active file changed while the query was in flight. The session
		// mapping was rebuilt, so applying this response would resurrect
		// state from a discarded file. Drop it; the backend kept the turn.
		ss.logger.Warn("Dropping stale query response after file rebind",
			zap.String("file_id", fileID),
			zap.String("session_id", result.SessionID))
		ss.pending = nil
		return result, nil
	}

	confirmedID := result.SessionID
	if confirmedID == "" {
		confirmedID = sessionID
	}

	session, ok := ss.sessions[confirmedID]
	if !ok {
		session = &types.Session{
			ID:        confirmedID,
			FileID:    fileID,
			Title:     ss.truncateTitle(question),
			CreatedAt: time.Now(),
		}
		ss.sessions[confirmedID] = session
	}

	if sessionID == "" && ss.pending != nil {
		// Resolve the deferred user message into the now-known session.
		session.Messages = append(session.Messages, types.Message{
			ID:   ss.pending.correlationID,
			Kind: types.MessageUser,
			Text: ss.pending.question,
		})
	}
	ss.pending = nil

	session.Messages = append(session.Messages, types.Message{
		ID:     uuid.New().String(),
		Kind:   types.MessageAI,
		Result: result,
	})
	ss.currentID = confirmedID

	return result, nil
}

// InFlight reports whether a query is currently pending.
func (ss *SessionStore) InFlight() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.sendState == SendPending
}

// ActiveFile returns the file id the store is currently bound to.
func (ss *SessionStore) ActiveFile() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.activeFile
}

// CurrentSessionID returns the current session id, or "" for a fresh chat.
func (ss *SessionStore) CurrentSessionID() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.currentID
}

// Sessions returns the visible sessions, newest first, as copies safe to
// render without holding the store's lock.
func (ss *SessionStore) Sessions() []types.Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	out := make([]types.Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SessionByID returns a copy of one session's state.
func (ss *SessionStore) SessionByID(sessionID string) (types.Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sessions[sessionID]
	if !ok {
		return types.Session{}, false
	}
	return copySession(s), true
}

func (ss *SessionStore) truncateTitle(question string) string {
	runes := []rune(question)
	if len(runes) <= ss.titleMax {
		return question
	}
	return string(runes[:ss.titleMax]) + "…"
}

func copySession(s *types.Session) types.Session {
	out := *s
	out.Messages = make([]types.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

func sessionFromRecord(rec gateway.SessionRecord) *types.Session {
	createdAt, err := time.Parse(time.RFC3339, rec.CreatedAt)
	if err != nil {
		createdAt = time.Time{}
	}
	session := &types.Session{
		ID:        rec.ID,
		FileID:    rec.FileID,
		Title:     rec.Title,
		CreatedAt: createdAt,
	}
	for _, msg := range rec.Messages {
		if msg.Role == "user" {
			session.Messages = append(session.Messages, types.Message{
				ID:   uuid.New().String(),
				Kind: types.MessageUser,
				Text: msg.Content,
			})
			continue
		}
		m := types.Message{
			ID:     uuid.New().String(),
			Kind:   types.MessageAI,
			Result: msg.Result,
		}
		if msg.Result == nil {
			m.Result = &gateway.QueryResult{
				Explanation: msg.Content,
				ChartType:   gateway.ChartNone,
				Route:       gateway.RouteGeneral,
			}
		}
		session.Messages = append(session.Messages, m)
	}
	return session
}
