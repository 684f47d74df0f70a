package services

import (
	"context"
	"strings"
	"testing"

	"datachat/config"
	apperrors "datachat/errors"
	"datachat/gateway"
	"datachat/web/types"

	"go.uber.org/zap"
)

type fakeChatGateway struct {
	queryFn    func(ctx context.Context, question, fileID, sessionID string) (*gateway.QueryResult, error)
	sessions   map[string][]gateway.SessionRecord
	getErr     error
	deleteErr  error
	deletedIDs []string
	queryCalls int
}

func (f *fakeChatGateway) Query(ctx context.Context, question, fileID, sessionID string) (*gateway.QueryResult, error) {
	f.queryCalls++
	return f.queryFn(ctx, question, fileID, sessionID)
}

func (f *fakeChatGateway) GetSessions(ctx context.Context, fileID string) ([]gateway.SessionRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.sessions[fileID], nil
}

func (f *fakeChatGateway) DeleteSession(ctx context.Context, sessionID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedIDs = append(f.deletedIDs, sessionID)
	return nil
}

func okResult(sessionID string) *gateway.QueryResult {
	return &gateway.QueryResult{
		Explanation: "here you go",
		ChartType:   gateway.ChartNone,
		Route:       gateway.RouteSQL,
		SessionID:   sessionID,
	}
}

func newTestStore(gw ChatGateway) *SessionStore {
	logger, _ := zap.NewDevelopment()
	cfg := &config.Config{SessionTitleMaxLen: 30}
	return NewSessionStore(gw, cfg, logger)
}

func TestSendWithoutActiveFile(t *testing.T) {
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			t.Fatal("backend must not be contacted without an active file")
			return nil, nil
		},
	}
	ss := newTestStore(gw)

	_, err := ss.Send(context.Background(), "average revenue?")
	if !apperrors.IsNoFileSelected(err) {
		t.Fatalf("Send() error = %v, want ErrNoFileSelected", err)
	}
	if len(ss.Sessions()) != 0 {
		t.Errorf("Sessions() = %d entries, want 0", len(ss.Sessions()))
	}
	if gw.queryCalls != 0 {
		t.Errorf("query calls = %d, want 0", gw.queryCalls)
	}
}

func TestSendBrandNewSessionDefersUserMessage(t *testing.T) {
	var sawSessionID string
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			sawSessionID = s
			return okResult("srv-1"), nil
		},
	}
	ss := newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}

	question := "what is the average monthly churn rate?" // 39 chars
	if _, err := ss.Send(context.Background(), question); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if sawSessionID != "" {
		t.Errorf("request session id = %q, want empty for a brand-new chat", sawSessionID)
	}
	if got := ss.CurrentSessionID(); got != "srv-1" {
		t.Errorf("CurrentSessionID() = %q, want srv-1", got)
	}

	session, ok := ss.SessionByID("srv-1")
	if !ok {
		t.Fatal("server-confirmed session missing from mapping")
	}
	if session.FileID != "file-a" {
		t.Errorf("session.FileID = %q, want file-a", session.FileID)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (deferred user then AI)", len(session.Messages))
	}
	if session.Messages[0].Kind != types.MessageUser || session.Messages[0].Text != question {
		t.Errorf("first message = %+v, want the deferred user message", session.Messages[0])
	}
	if session.Messages[1].Kind != types.MessageAI || session.Messages[1].Result == nil {
		t.Errorf("second message = %+v, want the AI result", session.Messages[1])
	}
}

func TestSessionTitleTruncation(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     string
	}{
		{
			name:     "long_question_truncated_to_30",
			question: strings.Repeat("a", 40),
			want:     strings.Repeat("a", 30) + "…",
		},
		{
			name:     "short_question_unchanged",
			question: strings.Repeat("b", 20),
			want:     strings.Repeat("b", 20),
		},
		{
			name:     "exactly_30_unchanged",
			question: strings.Repeat("c", 30),
			want:     strings.Repeat("c", 30),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeChatGateway{
				queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
					return okResult("srv-" + tt.name), nil
				},
			}
			ss := newTestStore(gw)
			if err := ss.BindFile(context.Background(), "file-a"); err != nil {
				t.Fatalf("BindFile() error = %v", err)
			}
			if _, err := ss.Send(context.Background(), tt.question); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			session, ok := ss.SessionByID("srv-" + tt.name)
			if !ok {
				t.Fatal("session missing")
			}
			if session.Title != tt.want {
				t.Errorf("title = %q, want %q", session.Title, tt.want)
			}
		})
	}
}

func TestSendTurnOrdering(t *testing.T) {
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			return okResult("srv-1"), nil
		},
	}
	ss := newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}

	questions := []string{"first", "second", "third"}
	for _, q := range questions {
		if _, err := ss.Send(context.Background(), q); err != nil {
			t.Fatalf("Send(%q) error = %v", q, err)
		}
	}

	session, _ := ss.SessionByID("srv-1")
	if len(session.Messages) != 6 {
		t.Fatalf("messages = %d, want 6", len(session.Messages))
	}
	for turn := 0; turn < 3; turn++ {
		user := session.Messages[2*turn]
		ai := session.Messages[2*turn+1]
		if user.Kind != types.MessageUser || user.Text != questions[turn] {
			t.Errorf("turn %d user message = %+v", turn, user)
		}
		if ai.Kind != types.MessageAI {
			t.Errorf("turn %d AI message = %+v", turn, ai)
		}
	}
}

func TestSendFailureLeavesOnlyOptimisticMessage(t *testing.T) {
	fail := false
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			if fail {
				return nil, apperrors.ErrNetworkUnreachable
			}
			return okResult("srv-1"), nil
		},
	}
	ss := newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}

	if _, err := ss.Send(context.Background(), "works"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	fail = true
	if _, err := ss.Send(context.Background(), "breaks"); !apperrors.IsNetworkUnreachable(err) {
		t.Fatalf("Send() error = %v, want ErrNetworkUnreachable", err)
	}

	session, _ := ss.SessionByID("srv-1")
	// Optimistic user message stays; no AI message for the failed turn.
	if len(session.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(session.Messages))
	}
	last := session.Messages[2]
	if last.Kind != types.MessageUser || last.Text != "breaks" {
		t.Errorf("last message = %+v, want the optimistic user message", last)
	}

	// A later send must still work; chat errors are per-turn.
	fail = false
	if _, err := ss.Send(context.Background(), "works again"); err != nil {
		t.Fatalf("Send() after failure error = %v", err)
	}
}

func TestSendFailureOnBrandNewChatLeavesNothing(t *testing.T) {
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			return nil, apperrors.ErrNetworkUnreachable
		},
	}
	ss := newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}

	if _, err := ss.Send(context.Background(), "hello"); err == nil {
		t.Fatal("Send() error = nil, want failure")
	}
	if len(ss.Sessions()) != 0 {
		t.Errorf("Sessions() = %d entries, want 0 (deferred message discarded)", len(ss.Sessions()))
	}
	if got := ss.CurrentSessionID(); got != "" {
		t.Errorf("CurrentSessionID() = %q, want empty", got)
	}
}

func TestSendSynthesizesPlaceholderForUnknownCurrentID(t *testing.T) {
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			return okResult(s), nil
		},
	}
	ss := newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}

	// A current id that survived a rebind but is absent from the mapping.
	ss.SelectSession("ghost-1")

	if _, err := ss.Send(context.Background(), "still there?"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	session, ok := ss.SessionByID("ghost-1")
	if !ok {
		t.Fatal("placeholder session was not synthesized")
	}
	if session.FileID != "file-a" {
		t.Errorf("placeholder FileID = %q, want file-a", session.FileID)
	}
	if session.Title != "still there?" {
		t.Errorf("placeholder title = %q, want the question", session.Title)
	}
	if len(session.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(session.Messages))
	}
}

func TestBindFileReplacesMappingAndSelectsNewest(t *testing.T) {
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			return okResult("srv-a"), nil
		},
		sessions: map[string][]gateway.SessionRecord{
			"file-b": {
				{ID: "b-old", FileID: "file-b", Title: "older", CreatedAt: "2026-01-01T10:00:00Z"},
				{ID: "b-new", FileID: "file-b", Title: "newer", CreatedAt: "2026-02-01T10:00:00Z"},
				{ID: "stray", FileID: "file-c", Title: "wrong file", CreatedAt: "2026-03-01T10:00:00Z"},
			},
		},
	}
	ss := newTestStore(gw)

	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile(file-a) error = %v", err)
	}
	if _, err := ss.Send(context.Background(), "question for a"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := ss.BindFile(context.Background(), "file-b"); err != nil {
		t.Fatalf("BindFile(file-b) error = %v", err)
	}

	sessions := ss.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("Sessions() = %d entries, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.FileID != "file-b" {
			t.Errorf("session %s has FileID %q, want file-b", s.ID, s.FileID)
		}
	}
	if _, ok := ss.SessionByID("srv-a"); ok {
		t.Error("session from the previous file survived the rebind")
	}
	if got := ss.CurrentSessionID(); got != "b-new" {
		t.Errorf("CurrentSessionID() = %q, want the most recently created b-new", got)
	}

	// Binding a file with no sessions selects none.
	if err := ss.BindFile(context.Background(), "file-empty"); err != nil {
		t.Fatalf("BindFile(file-empty) error = %v", err)
	}
	if got := ss.CurrentSessionID(); got != "" {
		t.Errorf("CurrentSessionID() = %q, want empty", got)
	}
}

func TestDeleteSession(t *testing.T) {
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			return okResult("srv-1"), nil
		},
	}
	ss := newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}
	if _, err := ss.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := ss.DeleteSession(context.Background(), "srv-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, ok := ss.SessionByID("srv-1"); ok {
		t.Error("session still present after deletion")
	}
	if got := ss.CurrentSessionID(); got != "" {
		t.Errorf("CurrentSessionID() = %q, want empty after deleting current", got)
	}
}

func TestDeleteSessionBackendFailureLeavesState(t *testing.T) {
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			return okResult("srv-1"), nil
		},
	}
	ss := newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}
	if _, err := ss.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	gw.deleteErr = apperrors.ErrBackend
	if err := ss.DeleteSession(context.Background(), "srv-1"); err == nil {
		t.Fatal("DeleteSession() error = nil, want failure")
	}
	if _, ok := ss.SessionByID("srv-1"); !ok {
		t.Error("session vanished despite backend failure (phantom deletion)")
	}
	if got := ss.CurrentSessionID(); got != "srv-1" {
		t.Errorf("CurrentSessionID() = %q, want srv-1", got)
	}
}

func TestSendSingleFlightGuard(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gw := &fakeChatGateway{
		queryFn: func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
			close(started)
			<-release
			return okResult("srv-1"), nil
		},
	}
	ss := newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ss.Send(context.Background(), "slow question")
		done <- err
	}()

	<-started
	if !ss.InFlight() {
		t.Error("InFlight() = false while a query is pending")
	}
	if _, err := ss.Send(context.Background(), "impatient question"); !apperrors.IsSendInFlight(err) {
		t.Errorf("concurrent Send() error = %v, want ErrSendInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if ss.InFlight() {
		t.Error("InFlight() = true after the send finished")
	}

	session, _ := ss.SessionByID("srv-1")
	if len(session.Messages) != 2 {
		t.Errorf("messages = %d, want 2 (rejected send must not mutate)", len(session.Messages))
	}
}

func TestStaleResponseAfterRebindIsDropped(t *testing.T) {
	var ss *SessionStore
	gw := &fakeChatGateway{}
	gw.queryFn = func(ctx context.Context, q, f, s string) (*gateway.QueryResult, error) {
		// The user navigates to another file while the query is in flight.
		if err := ss.BindFile(ctx, "file-b"); err != nil {
			t.Fatalf("mid-flight BindFile() error = %v", err)
		}
		return okResult("srv-stale"), nil
	}
	ss = newTestStore(gw)
	if err := ss.BindFile(context.Background(), "file-a"); err != nil {
		t.Fatalf("BindFile() error = %v", err)
	}

	result, err := ss.Send(context.Background(), "late answer")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result == nil {
		t.Fatal("Send() result = nil, the turn result is still returned for display")
	}
	if _, ok := ss.SessionByID("srv-stale"); ok {
		t.Error("stale response was applied to the rebound mapping")
	}
	if got := ss.ActiveFile(); got != "file-b" {
		t.Errorf("ActiveFile() = %q, want file-b", got)
	}
}
