package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	uploadCalls int
	statusCalls int
	chatCalls   int
	deleteCalls int

	uploadResult *UploadResult
	uploadErr    error
	statusFn     func(sessionID string) (*StatusResult, error)
	chatResult   *ChatResult
	chatErr      error
	deleteErr    error
	history      []HistoryItem
	historyErr   error
}

func (f *fakeAPI) Upload(ctx context.Context, fileName string, r io.Reader) (*UploadResult, error) {
	f.uploadCalls++
	return f.uploadResult, f.uploadErr
}

func (f *fakeAPI) Status(ctx context.Context, sessionID string) (*StatusResult, error) {
	f.statusCalls++
	if f.statusFn != nil {
		return f.statusFn(sessionID)
	}
	return nil, errors.New("unexpected status call")
}

func (f *fakeAPI) Chat(ctx context.Context, sessionID, message string) (*ChatResult, error) {
	f.chatCalls++
	return f.chatResult, f.chatErr
}

func (f *fakeAPI) History(ctx context.Context, sessionID string) ([]HistoryItem, error) {
	return f.history, f.historyErr
}

func (f *fakeAPI) DeleteSession(ctx context.Context, sessionID string) error {
	f.deleteCalls++
	return f.deleteErr
}

func newTestMachine(t *testing.T, api API) *Machine {
	t.Helper()
	tabs, err := NewTabStore(t.TempDir())
	require.NoError(t, err)
	prefs, err := NewPrefStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewMachine(api, NewPoller(time.Millisecond, 5), tabs, prefs)
	require.NoError(t, err)
	return m
}

func TestSelectFileRejectsNonPDFWithoutRequest(t *testing.T) {
	api := &fakeAPI{}
	m := newTestMachine(t, api)

	ok := m.SelectFile("notes.docx")

	assert.False(t, ok)
	assert.Equal(t, PhaseIdle, m.Phase())
	notice := m.Notice()
	assert.Equal(t, NoticeValidation, notice.Kind)
	assert.Equal(t, noticeNotPDF, notice.Text)
	assert.Equal(t, 0, api.uploadCalls)

	// Notice is consumed on read.
	assert.Equal(t, Notice{}, m.Notice())
}

func TestSelectFileAcceptsPDFAnyCase(t *testing.T) {
	m := newTestMachine(t, &fakeAPI{})

	assert.True(t, m.SelectFile("/tmp/Q3-Report.PDF"))
	assert.Equal(t, PhaseFileSelected, m.Phase())
	assert.Equal(t, "Q3-Report.PDF", m.FileName())
}

func TestUploadEntersProcessingAndStoresRecord(t *testing.T) {
	api := &fakeAPI{uploadResult: &UploadResult{
		SessionID: "abc-123",
		Message:   "Upload successful. Processing started.",
	}}
	tabs, err := NewTabStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewMachine(api, NewPoller(time.Millisecond, 5), tabs, nil)
	require.NoError(t, err)

	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("%PDF-1.4")))

	assert.Equal(t, PhaseProcessing, m.Phase())
	assert.Equal(t, "abc-123", m.SessionID())

	rec, err := tabs.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "abc-123", rec.SessionID)
	assert.Equal(t, "report.pdf", rec.FileName)
}

func TestUploadFailureLeavesNoSession(t *testing.T) {
	api := &fakeAPI{uploadErr: &APIError{StatusCode: 400, Detail: "Only PDF files are allowed"}}
	tabs, err := NewTabStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewMachine(api, NewPoller(time.Millisecond, 5), tabs, nil)
	require.NoError(t, err)

	require.True(t, m.SelectFile("report.pdf"))
	err = m.Upload(context.Background(), strings.NewReader("x"))

	require.Error(t, err)
	assert.Equal(t, PhaseError, m.Phase())
	assert.Empty(t, m.SessionID())

	rec, err := tabs.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUploadSurvivesRecordSaveFailure(t *testing.T) {
	api := &fakeAPI{uploadResult: &UploadResult{
		SessionID: "abc-123",
		Message:   "Upload successful. Processing started.",
	}}
	dir := t.TempDir()
	tabs, err := NewTabStore(dir)
	require.NoError(t, err)
	// A directory where the record file goes makes every save fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "session.json"), 0o755))

	m, err := NewMachine(api, NewPoller(time.Millisecond, 5), tabs, nil)
	require.NoError(t, err)
	require.True(t, m.SelectFile("report.pdf"))

	// The backend session is live, so the upload still succeeds; only
	// resume after a restart is lost.
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))
	assert.Equal(t, PhaseProcessing, m.Phase())
	assert.Equal(t, "abc-123", m.SessionID())
	assert.Equal(t, NoticeInfo, m.Notice().Kind)
}

func TestUploadRequiresSelectedFile(t *testing.T) {
	m := newTestMachine(t, &fakeAPI{})
	assert.Error(t, m.Upload(context.Background(), strings.NewReader("x")))
}

func TestPollStopsAtReady(t *testing.T) {
	calls := 0
	api := &fakeAPI{
		uploadResult: &UploadResult{SessionID: "abc-123", Message: "started"},
		statusFn: func(id string) (*StatusResult, error) {
			calls++
			if calls < 3 {
				return &StatusResult{SessionID: id, Status: "processing", Message: "Building knowledge base..."}, nil
			}
			return &StatusResult{SessionID: id, Status: "ready", Message: "Ready for questions!", DocumentName: "report.pdf"}, nil
		},
	}
	m := newTestMachine(t, api)
	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))

	require.NoError(t, m.Poll(context.Background()))

	assert.Equal(t, PhaseReady, m.Phase())
	assert.Equal(t, "Ready for questions!", m.StatusMessage())
	assert.Equal(t, 3, calls)
}

func TestPollStopsAtError(t *testing.T) {
	api := &fakeAPI{
		uploadResult: &UploadResult{SessionID: "abc-123", Message: "started"},
		statusFn: func(id string) (*StatusResult, error) {
			return &StatusResult{SessionID: id, Status: "error", Message: "PDF contains no extractable text"}, nil
		},
	}
	m := newTestMachine(t, api)
	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))

	require.NoError(t, m.Poll(context.Background()))

	assert.Equal(t, PhaseError, m.Phase())
	assert.Equal(t, "PDF contains no extractable text", m.StatusMessage())
	assert.Equal(t, 1, api.statusCalls)
}

func TestPollTimesOutAfterBudget(t *testing.T) {
	api := &fakeAPI{
		uploadResult: &UploadResult{SessionID: "abc-123", Message: "started"},
		statusFn: func(id string) (*StatusResult, error) {
			return &StatusResult{SessionID: id, Status: "processing", Message: "Building knowledge base..."}, nil
		},
	}
	tabs, err := NewTabStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewMachine(api, NewPoller(time.Millisecond, 7), tabs, nil)
	require.NoError(t, err)
	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))

	err = m.Poll(context.Background())

	assert.ErrorIs(t, err, ErrPollBudgetExhausted)
	assert.Equal(t, 7, api.statusCalls)
	assert.Equal(t, PhaseError, m.Phase())
	notice := m.Notice()
	assert.Equal(t, NoticeTimeout, notice.Kind)
	assert.Equal(t, noticePollTimeout, notice.Text)
}

func TestPollToleratesTransientFailures(t *testing.T) {
	calls := 0
	api := &fakeAPI{
		uploadResult: &UploadResult{SessionID: "abc-123", Message: "started"},
		statusFn: func(id string) (*StatusResult, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection refused")
			}
			if calls == 2 {
				return nil, &APIError{StatusCode: 404, Detail: "Session not found"}
			}
			return &StatusResult{SessionID: id, Status: "ready", Message: "Ready for questions!"}, nil
		},
	}
	m := newTestMachine(t, api)
	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))

	require.NoError(t, m.Poll(context.Background()))
	assert.Equal(t, PhaseReady, m.Phase())
	assert.Equal(t, 3, calls)
}

func TestPollResultDroppedAfterClear(t *testing.T) {
	var m *Machine
	api := &fakeAPI{
		uploadResult: &UploadResult{SessionID: "abc-123", Message: "started"},
	}
	api.statusFn = func(id string) (*StatusResult, error) {
		// The session is cleared while the request is in flight.
		m.Clear(context.Background())
		return &StatusResult{SessionID: id, Status: "ready", Message: "Ready for questions!"}, nil
	}
	m = newTestMachine(t, api)
	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))

	require.NoError(t, m.Poll(context.Background()))

	assert.Equal(t, PhaseIdle, m.Phase())
	assert.Empty(t, m.SessionID())
	assert.Empty(t, m.StatusMessage())
}

func TestChatRequiresReadySession(t *testing.T) {
	api := &fakeAPI{}
	m := newTestMachine(t, api)

	err := m.Chat(context.Background(), "What was revenue?")

	require.Error(t, err)
	assert.Equal(t, 0, api.chatCalls)
	assert.Empty(t, m.Turns())
}

func TestChatAppendsTurnsWithSources(t *testing.T) {
	api := &fakeAPI{
		uploadResult: &UploadResult{SessionID: "abc-123", Message: "started"},
		statusFn: func(id string) (*StatusResult, error) {
			return &StatusResult{SessionID: id, Status: "ready", Message: "Ready for questions!"}, nil
		},
		chatResult: &ChatResult{
			Answer: "Revenue was $10M.",
			Sources: []Source{
				{SourceType: "text", Content: "Total revenue for the quarter was $10M..."},
			},
		},
	}
	m := newTestMachine(t, api)
	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))
	require.NoError(t, m.Poll(context.Background()))

	require.NoError(t, m.Chat(context.Background(), "What was revenue?"))

	turns := m.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "What was revenue?", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "Revenue was $10M.", turns[1].Content)
	require.Len(t, turns[1].Sources, 1)
	assert.Equal(t, "text", turns[1].Sources[0].SourceType)
}

func TestChatFailureAppendsFallbackTurn(t *testing.T) {
	api := &fakeAPI{
		uploadResult: &UploadResult{SessionID: "abc-123", Message: "started"},
		statusFn: func(id string) (*StatusResult, error) {
			return &StatusResult{SessionID: id, Status: "ready", Message: "Ready for questions!"}, nil
		},
		chatErr: &APIError{StatusCode: 503, Detail: "service unavailable"},
	}
	m := newTestMachine(t, api)
	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))
	require.NoError(t, m.Poll(context.Background()))

	err := m.Chat(context.Background(), "What was revenue?")

	require.Error(t, err)
	turns := m.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, fallbackAnswer, turns[1].Content)
	notice := m.Notice()
	assert.Equal(t, NoticeError, notice.Kind)
	assert.Equal(t, "service unavailable", notice.Text)
}

func TestClearResetsEvenWhenDeleteFails(t *testing.T) {
	api := &fakeAPI{
		uploadResult: &UploadResult{SessionID: "abc-123", Message: "started"},
		deleteErr:    errors.New("backend down"),
	}
	tabs, err := NewTabStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewMachine(api, NewPoller(time.Millisecond, 5), tabs, nil)
	require.NoError(t, err)
	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("x")))

	m.Clear(context.Background())

	assert.Equal(t, 1, api.deleteCalls)
	assert.Equal(t, PhaseIdle, m.Phase())
	assert.Empty(t, m.SessionID())
	assert.Empty(t, m.FileName())
	assert.Empty(t, m.Turns())

	rec, err := tabs.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestClearWithoutSessionSkipsDelete(t *testing.T) {
	api := &fakeAPI{}
	m := newTestMachine(t, api)

	m.Clear(context.Background())

	assert.Equal(t, 0, api.deleteCalls)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestResumeReadySessionLoadsHistory(t *testing.T) {
	api := &fakeAPI{
		statusFn: func(id string) (*StatusResult, error) {
			return &StatusResult{SessionID: id, Status: "ready", Message: "Ready for questions!", DocumentName: "report.pdf"}, nil
		},
		history: []HistoryItem{
			{Role: "user", Content: "What was revenue?"},
			{Role: "assistant", Content: "Revenue was $10M."},
		},
	}
	tabs, err := NewTabStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, tabs.Save(SessionRecord{SessionID: "abc-123", FileName: "report.pdf", Timestamp: time.Now()}))
	m, err := NewMachine(api, NewPoller(time.Millisecond, 5), tabs, nil)
	require.NoError(t, err)

	require.NoError(t, m.Resume(context.Background()))

	assert.Equal(t, PhaseReady, m.Phase())
	assert.Equal(t, "abc-123", m.SessionID())
	assert.Equal(t, "report.pdf", m.FileName())
	require.Len(t, m.Turns(), 2)
}

func TestResumeUnknownSessionClearsRecord(t *testing.T) {
	api := &fakeAPI{
		statusFn: func(id string) (*StatusResult, error) {
			return nil, &APIError{StatusCode: 404, Detail: "Session not found"}
		},
	}
	tabs, err := NewTabStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, tabs.Save(SessionRecord{SessionID: "gone", FileName: "old.pdf", Timestamp: time.Now()}))
	m, err := NewMachine(api, NewPoller(time.Millisecond, 5), tabs, nil)
	require.NoError(t, err)

	require.NoError(t, m.Resume(context.Background()))

	assert.Equal(t, PhaseIdle, m.Phase())
	assert.Empty(t, m.SessionID())
	rec, err := tabs.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestResumeWithNoRecordStaysIdle(t *testing.T) {
	m := newTestMachine(t, &fakeAPI{})
	require.NoError(t, m.Resume(context.Background()))
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestThemePersistsAcrossMachines(t *testing.T) {
	dir := t.TempDir()
	prefs, err := NewPrefStore(dir)
	require.NoError(t, err)
	m, err := NewMachine(&fakeAPI{}, nil, nil, prefs)
	require.NoError(t, err)

	assert.Equal(t, ThemeLight, m.Theme())
	require.NoError(t, m.SetTheme(ThemeDark))
	assert.Error(t, m.SetTheme("sepia"))

	prefs2, err := NewPrefStore(dir)
	require.NoError(t, err)
	m2, err := NewMachine(&fakeAPI{}, nil, nil, prefs2)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, m2.Theme())
}

// End to end against a stub backend speaking the real HTTP contract.
func TestMachineAgainstHTTPBackend(t *testing.T) {
	status := "processing"
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", header.Filename)
		writeJSON(w, http.StatusOK, map[string]string{
			"session_id": "abc-123",
			"message":    "Upload successful. Processing started.",
		})
	})
	mux.HandleFunc("GET /api/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abc-123", r.PathValue("id"))
		resp := map[string]string{
			"session_id": "abc-123",
			"status":     status,
			"message":    "Building knowledge base...",
		}
		if status == "ready" {
			resp["message"] = "Ready for questions!"
			resp["document_name"] = "report.pdf"
		}
		status = "ready"
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"session_id"`
			Message   string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc-123", req.SessionID)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"answer": "Revenue was $10M.",
			"sources": []map[string]string{
				{"source_type": "text", "content": "Total revenue was $10M."},
			},
		})
	})
	deleteCalls := 0
	mux.HandleFunc("DELETE /api/session/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleteCalls++
		writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	dir := t.TempDir()
	tabs, err := NewTabStore(dir)
	require.NoError(t, err)
	prefs, err := NewPrefStore(dir)
	require.NoError(t, err)
	m, err := NewMachine(api, NewPoller(time.Millisecond, 10), tabs, prefs)
	require.NoError(t, err)

	require.True(t, m.SelectFile("report.pdf"))
	require.NoError(t, m.Upload(context.Background(), strings.NewReader("%PDF-1.4 fake")))
	require.NoError(t, m.Poll(context.Background()))
	require.Equal(t, PhaseReady, m.Phase())

	require.NoError(t, m.Chat(context.Background(), "What was revenue?"))
	turns := m.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "Revenue was $10M.", turns[1].Content)

	m.Clear(context.Background())
	assert.Equal(t, 1, deleteCalls)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("encode response: %v", err))
	}
}
