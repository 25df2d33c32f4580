package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Phase is the client-side lifecycle of one document session.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseFileSelected Phase = "file_selected"
	PhaseUploading    Phase = "uploading"
	PhaseProcessing   Phase = "processing"
	PhaseReady        Phase = "ready"
	PhaseError        Phase = "error"
)

const (
	noticeNotPDF      = "Only PDF files are allowed."
	noticePollTimeout = "Processing is taking longer than expected. Please check back later."

	fallbackAnswer = "Sorry, something went wrong while answering. Please try again."
)

// NoticeKind classifies user-facing notices.
type NoticeKind string

const (
	NoticeValidation NoticeKind = "validation"
	NoticeError      NoticeKind = "error"
	NoticeTimeout    NoticeKind = "timeout"
	NoticeInfo       NoticeKind = "info"
)

// Notice is a one-shot user-facing message, consumed on read.
type Notice struct {
	Kind NoticeKind
	Text string
}

// API is the backend surface the machine drives. *Client satisfies it.
type API interface {
	Upload(ctx context.Context, fileName string, r io.Reader) (*UploadResult, error)
	Status(ctx context.Context, sessionID string) (*StatusResult, error)
	Chat(ctx context.Context, sessionID, message string) (*ChatResult, error)
	History(ctx context.Context, sessionID string) ([]HistoryItem, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Turn is one rendered chat message.
type Turn struct {
	Role    string
	Content string
	Sources []Source
}

// Machine owns the session lifecycle for one workspace: file selection,
// upload, status polling, chat and reset. All responses from in-flight
// requests are dropped if the session changed underneath them, so a Clear
// followed by a new Upload can never be overwritten by a stale reply.
type Machine struct {
	api    API
	poller *Poller
	tabs   *TabStore
	prefs  *PrefStore

	mu            sync.Mutex
	generation    uint64
	phase         Phase
	sessionID     string
	fileName      string
	statusMessage string
	notice        Notice
	turns         []Turn
	theme         string
}

func NewMachine(api API, poller *Poller, tabs *TabStore, prefs *PrefStore) (*Machine, error) {
	if api == nil {
		return nil, errors.New("api client is required")
	}
	if poller == nil {
		poller = NewPoller(0, 0)
	}
	m := &Machine{
		api:    api,
		poller: poller,
		tabs:   tabs,
		prefs:  prefs,
		phase:  PhaseIdle,
		theme:  ThemeLight,
	}
	if prefs != nil {
		loaded, err := prefs.Load()
		if err != nil {
			return nil, err
		}
		m.theme = loaded.Theme
	}
	return m, nil
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Machine) FileName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileName
}

// StatusMessage is the latest human-readable progress text from the backend.
func (m *Machine) StatusMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusMessage
}

// Notice returns the pending user-facing notice and clears it. A zero
// Notice means nothing is pending.
func (m *Machine) Notice() Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.notice
	m.notice = Notice{}
	return n
}

func (m *Machine) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *Machine) Theme() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.theme
}

// SetTheme persists the preference. Sessions and themes are stored
// separately, so clearing a session never resets the theme.
func (m *Machine) SetTheme(theme string) error {
	if theme != ThemeLight && theme != ThemeDark {
		return fmt.Errorf("unknown theme %q", theme)
	}
	m.mu.Lock()
	m.theme = theme
	m.mu.Unlock()
	if m.prefs == nil {
		return nil
	}
	return m.prefs.Save(Preferences{Theme: theme})
}

// SelectFile validates the chosen file. A non-PDF selection posts a notice
// and leaves the machine untouched; no request is made either way.
func (m *Machine) SelectFile(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		m.notice = Notice{Kind: NoticeValidation, Text: noticeNotPDF}
		return false
	}
	m.fileName = filepath.Base(name)
	m.phase = PhaseFileSelected
	return true
}

// Upload sends the selected file. On success the session record is stored
// and the machine enters processing; on failure it enters error with no
// session attached, so a retry starts clean.
func (m *Machine) Upload(ctx context.Context, r io.Reader) error {
	m.mu.Lock()
	if m.phase != PhaseFileSelected {
		m.mu.Unlock()
		return fmt.Errorf("no file selected")
	}
	fileName := m.fileName
	gen := m.generation
	m.phase = PhaseUploading
	m.mu.Unlock()

	result, err := m.api.Upload(ctx, fileName, r)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return nil
	}
	if err != nil {
		m.phase = PhaseError
		m.sessionID = ""
		m.statusMessage = errorDetail(err)
		m.notice = Notice{Kind: NoticeError, Text: errorDetail(err)}
		return err
	}
	m.sessionID = result.SessionID
	m.statusMessage = result.Message
	m.phase = PhaseProcessing
	if m.tabs != nil {
		// The session is live on the backend either way; a failed record
		// save only costs Resume after a restart.
		if err := m.tabs.Save(SessionRecord{
			SessionID: result.SessionID,
			FileName:  fileName,
			Timestamp: time.Now(),
		}); err != nil {
			m.notice = Notice{Kind: NoticeInfo, Text: "Session started but could not be saved locally; it will not resume after a restart."}
		}
	}
	return nil
}

// Poll drives the status endpoint until the session reaches a terminal
// state or the attempt budget runs out. Individual request failures are
// tolerated and count against the budget; a response for a session the
// machine no longer owns is dropped.
func (m *Machine) Poll(ctx context.Context) error {
	m.mu.Lock()
	sessionID := m.sessionID
	gen := m.generation
	m.mu.Unlock()
	if sessionID == "" {
		return errors.New("no active session")
	}

	err := m.poller.Run(ctx, func(ctx context.Context) (bool, error) {
		status, err := m.api.Status(ctx, sessionID)
		if err != nil {
			// Transient: the backend may be restarting or the status
			// row not yet visible. The attempt still spends budget.
			return false, nil
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.generation != gen || m.sessionID != sessionID {
			return true, nil
		}
		m.statusMessage = status.Message
		switch status.Status {
		case "ready":
			m.phase = PhaseReady
			if status.DocumentName != "" {
				m.fileName = status.DocumentName
			}
			return true, nil
		case "error":
			m.phase = PhaseError
			return true, nil
		default:
			return false, nil
		}
	})

	if errors.Is(err, ErrPollBudgetExhausted) {
		m.mu.Lock()
		if m.generation == gen && m.sessionID == sessionID {
			m.phase = PhaseError
			m.notice = Notice{Kind: NoticeTimeout, Text: noticePollTimeout}
		}
		m.mu.Unlock()
	}
	return err
}

// Chat asks a question against the ready session. The user turn is
// appended immediately; if the request fails, a fallback assistant turn
// is appended instead of surfacing a blank exchange.
func (m *Machine) Chat(ctx context.Context, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return errors.New("message is empty")
	}

	m.mu.Lock()
	if m.phase != PhaseReady {
		m.mu.Unlock()
		return fmt.Errorf("session not ready")
	}
	sessionID := m.sessionID
	gen := m.generation
	m.turns = append(m.turns, Turn{Role: "user", Content: message})
	m.mu.Unlock()

	result, err := m.api.Chat(ctx, sessionID, message)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || m.sessionID != sessionID {
		return nil
	}
	if err != nil {
		m.turns = append(m.turns, Turn{Role: "assistant", Content: fallbackAnswer})
		m.notice = Notice{Kind: NoticeError, Text: errorDetail(err)}
		return err
	}
	m.turns = append(m.turns, Turn{Role: "assistant", Content: result.Answer, Sources: result.Sources})
	return nil
}

// Clear deletes the backend session best-effort and resets the machine
// unconditionally: even when the delete fails, the local session is gone
// and any in-flight responses for it are dropped.
func (m *Machine) Clear(ctx context.Context) {
	m.mu.Lock()
	sessionID := m.sessionID
	m.generation++
	m.sessionID = ""
	m.fileName = ""
	m.statusMessage = ""
	m.turns = nil
	m.phase = PhaseIdle
	m.mu.Unlock()

	if m.tabs != nil {
		_ = m.tabs.Clear()
	}
	if sessionID != "" {
		_ = m.api.DeleteSession(ctx, sessionID)
	}
}

// Resume restores the session recorded for this workspace, if any. A
// session the backend no longer knows is discarded and the record cleared.
func (m *Machine) Resume(ctx context.Context) error {
	if m.tabs == nil {
		return nil
	}
	rec, err := m.tabs.Load()
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	status, err := m.api.Status(ctx, rec.SessionID)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			_ = m.tabs.Clear()
			return nil
		}
		return err
	}

	m.mu.Lock()
	m.sessionID = rec.SessionID
	m.fileName = rec.FileName
	m.statusMessage = status.Message
	switch status.Status {
	case "ready":
		m.phase = PhaseReady
	case "error":
		m.phase = PhaseError
	default:
		m.phase = PhaseProcessing
	}
	resumeReady := m.phase == PhaseReady
	m.mu.Unlock()

	if !resumeReady {
		return nil
	}
	history, err := m.api.History(ctx, rec.SessionID)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	m.turns = m.turns[:0]
	for _, item := range history {
		m.turns = append(m.turns, Turn{Role: item.Role, Content: item.Content})
	}
	m.mu.Unlock()
	return nil
}

func errorDetail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}
