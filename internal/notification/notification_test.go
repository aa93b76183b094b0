package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/email"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type failingMailer struct{}

func (failingMailer) Send(ctx context.Context, msg email.Message) error {
	return errors.New("mail server down")
}

func approvedEvent() Event {
	return Event{
		Type:  EventEnrollmentApproved,
		Title: "Inscrição aprovada",
		Recipients: []Recipient{
			{Email: "ana@example.com", Name: "Ana"},
			{Email: "bruno@example.com", Name: "Bruno"},
		},
		Template: "enrollment_approved.html",
		Data: map[string]any{
			"CourseName":       "Python",
			"AnnouncementsURL": "/courses/python/announcements",
			"SiteName":         "Clubinho",
		},
	}
}

func TestDispatch_EmailPerRecipient(t *testing.T) {
	db := newTestDB(t)
	recorder := &email.Recorder{}

	m := NewManager(db)
	m.RegisterProvider(NewEmailProvider(recorder))
	m.Dispatch(approvedEvent())

	msgs := recorder.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ana@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].HTML, "Olá Ana")
	assert.Contains(t, msgs[1].HTML, "Olá Bruno")
	assert.Equal(t, "Inscrição aprovada", msgs[1].Subject)

	logs, err := db.ListNotificationLogs(10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestDispatch_LogsFailures(t *testing.T) {
	db := newTestDB(t)

	m := NewManager(db)
	m.RegisterProvider(NewEmailProvider(failingMailer{}))
	m.Dispatch(approvedEvent())

	logs, err := db.ListNotificationLogs(10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, "failed", l.Status)
		assert.Equal(t, "mail server down", l.Error)
	}
}

func TestNotify_StartStopDeliversQueued(t *testing.T) {
	db := newTestDB(t)
	recorder := &email.Recorder{}

	m := NewManager(db)
	m.RegisterProvider(NewEmailProvider(recorder))
	m.Start()
	assert.True(t, m.IsRunning())

	m.Notify(approvedEvent())
	m.Stop()

	assert.False(t, m.IsRunning())
	assert.Len(t, recorder.Messages(), 2)
}

func TestNotify_RestartAfterStop(t *testing.T) {
	db := newTestDB(t)
	recorder := &email.Recorder{}

	m := NewManager(db)
	m.RegisterProvider(NewEmailProvider(recorder))

	m.Start()
	m.Notify(approvedEvent())
	m.Stop()
	require.Len(t, recorder.Messages(), 2)

	m.Start()
	assert.True(t, m.IsRunning())
	m.Notify(approvedEvent())
	m.Stop()
	m.Stop()

	assert.False(t, m.IsRunning())
	assert.Len(t, recorder.Messages(), 4)
}

func TestNotify_Disabled(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.SetSetting("notifications.enabled", "false"))
	recorder := &email.Recorder{}

	m := NewManager(db)
	m.RegisterProvider(NewEmailProvider(recorder))
	m.Start()
	m.Notify(approvedEvent())
	m.Stop()

	assert.Empty(t, recorder.Messages())
}

func TestWebhookProvider(t *testing.T) {
	db := newTestDB(t)

	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "segredo", r.Header.Get("X-Token"))
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		assert.NoError(t, json.Unmarshal(body, &payload))
		received <- payload
	}))
	defer server.Close()

	require.NoError(t, db.SetSetting(SettingWebhookURL, server.URL))
	require.NoError(t, db.SetSetting(SettingWebhookHeaders, "X-Token: segredo\nbroken-line"))

	provider := NewWebhookProvider(config.NewLoader(db), EventEnrollmentCreated)

	// unsubscribed events are ignored
	assert.Empty(t, provider.Send(context.Background(), approvedEvent()))

	results := provider.Send(context.Background(), Event{
		Type:      EventEnrollmentCreated,
		Title:     `Nova inscrição em "Python"`,
		Message:   "ana se inscreveu",
		Fields:    map[string]string{"course": "python"},
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	payload := <-received
	assert.Equal(t, "enrollment_created", payload["event"])
	assert.Equal(t, `Nova inscrição em "Python"`, payload["title"])
	assert.Equal(t, map[string]any{"course": "python"}, payload["fields"])
}

func TestWebhookProvider_Unconfigured(t *testing.T) {
	db := newTestDB(t)
	provider := NewWebhookProvider(config.NewLoader(db), EventEnrollmentCreated)
	assert.Empty(t, provider.Send(context.Background(), Event{Type: EventEnrollmentCreated}))
}

func TestValidateWebhookBody(t *testing.T) {
	assert.NoError(t, ValidateWebhookBody(""))
	assert.NoError(t, ValidateWebhookBody(`{"text": "{{.Title}}"}`))
	assert.Error(t, ValidateWebhookBody(`{"text": "{{.Title"}`))
}
